// Package layers provides the data-fetch strategies backing map layers. The
// registry in the state store holds metadata only; these sources are what the
// rendering collaborator calls to obtain geometry.
package layers

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/paulmach/orb"

	"github.com/Parth354/COT-Geospatial/internal/api"
	"github.com/Parth354/COT-Geospatial/internal/state"
)

// Source produces GeoJSON for one layer at the given viewport.
type Source interface {
	Fetch(ctx context.Context, vp state.Viewport) (json.RawMessage, error)
}

// ForLayer picks the fetch strategy a layer requires: dynamic layers refetch
// on every viewport change, static analysis-result layers fetch at most once
// per layer lifetime.
func ForLayer(client *api.Client, layer state.MapLayer) Source {
	if layer.Dynamic {
		return &DynamicSource{client: client, layerID: layer.LayerID}
	}
	return &StaticSource{client: client, layerID: layer.LayerID}
}

// DynamicSource fetches bbox/zoom-scoped pages of a live layer.
type DynamicSource struct {
	client  *api.Client
	layerID string
}

// Fetch retrieves the features intersecting the viewport. Each call hits the
// backend; viewport movement is expected to drive refetches.
func (s *DynamicSource) Fetch(ctx context.Context, vp state.Viewport) (json.RawMessage, error) {
	bound := orb.Bound{
		Min: orb.Point{vp.BBox[0], vp.BBox[1]},
		Max: orb.Point{vp.BBox[2], vp.BBox[3]},
	}
	return s.client.FetchLayerData(ctx, s.layerID, &bound, vp.Zoom)
}

// StaticSource fetches the full result layer exactly once and serves the
// cached payload afterwards, regardless of viewport.
type StaticSource struct {
	client  *api.Client
	layerID string

	once sync.Once
	data json.RawMessage
	err  error
}

// Fetch returns the one-shot payload; only the first call touches the network.
func (s *StaticSource) Fetch(ctx context.Context, _ state.Viewport) (json.RawMessage, error) {
	s.once.Do(func() {
		s.data, s.err = s.client.FetchLayerData(ctx, s.layerID, nil, 0)
	})
	return s.data, s.err
}
