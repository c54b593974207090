package state

import (
	"strings"

	"github.com/Parth354/COT-Geospatial/internal/events"
)

// Raster uploads skip backend vector ingestion entirely; they are served as
// tiles and count as processed the moment the upload lands.
var rasterFileTypes = map[string]bool{
	"tif":     true,
	"tiff":    true,
	"geotiff": true,
	"raster":  true,
}

// reduceUI advances the dataset table and the map layer registry.
func reduceUI(u UISlice, a events.Action) UISlice {
	switch act := a.(type) {
	case events.DatasetAdded:
		return u.addDataset(act.Dataset)

	case events.DatasetRemoved:
		return u.removeDataset(act.DatasetID)

	case events.DatasetStatus:
		return u.setDatasetStatus(act.DatasetID, DatasetState(act.Status))

	case events.IngestionComplete:
		return u.resolveIngestion(act.DatasetID, act.JobID, DatasetProcessed)

	case events.IngestionFailed:
		return u.resolveIngestion(act.DatasetID, act.JobID, DatasetIngestionFailed)

	case events.LayerAdded:
		return u.addLayer(MapLayer{
			LayerID: act.Layer.LayerID,
			Name:    act.Layer.Name,
			Type:    act.Layer.Type,
			DataURL: act.Layer.DataURL,
			Dynamic: act.Layer.Dynamic,
			Visible: act.Layer.Visible,
			Style:   act.Layer.Style,
			BBox:    act.Layer.BBox,
		})

	case events.JobComplete:
		// Output layers of a finished analysis register automatically, visible
		// by default. Ids are namespaced by job to avoid collisions between runs.
		for _, rl := range act.Results.Layers {
			name := rl.Name
			if name == "" {
				name = rl.LayerID
			}
			u = u.addLayer(MapLayer{
				LayerID: act.JobID + "-" + name,
				Name:    name,
				Type:    rl.Type,
				DataURL: rl.DataURL,
				Visible: true,
				Style:   rl.Style,
			})
		}
		return u

	case events.LayerRemoved:
		return u.removeLayer(act.LayerID)

	case events.LayerToggled:
		return u.toggleLayer(act.LayerID)

	case events.LayersReordered:
		return u.reorderLayers(act.SourceID, act.TargetID)

	case events.ViewportChanged:
		u.Viewport = Viewport{BBox: act.BBox, Zoom: act.Zoom}
		return u
	}
	return u
}

// addDataset registers a dataset; a duplicate id is a no-op so retried uploads
// stay safe.
func (u UISlice) addDataset(p events.DatasetPayload) UISlice {
	if _, ok := u.DatasetByID(p.DatasetID); ok {
		return u
	}
	status := DatasetState(p.Status)
	if status == "" {
		status = DatasetUploaded
	}
	if rasterFileTypes[strings.ToLower(p.FileType)] {
		status = DatasetProcessed
	}
	ds := make([]Dataset, len(u.Datasets), len(u.Datasets)+1)
	copy(ds, u.Datasets)
	u.Datasets = append(ds, Dataset{
		DatasetID:    p.DatasetID,
		Name:         p.Name,
		FileType:     p.FileType,
		SizeMB:       p.SizeMB,
		FeatureCount: p.FeatureCount,
		BBox:         p.BBox,
		CRS:          p.CRS,
		Status:       status,
	})
	return u
}

func (u UISlice) removeDataset(id string) UISlice {
	out := make([]Dataset, 0, len(u.Datasets))
	for _, d := range u.Datasets {
		if d.DatasetID != id {
			out = append(out, d)
		}
	}
	if len(out) == len(u.Datasets) {
		return u
	}
	u.Datasets = out
	return u
}

func (u UISlice) setDatasetStatus(id string, status DatasetState) UISlice {
	return u.mapDatasets(func(d Dataset) Dataset {
		if d.DatasetID == id {
			d.Status = status
		}
		return d
	})
}

// resolveIngestion finishes an ingestion by dataset id, falling back to the
// ingest job id when the event carries only that.
func (u UISlice) resolveIngestion(datasetID, jobID string, status DatasetState) UISlice {
	return u.mapDatasets(func(d Dataset) Dataset {
		if (datasetID != "" && d.DatasetID == datasetID) ||
			(datasetID == "" && jobID != "" && d.IngestJobID == jobID) {
			d.Status = status
		}
		return d
	})
}

func (u UISlice) mapDatasets(f func(Dataset) Dataset) UISlice {
	out := make([]Dataset, len(u.Datasets))
	for i, d := range u.Datasets {
		out[i] = f(d)
	}
	u.Datasets = out
	return u
}

// addLayer appends a layer; a duplicate id leaves the registry unchanged.
func (u UISlice) addLayer(l MapLayer) UISlice {
	if _, ok := u.LayerByID(l.LayerID); ok {
		return u
	}
	ls := make([]MapLayer, len(u.Layers), len(u.Layers)+1)
	copy(ls, u.Layers)
	u.Layers = append(ls, l)
	return u
}

func (u UISlice) removeLayer(id string) UISlice {
	out := make([]MapLayer, 0, len(u.Layers))
	for _, l := range u.Layers {
		if l.LayerID != id {
			out = append(out, l)
		}
	}
	if len(out) == len(u.Layers) {
		return u
	}
	u.Layers = out
	return u
}

func (u UISlice) toggleLayer(id string) UISlice {
	out := make([]MapLayer, len(u.Layers))
	for i, l := range u.Layers {
		if l.LayerID == id {
			l.Visible = !l.Visible
		}
		out[i] = l
	}
	u.Layers = out
	return u
}

// reorderLayers splices the source out and reinserts it before the target.
// An absent target appends, which paints the source topmost.
func (u UISlice) reorderLayers(sourceID, targetID string) UISlice {
	var src *MapLayer
	rest := make([]MapLayer, 0, len(u.Layers))
	for _, l := range u.Layers {
		if l.LayerID == sourceID {
			cp := l
			src = &cp
			continue
		}
		rest = append(rest, l)
	}
	if src == nil {
		return u
	}

	out := make([]MapLayer, 0, len(u.Layers))
	inserted := false
	for _, l := range rest {
		if l.LayerID == targetID {
			out = append(out, *src)
			inserted = true
		}
		out = append(out, l)
	}
	if !inserted {
		out = append(out, *src)
	}
	u.Layers = out
	return u
}
