// Package app is the composition root: it constructs and wires the store,
// the socket manager, the backend client and the notification manager, and
// exposes the dispatch facade the views call. Everything is an explicitly
// constructed instance passed by reference; there is no package-level state.
package app

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/Parth354/COT-Geospatial/internal/api"
	"github.com/Parth354/COT-Geospatial/internal/config"
	"github.com/Parth354/COT-Geospatial/internal/events"
	"github.com/Parth354/COT-Geospatial/internal/notifications"
	"github.com/Parth354/COT-Geospatial/internal/socket"
	"github.com/Parth354/COT-Geospatial/internal/state"
)

// App owns one chat session's worth of client machinery.
type App struct {
	Config        *config.Config
	Store         *state.Store
	Socket        *socket.Manager
	API           *api.Client
	Notifications *notifications.Manager

	logger    *log.Logger
	sessionID string
}

// New wires an App from configuration. The socket handler funnels every
// inbound server event through the same dispatch path user intents take, so
// both flows converge on the one store.
func New(cfg *config.Config, logger *log.Logger) *App {
	if logger == nil {
		logger = log.Default()
	}

	store := state.NewStore(logger)
	a := &App{
		Config: cfg,
		Store:  store,
		API: api.NewClient(cfg.BackendURL, logger,
			api.WithMaxUploadSize(int64(cfg.Upload.MaxSizeMB)<<20)),
		Socket: socket.NewManager(cfg.SocketURL, logger,
			socket.WithDialTimeout(cfg.DialTimeout),
			socket.WithBackoff(socket.BackoffConfig{
				BaseDelay:    cfg.Reconnect.BaseDelay,
				MaxDelay:     cfg.Reconnect.MaxDelay,
				MaxAttempts:  cfg.Reconnect.MaxAttempts,
				JitterFactor: 0.1,
			})),
		logger: logger,
	}
	a.Notifications = notifications.NewManager(store)
	a.Socket.RegisterHandler(store.Dispatch)
	return a
}

// Start resolves the session id and opens the socket. A failed session fetch
// falls back to a locally generated id rather than blocking the whole client.
func (a *App) Start(ctx context.Context) error {
	sess, err := a.API.GetSession(ctx)
	if err != nil || sess.SessionID == "" {
		a.sessionID = uuid.New().String()
		a.logger.Warn("session retrieval failed, using local session id", "err", err)
	} else {
		a.sessionID = sess.SessionID
	}
	return a.Socket.Connect(ctx)
}

// Close tears the session down.
func (a *App) Close() {
	a.Socket.Disconnect()
	a.Notifications.Shutdown()
}

// SessionID returns the session identifier in use.
func (a *App) SessionID() string { return a.sessionID }

// SubmitQuery sends a natural-language query. The previous active job, if
// any, is superseded: the client leaves its channel and stops merging its
// stream, but nothing is cancelled server-side.
func (a *App) SubmitQuery(ctx context.Context, query string) (string, error) {
	snap := a.Store.State()
	if snap.System.Connection != state.ConnConnected {
		return "", fmt.Errorf("not connected; cannot submit query")
	}

	req := api.QueryRequest{
		Query:     query,
		SessionID: a.sessionID,
		Context:   a.queryContext(snap),
	}
	resp, err := a.API.SubmitQuery(ctx, req)
	if err != nil {
		a.Notifications.Warning("Query submission failed: " + err.Error())
		return "", err
	}

	prev := snap.Job.ActiveJobID
	a.Store.Dispatch(events.UserMessage{Text: query})
	a.Store.Dispatch(events.QuerySubmitted{JobID: resp.JobID, Query: query})

	if prev != "" && prev != resp.JobID {
		if err := a.Socket.LeaveChannel(prev); err != nil {
			a.logger.Warn("leaving superseded job channel failed", "job_id", prev, "err", err)
		}
	}
	if err := a.Socket.JoinChannel(resp.JobID); err != nil {
		a.logger.Warn("joining job channel failed", "job_id", resp.JobID, "err", err)
	}
	return resp.JobID, nil
}

func (a *App) queryContext(snap state.AppState) *api.QueryContext {
	qc := &api.QueryContext{}
	for _, d := range snap.UI.Datasets {
		qc.UploadedDatasets = append(qc.UploadedDatasets, d.DatasetID)
	}
	if vp := snap.UI.Viewport; vp.Zoom > 0 {
		qc.CurrentMapBounds = &api.MapBounds{
			West:  vp.BBox[0],
			South: vp.BBox[1],
			East:  vp.BBox[2],
			North: vp.BBox[3],
		}
	}
	return qc
}

// UploadDataset validates and uploads one file. Validation failures surface
// immediately and leave dataset state untouched. Vector uploads move straight
// into the optimistic ingesting state; the processed/failed transition arrives
// over the socket.
func (a *App) UploadDataset(ctx context.Context, filename string, size int64, r io.Reader, meta api.UploadMetadata, progress func(written, total int64)) (api.Dataset, error) {
	ds, err := a.API.UploadDataset(ctx, filename, size, r, meta, progress)
	if err != nil {
		a.Notifications.Warning("Upload rejected: " + err.Error())
		return api.Dataset{}, err
	}

	a.Store.Dispatch(events.DatasetAdded{Dataset: ds})
	// Rasters skip ingestion; the reducer marks them processed on add.
	if d, ok := a.Store.State().UI.DatasetByID(ds.DatasetID); ok && d.Status != state.DatasetProcessed {
		a.Store.Dispatch(events.DatasetStatus{DatasetID: ds.DatasetID, Status: string(state.DatasetIngesting)})
	}
	a.Notifications.Success("Uploaded " + ds.Name)
	return ds, nil
}

// RefreshDatasets reconciles the local dataset table with the backend's.
// Known ids are untouched (the add reducer is idempotent); server-side status
// changes the client missed are replayed.
func (a *App) RefreshDatasets(ctx context.Context) error {
	remote, err := a.API.ListDatasets(ctx)
	if err != nil {
		return err
	}
	local := a.Store.State().UI
	for _, ds := range remote {
		if d, ok := local.DatasetByID(ds.DatasetID); ok {
			if string(d.Status) != ds.Status && d.Status != state.DatasetDeleting {
				a.Store.Dispatch(events.DatasetStatus{DatasetID: ds.DatasetID, Status: ds.Status})
			}
			continue
		}
		a.Store.Dispatch(events.DatasetAdded{Dataset: ds})
	}
	return nil
}

// DeleteDataset removes a dataset with explicit pending/confirmed semantics:
// the dataset shows as deleting while the request is in flight, disappears on
// confirmation and rolls back to its prior status on rejection.
func (a *App) DeleteDataset(ctx context.Context, datasetID string) error {
	prev, ok := a.Store.State().UI.DatasetByID(datasetID)
	if !ok {
		return fmt.Errorf("unknown dataset %q", datasetID)
	}

	a.Store.Dispatch(events.DatasetStatus{DatasetID: datasetID, Status: string(state.DatasetDeleting)})
	if err := a.API.DeleteDataset(ctx, datasetID); err != nil {
		a.Store.Dispatch(events.DatasetStatus{DatasetID: datasetID, Status: string(prev.Status)})
		a.Notifications.Error("Delete failed: " + err.Error())
		return err
	}
	a.Store.Dispatch(events.DatasetRemoved{DatasetID: datasetID})
	return nil
}

// RetryIngestion moves a failed dataset back into ingesting and asks the
// backend to re-run ingestion.
func (a *App) RetryIngestion(ctx context.Context, datasetID string) error {
	d, ok := a.Store.State().UI.DatasetByID(datasetID)
	if !ok {
		return fmt.Errorf("unknown dataset %q", datasetID)
	}
	if d.Status != state.DatasetIngestionFailed {
		return fmt.Errorf("dataset %q is %s, not retryable", datasetID, d.Status)
	}

	a.Store.Dispatch(events.DatasetStatus{DatasetID: datasetID, Status: string(state.DatasetIngesting)})
	if err := a.API.ReingestDataset(ctx, datasetID); err != nil {
		a.Store.Dispatch(events.DatasetStatus{DatasetID: datasetID, Status: string(state.DatasetIngestionFailed)})
		a.Notifications.Warning("Retry failed: " + err.Error())
		return err
	}
	return nil
}

// AddDatasetLayer puts an uploaded dataset on the map as a dynamic layer.
func (a *App) AddDatasetLayer(datasetID string) error {
	d, ok := a.Store.State().UI.DatasetByID(datasetID)
	if !ok {
		return fmt.Errorf("unknown dataset %q", datasetID)
	}
	a.Store.Dispatch(events.LayerAdded{Layer: events.LayerPayload{
		LayerID: d.DatasetID,
		Name:    d.Name,
		Type:    d.FileType,
		Dynamic: true,
		Visible: true,
		BBox:    d.BBox,
	}})
	return nil
}

// RemoveLayer drops a layer from the registry.
func (a *App) RemoveLayer(layerID string) {
	a.Store.Dispatch(events.LayerRemoved{LayerID: layerID})
}

// ToggleLayer flips a layer's visibility.
func (a *App) ToggleLayer(layerID string) {
	a.Store.Dispatch(events.LayerToggled{LayerID: layerID})
}

// ReorderLayers moves sourceID before targetID in paint order.
func (a *App) ReorderLayers(sourceID, targetID string) {
	a.Store.Dispatch(events.LayersReordered{SourceID: sourceID, TargetID: targetID})
}

// SetViewport records the current map view for dynamic fetches and query context.
func (a *App) SetViewport(west, south, east, north float64, zoom int) {
	a.Store.Dispatch(events.ViewportChanged{BBox: [4]float64{west, south, east, north}, Zoom: zoom})
}

// ClearChat drops the conversation, leaving datasets and layers in place.
func (a *App) ClearChat() {
	a.Store.Dispatch(events.ChatCleared{})
}

// Reset restores the initial state entirely.
func (a *App) Reset() {
	a.Store.Dispatch(events.StateReset{})
}
