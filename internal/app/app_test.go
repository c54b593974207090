package app

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Parth354/COT-Geospatial/internal/api"
	"github.com/Parth354/COT-Geospatial/internal/config"
	"github.com/Parth354/COT-Geospatial/internal/events"
	"github.com/Parth354/COT-Geospatial/internal/mockbackend"
	"github.com/Parth354/COT-Geospatial/internal/state"
)

// newTestApp stands up the simulator and a fully wired app against it.
func newTestApp(t *testing.T) *App {
	// Long enough for channel joins to land before the first pipeline event,
	// short enough to keep the tests quick.
	return newTestAppWithDelay(t, 25*time.Millisecond)
}

func newTestAppWithDelay(t *testing.T, stepDelay time.Duration) *App {
	t.Helper()

	backend := mockbackend.NewServer(nil, mockbackend.WithStepDelay(stepDelay))
	srv := httptest.NewServer(backend.Router())
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		BackendURL:  srv.URL + "/api",
		SocketURL:   "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		DialTimeout: 5 * time.Second,
		Reconnect: config.ReconnectConfig{
			BaseDelay:   10 * time.Millisecond,
			MaxDelay:    100 * time.Millisecond,
			MaxAttempts: 5,
		},
		Upload: config.UploadConfig{MaxSizeMB: 10},
	}

	a := New(cfg, nil)
	t.Cleanup(a.Close)
	return a
}

// waitState polls the store until pred holds or the deadline passes.
func waitState(t *testing.T, a *App, what string, pred func(state.AppState) bool) state.AppState {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		s := a.Store.State()
		if pred(s) {
			return s
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s; last state: %+v", what, a.Store.State())
	return state.AppState{}
}

func TestQueryRoundTrip(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))
	require.NotEmpty(t, a.SessionID())

	waitState(t, a, "socket connected", func(s state.AppState) bool {
		return s.System.Connection == state.ConnConnected
	})

	jobID, err := a.SubmitQuery(ctx, "show flood risk zones near the river")
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	snap := a.Store.State()
	require.Len(t, snap.Job.Messages, 2)
	assert.Equal(t, state.RoleUser, snap.Job.Messages[0].Role)
	assert.Equal(t, jobID, snap.Job.ActiveJobID)

	final := waitState(t, a, "job completion", func(s state.AppState) bool {
		return s.Job.Status == state.JobCompleted
	})

	// The assistant message accumulated the full reasoning trace.
	msg := final.Job.Messages[1]
	require.True(t, msg.Final)
	for _, key := range []string{"reasoning", "action", "observation", "tool_execution", "analysis_summary"} {
		assert.Contains(t, msg.Parts, key)
	}
	assert.Contains(t, final.Job.Summary, "high-risk zones")
	assert.Equal(t, "/api/results/"+jobID, final.Job.ResultsURL)
	assert.Empty(t, final.Job.ActiveJobID)

	// The output layer registered itself, visible by default.
	layer, ok := final.UI.LayerByID(jobID + "-flood_zones")
	require.True(t, ok, "result layer missing: %+v", final.UI.Layers)
	assert.True(t, layer.Visible)

	// And the results record is fetchable over HTTP.
	res, err := a.API.GetResults(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, "success", res.Status)
	require.Len(t, res.Results.MapLayers, 1)
}

func TestQueryRequiresConnection(t *testing.T) {
	a := newTestApp(t)
	_, err := a.SubmitQuery(context.Background(), "anything")
	require.Error(t, err)
}

func TestUploadAndIngestion(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))
	waitState(t, a, "socket connected", func(s state.AppState) bool {
		return s.System.Connection == state.ConnConnected
	})

	payload := `{"type":"FeatureCollection","features":[]}`
	ds, err := a.UploadDataset(ctx, "parcels.geojson", int64(len(payload)),
		strings.NewReader(payload), api.UploadMetadata{Name: "Parcels"}, nil)
	require.NoError(t, err)

	// Vector uploads go optimistically into ingesting, then the socket
	// announcement settles them.
	final := waitState(t, a, "ingestion to finish", func(s state.AppState) bool {
		d, ok := s.UI.DatasetByID(ds.DatasetID)
		return ok && d.Status == state.DatasetProcessed
	})

	// The announcement also lands in the chat log.
	found := false
	for _, m := range final.Job.Messages {
		if m.Role == state.RoleAssistant && m.Final && strings.Contains(m.Text, "ready for analysis") {
			found = true
		}
	}
	assert.True(t, found, "ingestion announcement missing: %+v", final.Job.Messages)

	t.Run("dataset becomes a dynamic map layer", func(t *testing.T) {
		require.NoError(t, a.AddDatasetLayer(ds.DatasetID))
		layer, ok := a.Store.State().UI.LayerByID(ds.DatasetID)
		require.True(t, ok)
		assert.True(t, layer.Dynamic)
	})

	t.Run("delete confirms against the backend", func(t *testing.T) {
		require.NoError(t, a.DeleteDataset(ctx, ds.DatasetID))
		_, ok := a.Store.State().UI.DatasetByID(ds.DatasetID)
		assert.False(t, ok)
	})
}

func TestDeleteRollsBackOnRejection(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))

	// A dataset the backend has never heard of: the DELETE 404s and the
	// local entry must roll back to its prior status.
	a.Store.Dispatch(events.DatasetAdded{Dataset: events.DatasetPayload{
		DatasetID: "ghost-1",
		Name:      "ghost",
		FileType:  "geojson",
		Status:    string(state.DatasetUploaded),
	}})

	err := a.DeleteDataset(ctx, "ghost-1")
	require.Error(t, err)

	d, ok := a.Store.State().UI.DatasetByID("ghost-1")
	require.True(t, ok, "rejected delete must not drop the dataset")
	assert.Equal(t, state.DatasetUploaded, d.Status)
}

func TestRetryIngestion(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))
	waitState(t, a, "socket connected", func(s state.AppState) bool {
		return s.System.Connection == state.ConnConnected
	})

	payload := `{"type":"FeatureCollection","features":[]}`
	ds, err := a.UploadDataset(ctx, "roads.geojson", int64(len(payload)),
		strings.NewReader(payload), api.UploadMetadata{}, nil)
	require.NoError(t, err)

	// Let the first ingestion settle so its announcement cannot race the
	// forced failure below.
	waitState(t, a, "initial ingestion to finish", func(s state.AppState) bool {
		d, ok := s.UI.DatasetByID(ds.DatasetID)
		return ok && d.Status == state.DatasetProcessed
	})

	t.Run("only failed datasets are retryable", func(t *testing.T) {
		err := a.RetryIngestion(ctx, ds.DatasetID)
		require.Error(t, err)
	})

	// Force the failed state locally, then retry against the live backend.
	a.Store.Dispatch(events.DatasetStatus{DatasetID: ds.DatasetID, Status: string(state.DatasetIngestionFailed)})
	require.NoError(t, a.RetryIngestion(ctx, ds.DatasetID))

	waitState(t, a, "retried ingestion to finish", func(s state.AppState) bool {
		d, ok := s.UI.DatasetByID(ds.DatasetID)
		return ok && d.Status == state.DatasetProcessed
	})
}

func TestRefreshDatasets(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))

	// An upload the client never saw, as if made from another session.
	payload := `{"type":"FeatureCollection","features":[]}`
	ds, err := a.API.UploadDataset(ctx, "elsewhere.geojson", int64(len(payload)),
		strings.NewReader(payload), api.UploadMetadata{Name: "Elsewhere"}, nil)
	require.NoError(t, err)
	_, known := a.Store.State().UI.DatasetByID(ds.DatasetID)
	require.False(t, known)

	require.NoError(t, a.RefreshDatasets(ctx))
	d, ok := a.Store.State().UI.DatasetByID(ds.DatasetID)
	require.True(t, ok)
	assert.Equal(t, "Elsewhere", d.Name)
}

func TestSupersedingQueries(t *testing.T) {
	// A slow pipeline keeps the first job in flight while the second submits.
	a := newTestAppWithDelay(t, 2*time.Second)
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))
	waitState(t, a, "socket connected", func(s state.AppState) bool {
		return s.System.Connection == state.ConnConnected
	})

	first, err := a.SubmitQuery(ctx, "first question")
	require.NoError(t, err)
	second, err := a.SubmitQuery(ctx, "second question")
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	assert.Equal(t, second, a.Store.State().Job.ActiveJobID)

	// The superseded channel was left; only the new job is tracked.
	chans := a.Socket.Channels()
	require.Len(t, chans, 1)
	assert.Equal(t, second, chans[0])
}
