package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/query", r.URL.Path)

		var req QueryRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "find flood zones", req.Query)
		assert.Equal(t, "sess-1", req.SessionID)

		json.NewEncoder(w).Encode(QueryResponse{
			JobID:            "j1",
			Status:           "accepted",
			WebsocketChannel: "job_j1",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/api", nil)
	resp, err := c.SubmitQuery(context.Background(), QueryRequest{Query: "find flood zones", SessionID: "sess-1"})
	require.NoError(t, err)
	assert.Equal(t, "j1", resp.JobID)
	assert.Equal(t, "job_j1", resp.WebsocketChannel)
}

func TestSubmitQueryRejectsMissingJobID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(QueryResponse{Status: "accepted"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/api", nil)
	_, err := c.SubmitQuery(context.Background(), QueryRequest{Query: "q"})
	require.Error(t, err)
}

func TestUploadValidation(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		json.NewEncoder(w).Encode(Dataset{DatasetID: "d1"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/api", nil, WithMaxUploadSize(1<<20))
	ctx := context.Background()

	t.Run("empty file never reaches the network", func(t *testing.T) {
		_, err := c.UploadDataset(ctx, "empty.geojson", 0, strings.NewReader(""), UploadMetadata{}, nil)
		require.ErrorIs(t, err, ErrEmptyFile)
		assert.Zero(t, atomic.LoadInt32(&hits))
	})

	t.Run("oversized file never reaches the network", func(t *testing.T) {
		_, err := c.UploadDataset(ctx, "big.geojson", 2<<20, strings.NewReader("x"), UploadMetadata{}, nil)
		require.ErrorIs(t, err, ErrFileTooLarge)
		assert.Zero(t, atomic.LoadInt32(&hits))
	})

	t.Run("unsupported extension never reaches the network", func(t *testing.T) {
		_, err := c.UploadDataset(ctx, "notes.txt", 10, strings.NewReader("hello"), UploadMetadata{}, nil)
		require.ErrorIs(t, err, ErrUnsupportedType)
		assert.Zero(t, atomic.LoadInt32(&hits))
	})
}

func TestUploadDataset(t *testing.T) {
	payload := `{"type":"FeatureCollection","features":[]}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "parcels.geojson", hdr.Filename)
		body, _ := io.ReadAll(f)
		assert.Equal(t, payload, string(body))

		var meta UploadMetadata
		require.NoError(t, json.Unmarshal([]byte(r.FormValue("metadata")), &meta))
		assert.Equal(t, "Parcels", meta.Name)

		json.NewEncoder(w).Encode(Dataset{DatasetID: "d1", Name: "Parcels", FileType: "geojson", Status: "uploaded"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/api", nil)

	var lastWritten, total int64
	ds, err := c.UploadDataset(context.Background(), "parcels.geojson", int64(len(payload)),
		strings.NewReader(payload), UploadMetadata{Name: "Parcels"},
		func(w, t int64) { lastWritten, total = w, t })
	require.NoError(t, err)
	assert.Equal(t, "d1", ds.DatasetID)
	assert.Equal(t, int64(len(payload)), lastWritten)
	assert.Equal(t, int64(len(payload)), total)
}

func TestFetchLayerData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/layers/l1/data", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "-122.5,37.5,-122.3,37.9", q.Get("bbox"))
		assert.Equal(t, "12", q.Get("zoom"))
		assert.Equal(t, "geojson", q.Get("format"))
		w.Write([]byte(`{"type":"FeatureCollection","features":[]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/api", nil)
	bound := orb.Bound{Min: orb.Point{-122.5, 37.5}, Max: orb.Point{-122.3, 37.9}}
	data, err := c.FetchLayerData(context.Background(), "l1", &bound, 12)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"FeatureCollection","features":[]}`, string(data))
}

func TestFetchLayerDataWithoutViewport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Empty(t, q.Get("bbox"))
		assert.Empty(t, q.Get("zoom"))
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/api", nil)
	_, err := c.FetchLayerData(context.Background(), "l1", nil, 0)
	require.NoError(t, err)
}

func TestDeleteDataset(t *testing.T) {
	t.Run("204 means confirmed", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodDelete, r.Method)
			require.Equal(t, "/api/datasets/d1", r.URL.Path)
			w.WriteHeader(http.StatusNoContent)
		}))
		defer srv.Close()

		c := NewClient(srv.URL+"/api", nil)
		require.NoError(t, c.DeleteDataset(context.Background(), "d1"))
	})

	t.Run("404 surfaces as an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "dataset not found", http.StatusNotFound)
		}))
		defer srv.Close()

		c := NewClient(srv.URL+"/api", nil)
		err := c.DeleteDataset(context.Background(), "ghost")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "404")
	})
}

func TestDownloadFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/download/j1/report.pdf", r.URL.Path)
		w.Write([]byte("pdf-bytes"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/api", nil)
	var buf bytes.Buffer
	require.NoError(t, c.DownloadFile(context.Background(), "j1", "report.pdf", &buf))
	assert.Equal(t, "pdf-bytes", buf.String())
}

func TestServerErrorsIncludeBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "query too ambiguous", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/api", nil)
	_, err := c.SubmitQuery(context.Background(), QueryRequest{Query: "?"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query too ambiguous")
}
