package api

import (
	"encoding/json"

	"github.com/Parth354/COT-Geospatial/internal/events"
)

// SessionResponse is returned by session retrieval.
type SessionResponse struct {
	SessionID string `json:"session_id"`
}

// MapBounds is the viewport context attached to a query.
type MapBounds struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	West  float64 `json:"west"`
}

// QueryContext carries what the user currently sees: their uploads and viewport.
type QueryContext struct {
	UploadedDatasets []string   `json:"uploaded_datasets,omitempty"`
	CurrentMapBounds *MapBounds `json:"current_map_bounds,omitempty"`
}

// QueryRequest submits one natural-language analysis query.
type QueryRequest struct {
	Query     string        `json:"query"`
	SessionID string        `json:"session_id"`
	Context   *QueryContext `json:"context,omitempty"`
}

// QueryResponse acknowledges an accepted query; streaming continues over the
// websocket channel named here.
type QueryResponse struct {
	JobID            string `json:"job_id"`
	Status           string `json:"status"`
	EstimatedTime    string `json:"estimated_time"`
	WebsocketChannel string `json:"websocket_channel"`
}

// UploadMetadata is the JSON form field accompanying a multipart upload.
type UploadMetadata struct {
	Name        string   `json:"name,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// ResultLayerStyle mirrors the backend's layer style descriptor.
type ResultLayerStyle struct {
	FillColor   string  `json:"fill_color"`
	FillOpacity float64 `json:"fill_opacity"`
	StrokeColor string  `json:"stroke_color"`
	StrokeWidth int     `json:"stroke_width"`
}

// ResultMapLayer is one output layer of a completed analysis.
type ResultMapLayer struct {
	LayerID string            `json:"layer_id"`
	Name    string            `json:"name"`
	Type    string            `json:"type"`
	Style   *ResultLayerStyle `json:"style,omitempty"`
	DataURL string            `json:"data_url"`
	Legend  json.RawMessage   `json:"legend,omitempty"`
}

// DownloadableFile points at an exportable result artifact.
type DownloadableFile struct {
	Name   string  `json:"name"`
	URL    string  `json:"url"`
	SizeMB float64 `json:"size_mb"`
}

// ResultMetrics summarizes the analysis numerically.
type ResultMetrics struct {
	TotalAreaKM2    float64 `json:"total_area_km2"`
	HighRiskAreaKM2 float64 `json:"high_risk_area_km2"`
	AffectedPop     int     `json:"affected_population"`
}

// ResultsData is the body of a results response.
type ResultsData struct {
	MapLayers         []ResultMapLayer   `json:"map_layers"`
	Metrics           ResultMetrics      `json:"metrics"`
	Summary           string             `json:"summary"`
	DownloadableFiles []DownloadableFile `json:"downloadable_files"`
}

// ResultsResponse is the full analysis result for one job.
type ResultsResponse struct {
	JobID          string      `json:"job_id"`
	Status         string      `json:"status"`
	Results        ResultsData `json:"results"`
	ProcessingTime string      `json:"processing_time"`
	CreatedAt      string      `json:"created_at"`
}

// Dataset re-exports the upload descriptor shape shared with the store.
type Dataset = events.DatasetPayload
