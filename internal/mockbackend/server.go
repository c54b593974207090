// Package mockbackend is a self-contained stand-in for the geospatial
// analysis backend: the HTTP surface plus the job event stream, with a canned
// reasoning pipeline behind it. It exists for local development (`geochat
// mock`) and for exercising the client end to end in tests.
package mockbackend

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/Parth354/COT-Geospatial/internal/api"
)

// Server simulates the backend. One instance serves any number of clients.
type Server struct {
	logger    *log.Logger
	upgrader  websocket.Upgrader
	stepDelay time.Duration

	mu       sync.Mutex
	datasets map[string]api.Dataset
	results  map[string]api.ResultsResponse
	conns    map[*wsClient]map[string]struct{} // conn → joined job ids
}

// wsClient serializes writes to one websocket connection.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(v)
}

// Option configures the simulator.
type Option func(*Server)

// WithStepDelay sets the pause between pipeline events (tests use ~0).
func WithStepDelay(d time.Duration) Option {
	return func(s *Server) { s.stepDelay = d }
}

// NewServer creates a simulator.
func NewServer(logger *log.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		logger:    logger,
		upgrader:  websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		stepDelay: 750 * time.Millisecond,
		datasets:  make(map[string]api.Dataset),
		results:   make(map[string]api.ResultsResponse),
		conns:     make(map[*wsClient]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns the full route table, mirroring the real backend's paths.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/session", s.handleSession).Methods(http.MethodGet)
	r.HandleFunc("/api/query", s.handleQuery).Methods(http.MethodPost)
	r.HandleFunc("/api/upload", s.handleUpload).Methods(http.MethodPost)
	r.HandleFunc("/api/datasets", s.handleListDatasets).Methods(http.MethodGet)
	r.HandleFunc("/api/datasets/{id}", s.handleDeleteDataset).Methods(http.MethodDelete)
	r.HandleFunc("/api/datasets/{id}/ingest", s.handleReingest).Methods(http.MethodPost)
	r.HandleFunc("/api/layers/{id}/data", s.handleLayerData).Methods(http.MethodGet)
	r.HandleFunc("/api/results/{id}", s.handleResults).Methods(http.MethodGet)
	r.HandleFunc("/api/download/{job}/{file}", s.handleDownload).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleSocket)
	return r
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, api.SessionResponse{SessionID: uuid.New().String()})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req api.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Query == "" {
		http.Error(w, "invalid query request", http.StatusBadRequest)
		return
	}

	jobID := uuid.New().String()
	go s.runPipeline(jobID, req.Query)

	writeJSON(w, http.StatusAccepted, api.QueryResponse{
		JobID:            jobID,
		Status:           "processing",
		EstimatedTime:    "30s",
		WebsocketChannel: jobID,
	})
}

// runPipeline streams the canned chain-of-thought for one job: reasoning,
// action and observation steps, two tool executions, then job_complete with
// one output layer.
func (s *Server) runPipeline(jobID, query string) {
	steps := []map[string]any{
		{
			"type": "cot_step", "job_id": jobID, "step_number": 1,
			"step_type": "reasoning",
			"content":   fmt.Sprintf("Received query %q. Parsing and planning analysis steps.", query),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
		{
			"type": "cot_step", "job_id": jobID, "step_number": 2,
			"step_type": "action",
			"content":   "Selecting relevant datasets and spatial predicates.",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
		{
			"type": "cot_step", "job_id": jobID, "step_number": 3,
			"step_type": "observation",
			"content":   "Candidate features identified; computing risk surfaces.",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
		{
			"type": "tool_execution", "job_id": jobID,
			"tool": "RAGRetriever", "status": "running", "progress": 20,
			"message": "Retrieving relevant documents",
		},
		{
			"type": "tool_execution", "job_id": jobID,
			"tool": "PostGISFilter", "status": "running", "progress": 60,
			"message": "Filtering features by bounding box and risk attributes",
		},
	}
	for _, step := range steps {
		time.Sleep(s.stepDelay)
		s.broadcast(jobID, step)
	}

	time.Sleep(s.stepDelay)
	summary := "Identified 3 high-risk zones covering 12.4 km²."
	s.mu.Lock()
	s.results[jobID] = api.ResultsResponse{
		JobID:  jobID,
		Status: "success",
		Results: api.ResultsData{
			MapLayers: []api.ResultMapLayer{{
				LayerID: "flood_zones",
				Name:    "flood_zones",
				Type:    "polygon",
				DataURL: "/api/layers/flood_zones/data",
				Style: &api.ResultLayerStyle{
					FillColor: "#d73027", FillOpacity: 0.6,
					StrokeColor: "#a50026", StrokeWidth: 1,
				},
			}},
			Metrics: api.ResultMetrics{TotalAreaKM2: 48.1, HighRiskAreaKM2: 12.4, AffectedPop: 51200},
			Summary: summary,
		},
		ProcessingTime: "4.2s",
		CreatedAt:      time.Now().UTC().Format(time.RFC3339),
	}
	s.mu.Unlock()

	s.broadcast(jobID, map[string]any{
		"type":   "job_complete",
		"job_id": jobID,
		"status": "success",
		"results": map[string]any{
			"layers": []map[string]any{{
				"layer_id": "flood_zones",
				"name":     "flood_zones",
				"type":     "polygon",
				"data_url": "/api/layers/flood_zones/data",
			}},
		},
		"results_url":      "/api/results/" + jobID,
		"analysis_summary": summary,
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(128 << 20); err != nil {
		http.Error(w, "invalid multipart body", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	var meta api.UploadMetadata
	if raw := r.FormValue("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			http.Error(w, "invalid metadata format", http.StatusBadRequest)
			return
		}
	}

	name := meta.Name
	if name == "" {
		name = header.Filename
	}
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(header.Filename)), ".")
	size, _ := io.Copy(io.Discard, file)

	ds := api.Dataset{
		DatasetID:    uuid.New().String(),
		Name:         name,
		FileType:     ext,
		SizeMB:       float64(size) / (1 << 20),
		FeatureCount: 128,
		BBox:         []float64{76.8, 28.4, 77.4, 28.9},
		CRS:          "EPSG:4326",
		Status:       "uploaded",
	}

	s.mu.Lock()
	s.datasets[ds.DatasetID] = ds
	s.mu.Unlock()

	isRaster := ext == "tif" || ext == "tiff"
	if !isRaster {
		go s.runIngestion(ds.DatasetID)
	} else {
		s.setDatasetStatus(ds.DatasetID, "processed")
	}

	writeJSON(w, http.StatusCreated, ds)
}

// runIngestion marks the dataset processed after a delay and announces it.
func (s *Server) runIngestion(datasetID string) {
	time.Sleep(s.stepDelay)
	s.setDatasetStatus(datasetID, "processed")
	s.broadcastAll(map[string]any{
		"type":       "ingestion_complete",
		"dataset_id": datasetID,
		"layer":      datasetID,
		"message":    "Dataset ingested and ready for analysis.",
	})
}

func (s *Server) setDatasetStatus(datasetID, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ds, ok := s.datasets[datasetID]; ok {
		ds.Status = status
		s.datasets[datasetID] = ds
	}
}

func (s *Server) handleListDatasets(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	out := make([]api.Dataset, 0, len(s.datasets))
	for _, ds := range s.datasets {
		out = append(out, ds)
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteDataset(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	_, ok := s.datasets[id]
	delete(s.datasets, id)
	s.mu.Unlock()
	if !ok {
		http.Error(w, "dataset not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReingest(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	_, ok := s.datasets[id]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "dataset not found", http.StatusNotFound)
		return
	}
	s.setDatasetStatus(id, "ingesting")
	go s.runIngestion(id)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleLayerData(w http.ResponseWriter, r *http.Request) {
	bound := orb.Bound{Min: orb.Point{76.8, 28.4}, Max: orb.Point{77.4, 28.9}}
	if bbox := r.URL.Query().Get("bbox"); bbox != "" {
		var west, south, east, north float64
		if _, err := fmt.Sscanf(bbox, "%f,%f,%f,%f", &west, &south, &east, &north); err != nil {
			http.Error(w, "invalid bbox format", http.StatusBadRequest)
			return
		}
		bound = orb.Bound{Min: orb.Point{west, south}, Max: orb.Point{east, north}}
	}

	// One polygon clipped to the requested bound is enough for a simulator.
	fc := geojson.NewFeatureCollection()
	f := geojson.NewFeature(bound.ToPolygon())
	f.Properties = geojson.Properties{
		"layer_id":   mux.Vars(r)["id"],
		"risk_level": "high",
	}
	fc.Append(f)

	data, err := fc.MarshalJSON()
	if err != nil {
		http.Error(w, "encode failure", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.Write(data)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	res, ok := s.results[id]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "results not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	w.Header().Set("Content-Type", mime.TypeByExtension(path.Ext(vars["file"])))
	w.Header().Set("Content-Disposition", "attachment; filename="+vars["file"])
	fmt.Fprintf(w, "simulated artifact for job %s\n", vars["job"])
}

// handleSocket implements the job stream endpoint. The first client frame
// must be a join_channel, matching the production contract; anything else
// closes the socket with a policy violation.
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	client := &wsClient{conn: conn}

	// Session-wide announcements (ingestion) flow before any join, so the
	// connection registers immediately; job streams still require a join.
	s.mu.Lock()
	s.conns[client] = make(map[string]struct{})
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, client)
		s.mu.Unlock()
		conn.Close()
	}()

	firstFrame := true
	for {
		var msg struct {
			Type  string `json:"type"`
			JobID string `json:"job_id"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if firstFrame && msg.Type != "join_channel" {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected join_channel"),
				time.Now().Add(time.Second))
			return
		}
		firstFrame = false
		switch msg.Type {
		case "join_channel":
			s.mu.Lock()
			s.conns[client][msg.JobID] = struct{}{}
			s.mu.Unlock()
		case "leave_channel":
			s.mu.Lock()
			delete(s.conns[client], msg.JobID)
			s.mu.Unlock()
		case "pong":
			// Heartbeat answer; nothing to do.
		}
	}
}

// broadcast delivers one event to every connection joined to jobID.
func (s *Server) broadcast(jobID string, v any) {
	s.mu.Lock()
	targets := make([]*wsClient, 0, len(s.conns))
	for c, jobs := range s.conns {
		if _, ok := jobs[jobID]; ok {
			targets = append(targets, c)
		}
	}
	s.mu.Unlock()

	for _, c := range targets {
		if err := c.writeJSON(v); err != nil {
			s.logger.Warn("broadcast write failed", "job_id", jobID, "err", err)
		}
	}
}

// broadcastAll delivers an event to every connection; ingestion announcements
// are not scoped to a job channel.
func (s *Server) broadcastAll(v any) {
	s.mu.Lock()
	targets := make([]*wsClient, 0, len(s.conns))
	for c := range s.conns {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	for _, c := range targets {
		if err := c.writeJSON(v); err != nil {
			s.logger.Warn("broadcast write failed", "err", err)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
