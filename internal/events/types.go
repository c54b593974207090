package events

import "encoding/json"

// ActionKind identifies the canonical kind of an action flowing through the store.
type ActionKind string

const (
	// Server-pushed job stream
	KindCotStep       ActionKind = "job.cot_step"
	KindToolExecution ActionKind = "job.tool_execution"
	KindJobComplete   ActionKind = "job.complete"
	KindJobError      ActionKind = "job.error"

	// Server-pushed ingestion lifecycle
	KindIngestionComplete ActionKind = "ingestion.complete"
	KindIngestionFailed   ActionKind = "ingestion.failed"

	// User intent
	KindUserMessage       ActionKind = "chat.user_message"
	KindQuerySubmitted    ActionKind = "job.submitted"
	KindChatCleared       ActionKind = "chat.cleared"
	KindDatasetAdded      ActionKind = "dataset.added"
	KindDatasetRemoved    ActionKind = "dataset.removed"
	KindDatasetStatus     ActionKind = "dataset.status"
	KindLayerAdded        ActionKind = "layer.added"
	KindLayerRemoved      ActionKind = "layer.removed"
	KindLayerToggled      ActionKind = "layer.toggled"
	KindLayersReordered   ActionKind = "layer.reordered"
	KindViewportChanged   ActionKind = "map.viewport"
	KindNotificationPush  ActionKind = "notification.push"
	KindNotificationClear ActionKind = "notification.clear"
	KindStateReset        ActionKind = "state.reset"

	// System
	KindConnectionChanged ActionKind = "connection.changed"
	KindUnknown           ActionKind = "unknown"
)

// Action is the closed set of inputs the reducer accepts. Every variant carries
// its payload as exported fields; Kind is the discriminator the reducers switch on.
type Action interface {
	Kind() ActionKind
}

// CotStep is one fragment of the agent's streamed reasoning trace.
type CotStep struct {
	JobID      string `json:"job_id"`
	StepNumber int    `json:"step_number"`
	StepType   string `json:"step_type"`
	Content    string `json:"content"`
	Timestamp  string `json:"timestamp"`
}

func (CotStep) Kind() ActionKind { return KindCotStep }

// ToolExecution reports progress of one backend tool invocation.
type ToolExecution struct {
	JobID    string  `json:"job_id"`
	Tool     string  `json:"tool"`
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
	Message  string  `json:"message"`
}

func (ToolExecution) Kind() ActionKind { return KindToolExecution }

// ResultLayer describes one output layer attached to a completed job.
type ResultLayer struct {
	LayerID string          `json:"layer_id"`
	Name    string          `json:"name"`
	Type    string          `json:"type"`
	DataURL string          `json:"data_url"`
	Style   json.RawMessage `json:"style,omitempty"`
	Legend  json.RawMessage `json:"legend,omitempty"`
}

// JobResults carries the payload of a job_complete event.
type JobResults struct {
	Layers []ResultLayer `json:"layers"`
}

// JobComplete is the terminal event of a successful job.
type JobComplete struct {
	JobID      string     `json:"job_id"`
	Status     string     `json:"status"`
	Results    JobResults `json:"results"`
	ResultsURL string     `json:"results_url"`
	Message    string     `json:"message"`
	Summary    string     `json:"analysis_summary"`
}

func (JobComplete) Kind() ActionKind { return KindJobComplete }

// JobError is a server-reported, job-terminal failure.
type JobError struct {
	JobID     string          `json:"job_id"`
	ErrorCode string          `json:"error_code"`
	Message   string          `json:"message"`
	Details   json.RawMessage `json:"details,omitempty"`
}

func (JobError) Kind() ActionKind { return KindJobError }

// IngestionComplete signals that an uploaded dataset finished backend ingestion.
// Correlation is by DatasetID when present, JobID otherwise.
type IngestionComplete struct {
	DatasetID string `json:"dataset_id"`
	JobID     string `json:"job_id"`
	Layer     string `json:"layer"`
	Message   string `json:"message"`
}

func (IngestionComplete) Kind() ActionKind { return KindIngestionComplete }

// IngestionFailed signals a failed ingestion; the dataset stays retryable.
type IngestionFailed struct {
	DatasetID string `json:"dataset_id"`
	JobID     string `json:"job_id"`
	Message   string `json:"message"`
}

func (IngestionFailed) Kind() ActionKind { return KindIngestionFailed }

// UserMessage appends an immutable user entry to the chat log.
type UserMessage struct {
	Text string
}

func (UserMessage) Kind() ActionKind { return KindUserMessage }

// QuerySubmitted records a freshly accepted query; it supersedes any previous
// active job and opens a new assistant accumulator message.
type QuerySubmitted struct {
	JobID string
	Query string
}

func (QuerySubmitted) Kind() ActionKind { return KindQuerySubmitted }

// ChatCleared drops the conversation log and the active-job pointer.
type ChatCleared struct{}

func (ChatCleared) Kind() ActionKind { return KindChatCleared }

// DatasetPayload mirrors the upload response descriptor.
type DatasetPayload struct {
	DatasetID    string    `json:"dataset_id"`
	Name         string    `json:"name"`
	FileType     string    `json:"file_type"`
	SizeMB       float64   `json:"size_mb"`
	FeatureCount int       `json:"feature_count"`
	BBox         []float64 `json:"bbox,omitempty"`
	CRS          string    `json:"crs,omitempty"`
	Status       string    `json:"status"`
}

// DatasetAdded registers an uploaded dataset. Idempotent on DatasetID.
type DatasetAdded struct {
	Dataset DatasetPayload
}

func (DatasetAdded) Kind() ActionKind { return KindDatasetAdded }

// DatasetRemoved drops a dataset after the server confirmed deletion.
type DatasetRemoved struct {
	DatasetID string
}

func (DatasetRemoved) Kind() ActionKind { return KindDatasetRemoved }

// DatasetStatus moves a dataset through its lifecycle (ingesting, processed,
// ingestion_failed, and back to ingesting on retry).
type DatasetStatus struct {
	DatasetID string
	Status    string
}

func (DatasetStatus) Kind() ActionKind { return KindDatasetStatus }

// LayerPayload is the registry-side description of a map layer; geometry is
// fetched by the rendering collaborator, never stored here.
type LayerPayload struct {
	LayerID string          `json:"layer_id"`
	Name    string          `json:"name"`
	Type    string          `json:"type"`
	DataURL string          `json:"data_url"`
	Dynamic bool            `json:"dynamic"`
	Visible bool            `json:"visible"`
	Style   json.RawMessage `json:"style,omitempty"`
	BBox    []float64       `json:"bbox,omitempty"`
}

// LayerAdded registers a renderable layer. Idempotent on LayerID.
type LayerAdded struct {
	Layer LayerPayload
}

func (LayerAdded) Kind() ActionKind { return KindLayerAdded }

// LayerRemoved drops a layer from the registry.
type LayerRemoved struct {
	LayerID string
}

func (LayerRemoved) Kind() ActionKind { return KindLayerRemoved }

// LayerToggled flips a layer's visibility.
type LayerToggled struct {
	LayerID string
}

func (LayerToggled) Kind() ActionKind { return KindLayerToggled }

// LayersReordered splices SourceID out and reinserts it before TargetID;
// an empty or unknown target appends, making the source topmost.
type LayersReordered struct {
	SourceID string
	TargetID string
}

func (LayersReordered) Kind() ActionKind { return KindLayersReordered }

// ViewportChanged records the current map viewport (west,south,east,north + zoom).
type ViewportChanged struct {
	BBox [4]float64
	Zoom int
}

func (ViewportChanged) Kind() ActionKind { return KindViewportChanged }

// NotificationPush surfaces an ephemeral UI notification.
type NotificationPush struct {
	ID      string
	Level   string
	Message string
	Timeout int // milliseconds; 0 means persistent
}

func (NotificationPush) Kind() ActionKind { return KindNotificationPush }

// NotificationClear dismisses one notification by id.
type NotificationClear struct {
	ID string
}

func (NotificationClear) Kind() ActionKind { return KindNotificationClear }

// StateReset restores the initial state.
type StateReset struct{}

func (StateReset) Kind() ActionKind { return KindStateReset }

// ConnectionChanged reports a socket transition (disconnected, connecting, connected).
type ConnectionChanged struct {
	State string
	Err   string
}

func (ConnectionChanged) Kind() ActionKind { return KindConnectionChanged }

// Unknown wraps a server event type this client does not understand yet.
// Reducers treat it as a no-op, which keeps the wire forward compatible.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (Unknown) Kind() ActionKind { return KindUnknown }
