package state

import (
	"encoding/json"
	"time"
)

// ConnectionState tracks the socket lifecycle for the whole session.
type ConnectionState string

const (
	ConnDisconnected ConnectionState = "disconnected"
	ConnConnecting   ConnectionState = "connecting"
	ConnConnected    ConnectionState = "connected"
)

// JobStatus is the client-side state machine of the active job.
type JobStatus string

const (
	JobIdle      JobStatus = "idle"
	JobPreparing JobStatus = "preparing"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// MessageRole distinguishes the two chat log variants.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is one entry in the append-only chat log.
//
// User messages are immutable text. Assistant messages are accumulators keyed
// by jobID: streamed fragments shallow-merge into Parts until a terminal event
// sets Final, after which the message is input-frozen.
type Message struct {
	ID        string
	Role      MessageRole
	JobID     string
	Text      string
	Parts     map[string]any
	Final     bool
	Failed    bool
	CreatedAt time.Time
}

// DatasetState is the ingestion lifecycle of an uploaded dataset.
type DatasetState string

const (
	DatasetUploaded        DatasetState = "uploaded"
	DatasetIngesting       DatasetState = "ingesting"
	DatasetProcessed       DatasetState = "processed"
	DatasetIngestionFailed DatasetState = "ingestion_failed"
	// DatasetDeleting marks a pending delete awaiting server confirmation;
	// rejection rolls the dataset back to its prior status.
	DatasetDeleting DatasetState = "deleting"
)

// Dataset describes one uploaded source file.
type Dataset struct {
	DatasetID    string
	Name         string
	FileType     string
	SizeMB       float64
	FeatureCount int
	BBox         []float64
	CRS          string
	Status       DatasetState
	IngestJobID  string
}

// MapLayer is one renderable unit in the ordered layer registry. Position in
// the Layers slice is paint order; the last element renders topmost. The
// registry holds metadata only, never fetched geometry.
type MapLayer struct {
	LayerID string
	Name    string
	Type    string
	DataURL string
	Dynamic bool
	Visible bool
	Style   json.RawMessage
	BBox    []float64
}

// Notification is an ephemeral UI event. TimeoutMS of zero means persistent.
type Notification struct {
	ID        string
	Level     string
	Message   string
	TimeoutMS int
	CreatedAt time.Time
}

// Viewport is the current map view, used to parameterize dynamic layer fetches.
type Viewport struct {
	BBox [4]float64 // west, south, east, north
	Zoom int
}

// JobSlice holds the conversation log and the active-job pointer.
type JobSlice struct {
	Messages    []Message
	ActiveJobID string
	Status      JobStatus
	Loading     bool
	Summary     string
	ResultsURL  string
}

// UISlice holds the dataset table and the map layer registry.
type UISlice struct {
	Datasets []Dataset
	Layers   []MapLayer
	Viewport Viewport
}

// SystemSlice holds connection status and pending notifications.
type SystemSlice struct {
	Connection    ConnectionState
	ConnectionErr string
	Notifications []Notification
}

// AppState is the single immutable snapshot the store owns. Reducers always
// build a new value; consumers holding an old snapshot never observe mutation.
type AppState struct {
	Job    JobSlice
	UI     UISlice
	System SystemSlice
}

// Initial returns the state a fresh session starts from.
func Initial() AppState {
	return AppState{
		Job:    JobSlice{Status: JobIdle},
		System: SystemSlice{Connection: ConnDisconnected},
	}
}

// ActiveMessage returns the most recent assistant message bound to jobID,
// or -1 when none exists.
func (j JobSlice) activeMessageIndex(jobID string) int {
	for i := len(j.Messages) - 1; i >= 0; i-- {
		m := j.Messages[i]
		if m.Role == RoleAssistant && m.JobID == jobID {
			return i
		}
	}
	return -1
}

// DatasetByID returns the dataset with the given id, if present.
func (u UISlice) DatasetByID(id string) (Dataset, bool) {
	for _, d := range u.Datasets {
		if d.DatasetID == id {
			return d, true
		}
	}
	return Dataset{}, false
}

// LayerByID returns the layer with the given id, if present.
func (u UISlice) LayerByID(id string) (MapLayer, bool) {
	for _, l := range u.Layers {
		if l.LayerID == id {
			return l, true
		}
	}
	return MapLayer{}, false
}
