package events

import (
	"encoding/json"
	"fmt"
)

// Wire-level event type names as emitted by the backend.
const (
	wireCotStep           = "cot_step"
	wireToolExecution     = "tool_execution"
	wireJobComplete       = "job_complete"
	wireError             = "error"
	wireIngestionComplete = "ingestion_complete"
	wireIngestionFailed   = "ingestion_failed"

	// WirePing is the heartbeat; the connection manager answers it directly
	// and never hands it to Normalize.
	WirePing = "ping"
)

type envelope struct {
	Type string `json:"type"`
}

// Normalize maps a raw inbound socket payload to a canonical Action.
//
// Unknown event types are not an error: they produce an Unknown action so the
// reducer can ignore them while newer backends keep streaming. Only payloads
// that are not JSON objects or lack a type discriminator are rejected.
func Normalize(raw []byte) (Action, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed event payload: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("event payload missing type discriminator")
	}

	switch env.Type {
	case wireCotStep:
		var a CotStep
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return a, nil
	case wireToolExecution:
		var a ToolExecution
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return a, nil
	case wireJobComplete:
		var a JobComplete
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return a, nil
	case wireError:
		var a JobError
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return a, nil
	case wireIngestionComplete:
		var a IngestionComplete
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return a, nil
	case wireIngestionFailed:
		var a IngestionFailed
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return a, nil
	default:
		return Unknown{Type: env.Type, Raw: json.RawMessage(raw)}, nil
	}
}
