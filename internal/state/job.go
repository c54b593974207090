package state

import (
	"fmt"
	"time"

	"github.com/Parth354/COT-Geospatial/internal/events"
)

// reduceJob advances the conversation slice. It is pure and total: any action
// it does not recognize, and any fragment it cannot address, leaves the slice
// unchanged rather than erroring.
func reduceJob(j JobSlice, a events.Action) JobSlice {
	switch act := a.(type) {
	case events.UserMessage:
		return j.appendMessage(Message{
			Role: RoleUser,
			Text: act.Text,
		})

	case events.QuerySubmitted:
		// A new submission supersedes any previous active job. The old job's
		// server-side work continues; only client attention moves.
		j = j.appendMessage(Message{
			Role:  RoleAssistant,
			JobID: act.JobID,
			Parts: map[string]any{},
		})
		j.ActiveJobID = act.JobID
		j.Status = JobPreparing
		j.Loading = true
		j.Summary = ""
		j.ResultsURL = ""
		return j

	case events.CotStep:
		key := act.StepType
		if key == "" {
			key = "chain_of_thought"
		}
		j = j.mergeFragment(act.JobID, key, map[string]any{
			"step_number": act.StepNumber,
			"content":     act.Content,
			"timestamp":   act.Timestamp,
		})
		return j.markRunning(act.JobID)

	case events.ToolExecution:
		j = j.mergeFragment(act.JobID, "tool_execution", map[string]any{
			"tool":     act.Tool,
			"status":   act.Status,
			"progress": act.Progress,
			"message":  act.Message,
		})
		return j.markRunning(act.JobID)

	case events.JobComplete:
		j = j.mergeFragment(act.JobID, "status", act.Status)
		if act.Summary != "" {
			j = j.mergeFragment(act.JobID, "analysis_summary", act.Summary)
		}
		j = j.finalizeMessage(act.JobID, false)
		if j.ActiveJobID == act.JobID {
			j.ActiveJobID = ""
			j.Status = JobCompleted
			j.Loading = false
			j.Summary = act.Summary
			j.ResultsURL = act.ResultsURL
		}
		return j

	case events.JobError:
		j = j.mergeFragment(act.JobID, "error", map[string]any{
			"error_code": act.ErrorCode,
			"message":    act.Message,
		})
		j = j.finalizeMessage(act.JobID, true)
		if j.ActiveJobID == "" || j.ActiveJobID == act.JobID {
			j.ActiveJobID = ""
			j.Status = JobFailed
			j.Loading = false
		}
		return j

	case events.IngestionComplete:
		text := act.Message
		if text == "" {
			text = fmt.Sprintf("Dataset %s is ready for analysis.", act.DatasetID)
		}
		return j.appendStandalone(text)

	case events.IngestionFailed:
		text := act.Message
		if text == "" {
			text = fmt.Sprintf("Ingestion failed for dataset %s.", act.DatasetID)
		}
		return j.appendStandalone(text)

	case events.ChatCleared:
		j.Messages = nil
		j.ActiveJobID = ""
		j.Status = JobIdle
		j.Loading = false
		j.Summary = ""
		j.ResultsURL = ""
		return j
	}
	return j
}

// appendMessage clones the log and appends m with a deterministic id.
func (j JobSlice) appendMessage(m Message) JobSlice {
	m.ID = fmt.Sprintf("msg-%d", len(j.Messages)+1)
	m.CreatedAt = time.Now()
	msgs := make([]Message, len(j.Messages), len(j.Messages)+1)
	copy(msgs, j.Messages)
	j.Messages = append(msgs, m)
	return j
}

// appendStandalone appends an already-final assistant message that belongs to
// no job, used for ingestion announcements.
func (j JobSlice) appendStandalone(text string) JobSlice {
	return j.appendMessage(Message{
		Role:  RoleAssistant,
		Text:  text,
		Final: true,
	})
}

// mergeFragment shallow-merges one named fragment into the most recent
// assistant message for jobID. A new Parts map is built per update so prior
// snapshots stay untouched. No matching message, or a finalized one, is a
// silent no-op: late events for superseded or completed jobs must not corrupt
// state and must never create orphan messages.
func (j JobSlice) mergeFragment(jobID, key string, value any) JobSlice {
	if jobID == "" {
		return j
	}
	idx := j.activeMessageIndex(jobID)
	if idx < 0 || j.Messages[idx].Final {
		return j
	}

	msgs := make([]Message, len(j.Messages))
	copy(msgs, j.Messages)

	parts := make(map[string]any, len(msgs[idx].Parts)+1)
	for k, v := range msgs[idx].Parts {
		parts[k] = v
	}
	parts[key] = value
	msgs[idx].Parts = parts
	j.Messages = msgs
	return j
}

// finalizeMessage freezes the message for jobID against further merges.
func (j JobSlice) finalizeMessage(jobID string, failed bool) JobSlice {
	idx := j.activeMessageIndex(jobID)
	if idx < 0 {
		return j
	}
	msgs := make([]Message, len(j.Messages))
	copy(msgs, j.Messages)
	msgs[idx].Final = true
	msgs[idx].Failed = failed
	j.Messages = msgs
	return j
}

// markRunning moves the state machine from preparing to running once the
// active job produces its first streamed fragment.
func (j JobSlice) markRunning(jobID string) JobSlice {
	if j.ActiveJobID == jobID && j.Status == JobPreparing {
		j.Status = JobRunning
	}
	return j
}
