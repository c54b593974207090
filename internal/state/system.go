package state

import (
	"time"

	"github.com/Parth354/COT-Geospatial/internal/events"
)

// reduceSystem tracks connection health and the notification queue.
func reduceSystem(s SystemSlice, a events.Action) SystemSlice {
	switch act := a.(type) {
	case events.ConnectionChanged:
		s.Connection = ConnectionState(act.State)
		s.ConnectionErr = act.Err
		return s

	case events.NotificationPush:
		n := Notification{
			ID:        act.ID,
			Level:     act.Level,
			Message:   act.Message,
			TimeoutMS: act.Timeout,
			CreatedAt: time.Now(),
		}
		out := make([]Notification, len(s.Notifications), len(s.Notifications)+1)
		copy(out, s.Notifications)
		s.Notifications = append(out, n)
		return s

	case events.NotificationClear:
		out := make([]Notification, 0, len(s.Notifications))
		for _, n := range s.Notifications {
			if n.ID != act.ID {
				out = append(out, n)
			}
		}
		s.Notifications = out
		return s

	case events.JobError:
		// Job failures surface globally in addition to finalizing the message.
		n := Notification{
			ID:        "job-error-" + act.JobID,
			Level:     "error",
			Message:   act.Message,
			TimeoutMS: 8000,
			CreatedAt: time.Now(),
		}
		out := make([]Notification, len(s.Notifications), len(s.Notifications)+1)
		copy(out, s.Notifications)
		s.Notifications = append(out, n)
		return s
	}
	return s
}
