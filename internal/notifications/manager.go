// Package notifications manages the lifetime of ephemeral UI notifications:
// pushing them into the store and dismissing them once their timeout elapses.
package notifications

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Parth354/COT-Geospatial/internal/events"
)

// Dispatcher is the store-facing side the manager needs.
type Dispatcher interface {
	Dispatch(events.Action)
}

// Manager pushes notifications and schedules their expiry. Notifications with
// a zero timeout are persistent and stay until dismissed explicitly.
type Manager struct {
	dispatcher Dispatcher

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewManager creates a manager bound to a dispatcher.
func NewManager(d Dispatcher) *Manager {
	return &Manager{
		dispatcher: d,
		timers:     make(map[string]*time.Timer),
	}
}

// Info pushes an informational notification with the default timeout.
func (m *Manager) Info(message string) string { return m.Push("info", message, 5000) }

// Success pushes a success notification with the default timeout.
func (m *Manager) Success(message string) string { return m.Push("success", message, 5000) }

// Warning pushes a warning notification with the default timeout.
func (m *Manager) Warning(message string) string { return m.Push("warning", message, 8000) }

// Error pushes a persistent error notification.
func (m *Manager) Error(message string) string { return m.Push("error", message, 0) }

// Push dispatches a notification and arms its self-destruct timer. It returns
// the notification id for explicit dismissal.
func (m *Manager) Push(level, message string, timeoutMS int) string {
	id := uuid.New().String()
	m.dispatcher.Dispatch(events.NotificationPush{
		ID:      id,
		Level:   level,
		Message: message,
		Timeout: timeoutMS,
	})

	if timeoutMS > 0 {
		m.mu.Lock()
		m.timers[id] = time.AfterFunc(time.Duration(timeoutMS)*time.Millisecond, func() {
			m.Dismiss(id)
		})
		m.mu.Unlock()
	}
	return id
}

// Dismiss clears a notification and cancels its pending expiry, if any.
func (m *Manager) Dismiss(id string) {
	m.mu.Lock()
	if t, ok := m.timers[id]; ok {
		t.Stop()
		delete(m.timers, id)
	}
	m.mu.Unlock()
	m.dispatcher.Dispatch(events.NotificationClear{ID: id})
}

// Shutdown cancels all pending expiry timers.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
}
