package socket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/Parth354/COT-Geospatial/internal/events"
)

const writeTimeout = 10 * time.Second

// Handler consumes normalized inbound actions, including connection-state
// transitions. The manager keeps exactly one handler; registering a new one
// replaces the previous (single-consumer design).
type Handler func(events.Action)

// channelMsg is the job-scoped subscription vocabulary the backend expects:
// the websocket endpoint only honors join_channel/leave_channel frames.
type channelMsg struct {
	Type  string `json:"type"`
	JobID string `json:"job_id"`
}

// Manager owns the single persistent socket to the job event stream.
//
// It reconnects with exponential backoff on unexpected closes, replays
// channel subscriptions after every reconnect, answers heartbeats without
// forwarding them, and delivers inbound events to the handler strictly in
// receive order (one reader goroutine, synchronous handoff).
type Manager struct {
	url         string
	dialTimeout time.Duration
	backoff     BackoffConfig
	logger      *log.Logger

	handlerMu sync.RWMutex
	handler   Handler

	mu          sync.Mutex
	conn        *websocket.Conn
	connecting  chan struct{}
	connectErr  error
	attempts    int
	channels    map[string]struct{}
	retryTimer  *time.Timer
	manualClose bool

	writeMu sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithDialTimeout bounds connection establishment; the default is 10s.
func WithDialTimeout(d time.Duration) Option {
	return func(m *Manager) { m.dialTimeout = d }
}

// WithBackoff overrides the reconnect policy.
func WithBackoff(cfg BackoffConfig) Option {
	return func(m *Manager) { m.backoff = cfg }
}

// NewManager creates a manager for the given ws:// or wss:// URL. Nothing
// connects until Connect is called.
func NewManager(url string, logger *log.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	m := &Manager{
		url:         url,
		dialTimeout: 10 * time.Second,
		backoff:     DefaultBackoffConfig(),
		logger:      logger,
		channels:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterHandler installs the single inbound consumer, discarding any
// previous one.
func (m *Manager) RegisterHandler(h Handler) {
	m.handlerMu.Lock()
	m.handler = h
	m.handlerMu.Unlock()
}

// UnregisterHandler removes the current consumer; subsequent events are dropped.
func (m *Manager) UnregisterHandler() {
	m.RegisterHandler(nil)
}

// Connect opens the socket if it is not already open. It is idempotent:
// concurrent calls while a dial is in flight wait for that dial instead of
// opening a duplicate socket. A manual Connect also re-arms reconnection
// after the retry budget was exhausted.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.conn != nil {
		m.mu.Unlock()
		return nil
	}
	if m.connecting != nil {
		wait := m.connecting
		m.mu.Unlock()
		select {
		case <-wait:
			m.mu.Lock()
			err := m.connectErr
			m.mu.Unlock()
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	done := make(chan struct{})
	m.connecting = done
	m.manualClose = false
	m.mu.Unlock()

	err := m.dial(ctx)

	m.mu.Lock()
	m.connectErr = err
	m.connecting = nil
	m.mu.Unlock()
	close(done)
	return err
}

func (m *Manager) dial(ctx context.Context) error {
	m.emit(events.ConnectionChanged{State: "connecting"})

	dialer := websocket.Dialer{HandshakeTimeout: m.dialTimeout}
	dialCtx, cancel := context.WithTimeout(ctx, m.dialTimeout)
	defer cancel()

	conn, _, err := dialer.DialContext(dialCtx, m.url, nil)
	if err != nil {
		m.emit(events.ConnectionChanged{State: "disconnected", Err: err.Error()})
		return fmt.Errorf("dial %s: %w", m.url, err)
	}

	m.mu.Lock()
	m.conn = conn
	m.attempts = 0
	joined := make([]string, 0, len(m.channels))
	for id := range m.channels {
		joined = append(joined, id)
	}
	m.mu.Unlock()

	m.logger.Info("socket connected", "url", m.url)
	m.emit(events.ConnectionChanged{State: "connected"})

	// Replay active subscriptions so a reconnect resumes the same streams.
	for _, id := range joined {
		if err := m.writeJSON(conn, channelMsg{Type: "join_channel", JobID: id}); err != nil {
			m.logger.Warn("replaying channel join failed", "job_id", id, "err", err)
		}
	}

	go m.readLoop(conn)
	return nil
}

// Disconnect closes the socket intentionally, cancels any pending reconnect
// and resets the attempt counter.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.manualClose = true
	m.attempts = 0
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	conn := m.conn
	m.mu.Unlock()

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeTimeout))
		conn.Close()
	}
}

// JoinChannel expresses interest in one job's event stream. The subscription
// is remembered and replayed on reconnect.
func (m *Manager) JoinChannel(jobID string) error {
	m.mu.Lock()
	m.channels[jobID] = struct{}{}
	conn := m.conn
	m.mu.Unlock()

	if conn == nil {
		return nil
	}
	return m.writeJSON(conn, channelMsg{Type: "join_channel", JobID: jobID})
}

// LeaveChannel drops interest in a job's stream.
func (m *Manager) LeaveChannel(jobID string) error {
	m.mu.Lock()
	delete(m.channels, jobID)
	conn := m.conn
	m.mu.Unlock()

	if conn == nil {
		return nil
	}
	return m.writeJSON(conn, channelMsg{Type: "leave_channel", JobID: jobID})
}

// Channels returns the currently tracked subscriptions.
func (m *Manager) Channels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.channels))
	for id := range m.channels {
		out = append(out, id)
	}
	return out
}

func (m *Manager) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleClose(conn, err)
			return
		}

		// Heartbeats are answered immediately and never reach the handler.
		var env struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(data, &env) == nil && env.Type == events.WirePing {
			if err := m.writeJSON(conn, map[string]string{"type": "pong"}); err != nil {
				m.logger.Warn("pong write failed", "err", err)
			}
			continue
		}

		act, err := events.Normalize(data)
		if err != nil {
			// Malformed payloads are logged and dropped; they must never tear
			// down the connection or the handler chain.
			m.logger.Warn("dropping malformed event", "err", err)
			continue
		}
		m.emit(act)
	}
}

func (m *Manager) handleClose(conn *websocket.Conn, err error) {
	m.mu.Lock()
	if m.conn != conn {
		// A stale reader from a previous connection; nothing to do.
		m.mu.Unlock()
		return
	}
	m.conn = nil
	manual := m.manualClose
	m.mu.Unlock()

	conn.Close()

	if manual || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		m.emit(events.ConnectionChanged{State: "disconnected"})
		return
	}

	m.logger.Warn("socket closed unexpectedly", "err", err)
	m.emit(events.ConnectionChanged{State: "disconnected", Err: err.Error()})
	m.scheduleReconnect()
}

func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	if m.manualClose {
		m.mu.Unlock()
		return
	}
	m.attempts++
	if m.attempts > m.backoff.MaxAttempts {
		m.mu.Unlock()
		// Retry budget exhausted: stay down until a manual Connect.
		m.emit(events.NotificationPush{
			ID:      "connection-lost",
			Level:   "error",
			Message: "Connection lost. Reconnect attempts exhausted; retry manually.",
		})
		return
	}

	attempt := m.attempts
	delay := ReconnectDelay(attempt-1, m.backoff)
	m.retryTimer = time.AfterFunc(delay, m.reconnect)
	m.mu.Unlock()
	m.logger.Info("scheduling reconnect", "attempt", attempt, "delay", delay)
}

func (m *Manager) reconnect() {
	if err := m.Connect(context.Background()); err != nil {
		m.scheduleReconnect()
	}
}

func (m *Manager) writeJSON(conn *websocket.Conn, v any) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}

func (m *Manager) emit(a events.Action) {
	m.handlerMu.RLock()
	h := m.handler
	m.handlerMu.RUnlock()
	if h != nil {
		h(a)
	}
}
