package socket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Parth354/COT-Geospatial/internal/events"
)

var testUpgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// wsServer runs serve for every websocket connection and hands back the ws URL.
func wsServer(t *testing.T, serve func(conn *websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		serve(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// actionRecorder collects handler output and signals each delivery.
type actionRecorder struct {
	mu      sync.Mutex
	actions []events.Action
	arrived chan struct{}
}

func newActionRecorder() *actionRecorder {
	return &actionRecorder{arrived: make(chan struct{}, 64)}
}

func (r *actionRecorder) handle(a events.Action) {
	r.mu.Lock()
	r.actions = append(r.actions, a)
	r.mu.Unlock()
	r.arrived <- struct{}{}
}

func (r *actionRecorder) wait(t *testing.T, pred func(events.Action) bool) events.Action {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		r.mu.Lock()
		for _, a := range r.actions {
			if pred(a) {
				r.mu.Unlock()
				return a
			}
		}
		r.mu.Unlock()
		select {
		case <-r.arrived:
		case <-deadline:
			t.Fatal("expected action never arrived")
		}
	}
}

func (r *actionRecorder) snapshot() []events.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Action, len(r.actions))
	copy(out, r.actions)
	return out
}

func TestManagerConnectAndReceive(t *testing.T) {
	url := wsServer(t, func(conn *websocket.Conn) {
		conn.WriteJSON(map[string]any{"type": "cot_step", "job_id": "j1", "step_number": 1, "step_type": "reasoning", "content": "x"})
		// Keep the connection open until the client closes it.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	rec := newActionRecorder()
	m := NewManager(url, nil)
	m.RegisterHandler(rec.handle)
	defer m.Disconnect()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	rec.wait(t, func(a events.Action) bool {
		c, ok := a.(events.ConnectionChanged)
		return ok && c.State == "connected"
	})
	step := rec.wait(t, func(a events.Action) bool {
		_, ok := a.(events.CotStep)
		return ok
	})
	if step.(events.CotStep).JobID != "j1" {
		t.Errorf("wrong payload delivered: %+v", step)
	}
}

func TestManagerConnectIsIdempotent(t *testing.T) {
	var mu sync.Mutex
	dials := 0
	url := wsServer(t, func(conn *websocket.Conn) {
		mu.Lock()
		dials++
		mu.Unlock()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	m := NewManager(url, nil)
	defer m.Disconnect()

	ctx := context.Background()
	if err := m.Connect(ctx); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if err := m.Connect(ctx); err != nil {
		t.Fatalf("second connect failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Connect(ctx)
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if dials != 1 {
		t.Errorf("expected a single socket, server saw %d", dials)
	}
}

func TestManagerAnswersPing(t *testing.T) {
	gotPong := make(chan struct{})
	url := wsServer(t, func(conn *websocket.Conn) {
		conn.WriteJSON(map[string]string{"type": "ping"})
		var msg map[string]string
		if err := conn.ReadJSON(&msg); err != nil {
			t.Errorf("reading pong failed: %v", err)
			return
		}
		if msg["type"] != "pong" {
			t.Errorf("expected pong, got %v", msg)
		}
		close(gotPong)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	rec := newActionRecorder()
	m := NewManager(url, nil)
	m.RegisterHandler(rec.handle)
	defer m.Disconnect()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	select {
	case <-gotPong:
	case <-time.After(5 * time.Second):
		t.Fatal("server never received a pong")
	}

	// Heartbeats must never surface as actions.
	for _, a := range rec.snapshot() {
		if u, ok := a.(events.Unknown); ok && u.Type == "ping" {
			t.Error("ping leaked to the handler")
		}
	}
}

func TestManagerDropsMalformedEvents(t *testing.T) {
	url := wsServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte("not json at all"))
		conn.WriteJSON(map[string]any{"type": "tool_execution", "job_id": "j1", "tool": "RAGRetriever", "status": "running"})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	rec := newActionRecorder()
	m := NewManager(url, nil)
	m.RegisterHandler(rec.handle)
	defer m.Disconnect()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	// The valid event after the garbage still arrives; the garbage never does.
	rec.wait(t, func(a events.Action) bool {
		_, ok := a.(events.ToolExecution)
		return ok
	})
}

func TestManagerReplaysChannelsOnReconnect(t *testing.T) {
	var mu sync.Mutex
	conns := 0
	secondJoin := make(chan string, 1)

	url := wsServer(t, func(conn *websocket.Conn) {
		mu.Lock()
		conns++
		n := conns
		mu.Unlock()

		if n == 1 {
			// Wait for the initial join, then drop the connection abruptly to
			// trigger the reconnect path.
			conn.ReadMessage()
			conn.Close()
			return
		}

		var msg channelMsg
		if err := conn.ReadJSON(&msg); err == nil && msg.Type == "join_channel" {
			secondJoin <- msg.JobID
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	rec := newActionRecorder()
	m := NewManager(url, nil, WithBackoff(BackoffConfig{
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    100 * time.Millisecond,
		MaxAttempts: 10,
	}))
	m.RegisterHandler(rec.handle)
	defer m.Disconnect()

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if err := m.JoinChannel("j1"); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	select {
	case jobID := <-secondJoin:
		if jobID != "j1" {
			t.Errorf("replayed wrong channel: %q", jobID)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("subscription was never replayed after reconnect")
	}

	if got := m.Channels(); len(got) != 1 || got[0] != "j1" {
		t.Errorf("tracked channels wrong: %v", got)
	}
}

func TestManagerManualDisconnectDoesNotReconnect(t *testing.T) {
	var mu sync.Mutex
	conns := 0
	url := wsServer(t, func(conn *websocket.Conn) {
		mu.Lock()
		conns++
		mu.Unlock()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	m := NewManager(url, nil, WithBackoff(BackoffConfig{
		BaseDelay:   5 * time.Millisecond,
		MaxDelay:    20 * time.Millisecond,
		MaxAttempts: 5,
	}))
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	m.Disconnect()

	// Give any stray reconnect timer a chance to fire.
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if conns != 1 {
		t.Errorf("manual disconnect must not reconnect, server saw %d connections", conns)
	}
}
