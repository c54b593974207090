package state

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/Parth354/COT-Geospatial/internal/events"
)

const subscriberBuffer = 64

// Reduce is the root reducer: a pure, total function from (state, action) to
// the next state. Slices apply in a fixed order — job, ui, system — and only
// communicate through the state they already produced.
func Reduce(s AppState, a events.Action) AppState {
	switch a.(type) {
	case events.StateReset:
		return Initial()
	case events.Unknown:
		return s
	}
	s.Job = reduceJob(s.Job, a)
	s.UI = reduceUI(s.UI, a)
	s.System = reduceSystem(s.System, a)
	return s
}

// Store owns the single AppState snapshot. Every Dispatch runs the root
// reducer to completion under the store lock, replaces the snapshot wholesale
// and fans the new value out to subscribers. Actions apply strictly in the
// order Dispatch is entered; there is no batching or reordering.
type Store struct {
	mu    sync.Mutex
	state AppState

	subMu sync.RWMutex
	subs  map[chan AppState]struct{}

	logger *log.Logger
}

// NewStore creates a store seeded with the initial state. Construct one per
// application (or per test); there is deliberately no package-level instance.
func NewStore(logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{
		state:  Initial(),
		subs:   make(map[chan AppState]struct{}),
		logger: logger,
	}
}

// Dispatch applies one action and publishes the resulting snapshot.
func (s *Store) Dispatch(a events.Action) {
	if a == nil {
		return
	}
	if u, ok := a.(events.Unknown); ok {
		s.logger.Debug("ignoring unknown server event", "type", u.Type)
	}

	// Publishing under the store lock keeps subscriber delivery in the same
	// order the reducers ran; sends are non-blocking so no consumer can stall
	// a dispatch.
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Reduce(s.state, a)
	s.publish(s.state)
}

// State returns the current snapshot. The returned value is safe to hold
// indefinitely; later dispatches never mutate it.
func (s *Store) State() AppState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe returns a channel receiving every snapshot produced after the
// call. A slow consumer drops intermediate snapshots rather than blocking
// dispatch. The subscription ends when ctx is cancelled.
func (s *Store) Subscribe(ctx context.Context) <-chan AppState {
	ch := make(chan AppState, subscriberBuffer)

	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()

	go func() {
		<-ctx.Done()
		s.subMu.Lock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
		s.subMu.Unlock()
	}()

	return ch
}

func (s *Store) publish(snapshot AppState) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for ch := range s.subs {
		select {
		case ch <- snapshot:
		default:
			s.logger.Warn("subscriber channel full, dropping snapshot")
		}
	}
}
