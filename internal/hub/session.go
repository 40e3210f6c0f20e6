// ABOUTME: One authenticated websocket connection and its lifecycle state machine
// ABOUTME: Connecting -> Authenticated -> Active -> Closed; events are only handled while Active

package hub

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/2389/dm-relay/internal/conversation"
	"github.com/2389/dm-relay/internal/metrics"
	"github.com/2389/dm-relay/internal/store"
)

// State is a session's lifecycle position.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is a single live connection of a user. A user may hold several.
type Session struct {
	ID   string
	User *store.User

	state atomic.Int32

	// events carries everything published to the user's group.
	events <-chan conversation.Event
	subID  string

	// replies carries responses meant for this connection only.
	replies chan conversation.Event

	// evicted is set when the session fell too far behind its group.
	evicted atomic.Bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Evicted reports whether the hub closed this session for falling behind.
func (s *Session) Evicted() bool {
	return s.evicted.Load()
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Events returns the channel of group events for this session. It is closed
// when the session disconnects.
func (s *Session) Events() <-chan conversation.Event {
	return s.events
}

// Replies returns the channel of direct responses for this session.
func (s *Session) Replies() <-chan conversation.Event {
	return s.replies
}

// Done is closed when the session disconnects.
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

// reply queues ev for this session without blocking.
func (s *Session) reply(ev conversation.Event) {
	if s.State() == StateClosed {
		return
	}
	select {
	case s.replies <- ev:
	default:
		metrics.EventsDropped.WithLabelValues(ev.Name).Inc()
	}
}
