// ABOUTME: In-memory fan-out broadcaster holding one delivery group per user
// ABOUTME: Every live connection of a user subscribes; publishing never blocks the caller

package conversation

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/2389/dm-relay/internal/metrics"
)

// DefaultSubscriberBuffer is the per-subscriber channel size used when the
// caller passes a non-positive size.
const DefaultSubscriberBuffer = 256

// Event is one outbound frame: an event name and its JSON payload.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data"`
}

// OverflowFunc is called once for a subscription whose buffer filled up.
type OverflowFunc func(userID, subID string)

type subscriber struct {
	ch         chan Event
	overflowed atomic.Bool
}

// Broadcaster provides per-user pub/sub. Subscribers register under a user
// ID and receive every event published to that user.
//
// A subscriber that cannot keep up is never sent a later event after a
// dropped one: it stops receiving and is handed to the overflow handler,
// which by default unsubscribes it.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]*subscriber // userID -> subID -> sub
	bufferSize  int
	closed      bool
	onOverflow  OverflowFunc
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(bufferSize int, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	if bufferSize <= 0 {
		bufferSize = DefaultSubscriberBuffer
	}
	b := &Broadcaster{
		subscribers: make(map[string]map[string]*subscriber),
		bufferSize:  bufferSize,
		logger:      logger.With("component", "broadcaster"),
	}
	b.onOverflow = b.Unsubscribe
	return b
}

// OnOverflow replaces the overflow handler. It runs on its own goroutine,
// so it may call back into the broadcaster. Set it before publishing.
func (b *Broadcaster) OnOverflow(fn OverflowFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if fn == nil {
		fn = b.Unsubscribe
	}
	b.onOverflow = fn
}

// Subscribe joins userID's group. It returns the receive channel and a
// subscription ID for Unsubscribe. The subscription is removed when ctx is
// cancelled. After Close the returned channel is already closed.
func (b *Broadcaster) Subscribe(ctx context.Context, userID string) (<-chan Event, string) {
	subID := uuid.New().String()
	ch := make(chan Event, b.bufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := b.subscribers[userID]; !ok {
		b.subscribers[userID] = make(map[string]*subscriber)
	}
	b.subscribers[userID][subID] = &subscriber{ch: ch}
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "user_id", userID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(userID, subID)
	}()

	return ch, subID
}

// Publish delivers ev to every subscriber of userID. A user with no live
// connection is skipped.
func (b *Broadcaster) Publish(userID string, ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for subID, sub := range b.subscribers[userID] {
		b.trySend(userID, subID, sub, ev)
	}
}

// PublishAll delivers ev to every subscriber of every user.
func (b *Broadcaster) PublishAll(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for userID, subs := range b.subscribers {
		for subID, sub := range subs {
			b.trySend(userID, subID, sub, ev)
		}
	}
}

// trySend must run under b.mu so Unsubscribe cannot close sub.ch mid-send.
func (b *Broadcaster) trySend(userID, subID string, sub *subscriber, ev Event) {
	if sub.overflowed.Load() {
		return
	}
	select {
	case sub.ch <- ev:
		return
	default:
	}
	metrics.EventsDropped.WithLabelValues(ev.Name).Inc()
	if !sub.overflowed.CompareAndSwap(false, true) {
		return
	}
	b.logger.Warn("subscriber overflowed, evicting", "user_id", userID, "sub_id", subID, "event", ev.Name)
	go b.onOverflow(userID, subID)
}

// Subscribers returns how many live subscriptions userID has.
func (b *Broadcaster) Subscribers(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[userID])
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(userID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[userID]
	if !ok {
		return
	}
	sub, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(sub.ch)
	if len(subs) == 0 {
		delete(b.subscribers, userID)
	}

	b.logger.Debug("subscriber removed", "user_id", userID, "sub_id", subID)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for userID, subs := range b.subscribers {
		for subID, sub := range subs {
			close(sub.ch)
			delete(subs, subID)
		}
		delete(b.subscribers, userID)
	}
	b.closed = true

	b.logger.Debug("broadcaster closed")
}
