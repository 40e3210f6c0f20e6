// ABOUTME: Session manager: authenticates websocket connections and tracks presence
// ABOUTME: Presence changes and their broadcast share one lock so updates go out in order

package hub

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/dm-relay/internal/auth"
	"github.com/2389/dm-relay/internal/conversation"
	"github.com/2389/dm-relay/internal/metrics"
	"github.com/2389/dm-relay/internal/presence"
	"github.com/2389/dm-relay/internal/store"
)

// Defaults applied to zero Config fields.
const (
	DefaultPongWait        = 20 * time.Second
	DefaultWriteWait       = 10 * time.Second
	DefaultSendBuffer      = 256
	DefaultMaxMessageBytes = 64 * 1024
)

// Config tunes the websocket transport.
type Config struct {
	PingInterval    time.Duration
	PongWait        time.Duration
	WriteWait       time.Duration
	SendBuffer      int
	MaxMessageBytes int64
	AllowedOrigins  []string // empty allows any origin
}

func (c Config) withDefaults() Config {
	if c.PongWait <= 0 {
		c.PongWait = DefaultPongWait
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
	}
	if c.WriteWait <= 0 {
		c.WriteWait = DefaultWriteWait
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = DefaultSendBuffer
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = DefaultMaxMessageBytes
	}
	return c
}

// ErrShuttingDown is returned by Connect once Shutdown has begun.
var ErrShuttingDown = errors.New("hub is shutting down")

// ConversationService is what sessions call on behalf of their user.
type ConversationService interface {
	Send(ctx context.Context, senderID, receiverID string, content conversation.Content) (*store.Message, error)
	ListConversations(ctx context.Context, viewerID string) ([]conversation.Summary, error)
	MarkSeen(ctx context.Context, viewerID, peerID string) error
	Thread(ctx context.Context, viewerID, peerID string) (*conversation.ThreadView, error)
}

// Hub owns every live session.
type Hub struct {
	cfg         Config
	resolver    auth.IdentityResolver
	svc         ConversationService
	broadcaster *conversation.Broadcaster
	presence    *presence.Registry

	// presenceMu orders registry changes with their broadcasts.
	presenceMu sync.Mutex

	mu       sync.Mutex
	sessions map[string]*Session
	bySub    map[string]*Session // broadcaster subscription ID -> session
	closing  bool
	wg       sync.WaitGroup

	logger *slog.Logger
}

// New creates a Hub. Pass nil logger for default.
func New(cfg Config, resolver auth.IdentityResolver, svc ConversationService, bc *conversation.Broadcaster, reg *presence.Registry, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		cfg:         cfg.withDefaults(),
		resolver:    resolver,
		svc:         svc,
		broadcaster: bc,
		presence:    reg,
		sessions:    make(map[string]*Session),
		bySub:       make(map[string]*Session),
		logger:      logger.With("component", "hub"),
	}
	bc.OnOverflow(h.evict)
	return h
}

// Connect authenticates credential and activates a session for its user:
// the session joins the user's delivery group, the user is marked online
// and the new presence list goes to every connection.
//
// Errors from the resolver are returned unchanged; no session exists then.
// After Shutdown has begun Connect returns ErrShuttingDown.
func (h *Hub) Connect(ctx context.Context, credential string) (*Session, error) {
	if h.isClosing() {
		return nil, ErrShuttingDown
	}

	sess := &Session{ID: uuid.New().String()}
	sess.setState(StateConnecting)

	user, err := h.resolver.Resolve(ctx, credential)
	if err != nil {
		metrics.AuthFailures.WithLabelValues(auth.FailureReason(err)).Inc()
		sess.setState(StateClosed)
		return nil, err
	}
	sess.User = user
	sess.setState(StateAuthenticated)

	sess.ctx, sess.cancel = context.WithCancel(context.Background())
	sess.replies = make(chan conversation.Event, h.cfg.SendBuffer)

	h.presenceMu.Lock()
	sess.events, sess.subID = h.broadcaster.Subscribe(sess.ctx, user.ID)
	if !h.register(sess) {
		h.broadcaster.Unsubscribe(user.ID, sess.subID)
		h.presenceMu.Unlock()
		sess.cancel()
		sess.setState(StateClosed)
		return nil, ErrShuttingDown
	}
	_, online := h.presence.Add(user.ID)
	h.broadcaster.PublishAll(conversation.Event{Name: conversation.EventPresenceUpdate, Data: online})
	metrics.UsersOnline.Set(float64(len(online)))
	h.presenceMu.Unlock()

	metrics.ConnectionsActive.Inc()
	sess.setState(StateActive)

	h.logger.Info("session connected", "session_id", sess.ID, "user_id", user.ID)
	return sess, nil
}

// Disconnect closes sess. The user goes offline only when this was their
// last session. Calling it twice is harmless.
func (h *Hub) Disconnect(sess *Session) {
	sess.closeOnce.Do(func() {
		sess.setState(StateClosed)

		h.presenceMu.Lock()
		h.broadcaster.Unsubscribe(sess.User.ID, sess.subID)
		wentOffline, online := h.presence.Remove(sess.User.ID)
		h.broadcaster.PublishAll(conversation.Event{Name: conversation.EventPresenceUpdate, Data: online})
		metrics.UsersOnline.Set(float64(len(online)))
		h.presenceMu.Unlock()

		sess.cancel()

		h.mu.Lock()
		delete(h.sessions, sess.ID)
		delete(h.bySub, sess.subID)
		h.mu.Unlock()

		metrics.ConnectionsActive.Dec()
		h.logger.Info("session disconnected",
			"session_id", sess.ID,
			"user_id", sess.User.ID,
			"went_offline", wentOffline)
	})
}

func (h *Hub) register(sess *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.sessions[sess.ID] = sess
	h.bySub[sess.subID] = sess
	return true
}

func (h *Hub) isClosing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closing
}

// track adds n goroutines to the shutdown wait group. It reports false once
// Shutdown has begun.
func (h *Hub) track(n int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.wg.Add(n)
	return true
}

// evict disconnects the session whose group channel overflowed. The client
// has missed events, so it must reconnect to get a consistent view.
func (h *Hub) evict(userID, subID string) {
	// Connect registers a subscription under presenceMu.
	h.presenceMu.Lock()
	h.mu.Lock()
	sess := h.bySub[subID]
	h.mu.Unlock()
	h.presenceMu.Unlock()

	if sess == nil {
		h.broadcaster.Unsubscribe(userID, subID)
		return
	}
	sess.evicted.Store(true)
	h.logger.Warn("evicting slow session", "session_id", sess.ID, "user_id", userID)
	h.Disconnect(sess)
}

// SessionCount returns the number of active sessions.
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Shutdown disconnects every session and waits for their connections to
// finish, or for ctx to expire.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		h.Disconnect(s)
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("waiting for sessions to close"), ctx.Err())
	}
}
