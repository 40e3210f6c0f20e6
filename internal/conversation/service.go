// ABOUTME: Conversation service: routes messages, builds sidebars and thread views, marks seen, clears
// ABOUTME: The store is written first; live updates to participants follow and never fail the operation

package conversation

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"github.com/2389/dm-relay/internal/dedupe"
	"github.com/2389/dm-relay/internal/metrics"
	"github.com/2389/dm-relay/internal/store"
)

// persistTimeout bounds a write once it has started. The caller's
// cancellation does not reach it.
const persistTimeout = 5 * time.Second

// Validation errors. Both wrap ErrValidation.
var (
	ErrValidation       = errors.New("validation failed")
	ErrSelfMessage      = fmt.Errorf("%w: cannot message yourself", ErrValidation)
	ErrInvalidContent   = fmt.Errorf("%w: invalid message content", ErrValidation)
	ErrDuplicateMessage = errors.New("duplicate client message id")
)

// Store is what the service needs from persistence.
type Store interface {
	store.UserStore
	store.ConversationStore
}

// Publisher delivers an event to every live connection of a user.
type Publisher interface {
	Publish(userID string, ev Event)
}

// OnlineChecker answers presence questions for peer profiles.
type OnlineChecker interface {
	IsOnline(userID string) bool
}

// Content is the body of a send-message request.
type Content struct {
	Text        string `json:"text" validate:"max=4000"`
	ImageURL    string `json:"image_url" validate:"omitempty,http_url"`
	VideoURL    string `json:"video_url" validate:"omitempty,http_url"`
	ClientMsgID string `json:"client_msg_id" validate:"omitempty,max=128"`
}

// Service is the single path through which conversations change.
type Service struct {
	store    Store
	pub      Publisher
	online   OnlineChecker
	dedupe   *dedupe.Cache
	validate *validator.Validate
	now      func() time.Time
	logger   *slog.Logger
}

// New creates a Service. dd may be nil to disable retry dedupe.
func New(st Store, pub Publisher, online OnlineChecker, dd *dedupe.Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    st,
		pub:      pub,
		online:   online,
		dedupe:   dd,
		validate: validator.New(),
		now:      time.Now,
		logger:   logger.With("component", "conversation"),
	}
}

func (s *Service) validateContent(c *Content) error {
	c.Text = strings.TrimSpace(c.Text)
	c.ImageURL = strings.TrimSpace(c.ImageURL)
	c.VideoURL = strings.TrimSpace(c.VideoURL)

	if err := s.validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s failed %q", ErrInvalidContent, verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidContent, err)
	}
	if c.Text == "" && c.ImageURL == "" && c.VideoURL == "" {
		return fmt.Errorf("%w: text, image or video required", ErrInvalidContent)
	}
	return nil
}

// Send stores a message from senderID to receiverID, creating the pair's
// conversation on first contact, and pushes the refreshed thread and
// sidebars to both participants.
//
// Errors:
//   - ErrSelfMessage when sender and receiver are the same user
//   - ErrInvalidContent when the content fails validation
//   - store.ErrNotFound when the receiver does not exist
//   - ErrDuplicateMessage when ClientMsgID was already accepted for this sender
//   - any other error is a storage failure
func (s *Service) Send(ctx context.Context, senderID, receiverID string, content Content) (*store.Message, error) {
	if receiverID == "" {
		return nil, fmt.Errorf("%w: receiver_id is required", ErrValidation)
	}
	if senderID == receiverID {
		return nil, ErrSelfMessage
	}
	if err := s.validateContent(&content); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if _, err := s.store.GetUser(ctx, receiverID); err != nil {
		return nil, fmt.Errorf("receiver %s: %w", receiverID, err)
	}

	var claimKey string
	if s.dedupe != nil && content.ClientMsgID != "" {
		claimKey = dedupe.Key(senderID, content.ClientMsgID)
		if !s.dedupe.Claim(claimKey) {
			s.logger.Debug("ignoring retried send", "sender_id", senderID, "client_msg_id", content.ClientMsgID)
			return nil, ErrDuplicateMessage
		}
	}

	msg, conv, err := s.persist(ctx, senderID, receiverID, content)
	if err != nil {
		if claimKey != "" {
			s.dedupe.Release(claimKey)
		}
		return nil, err
	}

	metrics.MessagesSent.Inc()
	s.logger.Debug("message stored",
		"conversation_id", conv.ID,
		"message_id", msg.ID,
		"sender_id", senderID,
		"receiver_id", receiverID)

	s.publishThread(ctx, conv)
	s.publishSummaries(ctx, senderID, receiverID)

	return msg, nil
}

func (s *Service) persist(ctx context.Context, senderID, receiverID string, content Content) (*store.Message, *store.Conversation, error) {
	conv, err := s.store.FindOrCreateConversation(ctx, senderID, receiverID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving conversation: %w", err)
	}

	msg := &store.Message{
		ConversationID: conv.ID,
		AuthorID:       senderID,
		Text:           content.Text,
		ImageURL:       content.ImageURL,
		VideoURL:       content.VideoURL,
		CreatedAt:      s.now(),
	}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		return nil, nil, fmt.Errorf("appending message: %w", err)
	}
	return msg, conv, nil
}

// ListConversations returns viewerID's sidebar: one summary per
// conversation, most recent activity first, ties broken by conversation ID.
// A viewer with no conversations gets an empty, non-nil slice.
func (s *Service) ListConversations(ctx context.Context, viewerID string) ([]Summary, error) {
	convs, err := s.store.ListConversationsForUser(ctx, viewerID)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}

	summaries := make([]Summary, 0, len(convs))
	for _, conv := range convs {
		summary, err := s.summarize(ctx, viewerID, conv)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}

	slices.SortFunc(summaries, func(a, b Summary) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ConversationID, b.ConversationID)
	})
	return summaries, nil
}

func (s *Service) summarize(ctx context.Context, viewerID string, conv *store.Conversation) (Summary, error) {
	peerID := conv.Peer(viewerID)
	peer, err := s.peerProfile(ctx, peerID)
	if errors.Is(err, store.ErrNotFound) {
		// Profile gone from the user service; keep the row addressable.
		peer = PeerProfile{ID: peerID, Online: s.isOnline(peerID)}
	} else if err != nil {
		return Summary{}, err
	}

	msgs, err := s.store.ListMessages(ctx, conv.ID)
	if err != nil {
		return Summary{}, fmt.Errorf("listing messages: %w", err)
	}

	summary := Summary{
		ConversationID: conv.ID,
		Peer:           peer,
		UnseenCount: lo.CountBy(msgs, func(m *store.Message) bool {
			return m.AuthorID == peerID && !m.Seen
		}),
		UpdatedAt: conv.UpdatedAt,
	}
	if last := lo.LastOrEmpty(msgs); last != nil {
		payload := newMessagePayload(last)
		summary.LastMessage = &payload
		summary.UpdatedAt = last.CreatedAt
	}
	return summary, nil
}

// MarkSeen marks every message peerID sent to viewerID as seen. Only the
// pair's own conversation is touched. With no conversation it does nothing.
func (s *Service) MarkSeen(ctx context.Context, viewerID, peerID string) error {
	if viewerID == peerID {
		return ErrSelfMessage
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	conv, err := s.store.FindConversation(ctx, viewerID, peerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("finding conversation: %w", err)
	}

	n, err := s.store.MarkSeen(ctx, conv.ID, peerID)
	if err != nil {
		return fmt.Errorf("marking seen: %w", err)
	}
	s.logger.Debug("messages marked seen", "conversation_id", conv.ID, "viewer_id", viewerID, "count", n)

	s.publishThread(ctx, conv)
	s.publishSummaries(ctx, viewerID, peerID)
	return nil
}

// ClearConversation deletes every message between actorID and peerID. The
// conversation record itself stays. Returns store.ErrNotFound when the pair
// has no conversation.
func (s *Service) ClearConversation(ctx context.Context, actorID, peerID string) error {
	if actorID == peerID {
		return ErrSelfMessage
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	conv, err := s.store.FindConversation(ctx, actorID, peerID)
	if err != nil {
		return fmt.Errorf("finding conversation: %w", err)
	}

	n, err := s.store.ClearMessages(ctx, conv.ID)
	if err != nil {
		return fmt.Errorf("clearing messages: %w", err)
	}
	s.logger.Info("conversation cleared", "conversation_id", conv.ID, "actor_id", actorID, "deleted", n)

	ev := Event{Name: EventThreadUpdate, Data: newThreadPayload(conv.ID, actorID, peerID, nil)}
	s.pub.Publish(actorID, ev)
	s.pub.Publish(peerID, ev)
	s.publishSummaries(ctx, actorID, peerID)
	return nil
}

// Thread returns the peer's profile and the full message list between
// viewerID and peerID. Returns store.ErrNotFound for an unknown peer.
func (s *Service) Thread(ctx context.Context, viewerID, peerID string) (*ThreadView, error) {
	peer, err := s.peerProfile(ctx, peerID)
	if err != nil {
		return nil, err
	}

	view := &ThreadView{
		Peer:   peer,
		Thread: newThreadPayload("", viewerID, peerID, nil),
	}

	conv, err := s.store.FindConversation(ctx, viewerID, peerID)
	if errors.Is(err, store.ErrNotFound) {
		return view, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding conversation: %w", err)
	}

	msgs, err := s.store.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	view.Thread = newThreadPayload(conv.ID, viewerID, peerID, msgs)
	return view, nil
}

func (s *Service) peerProfile(ctx context.Context, peerID string) (PeerProfile, error) {
	u, err := s.store.GetUser(ctx, peerID)
	if err != nil {
		return PeerProfile{}, fmt.Errorf("peer %s: %w", peerID, err)
	}
	return newPeerProfile(u, s.isOnline(peerID)), nil
}

func (s *Service) isOnline(userID string) bool {
	return s.online != nil && s.online.IsOnline(userID)
}

// publishThread re-reads the conversation and pushes it to both participants.
func (s *Service) publishThread(ctx context.Context, conv *store.Conversation) {
	msgs, err := s.store.ListMessages(ctx, conv.ID)
	if err != nil {
		s.logger.Error("reloading thread for fan-out", "conversation_id", conv.ID, "error", err)
		return
	}
	ev := Event{Name: EventThreadUpdate, Data: newThreadPayload(conv.ID, conv.SenderID, conv.ReceiverID, msgs)}
	for _, userID := range conv.Participants() {
		s.pub.Publish(userID, ev)
	}
}

// publishSummaries recomputes and pushes each user's sidebar.
func (s *Service) publishSummaries(ctx context.Context, userIDs ...string) {
	for _, userID := range userIDs {
		summaries, err := s.ListConversations(ctx, userID)
		if err != nil {
			s.logger.Error("computing sidebar for fan-out", "user_id", userID, "error", err)
			continue
		}
		s.pub.Publish(userID, Event{Name: EventSidebarUpdate, Data: summaries})
	}
}

// ErrorCode maps a service error onto the wire error code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrSelfMessage):
		return "self_message"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	default:
		return "storage"
	}
}
