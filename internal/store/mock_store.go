// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite while keeping the same pair/seq semantics

package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	users         map[string]*User         // keyed by user ID
	conversations map[string]*Conversation // keyed by conversation ID
	pairIndex     map[string]string        // keyed by "low:high" -> conversation ID
	messages      map[string][]*Message    // keyed by conversation ID, append order
	seq           int64

	// Err, when set, is returned by every operation (simulates an unavailable database)
	Err error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		users:         make(map[string]*User),
		conversations: make(map[string]*Conversation),
		pairIndex:     make(map[string]string),
		messages:      make(map[string][]*Message),
	}
}

// SetErr makes every subsequent call fail with err (nil clears it).
func (m *MockStore) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Err = err
}

func pairIndexKey(a, b string) string {
	low, high := PairKey(a, b)
	return low + ":" + high
}

// GetUser retrieves a user by ID.
func (m *MockStore) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.Err != nil {
		return nil, m.Err
	}
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *u
	return &result, nil
}

// UpsertUser stores a copy of user.
func (m *MockStore) UpsertUser(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	u := *user
	m.users[u.ID] = &u
	return nil
}

// FindConversation looks the pair up in either order.
func (m *MockStore) FindConversation(ctx context.Context, a, b string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.Err != nil {
		return nil, m.Err
	}
	return m.findLocked(a, b)
}

func (m *MockStore) findLocked(a, b string) (*Conversation, error) {
	id, ok := m.pairIndex[pairIndexKey(a, b)]
	if !ok {
		return nil, ErrNotFound
	}
	result := *m.conversations[id]
	return &result, nil
}

// FindOrCreateConversation returns the existing pair or creates it under the write lock.
func (m *MockStore) FindOrCreateConversation(ctx context.Context, senderID, receiverID string) (*Conversation, error) {
	if senderID == receiverID {
		return nil, ErrSamePair
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	if c, err := m.findLocked(senderID, receiverID); err == nil {
		return c, nil
	}

	now := time.Now()
	c := &Conversation{
		ID:         uuid.New().String(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.conversations[c.ID] = c
	m.pairIndex[pairIndexKey(senderID, receiverID)] = c.ID

	result := *c
	return &result, nil
}

// ListConversationsForUser returns the user's conversations, most recently updated first.
func (m *MockStore) ListConversationsForUser(ctx context.Context, userID string) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.Err != nil {
		return nil, m.Err
	}

	convs := []*Conversation{}
	for _, c := range m.conversations {
		if c.Has(userID) {
			cc := *c
			convs = append(convs, &cc)
		}
	}
	sort.Slice(convs, func(i, j int) bool {
		if !convs[i].UpdatedAt.Equal(convs[j].UpdatedAt) {
			return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
		}
		return convs[i].ID < convs[j].ID
	})
	return convs, nil
}

// AppendMessage stores a copy of msg and assigns its Seq.
func (m *MockStore) AppendMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	c, ok := m.conversations[msg.ConversationID]
	if !ok {
		return ErrNotFound
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	m.seq++
	msg.Seq = m.seq
	c.UpdatedAt = msg.CreatedAt

	msgCopy := *msg
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], &msgCopy)
	return nil
}

// ListMessages returns copies of the conversation's messages in append order.
func (m *MockStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.Err != nil {
		return nil, m.Err
	}

	msgs := m.messages[conversationID]
	result := make([]*Message, len(msgs))
	for i, msg := range msgs {
		msgCopy := *msg
		result[i] = &msgCopy
	}
	return result, nil
}

// MarkSeen flips seen on authorID's unseen messages.
func (m *MockStore) MarkSeen(ctx context.Context, conversationID, authorID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return 0, m.Err
	}

	var n int64
	for _, msg := range m.messages[conversationID] {
		if msg.AuthorID == authorID && !msg.Seen {
			msg.Seen = true
			n++
		}
	}
	return n, nil
}

// ClearMessages drops every message in the conversation.
func (m *MockStore) ClearMessages(ctx context.Context, conversationID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return 0, m.Err
	}
	n := int64(len(m.messages[conversationID]))
	delete(m.messages, conversationID)
	return n, nil
}

// ConversationCount returns how many conversation records exist.
func (m *MockStore) ConversationCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conversations)
}

// Ping reports the injected error, if any.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return errors.Join(errors.New("mock store unavailable"), m.Err)
	}
	return nil
}

// Close is a no-op for the mock.
func (m *MockStore) Close() error {
	return nil
}

// Compile-time check
var _ Store = (*MockStore)(nil)
