// ABOUTME: Store interfaces and data types for dm-relay persistence
// ABOUTME: Defines User, Conversation, Message and the interfaces the relay reads and writes through

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrSamePair is returned when a conversation is requested between a user and itself
var ErrSamePair = errors.New("conversation requires two distinct users")

// User is the read-only identity record owned by the external user service.
type User struct {
	ID         string
	Name       string
	Email      string
	ProfilePic string
	CreatedAt  time.Time
}

// Conversation is the durable record for one unordered pair of users.
// SenderID/ReceiverID only record who started it; lookups ignore the order.
type Conversation struct {
	ID         string
	SenderID   string
	ReceiverID string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Participants returns both user IDs of the conversation.
func (c *Conversation) Participants() [2]string {
	return [2]string{c.SenderID, c.ReceiverID}
}

// Has reports whether userID is one of the two participants.
func (c *Conversation) Has(userID string) bool {
	return c.SenderID == userID || c.ReceiverID == userID
}

// Peer returns the participant that is not userID.
func (c *Conversation) Peer(userID string) string {
	if c.SenderID == userID {
		return c.ReceiverID
	}
	return c.SenderID
}

// Message is a single chat message. Everything except Seen is immutable once
// appended, and Seen only ever goes from false to true.
type Message struct {
	ID             string
	Seq            int64 // assigned by the store on append, strictly increasing
	ConversationID string
	AuthorID       string
	Text           string
	ImageURL       string
	VideoURL       string
	Seen           bool
	CreatedAt      time.Time
}

// PairKey returns the two user IDs in canonical (sorted) order.
func PairKey(a, b string) (low, high string) {
	if a < b {
		return a, b
	}
	return b, a
}

// UserStore resolves identities for the relay. Profile CRUD lives elsewhere;
// UpsertUser exists for bootstrap tooling and tests.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*User, error)
	UpsertUser(ctx context.Context, user *User) error
}

// ConversationStore holds conversations and their ordered message lists.
type ConversationStore interface {
	// FindConversation returns the conversation for the unordered pair, or ErrNotFound.
	FindConversation(ctx context.Context, a, b string) (*Conversation, error)

	// FindOrCreateConversation returns the pair's conversation, creating it if needed.
	// Concurrent calls for the same pair always observe the same record.
	FindOrCreateConversation(ctx context.Context, senderID, receiverID string) (*Conversation, error)

	// ListConversationsForUser returns every conversation userID participates in.
	ListConversationsForUser(ctx context.Context, userID string) ([]*Conversation, error)

	// AppendMessage stores msg at the end of its conversation and sets msg.Seq.
	AppendMessage(ctx context.Context, msg *Message) error

	// ListMessages returns the conversation's messages in append order.
	ListMessages(ctx context.Context, conversationID string) ([]*Message, error)

	// MarkSeen flips seen for unseen messages authored by authorID and returns
	// how many rows changed.
	MarkSeen(ctx context.Context, conversationID, authorID string) (int64, error)

	// ClearMessages deletes every message of the conversation and returns the count.
	ClearMessages(ctx context.Context, conversationID string) (int64, error)
}

// Store is everything the relay needs from persistence.
type Store interface {
	UserStore
	ConversationStore

	// Ping reports whether the backing database is reachable
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}
