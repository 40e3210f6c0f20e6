// ABOUTME: Outbound event names and JSON payload shapes pushed to connected clients
// ABOUTME: Converts store records into the wire representation

package conversation

import (
	"time"

	"github.com/samber/lo"

	"github.com/2389/dm-relay/internal/store"
)

// Server-to-client event names.
const (
	EventPresenceUpdate = "presence-update"
	EventThreadUpdate   = "thread-update"
	EventSidebarUpdate  = "sidebar-update"
	EventPeerProfile    = "peer-profile"
	EventError          = "error"
)

// MessagePayload is one message as clients see it.
type MessagePayload struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	AuthorID       string    `json:"author_id"`
	Text           string    `json:"text,omitempty"`
	ImageURL       string    `json:"image_url,omitempty"`
	VideoURL       string    `json:"video_url,omitempty"`
	Seen           bool      `json:"seen"`
	CreatedAt      time.Time `json:"created_at"`
}

// ThreadPayload is the full, ordered message list of one conversation.
// ConversationID is empty when the pair has never exchanged a message.
type ThreadPayload struct {
	ConversationID string           `json:"conversation_id"`
	PeerIDs        [2]string        `json:"peer_ids"`
	Messages       []MessagePayload `json:"messages"`
}

// PeerProfile is the public view of the other participant.
type PeerProfile struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	ProfilePic string `json:"profile_pic,omitempty"`
	Online     bool   `json:"online"`
}

// Summary is one sidebar row from a viewer's point of view.
type Summary struct {
	ConversationID string          `json:"conversation_id"`
	Peer           PeerProfile     `json:"peer"`
	LastMessage    *MessagePayload `json:"last_message"`
	UnseenCount    int             `json:"unseen_count"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ThreadView is what a client gets when it opens a conversation with a peer.
type ThreadView struct {
	Peer   PeerProfile
	Thread ThreadPayload
}

// ErrorPayload is sent to a single session when one of its requests fails.
type ErrorPayload struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	RequestEvent string `json:"request_event,omitempty"`
}

func newMessagePayload(m *store.Message) MessagePayload {
	return MessagePayload{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		AuthorID:       m.AuthorID,
		Text:           m.Text,
		ImageURL:       m.ImageURL,
		VideoURL:       m.VideoURL,
		Seen:           m.Seen,
		CreatedAt:      m.CreatedAt,
	}
}

func newThreadPayload(conversationID string, a, b string, msgs []*store.Message) ThreadPayload {
	low, high := store.PairKey(a, b)
	return ThreadPayload{
		ConversationID: conversationID,
		PeerIDs:        [2]string{low, high},
		Messages: lo.Map(msgs, func(m *store.Message, _ int) MessagePayload {
			return newMessagePayload(m)
		}),
	}
}

func newPeerProfile(u *store.User, online bool) PeerProfile {
	return PeerProfile{
		ID:         u.ID,
		Name:       u.Name,
		Email:      u.Email,
		ProfilePic: u.ProfilePic,
		Online:     online,
	}
}
