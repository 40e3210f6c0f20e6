// ABOUTME: Client-to-server websocket frame shapes and event names
// ABOUTME: Every frame in either direction is {"event": name, "data": payload}

package hub

import (
	"encoding/json"

	"github.com/2389/dm-relay/internal/conversation"
)

// Client-to-server event names.
const (
	EventRequestThread  = "request-thread"
	EventSendMessage    = "send-message"
	EventRequestSidebar = "request-sidebar"
	EventMarkSeen       = "mark-seen"
)

// Error codes produced by the session layer itself. Service errors map
// through conversation.ErrorCode.
const (
	CodeUnauthenticated = "unauthenticated"
	CodeBadRequest      = "bad_request"
	CodeUnknownEvent    = "unknown_event"
)

// inboundFrame is one decoded client frame; Data is parsed per event.
type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type peerRequest struct {
	PeerID string `json:"peer_id"`
}

type sendRequest struct {
	ReceiverID string `json:"receiver_id"`
	conversation.Content
}

func errorEvent(code, message, requestEvent string) conversation.Event {
	return conversation.Event{
		Name: conversation.EventError,
		Data: conversation.ErrorPayload{
			Code:         code,
			Message:      message,
			RequestEvent: requestEvent,
		},
	}
}
