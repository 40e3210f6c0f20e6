// ABOUTME: REST handlers for sidebar listing, bulk clear and presence
// ABOUTME: All routes here sit behind the bearer-token middleware

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/2389/dm-relay/internal/auth"
	"github.com/2389/dm-relay/internal/conversation"
	"github.com/2389/dm-relay/internal/store"
)

// PresenceResponse is the body of GET /api/presence.
type PresenceResponse struct {
	Online []string `json:"online"`
}

// writeJSON writes v with the given status.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("writing response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.writeJSON(w, status, map[string]string{"error": message})
}

// handleListConversations returns the caller's conversation summaries.
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	user := auth.MustFromContext(r.Context())

	summaries, err := g.conversation.ListConversations(r.Context(), user.ID)
	if err != nil {
		g.logger.Error("listing conversations", "user_id", user.ID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	g.writeJSON(w, http.StatusOK, summaries)
}

// handleClearConversation deletes every message between the caller and peerID.
func (g *Gateway) handleClearConversation(w http.ResponseWriter, r *http.Request) {
	user := auth.MustFromContext(r.Context())
	peerID := r.PathValue("peerID")

	err := g.conversation.ClearConversation(r.Context(), user.ID, peerID)
	switch {
	case err == nil:
		g.writeJSON(w, http.StatusOK, map[string]string{"message": "conversation cleared"})
	case errors.Is(err, store.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, conversation.ErrValidation):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
	default:
		g.logger.Error("clearing conversation", "user_id", user.ID, "peer_id", peerID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to clear conversation")
	}
}

// handlePresence returns the sorted list of online user IDs.
func (g *Gateway) handlePresence(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, PresenceResponse{Online: g.presence.Online()})
}
