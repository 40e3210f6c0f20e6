// ABOUTME: Websocket transport for the hub: upgrade, read/write pumps and event dispatch
// ABOUTME: Each connection handles its inbound frames sequentially on its read goroutine

package hub

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"github.com/2389/dm-relay/internal/auth"
	"github.com/2389/dm-relay/internal/conversation"
)

func (h *Hub) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
}

// checkOrigin allows requests with no Origin header (non-browser clients)
// and, when an allow list is configured, only listed browser origins.
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	return lo.Contains(h.cfg.AllowedOrigins, origin)
}

// ServeHTTP upgrades the request and runs the session until the socket closes.
// Authentication failures close the socket with a policy-violation frame.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	sess, err := h.Connect(r.Context(), auth.CredentialFromRequest(r))
	if err != nil {
		code := websocket.ClosePolicyViolation
		reason := auth.FailureReason(err) + " credential"
		switch {
		case errors.Is(err, ErrShuttingDown):
			code, reason = websocket.CloseGoingAway, "server shutting down"
		case !errors.Is(err, auth.ErrMissingCredential) && !errors.Is(err, auth.ErrInvalidCredential):
			code = websocket.CloseInternalServerErr
			reason = "identity lookup failed"
			h.logger.Error("resolving credential", "error", err)
		}
		h.closeWith(conn, code, reason)
		return
	}

	if !h.track(2) {
		h.Disconnect(sess)
		h.closeWith(conn, websocket.CloseGoingAway, "server shutting down")
		return
	}
	go h.writePump(sess, conn)
	go h.readPump(sess, conn)
}

func (h *Hub) closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.cfg.WriteWait))
	_ = conn.Close()
}

func (h *Hub) readPump(sess *Session, conn *websocket.Conn) {
	defer h.wg.Done()
	defer func() {
		h.Disconnect(sess)
		_ = conn.Close()
	}()

	conn.SetReadLimit(h.cfg.MaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket read ended", "session_id", sess.ID, "error", err)
			}
			return
		}
		h.dispatch(sess, data)
	}
}

func (h *Hub) writePump(sess *Session, conn *websocket.Conn) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
		h.wg.Done()
	}()

	write := func(ev conversation.Event) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
		if err := conn.WriteJSON(ev); err != nil {
			h.logger.Debug("websocket write failed", "session_id", sess.ID, "event", ev.Name, "error", err)
			return false
		}
		return true
	}

	events := sess.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if !write(ev) {
				return
			}
		case ev := <-sess.Replies():
			if !write(ev) {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteWait)); err != nil {
				return
			}
		case <-sess.Done():
			code, reason := websocket.CloseGoingAway, "session closed"
			if sess.Evicted() {
				code, reason = websocket.CloseTryAgainLater, "too far behind, reconnect"
			}
			msg := websocket.FormatCloseMessage(code, reason)
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.cfg.WriteWait))
			return
		}
	}
}

// dispatch handles one inbound frame. Errors go back to this session only.
func (h *Hub) dispatch(sess *Session, data []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Event == "" {
		sess.reply(errorEvent(CodeBadRequest, "malformed frame", ""))
		return
	}

	if sess.State() != StateActive {
		sess.reply(errorEvent(CodeUnauthenticated, "session is not active", frame.Event))
		return
	}

	ctx := sess.ctx
	userID := sess.User.ID

	switch frame.Event {
	case EventRequestThread:
		var req peerRequest
		if !h.decode(sess, frame, &req) || !h.requirePeer(sess, frame.Event, req.PeerID) {
			return
		}
		view, err := h.svc.Thread(ctx, userID, req.PeerID)
		if err != nil {
			h.replyErr(sess, frame.Event, err)
			return
		}
		sess.reply(conversation.Event{Name: conversation.EventPeerProfile, Data: view.Peer})
		sess.reply(conversation.Event{Name: conversation.EventThreadUpdate, Data: view.Thread})

	case EventSendMessage:
		var req sendRequest
		if !h.decode(sess, frame, &req) {
			return
		}
		_, err := h.svc.Send(ctx, userID, req.ReceiverID, req.Content)
		if errors.Is(err, conversation.ErrDuplicateMessage) {
			return
		}
		if err != nil {
			h.replyErr(sess, frame.Event, err)
		}

	case EventRequestSidebar:
		summaries, err := h.svc.ListConversations(ctx, userID)
		if err != nil {
			h.replyErr(sess, frame.Event, err)
			return
		}
		sess.reply(conversation.Event{Name: conversation.EventSidebarUpdate, Data: summaries})

	case EventMarkSeen:
		var req peerRequest
		if !h.decode(sess, frame, &req) || !h.requirePeer(sess, frame.Event, req.PeerID) {
			return
		}
		if err := h.svc.MarkSeen(ctx, userID, req.PeerID); err != nil {
			h.replyErr(sess, frame.Event, err)
		}

	default:
		sess.reply(errorEvent(CodeUnknownEvent, "unknown event "+frame.Event, frame.Event))
	}
}

func (h *Hub) decode(sess *Session, frame inboundFrame, v any) bool {
	if len(frame.Data) == 0 {
		sess.reply(errorEvent(CodeBadRequest, "missing data", frame.Event))
		return false
	}
	if err := json.Unmarshal(frame.Data, v); err != nil {
		sess.reply(errorEvent(CodeBadRequest, "invalid data: "+err.Error(), frame.Event))
		return false
	}
	return true
}

func (h *Hub) requirePeer(sess *Session, event, peerID string) bool {
	if peerID == "" {
		sess.reply(errorEvent(CodeBadRequest, "peer_id is required", event))
		return false
	}
	return true
}

func (h *Hub) replyErr(sess *Session, event string, err error) {
	code := conversation.ErrorCode(err)
	msg := err.Error()
	if code == "storage" {
		h.logger.Error("handling event", "event", event, "session_id", sess.ID, "error", err)
		msg = "internal storage error"
	}
	sess.reply(errorEvent(code, msg, event))
}
