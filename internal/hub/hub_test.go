// ABOUTME: End-to-end tests for the session hub over real websocket connections
// ABOUTME: Covers authentication, presence broadcasts, routing, thread requests and error frames

package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/dm-relay/internal/auth"
	"github.com/2389/dm-relay/internal/conversation"
	"github.com/2389/dm-relay/internal/presence"
	"github.com/2389/dm-relay/internal/store"
)

var testSecret = []byte("hub-test-secret-key-32-bytes-ok!")

type testEnv struct {
	hub      *Hub
	server   *httptest.Server
	verifier *auth.JWTVerifier
	presence *presence.Registry
	store    *store.MockStore
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	st := store.NewMockStore()
	ctx := context.Background()
	for _, id := range []string{"alice", "bob", "carol"} {
		require.NoError(t, st.UpsertUser(ctx, &store.User{ID: id, Name: id}))
	}

	verifier, err := auth.NewJWTVerifier(testSecret)
	require.NoError(t, err)

	reg := presence.NewRegistry()
	bc := conversation.NewBroadcaster(64, nil)
	svc := conversation.New(st, bc, reg, nil, nil)
	h := New(cfg, auth.NewResolver(verifier, st, nil), svc, bc, reg, nil)

	server := httptest.NewServer(h)
	t.Cleanup(func() {
		server.Close()
		bc.Close()
	})

	return &testEnv{hub: h, server: server, verifier: verifier, presence: reg, store: st}
}

func (e *testEnv) wsURL(token string) string {
	u := "ws" + strings.TrimPrefix(e.server.URL, "http")
	if token != "" {
		u += "?token=" + token
	}
	return u
}

func (e *testEnv) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	token, err := e.verifier.Generate(userID, time.Hour)
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial(e.wsURL(token), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// readUntil reads frames until one named event arrives.
func readUntil(t *testing.T, conn *websocket.Conn, event string) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var f frame
		err := conn.ReadJSON(&f)
		require.NoError(t, err, "waiting for %s", event)
		if f.Event == event {
			return f
		}
	}
}

// readPresence reads presence updates until one equals want.
func readPresence(t *testing.T, conn *websocket.Conn, want []string) {
	t.Helper()
	for {
		f := readUntil(t, conn, conversation.EventPresenceUpdate)
		var ids []string
		require.NoError(t, json.Unmarshal(f.Data, &ids))
		if assert.ObjectsAreEqual(want, ids) {
			return
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"event": event, "data": data}))
}

func TestHub_RejectsMissingCredential(t *testing.T) {
	env := newTestEnv(t, Config{})

	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL(""), nil)
	require.NoError(t, err)
	defer conn.Close()

	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	assert.Contains(t, closeErr.Text, "missing")
	assert.Equal(t, 0, env.hub.SessionCount())
}

func TestHub_RejectsInvalidCredential(t *testing.T) {
	env := newTestEnv(t, Config{})

	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL("garbage"), nil)
	require.NoError(t, err)
	defer conn.Close()

	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	assert.False(t, env.presence.IsOnline("alice"))
}

func TestHub_PresenceBroadcast(t *testing.T) {
	env := newTestEnv(t, Config{})

	alice := env.dial(t, "alice")
	readPresence(t, alice, []string{"alice"})

	bob := env.dial(t, "bob")
	readPresence(t, bob, []string{"alice", "bob"})
	readPresence(t, alice, []string{"alice", "bob"})

	require.NoError(t, bob.Close())
	readPresence(t, alice, []string{"alice"})
	assert.Eventually(t, func() bool { return !env.presence.IsOnline("bob") }, time.Second, 10*time.Millisecond)
}

func TestHub_SecondTabKeepsUserOnline(t *testing.T) {
	env := newTestEnv(t, Config{})

	observer := env.dial(t, "carol")
	tab1 := env.dial(t, "alice")
	tab2 := env.dial(t, "alice")
	readPresence(t, observer, []string{"alice", "carol"})
	readPresence(t, tab2, []string{"alice", "carol"})

	require.NoError(t, tab1.Close())
	assert.Eventually(t, func() bool { return env.presence.Connections("alice") == 1 }, time.Second, 10*time.Millisecond)
	assert.True(t, env.presence.IsOnline("alice"))
}

func TestHub_SendMessageReachesBothParticipants(t *testing.T) {
	env := newTestEnv(t, Config{})

	alice := env.dial(t, "alice")
	bob := env.dial(t, "bob")
	readPresence(t, alice, []string{"alice", "bob"})

	send(t, alice, EventSendMessage, map[string]string{"receiver_id": "bob", "text": "hi bob"})

	for _, conn := range []*websocket.Conn{alice, bob} {
		f := readUntil(t, conn, conversation.EventThreadUpdate)
		var thread conversation.ThreadPayload
		require.NoError(t, json.Unmarshal(f.Data, &thread))
		require.Len(t, thread.Messages, 1)
		assert.Equal(t, "hi bob", thread.Messages[0].Text)
		assert.Equal(t, "alice", thread.Messages[0].AuthorID)

		f = readUntil(t, conn, conversation.EventSidebarUpdate)
		var sidebar []conversation.Summary
		require.NoError(t, json.Unmarshal(f.Data, &sidebar))
		require.Len(t, sidebar, 1)
	}
}

func TestHub_RequestThread(t *testing.T) {
	env := newTestEnv(t, Config{})

	alice := env.dial(t, "alice")
	env.dial(t, "bob")

	send(t, alice, EventRequestThread, map[string]string{"peer_id": "bob"})

	f := readUntil(t, alice, conversation.EventPeerProfile)
	var peer conversation.PeerProfile
	require.NoError(t, json.Unmarshal(f.Data, &peer))
	assert.Equal(t, "bob", peer.ID)
	assert.True(t, peer.Online)

	f = readUntil(t, alice, conversation.EventThreadUpdate)
	var thread conversation.ThreadPayload
	require.NoError(t, json.Unmarshal(f.Data, &thread))
	assert.Empty(t, thread.Messages)
	assert.Equal(t, [2]string{"alice", "bob"}, thread.PeerIDs)
}

func TestHub_RequestSidebarAndMarkSeen(t *testing.T) {
	env := newTestEnv(t, Config{})

	alice := env.dial(t, "alice")
	bob := env.dial(t, "bob")

	send(t, alice, EventSendMessage, map[string]string{"receiver_id": "bob", "text": "hi"})
	readUntil(t, bob, conversation.EventSidebarUpdate)

	send(t, bob, EventMarkSeen, map[string]string{"peer_id": "alice"})
	f := readUntil(t, alice, conversation.EventThreadUpdate)
	var thread conversation.ThreadPayload
	require.NoError(t, json.Unmarshal(f.Data, &thread))
	// alice first sees her own send, then the seen flip.
	for len(thread.Messages) == 0 || !thread.Messages[0].Seen {
		f = readUntil(t, alice, conversation.EventThreadUpdate)
		require.NoError(t, json.Unmarshal(f.Data, &thread))
	}

	send(t, bob, EventRequestSidebar, nil)
	var sidebar []conversation.Summary
	for {
		f = readUntil(t, bob, conversation.EventSidebarUpdate)
		require.NoError(t, json.Unmarshal(f.Data, &sidebar))
		if len(sidebar) == 1 && sidebar[0].UnseenCount == 0 {
			break
		}
	}
	assert.Equal(t, "alice", sidebar[0].Peer.ID)
}

func TestHub_ErrorFrames(t *testing.T) {
	env := newTestEnv(t, Config{})
	alice := env.dial(t, "alice")

	tests := []struct {
		name  string
		raw   string
		code  string
		event string
	}{
		{"malformed json", `{not json`, CodeBadRequest, ""},
		{"unknown event", `{"event":"dance"}`, CodeUnknownEvent, "dance"},
		{"missing data", `{"event":"request-thread"}`, CodeBadRequest, EventRequestThread},
		{"missing peer", `{"event":"mark-seen","data":{}}`, CodeBadRequest, EventMarkSeen},
		{"self message", `{"event":"send-message","data":{"receiver_id":"alice","text":"me"}}`, "self_message", EventSendMessage},
		{"empty message", `{"event":"send-message","data":{"receiver_id":"bob"}}`, "validation", EventSendMessage},
		{"unknown peer", `{"event":"request-thread","data":{"peer_id":"ghost"}}`, "not_found", EventRequestThread},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(tt.raw)))

			f := readUntil(t, alice, conversation.EventError)
			var payload conversation.ErrorPayload
			require.NoError(t, json.Unmarshal(f.Data, &payload))
			assert.Equal(t, tt.code, payload.Code)
			assert.Equal(t, tt.event, payload.RequestEvent)
		})
	}

	assert.Equal(t, 0, env.store.ConversationCount())
}

func TestHub_OriginAllowList(t *testing.T) {
	env := newTestEnv(t, Config{AllowedOrigins: []string{"https://chat.example.com"}})
	token, err := env.verifier.Generate("alice", time.Hour)
	require.NoError(t, err)

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(env.wsURL(token), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "https://chat.example.com")
	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL(token), header)
	require.NoError(t, err)
	conn.Close()
}

func TestHub_ConnectDisconnectStates(t *testing.T) {
	env := newTestEnv(t, Config{})
	token, err := env.verifier.Generate("alice", time.Hour)
	require.NoError(t, err)

	_, err = env.hub.Connect(context.Background(), "")
	assert.ErrorIs(t, err, auth.ErrMissingCredential)

	sess, err := env.hub.Connect(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, StateActive, sess.State())
	assert.Equal(t, "alice", sess.User.ID)
	assert.Equal(t, 1, env.hub.SessionCount())

	select {
	case ev := <-sess.Events():
		assert.Equal(t, conversation.EventPresenceUpdate, ev.Name)
		assert.Equal(t, []string{"alice"}, ev.Data)
	case <-time.After(time.Second):
		t.Fatal("no presence update after connect")
	}

	env.hub.Disconnect(sess)
	env.hub.Disconnect(sess)
	assert.Equal(t, StateClosed, sess.State())
	assert.Equal(t, 0, env.hub.SessionCount())
	assert.False(t, env.presence.IsOnline("alice"))

	_, ok := <-sess.Events()
	assert.False(t, ok, "group channel closed")
}

func TestHub_Shutdown(t *testing.T) {
	env := newTestEnv(t, Config{})
	alice := env.dial(t, "alice")
	readPresence(t, alice, []string{"alice"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, env.hub.Shutdown(ctx))

	assert.Equal(t, 0, env.hub.SessionCount())
	require.NoError(t, alice.SetReadDeadline(time.Now().Add(time.Second)))
	for {
		if _, _, err := alice.ReadMessage(); err != nil {
			break
		}
	}
}

func TestHub_SlowSessionIsEvicted(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	carolToken, err := env.verifier.Generate("carol", time.Hour)
	require.NoError(t, err)
	bobToken, err := env.verifier.Generate("bob", time.Hour)
	require.NoError(t, err)

	// carol never drains her group channel while bob flaps.
	carol, err := env.hub.Connect(ctx, carolToken)
	require.NoError(t, err)
	for i := 0; i < 70; i++ {
		bob, err := env.hub.Connect(ctx, bobToken)
		require.NoError(t, err)
		env.hub.Disconnect(bob)
	}

	select {
	case <-carol.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("overflowed session was not closed")
	}
	assert.True(t, carol.Evicted())
	assert.Equal(t, StateClosed, carol.State())
	assert.Eventually(t, func() bool { return env.presence.Count() == 0 }, time.Second, 10*time.Millisecond)

	// Reconnecting yields a fresh, correct presence list.
	again, err := env.hub.Connect(ctx, carolToken)
	require.NoError(t, err)
	defer env.hub.Disconnect(again)
	select {
	case ev := <-again.Events():
		assert.Equal(t, conversation.EventPresenceUpdate, ev.Name)
		assert.Equal(t, []string{"carol"}, ev.Data)
	case <-time.After(time.Second):
		t.Fatal("no presence update after reconnect")
	}
	assert.False(t, again.Evicted())
}

func TestHub_RejectsConnectionsAfterShutdown(t *testing.T) {
	env := newTestEnv(t, Config{})
	token, err := env.verifier.Generate("alice", time.Hour)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, env.hub.Shutdown(ctx))

	_, err = env.hub.Connect(context.Background(), token)
	assert.ErrorIs(t, err, ErrShuttingDown)

	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL(token), nil)
	require.NoError(t, err)
	defer conn.Close()

	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)
	assert.Equal(t, 0, env.hub.SessionCount())
	assert.False(t, env.presence.IsOnline("alice"))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{PongWait: 10 * time.Second, PingInterval: time.Minute}.withDefaults()
	assert.Equal(t, 9*time.Second, cfg.PingInterval, "ping must beat pong wait")
	assert.Equal(t, DefaultWriteWait, cfg.WriteWait)
	assert.Equal(t, DefaultSendBuffer, cfg.SendBuffer)
	assert.Equal(t, int64(DefaultMaxMessageBytes), cfg.MaxMessageBytes)
}
