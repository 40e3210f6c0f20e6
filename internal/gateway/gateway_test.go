// ABOUTME: Tests for gateway wiring, health endpoints, REST handlers and lifecycle
// ABOUTME: Uses the in-memory store behind a real httptest server

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/dm-relay/internal/auth"
	"github.com/2389/dm-relay/internal/config"
	"github.com/2389/dm-relay/internal/conversation"
	"github.com/2389/dm-relay/internal/store"
)

const testSecret = "gateway-test-secret-at-least-32b"

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Database: config.DatabaseConfig{Path: ":memory:"},
		Auth:     config.AuthConfig{JWTSecret: testSecret},
		Sessions: config.SessionsConfig{
			PongWait:     5 * time.Second,
			PingInterval: 4 * time.Second,
			WriteWait:    time.Second,
			SendBuffer:   32,
		},
		Dedupe:  config.DedupeConfig{TTL: time.Minute, MaxEntries: 100},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

type testGateway struct {
	gw     *Gateway
	store  *store.MockStore
	server *httptest.Server
	tokens *auth.JWTVerifier
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()

	st := store.NewMockStore()
	ctx := context.Background()
	for _, id := range []string{"alice", "bob"} {
		require.NoError(t, st.UpsertUser(ctx, &store.User{ID: id, Name: id}))
	}

	gw, err := newWithStore(testConfig(), st, nil)
	require.NoError(t, err)

	server := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		server.Close()
		_ = gw.Shutdown(context.Background())
	})

	tokens, err := auth.NewJWTVerifier([]byte(testSecret))
	require.NoError(t, err)

	return &testGateway{gw: gw, store: st, server: server, tokens: tokens}
}

func (tg *testGateway) do(t *testing.T, method, path, userID string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, tg.server.URL+path, nil)
	require.NoError(t, err)
	if userID != "" {
		token, err := tg.tokens.Generate(userID, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestGateway_Health(t *testing.T) {
	tg := newTestGateway(t)

	resp := tg.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", readBody(t, resp))
}

func TestGateway_Ready(t *testing.T) {
	tg := newTestGateway(t)

	resp := tg.do(t, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "ready")

	tg.store.SetErr(errors.New("db down"))
	resp = tg.do(t, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestGateway_APIRequiresAuth(t *testing.T) {
	tg := newTestGateway(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/conversations"},
		{http.MethodDelete, "/api/conversations/bob"},
		{http.MethodGet, "/api/presence"},
	} {
		resp := tg.do(t, tc.method, tc.path, "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, tc.path)
	}

	resp := tg.do(t, http.MethodGet, "/api/conversations", "ghost")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "unknown user is rejected")
}

func TestGateway_ListConversations(t *testing.T) {
	tg := newTestGateway(t)

	resp := tg.do(t, http.MethodGet, "/api/conversations", "alice")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, readBody(t, resp))

	_, err := tg.gw.conversation.Send(context.Background(), "bob", "alice", conversation.Content{Text: "hey"})
	require.NoError(t, err)

	resp = tg.do(t, http.MethodGet, "/api/conversations", "alice")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var summaries []conversation.Summary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, "bob", summaries[0].Peer.ID)
	assert.Equal(t, 1, summaries[0].UnseenCount)
	assert.Equal(t, "hey", summaries[0].LastMessage.Text)
}

func TestGateway_ClearConversation(t *testing.T) {
	tg := newTestGateway(t)

	resp := tg.do(t, http.MethodDelete, "/api/conversations/bob", "alice")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, err := tg.gw.conversation.Send(context.Background(), "alice", "bob", conversation.Content{Text: "oops"})
	require.NoError(t, err)

	resp = tg.do(t, http.MethodDelete, "/api/conversations/bob", "alice")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"message":"conversation cleared"}`, readBody(t, resp))

	view, err := tg.gw.conversation.Thread(context.Background(), "bob", "alice")
	require.NoError(t, err)
	assert.Empty(t, view.Thread.Messages)
	assert.NotEmpty(t, view.Thread.ConversationID)

	resp = tg.do(t, http.MethodDelete, "/api/conversations/alice", "alice")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGateway_ClearConversation_StoreFailure(t *testing.T) {
	tg := newTestGateway(t)

	_, err := tg.gw.conversation.Send(context.Background(), "alice", "bob", conversation.Content{Text: "x"})
	require.NoError(t, err)

	token, err := tg.tokens.Generate("alice", time.Hour)
	require.NoError(t, err)

	// Resolve the user first, then fail the clear.
	req := httptest.NewRequest(http.MethodDelete, "/api/conversations/bob", nil)
	req.SetPathValue("peerID", "bob")
	user, err := tg.gw.resolver.Resolve(context.Background(), token)
	require.NoError(t, err)
	req = req.WithContext(auth.WithUser(req.Context(), user))

	tg.store.SetErr(errors.New("disk gone"))
	rec := httptest.NewRecorder()
	tg.gw.handleClearConversation(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGateway_PresenceOverWebsocket(t *testing.T) {
	tg := newTestGateway(t)

	token, err := tg.tokens.Generate("bob", time.Hour)
	require.NoError(t, err)
	wsURL := "ws" + strings.TrimPrefix(tg.server.URL, "http") + "/ws?token=" + token

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return tg.gw.presence.IsOnline("bob") }, time.Second, 10*time.Millisecond)

	resp := tg.do(t, http.MethodGet, "/api/presence", "alice")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var presence PresenceResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&presence))
	assert.Equal(t, []string{"bob"}, presence.Online)
}

func TestGateway_Metrics(t *testing.T) {
	tg := newTestGateway(t)

	tg.do(t, http.MethodGet, "/health", "")

	resp := tg.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := readBody(t, resp)
	assert.Contains(t, body, "dmrelay_http_requests_total")
	assert.Contains(t, body, "dmrelay_connections_active")
}

func TestGateway_RejectsShortSecret(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.JWTSecret = "short"

	_, err := newWithStore(cfg, store.NewMockStore(), nil)
	assert.ErrorIs(t, err, auth.ErrSecretTooShort)
}

func TestGateway_NewUsesEnvDBPath(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "env.db")
	t.Setenv(EnvDBPath, dbPath)

	cfg := testConfig()
	cfg.Database.Path = "/nonexistent/dir/ignored.db"

	gw, err := New(cfg, nil)
	require.NoError(t, err)
	assert.FileExists(t, dbPath)
	require.NoError(t, gw.Shutdown(context.Background()))
}

func TestGateway_RunStopsOnCancel(t *testing.T) {
	cfg := testConfig()
	gw, err := newWithStore(cfg, store.NewMockStore(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestGateway_RunFailsOnBadAddress(t *testing.T) {
	cfg := testConfig()
	cfg.Server.HTTPAddr = "256.0.0.1:bad"
	gw, err := newWithStore(cfg, store.NewMockStore(), nil)
	require.NoError(t, err)

	err = gw.Run(context.Background())
	assert.Error(t, err)
}
