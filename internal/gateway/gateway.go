// ABOUTME: Gateway orchestrator that wires the store, sessions and HTTP server together
// ABOUTME: Owns process lifecycle: listen, serve, health endpoints and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/dm-relay/internal/auth"
	"github.com/2389/dm-relay/internal/config"
	"github.com/2389/dm-relay/internal/conversation"
	"github.com/2389/dm-relay/internal/dedupe"
	"github.com/2389/dm-relay/internal/hub"
	"github.com/2389/dm-relay/internal/metrics"
	"github.com/2389/dm-relay/internal/presence"
	"github.com/2389/dm-relay/internal/store"
)

// EnvDBPath overrides database.path when set.
const EnvDBPath = "DMRELAY_DB_PATH"

// Gateway orchestrates the relay's components.
type Gateway struct {
	config       *config.Config
	store        store.Store
	presence     *presence.Registry
	broadcaster  *conversation.Broadcaster
	dedupe       *dedupe.Cache
	conversation *conversation.Service
	resolver     *auth.Resolver
	hub          *hub.Hub
	httpServer   *http.Server
	logger       *slog.Logger
}

// initStore opens the SQLite store named by config or the environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv(EnvDBPath); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a Gateway with a SQLite store opened from cfg.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}
	gw, err := newWithStore(cfg, s, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return gw, nil
}

// newWithStore builds every component on top of an already-open store.
func newWithStore(cfg *config.Config, s store.Store, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}

	reg := presence.NewRegistry()
	broadcaster := conversation.NewBroadcaster(cfg.Sessions.SendBuffer, logger)
	dedupeCache := dedupe.New(cfg.Dedupe.TTL, cfg.Dedupe.MaxEntries)
	convService := conversation.New(s, broadcaster, reg, dedupeCache, logger)
	resolver := auth.NewResolver(verifier, s, logger)

	sessions := hub.New(hub.Config{
		PingInterval:    cfg.Sessions.PingInterval,
		PongWait:        cfg.Sessions.PongWait,
		WriteWait:       cfg.Sessions.WriteWait,
		SendBuffer:      cfg.Sessions.SendBuffer,
		MaxMessageBytes: cfg.Sessions.MaxMessageBytes,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
	}, resolver, convService, broadcaster, reg, logger)

	gw := &Gateway{
		config:       cfg,
		store:        s,
		presence:     reg,
		broadcaster:  broadcaster,
		dedupe:       dedupeCache,
		conversation: convService,
		resolver:     resolver,
		hub:          sessions,
		logger:       logger.With("component", "gateway"),
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return gw, nil
}

// routes builds the HTTP handler tree.
func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)

	// Websocket sessions authenticate inside the upgrade
	mux.Handle("GET /ws", g.hub)

	authMiddleware := auth.HTTPAuthMiddleware(g.resolver)
	mux.Handle("GET /api/conversations", authMiddleware(http.HandlerFunc(g.handleListConversations)))
	mux.Handle("DELETE /api/conversations/{peerID}", authMiddleware(http.HandlerFunc(g.handleClearConversation)))
	mux.Handle("GET /api/presence", authMiddleware(http.HandlerFunc(g.handlePresence)))

	if g.config.Metrics.Enabled {
		mux.Handle("GET "+g.config.Metrics.Path, promhttp.Handler())
		g.logger.Info("metrics endpoint enabled", "path", g.config.Metrics.Path)
	}

	return metrics.Middleware(mux)
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Run listens on server.http_addr and serves until ctx is canceled or the
// server fails, then shuts down gracefully.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown runs Shutdown with a fresh deadline; the run context is already done.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops accepting requests, closes every session, forgets presence
// and releases the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "session shutdown", g.hub.Shutdown(ctx))

	g.presence.Reset()
	metrics.UsersOnline.Set(0)
	g.broadcaster.Close()
	g.dedupe.Close()

	errs = appendCloseError(errs, "store close", g.store.Close())

	return errors.Join(errs...)
}

// handleHealth returns 200 OK if the process is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK when the store answers a ping.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := g.store.Ping(ctx); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d users online)", g.presence.Count())
}
