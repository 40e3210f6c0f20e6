// Package gateway orchestrates the dm-relay server components.
//
// # Overview
//
// The gateway owns the store, the presence registry, the broadcaster, the
// conversation service and the session hub, and serves them over one HTTP
// listener.
//
// # HTTP API
//
//   - GET /ws - websocket sessions (credential in ?token= or Authorization)
//   - GET /api/conversations - the caller's conversation summaries
//   - DELETE /api/conversations/{peerID} - delete every message with peerID
//   - GET /api/presence - online user IDs
//   - GET /health - liveness check
//   - GET /health/ready - readiness check (store ping)
//   - GET /metrics - Prometheus metrics, when metrics.enabled is set
//
// The /api routes require "Authorization: Bearer <jwt>".
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	err = gw.Run(ctx) // blocks until ctx is canceled
//
// Shutdown stops the HTTP server, closes every session, clears presence and
// closes the store.
package gateway
