// ABOUTME: HTTP middleware and credential extraction for bearer-token authentication
// ABOUTME: Shared by the REST endpoints and the websocket upgrade handshake

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/2389/dm-relay/internal/store"
)

// IdentityResolver is what the middleware and session manager need from Resolver.
type IdentityResolver interface {
	Resolve(ctx context.Context, credential string) (*store.User, error)
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns "" when the header is absent or not a bearer token.
func extractBearerToken(authHeader string) string {
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
}

// CredentialFromRequest returns the credential supplied with a request: the
// Authorization bearer token, or the "token" query parameter for browser
// websocket clients that cannot set headers.
func CredentialFromRequest(r *http.Request) string {
	if token := extractBearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return r.URL.Query().Get("token")
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// HTTPAuthMiddleware resolves the request credential and stores the user in
// the request context. Missing or invalid credentials get 401; a failing user
// store gets 500.
func HTTPAuthMiddleware(resolver IdentityResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := resolver.Resolve(r.Context(), CredentialFromRequest(r))
			switch {
			case err == nil:
				next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
			case errors.Is(err, ErrMissingCredential):
				writeAuthError(w, http.StatusUnauthorized, "missing credential")
			case errors.Is(err, ErrInvalidCredential):
				writeAuthError(w, http.StatusUnauthorized, "invalid credential")
			default:
				writeAuthError(w, http.StatusInternalServerError, "identity lookup failed")
			}
		})
	}
}
