// ABOUTME: Identity resolver turning a connection credential into a known user
// ABOUTME: Combines token verification with a user store lookup; the relay trusts its answer

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/dm-relay/internal/store"
)

// Resolver verifies a credential and loads the identity it names.
type Resolver struct {
	verifier TokenVerifier
	users    store.UserStore
	logger   *slog.Logger
}

// NewResolver creates a Resolver. Pass nil logger for default.
func NewResolver(verifier TokenVerifier, users store.UserStore, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		verifier: verifier,
		users:    users,
		logger:   logger.With("component", "auth"),
	}
}

// Resolve returns the user for credential.
//
// Errors:
//   - ErrMissingCredential when credential is empty
//   - ErrInvalidCredential (or a wrapper of it) when verification fails or
//     the token names a user that does not exist
//   - any other error means the user store could not be reached
func (r *Resolver) Resolve(ctx context.Context, credential string) (*store.User, error) {
	if credential == "" {
		return nil, ErrMissingCredential
	}

	userID, err := r.verifier.Verify(credential)
	if err != nil {
		r.logger.Debug("credential rejected", "error", err)
		return nil, err
	}

	user, err := r.users.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		r.logger.Debug("credential names unknown user", "user_id", userID)
		return nil, fmt.Errorf("%w: unknown user", ErrInvalidCredential)
	}
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}

	return user, nil
}

// FailureReason returns a short metric/log label for a Resolve error.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingCredential):
		return "missing"
	case errors.Is(err, ErrExpiredToken):
		return "expired"
	case errors.Is(err, ErrInvalidCredential):
		return "invalid"
	default:
		return "error"
	}
}
