// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithUser/FromContext for propagating the resolved user via context

package auth

import (
	"context"

	"github.com/2389/dm-relay/internal/store"
)

// userContextKey is the key type for storing the user in context.Context.
type userContextKey struct{}

// WithUser returns a new context with the authenticated user attached.
func WithUser(ctx context.Context, user *store.User) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// FromContext retrieves the user from the context, returning nil if not present.
func FromContext(ctx context.Context) *store.User {
	user, _ := ctx.Value(userContextKey{}).(*store.User)
	return user
}

// MustFromContext retrieves the user from the context, panicking if not present.
func MustFromContext(ctx context.Context) *store.User {
	user := FromContext(ctx)
	if user == nil {
		panic("auth: user not found in context")
	}
	return user
}
