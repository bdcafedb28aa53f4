// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithUserID/UserIDFromContext for propagating identity via context

package auth

import "context"

// userIDKey is the key type for storing the authenticated user ID in context.
type userIDKey struct{}

// WithUserID returns a new context with the authenticated user ID attached.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserIDFromContext retrieves the authenticated user ID, returning "" if absent.
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}
