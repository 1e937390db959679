// Package contextkeys provides the centralized context key definitions for
// the gateway. Every context value flowing between middleware and handlers is
// keyed here so usage stays discoverable and collision-free.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions.
type Key string

const (
	// IdentityKey contains the resolved *middleware.Identity.
	// Set by: middleware.Authenticator after a successful cache match.
	// Required by: every authenticated endpoint.
	IdentityKey Key = "identity"

	// RequestIDKey contains the request ID string (UUID).
	// Set by: middleware.RequestID.
	RequestIDKey Key = "request_id"

	// LoggerKey contains the request-scoped *observability.Logger.
	LoggerKey Key = "logger"
)

// WithIdentity attaches the resolved identity to the context.
func WithIdentity(ctx context.Context, identity interface{}) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}

// WithRequestID attaches the request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithLogger attaches a logger to the context.
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetRequestID retrieves the request ID, empty when unset.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}
