// Package contextkeys provides centralized context key definitions
//
// All context keys used across the application are defined here so that
// packages can share request-scoped values without importing each other.
//
//	ctx = contextkeys.WithSession(ctx, sess)
//	sess, ok := ctx.Value(contextkeys.SessionKey).(*session.Session)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// SessionKey contains *session.Session
	// Set by: session.Manager.Middleware
	// Required by: rbac.Authorizer.Require, all authenticated handlers
	SessionKey Key = "session"

	// RequestIDKey contains the request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: Logger, audit trail
	RequestIDKey Key = "request_id"

	// UserIDKey contains the authenticated user id (int64)
	// Set by: session.Manager.Middleware
	// Used by: Logger, audit trail
	UserIDKey Key = "user_id"

	// ClientIPKey contains the resolved caller address (string)
	// Set by: httputil.ClientIPMiddleware
	// Required by: middleware.Throttle, audit.NewEvent
	ClientIPKey Key = "client_ip"

	// LoggerKey contains *observability.Logger
	LoggerKey Key = "logger"
)

// WithSession adds the current session to the context
func WithSession(ctx context.Context, sess interface{}) context.Context {
	return context.WithValue(ctx, SessionKey, sess)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetUserID retrieves user ID from context
func GetUserID(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(UserIDKey).(int64)
	return userID, ok
}

// WithClientIP adds the resolved caller address to the context
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ClientIPKey, ip)
}

// GetClientIP retrieves the resolved caller address from context
func GetClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(ClientIPKey).(string); ok {
		return ip
	}
	return ""
}
