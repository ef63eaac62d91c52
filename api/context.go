package api

import "context"

// contextKey is a private type so other packages cannot collide with or
// spoof values this package stores on request contexts.
type contextKey string

const (
	contextKeyRequestID contextKey = "request_id"
	contextKeyUsername  contextKey = "username"
	contextKeyRoles     contextKey = "roles"
)

// WithRequestID attaches the request correlation id to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, requestID)
}

// RequestIDFromContext returns the request id, or "unknown" when the
// middleware has not run.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(contextKeyRequestID).(string); ok && id != "" {
		return id
	}
	return "unknown"
}

// WithUsername attaches the authenticated username to the context.
func WithUsername(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, contextKeyUsername, username)
}

// UsernameFromContext returns the authenticated username, if any.
func UsernameFromContext(ctx context.Context) (string, bool) {
	username, ok := ctx.Value(contextKeyUsername).(string)
	return username, ok
}

// WithRoles attaches the authenticated user's roles to the context.
func WithRoles(ctx context.Context, roles []string) context.Context {
	return context.WithValue(ctx, contextKeyRoles, roles)
}

// RolesFromContext returns the authenticated user's roles, if any.
func RolesFromContext(ctx context.Context) ([]string, bool) {
	roles, ok := ctx.Value(contextKeyRoles).([]string)
	return roles, ok
}
