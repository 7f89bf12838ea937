package auth

import (
	"context"

	"github.com/cgpacalc/cgpacalc/internal/model"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	sessionContextKey contextKey = "session"
	csrfContextKey    contextKey = "csrf_token"
)

// ContextWithSession adds the current session to the context.
func ContextWithSession(ctx context.Context, sess *model.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, sess)
}

// SessionFromContext retrieves the session from the context.
// Returns nil if the request is not authenticated.
func SessionFromContext(ctx context.Context) *model.Session {
	sess, ok := ctx.Value(sessionContextKey).(*model.Session)
	if !ok {
		return nil
	}
	return sess
}

// UsernameFromContext returns the signed-in username, or "" if anonymous.
func UsernameFromContext(ctx context.Context) string {
	sess := SessionFromContext(ctx)
	if sess == nil {
		return ""
	}
	return sess.Username
}

// ContextWithCSRFToken stores the request's CSRF token for templates.
func ContextWithCSRFToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, csrfContextKey, token)
}

// CSRFTokenFromContext returns the CSRF token, or "" if none was issued.
func CSRFTokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(csrfContextKey).(string)
	return token
}
