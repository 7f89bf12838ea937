package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/cgpacalc/cgpacalc/internal/auth"
	"github.com/cgpacalc/cgpacalc/internal/model"
	"github.com/cgpacalc/cgpacalc/internal/session"
)

// SessionLoader resolves the session referenced by a request.
type SessionLoader interface {
	Load(r *http.Request) (*model.Session, error)
}

// Sessions attaches the current session (if any) to the request context.
// Tampered cookies and store failures leave the request anonymous.
func Sessions(loader SessionLoader, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := loader.Load(r)
			switch {
			case errors.Is(err, session.ErrInvalidCookie):
				logger.Debug("ignoring invalid session cookie",
					slog.String("request_id", GetRequestID(r.Context())),
				)
			case err != nil:
				logger.Warn("session lookup failed",
					slog.String("request_id", GetRequestID(r.Context())),
					slog.String("error", err.Error()),
				)
			case sess != nil:
				SetLogUser(r.Context(), sess.UserID)
				r = r.WithContext(auth.ContextWithSession(r.Context(), sess))
			}

			next.ServeHTTP(w, r)
		})
	}
}
