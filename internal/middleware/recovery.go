package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"
)

// ErrorPageFunc writes an error response for status.
type ErrorPageFunc func(w http.ResponseWriter, r *http.Request, status int)

// PlainError is the fallback ErrorPageFunc.
func PlainError(w http.ResponseWriter, r *http.Request, status int) {
	http.Error(w, http.StatusText(status), status)
}

// Recoverer recovers from panics, logs the stack and answers 500.
// http.ErrAbortHandler is re-panicked so net/http can abort the connection.
func Recoverer(logger *slog.Logger, errorPage ErrorPageFunc) func(http.Handler) http.Handler {
	if errorPage == nil {
		errorPage = PlainError
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rvr := recover()
				if rvr == nil {
					return
				}
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}

				logger.Error("panic recovered",
					slog.String("request_id", GetRequestID(r.Context())),
					slog.Any("panic", rvr),
					slog.String("stack", string(debug.Stack())),
				)

				errorPage(w, r, http.StatusInternalServerError)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
