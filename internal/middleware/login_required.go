package middleware

import (
	"net/http"

	"github.com/cgpacalc/cgpacalc/internal/auth"
	"github.com/cgpacalc/cgpacalc/internal/metrics"
)

// LoginRequired redirects anonymous requests to loginURL with a "next"
// parameter. Must run after Sessions.
func LoginRequired(loginURL string, recorder metrics.Recorder) func(http.Handler) http.Handler {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := auth.RequireLogin(r, auth.SessionFromContext(r.Context()), loginURL)
			if !decision.Continue() {
				recorder.IncLoginRedirect()
				http.Redirect(w, r, decision.RedirectTo, http.StatusFound)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
