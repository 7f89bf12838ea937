package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/cgpacalc/cgpacalc/internal/auth"
	"github.com/cgpacalc/cgpacalc/internal/metrics"
)

const (
	// CSRFCookieName holds the double-submit token.
	CSRFCookieName = "csrftoken"
	// CSRFFormField is the hidden form input carrying the token.
	CSRFFormField = "csrfmiddlewaretoken"
	// CSRFHeader carries the token for scripted requests.
	CSRFHeader = "X-CSRFToken"

	csrfCookieMaxAge = 31449600 // one year
)

// CSRFConfig configures the CSRF middleware.
type CSRFConfig struct {
	Logger    *slog.Logger
	Metrics   metrics.Recorder
	ErrorPage ErrorPageFunc
	Secure    bool
}

// CSRF implements double-submit cookie protection.
// Safe methods make sure a token cookie exists and expose the token to
// templates. Unsafe methods must echo the cookie value in the form field or
// header, and a present Origin header must match the request host.
func CSRF(cfg CSRFConfig) func(http.Handler) http.Handler {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoop()
	}
	if cfg.ErrorPage == nil {
		cfg.ErrorPage = PlainError
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookieToken := ""
			if c, err := r.Cookie(CSRFCookieName); err == nil && auth.ValidCSRFToken(c.Value) {
				cookieToken = c.Value
			}

			if !isSafeMethod(r.Method) {
				if reason := checkCSRF(r, cookieToken); reason != "" {
					cfg.Logger.Warn("csrf check failed",
						slog.String("reason", reason),
						slog.String("method", r.Method),
						slog.String("path", r.URL.Path),
						slog.String("request_id", GetRequestID(r.Context())),
					)
					cfg.Metrics.IncCSRFRejected()
					cfg.ErrorPage(w, r, http.StatusForbidden)
					return
				}
			}

			if cookieToken == "" {
				token, err := auth.GenerateCSRFToken()
				if err != nil {
					cfg.Logger.Error("failed to generate csrf token", slog.String("error", err.Error()))
					cfg.ErrorPage(w, r, http.StatusInternalServerError)
					return
				}
				cookieToken = token
				http.SetCookie(w, &http.Cookie{
					Name:     CSRFCookieName,
					Value:    token,
					Path:     "/",
					MaxAge:   csrfCookieMaxAge,
					Secure:   cfg.Secure,
					SameSite: http.SameSiteLaxMode,
				})
			}

			r = r.WithContext(auth.ContextWithCSRFToken(r.Context(), cookieToken))
			next.ServeHTTP(w, r)
		})
	}
}

// checkCSRF returns a rejection reason, or "" when the request passes.
func checkCSRF(r *http.Request, cookieToken string) string {
	if origin := r.Header.Get("Origin"); origin != "" && origin != "null" {
		u, err := url.Parse(origin)
		if err != nil || u.Host != r.Host {
			return "origin mismatch"
		}
	}

	if cookieToken == "" {
		return "cookie not set"
	}

	submitted := r.Header.Get(CSRFHeader)
	if submitted == "" {
		submitted = r.PostFormValue(CSRFFormField)
	}
	if submitted == "" {
		return "token missing"
	}
	if subtle.ConstantTimeCompare([]byte(submitted), []byte(cookieToken)) != 1 {
		return "token incorrect"
	}
	return ""
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}
