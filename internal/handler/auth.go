package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/cgpacalc/cgpacalc/internal/audit"
	"github.com/cgpacalc/cgpacalc/internal/auth"
	"github.com/cgpacalc/cgpacalc/internal/clock"
	"github.com/cgpacalc/cgpacalc/internal/metrics"
	"github.com/cgpacalc/cgpacalc/internal/middleware"
	"github.com/cgpacalc/cgpacalc/internal/model"
	"github.com/cgpacalc/cgpacalc/internal/render"
	"github.com/cgpacalc/cgpacalc/internal/service"
)

// Form messages shown on the login page.
const (
	msgFieldRequired      = "This field is required."
	msgInvalidCredentials = "Please enter a correct username and password. Note that both fields may be case-sensitive."
	msgInactive           = "This account is inactive."
	msgNullCharacters     = "Null characters are not allowed."
	msgTooLong            = "Ensure this value has at most %d characters (it has %d)."
)

// Authenticator verifies credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (*model.User, error)
}

// SessionManager starts and ends login sessions.
type SessionManager interface {
	Start(w http.ResponseWriter, r *http.Request, user *model.User) (*model.Session, error)
	Destroy(w http.ResponseWriter, r *http.Request) (*model.Session, error)
}

// AuditSink receives authentication events. *audit.Publisher satisfies it,
// including a nil *audit.Publisher when auditing is disabled.
type AuditSink interface {
	PublishAsync(event audit.EventPayload)
}

// AuthDeps groups what the login and logout views need.
type AuthDeps struct {
	Auth     Authenticator
	Sessions SessionManager
	Renderer render.Renderer
	Audit    AuditSink
	Metrics  metrics.Recorder
	Clock    clock.Clock
	Logger   *slog.Logger
	Errors   middleware.ErrorPageFunc

	// LoginURL is where logout lands.
	LoginURL string
	// RedirectURL is the post-login target when "next" is missing or unsafe.
	RedirectURL string
}

// AuthHandler serves the login and logout views.
type AuthHandler struct {
	deps AuthDeps
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(deps AuthDeps) *AuthHandler {
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoop()
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Errors == nil {
		deps.Errors = middleware.PlainError
	}
	if deps.RedirectURL == "" {
		deps.RedirectURL = "/"
	}
	return &AuthHandler{deps: deps}
}

// Login shows the login form and handles credential submission.
//
// GET  /login/
// POST /login/
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		h.renderLogin(w, r, http.StatusOK, render.Context{
			"next": r.URL.Query().Get(auth.RedirectFieldName),
		})
	case http.MethodPost:
		h.submitLogin(w, r)
	default:
		w.Header().Set("Allow", "GET, HEAD, POST")
		h.deps.Errors(w, r, http.StatusMethodNotAllowed)
	}
}

// validateField returns the form error for a submitted value, or "".
// maxRunes of zero means unbounded.
func validateField(value string, maxRunes int) string {
	if value == "" {
		return msgFieldRequired
	}
	if strings.ContainsRune(value, 0) {
		return msgNullCharacters
	}
	if n := utf8.RuneCountInString(value); maxRunes > 0 && n > maxRunes {
		return fmt.Sprintf(msgTooLong, maxRunes, n)
	}
	return ""
}

func (h *AuthHandler) submitLogin(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(strings.ToValidUTF8(r.PostFormValue("username"), "\uFFFD"))
	password := r.PostFormValue("password")
	next := r.PostFormValue(auth.RedirectFieldName)

	form := render.Context{
		"username": username,
		"next":     next,
	}

	usernameErr := validateField(username, service.MaxUsernameLength)
	passwordErr := validateField(password, 0)
	if usernameErr != "" || passwordErr != "" {
		if usernameErr != "" {
			form["username_error"] = usernameErr
		}
		if passwordErr != "" {
			form["password_error"] = passwordErr
		}
		h.renderLogin(w, r, http.StatusOK, form)
		return
	}

	user, err := h.deps.Auth.Authenticate(r.Context(), username, password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			h.deps.Metrics.IncLogin(metrics.LoginFailed)
			form["error"] = msgInvalidCredentials
		case errors.Is(err, service.ErrInactiveUser):
			h.deps.Metrics.IncLogin(metrics.LoginInactive)
			form["error"] = msgInactive
		default:
			h.deps.Logger.Error("authentication failed",
				slog.String("request_id", middleware.GetRequestID(r.Context())),
				slog.String("error", err.Error()),
			)
			h.deps.Errors(w, r, http.StatusInternalServerError)
			return
		}

		h.deps.Logger.Info("login_failed",
			slog.String("request_id", middleware.GetRequestID(r.Context())),
			slog.String("reason", err.Error()),
		)
		h.publish(r, model.AuthEventLoginFailed, username, "")
		h.renderLogin(w, r, http.StatusOK, form)
		return
	}

	sess, err := h.deps.Sessions.Start(w, r, user)
	if err != nil {
		h.deps.Logger.Error("failed to start session",
			slog.String("user_id", user.ID),
			slog.String("request_id", middleware.GetRequestID(r.Context())),
			slog.String("error", err.Error()),
		)
		h.deps.Errors(w, r, http.StatusInternalServerError)
		return
	}

	middleware.SetLogUser(r.Context(), sess.UserID)
	h.deps.Metrics.IncLogin(metrics.LoginSuccess)
	h.publish(r, model.AuthEventLoginSucceeded, user.Username, user.ID)
	h.deps.Logger.Info("login_succeeded",
		slog.String("user_id", user.ID),
		slog.String("request_id", middleware.GetRequestID(r.Context())),
	)

	http.Redirect(w, r, auth.SafeRedirect(next, h.deps.RedirectURL), http.StatusFound)
}

// Logout ends the session and sends the browser to the login page.
// Any method is accepted.
//
// ANY /logout/
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sess, err := h.deps.Sessions.Destroy(w, r)
	if err != nil {
		h.deps.Logger.Warn("failed to destroy session",
			slog.String("request_id", middleware.GetRequestID(r.Context())),
			slog.String("error", err.Error()),
		)
	}

	if sess != nil {
		h.deps.Metrics.IncLogout()
		h.publish(r, model.AuthEventLogout, sess.Username, sess.UserID)
		h.deps.Logger.Info("logout",
			slog.String("user_id", sess.UserID),
			slog.String("request_id", middleware.GetRequestID(r.Context())),
		)
	}

	http.Redirect(w, r, h.deps.LoginURL, http.StatusFound)
}

func (h *AuthHandler) renderLogin(w http.ResponseWriter, r *http.Request, status int, data render.Context) {
	if err := h.deps.Renderer.Render(w, r, status, render.PageLogin, data); err != nil {
		h.deps.Logger.Error("failed to render page",
			slog.String("template", render.PageLogin),
			slog.String("request_id", middleware.GetRequestID(r.Context())),
			slog.String("error", err.Error()),
		)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *AuthHandler) publish(r *http.Request, kind model.AuthEventKind, username, userID string) {
	if h.deps.Audit == nil {
		return
	}
	h.deps.Audit.PublishAsync(audit.NewEventPayload(
		kind,
		username,
		userID,
		middleware.ClientIP(r),
		r.Header.Get("User-Agent"),
		h.deps.Clock.Now(),
	))
}
