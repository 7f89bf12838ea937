package session

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"

	"github.com/cgpacalc/cgpacalc/internal/auth"
	"github.com/cgpacalc/cgpacalc/internal/clock"
	"github.com/cgpacalc/cgpacalc/internal/model"
	"github.com/cgpacalc/cgpacalc/internal/repository"
)

// ErrInvalidCookie indicates the session cookie failed signature or format checks.
var ErrInvalidCookie = errors.New("invalid session cookie")

// UserSource resolves the account behind a session.
// Unknown IDs return repository.ErrUserNotFound.
type UserSource interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}

// Options configures the session cookie.
type Options struct {
	CookieName string
	TTL        time.Duration
	Secure     bool
	// HashKey signs the cookie value (HMAC-SHA256). At least 32 bytes.
	HashKey []byte
	// Users, when set, is consulted on every Load. Sessions of deactivated
	// accounts, or issued before a password change, load as absent.
	Users UserSource
}

// Manager issues, loads and destroys sessions.
type Manager struct {
	store Store
	codec *securecookie.SecureCookie
	clock clock.Clock
	opts  Options
}

// NewManager creates a Manager backed by store.
func NewManager(store Store, clk clock.Clock, opts Options) *Manager {
	if clk == nil {
		clk = clock.Real{}
	}
	codec := securecookie.New(opts.HashKey, nil)
	codec.MaxAge(int(opts.TTL.Seconds()))
	codec.SetSerializer(securecookie.JSONEncoder{})

	return &Manager{
		store: store,
		codec: codec,
		clock: clk,
		opts:  opts,
	}
}

// CookieName returns the configured session cookie name.
func (m *Manager) CookieName() string {
	return m.opts.CookieName
}

// Start creates a fresh session for user, persists it and sets the cookie.
// Any session referenced by the incoming request is discarded first so a
// login never reuses a pre-authentication token.
func (m *Manager) Start(w http.ResponseWriter, r *http.Request, user *model.User) (*model.Session, error) {
	if old, err := m.readToken(r); err == nil && old != "" {
		_ = m.store.Delete(r.Context(), old)
	}

	token, err := auth.GenerateSessionToken()
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	sess := &model.Session{
		Token:     token,
		UserID:    user.ID,
		Username:  user.Username,
		AuthHash:  m.authHash(user.PasswordHash),
		CreatedAt: now,
		ExpiresAt: now.Add(m.opts.TTL),
	}

	if err := m.store.Save(r.Context(), sess, m.opts.TTL); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	encoded, err := m.codec.Encode(m.opts.CookieName, token)
	if err != nil {
		return nil, fmt.Errorf("encode session cookie: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     m.opts.CookieName,
		Value:    encoded,
		Path:     "/",
		MaxAge:   int(m.opts.TTL.Seconds()),
		HttpOnly: true,
		Secure:   m.opts.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	return sess, nil
}

// Load returns the session referenced by the request cookie.
// It returns (nil, nil) when no cookie is present, the session is unknown,
// the session has expired, or its account no longer accepts it.
// A tampered cookie yields ErrInvalidCookie.
func (m *Manager) Load(r *http.Request) (*model.Session, error) {
	token, err := m.readToken(r)
	if err != nil || token == "" {
		return nil, err
	}
	sess, err := m.lookup(r.Context(), token)
	if err != nil || sess == nil || m.opts.Users == nil {
		return sess, err
	}

	ok, err := m.accountAccepts(r.Context(), sess)
	if err != nil {
		return nil, err
	}
	if !ok {
		_ = m.store.Delete(r.Context(), token)
		return nil, nil
	}
	return sess, nil
}

// accountAccepts reports whether the session's user still exists, is
// active, and has the password the session was issued for.
func (m *Manager) accountAccepts(ctx context.Context, sess *model.Session) (bool, error) {
	user, err := m.opts.Users.GetUserByID(ctx, sess.UserID)
	if errors.Is(err, repository.ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get session user: %w", err)
	}
	if !user.IsActive {
		return false, nil
	}
	return hmac.Equal([]byte(sess.AuthHash), []byte(m.authHash(user.PasswordHash))), nil
}

// authHash fingerprints a password hash under the cookie secret.
func (m *Manager) authHash(passwordHash string) string {
	mac := hmac.New(sha256.New, m.opts.HashKey)
	mac.Write([]byte("session-auth:"))
	mac.Write([]byte(passwordHash))
	return hex.EncodeToString(mac.Sum(nil))
}

// Destroy deletes the request's session and expires the cookie.
// Returns the session that was removed, or nil if there was none.
func (m *Manager) Destroy(w http.ResponseWriter, r *http.Request) (*model.Session, error) {
	m.clearCookie(w)

	token, err := m.readToken(r)
	if err != nil || token == "" {
		return nil, nil
	}

	sess, lookupErr := m.lookup(r.Context(), token)
	if err := m.store.Delete(r.Context(), token); err != nil {
		return sess, fmt.Errorf("delete session: %w", err)
	}
	if lookupErr != nil {
		return nil, lookupErr
	}
	return sess, nil
}

func (m *Manager) lookup(ctx context.Context, token string) (*model.Session, error) {
	sess, err := m.store.Get(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if sess == nil {
		return nil, nil
	}
	if sess.IsExpired(m.clock.Now()) {
		_ = m.store.Delete(ctx, token)
		return nil, nil
	}
	return sess, nil
}

func (m *Manager) readToken(r *http.Request) (string, error) {
	cookie, err := r.Cookie(m.opts.CookieName)
	if err != nil || cookie.Value == "" {
		return "", nil
	}

	var token string
	if err := m.codec.Decode(m.opts.CookieName, cookie.Value, &token); err != nil {
		return "", ErrInvalidCookie
	}
	if err := auth.ValidateSessionToken(token); err != nil {
		return "", ErrInvalidCookie
	}
	return token, nil
}

func (m *Manager) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.opts.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   m.opts.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
