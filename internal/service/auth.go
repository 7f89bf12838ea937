// Package service provides business logic for the application.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	"github.com/cgpacalc/cgpacalc/internal/auth"
	"github.com/cgpacalc/cgpacalc/internal/clock"
	"github.com/cgpacalc/cgpacalc/internal/model"
	"github.com/cgpacalc/cgpacalc/internal/repository"
)

// Service errors.
var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInactiveUser       = errors.New("user account is inactive")
	ErrInvalidUsername    = errors.New("invalid username")
)

// MaxUsernameLength matches the users.username column, in characters.
const MaxUsernameLength = 150

// UserStore is the persistence surface AuthService needs.
// Lookups return repository.ErrUserNotFound for unknown users.
type UserStore interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	UpdatePasswordHash(ctx context.Context, id, hash string) error
	SetUserActive(ctx context.Context, username string, active bool) error
	ListUsers(ctx context.Context) ([]*model.User, error)
}

// AuthService verifies credentials and manages accounts.
type AuthService struct {
	users  UserStore
	clock  clock.Clock
	logger *slog.Logger

	dummyOnce sync.Once
	dummyHash string
}

// NewAuthService creates a new AuthService.
func NewAuthService(users UserStore, clk clock.Clock, logger *slog.Logger) *AuthService {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		users:  users,
		clock:  clk,
		logger: logger.With("component", "auth.service"),
	}
}

// Authenticate checks a username and password.
// Unknown users and wrong passwords both yield ErrInvalidCredentials.
// ErrInactiveUser is only reported once the password has been verified.
func (s *AuthService) Authenticate(ctx context.Context, username, password string) (*model.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	if !validUsername(username) {
		_, _ = auth.VerifyPassword(password, s.dummy())
		return nil, ErrInvalidCredentials
	}

	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			// Spend the same work as a real check.
			_, _ = auth.VerifyPassword(password, s.dummy())
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	ok, err := auth.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		s.logger.Warn("stored password hash is unreadable",
			"user_id", user.ID,
			"error", err,
		)
		return nil, ErrInvalidCredentials
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrInactiveUser
	}

	now := s.clock.Now().UTC()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn("failed to record last login", "user_id", user.ID, "error", err)
	} else {
		user.LastLoginAt = &now
	}

	if auth.NeedsRehash(user.PasswordHash) {
		s.rehash(ctx, user, password)
	}

	return user, nil
}

// rehash upgrades a legacy or weaker hash after a successful login.
func (s *AuthService) rehash(ctx context.Context, user *model.User, password string) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		s.logger.Warn("failed to rehash password", "user_id", user.ID, "error", err)
		return
	}
	if err := s.users.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		s.logger.Warn("failed to store rehashed password", "user_id", user.ID, "error", err)
		return
	}
	user.PasswordHash = hash
	s.logger.Info("password hash upgraded", "user_id", user.ID)
}

// CreateUser registers an active account.
func (s *AuthService) CreateUser(ctx context.Context, username, password string) (*model.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || !validUsername(username) {
		return nil, ErrInvalidUsername
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &model.User{
		ID:           ulid.Make().String(),
		Username:     username,
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    s.clock.Now().UTC(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// SetPassword replaces a user's password.
func (s *AuthService) SetPassword(ctx context.Context, username, password string) error {
	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	return s.users.UpdatePasswordHash(ctx, user.ID, hash)
}

// SetActive enables or disables sign-in for username.
func (s *AuthService) SetActive(ctx context.Context, username string, active bool) error {
	return s.users.SetUserActive(ctx, username, active)
}

// ListUsers returns all accounts.
func (s *AuthService) ListUsers(ctx context.Context) ([]*model.User, error) {
	return s.users.ListUsers(ctx)
}

// validUsername reports whether username can be stored in users.username.
func validUsername(username string) bool {
	return utf8.ValidString(username) &&
		!strings.ContainsRune(username, 0) &&
		utf8.RuneCountInString(username) <= MaxUsernameLength
}

func (s *AuthService) dummy() string {
	s.dummyOnce.Do(func() {
		hash, err := auth.HashPassword("dummy-password-for-timing")
		if err != nil {
			s.logger.Error("failed to build dummy hash", "error", err)
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}
