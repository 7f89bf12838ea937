package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/cgpacalc/cgpacalc/internal/auth"
	"github.com/cgpacalc/cgpacalc/internal/clock"
	"github.com/cgpacalc/cgpacalc/internal/model"
	"github.com/cgpacalc/cgpacalc/internal/repository"
)

func newTestService(t *testing.T) (*AuthService, *MemoryUserStore, *clock.Fixed) {
	t.Helper()
	store := NewMemoryUserStore()
	clk := clock.NewFixed(time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewAuthService(store, clk, logger), store, clk
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()
	svc, store, clk := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateUser(ctx, "ada", "correct horse"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := svc.CreateUser(ctx, "bob", "hunter22"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := svc.SetActive(ctx, "bob", false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}

	tests := []struct {
		name     string
		username string
		password string
		wantErr  error
	}{
		{"valid", "ada", "correct horse", nil},
		{"surrounding spaces in username", "  ada ", "correct horse", nil},
		{"wrong password", "ada", "wrong", ErrInvalidCredentials},
		{"case-sensitive username", "Ada", "correct horse", ErrInvalidCredentials},
		{"unknown user", "nobody", "whatever", ErrInvalidCredentials},
		{"empty username", "", "correct horse", ErrInvalidCredentials},
		{"empty password", "ada", "", ErrInvalidCredentials},
		{"inactive", "bob", "hunter22", ErrInactiveUser},
		{"inactive wrong password", "bob", "nope", ErrInvalidCredentials},
		{"null in username", "ada\x00", "correct horse", ErrInvalidCredentials},
		{"invalid utf-8 username", "ada\xff", "correct horse", ErrInvalidCredentials},
		{"username too long", strings.Repeat("a", MaxUsernameLength+1), "correct horse", ErrInvalidCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, err := svc.Authenticate(ctx, tt.username, tt.password)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				if user != nil {
					t.Error("failed authentication must not return a user")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if user.Username != "ada" {
				t.Errorf("Username = %q, want ada", user.Username)
			}
		})
	}

	stored, _ := store.GetUserByUsername(ctx, "ada")
	if stored.LastLoginAt == nil || !stored.LastLoginAt.Equal(clk.Now()) {
		t.Errorf("LastLoginAt = %v, want %v", stored.LastLoginAt, clk.Now())
	}
}

func TestAuthenticate_RehashesBcrypt(t *testing.T) {
	t.Parallel()
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	legacy, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	_ = store.CreateUser(ctx, &model.User{ID: "u1", Username: "old", PasswordHash: string(legacy), IsActive: true})

	if _, err := svc.Authenticate(ctx, "old", "s3cret"); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	stored, _ := store.GetUserByUsername(ctx, "old")
	if !strings.HasPrefix(stored.PasswordHash, "$argon2id$") {
		t.Errorf("hash not upgraded: %q", stored.PasswordHash)
	}
	if ok, _ := auth.VerifyPassword("s3cret", stored.PasswordHash); !ok {
		t.Error("upgraded hash must verify the same password")
	}
}

type brokenStore struct{ *MemoryUserStore }

func (b brokenStore) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return nil, errors.New("connection reset")
}

func TestAuthenticate_StoreError(t *testing.T) {
	t.Parallel()

	svc := NewAuthService(brokenStore{NewMemoryUserStore()}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := svc.Authenticate(context.Background(), "ada", "pw")
	if err == nil || errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("store failure should surface as an internal error, got %v", err)
	}
}

func TestCreateUser(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, "grace", "pw")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if len(user.ID) != 26 || !user.IsActive {
		t.Errorf("CreateUser = %+v", user)
	}
	if user.PasswordHash == "pw" {
		t.Error("password must be stored hashed")
	}

	if _, err := svc.CreateUser(ctx, "grace", "pw"); !errors.Is(err, repository.ErrUsernameExists) {
		t.Errorf("duplicate error = %v, want ErrUsernameExists", err)
	}
	for _, name := range []string{" ", "nul\x00", "bad\xff", strings.Repeat("é", MaxUsernameLength+1)} {
		if _, err := svc.CreateUser(ctx, name, "pw"); !errors.Is(err, ErrInvalidUsername) {
			t.Errorf("CreateUser(%q) error = %v, want ErrInvalidUsername", name, err)
		}
	}
	// The limit counts characters, not bytes.
	if _, err := svc.CreateUser(ctx, strings.Repeat("é", MaxUsernameLength), "pw"); err != nil {
		t.Errorf("150-character username: %v", err)
	}
	if _, err := svc.CreateUser(ctx, "kim", ""); !errors.Is(err, auth.ErrEmptyPassword) {
		t.Errorf("empty password error = %v, want ErrEmptyPassword", err)
	}
}

func TestSetPassword(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, _ = svc.CreateUser(ctx, "ada", "first")
	if err := svc.SetPassword(ctx, "ada", "second"); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}

	if _, err := svc.Authenticate(ctx, "ada", "first"); !errors.Is(err, ErrInvalidCredentials) {
		t.Error("old password should stop working")
	}
	if _, err := svc.Authenticate(ctx, "ada", "second"); err != nil {
		t.Errorf("new password should work: %v", err)
	}
	if err := svc.SetPassword(ctx, "ghost", "x"); !errors.Is(err, repository.ErrUserNotFound) {
		t.Errorf("unknown user error = %v, want ErrUserNotFound", err)
	}
}

func TestListUsers(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, _ = svc.CreateUser(ctx, "zed", "pw")
	_, _ = svc.CreateUser(ctx, "amy", "pw")

	users, err := svc.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 2 || users[0].Username != "amy" {
		t.Errorf("ListUsers = %v", users)
	}
}
