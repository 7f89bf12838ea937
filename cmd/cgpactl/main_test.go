package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/cgpacalc/cgpacalc/internal/clock"
	"github.com/cgpacalc/cgpacalc/internal/repository"
	"github.com/cgpacalc/cgpacalc/internal/service"
)

type fakeMigrator struct {
	version uint
	applied bool
	downs   int
	closed  bool
	upErr   error
}

func (f *fakeMigrator) Up() error {
	if f.upErr != nil {
		return f.upErr
	}
	f.version, f.applied = 2, true
	return nil
}

func (f *fakeMigrator) Down() error {
	f.downs++
	f.version, f.applied = 0, false
	return nil
}

func (f *fakeMigrator) Version() (uint, bool, bool, error) {
	return f.version, false, f.applied, nil
}

func (f *fakeMigrator) Close() error {
	f.closed = true
	return nil
}

func testDeps(svc *service.AuthService, m *fakeMigrator) deps {
	return deps{
		openAccounts: func(ctx context.Context) (accounts, func(), error) {
			return svc, func() {}, nil
		},
		openMigrator: func() (migrator, error) {
			return m, nil
		},
	}
}

func newTestService() *service.AuthService {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return service.NewAuthService(service.NewMemoryUserStore(), clock.Real{}, logger)
}

func run(t *testing.T, d deps, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(d)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestMigrate(t *testing.T) {
	t.Parallel()

	m := &fakeMigrator{}
	d := testDeps(newTestService(), m)

	out, err := run(t, d, "", "migrate", "version")
	if err != nil {
		t.Fatalf("migrate version: %v", err)
	}
	if !strings.Contains(out, "No migrations applied.") {
		t.Errorf("unexpected output: %s", out)
	}

	out, err = run(t, d, "", "migrate")
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !strings.Contains(out, "Schema version 2.") {
		t.Errorf("unexpected output: %s", out)
	}
	if !m.closed {
		t.Error("migrator should be closed")
	}

	if _, err := run(t, d, "", "migrate", "down"); err != nil {
		t.Fatalf("migrate down: %v", err)
	}
	if m.downs != 1 {
		t.Errorf("expected one rollback, got %d", m.downs)
	}
}

func TestMigrate_Error(t *testing.T) {
	t.Parallel()

	boom := errors.New("dirty database version 1")
	m := &fakeMigrator{upErr: boom}

	_, err := run(t, testDeps(newTestService(), m), "", "migrate")
	if !errors.Is(err, boom) {
		t.Errorf("expected %v, got %v", boom, err)
	}
	if !m.closed {
		t.Error("migrator should be closed on error")
	}
}

func TestCreateUserAndAuthenticate(t *testing.T) {
	t.Parallel()

	svc := newTestService()
	d := testDeps(svc, &fakeMigrator{})

	out, err := run(t, d, "", "createuser", "--username", "ada", "--password", "correct horse")
	if err != nil {
		t.Fatalf("createuser: %v", err)
	}
	if !strings.Contains(out, `Created user "ada"`) {
		t.Errorf("unexpected output: %s", out)
	}

	if _, err := svc.Authenticate(context.Background(), "ada", "correct horse"); err != nil {
		t.Errorf("new user cannot sign in: %v", err)
	}

	_, err = run(t, d, "", "createuser", "--username", "ada", "--password", "again")
	if !errors.Is(err, repository.ErrUsernameExists) {
		t.Errorf("expected ErrUsernameExists, got %v", err)
	}
}

func TestCreateUser_PasswordFromStdin(t *testing.T) {
	t.Parallel()

	svc := newTestService()
	d := testDeps(svc, &fakeMigrator{})

	if _, err := run(t, d, "piped secret\n", "createuser", "--username", "grace"); err != nil {
		t.Fatalf("createuser: %v", err)
	}
	if _, err := svc.Authenticate(context.Background(), "grace", "piped secret"); err != nil {
		t.Errorf("stdin password not used: %v", err)
	}
}

func TestCreateUser_MissingPassword(t *testing.T) {
	t.Parallel()

	_, err := run(t, testDeps(newTestService(), &fakeMigrator{}), "", "createuser", "--username", "grace")
	if !errors.Is(err, errPasswordRequired) {
		t.Errorf("expected errPasswordRequired, got %v", err)
	}
}

func TestCreateUser_UsernameRequired(t *testing.T) {
	t.Parallel()

	if _, err := run(t, testDeps(newTestService(), &fakeMigrator{}), "", "createuser", "--password", "x"); err == nil {
		t.Error("expected error without --username")
	}
}

func TestChangePasswordAndDeactivate(t *testing.T) {
	t.Parallel()

	svc := newTestService()
	d := testDeps(svc, &fakeMigrator{})
	ctx := context.Background()

	if _, err := run(t, d, "", "createuser", "--username", "ada", "--password", "old password"); err != nil {
		t.Fatalf("createuser: %v", err)
	}

	if _, err := run(t, d, "new password\n", "changepassword", "--username", "ada"); err != nil {
		t.Fatalf("changepassword: %v", err)
	}
	if _, err := svc.Authenticate(ctx, "ada", "old password"); !errors.Is(err, service.ErrInvalidCredentials) {
		t.Errorf("old password still works: %v", err)
	}
	if _, err := svc.Authenticate(ctx, "ada", "new password"); err != nil {
		t.Errorf("new password rejected: %v", err)
	}

	if _, err := run(t, d, "", "deactivate", "--username", "ada"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := svc.Authenticate(ctx, "ada", "new password"); !errors.Is(err, service.ErrInactiveUser) {
		t.Errorf("expected ErrInactiveUser, got %v", err)
	}

	if _, err := run(t, d, "", "activate", "--username", "ada"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if _, err := svc.Authenticate(ctx, "ada", "new password"); err != nil {
		t.Errorf("reactivated user rejected: %v", err)
	}
}

func TestChangePassword_UnknownUser(t *testing.T) {
	t.Parallel()

	_, err := run(t, testDeps(newTestService(), &fakeMigrator{}), "", "changepassword", "--username", "nobody", "--password", "x")
	if !errors.Is(err, repository.ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}

func TestUsersTable(t *testing.T) {
	t.Parallel()

	svc := newTestService()
	d := testDeps(svc, &fakeMigrator{})

	for _, name := range []string{"alice", "bob"} {
		if _, err := run(t, d, "", "createuser", "--username", name, "--password", "pw-"+name); err != nil {
			t.Fatalf("createuser %s: %v", name, err)
		}
	}

	out, err := run(t, d, "", "users")
	if err != nil {
		t.Fatalf("users: %v", err)
	}
	for _, want := range []string{"USERNAME", "alice", "bob", "never", "2 USERS"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
