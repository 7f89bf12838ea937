package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cgpacalc/cgpacalc/internal/model"
	"github.com/cgpacalc/cgpacalc/internal/repository"
)

// MemoryUserStore is an in-process UserStore used by tests and
// database-free development runs.
type MemoryUserStore struct {
	mu    sync.Mutex
	users map[string]*model.User // by username
}

// NewMemoryUserStore creates an empty store.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[string]*model.User)}
}

func (m *MemoryUserStore) CreateUser(ctx context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.Username]; ok {
		return repository.ErrUsernameExists
	}
	u := *user
	m.users[user.Username] = &u
	return nil
}

func (m *MemoryUserStore) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryUserStore) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (m *MemoryUserStore) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	return m.update(id, func(u *model.User) { u.LastLoginAt = &at })
}

func (m *MemoryUserStore) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return m.update(id, func(u *model.User) { u.PasswordHash = hash })
}

func (m *MemoryUserStore) SetUserActive(ctx context.Context, username string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.IsActive = active
	return nil
}

func (m *MemoryUserStore) ListUsers(ctx context.Context) ([]*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.User, 0, len(m.users))
	for _, u := range m.users {
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (m *MemoryUserStore) update(id string, fn func(u *model.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			fn(u)
			return nil
		}
	}
	return repository.ErrUserNotFound
}
