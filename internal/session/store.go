// Package session manages server-side login sessions and the signed cookie
// that references them.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/cgpacalc/cgpacalc/internal/clock"
	"github.com/cgpacalc/cgpacalc/internal/model"
)

// Store persists sessions by token.
// Get returns (nil, nil) when the token is unknown.
type Store interface {
	Save(ctx context.Context, sess *model.Session, ttl time.Duration) error
	Get(ctx context.Context, token string) (*model.Session, error)
	Delete(ctx context.Context, token string) error
}

type memoryEntry struct {
	sess     model.Session
	deadline time.Time
}

// MemoryStore keeps sessions in process memory.
// Used for tests and single-instance development setups.
type MemoryStore struct {
	clock   clock.Clock
	mu      sync.Mutex
	entries map[string]memoryEntry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.Real{}
	}
	return &MemoryStore{
		clock:   clk,
		entries: make(map[string]memoryEntry),
	}
}

// Save stores a copy of sess for ttl.
func (m *MemoryStore) Save(ctx context.Context, sess *model.Session, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[sess.Token] = memoryEntry{sess: *sess, deadline: m.clock.Now().Add(ttl)}
	return nil
}

// Get returns a copy of the session, evicting it if its TTL has passed.
func (m *MemoryStore) Get(ctx context.Context, token string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[token]
	if !ok {
		return nil, nil
	}
	if !m.clock.Now().Before(entry.deadline) {
		delete(m.entries, token)
		return nil, nil
	}
	sess := entry.sess
	return &sess, nil
}

// Delete removes the session. Deleting an unknown token is not an error.
func (m *MemoryStore) Delete(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, token)
	return nil
}

// Len returns the number of stored sessions, expired or not.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
