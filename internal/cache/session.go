package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cgpacalc/cgpacalc/internal/model"
)

// sessionPrefix is the Redis key prefix for login sessions.
const sessionPrefix = "session:"

// SessionStore keeps login sessions in Redis as JSON with a TTL.
// It satisfies session.Store.
type SessionStore struct {
	client *redis.Client
}

// Sessions returns a SessionStore sharing this cache's client.
func (c *Cache) Sessions() *SessionStore {
	return &SessionStore{client: c.client}
}

// SessionKey returns the Redis key for a session token.
func SessionKey(token string) string {
	return sessionPrefix + token
}

// Save writes the session with the given TTL, replacing any previous value.
func (s *SessionStore) Save(ctx context.Context, sess *model.Session, ttl time.Duration) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return s.client.Set(ctx, SessionKey(sess.Token), data, ttl).Err()
}

// Get returns the session for token.
// Returns nil if not found. A corrupted entry is treated as a miss.
func (s *SessionStore) Get(ctx context.Context, token string) (*model.Session, error) {
	data, err := s.client.Get(ctx, SessionKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var sess model.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, nil //nolint:nilerr
	}
	return &sess, nil
}

// Delete removes the session. Missing keys are ignored.
func (s *SessionStore) Delete(ctx context.Context, token string) error {
	return s.client.Del(ctx, SessionKey(token)).Err()
}
