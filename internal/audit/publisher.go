// Package audit records authentication events on a Redis stream and
// persists them to PostgreSQL in the background.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/redis/go-redis/v9"

	"github.com/cgpacalc/cgpacalc/internal/metrics"
	"github.com/cgpacalc/cgpacalc/internal/model"
)

const (
	// StreamKey is the Redis stream for auth events.
	StreamKey = "stream:auth_events"

	// DeadLetterStreamKey is the Redis stream for poison messages.
	DeadLetterStreamKey = "stream:auth_events:dlq"

	// MaxStreamLen is the approximate max length of the stream.
	MaxStreamLen = 100000

	// PublishTimeout is the max time to wait for Redis publish.
	PublishTimeout = 100 * time.Millisecond

	maxUserAgentLength = 500
)

// EventPayload is the compact event format carried on the stream.
type EventPayload struct {
	Kind       string `json:"k"`
	Username   string `json:"u,omitempty"`
	UserID     string `json:"uid,omitempty"`
	IPHash     string `json:"ip"`
	UserAgent  string `json:"ua,omitempty"`
	OccurredAt int64  `json:"t"` // Unix milliseconds
}

// NewEventPayload builds a payload, hashing the client IP and truncating
// the user agent.
func NewEventPayload(kind model.AuthEventKind, username, userID, ip, userAgent string, at time.Time) EventPayload {
	return EventPayload{
		Kind:       string(kind),
		Username:   username,
		UserID:     userID,
		IPHash:     HashClientIP(ip, at),
		UserAgent:  TruncateUserAgent(userAgent),
		OccurredAt: at.UnixMilli(),
	}
}

// Publisher enqueues auth events to the Redis stream.
// A nil *Publisher discards events.
type Publisher struct {
	redis   *redis.Client
	logger  *slog.Logger
	metrics metrics.Recorder
}

// NewPublisher creates a new audit event publisher.
func NewPublisher(client *redis.Client, logger *slog.Logger, recorder metrics.Recorder) *Publisher {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Publisher{
		redis:   client,
		logger:  logger.With("component", "audit.publisher"),
		metrics: recorder,
	}
}

// Publish adds an event to the stream synchronously.
func (p *Publisher) Publish(ctx context.Context, event EventPayload) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	id, err := p.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		MaxLen: MaxStreamLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"payload": string(data),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}
	return id, nil
}

// PublishAsync publishes without blocking the caller.
// Errors are logged but not returned (fire-and-forget).
func (p *Publisher) PublishAsync(event EventPayload) {
	if p == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), PublishTimeout)
		defer cancel()

		streamID, err := p.Publish(ctx, event)
		if err != nil {
			p.logger.Warn("failed to publish auth event",
				"kind", event.Kind,
				"error", err,
			)
			p.metrics.IncAuditEventPublished("dropped")
			return
		}

		p.logger.Debug("auth event published",
			"kind", event.Kind,
			"stream_id", streamID,
		)
		p.metrics.IncAuditEventPublished("success")
	}()
}

// HashClientIP creates a privacy-safe client identifier.
// SHA256(IP + daily salt) truncated to 16 hex chars; the salt rotates at
// midnight UTC so hashes cannot be joined across days.
func HashClientIP(ip string, at time.Time) string {
	salt := "cgpacalc:" + at.UTC().Format("2006-01-02")
	hash := sha256.Sum256([]byte(ip + salt))
	return hex.EncodeToString(hash[:8])
}

// TruncateUserAgent returns ua as valid UTF-8, cut on a rune boundary to
// at most 500 bytes. The result survives a JSON round trip unchanged.
func TruncateUserAgent(ua string) string {
	ua = strings.ToValidUTF8(ua, "\uFFFD")
	if len(ua) <= maxUserAgentLength {
		return ua
	}
	cut := maxUserAgentLength
	for cut > 0 && !utf8.RuneStart(ua[cut]) {
		cut--
	}
	return ua[:cut]
}
