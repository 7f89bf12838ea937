package model

import "time"

// AuthEventKind enumerates authentication audit events.
type AuthEventKind string

// Auth event kinds.
const (
	AuthEventLoginSucceeded AuthEventKind = "login_succeeded"
	AuthEventLoginFailed    AuthEventKind = "login_failed"
	AuthEventLogout         AuthEventKind = "logout"
)

// Valid reports whether k is a known event kind.
func (k AuthEventKind) Valid() bool {
	switch k {
	case AuthEventLoginSucceeded, AuthEventLoginFailed, AuthEventLogout:
		return true
	default:
		return false
	}
}

// AuthEvent is a persisted authentication audit record.
type AuthEvent struct {
	ID         string        `json:"id"`
	EventID    string        `json:"event_id"` // Redis stream ID, idempotency key
	Kind       AuthEventKind `json:"kind"`
	Username   string        `json:"username"`
	UserID     string        `json:"user_id,omitempty"`
	IPHash     string        `json:"ip_hash"`
	UserAgent  string        `json:"user_agent,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}
