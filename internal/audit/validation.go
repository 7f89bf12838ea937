package audit

import (
	"errors"
	"unicode/utf8"

	"github.com/cgpacalc/cgpacalc/internal/model"
)

const (
	maxUsernameLength = 150
	ipHashLength      = 16
)

// ValidateEventPayload validates payload fields before persistence.
func ValidateEventPayload(payload EventPayload) error {
	if !model.AuthEventKind(payload.Kind).Valid() {
		return errors.New("unknown event kind")
	}
	if utf8.RuneCountInString(payload.Username) > maxUsernameLength {
		return errors.New("username too long")
	}
	if payload.Kind == string(model.AuthEventLoginSucceeded) && payload.UserID == "" {
		return errors.New("user_id is required for login_succeeded")
	}
	if len(payload.IPHash) != ipHashLength || !isHex(payload.IPHash) {
		return errors.New("ip_hash must be 16 hex chars")
	}
	if len(payload.UserAgent) > maxUserAgentLength {
		return errors.New("user_agent too long")
	}
	if !utf8.ValidString(payload.UserAgent) {
		return errors.New("user_agent must be valid UTF-8")
	}
	if payload.OccurredAt <= 0 {
		return errors.New("occurred_at must be set")
	}
	return nil
}

func isHex(value string) bool {
	for i := 0; i < len(value); i++ {
		ch := value[i]
		if (ch >= '0' && ch <= '9') || (ch >= 'a' && ch <= 'f') {
			continue
		}
		return false
	}
	return true
}
