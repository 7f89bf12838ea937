package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
)

// Session token format: sess_{64 hex chars}
const (
	sessionTokenPrefix = "sess_"
	SessionTokenBytes  = 32
	CSRFTokenBytes     = 32
)

var (
	// ErrInvalidTokenFormat indicates the token format is invalid.
	ErrInvalidTokenFormat = errors.New("invalid session token format")

	sessionTokenRegex = regexp.MustCompile(`^sess_[a-f0-9]{64}$`)
	csrfTokenRegex    = regexp.MustCompile(`^[a-f0-9]{64}$`)
)

// GenerateSessionToken creates a new opaque session token.
func GenerateSessionToken() (string, error) {
	secret, err := randomHex(SessionTokenBytes)
	if err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return sessionTokenPrefix + secret, nil
}

// ValidateSessionToken checks if the token matches the expected format.
func ValidateSessionToken(token string) error {
	if !sessionTokenRegex.MatchString(token) {
		return ErrInvalidTokenFormat
	}
	return nil
}

// GenerateCSRFToken creates a new CSRF token.
func GenerateCSRFToken() (string, error) {
	token, err := randomHex(CSRFTokenBytes)
	if err != nil {
		return "", fmt.Errorf("generate csrf token: %w", err)
	}
	return token, nil
}

// ValidCSRFToken reports whether the token has the expected shape.
func ValidCSRFToken(token string) bool {
	return csrfTokenRegex.MatchString(token)
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
