package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

const (
	// SessionIDLength is the number of random bytes in a session id (256 bits)
	SessionIDLength = 32
	// fingerprintLength is how much of an id may appear in logs
	fingerprintLength = 8
)

// SessionIDGenerator generates and validates session identifiers
type SessionIDGenerator struct{}

// NewSessionIDGenerator creates a new session id generator
func NewSessionIDGenerator() *SessionIDGenerator {
	return &SessionIDGenerator{}
}

// GenerateID creates a new session id
// Format: base64url(32 random bytes), no padding
func (g *SessionIDGenerator) GenerateID() (string, error) {
	randomBytes := make([]byte, SessionIDLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(randomBytes), nil
}

// ValidateIDFormat checks if a session id has the correct format.
// Anything else is rejected before it can reach a store as a file name or key.
func (g *SessionIDGenerator) ValidateIDFormat(id string) error {
	if id == "" {
		return fmt.Errorf("session id is empty")
	}

	decoded, err := base64.RawURLEncoding.DecodeString(id)
	if err != nil {
		return fmt.Errorf("invalid session id encoding: %w", err)
	}
	if len(decoded) != SessionIDLength {
		return fmt.Errorf("session id has %d bytes, want %d", len(decoded), SessionIDLength)
	}

	return nil
}

// Fingerprint returns the loggable prefix of a session id
func Fingerprint(id string) string {
	if len(id) <= fingerprintLength {
		return id
	}
	return id[:fingerprintLength]
}
