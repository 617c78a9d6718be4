// Package auth provides API-key issuance and verification for the troupe
// gateway. Keys are presented as "trp_<id>.<secret>"; only a bcrypt hash of
// the secret is stored, so a leaked database does not leak usable keys.
package auth

import (
	"time"
)

// KeyPrefix is the literal prefix of every issued API key.
const KeyPrefix = "trp_"

// Key is the stored record of an issued API key. The secret itself is never
// stored and never leaves Issue.
type Key struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	KeyHash    string     `json:"-"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
	Revoked    bool       `json:"revoked"`
}

// AuthError is an authentication failure with a stable machine code.
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *AuthError) Error() string {
	return e.Message
}

// Common auth errors
var (
	ErrMissingKey  = &AuthError{Code: "MISSING_KEY", Message: "api key required"}
	ErrInvalidKey  = &AuthError{Code: "INVALID_KEY", Message: "invalid api key"}
	ErrKeyRevoked  = &AuthError{Code: "KEY_REVOKED", Message: "api key has been revoked"}
	ErrKeyNotFound = &AuthError{Code: "KEY_NOT_FOUND", Message: "api key not found"}
	ErrKeyExists   = &AuthError{Code: "KEY_EXISTS", Message: "key name already in use"}
)

// Config holds key-issuance configuration.
type Config struct {
	// BcryptCost is the cost factor for hashing key secrets.
	BcryptCost int
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		BcryptCost: 10,
	}
}
