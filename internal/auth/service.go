package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Service provides API-key issuance and verification.
type Service struct {
	store  *Store
	config *Config
}

// NewService creates a new auth service.
func NewService(store *Store, config *Config) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	return &Service{
		store:  store,
		config: config,
	}
}

// Issue creates a new API key under the given name and returns the plaintext
// key exactly once. The caller must show it to the operator immediately; it
// cannot be recovered later.
func (s *Service) Issue(ctx context.Context, name string) (string, *Key, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil, fmt.Errorf("key name required")
	}

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, fmt.Errorf("generate key secret: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), s.config.BcryptCost)
	if err != nil {
		return "", nil, fmt.Errorf("hash key secret: %w", err)
	}

	key := &Key{
		ID:      uuid.New().String(),
		Name:    name,
		KeyHash: string(hash),
	}
	if err := s.store.CreateKey(ctx, key); err != nil {
		return "", nil, err
	}

	plaintext := KeyPrefix + key.ID + "." + secret
	return plaintext, key, nil
}

// Verify checks a presented API key and returns its record. The key ID is
// parsed out of the presented string, so verification costs one indexed
// lookup plus one bcrypt compare regardless of how many keys exist.
func (s *Service) Verify(ctx context.Context, presented string) (*Key, error) {
	id, secret, err := splitKey(presented)
	if err != nil {
		return nil, err
	}

	key, err := s.store.GetKey(ctx, id)
	if err != nil {
		if err == ErrKeyNotFound {
			return nil, ErrInvalidKey
		}
		return nil, err
	}

	if key.Revoked {
		return nil, ErrKeyRevoked
	}

	if err := bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(secret)); err != nil {
		return nil, ErrInvalidKey
	}

	// Best effort; a failed touch must not fail the request.
	_ = s.store.TouchLastUsed(ctx, key.ID)

	return key, nil
}

// Revoke permanently disables a key, addressed by ID or by name.
func (s *Service) Revoke(ctx context.Context, idOrName string) (*Key, error) {
	key, err := s.store.GetKey(ctx, idOrName)
	if err == ErrKeyNotFound {
		key, err = s.store.GetKeyByName(ctx, idOrName)
	}
	if err != nil {
		return nil, err
	}

	if err := s.store.RevokeKey(ctx, key.ID); err != nil {
		return nil, err
	}
	key.Revoked = true
	return key, nil
}

// Keys lists all issued keys, newest first.
func (s *Service) Keys(ctx context.Context) ([]Key, error) {
	return s.store.ListKeys(ctx)
}

// splitKey parses "trp_<id>.<secret>" into its parts.
func splitKey(presented string) (id, secret string, err error) {
	if presented == "" {
		return "", "", ErrMissingKey
	}
	if !strings.HasPrefix(presented, KeyPrefix) {
		return "", "", ErrInvalidKey
	}

	rest := strings.TrimPrefix(presented, KeyPrefix)
	id, secret, ok := strings.Cut(rest, ".")
	if !ok || id == "" || secret == "" {
		return "", "", ErrInvalidKey
	}

	return id, secret, nil
}
