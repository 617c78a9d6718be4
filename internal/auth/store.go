package auth

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Store provides database operations for API keys. It shares the engine's
// SQLite handle; the api_keys table is created by the store migrations.
type Store struct {
	db *sql.DB
}

// NewStore creates a new auth store with the given database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateKey inserts a new API key record.
func (s *Store) CreateKey(ctx context.Context, key *Key) error {
	query := `
		INSERT INTO api_keys (id, name, key_hash, created_at, revoked)
		VALUES (?, ?, ?, ?, ?)
	`

	key.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, query,
		key.ID,
		key.Name,
		key.KeyHash,
		key.CreatedAt,
		boolToInt(key.Revoked),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrKeyExists
		}
		return fmt.Errorf("insert api key: %w", err)
	}

	return nil
}

// GetKey retrieves a key by its ID.
func (s *Store) GetKey(ctx context.Context, id string) (*Key, error) {
	query := `
		SELECT id, name, key_hash, created_at, last_used_at, revoked
		FROM api_keys
		WHERE id = ?
	`

	return s.scanKey(s.db.QueryRowContext(ctx, query, id))
}

// GetKeyByName retrieves a key by its unique name.
func (s *Store) GetKeyByName(ctx context.Context, name string) (*Key, error) {
	query := `
		SELECT id, name, key_hash, created_at, last_used_at, revoked
		FROM api_keys
		WHERE name = ?
	`

	return s.scanKey(s.db.QueryRowContext(ctx, query, name))
}

// ListKeys returns every key record, newest first.
func (s *Store) ListKeys(ctx context.Context) ([]Key, error) {
	query := `
		SELECT id, name, key_hash, created_at, last_used_at, revoked
		FROM api_keys
		ORDER BY created_at DESC, id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query api keys: %w", err)
	}
	defer rows.Close()

	var keys []Key
	for rows.Next() {
		var (
			key      Key
			lastUsed sql.NullTime
			revoked  int
		)
		if err := rows.Scan(&key.ID, &key.Name, &key.KeyHash, &key.CreatedAt, &lastUsed, &revoked); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		if lastUsed.Valid {
			key.LastUsedAt = &lastUsed.Time
		}
		key.Revoked = revoked == 1
		keys = append(keys, key)
	}

	return keys, rows.Err()
}

// RevokeKey marks a key as revoked. Revocation is permanent.
func (s *Store) RevokeKey(ctx context.Context, id string) error {
	query := `UPDATE api_keys SET revoked = 1 WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrKeyNotFound
	}

	return nil
}

// TouchLastUsed updates the last-used timestamp for a key.
func (s *Store) TouchLastUsed(ctx context.Context, id string) error {
	query := `UPDATE api_keys SET last_used_at = ? WHERE id = ?`

	_, err := s.db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("touch api key: %w", err)
	}

	return nil
}

func (s *Store) scanKey(row *sql.Row) (*Key, error) {
	var (
		key      Key
		lastUsed sql.NullTime
		revoked  int
	)

	err := row.Scan(&key.ID, &key.Name, &key.KeyHash, &key.CreatedAt, &lastUsed, &revoked)
	if err == sql.ErrNoRows {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan api key: %w", err)
	}

	if lastUsed.Valid {
		key.LastUsedAt = &lastUsed.Time
	}
	key.Revoked = revoked == 1
	return &key, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
