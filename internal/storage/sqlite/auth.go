package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/yszxh/gproxy/internal/storage"
)

// CreateUser inserts a management user.
func (s *Store) CreateUser(ctx context.Context, u *storage.User) error {
	u.CreatedAt = time.Now().UTC()
	result, err := s.write.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)`,
		u.Username, u.PasswordHash, u.CreatedAt.Format(timeLayout))
	if err != nil {
		return err
	}
	u.ID, err = result.LastInsertId()
	return err
}

// GetUserByName retrieves a user by username. Missing users return nil, nil.
func (s *Store) GetUserByName(ctx context.Context, username string) (*storage.User, error) {
	var u storage.User
	var createdAt string
	err := s.read.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE username=?`,
		username).Scan(&u.ID, &u.Username, &u.PasswordHash, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return &u, nil
}

// CreateAPIKey inserts a downstream API key.
func (s *Store) CreateAPIKey(ctx context.Context, k *storage.APIKey) error {
	k.CreatedAt = time.Now().UTC()
	result, err := s.write.ExecContext(ctx,
		`INSERT INTO api_keys (key, name, created_at) VALUES (?, ?, ?)`,
		k.Key, k.Name, k.CreatedAt.Format(timeLayout))
	if err != nil {
		return err
	}
	k.ID, err = result.LastInsertId()
	return err
}

// ListAPIKeys returns every downstream API key.
func (s *Store) ListAPIKeys(ctx context.Context) ([]*storage.APIKey, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, key, name, created_at FROM api_keys ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var keys []*storage.APIKey
	for rows.Next() {
		var k storage.APIKey
		var createdAt string
		if err = rows.Scan(&k.ID, &k.Key, &k.Name, &createdAt); err != nil {
			return nil, err
		}
		k.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

// DeleteAPIKey removes a downstream API key.
func (s *Store) DeleteAPIKey(ctx context.Context, id int64) error {
	result, err := s.write.ExecContext(ctx, `DELETE FROM api_keys WHERE id=?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "api key")
}

// SetGlobalConfig stores a key-value pair, replacing any existing value.
func (s *Store) SetGlobalConfig(ctx context.Context, key, value string) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO global_config (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value=excluded.value`, key, value)
	return err
}

// GetGlobalConfig returns the stored value, or empty when the key is absent.
func (s *Store) GetGlobalConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := s.read.QueryRowContext(ctx,
		`SELECT value FROM global_config WHERE key=?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}
