package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/yszxh/gproxy/internal/credential"
	"github.com/yszxh/gproxy/internal/storage"
)

const timeLayout = time.RFC3339Nano

// CreateProvider inserts a new provider and assigns its ID.
func (s *Store) CreateProvider(ctx context.Context, p *storage.Provider) error {
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	result, err := s.write.ExecContext(ctx,
		`INSERT INTO providers (name, kind, base_url, protocol, prefix, enabled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Name, p.Kind, p.BaseURL, p.Protocol, p.Prefix, boolToInt(p.Enabled),
		now.Format(timeLayout), now.Format(timeLayout),
	)
	if err != nil {
		return err
	}
	p.ID, err = result.LastInsertId()
	return err
}

const providerColumns = `id, name, kind, base_url, protocol, prefix, enabled, created_at, updated_at`

// GetProvider retrieves a provider by ID.
func (s *Store) GetProvider(ctx context.Context, id int64) (*storage.Provider, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT `+providerColumns+` FROM providers WHERE id=?`, id)
	return scanProvider(row)
}

// GetProviderByName retrieves a provider by its unique name.
func (s *Store) GetProviderByName(ctx context.Context, name string) (*storage.Provider, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT `+providerColumns+` FROM providers WHERE name=?`, name)
	return scanProvider(row)
}

// ListProviders returns all providers ordered by name.
func (s *Store) ListProviders(ctx context.Context) ([]*storage.Provider, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT `+providerColumns+` FROM providers ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var providers []*storage.Provider
	for rows.Next() {
		p, errScan := scanProvider(rows)
		if errScan != nil {
			return nil, errScan
		}
		providers = append(providers, p)
	}
	return providers, rows.Err()
}

// UpdateProvider updates a provider row.
func (s *Store) UpdateProvider(ctx context.Context, p *storage.Provider) error {
	p.UpdatedAt = time.Now().UTC()
	result, err := s.write.ExecContext(ctx,
		`UPDATE providers SET name=?, kind=?, base_url=?, protocol=?, prefix=?, enabled=?, updated_at=? WHERE id=?`,
		p.Name, p.Kind, p.BaseURL, p.Protocol, p.Prefix, boolToInt(p.Enabled),
		p.UpdatedAt.Format(timeLayout), p.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "provider")
}

// DeleteProvider removes a provider and, via foreign keys, its credentials.
func (s *Store) DeleteProvider(ctx context.Context, id int64) error {
	result, err := s.write.ExecContext(ctx, `DELETE FROM providers WHERE id=?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "provider")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProvider(row rowScanner) (*storage.Provider, error) {
	var p storage.Provider
	var enabled int
	var createdAt, updatedAt string
	err := row.Scan(&p.ID, &p.Name, &p.Kind, &p.BaseURL, &p.Protocol, &p.Prefix, &enabled, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	p.Enabled = enabled != 0
	p.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	p.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return &p, nil
}

// CreateCredential inserts a credential and assigns its ID.
func (s *Store) CreateCredential(ctx context.Context, c *credential.Credential) error {
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	meta, err := marshalMeta(c.Meta)
	if err != nil {
		return err
	}
	result, err := s.write.ExecContext(ctx,
		`INSERT INTO credentials (provider_id, name, secret, meta, weight, enabled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ProviderID, c.Name, string(c.Secret.Encode()), meta, c.Weight, boolToInt(c.Enabled),
		now.Format(timeLayout), now.Format(timeLayout),
	)
	if err != nil {
		return err
	}
	c.ID, err = result.LastInsertId()
	return err
}

const credentialColumns = `id, provider_id, name, secret, meta, weight, enabled, created_at, updated_at`

// GetCredential retrieves a credential by ID.
func (s *Store) GetCredential(ctx context.Context, id int64) (*credential.Credential, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE id=?`, id)
	return scanCredential(row)
}

// ListCredentials returns all credentials of a provider.
func (s *Store) ListCredentials(ctx context.Context, providerID int64) ([]*credential.Credential, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE provider_id=? ORDER BY id ASC`, providerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var credentials []*credential.Credential
	for rows.Next() {
		c, errScan := scanCredential(rows)
		if errScan != nil {
			return nil, errScan
		}
		credentials = append(credentials, c)
	}
	return credentials, rows.Err()
}

// UpdateCredential rewrites every mutable field of a credential.
func (s *Store) UpdateCredential(ctx context.Context, c *credential.Credential) error {
	c.UpdatedAt = time.Now().UTC()
	meta, err := marshalMeta(c.Meta)
	if err != nil {
		return err
	}
	result, err := s.write.ExecContext(ctx,
		`UPDATE credentials SET name=?, secret=?, meta=?, weight=?, enabled=?, updated_at=? WHERE id=?`,
		c.Name, string(c.Secret.Encode()), meta, c.Weight, boolToInt(c.Enabled),
		c.UpdatedAt.Format(timeLayout), c.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "credential")
}

// UpdateCredentialSecret replaces only the secret, used after token refresh.
func (s *Store) UpdateCredentialSecret(ctx context.Context, id int64, secret credential.Secret) error {
	result, err := s.write.ExecContext(ctx,
		`UPDATE credentials SET secret=?, updated_at=? WHERE id=?`,
		string(secret.Encode()), time.Now().UTC().Format(timeLayout), id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "credential")
}

// UpdateCredentialMeta replaces only the meta map.
func (s *Store) UpdateCredentialMeta(ctx context.Context, id int64, m credential.Meta) error {
	meta, err := marshalMeta(m)
	if err != nil {
		return err
	}
	result, err := s.write.ExecContext(ctx,
		`UPDATE credentials SET meta=?, updated_at=? WHERE id=?`,
		meta, time.Now().UTC().Format(timeLayout), id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "credential")
}

// DeleteCredential removes a credential.
func (s *Store) DeleteCredential(ctx context.Context, id int64) error {
	result, err := s.write.ExecContext(ctx, `DELETE FROM credentials WHERE id=?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "credential")
}

func scanCredential(row rowScanner) (*credential.Credential, error) {
	var c credential.Credential
	var secret, meta, createdAt, updatedAt string
	var enabled int
	err := row.Scan(&c.ID, &c.ProviderID, &c.Name, &secret, &meta, &c.Weight, &enabled, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	c.Enabled = enabled != 0
	if c.Secret, err = credential.ParseSecret([]byte(secret)); err != nil {
		return nil, fmt.Errorf("credential %d: %w", c.ID, err)
	}
	if meta != "" && meta != "{}" {
		if errMeta := json.Unmarshal([]byte(meta), &c.Meta); errMeta != nil {
			return nil, fmt.Errorf("credential %d meta: %w", c.ID, errMeta)
		}
	}
	c.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	c.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return &c, nil
}

func marshalMeta(m credential.Meta) (string, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
