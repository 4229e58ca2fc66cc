package sqlite

import (
	"context"
	"time"

	"github.com/yszxh/gproxy/internal/pool"
)

// UpsertDisallow stores a disallow mark, replacing any previous mark for the
// same credential and scope.
func (s *Store) UpsertDisallow(ctx context.Context, record pool.Record) error {
	var until any
	if !record.Until.IsZero() {
		until = record.Until.UTC().Format(timeLayout)
	}
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO credential_disallow (provider, credential_id, scope_kind, scope_value, level, until_at, reason, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (credential_id, scope_kind, scope_value)
		 DO UPDATE SET provider=excluded.provider, level=excluded.level,
		               until_at=excluded.until_at, reason=excluded.reason,
		               updated_at=excluded.updated_at`,
		record.Provider, record.CredentialID, scopeKindString(record.Scope.Kind),
		record.Scope.Model, record.Level.String(), until, record.Reason,
		record.UpdatedAt.UTC().Format(timeLayout),
	)
	return err
}

// ListDisallow returns the stored marks for a provider, used to rebuild pool
// state at startup.
func (s *Store) ListDisallow(ctx context.Context, providerName string) ([]pool.Record, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT provider, credential_id, scope_kind, scope_value, level, until_at, reason, updated_at
		 FROM credential_disallow WHERE provider=?`, providerName)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var records []pool.Record
	for rows.Next() {
		var r pool.Record
		var scopeKind, level, updatedAt string
		var until *string
		if err = rows.Scan(&r.Provider, &r.CredentialID, &scopeKind, &r.Scope.Model, &level, &until, &r.Reason, &updatedAt); err != nil {
			return nil, err
		}
		if scopeKind == "model" {
			r.Scope.Kind = pool.ScopeModel
		} else {
			r.Scope.Kind = pool.ScopeAllModels
			r.Scope.Model = ""
		}
		if level == "dead" {
			r.Level = pool.LevelDead
		} else {
			r.Level = pool.LevelTransient
		}
		if until != nil {
			r.Until, _ = time.Parse(timeLayout, *until)
		}
		r.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
		records = append(records, r)
	}
	return records, rows.Err()
}

// PruneDisallow removes expired transient marks.
func (s *Store) PruneDisallow(ctx context.Context, before time.Time) error {
	_, err := s.write.ExecContext(ctx,
		`DELETE FROM credential_disallow WHERE level='transient' AND until_at IS NOT NULL AND until_at < ?`,
		before.UTC().Format(timeLayout))
	return err
}

func scopeKindString(kind pool.ScopeKind) string {
	if kind == pool.ScopeModel {
		return "model"
	}
	return "all"
}
