package sqlite

import (
	"context"
	"time"

	"github.com/yszxh/gproxy/internal/storage"
)

// InsertDownstream stores a batch of client-facing traffic records inside one
// transaction.
func (s *Store) InsertDownstream(ctx context.Context, records []storage.DownstreamTraffic) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO downstream_traffic (at, method, path, protocol, model, status, req_headers, req_body, resp_body, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range records {
		if _, err = stmt.ExecContext(ctx, r.At.UTC().Format(timeLayout), r.Method, r.Path,
			r.Protocol, r.Model, r.Status, r.ReqHeaders, r.ReqBody, r.RespBody, r.DurationMs); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// InsertUpstream stores a batch of provider-facing traffic records.
func (s *Store) InsertUpstream(ctx context.Context, records []storage.UpstreamTraffic) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO upstream_traffic (at, provider, credential_id, model, url, status, req_headers, req_body, resp_body, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range records {
		if _, err = stmt.ExecContext(ctx, r.At.UTC().Format(timeLayout), r.Provider, r.CredentialID,
			r.Model, r.URL, r.Status, r.ReqHeaders, r.ReqBody, r.RespBody, r.DurationMs); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// InsertUsage stores a batch of usage summaries.
func (s *Store) InsertUsage(ctx context.Context, records []storage.UpstreamUsage) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO upstream_usages (at, provider, credential_id, model, input_tokens, output_tokens, cached_tokens, reasoning_tokens, total_tokens)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range records {
		if _, err = stmt.ExecContext(ctx, r.At.UTC().Format(timeLayout), r.Provider, r.CredentialID,
			r.Model, r.InputTokens, r.OutputTokens, r.CachedTokens, r.ReasoningTokens, r.TotalTokens); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// UsageByProvider aggregates usage per model for one provider since a cutoff.
func (s *Store) UsageByProvider(ctx context.Context, providerName string, since time.Time) ([]storage.UsageTotals, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT model, COUNT(*), SUM(input_tokens), SUM(output_tokens), SUM(cached_tokens), SUM(reasoning_tokens), SUM(total_tokens)
		 FROM upstream_usages WHERE provider=? AND at >= ?
		 GROUP BY model ORDER BY model ASC`,
		providerName, since.UTC().Format(timeLayout))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var totals []storage.UsageTotals
	for rows.Next() {
		var t storage.UsageTotals
		if err = rows.Scan(&t.Model, &t.Requests, &t.InputTokens, &t.OutputTokens,
			&t.CachedTokens, &t.ReasoningTokens, &t.TotalTokens); err != nil {
			return nil, err
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}
