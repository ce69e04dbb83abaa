package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/overseer-dev/overseer/internal/domain"
)

// GetIdempotencyEntry looks up a cached response by (key, scopeHash),
// regardless of TTL expiry; callers check ExpiresAt themselves (spec §4.8).
func (s *Store) GetIdempotencyEntry(ctx context.Context, key, scopeHash string) (*domain.IdempotencyEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT key,scope_hash,method,path,request_hash,response_status,response_body,created_at,expires_at
		 FROM idempotency_entries WHERE key=? AND scope_hash=?`, key, scopeHash)
	var e domain.IdempotencyEntry
	var created, expires string
	if err := row.Scan(&e.Key, &e.ScopeHash, &e.Method, &e.Path, &e.RequestHash, &e.ResponseStatus, &e.ResponseBody, &created, &expires); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read idempotency entry: %w", err)
	}
	e.CreatedAt = parseTime(created)
	e.ExpiresAt = parseTime(expires)
	return &e, nil
}

func (t *Txn) InsertIdempotencyEntry(e *domain.IdempotencyEntry) error {
	_, err := t.tx.Exec(
		`INSERT INTO idempotency_entries (key, scope_hash, method, path, request_hash, response_status, response_body, created_at, expires_at)
		 VALUES (?,?,?,?,?,?,?,?,?)`,
		e.Key, e.ScopeHash, e.Method, e.Path, e.RequestHash, e.ResponseStatus, e.ResponseBody, fmtTime(e.CreatedAt), fmtTime(e.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert idempotency entry: %w", err)
	}
	return nil
}

// SweepExpiredIdempotencyEntries deletes entries past their TTL (spec
// §4.8 "TTL cleanup runs at startup and periodically").
func (s *Store) SweepExpiredIdempotencyEntries(ctx context.Context, now string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_entries WHERE expires_at < ?`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep idempotency entries: %w", err)
	}
	return res.RowsAffected()
}
