package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/overseer-dev/overseer/internal/domain"
)

type Repo struct {
	ID             string
	Name           string
	Path           string
	MainRef        string
	CreatedAt      time.Time
	UnregisteredAt *time.Time
}

func (t *Txn) InsertRepo(r *Repo) error {
	_, err := t.tx.Exec(
		`INSERT INTO repos (id, name, path, main_ref, created_at) VALUES (?,?,?,?,?)`,
		r.ID, r.Name, r.Path, r.MainRef, fmtTime(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert repo: %w", err)
	}
	return nil
}

func (t *Txn) UnregisterRepo(id string, at time.Time) error {
	_, err := t.tx.Exec(`UPDATE repos SET unregistered_at = ? WHERE id = ?`, fmtTime(at), id)
	if err != nil {
		return fmt.Errorf("failed to unregister repo: %w", err)
	}
	return nil
}

func (s *Store) GetRepo(ctx context.Context, id string) (*Repo, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,name,path,main_ref,created_at,unregistered_at FROM repos WHERE id = ?`, id)
	return scanRepo(row)
}

func (s *Store) GetRepoByPath(ctx context.Context, path string) (*Repo, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,name,path,main_ref,created_at,unregistered_at FROM repos WHERE path = ?`, path)
	r, err := scanRepo(row)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return r, nil
}

func scanRepo(row *sql.Row) (*Repo, error) {
	var r Repo
	var created string
	var unregistered sql.NullString
	if err := row.Scan(&r.ID, &r.Name, &r.Path, &r.MainRef, &created, &unregistered); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.NotFound("repo", "")
		}
		return nil, fmt.Errorf("failed to scan repo: %w", err)
	}
	r.CreatedAt = parseTime(created)
	if unregistered.Valid {
		u := parseTime(unregistered.String)
		r.UnregisteredAt = &u
	}
	return &r, nil
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	ts := parseTime(ns.String)
	return &ts
}
