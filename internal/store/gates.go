package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/overseer-dev/overseer/internal/domain"
)

func (t *Txn) InsertGate(g *domain.Gate) error {
	_, err := t.tx.Exec(
		`INSERT INTO gates (id, scope_type, scope_id, name, command, timeout_secs, max_retries, poll_interval_secs, max_pending_secs, created_at, updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		g.ID, string(g.ScopeType), g.ScopeID, g.Name, g.Command, g.TimeoutSecs, g.MaxRetries,
		g.PollIntervalSecs, g.MaxPendingSecs, fmtTime(g.CreatedAt), fmtTime(g.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert gate: %w", err)
	}
	return nil
}

func (t *Txn) UpdateGate(g *domain.Gate) error {
	_, err := t.tx.Exec(
		`UPDATE gates SET command=?, timeout_secs=?, max_retries=?, poll_interval_secs=?, max_pending_secs=?, updated_at=? WHERE id=?`,
		g.Command, g.TimeoutSecs, g.MaxRetries, g.PollIntervalSecs, g.MaxPendingSecs, fmtTime(g.UpdatedAt), g.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update gate: %w", err)
	}
	return nil
}

func (t *Txn) RemoveGate(id string, at any) error {
	_, err := t.tx.Exec(`UPDATE gates SET removed_at=? WHERE id=?`, at, id)
	if err != nil {
		return fmt.Errorf("failed to remove gate: %w", err)
	}
	return nil
}

// EffectiveGateNames lists existing gate names in a scope, for the
// uniqueness check at registration time (spec §3, §4.2).
func (s *Store) EffectiveGateNames(ctx context.Context, scopeType domain.ScopeType, scopeID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM gates WHERE scope_type=? AND scope_id=? AND removed_at IS NULL`, string(scopeType), scopeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list gate names: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// EffectiveGates returns the gates in scope for a single scope id
// (repo, or one task in the ancestor chain), ordered by name;
// the task engine assembles inheritance ordering across scopes (spec §4.5).
func (s *Store) EffectiveGates(ctx context.Context, scopeType domain.ScopeType, scopeID string) ([]*domain.Gate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,scope_type,scope_id,name,command,timeout_secs,max_retries,poll_interval_secs,max_pending_secs,created_at,updated_at
		 FROM gates WHERE scope_type=? AND scope_id=? AND removed_at IS NULL ORDER BY name`, string(scopeType), scopeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list gates: %w", err)
	}
	defer rows.Close()
	var out []*domain.Gate
	for rows.Next() {
		g, err := scanGateRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

func scanGateRow(rows *sql.Rows) (*domain.Gate, error) {
	var g domain.Gate
	var scopeType, created, updated string
	if err := rows.Scan(&g.ID, &scopeType, &g.ScopeID, &g.Name, &g.Command, &g.TimeoutSecs, &g.MaxRetries,
		&g.PollIntervalSecs, &g.MaxPendingSecs, &created, &updated); err != nil {
		return nil, fmt.Errorf("failed to scan gate: %w", err)
	}
	g.ScopeType = domain.ScopeType(scopeType)
	g.CreatedAt = parseTime(created)
	g.UpdatedAt = parseTime(updated)
	return &g, nil
}

func (t *Txn) InsertGateResult(r *domain.GateResult) error {
	_, err := t.tx.Exec(
		`INSERT INTO gate_results (gate_id, review_id, task_id, attempt, status, stdout, stderr, exit_code, started_at, completed_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(gate_id, review_id, attempt) DO UPDATE SET status=excluded.status, stdout=excluded.stdout, stderr=excluded.stderr, exit_code=excluded.exit_code, completed_at=excluded.completed_at`,
		r.GateID, r.ReviewID, r.TaskID, r.Attempt, string(r.Status), domain.TailTruncate(r.Stdout), domain.TailTruncate(r.Stderr),
		r.ExitCode, fmtTime(r.StartedAt), fmtTimePtr(r.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert gate result: %w", err)
	}
	return nil
}

func (s *Store) ListGateResults(ctx context.Context, reviewID string) ([]*domain.GateResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT gate_id,review_id,task_id,attempt,status,stdout,stderr,exit_code,started_at,completed_at FROM gate_results WHERE review_id=?`, reviewID)
	if err != nil {
		return nil, fmt.Errorf("failed to list gate results: %w", err)
	}
	defer rows.Close()
	var out []*domain.GateResult
	for rows.Next() {
		var r domain.GateResult
		var status, started string
		var exitCode sql.NullInt64
		var completed sql.NullString
		if err := rows.Scan(&r.GateID, &r.ReviewID, &r.TaskID, &r.Attempt, &status, &r.Stdout, &r.Stderr, &exitCode, &started, &completed); err != nil {
			return nil, fmt.Errorf("failed to scan gate result: %w", err)
		}
		r.Status = domain.GateResultStatus(status)
		if exitCode.Valid {
			v := int(exitCode.Int64)
			r.ExitCode = &v
		}
		r.StartedAt = parseTime(started)
		r.CompletedAt = parseTimePtr(completed)
		out = append(out, &r)
	}
	return out, nil
}

// LatestAttempt returns the highest attempt number recorded for
// (gateID, reviewID), or 0 if none exists yet.
func (s *Store) LatestAttempt(ctx context.Context, gateID, reviewID string) (int, error) {
	var attempt sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(attempt) FROM gate_results WHERE gate_id=? AND review_id=?`, gateID, reviewID).Scan(&attempt)
	if err != nil {
		return 0, fmt.Errorf("failed to read latest attempt: %w", err)
	}
	if !attempt.Valid {
		return 0, nil
	}
	return int(attempt.Int64), nil
}

// LatestResult returns the gate_results row with the highest attempt for
// (gateID, reviewID), or nil if the gate has never run for this review.
func (s *Store) LatestResult(ctx context.Context, gateID, reviewID string) (*domain.GateResult, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT gate_id,review_id,task_id,attempt,status,stdout,stderr,exit_code,started_at,completed_at
		 FROM gate_results WHERE gate_id=? AND review_id=? ORDER BY attempt DESC LIMIT 1`, gateID, reviewID)
	var r domain.GateResult
	var status, started string
	var exitCode sql.NullInt64
	var completed sql.NullString
	if err := row.Scan(&r.GateID, &r.ReviewID, &r.TaskID, &r.Attempt, &status, &r.Stdout, &r.Stderr, &exitCode, &started, &completed); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read latest gate result: %w", err)
	}
	r.Status = domain.GateResultStatus(status)
	if exitCode.Valid {
		v := int(exitCode.Int64)
		r.ExitCode = &v
	}
	r.StartedAt = parseTime(started)
	r.CompletedAt = parseTimePtr(completed)
	return &r, nil
}
