package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/overseer-dev/overseer/internal/domain"
)

func (t *Txn) InsertSession(sess *domain.Session) error {
	_, err := t.tx.Exec(
		`INSERT INTO sessions (id, task_id, harness_id, status, started_at, last_heartbeat_at, completed_at, error)
		 VALUES (?,?,?,?,?,?,?,?)`,
		sess.ID, sess.TaskID, sess.HarnessID, string(sess.Status), fmtTime(sess.StartedAt),
		fmtTimePtr(sess.LastHeartbeatAt), fmtTimePtr(sess.CompletedAt), sess.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (t *Txn) UpdateSession(sess *domain.Session) error {
	_, err := t.tx.Exec(
		`UPDATE sessions SET status=?, last_heartbeat_at=?, completed_at=?, error=? WHERE id=?`,
		string(sess.Status), fmtTimePtr(sess.LastHeartbeatAt), fmtTimePtr(sess.CompletedAt), sess.Error, sess.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

// NonTerminalSession enforces "at most one non-terminal Session per
// task" (spec §5 rule 5).
func (s *Store) NonTerminalSession(ctx context.Context, taskID string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id,task_id,harness_id,status,started_at,last_heartbeat_at,completed_at,error
		 FROM sessions WHERE task_id=? AND status IN ('Pending','Active') LIMIT 1`, taskID)
	sess, err := scanSession(row)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return sess, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id,task_id,harness_id,status,started_at,last_heartbeat_at,completed_at,error FROM sessions WHERE id=?`, id)
	return scanSession(row)
}

func scanSession(row *sql.Row) (*domain.Session, error) {
	var sess domain.Session
	var status, started string
	var heartbeat, completed, errStr sql.NullString
	if err := row.Scan(&sess.ID, &sess.TaskID, &sess.HarnessID, &status, &started, &heartbeat, &completed, &errStr); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.NotFound("session", "")
		}
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	sess.Status = domain.SessionStatus(status)
	sess.StartedAt = parseTime(started)
	sess.LastHeartbeatAt = parseTimePtr(heartbeat)
	sess.CompletedAt = parseTimePtr(completed)
	if errStr.Valid {
		e := errStr.String
		sess.Error = &e
	}
	return &sess, nil
}

// StaleSessions returns non-terminal sessions that have no heartbeat yet
// or whose heartbeat is older than olderThan (the reconnect grace
// cutoff), for the broker's reaper (spec §6).
func (s *Store) StaleSessions(ctx context.Context, olderThan string) ([]*domain.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,task_id,harness_id,status,started_at,last_heartbeat_at,completed_at,error
		 FROM sessions WHERE status IN ('Pending','Active') AND (last_heartbeat_at IS NULL OR last_heartbeat_at < ?)`, olderThan)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale sessions: %w", err)
	}
	defer rows.Close()
	var out []*domain.Session
	for rows.Next() {
		var sess domain.Session
		var status, started string
		var heartbeat, completed, errStr sql.NullString
		if err := rows.Scan(&sess.ID, &sess.TaskID, &sess.HarnessID, &status, &started, &heartbeat, &completed, &errStr); err != nil {
			return nil, fmt.Errorf("failed to scan stale session: %w", err)
		}
		sess.Status = domain.SessionStatus(status)
		sess.StartedAt = parseTime(started)
		sess.LastHeartbeatAt = parseTimePtr(heartbeat)
		sess.CompletedAt = parseTimePtr(completed)
		if errStr.Valid {
			e := errStr.String
			sess.Error = &e
		}
		out = append(out, &sess)
	}
	return out, nil
}

func (t *Txn) UpsertHarness(h *domain.Harness) error {
	caps, err := json.Marshal(h.Capabilities)
	if err != nil {
		return fmt.Errorf("failed to encode capabilities: %w", err)
	}
	_, err = t.tx.Exec(
		`INSERT INTO harnesses (id, capabilities, connected, last_seen_at) VALUES (?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET capabilities=excluded.capabilities, connected=excluded.connected, last_seen_at=excluded.last_seen_at`,
		h.ID, string(caps), boolToInt(h.Connected), fmtTime(h.LastSeenAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert harness: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
