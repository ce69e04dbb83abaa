package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/overseer-dev/overseer/internal/domain"
)

// InsertEvent appends an event row using the seq already allocated on
// this Txn via AllocateEventSeq. Must run in the same transaction as
// whatever entity mutation it describes (spec §4.7, §9).
func (t *Txn) InsertEvent(e *domain.Event) error {
	body, err := json.Marshal(e.Body)
	if err != nil {
		return fmt.Errorf("failed to encode event body: %w", err)
	}
	_, err = t.tx.Exec(
		`INSERT INTO events (seq, id, type, at, correlation_id, source, task_id, body) VALUES (?,?,?,?,?,?,?,?)`,
		e.Seq, e.ID, string(e.Type), fmtTime(e.At), e.CorrelationID, string(e.Source), e.TaskID, string(body),
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// EventsAfter returns events with seq > cursor, in seq order, for
// store-backed replay (spec §4.7 "tail from seq").
func (s *Store) EventsAfter(ctx context.Context, cursor uint64, limit int) ([]*domain.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq,id,type,at,correlation_id,source,task_id,body FROM events WHERE seq > ? ORDER BY seq LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read events after seq %d: %w", cursor, err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// EventsRange is the bounded "snapshot" subscription shape (spec §4.7).
func (s *Store) EventsRange(ctx context.Context, fromSeq, toSeq uint64) ([]*domain.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq,id,type,at,correlation_id,source,task_id,body FROM events WHERE seq >= ? AND seq <= ? ORDER BY seq`, fromSeq, toSeq)
	if err != nil {
		return nil, fmt.Errorf("failed to read event range: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *Store) LatestSeq(ctx context.Context) (uint64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM events`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to read latest seq: %w", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return uint64(seq.Int64), nil
}

func scanEvents(rows *sql.Rows) ([]*domain.Event, error) {
	var out []*domain.Event
	for rows.Next() {
		var e domain.Event
		var typ, at, source, bodyJSON string
		var correlation sql.NullString
		if err := rows.Scan(&e.Seq, &e.ID, &typ, &at, &correlation, &source, &e.TaskID, &bodyJSON); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Type = domain.EventType(typ)
		e.At = parseTime(at)
		e.Source = domain.EventSource(source)
		if correlation.Valid {
			c := correlation.String
			e.CorrelationID = &c
		}
		if err := json.Unmarshal([]byte(bodyJSON), &e.Body); err != nil {
			return nil, fmt.Errorf("failed to decode event body: %w", err)
		}
		out = append(out, &e)
	}
	return out, nil
}
