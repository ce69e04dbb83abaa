package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/overseer-dev/overseer/internal/domain"
)

func (t *Txn) InsertHelpRequest(h *domain.HelpRequest) error {
	opts, err := json.Marshal(h.SuggestedOptions)
	if err != nil {
		return fmt.Errorf("failed to encode suggested options: %w", err)
	}
	_, err = t.tx.Exec(
		`INSERT INTO help_requests (id, task_id, from_status, category, reason, suggested_options, status, response, chosen_option, created_at, responded_at, resumed_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		h.ID, h.TaskID, string(h.FromStatus), string(h.Category), h.Reason, string(opts), string(h.Status),
		h.Response, h.ChosenOption, fmtTime(h.CreatedAt), fmtTimePtr(h.RespondedAt), fmtTimePtr(h.ResumedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert help request: %w", err)
	}
	return nil
}

func (t *Txn) UpdateHelpRequest(h *domain.HelpRequest) error {
	_, err := t.tx.Exec(
		`UPDATE help_requests SET status=?, response=?, chosen_option=?, responded_at=?, resumed_at=? WHERE id=?`,
		string(h.Status), h.Response, h.ChosenOption, fmtTimePtr(h.RespondedAt), fmtTimePtr(h.ResumedAt), h.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update help request: %w", err)
	}
	return nil
}

// PendingHelpRequest returns the task's Pending help request, if any
// (spec §8 invariant 5: at most one pending help per task).
func (s *Store) PendingHelpRequest(ctx context.Context, taskID string) (*domain.HelpRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id,task_id,from_status,category,reason,suggested_options,status,response,chosen_option,created_at,responded_at,resumed_at
		 FROM help_requests WHERE task_id=? AND status='Pending' LIMIT 1`, taskID)
	h, err := scanHelp(row)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return h, nil
}

func (s *Store) GetHelpRequest(ctx context.Context, id string) (*domain.HelpRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id,task_id,from_status,category,reason,suggested_options,status,response,chosen_option,created_at,responded_at,resumed_at
		 FROM help_requests WHERE id=?`, id)
	return scanHelp(row)
}

// ActiveHelpRequest returns the most recent Pending or Responded help
// request for a task, used by resume() to check it is Responded (spec §4.6).
func (s *Store) ActiveHelpRequest(ctx context.Context, taskID string) (*domain.HelpRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id,task_id,from_status,category,reason,suggested_options,status,response,chosen_option,created_at,responded_at,resumed_at
		 FROM help_requests WHERE task_id=? AND status IN ('Pending','Responded') ORDER BY created_at DESC LIMIT 1`, taskID)
	return scanHelp(row)
}

func scanHelp(row *sql.Row) (*domain.HelpRequest, error) {
	var h domain.HelpRequest
	var fromStatus, category, status, optsJSON, created string
	var response sql.NullString
	var chosen sql.NullInt64
	var responded, resumed sql.NullString
	if err := row.Scan(&h.ID, &h.TaskID, &fromStatus, &category, &h.Reason, &optsJSON, &status, &response,
		&chosen, &created, &responded, &resumed); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.NotFound("help_request", "")
		}
		return nil, fmt.Errorf("failed to scan help request: %w", err)
	}
	h.FromStatus = domain.TaskStatus(fromStatus)
	h.Category = domain.HelpCategory(category)
	h.Status = domain.HelpStatus(status)
	_ = json.Unmarshal([]byte(optsJSON), &h.SuggestedOptions)
	if response.Valid {
		r := response.String
		h.Response = &r
	}
	if chosen.Valid {
		c := int(chosen.Int64)
		h.ChosenOption = &c
	}
	h.CreatedAt = parseTime(created)
	h.RespondedAt = parseTimePtr(responded)
	h.ResumedAt = parseTimePtr(resumed)
	return &h, nil
}

func (t *Txn) InsertLearning(l *domain.Learning) error {
	_, err := t.tx.Exec(
		`INSERT INTO learnings (id, task_id, content, source_task_id, created_at) VALUES (?,?,?,?,?)`,
		l.ID, l.TaskID, l.Content, l.SourceTaskID, fmtTime(l.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert learning: %w", err)
	}
	return nil
}

func (s *Store) ListLearnings(ctx context.Context, taskID string) ([]*domain.Learning, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id,task_id,content,source_task_id,created_at FROM learnings WHERE task_id=? ORDER BY created_at`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list learnings: %w", err)
	}
	defer rows.Close()
	var out []*domain.Learning
	for rows.Next() {
		var l domain.Learning
		var source sql.NullString
		var created string
		if err := rows.Scan(&l.ID, &l.TaskID, &l.Content, &source, &created); err != nil {
			return nil, fmt.Errorf("failed to scan learning: %w", err)
		}
		if source.Valid {
			s := source.String
			l.SourceTaskID = &s
		}
		l.CreatedAt = parseTime(created)
		out = append(out, &l)
	}
	return out, nil
}
