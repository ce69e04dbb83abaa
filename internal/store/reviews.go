package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/overseer-dev/overseer/internal/domain"
)

func (t *Txn) InsertReview(r *domain.Review) error {
	_, err := t.tx.Exec(
		`INSERT INTO reviews (id, task_id, status, submitted_at, gates_completed_at, agent_completed_at, human_completed_at)
		 VALUES (?,?,?,?,?,?,?)`,
		r.ID, r.TaskID, string(r.Status), fmtTime(r.SubmittedAt), fmtTimePtr(r.GatesCompletedAt),
		fmtTimePtr(r.AgentCompletedAt), fmtTimePtr(r.HumanCompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert review: %w", err)
	}
	return nil
}

func (t *Txn) UpdateReview(r *domain.Review) error {
	_, err := t.tx.Exec(
		`UPDATE reviews SET status=?, gates_completed_at=?, agent_completed_at=?, human_completed_at=? WHERE id=?`,
		string(r.Status), fmtTimePtr(r.GatesCompletedAt), fmtTimePtr(r.AgentCompletedAt), fmtTimePtr(r.HumanCompletedAt), r.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update review: %w", err)
	}
	return nil
}

func (s *Store) GetReview(ctx context.Context, id string) (*domain.Review, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id,task_id,status,submitted_at,gates_completed_at,agent_completed_at,human_completed_at FROM reviews WHERE id=?`, id)
	return scanReview(row)
}

// ActiveReview returns the task's non-terminal review, if any (spec §3,
// §8 invariant 4: at most one active review per task).
func (s *Store) ActiveReview(ctx context.Context, taskID string) (*domain.Review, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id,task_id,status,submitted_at,gates_completed_at,agent_completed_at,human_completed_at
		 FROM reviews WHERE task_id=? AND status NOT IN ('Approved','ChangesRequested','Superseded') ORDER BY submitted_at DESC LIMIT 1`, taskID)
	return scanReview(row)
}

// ListReviewsByStatus finds every review currently sitting in status,
// used at daemon startup to re-arm gate poll timers left dangling by an
// unclean shutdown.
func (s *Store) ListReviewsByStatus(ctx context.Context, status domain.ReviewStatus) ([]*domain.Review, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,task_id,status,submitted_at,gates_completed_at,agent_completed_at,human_completed_at FROM reviews WHERE status=?`,
		string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews by status: %w", err)
	}
	defer rows.Close()
	var out []*domain.Review
	for rows.Next() {
		var r domain.Review
		var st, submitted string
		var gatesCompleted, agentCompleted, humanCompleted sql.NullString
		if err := rows.Scan(&r.ID, &r.TaskID, &st, &submitted, &gatesCompleted, &agentCompleted, &humanCompleted); err != nil {
			return nil, fmt.Errorf("failed to scan review: %w", err)
		}
		r.Status = domain.ReviewStatus(st)
		r.SubmittedAt = parseTime(submitted)
		r.GatesCompletedAt = parseTimePtr(gatesCompleted)
		r.AgentCompletedAt = parseTimePtr(agentCompleted)
		r.HumanCompletedAt = parseTimePtr(humanCompleted)
		out = append(out, &r)
	}
	return out, nil
}

func scanReview(row *sql.Row) (*domain.Review, error) {
	var r domain.Review
	var status, submitted string
	var gatesCompleted, agentCompleted, humanCompleted sql.NullString
	if err := row.Scan(&r.ID, &r.TaskID, &status, &submitted, &gatesCompleted, &agentCompleted, &humanCompleted); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.NotFound("review", "")
		}
		return nil, fmt.Errorf("failed to scan review: %w", err)
	}
	r.Status = domain.ReviewStatus(status)
	r.SubmittedAt = parseTime(submitted)
	r.GatesCompletedAt = parseTimePtr(gatesCompleted)
	r.AgentCompletedAt = parseTimePtr(agentCompleted)
	r.HumanCompletedAt = parseTimePtr(humanCompleted)
	return &r, nil
}

func (t *Txn) InsertComment(c *domain.ReviewComment) error {
	_, err := t.tx.Exec(
		`INSERT INTO review_comments (id, review_id, task_id, author, file_path, line_start, line_end, side, body, created_at, resolved_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.ReviewID, c.TaskID, string(c.Author), c.FilePath, c.LineStart, c.LineEnd, string(c.Side),
		c.Body, fmtTime(c.CreatedAt), fmtTimePtr(c.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert comment: %w", err)
	}
	return nil
}

func (t *Txn) ResolveComment(id string, at any) error {
	_, err := t.tx.Exec(`UPDATE review_comments SET resolved_at=? WHERE id=? AND resolved_at IS NULL`, at, id)
	if err != nil {
		return fmt.Errorf("failed to resolve comment: %w", err)
	}
	return nil
}

func (s *Store) ListComments(ctx context.Context, reviewID string) ([]*domain.ReviewComment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,review_id,task_id,author,file_path,line_start,line_end,side,body,created_at,resolved_at FROM review_comments WHERE review_id=? ORDER BY created_at`, reviewID)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	defer rows.Close()
	var out []*domain.ReviewComment
	for rows.Next() {
		var c domain.ReviewComment
		var author, side, created string
		var lineStart, lineEnd sql.NullInt64
		var resolved sql.NullString
		if err := rows.Scan(&c.ID, &c.ReviewID, &c.TaskID, &author, &c.FilePath, &lineStart, &lineEnd, &side, &c.Body, &created, &resolved); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		c.Author = domain.CommentAuthor(author)
		c.Side = domain.CommentSide(side)
		if lineStart.Valid {
			v := int(lineStart.Int64)
			c.LineStart = &v
		}
		if lineEnd.Valid {
			v := int(lineEnd.Int64)
			c.LineEnd = &v
		}
		c.CreatedAt = parseTime(created)
		c.ResolvedAt = parseTimePtr(resolved)
		out = append(out, &c)
	}
	return out, nil
}
