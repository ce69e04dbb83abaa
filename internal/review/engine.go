// Package review implements the three-phase review state machine and
// comment lifecycle (spec §4.4).
package review

import (
	"context"
	"time"

	"github.com/overseer-dev/overseer/internal/domain"
	"github.com/overseer-dev/overseer/internal/eventbus"
	"github.com/overseer-dev/overseer/internal/ids"
	"github.com/overseer-dev/overseer/internal/metrics"
	"github.com/overseer-dev/overseer/internal/store"
)

// Engine implements §4.4's phase transitions and comment operations.
// The task status side-effects (InReview -> InProgress on
// ChangesRequested, Approved -> Completed) are applied here because they
// are specified as part of the review transition, not a separate op.
type Engine struct {
	store *store.Store
	bus   *eventbus.Bus
}

func NewEngine(st *store.Store, bus *eventbus.Bus) *Engine {
	return &Engine{store: st, bus: bus}
}

func (e *Engine) Get(ctx context.Context, id string) (*domain.Review, error) {
	return e.store.GetReview(ctx, id)
}

// ApproveAgent is the agent-review approval step: it moves an
// AgentPending review to HumanPending (spec §4.4 diagram).
func (e *Engine) ApproveAgent(ctx context.Context, reviewID string) (*domain.Review, error) {
	return e.transition(ctx, reviewID, domain.ReviewAgentPending, domain.ReviewHumanPending, func(r *domain.Review, now time.Time) {
		r.AgentCompletedAt = &now
	})
}

// ApproveHuman moves HumanPending -> Approved, and completes the task.
func (e *Engine) ApproveHuman(ctx context.Context, reviewID string) (*domain.Review, error) {
	r, err := e.store.GetReview(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransitionReview(r.Status, domain.ReviewApproved) {
		return nil, domain.InvalidTransition("review", string(r.Status), string(domain.ReviewApproved))
	}
	t, err := e.store.GetTask(ctx, r.TaskID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	r.Status = domain.ReviewApproved
	r.HumanCompletedAt = &now
	t.Status = domain.StatusCompleted
	t.CompletedAt = &now
	t.UpdatedAt = now

	err = e.withWrite(ctx, func(tx *store.Txn) ([]*domain.Event, error) {
		if err := tx.UpdateReview(r); err != nil {
			return nil, err
		}
		if err := tx.UpdateTask(t); err != nil {
			return nil, err
		}
		return []*domain.Event{
			e.newEvent(domain.EventReviewApproved, t.ID, map[string]any{"task_id": t.ID, "review_id": r.ID}),
			e.newEvent(domain.EventTaskCompleted, t.ID, map[string]any{"task_id": t.ID}),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordReviewTerminal(string(domain.ReviewApproved))
	return r, nil
}

// RequestChanges freezes the current review and returns the task to
// InProgress (spec §4.4: "ChangesRequested transitions the task to
// InProgress and freezes the current Review").
func (e *Engine) RequestChanges(ctx context.Context, reviewID string, comments []string) (*domain.Review, error) {
	r, err := e.store.GetReview(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransitionReview(r.Status, domain.ReviewChangesRequested) {
		return nil, domain.InvalidTransition("review", string(r.Status), string(domain.ReviewChangesRequested))
	}
	t, err := e.store.GetTask(ctx, r.TaskID)
	if err != nil {
		return nil, err
	}
	r.Status = domain.ReviewChangesRequested
	t.Status = domain.StatusInProgress
	t.UpdatedAt = time.Now().UTC()

	err = e.withWrite(ctx, func(tx *store.Txn) ([]*domain.Event, error) {
		if err := tx.UpdateReview(r); err != nil {
			return nil, err
		}
		if err := tx.UpdateTask(t); err != nil {
			return nil, err
		}
		return []*domain.Event{e.newEvent(domain.EventChangesRequested, t.ID, map[string]any{"task_id": t.ID, "review_id": r.ID, "comments": comments})}, nil
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordReviewTerminal(string(domain.ReviewChangesRequested))
	return r, nil
}

// transition is the shared helper for phase moves that don't touch task
// status (gates/agent side of the pipeline).
func (e *Engine) transition(ctx context.Context, reviewID string, from, to domain.ReviewStatus, stamp func(*domain.Review, time.Time)) (*domain.Review, error) {
	r, err := e.store.GetReview(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransitionReview(r.Status, to) {
		return nil, domain.InvalidTransition("review", string(r.Status), string(to))
	}
	now := time.Now().UTC()
	r.Status = to
	if stamp != nil {
		stamp(r, now)
	}
	err = e.withWrite(ctx, func(tx *store.Txn) ([]*domain.Event, error) {
		if err := tx.UpdateReview(r); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (e *Engine) AddComment(ctx context.Context, reviewID string, author domain.CommentAuthor, filePath string, lineStart, lineEnd *int, side domain.CommentSide, body string) (*domain.ReviewComment, error) {
	if err := domain.ValidateCommentLines(lineStart, lineEnd); err != nil {
		return nil, err
	}
	r, err := e.store.GetReview(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	c := &domain.ReviewComment{
		ID:        ids.New(ids.Comment),
		ReviewID:  reviewID,
		TaskID:    r.TaskID,
		Author:    author,
		FilePath:  filePath,
		LineStart: lineStart,
		LineEnd:   lineEnd,
		Side:      side,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	err = e.withWrite(ctx, func(tx *store.Txn) ([]*domain.Event, error) {
		if err := tx.InsertComment(c); err != nil {
			return nil, err
		}
		return []*domain.Event{e.newEvent(domain.EventCommentAdded, r.TaskID, map[string]any{"comment_id": c.ID, "review_id": reviewID})}, nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ResolveComment is idempotent: a second call on an already-resolved
// comment is a no-op success (spec §4.4, §8 round-trip laws).
func (e *Engine) ResolveComment(ctx context.Context, commentID, taskID string) error {
	now := time.Now().UTC()
	return e.withWrite(ctx, func(tx *store.Txn) ([]*domain.Event, error) {
		if err := tx.ResolveComment(commentID, fmtNow(now)); err != nil {
			return nil, err
		}
		return []*domain.Event{e.newEvent(domain.EventCommentResolved, taskID, map[string]any{"comment_id": commentID})}, nil
	})
}

func (e *Engine) newEvent(typ domain.EventType, taskID string, body map[string]any) *domain.Event {
	return &domain.Event{
		ID:     ids.New(ids.Event),
		Type:   typ,
		At:     time.Now().UTC(),
		Source: domain.SourceCli,
		TaskID: taskID,
		Body:   body,
	}
}

func (e *Engine) withWrite(ctx context.Context, fn func(tx *store.Txn) ([]*domain.Event, error)) error {
	tx, err := e.store.BeginWrite(ctx)
	if err != nil {
		return err
	}
	events, err := fn(tx)
	if err != nil {
		tx.Rollback()
		return err
	}
	for _, ev := range events {
		seq, err := tx.AllocateEventSeq()
		if err != nil {
			tx.Rollback()
			return err
		}
		ev.Seq = seq
		if err := tx.InsertEvent(ev); err != nil {
			tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	for _, ev := range events {
		e.bus.Publish(ev)
	}
	return nil
}

func fmtNow(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
