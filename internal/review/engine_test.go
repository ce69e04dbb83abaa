package review

import (
	"context"
	"testing"
	"time"

	"github.com/overseer-dev/overseer/internal/domain"
	"github.com/overseer-dev/overseer/internal/eventbus"
	"github.com/overseer-dev/overseer/internal/ids"
	"github.com/overseer-dev/overseer/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewEngine(st, eventbus.New(st)), st
}

func seedTaskAndReview(t *testing.T, st *store.Store, status domain.ReviewStatus) (*domain.Task, *domain.Review) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	task := &domain.Task{
		ID: ids.New(ids.Task), RepoID: "repo1", Kind: domain.KindTask,
		Description: "t", Status: domain.StatusInReview, BlockedBy: map[string]struct{}{},
		CreatedAt: now, UpdatedAt: now,
	}
	review := &domain.Review{ID: ids.New(ids.Review), TaskID: task.ID, Status: status, SubmittedAt: now}

	tx, err := st.BeginWrite(ctx)
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	if err := tx.InsertRepo(&store.Repo{ID: "repo1", Name: "repo1", Path: "/tmp/repo1", MainRef: "main"}); err != nil {
		tx.Rollback()
		t.Fatalf("InsertRepo: %v", err)
	}
	if err := tx.InsertTask(task); err != nil {
		tx.Rollback()
		t.Fatalf("InsertTask: %v", err)
	}
	if err := tx.InsertReview(review); err != nil {
		tx.Rollback()
		t.Fatalf("InsertReview: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return task, review
}

func TestApproveHumanCompletesTask(t *testing.T) {
	e, st := newTestEngine(t)
	task, review := seedTaskAndReview(t, st, domain.ReviewHumanPending)

	got, err := e.ApproveHuman(context.Background(), review.ID)
	if err != nil {
		t.Fatalf("ApproveHuman: %v", err)
	}
	if got.Status != domain.ReviewApproved {
		t.Errorf("review status = %s, want Approved", got.Status)
	}
	updated, err := st.GetTask(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if updated.Status != domain.StatusCompleted {
		t.Errorf("task status = %s, want Completed", updated.Status)
	}
}

func TestApproveHumanRejectsWrongPhase(t *testing.T) {
	e, st := newTestEngine(t)
	_, review := seedTaskAndReview(t, st, domain.ReviewGatesPending)

	if _, err := e.ApproveHuman(context.Background(), review.ID); err == nil {
		t.Error("expected error approving a review still in GatesPending")
	}
}

func TestRequestChangesReturnsTaskToInProgress(t *testing.T) {
	e, st := newTestEngine(t)
	task, review := seedTaskAndReview(t, st, domain.ReviewHumanPending)

	got, err := e.RequestChanges(context.Background(), review.ID, []string{"fix typo"})
	if err != nil {
		t.Fatalf("RequestChanges: %v", err)
	}
	if got.Status != domain.ReviewChangesRequested {
		t.Errorf("review status = %s, want ChangesRequested", got.Status)
	}
	updated, err := st.GetTask(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if updated.Status != domain.StatusInProgress {
		t.Errorf("task status = %s, want InProgress", updated.Status)
	}
}

func TestAddCommentValidatesLineRange(t *testing.T) {
	e, st := newTestEngine(t)
	_, review := seedTaskAndReview(t, st, domain.ReviewHumanPending)

	start, end := 10, 5
	if _, err := e.AddComment(context.Background(), review.ID, domain.AuthorHuman, "main.go", &start, &end, domain.SideRight, "bad range"); err == nil {
		t.Error("expected error for line_start > line_end")
	}

	start, end = 1, 3
	c, err := e.AddComment(context.Background(), review.ID, domain.AuthorHuman, "main.go", &start, &end, domain.SideRight, "looks off")
	if err != nil {
		t.Fatalf("AddComment: %v", err)
	}
	if c.ReviewID != review.ID {
		t.Errorf("comment review_id = %s, want %s", c.ReviewID, review.ID)
	}
}

func TestResolveCommentIsIdempotent(t *testing.T) {
	e, st := newTestEngine(t)
	_, review := seedTaskAndReview(t, st, domain.ReviewHumanPending)

	c, err := e.AddComment(context.Background(), review.ID, domain.AuthorAgent, "a.go", nil, nil, domain.SideLeft, "note")
	if err != nil {
		t.Fatalf("AddComment: %v", err)
	}
	if err := e.ResolveComment(context.Background(), c.ID, review.TaskID); err != nil {
		t.Fatalf("ResolveComment: %v", err)
	}
	if err := e.ResolveComment(context.Background(), c.ID, review.TaskID); err != nil {
		t.Errorf("second ResolveComment should be a no-op success, got: %v", err)
	}
}
