package gate

import (
	"context"
	"testing"
	"time"

	"github.com/overseer-dev/overseer/internal/domain"
	"github.com/overseer-dev/overseer/internal/eventbus"
	"github.com/overseer-dev/overseer/internal/ids"
	"github.com/overseer-dev/overseer/internal/store"
)

func newTestScheduler(t *testing.T) (*Scheduler, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewScheduler(st, eventbus.New(st)), st
}

func seedReviewWithGate(t *testing.T, st *store.Store, command string, maxRetries int) *domain.Review {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	task := &domain.Task{
		ID: ids.New(ids.Task), RepoID: "repo1", Kind: domain.KindTask,
		Description: "t", Status: domain.StatusInReview, BlockedBy: map[string]struct{}{},
		CreatedAt: now, UpdatedAt: now,
	}
	review := &domain.Review{ID: ids.New(ids.Review), TaskID: task.ID, Status: domain.ReviewGatesPending, SubmittedAt: now}
	g := &domain.Gate{
		ID: ids.New(ids.Gate), ScopeType: domain.ScopeRepo, ScopeID: "repo1", Name: "check",
		Command: command, TimeoutSecs: 5, MaxRetries: maxRetries, PollIntervalSecs: 1, MaxPendingSecs: 5,
		CreatedAt: now, UpdatedAt: now,
	}

	tx, err := st.BeginWrite(ctx)
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	if err := tx.InsertRepo(&store.Repo{ID: "repo1", Name: "repo1", Path: t.TempDir(), MainRef: "main"}); err != nil {
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
	if err := tx.InsertGate(g); err != nil {
		tx.Rollback()
		t.Fatalf("InsertGate: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return review
}

func TestScheduleReviewPassingGateAdvancesToAgentPending(t *testing.T) {
	s, st := newTestScheduler(t)
	review := seedReviewWithGate(t, st, "exit 0", 3)

	if err := s.ScheduleReview(context.Background(), review.ID); err != nil {
		t.Fatalf("ScheduleReview: %v", err)
	}
	got, err := st.GetReview(context.Background(), review.ID)
	if err != nil {
		t.Fatalf("GetReview: %v", err)
	}
	if got.Status != domain.ReviewAgentPending {
		t.Errorf("review status = %s, want AgentPending", got.Status)
	}
}

func TestScheduleReviewFailingGateStaysPending(t *testing.T) {
	s, st := newTestScheduler(t)
	review := seedReviewWithGate(t, st, "exit 1", 3)

	if err := s.ScheduleReview(context.Background(), review.ID); err != nil {
		t.Fatalf("ScheduleReview: %v", err)
	}
	got, err := st.GetReview(context.Background(), review.ID)
	if err != nil {
		t.Fatalf("GetReview: %v", err)
	}
	if got.Status != domain.ReviewGatesPending {
		t.Errorf("review status = %s, want it to remain GatesPending after a failed gate", got.Status)
	}
}

func TestScheduleReviewExhaustedRetriesEscalates(t *testing.T) {
	s, st := newTestScheduler(t)
	review := seedReviewWithGate(t, st, "exit 1", 1)

	if err := s.ScheduleReview(context.Background(), review.ID); err != nil {
		t.Fatalf("ScheduleReview: %v", err)
	}
	got, err := st.GetReview(context.Background(), review.ID)
	if err != nil {
		t.Fatalf("GetReview: %v", err)
	}
	if got.Status != domain.ReviewGatesEscalated {
		t.Errorf("review status = %s, want GatesEscalated when attempt 1 already meets max_retries 1", got.Status)
	}
}

func TestRerunRejectsTerminalReview(t *testing.T) {
	s, st := newTestScheduler(t)
	review := seedReviewWithGate(t, st, "exit 0", 3)
	review.Status = domain.ReviewApproved

	tx, err := st.BeginWrite(context.Background())
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	if err := tx.UpdateReview(review); err != nil {
		tx.Rollback()
		t.Fatalf("UpdateReview: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if err := s.Rerun(context.Background(), review.ID); err == nil {
		t.Error("expected error rerunning a terminal review")
	}
}

func TestRecoverPendingArmsTimerForGatesPendingReviews(t *testing.T) {
	s, st := newTestScheduler(t)
	review := seedReviewWithGate(t, st, "exit 75", 3)
	if err := s.ScheduleReview(context.Background(), review.ID); err != nil {
		t.Fatalf("ScheduleReview: %v", err)
	}
	s.cancelTimer(review.ID)
	s.mu.Lock()
	_, armed := s.timers[review.ID]
	s.mu.Unlock()
	if armed {
		t.Fatal("setup: timer should be cancelled before recovery")
	}

	if err := s.RecoverPending(context.Background()); err != nil {
		t.Fatalf("RecoverPending: %v", err)
	}
	s.mu.Lock()
	_, recovered := s.timers[review.ID]
	s.mu.Unlock()
	if !recovered {
		t.Error("RecoverPending should re-arm a poll timer for a review left GatesPending")
	}
}

func TestCancelStopsArmedTimer(t *testing.T) {
	s, st := newTestScheduler(t)
	review := seedReviewWithGate(t, st, "exit 75", 3)

	if err := s.ScheduleReview(context.Background(), review.ID); err != nil {
		t.Fatalf("ScheduleReview: %v", err)
	}
	s.mu.Lock()
	_, armed := s.timers[review.ID]
	s.mu.Unlock()
	if !armed {
		t.Fatal("expected a poll timer to be armed for a Pending gate result")
	}

	s.Cancel(review.ID)
	s.mu.Lock()
	_, stillArmed := s.timers[review.ID]
	s.mu.Unlock()
	if stillArmed {
		t.Error("Cancel should stop the armed poll timer")
	}
}
