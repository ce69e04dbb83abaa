package task

import (
	"context"
	"testing"

	"github.com/overseer-dev/overseer/internal/domain"
	"github.com/overseer-dev/overseer/internal/eventbus"
	"github.com/overseer-dev/overseer/internal/store"
	"github.com/overseer-dev/overseer/internal/vcs"
)

type fakeRepo struct {
	head  string
	dirty bool
}

func (f *fakeRepo) MainHead(ctx context.Context) (string, error)   { return f.head, nil }
func (f *fakeRepo) CreateRef(ctx context.Context, ref, base string) error { return nil }
func (f *fakeRepo) Dirty(ctx context.Context) (bool, error)        { return f.dirty, nil }
func (f *fakeRepo) Commit(ctx context.Context, ref, msg string) (string, error) {
	return "committed-" + ref, nil
}
func (f *fakeRepo) Diff(ctx context.Context, ref string) (string, error) { return "", nil }

type fakeResolver struct{ repo *fakeRepo }

func (r *fakeResolver) Resolve(ctx context.Context, repoID string) (vcs.Repo, error) {
	return r.repo, nil
}

type fakeGates struct {
	scheduled []string
	cancelled []string
}

func (g *fakeGates) ScheduleReview(ctx context.Context, reviewID string) error {
	g.scheduled = append(g.scheduled, reviewID)
	return nil
}
func (g *fakeGates) Cancel(reviewID string) {
	g.cancelled = append(g.cancelled, reviewID)
}

func newTestEngine(t *testing.T) (*Engine, *store.Store, *fakeGates) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	bus := eventbus.New(st)
	resolver := &fakeResolver{repo: &fakeRepo{head: "base-sha"}}
	gates := &fakeGates{}
	return NewEngine(st, bus, resolver, gates), st, gates
}

func mustCreateRepo(t *testing.T, st *store.Store, id string) {
	t.Helper()
	tx, err := st.BeginWrite(context.Background())
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	if err := tx.InsertRepo(&store.Repo{ID: id, Name: id, Path: "/tmp/" + id, MainRef: "main"}); err != nil {
		tx.Rollback()
		t.Fatalf("InsertRepo: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestCreateMilestoneAndTask(t *testing.T) {
	e, st, _ := newTestEngine(t)
	mustCreateRepo(t, st, "repo1")
	ctx := context.Background()

	ms, err := e.Create(ctx, CreateInput{RepoID: "repo1", Kind: domain.KindMilestone, Description: "m1"})
	if err != nil {
		t.Fatalf("Create milestone: %v", err)
	}
	if ms.Status != domain.StatusPending {
		t.Errorf("new task status = %s, want Pending", ms.Status)
	}

	task, err := e.Create(ctx, CreateInput{RepoID: "repo1", Kind: domain.KindTask, ParentID: &ms.ID, Description: "t1"})
	if err != nil {
		t.Fatalf("Create task under milestone: %v", err)
	}
	if *task.ParentID != ms.ID {
		t.Errorf("task parent = %s, want %s", *task.ParentID, ms.ID)
	}

	if _, err := e.Create(ctx, CreateInput{RepoID: "repo1", Kind: domain.KindSubtask, Description: "bad"}); err == nil {
		t.Error("expected error creating a subtask with no parent")
	}
}

func TestCreateRejectsParentFromDifferentRepo(t *testing.T) {
	e, st, _ := newTestEngine(t)
	mustCreateRepo(t, st, "repo1")
	mustCreateRepo(t, st, "repo2")
	ctx := context.Background()

	ms, err := e.Create(ctx, CreateInput{RepoID: "repo1", Kind: domain.KindMilestone, Description: "m1"})
	if err != nil {
		t.Fatalf("Create milestone: %v", err)
	}
	if _, err := e.Create(ctx, CreateInput{RepoID: "repo2", Kind: domain.KindTask, ParentID: &ms.ID, Description: "t1"}); err == nil {
		t.Error("expected error creating a task whose parent belongs to a different repo")
	}
}

func TestStartSubmitSchedulesGateRun(t *testing.T) {
	e, st, gates := newTestEngine(t)
	mustCreateRepo(t, st, "repo1")
	ctx := context.Background()

	task, err := e.Create(ctx, CreateInput{RepoID: "repo1", Kind: domain.KindTask, Description: "t1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	task, err = e.Start(ctx, task.ID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if task.Status != domain.StatusInProgress {
		t.Errorf("status after Start = %s, want InProgress", task.Status)
	}

	review, err := e.Submit(ctx, task.ID)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if review.Status != domain.ReviewGatesPending {
		t.Errorf("new review status = %s, want GatesPending", review.Status)
	}
	if len(gates.scheduled) != 1 || gates.scheduled[0] != review.ID {
		t.Errorf("expected ScheduleReview called once with %s, got %v", review.ID, gates.scheduled)
	}

	got, err := st.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != domain.StatusInReview {
		t.Errorf("persisted status = %s, want InReview", got.Status)
	}
}

func TestStartRejectsNonPendingTask(t *testing.T) {
	e, st, _ := newTestEngine(t)
	mustCreateRepo(t, st, "repo1")
	ctx := context.Background()

	task, err := e.Create(ctx, CreateInput{RepoID: "repo1", Kind: domain.KindTask, Description: "t1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := e.Start(ctx, task.ID); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if _, err := e.Start(ctx, task.ID); err == nil {
		t.Error("expected error starting an already-in-progress task")
	}
}

func TestCancelStopsActiveReviewGatePoll(t *testing.T) {
	e, st, gates := newTestEngine(t)
	mustCreateRepo(t, st, "repo1")
	ctx := context.Background()

	task, err := e.Create(ctx, CreateInput{RepoID: "repo1", Kind: domain.KindTask, Description: "t1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := e.Start(ctx, task.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	review, err := e.Submit(ctx, task.ID)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if _, err := e.Cancel(ctx, task.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if len(gates.cancelled) != 1 || gates.cancelled[0] != review.ID {
		t.Errorf("expected Cancel called once with %s, got %v", review.ID, gates.cancelled)
	}
}

func TestBlockDetectsCycle(t *testing.T) {
	e, st, _ := newTestEngine(t)
	mustCreateRepo(t, st, "repo1")
	ctx := context.Background()

	a, err := e.Create(ctx, CreateInput{RepoID: "repo1", Kind: domain.KindTask, Description: "a"})
	if err != nil {
		t.Fatalf("Create a: %v", err)
	}
	b, err := e.Create(ctx, CreateInput{RepoID: "repo1", Kind: domain.KindTask, Description: "b"})
	if err != nil {
		t.Fatalf("Create b: %v", err)
	}
	if err := e.Block(ctx, b.ID, a.ID); err != nil {
		t.Fatalf("Block b on a: %v", err)
	}
	if err := e.Block(ctx, a.ID, b.ID); err == nil {
		t.Error("expected cycle detection blocking a on b")
	}
}

func TestStartAllowsSubtaskAfterParentMovedPastInProgress(t *testing.T) {
	e, st, _ := newTestEngine(t)
	mustCreateRepo(t, st, "repo1")
	ctx := context.Background()

	parent, err := e.Create(ctx, CreateInput{RepoID: "repo1", Kind: domain.KindTask, Description: "parent"})
	if err != nil {
		t.Fatalf("Create parent: %v", err)
	}
	if _, err := e.Start(ctx, parent.ID); err != nil {
		t.Fatalf("Start parent: %v", err)
	}
	// Parent has moved on to a later status but it unambiguously started.
	if _, err := e.SetStatus(ctx, parent.ID, domain.StatusAwaitingHuman); err != nil {
		t.Fatalf("SetStatus parent: %v", err)
	}

	child, err := e.Create(ctx, CreateInput{RepoID: "repo1", Kind: domain.KindSubtask, ParentID: &parent.ID, Description: "child"})
	if err != nil {
		t.Fatalf("Create child: %v", err)
	}
	if _, err := e.Start(ctx, child.ID); err != nil {
		t.Fatalf("Start child: expected success once parent has started regardless of its current status, got %v", err)
	}
}

func TestSubmitResubmitsTaskStuckOnGatesPendingReview(t *testing.T) {
	e, st, gates := newTestEngine(t)
	mustCreateRepo(t, st, "repo1")
	ctx := context.Background()

	task, err := e.Create(ctx, CreateInput{RepoID: "repo1", Kind: domain.KindTask, Description: "t1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := e.Start(ctx, task.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	first, err := e.Submit(ctx, task.ID)
	if err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	// Simulate a gate that failed but had not yet exhausted its retries:
	// the review stays GatesPending and the task stays InReview, with no
	// other path back to InProgress.

	second, err := e.Submit(ctx, task.ID)
	if err != nil {
		t.Fatalf("second Submit while stuck GatesPending: %v", err)
	}
	if second.ID == first.ID {
		t.Fatal("expected resubmit to produce a new Review")
	}
	if second.Status != domain.ReviewGatesPending {
		t.Errorf("new review status = %s, want GatesPending", second.Status)
	}

	stale, err := st.GetReview(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetReview stale: %v", err)
	}
	if stale.Status != domain.ReviewSuperseded {
		t.Errorf("stale review status = %s, want Superseded", stale.Status)
	}

	active, err := st.ActiveReview(ctx, task.ID)
	if err != nil {
		t.Fatalf("ActiveReview: %v", err)
	}
	if active == nil || active.ID != second.ID {
		t.Error("expected the new review to be the task's active review")
	}

	if len(gates.cancelled) != 1 || gates.cancelled[0] != first.ID {
		t.Errorf("expected the stale review's gate poll to be cancelled, got %v", gates.cancelled)
	}
	if len(gates.scheduled) != 2 || gates.scheduled[1] != second.ID {
		t.Errorf("expected ScheduleReview called for the new review, got %v", gates.scheduled)
	}
}

func TestSubmitRejectsReviewAlreadyEscalated(t *testing.T) {
	e, st, _ := newTestEngine(t)
	mustCreateRepo(t, st, "repo1")
	ctx := context.Background()

	task, err := e.Create(ctx, CreateInput{RepoID: "repo1", Kind: domain.KindTask, Description: "t1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := e.Start(ctx, task.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	review, err := e.Submit(ctx, task.ID)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	review.Status = domain.ReviewGatesEscalated
	tx, err := st.BeginWrite(ctx)
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

	if _, err := e.Submit(ctx, task.ID); err == nil {
		t.Error("expected resubmit to be rejected once the review has escalated to a human")
	}
}
