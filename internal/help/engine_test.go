package help

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

func seedTask(t *testing.T, st *store.Store, status domain.TaskStatus) *domain.Task {
	t.Helper()
	now := time.Now().UTC()
	task := &domain.Task{
		ID: ids.New(ids.Task), RepoID: "repo1", Kind: domain.KindTask,
		Description: "t", Status: status, BlockedBy: map[string]struct{}{},
		CreatedAt: now, UpdatedAt: now,
	}
	_, repoErr := st.GetRepo(context.Background(), "repo1")
	tx, err := st.BeginWrite(context.Background())
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	if repoErr != nil {
		if err := tx.InsertRepo(&store.Repo{ID: "repo1", Name: "repo1", Path: "/tmp/repo1", MainRef: "main"}); err != nil {
			tx.Rollback()
			t.Fatalf("InsertRepo: %v", err)
		}
	}
	if err := tx.InsertTask(task); err != nil {
		tx.Rollback()
		t.Fatalf("InsertTask: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return task
}

func TestRequestHelpMovesTaskToAwaitingHuman(t *testing.T) {
	e, st := newTestEngine(t)
	task := seedTask(t, st, domain.StatusInProgress)

	h, err := e.RequestHelp(context.Background(), task.ID, domain.CategoryClarification, "which approach?", []string{"a", "b"})
	if err != nil {
		t.Fatalf("RequestHelp: %v", err)
	}
	if h.FromStatus != domain.StatusInProgress {
		t.Errorf("FromStatus = %s, want InProgress", h.FromStatus)
	}

	updated, err := st.GetTask(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if updated.Status != domain.StatusAwaitingHuman {
		t.Errorf("task status = %s, want AwaitingHuman", updated.Status)
	}
}

func TestRequestHelpRejectsSecondConcurrentRequest(t *testing.T) {
	e, st := newTestEngine(t)
	task := seedTask(t, st, domain.StatusInProgress)

	if _, err := e.RequestHelp(context.Background(), task.ID, domain.CategoryClarification, "first", nil); err != nil {
		t.Fatalf("first RequestHelp: %v", err)
	}
	if _, err := e.RequestHelp(context.Background(), task.ID, domain.CategoryClarification, "second", nil); err == nil {
		t.Error("expected conflict requesting help while a request is already pending")
	}
}

func TestRespondThenResumeReturnsTaskToFromStatus(t *testing.T) {
	e, st := newTestEngine(t)
	task := seedTask(t, st, domain.StatusInProgress)

	h, err := e.RequestHelp(context.Background(), task.ID, domain.CategoryClarification, "which?", []string{"a", "b"})
	if err != nil {
		t.Fatalf("RequestHelp: %v", err)
	}

	chosen := 1
	responded, err := e.Respond(context.Background(), h.ID, "go with b", &chosen)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if responded.Status != domain.HelpResponded {
		t.Errorf("help status = %s, want Responded", responded.Status)
	}

	resumed, err := e.Resume(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.Status != domain.StatusInProgress {
		t.Errorf("resumed task status = %s, want InProgress", resumed.Status)
	}
}

func TestResumeRejectsBeforeResponse(t *testing.T) {
	e, st := newTestEngine(t)
	task := seedTask(t, st, domain.StatusInProgress)

	if _, err := e.RequestHelp(context.Background(), task.ID, domain.CategoryClarification, "which?", nil); err != nil {
		t.Fatalf("RequestHelp: %v", err)
	}
	if _, err := e.Resume(context.Background(), task.ID); err == nil {
		t.Error("expected error resuming before the help request has been responded to")
	}
}

func TestRespondRejectsOutOfRangeOption(t *testing.T) {
	e, st := newTestEngine(t)
	task := seedTask(t, st, domain.StatusInProgress)

	h, err := e.RequestHelp(context.Background(), task.ID, domain.CategoryClarification, "which?", []string{"a", "b"})
	if err != nil {
		t.Fatalf("RequestHelp: %v", err)
	}
	bad := 5
	if _, err := e.Respond(context.Background(), h.ID, "x", &bad); err == nil {
		t.Error("expected error for an out-of-range chosen option")
	}
}

func TestAddLearningPicksBubbledEventWhenSourced(t *testing.T) {
	e, st := newTestEngine(t)
	task := seedTask(t, st, domain.StatusInProgress)
	src := seedTask(t, st, domain.StatusInProgress).ID
	l, err := e.AddLearning(context.Background(), task.ID, "always check X", &src)
	if err != nil {
		t.Fatalf("AddLearning: %v", err)
	}
	if l.SourceTaskID == nil || *l.SourceTaskID != src {
		t.Errorf("SourceTaskID = %v, want %s", l.SourceTaskID, src)
	}
	evs, err := st.EventsAfter(context.Background(), 0, 10)
	if err != nil {
		t.Fatalf("EventsAfter: %v", err)
	}
	if len(evs) != 1 || evs[0].Type != domain.EventLearningBubbled {
		t.Errorf("events = %v, want one LearningBubbled", evs)
	}
}

func TestListLearningsReturnsInsertedLearnings(t *testing.T) {
	e, st := newTestEngine(t)
	task := seedTask(t, st, domain.StatusInProgress)
	if _, err := e.AddLearning(context.Background(), task.ID, "first", nil); err != nil {
		t.Fatalf("AddLearning: %v", err)
	}
	if _, err := e.AddLearning(context.Background(), task.ID, "second", nil); err != nil {
		t.Fatalf("AddLearning: %v", err)
	}
	got, err := st.ListLearnings(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("ListLearnings: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("len(ListLearnings) = %d, want 2", len(got))
	}
}
