package store

import (
	"context"
	"testing"
	"time"

	"github.com/overseer-dev/overseer/internal/domain"
)

func mustOpen(t *testing.T) *Store {
	t.Helper()
	st, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func insertRepo(t *testing.T, st *Store, id string) {
	t.Helper()
	tx, err := st.BeginWrite(context.Background())
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	if err := tx.InsertRepo(&Repo{ID: id, Name: id, Path: "/tmp/" + id, MainRef: "main"}); err != nil {
		tx.Rollback()
		t.Fatalf("InsertRepo: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func insertTask(t *testing.T, st *Store, id, repoID string, parentID *string, status domain.TaskStatus) *domain.Task {
	t.Helper()
	now := time.Now().UTC()
	task := &domain.Task{
		ID: id, RepoID: repoID, ParentID: parentID, Kind: domain.KindTask,
		Description: id, Status: status, BlockedBy: map[string]struct{}{},
		CreatedAt: now, UpdatedAt: now,
	}
	tx, err := st.BeginWrite(context.Background())
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
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

func TestListChildrenReturnsOnlyDirectChildren(t *testing.T) {
	st := mustOpen(t)
	insertRepo(t, st, "repo1")
	parent := insertTask(t, st, "t_parent", "repo1", nil, domain.StatusPending)
	insertTask(t, st, "t_child1", "repo1", &parent.ID, domain.StatusPending)
	insertTask(t, st, "t_child2", "repo1", &parent.ID, domain.StatusPending)
	insertTask(t, st, "t_other", "repo1", nil, domain.StatusPending)

	children, err := st.ListChildren(context.Background(), parent.ID)
	if err != nil {
		t.Fatalf("ListChildren: %v", err)
	}
	if len(children) != 2 {
		t.Fatalf("len(children) = %d, want 2", len(children))
	}
}

func TestListTasksByRepoStatusFilters(t *testing.T) {
	st := mustOpen(t)
	insertRepo(t, st, "repo1")
	insertTask(t, st, "t1", "repo1", nil, domain.StatusPending)
	insertTask(t, st, "t2", "repo1", nil, domain.StatusInProgress)

	pending, err := st.ListTasksByRepoStatus(context.Background(), "repo1", domain.StatusPending)
	if err != nil {
		t.Fatalf("ListTasksByRepoStatus: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "t1" {
		t.Errorf("pending tasks = %v, want just t1", pending)
	}

	all, err := st.ListTasksByRepoStatus(context.Background(), "repo1", "")
	if err != nil {
		t.Fatalf("ListTasksByRepoStatus all: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("len(all) = %d, want 2 for an empty status filter", len(all))
	}
}

func TestBlockedByGraphReflectsAddedBlockers(t *testing.T) {
	st := mustOpen(t)
	insertRepo(t, st, "repo1")
	a := insertTask(t, st, "t_a", "repo1", nil, domain.StatusPending)
	b := insertTask(t, st, "t_b", "repo1", nil, domain.StatusPending)

	tx, err := st.BeginWrite(context.Background())
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	if err := tx.AddBlocker(b.ID, a.ID); err != nil {
		tx.Rollback()
		t.Fatalf("AddBlocker: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	graph, err := st.BlockedByGraph(context.Background(), "repo1")
	if err != nil {
		t.Fatalf("BlockedByGraph: %v", err)
	}
	if _, ok := graph[b.ID][a.ID]; !ok {
		t.Errorf("expected %s to be blocked by %s in the graph, got %v", b.ID, a.ID, graph)
	}
}

func TestDeleteTaskCascades(t *testing.T) {
	st := mustOpen(t)
	insertRepo(t, st, "repo1")
	task := insertTask(t, st, "t1", "repo1", nil, domain.StatusPending)

	tx, err := st.BeginWrite(context.Background())
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	if err := tx.DeleteTask(task.ID); err != nil {
		tx.Rollback()
		t.Fatalf("DeleteTask: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if _, err := st.GetTask(context.Background(), task.ID); err == nil {
		t.Error("expected GetTask to fail after DeleteTask")
	}
}

func TestTaskVcsInsertAndSetHead(t *testing.T) {
	st := mustOpen(t)
	insertRepo(t, st, "repo1")
	task := insertTask(t, st, "t1", "repo1", nil, domain.StatusPending)
	now := time.Now().UTC()

	v := &domain.TaskVcs{
		TaskID: task.ID, RepoID: "repo1", VcsType: domain.VcsGit, RefName: "overseer/t1",
		ChangeID: "", BaseCommit: "base-sha", StartCommit: "base-sha",
		CreatedAt: now, UpdatedAt: now,
	}
	tx, err := st.BeginWrite(context.Background())
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	if err := tx.InsertTaskVcs(v); err != nil {
		tx.Rollback()
		t.Fatalf("InsertTaskVcs: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tx, err = st.BeginWrite(context.Background())
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	if err := tx.SetTaskVcsHead(task.ID, "new-sha", fmtTime(now)); err != nil {
		tx.Rollback()
		t.Fatalf("SetTaskVcsHead: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got, err := st.GetTaskVcs(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("GetTaskVcs: %v", err)
	}
	if got.HeadCommit == nil || *got.HeadCommit != "new-sha" {
		t.Errorf("HeadCommit = %v, want new-sha", got.HeadCommit)
	}
}
