// Package task implements the task engine: hierarchy/blocker invariants,
// the status machine, ready-work selection (spec §4.3).
package task

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/overseer-dev/overseer/internal/domain"
	"github.com/overseer-dev/overseer/internal/eventbus"
	"github.com/overseer-dev/overseer/internal/ids"
	"github.com/overseer-dev/overseer/internal/logging"
	"github.com/overseer-dev/overseer/internal/store"
	"github.com/overseer-dev/overseer/internal/vcs"
)

// GateScheduler is the subset of internal/gate the task engine drives on
// submit and rerun (spec §2 dependency order: Gate scheduler depends on
// Task + Review + Event bus).
type GateScheduler interface {
	ScheduleReview(ctx context.Context, reviewID string) error
	Cancel(reviewID string)
}

// RepoResolver maps a repo id to the VCS handle for its working copy.
type RepoResolver interface {
	Resolve(ctx context.Context, repoID string) (vcs.Repo, error)
}

// Engine implements the operations of spec §4.3.
type Engine struct {
	store *store.Store
	bus   *eventbus.Bus
	repos RepoResolver
	gates GateScheduler
	log   *zap.SugaredLogger
}

func NewEngine(st *store.Store, bus *eventbus.Bus, repos RepoResolver, gates GateScheduler) *Engine {
	return &Engine{store: st, bus: bus, repos: repos, gates: gates, log: logging.New("task")}
}

// CreateInput names only the writable fields a caller may set (spec §6
// "creation and patch records naming only writable fields").
type CreateInput struct {
	RepoID      string
	Kind        domain.TaskKind
	ParentID    *string
	Description string
	Context     string
	Priority    *domain.Priority
	BlockedBy   []string
}

func (e *Engine) Create(ctx context.Context, in CreateInput) (*domain.Task, error) {
	var parent *domain.Task
	if in.ParentID != nil {
		p, err := e.store.GetTask(ctx, *in.ParentID)
		if err != nil {
			return nil, err
		}
		if p.RepoID != in.RepoID {
			return nil, domain.InvalidInput("parent task belongs to a different repo")
		}
		parent = p
	}
	if err := domain.ValidateHierarchy(in.Kind, parent); err != nil {
		return nil, err
	}

	priority := domain.PriorityNormal
	if in.Priority != nil {
		priority = *in.Priority
	}

	now := time.Now().UTC()
	kindPrefix := ids.Task
	switch in.Kind {
	case domain.KindMilestone:
		kindPrefix = ids.Milestone
	case domain.KindSubtask:
		kindPrefix = ids.Subtask
	}
	t := &domain.Task{
		ID:          ids.New(kindPrefix),
		RepoID:      in.RepoID,
		ParentID:    in.ParentID,
		Kind:        in.Kind,
		Description: in.Description,
		Context:     in.Context,
		Priority:    priority,
		Status:      domain.StatusPending,
		BlockedBy:   map[string]struct{}{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	graph, err := e.store.BlockedByGraph(ctx, in.RepoID)
	if err != nil {
		return nil, err
	}
	for _, b := range in.BlockedBy {
		if err := domain.ValidateBlockEdge(graph, t.ID, b); err != nil {
			return nil, err
		}
		t.BlockedBy[b] = struct{}{}
	}

	err = e.withWrite(ctx, func(tx *store.Txn) ([]*domain.Event, error) {
		if err := tx.InsertTask(t); err != nil {
			return nil, err
		}
		ev := e.newEvent(domain.EventTaskCreated, t.ID, map[string]any{"task_id": t.ID, "repo_id": t.RepoID, "kind": string(t.Kind)})
		return []*domain.Event{ev}, nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

type UpdateInput struct {
	Description *string
	Context     *string
	Priority    *domain.Priority
}

func (e *Engine) Update(ctx context.Context, id string, in UpdateInput) (*domain.Task, error) {
	t, err := e.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Description != nil {
		t.Description = *in.Description
	}
	if in.Context != nil {
		t.Context = *in.Context
	}
	if in.Priority != nil {
		t.Priority = *in.Priority
	}
	t.UpdatedAt = time.Now().UTC()

	err = e.withWrite(ctx, func(tx *store.Txn) ([]*domain.Event, error) {
		if err := tx.UpdateTask(t); err != nil {
			return nil, err
		}
		return []*domain.Event{e.newEvent(domain.EventTaskUpdated, t.ID, map[string]any{"task_id": t.ID})}, nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Delete removes the task together with its reviews, review comments,
// gate results, help requests, learnings, VCS record and task-scope
// gates, and every blocker edge naming it, including other tasks'
// blocked_by entries that point at it. Child tasks are not removed.
func (e *Engine) Delete(ctx context.Context, id string) error {
	t, err := e.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	return e.withWrite(ctx, func(tx *store.Txn) ([]*domain.Event, error) {
		if err := tx.DeleteTask(id); err != nil {
			return nil, err
		}
		return []*domain.Event{e.newEvent(domain.EventTaskDeleted, t.ID, map[string]any{"task_id": id})}, nil
	})
}

func (e *Engine) Start(ctx context.Context, id string) (*domain.Task, error) {
	t, err := e.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != domain.StatusPending {
		return nil, domain.InvalidTransition("task", string(t.Status), string(domain.StatusInProgress))
	}

	graph, err := e.store.BlockedByGraph(ctx, t.RepoID)
	if err != nil {
		return nil, err
	}
	completed := func(bid string) bool {
		b, err := e.store.GetTask(ctx, bid)
		return err == nil && b.Status == domain.StatusCompleted
	}
	parentOf := func(tid string) (string, bool) {
		tk, err := e.store.GetTask(ctx, tid)
		if err != nil || tk.ParentID == nil {
			return "", false
		}
		return *tk.ParentID, true
	}
	if domain.EffectivelyBlocked(t.ID, graph, completed, parentOf) {
		return nil, domain.Blocked(t.ID)
	}

	var parent *domain.Task
	if t.ParentID != nil {
		parent, err = e.store.GetTask(ctx, *t.ParentID)
		if err != nil {
			return nil, err
		}
		if parent.StartedAt == nil {
			return nil, domain.PreconditionFailed("parent task %s has not started", parent.ID)
		}
	}

	repo, err := e.repos.Resolve(ctx, t.RepoID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve repo %s: %w", t.RepoID, err)
	}

	var baseCommit string
	if parent != nil {
		pv, err := e.store.GetTaskVcs(ctx, parent.ID)
		if err == nil && pv.HeadCommit != nil {
			baseCommit = *pv.HeadCommit
		}
	}
	if baseCommit == "" {
		baseCommit, err = repo.MainHead(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read repo head: %w", err)
		}
	}

	refName := vcs.RefNameFor(t.ID, t.Description)
	if err := repo.CreateRef(ctx, refName, baseCommit); err != nil {
		return nil, domain.PreconditionFailed("failed to create ref for task %s: %v", t.ID, err)
	}

	now := time.Now().UTC()
	t.Status = domain.StatusInProgress
	t.StartedAt = &now
	t.UpdatedAt = now

	tv := &domain.TaskVcs{
		TaskID:      t.ID,
		RepoID:      t.RepoID,
		VcsType:     domain.VcsGit,
		RefName:     refName,
		BaseCommit:  baseCommit,
		StartCommit: baseCommit,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = e.withWrite(ctx, func(tx *store.Txn) ([]*domain.Event, error) {
		if err := tx.UpdateTask(t); err != nil {
			return nil, err
		}
		if err := tx.InsertTaskVcs(tv); err != nil {
			return nil, err
		}
		return []*domain.Event{
			e.newEvent(domain.EventTaskStarted, t.ID, map[string]any{"task_id": t.ID}),
			e.newEvent(domain.EventRefCreated, t.ID, map[string]any{"task_id": t.ID, "ref": refName}),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (e *Engine) Submit(ctx context.Context, id string) (*domain.Review, error) {
	t, err := e.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}

	// A task may also be resubmitted while InReview if its active review
	// is still stuck GatesPending: the review never escalated, but none
	// of gates/review.RequestChanges can return it to InProgress either
	// (spec §4.5/§8/§9 - a fresh submit produces a new Review with its
	// own retry budget, freezing the stuck one as Superseded).
	var stale *domain.Review
	if t.Status == domain.StatusInReview {
		active, aerr := e.store.ActiveReview(ctx, t.ID)
		if aerr != nil || active == nil || active.Status != domain.ReviewGatesPending {
			return nil, domain.InvalidTransition("task", string(t.Status), string(domain.StatusInReview))
		}
		stale = active
	} else if t.Status != domain.StatusInProgress {
		return nil, domain.InvalidTransition("task", string(t.Status), string(domain.StatusInReview))
	}

	if stale != nil && e.gates != nil {
		e.gates.Cancel(stale.ID)
	}

	repo, err := e.repos.Resolve(ctx, t.RepoID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve repo %s: %w", t.RepoID, err)
	}
	tv, err := e.store.GetTaskVcs(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	dirty, err := repo.Dirty(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check working copy: %w", err)
	}
	commit := tv.BaseCommit
	if dirty {
		commit, err = repo.Commit(ctx, tv.RefName, fmt.Sprintf("submit: %s", t.Description))
		if err != nil {
			return nil, domain.PreconditionFailed("failed to commit task %s: %v", t.ID, err)
		}
	}

	now := time.Now().UTC()
	t.Status = domain.StatusInReview
	t.UpdatedAt = now

	review := &domain.Review{
		ID:          ids.New(ids.Review),
		TaskID:      t.ID,
		Status:      domain.ReviewGatesPending,
		SubmittedAt: now,
	}

	err = e.withWrite(ctx, func(tx *store.Txn) ([]*domain.Event, error) {
		if err := tx.UpdateTask(t); err != nil {
			return nil, err
		}
		if err := tx.SetTaskVcsHead(t.ID, commit, fmtNow(now)); err != nil {
			return nil, err
		}
		if err := tx.InsertReview(review); err != nil {
			return nil, err
		}
		events := []*domain.Event{
			e.newEvent(domain.EventCommitted, t.ID, map[string]any{"task_id": t.ID, "rev": commit}),
			e.newEvent(domain.EventTaskSubmitted, t.ID, map[string]any{"task_id": t.ID, "review_id": review.ID}),
			e.newEvent(domain.EventReviewCreated, t.ID, map[string]any{"task_id": t.ID, "review_id": review.ID}),
		}
		if stale != nil {
			stale.Status = domain.ReviewSuperseded
			if err := tx.UpdateReview(stale); err != nil {
				return nil, err
			}
			events = append(events, e.newEvent(domain.EventReviewSuperseded, t.ID, map[string]any{"task_id": t.ID, "review_id": stale.ID, "superseded_by": review.ID}))
		}
		return events, nil
	})
	if err != nil {
		return nil, err
	}

	if e.gates != nil {
		if err := e.gates.ScheduleReview(ctx, review.ID); err != nil {
			e.log.Errorw("failed to schedule gate run", "review_id", review.ID, "error", err)
		}
	}
	return review, nil
}

func (e *Engine) Cancel(ctx context.Context, id string) (*domain.Task, error) {
	t, err := e.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status == domain.StatusCompleted {
		return nil, domain.InvalidTransition("task", string(t.Status), string(domain.StatusCancelled))
	}
	t.Status = domain.StatusCancelled
	t.UpdatedAt = time.Now().UTC()
	err = e.withWrite(ctx, func(tx *store.Txn) ([]*domain.Event, error) {
		if err := tx.UpdateTask(t); err != nil {
			return nil, err
		}
		return []*domain.Event{e.newEvent(domain.EventTaskCancelled, t.ID, map[string]any{"task_id": t.ID})}, nil
	})
	if err != nil {
		return nil, err
	}
	if active, aerr := e.store.ActiveReview(ctx, t.ID); aerr == nil && active != nil {
		e.gates.Cancel(active.ID)
	}
	return t, nil
}

func (e *Engine) ForceComplete(ctx context.Context, id string) (*domain.Task, error) {
	t, err := e.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	t.Status = domain.StatusCompleted
	t.CompletedAt = &now
	t.UpdatedAt = now

	active, _ := e.store.ActiveReview(ctx, t.ID)

	err = e.withWrite(ctx, func(tx *store.Txn) ([]*domain.Event, error) {
		if err := tx.UpdateTask(t); err != nil {
			return nil, err
		}
		events := []*domain.Event{e.newEvent(domain.EventTaskCompleted, t.ID, map[string]any{"task_id": t.ID})}
		if active != nil {
			active.Status = domain.ReviewApproved
			if err := tx.UpdateReview(active); err != nil {
				return nil, err
			}
			events = append(events, e.newEvent(domain.EventReviewApproved, t.ID, map[string]any{"task_id": t.ID, "review_id": active.ID}))
		}
		return events, nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (e *Engine) SetStatus(ctx context.Context, id string, status domain.TaskStatus) (*domain.Task, error) {
	t, err := e.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	from := t.Status
	t.Status = status
	now := time.Now().UTC()
	t.UpdatedAt = now
	if status == domain.StatusInProgress && t.StartedAt == nil {
		t.StartedAt = &now
	}
	if status == domain.StatusCompleted {
		t.CompletedAt = &now
	}
	err = e.withWrite(ctx, func(tx *store.Txn) ([]*domain.Event, error) {
		if err := tx.UpdateTask(t); err != nil {
			return nil, err
		}
		return []*domain.Event{e.newEvent(domain.EventTaskStatusChanged, t.ID, map[string]any{"task_id": t.ID, "from": string(from), "to": string(status)})}, nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (e *Engine) Block(ctx context.Context, id, blockerID string) error {
	t, err := e.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	graph, err := e.store.BlockedByGraph(ctx, t.RepoID)
	if err != nil {
		return err
	}
	if err := domain.ValidateBlockEdge(graph, id, blockerID); err != nil {
		return err
	}
	return e.withWrite(ctx, func(tx *store.Txn) ([]*domain.Event, error) {
		if err := tx.AddBlocker(id, blockerID); err != nil {
			return nil, err
		}
		return []*domain.Event{e.newEvent(domain.EventBlockerAdded, id, map[string]any{"task_id": id, "blocker_id": blockerID})}, nil
	})
}

func (e *Engine) Unblock(ctx context.Context, id, blockerID string) error {
	return e.withWrite(ctx, func(tx *store.Txn) ([]*domain.Event, error) {
		if err := tx.RemoveBlocker(id, blockerID); err != nil {
			return nil, err
		}
		return []*domain.Event{e.newEvent(domain.EventBlockerRemoved, id, map[string]any{"task_id": id, "blocker_id": blockerID})}, nil
	})
}

// newEvent builds an unallocated-seq event; seq is stamped by withWrite
// inside the transaction (spec §9).
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

// withWrite opens a write transaction, runs fn to get the events to
// append, allocates their seqs and inserts them, commits, then publishes
// to the bus after commit (spec §4.7, §9 "allocate seq inside the write
// transaction ... then hand the event value to in-memory fan-out after
// commit").
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
