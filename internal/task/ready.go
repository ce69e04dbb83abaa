package task

import (
	"context"
	"sort"

	"github.com/overseer-dev/overseer/internal/domain"
)

// NextReady returns the deepest ready task by DFS, tie-broken by
// (priority asc, created_at asc) (spec §4.3 "Ready selection").
func (e *Engine) NextReady(ctx context.Context, repoID string, scope *string) (*domain.Task, error) {
	roots, err := e.store.ListTasksByRepoStatus(ctx, repoID, "")
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*domain.Task, len(roots))
	children := make(map[string][]*domain.Task)
	for _, t := range roots {
		byID[t.ID] = t
		if t.ParentID != nil {
			children[*t.ParentID] = append(children[*t.ParentID], t)
		}
	}

	graph, err := e.store.BlockedByGraph(ctx, repoID)
	if err != nil {
		return nil, err
	}
	completed := func(id string) bool {
		t, ok := byID[id]
		return ok && t.Status == domain.StatusCompleted
	}
	parentOf := func(id string) (string, bool) {
		t, ok := byID[id]
		if !ok || t.ParentID == nil {
			return "", false
		}
		return *t.ParentID, true
	}

	isReady := func(t *domain.Task) bool {
		return t.Status != domain.StatusCompleted && t.Status != domain.StatusCancelled &&
			!domain.EffectivelyBlocked(t.ID, graph, completed, parentOf)
	}

	var candidates []*domain.Task
	for _, t := range roots {
		if scope != nil && !inScope(t, *scope, byID) {
			continue
		}
		if !isReady(t) {
			continue
		}
		// Prefer the deepest ready descendant: if t has ready children,
		// skip t itself in favor of those (spec §4.3).
		if hasReadyDescendant(t, children, isReady) {
			continue
		}
		candidates = append(candidates, t)
	}

	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority < candidates[j].Priority
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	return candidates[0], nil
}

func hasReadyDescendant(t *domain.Task, children map[string][]*domain.Task, isReady func(*domain.Task) bool) bool {
	for _, c := range children[t.ID] {
		if isReady(c) {
			return true
		}
		if hasReadyDescendant(c, children, isReady) {
			return true
		}
	}
	return false
}

func inScope(t *domain.Task, scope string, byID map[string]*domain.Task) bool {
	for id := t.ID; ; {
		if id == scope {
			return true
		}
		cur, ok := byID[id]
		if !ok || cur.ParentID == nil {
			return false
		}
		id = *cur.ParentID
	}
}

// Progress counts tasks by status within scope (spec §4.3).
func (e *Engine) Progress(ctx context.Context, repoID string, scope *string) (map[domain.TaskStatus]int, error) {
	tasks, err := e.store.ListTasksByRepoStatus(ctx, repoID, "")
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*domain.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	counts := make(map[domain.TaskStatus]int)
	for _, t := range tasks {
		if scope != nil && !inScope(t, *scope, byID) {
			continue
		}
		counts[t.Status]++
	}
	return counts, nil
}
