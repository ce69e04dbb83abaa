package gate

import (
	"context"

	"github.com/overseer-dev/overseer/internal/domain"
	"github.com/overseer-dev/overseer/internal/store"
)

// EffectiveGateList computes the inherited gate list for a task: repo-
// scope gates first, then task-scope gates walking root -> task, each
// scope deduplicated by name (inherited gates are never disabled by
// descendants) (spec §4.5).
func EffectiveGateList(ctx context.Context, s *store.Store, repoID, taskID string) ([]*domain.Gate, error) {
	var chain []*domain.Task
	for id := taskID; id != ""; {
		t, err := s.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		chain = append([]*domain.Task{t}, chain...)
		if t.ParentID == nil {
			break
		}
		id = *t.ParentID
	}

	var out []*domain.Gate
	repoGates, err := s.EffectiveGates(ctx, domain.ScopeRepo, repoID)
	if err != nil {
		return nil, err
	}
	out = append(out, dedupByName(repoGates)...)

	for _, t := range chain {
		taskGates, err := s.EffectiveGates(ctx, domain.ScopeTask, t.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, dedupByName(taskGates)...)
	}
	return out, nil
}

func dedupByName(gates []*domain.Gate) []*domain.Gate {
	seen := make(map[string]bool)
	var out []*domain.Gate
	for _, g := range gates {
		if seen[g.Name] {
			continue
		}
		seen[g.Name] = true
		out = append(out, g)
	}
	return out
}
