// Package help implements the agent-initiated human escalation
// mini-workflow: request_help, respond, resume (spec §4.6).
package help

import (
	"context"
	"time"

	"github.com/overseer-dev/overseer/internal/domain"
	"github.com/overseer-dev/overseer/internal/eventbus"
	"github.com/overseer-dev/overseer/internal/ids"
	"github.com/overseer-dev/overseer/internal/store"
)

type Engine struct {
	store *store.Store
	bus   *eventbus.Bus
}

func NewEngine(st *store.Store, bus *eventbus.Bus) *Engine {
	return &Engine{store: st, bus: bus}
}

// RequestHelp creates a Pending HelpRequest and moves the task to
// AwaitingHuman, capturing its current status for resume.
func (e *Engine) RequestHelp(ctx context.Context, taskID string, category domain.HelpCategory, reason string, options []string) (*domain.HelpRequest, error) {
	existing, err := e.store.PendingHelpRequest(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, domain.Conflict("task %s already has a pending help request", taskID)
	}

	t, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !domain.ValidFromStatus(t.Status) {
		return nil, domain.PreconditionFailed("task %s in status %s cannot request help", taskID, t.Status)
	}

	now := time.Now().UTC()
	h := &domain.HelpRequest{
		ID:               ids.New(ids.HelpRequest),
		TaskID:           taskID,
		FromStatus:       t.Status,
		Category:         category,
		Reason:           reason,
		SuggestedOptions: options,
		Status:           domain.HelpPending,
		CreatedAt:        now,
	}
	t.Status = domain.StatusAwaitingHuman
	t.UpdatedAt = now

	err = e.withWrite(ctx, func(tx *store.Txn) ([]*domain.Event, error) {
		if err := tx.InsertHelpRequest(h); err != nil {
			return nil, err
		}
		if err := tx.UpdateTask(t); err != nil {
			return nil, err
		}
		return []*domain.Event{
			e.newEvent(domain.EventHelpRequested, taskID, map[string]any{
				"help_id": h.ID, "task_id": taskID, "category": string(category), "from_status": string(h.FromStatus),
			}),
			e.newEvent(domain.EventTaskStatusChanged, taskID, map[string]any{"task_id": taskID, "from": string(h.FromStatus), "to": string(domain.StatusAwaitingHuman)}),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Respond records a human's answer; Pending -> Responded.
func (e *Engine) Respond(ctx context.Context, helpID, response string, chosenOption *int) (*domain.HelpRequest, error) {
	h, err := e.store.GetHelpRequest(ctx, helpID)
	if err != nil {
		return nil, err
	}
	if h.Status != domain.HelpPending {
		return nil, domain.InvalidTransition("help_request", string(h.Status), string(domain.HelpResponded))
	}
	if chosenOption != nil {
		if err := domain.ValidateChosenOption(*chosenOption, h.SuggestedOptions); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	h.Status = domain.HelpResponded
	h.Response = &response
	h.ChosenOption = chosenOption
	h.RespondedAt = &now

	err = e.withWrite(ctx, func(tx *store.Txn) ([]*domain.Event, error) {
		if err := tx.UpdateHelpRequest(h); err != nil {
			return nil, err
		}
		return []*domain.Event{e.newEvent(domain.EventHelpResponded, h.TaskID, map[string]any{"help_id": h.ID, "task_id": h.TaskID})}, nil
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Resume returns the task to its pre-help status once the active help
// request has been Responded.
func (e *Engine) Resume(ctx context.Context, taskID string) (*domain.Task, error) {
	t, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.Status != domain.StatusAwaitingHuman {
		return nil, domain.PreconditionFailed("task %s is not AwaitingHuman", taskID)
	}
	h, err := e.store.ActiveHelpRequest(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if h == nil || h.Status != domain.HelpResponded {
		return nil, domain.PreconditionFailed("task %s has no responded help request", taskID)
	}

	now := time.Now().UTC()
	t.Status = h.FromStatus
	t.UpdatedAt = now
	h.Status = domain.HelpResolved
	h.ResumedAt = &now

	err = e.withWrite(ctx, func(tx *store.Txn) ([]*domain.Event, error) {
		if err := tx.UpdateTask(t); err != nil {
			return nil, err
		}
		if err := tx.UpdateHelpRequest(h); err != nil {
			return nil, err
		}
		return []*domain.Event{
			e.newEvent(domain.EventHelpResumed, taskID, map[string]any{"help_id": h.ID, "task_id": taskID}),
			e.newEvent(domain.EventTaskStatusChanged, taskID, map[string]any{"task_id": taskID, "from": string(domain.StatusAwaitingHuman), "to": string(t.Status)}),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (e *Engine) AddLearning(ctx context.Context, taskID, content string, sourceTaskID *string) (*domain.Learning, error) {
	l := &domain.Learning{
		ID:           ids.New(ids.Learning),
		TaskID:       taskID,
		Content:      content,
		SourceTaskID: sourceTaskID,
		CreatedAt:    time.Now().UTC(),
	}
	evType := domain.EventLearningAdded
	if sourceTaskID != nil {
		evType = domain.EventLearningBubbled
	}
	err := e.withWrite(ctx, func(tx *store.Txn) ([]*domain.Event, error) {
		if err := tx.InsertLearning(l); err != nil {
			return nil, err
		}
		return []*domain.Event{e.newEvent(evType, taskID, map[string]any{"learning_id": l.ID, "task_id": taskID})}, nil
	})
	if err != nil {
		return nil, err
	}
	return l, nil
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
