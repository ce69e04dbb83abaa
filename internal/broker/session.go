// Package broker implements the harness-facing session protocol: frame
// shape, auth-first rule, one harness per connection, at-least-once
// delivery with message_id de-dup, heartbeat/reconnect-grace liveness
// (spec §6 "Broker session protocol").
package broker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/overseer-dev/overseer/internal/domain"
	"github.com/overseer-dev/overseer/internal/eventbus"
	"github.com/overseer-dev/overseer/internal/ids"
	"github.com/overseer-dev/overseer/internal/logging"
	"github.com/overseer-dev/overseer/internal/store"
)

// Frame is the wire shape every broker message shares (spec §6).
type Frame struct {
	Type          string         `json:"type"`
	MessageID     string         `json:"message_id"`
	CorrelationID *string        `json:"correlation_id,omitempty"`
	SessionID     *string        `json:"session_id,omitempty"`
	TaskID        *string        `json:"task_id,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// Sessions is the session state machine, transport-agnostic and
// unit-testable without a live NATS/websocket connection (spec §6: "only
// the state machine is core and is transport-agnostic").
type Sessions struct {
	store *store.Store
	bus   *eventbus.Bus
	log   *zap.SugaredLogger

	mu    sync.Mutex
	seen  map[string]time.Time   // message_id -> first-seen, for de-dup
	conns map[string]*connState // harness_id -> connection bookkeeping
}

type connState struct {
	authenticated   bool
	lastHeartbeatAt time.Time
	disconnectedAt  *time.Time
}

func NewSessions(st *store.Store, bus *eventbus.Bus) *Sessions {
	return &Sessions{
		store: st,
		bus:   bus,
		log:   logging.New("broker"),
		seen:  make(map[string]time.Time),
		conns: make(map[string]*connState),
	}
}

// Authenticate records the auth frame a harness must send before any
// other frame is accepted (spec §6 rule: "auth frame required before any
// other frame").
func (s *Sessions) Authenticate(harnessID, token string) error {
	if token == "" {
		return domain.NewError(domain.ErrUnauthorized, "missing auth token")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[harnessID] = &connState{authenticated: true, lastHeartbeatAt: time.Now().UTC()}
	return nil
}

func (s *Sessions) requireAuth(harnessID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[harnessID]
	if !ok || !c.authenticated {
		return domain.NewError(domain.ErrUnauthorized, "harness %s has not authenticated", harnessID)
	}
	return nil
}

// Dedup reports whether a message_id has already been seen by this
// Sessions instance, across every harness connection; seen ids are never
// evicted (spec §6 "at-least-once delivery with de-dup by message_id").
func (s *Sessions) Dedup(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[messageID]; ok {
		return true
	}
	s.seen[messageID] = time.Now().UTC()
	return false
}

// Start begins a Session bound to a task and harness; Pending until the
// harness acks.
func (s *Sessions) Start(ctx context.Context, taskID, harnessID string) (*domain.Session, error) {
	if err := s.requireAuth(harnessID); err != nil {
		return nil, err
	}
	existing, err := s.store.NonTerminalSession(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, domain.Conflict("task %s already has a non-terminal session", taskID)
	}

	sess := &domain.Session{
		ID:        ids.New(ids.Session),
		TaskID:    taskID,
		HarnessID: harnessID,
		Status:    domain.SessionPending,
		StartedAt: time.Now().UTC(),
	}
	err = s.withWrite(ctx, func(tx *store.Txn) ([]*domain.Event, error) {
		if err := tx.InsertSession(sess); err != nil {
			return nil, err
		}
		return []*domain.Event{s.newEvent(domain.EventSessionStarted, taskID, map[string]any{"session_id": sess.ID, "harness_id": harnessID})}, nil
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Ack moves Pending -> Active on the harness's acknowledgement frame.
func (s *Sessions) Ack(ctx context.Context, sessionID string) (*domain.Session, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != domain.SessionPending {
		return nil, domain.InvalidTransition("session", string(sess.Status), string(domain.SessionActive))
	}
	now := time.Now().UTC()
	sess.Status = domain.SessionActive
	sess.LastHeartbeatAt = &now
	return sess, s.withWrite(ctx, func(tx *store.Txn) ([]*domain.Event, error) {
		return nil, tx.UpdateSession(sess)
	})
}

// Heartbeat refreshes liveness for an Active session (spec §6: "heartbeat
// every 30s with 10s pong deadline").
func (s *Sessions) Heartbeat(ctx context.Context, sessionID string) error {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status != domain.SessionActive {
		return domain.PreconditionFailed("session %s is not active", sessionID)
	}
	now := time.Now().UTC()
	sess.LastHeartbeatAt = &now
	return s.withWrite(ctx, func(tx *store.Txn) ([]*domain.Event, error) {
		return nil, tx.UpdateSession(sess)
	})
}

func (s *Sessions) finish(ctx context.Context, sessionID string, to domain.SessionStatus, errMsg *string) (*domain.Session, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status.Terminal() {
		return sess, nil
	}
	now := time.Now().UTC()
	sess.Status = to
	sess.CompletedAt = &now
	sess.Error = errMsg
	evType := domain.EventSessionCompleted
	switch to {
	case domain.SessionFailed:
		evType = domain.EventSessionFailed
	case domain.SessionCancelled:
		evType = domain.EventSessionCancelled
	}
	err = s.withWrite(ctx, func(tx *store.Txn) ([]*domain.Event, error) {
		if err := tx.UpdateSession(sess); err != nil {
			return nil, err
		}
		return []*domain.Event{s.newEvent(evType, sess.TaskID, map[string]any{"session_id": sess.ID})}, nil
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Sessions) Complete(ctx context.Context, sessionID string) (*domain.Session, error) {
	return s.finish(ctx, sessionID, domain.SessionCompleted, nil)
}

func (s *Sessions) Fail(ctx context.Context, sessionID, reason string) (*domain.Session, error) {
	return s.finish(ctx, sessionID, domain.SessionFailed, &reason)
}

func (s *Sessions) Cancel(ctx context.Context, sessionID string) (*domain.Session, error) {
	return s.finish(ctx, sessionID, domain.SessionCancelled, nil)
}

// Disconnect marks a harness connection gone without failing its
// sessions outright, giving it ReconnectGrace to reattach (spec §6).
func (s *Sessions) Disconnect(harnessID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conns[harnessID]; ok {
		now := time.Now().UTC()
		c.disconnectedAt = &now
	}
}

// Reattach clears a harness's disconnected marker if it's within grace.
func (s *Sessions) Reattach(harnessID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[harnessID]
	if ok && c.disconnectedAt != nil && time.Since(*c.disconnectedAt) > domain.ReconnectGrace {
		delete(s.conns, harnessID)
		ok = false
	}
	if !ok {
		s.mu.Unlock()
		err := s.Authenticate(harnessID, token)
		s.mu.Lock()
		return err
	}
	c.disconnectedAt = nil
	c.lastHeartbeatAt = time.Now().UTC()
	return nil
}

// ReapStale fails sessions whose heartbeat has aged past reconnect grace,
// run periodically by the daemon (spec §6 liveness contract).
func (s *Sessions) ReapStale(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-domain.ReconnectGrace).Format(time.RFC3339Nano)
	stale, err := s.store.StaleSessions(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	for _, sess := range stale {
		if _, err := s.Fail(ctx, sess.ID, "heartbeat timeout"); err != nil {
			s.log.Errorw("failed to fail stale session", "session_id", sess.ID, "error", err)
		}
	}
	return len(stale), nil
}

func (s *Sessions) newEvent(typ domain.EventType, taskID string, body map[string]any) *domain.Event {
	return &domain.Event{
		ID:     ids.New(ids.Event),
		Type:   typ,
		At:     time.Now().UTC(),
		Source: domain.SourceRelay,
		TaskID: taskID,
		Body:   body,
	}
}

func (s *Sessions) withWrite(ctx context.Context, fn func(tx *store.Txn) ([]*domain.Event, error)) error {
	tx, err := s.store.BeginWrite(ctx)
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
		s.bus.Publish(ev)
	}
	return nil
}
