package gate

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/overseer-dev/overseer/internal/domain"
	"github.com/overseer-dev/overseer/internal/eventbus"
	"github.com/overseer-dev/overseer/internal/ids"
	"github.com/overseer-dev/overseer/internal/logging"
	"github.com/overseer-dev/overseer/internal/metrics"
	"github.com/overseer-dev/overseer/internal/store"
)

// Scheduler orchestrates one Review's gate run: computing the effective
// gate list, running gates in parallel, classifying outcomes, deciding
// the review's next phase, and polling Pending gates until they settle
// or time out (spec §4.5). Failed-but-not-exhausted gates are never
// auto-restarted; the Review simply stays GatesPending until the agent
// resubmits (a new Review) or a human calls Rerun.
type Scheduler struct {
	store  *store.Store
	bus    *eventbus.Bus
	runner *Runner

	mu     sync.Mutex
	timers map[string]*time.Timer
	locks  map[string]*sync.Mutex // per-review orchestration lock

	sem chan struct{}
	log *zap.SugaredLogger
}

const maxParallelGates = 8

func NewScheduler(st *store.Store, bus *eventbus.Bus) *Scheduler {
	return &Scheduler{
		store:  st,
		bus:    bus,
		runner: NewRunner(),
		timers: make(map[string]*time.Timer),
		locks:  make(map[string]*sync.Mutex),
		sem:    make(chan struct{}, maxParallelGates),
		log:    logging.New("gate-scheduler"),
	}
}

// reviewLock returns the mutex serializing every orchestration round
// (submit, rerun, poll-fire) for one review, so concurrent triggers for
// the same review fold into a single in-flight round (spec §4.5: the
// scheduler is "a small actor that owns ... a per-review mutex map").
func (s *Scheduler) reviewLock(reviewID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[reviewID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[reviewID] = l
	}
	return l
}

// ScheduleReview implements task.GateScheduler: runs every effective gate
// once, fresh, at attempt 1.
func (s *Scheduler) ScheduleReview(ctx context.Context, reviewID string) error {
	lock := s.reviewLock(reviewID)
	lock.Lock()
	defer lock.Unlock()
	return s.runFresh(ctx, reviewID)
}

// Rerun is the human override: re-executes the effective gate list,
// resetting attempt counters to 1 (spec §4.5 "rerun(review_id)").
func (s *Scheduler) Rerun(ctx context.Context, reviewID string) error {
	lock := s.reviewLock(reviewID)
	lock.Lock()
	defer lock.Unlock()

	r, err := s.store.GetReview(ctx, reviewID)
	if err != nil {
		return err
	}
	if r.Status.Terminal() {
		return domain.InvalidState("review %s is terminal (%s), cannot rerun", reviewID, r.Status)
	}
	s.cancelTimer(reviewID)
	return s.runFresh(ctx, reviewID)
}

// Cancel stops any outstanding poll timer for a review, used when its
// task is cancelled out from under an in-progress gate round (spec §4.5
// actor command set: ScheduleReview/Rerun/Cancel/PollFired).
func (s *Scheduler) Cancel(reviewID string) {
	s.cancelTimer(reviewID)
}

func (s *Scheduler) cancelTimer(reviewID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[reviewID]; ok {
		t.Stop()
		delete(s.timers, reviewID)
	}
}

type gateOutcome struct {
	gate   *domain.Gate
	result *domain.GateResult
}

// runFresh executes every effective gate at attempt 1 (spec §4.5 steps
// 1-4: snapshot, run in parallel, classify, decide).
func (s *Scheduler) runFresh(ctx context.Context, reviewID string) error {
	review, task, repo, gates, err := s.loadRound(ctx, reviewID)
	if err != nil || review == nil {
		return err
	}
	if len(gates) == 0 {
		return s.settle(ctx, review, nil)
	}

	out := make([]gateOutcome, len(gates))
	var wg sync.WaitGroup
	for i, g := range gates {
		wg.Add(1)
		go func(i int, g *domain.Gate) {
			defer wg.Done()
			s.sem <- struct{}{}
			defer func() { <-s.sem }()
			out[i] = gateOutcome{gate: g, result: s.exec(ctx, g, review, task, repo, 1)}
		}(i, g)
	}
	wg.Wait()
	return s.settle(ctx, review, out)
}

// runPoll re-examines only the Pending gates of a review (spec §4.5
// "Polling loop"); gates already settled keep their recorded result.
func (s *Scheduler) runPoll(ctx context.Context, reviewID string) error {
	review, task, repo, gates, err := s.loadRound(ctx, reviewID)
	if err != nil || review == nil {
		return err
	}

	out := make([]gateOutcome, 0, len(gates))
	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, g := range gates {
		last, err := s.store.LatestResult(ctx, g.ID, review.ID)
		if err != nil {
			s.log.Errorw("failed to read latest gate result", "gate", g.Name, "error", err)
			continue
		}
		if last == nil || last.Status != domain.GatePending {
			mu.Lock()
			out = append(out, gateOutcome{gate: g, result: last})
			mu.Unlock()
			continue
		}

		if time.Since(last.StartedAt) > time.Duration(g.MaxPendingSecs)*time.Second {
			timedOut := *last
			timedOut.Status = domain.GateTimeout
			if timedOut.Attempt >= g.MaxRetries {
				timedOut.Status = domain.GateEscalated
			}
			now := time.Now().UTC()
			timedOut.CompletedAt = &now
			s.persistResult(ctx, &timedOut)
			mu.Lock()
			out = append(out, gateOutcome{gate: g, result: &timedOut})
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(g *domain.Gate, attempt int) {
			defer wg.Done()
			s.sem <- struct{}{}
			defer func() { <-s.sem }()
			r := s.exec(ctx, g, review, task, repo, attempt)
			mu.Lock()
			out = append(out, gateOutcome{gate: g, result: r})
			mu.Unlock()
		}(g, last.Attempt)
	}
	wg.Wait()
	return s.settle(ctx, review, out)
}

func (s *Scheduler) loadRound(ctx context.Context, reviewID string) (*domain.Review, *domain.Task, *store.Repo, []*domain.Gate, error) {
	review, err := s.store.GetReview(ctx, reviewID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if review.Status.Terminal() {
		return nil, nil, nil, nil, nil
	}
	task, err := s.store.GetTask(ctx, review.TaskID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	repo, err := s.store.GetRepo(ctx, task.RepoID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	gates, err := EffectiveGateList(ctx, s.store, task.RepoID, task.ID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return review, task, repo, gates, nil
}

// exec spawns one gate invocation at the given attempt number and
// classifies the result (spec §4.5's exit-code table and the
// process-spawn-error -> direct-escalation rule).
func (s *Scheduler) exec(ctx context.Context, g *domain.Gate, review *domain.Review, task *domain.Task, repo *store.Repo, attempt int) *domain.GateResult {
	env := Env{
		TaskID:   task.ID,
		RepoID:   repo.ID,
		RepoPath: repo.Path,
		ReviewID: review.ID,
		GateName: g.Name,
		Attempt:  attempt,
	}

	started := time.Now().UTC()
	execRes, err := s.runner.Run(ctx, g, env)
	if err != nil {
		r := SpawnErrorResult(g, review.ID, task.ID, attempt, err)
		s.persistResult(ctx, r)
		return r
	}

	status := domain.ClassifyExitCode(execRes.ExitCode, execRes.Killed)
	completed := time.Now().UTC()
	exitCode := execRes.ExitCode
	r := &domain.GateResult{
		GateID:      g.ID,
		ReviewID:    review.ID,
		TaskID:      task.ID,
		Status:      status,
		Stdout:      execRes.Stdout,
		Stderr:      execRes.Stderr,
		ExitCode:    &exitCode,
		Attempt:     attempt,
		StartedAt:   started,
		CompletedAt: &completed,
	}
	// A Timeout (killed by deadline) is treated as Failed for retry
	// accounting (spec §4.5 exit-code table).
	failedLike := r.Status == domain.GateFailed || r.Status == domain.GateTimeout
	if failedLike && attempt >= g.MaxRetries {
		r.Status = domain.GateEscalated
	}
	metrics.RecordGateRun(g.Name, string(r.Status), completed.Sub(started).Seconds())
	s.persistResult(ctx, r)
	return r
}

func (s *Scheduler) persistResult(ctx context.Context, r *domain.GateResult) {
	tx, err := s.store.BeginWrite(ctx)
	if err != nil {
		s.log.Errorw("failed to open write for gate result", "error", err)
		return
	}
	if err := tx.InsertGateResult(r); err != nil {
		tx.Rollback()
		s.log.Errorw("failed to persist gate result", "error", err)
		return
	}
	ev := &domain.Event{
		ID:     ids.New(ids.Event),
		Type:   resultEventType(r.Status),
		At:     time.Now().UTC(),
		Source: domain.SourceRelay,
		TaskID: r.TaskID,
		Body:   map[string]any{"gate_id": r.GateID, "review_id": r.ReviewID, "attempt": r.Attempt, "status": string(r.Status)},
	}
	seq, err := tx.AllocateEventSeq()
	if err != nil {
		tx.Rollback()
		return
	}
	ev.Seq = seq
	if err := tx.InsertEvent(ev); err != nil {
		tx.Rollback()
		return
	}
	if err := tx.Commit(); err != nil {
		return
	}
	s.bus.Publish(ev)
}

func resultEventType(status domain.GateResultStatus) domain.EventType {
	switch status {
	case domain.GatePassed:
		return domain.EventGatePassed
	case domain.GateEscalated:
		return domain.EventGateEscalated
	default:
		return domain.EventGateFailed
	}
}

// settle applies the decision table from spec §4.5 step 4 to the
// round's results and transitions the review.
func (s *Scheduler) settle(ctx context.Context, review *domain.Review, outcomes []gateOutcome) error {
	var anyEscalated, anyPending bool
	var minPoll time.Duration
	for _, o := range outcomes {
		if o.result == nil {
			continue
		}
		switch o.result.Status {
		case domain.GateEscalated:
			anyEscalated = true
		case domain.GatePending:
			anyPending = true
			if d := time.Duration(o.gate.PollIntervalSecs) * time.Second; d > 0 && (minPoll == 0 || d < minPoll) {
				minPoll = d
			}
		}
	}
	if minPoll == 0 {
		minPoll = 5 * time.Second
	}

	now := time.Now().UTC()
	switch {
	case anyEscalated:
		review.Status = domain.ReviewGatesEscalated
		metrics.RecordReviewTerminal(string(domain.ReviewGatesEscalated))
		return s.commitReview(ctx, review, domain.EventGateEscalated)
	case anyPending:
		s.armTimer(review.ID, minPoll)
		return nil
	default:
		// Remaining non-escalated, non-pending outcomes are either Passed
		// or Failed-but-not-exhausted. Any Failed leaves the review
		// GatesPending awaiting a new submit; only all-Passed advances it.
		if anyFailedRetryable(outcomes) {
			return nil
		}
		review.Status = domain.ReviewAgentPending
		review.GatesCompletedAt = &now
		return s.commitReview(ctx, review, domain.EventReviewGatesPassed)
	}
}

// anyFailedRetryable reports a Failed or Timeout outcome that hasn't
// escalated. Timeout is treated as Failed for retry accounting (spec
// §4.5 exit-code table); both leave the Review GatesPending.
func anyFailedRetryable(outcomes []gateOutcome) bool {
	for _, o := range outcomes {
		if o.result == nil {
			continue
		}
		if o.result.Status == domain.GateFailed || o.result.Status == domain.GateTimeout {
			return true
		}
	}
	return false
}

func (s *Scheduler) commitReview(ctx context.Context, review *domain.Review, evType domain.EventType) error {
	tx, err := s.store.BeginWrite(ctx)
	if err != nil {
		return err
	}
	if err := tx.UpdateReview(review); err != nil {
		tx.Rollback()
		return err
	}
	ev := &domain.Event{
		ID:     ids.New(ids.Event),
		Type:   evType,
		At:     time.Now().UTC(),
		Source: domain.SourceRelay,
		TaskID: review.TaskID,
		Body:   map[string]any{"review_id": review.ID, "status": string(review.Status)},
	}
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
	if err := tx.Commit(); err != nil {
		return err
	}
	s.bus.Publish(ev)
	return nil
}

// armTimer schedules the next poll round at now + the Pending gates'
// shortest poll_interval_secs (spec §4.5 "Polling loop").
func (s *Scheduler) armTimer(reviewID string, after time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[reviewID]; ok {
		t.Stop()
	}
	s.timers[reviewID] = time.AfterFunc(after, func() {
		s.mu.Lock()
		delete(s.timers, reviewID)
		s.mu.Unlock()
		lock := s.reviewLock(reviewID)
		lock.Lock()
		defer lock.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := s.runPoll(ctx, reviewID); err != nil {
			s.log.Errorw("gate poll round failed", "review_id", reviewID, "error", err)
		}
	})
}

// RecoverPending re-arms poll timers for every review an unclean
// shutdown left in GatesPending, so a Pending gate result still gets
// re-examined instead of stalling forever with no timer alive to fire
// runPoll. Call once at daemon startup, before the HTTP/broker surfaces
// start accepting new work.
func (s *Scheduler) RecoverPending(ctx context.Context) error {
	reviews, err := s.store.ListReviewsByStatus(ctx, domain.ReviewGatesPending)
	if err != nil {
		return err
	}
	for _, r := range reviews {
		s.armTimer(r.ID, 0)
		s.log.Infow("recovered pending gate poll timer", "review_id", r.ID)
	}
	return nil
}

// StopAll cancels every outstanding poll timer, for graceful shutdown.
// Pending-poll timers are also cancelled on rerun and on review terminal
// transitions (spec §5 Cancellation); rerun does so via cancelTimer and
// settle never re-arms once a review reaches a terminal or escalated
// status that requires a fresh Review or human rerun to progress.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}
