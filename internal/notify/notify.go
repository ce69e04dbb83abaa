// Package notify fans HelpRequested and GateEscalated events out to
// human-facing notification channels, grounded on the teacher's
// notifications manager/router/toast trio.
package notify

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/overseer-dev/overseer/internal/domain"
	"github.com/overseer-dev/overseer/internal/eventbus"
	"github.com/overseer-dev/overseer/internal/logging"
)

// Channel is one notification sink a Router can dispatch to.
type Channel interface {
	Name() string
	ShouldNotify(ev *domain.Event) bool
	Send(ev *domain.Event) error
}

// Router dispatches committed events to every matching channel, one
// goroutine per channel, fire-and-forget (grounded on the teacher's
// notifications.Router.Route).
type Router struct {
	mu       sync.RWMutex
	channels []Channel
	log      *zap.SugaredLogger
}

func NewRouter() *Router {
	return &Router{log: logging.New("notify")}
}

func (r *Router) AddChannel(ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels = append(r.channels, ch)
}

func (r *Router) route(ev *domain.Event) {
	r.mu.RLock()
	channels := make([]Channel, len(r.channels))
	copy(channels, r.channels)
	r.mu.RUnlock()

	for _, ch := range channels {
		go func(ch Channel) {
			if !ch.ShouldNotify(ev) {
				return
			}
			if err := ch.Send(ev); err != nil {
				r.log.Warnw("notification channel failed", "channel", ch.Name(), "event", ev.Type, "error", err)
			}
		}(ch)
	}
}

// Run subscribes to the event bus after fromSeq and routes each event to
// the channels whose ShouldNotify accepts it, until ctx is cancelled.
func (r *Router) Run(ctx context.Context, bus *eventbus.Bus, fromSeq uint64) error {
	sub, err := bus.Subscribe(ctx, fromSeq)
	if err != nil {
		return fmt.Errorf("failed to subscribe notify router: %w", err)
	}
	defer bus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Ch:
			if !ok {
				return nil
			}
			r.route(ev)
			sub.Ack(ev.Seq)
		}
	}
}

// interestingTypes names the events worth escalating to a human (spec
// §4.6, §4.5 "escalation").
var interestingTypes = map[domain.EventType]bool{
	domain.EventHelpRequested: true,
	domain.EventGateEscalated: true,
}

func relevant(ev *domain.Event) bool {
	return interestingTypes[ev.Type]
}
