// Package eventbus fans committed events out to in-process subscribers,
// with cursor-based resume and store-backed replay (spec §4.7).
package eventbus

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/overseer-dev/overseer/internal/domain"
	"github.com/overseer-dev/overseer/internal/logging"
	"github.com/overseer-dev/overseer/internal/metrics"
)

// EventStore is the read side of the store this bus replays from.
type EventStore interface {
	EventsAfter(ctx context.Context, cursor uint64, limit int) ([]*domain.Event, error)
	LatestSeq(ctx context.Context) (uint64, error)
}

// ringSize bounds the in-memory replay window; subscribers who fall
// further behind than this are downgraded to store-backed replay
// (spec §4.7 "downgraded... transparently").
const ringSize = 4096

const subscriberQueueSize = 256

// Subscription is a live tail-from-seq stream. Events arrive on Ch in
// seq order; the subscriber tracks its own Cursor and may Resubscribe
// after a disconnect.
type Subscription struct {
	Ch     chan *domain.Event
	cursor uint64
	bus    *Bus
	id     uint64
}

// Cursor returns the seq of the last event queued on Ch by live delivery
// (or the last seq passed to Ack), for reconnect-by-cursor (spec §4.7).
func (s *Subscription) Cursor() uint64 { return atomic.LoadUint64(&s.cursor) }

// Ack advances the subscriber's cursor after it has processed an event.
func (s *Subscription) Ack(seq uint64) { atomic.StoreUint64(&s.cursor, seq) }

// Bus is the single-process, multi-producer multi-consumer fan-out.
type Bus struct {
	mu          sync.Mutex
	subs        map[uint64]*Subscription
	nextSubID   uint64
	ring        []*domain.Event
	ringHead    int
	droppedCnt  uint64
	store       EventStore
	log         *zap.SugaredLogger
}

func New(store EventStore) *Bus {
	return &Bus{
		subs:  make(map[uint64]*Subscription),
		ring:  make([]*domain.Event, 0, ringSize),
		store: store,
		log:   logging.New("eventbus"),
	}
}

// Publish hands a just-committed event to in-process subscribers. Must
// be called only after the transaction that inserted it has committed
// (spec §4.7, §9) — never before.
func (b *Bus) Publish(e *domain.Event) {
	metrics.RecordEventPublished(string(e.Type))
	b.mu.Lock()
	b.appendRing(e)
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		b.deliver(s, e)
	}
}

func (b *Bus) appendRing(e *domain.Event) {
	if len(b.ring) < ringSize {
		b.ring = append(b.ring, e)
		return
	}
	b.ring[b.ringHead] = e
	b.ringHead = (b.ringHead + 1) % ringSize
}

// deliver is non-blocking for the publisher: a subscriber whose queue is
// full is disconnected rather than stalling the writer (spec §4.7
// "Backpressure: a slow subscriber is disconnected; it must resume by
// cursor. Events are never dropped from the log.").
func (b *Bus) deliver(s *Subscription, e *domain.Event) {
	select {
	case s.Ch <- e:
		atomic.StoreUint64(&s.cursor, e.Seq)
	default:
		b.log.Warnw("subscriber queue full, disconnecting", "subscriber", s.id, "seq", e.Seq)
		atomic.AddUint64(&b.droppedCnt, 1)
		metrics.RecordEventDropped()
		b.unsubscribe(s.id)
	}
}

// Subscribe opens a tail-from-seq stream: events with seq > cursor are
// replayed first (from the ring buffer, falling back to the store if the
// cursor has scrolled out of it), then new events stream live.
func (b *Bus) Subscribe(ctx context.Context, cursor uint64) (*Subscription, error) {
	b.mu.Lock()
	id := b.nextSubID
	b.nextSubID++
	sub := &Subscription{
		Ch:     make(chan *domain.Event, subscriberQueueSize),
		cursor: cursor,
		bus:    b,
		id:     id,
	}
	backlog := b.backlogFromRing(cursor)
	b.subs[id] = sub
	b.mu.Unlock()

	if backlog != nil {
		for _, e := range backlog {
			sub.Ch <- e
		}
		return sub, nil
	}

	// Cursor is older than the ring window: replay from the store before
	// the subscriber is registered for live delivery, to avoid a gap.
	events, err := b.store.EventsAfter(ctx, cursor, ringSize)
	if err != nil {
		b.unsubscribe(id)
		return nil, err
	}
	for _, e := range events {
		sub.Ch <- e
	}
	return sub, nil
}

// backlogFromRing returns buffered events with seq > cursor if the whole
// gap is covered by the ring, or nil if the caller must fall back to the
// store.
func (b *Bus) backlogFromRing(cursor uint64) []*domain.Event {
	if len(b.ring) == 0 {
		return nil
	}
	oldest := b.ring[0].Seq
	if len(b.ring) == ringSize {
		oldest = b.ring[b.ringHead].Seq
	}
	if cursor < oldest-1 {
		return nil
	}
	var out []*domain.Event
	for i := 0; i < len(b.ring); i++ {
		idx := i
		if len(b.ring) == ringSize {
			idx = (b.ringHead + i) % ringSize
		}
		e := b.ring[idx]
		if e.Seq > cursor {
			out = append(out, e)
		}
	}
	return out
}

// Snapshot is the bounded range query subscription shape (spec §4.7).
func (b *Bus) Snapshot(ctx context.Context, fromSeq, toSeq uint64) ([]*domain.Event, error) {
	type rangeStore interface {
		EventsRange(ctx context.Context, from, to uint64) ([]*domain.Event, error)
	}
	rs, ok := b.store.(rangeStore)
	if !ok {
		return nil, nil
	}
	return rs.EventsRange(ctx, fromSeq, toSeq)
}

func (b *Bus) Unsubscribe(s *Subscription) {
	b.unsubscribe(s.id)
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.subs[id]; ok {
		close(s.Ch)
		delete(b.subs, id)
	}
}

// DroppedCount reports how many events have been dropped from a
// subscriber's live queue due to backpressure (not from the durable log,
// which never drops).
func (b *Bus) DroppedCount() uint64 {
	return atomic.LoadUint64(&b.droppedCnt)
}
