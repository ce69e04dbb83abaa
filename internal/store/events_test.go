package store

import (
	"context"
	"testing"
	"time"

	"github.com/overseer-dev/overseer/internal/domain"
)

func insertEvent(t *testing.T, st *Store, seq uint64, typ domain.EventType) {
	t.Helper()
	tx, err := st.BeginWrite(context.Background())
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	ev := &domain.Event{Seq: seq, ID: "ev_" + string(typ), Type: typ, At: time.Now().UTC(), Source: domain.SourceCli, TaskID: "t1", Body: map[string]any{}}
	if err := tx.InsertEvent(ev); err != nil {
		tx.Rollback()
		t.Fatalf("InsertEvent: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestEventsAfterReturnsOnlyNewerEvents(t *testing.T) {
	st := mustOpen(t)
	insertEvent(t, st, 1, domain.EventTaskCreated)
	insertEvent(t, st, 2, domain.EventTaskUpdated)
	insertEvent(t, st, 3, domain.EventTaskStatusChanged)

	got, err := st.EventsAfter(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("EventsAfter: %v", err)
	}
	if len(got) != 2 || got[0].Seq != 2 || got[1].Seq != 3 {
		t.Errorf("EventsAfter(1) = %v, want seq 2,3", got)
	}
}

func TestEventsRangeIsInclusive(t *testing.T) {
	st := mustOpen(t)
	insertEvent(t, st, 1, domain.EventTaskCreated)
	insertEvent(t, st, 2, domain.EventTaskUpdated)
	insertEvent(t, st, 3, domain.EventTaskStatusChanged)

	got, err := st.EventsRange(context.Background(), 1, 2)
	if err != nil {
		t.Fatalf("EventsRange: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("EventsRange(1,2) len = %d, want 2", len(got))
	}
}

func TestLatestSeqOnEmptyStore(t *testing.T) {
	st := mustOpen(t)
	seq, err := st.LatestSeq(context.Background())
	if err != nil {
		t.Fatalf("LatestSeq: %v", err)
	}
	if seq != 0 {
		t.Errorf("LatestSeq on empty store = %d, want 0", seq)
	}
}
