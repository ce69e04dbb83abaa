package ids

import (
	"strings"
	"testing"
	"time"
)

func TestNewAtIsSortableAndValid(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Second)

	a := NewAt(Task, t0)
	b := NewAt(Task, t1)

	if !strings.HasPrefix(a, "task_") {
		t.Errorf("NewAt(Task, ...) = %q, want task_ prefix", a)
	}
	if !Valid(a, Task) {
		t.Errorf("generated id %q should be valid", a)
	}
	if a >= b {
		t.Errorf("ids should be lexically sortable by creation time: %q should sort before %q", a, b)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		id   string
	}{
		{"no separator", "taskabc"},
		{"unknown prefix", "bogus_00000000000000000000000000"},
		{"short token", "task_123"},
		{"non-base32 char", "task_0000000000000000000000000!"},
	}
	for _, c := range cases {
		if _, _, err := Parse(c.id, ""); err == nil {
			t.Errorf("%s: Parse(%q) expected an error", c.name, c.id)
		}
	}
}

func TestParseRejectsMismatchedKind(t *testing.T) {
	id := New(Task)
	if _, _, err := Parse(id, Review); err == nil {
		t.Errorf("Parse(%q, Review) expected an error for a task id", id)
	}
	if _, _, err := Parse(id, Task); err != nil {
		t.Errorf("Parse(%q, Task) unexpected error: %v", id, err)
	}
}

func TestKindOf(t *testing.T) {
	id := New(Subtask)
	kind, ok := KindOf(id)
	if !ok || kind != Subtask {
		t.Errorf("KindOf(%q) = (%s, %v), want (%s, true)", id, kind, ok, Subtask)
	}
	if _, ok := KindOf("no-underscore"); ok {
		t.Error("KindOf should reject an id with no separator")
	}
}
