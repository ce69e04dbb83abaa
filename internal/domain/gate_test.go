package domain

import (
	"strings"
	"testing"
)

func TestClassifyExitCode(t *testing.T) {
	cases := []struct {
		name     string
		exitCode int
		killed   bool
		want     GateResultStatus
	}{
		{"success", 0, false, GatePassed},
		{"pending sentinel", 75, false, GatePending},
		{"generic failure", 1, false, GateFailed},
		{"killed overrides exit code", 0, true, GateTimeout},
	}
	for _, c := range cases {
		if got := ClassifyExitCode(c.exitCode, c.killed); got != c.want {
			t.Errorf("%s: ClassifyExitCode(%d, %v) = %s, want %s", c.name, c.exitCode, c.killed, got, c.want)
		}
	}
}

func TestTailTruncate(t *testing.T) {
	short := "hello"
	if got := TailTruncate(short); got != short {
		t.Errorf("TailTruncate(short) = %q, want unchanged", got)
	}

	long := strings.Repeat("x", MaxTailBytes+100)
	got := TailTruncate(long)
	if len(got) != MaxTailBytes {
		t.Errorf("TailTruncate(long) length = %d, want %d", len(got), MaxTailBytes)
	}
	if !strings.HasSuffix(long, got) {
		t.Error("TailTruncate must keep the tail, not the head")
	}
}

func TestValidateGateName(t *testing.T) {
	existing := []string{"lint", "test"}
	if err := ValidateGateName("lint", existing); err == nil {
		t.Error("expected conflict for duplicate gate name")
	}
	if err := ValidateGateName("typecheck", existing); err != nil {
		t.Errorf("unexpected error for unique gate name: %v", err)
	}
}
