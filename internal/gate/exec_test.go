package gate

import (
	"context"
	"testing"

	"github.com/overseer-dev/overseer/internal/domain"
)

func TestRunnerRunCapturesExitCodeAndOutput(t *testing.T) {
	r := NewRunner()
	g := &domain.Gate{Name: "echo", Command: "echo hello; exit 3", TimeoutSecs: 5}
	res, err := r.Run(context.Background(), g, Env{TaskID: "t1", RepoPath: t.TempDir()})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
	if res.Killed {
		t.Error("Killed should be false for a command that exits on its own")
	}
	if res.Stdout != "hello\n" {
		t.Errorf("Stdout = %q, want %q", res.Stdout, "hello\n")
	}
}

func TestRunnerRunKillsOnTimeout(t *testing.T) {
	r := NewRunner()
	g := &domain.Gate{Name: "sleeper", Command: "sleep 10", TimeoutSecs: 1}
	res, err := r.Run(context.Background(), g, Env{TaskID: "t1", RepoPath: t.TempDir()})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Killed {
		t.Error("expected the runner to kill a command exceeding its timeout")
	}
}

func TestSpawnErrorResultEscalatesDirectly(t *testing.T) {
	g := &domain.Gate{ID: "gate_1", Name: "missing"}
	r := SpawnErrorResult(g, "review_1", "task_1", 1, context.DeadlineExceeded)
	if r.Status != domain.GateEscalated {
		t.Errorf("Status = %s, want Escalated", r.Status)
	}
	if r.Attempt != 1 {
		t.Errorf("Attempt = %d, want 1 (spawn errors consume no retries)", r.Attempt)
	}
}
