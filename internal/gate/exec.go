// Package gate implements the gate scheduler: effective gate list
// computation, per-gate process execution, async polling, retry and
// escalation accounting (spec §4.5).
package gate

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/overseer-dev/overseer/internal/domain"
	"github.com/overseer-dev/overseer/internal/logging"
)

// ExecResult is the raw outcome of spawning one gate command, before
// exit-code classification.
type ExecResult struct {
	ExitCode int
	Killed   bool
	Stdout   string
	Stderr   string
}

// Runner spawns gate commands as child processes, bounding their
// runtime and capturing a rolling tail of output (spec §4.5).
type Runner struct {
	log *zap.SugaredLogger
}

func NewRunner() *Runner {
	return &Runner{log: logging.New("gate-runner")}
}

// Env names the variables every gate invocation receives (spec §4.5).
type Env struct {
	TaskID     string
	RepoID     string
	RepoPath   string
	ReviewID   string
	GateName   string
	Attempt    int
}

func (e Env) asEnviron() []string {
	return []string{
		"OVERSEER_TASK_ID=" + e.TaskID,
		"OVERSEER_REPO_ID=" + e.RepoID,
		"OVERSEER_REPO_PATH=" + e.RepoPath,
		"OVERSEER_REVIEW_ID=" + e.ReviewID,
		"OVERSEER_GATE_NAME=" + e.GateName,
		"OVERSEER_ATTEMPT=" + fmt.Sprint(e.Attempt),
	}
}

// Run spawns g.Command in repoPath with env, killing it (SIGTERM then
// SIGKILL after a grace period) if it runs past timeout.
func (r *Runner) Run(ctx context.Context, g *domain.Gate, env Env) (*ExecResult, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(g.TimeoutSecs)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", g.Command)
	cmd.Dir = env.RepoPath
	cmd.Env = append(cmd.Environ(), env.asEnviron()...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to spawn gate %q: %w", g.Name, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var killed bool
	select {
	case err := <-done:
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				if exitErr.ExitCode() == 127 {
					// sh -c reports a command it cannot find as exit 127.
					return nil, fmt.Errorf("gate %q command not found: %s", g.Name, domain.TailTruncate(stderr.String()))
				}
				return &ExecResult{ExitCode: exitErr.ExitCode(), Stdout: domain.TailTruncate(stdout.String()), Stderr: domain.TailTruncate(stderr.String())}, nil
			}
			return nil, fmt.Errorf("gate %q failed to run: %w", g.Name, err)
		}
	case <-ctx.Done():
		killed = true
		r.terminate(cmd)
		<-done
	}

	elapsed := time.Since(start)
	r.log.Debugw("gate run finished", "gate", g.Name, "elapsed", humanize.RelTime(start, start.Add(elapsed), "ago", ""), "killed", killed)

	exitCode := 0
	if killed {
		exitCode = -1
	}
	return &ExecResult{ExitCode: exitCode, Killed: killed, Stdout: domain.TailTruncate(stdout.String()), Stderr: domain.TailTruncate(stderr.String())}, nil
}

// terminate signals the whole process group: SIGTERM first, SIGKILL
// after a short grace period if it hasn't exited (spec §5 Cancellation).
func (r *Runner) terminate(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pgid := cmd.Process.Pid
	_ = syscall.Kill(-pgid, syscall.SIGTERM)
	time.Sleep(2 * time.Second)
	_ = syscall.Kill(-pgid, syscall.SIGKILL)
}

// Spawn errors (command not found, workdir missing) route directly to
// escalation with a synthetic GateResult (spec §4.5 Failure semantics).
func SpawnErrorResult(g *domain.Gate, reviewID, taskID string, attempt int, err error) *domain.GateResult {
	now := time.Now().UTC()
	return &domain.GateResult{
		GateID:      g.ID,
		ReviewID:    reviewID,
		TaskID:      taskID,
		Status:      domain.GateEscalated,
		Stderr:      domain.TailTruncate(fmt.Sprintf("gate %q could not be started: %v", g.Name, err)),
		Attempt:     attempt,
		StartedAt:   now,
		CompletedAt: &now,
	}
}
