package vcs

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Jj is a Repo backed by the jj (Jujutsu) CLI, the second VCS backend
// named in spec §3's TaskVcs.VcsType. The core treats it uniformly with
// Git through the same Repo interface (spec §9 open question).
type Jj struct {
	repoPath string
}

func NewJj(repoPath string) *Jj {
	return &Jj{repoPath: repoPath}
}

func (j *Jj) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "jj", args...)
	cmd.Dir = j.repoPath
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("jj %s: %w: %s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out)), nil
}

func (j *Jj) MainHead(ctx context.Context) (string, error) {
	return j.run(ctx, "log", "-r", "trunk()", "-T", "commit_id", "--no-graph")
}

func (j *Jj) CreateRef(ctx context.Context, refName, baseCommit string) error {
	if _, err := j.run(ctx, "new", baseCommit); err != nil {
		return err
	}
	_, err := j.run(ctx, "bookmark", "create", refName)
	return err
}

func (j *Jj) Dirty(ctx context.Context) (bool, error) {
	out, err := j.run(ctx, "diff", "--summary")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

func (j *Jj) Commit(ctx context.Context, refName, message string) (string, error) {
	if _, err := j.run(ctx, "bookmark", "set", refName, "-r", "@"); err != nil {
		return "", err
	}
	if _, err := j.run(ctx, "describe", "-m", message); err != nil {
		return "", err
	}
	return j.run(ctx, "log", "-r", "@", "-T", "commit_id", "--no-graph")
}

func (j *Jj) Diff(ctx context.Context, refName string) (string, error) {
	return j.run(ctx, "diff", "-r", refName)
}
