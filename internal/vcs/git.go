package vcs

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// Git is a Repo backed by the git CLI, adapted from the teacher's thin
// exec.Command wrapper.
type Git struct {
	repoPath string
}

func NewGit(repoPath string) *Git {
	return &Git{repoPath: repoPath}
}

var (
	nonSlugChars = regexp.MustCompile(`[^a-z0-9-]`)
	multiHyphen  = regexp.MustCompile(`-+`)
)

// BranchName produces a sanitized, length-bounded slug branch name for a
// task, mirroring the teacher's task-branch naming convention.
func BranchName(taskID, description string) string {
	slug := strings.ToLower(description)
	slug = strings.ReplaceAll(slug, " ", "-")
	slug = nonSlugChars.ReplaceAllString(slug, "")
	slug = multiHyphen.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > 30 {
		slug = strings.TrimRight(slug[:30], "-")
	}
	return fmt.Sprintf("overseer/%s-%s", taskID, slug)
}

func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.repoPath
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out)), nil
}

func (g *Git) MainHead(ctx context.Context) (string, error) {
	return g.run(ctx, "rev-parse", "HEAD")
}

func (g *Git) CreateRef(ctx context.Context, refName, baseCommit string) error {
	_, err := g.run(ctx, "checkout", "-b", refName, baseCommit)
	return err
}

func (g *Git) Dirty(ctx context.Context) (bool, error) {
	out, err := g.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

func (g *Git) Commit(ctx context.Context, refName, message string) (string, error) {
	if _, err := g.run(ctx, "checkout", refName); err != nil {
		return "", err
	}
	if _, err := g.run(ctx, "add", "-A"); err != nil {
		return "", err
	}
	if _, err := g.run(ctx, "commit", "-m", message, "--allow-empty"); err != nil {
		return "", err
	}
	return g.run(ctx, "rev-parse", "HEAD")
}

func (g *Git) Diff(ctx context.Context, refName string) (string, error) {
	return g.run(ctx, "diff", fmt.Sprintf("%s~1", refName), refName)
}
