package vcs

import (
	"context"
	"os"
	"path/filepath"

	"github.com/overseer-dev/overseer/internal/store"
)

// Resolver maps a repo id to its VCS handle, satisfying
// internal/task.RepoResolver. The backend is auto-detected from the
// registered repo's working copy rather than stored per-repo: a ".jj"
// directory selects Jj, otherwise Git (spec §3 TaskVcs.VcsType names the
// two backends; spec is silent on how a repo declares which one it uses).
type Resolver struct {
	store *store.Store
}

func NewResolver(st *store.Store) *Resolver {
	return &Resolver{store: st}
}

func (r *Resolver) Resolve(ctx context.Context, repoID string) (Repo, error) {
	repo, err := r.store.GetRepo(ctx, repoID)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(filepath.Join(repo.Path, ".jj")); err == nil {
		return NewJj(repo.Path), nil
	}
	return NewGit(repo.Path), nil
}
