// Package vcs is the narrow version-control interface the core consumes
// (spec §1, §9: "the core treats both [Git and Jj] uniformly"). Framing
// and backend-specific capability live outside the core; this package
// only exposes what TaskVcs needs.
package vcs

import "context"

// Repo is the per-repository handle a task's VCS operations run against.
type Repo interface {
	// MainHead returns the current head commit of the repository's main
	// reference, used as base_commit for a root task's start (spec §3).
	MainHead(ctx context.Context) (string, error)

	// CreateRef creates and checks out a new reference named refName for a
	// task at baseCommit; it returns only an error (spec §4.3 "start").
	CreateRef(ctx context.Context, refName, baseCommit string) error

	// Dirty reports whether the working copy has uncommitted changes;
	// submit commits them when it does.
	Dirty(ctx context.Context) (bool, error)

	// Commit stages and commits the working copy's current changes on
	// the task's ref, returning the new head commit (spec §4.3 "submit").
	Commit(ctx context.Context, refName, message string) (commit string, err error)

	// Diff returns the change introduced by refName's head commit, for
	// agent/human review rendering.
	Diff(ctx context.Context, refName string) (string, error)
}

// RefNameFor builds a task's ref name from its id and description, in
// the teacher's branch-slug style, so refs stay human-navigable.
func RefNameFor(taskID, description string) string {
	return BranchName(taskID, description)
}
