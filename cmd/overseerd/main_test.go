package main

import (
	"context"
	"testing"

	"github.com/overseer-dev/overseer/internal/config"
	"github.com/overseer-dev/overseer/internal/store"
)

func TestRegisterConfiguredReposIsIdempotent(t *testing.T) {
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer st.Close()
	ctx := context.Background()
	cfg := &config.Daemon{Repos: []config.RepoConfig{{Name: "demo", Path: "/repo/demo"}}}

	if err := registerConfiguredRepos(ctx, st, cfg); err != nil {
		t.Fatalf("registerConfiguredRepos: %v", err)
	}
	got, err := st.GetRepoByPath(ctx, "/repo/demo")
	if err != nil {
		t.Fatalf("GetRepoByPath: %v", err)
	}
	if got == nil {
		t.Fatal("expected repo to be registered")
	}

	// Re-running with the same config must not fail or duplicate the repo.
	if err := registerConfiguredRepos(ctx, st, cfg); err != nil {
		t.Fatalf("second registerConfiguredRepos: %v", err)
	}
	again, err := st.GetRepoByPath(ctx, "/repo/demo")
	if err != nil {
		t.Fatalf("GetRepoByPath: %v", err)
	}
	if again.ID != got.ID {
		t.Errorf("repo id changed across idempotent re-registration: %s vs %s", got.ID, again.ID)
	}
}
