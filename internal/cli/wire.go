package cli

import (
	"fmt"

	"github.com/coderelay/cco/internal/config"
	"github.com/coderelay/cco/internal/github"
	"github.com/coderelay/cco/internal/gitops"
	"github.com/coderelay/cco/internal/llm"
	"github.com/coderelay/cco/internal/orchestrator"
	"github.com/coderelay/cco/internal/state"
)

// buildOrchestrator wires the reactor from a loaded configuration.
func buildOrchestrator(cfg *config.Config) (*orchestrator.Orchestrator, error) {
	gh := github.NewClient(cfg.RepoOwner, cfg.RepoName, cfg.GithubToken)

	// The state document must survive branch switches and discards.
	git := gitops.NewClient(cfg.RepoPath, state.FilePath)
	store := state.NewStore(git, cfg.RepoPath)

	ring, err := llm.ParseRing(cfg.ClaudeConfigs)
	if err != nil {
		return nil, fmt.Errorf("claude-configs: %w", err)
	}
	agent := llm.NewDispatcher(llm.NewCLIClient(), ring)

	return orchestrator.New(cfg, gh, git, store, agent, ring), nil
}

// buildQueryDeps wires the read-only dependencies used by status and watch.
func buildQueryDeps(cfg *config.Config) (*github.Client, *state.Store) {
	git := gitops.NewClient(cfg.RepoPath, state.FilePath)
	return github.NewClient(cfg.RepoOwner, cfg.RepoName, cfg.GithubToken),
		state.NewStore(git, cfg.RepoPath)
}
