package config

import (
	"os"
	"strings"
)

// envOverrides maps named inputs to config field setters. Names follow the
// workflow-input convention (hyphenated); lookupInput also accepts the
// CCO_* underscored form and the listed platform fallbacks.
var envOverrides = []struct {
	name      string
	fallbacks []string
	apply     func(*Config, string)
}{
	{name: "github-token", fallbacks: []string{"GITHUB_TOKEN"}, apply: func(c *Config, v string) { c.GithubToken = v }},
	{name: "repo-owner", apply: func(c *Config, v string) { c.RepoOwner = v }},
	{name: "repo-name", apply: func(c *Config, v string) { c.RepoName = v }},
	{name: "repo-path", fallbacks: []string{"GITHUB_WORKSPACE"}, apply: func(c *Config, v string) { c.RepoPath = v }},
	{name: "claude-configs", apply: func(c *Config, v string) { c.ClaudeConfigs = v }},
	{name: "pr-label", apply: func(c *Config, v string) { c.PRLabel = v }},
	{name: "workflow", apply: func(c *Config, v string) { c.Workflow = v }},
	{name: "log-level", apply: func(c *Config, v string) { c.LogLevel = v }},
}

var envIntOverrides = []struct {
	name  string
	apply func(*Config, int)
}{
	{name: "max-ems", apply: func(c *Config, v int) { c.MaxEMs = v }},
	{name: "max-workers-per-em", apply: func(c *Config, v int) { c.MaxWorkersPerEM = v }},
	{name: "review-wait-minutes", apply: func(c *Config, v int) { c.ReviewWaitMinutes = v }},
	{name: "dispatch-stagger-ms", apply: func(c *Config, v int) { c.DispatchStaggerMs = v }},
	{name: "stall-timeout-minutes", apply: func(c *Config, v int) { c.StallTimeoutMinutes = v }},
}

// applyEnvOverrides modifies cfg in place from the environment.
func applyEnvOverrides(cfg *Config) {
	for _, o := range envOverrides {
		if v := lookupInput(o.name, o.fallbacks...); v != "" {
			o.apply(cfg, v)
		}
	}
	for _, o := range envIntOverrides {
		if v, ok := lookupInt(o.name); ok {
			o.apply(cfg, v)
		}
	}

	// GITHUB_REPOSITORY carries "owner/name" when the explicit inputs are
	// absent.
	if cfg.RepoOwner == "" || cfg.RepoName == "" {
		if repo := os.Getenv("GITHUB_REPOSITORY"); repo != "" {
			if owner, name, ok := strings.Cut(repo, "/"); ok {
				if cfg.RepoOwner == "" {
					cfg.RepoOwner = owner
				}
				if cfg.RepoName == "" {
					cfg.RepoName = name
				}
			}
		}
	}
}

// resolveEvent decodes the trigger event from the environment.
func resolveEvent(cfg *Config) {
	ev := Event{
		Type:        EventType(lookupInput("event-type", "GITHUB_EVENT_NAME")),
		Branch:      lookupInput("branch"),
		ReviewState: lookupInput("review-state"),
		ReviewBody:  lookupInput("review-body"),
		Token:       lookupInput("cco-token"),
	}
	if n, ok := lookupInt("issue-number"); ok {
		ev.IssueNumber = n
	}
	if n, ok := lookupInt("pr-number"); ok {
		ev.PRNumber = n
	}

	// Platform event names map onto the reactor's vocabulary.
	switch ev.Type {
	case "issues":
		ev.Type = EventIssueLabeled
	case "pull_request":
		ev.Type = EventPROpened
	case "pull_request_review":
		ev.Type = EventPRReview
	}
	cfg.Event = ev
}
