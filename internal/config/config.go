// Package config resolves the reactor's inputs. The reactor runs inside a
// CI job, so resolution is environment-first: workflow inputs, then CCO_*
// variables, then the hosting platform's own variables, with an optional
// .cco.yml file underneath for local runs.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// EventType names the external events the reactor consumes.
type EventType string

const (
	EventIssueLabeled     EventType = "issue_labeled"
	EventProgressCheck    EventType = "progress_check"
	EventPush             EventType = "push"
	EventPROpened         EventType = "pull_request_opened"
	EventPRReview         EventType = "pull_request_review"
	EventPRMerged         EventType = "pull_request_merged"
	EventSchedule         EventType = "schedule"
	EventWorkflowDispatch EventType = "workflow_dispatch"
)

// Event is the decoded trigger for one reactor invocation.
type Event struct {
	Type        EventType
	IssueNumber int
	PRNumber    int
	Branch      string
	ReviewState string
	ReviewBody  string
	Token       string // idempotency token from the dispatching workflow
}

// Config holds everything one reactor invocation needs. Immutable after
// Load.
type Config struct {
	GithubToken string `yaml:"-"`
	RepoOwner   string `yaml:"repo_owner"`
	RepoName    string `yaml:"repo_name"`
	RepoPath    string `yaml:"repo_path"`

	// ClaudeConfigs is the raw JSON credential array; the llm package
	// parses and validates it.
	ClaudeConfigs string `yaml:"-"`

	MaxEMs              int    `yaml:"max_ems"`
	MaxWorkersPerEM     int    `yaml:"max_workers_per_em"`
	ReviewWaitMinutes   int    `yaml:"review_wait_minutes"`
	DispatchStaggerMs   int    `yaml:"dispatch_stagger_ms"`
	StallTimeoutMinutes int    `yaml:"stall_timeout_minutes"`
	PRLabel             string `yaml:"pr_label"`
	Workflow            string `yaml:"workflow"`
	LogLevel            string `yaml:"log_level"`

	Event Event `yaml:"-"`
}

// defaults per the interface contract.
func defaultConfig() *Config {
	return &Config{
		RepoPath:            ".",
		MaxEMs:              3,
		MaxWorkersPerEM:     3,
		ReviewWaitMinutes:   5,
		DispatchStaggerMs:   2000,
		StallTimeoutMinutes: 60,
		PRLabel:             "cco",
		LogLevel:            "info",
	}
}

// ConfigFile is the optional override file for local/dev runs.
const ConfigFile = ".cco.yml"

// Load resolves configuration for one invocation: file, then environment,
// then validation. The returned error joins all validation failures.
func Load() (*Config, error) {
	cfg := defaultConfig()

	if err := applyFile(cfg); err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)
	resolveEvent(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadForQuery resolves configuration for read-only commands (status,
// watch) where no event and no credentials are required.
func LoadForQuery() (*Config, error) {
	cfg := defaultConfig()
	if err := applyFile(cfg); err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)

	var errs []error
	if cfg.GithubToken == "" {
		errs = append(errs, requiredErr("github-token", ""))
	}
	if cfg.RepoOwner == "" || cfg.RepoName == "" {
		errs = append(errs, requiredErr("repo-owner/repo-name", cfg.RepoOwner+"/"+cfg.RepoName))
	}
	if err := joinErrs(errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFile(cfg *Config) error {
	path := filepath.Join(cfg.RepoPath, ConfigFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// lookupInput resolves one named input by precedence: workflow input
// (INPUT_FOO-BAR), CCO variable (CCO_FOO_BAR), then any extra fallbacks.
func lookupInput(name string, fallbacks ...string) string {
	upper := strings.ToUpper(name)
	if v := os.Getenv("INPUT_" + upper); v != "" {
		return v
	}
	if v := os.Getenv("CCO_" + strings.ReplaceAll(upper, "-", "_")); v != "" {
		return v
	}
	for _, fb := range fallbacks {
		if v := os.Getenv(fb); v != "" {
			return v
		}
	}
	return ""
}

func lookupInt(name string, fallbacks ...string) (int, bool) {
	raw := lookupInput(name, fallbacks...)
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}
