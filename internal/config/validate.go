package config

import (
	"errors"
	"fmt"
)

// ValidationError describes one invalid or missing input.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config.%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

func requiredErr(field string, value any) error {
	return &ValidationError{Field: field, Value: value, Message: "is required"}
}

func joinErrs(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// validateConfig checks all inputs, returning every failure joined so the
// operator fixes them in one pass. Configuration errors exit non-zero and
// never touch state.
func validateConfig(cfg *Config) error {
	var errs []error

	if cfg.GithubToken == "" {
		errs = append(errs, requiredErr("github-token", ""))
	}
	if cfg.RepoOwner == "" {
		errs = append(errs, requiredErr("repo-owner", cfg.RepoOwner))
	}
	if cfg.RepoName == "" {
		errs = append(errs, requiredErr("repo-name", cfg.RepoName))
	}
	if cfg.ClaudeConfigs == "" {
		errs = append(errs, requiredErr("claude-configs", ""))
	}

	if cfg.MaxEMs < 1 {
		errs = append(errs, &ValidationError{Field: "max-ems", Value: cfg.MaxEMs, Message: "must be at least 1"})
	}
	if cfg.MaxWorkersPerEM < 1 {
		errs = append(errs, &ValidationError{Field: "max-workers-per-em", Value: cfg.MaxWorkersPerEM, Message: "must be at least 1"})
	}
	if cfg.ReviewWaitMinutes < 0 {
		errs = append(errs, &ValidationError{Field: "review-wait-minutes", Value: cfg.ReviewWaitMinutes, Message: "must not be negative"})
	}
	if cfg.DispatchStaggerMs < 0 {
		errs = append(errs, &ValidationError{Field: "dispatch-stagger-ms", Value: cfg.DispatchStaggerMs, Message: "must not be negative"})
	}
	if cfg.StallTimeoutMinutes < 1 {
		errs = append(errs, &ValidationError{Field: "stall-timeout-minutes", Value: cfg.StallTimeoutMinutes, Message: "must be at least 1"})
	}

	errs = append(errs, validateEvent(cfg.Event)...)
	return joinErrs(errs)
}

// validateEvent enforces the event-dependent inputs.
func validateEvent(ev Event) []error {
	var errs []error
	switch ev.Type {
	case EventIssueLabeled, EventProgressCheck:
		if ev.IssueNumber <= 0 {
			errs = append(errs, &ValidationError{Field: "issue-number", Value: ev.IssueNumber, Message: "required for " + string(ev.Type)})
		}
	case EventPush:
		if ev.Branch == "" {
			errs = append(errs, &ValidationError{Field: "branch", Value: "", Message: "required for push"})
		}
	case EventPROpened, EventPRMerged, EventPRReview:
		if ev.PRNumber <= 0 {
			errs = append(errs, &ValidationError{Field: "pr-number", Value: ev.PRNumber, Message: "required for " + string(ev.Type)})
		}
	case EventSchedule, EventWorkflowDispatch:
		// No payload.
	case "":
		errs = append(errs, requiredErr("event-type", ""))
	default:
		errs = append(errs, &ValidationError{Field: "event-type", Value: string(ev.Type), Message: "unknown event type"})
	}
	return errs
}
