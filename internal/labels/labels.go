// Package labels defines the orchestrator's label vocabulary and the pure
// mapping helpers between internal enums and label strings.
//
// Every label carries the "cco-" prefix and belongs to exactly one partition:
// phase labels track the orchestration lifecycle on the issue, status labels
// track per-PR review state, type labels identify the component level, and
// "cco-em-<id>" pins a PR to its engineering manager. "cco-managed" marks any
// issue or PR the orchestrator owns.
package labels

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	// Managed marks issues and PRs owned by the orchestrator.
	Managed = "cco-managed"

	// Stalled is added by the watchdog when a record exceeds the stall timeout.
	Stalled = "cco-stalled"

	statusPrefix = "cco-status-"
	phasePrefix  = "cco-phase-"
	typePrefix   = "cco-type-"
	emPrefix     = "cco-em-"
)

// Status is the per-PR review state surfaced as a label.
type Status string

const (
	StatusAwaitingReview   Status = "awaiting-review"
	StatusChangesRequested Status = "changes-requested"
	StatusApproved         Status = "approved"
	StatusMerged           Status = "merged"
	StatusFailed           Status = "failed"
)

// ComponentLevel identifies which hierarchy level a PR belongs to.
type ComponentLevel string

const (
	TypeDirector ComponentLevel = "director"
	TypeEM       ComponentLevel = "em"
	TypeWorker   ComponentLevel = "worker"
)

// Label pairs a label name with its stable color and description, used when
// ensuring the vocabulary exists on the repository.
type Label struct {
	Name        string
	Color       string // hex without '#'
	Description string
}

var emLabelRe = regexp.MustCompile(`^cco-em-(\d+)$`)

// statuses in display order.
var statuses = []Status{
	StatusAwaitingReview,
	StatusChangesRequested,
	StatusApproved,
	StatusMerged,
	StatusFailed,
}

var statusColors = map[Status]string{
	StatusAwaitingReview:   "fbca04",
	StatusChangesRequested: "d93f0b",
	StatusApproved:         "0e8a16",
	StatusMerged:           "6f42c1",
	StatusFailed:           "b60205",
}

// phases in lifecycle order; must mirror the state package's phase names.
var phases = []string{
	"initialized",
	"analyzing",
	"em-assignment",
	"worker-execution",
	"worker-review",
	"em-merging",
	"em-review",
	"final-merge",
	"final-review",
	"complete",
	"failed",
}

// ForStatus returns the label for a PR status.
func ForStatus(s Status) string {
	return statusPrefix + string(s)
}

// ForPhase returns the label for an orchestration phase name. Phase names use
// underscores internally; labels use hyphens.
func ForPhase(phase string) string {
	return phasePrefix + strings.ReplaceAll(phase, "_", "-")
}

// ForType returns the label for a component level.
func ForType(level ComponentLevel) string {
	return typePrefix + string(level)
}

// ForEM returns the label pinning a PR to an engineering manager.
func ForEM(emID int) string {
	return fmt.Sprintf("%s%d", emPrefix, emID)
}

// ParseStatus extracts the PR status from a label set. Returns false when no
// status label is present.
func ParseStatus(names []string) (Status, bool) {
	for _, n := range names {
		if !strings.HasPrefix(n, statusPrefix) {
			continue
		}
		s := Status(strings.TrimPrefix(n, statusPrefix))
		for _, known := range statuses {
			if s == known {
				return s, true
			}
		}
	}
	return "", false
}

// ParsePhase extracts the orchestration phase from a label set, returned in
// the internal underscore form.
func ParsePhase(names []string) (string, bool) {
	for _, n := range names {
		if !strings.HasPrefix(n, phasePrefix) {
			continue
		}
		p := strings.TrimPrefix(n, phasePrefix)
		for _, known := range phases {
			if p == known {
				return strings.ReplaceAll(p, "-", "_"), true
			}
		}
	}
	return "", false
}

// ParseType extracts the component level from a label set.
func ParseType(names []string) (ComponentLevel, bool) {
	for _, n := range names {
		switch n {
		case typePrefix + string(TypeDirector):
			return TypeDirector, true
		case typePrefix + string(TypeEM):
			return TypeEM, true
		case typePrefix + string(TypeWorker):
			return TypeWorker, true
		}
	}
	return "", false
}

// ParseEM extracts the EM id from a label set.
func ParseEM(names []string) (int, bool) {
	for _, n := range names {
		if m := emLabelRe.FindStringSubmatch(n); m != nil {
			id, err := strconv.Atoi(m[1])
			if err == nil {
				return id, true
			}
		}
	}
	return 0, false
}

// IsStatusLabel reports whether a label belongs to the status partition.
func IsStatusLabel(name string) bool { return strings.HasPrefix(name, statusPrefix) }

// IsPhaseLabel reports whether a label belongs to the phase partition.
func IsPhaseLabel(name string) bool { return strings.HasPrefix(name, phasePrefix) }

// All returns the full vocabulary, including EM labels up to maxEms.
// The gateway uses this to create any missing labels on first use.
func All(maxEms int) []Label {
	out := []Label{
		{Name: Managed, Color: "1d76db", Description: "Managed by the cco orchestrator"},
		{Name: Stalled, Color: "e99695", Description: "Progress stalled; watchdog intervened"},
	}
	for _, s := range statuses {
		out = append(out, Label{
			Name:        ForStatus(s),
			Color:       statusColors[s],
			Description: "PR status: " + string(s),
		})
	}
	for _, p := range phases {
		out = append(out, Label{
			Name:        phasePrefix + p,
			Color:       "c5def5",
			Description: "Orchestration phase: " + p,
		})
	}
	for _, lvl := range []ComponentLevel{TypeDirector, TypeEM, TypeWorker} {
		out = append(out, Label{
			Name:        ForType(lvl),
			Color:       "bfdadc",
			Description: "Component level: " + string(lvl),
		})
	}
	for i := 1; i <= maxEms; i++ {
		out = append(out, Label{
			Name:        ForEM(i),
			Color:       "d4c5f9",
			Description: fmt.Sprintf("Work owned by engineering manager %d", i),
		})
	}
	return out
}
