package orchestrator

import (
	"fmt"
	"strings"

	"github.com/coderelay/cco/internal/github"
	"github.com/coderelay/cco/internal/state"
)

// analysisPrompt asks the Director to slice an issue into EM tasks.
func analysisPrompt(issue state.IssueRef, maxEms, maxWorkersPerEM int) string {
	var b strings.Builder
	fmt.Fprintf(&b, `You are the engineering director for this repository. Break the issue below into at most %d independent work slices, one per engineering manager. Each slice will later be split into at most %d worker tasks, so size them accordingly.

Issue #%d: %s

%s

Respond with ONLY a JSON array, one object per slice:
[{"em_id": 1, "task": "<one-sentence slice description>", "focus_area": "<subsystem or directory>", "estimated_workers": 2}]

Rules:
- em_id starts at 1 and increments.
- Slices must not overlap in the files they touch.
- Fewer, larger slices beat many thin ones.`,
		maxEms, maxWorkersPerEM, issue.Number, issue.Title, issue.Body)
	return b.String()
}

// breakdownPrompt asks an EM to split its slice into worker tasks.
func breakdownPrompt(issue state.IssueRef, em *state.EMRecord, maxWorkers int) string {
	var b strings.Builder
	fmt.Fprintf(&b, `You are an engineering manager working on issue #%d (%s). Your slice:

%s

Focus area: %s

Split this slice into at most %d worker tasks. Each worker edits code on its own branch, so tasks must not touch the same files.

Respond with ONLY a JSON array:
[{"worker_id": 1, "task": "<imperative task title>", "description": "<what to implement and where>", "files": ["path/one.go"]}]

Rules:
- worker_id starts at 1 and increments.
- files is the expected scope, best effort.`,
		issue.Number, issue.Title, em.Task, em.FocusArea, maxWorkers)
	return b.String()
}

// workerPrompt is the fixed task prompt for a worker invocation.
func workerPrompt(issue state.IssueRef, w *state.WorkerRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, `You are implementing one task from issue #%d (%s).

Task: %s
`, issue.Number, issue.Title, w.Task)
	if len(w.Files) > 0 {
		fmt.Fprintf(&b, "\nExpected scope: %s\n", strings.Join(w.Files, ", "))
	}
	b.WriteString(`
Make the code changes for this task only. Do not commit; the orchestrator commits for you. Do not edit files that clearly belong to another task.`)
	return b.String()
}

// feedbackPrompt combines a review body and its inline comments into one
// fix instruction.
func feedbackPrompt(review string, comments []github.ReviewComment) string {
	var b strings.Builder
	b.WriteString("A reviewer requested changes on your pull request.\n")
	if strings.TrimSpace(review) != "" {
		fmt.Fprintf(&b, "\nReview summary:\n%s\n", review)
	}
	if len(comments) > 0 {
		b.WriteString("\nInline comments:\n")
		for _, c := range comments {
			fmt.Fprintf(&b, "- %s:%d: %s\n", c.Path, c.Line, c.Body)
		}
	}
	b.WriteString("\nAddress every point. Make the code changes now; do not commit.")
	return b.String()
}

// prTitle builds the conventional title for a component PR.
func prTitle(issue state.IssueRef, comp string, task string) string {
	return fmt.Sprintf("cco(%s): %s (#%d)", comp, task, issue.Number)
}
