package orchestrator

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/coderelay/cco/internal/state"
)

// setIssuePhaseLabel reflects the phase onto the source issue, best effort.
func (o *Orchestrator) setIssuePhaseLabel(ctx context.Context, s *state.OrchestrationState) {
	if err := o.gh.SetPhaseLabel(ctx, s.Issue.Number, string(s.Phase)); err != nil {
		logger.Warn("phase label update failed", "phase", s.Phase, "err", err)
	}
}

// postProgress upserts the progress comment on the source issue. note is
// an optional extra line (soft-failure detail).
func (o *Orchestrator) postProgress(ctx context.Context, s *state.OrchestrationState, note string) {
	body := renderProgress(s, note)
	if err := o.gh.UpdateIssueComment(ctx, s.Issue.Number, body); err != nil {
		logger.Warn("progress comment update failed", "err", err)
	}
}

// dispatchProgressCheck re-emits a progress_check event through the
// hosting platform, best effort.
func (o *Orchestrator) dispatchProgressCheck(ctx context.Context, s *state.OrchestrationState) {
	workflow := o.cfg.Workflow
	if workflow == "" {
		detected, err := o.gh.DetectWorkflow(ctx)
		if err != nil {
			logger.Warn("workflow detection failed, no progress_check dispatched", "err", err)
			return
		}
		workflow = detected
	}

	token := IdempotencyToken("progress_check", s.Issue.Number, 0, 0)
	inputs := map[string]string{
		"event_type":   "progress_check",
		"issue_number": strconv.Itoa(s.Issue.Number),
	}
	if err := o.gh.DispatchWorkflow(ctx, workflow, s.BaseBranch, token, inputs); err != nil {
		logger.Warn("progress_check dispatch failed", "err", err)
	}
}

// renderProgress builds the markdown status table shown on the issue.
func renderProgress(s *state.OrchestrationState, note string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Orchestration status\n\n")
	fmt.Fprintf(&b, "**Phase**: `%s`  \n", s.Phase)
	fmt.Fprintf(&b, "**Work branch**: `%s`\n\n", s.WorkBranch)

	if s.AnalysisSummary != "" {
		fmt.Fprintf(&b, "%s\n\n", s.AnalysisSummary)
	}

	if len(s.EMs) > 0 {
		b.WriteString("| EM | Task | Status | PR | Workers |\n")
		b.WriteString("|---|---|---|---|---|\n")
		for i := range s.EMs {
			em := &s.EMs[i]
			fmt.Fprintf(&b, "| %d | %s | `%s` | %s | %s |\n",
				em.ID, em.Task, em.Status, prCell(em.PRNumber, em.PRURL), workerCells(em))
		}
		b.WriteString("\n")
	}

	if s.FinalPR != nil {
		fmt.Fprintf(&b, "**Final PR**: %s\n\n", prCell(s.FinalPR.Number, s.FinalPR.URL))
	}

	if s.Error != "" {
		fmt.Fprintf(&b, "**Last error**: %s\n", s.Error)
		if link := runLink(); link != "" {
			fmt.Fprintf(&b, "See the [workflow run](%s).\n", link)
		}
		b.WriteString("\n")
	}

	if note != "" {
		fmt.Fprintf(&b, "> %s\n", note)
	}
	return strings.TrimRight(b.String(), "\n")
}

func prCell(number int, url string) string {
	if number == 0 {
		return "-"
	}
	if url == "" {
		return fmt.Sprintf("#%d", number)
	}
	return fmt.Sprintf("[#%d](%s)", number, url)
}

func workerCells(em *state.EMRecord) string {
	if len(em.Workers) == 0 {
		return "-"
	}
	parts := make([]string, len(em.Workers))
	for i := range em.Workers {
		w := &em.Workers[i]
		parts[i] = fmt.Sprintf("w%d:%s", w.ID, w.Status)
	}
	return strings.Join(parts, ", ")
}

// runLink points at the hosting workflow run when the platform exposes it.
func runLink() string {
	server := os.Getenv("GITHUB_SERVER_URL")
	repo := os.Getenv("GITHUB_REPOSITORY")
	run := os.Getenv("GITHUB_RUN_ID")
	if server == "" || repo == "" || run == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s/actions/runs/%s", server, repo, run)
}
