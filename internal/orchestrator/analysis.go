package orchestrator

import (
	"context"
	"fmt"
	"sort"

	"github.com/coderelay/cco/internal/branch"
	"github.com/coderelay/cco/internal/jsonx"
	"github.com/coderelay/cco/internal/labels"
	"github.com/coderelay/cco/internal/llm"
	"github.com/coderelay/cco/internal/state"
)

// emPlan is the Director's JSON output shape.
type emPlan struct {
	EMID             int    `json:"em_id"`
	Task             string `json:"task"`
	FocusArea        string `json:"focus_area"`
	EstimatedWorkers int    `json:"estimated_workers"`
}

// handleIssueLabeled starts a new orchestration: work branch, initial
// state, Director analysis, EM slots, then a progress_check dispatch.
func (o *Orchestrator) handleIssueLabeled(ctx context.Context, issueNumber int) error {
	live, err := o.store.InProgress(ctx, issueNumber)
	if err != nil {
		return fmt.Errorf("issue_labeled: %w", err)
	}
	if live {
		logger.Info("orchestration already in progress, ignoring", "issue", issueNumber)
		return nil
	}

	ghIssue, err := o.gh.GetIssue(ctx, issueNumber)
	if err != nil {
		return fmt.Errorf("issue_labeled: %w", err)
	}
	issue := state.IssueRef{
		Owner:  o.cfg.RepoOwner,
		Repo:   o.cfg.RepoName,
		Number: ghIssue.Number,
		Title:  ghIssue.Title,
		Body:   ghIssue.Body,
	}
	if err := issue.Validate(); err != nil {
		return fmt.Errorf("issue_labeled: %w", err)
	}

	if err := o.gh.EnsureLabelsExist(ctx, o.cfg.MaxEMs); err != nil {
		logger.Warn("label vocabulary creation failed, continuing", "err", err)
	}

	wb := branch.WorkBranch(issue.Number, issue.Title)
	s := state.New(issue, wb, defaultBaseBranch, state.Config{
		MaxEMs:            o.cfg.MaxEMs,
		MaxWorkersPerEM:   o.cfg.MaxWorkersPerEM,
		ReviewWaitMinutes: o.cfg.ReviewWaitMinutes,
		PRLabel:           o.cfg.PRLabel,
	})
	s.Phase = state.PhaseAnalyzing

	if err := o.store.Initialize(ctx, s); err != nil {
		return fmt.Errorf("issue_labeled: %w", err)
	}
	if err := o.gh.AddLabels(ctx, issue.Number, labels.Managed); err != nil {
		logger.Warn("labeling failed", "err", err)
	}
	o.setIssuePhaseLabel(ctx, s)

	plans, err := o.runAnalysis(ctx, issue)
	if err != nil {
		s.Fail("analysis failed: " + err.Error())
		o.saveSoft(ctx, s, "cco: analysis failed")
		o.setIssuePhaseLabel(ctx, s)
		return nil
	}

	for _, p := range plans {
		s.EMs = append(s.EMs, state.EMRecord{
			ID:        p.EMID,
			Task:      p.Task,
			FocusArea: p.FocusArea,
			Branch:    branch.EMBranch(wb, p.EMID),
			Status:    state.EMPending,
			UpdatedAt: o.now().UTC(),
		})
	}
	s.AnalysisSummary = summarizePlans(plans)
	s.Phase = state.PhaseEMAssignment

	o.saveSoft(ctx, s, "cco: analysis complete")
	o.setIssuePhaseLabel(ctx, s)
	o.dispatchProgressCheck(ctx, s)
	return nil
}

const defaultBaseBranch = "main"

// runAnalysis executes the Director prompt. A malformed response gets one
// retry after credential rotation, then the orchestration fails.
func (o *Orchestrator) runAnalysis(ctx context.Context, issue state.IssueRef) ([]emPlan, error) {
	prompt := analysisPrompt(issue, o.cfg.MaxEMs, o.cfg.MaxWorkersPerEM)

	plans, err := o.analysisAttempt(ctx, prompt)
	if err == nil {
		return plans, nil
	}
	logger.Warn("analysis output malformed, rotating credential and retrying", "err", err)
	o.ring.RotateOnRateLimit()

	plans, err = o.analysisAttempt(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return plans, nil
}

func (o *Orchestrator) analysisAttempt(ctx context.Context, prompt string) ([]emPlan, error) {
	res, err := o.agent.ExecuteTask(ctx, llm.Options{
		Prompt:  prompt,
		WorkDir: o.cfg.RepoPath,
	})
	if err != nil {
		return nil, err
	}

	var plans []emPlan
	if err := jsonx.HarvestInto(res.Output, &plans); err != nil {
		return nil, err
	}
	if len(plans) == 0 {
		return nil, fmt.Errorf("analysis produced no slices")
	}

	sort.Slice(plans, func(i, j int) bool { return plans[i].EMID < plans[j].EMID })
	if len(plans) > o.cfg.MaxEMs {
		plans = plans[:o.cfg.MaxEMs]
	}
	for i := range plans {
		if plans[i].EMID != i+1 {
			plans[i].EMID = i + 1
		}
		if plans[i].Task == "" {
			return nil, fmt.Errorf("analysis slice %d has no task", i+1)
		}
	}
	return plans, nil
}

func summarizePlans(plans []emPlan) string {
	out := fmt.Sprintf("%d slices:", len(plans))
	for _, p := range plans {
		out += fmt.Sprintf(" [%d] %s;", p.EMID, p.Task)
	}
	return out
}
