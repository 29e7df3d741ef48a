package orchestrator

import (
	"context"
	"fmt"
	"sort"

	"github.com/coderelay/cco/internal/branch"
	"github.com/coderelay/cco/internal/jsonx"
	"github.com/coderelay/cco/internal/llm"
	"github.com/coderelay/cco/internal/state"
)

// workerPlan is the EM breakdown JSON output shape.
type workerPlan struct {
	WorkerID    int      `json:"worker_id"`
	Task        string   `json:"task"`
	Description string   `json:"description"`
	Files       []string `json:"files"`
}

// handleProgressCheck advances the first EM that still has work, one step
// per invocation. EMs and workers are processed in ascending id order.
func (o *Orchestrator) handleProgressCheck(ctx context.Context, issueNumber int) error {
	wb, err := o.store.FindWorkBranchForIssue(ctx, issueNumber)
	if err != nil {
		return fmt.Errorf("progress_check: %w", err)
	}
	if wb == "" {
		logger.Info("no orchestration for issue, ignoring", "issue", issueNumber)
		return nil
	}
	s, err := o.store.Load(ctx, wb)
	if err != nil {
		return fmt.Errorf("progress_check: %w", err)
	}
	if s.Phase.Terminal() {
		logger.Info("orchestration terminal, ignoring", "phase", s.Phase)
		return nil
	}

	em := nextActionableEM(s)
	if em == nil {
		if s.AllEMsMerged() && s.FinalPR == nil {
			return o.openFinalPR(ctx, s)
		}
		logger.Info("nothing to advance, waiting on external events")
		return nil
	}

	switch em.Status {
	case state.EMPending:
		return o.breakDownEM(ctx, s, em)
	case state.EMWorkersRunning:
		if w := nextPendingWorker(em); w != nil {
			return o.runWorker(ctx, s, em, w)
		}
		if em.WorkersSettled() {
			return o.openEMPR(ctx, s, em)
		}
		logger.Info("workers in flight, waiting on reviews", "em", em.ID)
		return nil
	case state.EMWorkersComplete:
		return o.openEMPR(ctx, s, em)
	}
	return nil
}

// nextActionableEM picks the first EM, in id order, that the reactor can
// advance without an external event.
func nextActionableEM(s *state.OrchestrationState) *state.EMRecord {
	ids := make([]int, 0, len(s.EMs))
	for i := range s.EMs {
		ids = append(ids, s.EMs[i].ID)
	}
	sort.Ints(ids)
	for _, id := range ids {
		em := s.EM(id)
		switch em.Status {
		case state.EMPending, state.EMWorkersRunning, state.EMWorkersComplete:
			return em
		}
	}
	return nil
}

func nextPendingWorker(em *state.EMRecord) *state.WorkerRecord {
	ids := make([]int, 0, len(em.Workers))
	for i := range em.Workers {
		ids = append(ids, em.Workers[i].ID)
	}
	sort.Ints(ids)
	for _, id := range ids {
		if w := em.Worker(id); w.Status == state.WorkerPending {
			return w
		}
	}
	return nil
}

// breakDownEM turns an EM slice into worker slots and creates the EM
// branch. The next progress_check dispatches the first worker.
func (o *Orchestrator) breakDownEM(ctx context.Context, s *state.OrchestrationState, em *state.EMRecord) error {
	plans, err := o.runBreakdown(ctx, s.Issue, em)
	if err != nil {
		em.Status = state.EMFailed
		s.Fail(fmt.Sprintf("EM %d breakdown failed: %v", em.ID, err))
		o.saveSoft(ctx, s, fmt.Sprintf("cco: EM %d breakdown failed", em.ID))
		o.setIssuePhaseLabel(ctx, s)
		return nil
	}

	if err := o.gh.CreateBranch(ctx, em.Branch, s.WorkBranch); err != nil {
		logger.Error("EM branch creation failed", "branch", em.Branch, "err", err)
		s.RecordError(fmt.Sprintf("EM %d branch creation failed: %v", em.ID, err))
		o.saveSoft(ctx, s, fmt.Sprintf("cco: EM %d branch failed", em.ID))
		return nil
	}

	for _, p := range plans {
		em.Workers = append(em.Workers, state.WorkerRecord{
			ID:        p.WorkerID,
			Task:      p.Task,
			Files:     p.Files,
			Branch:    branch.WorkerBranch(em.Branch, p.WorkerID),
			Status:    state.WorkerPending,
			UpdatedAt: o.now().UTC(),
		})
	}
	em.Status = state.EMWorkersRunning
	em.StartedAt = o.now().UTC()
	if s.Phase.Rank() < state.PhaseWorkerExecution.Rank() {
		s.Phase = state.PhaseWorkerExecution
	}

	o.saveSoft(ctx, s, fmt.Sprintf("cco: EM %d broken into %d workers", em.ID, len(plans)))
	o.setIssuePhaseLabel(ctx, s)
	o.dispatchProgressCheck(ctx, s)
	return nil
}

// runBreakdown executes the EM prompt with the same malformed-output
// policy as analysis: one rotation-and-retry, then failure.
func (o *Orchestrator) runBreakdown(ctx context.Context, issue state.IssueRef, em *state.EMRecord) ([]workerPlan, error) {
	prompt := breakdownPrompt(issue, em, o.cfg.MaxWorkersPerEM)

	plans, err := o.breakdownAttempt(ctx, prompt)
	if err == nil {
		return plans, nil
	}
	logger.Warn("breakdown output malformed, rotating credential and retrying", "em", em.ID, "err", err)
	o.ring.RotateOnRateLimit()
	return o.breakdownAttempt(ctx, prompt)
}

func (o *Orchestrator) breakdownAttempt(ctx context.Context, prompt string) ([]workerPlan, error) {
	res, err := o.agent.ExecuteTask(ctx, llm.Options{
		Prompt:  prompt,
		WorkDir: o.cfg.RepoPath,
	})
	if err != nil {
		return nil, err
	}

	var plans []workerPlan
	if err := jsonx.HarvestInto(res.Output, &plans); err != nil {
		return nil, err
	}
	if len(plans) == 0 {
		return nil, fmt.Errorf("breakdown produced no workers")
	}

	sort.Slice(plans, func(i, j int) bool { return plans[i].WorkerID < plans[j].WorkerID })
	if len(plans) > o.cfg.MaxWorkersPerEM {
		plans = plans[:o.cfg.MaxWorkersPerEM]
	}
	for i := range plans {
		plans[i].WorkerID = i + 1
		if plans[i].Task == "" {
			return nil, fmt.Errorf("worker %d has no task", i+1)
		}
		if plans[i].Description != "" {
			plans[i].Task = plans[i].Task + ". " + plans[i].Description
		}
	}
	return plans, nil
}
