package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/coderelay/cco/internal/branch"
	"github.com/coderelay/cco/internal/labels"
	"github.com/coderelay/cco/internal/state"
)

// openEMPR consolidates an EM's settled workers into one PR against the
// work branch.
func (o *Orchestrator) openEMPR(ctx context.Context, s *state.OrchestrationState, em *state.EMRecord) error {
	if !em.WorkersSettled() {
		logger.Info("EM workers not settled yet", "em", em.ID)
		return nil
	}
	if allWorkersSkipped(em) {
		logger.Info("every worker skipped, skipping EM", "em", em.ID)
		em.Status = state.EMSkipped
		em.CompletedAt = o.now().UTC()
		o.saveSoft(ctx, s, fmt.Sprintf("cco: EM %d skipped (no changes)", em.ID))
		o.dispatchProgressCheck(ctx, s)
		return nil
	}

	em.Status = state.EMWorkersComplete

	body := emPRBody(s, em)
	pr, err := o.gh.CreatePullRequest(ctx, em.Branch, s.WorkBranch,
		prTitle(s.Issue, fmt.Sprintf("em%d", em.ID), em.Task), body)
	if err != nil {
		s.RecordError(fmt.Sprintf("EM %d PR creation failed: %v", em.ID, err))
		o.saveSoft(ctx, s, fmt.Sprintf("cco: EM %d PR failed", em.ID))
		return nil
	}

	em.Status = state.EMPRCreated
	em.PRNumber = pr.Number
	em.PRURL = pr.HTMLURL
	em.UpdatedAt = o.now().UTC()
	if s.Phase.Rank() < state.PhaseEMReview.Rank() {
		s.Phase = state.PhaseEMReview
	}

	if err := o.gh.SetStatusLabel(ctx, pr.Number, labels.StatusAwaitingReview); err != nil {
		logger.Warn("status label failed", "pr", pr.Number, "err", err)
	}
	if err := o.gh.AddLabels(ctx, pr.Number, labels.Managed, labels.ForType(labels.TypeEM), labels.ForEM(em.ID)); err != nil {
		logger.Warn("PR labels failed", "pr", pr.Number, "err", err)
	}

	o.saveSoft(ctx, s, fmt.Sprintf("cco: EM %d opened PR #%d", em.ID, pr.Number))
	o.setIssuePhaseLabel(ctx, s)
	return nil
}

func allWorkersSkipped(em *state.EMRecord) bool {
	for i := range em.Workers {
		if em.Workers[i].Status != state.WorkerSkipped {
			return false
		}
	}
	return len(em.Workers) > 0
}

func emPRBody(s *state.OrchestrationState, em *state.EMRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Consolidates EM %d workers for #%d.\n\n", em.ID, s.Issue.Number)
	for i := range em.Workers {
		w := &em.Workers[i]
		fmt.Fprintf(&b, "- w%d (%s): %s\n", w.ID, w.Status, firstSentence(w.Task))
	}
	return b.String()
}

// openFinalPR composes the top-level PR once every EM is merged or
// skipped. It is never merged by the orchestrator.
func (o *Orchestrator) openFinalPR(ctx context.Context, s *state.OrchestrationState) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Closes #%d.\n\nCompleted slices:\n", s.Issue.Number)
	for i := range s.EMs {
		em := &s.EMs[i]
		fmt.Fprintf(&b, "- EM %d (%s): %s\n", em.ID, em.Status, em.Task)
	}
	b.WriteString("\nThis PR awaits human review; the orchestrator does not merge it.\n")

	pr, err := o.gh.CreatePullRequest(ctx, s.WorkBranch, s.BaseBranch, fmt.Sprintf("%s (#%d)", s.Issue.Title, s.Issue.Number), b.String())
	if err != nil {
		s.RecordError(fmt.Sprintf("final PR creation failed: %v", err))
		o.saveSoft(ctx, s, "cco: final PR failed")
		return nil
	}

	s.FinalPR = &state.FinalPR{Number: pr.Number, URL: pr.HTMLURL}
	s.Phase = state.PhaseFinalReview

	if err := o.gh.SetStatusLabel(ctx, pr.Number, labels.StatusAwaitingReview); err != nil {
		logger.Warn("status label failed", "pr", pr.Number, "err", err)
	}
	if err := o.gh.AddLabels(ctx, pr.Number, labels.Managed, labels.ForType(labels.TypeDirector)); err != nil {
		logger.Warn("PR labels failed", "pr", pr.Number, "err", err)
	}

	o.saveSoft(ctx, s, fmt.Sprintf("cco: final PR #%d opened", pr.Number))
	o.setIssuePhaseLabel(ctx, s)
	return nil
}

// handlePush is a heartbeat: a push on a known worker branch refreshes its
// record so the watchdog does not count agent work time as a stall.
func (o *Orchestrator) handlePush(ctx context.Context, head string) error {
	s, comp, err := o.loadForBranch(ctx, head)
	if err != nil {
		return fmt.Errorf("push: %w", err)
	}
	if s == nil || comp.Type != branch.ComponentWorker {
		logger.Debug("push outside worker namespace, ignoring", "branch", head)
		return nil
	}

	em := s.EM(comp.EMID)
	if em == nil {
		return nil
	}
	w := em.Worker(comp.WorkerID)
	if w == nil {
		return nil
	}
	w.UpdatedAt = o.now().UTC()
	if err := o.store.Save(ctx, s, fmt.Sprintf("cco: heartbeat %s", head)); err != nil {
		logger.Warn("heartbeat save failed", "err", err)
	}
	return nil
}

// handlePROpened records the PR identity on the component that opened it.
func (o *Orchestrator) handlePROpened(ctx context.Context, prNumber int) error {
	pr, err := o.gh.GetPullRequest(ctx, prNumber)
	if err != nil {
		return fmt.Errorf("pull_request_opened: %w", err)
	}
	s, comp, err := o.loadForBranch(ctx, pr.Head.Ref)
	if err != nil {
		return fmt.Errorf("pull_request_opened: %w", err)
	}
	if s == nil || comp.Type != branch.ComponentWorker {
		logger.Info("PR outside worker namespace, ignoring", "pr", prNumber, "head", pr.Head.Ref)
		return nil
	}

	em := s.EM(comp.EMID)
	if em == nil {
		return nil
	}
	w := em.Worker(comp.WorkerID)
	if w == nil {
		return nil
	}

	if w.PRNumber == 0 {
		w.PRNumber = pr.Number
		w.PRURL = pr.HTMLURL
	}
	if w.Status.Rank() < state.WorkerPRCreated.Rank() {
		w.Status = state.WorkerPRCreated
	}
	w.UpdatedAt = o.now().UTC()

	if err := o.gh.SetStatusLabel(ctx, pr.Number, labels.StatusAwaitingReview); err != nil {
		logger.Warn("status label failed", "pr", pr.Number, "err", err)
	}
	o.saveSoft(ctx, s, fmt.Sprintf("cco: worker %d/%d PR #%d recorded", em.ID, w.ID, pr.Number))
	return nil
}

// handlePRMerged advances the hierarchy when a PR lands: worker merges
// roll up into an EM PR, EM merges roll up into the final PR, and the
// final merge completes the orchestration.
func (o *Orchestrator) handlePRMerged(ctx context.Context, prNumber int) error {
	pr, err := o.gh.GetPullRequest(ctx, prNumber)
	if err != nil {
		return fmt.Errorf("pull_request_merged: %w", err)
	}
	s, comp, err := o.loadForBranch(ctx, pr.Head.Ref)
	if err != nil {
		return fmt.Errorf("pull_request_merged: %w", err)
	}
	if s == nil {
		logger.Info("merged PR outside orchestration namespace, ignoring", "pr", prNumber)
		return nil
	}
	if s.Phase.Terminal() {
		return nil
	}

	switch comp.Type {
	case branch.ComponentWorker:
		return o.workerMerged(ctx, s, comp.EMID, comp.WorkerID, prNumber)
	case branch.ComponentEM:
		return o.emMerged(ctx, s, comp.EMID, prNumber)
	case branch.ComponentDirector:
		return o.finalMerged(ctx, s, prNumber)
	}
	return nil
}

func (o *Orchestrator) workerMerged(ctx context.Context, s *state.OrchestrationState, emID, workerID, prNumber int) error {
	em := s.EM(emID)
	if em == nil {
		return nil
	}
	w := em.Worker(workerID)
	if w == nil {
		return nil
	}

	w.Status = state.WorkerMerged
	w.CompletedAt = o.now().UTC()
	w.UpdatedAt = w.CompletedAt
	if err := o.gh.SetStatusLabel(ctx, prNumber, labels.StatusMerged); err != nil {
		logger.Warn("status label failed", "pr", prNumber, "err", err)
	}

	if em.WorkersSettled() && em.PRNumber == 0 {
		return o.openEMPR(ctx, s, em)
	}
	o.saveSoft(ctx, s, fmt.Sprintf("cco: worker %d/%d merged", emID, workerID))
	return nil
}

func (o *Orchestrator) emMerged(ctx context.Context, s *state.OrchestrationState, emID, prNumber int) error {
	em := s.EM(emID)
	if em == nil {
		return nil
	}

	em.Status = state.EMMerged
	em.CompletedAt = o.now().UTC()
	em.UpdatedAt = em.CompletedAt
	if s.Phase.Rank() < state.PhaseEMMerging.Rank() {
		s.Phase = state.PhaseEMMerging
	}
	if err := o.gh.SetStatusLabel(ctx, prNumber, labels.StatusMerged); err != nil {
		logger.Warn("status label failed", "pr", prNumber, "err", err)
	}

	if s.AllEMsMerged() && s.FinalPR == nil {
		if s.Phase.Rank() < state.PhaseFinalMerge.Rank() {
			s.Phase = state.PhaseFinalMerge
		}
		return o.openFinalPR(ctx, s)
	}
	o.saveSoft(ctx, s, fmt.Sprintf("cco: EM %d merged", emID))
	o.setIssuePhaseLabel(ctx, s)
	return nil
}

func (o *Orchestrator) finalMerged(ctx context.Context, s *state.OrchestrationState, prNumber int) error {
	if s.FinalPR == nil {
		logger.Warn("final merge without recorded final PR", "pr", prNumber)
		s.FinalPR = &state.FinalPR{Number: prNumber}
	}

	s.Phase = state.PhaseComplete
	if err := o.gh.SetStatusLabel(ctx, prNumber, labels.StatusMerged); err != nil {
		logger.Warn("status label failed", "pr", prNumber, "err", err)
	}
	if err := o.gh.RemoveLabel(ctx, s.Issue.Number, labels.Stalled); err != nil {
		logger.Debug("stalled label removal", "err", err)
	}

	o.saveSoft(ctx, s, "cco: orchestration complete")
	o.setIssuePhaseLabel(ctx, s)
	return nil
}
