package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/coderelay/cco/internal/labels"
	"github.com/coderelay/cco/internal/llm"
	"github.com/coderelay/cco/internal/state"
)

// runWorker executes one leaf task inline: branch, agent, commit, push,
// PR. A worker that changes nothing is skipped.
func (o *Orchestrator) runWorker(ctx context.Context, s *state.OrchestrationState, em *state.EMRecord, w *state.WorkerRecord) error {
	if err := o.stagger(ctx); err != nil {
		return err
	}

	w.Status = state.WorkerInProgress
	w.StartedAt = o.now().UTC()
	w.UpdatedAt = w.StartedAt
	o.saveSoft(ctx, s, fmt.Sprintf("cco: worker %d/%d started", em.ID, w.ID))

	if err := o.git.CreateBranch(ctx, w.Branch, em.Branch); err != nil {
		o.failWorker(ctx, s, em, w, fmt.Errorf("branch creation: %w", err))
		return nil
	}

	res, err := o.agent.ExecuteTask(ctx, llm.Options{
		Prompt:  workerPrompt(s.Issue, w),
		WorkDir: o.cfg.RepoPath,
	})
	if err != nil {
		o.failWorker(ctx, s, em, w, err)
		return nil
	}
	w.SessionID = res.SessionID

	modified, err := o.git.ModifiedFiles(ctx)
	if err != nil {
		o.failWorker(ctx, s, em, w, fmt.Errorf("inspect working tree: %w", err))
		return nil
	}
	if len(modified) == 0 {
		logger.Info("worker produced no changes, skipping", "em", em.ID, "worker", w.ID)
		w.Status = state.WorkerSkipped
		w.CompletedAt = o.now().UTC()
		o.saveSoft(ctx, s, fmt.Sprintf("cco: worker %d/%d skipped (no changes)", em.ID, w.ID))
		o.dispatchProgressCheck(ctx, s)
		return nil
	}

	msg := fmt.Sprintf("cco: %s (#%d)", firstSentence(w.Task), s.Issue.Number)
	if err := o.git.CommitAndPush(ctx, msg); err != nil {
		o.failWorker(ctx, s, em, w, fmt.Errorf("commit and push: %w", err))
		return nil
	}

	body := o.workerPRBody(ctx, s, w, modified)
	pr, err := o.gh.CreatePullRequest(ctx, w.Branch, em.Branch, prTitle(s.Issue, fmt.Sprintf("em%d-w%d", em.ID, w.ID), firstSentence(w.Task)), body)
	if err != nil {
		o.failWorker(ctx, s, em, w, fmt.Errorf("open PR: %w", err))
		return nil
	}

	w.Status = state.WorkerPRCreated
	w.PRNumber = pr.Number
	w.PRURL = pr.HTMLURL
	w.UpdatedAt = o.now().UTC()

	if err := o.gh.SetStatusLabel(ctx, pr.Number, labels.StatusAwaitingReview); err != nil {
		logger.Warn("status label failed", "pr", pr.Number, "err", err)
	}
	if err := o.gh.AddLabels(ctx, pr.Number, labels.Managed, labels.ForType(labels.TypeWorker), labels.ForEM(em.ID)); err != nil {
		logger.Warn("PR labels failed", "pr", pr.Number, "err", err)
	}

	o.saveSoft(ctx, s, fmt.Sprintf("cco: worker %d/%d opened PR #%d", em.ID, w.ID, pr.Number))
	o.dispatchProgressCheck(ctx, s)
	return nil
}

func (o *Orchestrator) workerPRBody(ctx context.Context, s *state.OrchestrationState, w *state.WorkerRecord, modified []string) string {
	summary, err := o.agent.GenerateChangesSummary(ctx, w.SessionID, o.cfg.RepoPath, modified)
	if err != nil || summary == "" {
		summary = "- " + w.Task
	}
	return fmt.Sprintf("Part of #%d.\n\n%s\n\nFiles: %s\n", s.Issue.Number, summary, strings.Join(modified, ", "))
}

func (o *Orchestrator) failWorker(ctx context.Context, s *state.OrchestrationState, em *state.EMRecord, w *state.WorkerRecord, err error) {
	logger.Error("worker failed", "em", em.ID, "worker", w.ID, "err", err)
	w.Status = state.WorkerFailed
	w.Error = err.Error()
	w.CompletedAt = o.now().UTC()
	s.RecordError(fmt.Sprintf("worker %d/%d: %v", em.ID, w.ID, err))
	o.saveSoft(ctx, s, fmt.Sprintf("cco: worker %d/%d failed", em.ID, w.ID))
}

func firstSentence(s string) string {
	if i := strings.IndexAny(s, ".\n"); i > 0 {
		return s[:i]
	}
	return s
}
