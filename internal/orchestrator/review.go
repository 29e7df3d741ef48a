package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/coderelay/cco/internal/branch"
	"github.com/coderelay/cco/internal/config"
	"github.com/coderelay/cco/internal/github"
	"github.com/coderelay/cco/internal/labels"
	"github.com/coderelay/cco/internal/llm"
	"github.com/coderelay/cco/internal/state"
)

// handlePRReview routes a submitted review to the component behind the PR.
// Approvals trigger a merge attempt; change requests run the feedback loop.
func (o *Orchestrator) handlePRReview(ctx context.Context, ev config.Event) error {
	if ev.ReviewState == "commented" {
		logger.Debug("comment-only review, ignoring", "pr", ev.PRNumber)
		return nil
	}

	pr, err := o.gh.GetPullRequest(ctx, ev.PRNumber)
	if err != nil {
		return fmt.Errorf("pull_request_review: %w", err)
	}
	s, comp, err := o.loadForBranch(ctx, pr.Head.Ref)
	if err != nil {
		return fmt.Errorf("pull_request_review: %w", err)
	}
	if s == nil {
		logger.Info("review on unrecognized branch, ignoring", "pr", ev.PRNumber, "head", pr.Head.Ref)
		return nil
	}
	if s.Phase.Terminal() {
		return nil
	}

	switch comp.Type {
	case branch.ComponentWorker:
		return o.workerReviewed(ctx, s, comp, ev)
	case branch.ComponentEM:
		return o.emReviewed(ctx, s, comp.EMID, ev)
	case branch.ComponentDirector:
		return o.finalReviewed(ctx, s, ev)
	}
	return nil
}

func (o *Orchestrator) workerReviewed(ctx context.Context, s *state.OrchestrationState, comp branch.Component, ev config.Event) error {
	em := s.EM(comp.EMID)
	if em == nil {
		return nil
	}
	w := em.Worker(comp.WorkerID)
	if w == nil || w.PRNumber == 0 {
		return nil
	}

	switch ev.ReviewState {
	case "approved":
		if w.Status.Rank() < state.WorkerApproved.Rank() {
			w.Status = state.WorkerApproved
		}
		w.UpdatedAt = o.now().UTC()
		if err := o.gh.SetStatusLabel(ctx, w.PRNumber, labels.StatusApproved); err != nil {
			logger.Warn("status label failed", "pr", w.PRNumber, "err", err)
		}
		o.saveSoft(ctx, s, fmt.Sprintf("cco: worker %d/%d approved", em.ID, w.ID))

		merged, failed := o.tryMerge(ctx, s, w.PRNumber)
		if failed {
			w.Status = state.WorkerFailed
			w.Error = "pull request closed without merging"
			w.CompletedAt = o.now().UTC()
			o.saveSoft(ctx, s, fmt.Sprintf("cco: worker %d/%d PR closed unmerged", em.ID, w.ID))
			return nil
		}
		if merged {
			return o.workerMerged(ctx, s, em.ID, w.ID, w.PRNumber)
		}
		return nil

	case "changes_requested":
		w.Status = state.WorkerChangesRequested
		w.UpdatedAt = o.now().UTC()
		if err := o.gh.SetStatusLabel(ctx, w.PRNumber, labels.StatusChangesRequested); err != nil {
			logger.Warn("status label failed", "pr", w.PRNumber, "err", err)
		}
		o.saveSoft(ctx, s, fmt.Sprintf("cco: worker %d/%d changes requested", em.ID, w.ID))

		addressed, err := o.applyFeedback(ctx, w.PRNumber, w.Branch, w.SessionID, ev.ReviewBody)
		if err != nil {
			s.RecordError(fmt.Sprintf("worker %d/%d feedback: %v", em.ID, w.ID, err))
			o.saveSoft(ctx, s, fmt.Sprintf("cco: worker %d/%d feedback failed", em.ID, w.ID))
			return nil
		}
		if !addressed {
			return nil
		}
		w.ReviewsAddressed++
		w.Status = state.WorkerPRCreated
		w.UpdatedAt = o.now().UTC()
		if err := o.gh.SetStatusLabel(ctx, w.PRNumber, labels.StatusAwaitingReview); err != nil {
			logger.Warn("status label failed", "pr", w.PRNumber, "err", err)
		}
		o.saveSoft(ctx, s, fmt.Sprintf("cco: worker %d/%d feedback addressed", em.ID, w.ID))
		return nil
	}
	return nil
}

func (o *Orchestrator) emReviewed(ctx context.Context, s *state.OrchestrationState, emID int, ev config.Event) error {
	em := s.EM(emID)
	if em == nil || em.PRNumber == 0 {
		return nil
	}

	switch ev.ReviewState {
	case "approved":
		if em.Status.Rank() < state.EMApproved.Rank() {
			em.Status = state.EMApproved
		}
		em.UpdatedAt = o.now().UTC()
		if err := o.gh.SetStatusLabel(ctx, em.PRNumber, labels.StatusApproved); err != nil {
			logger.Warn("status label failed", "pr", em.PRNumber, "err", err)
		}
		o.saveSoft(ctx, s, fmt.Sprintf("cco: EM %d approved", em.ID))

		merged, failed := o.tryMerge(ctx, s, em.PRNumber)
		if failed {
			em.Status = state.EMFailed
			em.CompletedAt = o.now().UTC()
			s.Fail(fmt.Sprintf("EM %d PR #%d closed without merging", em.ID, em.PRNumber))
			o.saveSoft(ctx, s, fmt.Sprintf("cco: EM %d PR closed unmerged", em.ID))
			o.setIssuePhaseLabel(ctx, s)
			return nil
		}
		if merged {
			return o.emMerged(ctx, s, em.ID, em.PRNumber)
		}
		return nil

	case "changes_requested":
		em.Status = state.EMChangesRequested
		em.UpdatedAt = o.now().UTC()
		if err := o.gh.SetStatusLabel(ctx, em.PRNumber, labels.StatusChangesRequested); err != nil {
			logger.Warn("status label failed", "pr", em.PRNumber, "err", err)
		}
		o.saveSoft(ctx, s, fmt.Sprintf("cco: EM %d changes requested", em.ID))

		addressed, err := o.applyFeedback(ctx, em.PRNumber, em.Branch, "", ev.ReviewBody)
		if err != nil {
			s.RecordError(fmt.Sprintf("EM %d feedback: %v", em.ID, err))
			o.saveSoft(ctx, s, fmt.Sprintf("cco: EM %d feedback failed", em.ID))
			return nil
		}
		if !addressed {
			return nil
		}
		em.Status = state.EMPRCreated
		em.UpdatedAt = o.now().UTC()
		if err := o.gh.SetStatusLabel(ctx, em.PRNumber, labels.StatusAwaitingReview); err != nil {
			logger.Warn("status label failed", "pr", em.PRNumber, "err", err)
		}
		o.saveSoft(ctx, s, fmt.Sprintf("cco: EM %d feedback addressed", em.ID))
		return nil
	}
	return nil
}

// finalReviewed handles reviews on the top-level PR. Approvals update
// labels only; merging the final PR is a human decision.
func (o *Orchestrator) finalReviewed(ctx context.Context, s *state.OrchestrationState, ev config.Event) error {
	if s.FinalPR == nil {
		return nil
	}

	switch ev.ReviewState {
	case "approved":
		if err := o.gh.SetStatusLabel(ctx, s.FinalPR.Number, labels.StatusApproved); err != nil {
			logger.Warn("status label failed", "pr", s.FinalPR.Number, "err", err)
		}
		s.Touch()
		o.saveSoft(ctx, s, "cco: final PR approved")
		return nil

	case "changes_requested":
		if err := o.gh.SetStatusLabel(ctx, s.FinalPR.Number, labels.StatusChangesRequested); err != nil {
			logger.Warn("status label failed", "pr", s.FinalPR.Number, "err", err)
		}
		o.saveSoft(ctx, s, "cco: final PR changes requested")

		addressed, err := o.applyFeedback(ctx, s.FinalPR.Number, s.WorkBranch, "", ev.ReviewBody)
		if err != nil {
			s.RecordError(fmt.Sprintf("final PR feedback: %v", err))
			o.saveSoft(ctx, s, "cco: final PR feedback failed")
			return nil
		}
		if addressed {
			if err := o.gh.SetStatusLabel(ctx, s.FinalPR.Number, labels.StatusAwaitingReview); err != nil {
				logger.Warn("status label failed", "pr", s.FinalPR.Number, "err", err)
			}
			o.saveSoft(ctx, s, "cco: final PR feedback addressed")
		}
		return nil
	}
	return nil
}

// tryMerge attempts to squash-merge an approved PR and maps refusals onto
// state transitions. It returns (merged, closedUnmerged); any other refusal
// is non-fatal and the next event retries.
func (o *Orchestrator) tryMerge(ctx context.Context, s *state.OrchestrationState, prNumber int) (merged, closedUnmerged bool) {
	_, err := o.gh.MergePullRequest(ctx, prNumber)
	if err == nil {
		return true, false
	}

	var me *github.MergeError
	if !errors.As(err, &me) {
		logger.Error("merge attempt failed", "pr", prNumber, "err", err)
		s.RecordError(fmt.Sprintf("merge PR #%d: %v", prNumber, err))
		return false, false
	}

	switch me.Reason {
	case github.MergeAlreadyMerged:
		return true, false
	case github.MergeClosedNotMerged:
		return false, true
	case github.MergeBaseModified, github.MergeHeadModified:
		// Refresh the head and let the next review or merged event retry.
		if o.gh.UpdatePullRequestBranch(ctx, prNumber) {
			logger.Info("PR branch updated after merge refusal", "pr", prNumber, "reason", me.Reason)
		}
		return false, false
	case github.MergeFailingStatus:
		logger.Info("merge blocked on status checks, leaving approved", "pr", prNumber)
		return false, false
	default:
		if o.rebaseHead(ctx, prNumber) {
			logger.Info("PR head rebased onto base, next event retries the merge", "pr", prNumber)
			return false, false
		}
		logger.Info("PR not mergeable, leaving for a human", "pr", prNumber)
		if err := o.gh.SetStatusLabel(ctx, prNumber, labels.StatusChangesRequested); err != nil {
			logger.Warn("status label failed", "pr", prNumber, "err", err)
		}
		return false, false
	}
}

// rebaseHead rebases a non-mergeable PR's head onto its base and force
// pushes, so the next merge attempt can succeed. Conflicted rebases are
// aborted and reported false; resolution is a human's problem.
func (o *Orchestrator) rebaseHead(ctx context.Context, prNumber int) bool {
	pr, err := o.gh.GetPullRequest(ctx, prNumber)
	if err != nil {
		logger.Warn("rebase: PR lookup failed", "pr", prNumber, "err", err)
		return false
	}
	if err := o.git.Checkout(ctx, pr.Head.Ref); err != nil {
		logger.Warn("rebase: checkout failed", "branch", pr.Head.Ref, "err", err)
		return false
	}
	res, err := o.git.Rebase(ctx, pr.Base.Ref)
	if err != nil {
		logger.Warn("rebase failed", "pr", prNumber, "err", err)
		return false
	}
	if res.HasConflicts {
		logger.Info("rebase conflicts, leaving for a human", "pr", prNumber, "files", res.ConflictFiles)
		return false
	}
	if err := o.git.ForcePushWithLease(ctx, pr.Head.Ref); err != nil {
		logger.Warn("rebase: push failed", "branch", pr.Head.Ref, "err", err)
		return false
	}
	return true
}

// applyFeedback runs the review-feedback loop on a PR's head branch. It
// returns true when the agent produced and pushed changes.
func (o *Orchestrator) applyFeedback(ctx context.Context, prNumber int, head, sessionID, reviewBody string) (bool, error) {
	comments, err := o.gh.GetPullRequestComments(ctx, prNumber)
	if err != nil {
		return false, fmt.Errorf("list review comments: %w", err)
	}
	pending := unaddressedComments(comments)

	if err := o.git.Checkout(ctx, head); err != nil {
		return false, fmt.Errorf("checkout %s: %w", head, err)
	}

	prompt := feedbackPrompt(reviewBody, pending)
	var res *llm.Result
	if sessionID != "" {
		res, err = o.agent.ResumeSession(ctx, sessionID, prompt, o.cfg.RepoPath)
	} else {
		res, err = o.agent.ExecuteTask(ctx, llm.Options{Prompt: prompt, WorkDir: o.cfg.RepoPath})
	}
	if err != nil {
		return false, err
	}
	_ = res

	modified, err := o.git.ModifiedFiles(ctx)
	if err != nil {
		return false, fmt.Errorf("inspect working tree: %w", err)
	}
	if len(modified) == 0 {
		msg := "No code changes were needed for this review."
		if err := o.gh.AddPullRequestComment(ctx, prNumber, msg+"\n\n"+github.ReviewAddressedMarker); err != nil {
			logger.Warn("no-op review reply failed", "pr", prNumber, "err", err)
		}
		return false, nil
	}

	if err := o.git.CommitAndPush(ctx, fmt.Sprintf("cco: address review feedback (PR #%d)", prNumber)); err != nil {
		return false, fmt.Errorf("push feedback fixes: %w", err)
	}

	for _, c := range pending {
		reply := "Addressed in the latest push.\n\n" + github.ReviewAddressedMarker
		if err := o.gh.ReplyToReviewComment(ctx, prNumber, c.ID, reply); err != nil {
			logger.Warn("review reply failed", "pr", prNumber, "comment", c.ID, "err", err)
		}
	}
	return true, nil
}

// unaddressedComments filters out automation replies and any thread that
// already carries the addressed marker.
func unaddressedComments(comments []github.ReviewComment) []github.ReviewComment {
	replied := make(map[int64]bool)
	for _, c := range comments {
		if c.InReplyTo != 0 && strings.Contains(c.Body, github.ReviewAddressedMarker) {
			replied[c.InReplyTo] = true
		}
	}
	var out []github.ReviewComment
	for _, c := range comments {
		if c.InReplyTo != 0 || strings.Contains(c.Body, github.ReviewAddressedMarker) {
			continue
		}
		if replied[c.ID] {
			continue
		}
		out = append(out, c)
	}
	return out
}
