package orchestrator

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/coderelay/cco/internal/branch"
	"github.com/coderelay/cco/internal/labels"
	"github.com/coderelay/cco/internal/state"
)

// watchdogConcurrency bounds parallel orchestration scans.
const watchdogConcurrency = 4

// stalledRecord identifies one record past the stall timeout.
type stalledRecord struct {
	emID      int
	workerID  int // 0 for the EM itself
	sessionID string
	since     time.Duration
}

// CheckStalled scans every live orchestration for records stuck in
// pending or in_progress beyond the stall timeout and re-emits a
// progress_check for each affected orchestration. Duplicate advances are
// absorbed by the state merge rules, so recovery is always safe.
func (o *Orchestrator) CheckStalled(ctx context.Context) error {
	names, err := o.git.ListRemoteBranches(ctx, branch.Prefix)
	if err != nil {
		return fmt.Errorf("watchdog: list branches: %w", err)
	}

	var workBranches []string
	for _, name := range names {
		if branch.Parse(name).Type == branch.ComponentDirector {
			workBranches = append(workBranches, name)
		}
	}
	logger.Info("watchdog scan", "orchestrations", len(workBranches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(watchdogConcurrency)
	for _, wb := range workBranches {
		wb := wb
		g.Go(func() error {
			return o.scanOrchestration(gctx, wb)
		})
	}
	return g.Wait()
}

func (o *Orchestrator) scanOrchestration(ctx context.Context, workBranch string) error {
	s, err := o.store.Load(ctx, workBranch)
	if err != nil {
		logger.Warn("watchdog: state load failed, skipping", "branch", workBranch, "err", err)
		return nil
	}
	if s.Phase.Terminal() {
		return nil
	}

	timeout := time.Duration(o.cfg.StallTimeoutMinutes) * time.Minute
	stalled := stalledRecords(s, o.now().UTC(), timeout)
	if len(stalled) == 0 {
		return nil
	}

	for _, r := range stalled {
		logger.Warn("stalled record detected", "issue", s.Issue.Number,
			"em", r.emID, "worker", r.workerID, "since", r.since.Round(time.Minute))
	}

	if err := o.gh.AddLabels(ctx, s.Issue.Number, labels.Stalled); err != nil {
		logger.Warn("stalled label failed", "issue", s.Issue.Number, "err", err)
	}
	o.postProgress(ctx, s, fmt.Sprintf("Watchdog: %d record(s) stalled beyond %s; resuming.", len(stalled), timeout))

	return o.dispatchResume(ctx, s, stalled[0])
}

// stalledRecords collects records stuck in pending or in_progress longer
// than the timeout, in EM then worker order. A record that was never
// stamped falls back to the orchestration's CreatedAt, so a lost dispatch
// right after record creation is still recoverable.
func stalledRecords(s *state.OrchestrationState, now time.Time, timeout time.Duration) []stalledRecord {
	var out []stalledRecord
	for i := range s.EMs {
		em := &s.EMs[i]
		if em.Status == state.EMPending {
			if t := lastActivity(em.UpdatedAt, s.CreatedAt); now.Sub(t) > timeout {
				out = append(out, stalledRecord{emID: em.ID, since: now.Sub(t)})
			}
		}
		for j := range em.Workers {
			w := &em.Workers[j]
			switch w.Status {
			case state.WorkerPending, state.WorkerInProgress:
				if t := lastActivity(w.UpdatedAt, s.CreatedAt); now.Sub(t) > timeout {
					out = append(out, stalledRecord{
						emID:      em.ID,
						workerID:  w.ID,
						sessionID: w.SessionID,
						since:     now.Sub(t),
					})
				}
			}
		}
	}
	return out
}

func lastActivity(updatedAt, createdAt time.Time) time.Time {
	if updatedAt.IsZero() {
		return createdAt
	}
	return updatedAt
}

// dispatchResume re-emits a targeted progress_check for the stalled
// record. Idempotent branch creation and PR lookup make the replay safe.
func (o *Orchestrator) dispatchResume(ctx context.Context, s *state.OrchestrationState, r stalledRecord) error {
	workflow := o.cfg.Workflow
	if workflow == "" {
		detected, err := o.gh.DetectWorkflow(ctx)
		if err != nil {
			return fmt.Errorf("watchdog: workflow detection: %w", err)
		}
		workflow = detected
	}

	token := IdempotencyToken("watchdog_resume", s.Issue.Number, r.emID, r.workerID)
	inputs := map[string]string{
		"event_type":   "progress_check",
		"issue_number": strconv.Itoa(s.Issue.Number),
		"resume":       "true",
	}
	if r.sessionID != "" {
		inputs["session_id"] = r.sessionID
	}
	if err := o.gh.DispatchWorkflow(ctx, workflow, s.BaseBranch, token, inputs); err != nil {
		return fmt.Errorf("watchdog: resume dispatch: %w", err)
	}
	logger.Info("resume dispatched", "issue", s.Issue.Number, "em", r.emID, "worker", r.workerID)
	return nil
}
