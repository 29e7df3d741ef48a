// Package orchestrator is the event reactor: one entry per external
// event, at most one durable side-effect group per invocation. All
// cross-invocation memory lives in the state document on the work branch.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/coderelay/cco/internal/branch"
	"github.com/coderelay/cco/internal/config"
	"github.com/coderelay/cco/internal/github"
	"github.com/coderelay/cco/internal/gitops"
	"github.com/coderelay/cco/internal/labels"
	"github.com/coderelay/cco/internal/llm"
	"github.com/coderelay/cco/internal/logging"
	"github.com/coderelay/cco/internal/state"
)

var logger = logging.New("orchestrator")

// Gateway is the slice of the VCS host client the reactor uses.
type Gateway interface {
	GetIssue(ctx context.Context, number int) (*github.Issue, error)
	CreateBranch(ctx context.Context, name, from string) error
	FindPullRequest(ctx context.Context, head, base string) (*github.PullRequest, error)
	CreatePullRequest(ctx context.Context, head, base, title, body string) (*github.PullRequest, error)
	GetPullRequest(ctx context.Context, number int) (*github.PullRequest, error)
	MergePullRequest(ctx context.Context, number int) (*github.MergeResult, error)
	UpdatePullRequestBranch(ctx context.Context, number int) bool
	UpdateIssueComment(ctx context.Context, number int, body string) error
	AddPullRequestComment(ctx context.Context, number int, body string) error
	GetPullRequestReviews(ctx context.Context, number int) ([]github.Review, error)
	GetPullRequestComments(ctx context.Context, number int) ([]github.ReviewComment, error)
	ReplyToReviewComment(ctx context.Context, number int, commentID int64, body string) error
	SetPhaseLabel(ctx context.Context, number int, phase string) error
	SetStatusLabel(ctx context.Context, number int, status labels.Status) error
	AddLabels(ctx context.Context, number int, names ...string) error
	RemoveLabel(ctx context.Context, number int, name string) error
	EnsureLabelsExist(ctx context.Context, maxEms int) error
	DetectWorkflow(ctx context.Context) (string, error)
	DispatchWorkflow(ctx context.Context, workflow, ref, token string, inputs map[string]string) error
}

// Git is the slice of local repo operations the reactor uses.
type Git interface {
	CreateBranch(ctx context.Context, name, from string) error
	Checkout(ctx context.Context, name string) error
	CommitAndPush(ctx context.Context, message string, files ...string) error
	ModifiedFiles(ctx context.Context) ([]string, error)
	Rebase(ctx context.Context, target string) (gitops.RebaseResult, error)
	ForcePushWithLease(ctx context.Context, branch string) error
	ListRemoteBranches(ctx context.Context, prefix string) ([]string, error)
}

// Store is the slice of the state store the reactor uses.
type Store interface {
	Load(ctx context.Context, workBranch string) (*state.OrchestrationState, error)
	Initialize(ctx context.Context, s *state.OrchestrationState) error
	Save(ctx context.Context, s *state.OrchestrationState, message string) error
	FindWorkBranchForIssue(ctx context.Context, issueNumber int) (string, error)
	InProgress(ctx context.Context, issueNumber int) (bool, error)
}

// Agent is the slice of the LLM dispatcher the reactor uses.
type Agent interface {
	ExecuteTask(ctx context.Context, opts llm.Options) (*llm.Result, error)
	ResumeSession(ctx context.Context, sessionID, feedback, workDir string) (*llm.Result, error)
	GenerateChangesSummary(ctx context.Context, sessionID, workDir string, files []string) (string, error)
}

// Orchestrator reacts to one event per invocation.
type Orchestrator struct {
	cfg   *config.Config
	gh    Gateway
	git   Git
	store Store
	agent Agent
	ring  *llm.Ring

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// New wires a reactor from its dependencies.
func New(cfg *config.Config, gh Gateway, git Git, store Store, agent Agent, ring *llm.Ring) *Orchestrator {
	return &Orchestrator{
		cfg:   cfg,
		gh:    gh,
		git:   git,
		store: store,
		agent: agent,
		ring:  ring,
		sleep: sleepCtx,
		now:   time.Now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// stagger pauses between successive external dispatches.
func (o *Orchestrator) stagger(ctx context.Context) error {
	if o.cfg.DispatchStaggerMs <= 0 {
		return nil
	}
	return o.sleep(ctx, time.Duration(o.cfg.DispatchStaggerMs)*time.Millisecond)
}

// HandleEvent advances one orchestration by at most one side-effect group.
// A nil return includes soft failures already surfaced on the progress
// comment; errors are reserved for conditions the caller should exit
// non-zero for.
func (o *Orchestrator) HandleEvent(ctx context.Context, ev config.Event) error {
	logger.Info("handling event", "type", ev.Type, "issue", ev.IssueNumber, "pr", ev.PRNumber, "branch", ev.Branch)

	switch ev.Type {
	case config.EventIssueLabeled:
		return o.handleIssueLabeled(ctx, ev.IssueNumber)
	case config.EventProgressCheck:
		return o.handleProgressCheck(ctx, ev.IssueNumber)
	case config.EventPush:
		return o.handlePush(ctx, ev.Branch)
	case config.EventPROpened:
		return o.handlePROpened(ctx, ev.PRNumber)
	case config.EventPRReview:
		return o.handlePRReview(ctx, ev)
	case config.EventPRMerged:
		return o.handlePRMerged(ctx, ev.PRNumber)
	case config.EventSchedule, config.EventWorkflowDispatch:
		return o.CheckStalled(ctx)
	default:
		return fmt.Errorf("unhandled event type %q", ev.Type)
	}
}

// loadForBranch resolves a head branch to its orchestration state and
// parsed component. A branch outside the namespace returns a none
// component and nil state.
func (o *Orchestrator) loadForBranch(ctx context.Context, head string) (*state.OrchestrationState, branch.Component, error) {
	comp := branch.Parse(head)
	if comp.Type == branch.ComponentNone {
		return nil, comp, nil
	}
	wb, err := o.store.FindWorkBranchForIssue(ctx, comp.IssueNumber)
	if err != nil || wb == "" {
		return nil, comp, err
	}
	s, err := o.store.Load(ctx, wb)
	if err != nil {
		return nil, comp, err
	}
	return s, comp, nil
}

// saveSoft persists state, degrading to a log line and a progress-comment
// note on failure. State-save failures never fail the reactor.
func (o *Orchestrator) saveSoft(ctx context.Context, s *state.OrchestrationState, message string) {
	if err := o.store.Save(ctx, s, message); err != nil {
		logger.Error("state save failed, continuing", "err", err)
		o.postProgress(ctx, s, "State save failed: "+err.Error()+". The next event will retry.")
		return
	}
	o.postProgress(ctx, s, "")
}
