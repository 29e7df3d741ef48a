package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/coderelay/cco/internal/branch"
	"github.com/coderelay/cco/internal/logging"
)

var logger = logging.New("state")

// savePushRetries bounds the pull–merge–amend–push loop after the initial
// attempt. A fourth concurrent writer degrades to a logged soft failure.
const savePushRetries = 3

// Git is the slice of gitops the store needs. *gitops.Client satisfies it.
type Git interface {
	Fetch(ctx context.Context, branch string) error
	Checkout(ctx context.Context, name string) error
	CreateBranch(ctx context.Context, name, from string) error
	CurrentBranch(ctx context.Context) (string, error)
	HasUncommittedChanges(ctx context.Context) (bool, error)
	Stash(ctx context.Context) (bool, error)
	StashPop(ctx context.Context) error
	PullRebase(ctx context.Context, branch string) error
	ReadFile(ctx context.Context, ref, path string) ([]byte, error)
	StageAndCommit(ctx context.Context, message string, paths ...string) (bool, error)
	PushNoRetry(ctx context.Context, branch string) error
	AmendNoEdit(ctx context.Context) error
	ForcePushWithLease(ctx context.Context, branch string) error
	ListRemoteBranches(ctx context.Context, prefix string) ([]string, error)
}

// Store reads and writes the orchestration state document on its work
// branch using the pull–merge–push protocol.
type Store struct {
	git      Git
	repoPath string
}

// NewStore creates a store over the given git client.
func NewStore(git Git, repoPath string) *Store {
	return &Store{git: git, repoPath: repoPath}
}

// Load reads the state document from origin/<workBranch> without switching
// branches.
func (st *Store) Load(ctx context.Context, workBranch string) (*OrchestrationState, error) {
	if err := st.git.Fetch(ctx, workBranch); err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	data, err := st.git.ReadFile(ctx, "origin/"+workBranch, FilePath)
	if err != nil {
		return nil, fmt.Errorf("load state from %s: %w", workBranch, err)
	}
	return Unmarshal(data)
}

// Initialize creates the work branch from the base branch, writes the
// initial document, and pushes.
func (st *Store) Initialize(ctx context.Context, s *OrchestrationState) error {
	if err := st.git.CreateBranch(ctx, s.WorkBranch, s.BaseBranch); err != nil {
		return fmt.Errorf("initialize state: %w", err)
	}
	if err := st.writeDocument(s); err != nil {
		return err
	}
	msg := fmt.Sprintf("cco: initialize orchestration for issue #%d", s.Issue.Number)
	if _, err := st.git.StageAndCommit(ctx, msg, FilePath); err != nil {
		return fmt.Errorf("initialize state: %w", err)
	}
	if err := st.git.PushNoRetry(ctx, s.WorkBranch); err != nil {
		return fmt.Errorf("initialize state: %w", err)
	}
	return nil
}

// Save persists the document with pull–merge–push. The caller's branch and
// any dirty files are restored on all exit paths. Save degrades to an error
// return; callers treat state-save failure as soft (§ error taxonomy).
func (st *Store) Save(ctx context.Context, s *OrchestrationState, message string) (err error) {
	s.Touch()

	originalBranch, branchErr := st.git.CurrentBranch(ctx)
	if branchErr != nil {
		return fmt.Errorf("save state: %w", branchErr)
	}

	onWorkBranch := originalBranch == s.WorkBranch
	stashed := false
	if !onWorkBranch {
		dirty, dErr := st.git.HasUncommittedChanges(ctx)
		if dErr != nil {
			return fmt.Errorf("save state: %w", dErr)
		}
		if dirty {
			stashed, dErr = st.git.Stash(ctx)
			if dErr != nil {
				return fmt.Errorf("save state: %w", dErr)
			}
		}
		if cErr := st.git.Checkout(ctx, s.WorkBranch); cErr != nil {
			st.restore(ctx, originalBranch, stashed, onWorkBranch)
			return fmt.Errorf("save state: %w", cErr)
		}
	}
	defer func() {
		st.restore(ctx, originalBranch, stashed, onWorkBranch)
	}()

	if pErr := st.git.PullRebase(ctx, s.WorkBranch); pErr != nil {
		logger.Warn("pull before save failed, proceeding with local view", "err", pErr)
	}

	merged := st.mergeWithRemote(ctx, s)
	if wErr := st.writeDocument(merged); wErr != nil {
		return wErr
	}

	if message == "" {
		message = fmt.Sprintf("cco: update state (phase %s)", merged.Phase)
	}
	committed, cErr := st.git.StageAndCommit(ctx, message, FilePath)
	if cErr != nil {
		return fmt.Errorf("save state: %w", cErr)
	}
	if !committed {
		return nil
	}

	pushErr := st.git.PushNoRetry(ctx, s.WorkBranch)
	for attempt := 1; pushErr != nil && attempt <= savePushRetries; attempt++ {
		logger.Info("state push rejected, re-merging", "attempt", attempt)
		if fErr := st.git.Fetch(ctx, s.WorkBranch); fErr != nil {
			return fmt.Errorf("save state: refetch: %w", fErr)
		}
		merged = st.mergeWithRemote(ctx, merged)
		if wErr := st.writeDocument(merged); wErr != nil {
			return wErr
		}
		if _, sErr := st.git.StageAndCommit(ctx, message, FilePath); sErr != nil {
			// Nothing new staged is fine; the amend below still rewrites
			// the tip with the merged document.
			logger.Debug("re-stage after merge", "err", sErr)
		}
		if aErr := st.git.AmendNoEdit(ctx); aErr != nil {
			return fmt.Errorf("save state: %w", aErr)
		}
		pushErr = st.git.ForcePushWithLease(ctx, s.WorkBranch)
	}
	if pushErr != nil {
		return fmt.Errorf("save state: push failed after %d retries: %w", savePushRetries, pushErr)
	}

	// Reflect the merged view back into the caller's document.
	*s = *merged
	return nil
}

// mergeWithRemote folds the remote document (if any) into local.
func (st *Store) mergeWithRemote(ctx context.Context, local *OrchestrationState) *OrchestrationState {
	data, err := st.git.ReadFile(ctx, "origin/"+local.WorkBranch, FilePath)
	if err != nil {
		// No remote document yet.
		return Merge(local, nil)
	}
	remote, err := Unmarshal(data)
	if err != nil {
		logger.Warn("remote state document unparseable, keeping local", "err", err)
		return Merge(local, nil)
	}
	return Merge(local, remote)
}

func (st *Store) restore(ctx context.Context, originalBranch string, stashed, onWorkBranch bool) {
	if onWorkBranch {
		return
	}
	if err := st.git.Checkout(ctx, originalBranch); err != nil {
		logger.Error("failed to restore branch", "branch", originalBranch, "err", err)
		return
	}
	if stashed {
		if err := st.git.StashPop(ctx); err != nil {
			logger.Error("failed to restore stash", "err", err)
		}
	}
}

func (st *Store) writeDocument(s *OrchestrationState) error {
	data, err := s.Marshal()
	if err != nil {
		return err
	}
	full := filepath.Join(st.repoPath, FilePath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// FindWorkBranchForIssue locates the work branch for an issue by its
// deterministic prefix. Returns "" when no orchestration exists.
func (st *Store) FindWorkBranchForIssue(ctx context.Context, issueNumber int) (string, error) {
	prefix := fmt.Sprintf("%s%d-", branch.Prefix, issueNumber)
	branches, err := st.git.ListRemoteBranches(ctx, prefix)
	if err != nil {
		return "", err
	}
	for _, b := range branches {
		c := branch.Parse(b)
		if c.Type == branch.ComponentDirector && c.IssueNumber == issueNumber {
			return b, nil
		}
	}
	// A slugless work branch has no trailing hyphen.
	bare := fmt.Sprintf("%s%d", branch.Prefix, issueNumber)
	branches, err = st.git.ListRemoteBranches(ctx, bare)
	if err != nil {
		return "", err
	}
	for _, b := range branches {
		if b == bare {
			return b, nil
		}
	}
	return "", nil
}

// InProgress reports whether an issue has a live, non-terminal orchestration.
func (st *Store) InProgress(ctx context.Context, issueNumber int) (bool, error) {
	wb, err := st.FindWorkBranchForIssue(ctx, issueNumber)
	if err != nil || wb == "" {
		return false, err
	}
	s, err := st.Load(ctx, wb)
	if err != nil {
		// Branch exists but the document is unreadable; treat as in
		// progress so we never double-start.
		if strings.Contains(err.Error(), "parse state") {
			return true, nil
		}
		return false, err
	}
	return !s.Phase.Terminal(), nil
}
