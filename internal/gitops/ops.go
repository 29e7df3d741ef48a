package gitops

import (
	"context"
	"fmt"
	"strings"

	"github.com/coderelay/cco/internal/logging"
)

var logger = logging.New("gitops")

// identity used for orchestrator commits.
const (
	commitUserName  = "cco-orchestrator"
	commitUserEmail = "cco-orchestrator[bot]@users.noreply.github.com"
)

// Fetch updates the remote tracking ref for a branch.
func (c *Client) Fetch(ctx context.Context, branch string) error {
	_, err := c.git(ctx, "fetch", "origin", branch)
	return err
}

// CreateBranch creates (or resets) a local branch at origin/<from> and
// checks it out. Any dirty copy of the state document is discarded first so
// it never leaks across branches.
func (c *Client) CreateBranch(ctx context.Context, name, from string) error {
	if err := c.Fetch(ctx, from); err != nil {
		return fmt.Errorf("fetch %s: %w", from, err)
	}
	c.discardProtected(ctx)
	if _, err := c.git(ctx, "checkout", "-B", name, "origin/"+from); err != nil {
		return fmt.Errorf("create branch %s from %s: %w", name, from, err)
	}
	return nil
}

// Checkout switches to a branch: local first, then fetch and track remote.
func (c *Client) Checkout(ctx context.Context, name string) error {
	c.discardProtected(ctx)
	if _, err := c.git(ctx, "checkout", name); err == nil {
		return nil
	}
	if err := c.Fetch(ctx, name); err != nil {
		return fmt.Errorf("checkout %s: branch not found locally or on origin: %w", name, err)
	}
	if _, err := c.git(ctx, "checkout", "-B", name, "origin/"+name); err != nil {
		return fmt.Errorf("checkout %s from origin: %w", name, err)
	}
	return nil
}

// discardProtected drops uncommitted changes to protected paths before a
// branch switch. The state document belongs to the work branch only.
func (c *Client) discardProtected(ctx context.Context) {
	for _, path := range c.protected {
		if _, err := c.git(ctx, "checkout", "--", path); err != nil {
			// Nothing staged or the file does not exist on this branch.
			logger.Debug("no protected file to discard", "path", path)
		}
	}
}

// CommitAndPush stages the given files (or everything when none are named),
// commits if the staged diff is non-empty, and pushes. The state document is
// excluded from catch-all staging; callers that want it must list it.
func (c *Client) CommitAndPush(ctx context.Context, message string, files ...string) error {
	if err := c.configureIdentity(ctx); err != nil {
		return err
	}

	if len(files) == 0 {
		args := []string{"add", "-A", "--", "."}
		for _, path := range c.protected {
			args = append(args, ":!"+path)
		}
		if _, err := c.git(ctx, args...); err != nil {
			return fmt.Errorf("stage changes: %w", err)
		}
	} else {
		args := append([]string{"add", "--"}, files...)
		if _, err := c.git(ctx, args...); err != nil {
			return fmt.Errorf("stage %v: %w", files, err)
		}
	}

	staged, err := c.git(ctx, "diff", "--cached", "--name-only")
	if err != nil {
		return fmt.Errorf("inspect staged diff: %w", err)
	}
	if strings.TrimSpace(staged) == "" {
		logger.Debug("nothing staged, skipping commit", "message", message)
		return nil
	}

	if _, err := c.git(ctx, "commit", "--no-verify", "-m", message); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return c.push(ctx)
}

// push pushes the current branch, falling back to force-with-lease after a
// fetch when the remote rejected the update.
func (c *Client) push(ctx context.Context) error {
	branch, err := c.CurrentBranch(ctx)
	if err != nil {
		return err
	}
	if _, err := c.git(ctx, "push", "-u", "origin", branch); err == nil {
		return nil
	}
	if err := c.Fetch(ctx, branch); err != nil {
		return fmt.Errorf("push %s: refetch failed: %w", branch, err)
	}
	if _, err := c.git(ctx, "push", "--force-with-lease", "origin", branch); err != nil {
		return fmt.Errorf("push %s: %w", branch, err)
	}
	return nil
}

// StageAndCommit stages the named paths and commits when the staged diff is
// non-empty. Returns whether a commit was created. No push is attempted;
// the state store drives its own push protocol.
func (c *Client) StageAndCommit(ctx context.Context, message string, paths ...string) (bool, error) {
	if err := c.configureIdentity(ctx); err != nil {
		return false, err
	}
	args := append([]string{"add", "--"}, paths...)
	if _, err := c.git(ctx, args...); err != nil {
		return false, fmt.Errorf("stage %v: %w", paths, err)
	}
	staged, err := c.git(ctx, "diff", "--cached", "--name-only")
	if err != nil {
		return false, fmt.Errorf("inspect staged diff: %w", err)
	}
	if strings.TrimSpace(staged) == "" {
		return false, nil
	}
	if _, err := c.git(ctx, "commit", "--no-verify", "-m", message); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// PushNoRetry pushes a branch once, surfacing rejection to the caller.
func (c *Client) PushNoRetry(ctx context.Context, branch string) error {
	if _, err := c.git(ctx, "push", "-u", "origin", branch); err != nil {
		return fmt.Errorf("push %s: %w", branch, err)
	}
	return nil
}

// AmendNoEdit folds newly staged changes into the tip commit.
func (c *Client) AmendNoEdit(ctx context.Context) error {
	if _, err := c.git(ctx, "commit", "--amend", "--no-edit"); err != nil {
		return fmt.Errorf("amend: %w", err)
	}
	return nil
}

// ForcePushWithLease force-pushes a branch, refusing to clobber refs it has
// not seen.
func (c *Client) ForcePushWithLease(ctx context.Context, branch string) error {
	if _, err := c.git(ctx, "push", "--force-with-lease", "origin", branch); err != nil {
		return fmt.Errorf("force push %s: %w", branch, err)
	}
	return nil
}

// ListRemoteBranches returns origin branches starting with prefix.
func (c *Client) ListRemoteBranches(ctx context.Context, prefix string) ([]string, error) {
	out, err := c.git(ctx, "ls-remote", "--heads", "origin", prefix+"*")
	if err != nil {
		return nil, fmt.Errorf("list remote branches %s*: %w", prefix, err)
	}
	var branches []string
	for _, line := range splitLines(out) {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		branches = append(branches, strings.TrimPrefix(fields[1], "refs/heads/"))
	}
	return branches, nil
}

func (c *Client) configureIdentity(ctx context.Context) error {
	if _, err := c.git(ctx, "config", "user.name", commitUserName); err != nil {
		return fmt.Errorf("configure identity: %w", err)
	}
	if _, err := c.git(ctx, "config", "user.email", commitUserEmail); err != nil {
		return fmt.Errorf("configure identity: %w", err)
	}
	return nil
}

// RebaseResult reports the outcome of a rebase attempt.
type RebaseResult struct {
	Success       bool
	HasConflicts  bool
	ConflictFiles []string
}

// Rebase fetches the target and rebases the current branch onto
// origin/<target>. On conflict, the rebase is aborted and the conflicted
// files are reported; resolution is the caller's problem.
func (c *Client) Rebase(ctx context.Context, target string) (RebaseResult, error) {
	if err := c.Fetch(ctx, target); err != nil {
		return RebaseResult{}, fmt.Errorf("fetch %s: %w", target, err)
	}

	_, err := c.git(ctx, "rebase", "origin/"+target)
	if err == nil {
		return RebaseResult{Success: true}, nil
	}

	stderr := stderrOf(err)
	if !strings.Contains(stderr, "CONFLICT") && !strings.Contains(stderr, "could not apply") {
		return RebaseResult{}, fmt.Errorf("rebase onto %s: %w", target, err)
	}

	files, listErr := c.conflictedFiles(ctx)
	if listErr != nil {
		logger.Warn("failed to list conflicted files", "err", listErr)
	}
	if _, abortErr := c.git(ctx, "rebase", "--abort"); abortErr != nil {
		logger.Warn("rebase abort failed", "err", abortErr)
	}
	return RebaseResult{HasConflicts: true, ConflictFiles: files}, nil
}

func (c *Client) conflictedFiles(ctx context.Context) ([]string, error) {
	out, err := c.git(ctx, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// HasUncommittedChanges reports whether the working tree is dirty.
func (c *Client) HasUncommittedChanges(ctx context.Context) (bool, error) {
	out, err := c.git(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// ModifiedFiles lists files with uncommitted changes, renamed files reported
// under their new path.
func (c *Client) ModifiedFiles(ctx context.Context) ([]string, error) {
	out, err := c.git(ctx, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "" || len(line) < 3 {
			continue
		}
		name := line[3:]
		if idx := strings.Index(name, " -> "); idx != -1 {
			name = name[idx+4:]
		}
		files = append(files, name)
	}
	return files, nil
}

// CurrentBranch returns the checked-out branch name.
func (c *Client) CurrentBranch(ctx context.Context) (string, error) {
	out, err := c.git(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("current branch: %w", err)
	}
	branch := strings.TrimSpace(out)
	if branch == "HEAD" {
		return "", fmt.Errorf("repository is in detached HEAD state")
	}
	return branch, nil
}

// CurrentSHA returns the HEAD commit hash.
func (c *Client) CurrentSHA(ctx context.Context) (string, error) {
	out, err := c.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// RemoteBranchExists checks origin for a branch.
func (c *Client) RemoteBranchExists(ctx context.Context, branch string) (bool, error) {
	out, err := c.git(ctx, "ls-remote", "--heads", "origin", branch)
	if err != nil {
		return false, fmt.Errorf("check remote branch %s: %w", branch, err)
	}
	return strings.TrimSpace(out) != "", nil
}

// DeleteBranch removes a branch locally and on origin, tolerating absence
// on either side.
func (c *Client) DeleteBranch(ctx context.Context, branch string) error {
	if _, err := c.git(ctx, "branch", "-D", branch); err != nil {
		logger.Debug("local branch absent", "branch", branch)
	}
	if _, err := c.git(ctx, "push", "origin", "--delete", branch); err != nil {
		stderr := stderrOf(err)
		if !strings.Contains(stderr, "remote ref does not exist") {
			return fmt.Errorf("delete remote branch %s: %w", branch, err)
		}
	}
	return nil
}

// Stash saves local modifications, returning true when anything was stashed.
func (c *Client) Stash(ctx context.Context) (bool, error) {
	out, err := c.git(ctx, "stash", "push", "--include-untracked")
	if err != nil {
		return false, fmt.Errorf("stash: %w", err)
	}
	return !strings.Contains(out, "No local changes"), nil
}

// StashPop restores the most recent stash.
func (c *Client) StashPop(ctx context.Context) error {
	if _, err := c.git(ctx, "stash", "pop"); err != nil {
		return fmt.Errorf("stash pop: %w", err)
	}
	return nil
}

// PullRebase fetches and rebases the current branch onto its origin ref.
func (c *Client) PullRebase(ctx context.Context, branch string) error {
	if err := c.Fetch(ctx, branch); err != nil {
		return err
	}
	if _, err := c.git(ctx, "rebase", "origin/"+branch); err != nil {
		if _, abortErr := c.git(ctx, "rebase", "--abort"); abortErr != nil {
			logger.Warn("rebase abort failed", "err", abortErr)
		}
		return fmt.Errorf("rebase onto origin/%s: %w", branch, err)
	}
	return nil
}

// ReadFile returns a file's contents at a ref (e.g. "origin/branch:path").
func (c *Client) ReadFile(ctx context.Context, ref, path string) ([]byte, error) {
	out, err := c.git(ctx, "show", ref+":"+path)
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(strings.TrimSpace(s), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
