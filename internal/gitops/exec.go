// Package gitops wraps the local git toolchain used by the reactor: branch
// creation and checkout, commit-and-push, rebase with conflict detection,
// and stash handling around branch switches.
//
// All commands run through a Runner so tests can substitute a fake.
package gitops

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes git commands in a directory.
type Runner interface {
	Exec(ctx context.Context, dir string, args ...string) (string, error)
}

// CommandError carries the stderr of a failed git command so callers can
// classify conflicts and rejected pushes.
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("git %s failed: %v\nstderr: %s",
		strings.Join(e.Args, " "), e.Err, e.Stderr)
}

func (e *CommandError) Unwrap() error { return e.Err }

// osRunner executes real git commands via exec.CommandContext.
type osRunner struct{}

func (osRunner) Exec(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", &CommandError{Args: args, Stderr: stderr.String(), Err: err}
	}
	return stdout.String(), nil
}

// Client provides git operations rooted at a repository path.
//
// Protected paths (the orchestration state document) are excluded from
// catch-all staging and discarded before branch switches so they never leak
// onto code branches.
type Client struct {
	RepoPath string

	runner    Runner
	protected []string
}

// NewClient creates a client for the repository at repoPath using the real
// git binary. protectedPaths are excluded from catch-all commits.
func NewClient(repoPath string, protectedPaths ...string) *Client {
	return &Client{RepoPath: repoPath, runner: osRunner{}, protected: protectedPaths}
}

// NewClientWithRunner creates a client with an injected runner. Tests use
// this with a fake.
func NewClientWithRunner(repoPath string, r Runner, protectedPaths ...string) *Client {
	return &Client{RepoPath: repoPath, runner: r, protected: protectedPaths}
}

func (c *Client) git(ctx context.Context, args ...string) (string, error) {
	return c.runner.Exec(ctx, c.RepoPath, args...)
}

// stderrOf extracts stderr from a command error, empty when unavailable.
func stderrOf(err error) string {
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce.Stderr
	}
	return ""
}
