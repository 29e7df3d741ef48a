package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// PullRequest is the slice of the host's PR object the orchestrator uses.
type PullRequest struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	Body    string `json:"body"`
	State   string `json:"state"` // open, closed
	Merged  bool   `json:"merged"`
	HTMLURL string `json:"html_url"`
	Head    struct {
		Ref string `json:"ref"`
		SHA string `json:"sha"`
	} `json:"head"`
	Base struct {
		Ref string `json:"ref"`
	} `json:"base"`
	CreatedAt time.Time `json:"created_at"`
}

// FindPullRequest returns the open PR from head to base, or nil when none
// exists.
func (c *Client) FindPullRequest(ctx context.Context, head, base string) (*PullRequest, error) {
	q := url.Values{}
	q.Set("head", c.owner+":"+head)
	q.Set("base", base)
	q.Set("state", "open")

	var prs []PullRequest
	reqURL := c.repoURL("/pulls") + "?" + q.Encode()
	if err := c.doJSON(ctx, http.MethodGet, reqURL, nil, &prs); err != nil {
		return nil, fmt.Errorf("find pull request %s->%s: %w", head, base, err)
	}
	if len(prs) == 0 {
		return nil, nil
	}
	return &prs[0], nil
}

// CreatePullRequest opens a PR from head to base. If one already exists it
// is returned instead, so replayed events converge on the same PR.
func (c *Client) CreatePullRequest(ctx context.Context, head, base, title, body string) (*PullRequest, error) {
	if existing, err := c.FindPullRequest(ctx, head, base); err != nil {
		return nil, err
	} else if existing != nil {
		logger.Debug("pull request already open", "head", head, "number", existing.Number)
		return existing, nil
	}

	req := map[string]string{
		"head":  head,
		"base":  base,
		"title": title,
		"body":  body,
	}
	var pr PullRequest
	err := c.doJSON(ctx, http.MethodPost, c.repoURL("/pulls"), req, &pr)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnprocessableEntity &&
			strings.Contains(apiErr.Message, "already exists") {
			// Raced another writer; fetch theirs.
			if existing, findErr := c.FindPullRequest(ctx, head, base); findErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("create pull request %s->%s: %w", head, base, err)
	}
	return &pr, nil
}

// GetPullRequest fetches one PR by number.
func (c *Client) GetPullRequest(ctx context.Context, number int) (*PullRequest, error) {
	var pr PullRequest
	if err := c.doJSON(ctx, http.MethodGet, c.repoURL("/pulls/%d", number), nil, &pr); err != nil {
		return nil, fmt.Errorf("get pull request #%d: %w", number, err)
	}
	return &pr, nil
}

// UpdatePullRequestBranch asks the host to merge the base branch into the
// PR's head. Best effort: the result reports whether the update was
// accepted, and failures never propagate as errors.
func (c *Client) UpdatePullRequestBranch(ctx context.Context, number int) bool {
	err := c.doJSON(ctx, http.MethodPut, c.repoURL("/pulls/%d/update-branch", number), map[string]string{}, nil)
	if err != nil {
		logger.Warn("update-branch declined", "pr", number, "err", err)
		return false
	}
	return true
}

// MergeReason classifies why a merge did not happen. All classifications
// are non-fatal; the caller decides what each means for its state machine.
type MergeReason string

const (
	MergeAlreadyMerged   MergeReason = "already-merged"
	MergeClosedNotMerged MergeReason = "closed-not-merged"
	MergeNotMergeable    MergeReason = "not-mergeable"
	MergeBaseModified    MergeReason = "base-modified"
	MergeHeadModified    MergeReason = "head-modified"
	MergeFailingStatus   MergeReason = "failing-status"
)

// MergeError is a classified merge refusal.
type MergeError struct {
	Number int
	Reason MergeReason
	Cause  error
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("merge PR #%d: %s", e.Number, e.Reason)
}

func (e *MergeError) Unwrap() error { return e.Cause }

// MergeResult reports a completed squash merge.
type MergeResult struct {
	SHA     string `json:"sha"`
	Merged  bool   `json:"merged"`
	Message string `json:"message"`
}

// MergePullRequest squash-merges a PR. Refusals come back as *MergeError
// with a reason the caller can branch on; an already-merged PR is reported
// as MergeAlreadyMerged rather than success so callers can skip their
// post-merge side effects.
func (c *Client) MergePullRequest(ctx context.Context, number int) (*MergeResult, error) {
	body := map[string]string{"merge_method": "squash"}
	var res MergeResult
	err := c.doJSON(ctx, http.MethodPut, c.repoURL("/pulls/%d/merge", number), body, &res)
	if err == nil {
		return &res, nil
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return nil, fmt.Errorf("merge pull request #%d: %w", number, err)
	}
	return nil, &MergeError{Number: number, Reason: c.classifyMergeRefusal(ctx, number, apiErr), Cause: apiErr}
}

func (c *Client) classifyMergeRefusal(ctx context.Context, number int, apiErr *APIError) MergeReason {
	msg := strings.ToLower(apiErr.Message)
	switch {
	case strings.Contains(msg, "head branch was modified"):
		return MergeHeadModified
	case strings.Contains(msg, "base branch was modified"):
		return MergeBaseModified
	case strings.Contains(msg, "status check"), strings.Contains(msg, "required status"):
		return MergeFailingStatus
	}

	// A 405 covers both "already merged" and "not mergeable"; the PR
	// object disambiguates.
	if apiErr.StatusCode == http.StatusMethodNotAllowed || apiErr.StatusCode == http.StatusConflict {
		if pr, getErr := c.GetPullRequest(ctx, number); getErr == nil {
			if pr.Merged {
				return MergeAlreadyMerged
			}
			if pr.State == "closed" {
				return MergeClosedNotMerged
			}
		}
	}
	return MergeNotMergeable
}

// AddPullRequestComment posts a plain comment on the PR conversation.
func (c *Client) AddPullRequestComment(ctx context.Context, number int, body string) error {
	// PR conversation comments go through the issues endpoint.
	req := map[string]string{"body": body}
	if err := c.doJSON(ctx, http.MethodPost, c.repoURL("/issues/%d/comments", number), req, nil); err != nil {
		return fmt.Errorf("comment on PR #%d: %w", number, err)
	}
	return nil
}
