package github

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// OrchestratorMarker is embedded in the progress comment so it can be
// found and updated in place instead of spamming the issue.
const OrchestratorMarker = "<!-- cco-orchestrator-comment -->"

// IssueComment is a comment on an issue or PR conversation.
type IssueComment struct {
	ID        int64     `json:"id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	User      struct {
		Login string `json:"login"`
	} `json:"user"`
}

// ListIssueComments returns all comments on an issue, oldest first.
func (c *Client) ListIssueComments(ctx context.Context, number int) ([]IssueComment, error) {
	var all []IssueComment
	for page := 1; ; page++ {
		var batch []IssueComment
		url := c.repoURL("/issues/%d/comments?per_page=100&page=%d", number, page)
		if err := c.doJSON(ctx, http.MethodGet, url, nil, &batch); err != nil {
			return nil, fmt.Errorf("list comments on #%d: %w", number, err)
		}
		all = append(all, batch...)
		if len(batch) < 100 {
			return all, nil
		}
	}
}

// UpdateIssueComment upserts the orchestrator's progress comment: the
// marker is appended to body, and an existing marked comment is edited in
// place rather than a new one posted.
func (c *Client) UpdateIssueComment(ctx context.Context, number int, body string) error {
	if !strings.Contains(body, OrchestratorMarker) {
		body = body + "\n\n" + OrchestratorMarker
	}

	comments, err := c.ListIssueComments(ctx, number)
	if err != nil {
		return err
	}
	req := map[string]string{"body": body}
	for _, existing := range comments {
		if strings.Contains(existing.Body, OrchestratorMarker) {
			url := c.repoURL("/issues/comments/%d", existing.ID)
			if err := c.doJSON(ctx, http.MethodPatch, url, req, nil); err != nil {
				return fmt.Errorf("update progress comment on #%d: %w", number, err)
			}
			return nil
		}
	}

	if err := c.doJSON(ctx, http.MethodPost, c.repoURL("/issues/%d/comments", number), req, nil); err != nil {
		return fmt.Errorf("post progress comment on #%d: %w", number, err)
	}
	return nil
}
