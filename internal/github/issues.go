package github

import (
	"context"
	"fmt"
	"net/http"
)

// Issue is the slice of the host's issue object the orchestrator uses.
type Issue struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	State  string `json:"state"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
}

// HasLabel reports whether the issue carries the named label.
func (i *Issue) HasLabel(name string) bool {
	for _, l := range i.Labels {
		if l.Name == name {
			return true
		}
	}
	return false
}

// GetIssue fetches one issue by number.
func (c *Client) GetIssue(ctx context.Context, number int) (*Issue, error) {
	var issue Issue
	if err := c.doJSON(ctx, http.MethodGet, c.repoURL("/issues/%d", number), nil, &issue); err != nil {
		return nil, fmt.Errorf("get issue #%d: %w", number, err)
	}
	return &issue, nil
}
