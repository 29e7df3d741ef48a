package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type refResponse struct {
	Ref    string `json:"ref"`
	Object struct {
		SHA string `json:"sha"`
	} `json:"object"`
}

// BranchSHA resolves a branch name to its current commit SHA.
func (c *Client) BranchSHA(ctx context.Context, name string) (string, error) {
	var ref refResponse
	url := c.repoURL("/git/ref/heads/%s", name)
	if err := c.doJSON(ctx, http.MethodGet, url, nil, &ref); err != nil {
		return "", fmt.Errorf("resolve branch %s: %w", name, err)
	}
	return ref.Object.SHA, nil
}

// CreateBranch creates name pointing at the head of from. An existing ref
// counts as success so replayed events do not fail.
func (c *Client) CreateBranch(ctx context.Context, name, from string) error {
	sha, err := c.BranchSHA(ctx, from)
	if err != nil {
		return err
	}

	body := map[string]string{
		"ref": "refs/heads/" + name,
		"sha": sha,
	}
	err = c.doJSON(ctx, http.MethodPost, c.repoURL("/git/refs"), body, nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnprocessableEntity &&
			strings.Contains(apiErr.Message, "already exists") {
			logger.Debug("branch already exists", "branch", name)
			return nil
		}
		return fmt.Errorf("create branch %s: %w", name, err)
	}
	return nil
}
