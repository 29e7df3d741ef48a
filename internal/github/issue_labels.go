package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/coderelay/cco/internal/labels"
)

type issueLabel struct {
	Name        string `json:"name"`
	Color       string `json:"color,omitempty"`
	Description string `json:"description,omitempty"`
}

// ListLabels returns the label names currently on an issue or PR.
func (c *Client) ListLabels(ctx context.Context, number int) ([]string, error) {
	var raw []issueLabel
	reqURL := c.repoURL("/issues/%d/labels?per_page=100", number)
	if err := c.doJSON(ctx, http.MethodGet, reqURL, nil, &raw); err != nil {
		return nil, fmt.Errorf("list labels on #%d: %w", number, err)
	}
	names := make([]string, len(raw))
	for i, l := range raw {
		names[i] = l.Name
	}
	return names, nil
}

// AddLabels attaches labels to an issue or PR. Adding a label twice is a
// no-op on the host side.
func (c *Client) AddLabels(ctx context.Context, number int, names ...string) error {
	if len(names) == 0 {
		return nil
	}
	body := map[string][]string{"labels": names}
	if err := c.doJSON(ctx, http.MethodPost, c.repoURL("/issues/%d/labels", number), body, nil); err != nil {
		return fmt.Errorf("add labels to #%d: %w", number, err)
	}
	return nil
}

// RemoveLabel detaches one label, tolerating its absence.
func (c *Client) RemoveLabel(ctx context.Context, number int, name string) error {
	reqURL := c.repoURL("/issues/%d/labels/%s", number, url.PathEscape(name))
	err := c.doJSON(ctx, http.MethodDelete, reqURL, nil, nil)
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("remove label %s from #%d: %w", name, number, err)
	}
	return nil
}

// SetPhaseLabel puts the issue into exactly one phase label, issuing only
// the minimal add/remove set.
func (c *Client) SetPhaseLabel(ctx context.Context, number int, phase string) error {
	return c.setExclusiveLabel(ctx, number, labels.ForPhase(phase), labels.IsPhaseLabel)
}

// SetStatusLabel puts the PR into exactly one status label.
func (c *Client) SetStatusLabel(ctx context.Context, number int, status labels.Status) error {
	return c.setExclusiveLabel(ctx, number, labels.ForStatus(status), labels.IsStatusLabel)
}

func (c *Client) setExclusiveLabel(ctx context.Context, number int, want string, family func(string) bool) error {
	current, err := c.ListLabels(ctx, number)
	if err != nil {
		return err
	}

	present := false
	for _, name := range current {
		if name == want {
			present = true
			continue
		}
		if family(name) {
			if err := c.RemoveLabel(ctx, number, name); err != nil {
				return err
			}
		}
	}
	if present {
		return nil
	}
	return c.AddLabels(ctx, number, want)
}

// EnsureLabelsExist creates any missing orchestrator labels with their
// colors and descriptions. Called lazily before the first labeling.
func (c *Client) EnsureLabelsExist(ctx context.Context, maxEms int) error {
	for _, l := range labels.All(maxEms) {
		body := issueLabel{Name: l.Name, Color: l.Color, Description: l.Description}
		err := c.doJSON(ctx, http.MethodPost, c.repoURL("/labels"), body, nil)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnprocessableEntity &&
				strings.Contains(apiErr.Message, "already_exists") {
				continue
			}
			return fmt.Errorf("ensure label %s: %w", l.Name, err)
		}
	}
	return nil
}
