package github

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"
)

// TokenInput is the workflow input carrying the idempotency token. The
// workflow echoes it back into the triggered run so duplicate dispatches
// can be recognized.
const TokenInput = "idempotency_token"

type workflowList struct {
	TotalCount int `json:"total_count"`
	Workflows  []struct {
		ID    int64  `json:"id"`
		Name  string `json:"name"`
		Path  string `json:"path"`
		State string `json:"state"`
	} `json:"workflows"`
}

// preferredWorkflows are checked in order when no workflow is configured.
var preferredWorkflows = []string{"cco.yml", "cco.yaml", "orchestrator.yml", "orchestrator.yaml"}

// DetectWorkflow picks the orchestrator's workflow file from the
// repository's active workflows.
func (c *Client) DetectWorkflow(ctx context.Context) (string, error) {
	var list workflowList
	url := c.repoURL("/actions/workflows?per_page=100")
	if err := c.doJSON(ctx, http.MethodGet, url, nil, &list); err != nil {
		return "", fmt.Errorf("list workflows: %w", err)
	}

	active := map[string]bool{}
	var order []string
	for _, wf := range list.Workflows {
		if wf.State == "active" {
			base := path.Base(wf.Path)
			active[base] = true
			order = append(order, base)
		}
	}
	for _, name := range preferredWorkflows {
		if active[name] {
			return name, nil
		}
	}
	// Fall back to the first workflow mentioning cco or orchestrator.
	for _, base := range order {
		lower := strings.ToLower(base)
		if strings.Contains(lower, "cco") || strings.Contains(lower, "orchestrator") {
			return base, nil
		}
	}
	return "", fmt.Errorf("no orchestrator workflow found (looked for %s)", strings.Join(preferredWorkflows, ", "))
}

// DispatchWorkflow triggers a workflow_dispatch run on ref. The token is
// propagated as an input; transient failures retry with backoff, and
// 400/404/422 surface immediately.
func (c *Client) DispatchWorkflow(ctx context.Context, workflow, ref, token string, inputs map[string]string) error {
	merged := make(map[string]string, len(inputs)+1)
	for k, v := range inputs {
		merged[k] = v
	}
	if token != "" {
		merged[TokenInput] = token
	}

	body := map[string]any{
		"ref":    ref,
		"inputs": merged,
	}
	url := c.repoURL("/actions/workflows/%s/dispatches", workflow)
	if err := c.doJSON(ctx, http.MethodPost, url, body, nil); err != nil {
		return fmt.Errorf("dispatch workflow %s on %s: %w", workflow, ref, err)
	}
	return nil
}
