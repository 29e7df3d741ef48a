// Package github is the gateway to the version-control host. Every
// operation is idempotent or tolerates replay, because the reactor may be
// invoked more than once for the same external event.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/coderelay/cco/internal/logging"
)

const (
	defaultBaseURL = "https://api.github.com"
	apiVersion     = "2022-11-28"

	maxRetryElapsed = 2 * time.Minute
)

var logger = logging.New("github")

// Client talks to the GitHub REST API for one repository.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	owner       string
	repo        string
	token       string
	retryPolicy func() backoff.BackOff
}

// NewClient creates a gateway client for owner/repo.
func NewClient(owner, repo, token string) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		baseURL:     defaultBaseURL,
		owner:       owner,
		repo:        repo,
		token:       token,
		retryPolicy: newBackoff,
	}
}

// APIError is a non-2xx response from the host.
type APIError struct {
	StatusCode int
	Message    string
	URL        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github: %s returned %d: %s", e.URL, e.StatusCode, e.Message)
}

// Transient reports whether the failure is worth retrying: server errors
// and rate limiting. A 403 counts only when the body carries a rate-limit
// signature, since 403 is otherwise a hard permission failure.
func (e *APIError) Transient() bool {
	if e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests {
		return true
	}
	if e.StatusCode == http.StatusForbidden {
		msg := strings.ToLower(e.Message)
		return strings.Contains(msg, "rate limit") || strings.Contains(msg, "abuse")
	}
	return false
}

// NotFound reports a 404.
func (e *APIError) NotFound() bool { return e.StatusCode == http.StatusNotFound }

// IsNotFound reports whether err is a 404 from the host.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.NotFound()
}

func (c *Client) repoURL(format string, args ...any) string {
	return fmt.Sprintf("%s/repos/%s/%s%s", c.baseURL, c.owner, c.repo, fmt.Sprintf(format, args...))
}

// doRequest performs one HTTP call. Non-2xx responses become *APIError.
func (c *Client) doRequest(ctx context.Context, method, url string, body any) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request %s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return data, resp.StatusCode, &APIError{
			StatusCode: resp.StatusCode,
			Message:    apiMessage(data),
			URL:        url,
		}
	}
	return data, resp.StatusCode, nil
}

func apiMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Errors  []struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Message == "" {
		return strings.TrimSpace(string(body))
	}
	msg := payload.Message
	for _, e := range payload.Errors {
		switch {
		case e.Message != "":
			msg += "; " + e.Message
		case e.Code != "":
			msg += "; " + e.Code
		}
	}
	return msg
}

// doJSON performs a request with transient-failure retry and decodes the
// response into out (skipped when out is nil). Permanent failures (4xx
// other than rate limiting) return immediately.
func (c *Client) doJSON(ctx context.Context, method, url string, body, out any) error {
	op := func() error {
		data, _, err := c.doRequest(ctx, method, url, body)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && !apiErr.Transient() {
				return backoff.Permanent(err)
			}
			return err
		}
		if out == nil || len(data) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode %s %s: %w", method, url, err))
		}
		return nil
	}

	notify := func(err error, wait time.Duration) {
		logger.Warn("transient gateway failure, retrying", "url", url, "wait", wait, "err", err)
	}
	return backoff.RetryNotify(op, backoff.WithContext(c.retryPolicy(), ctx), notify)
}

func newBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = maxRetryElapsed
	b.RandomizationFactor = 0.3
	return b
}
