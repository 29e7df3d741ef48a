package llm

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	defaultMaxRetries = 3
	baseDelay         = 5 * time.Second
	maxDelay          = 30 * time.Second

	// maxHintWait caps how long a provider-supplied reset hint is honored.
	maxHintWait = 2 * time.Minute

	// maxRotations bounds rate-limit rotations within one task so a fully
	// throttled ring cannot spin forever.
	maxRotationsPerTask = 6
)

var retryAfterRe = regexp.MustCompile(`(?i)retry[- ]?after[:\s]+(\d+)`)

// Dispatcher executes tasks against the agent with retry and credential
// rotation.
type Dispatcher struct {
	client     Client
	ring       *Ring
	maxRetries int

	sleep func(ctx context.Context, d time.Duration) error
}

// NewDispatcher builds a dispatcher over a client and a credential ring.
func NewDispatcher(client Client, ring *Ring) *Dispatcher {
	return &Dispatcher{
		client:     client,
		ring:       ring,
		maxRetries: defaultMaxRetries,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// backoffDelay is min(30s, 5s * 2^(attempt-1)).
func backoffDelay(attempt int) time.Duration {
	d := baseDelay << (attempt - 1)
	if d > maxDelay || d <= 0 {
		return maxDelay
	}
	return d
}

// hintedWait extracts a provider reset hint ("retry after 42s") from the
// error text, capped at maxHintWait. Zero when no hint is present.
func hintedWait(msg string) time.Duration {
	m := retryAfterRe.FindStringSubmatch(msg)
	if m == nil {
		return 0
	}
	secs, err := strconv.Atoi(m[1])
	if err != nil || secs <= 0 {
		return 0
	}
	d := time.Duration(secs) * time.Second
	if d > maxHintWait {
		return maxHintWait
	}
	return d
}

// ExecuteTask runs a prompt to completion. Rate-limit failures rotate the
// credential ring and retry without consuming the retry budget; permanent
// auth failures abort immediately; everything else retries with backoff.
func (d *Dispatcher) ExecuteTask(ctx context.Context, opts Options) (*Result, error) {
	var last *Result
	rotations := 0

	for attempt := 1; attempt <= d.maxRetries; {
		opts.Credential = d.ring.Current()

		res, err := d.client.Execute(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("dispatch task: %w", err)
		}
		if res.Success {
			return res, nil
		}
		last = res

		switch {
		case IsNonRetryable(res.Error):
			return res, fmt.Errorf("dispatch task: permanent failure: %s", firstLine(res.Error))

		case IsRateLimit(res.Error):
			rotations++
			if rotations > maxRotationsPerTask {
				return res, fmt.Errorf("dispatch task: rate limited on every credential after %d rotations", rotations-1)
			}
			cred := d.ring.RotateOnRateLimit()
			wait := hintedWait(res.Error)
			logger.Info("rate limited, rotating credential",
				"rotation", rotations, "wait", wait, "model", cred.Model)
			if wait > 0 {
				if err := d.sleep(ctx, wait); err != nil {
					return res, err
				}
			}
			// Rotation does not consume the retry budget.

		default:
			logger.Warn("task attempt failed", "attempt", attempt, "err", firstLine(res.Error))
			if attempt == d.maxRetries {
				return res, fmt.Errorf("dispatch task: failed after %d attempts: %s", d.maxRetries, firstLine(res.Error))
			}
			if err := d.sleep(ctx, backoffDelay(attempt)); err != nil {
				return res, err
			}
			attempt++
		}
	}
	return last, fmt.Errorf("dispatch task: failed after %d attempts", d.maxRetries)
}

// ResumeSession continues an earlier agent session with review feedback.
func (d *Dispatcher) ResumeSession(ctx context.Context, sessionID, feedback, workDir string) (*Result, error) {
	return d.ExecuteTask(ctx, Options{
		Prompt:    feedback,
		WorkDir:   workDir,
		SessionID: sessionID,
	})
}

// GenerateChangesSummary asks the agent for a short PR-body summary of the
// changes it made in the session.
func (d *Dispatcher) GenerateChangesSummary(ctx context.Context, sessionID, workDir string, files []string) (string, error) {
	prompt := "Summarize the changes you just made in 2-4 markdown bullet points for a pull request body. " +
		"Mention intent, not line-by-line edits."
	if len(files) > 0 {
		prompt += " Files touched: " + strings.Join(files, ", ") + "."
	}

	res, err := d.ExecuteTask(ctx, Options{
		Prompt:    prompt,
		WorkDir:   workDir,
		SessionID: sessionID,
		MaxTurns:  1,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Output), nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
