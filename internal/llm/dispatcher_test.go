package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(t *testing.T, mock *MockClient, creds ...Credential) (*Dispatcher, *[]time.Duration) {
	t.Helper()
	if len(creds) == 0 {
		creds = []Credential{{APIKey: "k1"}, {APIKey: "k2"}}
	}
	ring, err := NewRing(creds)
	require.NoError(t, err)

	var slept []time.Duration
	d := NewDispatcher(mock, ring)
	d.sleep = func(ctx context.Context, dur time.Duration) error {
		slept = append(slept, dur)
		return nil
	}
	return d, &slept
}

func TestExecuteTask_SuccessFirstAttempt(t *testing.T) {
	t.Parallel()

	mock := &MockClient{}
	d, slept := newTestDispatcher(t, mock)

	res, err := d.ExecuteTask(context.Background(), Options{Prompt: "do it", WorkDir: "/repo"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Len(t, mock.Calls, 1)
	assert.Empty(t, *slept)
	assert.Equal(t, "k1", mock.Calls[0].Credential.APIKey)
}

func TestExecuteTask_RateLimitRotatesWithoutConsumingRetries(t *testing.T) {
	t.Parallel()

	mock := &MockClient{}
	calls := 0
	mock.ExecuteFunc = func(ctx context.Context, opts Options) (*Result, error) {
		calls++
		if calls <= 3 {
			return &Result{Error: "429 too many requests"}, nil
		}
		return &Result{Success: true, Output: "done"}, nil
	}
	d, _ := newTestDispatcher(t, mock, Credential{APIKey: "a"}, Credential{APIKey: "b"})

	res, err := d.ExecuteTask(context.Background(), Options{Prompt: "p", WorkDir: "/repo"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 4, calls)

	// Three rate limits rotated a two-credential ring: a, b, a, then b wins.
	keys := make([]string, len(mock.Calls))
	for i, c := range mock.Calls {
		keys[i] = c.Credential.APIKey
	}
	assert.Equal(t, []string{"a", "b", "a", "b"}, keys)
}

func TestExecuteTask_NonRetryableAbortsImmediately(t *testing.T) {
	t.Parallel()

	mock := &MockClient{
		ExecuteFunc: func(ctx context.Context, opts Options) (*Result, error) {
			return &Result{Error: "invalid_api_key"}, nil
		},
	}
	d, slept := newTestDispatcher(t, mock)

	_, err := d.ExecuteTask(context.Background(), Options{Prompt: "p", WorkDir: "/repo"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permanent failure")
	assert.Len(t, mock.Calls, 1)
	assert.Empty(t, *slept)
}

func TestExecuteTask_TransientFailuresUseBackoffSchedule(t *testing.T) {
	t.Parallel()

	mock := &MockClient{
		ExecuteFunc: func(ctx context.Context, opts Options) (*Result, error) {
			return &Result{Error: "agent crashed"}, nil
		},
	}
	d, slept := newTestDispatcher(t, mock)

	_, err := d.ExecuteTask(context.Background(), Options{Prompt: "p", WorkDir: "/repo"})
	require.Error(t, err)
	assert.Len(t, mock.Calls, 3)
	// Two waits between three attempts: 5s then 10s.
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, *slept)
}

func TestExecuteTask_HonorsResetHint(t *testing.T) {
	t.Parallel()

	mock := &MockClient{}
	calls := 0
	mock.ExecuteFunc = func(ctx context.Context, opts Options) (*Result, error) {
		calls++
		if calls == 1 {
			return &Result{Error: "rate limit exceeded, retry after 42s"}, nil
		}
		return &Result{Success: true}, nil
	}
	d, slept := newTestDispatcher(t, mock)

	_, err := d.ExecuteTask(context.Background(), Options{Prompt: "p", WorkDir: "/repo"})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{42 * time.Second}, *slept)
}

func TestExecuteTask_FullyThrottledRingGivesUp(t *testing.T) {
	t.Parallel()

	mock := &MockClient{
		ExecuteFunc: func(ctx context.Context, opts Options) (*Result, error) {
			return &Result{Error: "rate limit"}, nil
		},
	}
	d, _ := newTestDispatcher(t, mock)

	_, err := d.ExecuteTask(context.Background(), Options{Prompt: "p", WorkDir: "/repo"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited on every credential")
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 5*time.Second, backoffDelay(1))
	assert.Equal(t, 10*time.Second, backoffDelay(2))
	assert.Equal(t, 20*time.Second, backoffDelay(3))
	assert.Equal(t, 30*time.Second, backoffDelay(4))
	assert.Equal(t, 30*time.Second, backoffDelay(10))
}

func TestHintedWait(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 42*time.Second, hintedWait("retry after 42s"))
	assert.Equal(t, 10*time.Second, hintedWait("Retry-After: 10"))
	assert.Equal(t, maxHintWait, hintedWait("retry after 9999"))
	assert.Equal(t, time.Duration(0), hintedWait("no hint here"))
}

func TestResumeSession_PassesSessionID(t *testing.T) {
	t.Parallel()

	mock := &MockClient{}
	d, _ := newTestDispatcher(t, mock)

	_, err := d.ResumeSession(context.Background(), "sess-9", "fix the nit", "/repo")
	require.NoError(t, err)
	require.Len(t, mock.Calls, 1)
	assert.Equal(t, "sess-9", mock.Calls[0].SessionID)
	assert.Equal(t, "fix the nit", mock.Calls[0].Prompt)
}

func TestGenerateChangesSummary(t *testing.T) {
	t.Parallel()

	mock := &MockClient{
		ExecuteFunc: func(ctx context.Context, opts Options) (*Result, error) {
			return &Result{Success: true, Output: "- added handler\n- wired routes\n"}, nil
		},
	}
	d, _ := newTestDispatcher(t, mock)

	summary, err := d.GenerateChangesSummary(context.Background(), "sess-9", "/repo", []string{"api/server.go"})
	require.NoError(t, err)
	assert.Equal(t, "- added handler\n- wired routes", summary)
	assert.Contains(t, mock.Calls[0].Prompt, "api/server.go")
}
