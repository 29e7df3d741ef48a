// Package llm dispatches prompts to the coding agent CLI, rotating through
// a ring of provider credentials when the provider throttles.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/coderelay/cco/internal/logging"
)

var logger = logging.New("llm")

var (
	// ErrEmptyPrompt indicates Execute was called without a prompt.
	ErrEmptyPrompt = errors.New("prompt cannot be empty")

	// ErrEmptyWorkDir indicates Execute was called without a working directory.
	ErrEmptyWorkDir = errors.New("working directory cannot be empty")
)

// defaultTools is the tool set granted to worker agents.
var defaultTools = []string{"Read", "Write", "Edit", "Bash", "Glob", "Grep"}

// Options configures one agent invocation.
type Options struct {
	Prompt       string
	WorkDir      string
	Credential   Credential
	SessionID    string // resume an earlier session when non-empty
	MaxTurns     int
	Timeout      time.Duration
	AllowedTools []string // nil means defaultTools
}

// Result is the telemetry from one agent invocation.
type Result struct {
	Success      bool
	Output       string
	SessionID    string
	InputTokens  int
	OutputTokens int
	DurationMs   int64
	Error        string
}

// Client runs one agent invocation. Implemented by CLIClient; tests use
// MockClient.
type Client interface {
	Execute(ctx context.Context, opts Options) (*Result, error)
}

// CLIClient invokes the claude CLI as a subprocess.
type CLIClient struct {
	binary string
}

// NewCLIClient uses the claude binary from PATH.
func NewCLIClient() *CLIClient {
	return &CLIClient{binary: "claude"}
}

// NewCLIClientWithBinary uses a custom binary path.
func NewCLIClientWithBinary(binary string) *CLIClient {
	return &CLIClient{binary: binary}
}

// cliResult is the claude CLI's JSON result envelope.
type cliResult struct {
	Type       string `json:"type"`
	Subtype    string `json:"subtype"`
	IsError    bool   `json:"is_error"`
	Result     string `json:"result"`
	SessionID  string `json:"session_id"`
	DurationMs int64  `json:"duration_ms"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Execute runs the agent once with the given credential. A non-zero exit
// or an error envelope yields a Result with Success=false and the error
// text captured; the error return is reserved for invocation problems.
func (c *CLIClient) Execute(ctx context.Context, opts Options) (*Result, error) {
	if opts.Prompt == "" {
		return nil, ErrEmptyPrompt
	}
	if opts.WorkDir == "" {
		return nil, ErrEmptyWorkDir
	}

	cmdCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		cmdCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	args := c.buildArgs(opts)
	cmd := exec.CommandContext(cmdCtx, c.binary, args...)
	cmd.Dir = opts.WorkDir
	cmd.Env = append(os.Environ(), opts.Credential.Environ()...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start).Milliseconds()

	if cmdCtx.Err() == context.DeadlineExceeded {
		return &Result{
			Output:     stdout.String(),
			DurationMs: elapsed,
			Error:      fmt.Sprintf("agent timed out after %s", opts.Timeout),
		}, nil
	}

	res := parseCLIOutput(stdout.Bytes())
	if res.DurationMs == 0 {
		res.DurationMs = elapsed
	}

	if runErr != nil {
		res.Success = false
		if res.Error == "" {
			res.Error = strings.TrimSpace(stderr.String())
		}
		if res.Error == "" {
			res.Error = runErr.Error()
		}
		return res, nil
	}
	return res, nil
}

func (c *CLIClient) buildArgs(opts Options) []string {
	args := []string{
		"--dangerously-skip-permissions",
		"--output-format", "json",
	}
	if opts.SessionID != "" {
		args = append(args, "--resume", opts.SessionID)
	}
	if opts.MaxTurns > 0 {
		args = append(args, "--max-turns", fmt.Sprintf("%d", opts.MaxTurns))
	}
	tools := opts.AllowedTools
	if tools == nil {
		tools = defaultTools
	}
	args = append(args, "--allowedTools", strings.Join(tools, ","))
	args = append(args, "-p", opts.Prompt)
	return args
}

// parseCLIOutput decodes the CLI's JSON envelope, degrading to the raw
// output when the envelope is absent or malformed.
func parseCLIOutput(out []byte) *Result {
	var env cliResult
	if err := json.Unmarshal(out, &env); err == nil && env.Type == "result" {
		return &Result{
			Success:      !env.IsError && env.Subtype == "success",
			Output:       env.Result,
			SessionID:    env.SessionID,
			InputTokens:  env.Usage.InputTokens,
			OutputTokens: env.Usage.OutputTokens,
			DurationMs:   env.DurationMs,
			Error:        errorText(env),
		}
	}
	return &Result{Success: true, Output: strings.TrimSpace(string(out))}
}

func errorText(env cliResult) string {
	if !env.IsError && env.Subtype == "success" {
		return ""
	}
	if env.Result != "" {
		return env.Result
	}
	return "agent reported " + env.Subtype
}

// MockClient is a test double.
type MockClient struct {
	ExecuteFunc func(ctx context.Context, opts Options) (*Result, error)
	Calls       []Options
}

func (m *MockClient) Execute(ctx context.Context, opts Options) (*Result, error) {
	m.Calls = append(m.Calls, opts)
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, opts)
	}
	return &Result{Success: true, Output: "ok"}, nil
}
