package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCLIOutput_ResultEnvelope(t *testing.T) {
	t.Parallel()

	out := []byte(`{
		"type": "result",
		"subtype": "success",
		"is_error": false,
		"result": "I created the handler.",
		"session_id": "sess-123",
		"duration_ms": 5400,
		"usage": {"input_tokens": 1200, "output_tokens": 340}
	}`)

	res := parseCLIOutput(out)
	assert.True(t, res.Success)
	assert.Equal(t, "I created the handler.", res.Output)
	assert.Equal(t, "sess-123", res.SessionID)
	assert.Equal(t, 1200, res.InputTokens)
	assert.Equal(t, 340, res.OutputTokens)
	assert.Equal(t, int64(5400), res.DurationMs)
	assert.Empty(t, res.Error)
}

func TestParseCLIOutput_ErrorEnvelope(t *testing.T) {
	t.Parallel()

	out := []byte(`{"type":"result","subtype":"error_during_execution","is_error":true,"result":"rate limit exceeded","session_id":"s"}`)
	res := parseCLIOutput(out)
	assert.False(t, res.Success)
	assert.Equal(t, "rate limit exceeded", res.Error)
}

func TestParseCLIOutput_PlainText(t *testing.T) {
	t.Parallel()

	res := parseCLIOutput([]byte("just some text\n"))
	assert.True(t, res.Success)
	assert.Equal(t, "just some text", res.Output)
}

func TestBuildArgs(t *testing.T) {
	t.Parallel()

	c := NewCLIClient()
	args := c.buildArgs(Options{
		Prompt:    "implement the thing",
		SessionID: "sess-1",
		MaxTurns:  20,
	})

	assert.Contains(t, args, "--dangerously-skip-permissions")
	assert.Contains(t, args, "--resume")
	assert.Contains(t, args, "sess-1")
	assert.Contains(t, args, "--max-turns")
	assert.Contains(t, args, "20")
	assert.Contains(t, args, "Read,Write,Edit,Bash,Glob,Grep")
	assert.Equal(t, "implement the thing", args[len(args)-1])
}

func TestExecute_ValidatesInputs(t *testing.T) {
	t.Parallel()

	c := NewCLIClient()
	_, err := c.Execute(context.Background(), Options{WorkDir: "/repo"})
	require.ErrorIs(t, err, ErrEmptyPrompt)

	_, err = c.Execute(context.Background(), Options{Prompt: "p"})
	require.ErrorIs(t, err, ErrEmptyWorkDir)
}
