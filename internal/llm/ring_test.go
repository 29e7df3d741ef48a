package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRing_RejectsEmptyAndAuthless(t *testing.T) {
	t.Parallel()

	_, err := NewRing(nil)
	require.Error(t, err)

	_, err = NewRing([]Credential{{Model: "claude-sonnet-4"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entry 0")
}

func TestRing_RotationWrapsAround(t *testing.T) {
	t.Parallel()

	ring, err := NewRing([]Credential{
		{APIKey: "key-a"},
		{Env: CredentialEnv{APIKey: "key-b"}},
		{Env: CredentialEnv{AuthToken: "tok-c"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "key-a", ring.Current().APIKey)
	assert.Equal(t, "key-b", ring.RotateOnRateLimit().Env.APIKey)
	assert.Equal(t, "tok-c", ring.RotateOnRateLimit().Env.AuthToken)
	assert.Equal(t, "key-a", ring.RotateOnRateLimit().APIKey)
}

func TestParseRing(t *testing.T) {
	t.Parallel()

	ring, err := ParseRing(`[{"apiKey":"k1"},{"env":{"authToken":"t2"},"model":"claude-opus-4","baseUrl":"https://proxy.example.com"}]`)
	require.NoError(t, err)
	assert.Equal(t, 2, ring.Len())

	second := ring.RotateOnRateLimit()
	assert.Equal(t, "claude-opus-4", second.Model)

	_, err = ParseRing(`not json`)
	require.Error(t, err)
}

func TestCredential_Environ(t *testing.T) {
	t.Parallel()

	env := Credential{APIKey: "k", Model: "m", BaseURL: "https://b"}.Environ()
	assert.Contains(t, env, "ANTHROPIC_API_KEY=k")
	assert.Contains(t, env, "ANTHROPIC_MODEL=m")
	assert.Contains(t, env, "ANTHROPIC_BASE_URL=https://b")

	env = Credential{Env: CredentialEnv{AuthToken: "t"}}.Environ()
	assert.Contains(t, env, "ANTHROPIC_AUTH_TOKEN=t")
	assert.NotContains(t, env, "ANTHROPIC_API_KEY=")
}

func TestIsRateLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		msg  string
		want bool
	}{
		{"Error: rate limit exceeded", true},
		{"rate_limit_error from provider", true},
		{"HTTP 429 Too Many Requests", true},
		{"RATE-LIMIT hit, slow down", true},
		{"RateLimit: please retry", true},
		{"connection reset by peer", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRateLimit(tt.msg), "msg %q", tt.msg)
	}
}

func TestIsNonRetryable(t *testing.T) {
	t.Parallel()

	assert.True(t, IsNonRetryable("invalid_api_key"))
	assert.True(t, IsNonRetryable("Authentication failed"))
	assert.True(t, IsNonRetryable("permission denied for model"))
	assert.False(t, IsNonRetryable("rate limit exceeded"))
	assert.False(t, IsNonRetryable("transient network failure"))
}
