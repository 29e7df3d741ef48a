package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// rateLimitPatterns are matched case-insensitively against agent error
// output to detect provider throttling.
var rateLimitPatterns = []string{
	"rate limit",
	"rate_limit",
	"rate-limit",
	"ratelimit",
	"429",
	"too many requests",
}

// nonRetryablePatterns identify failures no amount of retrying or
// credential rotation can fix.
var nonRetryablePatterns = []string{
	"invalid_api_key",
	"authentication",
	"permission denied",
}

// IsRateLimit reports whether the message carries a rate-limit signature.
func IsRateLimit(msg string) bool {
	lower := strings.ToLower(msg)
	for _, p := range rateLimitPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// IsNonRetryable reports whether the message indicates a permanent failure.
func IsNonRetryable(msg string) bool {
	lower := strings.ToLower(msg)
	for _, p := range nonRetryablePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// CredentialEnv is auth material delivered through environment variables.
type CredentialEnv struct {
	APIKey    string `json:"apiKey,omitempty"`
	AuthToken string `json:"authToken,omitempty"`
}

// Credential is one provider credential in the ring.
type Credential struct {
	APIKey  string        `json:"apiKey,omitempty"`
	Env     CredentialEnv `json:"env,omitempty"`
	Model   string        `json:"model,omitempty"`
	BaseURL string        `json:"baseUrl,omitempty"`
}

// hasAuth reports whether the credential carries any auth material.
func (c Credential) hasAuth() bool {
	return c.APIKey != "" || c.Env.APIKey != "" || c.Env.AuthToken != ""
}

// Environ returns the environment variables that activate this credential
// for the agent subprocess.
func (c Credential) Environ() []string {
	var env []string
	switch {
	case c.APIKey != "":
		env = append(env, "ANTHROPIC_API_KEY="+c.APIKey)
	case c.Env.APIKey != "":
		env = append(env, "ANTHROPIC_API_KEY="+c.Env.APIKey)
	case c.Env.AuthToken != "":
		env = append(env, "ANTHROPIC_AUTH_TOKEN="+c.Env.AuthToken)
	}
	if c.BaseURL != "" {
		env = append(env, "ANTHROPIC_BASE_URL="+c.BaseURL)
	}
	if c.Model != "" {
		env = append(env, "ANTHROPIC_MODEL="+c.Model)
	}
	return env
}

// Ring is an ordered set of credentials with a rotation cursor. Rotation
// happens on rate-limit detection; all other failures stay on the current
// credential.
type Ring struct {
	mu     sync.Mutex
	creds  []Credential
	cursor int
}

// NewRing validates and builds a ring. At least one credential with auth
// material is required.
func NewRing(creds []Credential) (*Ring, error) {
	if len(creds) == 0 {
		return nil, fmt.Errorf("credential ring: no credentials configured")
	}
	for i, c := range creds {
		if !c.hasAuth() {
			return nil, fmt.Errorf("credential ring: entry %d has no apiKey, env.apiKey, or env.authToken", i)
		}
	}
	return &Ring{creds: creds}, nil
}

// ParseRing builds a ring from the JSON credential array carried in
// configuration.
func ParseRing(raw string) (*Ring, error) {
	var creds []Credential
	if err := json.Unmarshal([]byte(raw), &creds); err != nil {
		return nil, fmt.Errorf("credential ring: parse config: %w", err)
	}
	return NewRing(creds)
}

// Current returns the credential at the cursor.
func (r *Ring) Current() Credential {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.creds[r.cursor]
}

// RotateOnRateLimit advances the cursor modulo ring length and returns the
// new credential.
func (r *Ring) RotateOnRateLimit() Credential {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursor = (r.cursor + 1) % len(r.creds)
	return r.creds[r.cursor]
}

// Len returns the number of credentials.
func (r *Ring) Len() int { return len(r.creds) }
