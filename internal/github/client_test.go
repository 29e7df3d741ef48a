package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient wires a Client against an httptest server with an
// effectively instant retry policy.
func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c := &Client{
		httpClient: server.Client(),
		baseURL:    server.URL,
		owner:      "octo",
		repo:       "widgets",
		token:      "test-token",
		retryPolicy: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 4)
		},
	}
	return c, server
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func TestDoRequest_SetsAuthHeaders(t *testing.T) {
	t.Parallel()

	var gotAuth, gotAccept string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		w.Write([]byte(`{}`))
	}))

	err := c.doJSON(context.Background(), http.MethodGet, c.repoURL("/pulls/1"), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, "application/vnd.github+json", gotAccept)
}

func TestDoJSON_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, `{"message":"Server Error"}`, http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"ok": true}`))
	}))

	var out map[string]bool
	err := c.doJSON(context.Background(), http.MethodGet, c.baseURL+"/x", nil, &out)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.True(t, out["ok"])
}

func TestDoJSON_DoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"message":"Validation Failed"}`, http.StatusUnprocessableEntity)
	}))

	err := c.doJSON(context.Background(), http.MethodPost, c.baseURL+"/x", map[string]string{}, nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Equal(t, "Validation Failed", apiErr.Message)
}

func TestDoJSON_RetriesSecondaryRateLimit(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, `{"message":"You have exceeded a secondary rate limit"}`, http.StatusForbidden)
			return
		}
		w.Write([]byte(`{}`))
	}))

	err := c.doJSON(context.Background(), http.MethodGet, c.baseURL+"/x", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDoJSON_PlainForbiddenIsPermanent(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"message":"Resource not accessible by integration"}`, http.StatusForbidden)
	}))

	err := c.doJSON(context.Background(), http.MethodGet, c.baseURL+"/x", nil, nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestIsNotFound(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
	}))

	err := c.doJSON(context.Background(), http.MethodGet, c.baseURL+"/x", nil, nil)
	assert.True(t, IsNotFound(err))
}

func TestAPIMessage_CollectsErrorCodes(t *testing.T) {
	t.Parallel()

	body := []byte(`{"message":"Validation Failed","errors":[{"resource":"Label","code":"already_exists","field":"name"}]}`)
	assert.Equal(t, "Validation Failed; already_exists", apiMessage(body))

	assert.Equal(t, "plain text", apiMessage([]byte("plain text")))
}
