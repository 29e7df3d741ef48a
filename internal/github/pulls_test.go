package github

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreatePullRequest_ReturnsExisting(t *testing.T) {
	t.Parallel()

	var created atomic.Int32
	mux := newTestMux()
	mux.HandleFunc("GET /repos/octo/widgets/pulls", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "octo:cco/1-x-em1-w1", r.URL.Query().Get("head"))
		writeJSON(t, w, http.StatusOK, []PullRequest{{Number: 101, State: "open"}})
	})
	mux.HandleFunc("POST /repos/octo/widgets/pulls", func(w http.ResponseWriter, r *http.Request) {
		created.Add(1)
		writeJSON(t, w, http.StatusCreated, PullRequest{Number: 999})
	})

	c, _ := newTestClient(t, mux)
	pr, err := c.CreatePullRequest(context.Background(), "cco/1-x-em1-w1", "cco/1-x-em1", "title", "body")
	require.NoError(t, err)
	assert.Equal(t, 101, pr.Number)
	assert.Equal(t, int32(0), created.Load(), "existing PR must short-circuit creation")
}

func TestCreatePullRequest_RecoversFromCreationRace(t *testing.T) {
	t.Parallel()

	var finds atomic.Int32
	mux := newTestMux()
	mux.HandleFunc("GET /repos/octo/widgets/pulls", func(w http.ResponseWriter, r *http.Request) {
		if finds.Add(1) == 1 {
			writeJSON(t, w, http.StatusOK, []PullRequest{})
			return
		}
		writeJSON(t, w, http.StatusOK, []PullRequest{{Number: 101, State: "open"}})
	})
	mux.HandleFunc("POST /repos/octo/widgets/pulls", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Validation Failed","errors":[{"message":"A pull request already exists for octo:cco/1-x-em1-w1."}]}`,
			http.StatusUnprocessableEntity)
	})

	c, _ := newTestClient(t, mux)
	pr, err := c.CreatePullRequest(context.Background(), "cco/1-x-em1-w1", "cco/1-x-em1", "title", "body")
	require.NoError(t, err)
	assert.Equal(t, 101, pr.Number)
}

func TestCreatePullRequest_CreatesWhenNoneOpen(t *testing.T) {
	t.Parallel()

	mux := newTestMux()
	mux.HandleFunc("GET /repos/octo/widgets/pulls", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, []PullRequest{})
	})
	mux.HandleFunc("POST /repos/octo/widgets/pulls", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "cco/1-x-em1", req["base"])
		writeJSON(t, w, http.StatusCreated, PullRequest{Number: 42, HTMLURL: "https://github.com/octo/widgets/pull/42"})
	})

	c, _ := newTestClient(t, mux)
	pr, err := c.CreatePullRequest(context.Background(), "cco/1-x-em1-w1", "cco/1-x-em1", "title", "body")
	require.NoError(t, err)
	assert.Equal(t, 42, pr.Number)
}

func TestMergePullRequest_Success(t *testing.T) {
	t.Parallel()

	mux := newTestMux()
	mux.HandleFunc("PUT /repos/octo/widgets/pulls/7/merge", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "squash", req["merge_method"])
		writeJSON(t, w, http.StatusOK, MergeResult{SHA: "abc123", Merged: true})
	})

	c, _ := newTestClient(t, mux)
	res, err := c.MergePullRequest(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, res.Merged)
	assert.Equal(t, "abc123", res.SHA)
}

func TestMergePullRequest_Classification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		status     int
		message    string
		prState    string
		prMerged   bool
		wantReason MergeReason
	}{
		{
			name:       "head modified",
			status:     http.StatusConflict,
			message:    "Head branch was modified. Review and try the merge again.",
			wantReason: MergeHeadModified,
		},
		{
			name:       "base modified",
			status:     http.StatusConflict,
			message:    "Base branch was modified. Review and try the merge again.",
			wantReason: MergeBaseModified,
		},
		{
			name:       "failing status checks",
			status:     http.StatusMethodNotAllowed,
			message:    "Required status check \"ci\" is expected.",
			wantReason: MergeFailingStatus,
		},
		{
			name:       "already merged",
			status:     http.StatusMethodNotAllowed,
			message:    "Pull Request is not mergeable",
			prState:    "closed",
			prMerged:   true,
			wantReason: MergeAlreadyMerged,
		},
		{
			name:       "closed without merging",
			status:     http.StatusMethodNotAllowed,
			message:    "Pull Request is not mergeable",
			prState:    "closed",
			wantReason: MergeClosedNotMerged,
		},
		{
			name:       "dirty mergeable state",
			status:     http.StatusMethodNotAllowed,
			message:    "Pull Request is not mergeable",
			prState:    "open",
			wantReason: MergeNotMergeable,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mux := newTestMux()
			mux.HandleFunc("PUT /repos/octo/widgets/pulls/7/merge", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(t, w, tt.status, map[string]string{"message": tt.message})
			})
			mux.HandleFunc("GET /repos/octo/widgets/pulls/7", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(t, w, http.StatusOK, PullRequest{Number: 7, State: tt.prState, Merged: tt.prMerged})
			})

			c, _ := newTestClient(t, mux)
			_, err := c.MergePullRequest(context.Background(), 7)
			var mergeErr *MergeError
			require.ErrorAs(t, err, &mergeErr)
			assert.Equal(t, tt.wantReason, mergeErr.Reason)
			assert.Equal(t, 7, mergeErr.Number)
		})
	}
}

func TestUpdatePullRequestBranch_BestEffort(t *testing.T) {
	t.Parallel()

	mux := newTestMux()
	mux.HandleFunc("PUT /repos/octo/widgets/pulls/1/update-branch", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("PUT /repos/octo/widgets/pulls/2/update-branch", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"merge conflict between base and head"}`, http.StatusUnprocessableEntity)
	})

	c, _ := newTestClient(t, mux)
	assert.True(t, c.UpdatePullRequestBranch(context.Background(), 1))
	assert.False(t, c.UpdatePullRequestBranch(context.Background(), 2))
}

func TestCreateBranch_RefExistsIsSuccess(t *testing.T) {
	t.Parallel()

	mux := newTestMux()
	mux.HandleFunc("GET /repos/octo/widgets/git/ref/heads/cco/1-x", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{
			"ref":    "refs/heads/cco/1-x",
			"object": map[string]string{"sha": "abc123"},
		})
	})
	mux.HandleFunc("POST /repos/octo/widgets/git/refs", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Reference already exists"}`, http.StatusUnprocessableEntity)
	})

	c, _ := newTestClient(t, mux)
	assert.NoError(t, c.CreateBranch(context.Background(), "cco/1-x-em1", "cco/1-x"))
}

func TestCreateBranch_CreatesFromHeadSHA(t *testing.T) {
	t.Parallel()

	mux := newTestMux()
	mux.HandleFunc("GET /repos/octo/widgets/git/ref/heads/main", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{
			"object": map[string]string{"sha": "f00ba4"},
		})
	})
	mux.HandleFunc("POST /repos/octo/widgets/git/refs", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "refs/heads/cco/1-x", req["ref"])
		assert.Equal(t, "f00ba4", req["sha"])
		writeJSON(t, w, http.StatusCreated, map[string]string{})
	})

	c, _ := newTestClient(t, mux)
	require.NoError(t, c.CreateBranch(context.Background(), "cco/1-x", "main"))
}
