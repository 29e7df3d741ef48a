package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIssue() IssueRef {
	return IssueRef{
		Owner:  "octo",
		Repo:   "widgets",
		Number: 1,
		Title:  "Build a REST API",
		Body:   "We need endpoints.",
	}
}

func testConfig() Config {
	return Config{MaxEMs: 3, MaxWorkersPerEM: 3, ReviewWaitMinutes: 5, PRLabel: "cco"}
}

func TestIssueRef_Validate(t *testing.T) {
	t.Parallel()

	issue := testIssue()
	assert.NoError(t, issue.Validate())

	empty := issue
	empty.Body = ""
	assert.NoError(t, empty.Validate(), "empty body with non-empty title is accepted")

	noTitle := issue
	noTitle.Title = ""
	assert.Error(t, noTitle.Validate())

	badNumber := issue
	badNumber.Number = 0
	assert.Error(t, badNumber.Validate())
}

func TestPhaseOrdering(t *testing.T) {
	t.Parallel()

	order := []Phase{
		PhaseInitialized, PhaseAnalyzing, PhaseEMAssignment,
		PhaseWorkerExecution, PhaseWorkerReview, PhaseEMMerging,
		PhaseEMReview, PhaseFinalMerge, PhaseFinalReview, PhaseComplete,
	}
	for i := 1; i < len(order); i++ {
		assert.Greater(t, order[i].Rank(), order[i-1].Rank(),
			"%s must rank above %s", order[i], order[i-1])
	}
	assert.Equal(t, -1, Phase("bogus").Rank())
	assert.True(t, PhaseComplete.Terminal())
	assert.True(t, PhaseFailed.Terminal())
	assert.False(t, PhaseAnalyzing.Terminal())
}

func TestWorkerStatus_Predicates(t *testing.T) {
	t.Parallel()

	assert.True(t, WorkerMerged.Settled())
	assert.True(t, WorkerApproved.Settled())
	assert.True(t, WorkerSkipped.Settled())
	assert.False(t, WorkerPRCreated.Settled())
	assert.False(t, WorkerFailed.Settled())

	assert.True(t, WorkerPending.Active())
	assert.True(t, WorkerChangesRequested.Active())
	assert.False(t, WorkerMerged.Active())
	assert.False(t, WorkerFailed.Active())
}

func TestSerialization_RoundTrip(t *testing.T) {
	t.Parallel()

	s := New(testIssue(), "cco/1-build-a-rest-api", "main", testConfig())
	s.Phase = PhaseWorkerExecution
	s.AnalysisSummary = "two slices"
	s.EMs = []EMRecord{
		{
			ID: 1, Task: "Core", FocusArea: "api",
			Branch: "cco/1-build-a-rest-api-em1",
			Status: EMWorkersRunning,
			Workers: []WorkerRecord{
				{
					ID: 1, Task: "handlers", Files: []string{"api/server.go"},
					Branch: "cco/1-build-a-rest-api-em1-w1",
					Status: WorkerPRCreated, PRNumber: 101,
					ReviewsAddressed: 1,
					UpdatedAt:        time.Now().UTC().Truncate(time.Second),
				},
			},
			UpdatedAt: time.Now().UTC().Truncate(time.Second),
		},
	}
	s.RecordError("transient push failure")

	data, err := s.Marshal()
	require.NoError(t, err)
	assert.Equal(t, byte('\n'), data[len(data)-1], "document ends with a newline")

	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestUnmarshal_RejectsWrongVersion(t *testing.T) {
	t.Parallel()

	_, err := Unmarshal([]byte(`{"version": 2}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version")
}

func TestUnmarshal_RejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := Unmarshal([]byte("not json"))
	assert.Error(t, err)
}

func TestEMRecord_WorkersSettled(t *testing.T) {
	t.Parallel()

	em := EMRecord{}
	assert.False(t, em.WorkersSettled(), "no workers means not settled")

	em.Workers = []WorkerRecord{
		{ID: 1, Status: WorkerMerged},
		{ID: 2, Status: WorkerSkipped},
		{ID: 3, Status: WorkerApproved},
	}
	assert.True(t, em.WorkersSettled())

	em.Workers[1].Status = WorkerInProgress
	assert.False(t, em.WorkersSettled())
}

func TestFail_SetsErrorAndPhase(t *testing.T) {
	t.Parallel()

	s := New(testIssue(), "cco/1-build-a-rest-api", "main", testConfig())
	s.Fail("closed-not-merged: EM PR #7")

	assert.Equal(t, PhaseFailed, s.Phase)
	assert.NotEmpty(t, s.Error)
	require.Len(t, s.Errors, 1)
	assert.Equal(t, "closed-not-merged: EM PR #7", s.Errors[0].Message)
}

func TestAllEMsMerged(t *testing.T) {
	t.Parallel()

	s := New(testIssue(), "cco/1-build-a-rest-api", "main", testConfig())
	assert.False(t, s.AllEMsMerged())

	s.EMs = []EMRecord{{ID: 1, Status: EMMerged}, {ID: 2, Status: EMSkipped}}
	assert.True(t, s.AllEMsMerged())

	s.EMs[1].Status = EMPRCreated
	assert.False(t, s.AllEMsMerged())
}
