// Package state defines the persistent orchestration state document, its
// lifecycle orderings, and the deterministic merge used by concurrent
// writers. The document lives at a fixed path on the work branch and is the
// only shared mutable object in the system.
package state

import (
	"encoding/json"
	"fmt"
	"time"
)

// Version is the current schema version of the state document.
const Version = 1

// FilePath is where the document lives inside the work branch.
const FilePath = ".orchestrator/state.json"

// Phase is the orchestration lifecycle phase. Advances are monotonic except
// that PhaseFailed is reachable from any non-terminal phase.
type Phase string

const (
	PhaseInitialized     Phase = "initialized"
	PhaseAnalyzing       Phase = "analyzing"
	PhaseEMAssignment    Phase = "em_assignment"
	PhaseWorkerExecution Phase = "worker_execution"
	PhaseWorkerReview    Phase = "worker_review"
	PhaseEMMerging       Phase = "em_merging"
	PhaseEMReview        Phase = "em_review"
	PhaseFinalMerge      Phase = "final_merge"
	PhaseFinalReview     Phase = "final_review"
	PhaseComplete        Phase = "complete"
	PhaseFailed          Phase = "failed"
)

var phaseRank = map[Phase]int{
	PhaseInitialized:     0,
	PhaseAnalyzing:       1,
	PhaseEMAssignment:    2,
	PhaseWorkerExecution: 3,
	PhaseWorkerReview:    4,
	PhaseEMMerging:       5,
	PhaseEMReview:        6,
	PhaseFinalMerge:      7,
	PhaseFinalReview:     8,
	PhaseComplete:        9,
	PhaseFailed:          10,
}

// Rank returns the phase's position in the lifecycle ordering. Unknown
// phases rank below initialized so corrupt documents never win a merge.
func (p Phase) Rank() int {
	r, ok := phaseRank[p]
	if !ok {
		return -1
	}
	return r
}

// Terminal reports whether the phase accepts no further transitions.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseFailed
}

// WorkerStatus is a worker record's lifecycle status.
type WorkerStatus string

const (
	WorkerPending          WorkerStatus = "pending"
	WorkerInProgress       WorkerStatus = "in_progress"
	WorkerPRCreated        WorkerStatus = "pr_created"
	WorkerChangesRequested WorkerStatus = "changes_requested"
	WorkerApproved         WorkerStatus = "approved"
	WorkerMerged           WorkerStatus = "merged"
	WorkerSkipped          WorkerStatus = "skipped"
	WorkerFailed           WorkerStatus = "failed"
)

var workerStatusRank = map[WorkerStatus]int{
	WorkerPending:          0,
	WorkerInProgress:       1,
	WorkerPRCreated:        2,
	WorkerChangesRequested: 3,
	WorkerApproved:         4,
	WorkerSkipped:          5,
	WorkerMerged:           6,
	WorkerFailed:           7,
}

// Rank returns the status's position in the worker status ordering.
func (s WorkerStatus) Rank() int {
	r, ok := workerStatusRank[s]
	if !ok {
		return -1
	}
	return r
}

// Settled reports whether the worker needs no further work from its EM:
// merged and approved workers are collected into the EM PR, skipped workers
// produced no changes.
func (s WorkerStatus) Settled() bool {
	return s == WorkerMerged || s == WorkerApproved || s == WorkerSkipped
}

// Active reports whether the worker still has outstanding work.
func (s WorkerStatus) Active() bool {
	switch s {
	case WorkerPending, WorkerInProgress, WorkerPRCreated, WorkerChangesRequested:
		return true
	}
	return false
}

// EMStatus is an engineering manager record's lifecycle status.
type EMStatus string

const (
	EMPending          EMStatus = "pending"
	EMWorkersRunning   EMStatus = "workers_running"
	EMWorkersComplete  EMStatus = "workers_complete"
	EMPRCreated        EMStatus = "pr_created"
	EMChangesRequested EMStatus = "changes_requested"
	EMApproved         EMStatus = "approved"
	EMMerged           EMStatus = "merged"
	EMSkipped          EMStatus = "skipped"
	EMFailed           EMStatus = "failed"
)

var emStatusRank = map[EMStatus]int{
	EMPending:          0,
	EMWorkersRunning:   1,
	EMWorkersComplete:  2,
	EMPRCreated:        3,
	EMChangesRequested: 4,
	EMApproved:         5,
	EMSkipped:          6,
	EMMerged:           7,
	EMFailed:           8,
}

// Rank returns the status's position in the EM status ordering.
func (s EMStatus) Rank() int {
	r, ok := emStatusRank[s]
	if !ok {
		return -1
	}
	return r
}

// IssueRef captures the source issue. Immutable after capture.
type IssueRef struct {
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

// Validate rejects issues the orchestrator cannot work with. An empty body
// is accepted; an empty title is not, because the slug and all PR titles
// derive from it.
func (r IssueRef) Validate() error {
	if r.Owner == "" || r.Repo == "" {
		return fmt.Errorf("issue reference missing owner/repo")
	}
	if r.Number <= 0 {
		return fmt.Errorf("issue number must be positive, got %d", r.Number)
	}
	if r.Title == "" {
		return fmt.Errorf("issue #%d has an empty title", r.Number)
	}
	return nil
}

// WorkerRecord tracks one leaf code-edit task. IDs are 1-based within the EM.
type WorkerRecord struct {
	ID               int          `json:"id"`
	Task             string       `json:"task"`
	Files            []string     `json:"files,omitempty"` // advisory scope
	Branch           string       `json:"branch"`
	Status           WorkerStatus `json:"status"`
	PRNumber         int          `json:"prNumber,omitempty"`
	PRURL            string       `json:"prUrl,omitempty"`
	ReviewsAddressed int          `json:"reviewsAddressed"`
	SessionID        string       `json:"sessionId,omitempty"`
	Error            string       `json:"error,omitempty"`
	StartedAt        time.Time    `json:"startedAt,omitempty"`
	UpdatedAt        time.Time    `json:"updatedAt"`
	CompletedAt      time.Time    `json:"completedAt,omitempty"`
}

// EMRecord tracks one engineering manager slice and its workers.
type EMRecord struct {
	ID          int            `json:"id"`
	Task        string         `json:"task"`
	FocusArea   string         `json:"focusArea,omitempty"`
	Branch      string         `json:"branch"`
	Status      EMStatus       `json:"status"`
	Workers     []WorkerRecord `json:"workers,omitempty"`
	PRNumber    int            `json:"prNumber,omitempty"`
	PRURL       string         `json:"prUrl,omitempty"`
	StartedAt   time.Time      `json:"startedAt,omitempty"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	CompletedAt time.Time      `json:"completedAt,omitempty"`
}

// Worker returns the worker record with the given id, or nil.
func (em *EMRecord) Worker(id int) *WorkerRecord {
	for i := range em.Workers {
		if em.Workers[i].ID == id {
			return &em.Workers[i]
		}
	}
	return nil
}

// WorkersSettled reports whether every worker has reached a settled status.
// Skipped workers count toward completion immediately.
func (em *EMRecord) WorkersSettled() bool {
	if len(em.Workers) == 0 {
		return false
	}
	for i := range em.Workers {
		if !em.Workers[i].Status.Settled() {
			return false
		}
	}
	return true
}

// FinalPR records the top-level PR from the work branch to the base branch.
type FinalPR struct {
	Number int    `json:"number"`
	URL    string `json:"url,omitempty"`
}

// Config holds the per-orchestration limits captured at creation time.
type Config struct {
	MaxEMs            int    `json:"maxEms"`
	MaxWorkersPerEM   int    `json:"maxWorkersPerEm"`
	ReviewWaitMinutes int    `json:"reviewWaitMinutes"`
	PRLabel           string `json:"prLabel"`
}

// ErrorEntry is one entry in the orchestration's error history. Entries are
// merged by set-union keyed on (Timestamp, Message).
type ErrorEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// OrchestrationState is the root state document, one per issue.
type OrchestrationState struct {
	Version         int          `json:"version"`
	Issue           IssueRef     `json:"issue"`
	Repo            string       `json:"repo"`
	Phase           Phase        `json:"phase"`
	WorkBranch      string       `json:"workBranch"`
	BaseBranch      string       `json:"baseBranch"`
	EMs             []EMRecord   `json:"ems,omitempty"`
	FinalPR         *FinalPR     `json:"finalPr,omitempty"`
	Config          Config       `json:"config"`
	AnalysisSummary string       `json:"analysisSummary,omitempty"`
	Error           string       `json:"error,omitempty"`
	Errors          []ErrorEntry `json:"errors,omitempty"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

// New creates the initial state document for an issue.
func New(issue IssueRef, workBranch, baseBranch string, cfg Config) *OrchestrationState {
	now := time.Now().UTC()
	return &OrchestrationState{
		Version:    Version,
		Issue:      issue,
		Repo:       issue.Owner + "/" + issue.Repo,
		Phase:      PhaseInitialized,
		WorkBranch: workBranch,
		BaseBranch: baseBranch,
		Config:     cfg,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// EM returns the EM record with the given id, or nil.
func (s *OrchestrationState) EM(id int) *EMRecord {
	for i := range s.EMs {
		if s.EMs[i].ID == id {
			return &s.EMs[i]
		}
	}
	return nil
}

// AllEMsMerged reports whether every EM has reached merged (or skipped).
func (s *OrchestrationState) AllEMsMerged() bool {
	if len(s.EMs) == 0 {
		return false
	}
	for i := range s.EMs {
		st := s.EMs[i].Status
		if st != EMMerged && st != EMSkipped {
			return false
		}
	}
	return true
}

// RecordError appends to the error history and sets the latest error string.
func (s *OrchestrationState) RecordError(msg string) {
	now := time.Now().UTC()
	s.Error = msg
	s.Errors = append(s.Errors, ErrorEntry{Timestamp: now, Message: msg})
	s.UpdatedAt = now
}

// Fail moves the orchestration to the failed sink with the given reason.
func (s *OrchestrationState) Fail(msg string) {
	s.RecordError(msg)
	s.Phase = PhaseFailed
}

// Touch bumps the root document's UpdatedAt.
func (s *OrchestrationState) Touch() {
	s.UpdatedAt = time.Now().UTC()
}

// Marshal serializes the document as pretty-printed UTF-8 JSON, the format
// stored on the work branch.
func (s *OrchestrationState) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	return append(data, '\n'), nil
}

// Unmarshal parses a state document and checks the schema version.
func Unmarshal(data []byte) (*OrchestrationState, error) {
	var s OrchestrationState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse state document: %w", err)
	}
	if s.Version != Version {
		return nil, fmt.Errorf("unsupported state version %d (want %d)", s.Version, Version)
	}
	return &s, nil
}
