// Package reindex drives background rebuilds of the vector index: job
// state tracking, a bounded job queue, and the depth-first tree walk
// with batched, partial-failure-tolerant document indexing.
package reindex

import (
	"sync"
	"time"
)

// Phase is the lifecycle state of a reindex job.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseRunning   Phase = "running"
	PhaseCompleted Phase = "completed"
	PhaseError     Phase = "error"
	PhaseCancelled Phase = "cancelled"
)

// MaxCapturedErrors bounds the per-run error list. Further errors are
// dropped silently while the error counter keeps the true total.
const MaxCapturedErrors = 100

// TotalUnknown marks a run whose document total has not been counted.
const TotalUnknown = -1

// Snapshot is an immutable view of a job's state, safe to serialize.
type Snapshot struct {
	RepositoryID    string   `json:"repository_id"`
	Phase           Phase    `json:"phase"`
	TotalDocuments  int      `json:"total_documents"`
	IndexedCount    int      `json:"indexed_count"`
	SkippedCount    int      `json:"skipped_count"`
	ErrorCount      int      `json:"error_count"`
	CurrentDocument string   `json:"current_document,omitempty"`
	StartTime       int64    `json:"start_time,omitempty"`
	EndTime         int64    `json:"end_time,omitempty"`
	ErrorMessage    string   `json:"error_message,omitempty"`
	Errors          []string `json:"errors,omitempty"`
}

// JobState tracks one repository's reindex run. It lives for the process
// lifetime and is overwritten at the start of each new run. Safe for
// concurrent status reads while a worker writes.
type JobState struct {
	mu sync.RWMutex

	repositoryID    string
	phase           Phase
	totalDocuments  int
	indexedCount    int
	skippedCount    int
	errorCount      int
	currentDocument string
	startTime       time.Time
	endTime         time.Time
	errorMessage    string
	errors          []string
	cancelled       bool
	busy            bool
}

func newJobState(repositoryID string) *JobState {
	return &JobState{
		repositoryID:   repositoryID,
		phase:          PhaseIdle,
		totalDocuments: TotalUnknown,
	}
}

// tryStart transitions to a fresh running state. Returns false without
// mutating anything if a run is already in progress.
func (s *JobState) tryStart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == PhaseRunning || s.busy {
		return false
	}
	s.phase = PhaseRunning
	s.busy = true
	s.totalDocuments = TotalUnknown
	s.indexedCount = 0
	s.skippedCount = 0
	s.errorCount = 0
	s.currentDocument = ""
	s.startTime = time.Now()
	s.endTime = time.Time{}
	s.errorMessage = ""
	s.errors = nil
	s.cancelled = false
	return true
}

// abort reverts a tryStart that could not be followed by an enqueue.
func (s *JobState) abort() {
	s.mu.Lock()
	if s.phase == PhaseRunning {
		s.phase = PhaseIdle
		s.startTime = time.Time{}
	}
	s.busy = false
	s.mu.Unlock()
}

// release is called by the worker once it has fully drained a run. A
// cancelled job keeps its cancelled status the moment Cancel is called,
// but a new run cannot start until the worker releases the state.
func (s *JobState) release() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

func (s *JobState) setCurrent(name string) {
	s.mu.Lock()
	s.currentDocument = name
	s.mu.Unlock()
}

func (s *JobState) markIndexed() {
	s.mu.Lock()
	s.indexedCount++
	s.mu.Unlock()
}

func (s *JobState) markSkipped() {
	s.mu.Lock()
	s.skippedCount++
	s.mu.Unlock()
}

// markError increments the counter and appends to the capped error list.
func (s *JobState) markError(message string) {
	s.mu.Lock()
	s.errorCount++
	if len(s.errors) < MaxCapturedErrors {
		s.errors = append(s.errors, message)
	}
	s.mu.Unlock()
}

func (s *JobState) setTotal(n int) {
	s.mu.Lock()
	s.totalDocuments = n
	s.mu.Unlock()
}

// complete marks the run finished unless it was already cancelled.
func (s *JobState) complete() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseRunning {
		return
	}
	s.phase = PhaseCompleted
	s.endTime = time.Now()
}

// fail marks the run failed unless it was already cancelled.
func (s *JobState) fail(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseRunning {
		return
	}
	s.phase = PhaseError
	s.errorMessage = message
	s.endTime = time.Now()
}

// requestCancel sets the cancellation flag and immediately moves the job
// to its terminal cancelled state. Returns false if no run is in
// progress. The worker observes the flag at its next checkpoint and
// stops without further phase changes.
func (s *JobState) requestCancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseRunning {
		return false
	}
	s.cancelled = true
	s.phase = PhaseCancelled
	s.endTime = time.Now()
	return true
}

func (s *JobState) isCancelled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cancelled
}

// Snapshot returns a point-in-time copy of the job state.
func (s *JobState) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		RepositoryID:    s.repositoryID,
		Phase:           s.phase,
		TotalDocuments:  s.totalDocuments,
		IndexedCount:    s.indexedCount,
		SkippedCount:    s.skippedCount,
		ErrorCount:      s.errorCount,
		CurrentDocument: s.currentDocument,
		ErrorMessage:    s.errorMessage,
		Errors:          append([]string(nil), s.errors...),
	}
	if !s.startTime.IsZero() {
		snap.StartTime = s.startTime.UnixMilli()
	}
	if !s.endTime.IsZero() {
		snap.EndTime = s.endTime.UnixMilli()
	}
	return snap
}

// Registry holds the per-repository job states, created lazily on first
// access.
type Registry struct {
	mu   sync.Mutex
	jobs map[string]*JobState
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*JobState)}
}

// Get returns the job state for a repository, creating an idle one if
// none exists.
func (r *Registry) Get(repositoryID string) *JobState {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.jobs[repositoryID]
	if !ok {
		s = newJobState(repositoryID)
		r.jobs[repositoryID] = s
	}
	return s
}
