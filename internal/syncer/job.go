package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is a sync job's lifecycle phase.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateStopped   State = "stopped"
)

// ItemError records one failed worklist item.
type ItemError struct {
	Item    string `json:"item"`
	Message string `json:"message"`
}

// Result is the aggregate outcome of a run. Partial failure is data, not
// an error: Succeeded+Failed always equals the number of attempted items.
type Result struct {
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Errors    []ItemError `json:"errors,omitempty"`
}

// Job is one sync run. Created pending, mutated only by the orchestrator
// that runs it, queryable by ID through a Tracker.
type Job struct {
	ID    string
	items []string

	mu         sync.Mutex
	state      State
	processed  int
	succeeded  int
	failed     int
	errors     []ItemError
	startedAt  time.Time
	finishedAt time.Time

	// cancel has its own lock so Cancel can be called from a progress
	// callback, which runs under mu.
	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

// Snapshot is a point-in-time copy of a job's progress.
type Snapshot struct {
	ID         string      `json:"id"`
	State      State       `json:"state"`
	Total      int         `json:"total"`
	Processed  int         `json:"processed"`
	Succeeded  int         `json:"succeeded"`
	Failed     int         `json:"failed"`
	Errors     []ItemError `json:"errors,omitempty"`
	StartedAt  time.Time   `json:"started_at,omitzero"`
	FinishedAt time.Time   `json:"finished_at,omitzero"`
}

func newJob(items []string) *Job {
	return &Job{
		ID:    uuid.NewString(),
		items: items,
		state: StatePending,
	}
}

// Cancel signals the run to stop dispatching new batches. Items already in
// flight finish. No-op before the run starts or after it ends.
func (j *Job) Cancel() {
	j.cancelMu.Lock()
	cancel := j.cancel
	j.cancelMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (j *Job) setCancel(cancel context.CancelFunc) {
	j.cancelMu.Lock()
	j.cancel = cancel
	j.cancelMu.Unlock()
}

func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Snapshot{
		ID:         j.ID,
		State:      j.state,
		Total:      len(j.items),
		Processed:  j.processed,
		Succeeded:  j.succeeded,
		Failed:     j.failed,
		Errors:     append([]ItemError(nil), j.errors...),
		StartedAt:  j.startedAt,
		FinishedAt: j.finishedAt,
	}
}

func (j *Job) result() Result {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Result{
		Succeeded: j.succeeded,
		Failed:    j.failed,
		Errors:    append([]ItemError(nil), j.errors...),
	}
}

// Tracker indexes jobs by ID for status queries.
type Tracker struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

func NewTracker() *Tracker {
	return &Tracker{jobs: make(map[string]*Job)}
}

func (t *Tracker) add(job *Job) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs[job.ID] = job
}

func (t *Tracker) Get(id string) (*Job, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[id]
	return job, ok
}

// Jobs returns snapshots of every tracked job.
func (t *Tracker) Jobs() []Snapshot {
	t.mu.Lock()
	jobs := make([]*Job, 0, len(t.jobs))
	for _, job := range t.jobs {
		jobs = append(jobs, job)
	}
	t.mu.Unlock()

	snaps := make([]Snapshot, 0, len(jobs))
	for _, job := range jobs {
		snaps = append(snaps, job.Snapshot())
	}
	return snaps
}
