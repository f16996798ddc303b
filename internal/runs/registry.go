// Package runs tracks deferred agent and chat runs: their owning session, their
// forward-only lifecycle, and the wait and abort operations defined over them.
package runs

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
)

// OutcomeTimeout is a wait outcome, never a run state.
const OutcomeTimeout = "timeout"

var (
	ErrRunNotFound       = errors.New("run not found")
	ErrDuplicateRun      = errors.New("duplicate run")
	ErrInvalidTransition = errors.New("invalid run transition")
	ErrRunNotInSession   = errors.New("run does not belong to session")
	ErrSessionRequired   = errors.New("session key is required")
)

// Terminal reports whether no transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAborted
}

// Valid reports whether s is a known run state.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusCompleted, StatusAborted:
		return true
	}
	return false
}

func (s Status) rank() int {
	switch s {
	case StatusQueued:
		return 0
	case StatusRunning:
		return 1
	default:
		return 2
	}
}

// Result is present only on completed runs.
type Result struct {
	Output     string `json:"output"`
	SessionKey string `json:"sessionKey"`
}

// Run is one asynchronous unit of work.
type Run struct {
	RunID      string    `json:"runId"`
	SessionKey string    `json:"sessionKey"`
	Status     Status    `json:"status"`
	Result     *Result   `json:"result"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type entry struct {
	run  Run
	seq  uint64
	done chan struct{}
}

// Registry is the single authority for run state. All mutations hold mu, which
// serializes transitions per run id.
type Registry struct {
	mu      sync.Mutex
	runs    map[string]*entry
	seq     uint64
	arrived chan struct{}
	now     func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		runs:    make(map[string]*entry),
		arrived: make(chan struct{}),
		now:     time.Now,
	}
}

// Create inserts a new run.
func (r *Registry) Create(runID, sessionKey string, initial Status) (Run, error) {
	if runID == "" {
		return Run{}, fmt.Errorf("create run: empty run id")
	}
	if sessionKey == "" {
		return Run{}, fmt.Errorf("create run %s: %w", runID, ErrSessionRequired)
	}
	if !initial.Valid() || initial.Terminal() {
		return Run{}, fmt.Errorf("create run %s as %q: %w", runID, initial, ErrInvalidTransition)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.runs[runID]; exists {
		return Run{}, fmt.Errorf("create run %s: %w", runID, ErrDuplicateRun)
	}

	now := r.now()
	r.seq++
	e := &entry{
		run: Run{
			RunID:      runID,
			SessionKey: sessionKey,
			Status:     initial,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
		seq:  r.seq,
		done: make(chan struct{}),
	}
	r.runs[runID] = e

	// Wake waiters that are waiting for this id to show up.
	close(r.arrived)
	r.arrived = make(chan struct{})

	return e.run, nil
}

// Transition moves a run forward. Attempts to move backwards, sideways, or out of
// a terminal state fail with ErrInvalidTransition and leave the run untouched.
func (r *Registry) Transition(runID string, to Status, result *Result) (Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transitionLocked(runID, to, result)
}

func (r *Registry) transitionLocked(runID string, to Status, result *Result) (Run, error) {
	e, ok := r.runs[runID]
	if !ok {
		return Run{}, fmt.Errorf("transition run %s: %w", runID, ErrRunNotFound)
	}

	from := e.run.Status
	if !to.Valid() || from.Terminal() || to.rank() <= from.rank() {
		return e.run, fmt.Errorf("transition run %s from %s to %s: %w", runID, from, to, ErrInvalidTransition)
	}

	e.run.Status = to
	e.run.UpdatedAt = r.now()
	if to == StatusCompleted && result != nil {
		res := *result
		if res.SessionKey == "" {
			res.SessionKey = e.run.SessionKey
		}
		e.run.Result = &res
	}
	if to.Terminal() {
		close(e.done)
	}
	return e.run, nil
}

// Get returns a snapshot of the run.
func (r *Registry) Get(runID string) (Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.runs[runID]
	if !ok {
		return Run{}, fmt.Errorf("get run %s: %w", runID, ErrRunNotFound)
	}
	return e.run, nil
}

// ListActiveForSession returns the queued or running runs of a session in creation order.
func (r *Registry) ListActiveForSession(sessionKey string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeLocked(sessionKey)
}

func (r *Registry) activeLocked(sessionKey string) []string {
	var active []*entry
	for _, e := range r.runs {
		if e.run.SessionKey == sessionKey && !e.run.Status.Terminal() {
			active = append(active, e)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].seq < active[j].seq })

	ids := make([]string, 0, len(active))
	for _, e := range active {
		ids = append(ids, e.run.RunID)
	}
	return ids
}

// Done returns a channel closed once the run reaches a terminal state.
func (r *Registry) Done(runID string) (<-chan struct{}, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.runs[runID]
	if !ok {
		return nil, false
	}
	return e.done, true
}

// lookup returns the entry and the arrival channel that will be closed by the next Create.
func (r *Registry) lookup(runID string) (*entry, Run, <-chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.runs[runID]
	if !ok {
		return nil, Run{}, r.arrived
	}
	return e, e.run, r.arrived
}
