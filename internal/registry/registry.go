// Package registry holds the in-memory run registry, the single source of
// truth for "where is run X" during the process lifetime.
//
// The registry is a cache of the durable event stream: it is explicitly
// volatile and bounded. Mutation goes exclusively through its synchronized
// API, and writes for a given run are serialized so redelivered or duplicate
// messages cannot race each other.
package registry

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jobsift/pipeline-api/internal/domain/model"
	apperrors "github.com/jobsift/pipeline-api/internal/errors"
)

// Registry maps run ids to their current JobState.
type Registry struct {
	mu       sync.RWMutex
	runs     map[string]*entry
	capacity int
	logger   *slog.Logger
}

// entry holds one run's state behind its own lock: the per-run serialization
// domain. Contention never crosses runs.
type entry struct {
	mu        sync.Mutex
	state     model.JobState
	createdAt time.Time
}

// Options configures a Registry.
type Options struct {
	// Capacity bounds the number of tracked runs; once exceeded, the oldest
	// terminal entries are evicted. In-flight entries are never evicted.
	Capacity int
	Logger   *slog.Logger
}

// New creates an empty Registry.
func New(opts Options) *Registry {
	capacity := opts.Capacity
	if capacity < 1 {
		capacity = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		runs:     make(map[string]*entry),
		capacity: capacity,
		logger:   logger,
	}
}

// Create inserts a fresh record for a run. Fails with a Conflict error when
// the run id already exists; run ids are never reused.
func (r *Registry) Create(runID string, initial model.JobState) error {
	if runID == "" {
		return apperrors.Validation("run id is required")
	}
	initial.RunID = runID
	if initial.LastUpdated.IsZero() {
		initial.LastUpdated = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.runs[runID]; exists {
		return apperrors.Conflictf("run %s already exists", runID)
	}
	r.runs[runID] = &entry{state: initial, createdAt: time.Now().UTC()}
	r.evictLocked()
	return nil
}

// Get returns the current JobState for a run, or a NotFound error.
func (r *Registry) Get(runID string) (model.JobState, error) {
	r.mu.RLock()
	e, ok := r.runs[runID]
	r.mu.RUnlock()
	if !ok {
		return model.JobState{}, apperrors.NotFoundf("run %s not found", runID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, nil
}

// Apply proposes a state transition for a run and returns the resulting
// state when accepted. Rejections come back as StaleTransition errors:
// mutating a terminal record, moving to a strictly earlier stage, or moving
// the percentage backwards within a stage. When a candidate legitimately
// advances the stage with a lower percentage (a worker restarting its own
// scale), the percentage is clamped so the observed sequence stays
// non-decreasing.
func (r *Registry) Apply(runID string, candidate model.JobState) (model.JobState, error) {
	r.mu.RLock()
	e, ok := r.runs[runID]
	r.mu.RUnlock()
	if !ok {
		return model.JobState{}, apperrors.NotFoundf("run %s not found", runID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	current := e.state
	if current.Stage.Terminal() {
		return model.JobState{}, apperrors.StaleTransitionf(
			"run %s is terminal (%s), rejecting %s", runID, current.Stage, candidate.Stage)
	}
	if !current.Stage.CanTransition(candidate.Stage) {
		return model.JobState{}, apperrors.StaleTransitionf(
			"run %s cannot move %s -> %s", runID, current.Stage, candidate.Stage)
	}
	if candidate.Stage == current.Stage && candidate.Percentage < current.Percentage {
		return model.JobState{}, apperrors.StaleTransitionf(
			"run %s percentage would regress (%.1f -> %.1f)", runID, current.Percentage, candidate.Percentage)
	}
	if candidate.Percentage < current.Percentage {
		candidate.Percentage = current.Percentage
	}

	candidate.RunID = runID
	if candidate.LastUpdated.IsZero() {
		candidate.LastUpdated = time.Now().UTC()
	}
	e.state = candidate
	return candidate, nil
}

// Delete removes a run's record. Deleting an absent run is not an error.
func (r *Registry) Delete(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, runID)
}

// Snapshot returns a copy of every tracked run's state, oldest run first.
func (r *Registry) Snapshot() []model.JobState {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.runs))
	for _, e := range r.runs {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].createdAt.Equal(entries[j].createdAt) {
			return entries[i].stateID() < entries[j].stateID()
		}
		return entries[i].createdAt.Before(entries[j].createdAt)
	})

	states := make([]model.JobState, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		states = append(states, e.state)
		e.mu.Unlock()
	}
	return states
}

// Len returns the number of tracked runs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runs)
}

func (e *entry) stateID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.RunID
}

// evictLocked drops the least-recently-updated terminal entries until the
// registry fits its capacity. Callers hold r.mu.
func (r *Registry) evictLocked() {
	if len(r.runs) <= r.capacity {
		return
	}

	type victim struct {
		runID   string
		updated time.Time
	}
	victims := make([]victim, 0)
	for runID, e := range r.runs {
		e.mu.Lock()
		if e.state.Stage.Terminal() {
			victims = append(victims, victim{runID: runID, updated: e.state.LastUpdated})
		}
		e.mu.Unlock()
	}
	sort.Slice(victims, func(i, j int) bool { return victims[i].updated.Before(victims[j].updated) })

	for _, v := range victims {
		if len(r.runs) <= r.capacity {
			return
		}
		delete(r.runs, v.runID)
		r.logger.Debug("evicted terminal run", "run_id", v.runID)
	}
	// Only in-flight runs remain above capacity; they are never evicted.
}
