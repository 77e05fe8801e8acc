package registry

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobsift/pipeline-api/internal/domain/model"
	apperrors "github.com/jobsift/pipeline-api/internal/errors"
)

func newTestRegistry(capacity int) *Registry {
	return New(Options{Capacity: capacity})
}

func pendingState() model.JobState {
	return model.JobState{Stage: model.StagePending, Description: "queued"}
}

func TestRegistry_CreateAndGet(t *testing.T) {
	r := newTestRegistry(10)

	require.NoError(t, r.Create("run-1", pendingState()))

	state, err := r.Get("run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", state.RunID)
	assert.Equal(t, model.StagePending, state.Stage)
	assert.False(t, state.LastUpdated.IsZero())
}

func TestRegistry_CreateDuplicate(t *testing.T) {
	r := newTestRegistry(10)

	require.NoError(t, r.Create("run-1", pendingState()))
	err := r.Create("run-1", pendingState())
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
}

func TestRegistry_CreateEmptyID(t *testing.T) {
	r := newTestRegistry(10)
	err := r.Create("", pendingState())
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := newTestRegistry(10)
	_, err := r.Get("missing")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestRegistry_ApplyAdvancesStage(t *testing.T) {
	r := newTestRegistry(10)
	require.NoError(t, r.Create("run-1", pendingState()))

	applied, err := r.Apply("run-1", model.JobState{
		Stage:       model.StageScraping,
		Percentage:  25,
		Description: "collecting",
	})
	require.NoError(t, err)
	assert.Equal(t, model.StageScraping, applied.Stage)
	assert.InDelta(t, 25.0, applied.Percentage, 0.001)

	state, err := r.Get("run-1")
	require.NoError(t, err)
	assert.Equal(t, applied, state)
}

func TestRegistry_ApplyUnknownRun(t *testing.T) {
	r := newTestRegistry(10)
	_, err := r.Apply("missing", model.JobState{Stage: model.StageScraping})
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestRegistry_ApplyRejectsEarlierStage(t *testing.T) {
	r := newTestRegistry(10)
	require.NoError(t, r.Create("run-1", pendingState()))
	_, err := r.Apply("run-1", model.JobState{Stage: model.StageLoading, Percentage: 10})
	require.NoError(t, err)

	_, err = r.Apply("run-1", model.JobState{Stage: model.StageScraping, Percentage: 90})
	require.Error(t, err)
	assert.True(t, apperrors.IsStaleTransition(err))

	// State is untouched by the rejected apply.
	state, err := r.Get("run-1")
	require.NoError(t, err)
	assert.Equal(t, model.StageLoading, state.Stage)
	assert.InDelta(t, 10.0, state.Percentage, 0.001)
}

func TestRegistry_ApplyRejectsSameStageRegression(t *testing.T) {
	r := newTestRegistry(10)
	require.NoError(t, r.Create("run-1", pendingState()))
	_, err := r.Apply("run-1", model.JobState{Stage: model.StageScraping, Percentage: 60})
	require.NoError(t, err)

	_, err = r.Apply("run-1", model.JobState{Stage: model.StageScraping, Percentage: 30})
	require.Error(t, err)
	assert.True(t, apperrors.IsStaleTransition(err))
}

func TestRegistry_ApplyClampsPercentageOnStageAdvance(t *testing.T) {
	r := newTestRegistry(10)
	require.NoError(t, r.Create("run-1", pendingState()))
	_, err := r.Apply("run-1", model.JobState{Stage: model.StageScraping, Percentage: 80})
	require.NoError(t, err)

	// The loader reports its own scale starting low; the observed percentage
	// must still never decrease.
	applied, err := r.Apply("run-1", model.JobState{Stage: model.StageLoading, Percentage: 5})
	require.NoError(t, err)
	assert.Equal(t, model.StageLoading, applied.Stage)
	assert.InDelta(t, 80.0, applied.Percentage, 0.001)
}

func TestRegistry_ApplyCompleteOnlyFromLoading(t *testing.T) {
	r := newTestRegistry(10)
	require.NoError(t, r.Create("run-1", pendingState()))
	_, err := r.Apply("run-1", model.JobState{Stage: model.StageScraping, Percentage: 50})
	require.NoError(t, err)

	_, err = r.Apply("run-1", model.JobState{Stage: model.StageComplete, Percentage: 100})
	require.Error(t, err)
	assert.True(t, apperrors.IsStaleTransition(err))

	_, err = r.Apply("run-1", model.JobState{Stage: model.StageLoading, Percentage: 90})
	require.NoError(t, err)
	applied, err := r.Apply("run-1", model.JobState{Stage: model.StageComplete, Percentage: 100})
	require.NoError(t, err)
	assert.Equal(t, model.StageComplete, applied.Stage)
}

func TestRegistry_TerminalIsImmutable(t *testing.T) {
	r := newTestRegistry(10)
	require.NoError(t, r.Create("run-1", pendingState()))
	_, err := r.Apply("run-1", model.JobState{Stage: model.StageFailed, Error: "boom"})
	require.NoError(t, err)

	for _, next := range []model.Stage{
		model.StagePending, model.StageScraping, model.StageLoading,
		model.StageComplete, model.StageFailed,
	} {
		_, err := r.Apply("run-1", model.JobState{Stage: next, Percentage: 100})
		require.Error(t, err, "stage %s", next)
		assert.True(t, apperrors.IsStaleTransition(err), "stage %s", next)
	}

	state, err := r.Get("run-1")
	require.NoError(t, err)
	assert.Equal(t, model.StageFailed, state.Stage)
	assert.Equal(t, "boom", state.Error)
}

func TestRegistry_DeleteIsIdempotent(t *testing.T) {
	r := newTestRegistry(10)
	require.NoError(t, r.Create("run-1", pendingState()))

	r.Delete("run-1")
	_, err := r.Get("run-1")
	assert.True(t, apperrors.IsNotFound(err))

	// Second delete is a no-op.
	r.Delete("run-1")
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_SnapshotOrderedByCreation(t *testing.T) {
	r := newTestRegistry(10)
	for i := range 3 {
		require.NoError(t, r.Create(fmt.Sprintf("run-%d", i), pendingState()))
		time.Sleep(time.Millisecond)
	}

	snapshot := r.Snapshot()
	require.Len(t, snapshot, 3)
	assert.Equal(t, "run-0", snapshot[0].RunID)
	assert.Equal(t, "run-1", snapshot[1].RunID)
	assert.Equal(t, "run-2", snapshot[2].RunID)
}

func TestRegistry_EvictsOldestTerminalOverCapacity(t *testing.T) {
	r := newTestRegistry(3)

	require.NoError(t, r.Create("done-old", pendingState()))
	_, err := r.Apply("done-old", model.JobState{
		Stage:       model.StageFailed,
		LastUpdated: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)

	require.NoError(t, r.Create("done-new", pendingState()))
	_, err = r.Apply("done-new", model.JobState{
		Stage:       model.StageFailed,
		LastUpdated: time.Now(),
	})
	require.NoError(t, err)

	require.NoError(t, r.Create("active", pendingState()))

	// Over capacity: the least recently updated terminal run goes first.
	require.NoError(t, r.Create("incoming", pendingState()))

	assert.Equal(t, 3, r.Len())
	_, err = r.Get("done-old")
	assert.True(t, apperrors.IsNotFound(err))
	_, err = r.Get("done-new")
	assert.NoError(t, err)
	_, err = r.Get("active")
	assert.NoError(t, err)
}

func TestRegistry_NeverEvictsInFlightRuns(t *testing.T) {
	r := newTestRegistry(2)

	require.NoError(t, r.Create("active-1", pendingState()))
	require.NoError(t, r.Create("active-2", pendingState()))
	require.NoError(t, r.Create("active-3", pendingState()))

	// No terminal candidates: the registry holds everything.
	assert.Equal(t, 3, r.Len())
	for _, id := range []string{"active-1", "active-2", "active-3"} {
		_, err := r.Get(id)
		assert.NoError(t, err, id)
	}
}
