package hub

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobsift/pipeline-api/internal/domain/model"
)

// staticSource serves a fixed snapshot.
type staticSource struct {
	jobs []model.JobState
}

func (s *staticSource) Snapshot() []model.JobState {
	return append([]model.JobState(nil), s.jobs...)
}

func newTestHub(source SnapshotSource, queueSize, maxOverflows int) *Hub {
	return New(Options{
		Source:       source,
		QueueSize:    queueSize,
		MaxOverflows: maxOverflows,
	})
}

func decodeFrame(t *testing.T, frame []byte) map[string]any {
	t.Helper()
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(frame, &decoded))
	return decoded
}

// recvFrame reads the next frame or fails the test after a timeout.
func recvFrame(t *testing.T, sub *Subscription) []byte {
	t.Helper()
	select {
	case frame, ok := <-sub.Frames():
		require.True(t, ok, "subscription closed unexpectedly")
		return frame
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func TestHub_AttachSendsSnapshotFirst(t *testing.T) {
	source := &staticSource{jobs: []model.JobState{
		{RunID: "run-1", Stage: model.StageScraping, Percentage: 30},
	}}
	h := newTestHub(source, 8, 3)

	sub, err := h.Attach()
	require.NoError(t, err)
	defer h.Detach(sub)

	frame := decodeFrame(t, recvFrame(t, sub))
	assert.Equal(t, model.EventInitialState, frame["type"])
	jobs, ok := frame["jobs"].([]any)
	require.True(t, ok)
	assert.Len(t, jobs, 1)
}

func TestHub_EmptySnapshotEncodesAsEmptyList(t *testing.T) {
	h := newTestHub(&staticSource{}, 8, 3)

	sub, err := h.Attach()
	require.NoError(t, err)
	defer h.Detach(sub)

	frame := decodeFrame(t, recvFrame(t, sub))
	jobs, ok := frame["jobs"].([]any)
	require.True(t, ok)
	assert.Empty(t, jobs)
}

// racingSource fires a broadcast while its snapshot is being taken, the
// tightest interleaving between a new subscriber and a live delta.
type racingSource struct {
	hub      *Hub
	snapshot []model.JobState
	delta    model.JobState
	once     sync.Once
	fired    chan struct{}
}

func (s *racingSource) Snapshot() []model.JobState {
	s.once.Do(func() {
		go func() {
			defer close(s.fired)
			s.hub.BroadcastUpdate(s.delta)
		}()
		// Give the broadcast time to reach the hub before the snapshot
		// returns; it must block until this subscriber is registered.
		time.Sleep(50 * time.Millisecond)
	})
	return append([]model.JobState(nil), s.snapshot...)
}

func TestHub_DeltaDuringAttachIsNotLost(t *testing.T) {
	source := &racingSource{
		snapshot: []model.JobState{{RunID: "run-1", Stage: model.StageScraping, Percentage: 10}},
		delta:    model.JobState{RunID: "run-1", Stage: model.StageComplete, Percentage: 100},
		fired:    make(chan struct{}),
	}
	h := newTestHub(source, 8, 3)
	source.hub = h

	sub, err := h.Attach()
	require.NoError(t, err)
	defer h.Detach(sub)

	first := decodeFrame(t, recvFrame(t, sub))
	assert.Equal(t, model.EventInitialState, first["type"])

	// The terminal delta raced the attach; the subscriber must still see it,
	// or it would report SCRAPING forever.
	<-source.fired
	second := decodeFrame(t, recvFrame(t, sub))
	assert.Equal(t, model.EventStatusUpdate, second["type"])
	data, ok := second["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, string(model.StageComplete), data["status"])
	assert.InDelta(t, 100.0, data["percentage"], 0.001)
}

func TestHub_BroadcastReachesAllSubscribers(t *testing.T) {
	h := newTestHub(&staticSource{}, 8, 3)

	subs := make([]*Subscription, 0, 3)
	for range 3 {
		sub, err := h.Attach()
		require.NoError(t, err)
		defer h.Detach(sub)
		recvFrame(t, sub) // drain snapshot
		subs = append(subs, sub)
	}

	h.BroadcastUpdate(model.JobState{RunID: "run-1", Stage: model.StageLoading, Percentage: 70})

	for _, sub := range subs {
		frame := decodeFrame(t, recvFrame(t, sub))
		assert.Equal(t, model.EventStatusUpdate, frame["type"])
		data, ok := frame["data"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "run-1", data["run_id"])
		assert.Equal(t, string(model.StageLoading), data["status"])
	}
}

func TestHub_BroadcastErrorFrame(t *testing.T) {
	h := newTestHub(&staticSource{}, 8, 3)

	sub, err := h.Attach()
	require.NoError(t, err)
	defer h.Detach(sub)
	recvFrame(t, sub)

	h.BroadcastError("run-1", "scraper crashed")

	frame := decodeFrame(t, recvFrame(t, sub))
	assert.Equal(t, model.EventPipelineError, frame["type"])
	data, ok := frame["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "scraper crashed", data["error"])
}

func TestHub_OverflowDropsOldestFrame(t *testing.T) {
	h := newTestHub(&staticSource{}, 2, 10)

	sub, err := h.Attach()
	require.NoError(t, err)
	defer h.Detach(sub)
	recvFrame(t, sub)

	// Queue size 2: the third broadcast overflows and evicts the first.
	h.BroadcastUpdate(model.JobState{RunID: "run-1", Percentage: 10, Stage: model.StageScraping})
	h.BroadcastUpdate(model.JobState{RunID: "run-1", Percentage: 20, Stage: model.StageScraping})
	h.BroadcastUpdate(model.JobState{RunID: "run-1", Percentage: 30, Stage: model.StageScraping})

	first := decodeFrame(t, recvFrame(t, sub))
	data := first["data"].(map[string]any)
	assert.InDelta(t, 20.0, data["percentage"], 0.001)

	second := decodeFrame(t, recvFrame(t, sub))
	data = second["data"].(map[string]any)
	assert.InDelta(t, 30.0, data["percentage"], 0.001)
}

func TestHub_EvictsRepeatOverflower(t *testing.T) {
	h := newTestHub(&staticSource{}, 1, 2)

	slow, err := h.Attach()
	require.NoError(t, err)
	// Never read from slow: every broadcast past the first overflows.

	healthy, err := h.Attach()
	require.NoError(t, err)
	defer h.Detach(healthy)
	recvFrame(t, healthy)

	for i := range 5 {
		h.BroadcastUpdate(model.JobState{
			RunID:      "run-1",
			Stage:      model.StageScraping,
			Percentage: float64(i * 10),
		})
		recvFrame(t, healthy)
	}

	// The slow subscriber was evicted; its channel is closed after drain.
	assert.Equal(t, 1, h.Len())
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-slow.Frames():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("slow subscriber channel never closed")
		}
	}
}

func TestHub_DetachIsIdempotent(t *testing.T) {
	h := newTestHub(&staticSource{}, 4, 2)

	sub, err := h.Attach()
	require.NoError(t, err)

	h.Detach(sub)
	h.Detach(sub)
	assert.Equal(t, 0, h.Len())

	// Broadcasting after detach must not panic or block.
	h.BroadcastUpdate(model.JobState{RunID: "run-1", Stage: model.StageScraping})
}

func TestHub_CloseEvictsAllAndRejectsAttach(t *testing.T) {
	h := newTestHub(&staticSource{}, 4, 2)

	sub, err := h.Attach()
	require.NoError(t, err)
	recvFrame(t, sub)

	h.Close()

	_, ok := <-sub.Frames()
	assert.False(t, ok)

	// Attach after close returns an already-closed subscription.
	late, err := h.Attach()
	require.NoError(t, err)
	_, ok = <-late.Frames()
	assert.False(t, ok)
	assert.Equal(t, 0, h.Len())
}

func TestHub_ManySubscribersOneStalled(t *testing.T) {
	// Generous overflow budget: this test is about fan-out never blocking,
	// not about eviction.
	h := newTestHub(&staticSource{}, 2, 100)

	const n = 100
	healthy := make([]*Subscription, 0, n)
	for range n {
		sub, err := h.Attach()
		require.NoError(t, err)
		defer h.Detach(sub)
		recvFrame(t, sub)
		healthy = append(healthy, sub)
	}

	stalled, err := h.Attach()
	require.NoError(t, err)
	defer h.Detach(stalled)
	// stalled never reads

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range 10 {
			h.BroadcastUpdate(model.JobState{
				RunID:      "run-1",
				Stage:      model.StageScraping,
				Percentage: float64(i),
			})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a stalled subscriber")
	}

	// Nobody was evicted and healthy subscribers still receive the newest
	// frames after the burst.
	assert.Equal(t, n+1, h.Len())
	for _, sub := range healthy[:5] {
		frame := decodeFrame(t, recvFrame(t, sub))
		assert.Equal(t, model.EventStatusUpdate, frame["type"])
	}
}
