// Package hub fans registry deltas out to realtime subscribers.
//
// A new subscriber receives a full registry snapshot and is enrolled for
// deltas under the same lock, so no update falls between snapshot and
// subscription. Delivery is non-blocking: each subscriber owns a bounded
// queue, a full queue drops its oldest frame, and a subscriber that keeps
// overflowing is evicted. A slow client can only ever degrade itself.
package hub

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/jobsift/pipeline-api/internal/domain/model"
	"github.com/jobsift/pipeline-api/internal/observability/metrics"
)

// SnapshotSource yields the current state of every tracked run.
type SnapshotSource interface {
	Snapshot() []model.JobState
}

// Hub is the realtime broadcast hub. Safe for concurrent use.
type Hub struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	source SnapshotSource
	closed bool

	queueSize    int
	maxOverflows int
	metrics      *metrics.Pipeline
	logger       *slog.Logger
}

// Options configures a Hub.
type Options struct {
	// Source provides the initial_state snapshot for new subscribers.
	Source SnapshotSource
	// QueueSize bounds each subscriber's pending frame queue.
	QueueSize int
	// MaxOverflows is the number of dropped frames a subscriber may accumulate
	// before it is evicted as unrecoverably slow.
	MaxOverflows int
	Metrics      *metrics.Pipeline
	Logger       *slog.Logger
}

// New creates a Hub with no subscribers.
func New(opts Options) *Hub {
	queueSize := opts.QueueSize
	if queueSize < 1 {
		queueSize = 1
	}
	maxOverflows := opts.MaxOverflows
	if maxOverflows < 1 {
		maxOverflows = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:         make(map[*Subscription]struct{}),
		source:       opts.Source,
		queueSize:    queueSize,
		maxOverflows: maxOverflows,
		metrics:      opts.Metrics,
		logger:       logger,
	}
}

// Subscription is one subscriber's view of the hub. Read frames from Frames
// until it is closed, then stop; a closed channel means the hub shut down or
// evicted the subscriber for falling too far behind.
type Subscription struct {
	frames    chan []byte
	overflows int
	closed    bool
}

// Frames returns the ordered stream of encoded frames for this subscriber.
// The first frame is always the initial_state snapshot.
func (s *Subscription) Frames() <-chan []byte {
	return s.frames
}

// Attach registers a new subscriber and queues its snapshot frame. The
// snapshot and the registration happen atomically with respect to Broadcast.
func (h *Hub) Attach() (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := &Subscription{frames: make(chan []byte, h.queueSize)}
	if h.closed {
		close(sub.frames)
		return sub, nil
	}

	// Snapshotting inside the critical section is what makes the guarantee
	// hold: a concurrent broadcast either lands in this snapshot or waits on
	// h.mu and lands in the queue. Registry locks are leaf locks, so holding
	// h.mu across Snapshot cannot deadlock.
	snapshot, err := json.Marshal(model.NewInitialState(h.source.Snapshot()))
	if err != nil {
		return nil, err
	}

	// The queue is empty and sized >= 1, so the snapshot always fits.
	sub.frames <- snapshot
	h.subs[sub] = struct{}{}
	h.metrics.Gauge(metrics.HubSubscribers, float64(len(h.subs)))
	h.logger.Debug("subscriber attached", "subscribers", len(h.subs))
	return sub, nil
}

// Detach removes a subscriber and closes its frame channel. Detaching an
// already-removed subscriber is a no-op.
func (h *Hub) Detach(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

// BroadcastUpdate fans an accepted state delta out to every subscriber.
func (h *Hub) BroadcastUpdate(state model.JobState) {
	h.broadcast(model.NewStatusUpdate(state))
}

// BroadcastError fans a run-scoped pipeline fault out to every subscriber.
func (h *Hub) BroadcastError(runID, message string) {
	h.broadcast(model.NewPipelineError(runID, message))
}

// Close evicts every subscriber and rejects future attaches. Called at the
// end of shutdown, after the producers feeding the hub have stopped.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		h.removeLocked(sub)
	}
}

// Len returns the number of attached subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// broadcast encodes the frame once and offers it to every subscriber without
// blocking. Encoding failures are programming errors on our own types; they
// are logged and the frame is dropped.
func (h *Hub) broadcast(frame any) {
	encoded, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("encode broadcast frame failed", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for sub := range h.subs {
		h.offerLocked(sub, encoded)
	}
}

// offerLocked enqueues a frame for one subscriber, dropping its oldest
// pending frame on overflow. Subscribers that overflow past the budget are
// evicted. Callers hold h.mu.
func (h *Hub) offerLocked(sub *Subscription, frame []byte) {
	select {
	case sub.frames <- frame:
		return
	default:
	}

	sub.overflows++
	h.metrics.Incr(metrics.HubFramesDropped)
	if sub.overflows > h.maxOverflows {
		h.metrics.Incr(metrics.HubSubscribersEvicted)
		h.logger.Warn("evicting slow subscriber", "overflows", sub.overflows)
		h.removeLocked(sub)
		return
	}

	// Drop the oldest frame to make room; deltas are idempotent snapshots, so
	// the subscriber converges on the next frame it does receive.
	select {
	case <-sub.frames:
	default:
	}
	select {
	case sub.frames <- frame:
	default:
	}
}

// removeLocked unregisters a subscriber and closes its channel exactly once.
// Callers hold h.mu.
func (h *Hub) removeLocked(sub *Subscription) {
	if sub.closed {
		return
	}
	sub.closed = true
	delete(h.subs, sub)
	close(sub.frames)
	h.metrics.Gauge(metrics.HubSubscribers, float64(len(h.subs)))
}
