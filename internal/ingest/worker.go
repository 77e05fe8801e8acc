// Package ingest consumes the progress topic and folds status messages into
// the run registry, forwarding each accepted delta to the realtime hub.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jobsift/pipeline-api/config"
	"github.com/jobsift/pipeline-api/internal/bus"
	"github.com/jobsift/pipeline-api/internal/domain/model"
	apperrors "github.com/jobsift/pipeline-api/internal/errors"
	"github.com/jobsift/pipeline-api/internal/observability/metrics"
	"github.com/jobsift/pipeline-api/internal/registry"
)

// Broadcaster is the slice of the realtime hub the worker needs.
type Broadcaster interface {
	BroadcastUpdate(state model.JobState)
	BroadcastError(runID, message string)
}

// Worker is the status ingestion worker. One instance consumes the progress
// topic within the consumer group; per-run ordering comes from the bus
// partition key.
type Worker struct {
	consumer bus.Consumer
	registry *registry.Registry
	hub      Broadcaster
	dedup    *seenWindow
	topic    string
	metrics  *metrics.Pipeline
	logger   *slog.Logger
}

// Options configures a Worker.
type Options struct {
	Consumer bus.Consumer
	Registry *registry.Registry
	Hub      Broadcaster
	Bus      config.BusConfig
	Ingest   config.IngestConfig
	Metrics  *metrics.Pipeline
	Logger   *slog.Logger
}

// New creates a Worker. It does not start consuming until Run is called.
func New(opts Options) *Worker {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		consumer: opts.Consumer,
		registry: opts.Registry,
		hub:      opts.Hub,
		dedup:    newSeenWindow(opts.Ingest.DedupWindow),
		topic:    opts.Bus.ProgressTopic,
		metrics:  opts.Metrics,
		logger:   logger,
	}
}

// Run consumes the progress topic until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	return w.consumer.Consume(ctx, w.topic, w.handle)
}

// handle processes one progress message. A nil return commits the entry; a
// Permanent error quarantines it. Stale and duplicate messages are dropped
// and committed, never retried, because redelivery cannot change the
// registry's verdict.
func (w *Worker) handle(ctx context.Context, msg bus.Message) error {
	started := time.Now()
	defer func() { w.metrics.Timing(metrics.IngestHandleTime, time.Since(started)) }()

	var pm model.ProgressMessage
	if err := json.Unmarshal(msg.Payload, &pm); err != nil {
		w.metrics.Incr(metrics.IngestQuarantined)
		return bus.Permanent(fmt.Errorf("decode progress message: %w", err))
	}
	if err := pm.Validate(); err != nil {
		w.metrics.Incr(metrics.IngestQuarantined)
		return bus.Permanent(fmt.Errorf("invalid progress message: %w", err))
	}

	if w.dedup.Seen(pm.MessageID) {
		w.metrics.Incr(metrics.IngestDuplicates)
		w.logger.DebugContext(ctx, "duplicate progress message dropped",
			"run_id", pm.RunID, "message_id", pm.MessageID)
		return nil
	}

	applied, err := w.apply(ctx, &pm)
	switch {
	case err == nil:
		w.metrics.Incr(metrics.IngestApplied)
		w.hub.BroadcastUpdate(applied)
		if applied.Stage == model.StageFailed {
			w.hub.BroadcastError(applied.RunID, applied.Error)
		}
	case apperrors.IsStaleTransition(err):
		// The run already moved past this message; drop it.
		w.metrics.Incr(metrics.IngestStale)
		w.logger.InfoContext(ctx, "stale progress message dropped",
			"run_id", pm.RunID, "message_id", pm.MessageID, "reason", err)
	default:
		// Transient fault (registry churn during eviction, placeholder race).
		// Leave the entry pending so redelivery retries it.
		return fmt.Errorf("apply progress message for run %s: %w", pm.RunID, err)
	}

	w.dedup.Mark(pm.MessageID)
	return nil
}

// apply folds the message into the registry, creating a PENDING placeholder
// when the run is unknown. Status can outrun the trigger's own record (or
// the record was evicted); a placeholder lets progress land instead of being
// dropped on the floor.
func (w *Worker) apply(ctx context.Context, pm *model.ProgressMessage) (model.JobState, error) {
	candidate := pm.State(time.Now().UTC())

	applied, err := w.registry.Apply(pm.RunID, candidate)
	if !apperrors.IsNotFound(err) {
		return applied, err
	}

	placeholder := model.JobState{
		Stage:       model.StagePending,
		Description: "awaiting first status",
	}
	if err := w.registry.Create(pm.RunID, placeholder); err != nil && !apperrors.IsConflict(err) {
		return model.JobState{}, err
	}
	w.metrics.Incr(metrics.IngestPlaceholders)
	w.logger.InfoContext(ctx, "created placeholder for unknown run", "run_id", pm.RunID)

	return w.registry.Apply(pm.RunID, candidate)
}
