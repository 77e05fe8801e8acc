// Package trigger starts pipeline runs: it validates the request, registers
// the run, and publishes the work item that the scraper worker picks up.
package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/jobsift/pipeline-api/config"
	"github.com/jobsift/pipeline-api/internal/bus"
	"github.com/jobsift/pipeline-api/internal/domain/model"
	apperrors "github.com/jobsift/pipeline-api/internal/errors"
	"github.com/jobsift/pipeline-api/internal/ingest"
	"github.com/jobsift/pipeline-api/internal/observability/metrics"
	"github.com/jobsift/pipeline-api/internal/registry"
)

// Service triggers pipeline runs. Safe for concurrent use.
type Service struct {
	publisher bus.Publisher
	registry  *registry.Registry
	hub       ingest.Broadcaster
	validate  *validator.Validate
	cfg       config.BusConfig
	metrics   *metrics.Pipeline
	logger    *slog.Logger
}

// Options configures a Service.
type Options struct {
	Publisher bus.Publisher
	Registry  *registry.Registry
	Hub       ingest.Broadcaster
	Bus       config.BusConfig
	Metrics   *metrics.Pipeline
	Logger    *slog.Logger
}

// New creates a trigger Service.
func New(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		publisher: opts.Publisher,
		registry:  opts.Registry,
		hub:       opts.Hub,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		cfg:       opts.Bus,
		metrics:   opts.Metrics,
		logger:    logger,
	}
}

// Trigger validates and starts a run. The run is registered as PENDING
// before the work item is published; if the publish exhausts its retry
// budget the run is marked FAILED and a BusUnavailable error is returned, so
// a run id handed to a caller always has a registry record explaining it.
func (s *Service) Trigger(ctx context.Context, req model.TriggerRequest) (model.Run, error) {
	req.Normalize()
	if err := s.validateRequest(req); err != nil {
		s.metrics.Incr(metrics.TriggerRejected)
		return model.Run{}, err
	}

	run := model.Run{
		RunID:      uuid.NewString(),
		Parameters: req,
		CreatedAt:  time.Now().UTC(),
	}

	initial := model.JobState{
		Stage:       model.StagePending,
		Description: "run accepted, awaiting scraper",
		LastUpdated: run.CreatedAt,
	}
	if err := s.registry.Create(run.RunID, initial); err != nil {
		return model.Run{}, fmt.Errorf("register run %s: %w", run.RunID, err)
	}

	if err := s.publishWork(ctx, run); err != nil {
		s.metrics.Incr(metrics.TriggerPublishFailed)
		s.failRun(ctx, run.RunID, err)
		return model.Run{}, err
	}

	s.metrics.Incr(metrics.TriggerAccepted)
	s.logger.InfoContext(ctx, "run triggered",
		"run_id", run.RunID, "titles", len(req.JobTitles), "location", req.Location,
		"time_filter", req.TimeFilter, "max_jobs", req.MaxJobs)
	return run, nil
}

// validateRequest maps struct validation failures onto field-tagged
// validation errors. Runs after Normalize, so an all-blank titles list is
// caught by the min tag.
func (s *Service) validateRequest(req model.TriggerRequest) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return apperrors.Validation(err.Error())
	}
	fe := fieldErrs[0]
	return apperrors.ValidationField(fieldName(fe.Field()),
		fmt.Sprintf("%s failed validation on %s", fieldName(fe.Field()), fe.Tag()))
}

// publishWork publishes the work item keyed by run id, bounded by the
// publish timeout on top of the caller's context.
func (s *Service) publishWork(ctx context.Context, run model.Run) error {
	work := model.WorkItem{
		RunID:       run.RunID,
		JobTitles:   run.Parameters.JobTitles,
		Location:    run.Parameters.Location,
		TimeFilter:  run.Parameters.TimeFilter,
		MaxJobs:     run.Parameters.MaxJobs,
		RequestedAt: run.CreatedAt,
	}
	payload, err := json.Marshal(work)
	if err != nil {
		return fmt.Errorf("encode work item: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, s.cfg.PublishTimeout)
	defer cancel()
	return s.publisher.Publish(pubCtx, s.cfg.WorkTopic, run.RunID, payload)
}

// failRun marks a run FAILED after its work item could not be published, and
// tells subscribers. FAILED is reachable from PENDING for exactly this path.
func (s *Service) failRun(ctx context.Context, runID string, cause error) {
	failed := model.JobState{
		Stage:       model.StageFailed,
		Description: "failed to enqueue work item",
		Error:       cause.Error(),
		LastUpdated: time.Now().UTC(),
	}
	applied, err := s.registry.Apply(runID, failed)
	if err != nil {
		s.logger.ErrorContext(ctx, "mark run failed after publish failure",
			"run_id", runID, "error", err)
		return
	}
	if s.hub != nil {
		s.hub.BroadcastUpdate(applied)
		s.hub.BroadcastError(runID, applied.Error)
	}
	s.logger.ErrorContext(ctx, "run failed before enqueue", "run_id", runID, "error", cause)
}

// fieldName lowercases the struct field name to its JSON spelling.
func fieldName(field string) string {
	switch field {
	case "JobTitles":
		return "job_titles"
	case "Location":
		return "location"
	case "TimeFilter":
		return "time_filter"
	case "MaxJobs":
		return "max_jobs"
	default:
		return strings.ToLower(field)
	}
}
