package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/jobsift/pipeline-api/config"
	"github.com/jobsift/pipeline-api/internal/domain/model"
	apperrors "github.com/jobsift/pipeline-api/internal/errors"
	"github.com/jobsift/pipeline-api/internal/mocks"
	"github.com/jobsift/pipeline-api/internal/registry"
)

func busConfig() config.BusConfig {
	cfg := config.BusConfig{
		WorkTopic:      "pipeline:scrape-requests",
		PublishTimeout: time.Second,
	}
	cfg.Sanitize()
	return cfg
}

func validRequest() model.TriggerRequest {
	return model.TriggerRequest{
		JobTitles:  []string{"Go Developer"},
		Location:   "Berlin",
		TimeFilter: model.TimeFilterDay,
		MaxJobs:    100,
	}
}

func newService(t *testing.T, pub *mocks.MockPublisher) (*Service, *registry.Registry) {
	t.Helper()
	reg := registry.New(registry.Options{Capacity: 16})
	svc := New(Options{
		Publisher: pub,
		Registry:  reg,
		Bus:       busConfig(),
	})
	return svc, reg
}

func TestService_TriggerPublishesWorkItem(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	pub := mocks.NewMockPublisher(ctrl)

	var published model.WorkItem
	pub.EXPECT().
		Publish(gomock.Any(), "pipeline:scrape-requests", gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _, key string, payload []byte) error {
			require.NoError(t, json.Unmarshal(payload, &published))
			assert.Equal(t, published.RunID, key)
			return nil
		})

	svc, reg := newService(t, pub)

	run, err := svc.Trigger(context.Background(), validRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, run.RunID)
	assert.Equal(t, run.RunID, published.RunID)
	assert.Equal(t, []string{"Go Developer"}, published.JobTitles)
	assert.Equal(t, "Berlin", published.Location)
	assert.Equal(t, model.TimeFilterDay, published.TimeFilter)
	assert.Equal(t, 100, published.MaxJobs)

	state, err := reg.Get(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.StagePending, state.Stage)
	assert.InDelta(t, 0.0, state.Percentage, 0.001)
}

func TestService_TriggerAssignsUniqueRunIDs(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	pub := mocks.NewMockPublisher(ctrl)
	pub.EXPECT().
		Publish(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil).
		Times(2)

	svc, _ := newService(t, pub)

	first, err := svc.Trigger(context.Background(), validRequest())
	require.NoError(t, err)
	second, err := svc.Trigger(context.Background(), validRequest())
	require.NoError(t, err)
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestService_TriggerNormalizesTitles(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	pub := mocks.NewMockPublisher(ctrl)

	var published model.WorkItem
	pub.EXPECT().
		Publish(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _, _ string, payload []byte) error {
			return json.Unmarshal(payload, &published)
		})

	svc, _ := newService(t, pub)

	req := validRequest()
	req.JobTitles = []string{" Data Engineer ", "data engineer", "SRE"}
	_, err := svc.Trigger(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"Data Engineer", "SRE"}, published.JobTitles)
}

func TestService_TriggerValidation(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*model.TriggerRequest)
		wantField string
	}{
		{
			name:      "empty titles",
			mutate:    func(r *model.TriggerRequest) { r.JobTitles = nil },
			wantField: "job_titles",
		},
		{
			name:      "all-blank titles",
			mutate:    func(r *model.TriggerRequest) { r.JobTitles = []string{"  ", ""} },
			wantField: "job_titles",
		},
		{
			name:      "missing location",
			mutate:    func(r *model.TriggerRequest) { r.Location = "   " },
			wantField: "location",
		},
		{
			name:      "invalid time filter",
			mutate:    func(r *model.TriggerRequest) { r.TimeFilter = "48h" },
			wantField: "time_filter",
		},
		{
			name:      "zero max jobs",
			mutate:    func(r *model.TriggerRequest) { r.MaxJobs = 0 },
			wantField: "max_jobs",
		},
		{
			name:      "negative max jobs",
			mutate:    func(r *model.TriggerRequest) { r.MaxJobs = -5 },
			wantField: "max_jobs",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()
			pub := mocks.NewMockPublisher(ctrl)
			// Nothing is published for an invalid request.

			svc, reg := newService(t, pub)

			req := validRequest()
			tt.mutate(&req)
			_, err := svc.Trigger(context.Background(), req)
			require.Error(t, err)
			assert.True(t, apperrors.IsValidation(err))
			assert.Equal(t, tt.wantField, apperrors.GetField(err))
			assert.Equal(t, 0, reg.Len())
		})
	}
}

func TestService_TriggerPublishFailureMarksRunFailed(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	pub := mocks.NewMockPublisher(ctrl)
	pub.EXPECT().
		Publish(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(apperrors.BusUnavailable("publish failed", errors.New("broker down")))

	hub := &recordingHub{}
	reg := registry.New(registry.Options{Capacity: 16})
	svc := New(Options{
		Publisher: pub,
		Registry:  reg,
		Hub:       hub,
		Bus:       busConfig(),
	})

	_, err := svc.Trigger(context.Background(), validRequest())
	require.Error(t, err)
	assert.True(t, apperrors.IsBusUnavailable(err))

	// The run exists and records why it failed.
	runs := reg.Snapshot()
	require.Len(t, runs, 1)
	assert.Equal(t, model.StageFailed, runs[0].Stage)
	assert.Contains(t, runs[0].Error, "publish failed")

	// Subscribers hear about the failure.
	require.Len(t, hub.updates, 1)
	assert.Equal(t, model.StageFailed, hub.updates[0].Stage)
	require.Len(t, hub.errors, 1)
}

// recordingHub captures broadcasts for assertions.
type recordingHub struct {
	updates []model.JobState
	errors  []string
}

func (h *recordingHub) BroadcastUpdate(state model.JobState) {
	h.updates = append(h.updates, state)
}

func (h *recordingHub) BroadcastError(_, message string) {
	h.errors = append(h.errors, message)
}
