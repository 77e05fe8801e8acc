package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validProgress() ProgressMessage {
	return ProgressMessage{
		MessageID:   "msg-1",
		RunID:       "run-1",
		Kind:        KindProgress,
		Stage:       StageScraping,
		Percentage:  42,
		Description: "collecting listings",
	}
}

func TestProgressMessage_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ProgressMessage)
		wantErr string
	}{
		{name: "valid progress", mutate: func(*ProgressMessage) {}},
		{
			name: "valid terminal",
			mutate: func(m *ProgressMessage) {
				m.Kind = KindTerminal
				m.Stage = StageComplete
				m.Percentage = 100
			},
		},
		{
			name: "valid terminal failure with error",
			mutate: func(m *ProgressMessage) {
				m.Kind = KindTerminal
				m.Stage = StageFailed
				m.Error = "scraper crashed"
			},
		},
		{
			name:    "missing message id",
			mutate:  func(m *ProgressMessage) { m.MessageID = "" },
			wantErr: "message id is required",
		},
		{
			name:    "missing run id",
			mutate:  func(m *ProgressMessage) { m.RunID = "" },
			wantErr: "run id is required",
		},
		{
			name:    "unknown kind",
			mutate:  func(m *ProgressMessage) { m.Kind = "status" },
			wantErr: "invalid message kind",
		},
		{
			name:    "unknown stage",
			mutate:  func(m *ProgressMessage) { m.Stage = "RUNNING" },
			wantErr: "invalid stage",
		},
		{
			name: "terminal kind with in-flight stage",
			mutate: func(m *ProgressMessage) {
				m.Kind = KindTerminal
				m.Stage = StageLoading
			},
			wantErr: "non-terminal stage",
		},
		{
			name: "progress kind with terminal stage",
			mutate: func(m *ProgressMessage) {
				m.Stage = StageComplete
			},
			wantErr: "terminal stage",
		},
		{
			name:    "percentage below range",
			mutate:  func(m *ProgressMessage) { m.Percentage = -1 },
			wantErr: "percentage out of range",
		},
		{
			name:    "percentage above range",
			mutate:  func(m *ProgressMessage) { m.Percentage = 101 },
			wantErr: "percentage out of range",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := validProgress()
			tt.mutate(&msg)
			err := msg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestProgressMessage_State(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	msg := validProgress()
	msg.Error = "partial failure"

	state := msg.State(now)
	assert.Equal(t, "run-1", state.RunID)
	assert.Equal(t, StageScraping, state.Stage)
	assert.InDelta(t, 42.0, state.Percentage, 0.001)
	assert.Equal(t, "collecting listings", state.Description)
	assert.Equal(t, "partial failure", state.Error)
	assert.Equal(t, now, state.LastUpdated)
}
