package model

import (
	"errors"
	"fmt"
	"time"
)

// MessageKind tags a progress-topic payload as an in-flight or terminal event.
type MessageKind string

const (
	// KindProgress marks an in-flight stage/percentage update.
	KindProgress MessageKind = "progress"
	// KindTerminal marks a COMPLETE or FAILED event; no further events follow.
	KindTerminal MessageKind = "terminal"
)

// Valid returns true if the MessageKind is known.
func (k MessageKind) Valid() bool {
	return k == KindProgress || k == KindTerminal
}

const maxPercentage = 100

// ProgressMessage is the unit of the progress event stream. MessageID is
// producer-assigned and used for deduplication; RunID doubles as the bus
// partition key so all messages for one run arrive in order.
type ProgressMessage struct {
	MessageID   string      `json:"message_id"`
	RunID       string      `json:"run_id"`
	Kind        MessageKind `json:"kind"`
	Stage       Stage       `json:"stage"`
	Percentage  float64     `json:"percentage"`
	Description string      `json:"description"`
	Error       string      `json:"error,omitempty"`
}

// Validate checks the tagged-variant rules at the consumption boundary.
// Payloads that fail here are quarantined, never partially applied.
func (m *ProgressMessage) Validate() error {
	if m.MessageID == "" {
		return errors.New("message id is required")
	}
	if m.RunID == "" {
		return errors.New("run id is required")
	}
	if !m.Kind.Valid() {
		return fmt.Errorf("invalid message kind: %q", m.Kind)
	}
	if !m.Stage.Valid() {
		return fmt.Errorf("invalid stage: %q", m.Stage)
	}
	if m.Kind == KindTerminal && !m.Stage.Terminal() {
		return fmt.Errorf("terminal message carries non-terminal stage %q", m.Stage)
	}
	if m.Kind == KindProgress && m.Stage.Terminal() {
		return fmt.Errorf("progress message carries terminal stage %q", m.Stage)
	}
	if m.Percentage < 0 || m.Percentage > maxPercentage {
		return fmt.Errorf("percentage out of range: %v", m.Percentage)
	}
	return nil
}

// State converts the message into the candidate JobState it proposes.
func (m *ProgressMessage) State(now time.Time) JobState {
	return JobState{
		RunID:       m.RunID,
		Stage:       m.Stage,
		Percentage:  m.Percentage,
		Description: m.Description,
		Error:       m.Error,
		LastUpdated: now,
	}
}

// WorkItem is the initial work message published to the work topic by the
// trigger service and consumed by the scraper worker.
type WorkItem struct {
	RunID       string     `json:"run_id"`
	JobTitles   []string   `json:"job_titles"`
	Location    string     `json:"location"`
	TimeFilter  TimeFilter `json:"time_filter"`
	MaxJobs     int        `json:"max_jobs"`
	RequestedAt time.Time  `json:"requested_at"`
}

// HandoffMessage carries an opaque storage descriptor from the scraper to the
// loader. Its presence signals the SCRAPING to LOADING handoff; this service
// never inspects the descriptor.
type HandoffMessage struct {
	RunID      string `json:"run_id"`
	Descriptor string `json:"descriptor"`
}
