package model

// Realtime channel message types (server to client).
const (
	// EventInitialState is sent once per connection, immediately on connect.
	EventInitialState = "initial_state"
	// EventStatusUpdate is sent per accepted registry delta.
	EventStatusUpdate = "status_update"
	// EventPipelineError is sent on an unrecoverable ingestion-side fault tied to a run.
	EventPipelineError = "pipeline_error"
)

// InitialState is the snapshot frame sent to a newly connected subscriber
// before any deltas, so no update between snapshot and subscription is lost.
type InitialState struct {
	Type string     `json:"type"`
	Jobs []JobState `json:"jobs"`
}

// NewInitialState wraps a registry snapshot in its realtime envelope.
func NewInitialState(jobs []JobState) InitialState {
	if jobs == nil {
		jobs = []JobState{}
	}
	return InitialState{Type: EventInitialState, Jobs: jobs}
}

// StatusDelta is the payload of a status_update frame. Status carries the
// stage name; updates are idempotent snapshots of monotonic state, so a
// client that misses one converges on the next.
type StatusDelta struct {
	RunID       string  `json:"run_id"`
	Percentage  float64 `json:"percentage"`
	Description string  `json:"description"`
	Status      Stage   `json:"status"`
	Error       string  `json:"error,omitempty"`
}

// StatusUpdate is the delta frame pushed after each accepted registry apply.
type StatusUpdate struct {
	Type string      `json:"type"`
	Data StatusDelta `json:"data"`
}

// NewStatusUpdate wraps an applied JobState in its realtime envelope.
func NewStatusUpdate(state JobState) StatusUpdate {
	return StatusUpdate{
		Type: EventStatusUpdate,
		Data: StatusDelta{
			RunID:       state.RunID,
			Percentage:  state.Percentage,
			Description: state.Description,
			Status:      state.Stage,
			Error:       state.Error,
		},
	}
}

// PipelineError reports an unrecoverable ingestion-side fault for a run.
type PipelineError struct {
	Type string            `json:"type"`
	Data PipelineErrorData `json:"data"`
}

// PipelineErrorData carries the fault description.
type PipelineErrorData struct {
	RunID string `json:"run_id,omitempty"`
	Error string `json:"error"`
}

// NewPipelineError wraps a run-scoped fault in its realtime envelope.
func NewPipelineError(runID, message string) PipelineError {
	return PipelineError{
		Type: EventPipelineError,
		Data: PipelineErrorData{RunID: runID, Error: message},
	}
}
