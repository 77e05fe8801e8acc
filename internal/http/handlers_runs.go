package httpx

import (
	"net/http"

	"github.com/jobsift/pipeline-api/internal/domain/model"
	"github.com/jobsift/pipeline-api/internal/registry"
	"github.com/jobsift/pipeline-api/internal/trigger"
)

// RunHandlers serves the pipeline trigger and run inspection endpoints.
type RunHandlers struct {
	Trigger  *trigger.Service
	Registry *registry.Registry
}

// triggerResponse is the accepted-run envelope returned by POST /api/scrapes.
type triggerResponse struct {
	RunID  string      `json:"run_id"`
	Status model.Stage `json:"status"`
}

// handleTrigger starts a pipeline run.
// POST /api/scrapes
func (h *RunHandlers) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req model.TriggerRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	run, err := h.Trigger.Trigger(r.Context(), req)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, triggerResponse{RunID: run.RunID, Status: model.StagePending})
}

// handleListRuns returns the current state of every tracked run.
// GET /api/runs
func (h *RunHandlers) handleListRuns(w http.ResponseWriter, _ *http.Request) {
	runs := h.Registry.Snapshot()
	if runs == nil {
		runs = []model.JobState{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// handleGetRun returns the state of one run.
// GET /api/runs/{id}
func (h *RunHandlers) handleGetRun(w http.ResponseWriter, r *http.Request) {
	state, err := h.Registry.Get(r.PathValue("id"))
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, state)
}

// handleDeleteRun drops a run's record from the registry. Idempotent.
// DELETE /api/runs/{id}
func (h *RunHandlers) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	h.Registry.Delete(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func registerRunRoutes(mux *http.ServeMux, h *RunHandlers) {
	mux.Handle("POST /api/scrapes", http.HandlerFunc(h.handleTrigger))
	mux.Handle("GET /api/runs", http.HandlerFunc(h.handleListRuns))
	mux.Handle("GET /api/runs/{id}", http.HandlerFunc(h.handleGetRun))
	mux.Handle("DELETE /api/runs/{id}", http.HandlerFunc(h.handleDeleteRun))
}
