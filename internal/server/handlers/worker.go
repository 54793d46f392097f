package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/3leaps/gohaul/pkg/haul"
)

// Worker callback endpoints. These are called by transfer workers as a job
// moves through its phases, so every response is intentionally small.

// MarkStarted handles POST /v1/jobs/{jobID}/started.
func (h *Handler) MarkStarted(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.MarkStarted(r.Context(), chi.URLParam(r, "jobID")); err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

// Heartbeat handles POST /v1/jobs/{jobID}/heartbeat.
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.UpdateHeartbeat(r.Context(), chi.URLParam(r, "jobID")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type progressRequest struct {
	FetchedBytes int64 `json:"fetched_bytes"`
}

// Progress handles POST /v1/jobs/{jobID}/progress.
func (h *Handler) Progress(w http.ResponseWriter, r *http.Request) {
	var req progressRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.orch.UpdateProgress(r.Context(), chi.URLParam(r, "jobID"), req.FetchedBytes); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type advanceRequest struct {
	Status     haul.Status `json:"status"`
	LocalPath  string      `json:"local_path,omitempty"`
	TotalBytes int64       `json:"total_bytes,omitempty"`
}

// AdvanceStatus handles POST /v1/jobs/{jobID}/status. Workers report phase
// completion here; optional local_path and total_bytes are recorded before
// the status moves.
func (h *Handler) AdvanceStatus(w http.ResponseWriter, r *http.Request) {
	var req advanceRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	jobID := chi.URLParam(r, "jobID")

	if req.LocalPath != "" {
		if err := h.orch.SetLocalPath(r.Context(), jobID, req.LocalPath); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	if req.TotalBytes > 0 {
		if err := h.orch.SetTotalBytes(r.Context(), jobID, req.TotalBytes); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	if err := h.orch.AdvanceStatus(r.Context(), jobID, req.Status); err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": string(req.Status)})
}

type taskFailureRequest struct {
	TaskHandle string `json:"task_handle"`
	Error      string `json:"error"`
}

// TaskFailure handles POST /v1/tasks/failures: the scheduler's dead-task
// notification webhook.
func (h *Handler) TaskFailure(w http.ResponseWriter, r *http.Request) {
	var req taskFailureRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.TaskHandle == "" {
		h.fail(w, r, haul.E(haul.CodeInvalidArgument, "task_handle is required"))
		return
	}
	if err := h.sync.HandleTaskFailure(r.Context(), req.TaskHandle, req.Error); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
