package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/3leaps/gohaul/pkg/haul"
	"github.com/3leaps/gohaul/pkg/orchestrator"
)

type createJobRequest struct {
	OwnerID       string `json:"owner_id"`
	SourceRef     string `json:"source_ref"`
	JobType       string `json:"job_type"`
	DestinationID string `json:"destination_id,omitempty"`
	Subset        string `json:"subset,omitempty"`
	ActorID       string `json:"actor_id,omitempty"`
}

// CreateJob handles POST /v1/jobs.
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.orch.Create(r.Context(), orchestrator.CreateRequest{
		OwnerID:       req.OwnerID,
		SourceRef:     req.SourceRef,
		JobType:       req.JobType,
		DestinationID: req.DestinationID,
		Subset:        req.Subset,
	}, actorFrom(r, req.ActorID, ""))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, res)
}

// GetJob handles GET /v1/jobs/{jobID}.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	jv, err := h.orch.GetJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, jv)
}

// ListJobs handles GET /v1/jobs?owner_id=...&limit=...&offset=...
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		h.fail(w, r, haul.E(haul.CodeInvalidArgument, "owner_id query parameter is required"))
		return
	}
	opts := haul.ListOpts{
		Limit:  queryInt(r, "limit"),
		Offset: queryInt(r, "offset"),
	}
	jobs, err := h.orch.GetUserJobs(r.Context(), ownerID, opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// GetTimeline handles GET /v1/jobs/{jobID}/timeline.
func (h *Handler) GetTimeline(w http.ResponseWriter, r *http.Request) {
	page := haul.TimelinePage{
		Limit:  queryInt(r, "limit"),
		Offset: queryInt(r, "offset"),
	}
	entries, err := h.orch.GetTimeline(r.Context(), chi.URLParam(r, "jobID"), page)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"timeline": entries})
}

type actionRequest struct {
	ActorID string `json:"actor_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func (h *Handler) decodeAction(r *http.Request) (orchestrator.Actor, error) {
	var req actionRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			return orchestrator.Actor{}, err
		}
	}
	return actorFrom(r, req.ActorID, req.Reason), nil
}

// RetryJob handles POST /v1/jobs/{jobID}/retry.
func (h *Handler) RetryJob(w http.ResponseWriter, r *http.Request) {
	actor, err := h.decodeAction(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.orch.Retry(r.Context(), chi.URLParam(r, "jobID"), actor); err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "retrying"})
}

// CancelJob handles POST /v1/jobs/{jobID}/cancel.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	actor, err := h.decodeAction(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.orch.Cancel(r.Context(), chi.URLParam(r, "jobID"), actor); err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// RefundJob handles POST /v1/jobs/{jobID}/refund.
func (h *Handler) RefundJob(w http.ResponseWriter, r *http.Request) {
	actor, err := h.decodeAction(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.orch.Refund(r.Context(), chi.URLParam(r, "jobID"), actor); err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "refunded"})
}

func queryInt(r *http.Request, name string) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
