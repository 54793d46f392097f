package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/3leaps/gohaul/pkg/haul"
)

// Health handles GET /health and GET /health/live. Liveness only checks that
// the process is serving.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles GET /health/ready. Readiness requires the job store to
// answer.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if err := h.pinger.Ping(); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Version handles GET /version.
func (h *Handler) Version(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"version": h.version})
}

// Stats handles GET /v1/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.orch.GetStatistics(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// ListDestinations handles GET /v1/destinations?owner_id=...
func (h *Handler) ListDestinations(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		h.fail(w, r, haul.E(haul.CodeInvalidArgument, "owner_id query parameter is required"))
		return
	}
	dests, err := h.dests.ListDestinations(r.Context(), ownerID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"destinations": dests})
}

type putDestinationRequest struct {
	ID       string `json:"id,omitempty"`
	OwnerID  string `json:"owner_id"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
	Bucket   string `json:"bucket"`
	Prefix   string `json:"prefix,omitempty"`
	Region   string `json:"region,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
	Active   *bool  `json:"active,omitempty"`
}

// PutDestination handles POST /v1/destinations: create or update a push
// target profile. Omitting id creates a new profile; active defaults true.
func (h *Handler) PutDestination(w http.ResponseWriter, r *http.Request) {
	var req putDestinationRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.OwnerID == "" || req.Name == "" || req.Provider == "" || req.Bucket == "" {
		h.fail(w, r, haul.E(haul.CodeInvalidArgument, "owner_id, name, provider, and bucket are required"))
		return
	}

	d := &haul.Destination{
		ID:        req.ID,
		OwnerID:   req.OwnerID,
		Name:      req.Name,
		Provider:  req.Provider,
		Bucket:    req.Bucket,
		Prefix:    req.Prefix,
		Region:    req.Region,
		Endpoint:  req.Endpoint,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if req.Active != nil {
		d.Active = *req.Active
	}
	status := http.StatusOK
	if d.ID == "" {
		d.ID = uuid.New().String()
		status = http.StatusCreated
	}

	if err := h.dests.PutDestination(r.Context(), d); err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, status, d)
}
