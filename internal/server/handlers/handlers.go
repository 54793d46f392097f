// Package handlers implements the HTTP API endpoints.
package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	apperrors "github.com/3leaps/gohaul/internal/errors"
	"github.com/3leaps/gohaul/pkg/haul"
	"github.com/3leaps/gohaul/pkg/orchestrator"
	"github.com/3leaps/gohaul/pkg/schedsync"
)

// Pinger reports storage liveness for readiness checks.
type Pinger interface {
	Ping() error
}

// Handler bundles the API endpoints and their dependencies.
type Handler struct {
	orch    *orchestrator.Orchestrator
	sync    *schedsync.Service
	dests   haul.DestinationStore
	pinger  Pinger
	logger  *zap.Logger
	version string
}

func New(orch *orchestrator.Orchestrator, sync *schedsync.Service, dests haul.DestinationStore, pinger Pinger, logger *zap.Logger, version string) *Handler {
	return &Handler{
		orch:    orch,
		sync:    sync,
		dests:   dests,
		pinger:  pinger,
		logger:  logger,
		version: version,
	}
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// decodeJSON parses the request body, rejecting unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return haul.E(haul.CodeInvalidArgument, "invalid request body: %v", err)
	}
	return nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if _, ok := haul.CodeOf(err); !ok {
		h.logger.Error("request failed",
			zap.String("path", r.URL.Path), zap.Error(err))
	}
	apperrors.RespondWithError(w, r, err)
}

// actorFrom builds the acting identity for user-initiated operations. The
// admin flag comes from the X-Actor-Source header; callers without it act as
// regular users.
func actorFrom(r *http.Request, actorID, reason string) orchestrator.Actor {
	source := haul.SourceUser
	if r.Header.Get("X-Actor-Source") == "admin" {
		source = haul.SourceAdmin
	}
	return orchestrator.Actor{Source: source, ID: actorID, Reason: reason}
}
