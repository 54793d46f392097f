package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/gohaul/pkg/haul"
	"github.com/3leaps/gohaul/pkg/subset"
)

// CreateRequest describes a new transfer job.
type CreateRequest struct {
	OwnerID       string `json:"owner_id"`
	SourceRef     string `json:"source_ref"`
	JobType       string `json:"job_type"`
	DestinationID string `json:"destination_id,omitempty"`
	Subset        string `json:"subset,omitempty"`
}

// CreateResult reports the accepted job.
type CreateResult struct {
	JobID         string      `json:"job_id"`
	DestinationID string      `json:"destination_id"`
	Status        haul.Status `json:"status"`
}

// Create validates the request, enforces the single-active-job-per-source
// rule, persists the job with its initial timeline entry, publishes a
// creation event, and enqueues the fetch task.
func (o *Orchestrator) Create(ctx context.Context, req CreateRequest, actor Actor) (*CreateResult, error) {
	if strings.TrimSpace(req.OwnerID) == "" || strings.TrimSpace(req.SourceRef) == "" {
		return nil, haul.E(haul.CodeInvalidArgument, "owner_id and source_ref are required")
	}
	if req.Subset != "" {
		if err := subset.Validate(req.Subset); err != nil {
			return nil, haul.E(haul.CodeInvalidArgument, "invalid subset: %v", err)
		}
	}

	handler, err := o.reg.JobType(req.JobType)
	if err != nil {
		return nil, err
	}

	dest, err := o.pickDestination(ctx, req)
	if err != nil {
		return nil, err
	}

	totalBytes, err := o.probeSource(ctx, req.SourceRef)
	if err != nil {
		return nil, err
	}

	// Read-side check first for a precise rejection code; the store's partial
	// unique index backstops the race.
	if existing, err := o.store.FindActiveBySource(ctx, req.OwnerID, req.SourceRef); err == nil {
		if existing.Status.Retrying() {
			return nil, haul.E(haul.CodeJobRetrying, "job %s for this source is retrying", existing.ID)
		}
		return nil, haul.E(haul.CodeJobAlreadyExists, "job %s for this source is already active", existing.ID)
	} else if !errors.Is(err, haul.ErrNotFound) {
		return nil, fmt.Errorf("check active jobs: %w", err)
	}

	now := o.now()
	j := &haul.Job{
		ID:            uuid.New().String(),
		OwnerID:       req.OwnerID,
		JobType:       req.JobType,
		DestinationID: dest.ID,
		Status:        haul.StatusQueued,
		SourceRef:     req.SourceRef,
		Subset:        req.Subset,
		TotalBytes:    totalBytes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := o.life.RecordInitial(ctx, j, actor.Source, actor.metadata()); err != nil {
		return nil, err
	}

	if o.pub != nil {
		if _, err := o.pub.PublishCreated(ctx, j.ID, j.OwnerID, j.JobType); err != nil {
			// The fetch enqueue below dispatches the work either way.
			o.logger.Warn("creation event publish failed",
				zap.String("job_id", j.ID), zap.Error(err))
		}
	}

	handle, err := handler.EnqueueFetch(ctx, j.ID)
	if err != nil {
		// The job stays queued; the stale-job monitor re-dispatches it.
		o.logger.Error("fetch enqueue failed at creation",
			zap.String("job_id", j.ID), zap.Error(err))
		return nil, fmt.Errorf("enqueue fetch: %w", err)
	}
	if err := o.store.SetHandles(ctx, j.ID, &handle, nil); err != nil {
		return nil, fmt.Errorf("record fetch handle: %w", err)
	}

	o.logger.Info("job created",
		zap.String("job_id", j.ID),
		zap.String("owner_id", j.OwnerID),
		zap.String("job_type", j.JobType),
		zap.String("destination_id", dest.ID))

	return &CreateResult{JobID: j.ID, DestinationID: dest.ID, Status: haul.StatusQueued}, nil
}

func (o *Orchestrator) pickDestination(ctx context.Context, req CreateRequest) (*haul.Destination, error) {
	if req.DestinationID != "" {
		d, err := o.dests.GetDestination(ctx, req.DestinationID)
		if errors.Is(err, haul.ErrNotFound) {
			return nil, haul.E(haul.CodeNoDestination, "destination %s not found", req.DestinationID)
		}
		if err != nil {
			return nil, fmt.Errorf("load destination: %w", err)
		}
		if !d.Active {
			return nil, haul.E(haul.CodeNoDestination, "destination %s is inactive", d.ID)
		}
		return d, nil
	}
	d, err := o.dests.DefaultDestination(ctx, req.OwnerID)
	if errors.Is(err, haul.ErrNotFound) {
		return nil, haul.E(haul.CodeNoDestination, "owner %s has no active destination", req.OwnerID)
	}
	if err != nil {
		return nil, fmt.Errorf("load default destination: %w", err)
	}
	return d, nil
}

func (o *Orchestrator) probeSource(ctx context.Context, sourceRef string) (int64, error) {
	if o.probe == nil {
		return 0, nil
	}
	total, ready, err := o.probe.Probe(ctx, sourceRef)
	if err != nil {
		return 0, fmt.Errorf("probe source: %w", err)
	}
	if !ready {
		return 0, haul.E(haul.CodeSourceNotReady, "source %s is not ready", sourceRef)
	}
	return total, nil
}
