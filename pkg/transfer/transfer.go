// Package transfer is the standard job type: fetch the source artifact,
// stage it locally, push it to the owner's destination. It plugs the three
// registry axes for that pipeline: fetch dispatch and phase classification,
// cancellation cleanup of staged data, and stale-job recovery.
package transfer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/3leaps/gohaul/pkg/haul"
	"github.com/3leaps/gohaul/pkg/registry"
	"github.com/3leaps/gohaul/pkg/scheduler"
)

// JobType is the registry discriminator for standard transfers.
const JobType = "transfer"

// Handler dispatches and classifies the standard transfer pipeline.
type Handler struct {
	sched      scheduler.Enqueuer
	stagingDir string
	logger     *zap.Logger
}

var (
	_ registry.JobTypeHandler      = (*Handler)(nil)
	_ registry.CancellationHandler = (*Handler)(nil)
)

func New(sched scheduler.Enqueuer, stagingDir string, logger *zap.Logger) *Handler {
	return &Handler{sched: sched, stagingDir: stagingDir, logger: logger}
}

func (h *Handler) Type() string { return JobType }

func (h *Handler) EnqueueFetch(ctx context.Context, jobID string) (string, error) {
	return h.sched.Enqueue(ctx, scheduler.TaskFetch, jobID)
}

func (h *Handler) FailedStatuses() []haul.Status {
	return []haul.Status{haul.StatusFetchFailed, haul.StatusPushFailed, haul.StatusFailed}
}

// IsPushPhase classifies every push-side status, including the push failure
// terminal, so retries of a failed push resume at the push phase.
func (h *Handler) IsPushPhase(s haul.Status) bool {
	switch s {
	case haul.StatusPendingPush, haul.StatusPushing, haul.StatusPushRetry, haul.StatusPushFailed:
		return true
	}
	return false
}

// Cancel removes the job's staged data. Paths outside the staging directory
// are never touched.
func (h *Handler) Cancel(_ context.Context, j *haul.Job) error {
	if j.LocalPath == "" {
		return nil
	}
	within, err := withinDir(h.stagingDir, j.LocalPath)
	if err != nil {
		return fmt.Errorf("resolve staged path: %w", err)
	}
	if !within {
		h.logger.Warn("staged path outside staging dir left alone",
			zap.String("job_id", j.ID), zap.String("path", j.LocalPath))
		return nil
	}
	if err := os.RemoveAll(j.LocalPath); err != nil {
		return fmt.Errorf("remove staged data: %w", err)
	}
	h.logger.Info("staged data removed",
		zap.String("job_id", j.ID), zap.String("path", j.LocalPath))
	return nil
}

func withinDir(dir, path string) (bool, error) {
	if dir == "" {
		return false, nil
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false, err
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false, err
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return false, err
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)), nil
}
