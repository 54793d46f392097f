// Package schedsync reconciles scheduler-side task failures into job state.
// The scheduler reports a failed task by its opaque handle; the sync finds the
// owning job, classifies the failure by the phase the handle belongs to, and
// applies exactly one terminal transition. Redelivered notifications for an
// already-terminal job are dropped.
package schedsync

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/3leaps/gohaul/pkg/haul"
	"github.com/3leaps/gohaul/pkg/lifecycle"
	"github.com/3leaps/gohaul/pkg/registry"
	"github.com/3leaps/gohaul/pkg/scheduler"
)

// Service maps scheduler failure notifications onto job transitions.
type Service struct {
	store  haul.Store
	life   *lifecycle.Service
	reg    *registry.Registry
	logger *zap.Logger
}

func New(store haul.Store, life *lifecycle.Service, reg *registry.Registry, logger *zap.Logger) *Service {
	return &Service{store: store, life: life, reg: reg, logger: logger}
}

// HandleTaskFailure records a failed external task against its job. An
// unknown handle is benign (the job may have been retried and its handle
// replaced), as is a notification for a job that already reached a terminal
// status.
func (s *Service) HandleTaskFailure(ctx context.Context, handle, errMsg string) error {
	j, err := s.store.GetJobByHandle(ctx, handle)
	if errors.Is(err, haul.ErrNotFound) {
		s.logger.Info("failure notification for unknown task handle dropped",
			zap.String("handle", handle))
		return nil
	}
	if err != nil {
		return fmt.Errorf("look up job by handle: %w", err)
	}

	if j.Status.Terminal() {
		s.logger.Info("failure notification for terminal job dropped",
			zap.String("job_id", j.ID), zap.String("status", string(j.Status)))
		return nil
	}

	to, err := s.classify(j)
	if err != nil {
		return err
	}

	expect := j.Status
	applied, err := s.life.Transition(ctx, j.ID, to, haul.SourceSystem, haul.TransitionSeed{
		ExpectFrom: &expect,
		Error:      errMsg,
		Metadata:   map[string]any{"task_handle": handle},
	})
	if errors.Is(err, haul.ErrStatusChanged) {
		// Someone moved the job while we classified; the next notification or
		// the stale-job monitor settles it.
		s.logger.Info("failure sync lost status race",
			zap.String("job_id", j.ID), zap.String("handle", handle))
		return nil
	}
	if err != nil {
		return err
	}
	if applied {
		s.logger.Warn("job failed",
			zap.String("job_id", j.ID),
			zap.String("status", string(to)),
			zap.String("error", errMsg))
	}
	return nil
}

// classify picks the terminal failure status for the job's current phase:
// push failures keep the staged payload resumable, fetch failures restart
// from scratch, and anything else lands on the generic failure.
func (s *Service) classify(j *haul.Job) (haul.Status, error) {
	handler, err := s.reg.JobType(j.JobType)
	if err != nil {
		return "", err
	}
	if handler.IsPushPhase(j.Status) {
		return haul.StatusPushFailed, nil
	}
	if phase, _ := haul.PhaseOf(j.Status); phase == haul.PhaseFetch {
		return haul.StatusFetchFailed, nil
	}
	return haul.StatusFailed, nil
}

// SyncJob polls the scheduler-side state of the job's outstanding task and
// applies a failure that never arrived as a notification. Used by the
// stale-job monitor before re-dispatching work.
func (s *Service) SyncJob(ctx context.Context, q scheduler.Query, j *haul.Job) error {
	if j.Status.Terminal() {
		return nil
	}
	handle := j.DownloadHandle
	if handler, err := s.reg.JobType(j.JobType); err == nil && handler.IsPushPhase(j.Status) {
		handle = j.UploadHandle
	}
	if handle == "" {
		return nil
	}

	details, err := q.Details(ctx, handle)
	if errors.Is(err, scheduler.ErrTaskNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("poll task %s: %w", handle, err)
	}
	if details == nil || details.State != scheduler.TaskFailed {
		return nil
	}
	errMsg := details.Error
	if errMsg == "" {
		errMsg = "task failed on scheduler"
	}
	return s.HandleTaskFailure(ctx, handle, errMsg)
}
