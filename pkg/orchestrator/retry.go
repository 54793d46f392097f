package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/3leaps/gohaul/pkg/haul"
	"github.com/3leaps/gohaul/pkg/scheduler"
)

// Retry re-dispatches a failed job. A push-side failure resumes at the push
// phase with the staged payload intact; anything else restarts the fetch from
// scratch. Only failed-terminal jobs are eligible; the conditional transition
// guarantees at most one of two racing retries re-enqueues work.
func (o *Orchestrator) Retry(ctx context.Context, jobID string, actor Actor) error {
	j, err := o.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	if err := retryEligible(j); err != nil {
		return err
	}

	handler, err := o.reg.JobType(j.JobType)
	if err != nil {
		return err
	}
	dest, err := o.resolveDestination(ctx, j)
	if err != nil {
		return err
	}

	if handler.IsPushPhase(j.Status) {
		return o.resumePush(ctx, j, dest.Provider, actor)
	}
	return o.restartFetch(ctx, j, handler.EnqueueFetch, actor)
}

func retryEligible(j *haul.Job) error {
	switch {
	case j.Status == haul.StatusCompleted:
		return haul.E(haul.CodeJobCompleted, "job %s already completed", j.ID)
	case j.Status == haul.StatusCancelled:
		return haul.E(haul.CodeJobCancelled, "job %s was cancelled", j.ID)
	case j.Refunded:
		return haul.E(haul.CodeJobRefunded, "job %s was refunded", j.ID)
	case j.Status.Active():
		return haul.E(haul.CodeJobActive, "job %s is still in progress", j.ID)
	}
	return nil
}

// resumePush moves a push-failed job back into the push phase, keeping the
// staged payload and fetch-side state.
func (o *Orchestrator) resumePush(ctx context.Context, j *haul.Job, provider string, actor Actor) error {
	prov, err := o.reg.Provider(provider)
	if err != nil {
		return err
	}

	expect := j.Status
	if _, err := o.life.Transition(ctx, j.ID, haul.StatusPushRetry, actor.Source, haul.TransitionSeed{
		ExpectFrom:        &expect,
		ClearError:        true,
		ClearUploadHandle: true,
		ClearNextRetry:    true,
		IncrementRetry:    true,
		Metadata:          actor.metadata(),
	}); err != nil {
		if errors.Is(err, haul.ErrStatusChanged) {
			return haul.E(haul.CodeJobActive, "job %s was already retried", j.ID)
		}
		return err
	}

	scheduler.CancelTask(ctx, o.sched, j.UploadHandle, o.logger)

	handle, err := prov.EnqueuePush(ctx, j.ID)
	if err != nil {
		// Leave the job retrying; the stale-job monitor re-dispatches it.
		o.logger.Error("push re-enqueue failed",
			zap.String("job_id", j.ID), zap.Error(err))
		return fmt.Errorf("enqueue push: %w", err)
	}
	if err := o.store.SetHandles(ctx, j.ID, nil, &handle); err != nil {
		return fmt.Errorf("record push handle: %w", err)
	}

	o.logger.Info("job retry resumed push",
		zap.String("job_id", j.ID), zap.Int("retry_count", j.RetryCount+1))
	return nil
}

// restartFetch puts a failed job back at the start of the pipeline, clearing
// both task handles and the progress counters.
func (o *Orchestrator) restartFetch(ctx context.Context, j *haul.Job, enqueue func(context.Context, string) (string, error), actor Actor) error {
	expect := j.Status
	if _, err := o.life.Transition(ctx, j.ID, haul.StatusFetchRetry, actor.Source, haul.TransitionSeed{
		ExpectFrom:          &expect,
		ClearError:          true,
		ClearDownloadHandle: true,
		ClearUploadHandle:   true,
		ClearNextRetry:      true,
		ResetProgress:       true,
		IncrementRetry:      true,
		Metadata:            actor.metadata(),
	}); err != nil {
		if errors.Is(err, haul.ErrStatusChanged) {
			return haul.E(haul.CodeJobActive, "job %s was already retried", j.ID)
		}
		return err
	}

	scheduler.CancelTask(ctx, o.sched, j.DownloadHandle, o.logger)
	scheduler.CancelTask(ctx, o.sched, j.UploadHandle, o.logger)

	handle, err := enqueue(ctx, j.ID)
	if err != nil {
		o.logger.Error("fetch re-enqueue failed",
			zap.String("job_id", j.ID), zap.Error(err))
		return fmt.Errorf("enqueue fetch: %w", err)
	}
	if err := o.store.SetHandles(ctx, j.ID, &handle, nil); err != nil {
		return fmt.Errorf("record fetch handle: %w", err)
	}

	o.logger.Info("job retry restarted fetch",
		zap.String("job_id", j.ID), zap.Int("retry_count", j.RetryCount+1))
	return nil
}
