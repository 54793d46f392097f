package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/3leaps/gohaul/pkg/haul"
)

// Worker-facing operations: liveness, progress, and phase advancement.
// Workers never write status directly; every phase change funnels through
// AdvanceStatus so the timeline stays complete.

// UpdateHeartbeat records worker liveness. Heartbeats for terminal jobs are
// dropped silently since the worker is about to learn the job is done.
func (o *Orchestrator) UpdateHeartbeat(ctx context.Context, jobID string) error {
	j, err := o.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	if j.Status.Terminal() {
		return nil
	}
	return o.store.UpdateHeartbeat(ctx, jobID, o.now())
}

// UpdateProgress records fetched bytes and doubles as a heartbeat.
func (o *Orchestrator) UpdateProgress(ctx context.Context, jobID string, fetchedBytes int64) error {
	if fetchedBytes < 0 {
		return haul.E(haul.CodeInvalidArgument, "fetched bytes must be non-negative")
	}
	j, err := o.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	if j.Status.Terminal() {
		return nil
	}
	if err := o.store.UpdateProgress(ctx, jobID, fetchedBytes); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return o.store.UpdateHeartbeat(ctx, jobID, o.now())
}

// MarkStarted records execution start and moves the job from its entry or
// retry status into the running status of its phase. Idempotent: a job
// already running keeps its original start time.
func (o *Orchestrator) MarkStarted(ctx context.Context, jobID string) error {
	j, err := o.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	if j.Status.Terminal() {
		return nil
	}

	if err := o.store.MarkStarted(ctx, jobID, o.now()); err != nil {
		return fmt.Errorf("mark started: %w", err)
	}
	if err := o.store.UpdateHeartbeat(ctx, jobID, o.now()); err != nil {
		return fmt.Errorf("record heartbeat: %w", err)
	}

	running := runningStatus(j.Status)
	if running == j.Status {
		return nil
	}
	_, err = o.life.Transition(ctx, jobID, running, haul.SourceWorker, haul.TransitionSeed{ClearNextRetry: true})
	return err
}

// runningStatus maps a phase-entry or retry status to its running status.
// Already-running statuses map to themselves.
func runningStatus(s haul.Status) haul.Status {
	switch s {
	case haul.StatusQueued, haul.StatusFetchRetry:
		return haul.StatusFetching
	case haul.StatusStageRetry:
		return haul.StatusStaging
	case haul.StatusPendingPush, haul.StatusPushRetry:
		return haul.StatusPushing
	}
	return s
}

// phaseRank orders the pipeline for forward-only enforcement.
var phaseRank = map[haul.Phase]int{
	haul.PhaseFetch:    1,
	haul.PhaseStage:    2,
	haul.PhasePush:     3,
	haul.PhaseTerminal: 4,
}

// AdvanceStatus moves a job forward through the pipeline on behalf of a
// worker: fetching into staging, staging into pending-push, pushing into
// completed. Entering the push phase enqueues the push task with the
// destination's provider. Backward moves and failure statuses are rejected;
// failures arrive through the scheduler failure sync instead.
func (o *Orchestrator) AdvanceStatus(ctx context.Context, jobID string, to haul.Status) error {
	toPhase, ok := haul.PhaseOf(to)
	if !ok {
		return haul.E(haul.CodeInvalidArgument, "status %q is not in the closed set", to)
	}
	if to.FailedTerminal() || to == haul.StatusCancelled || to.Retrying() {
		return haul.E(haul.CodeInvalidArgument, "workers cannot move a job to %q", to)
	}

	j, err := o.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	if j.Status.Terminal() {
		if j.Status == to {
			return nil
		}
		return haul.E(haul.CodeJobCompleted, "job %s already finished as %s", j.ID, j.Status)
	}
	fromPhase, _ := haul.PhaseOf(j.Status)
	if phaseRank[toPhase] < phaseRank[fromPhase] {
		return haul.E(haul.CodeInvalidArgument, "job %s cannot move from %s back to %s", j.ID, j.Status, to)
	}

	expect := j.Status
	seed := haul.TransitionSeed{ExpectFrom: &expect}
	if to == haul.StatusCompleted {
		seed.ClearError = true
	}
	if _, err := o.life.Transition(ctx, jobID, to, haul.SourceWorker, seed); err != nil {
		return err
	}

	if to == haul.StatusPendingPush {
		if err := o.enqueuePush(ctx, j); err != nil {
			// Stays pending; the stale-job monitor re-dispatches it.
			o.logger.Error("push enqueue failed",
				zap.String("job_id", j.ID), zap.Error(err))
			return err
		}
	}
	return nil
}

// SetLocalPath records where the staged payload lives on shared storage.
func (o *Orchestrator) SetLocalPath(ctx context.Context, jobID, path string) error {
	if path == "" {
		return haul.E(haul.CodeInvalidArgument, "local path is required")
	}
	if _, err := o.loadJob(ctx, jobID); err != nil {
		return err
	}
	return o.store.SetLocalPath(ctx, jobID, path)
}

// SetTotalBytes records the payload size once the fetch discovers it.
func (o *Orchestrator) SetTotalBytes(ctx context.Context, jobID string, total int64) error {
	if total < 0 {
		return haul.E(haul.CodeInvalidArgument, "total bytes must be non-negative")
	}
	if _, err := o.loadJob(ctx, jobID); err != nil {
		return err
	}
	return o.store.SetTotalBytes(ctx, jobID, total)
}

func (o *Orchestrator) enqueuePush(ctx context.Context, j *haul.Job) error {
	dest, err := o.resolveDestination(ctx, j)
	if err != nil {
		return err
	}
	prov, err := o.reg.Provider(dest.Provider)
	if err != nil {
		return err
	}
	handle, err := prov.EnqueuePush(ctx, j.ID)
	if err != nil {
		return fmt.Errorf("enqueue push: %w", err)
	}
	if err := o.store.SetHandles(ctx, j.ID, nil, &handle); err != nil {
		return fmt.Errorf("record push handle: %w", err)
	}
	return nil
}
