package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/3leaps/gohaul/pkg/distlock"
	"github.com/3leaps/gohaul/pkg/haul"
	"github.com/3leaps/gohaul/pkg/scheduler"
)

// Cancel stops a job that has not yet entered the push phase, cleans up its
// scheduled tasks and destination lock, and best-effort refunds any paid
// charge. A refund failure is logged and never reverts the cancellation.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string, actor Actor) error {
	j, err := o.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	switch j.Status {
	case haul.StatusCompleted:
		return haul.E(haul.CodeJobCompleted, "job %s already completed", j.ID)
	case haul.StatusCancelled:
		return haul.E(haul.CodeJobCancelled, "job %s already cancelled", j.ID)
	}

	handler, err := o.reg.JobType(j.JobType)
	if err != nil {
		return err
	}
	if handler.IsPushPhase(j.Status) && !j.Status.FailedTerminal() {
		return haul.E(haul.CodePushInProgress, "job %s is pushing to the destination", j.ID)
	}

	expect := j.Status
	if _, err := o.life.Transition(ctx, j.ID, haul.StatusCancelled, actor.Source, haul.TransitionSeed{
		ExpectFrom: &expect,
		Metadata:   actor.metadata(),
	}); err != nil {
		if errors.Is(err, haul.ErrStatusChanged) {
			return o.classifyCancelRace(ctx, j.ID)
		}
		return err
	}

	scheduler.CancelTask(ctx, o.sched, j.DownloadHandle, o.logger)
	scheduler.CancelTask(ctx, o.sched, j.UploadHandle, o.logger)

	if canceller, err := o.reg.Canceller(j.JobType); err == nil {
		if err := canceller.Cancel(ctx, j); err != nil {
			o.logger.Warn("cancellation handler cleanup failed",
				zap.String("job_id", j.ID), zap.Error(err))
		}
	}

	o.releaseDestinationLock(ctx, j)

	if err := o.refund(ctx, j.ID, haul.StatusCancelled, Actor{Source: haul.SourceSystem, Reason: "cancel"}); err != nil {
		if !haul.IsCode(err, haul.CodeNoCharge) && !haul.IsCode(err, haul.CodeAlreadyRefunded) {
			o.logger.Warn("refund on cancel failed",
				zap.String("job_id", j.ID), zap.Error(err))
		}
	}

	o.logger.Info("job cancelled",
		zap.String("job_id", j.ID), zap.String("from", string(expect)))
	return nil
}

// classifyCancelRace re-reads a job whose cancel lost a status race and maps
// the landed status to the rejection the caller would have gotten.
func (o *Orchestrator) classifyCancelRace(ctx context.Context, jobID string) error {
	j, err := o.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	switch j.Status {
	case haul.StatusCancelled:
		// Someone else cancelled first; same outcome.
		return nil
	case haul.StatusCompleted:
		return haul.E(haul.CodeJobCompleted, "job %s completed before cancel", j.ID)
	default:
		return haul.E(haul.CodeJobActive, "job %s changed status during cancel", j.ID)
	}
}

// releaseDestinationLock drops the destination-side lock if the provider
// holds one for this job. Failures are logged only.
func (o *Orchestrator) releaseDestinationLock(ctx context.Context, j *haul.Job) {
	if j.DestinationID == "" {
		return
	}
	d, err := o.dests.GetDestination(ctx, j.DestinationID)
	if err != nil {
		o.logger.Warn("destination lookup failed during lock release",
			zap.String("job_id", j.ID), zap.Error(err))
		return
	}
	prov, err := o.reg.Provider(d.Provider)
	if err != nil {
		o.logger.Warn("provider unresolved during lock release",
			zap.String("job_id", j.ID), zap.String("provider", d.Provider))
		return
	}
	released, err := prov.ReleaseLock(ctx, j.ID)
	if err != nil {
		o.logger.Warn("destination lock release failed",
			zap.String("job_id", j.ID), zap.Error(err))
		return
	}
	if released {
		o.logger.Info("destination lock released", zap.String("job_id", j.ID))
	}
}

// Refund reverses the charge of a failed job. The operation takes a
// per-owner ledger lease so concurrent refund attempts serialize; a held
// lease surfaces as a retryable busy rejection.
func (o *Orchestrator) Refund(ctx context.Context, jobID string, actor Actor) error {
	j, err := o.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !j.Status.FailedTerminal() {
		return haul.E(haul.CodeNotFailed, "job %s is not in a failed status", j.ID)
	}
	return o.refund(ctx, j.ID, j.Status, actor)
}

// refund performs the guarded refund for a job already verified to be in
// status. Strict mode: every precondition failure is a coded rejection.
func (o *Orchestrator) refund(ctx context.Context, jobID string, status haul.Status, actor Actor) error {
	j, err := o.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	if j.Refunded {
		return haul.E(haul.CodeAlreadyRefunded, "job %s was already refunded", j.ID)
	}

	charge, err := o.ledger.ChargeForJob(ctx, j.ID)
	if err != nil {
		return fmt.Errorf("look up charge: %w", err)
	}
	if charge == nil || !charge.Paid {
		return haul.E(haul.CodeNoCharge, "job %s has no paid charge", j.ID)
	}
	if charge.Refunded {
		return haul.E(haul.CodeAlreadyRefunded, "charge %s was already refunded", charge.ID)
	}

	lease, err := o.acquireLedgerLease(ctx, j.OwnerID)
	if err != nil {
		return err
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			o.logger.Warn("ledger lease release failed",
				zap.String("job_id", j.ID), zap.Error(err))
		}
	}()

	if err := o.ledger.Refund(ctx, charge.ID); err != nil {
		return fmt.Errorf("refund charge %s: %w", charge.ID, err)
	}
	if err := o.store.SetRefunded(ctx, j.ID, true); err != nil {
		return fmt.Errorf("mark refunded: %w", err)
	}

	// Same-status transition with metadata: records the refund in the
	// timeline without moving the job.
	meta := actor.metadata()
	meta["refund_charge_id"] = charge.ID
	meta["refund_amount_cents"] = charge.AmountCents
	if _, err := o.life.Transition(ctx, j.ID, status, haul.SourceSystem, haul.TransitionSeed{Metadata: meta}); err != nil {
		o.logger.Warn("refund timeline entry failed",
			zap.String("job_id", j.ID), zap.Error(err))
	}

	o.logger.Info("job refunded",
		zap.String("job_id", j.ID),
		zap.String("charge_id", charge.ID),
		zap.Int64("amount_cents", charge.AmountCents))
	return nil
}

func (o *Orchestrator) acquireLedgerLease(ctx context.Context, ownerID string) (distlock.Lease, error) {
	lockCtx, cancel := context.WithTimeout(ctx, o.cfg.LockTimeout)
	defer cancel()
	lease, err := o.lock.Acquire(lockCtx, "ledger:"+ownerID, o.cfg.LockTTL)
	if errors.Is(err, distlock.ErrNotAcquired) {
		return nil, haul.E(haul.CodeLockBusy, "ledger for owner %s is busy", ownerID)
	}
	if err != nil {
		return nil, fmt.Errorf("acquire ledger lease: %w", err)
	}
	return lease, nil
}
