package transfer

import (
	"context"

	"github.com/3leaps/gohaul/pkg/haul"
	"github.com/3leaps/gohaul/pkg/registry"
	"github.com/3leaps/gohaul/pkg/scheduler"
)

// Recovery re-dispatches transfer jobs whose worker stopped reporting in.
type Recovery struct {
	sched scheduler.Enqueuer
}

var _ registry.RecoveryStrategy = (*Recovery)(nil)

func NewRecovery(sched scheduler.Enqueuer) *Recovery {
	return &Recovery{sched: sched}
}

func (r *Recovery) Type() string { return JobType }

// MonitoredStatuses covers every non-terminal status a crashed worker or a
// failed enqueue can strand a transfer in. Retry statuses are included: a
// retry whose enqueue failed after the transition has no live task either.
func (r *Recovery) MonitoredStatuses() []haul.Status {
	return []haul.Status{
		haul.StatusQueued,
		haul.StatusFetching,
		haul.StatusFetchRetry,
		haul.StatusStaging,
		haul.StatusStageRetry,
		haul.StatusPendingPush,
		haul.StatusPushing,
		haul.StatusPushRetry,
	}
}

// Recover re-enqueues the phase the job is stranded in. Push-side statuses
// get a fresh push task against the already-staged data; everything else
// restarts the fetch task, which resumes from the job's recorded progress.
func (r *Recovery) Recover(ctx context.Context, j *haul.Job) (string, error) {
	if (&Handler{}).IsPushPhase(j.Status) {
		return r.sched.Enqueue(ctx, scheduler.TaskPush, j.ID)
	}
	return r.sched.Enqueue(ctx, scheduler.TaskFetch, j.ID)
}
