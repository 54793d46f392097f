// Package orchestrator drives the job lifecycle: create/retry/cancel/refund,
// worker progress reporting, and read projections. It owns no transfer I/O;
// it mutates job state through the transition service and hands execution to
// the external scheduler via the registered handlers.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/gohaul/pkg/dispatchlog"
	"github.com/3leaps/gohaul/pkg/distlock"
	"github.com/3leaps/gohaul/pkg/haul"
	"github.com/3leaps/gohaul/pkg/ledger"
	"github.com/3leaps/gohaul/pkg/lifecycle"
	"github.com/3leaps/gohaul/pkg/registry"
	"github.com/3leaps/gohaul/pkg/scheduler"
)

// Prober checks source readiness before a job is accepted.
type Prober interface {
	// Probe reports whether the source is ready to serve the payload and the
	// payload size when known (zero if unknown).
	Probe(ctx context.Context, sourceRef string) (totalBytes int64, ready bool, err error)
}

// Actor identifies who initiated a user/admin operation, recorded in
// transition metadata.
type Actor struct {
	Source haul.ChangeSource
	ID     string
	Reason string
}

func (a Actor) metadata() map[string]any {
	m := map[string]any{"actor_source": string(a.Source)}
	if a.ID != "" {
		m["actor_id"] = a.ID
	}
	if a.Reason != "" {
		m["reason"] = a.Reason
	}
	return m
}

// Config tunes orchestration behavior.
type Config struct {
	// LockTTL is the ledger lock lease duration. Default 15s.
	LockTTL time.Duration
	// LockTimeout bounds lock acquisition attempts. Default 2s.
	LockTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.LockTTL <= 0 {
		c.LockTTL = 15 * time.Second
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = 2 * time.Second
	}
}

// Deps are the orchestrator's collaborators. All are required except Probe
// (nil means sources are always considered ready).
type Deps struct {
	Store        haul.Store
	Destinations haul.DestinationStore
	Lifecycle    *lifecycle.Service
	Registry     *registry.Registry
	Scheduler    scheduler.Query
	Ledger       ledger.Service
	Lock         distlock.Lock
	Publisher    dispatchlog.EventPublisher
	Probe        Prober
	Logger       *zap.Logger
}

// Orchestrator coordinates the job lifecycle.
type Orchestrator struct {
	store  haul.Store
	dests  haul.DestinationStore
	life   *lifecycle.Service
	reg    *registry.Registry
	sched  scheduler.Query
	ledger ledger.Service
	lock   distlock.Lock
	pub    dispatchlog.EventPublisher
	probe  Prober
	logger *zap.Logger
	cfg    Config
	now    func() time.Time
}

func New(deps Deps, cfg Config) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{
		store:  deps.Store,
		dests:  deps.Destinations,
		life:   deps.Lifecycle,
		reg:    deps.Registry,
		sched:  deps.Scheduler,
		ledger: deps.Ledger,
		lock:   deps.Lock,
		pub:    deps.Publisher,
		probe:  deps.Probe,
		logger: deps.Logger,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ── read projections ──

// JobView is a job with its computed projections.
type JobView struct {
	haul.Job
	IsActive        bool    `json:"is_active"`
	IsCompleted     bool    `json:"is_completed"`
	IsFailed        bool    `json:"is_failed"`
	IsRetrying      bool    `json:"is_retrying"`
	ProgressPercent float64 `json:"progress_percent"`
}

func view(j *haul.Job) *JobView {
	return &JobView{
		Job:             *j,
		IsActive:        j.IsActive(),
		IsCompleted:     j.IsCompleted(),
		IsFailed:        j.IsFailed(),
		IsRetrying:      j.IsRetrying(),
		ProgressPercent: j.ProgressPercent(),
	}
}

func (o *Orchestrator) GetJob(ctx context.Context, jobID string) (*JobView, error) {
	j, err := o.loadJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return view(j), nil
}

func (o *Orchestrator) GetUserJobs(ctx context.Context, ownerID string, opts haul.ListOpts) ([]*JobView, error) {
	jobs, err := o.store.ListByOwner(ctx, ownerID, opts)
	if err != nil {
		return nil, fmt.Errorf("list user jobs: %w", err)
	}
	out := make([]*JobView, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, view(j))
	}
	return out, nil
}

// Statistics summarizes the job population.
type Statistics struct {
	ByStatus  map[haul.Status]int64 `json:"by_status"`
	Active    int64                 `json:"active"`
	Completed int64                 `json:"completed"`
	Failed    int64                 `json:"failed"`
	Retrying  int64                 `json:"retrying"`
	Cancelled int64                 `json:"cancelled"`
	Total     int64                 `json:"total"`
}

func (o *Orchestrator) GetStatistics(ctx context.Context) (*Statistics, error) {
	counts, err := o.store.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	stats := &Statistics{ByStatus: counts}
	for status, n := range counts {
		stats.Total += n
		switch {
		case status == haul.StatusCompleted:
			stats.Completed += n
		case status == haul.StatusCancelled:
			stats.Cancelled += n
		case status.FailedTerminal():
			stats.Failed += n
		case status.Retrying():
			stats.Retrying += n
			stats.Active += n
		default:
			stats.Active += n
		}
	}
	return stats, nil
}

// GetTimeline returns the job's audit trail with per-entry durations.
func (o *Orchestrator) GetTimeline(ctx context.Context, jobID string, page haul.TimelinePage) ([]*lifecycle.AnnotatedEntry, error) {
	if _, err := o.loadJob(ctx, jobID); err != nil {
		return nil, err
	}
	return o.life.GetTimeline(ctx, jobID, page)
}

func (o *Orchestrator) loadJob(ctx context.Context, jobID string) (*haul.Job, error) {
	j, err := o.store.GetJob(ctx, jobID)
	if errors.Is(err, haul.ErrNotFound) {
		return nil, haul.E(haul.CodeJobNotFound, "job %s not found", jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}
	return j, nil
}

// resolveDestination loads the job's destination and rejects inactive ones.
func (o *Orchestrator) resolveDestination(ctx context.Context, j *haul.Job) (*haul.Destination, error) {
	if j.DestinationID == "" {
		return nil, haul.E(haul.CodeNoDestination, "job %s has no destination", j.ID)
	}
	d, err := o.dests.GetDestination(ctx, j.DestinationID)
	if errors.Is(err, haul.ErrNotFound) {
		return nil, haul.E(haul.CodeDestinationInactive, "destination %s no longer exists", j.DestinationID)
	}
	if err != nil {
		return nil, fmt.Errorf("load destination: %w", err)
	}
	if !d.Active {
		return nil, haul.E(haul.CodeDestinationInactive, "destination %s is inactive", d.ID)
	}
	return d, nil
}
