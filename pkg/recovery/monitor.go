// Package recovery is the stale-job monitor. Jobs whose workers stopped
// heartbeating are swept on an interval and re-dispatched through the
// per-type recovery strategies; a rate limiter keeps a mass-stall from
// flooding the scheduler with re-enqueues.
package recovery

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/gohaul/pkg/haul"
	"github.com/3leaps/gohaul/pkg/registry"
	"github.com/3leaps/gohaul/pkg/scheduler"
	"github.com/3leaps/gohaul/pkg/schedsync"
)

// Config tunes the monitor.
type Config struct {
	// Interval between sweeps. Default 1m.
	Interval time.Duration
	// StaleAfter is how long a job may go without a heartbeat before it is
	// considered abandoned. Default 5m.
	StaleAfter time.Duration
	// RecoveriesPerSecond caps re-dispatch throughput. Default 5.
	RecoveriesPerSecond float64
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 5 * time.Minute
	}
	if c.RecoveriesPerSecond <= 0 {
		c.RecoveriesPerSecond = 5
	}
}

// Monitor sweeps stale jobs and re-dispatches them.
type Monitor struct {
	store   haul.Store
	reg     *registry.Registry
	sync    *schedsync.Service
	sched   scheduler.Query
	logger  *zap.Logger
	cfg     Config
	limiter *rate.Limiter
	now     func() time.Time
}

// Option configures the Monitor.
type Option func(*Monitor)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

func New(store haul.Store, reg *registry.Registry, sync *schedsync.Service, sched scheduler.Query, logger *zap.Logger, cfg Config, opts ...Option) *Monitor {
	cfg.applyDefaults()
	m := &Monitor{
		store:   store,
		reg:     reg,
		sync:    sync,
		sched:   sched,
		logger:  logger,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RecoveriesPerSecond), 1),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Run sweeps on the configured interval until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	t := time.NewTicker(m.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if n, err := m.Sweep(ctx); err != nil {
				m.logger.Error("stale job sweep failed", zap.Error(err))
			} else if n > 0 {
				m.logger.Info("stale jobs recovered", zap.Int("count", n))
			}
		}
	}
}

// Sweep runs one pass over every registered recovery strategy and returns
// how many jobs were re-dispatched.
func (m *Monitor) Sweep(ctx context.Context) (int, error) {
	cutoff := m.now().Add(-m.cfg.StaleAfter)
	recovered := 0

	for _, strat := range m.reg.RecoveryStrategies() {
		jobs, err := m.store.ListStale(ctx, strat.MonitoredStatuses(), cutoff)
		if err != nil {
			return recovered, fmt.Errorf("list stale jobs: %w", err)
		}
		for _, j := range jobs {
			if j.JobType != strat.Type() {
				continue
			}
			if err := m.limiter.Wait(ctx); err != nil {
				return recovered, err
			}
			ok, err := m.recoverOne(ctx, strat, j)
			if err != nil {
				m.logger.Error("job recovery failed",
					zap.String("job_id", j.ID), zap.Error(err))
				continue
			}
			if ok {
				recovered++
			}
		}
	}
	return recovered, nil
}

func (m *Monitor) recoverOne(ctx context.Context, strat registry.RecoveryStrategy, j *haul.Job) (bool, error) {
	// If the scheduler already knows the task failed, settle that instead of
	// re-dispatching over a failure.
	if m.sync != nil && m.sched != nil {
		if err := m.sync.SyncJob(ctx, m.sched, j); err != nil {
			m.logger.Warn("scheduler poll failed during recovery",
				zap.String("job_id", j.ID), zap.Error(err))
		} else {
			fresh, err := m.store.GetJob(ctx, j.ID)
			if err != nil {
				return false, err
			}
			if fresh.Status.Terminal() {
				return false, nil
			}
			j = fresh
		}
	}

	handle, err := strat.Recover(ctx, j)
	if err != nil {
		return false, err
	}
	if handle == "" {
		// Strategy declined; leave the job for the next pass.
		return false, nil
	}

	if err := m.replaceHandle(ctx, j, handle); err != nil {
		return false, err
	}
	// Fresh heartbeat so the job leaves the staleness window until the new
	// task either reports in or goes stale again.
	if err := m.store.UpdateHeartbeat(ctx, j.ID, m.now()); err != nil {
		return false, err
	}

	m.logger.Warn("stale job re-dispatched",
		zap.String("job_id", j.ID),
		zap.String("status", string(j.Status)),
		zap.String("handle", handle))
	return true, nil
}

// replaceHandle stores the new task handle on the side of the pipeline the
// job is currently in.
func (m *Monitor) replaceHandle(ctx context.Context, j *haul.Job, handle string) error {
	handler, err := m.reg.JobType(j.JobType)
	if err != nil {
		return err
	}
	if handler.IsPushPhase(j.Status) {
		return m.store.SetHandles(ctx, j.ID, nil, &handle)
	}
	return m.store.SetHandles(ctx, j.ID, &handle, nil)
}
