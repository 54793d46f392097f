// Package lifecycle is the status transition service. It is the only write
// path for job status: every change commits the status update and a timeline
// entry as one unit, and the same-status no-op rule keeps duplicate
// notifications from piling up history.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/gohaul/pkg/haul"
)

// Service applies status transitions and reads annotated timelines.
type Service struct {
	store  haul.Store
	logger *zap.Logger
	now    func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(store haul.Store, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Transition moves a job to the given status, appending a timeline entry
// atomically. Targeting the current status with no error and no metadata is a
// no-op and returns applied=false. The seed's To/Source fields are taken from
// the arguments; remaining seed fields (clears, expect-from) pass through.
func (s *Service) Transition(ctx context.Context, jobID string, to haul.Status, source haul.ChangeSource, seed haul.TransitionSeed) (bool, error) {
	if !to.Valid() {
		return false, haul.E(haul.CodeInvalidArgument, "status %q is not in the closed set", to)
	}
	seed.To = to
	seed.Source = source
	if seed.At.IsZero() {
		seed.At = s.now()
	}

	applied, err := s.store.ApplyTransition(ctx, jobID, seed)
	if err != nil {
		return false, err
	}
	if applied {
		s.logger.Info("job status transition",
			zap.String("job_id", jobID),
			zap.String("to", string(to)),
			zap.String("source", string(source)),
			zap.Bool("has_error", seed.Error != ""))
	}
	return applied, nil
}

// RecordInitial persists a new job together with its first timeline entry.
// The entry is timestamped with the job's creation time, not now, so
// batch-created jobs keep their ordering.
func (s *Service) RecordInitial(ctx context.Context, j *haul.Job, source haul.ChangeSource, metadata map[string]any) error {
	if !j.Status.Valid() {
		return haul.E(haul.CodeInvalidArgument, "status %q is not in the closed set", j.Status)
	}
	return s.store.CreateJob(ctx, j, source, metadata)
}

// AnnotatedEntry is a timeline entry plus the time spent since the previous
// entry, so time-in-phase is directly computable.
type AnnotatedEntry struct {
	haul.TimelineEntry
	SincePrevious time.Duration `json:"since_previous_ms"`
}

// GetTimeline returns the job's audit trail in ascending order. Each entry is
// annotated with the duration since the previous entry; the first entry of
// the job (not of the page) has a zero duration.
func (s *Service) GetTimeline(ctx context.Context, jobID string, page haul.TimelinePage) ([]*AnnotatedEntry, error) {
	fetch := page
	// Pull one extra leading entry so the first entry of an offset page still
	// gets its duration-since-previous.
	if fetch.Offset > 0 {
		fetch.Offset--
		if fetch.Limit > 0 {
			fetch.Limit++
		}
	}

	entries, err := s.store.Timeline(ctx, jobID, fetch)
	if err != nil {
		return nil, fmt.Errorf("load timeline: %w", err)
	}

	out := make([]*AnnotatedEntry, 0, len(entries))
	for i, e := range entries {
		a := &AnnotatedEntry{TimelineEntry: *e}
		if i > 0 {
			a.SincePrevious = e.ChangedAt.Sub(entries[i-1].ChangedAt)
		}
		out = append(out, a)
	}
	if page.Offset > 0 && len(out) > 0 {
		out = out[1:]
	}
	return out, nil
}
