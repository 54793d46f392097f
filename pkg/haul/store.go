package haul

import (
	"context"
	"errors"
	"time"
)

// ErrStatusChanged is returned by Store.ApplyTransition when ExpectFrom was
// set and the job's status moved underneath the caller. Callers racing on
// retry/cancel treat this as "someone else got there first".
var ErrStatusChanged = errors.New("haul: job status changed concurrently")

// ErrNotFound is returned by store lookups for an unknown job or destination.
var ErrNotFound = errors.New("haul: not found")

// TransitionSeed describes one atomic status transition. The store appends a
// TimelineEntry (from = current status) and updates the job row as a single
// unit; partial application must never be observable.
type TransitionSeed struct {
	To       Status
	Source   ChangeSource
	Error    string
	Metadata map[string]any
	// At is the entry timestamp. Zero means now. The initial entry written at
	// job creation uses the job's creation timestamp to preserve ordering for
	// batch-created jobs.
	At time.Time

	// ExpectFrom, when non-nil, makes the transition conditional on the
	// current status. A mismatch yields ErrStatusChanged.
	ExpectFrom *Status

	ClearError          bool
	ClearDownloadHandle bool
	ClearUploadHandle   bool
	ClearNextRetry      bool
	ResetProgress       bool
	IncrementRetry      bool
}

// ListOpts controls pagination for job list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// TimelinePage controls pagination for timeline queries.
type TimelinePage struct {
	Limit  int
	Offset int
}

// Store is the persistence contract for jobs and their timelines.
type Store interface {
	// CreateJob persists a new job together with its initial timeline entry
	// (from-status nil, timestamped at the job's creation time) atomically.
	CreateJob(ctx context.Context, j *Job, source ChangeSource, metadata map[string]any) error

	GetJob(ctx context.Context, jobID string) (*Job, error)

	// GetJobByHandle finds the job owning the given external-task handle,
	// matching either phase's handle. Returns ErrNotFound if no job owns it.
	GetJobByHandle(ctx context.Context, handle string) (*Job, error)

	// FindActiveBySource returns the non-terminal job for (owner, source), or
	// ErrNotFound when none exists.
	FindActiveBySource(ctx context.Context, ownerID, sourceRef string) (*Job, error)

	ListByOwner(ctx context.Context, ownerID string, opts ListOpts) ([]*Job, error)

	// ListStale returns jobs in any of the given statuses whose staleness
	// anchor (heartbeat, else started-at, else created-at) is before cutoff.
	ListStale(ctx context.Context, statuses []Status, cutoff time.Time) ([]*Job, error)

	// ApplyTransition atomically appends a timeline entry and updates the job
	// row. It is a no-op (applied=false) when the target status equals the
	// current status and the seed carries neither an error nor metadata, so
	// duplicate heartbeats and redelivered failure notifications do not pile
	// up history. completed-at is set exactly when the target is terminal.
	ApplyTransition(ctx context.Context, jobID string, seed TransitionSeed) (applied bool, err error)

	// SetHandles replaces stored task handles. Nil leaves a handle untouched;
	// a pointer to the empty string clears it.
	SetHandles(ctx context.Context, jobID string, download, upload *string) error

	UpdateHeartbeat(ctx context.Context, jobID string, at time.Time) error
	UpdateProgress(ctx context.Context, jobID string, fetchedBytes int64) error
	MarkStarted(ctx context.Context, jobID string, at time.Time) error
	SetRefunded(ctx context.Context, jobID string, refunded bool) error
	SetLocalPath(ctx context.Context, jobID string, path string) error
	SetTotalBytes(ctx context.Context, jobID string, total int64) error

	Timeline(ctx context.Context, jobID string, page TimelinePage) ([]*TimelineEntry, error)
	CountByStatus(ctx context.Context) (map[Status]int64, error)
}

// DestinationStore is the persistence contract for destination profiles.
type DestinationStore interface {
	PutDestination(ctx context.Context, d *Destination) error
	GetDestination(ctx context.Context, id string) (*Destination, error)
	// DefaultDestination returns the owner's first active destination, or
	// ErrNotFound when the owner has none.
	DefaultDestination(ctx context.Context, ownerID string) (*Destination, error)
	ListDestinations(ctx context.Context, ownerID string) ([]*Destination, error)
}
