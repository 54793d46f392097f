// Package haul defines the transfer job domain model: the Job record, its
// append-only timeline, the closed status set, and the persistence contract.
//
// A Job moves through three phases (fetch, stage, push) driven by an external
// task scheduler. All state mutation goes through the transition service so
// the status column and the timeline never diverge.
package haul

import "time"

// ChangeSource identifies who initiated a status transition.
type ChangeSource string

const (
	SourceUser   ChangeSource = "user"
	SourceAdmin  ChangeSource = "admin"
	SourceSystem ChangeSource = "system"
	SourceWorker ChangeSource = "worker"
)

// Job is the persistent record for one transfer job.
//
// The schema is designed for backward-compatible extension (additive fields).
type Job struct {
	ID            string `json:"id"`
	OwnerID       string `json:"owner_id"`
	JobType       string `json:"job_type"`
	DestinationID string `json:"destination_id,omitempty"`
	Status        Status `json:"status"`
	SourceRef     string `json:"source_ref"`
	Subset        string `json:"subset,omitempty"`

	// Opaque external-task handles, one per transfer phase.
	DownloadHandle string `json:"download_handle,omitempty"`
	UploadHandle   string `json:"upload_handle,omitempty"`

	ErrorMessage string     `json:"error_message,omitempty"`
	RetryCount   int        `json:"retry_count"`
	NextRetryAt  *time.Time `json:"next_retry_at,omitempty"`
	Refunded     bool       `json:"refunded"`

	FetchedBytes int64  `json:"fetched_bytes"`
	TotalBytes   int64  `json:"total_bytes"`
	LocalPath    string `json:"local_path,omitempty"`

	// HeartbeatAt is written only by the worker currently executing this job.
	HeartbeatAt *time.Time `json:"heartbeat_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	// CompletedAt is non-nil exactly when Status is terminal.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsActive reports whether the job is queued or executing.
func (j *Job) IsActive() bool { return j.Status.Active() }

// IsCompleted reports whether the job finished successfully.
func (j *Job) IsCompleted() bool { return j.Status == StatusCompleted }

// IsFailed reports whether the job ended in a failure status.
func (j *Job) IsFailed() bool { return j.Status.FailedTerminal() }

// IsRetrying reports whether the job is waiting on a re-enqueued attempt.
func (j *Job) IsRetrying() bool { return j.Status.Retrying() }

// ProgressPercent returns a 0-100 completion estimate. Completed jobs report
// 100 regardless of byte counters; otherwise the estimate is bytes-based and
// only meaningful once the source probe reported a total size.
func (j *Job) ProgressPercent() float64 {
	if j.Status == StatusCompleted {
		return 100
	}
	if j.TotalBytes <= 0 {
		return 0
	}
	pct := float64(j.FetchedBytes) / float64(j.TotalBytes) * 100
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}
	return pct
}

// StalenessAnchor returns the timestamp staleness is measured against:
// the last heartbeat, else the start time, else creation time.
func (j *Job) StalenessAnchor() time.Time {
	if j.HeartbeatAt != nil {
		return *j.HeartbeatAt
	}
	if j.StartedAt != nil {
		return *j.StartedAt
	}
	return j.CreatedAt
}

// TimelineEntry is one immutable record in a job's audit trail. Entries are
// append-only and ordered; the first entry for a job has a nil FromStatus.
type TimelineEntry struct {
	Seq          int64          `json:"seq"`
	JobID        string         `json:"job_id"`
	FromStatus   *Status        `json:"from_status,omitempty"`
	ToStatus     Status         `json:"to_status"`
	Source       ChangeSource   `json:"source"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	ChangedAt    time.Time      `json:"changed_at"`
}

// Destination is a user-configured push target profile.
type Destination struct {
	ID       string `json:"id"`
	OwnerID  string `json:"owner_id"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
	Bucket   string `json:"bucket"`
	Prefix   string `json:"prefix,omitempty"`
	Region   string `json:"region,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
	Active   bool   `json:"active"`

	CreatedAt time.Time `json:"created_at"`
}
