// Package scheduler defines the capability interfaces for the external task
// scheduler that actually executes transfer phases. The orchestration core
// only enqueues tasks, inspects their terminal state, and best-effort deletes
// them; execution and the scheduler's own retry policy are out of scope.
//
// Everything here is injected; there is no package-level scheduler state.
package scheduler

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// TaskKind distinguishes the scheduled units of work.
type TaskKind string

const (
	TaskFetch TaskKind = "fetch"
	TaskPush  TaskKind = "push"
)

// TaskState is the scheduler-side state of a task.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskRunning   TaskState = "running"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
)

// TaskDetails is the scheduler's view of one task.
type TaskDetails struct {
	State TaskState
	Error string
}

// Terminal reports whether the task has finished on the scheduler side.
func (d *TaskDetails) Terminal() bool {
	return d.State == TaskSucceeded || d.State == TaskFailed
}

// ErrTaskNotFound is returned by Query implementations for an unknown handle.
var ErrTaskNotFound = errors.New("scheduler: task not found")

// Enqueuer schedules a new task and returns its opaque handle.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind TaskKind, jobID string) (string, error)
}

// Query inspects and deletes scheduled tasks.
type Query interface {
	// Details returns the task's current state, or nil when the scheduler no
	// longer knows the handle.
	Details(ctx context.Context, handle string) (*TaskDetails, error)
	// Delete removes a scheduled task. Deleting an unknown handle returns
	// ErrTaskNotFound.
	Delete(ctx context.Context, handle string) error
}

// CancelTask best-effort-cancels an outstanding task. A task that is already
// gone or already terminal on the scheduler side is left alone and treated as
// success. Scheduler errors are logged, never propagated; the job record
// stays authoritative.
func CancelTask(ctx context.Context, q Query, handle string, logger *zap.Logger) {
	if handle == "" {
		return
	}

	details, err := q.Details(ctx, handle)
	if err != nil && !errors.Is(err, ErrTaskNotFound) {
		logger.Warn("scheduler task lookup failed during cancel",
			zap.String("handle", handle), zap.Error(err))
		return
	}
	if details == nil || details.Terminal() {
		return
	}

	if err := q.Delete(ctx, handle); err != nil && !errors.Is(err, ErrTaskNotFound) {
		logger.Warn("scheduler task delete failed during cancel",
			zap.String("handle", handle), zap.Error(err))
	}
}
