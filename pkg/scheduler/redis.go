package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const (
	taskKeyPrefix     = "gohaul:task:"
	taskStreamPrefix  = "gohaul:tasks:"
	defaultTaskExpiry = 7 * 24 * time.Hour
)

// Redis is a Redis-backed scheduler: each task is a hash keyed by its handle,
// and dispatch happens over a per-kind stream that workers consume. Workers
// update the hash's state and error fields as the task progresses.
type Redis struct {
	client goredis.Cmdable
	expiry time.Duration
}

var (
	_ Enqueuer = (*Redis)(nil)
	_ Query    = (*Redis)(nil)
)

// NewRedis builds a Redis scheduler. Task records expire after expiry to keep
// finished tasks from accumulating; zero means the 7 day default.
func NewRedis(client goredis.Cmdable, expiry time.Duration) *Redis {
	if expiry <= 0 {
		expiry = defaultTaskExpiry
	}
	return &Redis{client: client, expiry: expiry}
}

func taskKey(handle string) string { return taskKeyPrefix + handle }

// StreamFor returns the dispatch stream key for a task kind. Exposed so
// workers can consume the same streams Enqueue writes to.
func StreamFor(kind TaskKind) string { return taskStreamPrefix + string(kind) }

func (r *Redis) Enqueue(ctx context.Context, kind TaskKind, jobID string) (string, error) {
	handle := uuid.New().String()

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, taskKey(handle), map[string]any{
		"kind":       string(kind),
		"job_id":     jobID,
		"state":      string(TaskPending),
		"created_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
	pipe.Expire(ctx, taskKey(handle), r.expiry)
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: StreamFor(kind),
		Values: map[string]any{"handle": handle, "job_id": jobID},
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("scheduler: enqueue %s task: %w", kind, err)
	}
	return handle, nil
}

func (r *Redis) Details(ctx context.Context, handle string) (*TaskDetails, error) {
	fields, err := r.client.HGetAll(ctx, taskKey(handle)).Result()
	if err != nil {
		return nil, fmt.Errorf("scheduler: task lookup: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrTaskNotFound
	}
	return &TaskDetails{
		State: TaskState(fields["state"]),
		Error: fields["error"],
	}, nil
}

func (r *Redis) Delete(ctx context.Context, handle string) error {
	n, err := r.client.Del(ctx, taskKey(handle)).Result()
	if err != nil {
		return fmt.Errorf("scheduler: task delete: %w", err)
	}
	if n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// SetState records a worker-side task state change. An unknown handle returns
// ErrTaskNotFound so crashed-and-replaced tasks surface to the worker.
func (r *Redis) SetState(ctx context.Context, handle string, state TaskState, taskErr string) error {
	exists, err := r.client.Exists(ctx, taskKey(handle)).Result()
	if err != nil {
		return fmt.Errorf("scheduler: task state update: %w", err)
	}
	if exists == 0 {
		return ErrTaskNotFound
	}
	fields := map[string]any{"state": string(state)}
	if taskErr != "" {
		fields["error"] = taskErr
	}
	if err := r.client.HSet(ctx, taskKey(handle), fields).Err(); err != nil {
		return fmt.Errorf("scheduler: task state update: %w", err)
	}
	return nil
}
