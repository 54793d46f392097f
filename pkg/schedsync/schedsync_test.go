package schedsync

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/3leaps/gohaul/pkg/haul"
	"github.com/3leaps/gohaul/pkg/haulstore"
	"github.com/3leaps/gohaul/pkg/lifecycle"
	"github.com/3leaps/gohaul/pkg/registry"
	"github.com/3leaps/gohaul/pkg/scheduler"
)

type stubJobType struct{}

func (stubJobType) Type() string { return "bundle" }

func (stubJobType) EnqueueFetch(context.Context, string) (string, error) { return "", nil }

func (stubJobType) FailedStatuses() []haul.Status {
	return []haul.Status{haul.StatusFetchFailed, haul.StatusPushFailed, haul.StatusFailed}
}

func (stubJobType) IsPushPhase(s haul.Status) bool {
	switch s {
	case haul.StatusPendingPush, haul.StatusPushing, haul.StatusPushRetry, haul.StatusPushFailed:
		return true
	}
	return false
}

type stubQuery struct {
	details map[string]*scheduler.TaskDetails
}

func (q *stubQuery) Details(_ context.Context, handle string) (*scheduler.TaskDetails, error) {
	d, ok := q.details[handle]
	if !ok {
		return nil, scheduler.ErrTaskNotFound
	}
	return d, nil
}

func (q *stubQuery) Delete(context.Context, string) error { return nil }

func setup(t *testing.T) (*Service, *haulstore.Store) {
	t.Helper()
	store, err := haulstore.Open(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	reg := registry.New()
	reg.RegisterJobType(stubJobType{})
	logger := zap.NewNop()
	return New(store, lifecycle.New(store, logger), reg, logger), store
}

func seedJob(t *testing.T, store *haulstore.Store, status haul.Status, download, upload string) *haul.Job {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	j := &haul.Job{
		ID: uuid.New().String(), OwnerID: "u1", JobType: "bundle",
		Status: haul.StatusQueued, SourceRef: "src-" + uuid.New().String(),
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.CreateJob(ctx, j, haul.SourceUser, nil))
	if status != haul.StatusQueued {
		_, err := store.ApplyTransition(ctx, j.ID, haul.TransitionSeed{
			To: status, Source: haul.SourceWorker, At: now,
		})
		require.NoError(t, err)
	}
	var dl, ul *string
	if download != "" {
		dl = &download
	}
	if upload != "" {
		ul = &upload
	}
	if dl != nil || ul != nil {
		require.NoError(t, store.SetHandles(ctx, j.ID, dl, ul))
	}
	got, err := store.GetJob(ctx, j.ID)
	require.NoError(t, err)
	return got
}

func TestFailureClassification(t *testing.T) {
	tests := []struct {
		name   string
		status haul.Status
		handle string // which handle reports the failure
		want   haul.Status
	}{
		{"fetch failure", haul.StatusFetching, "dl-1", haul.StatusFetchFailed},
		{"queued failure", haul.StatusQueued, "dl-1", haul.StatusFetchFailed},
		{"push failure", haul.StatusPushing, "ul-1", haul.StatusPushFailed},
		{"staging failure", haul.StatusStaging, "dl-1", haul.StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store := setup(t)
			j := seedJob(t, store, tt.status, "dl-1", "ul-1")

			require.NoError(t, svc.HandleTaskFailure(context.Background(), tt.handle, "worker crashed"))

			got, err := store.GetJob(context.Background(), j.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Status)
			assert.Equal(t, "worker crashed", got.ErrorMessage)
			require.NotNil(t, got.CompletedAt)
		})
	}
}

func TestDuplicateFailureNotificationIsDropped(t *testing.T) {
	svc, store := setup(t)
	ctx := context.Background()
	j := seedJob(t, store, haul.StatusFetching, "dl-1", "")

	require.NoError(t, svc.HandleTaskFailure(ctx, "dl-1", "worker crashed"))
	require.NoError(t, svc.HandleTaskFailure(ctx, "dl-1", "worker crashed"))

	entries, err := store.Timeline(ctx, j.ID, haul.TimelinePage{})
	require.NoError(t, err)
	// created → fetching → fetch_failed; the redelivery adds nothing.
	require.Len(t, entries, 3)
	assert.Equal(t, haul.StatusFetchFailed, entries[2].ToStatus)
	assert.Equal(t, "dl-1", entries[2].Metadata["task_handle"])
}

func TestUnknownHandleIsBenign(t *testing.T) {
	svc, _ := setup(t)
	require.NoError(t, svc.HandleTaskFailure(context.Background(), "never-issued", "boom"))
}

func TestSyncJobPolledFailure(t *testing.T) {
	svc, store := setup(t)
	ctx := context.Background()

	j := seedJob(t, store, haul.StatusPushing, "dl-1", "ul-1")
	q := &stubQuery{details: map[string]*scheduler.TaskDetails{
		"ul-1": {State: scheduler.TaskFailed, Error: "access denied"},
	}}

	require.NoError(t, svc.SyncJob(ctx, q, j))

	got, err := store.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, haul.StatusPushFailed, got.Status)
	assert.Equal(t, "access denied", got.ErrorMessage)
}

func TestSyncJobRunningTaskUntouched(t *testing.T) {
	svc, store := setup(t)
	ctx := context.Background()

	j := seedJob(t, store, haul.StatusFetching, "dl-1", "")
	q := &stubQuery{details: map[string]*scheduler.TaskDetails{
		"dl-1": {State: scheduler.TaskRunning},
	}}

	require.NoError(t, svc.SyncJob(ctx, q, j))
	got, err := store.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, haul.StatusFetching, got.Status)
}
