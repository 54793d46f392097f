package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/3leaps/gohaul/pkg/distlock"
	"github.com/3leaps/gohaul/pkg/haul"
	"github.com/3leaps/gohaul/pkg/haulstore"
	"github.com/3leaps/gohaul/pkg/ledger"
	"github.com/3leaps/gohaul/pkg/lifecycle"
	"github.com/3leaps/gohaul/pkg/registry"
	"github.com/3leaps/gohaul/pkg/scheduler"
)

// ── fakes ──

type fakeScheduler struct {
	mu         sync.Mutex
	nextID     int
	tasks      map[string]*scheduler.TaskDetails
	deleted    []string
	enqueued   []scheduler.TaskKind
	enqueueErr error
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{tasks: make(map[string]*scheduler.TaskDetails)}
}

func (f *fakeScheduler) Enqueue(_ context.Context, kind scheduler.TaskKind, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enqueueErr != nil {
		return "", f.enqueueErr
	}
	f.nextID++
	handle := fmt.Sprintf("task-%d", f.nextID)
	f.tasks[handle] = &scheduler.TaskDetails{State: scheduler.TaskPending}
	f.enqueued = append(f.enqueued, kind)
	return handle, nil
}

func (f *fakeScheduler) Details(_ context.Context, handle string) (*scheduler.TaskDetails, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.tasks[handle]
	if !ok {
		return nil, scheduler.ErrTaskNotFound
	}
	cp := *d
	return &cp, nil
}

func (f *fakeScheduler) Delete(_ context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tasks[handle]; !ok {
		return scheduler.ErrTaskNotFound
	}
	delete(f.tasks, handle)
	f.deleted = append(f.deleted, handle)
	return nil
}

func (f *fakeScheduler) enqueueCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.enqueued)
}

type fakeJobType struct {
	sched *fakeScheduler
}

func (h *fakeJobType) Type() string { return "bundle" }

func (h *fakeJobType) EnqueueFetch(ctx context.Context, jobID string) (string, error) {
	return h.sched.Enqueue(ctx, scheduler.TaskFetch, jobID)
}

func (h *fakeJobType) FailedStatuses() []haul.Status {
	return []haul.Status{haul.StatusFetchFailed, haul.StatusPushFailed, haul.StatusFailed}
}

func (h *fakeJobType) IsPushPhase(s haul.Status) bool {
	switch s {
	case haul.StatusPendingPush, haul.StatusPushing, haul.StatusPushRetry, haul.StatusPushFailed:
		return true
	}
	return false
}

type fakeProvider struct {
	sched    *fakeScheduler
	mu       sync.Mutex
	released []string
}

func (p *fakeProvider) Type() string { return "s3" }

func (p *fakeProvider) EnqueuePush(ctx context.Context, jobID string) (string, error) {
	return p.sched.Enqueue(ctx, scheduler.TaskPush, jobID)
}

func (p *fakeProvider) ReleaseLock(_ context.Context, jobID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released = append(p.released, jobID)
	return true, nil
}

type fakeCanceller struct {
	mu        sync.Mutex
	cancelled []string
}

func (c *fakeCanceller) Type() string { return "bundle" }

func (c *fakeCanceller) Cancel(_ context.Context, j *haul.Job) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = append(c.cancelled, j.ID)
	return nil
}

type fakeLock struct {
	mu   sync.Mutex
	held map[string]bool
}

func newFakeLock() *fakeLock { return &fakeLock{held: make(map[string]bool)} }

func (l *fakeLock) Acquire(_ context.Context, key string, _ time.Duration) (distlock.Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, distlock.ErrNotAcquired
	}
	l.held[key] = true
	return &fakeLease{lock: l, key: key}, nil
}

type fakeLease struct {
	lock *fakeLock
	key  string
}

func (le *fakeLease) Key() string { return le.key }

func (le *fakeLease) Release(context.Context) error {
	le.lock.mu.Lock()
	defer le.lock.mu.Unlock()
	delete(le.lock.held, le.key)
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []string // job ids
	err    error
}

func (p *fakePublisher) PublishCreated(_ context.Context, jobID, _, _ string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.events = append(p.events, jobID)
	return fmt.Sprintf("evt-%d", len(p.events)), nil
}

type fakeProbe struct {
	total int64
	ready bool
	err   error
}

func (p *fakeProbe) Probe(context.Context, string) (int64, bool, error) {
	return p.total, p.ready, p.err
}

// ── fixture ──

type fixture struct {
	store     *haulstore.Store
	orch      *Orchestrator
	sched     *fakeScheduler
	provider  *fakeProvider
	canceller *fakeCanceller
	ledger    *ledger.Memory
	lock      *fakeLock
	pub       *fakePublisher
	probe     *fakeProbe
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := haulstore.Open(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := zap.NewNop()
	sched := newFakeScheduler()
	provider := &fakeProvider{sched: sched}
	canceller := &fakeCanceller{}

	reg := registry.New()
	reg.RegisterJobType(&fakeJobType{sched: sched})
	reg.RegisterProvider(provider)
	reg.RegisterCanceller(canceller)

	f := &fixture{
		store:     store,
		sched:     sched,
		provider:  provider,
		canceller: canceller,
		ledger:    ledger.NewMemory(),
		lock:      newFakeLock(),
		pub:       &fakePublisher{},
		probe:     &fakeProbe{total: 1000, ready: true},
	}
	f.orch = New(Deps{
		Store:        store,
		Destinations: store,
		Lifecycle:    lifecycle.New(store, logger),
		Registry:     reg,
		Scheduler:    sched,
		Ledger:       f.ledger,
		Lock:         f.lock,
		Publisher:    f.pub,
		Probe:        f.probe,
		Logger:       logger,
	}, Config{LockTTL: time.Second, LockTimeout: 100 * time.Millisecond})

	require.NoError(t, store.PutDestination(context.Background(), &haul.Destination{
		ID: "d1", OwnerID: "u1", Name: "primary", Provider: "s3",
		Bucket: "bkt", Active: true, CreatedAt: time.Now().UTC(),
	}))
	return f
}

var asUser = Actor{Source: haul.SourceUser, ID: "u1"}

func (f *fixture) create(t *testing.T, sourceRef string) string {
	t.Helper()
	res, err := f.orch.Create(context.Background(), CreateRequest{
		OwnerID: "u1", SourceRef: sourceRef, JobType: "bundle",
	}, asUser)
	require.NoError(t, err)
	return res.JobID
}

// force moves a job to status directly through the store, bypassing the
// orchestrator's guards, to stage preconditions.
func (f *fixture) force(t *testing.T, jobID string, status haul.Status, errMsg string) {
	t.Helper()
	_, err := f.store.ApplyTransition(context.Background(), jobID, haul.TransitionSeed{
		To: status, Source: haul.SourceWorker, Error: errMsg, At: time.Now().UTC(),
	})
	require.NoError(t, err)
}

func (f *fixture) job(t *testing.T, jobID string) *haul.Job {
	t.Helper()
	j, err := f.store.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	return j
}

func assertCode(t *testing.T, err error, code haul.Code) {
	t.Helper()
	require.Error(t, err)
	got, ok := haul.CodeOf(err)
	require.True(t, ok, "expected domain code %s, got %v", code, err)
	assert.Equal(t, code, got)
}

// ── create ──

func TestCreateHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.orch.Create(ctx, CreateRequest{
		OwnerID: "u1", SourceRef: "src-1", JobType: "bundle", Subset: "docs/**",
	}, asUser)
	require.NoError(t, err)
	assert.Equal(t, haul.StatusQueued, res.Status)
	assert.Equal(t, "d1", res.DestinationID)

	j := f.job(t, res.JobID)
	assert.Equal(t, haul.StatusQueued, j.Status)
	assert.Equal(t, int64(1000), j.TotalBytes)
	assert.NotEmpty(t, j.DownloadHandle)
	assert.Empty(t, j.UploadHandle)

	entries, err := f.store.Timeline(ctx, res.JobID, haul.TimelinePage{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].FromStatus)
	assert.Equal(t, haul.StatusQueued, entries[0].ToStatus)

	assert.Equal(t, []string{res.JobID}, f.pub.events)
	assert.Equal(t, []scheduler.TaskKind{scheduler.TaskFetch}, f.sched.enqueued)
}

func TestCreateSourceNotReady(t *testing.T) {
	f := newFixture(t)
	f.probe.ready = false

	_, err := f.orch.Create(context.Background(), CreateRequest{
		OwnerID: "u1", SourceRef: "src-1", JobType: "bundle",
	}, asUser)
	assertCode(t, err, haul.CodeSourceNotReady)
	assert.Zero(t, f.sched.enqueueCount())
}

func TestCreateNoDestination(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.Create(context.Background(), CreateRequest{
		OwnerID: "u2", SourceRef: "src-1", JobType: "bundle",
	}, asUser)
	assertCode(t, err, haul.CodeNoDestination)

	_, err = f.orch.Create(context.Background(), CreateRequest{
		OwnerID: "u1", SourceRef: "src-1", JobType: "bundle", DestinationID: "missing",
	}, asUser)
	assertCode(t, err, haul.CodeNoDestination)
}

func TestCreateUnknownJobType(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.Create(context.Background(), CreateRequest{
		OwnerID: "u1", SourceRef: "src-1", JobType: "mystery",
	}, asUser)
	assertCode(t, err, haul.CodeHandlerUnresolved)
}

func TestCreateInvalidSubset(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.Create(context.Background(), CreateRequest{
		OwnerID: "u1", SourceRef: "src-1", JobType: "bundle", Subset: "docs/[**",
	}, asUser)
	assertCode(t, err, haul.CodeInvalidArgument)
}

func TestCreateDuplicateActiveSource(t *testing.T) {
	f := newFixture(t)
	jobID := f.create(t, "src-dup")

	_, err := f.orch.Create(context.Background(), CreateRequest{
		OwnerID: "u1", SourceRef: "src-dup", JobType: "bundle",
	}, asUser)
	assertCode(t, err, haul.CodeJobAlreadyExists)

	// A retrying job reports the more specific code.
	f.force(t, jobID, haul.StatusFetchRetry, "")
	_, err = f.orch.Create(context.Background(), CreateRequest{
		OwnerID: "u1", SourceRef: "src-dup", JobType: "bundle",
	}, asUser)
	assertCode(t, err, haul.CodeJobRetrying)

	// A terminal job frees the source.
	f.force(t, jobID, haul.StatusCancelled, "")
	_, err = f.orch.Create(context.Background(), CreateRequest{
		OwnerID: "u1", SourceRef: "src-dup", JobType: "bundle",
	}, asUser)
	require.NoError(t, err)
}

// ── retry ──

func TestRetryRejectionCodes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	completed := f.create(t, "src-a")
	f.force(t, completed, haul.StatusCompleted, "")
	assertCode(t, f.orch.Retry(ctx, completed, asUser), haul.CodeJobCompleted)

	cancelled := f.create(t, "src-b")
	f.force(t, cancelled, haul.StatusCancelled, "")
	assertCode(t, f.orch.Retry(ctx, cancelled, asUser), haul.CodeJobCancelled)

	refunded := f.create(t, "src-c")
	f.force(t, refunded, haul.StatusFailed, "boom")
	require.NoError(t, f.store.SetRefunded(ctx, refunded, true))
	assertCode(t, f.orch.Retry(ctx, refunded, asUser), haul.CodeJobRefunded)

	active := f.create(t, "src-d")
	assertCode(t, f.orch.Retry(ctx, active, asUser), haul.CodeJobActive)

	assertCode(t, f.orch.Retry(ctx, "nope", asUser), haul.CodeJobNotFound)
}

func TestRetryInactiveDestination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	jobID := f.create(t, "src-a")
	f.force(t, jobID, haul.StatusFailed, "boom")

	require.NoError(t, f.store.PutDestination(ctx, &haul.Destination{
		ID: "d1", OwnerID: "u1", Name: "primary", Provider: "s3",
		Bucket: "bkt", Active: false, CreatedAt: time.Now().UTC(),
	}))
	assertCode(t, f.orch.Retry(ctx, jobID, asUser), haul.CodeDestinationInactive)
}

func TestRetryPushFailureResumesPush(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	jobID := f.create(t, "src-a")
	require.NoError(t, f.store.UpdateProgress(ctx, jobID, 800))
	oldUpload := "task-upload-old"
	require.NoError(t, f.store.SetHandles(ctx, jobID, nil, &oldUpload))
	f.force(t, jobID, haul.StatusPushFailed, "destination 503")

	require.NoError(t, f.orch.Retry(ctx, jobID, asUser))

	j := f.job(t, jobID)
	assert.Equal(t, haul.StatusPushRetry, j.Status)
	assert.Empty(t, j.ErrorMessage)
	assert.Equal(t, 1, j.RetryCount)
	assert.NotEqual(t, oldUpload, j.UploadHandle)
	assert.NotEmpty(t, j.UploadHandle)
	// Staged payload state survives a push resume.
	assert.NotEmpty(t, j.DownloadHandle)
	assert.Equal(t, int64(800), j.FetchedBytes)
	assert.Nil(t, j.CompletedAt)

	assert.Equal(t, scheduler.TaskPush, f.sched.enqueued[len(f.sched.enqueued)-1])
}

func TestRetryFetchFailureRestartsFromScratch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	jobID := f.create(t, "src-a")
	require.NoError(t, f.store.UpdateProgress(ctx, jobID, 800))
	f.force(t, jobID, haul.StatusFetchFailed, "origin timeout")

	require.NoError(t, f.orch.Retry(ctx, jobID, asUser))

	j := f.job(t, jobID)
	assert.Equal(t, haul.StatusFetchRetry, j.Status)
	assert.Empty(t, j.ErrorMessage)
	assert.Equal(t, 1, j.RetryCount)
	assert.Zero(t, j.FetchedBytes)
	assert.NotEmpty(t, j.DownloadHandle)
	assert.Empty(t, j.UploadHandle)
}

func TestRetryGenericFailureRestartsFetch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	jobID := f.create(t, "src-a")
	f.force(t, jobID, haul.StatusFailed, "staging disk full")

	require.NoError(t, f.orch.Retry(ctx, jobID, asUser))
	assert.Equal(t, haul.StatusFetchRetry, f.job(t, jobID).Status)
}

func TestConcurrentRetrySingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	jobID := f.create(t, "src-a")
	f.force(t, jobID, haul.StatusPushFailed, "destination 503")
	before := f.sched.enqueueCount()

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.orch.Retry(ctx, jobID, asUser)
		}(i)
	}
	wg.Wait()

	var wins, busy int
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case haul.IsCode(err, haul.CodeJobActive):
			busy++
		default:
			t.Fatalf("unexpected retry result: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, busy)
	assert.Equal(t, before+1, f.sched.enqueueCount())
	assert.Equal(t, 1, f.job(t, jobID).RetryCount)
}

// ── cancel ──

func TestCancelActiveJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	jobID := f.create(t, "src-a")
	f.ledger.Put(&ledger.Charge{ID: "ch1", JobID: jobID, AmountCents: 500, Paid: true})

	require.NoError(t, f.orch.Cancel(ctx, jobID, asUser))

	j := f.job(t, jobID)
	assert.Equal(t, haul.StatusCancelled, j.Status)
	require.NotNil(t, j.CompletedAt)
	assert.True(t, j.Refunded)

	charge, err := f.ledger.ChargeForJob(ctx, jobID)
	require.NoError(t, err)
	assert.True(t, charge.Refunded)

	assert.Len(t, f.sched.deleted, 1)
	assert.Equal(t, []string{jobID}, f.canceller.cancelled)
	assert.Equal(t, []string{jobID}, f.provider.released)

	entries, err := f.store.Timeline(ctx, jobID, haul.TimelinePage{})
	require.NoError(t, err)
	// created → cancelled → refund annotation
	require.Len(t, entries, 3)
	assert.Equal(t, "ch1", entries[2].Metadata["refund_charge_id"])
}

func TestCancelPushPhaseRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	jobID := f.create(t, "src-a")
	f.force(t, jobID, haul.StatusPushing, "")

	assertCode(t, f.orch.Cancel(ctx, jobID, asUser), haul.CodePushInProgress)
	assert.Equal(t, haul.StatusPushing, f.job(t, jobID).Status)
}

func TestCancelTerminalRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	jobID := f.create(t, "src-a")
	f.force(t, jobID, haul.StatusCompleted, "")
	assertCode(t, f.orch.Cancel(ctx, jobID, asUser), haul.CodeJobCompleted)

	other := f.create(t, "src-b")
	require.NoError(t, f.orch.Cancel(ctx, other, asUser))
	assertCode(t, f.orch.Cancel(ctx, other, asUser), haul.CodeJobCancelled)
}

func TestCancelSurvivesRefundFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	jobID := f.create(t, "src-a")
	f.ledger.Put(&ledger.Charge{ID: "ch1", JobID: jobID, AmountCents: 500, Paid: true})
	f.ledger.RefundErr = errors.New("billing backend down")

	require.NoError(t, f.orch.Cancel(ctx, jobID, asUser))

	j := f.job(t, jobID)
	assert.Equal(t, haul.StatusCancelled, j.Status)
	assert.False(t, j.Refunded)
}

func TestCancelWithoutChargeStillCancels(t *testing.T) {
	f := newFixture(t)
	jobID := f.create(t, "src-a")

	require.NoError(t, f.orch.Cancel(context.Background(), jobID, asUser))
	j := f.job(t, jobID)
	assert.Equal(t, haul.StatusCancelled, j.Status)
	assert.False(t, j.Refunded)
}

// ── refund ──

func TestRefundFailedJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	jobID := f.create(t, "src-a")
	f.force(t, jobID, haul.StatusFailed, "boom")
	f.ledger.Put(&ledger.Charge{ID: "ch1", JobID: jobID, AmountCents: 500, Paid: true})

	require.NoError(t, f.orch.Refund(ctx, jobID, asUser))

	j := f.job(t, jobID)
	assert.True(t, j.Refunded)
	// The refund is recorded without moving the job.
	assert.Equal(t, haul.StatusFailed, j.Status)

	entries, err := f.store.Timeline(ctx, jobID, haul.TimelinePage{})
	require.NoError(t, err)
	last := entries[len(entries)-1]
	assert.Equal(t, haul.StatusFailed, last.ToStatus)
	assert.Equal(t, "ch1", last.Metadata["refund_charge_id"])

	assertCode(t, f.orch.Refund(ctx, jobID, asUser), haul.CodeAlreadyRefunded)
}

func TestRefundGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	active := f.create(t, "src-a")
	assertCode(t, f.orch.Refund(ctx, active, asUser), haul.CodeNotFailed)

	unpaid := f.create(t, "src-b")
	f.force(t, unpaid, haul.StatusFailed, "boom")
	assertCode(t, f.orch.Refund(ctx, unpaid, asUser), haul.CodeNoCharge)

	f.ledger.Put(&ledger.Charge{ID: "ch2", JobID: unpaid, AmountCents: 500, Paid: false})
	assertCode(t, f.orch.Refund(ctx, unpaid, asUser), haul.CodeNoCharge)
}

func TestRefundLockBusy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	jobID := f.create(t, "src-a")
	f.force(t, jobID, haul.StatusFailed, "boom")
	f.ledger.Put(&ledger.Charge{ID: "ch1", JobID: jobID, AmountCents: 500, Paid: true})

	_, err := f.lock.Acquire(ctx, "ledger:u1", time.Minute)
	require.NoError(t, err)

	assertCode(t, f.orch.Refund(ctx, jobID, asUser), haul.CodeLockBusy)
	assert.False(t, f.job(t, jobID).Refunded)
}

// ── worker operations ──

func TestMarkStartedMovesJobToRunning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	jobID := f.create(t, "src-a")
	require.NoError(t, f.orch.MarkStarted(ctx, jobID))

	j := f.job(t, jobID)
	assert.Equal(t, haul.StatusFetching, j.Status)
	require.NotNil(t, j.StartedAt)
	require.NotNil(t, j.HeartbeatAt)
	first := *j.StartedAt

	// Second call keeps the original start time.
	require.NoError(t, f.orch.MarkStarted(ctx, jobID))
	j = f.job(t, jobID)
	assert.Equal(t, first, *j.StartedAt)
	assert.Equal(t, haul.StatusFetching, j.Status)
}

func TestWorkerPipelineAdvance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	jobID := f.create(t, "src-a")
	require.NoError(t, f.orch.MarkStarted(ctx, jobID))
	require.NoError(t, f.orch.UpdateProgress(ctx, jobID, 500))
	require.NoError(t, f.orch.SetLocalPath(ctx, jobID, "/mnt/stage/src-a"))

	require.NoError(t, f.orch.AdvanceStatus(ctx, jobID, haul.StatusStaging))
	require.NoError(t, f.orch.AdvanceStatus(ctx, jobID, haul.StatusPendingPush))

	j := f.job(t, jobID)
	assert.Equal(t, haul.StatusPendingPush, j.Status)
	assert.NotEmpty(t, j.UploadHandle)
	assert.Equal(t, scheduler.TaskPush, f.sched.enqueued[len(f.sched.enqueued)-1])

	require.NoError(t, f.orch.AdvanceStatus(ctx, jobID, haul.StatusPushing))
	require.NoError(t, f.orch.AdvanceStatus(ctx, jobID, haul.StatusCompleted))

	j = f.job(t, jobID)
	assert.Equal(t, haul.StatusCompleted, j.Status)
	require.NotNil(t, j.CompletedAt)
	assert.Equal(t, float64(100), j.ProgressPercent())
}

func TestAdvanceStatusGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	jobID := f.create(t, "src-a")
	f.force(t, jobID, haul.StatusPushing, "")

	// No going backwards.
	assertCode(t, f.orch.AdvanceStatus(ctx, jobID, haul.StatusFetching), haul.CodeInvalidArgument)
	// Failure statuses arrive through the failure sync, not workers.
	assertCode(t, f.orch.AdvanceStatus(ctx, jobID, haul.StatusPushFailed), haul.CodeInvalidArgument)
	assertCode(t, f.orch.AdvanceStatus(ctx, jobID, haul.StatusCancelled), haul.CodeInvalidArgument)
	assertCode(t, f.orch.AdvanceStatus(ctx, jobID, haul.StatusPushRetry), haul.CodeInvalidArgument)

	// Advancing an already-completed job to completed is a no-op.
	f.force(t, jobID, haul.StatusCompleted, "")
	require.NoError(t, f.orch.AdvanceStatus(ctx, jobID, haul.StatusCompleted))
	assertCode(t, f.orch.AdvanceStatus(ctx, jobID, haul.StatusPushing), haul.CodeJobCompleted)
}

func TestHeartbeatOnTerminalJobIsDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	jobID := f.create(t, "src-a")
	f.force(t, jobID, haul.StatusCompleted, "")

	require.NoError(t, f.orch.UpdateHeartbeat(ctx, jobID))
	assert.Nil(t, f.job(t, jobID).HeartbeatAt)
}

// ── reads ──

func TestGetStatistics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.create(t, "src-a")
	b := f.create(t, "src-b")
	c := f.create(t, "src-c")
	d := f.create(t, "src-d")

	f.force(t, a, haul.StatusCompleted, "")
	f.force(t, b, haul.StatusFailed, "boom")
	f.force(t, c, haul.StatusPushRetry, "")

	stats, err := f.orch.GetStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.Total)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.Retrying)
	assert.Equal(t, int64(2), stats.Active) // retrying counts as active
	assert.Equal(t, int64(1), stats.ByStatus[haul.StatusQueued])
	_ = d
}

func TestGetUserJobsProjections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	jobID := f.create(t, "src-a")
	require.NoError(t, f.store.UpdateProgress(ctx, jobID, 250))

	jobs, err := f.orch.GetUserJobs(ctx, "u1", haul.ListOpts{})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.True(t, jobs[0].IsActive)
	assert.False(t, jobs[0].IsCompleted)
	assert.InDelta(t, 25.0, jobs[0].ProgressPercent, 0.01)

	_, err = f.orch.GetJob(ctx, "missing")
	assertCode(t, err, haul.CodeJobNotFound)
}
