// Package registry resolves pluggable job capabilities by discriminator key.
// Three independent axes are registered: job-type handlers (fetch dispatch and
// phase classification), storage-provider handlers (push dispatch and
// destination lock release), and cancellation handlers, plus per-type
// recovery strategies for the stale-job monitor.
//
// An unresolved discriminator is a hard configuration error, never a silent
// no-op or a first-registered fallback.
package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/3leaps/gohaul/pkg/haul"
)

// JobTypeHandler dispatches the fetch phase for one job type and classifies
// its statuses.
type JobTypeHandler interface {
	Type() string
	// EnqueueFetch schedules the fetch task for the job and returns the
	// opaque external-task handle.
	EnqueueFetch(ctx context.Context, jobID string) (string, error)
	// FailedStatuses is the set of terminal failure statuses this type maps
	// scheduler failures onto.
	FailedStatuses() []haul.Status
	// IsPushPhase reports whether the status belongs to this type's push
	// phase, including its push failure status.
	IsPushPhase(s haul.Status) bool
}

// StorageProviderHandler dispatches the push phase for one destination
// provider type.
type StorageProviderHandler interface {
	Type() string
	EnqueuePush(ctx context.Context, jobID string) (string, error)
	// ReleaseLock releases the destination-side lock for the job. Returns
	// true when a lock was held and released.
	ReleaseLock(ctx context.Context, jobID string) (bool, error)
}

// CancellationHandler performs job-type-specific cleanup on cancel.
type CancellationHandler interface {
	Type() string
	Cancel(ctx context.Context, j *haul.Job) error
}

// RecoveryStrategy re-enqueues stale work for one job type.
type RecoveryStrategy interface {
	Type() string
	// MonitoredStatuses is the set of statuses the stale-job monitor sweeps
	// for this type.
	MonitoredStatuses() []haul.Status
	// Recover re-enqueues the job's current phase and returns the new
	// external-task handle. An empty handle means the strategy declined; the
	// job is left for the next pass.
	Recover(ctx context.Context, j *haul.Job) (string, error)
}

// Registry is the resolution map for all capability axes. Handlers are
// registered once at startup; resolution is read-only afterwards.
type Registry struct {
	mu         sync.RWMutex
	jobTypes   map[string]JobTypeHandler
	providers  map[string]StorageProviderHandler
	cancellers map[string]CancellationHandler
	recoverers map[string]RecoveryStrategy
}

func New() *Registry {
	return &Registry{
		jobTypes:   make(map[string]JobTypeHandler),
		providers:  make(map[string]StorageProviderHandler),
		cancellers: make(map[string]CancellationHandler),
		recoverers: make(map[string]RecoveryStrategy),
	}
}

func (r *Registry) RegisterJobType(h JobTypeHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobTypes[h.Type()] = h
}

func (r *Registry) RegisterProvider(h StorageProviderHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[h.Type()] = h
}

func (r *Registry) RegisterCanceller(h CancellationHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancellers[h.Type()] = h
}

func (r *Registry) RegisterRecovery(s RecoveryStrategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recoverers[s.Type()] = s
}

// JobType resolves the handler for a job-type discriminator.
func (r *Registry) JobType(key string) (JobTypeHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.jobTypes[key]
	if !ok {
		return nil, haul.E(haul.CodeHandlerUnresolved, "no job type handler registered for %q", key)
	}
	return h, nil
}

// Provider resolves the handler for a storage-provider discriminator.
func (r *Registry) Provider(key string) (StorageProviderHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.providers[key]
	if !ok {
		return nil, haul.E(haul.CodeHandlerUnresolved, "no storage provider handler registered for %q", key)
	}
	return h, nil
}

// Canceller resolves the cancellation handler for a job-type discriminator.
func (r *Registry) Canceller(key string) (CancellationHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.cancellers[key]
	if !ok {
		return nil, haul.E(haul.CodeHandlerUnresolved, "no cancellation handler registered for %q", key)
	}
	return h, nil
}

// Recovery resolves the recovery strategy for a job-type discriminator.
func (r *Registry) Recovery(key string) (RecoveryStrategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.recoverers[key]
	if !ok {
		return nil, haul.E(haul.CodeHandlerUnresolved, "no recovery strategy registered for %q", key)
	}
	return s, nil
}

// RecoveryStrategies returns all registered strategies in stable type order.
func (r *Registry) RecoveryStrategies() []RecoveryStrategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.recoverers))
	for k := range r.recoverers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]RecoveryStrategy, 0, len(keys))
	for _, k := range keys {
		out = append(out, r.recoverers[k])
	}
	return out
}
