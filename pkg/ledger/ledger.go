// Package ledger exposes the minimal billing surface the orchestrator needs:
// look up the charge attached to a job and trigger a refund. Pricing,
// invoicing, and bookkeeping live elsewhere.
package ledger

import (
	"context"
	"sync"
)

// Charge is the billing record attached to one job.
type Charge struct {
	ID          string
	JobID       string
	AmountCents int64
	Paid        bool
	Refunded    bool
}

// Service is the refund-trigger contract consumed by the orchestrator.
type Service interface {
	// ChargeForJob returns the job's charge, or nil when the job was never
	// charged.
	ChargeForJob(ctx context.Context, jobID string) (*Charge, error)
	// Refund reverses a paid charge. Implementations must be idempotent.
	Refund(ctx context.Context, chargeID string) error
}

// Memory is an in-process Service for tests and local development.
type Memory struct {
	mu      sync.Mutex
	charges map[string]*Charge // keyed by job id

	// RefundErr, when set, is returned by Refund to simulate billing
	// backend failures.
	RefundErr error
}

var _ Service = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{charges: make(map[string]*Charge)}
}

// Put registers a charge for a job.
func (m *Memory) Put(c *Charge) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.charges[c.JobID] = c
}

func (m *Memory) ChargeForJob(_ context.Context, jobID string) (*Charge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.charges[jobID]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) Refund(_ context.Context, chargeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RefundErr != nil {
		return m.RefundErr
	}
	for _, c := range m.charges {
		if c.ID == chargeID {
			c.Refunded = true
			return nil
		}
	}
	return nil
}
