package risk

import (
	"context"
	"sync"
	"time"

	"github.com/mbd888/safepay/internal/metrics"
)

// MemoryRegistry is an in-memory Registry for development and tests.
type MemoryRegistry struct {
	mu      sync.RWMutex
	reports map[string][]*Report
	now     func() time.Time
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		reports: make(map[string][]*Report),
		now:     time.Now,
	}
}

func (r *MemoryRegistry) IsReported(ctx context.Context, address string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.reports[normalizeAddress(address)]) > 0, nil
}

func (r *MemoryRegistry) Report(ctx context.Context, address, reason string) (*Report, error) {
	address = normalizeAddress(address)
	if address == "" {
		return nil, ErrInvalidAddress
	}
	if len(reason) > MaxReasonLength {
		return nil, ErrInvalidReason
	}

	rep := &Report{Address: address, Reason: reason, ReportedAt: r.now().UTC()}

	r.mu.Lock()
	r.reports[address] = append(r.reports[address], rep)
	r.mu.Unlock()

	metrics.AddressReportsTotal.Inc()
	cp := *rep
	return &cp, nil
}

// ListReports returns the reason log for address, oldest first.
func (r *MemoryRegistry) ListReports(ctx context.Context, address string) ([]*Report, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	src := r.reports[normalizeAddress(address)]
	out := make([]*Report, len(src))
	for i, rep := range src {
		cp := *rep
		out[i] = &cp
	}
	return out, nil
}

var _ Registry = (*MemoryRegistry)(nil)
