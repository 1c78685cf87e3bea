package gateway

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory payment log for demo/development mode.
type MemoryStore struct {
	mu       sync.RWMutex
	payments []*Payment // append order
}

// NewMemoryStore creates a new in-memory payment log.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Record(_ context.Context, p *Payment) error {
	cp := *p
	m.mu.Lock()
	m.payments = append(m.payments, &cp)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) ListBySender(_ context.Context, addr string, limit int) ([]*Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Payment, 0)
	for i := len(m.payments) - 1; i >= 0 && len(result) < limit; i-- {
		if p := m.payments[i]; p.From == addr {
			cp := *p
			result = append(result, &cp)
		}
	}
	return result, nil
}

var _ Store = (*MemoryStore)(nil)
