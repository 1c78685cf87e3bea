package escrow

import (
	"context"
	"errors"
	"sync"

	"github.com/mbd888/safepay/internal/syncutil"
)

// ErrEscrowExists is returned when creating an escrow whose id is taken.
var ErrEscrowExists = errors.New("escrow id already exists")

// MemoryStore is an in-memory escrow store for development and tests.
// Mutations on one escrow are serialized by a keyed lock; the map itself is
// guarded by a short-held RWMutex so listing never waits on a provider call.
type MemoryStore struct {
	mu      sync.RWMutex
	escrows map[string]*Escrow
	order   []string // insertion order for deterministic listing
	locks   *syncutil.KeyedMutex
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		escrows: make(map[string]*Escrow),
		locks:   syncutil.NewKeyedMutex(),
	}
}

func (m *MemoryStore) Create(ctx context.Context, escrow *Escrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.escrows[escrow.ID]; ok {
		return ErrEscrowExists
	}
	m.escrows[escrow.ID] = escrow.clone()
	m.order = append(m.order, escrow.ID)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	escrow, ok := m.escrows[id]
	if !ok {
		return nil, ErrEscrowNotFound
	}
	return escrow.clone(), nil
}

func (m *MemoryStore) Mutate(ctx context.Context, id string, fn func(*Escrow) error) (*Escrow, error) {
	unlock, err := m.locks.LockContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(current); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.escrows[id] = current.clone()
	m.mu.Unlock()
	return current, nil
}

func (m *MemoryStore) ListByParty(ctx context.Context, role Role, addr string) ([]*Escrow, error) {
	return m.snapshot(func(e *Escrow) bool {
		return addr != "" && e.Party(role) == addr
	}), nil
}

func (m *MemoryStore) ListPending(ctx context.Context, buyer string) ([]*Escrow, error) {
	return m.snapshot(func(e *Escrow) bool {
		return e.Buyer == buyer && !e.FundsReleased && !e.BuyerApproved
	}), nil
}

func (m *MemoryStore) snapshot(match func(*Escrow) bool) []*Escrow {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Escrow, 0)
	for _, id := range m.order {
		if e := m.escrows[id]; match(e) {
			result = append(result, e.clone())
		}
	}
	return result
}

var _ Store = (*MemoryStore)(nil)
