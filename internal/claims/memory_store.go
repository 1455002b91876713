package claims

import (
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryStore is an in-memory claim store for demo/development mode.
type MemoryStore struct {
	claims map[uint64]*Claim
	mu     sync.RWMutex
}

// NewMemoryStore creates a new in-memory claim store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{claims: make(map[uint64]*Claim)}
}

func (m *MemoryStore) Create(ctx context.Context, c *Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.claims[c.ID]; ok {
		return ErrClaimExists
	}
	m.claims[c.ID] = c.clone()
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id uint64) (*Claim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.claims[id]
	if !ok {
		return nil, ErrClaimNotFound
	}
	return c.clone(), nil
}

func (m *MemoryStore) Update(ctx context.Context, c *Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.claims[c.ID]; !ok {
		return ErrClaimNotFound
	}
	m.claims[c.ID] = c.clone()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.claims[id]; !ok {
		return ErrClaimNotFound
	}
	delete(m.claims, id)
	return nil
}

func (m *MemoryStore) ListByClaimant(ctx context.Context, claimant common.Address) ([]*Claim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Claim
	for _, c := range m.claims {
		if c.Claimant == claimant {
			result = append(result, c.clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *MemoryStore) All(ctx context.Context) ([]*Claim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*Claim, 0, len(m.claims))
	for _, c := range m.claims {
		result = append(result, c.clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}
