package policy

import (
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryStore is an in-memory policy store for demo/development mode.
type MemoryStore struct {
	policies map[uint64]*Policy
	maxID    uint64
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory policy store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{policies: make(map[uint64]*Policy)}
}

func (m *MemoryStore) Create(ctx context.Context, p *Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[p.ID] = p.clone()
	if p.ID > m.maxID {
		m.maxID = p.ID
	}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id uint64) (*Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.policies[id]
	if !ok {
		return nil, ErrNonexistentPolicy
	}
	return p.clone(), nil
}

func (m *MemoryStore) Update(ctx context.Context, p *Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.policies[p.ID]; !ok {
		return ErrNonexistentPolicy
	}
	m.policies[p.ID] = p.clone()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.policies[id]; !ok {
		return ErrNonexistentPolicy
	}
	delete(m.policies, id)
	return nil
}

func (m *MemoryStore) DeleteMany(ctx context.Context, ids []uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if _, ok := m.policies[id]; !ok {
			return ErrNonexistentPolicy
		}
	}
	for _, id := range ids {
		delete(m.policies, id)
	}
	return nil
}

func (m *MemoryStore) Reinstate(ctx context.Context, p *Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.policies[p.ID]; ok {
		return ErrPolicyExists
	}
	if p.ID > m.maxID {
		return ErrNonexistentPolicy
	}
	m.policies[p.ID] = p.clone()
	return nil
}

func (m *MemoryStore) ListByHolder(ctx context.Context, holder common.Address) ([]*Policy, error) {
	return m.filter(func(p *Policy) bool { return p.Holder == holder }, 0), nil
}

func (m *MemoryStore) ListExpired(ctx context.Context, block uint64, limit int) ([]*Policy, error) {
	return m.filter(func(p *Policy) bool { return !p.ActiveAt(block) }, limit), nil
}

func (m *MemoryStore) All(ctx context.Context) ([]*Policy, error) {
	return m.filter(func(*Policy) bool { return true }, 0), nil
}

func (m *MemoryStore) MaxID(ctx context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxID, nil
}

// filter returns matching policies ordered by id.
func (m *MemoryStore) filter(match func(*Policy) bool, limit int) []*Policy {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Policy
	for _, p := range m.policies {
		if match(p) {
			result = append(result, p.clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}
