package ledger

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type balanceKey struct {
	asset   common.Address
	account common.Address
}

// MemoryStore is an in-memory balance store for demo/development mode.
type MemoryStore struct {
	mu       sync.RWMutex
	balances map[balanceKey]*big.Int
	entries  []*Entry
	nextID   int64
}

// NewMemoryStore creates a new in-memory balance store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[balanceKey]*big.Int),
		nextID:   1,
	}
}

func (m *MemoryStore) Balance(ctx context.Context, asset, account common.Address) (*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if b, ok := m.balances[balanceKey{asset, account}]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (m *MemoryStore) Transfer(ctx context.Context, asset, from, to common.Address, amount *big.Int, memo string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	src := m.balances[balanceKey{asset, from}]
	if src == nil || src.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	src.Sub(src, amount)
	m.credit(asset, to, amount)
	m.record(asset, from, to, amount, memo)
	return nil
}

func (m *MemoryStore) Mint(ctx context.Context, asset, to common.Address, amount *big.Int, memo string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.credit(asset, to, amount)
	m.record(asset, common.Address{}, to, amount, memo)
	return nil
}

func (m *MemoryStore) Burn(ctx context.Context, asset, from common.Address, amount *big.Int, memo string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	src := m.balances[balanceKey{asset, from}]
	if src == nil || src.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	src.Sub(src, amount)
	m.record(asset, from, common.Address{}, amount, memo)
	return nil
}

func (m *MemoryStore) Supply(ctx context.Context, asset common.Address) (*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := new(big.Int)
	for k, b := range m.balances {
		if k.asset == asset {
			total.Add(total, b)
		}
	}
	return total, nil
}

func (m *MemoryStore) History(ctx context.Context, account common.Address, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Entry
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if e.From != account && e.To != account {
			continue
		}
		cp := *e
		cp.Amount = new(big.Int).Set(e.Amount)
		result = append(result, &cp)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (m *MemoryStore) credit(asset, to common.Address, amount *big.Int) {
	key := balanceKey{asset, to}
	dst, ok := m.balances[key]
	if !ok {
		dst = new(big.Int)
		m.balances[key] = dst
	}
	dst.Add(dst, amount)
}

func (m *MemoryStore) record(asset, from, to common.Address, amount *big.Int, memo string) {
	m.entries = append(m.entries, &Entry{
		ID:        m.nextID,
		Asset:     asset,
		From:      from,
		To:        to,
		Amount:    new(big.Int).Set(amount),
		Memo:      memo,
		CreatedAt: time.Now().UTC(),
	})
	m.nextID++
}
