package risk

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/solace-fi/coverage/internal/chain"
	"github.com/solace-fi/coverage/internal/events"
	"github.com/solace-fi/coverage/internal/governance"
)

// CapitalPool reports the backing capital available to underwrite cover.
type CapitalPool interface {
	TotalAssets(ctx context.Context) (*big.Int, error)
}

// StrategyInfo is a strategy's allocation as seen by the manager.
type StrategyInfo struct {
	Address          common.Address `json:"address"`
	Active           bool           `json:"active"`
	WeightAllocation uint32         `json:"weightAllocation"`
	WeightSum        uint32         `json:"weightSum"`
	Products         int            `json:"products"`
	ActiveCover      string         `json:"activeCover"`
}

type allocation struct {
	strategy *Strategy
	active   bool
	weight   uint32
}

// Manager allocates backing capital across risk strategies and tracks the
// minimum capital requirement of all live cover.
type Manager struct {
	address common.Address
	gov     *governance.Governable
	pool    CapitalPool
	events  events.Emitter

	strategies map[common.Address]*allocation
	order      []common.Address
	weightSum  uint32

	partialReservesFactor uint16
}

// NewManager creates a manager with no strategies and no leverage.
func NewManager(address, gov common.Address, pool CapitalPool, emitter events.Emitter) (*Manager, error) {
	if emitter == nil {
		emitter = events.Nop{}
	}
	g, err := governance.New(address, gov, emitter)
	if err != nil {
		return nil, err
	}
	return &Manager{
		address:               address,
		gov:                   g,
		pool:                  pool,
		events:                emitter,
		strategies:            make(map[common.Address]*allocation),
		weightSum:             NoWeight,
		partialReservesFactor: MaxBPS,
	}, nil
}

// Address returns the manager's identity.
func (m *Manager) Address() common.Address { return m.address }

// Governor exposes the manager's governance role.
func (m *Manager) Governor() *governance.Governable { return m.gov }

// SetCapitalPool wires the pool whose assets back cover.
func (m *Manager) SetCapitalPool(pool CapitalPool) { m.pool = pool }

// AddRiskStrategy registers a strategy. It starts inactive with no allocation.
func (m *Manager) AddRiskStrategy(caller common.Address, s *Strategy) (int, error) {
	if err := m.gov.Require(caller); err != nil {
		return 0, err
	}
	if s == nil || chain.IsZero(s.address) {
		return 0, ErrZeroAddressStrategy
	}
	if _, ok := m.strategies[s.address]; ok {
		return 0, ErrStrategyExists
	}
	m.strategies[s.address] = &allocation{strategy: s}
	m.order = append(m.order, s.address)
	s.capital = m

	index := len(m.order)
	m.events.Emit(m.address, EventRiskStrategyAdded, map[string]any{"strategy": s.address, "index": index})
	return index, nil
}

// SetStrategyStatus activates or deactivates a strategy.
func (m *Manager) SetStrategyStatus(caller, strategy common.Address, active bool) error {
	if err := m.gov.Require(caller); err != nil {
		return err
	}
	a, ok := m.strategies[strategy]
	if !ok {
		return ErrUnknownStrategy
	}
	prev := a.active
	a.active = active
	if _, err := m.recomputeWeightSum(); err != nil {
		a.active = prev
		return err
	}
	m.events.Emit(m.address, EventStrategyStatusSet, map[string]any{"strategy": strategy, "active": active})
	return nil
}

// SetWeightAllocation sets an active strategy's share of capital. The new
// share must still cover the strategy's live cover.
func (m *Manager) SetWeightAllocation(ctx context.Context, caller, strategy common.Address, weight uint32) error {
	if err := m.gov.Require(caller); err != nil {
		return err
	}
	a, ok := m.strategies[strategy]
	if !ok {
		return ErrUnknownStrategy
	}
	if weight == 0 {
		return ErrInvalidWeightAllocation
	}
	if !a.active {
		return ErrStrategyInactive
	}

	sum := uint64(weight)
	for addr, other := range m.strategies {
		if addr != strategy && other.active {
			sum += uint64(other.weight)
		}
	}
	if sum >= uint64(NoWeight) {
		return ErrInvalidWeightAllocation
	}

	total, err := m.MaxCover(ctx)
	if err != nil {
		return err
	}
	capacity := mulDiv(total, uint64(weight), sum)
	if capacity.Cmp(a.strategy.activeCover) < 0 {
		return ErrInvalidWeightAllocation
	}

	a.weight = weight
	m.weightSum = uint32(sum)
	m.events.Emit(m.address, EventWeightAllocationSet, map[string]any{"strategy": strategy, "weight": weight})
	return nil
}

// SetPartialReservesFactor sets the fraction of active cover, in basis
// points, that must be held as capital.
func (m *Manager) SetPartialReservesFactor(caller common.Address, bps uint16) error {
	if err := m.gov.Require(caller); err != nil {
		return err
	}
	if bps == 0 || bps > MaxBPS {
		return ErrInvalidFactor
	}
	m.partialReservesFactor = bps
	m.events.Emit(m.address, EventPartialReservesFactorSet, map[string]any{"factor": bps})
	return nil
}

func (m *Manager) recomputeWeightSum() (uint32, error) {
	var sum uint64
	for _, a := range m.strategies {
		if a.active {
			sum += uint64(a.weight)
		}
	}
	if sum >= uint64(NoWeight) {
		return 0, ErrInvalidWeightAllocation
	}
	if sum == 0 {
		m.weightSum = NoWeight
	} else {
		m.weightSum = uint32(sum)
	}
	return m.weightSum, nil
}

// PartialReservesFactor returns the reserves factor in basis points.
func (m *Manager) PartialReservesFactor() uint16 { return m.partialReservesFactor }

// WeightSum returns the sum of active allocations, or NoWeight when none.
func (m *Manager) WeightSum() uint32 { return m.weightSum }

// NumStrategies returns the number of registered strategies.
func (m *Manager) NumStrategies() int { return len(m.order) }

// StrategyIsActive reports whether strategy is registered and active.
func (m *Manager) StrategyIsActive(strategy common.Address) bool {
	a, ok := m.strategies[strategy]
	return ok && a.active
}

// Strategy returns a registered strategy.
func (m *Manager) Strategy(addr common.Address) (*Strategy, bool) {
	a, ok := m.strategies[addr]
	if !ok {
		return nil, false
	}
	return a.strategy, true
}

// Strategies describes every registered strategy in registration order.
func (m *Manager) Strategies() []StrategyInfo {
	out := make([]StrategyInfo, 0, len(m.order))
	for _, addr := range m.order {
		a := m.strategies[addr]
		out = append(out, StrategyInfo{
			Address:          addr,
			Active:           a.active,
			WeightAllocation: a.weight,
			WeightSum:        a.strategy.weightSum,
			Products:         len(a.strategy.products),
			ActiveCover:      a.strategy.activeCover.String(),
		})
	}
	return out
}

// MaxCover returns the pool's total assets.
func (m *Manager) MaxCover(ctx context.Context) (*big.Int, error) {
	if m.pool == nil {
		return new(big.Int), nil
	}
	total, err := m.pool.TotalAssets(ctx)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(total), nil
}

// MaxCoverPerStrategy returns the strategy's share of capital. Unknown,
// inactive and unallocated strategies get zero.
func (m *Manager) MaxCoverPerStrategy(ctx context.Context, strategy common.Address) (*big.Int, error) {
	a, ok := m.strategies[strategy]
	if !ok || !a.active || a.weight == 0 || m.weightSum == NoWeight {
		return new(big.Int), nil
	}
	total, err := m.MaxCover(ctx)
	if err != nil {
		return nil, err
	}
	return mulDiv(total, uint64(a.weight), uint64(m.weightSum)), nil
}

// ActiveCoverAmount sums live cover across strategies.
func (m *Manager) ActiveCoverAmount() *big.Int {
	total := new(big.Int)
	for _, a := range m.strategies {
		total.Add(total, a.strategy.activeCover)
	}
	return total
}

// MinCapitalRequirement returns the capital that must back all live cover.
func (m *Manager) MinCapitalRequirement() *big.Int {
	return m.leverage(m.ActiveCoverAmount())
}

// MinCapitalRequirementPerStrategy returns the capital that must back one strategy's cover.
func (m *Manager) MinCapitalRequirementPerStrategy(strategy common.Address) *big.Int {
	a, ok := m.strategies[strategy]
	if !ok {
		return new(big.Int)
	}
	return m.leverage(a.strategy.activeCover)
}

// MinCapitalRequirementWith returns the requirement if live cover changed by delta.
func (m *Manager) MinCapitalRequirementWith(delta *big.Int) *big.Int {
	cover := m.ActiveCoverAmount()
	cover.Add(cover, delta)
	if cover.Sign() < 0 {
		cover.SetInt64(0)
	}
	return m.leverage(cover)
}

func (m *Manager) leverage(cover *big.Int) *big.Int {
	return mulDiv(cover, uint64(MaxBPS), uint64(m.partialReservesFactor))
}

// CheckAdjustCover validates a cover change without applying it.
func (m *Manager) CheckAdjustCover(strategy, product common.Address, oldCover, newCover *big.Int) error {
	a, ok := m.strategies[strategy]
	if !ok {
		return ErrUnknownStrategy
	}
	if oldCover.Sign() < 0 || newCover.Sign() < 0 {
		return ErrCoverUnderflow
	}
	return a.strategy.canAdjustCover(product, oldCover)
}

// AdjustCover moves a policy's cover from oldCover to newCover in the
// strategy and global totals.
func (m *Manager) AdjustCover(strategy, product common.Address, oldCover, newCover *big.Int) error {
	if err := m.CheckAdjustCover(strategy, product, oldCover, newCover); err != nil {
		return err
	}
	m.strategies[strategy].strategy.adjustCover(product, oldCover, newCover)
	return nil
}
