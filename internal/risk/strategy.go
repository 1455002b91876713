package risk

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/solace-fi/coverage/internal/chain"
	"github.com/solace-fi/coverage/internal/events"
	"github.com/solace-fi/coverage/internal/governance"
)

// CapitalSource reports the capital allocated to a strategy.
type CapitalSource interface {
	MaxCoverPerStrategy(ctx context.Context, strategy common.Address) (*big.Int, error)
}

// Strategy is a bundle of products sharing one capital allocation.
//
// Active products live in a dense slice with an address-to-slot index.
// Removal moves the last product into the freed slot, so enumeration order
// is not stable across removals.
type Strategy struct {
	address common.Address
	gov     *governance.Governable
	capital CapitalSource
	events  events.Emitter

	params    map[common.Address]ProductParams
	products  []common.Address
	slots     map[common.Address]int
	weightSum uint32

	cover       map[common.Address]*big.Int
	activeCover *big.Int
}

// NewStrategy creates an empty strategy governed by governance.
func NewStrategy(address, gov common.Address, emitter events.Emitter) (*Strategy, error) {
	if chain.IsZero(address) {
		return nil, ErrZeroAddressStrategy
	}
	if emitter == nil {
		emitter = events.Nop{}
	}
	g, err := governance.New(address, gov, emitter)
	if err != nil {
		return nil, err
	}
	return &Strategy{
		address:     address,
		gov:         g,
		events:      emitter,
		params:      make(map[common.Address]ProductParams),
		slots:       make(map[common.Address]int),
		weightSum:   NoWeight,
		cover:       make(map[common.Address]*big.Int),
		activeCover: new(big.Int),
	}, nil
}

// Address returns the strategy's identity.
func (s *Strategy) Address() common.Address { return s.address }

// Governor exposes the strategy's governance role.
func (s *Strategy) Governor() *governance.Governable { return s.gov }

// AddProduct adds a product or updates it in place if already present.
func (s *Strategy) AddProduct(caller, product common.Address, weight, price uint32, divisor uint16) error {
	if err := s.gov.Require(caller); err != nil {
		return err
	}
	if chain.IsZero(product) {
		return ErrZeroAddressProduct
	}
	p := ProductParams{Weight: weight, Price: price, Divisor: divisor}
	if err := p.validate(); err != nil {
		return err
	}

	sum := uint64(s.currentWeightSum()) + uint64(weight)
	old, exists := s.params[product]
	if exists {
		sum -= uint64(old.Weight)
	}
	if sum >= uint64(NoWeight) {
		return ErrWeightOverflow
	}

	s.params[product] = p
	if !exists {
		s.slots[product] = len(s.products)
		s.products = append(s.products, product)
	}
	s.weightSum = uint32(sum)

	name := EventProductAdded
	if exists {
		name = EventProductUpdated
	}
	s.events.Emit(s.address, name, map[string]any{
		"product": product, "weight": weight, "price": price, "divisor": divisor,
	})
	return nil
}

// SetProductParams replaces the whole product set. Products not listed are removed.
func (s *Strategy) SetProductParams(caller common.Address, products []common.Address, weights, prices []uint32, divisors []uint16) error {
	if err := s.gov.Require(caller); err != nil {
		return err
	}
	n := len(products)
	if len(weights) != n || len(prices) != n || len(divisors) != n {
		return ErrLengthMismatch
	}

	seen := make(map[common.Address]bool, n)
	var sum uint64
	for i, product := range products {
		if chain.IsZero(product) {
			return ErrZeroAddressProduct
		}
		if seen[product] {
			return ErrDuplicateProduct
		}
		seen[product] = true
		p := ProductParams{Weight: weights[i], Price: prices[i], Divisor: divisors[i]}
		if err := p.validate(); err != nil {
			return err
		}
		sum += uint64(weights[i])
		if sum >= uint64(NoWeight) {
			return ErrWeightOverflow
		}
	}

	// Validation complete; mutate.
	for i := len(s.products) - 1; i >= 0; i-- {
		if product := s.products[i]; !seen[product] {
			s.removeSlot(product)
		}
	}
	for i, product := range products {
		if _, ok := s.params[product]; !ok {
			s.slots[product] = len(s.products)
			s.products = append(s.products, product)
		}
		s.params[product] = ProductParams{Weight: weights[i], Price: prices[i], Divisor: divisors[i]}
	}
	if n == 0 {
		s.weightSum = NoWeight
	} else {
		s.weightSum = uint32(sum)
	}

	s.events.Emit(s.address, EventProductParamsSet, map[string]any{"products": products})
	return nil
}

// RemoveProduct removes a product. Removing an absent product does nothing.
func (s *Strategy) RemoveProduct(caller, product common.Address) error {
	if err := s.gov.Require(caller); err != nil {
		return err
	}
	p, ok := s.params[product]
	if !ok {
		return nil
	}
	s.removeSlot(product)
	if len(s.products) == 0 {
		s.weightSum = NoWeight
	} else {
		s.weightSum -= p.Weight
	}
	s.events.Emit(s.address, EventProductRemoved, map[string]any{"product": product})
	return nil
}

func (s *Strategy) removeSlot(product common.Address) {
	slot := s.slots[product]
	last := len(s.products) - 1
	if slot != last {
		moved := s.products[last]
		s.products[slot] = moved
		s.slots[moved] = slot
	}
	s.products = s.products[:last]
	delete(s.slots, product)
	delete(s.params, product)
}

func (s *Strategy) currentWeightSum() uint32 {
	if s.weightSum == NoWeight {
		return 0
	}
	return s.weightSum
}

// WeightSum returns the sum of active product weights, or NoWeight when empty.
func (s *Strategy) WeightSum() uint32 { return s.weightSum }

// NumProducts returns the number of active products.
func (s *Strategy) NumProducts() int { return len(s.products) }

// ProductAt returns the product in slot i.
func (s *Strategy) ProductAt(i int) (common.Address, bool) {
	if i < 0 || i >= len(s.products) {
		return common.Address{}, false
	}
	return s.products[i], true
}

// Products returns a copy of the active product list.
func (s *Strategy) Products() []common.Address {
	return append([]common.Address(nil), s.products...)
}

// ProductIsActive reports whether the strategy covers product.
func (s *Strategy) ProductIsActive(product common.Address) bool {
	_, ok := s.params[product]
	return ok
}

// ProductParams returns the terms for product.
func (s *Strategy) ProductParams(product common.Address) (ProductParams, error) {
	p, ok := s.params[product]
	if !ok {
		return ProductParams{}, ErrProductInactive
	}
	return p, nil
}

// MaxCover returns the capital allocated to this strategy.
func (s *Strategy) MaxCover(ctx context.Context) (*big.Int, error) {
	if s.capital == nil {
		return new(big.Int), nil
	}
	return s.capital.MaxCoverPerStrategy(ctx, s.address)
}

// MaxCoverPerProduct returns the product's share of the strategy capital.
func (s *Strategy) MaxCoverPerProduct(ctx context.Context, product common.Address) (*big.Int, error) {
	p, ok := s.params[product]
	if !ok {
		return nil, ErrProductInactive
	}
	capital, err := s.MaxCover(ctx)
	if err != nil {
		return nil, err
	}
	return mulDiv(capital, uint64(p.Weight), uint64(s.weightSum)), nil
}

// MaxCoverPerPolicy returns the largest cover a single policy may hold.
func (s *Strategy) MaxCoverPerPolicy(ctx context.Context, product common.Address) (*big.Int, error) {
	mc, err := s.MaxCoverPerProduct(ctx, product)
	if err != nil {
		return nil, err
	}
	p := s.params[product]
	return mc.Quo(mc, big.NewInt(int64(p.Divisor))), nil
}

// SellableCoverPerProduct returns the cover still available for product, never negative.
func (s *Strategy) SellableCoverPerProduct(ctx context.Context, product common.Address) (*big.Int, error) {
	mc, err := s.MaxCoverPerProduct(ctx, product)
	if err != nil {
		return nil, err
	}
	mc.Sub(mc, s.ActiveCoverAmountPerProduct(product))
	if mc.Sign() < 0 {
		mc.SetInt64(0)
	}
	return mc, nil
}

// AssessRisk decides whether a policy's cover may move from existingCover to
// newCover, and quotes the product's price. Unknown products are refused at MaxPrice.
// The product cap only applies when cover grows; the per-policy cap always applies.
func (s *Strategy) AssessRisk(ctx context.Context, product common.Address, existingCover, newCover *big.Int) (bool, uint32, error) {
	p, ok := s.params[product]
	if !ok {
		return false, MaxPrice, nil
	}
	mc, err := s.MaxCoverPerProduct(ctx, product)
	if err != nil {
		return false, p.Price, err
	}

	if newCover.Cmp(existingCover) > 0 {
		projected := new(big.Int).Sub(s.ActiveCoverAmountPerProduct(product), existingCover)
		if projected.Sign() < 0 {
			projected.SetInt64(0)
		}
		projected.Add(projected, newCover)
		if projected.Cmp(mc) > 0 {
			return false, p.Price, nil
		}
	}

	perPolicy := mc.Quo(mc, big.NewInt(int64(p.Divisor)))
	if newCover.Cmp(perPolicy) > 0 {
		return false, p.Price, nil
	}
	return true, p.Price, nil
}

// ActiveCoverAmount returns the cover of every live policy under this strategy.
func (s *Strategy) ActiveCoverAmount() *big.Int {
	return new(big.Int).Set(s.activeCover)
}

// ActiveCoverAmountPerProduct returns the live cover sold by product under this strategy.
func (s *Strategy) ActiveCoverAmountPerProduct(product common.Address) *big.Int {
	if c, ok := s.cover[product]; ok {
		return new(big.Int).Set(c)
	}
	return new(big.Int)
}

func (s *Strategy) canAdjustCover(product common.Address, oldCover *big.Int) error {
	if oldCover.Cmp(s.ActiveCoverAmountPerProduct(product)) > 0 {
		return ErrCoverUnderflow
	}
	return nil
}

func (s *Strategy) adjustCover(product common.Address, oldCover, newCover *big.Int) {
	delta := new(big.Int).Sub(newCover, oldCover)
	c, ok := s.cover[product]
	if !ok {
		c = new(big.Int)
		s.cover[product] = c
	}
	c.Add(c, delta)
	if c.Sign() == 0 {
		delete(s.cover, product)
	}
	s.activeCover.Add(s.activeCover, delta)
}
