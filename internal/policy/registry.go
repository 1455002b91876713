package policy

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/solace-fi/coverage/internal/chain"
	"github.com/solace-fi/coverage/internal/events"
	"github.com/solace-fi/coverage/internal/governance"
)

// Registry owns every policy record and the cover aggregates derived from them.
//
// Registry is not safe for concurrent use; the protocol serializes calls.
type Registry struct {
	address common.Address
	gov     *governance.Governable
	store   Store
	clock   chain.Clock
	tracker CoverTracker
	events  events.Emitter

	products     map[common.Address]bool
	productOrder []common.Address
	hooks        map[common.Address]ProductHook

	lastID      uint64
	supply      uint64
	activeCover *big.Int
	perProduct  map[common.Address]*big.Int
	heldBy      map[common.Address]uint64
}

// NewRegistry creates an empty registry. Call Rebuild before use when the
// store already holds policies.
func NewRegistry(address, gov common.Address, store Store, clock chain.Clock, tracker CoverTracker, emitter events.Emitter) (*Registry, error) {
	if emitter == nil {
		emitter = events.Nop{}
	}
	g, err := governance.New(address, gov, emitter)
	if err != nil {
		return nil, err
	}
	return &Registry{
		address:     address,
		gov:         g,
		store:       store,
		clock:       clock,
		tracker:     tracker,
		events:      emitter,
		products:    make(map[common.Address]bool),
		hooks:       make(map[common.Address]ProductHook),
		activeCover: new(big.Int),
		perProduct:  make(map[common.Address]*big.Int),
		heldBy:      make(map[common.Address]uint64),
	}, nil
}

// Address returns the registry's identity.
func (r *Registry) Address() common.Address { return r.address }

// Governor exposes the registry's governance role.
func (r *Registry) Governor() *governance.Governable { return r.gov }

// AddProduct allows product to mint policies.
func (r *Registry) AddProduct(caller, product common.Address) error {
	if err := r.gov.Require(caller); err != nil {
		return err
	}
	if chain.IsZero(product) {
		return ErrZeroProduct
	}
	if r.products[product] {
		return nil
	}
	r.products[product] = true
	r.productOrder = append(r.productOrder, product)
	r.events.Emit(r.address, EventProductAdded, map[string]any{"product": product})
	return nil
}

// RemoveProduct stops product from minting. Its existing policies stay live.
func (r *Registry) RemoveProduct(caller, product common.Address) error {
	if err := r.gov.Require(caller); err != nil {
		return err
	}
	if !r.products[product] {
		return nil
	}
	delete(r.products, product)
	for i, p := range r.productOrder {
		if p == product {
			r.productOrder = append(r.productOrder[:i], r.productOrder[i+1:]...)
			break
		}
	}
	r.events.Emit(r.address, EventProductRemoved, map[string]any{"product": product})
	return nil
}

// SetProductHook registers the expiry callback for a product.
func (r *Registry) SetProductHook(product common.Address, hook ProductHook) {
	r.hooks[product] = hook
}

// IsProduct reports whether product may mint policies.
func (r *Registry) IsProduct(product common.Address) bool { return r.products[product] }

// ListProducts returns the registered products in registration order.
func (r *Registry) ListProducts() []common.Address {
	return append([]common.Address(nil), r.productOrder...)
}

// CreatePolicy mints a policy for holder on behalf of the calling product.
func (r *Registry) CreatePolicy(ctx context.Context, caller, holder common.Address, cover *big.Int, expiration uint64, price uint32, description []byte, strategy common.Address) (*Policy, error) {
	if !r.products[caller] {
		return nil, ErrProductInactive
	}
	if chain.IsZero(holder) {
		return nil, ErrZeroHolder
	}
	if cover == nil || cover.Sign() < 0 {
		return nil, ErrInvalidCover
	}
	zero := new(big.Int)
	if err := r.tracker.CheckAdjustCover(strategy, caller, zero, cover); err != nil {
		return nil, err
	}

	now := r.clock.Now()
	p := &Policy{
		ID:                  r.lastID + 1,
		Holder:              holder,
		Product:             caller,
		Strategy:            strategy,
		PositionDescription: append([]byte(nil), description...),
		CoverAmount:         new(big.Int).Set(cover),
		ExpirationBlock:     expiration,
		Price:               price,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := r.store.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to store policy: %w", err)
	}
	if err := r.tracker.AdjustCover(strategy, caller, zero, cover); err != nil {
		return nil, err
	}
	r.lastID = p.ID
	r.supply++
	r.heldBy[caller]++
	r.addCover(caller, cover)

	r.events.Emit(r.address, EventPolicyCreated, map[string]any{"policyID": p.ID})
	return p.clone(), nil
}

// SetPolicyInfo rewrites a policy's terms. Only the owning product may call it.
func (r *Registry) SetPolicyInfo(ctx context.Context, caller common.Address, id uint64, cover *big.Int, expiration uint64, price uint32, description []byte) (*Policy, error) {
	p, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Product != caller {
		return nil, ErrWrongProduct
	}
	if cover == nil || cover.Sign() < 0 {
		return nil, ErrInvalidCover
	}
	if err := r.tracker.CheckAdjustCover(p.Strategy, p.Product, p.CoverAmount, cover); err != nil {
		return nil, err
	}

	old := p.CoverAmount
	p.CoverAmount = new(big.Int).Set(cover)
	p.ExpirationBlock = expiration
	p.Price = price
	p.PositionDescription = append([]byte(nil), description...)
	p.UpdatedAt = r.clock.Now()
	if err := r.store.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to update policy: %w", err)
	}
	if err := r.tracker.AdjustCover(p.Strategy, p.Product, old, cover); err != nil {
		return nil, err
	}
	r.addCover(p.Product, new(big.Int).Sub(cover, old))

	r.events.Emit(r.address, EventPolicyUpdated, map[string]any{"policyID": id})
	return p.clone(), nil
}

// Burn destroys a policy. Only the owning product may call it.
func (r *Registry) Burn(ctx context.Context, caller common.Address, id uint64) error {
	p, err := r.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if p.Product != caller {
		return ErrWrongProduct
	}
	return r.burn(ctx, p)
}

func (r *Registry) burn(ctx context.Context, p *Policy) error {
	zero := new(big.Int)
	if err := r.tracker.CheckAdjustCover(p.Strategy, p.Product, p.CoverAmount, zero); err != nil {
		return err
	}
	if err := r.store.Delete(ctx, p.ID); err != nil {
		return fmt.Errorf("failed to delete policy: %w", err)
	}
	r.settleBurn(p)
	return nil
}

// settleBurn drops a deleted policy from the aggregates. The caller has
// already passed CheckAdjustCover for it, so the tracker cannot refuse.
func (r *Registry) settleBurn(p *Policy) {
	_ = r.tracker.AdjustCover(p.Strategy, p.Product, p.CoverAmount, new(big.Int))
	r.supply--
	if r.heldBy[p.Product]--; r.heldBy[p.Product] == 0 {
		delete(r.heldBy, p.Product)
	}
	r.addCover(p.Product, new(big.Int).Neg(p.CoverAmount))

	r.events.Emit(r.address, EventPolicyBurned, map[string]any{"policyID": p.ID})
}

// Reinstate restores a policy the calling product burned earlier in the same
// protocol call, for when a step after the burn fails.
func (r *Registry) Reinstate(ctx context.Context, caller common.Address, p *Policy) error {
	if p.Product != caller {
		return ErrWrongProduct
	}
	zero := new(big.Int)
	if err := r.tracker.CheckAdjustCover(p.Strategy, p.Product, zero, p.CoverAmount); err != nil {
		return err
	}
	if err := r.store.Reinstate(ctx, p); err != nil {
		return fmt.Errorf("failed to reinstate policy %d: %w", p.ID, err)
	}
	_ = r.tracker.AdjustCover(p.Strategy, p.Product, zero, p.CoverAmount)
	r.supply++
	r.heldBy[p.Product]++
	r.addCover(p.Product, p.CoverAmount)
	return nil
}

// UpdateActivePolicies burns every expired policy among ids and notifies the
// owning products. Unknown, repeated and still-active ids are skipped. The
// batch is all or nothing: every expired policy is checked before one store
// call deletes them together. It returns the number of policies burned.
func (r *Registry) UpdateActivePolicies(ctx context.Context, ids []uint64) (int, error) {
	block := r.clock.BlockNumber()
	zero := new(big.Int)
	seen := make(map[uint64]bool, len(ids))
	var expired []*Policy
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		p, err := r.store.Get(ctx, id)
		if errors.Is(err, ErrNonexistentPolicy) {
			continue
		}
		if err != nil {
			return 0, err
		}
		if p.ActiveAt(block) {
			continue
		}
		if err := r.tracker.CheckAdjustCover(p.Strategy, p.Product, p.CoverAmount, zero); err != nil {
			return 0, fmt.Errorf("policy %d: %w", id, err)
		}
		expired = append(expired, p)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	burn := make([]uint64, len(expired))
	for i, p := range expired {
		burn[i] = p.ID
	}
	if err := r.store.DeleteMany(ctx, burn); err != nil {
		return 0, fmt.Errorf("failed to burn expired policies: %w", err)
	}
	for _, p := range expired {
		r.settleBurn(p)
		if hook, ok := r.hooks[p.Product]; ok {
			hook.OnPolicyExpired(ctx, p)
		}
	}
	return len(expired), nil
}

// SweepExpired burns up to limit policies that have expired by the current block.
func (r *Registry) SweepExpired(ctx context.Context, limit int) (int, error) {
	expired, err := r.store.ListExpired(ctx, r.clock.BlockNumber(), limit)
	if err != nil {
		return 0, err
	}
	ids := make([]uint64, len(expired))
	for i, p := range expired {
		ids[i] = p.ID
	}
	return r.UpdateActivePolicies(ctx, ids)
}

// TransferFrom moves a policy to a new holder. Cover accounting is untouched.
func (r *Registry) TransferFrom(ctx context.Context, caller, from, to common.Address, id uint64) error {
	p, err := r.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if caller != p.Holder || from != p.Holder {
		return ErrNotPolicyholder
	}
	if chain.IsZero(to) {
		return ErrZeroHolder
	}
	p.Holder = to
	p.UpdatedAt = r.clock.Now()
	if err := r.store.Update(ctx, p); err != nil {
		return fmt.Errorf("failed to transfer policy: %w", err)
	}
	r.events.Emit(r.address, EventPolicyTransferred, map[string]any{"policyID": id, "from": from, "to": to})
	return nil
}

// GetPolicyInfo returns a policy by id.
func (r *Registry) GetPolicyInfo(ctx context.Context, id uint64) (*Policy, error) {
	return r.store.Get(ctx, id)
}

// Exists reports whether a policy is live in the registry.
func (r *Registry) Exists(ctx context.Context, id uint64) (bool, error) {
	_, err := r.store.Get(ctx, id)
	if errors.Is(err, ErrNonexistentPolicy) {
		return false, nil
	}
	return err == nil, err
}

// PolicyIsActive reports whether a policy exists and has not expired.
func (r *Registry) PolicyIsActive(ctx context.Context, id uint64) (bool, error) {
	p, err := r.store.Get(ctx, id)
	if errors.Is(err, ErrNonexistentPolicy) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.ActiveAt(r.clock.BlockNumber()), nil
}

// PolicyHasExpired reports whether a policy exists and has expired.
func (r *Registry) PolicyHasExpired(ctx context.Context, id uint64) (bool, error) {
	p, err := r.store.Get(ctx, id)
	if errors.Is(err, ErrNonexistentPolicy) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !p.ActiveAt(r.clock.BlockNumber()), nil
}

// ListPolicies returns the live policies held by holder.
func (r *Registry) ListPolicies(ctx context.Context, holder common.Address) ([]*Policy, error) {
	return r.store.ListByHolder(ctx, holder)
}

// ActiveCoverAmount returns the cover of every live policy.
func (r *Registry) ActiveCoverAmount() *big.Int {
	return new(big.Int).Set(r.activeCover)
}

// ActiveCoverAmountPerProduct returns the live cover sold by product.
func (r *Registry) ActiveCoverAmountPerProduct(product common.Address) *big.Int {
	if c, ok := r.perProduct[product]; ok {
		return new(big.Int).Set(c)
	}
	return new(big.Int)
}

// TotalSupply returns the number of live policies.
func (r *Registry) TotalSupply() uint64 { return r.supply }

// SupplyOf returns the number of live policies sold by product.
func (r *Registry) SupplyOf(product common.Address) uint64 { return r.heldBy[product] }

// PolicyCount returns the number of policies ever minted.
func (r *Registry) PolicyCount() uint64 { return r.lastID }

// Rebuild replays the stored policies into the aggregates and the cover
// tracker. It must run before any other call on a fresh process.
func (r *Registry) Rebuild(ctx context.Context) error {
	maxID, err := r.store.MaxID(ctx)
	if err != nil {
		return fmt.Errorf("failed to read policy id: %w", err)
	}
	all, err := r.store.All(ctx)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	r.activeCover = new(big.Int)
	r.perProduct = make(map[common.Address]*big.Int)
	r.heldBy = make(map[common.Address]uint64)
	r.supply = 0
	zero := new(big.Int)
	for _, p := range all {
		if err := r.tracker.AdjustCover(p.Strategy, p.Product, zero, p.CoverAmount); err != nil {
			return fmt.Errorf("policy %d: %w", p.ID, err)
		}
		r.supply++
		r.heldBy[p.Product]++
		r.addCover(p.Product, p.CoverAmount)
	}
	r.lastID = maxID
	return nil
}

func (r *Registry) addCover(product common.Address, delta *big.Int) {
	r.activeCover.Add(r.activeCover, delta)
	c, ok := r.perProduct[product]
	if !ok {
		c = new(big.Int)
		r.perProduct[product] = c
	}
	c.Add(c, delta)
	if c.Sign() == 0 {
		delete(r.perProduct, product)
	}
}
