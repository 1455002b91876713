package product

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/solace-fi/coverage/internal/chain"
	"github.com/solace-fi/coverage/internal/events"
	"github.com/solace-fi/coverage/internal/governance"
	"github.com/solace-fi/coverage/internal/policy"
	"github.com/solace-fi/coverage/internal/voucher"
)

// Config names a product and bounds its policy periods.
type Config struct {
	Name       string
	Address    common.Address
	Governance common.Address
	ChainID    *big.Int
	MinPeriod  uint64
	MaxPeriod  uint64
}

// Deps are the collaborators a product works with.
type Deps struct {
	Registry PolicyRegistry
	Manager  RiskManager
	Strategy RiskStrategy
	Pool     CapitalPool
	Funds    Funds
	Verifier SignatureVerifier
	Clock    chain.Clock
	Events   events.Emitter
}

// Product sells and services cover of one kind.
//
// Product is not safe for concurrent use; the protocol serializes calls.
type Product struct {
	name    string
	address common.Address
	chainID *big.Int
	gov     *governance.Governable
	deps    Deps

	paused        bool
	minPeriod     uint64
	maxPeriod     uint64
	signers       []common.Address
	coveredAssets map[common.Address]bool
	assetOrder    []common.Address

	activeCover *big.Int
	policyCount uint64
}

// New creates a product. It starts unpaused with no signers and no covered assets.
func New(cfg Config, deps Deps) (*Product, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("product name is required")
	}
	if chain.IsZero(cfg.Address) {
		return nil, policy.ErrZeroProduct
	}
	if cfg.MinPeriod > cfg.MaxPeriod {
		return nil, ErrInvalidPeriod
	}
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	if deps.Verifier == nil {
		deps.Verifier = voucher.NewVerifier(nil)
	}
	g, err := governance.New(cfg.Address, cfg.Governance, deps.Events)
	if err != nil {
		return nil, err
	}
	chainID := new(big.Int)
	if cfg.ChainID != nil {
		chainID.Set(cfg.ChainID)
	}
	return &Product{
		name:          cfg.Name,
		address:       cfg.Address,
		chainID:       chainID,
		gov:           g,
		deps:          deps,
		minPeriod:     cfg.MinPeriod,
		maxPeriod:     cfg.MaxPeriod,
		coveredAssets: make(map[common.Address]bool),
		activeCover:   new(big.Int),
	}, nil
}

func (p *Product) Name() string                     { return p.name }
func (p *Product) Address() common.Address          { return p.address }
func (p *Product) Governor() *governance.Governable { return p.gov }
func (p *Product) Strategy() common.Address         { return p.deps.Strategy.Address() }
func (p *Product) Paused() bool                     { return p.paused }
func (p *Product) MinPeriod() uint64                { return p.minPeriod }
func (p *Product) MaxPeriod() uint64                { return p.maxPeriod }
func (p *Product) PolicyCount() uint64              { return p.policyCount }

// ActiveCoverAmount returns the live cover this product has sold.
func (p *Product) ActiveCoverAmount() *big.Int { return new(big.Int).Set(p.activeCover) }

// Restore seeds the product's live cover and policy count after the registry
// has been rebuilt from storage.
func (p *Product) Restore(activeCover *big.Int, policies uint64) {
	p.activeCover = new(big.Int).Set(activeCover)
	p.policyCount = policies
}

// Domain returns the EIP-712 domain vouchers for this product are signed under.
func (p *Product) Domain() voucher.Domain {
	return voucher.Domain{ProductName: p.name, ChainID: new(big.Int).Set(p.chainID), VerifyingContract: p.address}
}

// Price returns the strategy's current price for this product.
func (p *Product) Price() (uint32, error) {
	params, err := p.deps.Strategy.ProductParams(p.address)
	if err != nil {
		return 0, err
	}
	return params.Price, nil
}

// GetQuote prices cover for a number of blocks at the current price.
func (p *Product) GetQuote(cover *big.Int, blocks uint64) (*big.Int, error) {
	if cover == nil || cover.Sign() < 0 {
		return nil, ErrZeroCover
	}
	price, err := p.Price()
	if err != nil {
		return nil, err
	}
	return Quote(cover, blocks, price), nil
}

// BuyPolicy sells cover to holder, paid by caller. value must equal the premium.
func (p *Product) BuyPolicy(ctx context.Context, caller, holder common.Address, cover *big.Int, blocks uint64, description []byte, value *big.Int) (*policy.Policy, error) {
	if p.paused {
		return nil, ErrPaused
	}
	if chain.IsZero(holder) {
		return nil, policy.ErrZeroHolder
	}
	if cover == nil || cover.Sign() <= 0 {
		return nil, ErrZeroCover
	}
	if err := p.checkPeriod(blocks); err != nil {
		return nil, err
	}
	if !p.ValidatePositionDescription(description) {
		return nil, ErrInvalidDescription
	}
	if err := p.checkCapacity(ctx, cover); err != nil {
		return nil, err
	}
	price, err := p.assess(ctx, new(big.Int), cover)
	if err != nil {
		return nil, err
	}
	premium := Quote(cover, blocks, price)
	if err := p.checkPayment(ctx, caller, value, premium); err != nil {
		return nil, err
	}

	if err := p.collect(ctx, caller, premium, "premium "+p.name); err != nil {
		return nil, err
	}
	expiration := p.deps.Clock.BlockNumber() + blocks
	pol, err := p.deps.Registry.CreatePolicy(ctx, p.address, holder, cover, expiration, price, description, p.Strategy())
	if err != nil {
		return nil, revert(ctx, err, p.repay(caller, premium))
	}
	p.activeCover.Add(p.activeCover, cover)
	p.policyCount++
	return pol, nil
}

// ExtendPolicy pushes a policy's expiration out by extension blocks.
func (p *Product) ExtendPolicy(ctx context.Context, caller common.Address, id, extension uint64, value *big.Int) (*policy.Policy, error) {
	if p.paused {
		return nil, ErrPaused
	}
	pol, err := p.ownedActivePolicy(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	// Bounding extension first keeps the addition below from wrapping.
	if extension > p.maxPeriod {
		return nil, ErrPeriodTooLong
	}
	expiration := pol.ExpirationBlock + extension
	if expiration-p.deps.Clock.BlockNumber() > p.maxPeriod {
		return nil, ErrPeriodTooLong
	}
	premium := Quote(pol.CoverAmount, extension, pol.Price)
	if err := p.checkPayment(ctx, caller, value, premium); err != nil {
		return nil, err
	}

	if err := p.collect(ctx, caller, premium, fmt.Sprintf("premium policy %d", id)); err != nil {
		return nil, err
	}
	updated, err := p.deps.Registry.SetPolicyInfo(ctx, p.address, id, pol.CoverAmount, expiration, pol.Price, pol.PositionDescription)
	if err != nil {
		return nil, revert(ctx, err, p.repay(caller, premium))
	}
	p.deps.Events.Emit(p.address, EventPolicyExtended, map[string]any{"policyID": id, "expirationBlock": expiration})
	return updated, nil
}

// UpdateCoverAmount changes a policy's cover for its remaining blocks. Raising
// cover charges the premium difference; lowering it refunds the difference.
func (p *Product) UpdateCoverAmount(ctx context.Context, caller common.Address, id uint64, cover, value *big.Int) (*policy.Policy, error) {
	if p.paused {
		return nil, ErrPaused
	}
	if cover == nil || cover.Sign() <= 0 {
		return nil, ErrZeroCover
	}
	pol, err := p.ownedActivePolicy(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	delta := new(big.Int).Sub(cover, pol.CoverAmount)
	if delta.Sign() > 0 {
		if err := p.checkCapacity(ctx, delta); err != nil {
			return nil, err
		}
	}
	price, err := p.assess(ctx, pol.CoverAmount, cover)
	if err != nil {
		return nil, err
	}

	remaining := pol.ExpirationBlock - p.deps.Clock.BlockNumber()
	paid := Quote(pol.CoverAmount, remaining, pol.Price)
	owed := Quote(cover, remaining, price)
	charge := new(big.Int).Sub(owed, paid)
	refund := new(big.Int)
	if charge.Sign() < 0 {
		refund.Neg(charge)
		charge.SetInt64(0)
	}
	if err := p.checkPayment(ctx, caller, value, charge); err != nil {
		return nil, err
	}
	if err := p.checkRefund(ctx, refund); err != nil {
		return nil, err
	}

	// At most one of charge and refund is non-zero.
	if err := p.collect(ctx, caller, charge, fmt.Sprintf("premium policy %d", id)); err != nil {
		return nil, err
	}
	if err := p.refund(ctx, caller, refund); err != nil {
		return nil, err
	}
	updated, err := p.deps.Registry.SetPolicyInfo(ctx, p.address, id, cover, pol.ExpirationBlock, price, pol.PositionDescription)
	if err != nil {
		undo := p.repay(caller, charge)
		if refund.Sign() > 0 {
			undo = p.reclaim(caller, refund)
		}
		return nil, revert(ctx, err, undo)
	}
	p.activeCover.Add(p.activeCover, delta)
	p.deps.Events.Emit(p.address, EventPolicyCoverUpdated, map[string]any{
		"policyID": id, "coverAmount": cover.String(), "charged": charge.String(), "refunded": refund.String(),
	})
	return updated, nil
}

// CancelPolicy burns a policy and refunds the premium for its unused blocks.
func (p *Product) CancelPolicy(ctx context.Context, caller common.Address, id uint64) (*big.Int, error) {
	pol, err := p.ownedPolicy(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	refund := new(big.Int)
	if block := p.deps.Clock.BlockNumber(); pol.ActiveAt(block) {
		refund = Quote(pol.CoverAmount, pol.ExpirationBlock-block, pol.Price)
	}
	if err := p.checkRefund(ctx, refund); err != nil {
		return nil, err
	}

	if err := p.refund(ctx, caller, refund); err != nil {
		return nil, err
	}
	if err := p.deps.Registry.Burn(ctx, p.address, id); err != nil {
		return nil, revert(ctx, err, p.reclaim(caller, refund))
	}
	p.activeCover.Sub(p.activeCover, pol.CoverAmount)
	p.deps.Events.Emit(p.address, EventPolicyCanceled, map[string]any{"policyID": id, "refund": refund.String()})
	return refund, nil
}

// ClaimDigest returns the voucher digest a signer must sign to approve a claim.
func (p *Product) ClaimDigest(id uint64, claimant common.Address, amountOut, deadline *big.Int) (common.Hash, error) {
	return voucher.Digest(p.Domain(), voucher.Claim{PolicyID: id, Claimant: claimant, AmountOut: amountOut, Deadline: deadline})
}

// SubmitClaim redeems a signed voucher: the policy is burned and amountOut
// is sent through the capital pool to the claims escrow. deadline is a unix
// timestamp compared against the chain clock.
func (p *Product) SubmitClaim(ctx context.Context, caller common.Address, id uint64, amountOut, deadline *big.Int, sig []byte) error {
	pol, err := p.deps.Registry.GetPolicyInfo(ctx, id)
	if err != nil {
		return err
	}
	if caller != pol.Holder {
		return ErrNotPolicyholder
	}
	if pol.Product != p.address {
		return ErrWrongProduct
	}
	if amountOut == nil || amountOut.Sign() < 0 || amountOut.Cmp(pol.CoverAmount) > 0 {
		return ErrExcessiveAmountOut
	}
	if deadline == nil || big.NewInt(p.deps.Clock.Now().Unix()).Cmp(deadline) > 0 {
		return ErrExpiredDeadline
	}
	digest, err := p.ClaimDigest(id, caller, amountOut, deadline)
	if err != nil {
		return err
	}
	if _, err := p.deps.Verifier.Verify(ctx, digest, sig, p.signers); err != nil {
		return ErrInvalidSignature
	}
	if !p.deps.Pool.IsRequestor(p.address) {
		return ErrNotRequestor
	}

	if err := p.deps.Registry.Burn(ctx, p.address, id); err != nil {
		return err
	}
	if err := p.deps.Pool.ProcessClaim(ctx, p.address, id, caller, amountOut); err != nil {
		return revert(ctx, fmt.Errorf("failed to process claim: %w", err), func(ctx context.Context) error {
			return p.deps.Registry.Reinstate(ctx, p.address, pol)
		})
	}
	p.activeCover.Sub(p.activeCover, pol.CoverAmount)
	p.deps.Events.Emit(p.address, EventClaimSubmitted, map[string]any{"policyID": id})
	return nil
}

// OnPolicyExpired settles the product's books when the registry burns an expired policy.
// Policies of other products are ignored.
func (p *Product) OnPolicyExpired(ctx context.Context, pol *policy.Policy) {
	if pol.Product != p.address {
		return
	}
	p.activeCover.Sub(p.activeCover, pol.CoverAmount)
	p.deps.Events.Emit(p.address, EventPolicyExpired, map[string]any{"policyID": pol.ID})
}

// ownedPolicy loads a policy the caller holds under this product.
func (p *Product) ownedPolicy(ctx context.Context, caller common.Address, id uint64) (*policy.Policy, error) {
	pol, err := p.deps.Registry.GetPolicyInfo(ctx, id)
	if err != nil {
		return nil, err
	}
	if caller != pol.Holder {
		return nil, ErrNotPolicyholder
	}
	if pol.Product != p.address {
		return nil, ErrWrongProduct
	}
	return pol, nil
}

func (p *Product) ownedActivePolicy(ctx context.Context, caller common.Address, id uint64) (*policy.Policy, error) {
	pol, err := p.ownedPolicy(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if !pol.ActiveAt(p.deps.Clock.BlockNumber()) {
		return nil, ErrPolicyExpired
	}
	return pol, nil
}

func (p *Product) checkPeriod(blocks uint64) error {
	if blocks < p.minPeriod {
		return ErrPeriodTooShort
	}
	if blocks > p.maxPeriod {
		return ErrPeriodTooLong
	}
	return nil
}

// checkCapacity requires the pool to cover the requirement after adding cover.
func (p *Product) checkCapacity(ctx context.Context, added *big.Int) error {
	maxCover, err := p.deps.Manager.MaxCover(ctx)
	if err != nil {
		return err
	}
	if p.deps.Manager.MinCapitalRequirementWith(added).Cmp(maxCover) > 0 {
		return ErrInsufficientCapacity
	}
	return nil
}

func (p *Product) assess(ctx context.Context, existing, cover *big.Int) (uint32, error) {
	ok, price, err := p.deps.Strategy.AssessRisk(ctx, p.address, existing, cover)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrCannotAcceptRisk
	}
	return price, nil
}

// checkPayment requires value to equal owed and caller to hold it.
func (p *Product) checkPayment(ctx context.Context, caller common.Address, value, owed *big.Int) error {
	if value == nil {
		value = new(big.Int)
	}
	if value.Cmp(owed) != 0 {
		return ErrIncorrectPayment
	}
	if owed.Sign() == 0 {
		return nil
	}
	balance, err := p.deps.Funds.NativeBalance(ctx, caller)
	if err != nil {
		return err
	}
	if balance.Cmp(owed) < 0 {
		return ErrIncorrectPayment
	}
	return nil
}

func (p *Product) checkRefund(ctx context.Context, refund *big.Int) error {
	if refund.Sign() == 0 {
		return nil
	}
	if !p.deps.Pool.IsRequestor(p.address) {
		return ErrNotRequestor
	}
	assets, err := p.deps.Pool.TotalAssets(ctx)
	if err != nil {
		return err
	}
	if assets.Cmp(refund) < 0 {
		return ErrInsufficientCapacity
	}
	return nil
}

// collect moves a premium from caller into the capital pool.
func (p *Product) collect(ctx context.Context, caller common.Address, premium *big.Int, memo string) error {
	if premium.Sign() == 0 {
		return nil
	}
	if err := p.deps.Funds.Transfer(ctx, chain.NativeAsset, caller, p.deps.Pool.Address(), premium, memo); err != nil {
		return fmt.Errorf("failed to collect premium: %w", err)
	}
	return nil
}

// refund pays unused premium back to a policyholder through the pool.
func (p *Product) refund(ctx context.Context, to common.Address, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	if err := p.deps.Pool.RefundPremium(ctx, p.address, to, amount); err != nil {
		return fmt.Errorf("failed to refund premium: %w", err)
	}
	return nil
}

// repay undoes collect.
func (p *Product) repay(to common.Address, amount *big.Int) func(context.Context) error {
	return func(ctx context.Context) error {
		if amount.Sign() == 0 {
			return nil
		}
		return p.deps.Funds.Transfer(ctx, chain.NativeAsset, p.deps.Pool.Address(), to, amount, "premium returned")
	}
}

// reclaim undoes refund.
func (p *Product) reclaim(from common.Address, amount *big.Int) func(context.Context) error {
	return func(ctx context.Context) error {
		if amount.Sign() == 0 {
			return nil
		}
		return p.deps.Funds.Transfer(ctx, chain.NativeAsset, from, p.deps.Pool.Address(), amount, "refund reversed")
	}
}

// revert runs undo after a failed step and reports both failures. The undo
// runs even when ctx is already cancelled.
func revert(ctx context.Context, cause error, undo func(context.Context) error) error {
	if err := undo(context.WithoutCancel(ctx)); err != nil {
		return errors.Join(cause, fmt.Errorf("rollback: %w", err))
	}
	return cause
}
