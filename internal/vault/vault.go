// Package vault holds the capital pool that backs cover.
//
// Depositors receive shares, tracked in the ledger as an asset whose address
// is the vault's own. Native assets held by the vault are the protocol's
// backing capital; the risk manager sizes capacity from them and the vault
// refuses withdrawals that would leave less than the minimum capital
// requirement.
package vault

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/solace-fi/coverage/internal/chain"
	"github.com/solace-fi/coverage/internal/events"
	"github.com/solace-fi/coverage/internal/governance"
	"github.com/solace-fi/coverage/internal/ledger"
)

var (
	ErrNotRequestor        = errors.New("!requestor")
	ErrNotEscrow           = errors.New("!escrow")
	ErrInsufficientCapital = errors.New("insufficient capital")
	ErrInsufficientShares  = errors.New("insufficient shares")
	ErrZeroAmount          = errors.New("zero amount")
	ErrEscrowNotSet        = errors.New("claims escrow not set")
)

const (
	EventDepositMade    = "DepositMade"
	EventWithdrawalMade = "WithdrawalMade"
	EventClaimProcessed = "ClaimProcessed"
	EventRequestorSet   = "RequestorSet"
)

// MCRSource reports the minimum capital the vault must keep.
type MCRSource interface {
	MinCapitalRequirement() *big.Int
}

// ClaimReceiver records approved claims. The claims escrow implements it.
type ClaimReceiver interface {
	ReceiveClaim(ctx context.Context, caller common.Address, policyID uint64, claimant common.Address, amount *big.Int) error
}

// Vault is the protocol's capital pool.
//
// Vault is not safe for concurrent use; the protocol serializes calls.
type Vault struct {
	address common.Address
	gov     *governance.Governable
	ledger  *ledger.Ledger
	events  events.Emitter

	mcr        MCRSource
	escrow     ClaimReceiver
	escrowAddr common.Address
	requestors map[common.Address]bool
}

// New creates a vault that keeps its funds in l.
func New(address, gov common.Address, l *ledger.Ledger, emitter events.Emitter) (*Vault, error) {
	if emitter == nil {
		emitter = events.Nop{}
	}
	g, err := governance.New(address, gov, emitter)
	if err != nil {
		return nil, err
	}
	return &Vault{
		address:    address,
		gov:        g,
		ledger:     l,
		events:     emitter,
		requestors: make(map[common.Address]bool),
	}, nil
}

// Address returns the vault's identity and share asset.
func (v *Vault) Address() common.Address { return v.address }

// Governor exposes the vault's governance role.
func (v *Vault) Governor() *governance.Governable { return v.gov }

// SetMCRSource wires the risk manager whose requirement bounds withdrawals.
func (v *Vault) SetMCRSource(mcr MCRSource) { v.mcr = mcr }

// SetClaimsEscrow wires the escrow that receives processed claims.
func (v *Vault) SetClaimsEscrow(addr common.Address, escrow ClaimReceiver) {
	v.escrowAddr = addr
	v.escrow = escrow
}

// SetRequestor allows or revokes a product's right to process claims and refund premiums.
func (v *Vault) SetRequestor(caller, requestor common.Address, allowed bool) error {
	if err := v.gov.Require(caller); err != nil {
		return err
	}
	if chain.IsZero(requestor) {
		return ledger.ErrZeroRecipient
	}
	if allowed {
		v.requestors[requestor] = true
	} else {
		delete(v.requestors, requestor)
	}
	v.events.Emit(v.address, EventRequestorSet, map[string]any{"requestor": requestor, "status": allowed})
	return nil
}

// IsRequestor reports whether addr may process claims.
func (v *Vault) IsRequestor(addr common.Address) bool { return v.requestors[addr] }

// TotalAssets returns the native assets held by the vault.
func (v *Vault) TotalAssets(ctx context.Context) (*big.Int, error) {
	return v.ledger.NativeBalance(ctx, v.address)
}

// TotalShares returns the outstanding share supply.
func (v *Vault) TotalShares(ctx context.Context) (*big.Int, error) {
	return v.ledger.Supply(ctx, v.address)
}

// SharesOf returns the shares held by account.
func (v *Vault) SharesOf(ctx context.Context, account common.Address) (*big.Int, error) {
	return v.ledger.BalanceOf(ctx, v.address, account)
}

// MinCapitalRequirement returns the capital the vault must keep.
func (v *Vault) MinCapitalRequirement() *big.Int {
	if v.mcr == nil {
		return new(big.Int)
	}
	return v.mcr.MinCapitalRequirement()
}

// Deposit moves amount of the native asset from caller into the vault and
// mints shares. The first deposit mints shares one to one.
func (v *Vault) Deposit(ctx context.Context, caller common.Address, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	assets, err := v.TotalAssets(ctx)
	if err != nil {
		return nil, err
	}
	supply, err := v.TotalShares(ctx)
	if err != nil {
		return nil, err
	}
	shares := new(big.Int).Set(amount)
	if supply.Sign() > 0 && assets.Sign() > 0 {
		shares.Mul(amount, supply).Quo(shares, assets)
	}
	if shares.Sign() == 0 {
		return nil, ErrZeroAmount
	}

	if err := v.ledger.Transfer(ctx, chain.NativeAsset, caller, v.address, amount, "vault deposit"); err != nil {
		return nil, err
	}
	if err := v.ledger.Mint(ctx, v.address, caller, shares, "vault shares"); err != nil {
		err = fmt.Errorf("failed to mint shares: %w", err)
		return nil, v.undo(ctx, err, func(ctx context.Context) error {
			return v.ledger.Transfer(ctx, chain.NativeAsset, v.address, caller, amount, "vault deposit returned")
		})
	}
	v.events.Emit(v.address, EventDepositMade, map[string]any{
		"depositor": caller, "amount": amount.String(), "shares": shares.String(),
	})
	return shares, nil
}

// Withdraw burns shares and pays out their value, provided the vault keeps
// at least the minimum capital requirement afterwards.
func (v *Vault) Withdraw(ctx context.Context, caller common.Address, shares *big.Int) (*big.Int, error) {
	if shares == nil || shares.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	held, err := v.SharesOf(ctx, caller)
	if err != nil {
		return nil, err
	}
	if held.Cmp(shares) < 0 {
		return nil, ErrInsufficientShares
	}
	assets, err := v.TotalAssets(ctx)
	if err != nil {
		return nil, err
	}
	supply, err := v.TotalShares(ctx)
	if err != nil {
		return nil, err
	}
	amount := new(big.Int).Mul(shares, assets)
	amount.Quo(amount, supply)

	remaining := new(big.Int).Sub(assets, amount)
	if remaining.Cmp(v.MinCapitalRequirement()) < 0 {
		return nil, ErrInsufficientCapital
	}

	if err := v.ledger.Burn(ctx, v.address, caller, shares, "vault redeem"); err != nil {
		return nil, err
	}
	if err := v.ledger.Transfer(ctx, chain.NativeAsset, v.address, caller, amount, "vault withdrawal"); err != nil {
		err = fmt.Errorf("failed to pay withdrawal: %w", err)
		return nil, v.undo(ctx, err, func(ctx context.Context) error {
			return v.ledger.Mint(ctx, v.address, caller, shares, "vault shares restored")
		})
	}
	v.events.Emit(v.address, EventWithdrawalMade, map[string]any{
		"withdrawer": caller, "amount": amount.String(), "shares": shares.String(),
	})
	return amount, nil
}

// ProcessClaim records an approved claim with the escrow and moves as much
// of its amount as the vault holds into the escrow. The escrow pulls any
// shortfall when the claim is withdrawn.
func (v *Vault) ProcessClaim(ctx context.Context, caller common.Address, policyID uint64, claimant common.Address, amount *big.Int) error {
	if !v.requestors[caller] {
		return ErrNotRequestor
	}
	if v.escrow == nil {
		return ErrEscrowNotSet
	}
	sent, err := v.send(ctx, v.escrowAddr, amount, fmt.Sprintf("claim %d", policyID))
	if err != nil {
		return err
	}
	if err := v.escrow.ReceiveClaim(ctx, v.address, policyID, claimant, amount); err != nil {
		return v.undo(ctx, err, func(ctx context.Context) error {
			return v.ledger.Transfer(ctx, chain.NativeAsset, v.escrowAddr, v.address, sent, fmt.Sprintf("claim %d returned", policyID))
		})
	}
	v.events.Emit(v.address, EventClaimProcessed, map[string]any{
		"policyID": policyID, "claimant": claimant, "amount": amount.String(), "funded": sent.String(),
	})
	return nil
}

// RequestFunds sends the escrow up to amount. It returns what was sent.
func (v *Vault) RequestFunds(ctx context.Context, caller common.Address, amount *big.Int) (*big.Int, error) {
	if v.escrow == nil || caller != v.escrowAddr {
		return nil, ErrNotEscrow
	}
	return v.send(ctx, v.escrowAddr, amount, "escrow top-up")
}

// RefundPremium pays unused premium back to a policyholder on a product's behalf.
func (v *Vault) RefundPremium(ctx context.Context, caller, to common.Address, amount *big.Int) error {
	if !v.requestors[caller] {
		return ErrNotRequestor
	}
	assets, err := v.TotalAssets(ctx)
	if err != nil {
		return err
	}
	if assets.Cmp(amount) < 0 {
		return ErrInsufficientCapital
	}
	return v.ledger.Transfer(ctx, chain.NativeAsset, v.address, to, amount, "premium refund")
}

// undo runs a compensating move after a failed step and reports both failures.
func (v *Vault) undo(ctx context.Context, cause error, fn func(context.Context) error) error {
	if err := fn(context.WithoutCancel(ctx)); err != nil {
		return errors.Join(cause, fmt.Errorf("rollback: %w", err))
	}
	return cause
}

// send transfers min(amount, assets) to recipient.
func (v *Vault) send(ctx context.Context, to common.Address, amount *big.Int, memo string) (*big.Int, error) {
	assets, err := v.TotalAssets(ctx)
	if err != nil {
		return nil, err
	}
	value := new(big.Int).Set(amount)
	if value.Cmp(assets) > 0 {
		value.Set(assets)
	}
	if err := v.ledger.Transfer(ctx, chain.NativeAsset, v.address, to, value, memo); err != nil {
		return nil, err
	}
	return value, nil
}
