package claims

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/solace-fi/coverage/internal/chain"
	"github.com/solace-fi/coverage/internal/events"
	"github.com/solace-fi/coverage/internal/governance"
	"github.com/solace-fi/coverage/internal/ledger"
)

// Escrow holds approved claim payouts until their cooldown elapses.
//
// Escrow is not safe for concurrent use; the protocol serializes calls.
type Escrow struct {
	address  common.Address
	gov      *governance.Governable
	store    Store
	ledger   *ledger.Ledger
	clock    chain.Clock
	events   events.Emitter
	cooldown time.Duration

	vaultAddr common.Address
	vault     FundSource
}

// New creates an escrow. A zero cooldown selects DefaultCooldown.
func New(address, gov common.Address, store Store, l *ledger.Ledger, clock chain.Clock, cooldown time.Duration, emitter events.Emitter) (*Escrow, error) {
	if emitter == nil {
		emitter = events.Nop{}
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	g, err := governance.New(address, gov, emitter)
	if err != nil {
		return nil, err
	}
	return &Escrow{
		address:  address,
		gov:      g,
		store:    store,
		ledger:   l,
		clock:    clock,
		events:   emitter,
		cooldown: cooldown,
	}, nil
}

// Address returns the escrow's identity.
func (e *Escrow) Address() common.Address { return e.address }

// Governor exposes the escrow's governance role.
func (e *Escrow) Governor() *governance.Governable { return e.gov }

// SetVault wires the capital pool allowed to deliver claims.
func (e *Escrow) SetVault(addr common.Address, vault FundSource) {
	e.vaultAddr = addr
	e.vault = vault
}

// CooldownPeriod returns the wait between receipt and payout.
func (e *Escrow) CooldownPeriod() time.Duration { return e.cooldown }

// SetCooldownPeriod changes the wait for every pending and future claim.
func (e *Escrow) SetCooldownPeriod(caller common.Address, d time.Duration) error {
	if err := e.gov.Require(caller); err != nil {
		return err
	}
	if d < 0 {
		return ErrInvalidCooldown
	}
	e.cooldown = d
	e.events.Emit(e.address, EventCooldownPeriodSet, map[string]any{"cooldown": d.String()})
	return nil
}

// ReceiveClaim records an approved claim. Only the vault may call it.
func (e *Escrow) ReceiveClaim(ctx context.Context, caller common.Address, policyID uint64, claimant common.Address, amount *big.Int) error {
	if chain.IsZero(e.vaultAddr) || caller != e.vaultAddr {
		return ErrNotVault
	}
	if chain.IsZero(claimant) {
		return ErrZeroClaimant
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	c := &Claim{
		ID:         policyID,
		Claimant:   claimant,
		Amount:     new(big.Int).Set(amount),
		ReceivedAt: e.clock.Now(),
	}
	if err := e.store.Create(ctx, c); err != nil {
		return err
	}
	e.events.Emit(e.address, EventClaimReceived, map[string]any{
		"claimID": policyID, "claimant": claimant, "amount": amount.String(),
	})
	return nil
}

// WithdrawClaimsPayout pays a claim's current amount to its claimant once
// the cooldown has elapsed, pulling any shortfall from the vault.
func (e *Escrow) WithdrawClaimsPayout(ctx context.Context, caller common.Address, id uint64) (*big.Int, error) {
	c, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if caller != c.Claimant {
		return nil, ErrNotClaimant
	}
	if e.clock.Now().Before(c.ReceivedAt.Add(e.cooldown)) {
		return nil, ErrCooldownNotElapsed
	}

	balance, err := e.ledger.NativeBalance(ctx, e.address)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(c.Amount) < 0 {
		if e.vault == nil {
			return nil, ErrInsufficientFunds
		}
		shortfall := new(big.Int).Sub(c.Amount, balance)
		sent, err := e.vault.RequestFunds(ctx, e.address, shortfall)
		if err != nil {
			return nil, fmt.Errorf("failed to request funds: %w", err)
		}
		if sent.Cmp(shortfall) < 0 {
			return nil, ErrInsufficientFunds
		}
	}

	if err := e.store.Delete(ctx, id); err != nil {
		return nil, err
	}
	if err := e.ledger.Transfer(ctx, chain.NativeAsset, e.address, c.Claimant, c.Amount, fmt.Sprintf("claim %d payout", id)); err != nil {
		if rerr := e.store.Create(ctx, c); rerr != nil {
			return nil, errors.Join(err, rerr)
		}
		return nil, err
	}
	e.events.Emit(e.address, EventClaimWithdrawn, map[string]any{
		"claimID": id, "claimant": c.Claimant, "amount": c.Amount.String(),
	})
	return c.Amount, nil
}

// AdjustClaim changes a pending claim's amount. The cooldown keeps running
// from the original receipt.
func (e *Escrow) AdjustClaim(ctx context.Context, caller common.Address, id uint64, amount *big.Int) error {
	if err := e.gov.Require(caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	c, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	c.Amount = new(big.Int).Set(amount)
	if err := e.store.Update(ctx, c); err != nil {
		return err
	}
	e.events.Emit(e.address, EventClaimAdjusted, map[string]any{"claimID": id, "amount": amount.String()})
	return nil
}

// Sweep moves assets held by the escrow to recipient. Claim records are untouched.
func (e *Escrow) Sweep(ctx context.Context, caller, asset common.Address, amount *big.Int, recipient common.Address) error {
	if err := e.gov.Require(caller); err != nil {
		return err
	}
	if err := e.ledger.Transfer(ctx, asset, e.address, recipient, amount, "escrow sweep"); err != nil {
		return err
	}
	e.events.Emit(e.address, EventSwept, map[string]any{
		"asset": asset, "amount": amount.String(), "recipient": recipient,
	})
	return nil
}

// GetClaim returns a pending claim.
func (e *Escrow) GetClaim(ctx context.Context, id uint64) (*Claim, error) {
	return e.store.Get(ctx, id)
}

// ListClaims returns the pending claims of claimant.
func (e *Escrow) ListClaims(ctx context.Context, claimant common.Address) ([]*Claim, error) {
	return e.store.ListByClaimant(ctx, claimant)
}

// IsWithdrawable reports whether a claim exists and its cooldown has elapsed.
func (e *Escrow) IsWithdrawable(ctx context.Context, id uint64) (bool, error) {
	c, err := e.store.Get(ctx, id)
	if errors.Is(err, ErrClaimNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !e.clock.Now().Before(c.ReceivedAt.Add(e.cooldown)), nil
}

// TimeLeft returns how long until a claim can be withdrawn, zero if it already can.
func (e *Escrow) TimeLeft(ctx context.Context, id uint64) (time.Duration, error) {
	c, err := e.store.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	left := c.ReceivedAt.Add(e.cooldown).Sub(e.clock.Now())
	if left < 0 {
		return 0, nil
	}
	return left, nil
}

// TotalClaimsPayout sums every pending claim.
func (e *Escrow) TotalClaimsPayout(ctx context.Context) (*big.Int, error) {
	all, err := e.store.All(ctx)
	if err != nil {
		return nil, err
	}
	total := new(big.Int)
	for _, c := range all {
		total.Add(total, c.Amount)
	}
	return total, nil
}

// PendingClaims returns the number of claims awaiting withdrawal.
func (e *Escrow) PendingClaims(ctx context.Context) (int, error) {
	all, err := e.store.All(ctx)
	if err != nil {
		return 0, err
	}
	return len(all), nil
}
