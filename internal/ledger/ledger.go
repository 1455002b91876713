// Package ledger tracks asset balances of protocol participants.
//
// Balances are keyed by (asset, account). The zero asset address is the
// chain's native asset, which is what premiums, capital deposits, and claim
// payouts move in. Covered-asset tokens share the same book so governance
// sweeps can move any asset.
package ledger

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/solace-fi/coverage/internal/chain"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrZeroRecipient       = errors.New("zero address recipient")
)

// Entry is one recorded balance movement.
type Entry struct {
	ID        int64          `json:"id"`
	Asset     common.Address `json:"asset"`
	From      common.Address `json:"from"`
	To        common.Address `json:"to"`
	Amount    *big.Int       `json:"amount"`
	Memo      string         `json:"memo,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Store persists balances. Transfer must be all-or-nothing and must fail with
// ErrInsufficientBalance without side effects when from cannot cover amount.
type Store interface {
	Balance(ctx context.Context, asset, account common.Address) (*big.Int, error)
	Transfer(ctx context.Context, asset, from, to common.Address, amount *big.Int, memo string) error
	Mint(ctx context.Context, asset, to common.Address, amount *big.Int, memo string) error
	Burn(ctx context.Context, asset, from common.Address, amount *big.Int, memo string) error
	Supply(ctx context.Context, asset common.Address) (*big.Int, error)
	History(ctx context.Context, account common.Address, limit int) ([]*Entry, error)
}

// Ledger validates and records balance movements.
type Ledger struct {
	store Store
}

// New creates a ledger over store.
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// BalanceOf returns the balance of account in asset.
func (l *Ledger) BalanceOf(ctx context.Context, asset, account common.Address) (*big.Int, error) {
	return l.store.Balance(ctx, asset, account)
}

// NativeBalance returns the native-asset balance of account.
func (l *Ledger) NativeBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	return l.store.Balance(ctx, chain.NativeAsset, account)
}

// Transfer moves amount of asset from one account to another. A zero amount is a no-op.
func (l *Ledger) Transfer(ctx context.Context, asset, from, to common.Address, amount *big.Int, memo string) (err error) {
	defer track("transfer", asset, amount)(&err)

	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if chain.IsZero(to) {
		return ErrZeroRecipient
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}
	return l.store.Transfer(ctx, asset, from, to, amount, memo)
}

// Mint credits new units of asset to an account. Used for deposits bridged in
// from outside the protocol and for local faucets.
func (l *Ledger) Mint(ctx context.Context, asset, to common.Address, amount *big.Int, memo string) (err error) {
	defer track("mint", asset, amount)(&err)

	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if chain.IsZero(to) {
		return ErrZeroRecipient
	}
	return l.store.Mint(ctx, asset, to, amount, memo)
}

// Burn destroys units of asset held by an account.
func (l *Ledger) Burn(ctx context.Context, asset, from common.Address, amount *big.Int, memo string) (err error) {
	defer track("burn", asset, amount)(&err)

	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return l.store.Burn(ctx, asset, from, amount, memo)
}

// Supply returns the total outstanding units of asset.
func (l *Ledger) Supply(ctx context.Context, asset common.Address) (*big.Int, error) {
	return l.store.Supply(ctx, asset)
}

// History returns recent entries touching account, newest first.
func (l *Ledger) History(ctx context.Context, account common.Address, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.store.History(ctx, account, limit)
}
