// Package claims implements the claims escrow: approved payouts wait here for
// a cooldown before the claimant may withdraw them.
//
// A claim moves NONE -> RECEIVED -> WITHDRAWN. Withdrawal deletes the record.
package claims

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrClaimNotFound      = errors.New("claim dne")
	ErrClaimExists        = errors.New("claim exists")
	ErrNotClaimant        = errors.New("!claimant")
	ErrNotVault           = errors.New("!vault")
	ErrCooldownNotElapsed = errors.New("cooldown period has not elapsed")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInsufficientFunds  = errors.New("insufficient funds for payout")
	ErrZeroClaimant       = errors.New("zero address claimant")
	ErrInvalidCooldown    = errors.New("invalid cooldown period")
)

const (
	EventClaimReceived     = "ClaimReceived"
	EventClaimWithdrawn    = "ClaimWithdrawn"
	EventClaimAdjusted     = "ClaimAdjusted"
	EventSwept             = "Swept"
	EventCooldownPeriodSet = "CooldownPeriodSet"
)

// DefaultCooldown is the wait between receiving and paying a claim.
const DefaultCooldown = 14 * 24 * time.Hour

// Claim is an approved payout awaiting withdrawal. Its id is the id of the
// policy that produced it.
type Claim struct {
	ID         uint64         `json:"id"`
	Claimant   common.Address `json:"claimant"`
	Amount     *big.Int       `json:"amount"`
	ReceivedAt time.Time      `json:"receivedAt"`
}

func (c *Claim) clone() *Claim {
	cp := *c
	cp.Amount = new(big.Int).Set(c.Amount)
	return &cp
}

// Store persists pending claims.
type Store interface {
	Create(ctx context.Context, c *Claim) error
	Get(ctx context.Context, id uint64) (*Claim, error)
	Update(ctx context.Context, c *Claim) error
	Delete(ctx context.Context, id uint64) error
	ListByClaimant(ctx context.Context, claimant common.Address) ([]*Claim, error)
	All(ctx context.Context) ([]*Claim, error)
}

// FundSource tops the escrow up when it cannot cover a payout. The vault
// implements it.
type FundSource interface {
	RequestFunds(ctx context.Context, caller common.Address, amount *big.Int) (*big.Int, error)
}
