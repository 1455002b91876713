// Package product implements coverage products: the units that price cover,
// sell and service policies, and redeem signed claim vouchers.
package product

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/solace-fi/coverage/internal/policy"
	"github.com/solace-fi/coverage/internal/risk"
	"github.com/solace-fi/coverage/internal/voucher"
)

var (
	ErrPaused               = errors.New("cannot buy when paused")
	ErrZeroCover            = errors.New("zero cover value")
	ErrPeriodTooShort       = errors.New("policy period too short")
	ErrPeriodTooLong        = errors.New("policy period too long")
	ErrInvalidPeriod        = errors.New("invalid period")
	ErrInvalidDescription   = errors.New("invalid position description")
	ErrInsufficientCapacity = errors.New("insufficient capacity for new cover")
	ErrCannotAcceptRisk     = errors.New("cannot accept that risk")
	ErrIncorrectPayment     = errors.New("incorrect payment")
	ErrPolicyExpired        = errors.New("policy is expired")
	ErrExcessiveAmountOut   = errors.New("excessive amount out")
	ErrExpiredDeadline      = errors.New("expired deadline")
	ErrZeroSigner           = errors.New("zero address signer")
	ErrZeroAsset            = errors.New("zero address asset")
	ErrNotRequestor         = errors.New("product cannot process claims")

	ErrNonexistentPolicy = policy.ErrNonexistentPolicy
	ErrNotPolicyholder   = policy.ErrNotPolicyholder
	ErrWrongProduct      = policy.ErrWrongProduct
	ErrInvalidSignature  = voucher.ErrInvalidSignature
)

const (
	EventClaimSubmitted      = "ClaimSubmitted"
	EventPolicyExtended      = "PolicyExtended"
	EventPolicyCoverUpdated  = "PolicyCoverUpdated"
	EventPolicyCanceled      = "PolicyCanceled"
	EventPolicyExpired       = "PolicyExpired"
	EventPausedSet           = "PausedSet"
	EventMinPeriodSet        = "MinPeriodSet"
	EventMaxPeriodSet        = "MaxPeriodSet"
	EventSignerAdded         = "SignerAdded"
	EventSignerRemoved       = "SignerRemoved"
	EventCoveredAssetAdded   = "CoveredAssetAdded"
	EventCoveredAssetRemoved = "CoveredAssetRemoved"
)

// quoteDivisor scales cover * blocks * price down to wei.
var quoteDivisor = big.NewInt(1e12)

// PolicyRegistry is the registry surface a product mints through.
type PolicyRegistry interface {
	CreatePolicy(ctx context.Context, caller, holder common.Address, cover *big.Int, expiration uint64, price uint32, description []byte, strategy common.Address) (*policy.Policy, error)
	SetPolicyInfo(ctx context.Context, caller common.Address, id uint64, cover *big.Int, expiration uint64, price uint32, description []byte) (*policy.Policy, error)
	Burn(ctx context.Context, caller common.Address, id uint64) error
	Reinstate(ctx context.Context, caller common.Address, p *policy.Policy) error
	GetPolicyInfo(ctx context.Context, id uint64) (*policy.Policy, error)
}

// RiskManager reports capital and the requirement it must cover.
type RiskManager interface {
	MaxCover(ctx context.Context) (*big.Int, error)
	MinCapitalRequirementWith(delta *big.Int) *big.Int
}

// RiskStrategy prices and accepts the product's risk.
type RiskStrategy interface {
	Address() common.Address
	ProductParams(product common.Address) (risk.ProductParams, error)
	AssessRisk(ctx context.Context, product common.Address, existingCover, newCover *big.Int) (bool, uint32, error)
}

// CapitalPool receives premiums and funds claims and refunds.
type CapitalPool interface {
	Address() common.Address
	TotalAssets(ctx context.Context) (*big.Int, error)
	IsRequestor(addr common.Address) bool
	ProcessClaim(ctx context.Context, caller common.Address, policyID uint64, claimant common.Address, amount *big.Int) error
	RefundPremium(ctx context.Context, caller, to common.Address, amount *big.Int) error
}

// Funds moves native assets between participants.
type Funds interface {
	NativeBalance(ctx context.Context, account common.Address) (*big.Int, error)
	Transfer(ctx context.Context, asset, from, to common.Address, amount *big.Int, memo string) error
}

// SignatureVerifier checks a voucher signature against the signer whitelist.
type SignatureVerifier interface {
	Verify(ctx context.Context, digest common.Hash, sig []byte, signers []common.Address) (common.Address, error)
}

// Quote returns cover * blocks * price / 1e12.
func Quote(cover *big.Int, blocks uint64, price uint32) *big.Int {
	q := new(big.Int).Mul(cover, new(big.Int).SetUint64(blocks))
	q.Mul(q, new(big.Int).SetUint64(uint64(price)))
	return q.Quo(q, quoteDivisor)
}
