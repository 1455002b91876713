// Package policy implements the policy registry: sequential policy records
// minted, updated and burned by registered products, with live cover
// aggregates kept in step with the risk manager.
package policy

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrProductInactive   = errors.New("product inactive")
	ErrWrongProduct      = errors.New("wrong product")
	ErrNonexistentPolicy = errors.New("query for nonexistent token")
	ErrNotPolicyholder   = errors.New("!policyholder")
	ErrZeroHolder        = errors.New("zero address policyholder")
	ErrZeroProduct       = errors.New("zero address product")
	ErrInvalidCover      = errors.New("invalid cover amount")
	ErrPolicyExists      = errors.New("policy already exists")
)

const (
	EventPolicyCreated     = "PolicyCreated"
	EventPolicyUpdated     = "PolicyUpdated"
	EventPolicyBurned      = "PolicyBurned"
	EventPolicyTransferred = "PolicyTransferred"
	EventProductAdded      = "ProductAdded"
	EventProductRemoved    = "ProductRemoved"
)

// Policy is one coverage record.
type Policy struct {
	ID                  uint64         `json:"id"`
	Holder              common.Address `json:"policyholder"`
	Product             common.Address `json:"product"`
	Strategy            common.Address `json:"riskStrategy"`
	PositionDescription []byte         `json:"positionDescription"`
	CoverAmount         *big.Int       `json:"coverAmount"`
	ExpirationBlock     uint64         `json:"expirationBlock"`
	Price               uint32         `json:"price"`
	CreatedAt           time.Time      `json:"createdAt"`
	UpdatedAt           time.Time      `json:"updatedAt"`
}

// ActiveAt reports whether the policy covers block.
func (p *Policy) ActiveAt(block uint64) bool {
	return block < p.ExpirationBlock
}

func (p *Policy) clone() *Policy {
	c := *p
	c.PositionDescription = append([]byte(nil), p.PositionDescription...)
	if p.CoverAmount != nil {
		c.CoverAmount = new(big.Int).Set(p.CoverAmount)
	}
	return &c
}

// Store persists policy records. Burned ids are never reissued, so MaxID
// must remember ids whose records were deleted. DeleteMany removes every id
// or none of them. Reinstate brings back a deleted record under its old id.
type Store interface {
	Create(ctx context.Context, p *Policy) error
	Get(ctx context.Context, id uint64) (*Policy, error)
	Update(ctx context.Context, p *Policy) error
	Delete(ctx context.Context, id uint64) error
	DeleteMany(ctx context.Context, ids []uint64) error
	Reinstate(ctx context.Context, p *Policy) error
	ListByHolder(ctx context.Context, holder common.Address) ([]*Policy, error)
	ListExpired(ctx context.Context, block uint64, limit int) ([]*Policy, error)
	All(ctx context.Context) ([]*Policy, error)
	MaxID(ctx context.Context) (uint64, error)
}

// CoverTracker receives every change to live cover. The risk manager
// implements it.
type CoverTracker interface {
	CheckAdjustCover(strategy, product common.Address, oldCover, newCover *big.Int) error
	AdjustCover(strategy, product common.Address, oldCover, newCover *big.Int) error
}

// ProductHook lets a product settle its own bookkeeping when the registry
// burns one of its policies for expiry.
type ProductHook interface {
	OnPolicyExpired(ctx context.Context, p *Policy)
}
