// Package risk sizes coverage capacity from backing capital.
//
// A Manager splits the capital pool's assets between risk strategies by
// weight allocation. Each Strategy splits its share between products by
// weight, and caps single policies with a per-product divisor:
//
//	maxCoverPerStrategy(s) = totalAssets * allocation(s) / allocationSum
//	maxCoverPerProduct(p)  = maxCoverPerStrategy(s) * weight(p) / weightSum
//	maxCoverPerPolicy(p)   = maxCoverPerProduct(p) / divisor(p)
//
// The Manager also derives the minimum capital requirement from the active
// cover of every strategy and the partial reserves factor.
//
// Neither type is safe for concurrent use; the protocol serializes calls.
package risk

import (
	"errors"
	"math"
	"math/big"
)

// NoWeight marks a weight sum with nothing allocated.
const NoWeight uint32 = math.MaxUint32

// MaxBPS is 100% in basis points.
const MaxBPS uint16 = 10000

// MaxPrice is quoted for products a strategy does not cover.
const MaxPrice uint32 = math.MaxUint32

var (
	ErrZeroAddressProduct      = errors.New("zero address product")
	ErrZeroAddressStrategy     = errors.New("zero address strategy")
	ErrLengthMismatch          = errors.New("length mismatch")
	ErrDuplicateProduct        = errors.New("duplicate product")
	ErrInvalidWeight           = errors.New("invalid weight")
	ErrWeightOverflow          = errors.New("weight overflow")
	ErrInvalidPrice            = errors.New("invalid price")
	ErrInvalidDivisor          = errors.New("invalid divisor")
	ErrProductInactive         = errors.New("product inactive")
	ErrStrategyExists          = errors.New("strategy exists")
	ErrUnknownStrategy         = errors.New("strategy dne")
	ErrStrategyInactive        = errors.New("strategy inactive")
	ErrInvalidWeightAllocation = errors.New("invalid weight allocation")
	ErrInvalidFactor           = errors.New("invalid factor")
	ErrCoverUnderflow          = errors.New("active cover underflow")
)

const (
	EventProductAdded             = "ProductAdded"
	EventProductUpdated           = "ProductUpdated"
	EventProductRemoved           = "ProductRemoved"
	EventProductParamsSet         = "ProductParamsSet"
	EventRiskStrategyAdded        = "RiskStrategyAdded"
	EventStrategyStatusSet        = "StrategyStatusSet"
	EventWeightAllocationSet      = "WeightAllocationSet"
	EventPartialReservesFactorSet = "PartialReservesFactorSet"
)

// ProductParams are a strategy's terms for one product.
type ProductParams struct {
	Weight  uint32 `json:"weight" yaml:"weight"`
	Price   uint32 `json:"price" yaml:"price"`
	Divisor uint16 `json:"divisor" yaml:"divisor"`
}

func (p ProductParams) validate() error {
	if p.Weight == 0 {
		return ErrInvalidWeight
	}
	if p.Price == 0 {
		return ErrInvalidPrice
	}
	if p.Divisor == 0 {
		return ErrInvalidDivisor
	}
	return nil
}

// mulDiv returns a*num/den, or zero when den is zero.
func mulDiv(a *big.Int, num, den uint64) *big.Int {
	if den == 0 || a == nil {
		return new(big.Int)
	}
	out := new(big.Int).Mul(a, new(big.Int).SetUint64(num))
	return out.Quo(out, new(big.Int).SetUint64(den))
}
