package protocol

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/solace-fi/coverage/internal/product"
	"github.com/solace-fi/coverage/internal/risk"
	"github.com/solace-fi/coverage/internal/units"
)

// RiskSummary is a point-in-time view of capital and exposure. Amounts are
// wei strings.
type RiskSummary struct {
	Block                 uint64              `json:"block"`
	TotalAssets           string              `json:"totalAssets"`
	TotalAssetsEther      string              `json:"totalAssetsEther"`
	MaxCover              string              `json:"maxCover"`
	ActiveCover           string              `json:"activeCover"`
	MinCapitalRequirement string              `json:"minCapitalRequirement"`
	PartialReservesFactor uint16              `json:"partialReservesFactor"`
	ActivePolicies        uint64              `json:"activePolicies"`
	PoliciesIssued        uint64              `json:"policiesIssued"`
	PendingClaims         int                 `json:"pendingClaims"`
	ClaimsPayout          string              `json:"claimsPayout"`
	Strategies            []risk.StrategyInfo `json:"strategies"`
	Products              []ProductSummary    `json:"products"`
}

// ProductSummary is a product's configuration and capacity.
type ProductSummary struct {
	Name            string           `json:"name"`
	Address         common.Address   `json:"address"`
	Strategy        common.Address   `json:"strategy"`
	Paused          bool             `json:"paused"`
	Price           uint32           `json:"price"`
	MinPeriod       uint64           `json:"minPeriod"`
	MaxPeriod       uint64           `json:"maxPeriod"`
	ActiveCover     string           `json:"activeCover"`
	Policies        uint64           `json:"policies"`
	MaxCover        string           `json:"maxCoverPerProduct"`
	MaxCoverPolicy  string           `json:"maxCoverPerPolicy"`
	SellableCover   string           `json:"sellableCover"`
	Signers         []common.Address `json:"signers"`
	CoveredAssets   []common.Address `json:"coveredAssets"`
	ClaimDomainName string           `json:"claimDomainName"`
}

// RiskSummary reports capital, requirement, and per-strategy and per-product
// exposure.
func (p *Protocol) RiskSummary(ctx context.Context) (*RiskSummary, error) {
	var sum *RiskSummary
	err := p.read(ctx, "RiskSummary", func(ctx context.Context) error {
		assets, err := p.vault.TotalAssets(ctx)
		if err != nil {
			return err
		}
		maxCover, err := p.manager.MaxCover(ctx)
		if err != nil {
			return err
		}
		pending, err := p.escrow.PendingClaims(ctx)
		if err != nil {
			return err
		}
		payout, err := p.escrow.TotalClaimsPayout(ctx)
		if err != nil {
			return err
		}
		sum = &RiskSummary{
			Block:                 p.clock.BlockNumber(),
			TotalAssets:           assets.String(),
			TotalAssetsEther:      units.FormatEther(assets),
			MaxCover:              maxCover.String(),
			ActiveCover:           p.manager.ActiveCoverAmount().String(),
			MinCapitalRequirement: p.manager.MinCapitalRequirement().String(),
			PartialReservesFactor: p.manager.PartialReservesFactor(),
			ActivePolicies:        p.registry.TotalSupply(),
			PoliciesIssued:        p.registry.PolicyCount(),
			PendingClaims:         pending,
			ClaimsPayout:          payout.String(),
			Strategies:            p.manager.Strategies(),
		}
		for _, addr := range p.productOrder {
			ps, err := p.productSummary(ctx, p.products[addr])
			if err != nil {
				return err
			}
			sum.Products = append(sum.Products, *ps)
		}
		return nil
	})
	return sum, err
}

// ProductSummary reports one product.
func (p *Protocol) ProductSummary(ctx context.Context, addr common.Address) (*ProductSummary, error) {
	var ps *ProductSummary
	err := p.read(ctx, "ProductSummary", func(ctx context.Context) error {
		prod, err := p.product(addr)
		if err != nil {
			return err
		}
		ps, err = p.productSummary(ctx, prod)
		return err
	})
	return ps, err
}

func (p *Protocol) productSummary(ctx context.Context, prod *product.Product) (*ProductSummary, error) {
	ps := &ProductSummary{
		Name:            prod.Name(),
		Address:         prod.Address(),
		Strategy:        prod.Strategy(),
		Paused:          prod.Paused(),
		MinPeriod:       prod.MinPeriod(),
		MaxPeriod:       prod.MaxPeriod(),
		ActiveCover:     prod.ActiveCoverAmount().String(),
		Policies:        prod.PolicyCount(),
		Signers:         prod.Signers(),
		CoveredAssets:   prod.CoveredAssets(),
		ClaimDomainName: prod.Domain().Name(),
		MaxCover:        "0",
		MaxCoverPolicy:  "0",
		SellableCover:   "0",
	}
	s := p.strategies[prod.Strategy()]
	if !s.ProductIsActive(prod.Address()) {
		return ps, nil
	}
	price, err := prod.Price()
	if err != nil {
		return nil, err
	}
	ps.Price = price
	perProduct, err := s.MaxCoverPerProduct(ctx, prod.Address())
	if err != nil {
		return nil, err
	}
	perPolicy, err := s.MaxCoverPerPolicy(ctx, prod.Address())
	if err != nil {
		return nil, err
	}
	sellable, err := s.SellableCoverPerProduct(ctx, prod.Address())
	if err != nil {
		return nil, err
	}
	ps.MaxCover = perProduct.String()
	ps.MaxCoverPolicy = perPolicy.String()
	ps.SellableCover = sellable.String()
	return ps, nil
}
