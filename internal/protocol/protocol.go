// Package protocol wires the coverage components into one engine.
//
// A Protocol owns the ledger, capital pool, risk manager and strategies,
// policy registry, claims escrow, and products of one deployment. Every
// exported operation takes the protocol's transaction lock, so calls are
// applied one at a time and a failed call leaves no partial state behind.
package protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/attribute"

	"github.com/solace-fi/coverage/internal/chain"
	"github.com/solace-fi/coverage/internal/claims"
	"github.com/solace-fi/coverage/internal/events"
	"github.com/solace-fi/coverage/internal/ledger"
	"github.com/solace-fi/coverage/internal/metrics"
	"github.com/solace-fi/coverage/internal/policy"
	"github.com/solace-fi/coverage/internal/product"
	"github.com/solace-fi/coverage/internal/risk"
	"github.com/solace-fi/coverage/internal/syncutil"
	"github.com/solace-fi/coverage/internal/traces"
	"github.com/solace-fi/coverage/internal/units"
	"github.com/solace-fi/coverage/internal/vault"
	"github.com/solace-fi/coverage/internal/voucher"
)

var ErrUnknownProduct = errors.New("unknown product")

// Options supplies the infrastructure a Protocol runs on. Nil stores select
// the in-memory implementations.
type Options struct {
	Clock    chain.Clock
	Ledger   ledger.Store
	Policies policy.Store
	Claims   claims.Store
	Verifier product.SignatureVerifier
	Logger   *slog.Logger
	Sinks    []events.Sink
}

// Protocol is the coverage engine of one deployment.
//
// The strategy and product sets are fixed at construction; everything else
// is reached through the locked operations.
type Protocol struct {
	lock       *syncutil.TxLock
	logger     *slog.Logger
	clock      chain.Clock
	chainID    *big.Int
	governance common.Address

	events   *events.Bus
	ledger   *ledger.Ledger
	vault    *vault.Vault
	manager  *risk.Manager
	registry *policy.Registry
	escrow   *claims.Escrow

	strategies   map[common.Address]*risk.Strategy
	products     map[common.Address]*product.Product
	productOrder []common.Address
	byName       map[string]common.Address
}

// New builds the deployment d, applies its configuration as governance, and
// replays any policies already in storage.
func New(ctx context.Context, d *Deployment, opts Options) (*Protocol, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = chain.NewSystemClock(time.Now(), 12*time.Second)
	}
	if opts.Ledger == nil {
		opts.Ledger = ledger.NewMemoryStore()
	}
	if opts.Policies == nil {
		opts.Policies = policy.NewMemoryStore()
	}
	if opts.Claims == nil {
		opts.Claims = claims.NewMemoryStore()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	gov := common.HexToAddress(d.Governance)
	bus := events.NewBus(opts.Clock)
	for _, s := range opts.Sinks {
		bus.AddSink(s)
	}

	p := &Protocol{
		lock:       syncutil.NewTxLock(),
		logger:     opts.Logger,
		clock:      opts.Clock,
		chainID:    big.NewInt(d.ChainID),
		governance: gov,
		events:     bus,
		ledger:     ledger.New(opts.Ledger),
		strategies: make(map[common.Address]*risk.Strategy),
		products:   make(map[common.Address]*product.Product),
		byName:     make(map[string]common.Address),
	}

	var err error
	if p.vault, err = vault.New(common.HexToAddress(d.Addresses.Vault), gov, p.ledger, bus); err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	if p.manager, err = risk.NewManager(common.HexToAddress(d.Addresses.RiskManager), gov, p.vault, bus); err != nil {
		return nil, fmt.Errorf("risk manager: %w", err)
	}
	p.vault.SetMCRSource(p.manager)
	if d.PartialReservesFactor != 0 {
		if err := p.manager.SetPartialReservesFactor(gov, d.PartialReservesFactor); err != nil {
			return nil, fmt.Errorf("risk manager: %w", err)
		}
	}

	escrowAddr := common.HexToAddress(d.Addresses.ClaimsEscrow)
	if p.escrow, err = claims.New(escrowAddr, gov, opts.Claims, p.ledger, opts.Clock, d.ClaimsCooldown, bus); err != nil {
		return nil, fmt.Errorf("claims escrow: %w", err)
	}
	p.escrow.SetVault(p.vault.Address(), p.vault)
	p.vault.SetClaimsEscrow(escrowAddr, p.escrow)

	for _, spec := range d.Strategies {
		if err := p.addStrategy(ctx, gov, spec); err != nil {
			return nil, fmt.Errorf("strategy %s: %w", spec.Address, err)
		}
	}

	if p.registry, err = policy.NewRegistry(common.HexToAddress(d.Addresses.Registry), gov, opts.Policies, opts.Clock, p.manager, bus); err != nil {
		return nil, fmt.Errorf("policy registry: %w", err)
	}

	verifier := opts.Verifier
	if verifier == nil {
		verifier = voucher.NewVerifier(nil)
	}
	for _, spec := range d.Products {
		if err := p.addProduct(gov, spec, verifier); err != nil {
			return nil, fmt.Errorf("product %s: %w", spec.Name, err)
		}
	}

	if err := p.registry.Rebuild(ctx); err != nil {
		return nil, fmt.Errorf("rebuild registry: %w", err)
	}
	for addr, prod := range p.products {
		prod.Restore(p.registry.ActiveCoverAmountPerProduct(addr), p.registry.SupplyOf(addr))
	}
	p.observe(ctx)

	p.logger.Info("protocol ready",
		"chainId", d.ChainID,
		"strategies", len(p.strategies),
		"products", len(p.products),
		"policies", p.registry.TotalSupply(),
	)
	return p, nil
}

func (p *Protocol) addStrategy(ctx context.Context, gov common.Address, spec StrategySpec) error {
	addr := common.HexToAddress(spec.Address)
	s, err := risk.NewStrategy(addr, gov, p.events)
	if err != nil {
		return err
	}
	if _, err := p.manager.AddRiskStrategy(gov, s); err != nil {
		return err
	}
	if len(spec.Products) > 0 {
		products := make([]common.Address, len(spec.Products))
		weights := make([]uint32, len(spec.Products))
		prices := make([]uint32, len(spec.Products))
		divisors := make([]uint16, len(spec.Products))
		for i, e := range spec.Products {
			products[i] = common.HexToAddress(e.Product)
			weights[i] = e.Weight
			prices[i] = e.Price
			divisors[i] = e.Divisor
		}
		if err := s.SetProductParams(gov, products, weights, prices, divisors); err != nil {
			return err
		}
	}
	if spec.Active {
		if err := p.manager.SetStrategyStatus(gov, addr, true); err != nil {
			return err
		}
		if err := p.manager.SetWeightAllocation(ctx, gov, addr, spec.WeightAllocation); err != nil {
			return err
		}
	}
	p.strategies[addr] = s
	return nil
}

func (p *Protocol) addProduct(gov common.Address, spec ProductSpec, verifier product.SignatureVerifier) error {
	addr := common.HexToAddress(spec.Address)
	strategy := p.strategies[common.HexToAddress(spec.Strategy)]
	prod, err := product.New(product.Config{
		Name:       spec.Name,
		Address:    addr,
		Governance: gov,
		ChainID:    p.chainID,
		MinPeriod:  spec.MinPeriod,
		MaxPeriod:  spec.MaxPeriod,
	}, product.Deps{
		Registry: p.registry,
		Manager:  p.manager,
		Strategy: strategy,
		Pool:     p.vault,
		Funds:    p.ledger,
		Verifier: verifier,
		Clock:    p.clock,
		Events:   p.events,
	})
	if err != nil {
		return err
	}
	if err := p.registry.AddProduct(gov, addr); err != nil {
		return err
	}
	p.registry.SetProductHook(addr, prod)
	if err := p.vault.SetRequestor(gov, addr, true); err != nil {
		return err
	}
	for _, s := range hexes(spec.Signers) {
		if err := prod.AddSigner(gov, s); err != nil {
			return err
		}
	}
	for _, a := range hexes(spec.CoveredAssets) {
		if err := prod.AddCoveredAsset(gov, a); err != nil {
			return err
		}
	}
	if spec.Paused {
		if err := prod.SetPaused(gov, true); err != nil {
			return err
		}
	}
	p.products[addr] = prod
	p.productOrder = append(p.productOrder, addr)
	p.byName[strings.ToLower(spec.Name)] = addr
	return nil
}

// Events returns the protocol's event bus.
func (p *Protocol) Events() *events.Bus { return p.events }

// Clock returns the chain clock the protocol runs on.
func (p *Protocol) Clock() chain.Clock { return p.clock }

// ChainID returns the chain id vouchers are signed for.
func (p *Protocol) ChainID() *big.Int { return new(big.Int).Set(p.chainID) }

// Governance returns the deployment's governance address.
func (p *Protocol) Governance() common.Address { return p.governance }

// ResolveProduct finds a product by address or case-insensitive name.
func (p *Protocol) ResolveProduct(ref string) (common.Address, error) {
	if common.IsHexAddress(ref) {
		addr := common.HexToAddress(ref)
		if _, ok := p.products[addr]; ok {
			return addr, nil
		}
		return common.Address{}, ErrUnknownProduct
	}
	if addr, ok := p.byName[strings.ToLower(ref)]; ok {
		return addr, nil
	}
	return common.Address{}, ErrUnknownProduct
}

func (p *Protocol) product(addr common.Address) (*product.Product, error) {
	prod, ok := p.products[addr]
	if !ok {
		return nil, ErrUnknownProduct
	}
	return prod, nil
}

func (p *Protocol) strategy(addr common.Address) (*risk.Strategy, error) {
	s, ok := p.strategies[addr]
	if !ok {
		return nil, risk.ErrUnknownStrategy
	}
	return s, nil
}

// write runs fn under the transaction lock inside a span and refreshes the
// gauges afterwards.
func (p *Protocol) write(ctx context.Context, name string, fn func(ctx context.Context) error, attrs ...attribute.KeyValue) error {
	return p.run(ctx, name, true, fn, attrs...)
}

// read runs fn under the transaction lock inside a span.
func (p *Protocol) read(ctx context.Context, name string, fn func(ctx context.Context) error, attrs ...attribute.KeyValue) error {
	return p.run(ctx, name, false, fn, attrs...)
}

func (p *Protocol) run(ctx context.Context, name string, mutates bool, fn func(ctx context.Context) error, attrs ...attribute.KeyValue) (err error) {
	ctx, span := traces.StartSpan(ctx, "protocol."+name, attrs...)
	defer func() { traces.End(span, err) }()

	unlock, err := p.lock.LockContext(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if !mutates {
		return fn(ctx)
	}
	// Events of a failed write are dropped with it.
	p.events.Hold()
	defer p.events.Discard()
	if err = fn(ctx); err != nil {
		return err
	}
	p.events.Commit()
	p.observe(ctx)
	return nil
}

// observe refreshes the coverage gauges. Callers hold the lock.
func (p *Protocol) observe(ctx context.Context) {
	metrics.ActivePolicies.Set(float64(p.registry.TotalSupply()))
	metrics.ActiveCover.Set(units.Float(p.manager.ActiveCoverAmount()))
	metrics.MinCapitalRequirement.Set(units.Float(p.manager.MinCapitalRequirement()))
	if assets, err := p.vault.TotalAssets(ctx); err == nil {
		metrics.PoolAssets.Set(units.Float(assets))
	}
	if n, err := p.escrow.PendingClaims(ctx); err == nil {
		metrics.PendingClaims.Set(float64(n))
	}
}
