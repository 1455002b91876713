package product

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solace-fi/coverage/internal/chain"
	"github.com/solace-fi/coverage/internal/claims"
	"github.com/solace-fi/coverage/internal/events"
	"github.com/solace-fi/coverage/internal/governance"
	"github.com/solace-fi/coverage/internal/ledger"
	"github.com/solace-fi/coverage/internal/policy"
	"github.com/solace-fi/coverage/internal/risk"
	"github.com/solace-fi/coverage/internal/vault"
	"github.com/solace-fi/coverage/internal/voucher"
)

var (
	gov          = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	buyer        = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	stranger     = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	depositor    = common.HexToAddress("0x00000000000000000000000000000000000000a4")
	registryAddr = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	managerAddr  = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	vaultAddr    = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	escrowAddr   = common.HexToAddress("0x00000000000000000000000000000000000000b3")
	strategyAddr = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	productAddr  = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	otherAddr    = common.HexToAddress("0x00000000000000000000000000000000000000d2")
	assetA       = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	assetB       = common.HexToAddress("0x00000000000000000000000000000000000000f2")
)

const price = 11044

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

type fixture struct {
	product  *Product
	other    *Product
	registry *policy.Registry
	manager  *risk.Manager
	strategy *risk.Strategy
	vault    *vault.Vault
	escrow   *claims.Escrow
	ledger   *ledger.Ledger
	clock    *chain.ManualClock
	bus      *events.Bus
	signer   *ecdsa.PrivateKey
}

// stores overrides the fixture's backing stores; nil fields use memory stores.
type stores struct {
	ledger   ledger.Store
	policies policy.Store
	claims   claims.Store
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, stores{})
}

func newFixtureWith(t *testing.T, st stores) *fixture {
	t.Helper()
	ctx := context.Background()
	if st.ledger == nil {
		st.ledger = ledger.NewMemoryStore()
	}
	if st.policies == nil {
		st.policies = policy.NewMemoryStore()
	}
	if st.claims == nil {
		st.claims = claims.NewMemoryStore()
	}
	clock := chain.NewManualClock(1000, time.Unix(1_700_000_000, 0))
	bus := events.NewBus(clock)
	l := ledger.New(st.ledger)

	v, err := vault.New(vaultAddr, gov, l, bus)
	require.NoError(t, err)
	m, err := risk.NewManager(managerAddr, gov, v, bus)
	require.NoError(t, err)
	v.SetMCRSource(m)
	esc, err := claims.New(escrowAddr, gov, st.claims, l, clock, time.Hour, bus)
	require.NoError(t, err)
	esc.SetVault(vaultAddr, v)
	v.SetClaimsEscrow(escrowAddr, esc)

	s, err := risk.NewStrategy(strategyAddr, gov, bus)
	require.NoError(t, err)
	_, err = m.AddRiskStrategy(gov, s)
	require.NoError(t, err)
	require.NoError(t, m.SetStrategyStatus(gov, strategyAddr, true))
	require.NoError(t, m.SetWeightAllocation(ctx, gov, strategyAddr, 1))
	require.NoError(t, s.AddProduct(gov, productAddr, 1, price, 10))
	require.NoError(t, s.AddProduct(gov, otherAddr, 1, price, 10))

	reg, err := policy.NewRegistry(registryAddr, gov, st.policies, clock, m, bus)
	require.NoError(t, err)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	mk := func(name string, addr common.Address) *Product {
		p, err := New(Config{
			Name: name, Address: addr, Governance: gov, ChainID: big.NewInt(31337),
			MinPeriod: 6450, MaxPeriod: 2354250,
		}, Deps{
			Registry: reg, Manager: m, Strategy: s, Pool: v, Funds: l,
			Verifier: voucher.NewVerifier(nil), Clock: clock, Events: bus,
		})
		require.NoError(t, err)
		require.NoError(t, reg.AddProduct(gov, addr))
		reg.SetProductHook(addr, p)
		require.NoError(t, v.SetRequestor(gov, addr, true))
		require.NoError(t, p.AddCoveredAsset(gov, assetA))
		require.NoError(t, p.AddCoveredAsset(gov, assetB))
		require.NoError(t, p.AddSigner(gov, crypto.PubkeyToAddress(key.PublicKey)))
		return p
	}

	f := &fixture{
		product: mk("Example", productAddr), other: mk("Other", otherAddr),
		registry: reg, manager: m, strategy: s, vault: v, escrow: esc,
		ledger: l, clock: clock, bus: bus, signer: key,
	}

	require.NoError(t, l.Mint(ctx, chain.NativeAsset, depositor, ether(1000), "faucet"))
	_, err = v.Deposit(ctx, depositor, ether(1000))
	require.NoError(t, err)
	require.NoError(t, l.Mint(ctx, chain.NativeAsset, buyer, ether(100), "faucet"))
	return f
}

func (f *fixture) buy(t *testing.T, cover *big.Int, blocks uint64) *policy.Policy {
	t.Helper()
	premium := Quote(cover, blocks, price)
	pol, err := f.product.BuyPolicy(context.Background(), buyer, buyer, cover, blocks, EncodePositionDescription(assetA), premium)
	require.NoError(t, err)
	return pol
}

func (f *fixture) sign(t *testing.T, p *Product, id uint64, claimant common.Address, amount, deadline *big.Int) []byte {
	t.Helper()
	sig, err := voucher.Sign(f.signer, p.Domain(), voucher.Claim{PolicyID: id, Claimant: claimant, AmountOut: amount, Deadline: deadline})
	require.NoError(t, err)
	return sig
}

func nativeBalance(t *testing.T, l *ledger.Ledger, who common.Address) *big.Int {
	t.Helper()
	b, err := l.NativeBalance(context.Background(), who)
	require.NoError(t, err)
	return b
}

func TestQuote_Regression(t *testing.T) {
	got := Quote(ether(10), 19350, 11044)
	assert.Equal(t, "2137014000000000", got.String())

	f := newFixture(t)
	q, err := f.product.GetQuote(ether(10), 19350)
	require.NoError(t, err)
	assert.Equal(t, "2137014000000000", q.String())
}

func TestBuyPolicy_CollectsPremium(t *testing.T) {
	f := newFixture(t)
	before := nativeBalance(t, f.ledger, buyer)
	pol := f.buy(t, ether(10), 19350)

	assert.Equal(t, uint64(1), pol.ID)
	assert.Equal(t, buyer, pol.Holder)
	assert.Equal(t, uint64(1000+19350), pol.ExpirationBlock)
	assert.Equal(t, uint32(price), pol.Price)
	assert.Equal(t, strategyAddr, pol.Strategy)

	spent := new(big.Int).Sub(before, nativeBalance(t, f.ledger, buyer))
	assert.Equal(t, "2137014000000000", spent.String())
	assets, _ := f.vault.TotalAssets(context.Background())
	assert.Equal(t, new(big.Int).Add(ether(1000), spent).String(), assets.String())

	assert.Equal(t, ether(10).String(), f.product.ActiveCoverAmount().String())
	assert.Equal(t, ether(10).String(), f.manager.MinCapitalRequirement().String())
	assert.Equal(t, ether(10).String(), f.strategy.ActiveCoverAmountPerProduct(productAddr).String())
	assert.Equal(t, uint64(1), f.product.PolicyCount())
}

func TestBuyPolicy_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	desc := EncodePositionDescription(assetA)
	premium := Quote(ether(1), 10000, price)

	cases := []struct {
		name   string
		holder common.Address
		cover  *big.Int
		blocks uint64
		desc   []byte
		value  *big.Int
		want   error
	}{
		{"zero holder", common.Address{}, ether(1), 10000, desc, premium, policy.ErrZeroHolder},
		{"zero cover", buyer, big.NewInt(0), 10000, desc, premium, ErrZeroCover},
		{"too short", buyer, ether(1), 6449, desc, premium, ErrPeriodTooShort},
		{"too long", buyer, ether(1), 2354251, desc, premium, ErrPeriodTooLong},
		{"empty description", buyer, ether(1), 10000, nil, premium, ErrInvalidDescription},
		{"odd description", buyer, ether(1), 10000, append(desc, 0x01), premium, ErrInvalidDescription},
		{"uncovered asset", buyer, ether(1), 10000, EncodePositionDescription(assetA, stranger), premium, ErrInvalidDescription},
		{"over capacity", buyer, ether(1001), 10000, desc, premium, ErrInsufficientCapacity},
		{"over policy cap", buyer, ether(101), 10000, desc, premium, ErrCannotAcceptRisk},
		{"underpaid", buyer, ether(1), 10000, desc, new(big.Int).Sub(premium, big.NewInt(1)), ErrIncorrectPayment},
		{"overpaid", buyer, ether(1), 10000, desc, new(big.Int).Add(premium, big.NewInt(1)), ErrIncorrectPayment},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.product.BuyPolicy(ctx, buyer, tc.holder, tc.cover, tc.blocks, tc.desc, tc.value)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Equal(t, uint64(0), f.registry.TotalSupply(), "no failed purchase minted")
	assert.Equal(t, ether(100).String(), nativeBalance(t, f.ledger, buyer).String())

	require.NoError(t, f.product.SetPaused(gov, true))
	_, err := f.product.BuyPolicy(ctx, buyer, buyer, ether(1), 10000, desc, premium)
	assert.ErrorIs(t, err, ErrPaused)
}

func TestBuyPolicy_PayerCannotAfford(t *testing.T) {
	f := newFixture(t)
	premium := Quote(ether(10), 10000, price)

	_, err := f.product.BuyPolicy(context.Background(), stranger, buyer, ether(10), 10000, EncodePositionDescription(assetA), premium)
	assert.ErrorIs(t, err, ErrIncorrectPayment)
	assert.Equal(t, uint64(0), f.registry.TotalSupply())
	assert.Equal(t, int64(0), f.manager.ActiveCoverAmount().Int64())
}

func TestExtendPolicy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pol := f.buy(t, ether(10), 10000)

	extra := Quote(ether(10), 5000, price)
	_, err := f.product.ExtendPolicy(ctx, stranger, pol.ID, 5000, extra)
	assert.ErrorIs(t, err, ErrNotPolicyholder)
	_, err = f.product.ExtendPolicy(ctx, buyer, pol.ID, 5000, big.NewInt(1))
	assert.ErrorIs(t, err, ErrIncorrectPayment)
	_, err = f.product.ExtendPolicy(ctx, buyer, pol.ID, 2354250, Quote(ether(10), 2354250, price))
	assert.ErrorIs(t, err, ErrPeriodTooLong)

	updated, err := f.product.ExtendPolicy(ctx, buyer, pol.ID, 5000, extra)
	require.NoError(t, err)
	assert.Equal(t, pol.ExpirationBlock+5000, updated.ExpirationBlock)

	f.clock.SetBlock(updated.ExpirationBlock)
	_, err = f.product.ExtendPolicy(ctx, buyer, pol.ID, 5000, extra)
	assert.ErrorIs(t, err, ErrPolicyExpired)
}

func TestExtendPolicy_HugeExtensionDoesNotWrap(t *testing.T) {
	f := newFixture(t)
	pol := f.buy(t, ether(10), 10000)

	_, err := f.product.ExtendPolicy(context.Background(), buyer, pol.ID, math.MaxUint64, big.NewInt(0))
	assert.ErrorIs(t, err, ErrPeriodTooLong)
	_, err = f.product.ExtendPolicy(context.Background(), buyer, pol.ID, math.MaxUint64-pol.ExpirationBlock+1, big.NewInt(0))
	assert.ErrorIs(t, err, ErrPeriodTooLong)

	got, err := f.registry.GetPolicyInfo(context.Background(), pol.ID)
	require.NoError(t, err)
	assert.Equal(t, pol.ExpirationBlock, got.ExpirationBlock)
}

func TestUpdateCoverAmount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pol := f.buy(t, ether(10), 10000)
	f.clock.Mine(2000, 0)
	remaining := uint64(8000)

	charge := new(big.Int).Sub(Quote(ether(20), remaining, price), Quote(ether(10), remaining, price))
	_, err := f.product.UpdateCoverAmount(ctx, buyer, pol.ID, ether(20), big.NewInt(0))
	assert.ErrorIs(t, err, ErrIncorrectPayment)

	updated, err := f.product.UpdateCoverAmount(ctx, buyer, pol.ID, ether(20), charge)
	require.NoError(t, err)
	assert.Equal(t, ether(20).String(), updated.CoverAmount.String())
	assert.Equal(t, ether(20).String(), f.manager.ActiveCoverAmount().String())
	assert.Equal(t, ether(20).String(), f.product.ActiveCoverAmount().String())

	before := nativeBalance(t, f.ledger, buyer)
	_, err = f.product.UpdateCoverAmount(ctx, buyer, pol.ID, ether(5), big.NewInt(0))
	require.NoError(t, err)
	refund := new(big.Int).Sub(Quote(ether(20), remaining, price), Quote(ether(5), remaining, price))
	assert.Equal(t, new(big.Int).Add(before, refund).String(), nativeBalance(t, f.ledger, buyer).String())
	assert.Equal(t, ether(5).String(), f.registry.ActiveCoverAmount().String())

	_, err = f.product.UpdateCoverAmount(ctx, buyer, pol.ID, ether(101), Quote(ether(96), remaining, price))
	assert.ErrorIs(t, err, ErrCannotAcceptRisk)
}

func TestCancelPolicy_RefundsRemainingBlocks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pol := f.buy(t, ether(10), 10000)
	f.clock.Mine(4000, 0)

	_, err := f.product.CancelPolicy(ctx, stranger, pol.ID)
	assert.ErrorIs(t, err, ErrNotPolicyholder)

	before := nativeBalance(t, f.ledger, buyer)
	refund, err := f.product.CancelPolicy(ctx, buyer, pol.ID)
	require.NoError(t, err)
	assert.Equal(t, Quote(ether(10), 6000, price).String(), refund.String())
	assert.Equal(t, new(big.Int).Add(before, refund).String(), nativeBalance(t, f.ledger, buyer).String())

	assert.Equal(t, int64(0), f.manager.MinCapitalRequirement().Int64())
	assert.Equal(t, int64(0), f.product.ActiveCoverAmount().Int64())
	_, err = f.registry.GetPolicyInfo(ctx, pol.ID)
	assert.ErrorIs(t, err, policy.ErrNonexistentPolicy)
}

func TestSubmitClaim_EndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pol := f.buy(t, ether(10), 10000)

	amount := big.NewInt(500000)
	deadline := big.NewInt(f.clock.Now().Add(time.Hour).Unix())
	sig := f.sign(t, f.product, pol.ID, buyer, amount, deadline)

	require.NoError(t, f.product.SubmitClaim(ctx, buyer, pol.ID, amount, deadline, sig))
	_, err := f.registry.GetPolicyInfo(ctx, pol.ID)
	assert.ErrorIs(t, err, policy.ErrNonexistentPolicy)
	assert.Equal(t, int64(0), f.manager.ActiveCoverAmount().Int64())
	assert.Equal(t, 1, f.bus.Count(EventClaimSubmitted))

	c, err := f.escrow.GetClaim(ctx, pol.ID)
	require.NoError(t, err)
	assert.Equal(t, buyer, c.Claimant)
	assert.Equal(t, amount.String(), c.Amount.String())

	// the voucher cannot be redeemed twice
	err = f.product.SubmitClaim(ctx, buyer, pol.ID, amount, deadline, sig)
	assert.ErrorIs(t, err, ErrNonexistentPolicy)

	_, err = f.escrow.WithdrawClaimsPayout(ctx, buyer, pol.ID)
	assert.ErrorIs(t, err, claims.ErrCooldownNotElapsed)
	f.clock.AdvanceTime(time.Hour)
	before := nativeBalance(t, f.ledger, buyer)
	paid, err := f.escrow.WithdrawClaimsPayout(ctx, buyer, pol.ID)
	require.NoError(t, err)
	assert.Equal(t, amount.String(), paid.String())
	assert.Equal(t, new(big.Int).Add(before, amount).String(), nativeBalance(t, f.ledger, buyer).String())
}

func TestSubmitClaim_ErrorOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pol := f.buy(t, ether(10), 10000)
	amount := big.NewInt(500000)
	deadline := big.NewInt(f.clock.Now().Add(time.Hour).Unix())
	sig := f.sign(t, f.product, pol.ID, buyer, amount, deadline)

	err := f.product.SubmitClaim(ctx, buyer, 99, amount, deadline, sig)
	assert.ErrorIs(t, err, ErrNonexistentPolicy)

	err = f.product.SubmitClaim(ctx, stranger, pol.ID, ether(11), big.NewInt(0), nil)
	assert.ErrorIs(t, err, ErrNotPolicyholder)

	err = f.other.SubmitClaim(ctx, buyer, pol.ID, ether(11), big.NewInt(0), nil)
	assert.ErrorIs(t, err, ErrWrongProduct)

	err = f.product.SubmitClaim(ctx, buyer, pol.ID, ether(11), big.NewInt(0), nil)
	assert.ErrorIs(t, err, ErrExcessiveAmountOut)

	past := big.NewInt(f.clock.Now().Unix() - 1)
	err = f.product.SubmitClaim(ctx, buyer, pol.ID, amount, past, f.sign(t, f.product, pol.ID, buyer, amount, past))
	assert.ErrorIs(t, err, ErrExpiredDeadline)

	exact := big.NewInt(f.clock.Now().Unix())
	err = f.product.SubmitClaim(ctx, buyer, pol.ID, amount, exact, sig)
	assert.ErrorIs(t, err, ErrInvalidSignature, "deadline equal to now is still open")

	err = f.product.SubmitClaim(ctx, buyer, pol.ID, big.NewInt(500001), deadline, sig)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	otherSig := f.sign(t, f.other, pol.ID, buyer, amount, deadline)
	err = f.product.SubmitClaim(ctx, buyer, pol.ID, amount, deadline, otherSig)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	require.NoError(t, f.product.RemoveSigner(gov, crypto.PubkeyToAddress(f.signer.PublicKey)))
	err = f.product.SubmitClaim(ctx, buyer, pol.ID, amount, deadline, sig)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	assert.Equal(t, uint64(1), f.registry.TotalSupply(), "rejected claims leave the policy")
}

func TestExpirySweepSettlesProduct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pol := f.buy(t, ether(10), 10000)

	f.clock.SetBlock(pol.ExpirationBlock)
	n, err := f.registry.UpdateActivePolicies(ctx, []uint64{pol.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(0), f.product.ActiveCoverAmount().Int64())
	assert.Equal(t, 1, f.bus.Count(EventPolicyExpired))
}

func TestSettings(t *testing.T) {
	f := newFixture(t)
	p := f.product

	assert.ErrorIs(t, p.SetPaused(stranger, true), governance.ErrNotGovernance)
	assert.ErrorIs(t, p.SetMinPeriod(gov, 3_000_000), ErrInvalidPeriod)
	assert.ErrorIs(t, p.SetMaxPeriod(gov, 100), ErrInvalidPeriod)
	require.NoError(t, p.SetMinPeriod(gov, 100))
	require.NoError(t, p.SetMaxPeriod(gov, 200))
	assert.Equal(t, uint64(100), p.MinPeriod())
	assert.Equal(t, uint64(200), p.MaxPeriod())

	assert.ErrorIs(t, p.AddSigner(gov, common.Address{}), ErrZeroSigner)
	assert.ErrorIs(t, p.AddCoveredAsset(gov, common.Address{}), ErrZeroAsset)
	require.NoError(t, p.RemoveCoveredAsset(gov, assetA))
	assert.Equal(t, []common.Address{assetB}, p.CoveredAssets())
	assert.False(t, p.ValidatePositionDescription(EncodePositionDescription(assetA)))
	assert.True(t, p.ValidatePositionDescription(EncodePositionDescription(assetB, assetB)))

	assert.Len(t, p.Signers(), 1)
	require.NoError(t, p.AddSigner(gov, stranger))
	assert.True(t, p.IsAuthorizedSigner(stranger))
	require.NoError(t, p.RemoveSigner(gov, stranger))
	assert.False(t, p.IsAuthorizedSigner(stranger))
}

func TestPositionDescriptionCodec(t *testing.T) {
	desc := EncodePositionDescription(assetA, assetB)
	assert.Len(t, desc, 40)
	assert.Equal(t, []common.Address{assetA, assetB}, DecodePositionDescription(desc))
}

// failingLedger fails transfers whose memo starts with prefix.
type failingLedger struct {
	*ledger.MemoryStore
	prefix string
}

func (s *failingLedger) Transfer(ctx context.Context, asset, from, to common.Address, amount *big.Int, memo string) error {
	if strings.HasPrefix(memo, s.prefix) {
		return errors.New("ledger unavailable")
	}
	return s.MemoryStore.Transfer(ctx, asset, from, to, amount, memo)
}

type failingPolicies struct {
	*policy.MemoryStore
	create, remove bool
}

func (s *failingPolicies) Create(ctx context.Context, p *policy.Policy) error {
	if s.create {
		return errors.New("policy store unavailable")
	}
	return s.MemoryStore.Create(ctx, p)
}

func (s *failingPolicies) Delete(ctx context.Context, id uint64) error {
	if s.remove {
		return errors.New("policy store unavailable")
	}
	return s.MemoryStore.Delete(ctx, id)
}

type failingClaims struct {
	*claims.MemoryStore
}

func (s *failingClaims) Create(ctx context.Context, c *claims.Claim) error {
	return errors.New("claim store unavailable")
}

func TestBuyPolicy_NoPolicyWhenPremiumCannotMove(t *testing.T) {
	f := newFixtureWith(t, stores{ledger: &failingLedger{MemoryStore: ledger.NewMemoryStore(), prefix: "premium"}})
	ctx := context.Background()
	before := nativeBalance(t, f.ledger, buyer)

	premium := Quote(ether(10), 10000, price)
	_, err := f.product.BuyPolicy(ctx, buyer, buyer, ether(10), 10000, EncodePositionDescription(assetA), premium)
	require.Error(t, err)

	exists, err := f.registry.Exists(ctx, 1)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, uint64(0), f.registry.TotalSupply())
	assert.Equal(t, int64(0), f.manager.ActiveCoverAmount().Int64())
	assert.Equal(t, int64(0), f.manager.MinCapitalRequirement().Int64())
	assert.Equal(t, int64(0), f.product.ActiveCoverAmount().Int64())
	assert.Equal(t, uint64(0), f.product.PolicyCount())
	assert.Equal(t, before.String(), nativeBalance(t, f.ledger, buyer).String())
	assert.Equal(t, 0, f.bus.Count(policy.EventPolicyCreated))
}

func TestBuyPolicy_RepaysPremiumWhenPolicyStoreFails(t *testing.T) {
	f := newFixtureWith(t, stores{policies: &failingPolicies{MemoryStore: policy.NewMemoryStore(), create: true}})
	ctx := context.Background()
	before := nativeBalance(t, f.ledger, buyer)
	pool := nativeBalance(t, f.ledger, vaultAddr)

	premium := Quote(ether(10), 10000, price)
	_, err := f.product.BuyPolicy(ctx, buyer, buyer, ether(10), 10000, EncodePositionDescription(assetA), premium)
	require.Error(t, err)

	assert.Equal(t, before.String(), nativeBalance(t, f.ledger, buyer).String())
	assert.Equal(t, pool.String(), nativeBalance(t, f.ledger, vaultAddr).String())
	assert.Equal(t, int64(0), f.manager.ActiveCoverAmount().Int64())
	assert.Equal(t, uint64(0), f.product.PolicyCount())
}

func TestCancelPolicy_ReclaimsRefundWhenBurnFails(t *testing.T) {
	store := &failingPolicies{MemoryStore: policy.NewMemoryStore()}
	f := newFixtureWith(t, stores{policies: store})
	ctx := context.Background()
	pol := f.buy(t, ether(10), 10000)
	f.clock.Mine(4000, 0)

	store.remove = true
	before := nativeBalance(t, f.ledger, buyer)
	_, err := f.product.CancelPolicy(ctx, buyer, pol.ID)
	require.Error(t, err)

	assert.Equal(t, before.String(), nativeBalance(t, f.ledger, buyer).String())
	exists, err := f.registry.Exists(ctx, pol.ID)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, ether(10).String(), f.manager.ActiveCoverAmount().String())
	assert.Equal(t, ether(10).String(), f.product.ActiveCoverAmount().String())
}

func TestSubmitClaim_ReinstatesPolicyWhenEscrowFails(t *testing.T) {
	f := newFixtureWith(t, stores{claims: &failingClaims{MemoryStore: claims.NewMemoryStore()}})
	ctx := context.Background()
	pol := f.buy(t, ether(10), 10000)
	pool := nativeBalance(t, f.ledger, vaultAddr)

	amount := big.NewInt(500000)
	deadline := big.NewInt(f.clock.Now().Add(time.Hour).Unix())
	sig := f.sign(t, f.product, pol.ID, buyer, amount, deadline)
	require.Error(t, f.product.SubmitClaim(ctx, buyer, pol.ID, amount, deadline, sig))

	got, err := f.registry.GetPolicyInfo(ctx, pol.ID)
	require.NoError(t, err)
	assert.Equal(t, buyer, got.Holder)
	assert.Equal(t, uint64(1), f.registry.TotalSupply())
	assert.Equal(t, ether(10).String(), f.registry.ActiveCoverAmount().String())
	assert.Equal(t, ether(10).String(), f.manager.ActiveCoverAmount().String())
	assert.Equal(t, ether(10).String(), f.product.ActiveCoverAmount().String())
	assert.Equal(t, pool.String(), nativeBalance(t, f.ledger, vaultAddr).String())
	assert.Equal(t, int64(0), nativeBalance(t, f.ledger, escrowAddr).Int64())
	assert.Equal(t, 0, f.bus.Count(EventClaimSubmitted))
}
