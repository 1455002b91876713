package server

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solace-fi/coverage/internal/auth"
	"github.com/solace-fi/coverage/internal/chain"
	"github.com/solace-fi/coverage/internal/claims"
	"github.com/solace-fi/coverage/internal/config"
	"github.com/solace-fi/coverage/internal/governance"
	"github.com/solace-fi/coverage/internal/logging"
	"github.com/solace-fi/coverage/internal/policy"
	"github.com/solace-fi/coverage/internal/product"
	"github.com/solace-fi/coverage/internal/protocol"
	"github.com/solace-fi/coverage/internal/voucher"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const deploymentTemplate = `
chainId: 31337
governance: "%s"
partialReservesFactor: 10000
claimsCooldown: 1h
addresses:
  registry: "0x00000000000000000000000000000000000000b0"
  riskManager: "0x00000000000000000000000000000000000000b1"
  vault: "0x00000000000000000000000000000000000000b2"
  claimsEscrow: "0x00000000000000000000000000000000000000b3"
strategies:
  - address: "0x00000000000000000000000000000000000000c1"
    active: true
    weightAllocation: 1
    products:
      - product: "0x00000000000000000000000000000000000000d1"
        weight: 1
        price: 11044
        divisor: 10
products:
  - name: Example
    address: "0x00000000000000000000000000000000000000d1"
    strategy: "0x00000000000000000000000000000000000000c1"
    minPeriod: 6450
    maxPeriod: 2354250
    signers: ["%s"]
    coveredAssets: ["0x00000000000000000000000000000000000000f1"]
`

var (
	prodAddr  = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	stratAddr = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	assetAddr = common.HexToAddress("0x00000000000000000000000000000000000000f1")
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

// testConfig returns a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:           "0",
		Env:            "development",
		LogLevel:       "error",
		LogFormat:      "json",
		BlockTime:      12 * time.Second,
		SweepInterval:  time.Hour,
		SweepBatchSize: 100,
		RateLimitRPS:   10000,
		AuthMaxSkew:    5 * time.Minute,
		AllowedOrigins: []string{"*"},
	}
}

type testEnv struct {
	srv    *Server
	proto  *protocol.Protocol
	clock  *chain.ManualClock
	gov    *ecdsa.PrivateKey
	signer *ecdsa.PrivateKey
	buyer  *ecdsa.PrivateKey
	lp     *ecdsa.PrivateKey
	seq    atomic.Int64
}

func newKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key
}

func addrOf(key *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(key.PublicKey)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{gov: newKey(t), signer: newKey(t), buyer: newKey(t), lp: newKey(t)}
	dep, err := protocol.ParseDeployment([]byte(fmt.Sprintf(deploymentTemplate, addrOf(env.gov).Hex(), addrOf(env.signer).Hex())))
	require.NoError(t, err)

	env.clock = chain.NewManualClock(1000, time.Unix(1_700_000_000, 0))
	env.proto, err = protocol.New(context.Background(), dep, protocol.Options{Clock: env.clock})
	require.NoError(t, err)

	env.srv, err = New(testConfig(), env.proto, WithLogger(logging.NewWithWriter(io.Discard, "error", "json")))
	require.NoError(t, err)
	t.Cleanup(func() { env.srv.limiter.Stop() })
	return env
}

func (e *testEnv) do(t *testing.T, key *ecdsa.PrivateKey, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != nil {
		// Distinct timestamps keep repeated calls from being rejected as replays.
		at := time.Now().Add(time.Duration(e.seq.Add(1)) * time.Second)
		headers, err := auth.SignRequest(key, method, req.URL.Path, at)
		require.NoError(t, err)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}
	w := httptest.NewRecorder()
	e.srv.Router().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// fund mints to the buyer and seeds the pool from the LP.
func (e *testEnv) fund(t *testing.T) {
	t.Helper()
	for _, to := range []common.Address{addrOf(e.buyer), addrOf(e.lp)} {
		w := e.do(t, e.gov, "POST", "/v1/governance/mint", gin.H{"to": to.Hex(), "amount": ether(1000).String()})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}
	w := e.do(t, e.lp, "POST", "/v1/vault/deposit", gin.H{"amount": ether(1000).String()})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func (e *testEnv) buy(t *testing.T, cover *big.Int, blocks uint64) uint64 {
	t.Helper()
	premium := product.Quote(cover, blocks, 11044)
	w := e.do(t, e.buyer, "POST", "/v1/products/example/policies", gin.H{
		"coverAmount":         cover.String(),
		"blocks":              blocks,
		"positionDescription": hexutil.Encode(product.EncodePositionDescription(assetAddr)),
		"value":               premium.String(),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	pol := decode(t, w)["policy"].(map[string]any)
	return uint64(pol["id"].(float64))
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, nil, "GET", "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "healthy", resp["status"])
	assert.EqualValues(t, 1000, resp["block"])
}

func TestLivenessAndReadiness(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusOK, env.do(t, nil, "GET", "/health/live", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, env.do(t, nil, "GET", "/health/ready", nil).Code)

	env.srv.ready.Store(true)
	assert.Equal(t, http.StatusOK, env.do(t, nil, "GET", "/health/ready", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, nil, "GET", "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "solace_")
}

func TestRequestIDHeader(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, nil, "GET", "/v1/info", nil)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest("GET", "/v1/info", nil)
	req.Header.Set("X-Request-ID", "trace-1")
	w = httptest.NewRecorder()
	env.srv.Router().ServeHTTP(w, req)
	assert.Equal(t, "trace-1", w.Header().Get("X-Request-ID"))
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

func TestProducts(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, nil, "GET", "/v1/products", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["count"])

	for _, ref := range []string{"example", "EXAMPLE", prodAddr.Hex()} {
		w = env.do(t, nil, "GET", "/v1/products/"+ref, nil)
		require.Equal(t, http.StatusOK, w.Code, ref)
		assert.Equal(t, "Example", decode(t, w)["product"].(map[string]any)["name"])
	}

	w = env.do(t, nil, "GET", "/v1/products/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestQuote(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t)

	w := env.do(t, nil, "GET", "/v1/products/example/quote?coverAmount="+ether(1).String()+"&blocks=6450", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, product.Quote(ether(1), 6450, 11044).String(), decode(t, w)["premium"])

	w = env.do(t, nil, "GET", "/v1/products/example/quote?coverAmount=1.5&blocks=6450", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, nil, "GET", "/v1/products/example/quote?coverAmount=1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParamValidation(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusBadRequest, env.do(t, nil, "GET", "/v1/accounts/0xnope", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, nil, "GET", "/v1/policies/0", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, nil, "GET", "/v1/policies/abc", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, nil, "GET", "/v1/policies/7", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, nil, "GET", "/v1/claims/7", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, nil, "GET", "/v1/accounts/"+addrOf(env.buyer).Hex()+"/policies?cursor=%21", nil).Code)
}

// ---------------------------------------------------------------------------
// Auth
// ---------------------------------------------------------------------------

func TestSignedRoutesRequireCaller(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, nil, "POST", "/v1/vault/deposit", gin.H{"amount": "1"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, nil, "POST", "/v1/governance/mint", gin.H{"to": addrOf(env.buyer).Hex(), "amount": "1"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGovernanceRejectsOtherCallers(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, env.buyer, "POST", "/v1/governance/mint", gin.H{"to": addrOf(env.buyer).Hex(), "amount": "1"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, env.buyer, "PUT", "/v1/governance/products/example/paused", gin.H{"paused": true})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

// ---------------------------------------------------------------------------
// Policy lifecycle
// ---------------------------------------------------------------------------

func TestBuyExtendCancel(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t)
	buyer := addrOf(env.buyer).Hex()

	id := env.buy(t, ether(10), 6450)
	assert.EqualValues(t, 1, id)

	w := env.do(t, nil, "GET", "/v1/policies/1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	pol := decode(t, w)["policy"].(map[string]any)
	assert.Equal(t, true, pol["active"])
	assert.EqualValues(t, 7450, pol["expirationBlock"])

	w = env.do(t, env.buyer, "POST", "/v1/products/example/policies/1/extend", gin.H{
		"extension": 6450,
		"value":     product.Quote(ether(10), 6450, 11044).String(),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 13900, decode(t, w)["policy"].(map[string]any)["expirationBlock"])

	// Only the holder may cancel.
	w = env.do(t, env.lp, "DELETE", "/v1/products/example/policies/1", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, env.buyer, "DELETE", "/v1/products/example/policies/1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEqual(t, "0", decode(t, w)["refund"])

	w = env.do(t, nil, "GET", "/v1/accounts/"+buyer+"/policies", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decode(t, w)["count"])
}

func TestBuyRejectsUnderpayment(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t)

	w := env.do(t, env.buyer, "POST", "/v1/products/example/policies", gin.H{
		"coverAmount":         ether(10).String(),
		"blocks":              6450,
		"positionDescription": hexutil.Encode(product.EncodePositionDescription(assetAddr)),
		"value":               "1",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", decode(t, w)["error"])
}

func TestBuyWhilePausedConflicts(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t)

	w := env.do(t, env.gov, "PUT", "/v1/governance/products/example/paused", gin.H{"paused": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, env.buyer, "POST", "/v1/products/example/policies", gin.H{
		"coverAmount":         ether(1).String(),
		"blocks":              6450,
		"positionDescription": hexutil.Encode(product.EncodePositionDescription(assetAddr)),
		"value":               product.Quote(ether(1), 6450, 11044).String(),
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestListPoliciesPaginates(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t)
	for i := 0; i < 3; i++ {
		env.buy(t, ether(1), 6450)
	}
	path := "/v1/accounts/" + addrOf(env.buyer).Hex() + "/policies?limit=2"

	w := env.do(t, nil, "GET", path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode(t, w)
	assert.EqualValues(t, 2, page["count"])
	assert.Equal(t, true, page["hasMore"])

	w = env.do(t, nil, "GET", path+"&cursor="+page["nextCursor"].(string), nil)
	require.Equal(t, http.StatusOK, w.Code)
	page = decode(t, w)
	assert.EqualValues(t, 1, page["count"])
	assert.Equal(t, false, page["hasMore"])
	assert.EqualValues(t, 3, page["policies"].([]any)[0].(map[string]any)["id"])
}

func TestSweepBurnsExpired(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t)
	env.buy(t, ether(1), 6450)

	env.clock.Mine(6450, 12*time.Second)
	w := env.do(t, nil, "POST", "/v1/sweep", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 1, decode(t, w)["burned"])

	assert.Equal(t, http.StatusNotFound, env.do(t, nil, "GET", "/v1/policies/1", nil).Code)
}

// ---------------------------------------------------------------------------
// Claims
// ---------------------------------------------------------------------------

func TestClaimFlow(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t)
	id := env.buy(t, ether(10), 6450)
	buyer := addrOf(env.buyer)
	amount := ether(5)
	deadline := big.NewInt(env.clock.Now().Unix() + 3600)

	w := env.do(t, nil, "POST", "/v1/products/example/claims/digest", gin.H{
		"policyID":  id,
		"claimant":  buyer.Hex(),
		"amountOut": amount.String(),
		"deadline":  deadline.String(),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	digest := common.HexToHash(decode(t, w)["digest"].(string))

	sig, err := voucher.SignDigest(env.signer, digest)
	require.NoError(t, err)
	want, err := voucher.Sign(env.signer, voucher.Domain{ProductName: "Example", ChainID: big.NewInt(31337), VerifyingContract: prodAddr},
		voucher.Claim{PolicyID: id, Claimant: buyer, AmountOut: amount, Deadline: deadline})
	require.NoError(t, err)
	require.Equal(t, want, sig)

	w = env.do(t, env.buyer, "POST", fmt.Sprintf("/v1/products/example/policies/%d/claim", id), gin.H{
		"amountOut": amount.String(),
		"deadline":  deadline.String(),
		"signature": hexutil.Encode(sig),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	claim := decode(t, w)["claim"].(map[string]any)
	assert.Equal(t, false, claim["withdrawable"])

	// The policy is burned once claimed.
	assert.Equal(t, http.StatusNotFound, env.do(t, nil, "GET", fmt.Sprintf("/v1/policies/%d", id), nil).Code)

	w = env.do(t, env.buyer, "POST", fmt.Sprintf("/v1/claims/%d/withdraw", id), nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	env.clock.AdvanceTime(2 * time.Hour)
	w = env.do(t, env.lp, "POST", fmt.Sprintf("/v1/claims/%d/withdraw", id), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, env.buyer, "POST", fmt.Sprintf("/v1/claims/%d/withdraw", id), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, amount.String(), decode(t, w)["paid"])
}

func TestClaimWithForeignSignatureRejected(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t)
	id := env.buy(t, ether(10), 6450)
	deadline := big.NewInt(env.clock.Now().Unix() + 3600)

	sig, err := voucher.Sign(env.lp, voucher.Domain{ProductName: "Example", ChainID: big.NewInt(31337), VerifyingContract: prodAddr},
		voucher.Claim{PolicyID: id, Claimant: addrOf(env.buyer), AmountOut: ether(1), Deadline: deadline})
	require.NoError(t, err)

	w := env.do(t, env.buyer, "POST", fmt.Sprintf("/v1/products/example/policies/%d/claim", id), gin.H{
		"amountOut": ether(1).String(),
		"deadline":  deadline.String(),
		"signature": hexutil.Encode(sig),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
}

// ---------------------------------------------------------------------------
// Governance and risk
// ---------------------------------------------------------------------------

func TestGovernanceSetters(t *testing.T) {
	env := newTestEnv(t)
	strategy := "/v1/governance/strategies/" + stratAddr.Hex()

	w := env.do(t, env.gov, "PUT", strategy+"/products", gin.H{"product": prodAddr.Hex(), "weight": 2, "price": 20000, "divisor": 5})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, nil, "GET", "/v1/products/example", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 20000, decode(t, w)["product"].(map[string]any)["price"])

	w = env.do(t, env.gov, "PUT", "/v1/governance/reserves", gin.H{"partialReservesFactor": 5000})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, env.gov, "PUT", "/v1/governance/cooldown", gin.H{"cooldown": "48h"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = env.do(t, env.gov, "PUT", "/v1/governance/cooldown", gin.H{"cooldown": "two days"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, env.gov, "PUT", strategy+"/products", gin.H{"product": prodAddr.Hex(), "weight": 0, "price": 1, "divisor": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, env.gov, "PUT", "/v1/governance/strategies/0x00000000000000000000000000000000000000c9/status", gin.H{"active": false})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, env.gov, "DELETE", strategy+"/products/"+prodAddr.Hex(), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = env.do(t, nil, "GET", "/v1/products/example/quote?coverAmount=1&blocks=6450", nil)
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())
}

func TestRiskSummaryAndEvents(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t)
	env.buy(t, ether(10), 6450)

	w := env.do(t, nil, "GET", "/v1/risk", nil)
	require.Equal(t, http.StatusOK, w.Code)
	sum := decode(t, w)["risk"].(map[string]any)
	assert.Equal(t, ether(10).String(), sum["activeCover"])
	assert.EqualValues(t, 1, sum["activePolicies"])

	w = env.do(t, nil, "GET", "/v1/events?name="+policy.EventPolicyCreated, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["count"])

	w = env.do(t, nil, "GET", "/v1/events?after=x", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAccount(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t)

	w := env.do(t, nil, "GET", "/v1/accounts/"+addrOf(env.lp).Hex(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	acct := decode(t, w)["account"].(map[string]any)
	assert.Equal(t, "0", acct["balance"])
	assert.Equal(t, ether(1000).String(), acct["shares"])

	w = env.do(t, env.lp, "POST", "/v1/vault/withdraw", gin.H{"shares": ether(2000).String()})
	assert.Equal(t, http.StatusConflict, w.Code)
}

// ---------------------------------------------------------------------------
// Error mapping
// ---------------------------------------------------------------------------

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{protocol.ErrUnknownProduct, http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", policy.ErrNonexistentPolicy), http.StatusNotFound},
		{governance.ErrNotGovernance, http.StatusForbidden},
		{claims.ErrCooldownNotElapsed, http.StatusConflict},
		{product.ErrIncorrectPayment, http.StatusBadRequest},
		{context.DeadlineExceeded, http.StatusServiceUnavailable},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		got, _ := statusFor(tt.err)
		assert.Equal(t, tt.want, got, tt.err.Error())
	}
}

func TestGovernanceHandoffEndpoints(t *testing.T) {
	env := newTestEnv(t)
	next := newKey(t)
	path := "/v1/governance/components/" + prodAddr.Hex()

	w := env.do(t, nil, "GET", path, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, addrOf(env.gov).Hex(), decode(t, w)["governance"])

	body := gin.H{"pendingGovernance": addrOf(next).Hex()}
	assert.Equal(t, http.StatusForbidden, env.do(t, env.buyer, "PUT", path+"/pending", body).Code)
	require.Equal(t, http.StatusOK, env.do(t, env.gov, "PUT", path+"/pending", body).Code)

	assert.Equal(t, http.StatusForbidden, env.do(t, env.buyer, "POST", path+"/accept", nil).Code)
	w = env.do(t, next, "POST", path+"/accept", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, nil, "GET", path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, addrOf(next).Hex(), decode(t, w)["governance"])

	paused := gin.H{"paused": true}
	assert.Equal(t, http.StatusForbidden, env.do(t, env.gov, "PUT", "/v1/governance/products/example/paused", paused).Code)
	assert.Equal(t, http.StatusOK, env.do(t, next, "PUT", "/v1/governance/products/example/paused", paused).Code)
}

func TestGovernanceEndpoints_UnknownComponent(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, nil, "GET", "/v1/governance/components/"+assetAddr.Hex(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decode(t, w)["error"])
}
