package mcpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solace-fi/coverage/internal/auth"
)

// --- Test helpers ---

func newTestSetup(t *testing.T, handler http.Handler, cfg Config) *Handlers {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	cfg.APIURL = ts.URL
	return NewHandlers(NewClient(cfg))
}

func jsonHandler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

// ============================================================
// Client tests
// ============================================================

func TestClient_UnsignedRequestsCarryNoCallerHeaders(t *testing.T) {
	var got string
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get(auth.HeaderSignature)
		_, _ = w.Write([]byte(`{"products":[]}`))
	}), Config{})

	_, err := h.client.ListProducts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestClient_SignedRequestVerifies(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	verifier := auth.NewVerifier(time.Minute)

	var caller string
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr, err := verifier.Authenticate(r.Method, r.URL.Path,
			r.Header.Get(auth.HeaderAddress), r.Header.Get(auth.HeaderTimestamp), r.Header.Get(auth.HeaderSignature))
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized","message":"` + err.Error() + `"}`))
			return
		}
		caller = addr.Hex()
		_, _ = w.Write([]byte(`{"paid":"1000000000000000000"}`))
	}), Config{Key: key})

	_, err = h.client.WithdrawClaim(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey).Hex(), caller)
}

func TestClient_SignedRequestWithoutKey(t *testing.T) {
	h := newTestSetup(t, jsonHandler(http.StatusOK, `{}`), Config{})

	_, err := h.client.WithdrawClaim(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNoSigningKey)
}

func TestClient_APIErrorMessage(t *testing.T) {
	h := newTestSetup(t, jsonHandler(http.StatusNotFound, `{"error":"not_found","message":"nonexistent policy"}`), Config{})

	_, err := h.client.GetPolicy(context.Background(), 9)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API error (404): nonexistent policy")
}

func TestClient_APIErrorRawBody(t *testing.T) {
	h := newTestSetup(t, jsonHandler(http.StatusBadGateway, `upstream down`), Config{})

	_, err := h.client.RiskSummary(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API error (502): upstream down")
}

func TestClient_RetriesReadsOnServerError(t *testing.T) {
	var calls atomic.Int32
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"products":[]}`))
	}), Config{})
	h.client.retry.BaseDelay = time.Millisecond

	_, err := h.client.ListProducts(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
}

func TestClient_DoesNotRetryClientErrorsOrWrites(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	var calls atomic.Int32
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}), Config{Key: key})
	h.client.retry.BaseDelay = time.Millisecond

	_, err = h.client.GetClaim(context.Background(), 3)
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())

	_, err = h.client.WithdrawClaim(context.Background(), 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API error (502)")
	assert.EqualValues(t, 2, calls.Load())
}

func TestClient_QueryParameters(t *testing.T) {
	var path, query string
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path, query = r.URL.Path, r.URL.RawQuery
		_, _ = w.Write([]byte(`{"premium":"0"}`))
	}), Config{})

	_, err := h.client.GetQuote(context.Background(), "Example", "1000", 50)
	require.NoError(t, err)
	assert.Equal(t, "/v1/products/Example/quote", path)
	assert.Equal(t, "blocks=50&coverAmount=1000", query)
}

// ============================================================
// Handler tests
// ============================================================

func TestHandleListProducts(t *testing.T) {
	h := newTestSetup(t, jsonHandler(http.StatusOK, `{"products":[
		{"name":"Example","address":"0x00000000000000000000000000000000000000d1","paused":true,"price":11044,
		 "minPeriod":6450,"maxPeriod":2354250,"activeCover":"1500000000000000000","sellableCover":"8500000000000000000"}
	],"count":1}`), Config{})

	result, err := h.HandleListProducts(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "1. Example (0x00000000000000000000000000000000000000d1) [paused]")
	assert.Contains(t, text, "periods 6450-2354250 blocks")
	assert.Contains(t, text, "Active cover 1.5 ETH, sellable 8.5 ETH")
}

func TestHandleListProducts_Empty(t *testing.T) {
	h := newTestSetup(t, jsonHandler(http.StatusOK, `{"products":[],"count":0}`), Config{})

	result, err := h.HandleListProducts(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.Equal(t, "No products found.", resultText(t, result))
}

func TestHandleGetQuote(t *testing.T) {
	var cover string
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cover = r.URL.Query().Get("coverAmount")
		_, _ = w.Write([]byte(`{"premium":"552200000000000000"}`))
	}), Config{})

	result, err := h.HandleGetQuote(context.Background(), makeRequest(map[string]any{
		"product":      "Example",
		"cover_amount": "2.5",
		"blocks":       float64(20000),
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "2500000000000000000", cover)
	text := resultText(t, result)
	assert.Contains(t, text, "Cover:   2.5 ETH")
	assert.Contains(t, text, "Premium: 0.5522 ETH")
}

func TestHandleGetQuote_InvalidArguments(t *testing.T) {
	h := newTestSetup(t, jsonHandler(http.StatusOK, `{}`), Config{})

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"missing product", map[string]any{"cover_amount": "1", "blocks": float64(10)}, "product is required"},
		{"bad cover", map[string]any{"product": "Example", "cover_amount": "-1", "blocks": float64(10)}, "cover_amount"},
		{"zero cover", map[string]any{"product": "Example", "cover_amount": "0", "blocks": float64(10)}, "cover_amount"},
		{"fractional blocks", map[string]any{"product": "Example", "cover_amount": "1", "blocks": 1.5}, "blocks"},
		{"missing blocks", map[string]any{"product": "Example", "cover_amount": "1"}, "blocks"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := h.HandleGetQuote(context.Background(), makeRequest(tt.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.Contains(t, resultText(t, result), tt.want)
		})
	}
}

func TestHandleGetPolicy(t *testing.T) {
	h := newTestSetup(t, jsonHandler(http.StatusOK, `{"policy":{
		"id":3,"policyholder":"0x00000000000000000000000000000000000000b1",
		"product":"0x00000000000000000000000000000000000000d1",
		"coverAmount":10000000000000000000,"expirationBlock":7450,"price":11044,"active":true}}`), Config{})

	result, err := h.HandleGetPolicy(context.Background(), makeRequest(map[string]any{"policy_id": float64(3)}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Policy #3:")
	assert.Contains(t, text, "Cover:      10 ETH")
	assert.Contains(t, text, "Expires at: block 7450")
	assert.Contains(t, text, "Status:     active")
}

func TestHandleGetPolicy_NotFound(t *testing.T) {
	h := newTestSetup(t, jsonHandler(http.StatusNotFound, `{"error":"not_found","message":"nonexistent policy"}`), Config{})

	result, err := h.HandleGetPolicy(context.Background(), makeRequest(map[string]any{"policy_id": float64(99)}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "nonexistent policy")
}

func TestHandleListPolicies(t *testing.T) {
	var path string
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_, _ = w.Write([]byte(`{"policies":[
			{"id":1,"coverAmount":1000000000000000000,"expirationBlock":2000,"active":false},
			{"id":2,"coverAmount":500000000000000000,"expirationBlock":9000,"active":true}
		],"count":2,"hasMore":true,"nextCursor":"aWQ6Mg"}`))
	}), Config{})

	addr := "0x00000000000000000000000000000000000000b1"
	result, err := h.HandleListPolicies(context.Background(), makeRequest(map[string]any{"address": addr, "limit": float64(2)}))
	require.NoError(t, err)
	assert.Equal(t, "/v1/accounts/"+addr+"/policies", path)
	text := resultText(t, result)
	assert.Contains(t, text, "holds 2 policy(ies)")
	assert.Contains(t, text, "1. Policy #1: 1 ETH until block 2000 (expired)")
	assert.Contains(t, text, "2. Policy #2: 0.5 ETH until block 9000 (active)")
	assert.Contains(t, text, "More policies exist")
}

func TestHandleListPolicies_None(t *testing.T) {
	h := newTestSetup(t, jsonHandler(http.StatusOK, `{"policies":[],"count":0,"hasMore":false}`), Config{})

	result, err := h.HandleListPolicies(context.Background(), makeRequest(map[string]any{"address": "0xabc"}))
	require.NoError(t, err)
	assert.Equal(t, "0xabc holds no policies.", resultText(t, result))
}

func TestHandleGetClaim(t *testing.T) {
	h := newTestSetup(t, jsonHandler(http.StatusOK, `{"claim":{
		"id":4,"claimant":"0x00000000000000000000000000000000000000b1","amount":750000000000000000,
		"receivedAt":"2023-11-14T22:13:20Z","withdrawable":false,"timeLeft":1800000000000}}`), Config{})

	result, err := h.HandleGetClaim(context.Background(), makeRequest(map[string]any{"claim_id": float64(4)}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Claim #4:")
	assert.Contains(t, text, "Amount:   0.75 ETH")
	assert.Contains(t, text, "Received: 2023-11-14T22:13:20Z")
	assert.Contains(t, text, "cooling down, 30m0s left")
}

func TestHandleRiskSummary(t *testing.T) {
	h := newTestSetup(t, jsonHandler(http.StatusOK, `{"risk":{
		"block":1000,"totalAssets":"1000000000000000000000","activeCover":"10000000000000000000",
		"maxCover":"1000000000000000000000","minCapitalRequirement":"10000000000000000000",
		"activePolicies":1,"pendingClaims":2,"claimsPayout":"1500000000000000000"}}`), Config{})

	result, err := h.HandleRiskSummary(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Block:              1000")
	assert.Contains(t, text, "Pool assets:        1000 ETH")
	assert.Contains(t, text, "Capital required:   10 ETH")
	assert.Contains(t, text, "Pending claims:     2 (1.5 ETH)")
}

func TestHandleRecentEvents(t *testing.T) {
	var query string
	h := newTestSetup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"events":[{"seq":5,"name":"PolicyCreated","block":1000,"fields":{"policyID":1}}],"count":1,"next":5}`))
	}), Config{})

	result, err := h.HandleRecentEvents(context.Background(), makeRequest(map[string]any{"name": "PolicyCreated"}))
	require.NoError(t, err)
	assert.Equal(t, "limit=20&name=PolicyCreated", query)
	assert.Contains(t, resultText(t, result), `#5 block 1000 PolicyCreated {"policyID":1}`)
}

func TestHandleWithdrawClaim(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	h := newTestSetup(t, jsonHandler(http.StatusOK, `{"paid":"2000000000000000000"}`), Config{Key: key})

	result, err := h.HandleWithdrawClaim(context.Background(), makeRequest(map[string]any{"claim_id": float64(2)}))
	require.NoError(t, err)
	assert.Equal(t, "Claim #2 withdrawn: 2 ETH paid.", resultText(t, result))
}

func TestHandleWithdrawClaim_Cooldown(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	h := newTestSetup(t, jsonHandler(http.StatusConflict, `{"error":"conflict","message":"claim cooldown has not elapsed"}`), Config{Key: key})

	result, err := h.HandleWithdrawClaim(context.Background(), makeRequest(map[string]any{"claim_id": float64(2)}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "cooldown")
}

func TestNewMCPServer_WithdrawRequiresKey(t *testing.T) {
	assert.NotNil(t, NewMCPServer(Config{APIURL: "http://localhost:8080"}))

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	assert.NotNil(t, NewMCPServer(Config{APIURL: "http://localhost:8080", Key: key}))
}

func TestEther(t *testing.T) {
	assert.Equal(t, "1.5", ether("1500000000000000000"))
	assert.Equal(t, "0", ether(""))
	assert.Equal(t, "n/a", ether("n/a"))
}
