package server

import (
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"

	"github.com/solace-fi/coverage/internal/auth"
	"github.com/solace-fi/coverage/internal/pagination"
	"github.com/solace-fi/coverage/internal/protocol"
	"github.com/solace-fi/coverage/internal/realtime"
	"github.com/solace-fi/coverage/internal/risk"
	"github.com/solace-fi/coverage/internal/validation"
)

// handler serves the /v1 API.
type handler struct {
	proto *protocol.Protocol
	hub   *realtime.Hub
}

// -----------------------------------------------------------------------------
// Request helpers
// -----------------------------------------------------------------------------

func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body: " + err.Error(),
		})
		return false
	}
	return true
}

func validate(c *gin.Context, rules ...validation.Rule) bool {
	if errs := validation.Check(rules...); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return false
	}
	return true
}

// wei parses an amount already checked by validation.Wei. The empty
// string is zero.
func wei(s string) *big.Int {
	if v, ok := validation.ParseWei(s); ok {
		return v
	}
	return new(big.Int)
}

// resolveProduct looks up the :product param by address or name.
func (h *handler) resolveProduct(c *gin.Context) (common.Address, bool) {
	addr, err := h.proto.ResolveProduct(c.Param("product"))
	if err != nil {
		respondError(c, err)
		return common.Address{}, false
	}
	return addr, true
}

func addressParam(c *gin.Context, name string) (common.Address, bool) {
	v := c.Param(name)
	if !validation.IsAddress(v) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_address",
			"message": name + " must be a 0x-prefixed 20-byte address with a valid checksum",
		})
		return common.Address{}, false
	}
	return common.HexToAddress(v), true
}

// idParam returns the :id param; validation.ParamMiddleware has checked it.
func idParam(c *gin.Context) uint64 {
	id, _ := strconv.ParseUint(c.Param("id"), 10, 64)
	return id
}

func caller(c *gin.Context) common.Address {
	addr, _ := auth.Caller(c)
	return addr
}

// -----------------------------------------------------------------------------
// Reads
// -----------------------------------------------------------------------------

// info handles GET /v1/info
func (h *handler) info(c *gin.Context) {
	clock := h.proto.Clock()
	c.JSON(http.StatusOK, gin.H{
		"name":       "Solace Coverage",
		"version":    Version,
		"chainId":    h.proto.ChainID().String(),
		"governance": h.proto.Governance(),
		"block":      clock.BlockNumber(),
		"time":       clock.Now().UTC().Format(time.RFC3339),
		"products":   h.proto.Products(),
	})
}

// riskSummary handles GET /v1/risk
func (h *handler) riskSummary(c *gin.Context) {
	sum, err := h.proto.RiskSummary(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"risk": sum})
}

// listEvents handles GET /v1/events?after=&name=&limit=
func (h *handler) listEvents(c *gin.Context) {
	var after uint64
	if v := c.Query("after"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "after must be an event sequence number",
			})
			return
		}
		after = n
	}
	list := h.proto.Events().Since(after, c.Query("name"), pagination.Limit(c.Query("limit")))
	next := after
	if len(list) > 0 {
		next = list[len(list)-1].Seq
	}
	c.JSON(http.StatusOK, gin.H{
		"events": list,
		"count":  len(list),
		"next":   next,
	})
}

// streamStats handles GET /v1/stream/stats
func (h *handler) streamStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.hub.Stats())
}

// listProducts handles GET /v1/products
func (h *handler) listProducts(c *gin.Context) {
	addrs := h.proto.Products()
	out := make([]*protocol.ProductSummary, 0, len(addrs))
	for _, addr := range addrs {
		ps, err := h.proto.ProductSummary(c.Request.Context(), addr)
		if err != nil {
			respondError(c, err)
			return
		}
		out = append(out, ps)
	}
	c.JSON(http.StatusOK, gin.H{"products": out, "count": len(out)})
}

// getProduct handles GET /v1/products/:product
func (h *handler) getProduct(c *gin.Context) {
	addr, ok := h.resolveProduct(c)
	if !ok {
		return
	}
	ps, err := h.proto.ProductSummary(c.Request.Context(), addr)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product": ps})
}

// quote handles GET /v1/products/:product/quote?coverAmount=&blocks=
func (h *handler) quote(c *gin.Context) {
	addr, ok := h.resolveProduct(c)
	if !ok {
		return
	}
	cover := c.Query("coverAmount")
	blocks, err := strconv.ParseUint(c.Query("blocks"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "blocks: must be a positive integer",
		})
		return
	}
	if !validate(c,
		validation.Required("coverAmount", cover),
		validation.Wei("coverAmount", cover),
	) {
		return
	}

	premium, err := h.proto.Quote(c.Request.Context(), addr, wei(cover), blocks)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"product":     addr,
		"coverAmount": cover,
		"blocks":      blocks,
		"premium":     premium.String(),
	})
}

type claimDigestRequest struct {
	PolicyID  uint64 `json:"policyID"`
	Claimant  string `json:"claimant"`
	AmountOut string `json:"amountOut"`
	Deadline  string `json:"deadline"`
}

// claimDigest handles POST /v1/products/:product/claims/digest. Signers
// sign the returned digest to authorize a payout.
func (h *handler) claimDigest(c *gin.Context) {
	addr, ok := h.resolveProduct(c)
	if !ok {
		return
	}
	var req claimDigestRequest
	if !bindJSON(c, &req) {
		return
	}
	if !validate(c,
		validation.Positive("policyID", req.PolicyID),
		validation.Required("claimant", req.Claimant),
		validation.Address("claimant", req.Claimant),
		validation.Required("amountOut", req.AmountOut),
		validation.Wei("amountOut", req.AmountOut),
		validation.Required("deadline", req.Deadline),
		validation.Wei("deadline", req.Deadline),
	) {
		return
	}

	digest, err := h.proto.ClaimDigest(addr, req.PolicyID, common.HexToAddress(req.Claimant), wei(req.AmountOut), wei(req.Deadline))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"digest": digest.Hex()})
}

// getPolicy handles GET /v1/policies/:id
func (h *handler) getPolicy(c *gin.Context) {
	info, err := h.proto.GetPolicy(c.Request.Context(), idParam(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"policy": info})
}

// getClaim handles GET /v1/claims/:id
func (h *handler) getClaim(c *gin.Context) {
	info, err := h.proto.GetClaim(c.Request.Context(), idParam(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"claim": info})
}

// getAccount handles GET /v1/accounts/:address
func (h *handler) getAccount(c *gin.Context) {
	acct, err := h.proto.Account(c.Request.Context(), common.HexToAddress(c.Param("address")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": acct})
}

// listPolicies handles GET /v1/accounts/:address/policies?cursor=&limit=
func (h *handler) listPolicies(c *gin.Context) {
	after, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		respondError(c, err)
		return
	}
	list, err := h.proto.ListPolicies(c.Request.Context(), common.HexToAddress(c.Param("address")))
	if err != nil {
		respondError(c, err)
		return
	}
	page := pagination.ComputePage(list, after, pagination.Limit(c.Query("limit")), func(p *protocol.PolicyInfo) uint64 { return p.ID })
	c.JSON(http.StatusOK, gin.H{
		"policies":   page.Items,
		"count":      len(page.Items),
		"nextCursor": page.NextCursor,
		"hasMore":    page.HasMore,
	})
}

// listClaims handles GET /v1/accounts/:address/claims?cursor=&limit=
func (h *handler) listClaims(c *gin.Context) {
	after, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		respondError(c, err)
		return
	}
	list, err := h.proto.ListClaims(c.Request.Context(), common.HexToAddress(c.Param("address")))
	if err != nil {
		respondError(c, err)
		return
	}
	page := pagination.ComputePage(list, after, pagination.Limit(c.Query("limit")), func(ci *protocol.ClaimInfo) uint64 { return ci.ID })
	c.JSON(http.StatusOK, gin.H{
		"claims":     page.Items,
		"count":      len(page.Items),
		"nextCursor": page.NextCursor,
		"hasMore":    page.HasMore,
	})
}

type sweepRequest struct {
	IDs []uint64 `json:"ids"`
}

// sweep handles POST /v1/sweep. With ids it burns the expired policies among
// them; without, it burns up to one page of expired policies.
func (h *handler) sweep(c *gin.Context) {
	var req sweepRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}
	var (
		n   int
		err error
	)
	if len(req.IDs) > 0 {
		if len(req.IDs) > pagination.MaxLimit {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": "ids: too many policy ids",
			})
			return
		}
		n, err = h.proto.UpdateActivePolicies(c.Request.Context(), req.IDs)
	} else {
		n, err = h.proto.SweepExpired(c.Request.Context(), pagination.MaxLimit)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"burned": n})
}

// -----------------------------------------------------------------------------
// Policyholder calls
// -----------------------------------------------------------------------------

type buyPolicyRequest struct {
	Policyholder        string `json:"policyholder"`
	CoverAmount         string `json:"coverAmount"`
	Blocks              uint64 `json:"blocks"`
	PositionDescription string `json:"positionDescription"`
	Value               string `json:"value"`
}

// buyPolicy handles POST /v1/products/:product/policies. The caller pays
// value; the policy goes to policyholder, or to the caller when omitted.
func (h *handler) buyPolicy(c *gin.Context) {
	addr, ok := h.resolveProduct(c)
	if !ok {
		return
	}
	var req buyPolicyRequest
	if !bindJSON(c, &req) {
		return
	}
	if !validate(c,
		validation.Address("policyholder", req.Policyholder),
		validation.Required("coverAmount", req.CoverAmount),
		validation.Wei("coverAmount", req.CoverAmount),
		validation.Positive("blocks", req.Blocks),
		validation.Required("positionDescription", req.PositionDescription),
		validation.Bytes("positionDescription", req.PositionDescription, validation.MaxDescriptionBytes),
		validation.Wei("value", req.Value),
	) {
		return
	}

	from := caller(c)
	holder := from
	if req.Policyholder != "" {
		holder = common.HexToAddress(req.Policyholder)
	}
	pol, err := h.proto.BuyPolicy(c.Request.Context(), addr, from, holder,
		wei(req.CoverAmount), req.Blocks, hexutil.MustDecode(req.PositionDescription), wei(req.Value))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"policy": pol})
}

type extendPolicyRequest struct {
	Extension uint64 `json:"extension"`
	Value     string `json:"value"`
}

// extendPolicy handles POST /v1/products/:product/policies/:id/extend
func (h *handler) extendPolicy(c *gin.Context) {
	addr, ok := h.resolveProduct(c)
	if !ok {
		return
	}
	var req extendPolicyRequest
	if !bindJSON(c, &req) {
		return
	}
	if !validate(c,
		validation.Positive("extension", req.Extension),
		validation.Wei("value", req.Value),
	) {
		return
	}

	pol, err := h.proto.ExtendPolicy(c.Request.Context(), addr, caller(c), idParam(c), req.Extension, wei(req.Value))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"policy": pol})
}

type updateCoverRequest struct {
	CoverAmount string `json:"coverAmount"`
	Value       string `json:"value"`
}

// updateCoverAmount handles POST /v1/products/:product/policies/:id/cover
func (h *handler) updateCoverAmount(c *gin.Context) {
	addr, ok := h.resolveProduct(c)
	if !ok {
		return
	}
	var req updateCoverRequest
	if !bindJSON(c, &req) {
		return
	}
	if !validate(c,
		validation.Required("coverAmount", req.CoverAmount),
		validation.Wei("coverAmount", req.CoverAmount),
		validation.Wei("value", req.Value),
	) {
		return
	}

	pol, err := h.proto.UpdateCoverAmount(c.Request.Context(), addr, caller(c), idParam(c), wei(req.CoverAmount), wei(req.Value))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"policy": pol})
}

// cancelPolicy handles DELETE /v1/products/:product/policies/:id
func (h *handler) cancelPolicy(c *gin.Context) {
	addr, ok := h.resolveProduct(c)
	if !ok {
		return
	}
	refund, err := h.proto.CancelPolicy(c.Request.Context(), addr, caller(c), idParam(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"refund": refund.String()})
}

type submitClaimRequest struct {
	AmountOut string `json:"amountOut"`
	Deadline  string `json:"deadline"`
	Signature string `json:"signature"`
}

// submitClaim handles POST /v1/products/:product/policies/:id/claim
func (h *handler) submitClaim(c *gin.Context) {
	addr, ok := h.resolveProduct(c)
	if !ok {
		return
	}
	var req submitClaimRequest
	if !bindJSON(c, &req) {
		return
	}
	if !validate(c,
		validation.Required("amountOut", req.AmountOut),
		validation.Wei("amountOut", req.AmountOut),
		validation.Required("deadline", req.Deadline),
		validation.Wei("deadline", req.Deadline),
		validation.Required("signature", req.Signature),
		validation.Bytes("signature", req.Signature, 4096),
	) {
		return
	}

	id := idParam(c)
	if err := h.proto.SubmitClaim(c.Request.Context(), addr, caller(c), id, wei(req.AmountOut), wei(req.Deadline), hexutil.MustDecode(req.Signature)); err != nil {
		respondError(c, err)
		return
	}
	info, err := h.proto.GetClaim(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"claim": info})
}

type transferRequest struct {
	To string `json:"to"`
}

// transferPolicy handles POST /v1/policies/:id/transfer
func (h *handler) transferPolicy(c *gin.Context) {
	var req transferRequest
	if !bindJSON(c, &req) {
		return
	}
	if !validate(c,
		validation.Required("to", req.To),
		validation.Address("to", req.To),
	) {
		return
	}
	if err := h.proto.TransferPolicy(c.Request.Context(), caller(c), common.HexToAddress(req.To), idParam(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transferred": true})
}

// withdrawClaim handles POST /v1/claims/:id/withdraw
func (h *handler) withdrawClaim(c *gin.Context) {
	paid, err := h.proto.WithdrawClaimsPayout(c.Request.Context(), caller(c), idParam(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paid": paid.String()})
}

type amountRequest struct {
	Amount string `json:"amount"`
}

// deposit handles POST /v1/vault/deposit
func (h *handler) deposit(c *gin.Context) {
	var req amountRequest
	if !bindJSON(c, &req) {
		return
	}
	if !validate(c,
		validation.Required("amount", req.Amount),
		validation.Wei("amount", req.Amount),
	) {
		return
	}
	shares, err := h.proto.Deposit(c.Request.Context(), caller(c), wei(req.Amount))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"shares": shares.String()})
}

type sharesRequest struct {
	Shares string `json:"shares"`
}

// withdraw handles POST /v1/vault/withdraw
func (h *handler) withdraw(c *gin.Context) {
	var req sharesRequest
	if !bindJSON(c, &req) {
		return
	}
	if !validate(c,
		validation.Required("shares", req.Shares),
		validation.Wei("shares", req.Shares),
	) {
		return
	}
	amount, err := h.proto.Withdraw(c.Request.Context(), caller(c), wei(req.Shares))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"amount": amount.String()})
}

// -----------------------------------------------------------------------------
// Governance
// -----------------------------------------------------------------------------

type mintRequest struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

// mint handles POST /v1/governance/mint
func (h *handler) mint(c *gin.Context) {
	var req mintRequest
	if !bindJSON(c, &req) {
		return
	}
	if !validate(c,
		validation.Required("to", req.To),
		validation.Address("to", req.To),
		validation.Required("amount", req.Amount),
		validation.Wei("amount", req.Amount),
	) {
		return
	}
	if err := h.proto.Mint(c.Request.Context(), caller(c), common.HexToAddress(req.To), wei(req.Amount)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"minted": req.Amount})
}

type pausedRequest struct {
	Paused *bool `json:"paused" binding:"required"`
}

// setPaused handles PUT /v1/governance/products/:product/paused
func (h *handler) setPaused(c *gin.Context) {
	addr, ok := h.resolveProduct(c)
	if !ok {
		return
	}
	var req pausedRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.proto.SetPaused(c.Request.Context(), caller(c), addr, *req.Paused); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product": addr, "paused": *req.Paused})
}

type signerRequest struct {
	Signer  string `json:"signer"`
	Allowed *bool  `json:"allowed" binding:"required"`
}

// setSigner handles PUT /v1/governance/products/:product/signers
func (h *handler) setSigner(c *gin.Context) {
	addr, ok := h.resolveProduct(c)
	if !ok {
		return
	}
	var req signerRequest
	if !bindJSON(c, &req) {
		return
	}
	if !validate(c,
		validation.Required("signer", req.Signer),
		validation.Address("signer", req.Signer),
	) {
		return
	}
	if err := h.proto.SetSigner(c.Request.Context(), caller(c), addr, common.HexToAddress(req.Signer), *req.Allowed); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product": addr, "signer": common.HexToAddress(req.Signer), "allowed": *req.Allowed})
}

type assetRequest struct {
	Asset   string `json:"asset"`
	Allowed *bool  `json:"allowed" binding:"required"`
}

// setCoveredAsset handles PUT /v1/governance/products/:product/assets
func (h *handler) setCoveredAsset(c *gin.Context) {
	addr, ok := h.resolveProduct(c)
	if !ok {
		return
	}
	var req assetRequest
	if !bindJSON(c, &req) {
		return
	}
	if !validate(c,
		validation.Required("asset", req.Asset),
		validation.Address("asset", req.Asset),
	) {
		return
	}
	if err := h.proto.SetCoveredAsset(c.Request.Context(), caller(c), addr, common.HexToAddress(req.Asset), *req.Allowed); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product": addr, "asset": common.HexToAddress(req.Asset), "allowed": *req.Allowed})
}

type productParamsRequest struct {
	Product string `json:"product"`
	risk.ProductParams
}

// setProductParams handles PUT /v1/governance/strategies/:strategy/products
func (h *handler) setProductParams(c *gin.Context) {
	strategy, ok := addressParam(c, "strategy")
	if !ok {
		return
	}
	var req productParamsRequest
	if !bindJSON(c, &req) {
		return
	}
	if !validate(c,
		validation.Required("product", req.Product),
		validation.Address("product", req.Product),
	) {
		return
	}
	prod := common.HexToAddress(req.Product)
	if err := h.proto.SetProductParams(c.Request.Context(), caller(c), strategy, prod, req.ProductParams); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategy": strategy, "product": prod, "params": req.ProductParams})
}

// removeStrategyProduct handles DELETE /v1/governance/strategies/:strategy/products/:product
func (h *handler) removeStrategyProduct(c *gin.Context) {
	strategy, ok := addressParam(c, "strategy")
	if !ok {
		return
	}
	prod, ok := addressParam(c, "product")
	if !ok {
		return
	}
	if err := h.proto.RemoveStrategyProduct(c.Request.Context(), caller(c), strategy, prod); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategy": strategy, "product": prod, "removed": true})
}

type strategyStatusRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// setStrategyStatus handles PUT /v1/governance/strategies/:strategy/status
func (h *handler) setStrategyStatus(c *gin.Context) {
	strategy, ok := addressParam(c, "strategy")
	if !ok {
		return
	}
	var req strategyStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.proto.SetStrategyStatus(c.Request.Context(), caller(c), strategy, *req.Active); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategy": strategy, "active": *req.Active})
}

type weightRequest struct {
	WeightAllocation uint32 `json:"weightAllocation"`
}

// setWeightAllocation handles PUT /v1/governance/strategies/:strategy/weight
func (h *handler) setWeightAllocation(c *gin.Context) {
	strategy, ok := addressParam(c, "strategy")
	if !ok {
		return
	}
	var req weightRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.proto.SetWeightAllocation(c.Request.Context(), caller(c), strategy, req.WeightAllocation); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategy": strategy, "weightAllocation": req.WeightAllocation})
}

type reservesRequest struct {
	PartialReservesFactor uint16 `json:"partialReservesFactor"`
}

// setPartialReservesFactor handles PUT /v1/governance/reserves
func (h *handler) setPartialReservesFactor(c *gin.Context) {
	var req reservesRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.proto.SetPartialReservesFactor(c.Request.Context(), caller(c), req.PartialReservesFactor); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"partialReservesFactor": req.PartialReservesFactor})
}

type cooldownRequest struct {
	Cooldown string `json:"cooldown"`
}

// setCooldownPeriod handles PUT /v1/governance/cooldown
func (h *handler) setCooldownPeriod(c *gin.Context) {
	var req cooldownRequest
	if !bindJSON(c, &req) {
		return
	}
	d, err := time.ParseDuration(req.Cooldown)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "cooldown: must be a duration such as 336h",
		})
		return
	}
	if err := h.proto.SetCooldownPeriod(c.Request.Context(), caller(c), d); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cooldown": d.String()})
}

// adjustClaim handles PUT /v1/governance/claims/:id
func (h *handler) adjustClaim(c *gin.Context) {
	var req amountRequest
	if !bindJSON(c, &req) {
		return
	}
	if !validate(c,
		validation.Required("amount", req.Amount),
		validation.Wei("amount", req.Amount),
	) {
		return
	}
	id := idParam(c)
	if err := h.proto.AdjustClaim(c.Request.Context(), caller(c), id, wei(req.Amount)); err != nil {
		respondError(c, err)
		return
	}
	info, err := h.proto.GetClaim(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"claim": info})
}

// getGovernance handles GET /v1/governance/components/:address
func (h *handler) getGovernance(c *gin.Context) {
	st, err := h.proto.GovernanceOf(c.Request.Context(), common.HexToAddress(c.Param("address")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

type pendingGovernanceRequest struct {
	Pending string `json:"pendingGovernance"`
}

// setPendingGovernance handles PUT /v1/governance/components/:address/pending.
// An empty pendingGovernance withdraws the proposal.
func (h *handler) setPendingGovernance(c *gin.Context) {
	var req pendingGovernanceRequest
	if !bindJSON(c, &req) {
		return
	}
	if !validate(c, validation.Address("pendingGovernance", req.Pending)) {
		return
	}
	component := common.HexToAddress(c.Param("address"))
	pending := common.HexToAddress(req.Pending)
	if err := h.proto.SetPendingGovernance(c.Request.Context(), caller(c), component, pending); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"component": component, "pendingGovernance": pending})
}

// acceptGovernance handles POST /v1/governance/components/:address/accept
func (h *handler) acceptGovernance(c *gin.Context) {
	component := common.HexToAddress(c.Param("address"))
	if err := h.proto.AcceptGovernance(c.Request.Context(), caller(c), component); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"component": component, "governance": caller(c)})
}
