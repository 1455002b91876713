package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/solace-fi/coverage/internal/units"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *Client
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *Client) *Handlers {
	return &Handlers{client: client}
}

// HandleListProducts lists products and their capacity.
func (h *Handlers) HandleListProducts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ListProducts(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list products: %v", err)), nil
	}

	text, err := formatProductList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse products: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleGetQuote prices a policy.
func (h *Handlers) HandleGetQuote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	product := req.GetString("product", "")
	if product == "" {
		return mcp.NewToolResultError("product is required"), nil
	}
	cover, ok := units.ParseEther(req.GetString("cover_amount", ""))
	if !ok || cover.Sign() <= 0 {
		return mcp.NewToolResultError("cover_amount must be a positive ETH amount"), nil
	}
	blocks, ok := positiveInt(req, "blocks")
	if !ok {
		return mcp.NewToolResultError("blocks must be a positive whole number"), nil
	}

	raw, err := h.client.GetQuote(ctx, product, cover.String(), blocks)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get quote: %v", err)), nil
	}

	var resp struct {
		Product string `json:"product"`
		Premium string `json:"premium"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse quote: %v", err)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Quote for %s:\n", product)
	fmt.Fprintf(&sb, "  Cover:   %s ETH\n", units.FormatEther(cover))
	fmt.Fprintf(&sb, "  Blocks:  %d\n", blocks)
	fmt.Fprintf(&sb, "  Premium: %s ETH\n", ether(resp.Premium))
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleGetPolicy shows one policy.
func (h *Handlers) HandleGetPolicy(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, ok := positiveInt(req, "policy_id")
	if !ok {
		return mcp.NewToolResultError("policy_id must be a positive whole number"), nil
	}

	raw, err := h.client.GetPolicy(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get policy: %v", err)), nil
	}

	var resp struct {
		Policy policyView `json:"policy"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse policy: %v", err)), nil
	}
	return mcp.NewToolResultText(formatPolicy(resp.Policy)), nil
}

// HandleListPolicies lists the policies an account holds.
func (h *Handlers) HandleListPolicies(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address := req.GetString("address", "")
	if address == "" {
		return mcp.NewToolResultError("address is required"), nil
	}
	limit := req.GetInt("limit", 0)

	raw, err := h.client.ListPolicies(ctx, address, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list policies: %v", err)), nil
	}

	var resp struct {
		Policies []policyView `json:"policies"`
		HasMore  bool         `json:"hasMore"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse policies: %v", err)), nil
	}
	if len(resp.Policies) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("%s holds no policies.", address)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s holds %d policy(ies):\n\n", address, len(resp.Policies))
	for i, p := range resp.Policies {
		state := "expired"
		if p.Active {
			state = "active"
		}
		fmt.Fprintf(&sb, "%d. Policy #%d: %s ETH until block %d (%s)\n",
			i+1, p.ID, ether(p.CoverAmount.String()), p.ExpirationBlock, state)
	}
	if resp.HasMore {
		sb.WriteString("\nMore policies exist; raise limit to see them.\n")
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleGetClaim shows one pending claim.
func (h *Handlers) HandleGetClaim(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, ok := positiveInt(req, "claim_id")
	if !ok {
		return mcp.NewToolResultError("claim_id must be a positive whole number"), nil
	}

	raw, err := h.client.GetClaim(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get claim: %v", err)), nil
	}

	var resp struct {
		Claim struct {
			ID           uint64        `json:"id"`
			Claimant     string        `json:"claimant"`
			Amount       json.Number   `json:"amount"`
			ReceivedAt   time.Time     `json:"receivedAt"`
			Withdrawable bool          `json:"withdrawable"`
			TimeLeft     time.Duration `json:"timeLeft"`
		} `json:"claim"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse claim: %v", err)), nil
	}

	c := resp.Claim
	var sb strings.Builder
	fmt.Fprintf(&sb, "Claim #%d:\n", c.ID)
	fmt.Fprintf(&sb, "  Claimant: %s\n", c.Claimant)
	fmt.Fprintf(&sb, "  Amount:   %s ETH\n", ether(c.Amount.String()))
	fmt.Fprintf(&sb, "  Received: %s\n", c.ReceivedAt.UTC().Format(time.RFC3339))
	if c.Withdrawable {
		sb.WriteString("  Status:   ready to withdraw\n")
	} else {
		fmt.Fprintf(&sb, "  Status:   cooling down, %s left\n", c.TimeLeft.Round(time.Second))
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleRiskSummary reports capital and exposure.
func (h *Handlers) HandleRiskSummary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.RiskSummary(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get risk summary: %v", err)), nil
	}

	text, err := formatRiskSummary(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse risk summary: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleRecentEvents lists recent protocol events.
func (h *Handlers) HandleRecentEvents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := req.GetString("name", "")
	limit := req.GetInt("limit", 20)

	raw, err := h.client.RecentEvents(ctx, name, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get events: %v", err)), nil
	}

	var resp struct {
		Events []struct {
			Seq    uint64          `json:"seq"`
			Name   string          `json:"name"`
			Block  uint64          `json:"block"`
			Fields json.RawMessage `json:"fields"`
		} `json:"events"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse events: %v", err)), nil
	}
	if len(resp.Events) == 0 {
		return mcp.NewToolResultText("No events."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d event(s):\n", len(resp.Events))
	for _, e := range resp.Events {
		fmt.Fprintf(&sb, "  #%d block %d %s", e.Seq, e.Block, e.Name)
		if len(e.Fields) > 0 {
			fmt.Fprintf(&sb, " %s", string(e.Fields))
		}
		sb.WriteString("\n")
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleWithdrawClaim withdraws a claim payout to the signing account.
func (h *Handlers) HandleWithdrawClaim(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, ok := positiveInt(req, "claim_id")
	if !ok {
		return mcp.NewToolResultError("claim_id must be a positive whole number"), nil
	}

	raw, err := h.client.WithdrawClaim(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to withdraw claim: %v", err)), nil
	}

	var resp struct {
		Paid string `json:"paid"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse withdrawal: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Claim #%d withdrawn: %s ETH paid.", id, ether(resp.Paid))), nil
}

// -----------------------------------------------------------------------------
// Formatting
// -----------------------------------------------------------------------------

type policyView struct {
	ID              uint64      `json:"id"`
	Holder          string      `json:"policyholder"`
	Product         string      `json:"product"`
	CoverAmount     json.Number `json:"coverAmount"`
	ExpirationBlock uint64      `json:"expirationBlock"`
	Price           uint32      `json:"price"`
	Active          bool        `json:"active"`
}

func formatPolicy(p policyView) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Policy #%d:\n", p.ID)
	fmt.Fprintf(&sb, "  Holder:     %s\n", p.Holder)
	fmt.Fprintf(&sb, "  Product:    %s\n", p.Product)
	fmt.Fprintf(&sb, "  Cover:      %s ETH\n", ether(p.CoverAmount.String()))
	fmt.Fprintf(&sb, "  Expires at: block %d\n", p.ExpirationBlock)
	fmt.Fprintf(&sb, "  Price:      %d\n", p.Price)
	if p.Active {
		sb.WriteString("  Status:     active\n")
	} else {
		sb.WriteString("  Status:     expired\n")
	}
	return sb.String()
}

func formatProductList(raw json.RawMessage) (string, error) {
	var resp struct {
		Products []struct {
			Name          string `json:"name"`
			Address       string `json:"address"`
			Paused        bool   `json:"paused"`
			Price         uint32 `json:"price"`
			MinPeriod     uint64 `json:"minPeriod"`
			MaxPeriod     uint64 `json:"maxPeriod"`
			ActiveCover   string `json:"activeCover"`
			SellableCover string `json:"sellableCover"`
		} `json:"products"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if len(resp.Products) == 0 {
		return "No products found.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d product(s):\n\n", len(resp.Products))
	for i, p := range resp.Products {
		fmt.Fprintf(&sb, "%d. %s (%s)", i+1, p.Name, p.Address)
		if p.Paused {
			sb.WriteString(" [paused]")
		}
		sb.WriteString("\n")
		fmt.Fprintf(&sb, "   Price %d, periods %d-%d blocks\n", p.Price, p.MinPeriod, p.MaxPeriod)
		fmt.Fprintf(&sb, "   Active cover %s ETH, sellable %s ETH\n", ether(p.ActiveCover), ether(p.SellableCover))
	}
	return sb.String(), nil
}

func formatRiskSummary(raw json.RawMessage) (string, error) {
	var resp struct {
		Risk map[string]any `json:"risk"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	m := resp.Risk
	if m == nil {
		return "", fmt.Errorf("no risk summary in response")
	}

	var sb strings.Builder
	sb.WriteString("Protocol risk:\n")
	if v, ok := getFloat(m, "block"); ok {
		fmt.Fprintf(&sb, "  Block:              %.0f\n", v)
	}
	fmt.Fprintf(&sb, "  Pool assets:        %s ETH\n", ether(getString(m, "totalAssets")))
	fmt.Fprintf(&sb, "  Active cover:       %s ETH\n", ether(getString(m, "activeCover")))
	fmt.Fprintf(&sb, "  Max cover:          %s ETH\n", ether(getString(m, "maxCover")))
	fmt.Fprintf(&sb, "  Capital required:   %s ETH\n", ether(getString(m, "minCapitalRequirement")))
	if v, ok := getFloat(m, "activePolicies"); ok {
		fmt.Fprintf(&sb, "  Active policies:    %.0f\n", v)
	}
	if v, ok := getFloat(m, "pendingClaims"); ok && v > 0 {
		fmt.Fprintf(&sb, "  Pending claims:     %.0f (%s ETH)\n", v, ether(getString(m, "claimsPayout")))
	}
	return sb.String(), nil
}

// ether renders a wei string as ether, or returns it unchanged when it is
// not a wei amount.
func ether(weiStr string) string {
	w, ok := units.ParseWei(weiStr)
	if !ok {
		if weiStr == "" {
			return "0"
		}
		return weiStr
	}
	return units.FormatEther(w)
}

func positiveInt(req mcp.CallToolRequest, key string) (uint64, bool) {
	f := req.GetFloat(key, 0)
	if f < 1 || f != math.Trunc(f) || f > math.MaxInt64 {
		return 0, false
	}
	return uint64(f), true
}

// getString extracts a string value from a map, trying multiple key names.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			if f, ok := v.(float64); ok {
				return fmt.Sprintf("%g", f)
			}
		}
	}
	return ""
}

// getFloat extracts a float64 value from a map, trying multiple key names.
func getFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if f, ok := v.(float64); ok {
				return f, true
			}
		}
	}
	return 0, false
}
