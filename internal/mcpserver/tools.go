package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the coverage MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolListProducts = mcp.NewTool("list_products",
	mcp.WithDescription(
		"List the coverage products on sale. "+
			"Shows each product's price, period limits, and how much cover it can still sell."),
)

var ToolGetQuote = mcp.NewTool("get_quote",
	mcp.WithDescription(
		"Price a coverage policy before buying it. "+
			"The premium is cover amount x blocks x price / 1e12, paid in ETH."),
	mcp.WithString("product",
		mcp.Required(),
		mcp.Description("Product name (e.g. 'Example') or address")),
	mcp.WithString("cover_amount",
		mcp.Required(),
		mcp.Description("Cover amount in ETH (e.g. '10' or '2.5')")),
	mcp.WithNumber("blocks",
		mcp.Required(),
		mcp.Description("Policy length in blocks (about 6450 blocks per day)")),
)

var ToolGetPolicy = mcp.NewTool("get_policy",
	mcp.WithDescription(
		"Look up a coverage policy by id. Shows holder, cover, expiration block, and whether it is still active."),
	mcp.WithNumber("policy_id",
		mcp.Required(),
		mcp.Description("The policy id")),
)

var ToolListPolicies = mcp.NewTool("list_policies",
	mcp.WithDescription("List the policies an account holds."),
	mcp.WithString("address",
		mcp.Required(),
		mcp.Description("The policyholder's address (e.g. '0x1234...')")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum policies to return (default 50)")),
)

var ToolGetClaim = mcp.NewTool("get_claim",
	mcp.WithDescription(
		"Look up a pending claim payout by id. Claims wait out a cooldown before they can be withdrawn."),
	mcp.WithNumber("claim_id",
		mcp.Required(),
		mcp.Description("The claim id (the id of the policy it came from)")),
)

var ToolRiskSummary = mcp.NewTool("risk_summary",
	mcp.WithDescription(
		"Summarize the protocol's capital and exposure: pool assets, active cover, minimum capital requirement, "+
			"and per-strategy allocation."),
)

var ToolRecentEvents = mcp.NewTool("recent_events",
	mcp.WithDescription("Show recent protocol events such as PolicyCreated or ClaimReceived."),
	mcp.WithString("name",
		mcp.Description("Only show events with this name")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum events to return (default 20)")),
)

var ToolWithdrawClaim = mcp.NewTool("withdraw_claim",
	mcp.WithDescription(
		"Withdraw a claim payout to the configured account once its cooldown has elapsed. "+
			"Requires the server to be started with a signing key."),
	mcp.WithNumber("claim_id",
		mcp.Required(),
		mcp.Description("The claim id")),
)
