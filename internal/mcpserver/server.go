package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all coverage tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("solace-coverage", "1.0.0")
	h := NewHandlers(NewClient(cfg))

	s.AddTool(ToolListProducts, h.HandleListProducts)
	s.AddTool(ToolGetQuote, h.HandleGetQuote)
	s.AddTool(ToolGetPolicy, h.HandleGetPolicy)
	s.AddTool(ToolListPolicies, h.HandleListPolicies)
	s.AddTool(ToolGetClaim, h.HandleGetClaim)
	s.AddTool(ToolRiskSummary, h.HandleRiskSummary)
	s.AddTool(ToolRecentEvents, h.HandleRecentEvents)
	if cfg.Key != nil {
		s.AddTool(ToolWithdrawClaim, h.HandleWithdrawClaim)
	}

	return s
}
