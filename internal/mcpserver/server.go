package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all paymo tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("paymo", "0.1.0")
	h := NewHandlers(NewClient(cfg))

	s.AddTool(ToolClassifyPayment, h.HandleClassifyPayment)
	s.AddTool(ToolPartyDistance, h.HandlePartyDistance)
	s.AddTool(ToolEdgeHistory, h.HandleEdgeHistory)
	s.AddTool(ToolPartyNeighbors, h.HandlePartyNeighbors)
	s.AddTool(ToolPartyVerdicts, h.HandlePartyVerdicts)
	s.AddTool(ToolGraphStats, h.HandleGraphStats)
	s.AddTool(ToolTierPolicy, h.HandleTierPolicy)

	return s
}
