package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all escrow and risk tools registered.
func NewMCPServer(cfg Config, version string) *server.MCPServer {
	s := server.NewMCPServer("safepay", version)
	h := NewHandlers(NewSafepayClient(cfg))

	s.AddTool(ToolListEscrows, h.HandleListEscrows)
	s.AddTool(ToolListPendingEscrows, h.HandleListPendingEscrows)
	s.AddTool(ToolGetEscrow, h.HandleGetEscrow)
	s.AddTool(ToolApproveEscrow, h.HandleApproveEscrow)
	s.AddTool(ToolRaiseDispute, h.HandleRaiseDispute)
	s.AddTool(ToolScreenPayment, h.HandleScreenPayment)
	s.AddTool(ToolReportAddress, h.HandleReportAddress)

	return s
}
