package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *SafepayClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *SafepayClient) *Handlers {
	return &Handlers{client: client}
}

// HandleListEscrows lists escrows by role.
func (h *Handlers) HandleListEscrows(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	role := req.GetString("role", "")
	switch role {
	case "buyer", "seller", "arbiter":
	default:
		return mcp.NewToolResultError("role must be buyer, seller or arbiter"), nil
	}

	raw, err := h.client.ListEscrows(ctx, role)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list escrows: %v", err)), nil
	}

	text, err := formatEscrowList(raw, fmt.Sprintf("Escrows where you are the %s", role))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse escrows: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleListPendingEscrows lists escrows waiting on the buyer's approval.
func (h *Handlers) HandleListPendingEscrows(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ListPendingEscrows(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list pending escrows: %v", err)), nil
	}

	text, err := formatEscrowList(raw, "Escrows waiting for your approval")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse escrows: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleGetEscrow returns one escrow.
func (h *Handlers) HandleGetEscrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	escrowID := req.GetString("escrow_id", "")
	if escrowID == "" {
		return mcp.NewToolResultError("escrow_id is required"), nil
	}

	raw, err := h.client.GetEscrow(ctx, escrowID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get escrow: %v", err)), nil
	}

	var resp struct {
		State  string         `json:"state"`
		Escrow map[string]any `json:"escrow"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Escrow == nil {
		return mcp.NewToolResultText(formatJSON(raw)), nil
	}

	var sb strings.Builder
	writeEscrow(&sb, resp.Escrow)
	fmt.Fprintf(&sb, "State: %s\n", resp.State)
	if c := getString(resp.Escrow, "contractAddress"); c != "" {
		fmt.Fprintf(&sb, "Contract: %s\n", c)
	}
	if by := getString(resp.Escrow, "disputeRaisedBy"); by != "" {
		fmt.Fprintf(&sb, "Dispute raised by: %s\n", by)
	}
	if winner := getString(resp.Escrow, "resolvedInFavorOf"); winner != "" {
		fmt.Fprintf(&sb, "Resolved in favor of: %s\n", winner)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleApproveEscrow approves an escrow as buyer or seller.
func (h *Handlers) HandleApproveEscrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	escrowID := req.GetString("escrow_id", "")
	if escrowID == "" {
		return mcp.NewToolResultError("escrow_id is required"), nil
	}
	role := req.GetString("role", "")
	if role != "buyer" && role != "seller" {
		return mcp.NewToolResultError("role must be buyer or seller"), nil
	}

	raw, err := h.client.ApproveEscrow(ctx, escrowID, role)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to approve escrow: %v", err)), nil
	}
	return mcp.NewToolResultText(formatAction(raw, escrowID)), nil
}

// HandleRaiseDispute raises a dispute on an escrow.
func (h *Handlers) HandleRaiseDispute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	escrowID := req.GetString("escrow_id", "")
	if escrowID == "" {
		return mcp.NewToolResultError("escrow_id is required"), nil
	}

	raw, err := h.client.RaiseDispute(ctx, escrowID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to raise dispute: %v", err)), nil
	}
	return mcp.NewToolResultText(formatAction(raw, escrowID) +
		"The arbiter will decide who receives the funds.\n"), nil
}

// HandleScreenPayment runs the risk policy for a proposed payment.
func (h *Handlers) HandleScreenPayment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	destination := req.GetString("destination", "")
	if destination == "" {
		return mcp.NewToolResultError("destination is required"), nil
	}
	amount := req.GetFloat("amount", 0)
	if amount <= 0 || amount != math.Trunc(amount) || amount > math.MaxInt64 {
		return mcp.NewToolResultError("amount must be a positive whole number"), nil
	}

	raw, err := h.client.ScreenPayment(ctx, destination, int64(amount))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to screen payment: %v", err)), nil
	}

	text, err := formatAssessment(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse assessment: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleReportAddress reports an address.
func (h *Handlers) HandleReportAddress(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address := req.GetString("address", "")
	if address == "" {
		return mcp.NewToolResultError("address is required"), nil
	}
	reason := req.GetString("reason", "")

	if _, err := h.client.ReportAddress(ctx, address, reason); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to report address: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Reported %s.\nPayments to this address will now require confirmation.", address)), nil
}

// --- Formatting helpers ---

func formatEscrowList(raw json.RawMessage, title string) (string, error) {
	var resp struct {
		Escrows []map[string]any `json:"escrows"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if len(resp.Escrows) == 0 {
		return "No escrows found.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (%d):\n\n", title, len(resp.Escrows))
	for i, e := range resp.Escrows {
		fmt.Fprintf(&sb, "%d. ", i+1)
		writeEscrow(&sb, e)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func writeEscrow(sb *strings.Builder, e map[string]any) {
	fmt.Fprintf(sb, "%s: %s from %s to %s\n",
		getString(e, "id"), getString(e, "amount"), getString(e, "buyer"), getString(e, "seller"))
	if arb := getString(e, "arbiter"); arb != "" {
		fmt.Fprintf(sb, "   Arbiter: %s\n", arb)
	}
	if memo := getString(e, "memo"); memo != "" {
		fmt.Fprintf(sb, "   Memo: %s\n", memo)
	}
	fmt.Fprintf(sb, "   Approved: buyer=%t seller=%t", getBool(e, "buyerApproved"), getBool(e, "sellerApproved"))
	switch {
	case getBool(e, "fundsReleased"):
		sb.WriteString(", released")
	case getString(e, "status") == "cancelled":
		sb.WriteString(", cancelled")
	case getBool(e, "disputeRaised"):
		sb.WriteString(", disputed")
	}
	sb.WriteString("\n")
}

func formatAction(raw json.RawMessage, escrowID string) string {
	var resp map[string]any
	if err := json.Unmarshal(raw, &resp); err != nil {
		return formatJSON(raw)
	}
	var sb strings.Builder
	if msg := getString(resp, "message"); msg != "" {
		sb.WriteString(msg + "\n")
	}
	fmt.Fprintf(&sb, "Escrow ID: %s\n", escrowID)
	if tx := getString(resp, "transactionHash"); tx != "" {
		fmt.Fprintf(&sb, "Transaction: %s\n", tx)
	}
	return sb.String()
}

func formatAssessment(raw json.RawMessage) (string, error) {
	var resp struct {
		Assessment map[string]any `json:"assessment"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	a := resp.Assessment
	if a == nil {
		return "", fmt.Errorf("response has no assessment")
	}
	if !getBool(a, "requiresConfirmation") {
		return fmt.Sprintf("No risk found for %s to %s. Safe to send.",
			getString(a, "amount"), getString(a, "destination")), nil
	}

	var sb strings.Builder
	sb.WriteString("WARNING: this payment requires confirmation.\n")
	if getBool(a, "reported") {
		sb.WriteString("- The destination has been reported.\n")
	}
	if getBool(a, "aboveThreshold") {
		sb.WriteString("- The amount is above the safe transaction limit.\n")
	}
	if msg := getString(a, "message"); msg != "" {
		fmt.Fprintf(&sb, "\n%s\n", msg)
	}
	return sb.String(), nil
}

func formatJSON(raw json.RawMessage) string {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return string(raw)
	}
	return pretty.String()
}

// getString extracts a string value from a map, trying multiple key names.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			if f, ok := v.(float64); ok {
				return fmt.Sprintf("%.0f", f)
			}
		}
	}
	return ""
}

func getBool(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}
