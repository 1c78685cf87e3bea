package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the payment MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolListEscrows = mcp.NewTool("list_escrows",
	mcp.WithDescription(
		"List escrows where your wallet is the buyer, seller or arbiter. "+
			"Shows amount, counterparty, approvals and lifecycle state."),
	mcp.WithString("role",
		mcp.Required(),
		mcp.Description("Which side of the escrow to list"),
		mcp.Enum("buyer", "seller", "arbiter")),
)

var ToolListPendingEscrows = mcp.NewTool("list_pending_escrows",
	mcp.WithDescription(
		"List escrows you funded as buyer that still wait for your approval. "+
			"Approve once the goods or service were delivered."),
)

var ToolGetEscrow = mcp.NewTool("get_escrow",
	mcp.WithDescription("Get the full record and current state of one escrow."),
	mcp.WithString("escrow_id",
		mcp.Required(),
		mcp.Description("The escrow ID (e.g. 'esc_...')")),
)

var ToolApproveEscrow = mcp.NewTool("approve_escrow",
	mcp.WithDescription(
		"Approve an escrow as buyer or seller. "+
			"Funds can be released to the seller once both parties approved."),
	mcp.WithString("escrow_id",
		mcp.Required(),
		mcp.Description("The escrow ID to approve")),
	mcp.WithString("role",
		mcp.Required(),
		mcp.Description("The role you approve as"),
		mcp.Enum("buyer", "seller")),
)

var ToolRaiseDispute = mcp.NewTool("raise_dispute",
	mcp.WithDescription(
		"Raise a dispute on an escrow that has an arbiter. "+
			"The arbiter then decides whether the buyer or the seller receives the funds."),
	mcp.WithString("escrow_id",
		mcp.Required(),
		mcp.Description("The escrow ID to dispute")),
)

var ToolScreenPayment = mcp.NewTool("screen_payment",
	mcp.WithDescription(
		"Check a payment against the reported-address registry and the safe amount limit "+
			"before sending it. Nothing is submitted."),
	mcp.WithString("destination",
		mcp.Required(),
		mcp.Description("Destination address")),
	mcp.WithNumber("amount",
		mcp.Required(),
		mcp.Description("Amount in minor units (a positive whole number)")),
)

var ToolReportAddress = mcp.NewTool("report_address",
	mcp.WithDescription(
		"Report an address for suspicious activity. "+
			"Future payments to it will require explicit confirmation."),
	mcp.WithString("address",
		mcp.Required(),
		mcp.Description("The address to report")),
	mcp.WithString("reason",
		mcp.Description("What happened")),
)
