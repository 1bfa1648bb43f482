package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the paymo MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolClassifyPayment = mcp.NewTool("classify_payment",
	mcp.WithDescription(
		"Classify a new payment between two parties against the trust graph. "+
			"Returns one verdict per trust tier (trusted or unverified) plus a duplicate check. "+
			"The payment is added to the graph, so later checks see it."),
	mcp.WithString("payer",
		mcp.Required(),
		mcp.Description("ID of the paying party")),
	mcp.WithString("payee",
		mcp.Required(),
		mcp.Description("ID of the receiving party")),
	mcp.WithString("amount",
		mcp.Required(),
		mcp.Description("Decimal amount, e.g. '25.32'")),
	mcp.WithString("memo",
		mcp.Description("Free-text payment message")),
	mcp.WithString("timestamp",
		mcp.Description("RFC 3339 time of the payment. Defaults to now.")),
)

var ToolPartyDistance = mcp.NewTool("party_distance",
	mcp.WithDescription(
		"Find how many payment hops separate two parties without recording anything. "+
			"Also shows which trust tiers a payment between them would pass."),
	mcp.WithString("party_a",
		mcp.Required(),
		mcp.Description("First party ID")),
	mcp.WithString("party_b",
		mcp.Required(),
		mcp.Description("Second party ID")),
	mcp.WithNumber("bound",
		mcp.Description("Maximum hops to search. Omit for the widest tier; 0 searches the whole graph.")),
)

var ToolEdgeHistory = mcp.NewTool("edge_history",
	mcp.WithDescription(
		"List every payment recorded between two parties, in either direction, oldest first."),
	mcp.WithString("party_a",
		mcp.Required(),
		mcp.Description("First party ID")),
	mcp.WithString("party_b",
		mcp.Required(),
		mcp.Description("Second party ID")),
)

var ToolPartyNeighbors = mcp.NewTool("party_neighbors",
	mcp.WithDescription(
		"List the parties that have paid or been paid by the given party."),
	mcp.WithString("party",
		mcp.Required(),
		mcp.Description("Party ID")),
)

var ToolPartyVerdicts = mcp.NewTool("party_verdicts",
	mcp.WithDescription(
		"Show recent classification results involving a party, newest first."),
	mcp.WithString("party",
		mcp.Required(),
		mcp.Description("Party ID")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum results to return (default 20)")),
	mcp.WithString("cursor",
		mcp.Description("Cursor from a previous call to fetch the next page")),
)

var ToolGraphStats = mcp.NewTool("graph_stats",
	mcp.WithDescription(
		"Get the size of the trust graph: parties, connected pairs, and recorded payments."),
)

var ToolTierPolicy = mcp.NewTool("tier_policy",
	mcp.WithDescription(
		"Show the trust tiers and the hop bound each one accepts."),
)
