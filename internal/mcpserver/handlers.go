package mcpserver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mbd888/paymo/internal/classifier"
	"github.com/mbd888/paymo/internal/payment"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *Client
	now    func() time.Time
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *Client) *Handlers {
	return &Handlers{client: client, now: time.Now}
}

// HandleClassifyPayment builds a payment from the arguments and classifies it.
func (h *Handlers) HandleClassifyPayment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	payer := strings.TrimSpace(req.GetString("payer", ""))
	payee := strings.TrimSpace(req.GetString("payee", ""))
	if payer == "" || payee == "" {
		return mcp.NewToolResultError("payer and payee are required"), nil
	}

	amount, err := payment.ParseAmount(req.GetString("amount", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid amount: %v", err)), nil
	}

	ts := h.now().UTC()
	if raw := req.GetString("timestamp", ""); raw != "" {
		ts, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return mcp.NewToolResultError("timestamp must be RFC 3339, e.g. 2016-11-02T09:49:29Z"), nil
		}
	}

	resp, err := h.client.Classify(ctx, payment.Event{
		Timestamp: ts,
		PartyA:    payer,
		PartyB:    payee,
		Amount:    amount,
		Memo:      req.GetString("memo", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Classification failed: %v", err)), nil
	}

	return mcp.NewToolResultText(formatResult(&resp.Result)), nil
}

// HandlePartyDistance reports the hop distance between two parties.
func (h *Handlers) HandlePartyDistance(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a := req.GetString("party_a", "")
	b := req.GetString("party_b", "")
	if a == "" || b == "" {
		return mcp.NewToolResultError("party_a and party_b are required"), nil
	}
	bound := req.GetInt("bound", -1)

	resp, err := h.client.Distance(ctx, a, b, bound)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Distance lookup failed: %v", err)), nil
	}

	pol, err := h.client.Policy(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Policy lookup failed: %v", err)), nil
	}

	var sb strings.Builder
	if resp.Reachable {
		fmt.Fprintf(&sb, "%s and %s are %d hop(s) apart.\n", a, b, resp.Distance)
	} else {
		fmt.Fprintf(&sb, "%s and %s are not connected within %s.\n", a, b, boundText(resp.Bound))
	}
	sb.WriteString("\nTier verdicts:\n")
	for i, v := range resp.Verdicts {
		if i < len(pol.Tiers) {
			fmt.Fprintf(&sb, "  %s (<= %d hops): %s\n", pol.Tiers[i].Name, pol.Tiers[i].Bound, v)
		}
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleEdgeHistory lists the payments recorded between two parties.
func (h *Handlers) HandleEdgeHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a := req.GetString("party_a", "")
	b := req.GetString("party_b", "")
	if a == "" || b == "" {
		return mcp.NewToolResultError("party_a and party_b are required"), nil
	}

	resp, err := h.client.EdgeHistory(ctx, a, b)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("History lookup failed: %v", err)), nil
	}
	if len(resp.Events) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No payments recorded between %s and %s.", a, b)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d payment(s) between %s and %s:\n\n", len(resp.Events), a, b)
	for i, ev := range resp.Events {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, formatEvent(ev))
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandlePartyNeighbors lists a party's direct counterparties.
func (h *Handlers) HandlePartyNeighbors(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	party := req.GetString("party", "")
	if party == "" {
		return mcp.NewToolResultError("party is required"), nil
	}

	resp, err := h.client.Neighbors(ctx, party)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Neighbor lookup failed: %v", err)), nil
	}
	if len(resp.Neighbors) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("%s has no recorded counterparties.", party)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s has %d counterparties: %s",
		party, len(resp.Neighbors), strings.Join(resp.Neighbors, ", "))), nil
}

// HandlePartyVerdicts shows recent classifications involving a party.
func (h *Handlers) HandlePartyVerdicts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	party := req.GetString("party", "")
	if party == "" {
		return mcp.NewToolResultError("party is required"), nil
	}

	page, err := h.client.Verdicts(ctx, party, req.GetInt("limit", 20), req.GetString("cursor", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Verdict lookup failed: %v", err)), nil
	}
	if len(page.Verdicts) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No classifications recorded for %s.", party)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d classification(s) involving %s:\n\n", len(page.Verdicts), party)
	for i, r := range page.Verdicts {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, formatEvent(r.Event))
		fmt.Fprintf(&sb, "   %s\n", verdictSummary(r))
	}
	if page.HasMore {
		fmt.Fprintf(&sb, "\nMore results available. cursor: %s\n", page.NextCursor)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleGraphStats reports the graph size.
func (h *Handlers) HandleGraphStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := h.client.GraphStats(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get graph stats: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Trust graph:\n  Parties: %d\n  Connected pairs: %d\n  Payments: %d\n",
		stats.Nodes, stats.Edges, stats.Events)), nil
}

// HandleTierPolicy lists the configured tiers.
func (h *Handlers) HandleTierPolicy(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pol, err := h.client.Policy(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get policy: %v", err)), nil
	}

	var sb strings.Builder
	sb.WriteString("Trust tiers (a payment is trusted on a tier when the parties are within its hop bound):\n")
	for i, t := range pol.Tiers {
		fmt.Fprintf(&sb, "  %d. %s: <= %d hops\n", i+1, t.Name, t.Bound)
	}
	fmt.Fprintf(&sb, "  %d. %s: unverified when the exact payment was seen before\n", len(pol.Tiers)+1, pol.DuplicateFeature)
	return mcp.NewToolResultText(sb.String()), nil
}

func formatResult(r *classifier.Result) string {
	var sb strings.Builder
	sb.WriteString("Payment classified:\n")
	fmt.Fprintf(&sb, "  %s\n", formatEvent(r.Event))
	if r.Reachable {
		fmt.Fprintf(&sb, "  Distance: %d hop(s)\n", r.Distance)
	} else {
		sb.WriteString("  Distance: not connected within the widest tier\n")
	}
	for _, tv := range r.Tiers {
		fmt.Fprintf(&sb, "  %s (<= %d hops): %s\n", tv.Tier, tv.Bound, tv.Verdict)
	}
	fmt.Fprintf(&sb, "  %s: %s\n", classifier.DuplicateFeature, r.DuplicateVerdict())
	if r.SelfPayment {
		sb.WriteString("  Note: payer and payee are the same party\n")
	}
	return sb.String()
}

func formatEvent(ev payment.Event) string {
	s := fmt.Sprintf("%s  %s -> %s  %s", ev.Timestamp.UTC().Format(time.RFC3339), ev.PartyA, ev.PartyB, ev.Amount)
	if ev.Memo != "" {
		s += fmt.Sprintf("  %q", ev.Memo)
	}
	return s
}

func verdictSummary(r *classifier.Result) string {
	parts := make([]string, 0, len(r.Tiers)+1)
	for _, tv := range r.Tiers {
		parts = append(parts, tv.Tier+"="+string(tv.Verdict))
	}
	parts = append(parts, classifier.DuplicateFeature+"="+string(r.DuplicateVerdict()))
	return strings.Join(parts, " ")
}

func boundText(bound int) string {
	if bound <= 0 {
		return "the whole graph"
	}
	return fmt.Sprintf("%d hops", bound)
}

