// Package classifier runs the trust-graph triage for payment requests.
//
// Historical payments are loaded into the graph without classification.
// Each streamed payment is then handled in a fixed order: the distance
// between payer and payee is measured on the graph as it stood before the
// payment, the tier policy turns that distance into verdicts, the payment is
// recorded, and only then is it checked against its edge's history for
// duplicates. Classification never sees the edge its own payment creates;
// duplicate detection always does.
package classifier

import (
	"context"
	"time"

	"github.com/mbd888/paymo/internal/graph"
	"github.com/mbd888/paymo/internal/pagination"
	"github.com/mbd888/paymo/internal/payment"
	"github.com/mbd888/paymo/internal/policy"
)

// DuplicateFeature names the duplicate verdict appended after the tiers.
const DuplicateFeature = "duplicate"

// TierVerdict is one tier's outcome for one payment.
type TierVerdict struct {
	Tier    string         `json:"tier"`
	Bound   int            `json:"bound"`
	Verdict policy.Verdict `json:"verdict"`
}

// Result is the classification of one streamed payment.
type Result struct {
	ID          string         `json:"id"`
	Sequence    uint64         `json:"sequence"`
	Event       payment.Event  `json:"event"`
	Distance    graph.Distance `json:"distance"`
	Reachable   bool           `json:"reachable"`
	Tiers       []TierVerdict  `json:"tiers"`
	Duplicate   bool           `json:"duplicate"`
	SelfPayment bool           `json:"selfPayment"`
	EvaluatedAt time.Time      `json:"evaluatedAt"`
}

// DuplicateVerdict is unverified for a repeated payment and trusted otherwise.
func (r *Result) DuplicateVerdict() policy.Verdict {
	if r.Duplicate {
		return policy.Unverified
	}
	return policy.Trusted
}

// Verdicts returns the tier verdicts in tier order followed by the duplicate
// verdict. The shape is the same for every result of one engine.
func (r *Result) Verdicts() []policy.Verdict {
	out := make([]policy.Verdict, 0, len(r.Tiers)+1)
	for _, tv := range r.Tiers {
		out = append(out, tv.Verdict)
	}
	return append(out, r.DuplicateVerdict())
}

// Involves reports whether party paid or was paid in this result's event.
func (r *Result) Involves(party string) bool {
	return r.Event.PartyA == party || r.Event.PartyB == party
}

func (r *Result) clone() *Result {
	c := *r
	c.Tiers = append([]TierVerdict(nil), r.Tiers...)
	return &c
}

// LoadStats summarizes a batch load.
type LoadStats struct {
	Loaded int         `json:"loaded"`
	Graph  graph.Stats `json:"graph"`
}

// Source yields payment events one at a time and returns io.EOF when done.
type Source interface {
	Next(ctx context.Context) (payment.Event, error)
}

// Store persists classification results for the audit trail.
type Store interface {
	Record(ctx context.Context, result *Result) error
	// ListByParty returns results involving party, newest first, strictly
	// older than cursor when one is given.
	ListByParty(ctx context.Context, party string, cursor *pagination.Cursor, limit int) ([]*Result, error)
}

// Publisher receives every emitted result, in emission order. Implementations
// must not block.
type Publisher interface {
	PublishResult(result *Result)
}

// LoadPublisher is implemented by publishers that also announce batch loads.
type LoadPublisher interface {
	PublishLoad(stats LoadStats)
}

// Publishers fans results and load announcements out to several publishers.
type Publishers []Publisher

// PublishResult forwards result to every publisher. Each one gets its own copy.
func (ps Publishers) PublishResult(result *Result) {
	for _, p := range ps {
		p.PublishResult(result.clone())
	}
}

// PublishLoad forwards stats to the publishers that announce loads.
func (ps Publishers) PublishLoad(stats LoadStats) {
	for _, p := range ps {
		if lp, ok := p.(LoadPublisher); ok {
			lp.PublishLoad(stats)
		}
	}
}
