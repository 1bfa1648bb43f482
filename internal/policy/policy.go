// Package policy maps a trust-graph distance to one verdict per configured tier.
//
// Tiers are an ordered list of distance bounds, strictest first. Tier k is
// trusted exactly when the parties are connected by a path of at most
// bound_k edges. Adding a tier is a configuration change, not a code change.
package policy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mbd888/paymo/internal/graph"
)

// Verdict is the outcome of one tier for one payment.
type Verdict string

const (
	Trusted    Verdict = "trusted"
	Unverified Verdict = "unverified"
)

// Errors
var (
	ErrNoTiers       = errors.New("policy: at least one tier is required")
	ErrInvalidTier   = errors.New("policy: invalid tier")
	ErrTierOrder     = errors.New("policy: tiers must be ordered from strictest to most lenient")
	ErrDuplicateTier = errors.New("policy: duplicate tier name")
)

// Tier is a named distance bound.
type Tier struct {
	Name  string `json:"name" yaml:"name"`
	Bound int    `json:"bound" yaml:"bound"`
}

// DefaultTiers are the three classic triage features: direct friends,
// friends of friends, and the 4th-degree network.
var DefaultTiers = []Tier{
	{Name: "feature1", Bound: 1},
	{Name: "feature2", Bound: 2},
	{Name: "feature3", Bound: 4},
}

// Policy is an immutable, validated tier list. Safe for concurrent use.
type Policy struct {
	tiers []Tier
}

// New validates tiers and builds a Policy.
func New(tiers ...Tier) (*Policy, error) {
	if len(tiers) == 0 {
		return nil, ErrNoTiers
	}

	seen := make(map[string]bool, len(tiers))
	for i, t := range tiers {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: tier[%d] has no name", ErrInvalidTier, i)
		}
		if t.Bound < 0 {
			return nil, fmt.Errorf("%w: tier[%d] %q has negative bound %d", ErrInvalidTier, i, name, t.Bound)
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateTier, name)
		}
		seen[name] = true
		if i > 0 && t.Bound < tiers[i-1].Bound {
			return nil, fmt.Errorf("%w: tier[%d] %q bound %d is below tier[%d] bound %d",
				ErrTierOrder, i, name, t.Bound, i-1, tiers[i-1].Bound)
		}
	}

	p := &Policy{tiers: make([]Tier, len(tiers))}
	for i, t := range tiers {
		p.tiers[i] = Tier{Name: strings.TrimSpace(t.Name), Bound: t.Bound}
	}
	return p, nil
}

// Default returns the policy built from DefaultTiers.
func Default() *Policy {
	p, err := New(DefaultTiers...)
	if err != nil {
		panic(err)
	}
	return p
}

// Tiers returns a copy of the tier list in evaluation order.
func (p *Policy) Tiers() []Tier {
	out := make([]Tier, len(p.tiers))
	copy(out, p.tiers)
	return out
}

// Len is the number of tiers.
func (p *Policy) Len() int { return len(p.tiers) }

// MaxBound is the most lenient bound; no tier distinguishes distances beyond it,
// so proximity searches can stop there.
func (p *Policy) MaxBound() int {
	return p.tiers[len(p.tiers)-1].Bound
}

// Classify returns one verdict per tier, in tier order.
// Unreachable is unverified on every tier; distance 0 (a self payment) is
// trusted on every tier.
func (p *Policy) Classify(d graph.Distance) []Verdict {
	out := make([]Verdict, len(p.tiers))
	for i, t := range p.tiers {
		if d.Reachable() && int(d) <= t.Bound {
			out[i] = Trusted
		} else {
			out[i] = Unverified
		}
	}
	return out
}
