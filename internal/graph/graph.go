// Package graph holds the undirected trust graph built from payment history.
//
// Nodes are party IDs. An edge between two parties exists once at least one
// payment between them has been recorded, and carries every recorded event in
// insertion order. The graph only grows: nothing is ever removed.
//
// Graph is not safe for concurrent use. The classifier owns the single
// instance and serializes access to it.
package graph

import (
	"sort"

	"github.com/mbd888/paymo/internal/payment"
)

// pair is an unordered party pair normalized so that a <= b.
type pair struct{ a, b string }

func pairOf(a, b string) pair {
	if a > b {
		a, b = b, a
	}
	return pair{a, b}
}

// Stats summarizes the graph size.
type Stats struct {
	Nodes  int `json:"nodes"`
	Edges  int `json:"edges"`
	Events int `json:"events"`
}

// Graph is an adjacency-map graph of parties with per-edge payment history.
type Graph struct {
	adj    map[string]map[string]struct{}
	edges  map[pair][]payment.Event
	events int
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		adj:   make(map[string]map[string]struct{}),
		edges: make(map[pair][]payment.Event),
	}
}

// AddEvent records ev on the edge between its two parties, creating the nodes
// and the edge on first sight.
//
// A self payment is kept on a degenerate self edge so its history (and
// duplicate detection) works, but the party is never its own neighbor and the
// self edge plays no part in path search.
func (g *Graph) AddEvent(ev payment.Event) {
	g.ensureNode(ev.PartyA)
	g.ensureNode(ev.PartyB)
	if ev.PartyA != ev.PartyB {
		g.adj[ev.PartyA][ev.PartyB] = struct{}{}
		g.adj[ev.PartyB][ev.PartyA] = struct{}{}
	}

	k := pairOf(ev.PartyA, ev.PartyB)
	g.edges[k] = append(g.edges[k], ev)
	g.events++
}

func (g *Graph) ensureNode(id string) {
	if _, ok := g.adj[id]; !ok {
		g.adj[id] = make(map[string]struct{})
	}
}

// EventsOn returns a copy of the history recorded between a and b, in
// insertion order. The result is empty when no edge exists.
func (g *Graph) EventsOn(a, b string) []payment.Event {
	history := g.edges[pairOf(a, b)]
	out := make([]payment.Event, len(history))
	copy(out, history)
	return out
}

// Occurrences counts how many times ev has been recorded on its own edge.
func (g *Graph) Occurrences(ev payment.Event) int {
	n := 0
	for _, recorded := range g.edges[pairOf(ev.PartyA, ev.PartyB)] {
		if recorded.Equal(ev) {
			n++
		}
	}
	return n
}

// HasNode reports whether id has been seen.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.adj[id]
	return ok
}

// HasEdge reports whether any payment between a and b has been recorded.
func (g *Graph) HasEdge(a, b string) bool {
	_, ok := g.edges[pairOf(a, b)]
	return ok
}

// Neighbors returns the parties directly connected to id, sorted.
func (g *Graph) Neighbors(id string) []string {
	out := make([]string, 0, len(g.adj[id]))
	for n := range g.adj[id] {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Degree is the number of distinct counterparties of id.
func (g *Graph) Degree(id string) int {
	return len(g.adj[id])
}

// Stats returns node, edge and event counts. Self edges count as edges.
func (g *Graph) Stats() Stats {
	return Stats{
		Nodes:  len(g.adj),
		Edges:  len(g.edges),
		Events: g.events,
	}
}
