package graph

import (
	"math"
	"strconv"
)

// Distance is a shortest-path length in edges, or Unreachable.
type Distance int

// Unreachable is reported when no path exists, when either party is unknown,
// or when the shortest path is longer than the search bound.
const Unreachable Distance = -1

// Reachable reports whether d is a real path length.
func (d Distance) Reachable() bool { return d >= 0 }

func (d Distance) String() string {
	if !d.Reachable() {
		return "unreachable"
	}
	return strconv.Itoa(int(d))
}

// Distance returns the number of edges on the shortest path between a and b.
//
// The search is a bidirectional BFS that always grows the smaller frontier and
// gives up once no path of at most bound edges can exist. bound <= 0 searches
// the whole component.
//
// Distance(a, a) is 0 even for a party the graph has never seen.
func (g *Graph) Distance(a, b string, bound int) Distance {
	if a == b {
		return 0
	}
	if !g.HasNode(a) || !g.HasNode(b) {
		return Unreachable
	}
	if bound <= 0 {
		bound = math.MaxInt
	}

	seenA := map[string]int{a: 0}
	seenB := map[string]int{b: 0}
	frontA := []string{a}
	frontB := []string{b}
	depthA, depthB := 0, 0

	// Invariant: while the searches have not met, the shortest path is longer
	// than depthA+depthB.
	for len(frontA) > 0 && len(frontB) > 0 {
		if depthA+depthB >= bound {
			return Unreachable
		}

		var met Distance
		if len(frontA) <= len(frontB) {
			frontA, met = g.expand(frontA, depthA, seenA, seenB)
			depthA++
		} else {
			frontB, met = g.expand(frontB, depthB, seenB, seenA)
			depthB++
		}

		if met.Reachable() {
			if int(met) > bound {
				return Unreachable
			}
			return met
		}
	}
	return Unreachable
}

// expand advances one BFS level from front (all at depth). It returns the next
// frontier and, if the level touched the other search, the shortest meeting
// length found on the whole level.
func (g *Graph) expand(front []string, depth int, seen, other map[string]int) ([]string, Distance) {
	met := Unreachable
	var next []string

	for _, u := range front {
		for v := range g.adj[u] {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = depth + 1
			if dv, ok := other[v]; ok {
				if l := Distance(depth + 1 + dv); !met.Reachable() || l < met {
					met = l
				}
			}
			next = append(next, v)
		}
	}
	return next, met
}
