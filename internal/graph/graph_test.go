package graph

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/paymo/internal/payment"
)

var t0 = time.Date(2016, 11, 1, 17, 38, 25, 0, time.UTC)

func pay(a, b string) payment.Event {
	return payment.Event{Timestamp: t0, PartyA: a, PartyB: b, Amount: payment.MustParseAmount("10"), Memo: "lunch"}
}

// chain builds p0-p1-...-pn.
func chain(n int) *Graph {
	g := New()
	for i := 0; i < n; i++ {
		g.AddEvent(pay(fmt.Sprintf("p%d", i), fmt.Sprintf("p%d", i+1)))
	}
	return g
}

func TestAddEventCreatesNodesAndEdge(t *testing.T) {
	g := New()
	assert.False(t, g.HasNode("A"))

	g.AddEvent(pay("A", "B"))

	assert.True(t, g.HasNode("A"))
	assert.True(t, g.HasNode("B"))
	assert.True(t, g.HasEdge("A", "B"))
	assert.True(t, g.HasEdge("B", "A"), "edges are undirected")
	assert.Equal(t, Stats{Nodes: 2, Edges: 1, Events: 1}, g.Stats())
}

func TestParallelPaymentsCollapseOntoOneEdge(t *testing.T) {
	g := New()
	first := pay("A", "B")
	second := pay("B", "A")
	second.Memo = "rent"

	g.AddEvent(first)
	g.AddEvent(second)
	g.AddEvent(first)

	history := g.EventsOn("B", "A")
	require.Len(t, history, 3)
	assert.True(t, history[0].Equal(first))
	assert.True(t, history[1].Equal(second))
	assert.True(t, history[2].Equal(first), "history is not deduplicated")
	assert.Equal(t, Stats{Nodes: 2, Edges: 1, Events: 3}, g.Stats())
	assert.Equal(t, 1, g.Degree("A"))
}

func TestEventsOnMissingEdge(t *testing.T) {
	g := chain(2)
	assert.Empty(t, g.EventsOn("p0", "p2"))
	assert.Empty(t, g.EventsOn("nobody", "p0"))
}

func TestEventsOnReturnsCopy(t *testing.T) {
	g := New()
	g.AddEvent(pay("A", "B"))

	history := g.EventsOn("A", "B")
	history[0].Memo = "tampered"

	assert.Equal(t, "lunch", g.EventsOn("A", "B")[0].Memo)
}

func TestOccurrences(t *testing.T) {
	g := New()
	ev := pay("A", "B")
	assert.Equal(t, 0, g.Occurrences(ev))

	g.AddEvent(ev)
	g.AddEvent(ev)
	other := ev
	other.Timestamp = ev.Timestamp.Add(time.Minute)
	g.AddEvent(other)

	assert.Equal(t, 2, g.Occurrences(ev))
	assert.Equal(t, 1, g.Occurrences(other))
}

func TestSelfPaymentIsRecordedButNotAdjacent(t *testing.T) {
	g := New()
	g.AddEvent(pay("A", "A"))

	assert.True(t, g.HasNode("A"))
	assert.True(t, g.HasEdge("A", "A"))
	assert.Len(t, g.EventsOn("A", "A"), 1)
	assert.Empty(t, g.Neighbors("A"))
	assert.Equal(t, 0, g.Degree("A"))
	assert.Equal(t, Distance(0), g.Distance("A", "A", 4))
}

func TestNeighborsSorted(t *testing.T) {
	g := New()
	g.AddEvent(pay("hub", "c"))
	g.AddEvent(pay("a", "hub"))
	g.AddEvent(pay("hub", "b"))
	assert.Equal(t, []string{"a", "b", "c"}, g.Neighbors("hub"))
}

func TestDistanceBasics(t *testing.T) {
	g := chain(6) // p0..p6

	tests := []struct {
		name  string
		a, b  string
		bound int
		want  Distance
	}{
		{"same party", "p3", "p3", 4, 0},
		{"same unknown party", "ghost", "ghost", 4, 0},
		{"direct", "p0", "p1", 4, 1},
		{"two hops", "p0", "p2", 4, 2},
		{"at bound", "p0", "p4", 4, 4},
		{"beyond bound", "p0", "p5", 4, Unreachable},
		{"unbounded", "p0", "p6", 0, 6},
		{"unknown party", "p0", "ghost", 4, Unreachable},
		{"both unknown", "ghost", "phantom", 4, Unreachable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, g.Distance(tt.a, tt.b, tt.bound))
		})
	}
}

func TestDistanceDisconnectedComponents(t *testing.T) {
	g := New()
	g.AddEvent(pay("A", "B"))
	g.AddEvent(pay("C", "D"))
	assert.Equal(t, Unreachable, g.Distance("A", "D", 4))
	assert.Equal(t, Unreachable, g.Distance("A", "D", 0))
}

func TestDistancePicksShortestOfSeveralPaths(t *testing.T) {
	g := chain(5) // p0..p5 is 5 hops
	g.AddEvent(pay("p0", "shortcut"))
	g.AddEvent(pay("shortcut", "p5"))
	assert.Equal(t, Distance(2), g.Distance("p0", "p5", 4))
	assert.Equal(t, Distance(2), g.Distance("p5", "p0", 4))
}

func TestDistanceUnbalancedFrontiers(t *testing.T) {
	// A star around "hub" makes one side's frontier much larger than the other.
	g := New()
	for i := 0; i < 50; i++ {
		g.AddEvent(pay("hub", fmt.Sprintf("leaf%d", i)))
	}
	g.AddEvent(pay("leaf7", "x"))
	g.AddEvent(pay("x", "y"))

	assert.Equal(t, Distance(3), g.Distance("hub", "y", 4))
	assert.Equal(t, Distance(4), g.Distance("leaf3", "y", 4))
	assert.Equal(t, Unreachable, g.Distance("leaf3", "y", 3))
}

func TestDistanceStringer(t *testing.T) {
	assert.Equal(t, "3", Distance(3).String())
	assert.Equal(t, "unreachable", Unreachable.String())
	assert.False(t, Unreachable.Reachable())
	assert.True(t, Distance(0).Reachable())
}

// bfsDistance is a plain single-source BFS used as a reference.
func bfsDistance(g *Graph, a, b string) Distance {
	if a == b {
		return 0
	}
	if !g.HasNode(a) || !g.HasNode(b) {
		return Unreachable
	}
	dist := map[string]int{a: 0}
	queue := []string{a}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, n := range g.Neighbors(cur) {
			if _, ok := dist[n]; ok {
				continue
			}
			dist[n] = dist[cur] + 1
			if n == b {
				return Distance(dist[n])
			}
			queue = append(queue, n)
		}
	}
	return Unreachable
}

func randomGraph(r *rand.Rand, nodes, edges int) *Graph {
	g := New()
	for i := 0; i < edges; i++ {
		a := fmt.Sprintf("n%d", r.Intn(nodes))
		b := fmt.Sprintf("n%d", r.Intn(nodes))
		g.AddEvent(pay(a, b))
	}
	return g
}

func TestDistanceMatchesReferenceBFS(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for round := 0; round < 20; round++ {
		g := randomGraph(r, 60, 70)
		for q := 0; q < 50; q++ {
			a := fmt.Sprintf("n%d", r.Intn(60))
			b := fmt.Sprintf("n%d", r.Intn(60))
			want := bfsDistance(g, a, b)

			assert.Equal(t, want, g.Distance(a, b, 0), "unbounded %s-%s", a, b)

			bounded := want
			if want > 4 {
				bounded = Unreachable
			}
			assert.Equal(t, bounded, g.Distance(a, b, 4), "bounded %s-%s", a, b)
		}
	}
}

func TestDistanceSymmetric(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	g := randomGraph(r, 40, 50)
	for i := 0; i < 40; i++ {
		for j := 0; j < 40; j++ {
			a, b := fmt.Sprintf("n%d", i), fmt.Sprintf("n%d", j)
			require.Equal(t, g.Distance(a, b, 4), g.Distance(b, a, 4), "%s-%s", a, b)
		}
	}
}

func TestDistanceMonotoneUnderGrowth(t *testing.T) {
	r := rand.New(rand.NewSource(99))
	g := New()
	queries := [][2]string{}
	for i := 0; i < 30; i++ {
		queries = append(queries, [2]string{fmt.Sprintf("n%d", r.Intn(40)), fmt.Sprintf("n%d", r.Intn(40))})
	}

	prev := make([]Distance, len(queries))
	for i := range prev {
		prev[i] = Unreachable
	}

	for step := 0; step < 80; step++ {
		g.AddEvent(pay(fmt.Sprintf("n%d", r.Intn(40)), fmt.Sprintf("n%d", r.Intn(40))))
		for i, q := range queries {
			d := g.Distance(q[0], q[1], 0)
			if prev[i].Reachable() {
				require.True(t, d.Reachable(), "pair %v became unreachable", q)
				require.LessOrEqual(t, d, prev[i], "distance grew for %v", q)
			}
			prev[i] = d
		}
	}
}

func BenchmarkDistanceBounded(b *testing.B) {
	r := rand.New(rand.NewSource(1))
	g := randomGraph(r, 20000, 60000)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		g.Distance(fmt.Sprintf("n%d", r.Intn(20000)), fmt.Sprintf("n%d", r.Intn(20000)), 4)
	}
}
