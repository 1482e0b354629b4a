package graph

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/bd/internal/bderr"
	"github.com/joescharf/bd/internal/models"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func node(id string, status models.IssueStatus, priority int, updatedOffset time.Duration) *Node {
	return &Node{
		ID:        id,
		Title:     "issue " + id,
		Status:    status,
		Priority:  priority,
		UpdatedAt: t0.Add(updatedOffset),
	}
}

func blocks(from, to string) Edge {
	return Edge{From: from, To: to, Type: models.LinkBlocks}
}

func TestWouldCycle(t *testing.T) {
	// x blocks y, y blocks z
	s := NewSnapshot(
		[]*Node{node("x", models.StatusOpen, 2, 0), node("y", models.StatusOpen, 2, 0), node("z", models.StatusOpen, 2, 0)},
		[]Edge{blocks("x", "y"), blocks("y", "z")},
	)

	// z blocks x closes the loop
	path, cyclic := s.WouldCycle("z", "x")
	require.True(t, cyclic)
	assert.Equal(t, []string{"z", "x", "y", "z"}, path)

	// x blocks z is fine (parallel shortcut, still a DAG)
	_, cyclic = s.WouldCycle("x", "z")
	assert.False(t, cyclic)

	// z blocks y also loops through the existing y → z edge
	_, cyclic = s.WouldCycle("z", "y")
	require.True(t, cyclic)
}

func TestWouldCycle_ShortestPathReported(t *testing.T) {
	// Two routes from b back to a: b→c→a (long) and b→a (short).
	s := NewSnapshot(
		[]*Node{node("a", models.StatusOpen, 2, 0), node("b", models.StatusOpen, 2, 0), node("c", models.StatusOpen, 2, 0)},
		[]Edge{blocks("b", "c"), blocks("c", "a"), blocks("b", "a")},
	)
	path, cyclic := s.WouldCycle("a", "b")
	require.True(t, cyclic)
	assert.Equal(t, []string{"a", "b", "a"}, path)
}

func TestWouldCycle_SelfEdge(t *testing.T) {
	s := NewSnapshot([]*Node{node("a", models.StatusOpen, 2, 0)}, nil)
	_, cyclic := s.WouldCycle("a", "a")
	assert.True(t, cyclic)
}

func TestReady_Ordering(t *testing.T) {
	// S1: A (p=2), B (p=0), C (p=0, updated later than B) → [C, B, A].
	s := NewSnapshot([]*Node{
		node("aa000001", models.StatusOpen, 2, 0),
		node("bb000001", models.StatusOpen, 0, time.Minute),
		node("cc000001", models.StatusOpen, 0, 2*time.Minute),
	}, nil)

	ready := s.Ready()
	require.Len(t, ready, 3)
	assert.Equal(t, "cc000001", ready[0].ID)
	assert.Equal(t, "bb000001", ready[1].ID)
	assert.Equal(t, "aa000001", ready[2].ID)
}

func TestReady_TieBreakByID(t *testing.T) {
	s := NewSnapshot([]*Node{
		node("b1", models.StatusOpen, 1, 0),
		node("a1", models.StatusOpen, 1, 0),
	}, nil)
	ready := s.Ready()
	require.Len(t, ready, 2)
	assert.Equal(t, "a1", ready[0].ID)
	assert.Equal(t, "b1", ready[1].ID)
}

func TestReady_BlockedPredecessors(t *testing.T) {
	// p blocks q blocks r: only p ready until p closes.
	mk := func(pStatus, qStatus models.IssueStatus) *Snapshot {
		return NewSnapshot([]*Node{
			node("p", pStatus, 2, 0),
			node("q", qStatus, 2, 0),
			node("r", models.StatusOpen, 2, 0),
		}, []Edge{blocks("p", "q"), blocks("q", "r")})
	}

	ids := func(nodes []*Node) []string {
		var out []string
		for _, n := range nodes {
			out = append(out, n.ID)
		}
		return out
	}

	assert.Equal(t, []string{"p"}, ids(mk(models.StatusOpen, models.StatusOpen).Ready()))
	assert.Equal(t, []string{"q"}, ids(mk(models.StatusClosed, models.StatusOpen).Ready()))
	assert.Equal(t, []string{"r"}, ids(NewSnapshot([]*Node{
		node("p", models.StatusClosed, 2, 0),
		node("q", models.StatusClosed, 2, 0),
		node("r", models.StatusOpen, 2, 0),
	}, []Edge{blocks("p", "q"), blocks("q", "r")}).Ready()))
}

func TestReady_StatusFilter(t *testing.T) {
	s := NewSnapshot([]*Node{
		node("open1", models.StatusOpen, 2, 0),
		node("wip1", models.StatusInProgress, 2, 0),
		node("blocked1", models.StatusBlocked, 2, 0),
		node("closed1", models.StatusClosed, 2, 0),
	}, nil)
	ready := s.Ready()
	require.Len(t, ready, 2)
	assert.Equal(t, "open1", ready[0].ID)
	assert.Equal(t, "wip1", ready[1].ID)
}

func TestReady_InProgressBlockerIsUnclosed(t *testing.T) {
	s := NewSnapshot([]*Node{
		node("a", models.StatusInProgress, 2, 0),
		node("b", models.StatusOpen, 2, 0),
	}, []Edge{blocks("a", "b")})
	ready := s.Ready()
	require.Len(t, ready, 1)
	assert.Equal(t, "a", ready[0].ID)
}

func TestAncestorsDescendants(t *testing.T) {
	// a→b→d, a→c→d (→ = blocks)
	s := NewSnapshot([]*Node{
		node("a", models.StatusOpen, 2, 0),
		node("b", models.StatusOpen, 2, 0),
		node("c", models.StatusOpen, 2, 0),
		node("d", models.StatusOpen, 2, 0),
	}, []Edge{blocks("a", "b"), blocks("a", "c"), blocks("b", "d"), blocks("c", "d")})

	ids := func(nodes []*Node) []string {
		var out []string
		for _, n := range nodes {
			out = append(out, n.ID)
		}
		return out
	}

	assert.Equal(t, []string{"a", "b", "c"}, ids(s.Ancestors("d")))
	assert.Equal(t, []string{"b", "c", "d"}, ids(s.Descendants("a")))
	assert.Empty(t, s.Ancestors("a"))
	assert.Empty(t, s.Descendants("d"))
}

func TestClosure_DeepChainNoRecursion(t *testing.T) {
	// A 50k-deep chain would blow a recursive implementation's stack.
	const depth = 50000
	nodes := make([]*Node, depth)
	edges := make([]Edge, 0, depth-1)
	for i := 0; i < depth; i++ {
		nodes[i] = node(fmt.Sprintf("n%06d", i), models.StatusOpen, 2, 0)
		if i > 0 {
			edges = append(edges, blocks(fmt.Sprintf("n%06d", i-1), fmt.Sprintf("n%06d", i)))
		}
	}
	s := NewSnapshot(nodes, edges)
	assert.Len(t, s.Ancestors(fmt.Sprintf("n%06d", depth-1)), depth-1)
	assert.Len(t, s.Descendants("n000000"), depth-1)
}

func TestSwarm_Layers(t *testing.T) {
	// S6: A→B, A→C, B→D, C→D. Swarm = [[A],[B,C],[D]].
	// B has priority 0 so it sorts before C inside the middle layer.
	s := NewSnapshot([]*Node{
		node("a", models.StatusOpen, 2, 0),
		node("b", models.StatusOpen, 0, 0),
		node("c", models.StatusOpen, 1, 0),
		node("d", models.StatusOpen, 2, 0),
	}, []Edge{blocks("a", "b"), blocks("a", "c"), blocks("b", "d"), blocks("c", "d")})

	layers, err := s.Swarm()
	require.NoError(t, err)
	require.Len(t, layers, 3)
	assert.Equal(t, []string{"a"}, layerIDs(layers[0]))
	assert.Equal(t, []string{"b", "c"}, layerIDs(layers[1]))
	assert.Equal(t, []string{"d"}, layerIDs(layers[2]))
}

func TestSwarm_ClosedPredecessorsSatisfied(t *testing.T) {
	s := NewSnapshot([]*Node{
		node("done1", models.StatusClosed, 2, 0),
		node("next1", models.StatusOpen, 2, 0),
	}, []Edge{blocks("done1", "next1")})

	layers, err := s.Swarm()
	require.NoError(t, err)
	require.Len(t, layers, 1)
	assert.Equal(t, []string{"next1"}, layerIDs(layers[0]))
}

func TestSwarm_PartitionInvariant(t *testing.T) {
	// Union of layers = all non-closed issues; layers disjoint; edges go
	// strictly downward.
	s := NewSnapshot([]*Node{
		node("a", models.StatusOpen, 2, 0),
		node("b", models.StatusBlocked, 2, 0),
		node("c", models.StatusInProgress, 2, 0),
		node("z", models.StatusClosed, 2, 0),
	}, []Edge{blocks("a", "c")})

	layers, err := s.Swarm()
	require.NoError(t, err)

	layerOf := map[string]int{}
	total := 0
	for k, layer := range layers {
		for _, n := range layer {
			_, dup := layerOf[n.ID]
			require.False(t, dup, "issue %s in two layers", n.ID)
			layerOf[n.ID] = k
			total++
		}
	}
	assert.Equal(t, 3, total)
	assert.NotContains(t, layerOf, "z")
	assert.Less(t, layerOf["a"], layerOf["c"])
}

func TestSwarm_CorruptGraph(t *testing.T) {
	// A pre-existing cycle can only mean corruption; Swarm must name it.
	s := NewSnapshot([]*Node{
		node("a", models.StatusOpen, 2, 0),
		node("b", models.StatusOpen, 2, 0),
		node("ok", models.StatusOpen, 2, 0),
	}, []Edge{blocks("a", "b"), blocks("b", "a")})

	_, err := s.Swarm()
	require.Error(t, err)
	assert.Equal(t, bderr.CodeGraphCorrupt, bderr.CodeOf(err))
	var e *bderr.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, []string{"a", "b"}, e.Nodes)
}

func layerIDs(layer []*Node) []string {
	var out []string
	for _, n := range layer {
		out = append(out, n.ID)
	}
	return out
}

func TestOrphans(t *testing.T) {
	s := NewSnapshot([]*Node{
		node("lonely1", models.StatusOpen, 2, time.Minute),
		node("lonely2", models.StatusInProgress, 2, 2*time.Minute),
		node("linked1", models.StatusOpen, 2, 0),
		node("linked2", models.StatusOpen, 2, 0),
		node("closedlonely", models.StatusClosed, 2, 0),
		node("blockedlonely", models.StatusBlocked, 2, 0),
	}, []Edge{{From: "linked1", To: "linked2", Type: models.LinkRelatesTo}})

	orphans := s.Orphans()
	require.Len(t, orphans, 2)
	// Most recently updated first.
	assert.Equal(t, "lonely2", orphans[0].ID)
	assert.Equal(t, "lonely1", orphans[1].ID)
}

func TestOrphans_InformationalLinkCounts(t *testing.T) {
	// Any link in any direction disqualifies, including incoming info links.
	s := NewSnapshot([]*Node{
		node("a", models.StatusOpen, 2, 0),
		node("b", models.StatusOpen, 2, 0),
	}, []Edge{{From: "a", To: "b", Type: models.LinkDuplicates}})
	assert.Empty(t, s.Orphans())
}

func TestStale(t *testing.T) {
	s := NewSnapshot([]*Node{
		node("ancient", models.StatusOpen, 2, -40*24*time.Hour),
		node("old", models.StatusInProgress, 2, -31*24*time.Hour),
		node("fresh", models.StatusOpen, 2, 0),
		node("oldclosed", models.StatusClosed, 2, -90*24*time.Hour),
		node("oldblocked", models.StatusBlocked, 2, -90*24*time.Hour),
	}, nil)

	stale := s.Stale(t0.Add(-30 * 24 * time.Hour))
	require.Len(t, stale, 2)
	// Oldest first.
	assert.Equal(t, "ancient", stale[0].ID)
	assert.Equal(t, "old", stale[1].ID)
}

func TestExport_Deterministic(t *testing.T) {
	s := NewSnapshot([]*Node{
		node("b", models.StatusOpen, 1, 0),
		node("a", models.StatusClosed, 0, 0),
	}, []Edge{
		{From: "b", To: "a", Type: models.LinkRelatesTo},
		blocks("a", "b"),
	})

	data := s.Export()
	require.Len(t, data.Nodes, 2)
	assert.Equal(t, "a", data.Nodes[0].ID)
	assert.Equal(t, "b", data.Nodes[1].ID)
	require.Len(t, data.Edges, 2)
	assert.Equal(t, "a", data.Edges[0].From)
	assert.Equal(t, models.LinkBlocks, data.Edges[0].Type)
}
