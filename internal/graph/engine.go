package graph

import (
	"sort"
	"time"

	"github.com/joescharf/bd/internal/bderr"
	"github.com/joescharf/bd/internal/models"
)

// WouldCycle reports whether adding the blocking edge from → to would create
// a cycle, and if so returns the shortest offending path. The path starts
// and ends at from: [from, to, ..., from].
func (s *Snapshot) WouldCycle(from, to string) ([]string, bool) {
	if from == to {
		return []string{from, to}, true
	}
	// BFS over existing blocks edges starting at to; reaching from means the
	// new edge closes a loop. parent links reconstruct the shortest path.
	parent := map[string]string{to: ""}
	queue := []string{to}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == from {
			path := []string{from}
			var rev []string
			for n := from; n != ""; n = parent[n] {
				rev = append(rev, n)
			}
			for i := len(rev) - 1; i >= 0; i-- {
				path = append(path, rev[i])
			}
			return path, true
		}
		for _, next := range s.blockedBy[cur] {
			if _, seen := parent[next]; seen {
				continue
			}
			parent[next] = cur
			queue = append(queue, next)
		}
	}
	return nil, false
}

// isReady reports whether the node's status allows work and every blocking
// predecessor is closed.
func (s *Snapshot) isReady(n *Node) bool {
	if n.Status != models.StatusOpen && n.Status != models.StatusInProgress {
		return false
	}
	for _, p := range s.blockersOf[n.ID] {
		if pred := s.nodes[p]; pred != nil && pred.Status != models.StatusClosed {
			return false
		}
	}
	return true
}

// readyLess is the deterministic work ordering: priority ascending, then
// updated_at descending, then id ascending.
func readyLess(a, b *Node) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return a.ID < b.ID
}

func sortReady(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool { return readyLess(nodes[i], nodes[j]) })
}

// Ready returns the issues that can be worked on right now, in stable work
// order.
func (s *Snapshot) Ready() []*Node {
	var out []*Node
	for _, n := range s.nodes {
		if s.isReady(n) {
			out = append(out, n)
		}
	}
	sortReady(out)
	return out
}

// Ancestors returns every issue that must close before id can become ready:
// the transitive closure over incoming blocks edges. Iterative DFS, O(V+E).
func (s *Snapshot) Ancestors(id string) []*Node {
	return s.closure(id, s.blockersOf)
}

// Descendants returns every issue that closing id helps unblock: the
// transitive closure over outgoing blocks edges.
func (s *Snapshot) Descendants(id string) []*Node {
	return s.closure(id, s.blockedBy)
}

func (s *Snapshot) closure(id string, adj map[string][]string) []*Node {
	visited := map[string]bool{id: true}
	stack := append([]string(nil), adj[id]...)
	var out []*Node
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		if n := s.nodes[cur]; n != nil {
			out = append(out, n)
		}
		stack = append(stack, adj[cur]...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Swarm partitions the non-closed issues into layers by longest blocking
// predecessor depth: layer 0 holds issues whose every blocking predecessor
// is closed, layer k holds issues fully unblocked by layers below k. The
// blocking subgraph is a maintained invariant DAG; a cycle here means the
// store is corrupt.
func (s *Snapshot) Swarm() ([][]*Node, error) {
	// Remaining count of unclosed blocking predecessors per non-closed node.
	remaining := make(map[string]int)
	depth := make(map[string]int)
	var frontier []string
	for id, n := range s.nodes {
		if n.Status == models.StatusClosed {
			continue
		}
		c := 0
		for _, p := range s.blockersOf[id] {
			if pred := s.nodes[p]; pred != nil && pred.Status != models.StatusClosed {
				c++
			}
		}
		remaining[id] = c
		if c == 0 {
			frontier = append(frontier, id)
			depth[id] = 0
		}
	}

	processed := 0
	layers := [][]*Node{}
	for len(frontier) > 0 {
		layer := make([]*Node, 0, len(frontier))
		for _, id := range frontier {
			layer = append(layer, s.nodes[id])
		}
		sortReady(layer)
		layers = append(layers, layer)
		processed += len(layer)

		d := depth[frontier[0]]
		var next []string
		for _, id := range frontier {
			for _, succ := range s.blockedBy[id] {
				sn := s.nodes[succ]
				if sn == nil || sn.Status == models.StatusClosed {
					continue
				}
				remaining[succ]--
				if remaining[succ] == 0 {
					depth[succ] = d + 1
					next = append(next, succ)
				}
			}
		}
		frontier = next
	}

	if processed < len(remaining) {
		var stuck []string
		for id, c := range remaining {
			if c > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		return nil, bderr.Corrupt(stuck)
	}
	return layers, nil
}

// Orphans returns open or in-progress issues with no links in either
// direction, most recently updated first.
func (s *Snapshot) Orphans() []*Node {
	var out []*Node
	for id, n := range s.nodes {
		if n.Status != models.StatusOpen && n.Status != models.StatusInProgress {
			continue
		}
		if s.linkDegree[id] == 0 {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Stale returns open or in-progress issues whose updated_at precedes the
// horizon, oldest first.
func (s *Snapshot) Stale(horizon time.Time) []*Node {
	var out []*Node
	for _, n := range s.nodes {
		if n.Status != models.StatusOpen && n.Status != models.StatusInProgress {
			continue
		}
		if n.UpdatedAt.Before(horizon) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ExportNode is the render-neutral node shape for graph output.
type ExportNode struct {
	ID       string             `json:"id"`
	Status   models.IssueStatus `json:"status"`
	Priority int                `json:"priority"`
	Title    string             `json:"title"`
}

// ExportData is the pure data structure handed to external renderers
// (ASCII, DOT, JSON).
type ExportData struct {
	Nodes []ExportNode `json:"nodes"`
	Edges []Edge       `json:"edges"`
}

// Export returns all nodes and edges in deterministic order.
func (s *Snapshot) Export() ExportData {
	out := ExportData{
		Nodes: make([]ExportNode, 0, len(s.nodes)),
		Edges: make([]Edge, 0, len(s.edges)),
	}
	for _, n := range s.nodes {
		out.Nodes = append(out.Nodes, ExportNode{ID: n.ID, Status: n.Status, Priority: n.Priority, Title: n.Title})
	}
	sort.Slice(out.Nodes, func(i, j int) bool { return out.Nodes[i].ID < out.Nodes[j].ID })
	out.Edges = append(out.Edges, s.edges...)
	sort.Slice(out.Edges, func(i, j int) bool {
		a, b := out.Edges[i], out.Edges[j]
		if a.From != b.From {
			return a.From < b.From
		}
		if a.To != b.To {
			return a.To < b.To
		}
		return a.Type < b.Type
	})
	return out
}
