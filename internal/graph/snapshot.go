// Package graph implements the dependency engine. It is pure and stateless:
// every query operates on a Snapshot materialized by the store, performs no
// I/O, and uses iterative traversals so stack depth stays bounded on deep
// graphs.
package graph

import (
	"time"

	"github.com/joescharf/bd/internal/models"
)

// Node is the engine's view of an issue.
type Node struct {
	ID        string             `json:"id"`
	Title     string             `json:"title"`
	Status    models.IssueStatus `json:"status"`
	Priority  int                `json:"priority"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Edge is a canonical link between two issues.
type Edge struct {
	From string          `json:"from"`
	To   string          `json:"to"`
	Type models.LinkType `json:"type"`
}

// Snapshot is an immutable read view of issues and links, consistent as of
// one transaction boundary. Blocking indexes cover only "blocks" edges;
// informational edges are retained for orphan analysis and export.
type Snapshot struct {
	nodes map[string]*Node
	edges []Edge

	// blockersOf[i] lists p such that p blocks i.
	blockersOf map[string][]string
	// blockedBy[p] lists i such that p blocks i.
	blockedBy map[string][]string
	// linkDegree counts links touching an issue in either direction,
	// blocking or informational.
	linkDegree map[string]int
}

// NewSnapshot indexes the given nodes and canonical edges.
func NewSnapshot(nodes []*Node, edges []Edge) *Snapshot {
	s := &Snapshot{
		nodes:      make(map[string]*Node, len(nodes)),
		edges:      edges,
		blockersOf: make(map[string][]string),
		blockedBy:  make(map[string][]string),
		linkDegree: make(map[string]int),
	}
	for _, n := range nodes {
		s.nodes[n.ID] = n
	}
	for _, e := range edges {
		s.linkDegree[e.From]++
		s.linkDegree[e.To]++
		if e.Type == models.LinkBlocks {
			s.blockersOf[e.To] = append(s.blockersOf[e.To], e.From)
			s.blockedBy[e.From] = append(s.blockedBy[e.From], e.To)
		}
	}
	return s
}

// Node returns the node for id, or nil.
func (s *Snapshot) Node(id string) *Node {
	return s.nodes[id]
}

// Len returns the number of issues in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.nodes)
}
