// Package callgraph builds cross-reference graphs around a method: who calls
// it and what it calls, to a bounded depth.
package callgraph

import "sort"

// Node represents a method in the call graph.
type Node struct {
	ID       string `json:"id"` // smali reference
	Handle   uint64 `json:"handle"`
	Class    string `json:"class"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Depth    int    `json:"depth"`
	// Defined is false for methods only referenced by the image set.
	Defined bool `json:"defined"`
}

// Edge represents a call from Source to Target.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// CallGraph represents the complete call graph structure.
type CallGraph struct {
	Root      string    `json:"root"`
	Direction Direction `json:"direction"`
	MaxDepth  int       `json:"maxDepth"`
	Truncated bool      `json:"truncated,omitempty"`
	Nodes     []*Node   `json:"nodes"`
	Edges     []*Edge   `json:"edges"`

	nodeMap map[string]*Node
	edgeMap map[string]*Edge
}

// NewCallGraph creates a new call graph.
func NewCallGraph() *CallGraph {
	return &CallGraph{
		Nodes:   make([]*Node, 0),
		Edges:   make([]*Edge, 0),
		nodeMap: make(map[string]*Node),
		edgeMap: make(map[string]*Edge),
	}
}

// AddNode adds n unless a node with the same ID exists, and returns the
// stored node and whether it was new.
func (cg *CallGraph) AddNode(n *Node) (*Node, bool) {
	if node, exists := cg.nodeMap[n.ID]; exists {
		return node, false
	}
	cg.nodeMap[n.ID] = n
	cg.Nodes = append(cg.Nodes, n)
	return n, true
}

// AddEdge adds a call edge once.
func (cg *CallGraph) AddEdge(source, target string) *Edge {
	edgeID := source + " -> " + target
	if edge, exists := cg.edgeMap[edgeID]; exists {
		return edge
	}
	edge := &Edge{ID: edgeID, Source: source, Target: target}
	cg.edgeMap[edgeID] = edge
	cg.Edges = append(cg.Edges, edge)
	return edge
}

// GetNode returns a node by ID.
func (cg *CallGraph) GetNode(id string) *Node {
	return cg.nodeMap[id]
}

// GetEdge returns an edge by source and target.
func (cg *CallGraph) GetEdge(source, target string) *Edge {
	return cg.edgeMap[source+" -> "+target]
}

// Prune drops nodes whose category is in drop, along with their edges. The
// root is always kept.
func (cg *CallGraph) Prune(drop ...string) {
	if len(drop) == 0 {
		return
	}
	skip := make(map[string]bool, len(drop))
	for _, c := range drop {
		skip[c] = true
	}

	kept := make([]*Node, 0, len(cg.Nodes))
	for _, n := range cg.Nodes {
		if n.ID == cg.Root || !skip[n.Category] {
			kept = append(kept, n)
		} else {
			delete(cg.nodeMap, n.ID)
		}
	}
	cg.Nodes = kept

	edges := make([]*Edge, 0, len(cg.Edges))
	for _, e := range cg.Edges {
		if cg.nodeMap[e.Source] != nil && cg.nodeMap[e.Target] != nil {
			edges = append(edges, e)
		} else {
			delete(cg.edgeMap, e.ID)
		}
	}
	cg.Edges = edges
}

// Stats summarizes a call graph.
type Stats struct {
	NodeCount  int            `json:"nodeCount"`
	EdgeCount  int            `json:"edgeCount"`
	MaxDepth   int            `json:"maxDepth"`
	ByCategory map[string]int `json:"byCategory"`
}

// GetStats returns statistics about the call graph.
func (cg *CallGraph) GetStats() *Stats {
	stats := &Stats{
		NodeCount:  len(cg.Nodes),
		EdgeCount:  len(cg.Edges),
		ByCategory: make(map[string]int),
	}
	for _, node := range cg.Nodes {
		stats.ByCategory[node.Category]++
		if node.Depth > stats.MaxDepth {
			stats.MaxDepth = node.Depth
		}
	}
	return stats
}

// Categories returns the categories present, sorted.
func (s *Stats) Categories() []string {
	out := make([]string, 0, len(s.ByCategory))
	for c := range s.ByCategory {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
