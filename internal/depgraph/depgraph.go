// Package depgraph builds an adjacency over every stored object's
// prerequisites (clean ids only, tolerating both prefixed and clean
// input), detects cycles by DFS with a recursion stack, and offers an
// in-memory variant for validating a hypothetical create/update before
// it is written.
package depgraph

import (
	"sort"

	"github.com/trellis-mcp/trellis-go/internal/idutil"
	"github.com/trellis-mcp/trellis-go/internal/scanner"
)

// Graph is a prerequisites adjacency: node -> the clean ids it depends on.
type Graph struct {
	edges map[string][]string
}

// Build constructs a Graph from every scanned object's prerequisites
// list, keyed and valued entirely in clean ids: prerequisites may
// reference an id of any kind, but the graph itself is built uniformly.
func Build(objects map[string]scanner.Object) *Graph {
	g := &Graph{edges: make(map[string][]string, len(objects))}
	for id, obj := range objects {
		g.edges[id] = scanner.CleanPrerequisites(obj.Header.Prerequisites)
	}
	return g
}

// clone returns a deep copy so WithHypothetical never mutates the
// original graph a caller is still holding.
func (g *Graph) clone() *Graph {
	out := &Graph{edges: make(map[string][]string, len(g.edges))}
	for k, v := range g.edges {
		cp := make([]string, len(v))
		copy(cp, v)
		out.edges[k] = cp
	}
	return out
}

// WithHypothetical returns a new Graph equal to g but with node id's
// prerequisite edges replaced by prereqs (raw, possibly prefixed, cleaned
// here). Used to validate a create or update in memory before it is
// written.
func (g *Graph) WithHypothetical(id string, prereqs []string) *Graph {
	out := g.clone()
	out.edges[idutil.CleanPrereq(id)] = scanner.CleanPrerequisites(prereqs)
	return out
}

// Dependencies returns the prerequisite ids of node id.
func (g *Graph) Dependencies(id string) []string {
	return g.edges[id]
}

// colorState is the DFS coloring used by DetectCycle.
type colorState int

const (
	white colorState = iota
	gray
	black
)

// DetectCycle runs DFS with a recursion stack over the graph and returns
// the cycle path on the first back-edge found, or nil if the graph is
// acyclic. Traversal order is sorted for determinism.
func (g *Graph) DetectCycle() []string {
	color := make(map[string]colorState)
	parent := make(map[string]string)

	nodes := make([]string, 0, len(g.edges))
	for id := range g.edges {
		nodes = append(nodes, id)
	}
	sort.Strings(nodes)

	var dfs func(node string) []string
	dfs = func(node string) []string {
		color[node] = gray
		deps := g.edges[node]
		sortedDeps := append([]string(nil), deps...)
		sort.Strings(sortedDeps)

		for _, dep := range sortedDeps {
			switch color[dep] {
			case gray:
				cycle := []string{dep, node}
				for curr := node; curr != dep && parent[curr] != ""; curr = parent[curr] {
					if curr != node {
						cycle = append(cycle, curr)
					}
				}
				return cycle
			case white:
				parent[dep] = node
				if cyclePath := dfs(dep); cyclePath != nil {
					return cyclePath
				}
			}
		}

		color[node] = black
		return nil
	}

	for _, node := range nodes {
		if color[node] == white {
			if cyclePath := dfs(node); cyclePath != nil {
				return cyclePath
			}
		}
	}
	return nil
}
