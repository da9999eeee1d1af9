package graph

import (
	"fmt"
	"sort"
	"strings"
)

// CycleError reports that the graph contains a dependency cycle. Nodes
// carries at least one full cycle path for diagnostics.
type CycleError struct {
	Nodes []string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle detected: %s", strings.Join(e.Nodes, " -> "))
}

// ExecutionOrder computes a topological execution order over all nodes.
// For every connection A -> B, A appears before B. A cyclic graph returns a
// *CycleError naming the offending nodes.
func (g *NodeGraph) ExecutionOrder() ([]string, error) {
	include := make(map[string]bool, len(g.Nodes))
	for id := range g.Nodes {
		include[id] = true
	}
	return g.orderSubset(include)
}

// IncrementalOrder computes a topological order restricted to the dirty
// nodes and their transitive dependents.
func (g *NodeGraph) IncrementalOrder() ([]string, error) {
	dirty := g.DirtyNodes()
	if len(dirty) == 0 {
		return nil, nil
	}
	return g.orderSubset(g.Dependents(dirty))
}

// orderSubset runs Kahn's algorithm over the induced subgraph. When nodes
// remain unprocessed a DFS recovers a concrete cycle path for the error.
func (g *NodeGraph) orderSubset(include map[string]bool) ([]string, error) {
	inDegree := make(map[string]int, len(include))
	adjacency := make(map[string][]string, len(include))
	for id := range include {
		inDegree[id] = 0
	}
	for _, c := range g.Connections {
		if !include[c.FromNode] || !include[c.ToNode] {
			continue
		}
		adjacency[c.FromNode] = append(adjacency[c.FromNode], c.ToNode)
		inDegree[c.ToNode]++
	}

	ready := make([]string, 0, len(include))
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	// Deterministic order among independent nodes keeps runs reproducible.
	sort.Strings(ready)

	order := make([]string, 0, len(include))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		var unlocked []string
		for _, next := range adjacency[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				unlocked = append(unlocked, next)
			}
		}
		sort.Strings(unlocked)
		ready = append(ready, unlocked...)
	}

	if len(order) != len(include) {
		return nil, &CycleError{Nodes: g.findCycle(include, adjacency)}
	}
	return order, nil
}

// findCycle runs a DFS over the unresolved portion of the graph and returns
// one cycle path.
func (g *NodeGraph) findCycle(include map[string]bool, adjacency map[string][]string) []string {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(include))

	var path []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		state[id] = inStack
		path = append(path, id)

		for _, next := range adjacency[id] {
			switch state[next] {
			case inStack:
				// Slice the current path from the first occurrence of
				// next to close the loop.
				for i, p := range path {
					if p == next {
						cycle = append(append([]string(nil), path[i:]...), next)
						return true
					}
				}
			case unvisited:
				if visit(next) {
					return true
				}
			}
		}

		path = path[:len(path)-1]
		state[id] = done
		return false
	}

	ids := make([]string, 0, len(include))
	for id := range include {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if state[id] == unvisited && visit(id) {
			return cycle
		}
	}
	return nil
}
