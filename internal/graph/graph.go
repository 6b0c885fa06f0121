// Package graph maintains the adjacency index over pipeline nodes. Nodes
// themselves only know their upstream inputs; the downstream direction and
// every whole-graph operation (cycle checks, ordering, affected sets) live
// here.
package graph

import (
	"fmt"
	"sort"

	"github.com/tracekit-labs/querygraph/internal/node"
)

// Graph is an arena of nodes keyed by id plus derived edge lists in both
// directions. Edges are recomputed from each node's declared inputs, never
// stored on the nodes.
type Graph struct {
	nodes    map[string]node.Node
	children map[string][]string // upstream id -> downstream ids
	parents  map[string][]string // downstream id -> upstream ids
}

func New() *Graph {
	return &Graph{
		nodes:    make(map[string]node.Node),
		children: make(map[string][]string),
		parents:  make(map[string][]string),
	}
}

// Add registers a node and indexes its input edges. Upstream nodes must
// already be present.
func (g *Graph) Add(n node.Node) error {
	id := n.ID()
	if id == "" {
		return fmt.Errorf("node has no id")
	}
	if _, exists := g.nodes[id]; exists {
		return fmt.Errorf("node %q already in graph", id)
	}
	for _, in := range n.Inputs() {
		if in == nil {
			continue
		}
		if _, ok := g.nodes[in.ID()]; !ok {
			return fmt.Errorf("node %q references %q which is not in the graph", id, in.ID())
		}
	}

	g.nodes[id] = n
	g.children[id] = nil
	for _, in := range n.Inputs() {
		if in == nil {
			continue
		}
		g.addEdge(in.ID(), id)
	}

	if ok, cycle := g.HasCycle(); ok {
		g.Remove(id)
		return fmt.Errorf("adding node %q creates a cycle: %v", id, cycle)
	}
	return nil
}

// Reindex rebuilds the edge lists of one node after its inputs changed.
// On failure the previous edges are restored, so a rejected rewire never
// leaves the index cyclic or half-updated.
func (g *Graph) Reindex(id string) error {
	n, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("node %q not in graph", id)
	}
	prev := append([]string(nil), g.parents[id]...)
	restore := func() {
		g.unlinkParents(id)
		for _, p := range prev {
			g.addEdge(p, id)
		}
	}

	g.unlinkParents(id)
	for _, in := range n.Inputs() {
		if in == nil {
			continue
		}
		if _, ok := g.nodes[in.ID()]; !ok {
			restore()
			return fmt.Errorf("node %q references %q which is not in the graph", id, in.ID())
		}
		g.addEdge(in.ID(), id)
	}
	if ok, cycle := g.HasCycle(); ok {
		restore()
		return fmt.Errorf("rewiring node %q creates a cycle: %v", id, cycle)
	}
	return nil
}

// unlinkParents drops every upstream edge of a node.
func (g *Graph) unlinkParents(id string) {
	for _, p := range g.parents[id] {
		g.children[p] = remove(g.children[p], id)
	}
	g.parents[id] = nil
}

// Remove drops a node and every edge touching it. Downstream nodes keep
// their dangling input references; revalidation surfaces those.
func (g *Graph) Remove(id string) {
	for _, p := range g.parents[id] {
		g.children[p] = remove(g.children[p], id)
	}
	for _, c := range g.children[id] {
		g.parents[c] = remove(g.parents[c], id)
	}
	delete(g.nodes, id)
	delete(g.children, id)
	delete(g.parents, id)
}

func (g *Graph) addEdge(from, to string) {
	if !contains(g.children[from], to) {
		g.children[from] = append(g.children[from], to)
	}
	if !contains(g.parents[to], from) {
		g.parents[to] = append(g.parents[to], from)
	}
}

// Get returns the node with the given id.
func (g *Graph) Get(id string) (node.Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns every node sorted by id.
func (g *Graph) Nodes() []node.Node {
	ids := g.ids()
	out := make([]node.Node, 0, len(ids))
	for _, id := range ids {
		out = append(out, g.nodes[id])
	}
	return out
}

func (g *Graph) Len() int { return len(g.nodes) }

// Parents returns the upstream ids of a node.
func (g *Graph) Parents(id string) []string {
	return append([]string(nil), g.parents[id]...)
}

// Children returns the downstream ids of a node.
func (g *Graph) Children(id string) []string {
	return append([]string(nil), g.children[id]...)
}

// HasCycle reports whether the index contains a cycle, with the offending
// path.
func (g *Graph) HasCycle() (bool, []string) {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	cameFrom := make(map[string]string)
	var cycle []string

	var dfs func(id string) bool
	dfs = func(id string) bool {
		visited[id] = true
		onStack[id] = true
		for _, child := range g.children[id] {
			if !visited[child] {
				cameFrom[child] = id
				if dfs(child) {
					return true
				}
			} else if onStack[child] {
				cycle = []string{child}
				for cur := id; cur != child; cur = cameFrom[cur] {
					cycle = append([]string{cur}, cycle...)
				}
				cycle = append([]string{child}, cycle...)
				return true
			}
		}
		onStack[id] = false
		return false
	}

	for _, id := range g.ids() {
		if !visited[id] && dfs(id) {
			return true, cycle
		}
	}
	return false, nil
}

// TopologicalSort returns every node with upstreams before downstreams.
func (g *Graph) TopologicalSort() ([]node.Node, error) {
	if ok, cycle := g.HasCycle(); ok {
		return nil, fmt.Errorf("cycle detected: %v", cycle)
	}
	visited := make(map[string]bool)
	var out []node.Node

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, p := range g.parents[id] {
			visit(p)
		}
		out = append(out, g.nodes[id])
	}
	for _, id := range g.ids() {
		visit(id)
	}
	return out, nil
}

// Affected returns the changed nodes plus everything downstream of them,
// sorted by id. This is the revalidation set after an upstream edit.
func (g *Graph) Affected(changed ...string) []string {
	seen := make(map[string]bool)
	var mark func(id string)
	mark = func(id string) {
		if seen[id] {
			return
		}
		seen[id] = true
		for _, c := range g.children[id] {
			mark(c)
		}
	}
	for _, id := range changed {
		if _, ok := g.nodes[id]; ok {
			mark(id)
		}
	}
	return sortedKeys(seen)
}

// Upstream returns every transitive dependency of the given node, sorted.
func (g *Graph) Upstream(id string) []string {
	seen := make(map[string]bool)
	var mark func(id string)
	mark = func(id string) {
		for _, p := range g.parents[id] {
			if !seen[p] {
				seen[p] = true
				mark(p)
			}
		}
	}
	mark(id)
	return sortedKeys(seen)
}

// Revalidate recomputes validity over the affected set of the changed
// nodes, upstreams first, and returns the ids that failed. An unsortable
// graph is an error, not an empty result.
func (g *Graph) Revalidate(changed ...string) ([]string, error) {
	affected := make(map[string]bool)
	for _, id := range g.Affected(changed...) {
		affected[id] = true
	}
	order, err := g.TopologicalSort()
	if err != nil {
		return nil, fmt.Errorf("revalidate: %w", err)
	}
	var invalid []string
	for _, n := range order {
		if !affected[n.ID()] {
			continue
		}
		if !n.Validate() {
			invalid = append(invalid, n.ID())
		}
	}
	return invalid, nil
}

// Roots returns ids with no upstream inputs, sorted.
func (g *Graph) Roots() []string {
	var out []string
	for id := range g.nodes {
		if len(g.parents[id]) == 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Leaves returns ids with no downstream consumers, sorted.
func (g *Graph) Leaves() []string {
	var out []string
	for id := range g.nodes {
		if len(g.children[id]) == 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (g *Graph) ids() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}

func remove(xs []string, s string) []string {
	out := xs[:0]
	for _, x := range xs {
		if x != s {
			out = append(out, x)
		}
	}
	return out
}
