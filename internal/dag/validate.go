package dag

import (
	"container/heap"
	"strings"
)

type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topoOrderIndices returns a deterministic topological ordering of vertex
// indices via Kahn's algorithm, breaking ties with a min-heap over
// canonical index so the order never depends on map iteration. Only
// meaningful once validateAcyclic has already confirmed the graph has no
// cycles; called on a cyclic graph it silently omits everything inside a
// cycle.
func (g *Graph) topoOrderIndices() []int {
	indeg := make([]int, len(g.indeg))
	copy(indeg, g.indeg)

	ready := &intMinHeap{}
	heap.Init(ready)
	for i := range indeg {
		if indeg[i] == 0 {
			heap.Push(ready, i)
		}
	}

	out := make([]int, 0, len(indeg))
	for ready.Len() > 0 {
		u := heap.Pop(ready).(int)
		out = append(out, u)
		for _, v := range g.outgoing[u] {
			indeg[v]--
			if indeg[v] == 0 {
				heap.Push(ready, v)
			}
		}
	}
	return out
}

// vertexState tracks one vertex's position in the iterative walk below:
// unvisited, on the current path (open), or fully resolved (closed).
type vertexState uint8

const (
	vertexUnvisited vertexState = iota
	vertexOpen
	vertexClosed
)

// stackFrame is one level of the explicit DFS stack walked by
// validateAcyclic: the vertex being expanded and how far through its
// outgoing edges the walk has progressed.
type stackFrame struct {
	vertex int
	cursor int
}

// validateAcyclic proves the graph has no cycles by walking it depth-first
// with an explicit stack (so a long dependency chain can't blow the Go call
// stack), visiting vertices in canonical index order for determinism. The
// moment it closes a back-edge onto a vertex still open on the current path,
// it has a cycle and walks that path back out to report the witness.
func (g *Graph) validateAcyclic() error {
	state := make([]vertexState, len(g.vertices))
	onPath := make([]int, len(g.vertices)) // position of vertex within path, or -1
	for i := range onPath {
		onPath[i] = -1
	}

	for root := 0; root < len(g.vertices); root++ {
		if state[root] != vertexUnvisited {
			continue
		}
		if path := walkFrom(g, root, state, onPath); path != nil {
			return cycleError(pathToIDs(g, path))
		}
	}
	return nil
}

// walkFrom runs one iterative DFS rooted at root, returning the closed loop
// of vertex indices (path[i], ..., path[len-1], path[i]) the moment it finds
// a back-edge onto path[i], or nil if root's whole reachable set is acyclic.
func walkFrom(g *Graph, root int, state []vertexState, onPath []int) []int {
	var path []int
	stack := []stackFrame{{vertex: root}}
	state[root] = vertexOpen
	onPath[root] = 0
	path = append(path, root)

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		edges := g.outgoing[top.vertex]
		if top.cursor >= len(edges) {
			state[top.vertex] = vertexClosed
			onPath[top.vertex] = -1
			path = path[:len(path)-1]
			stack = stack[:len(stack)-1]
			continue
		}
		next := edges[top.cursor]
		top.cursor++

		switch state[next] {
		case vertexUnvisited:
			state[next] = vertexOpen
			onPath[next] = len(path)
			path = append(path, next)
			stack = append(stack, stackFrame{vertex: next})
		case vertexOpen:
			return append(append([]int{}, path[onPath[next]:]...), next)
		case vertexClosed:
			// already resolved acyclic from an earlier root; skip
		}
	}
	return nil
}

func pathToIDs(g *Graph, path []int) []string {
	out := make([]string, len(path))
	for i, idx := range path {
		out[i] = g.vertices[idx].id
	}
	return out
}

// validateUniqueProducers fails when any node vertex has more than one
// incoming edge (more than one task declares it as a product), aggregating
// every violation rather than stopping at the first.
func (g *Graph) validateUniqueProducers() error {
	var errsFound []error
	for i, v := range g.vertices {
		if v.kind != kindNode {
			continue
		}
		if len(g.incoming[i]) <= 1 {
			continue
		}
		producers := make([]string, 0, len(g.incoming[i]))
		for _, p := range g.incoming[i] {
			producers = append(producers, g.vertices[p].id)
		}
		errsFound = append(errsFound, duplicateProducerError(v.id, producers))
	}
	return joinOrNil(errsFound)
}

// validateRootAvailability fails when a node vertex has no producer (it is
// a pure dependency) and its current state is absent.
func (g *Graph) validateRootAvailability() error {
	var errsFound []error
	for i, v := range g.vertices {
		if v.kind != kindNode {
			continue
		}
		if len(g.incoming[i]) > 0 {
			continue // produced by a task
		}
		n, ok := g.nodesByID[v.id]
		if !ok {
			continue
		}
		state, err := n.State()
		if err != nil {
			errsFound = append(errsFound, invalidf("root node %q: %v", v.id, err))
			continue
		}
		if state != "" {
			continue
		}
		dependents := make([]string, 0, len(g.outgoing[i]))
		for _, d := range g.outgoing[i] {
			dependents = append(dependents, g.vertices[d].id)
		}
		errsFound = append(errsFound, unreachableRootError(v.id, dependents))
	}
	return joinOrNil(errsFound)
}

func joinOrNil(errsFound []error) error {
	if len(errsFound) == 0 {
		return nil
	}
	if len(errsFound) == 1 {
		return errsFound[0]
	}
	msgs := make([]string, 0, len(errsFound))
	for _, e := range errsFound {
		msgs = append(msgs, e.Error())
	}
	return invalidf("%d validation errors: %s", len(errsFound), strings.Join(msgs, "; "))
}
