package dag

import (
	"taskweave/internal/node"
	"taskweave/internal/task"
)

type vertexKind int

const (
	kindTask vertexKind = iota
	kindNode
)

type vertex struct {
	kind vertexKind
	id   string
}

// Graph is an immutable, validated directed graph over the disjoint union
// of task signatures and node signatures. It is safe for
// concurrent read access.
type Graph struct {
	vertices  []vertex
	indexByID map[string]int
	outgoing  [][]int // sorted ascending by vertex index
	incoming  [][]int // sorted ascending by vertex index
	indeg     []int

	tasksByID map[string]*task.Task
	nodesByID map[string]node.Node

	// taskOrder lists task vertex indices in canonical (insertion) order,
	// used by the scheduler to break ties deterministically.
	taskOrder []int

	// pendingEdges accumulates edges during Build before finalizeAdjacency
	// sorts and dedupes them into outgoing/incoming/indeg.
	pendingEdges []rawEdge
}

// Task looks up a task by signature.
func (g *Graph) Task(signature string) (*task.Task, bool) {
	t, ok := g.tasksByID[signature]
	return t, ok
}

// Node looks up a node by signature.
func (g *Graph) Node(signature string) (node.Node, bool) {
	n, ok := g.nodesByID[signature]
	return n, ok
}

// TaskSignatures returns every task signature in canonical (insertion)
// order.
func (g *Graph) TaskSignatures() []string {
	out := make([]string, 0, len(g.taskOrder))
	for _, idx := range g.taskOrder {
		out = append(out, g.vertices[idx].id)
	}
	return out
}

// DependencyNodeSignatures returns the node signatures that feed directly
// into taskSig, in ascending vertex-index order (the order in which Build
// first added each node).
func (g *Graph) DependencyNodeSignatures(taskSig string) []string {
	return g.neighborNodeIDs(taskSig, true)
}

// ProductNodeSignatures returns the node signatures taskSig directly
// produces, in ascending vertex-index order.
func (g *Graph) ProductNodeSignatures(taskSig string) []string {
	return g.neighborNodeIDs(taskSig, false)
}

func (g *Graph) neighborNodeIDs(taskSig string, incoming bool) []string {
	idx, ok := g.indexByID[taskSig]
	if !ok {
		return nil
	}
	var idxs []int
	if incoming {
		idxs = g.incoming[idx]
	} else {
		idxs = g.outgoing[idx]
	}
	out := make([]string, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, g.vertices[i].id)
	}
	return out
}

// DownstreamTasks returns every task signature reachable from taskSig via
// task->node->task edges (used for cascade-skip and staleness
// propagation), in deterministic breadth-first order, excluding taskSig
// itself.
func (g *Graph) DownstreamTasks(taskSig string) []string {
	idx, ok := g.indexByID[taskSig]
	if !ok {
		return nil
	}
	visited := make([]bool, len(g.vertices))
	visited[idx] = true

	queue := append([]int{}, g.outgoing[idx]...)
	var out []string
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		if visited[u] {
			continue
		}
		visited[u] = true
		if g.vertices[u].kind == kindTask {
			out = append(out, g.vertices[u].id)
		}
		queue = append(queue, g.outgoing[u]...)
	}
	return out
}

// TopologicalTaskOrder returns task signatures (excluding node vertices) in
// a deterministic topological order, for change detection and the dag
// subcommand's listing.
func (g *Graph) TopologicalTaskOrder() []string {
	order := g.topoOrderIndices()
	out := make([]string, 0, len(g.taskOrder))
	for _, idx := range order {
		if g.vertices[idx].kind == kindTask {
			out = append(out, g.vertices[idx].id)
		}
	}
	return out
}

// ImmediateSuccessorTasks returns the tasks that directly depend on one of
// taskSig's product nodes (as opposed to DownstreamTasks, which returns the
// full transitive closure).
func (g *Graph) ImmediateSuccessorTasks(taskSig string) []string {
	idx, ok := g.indexByID[taskSig]
	if !ok {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, prodNodeIdx := range g.outgoing[idx] {
		for _, consumerIdx := range g.outgoing[prodNodeIdx] {
			id := g.vertices[consumerIdx].id
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}

// PredecessorTasks returns the tasks that produce one of taskSig's
// dependency nodes, i.e. the tasks that must complete before taskSig may
// run.
func (g *Graph) PredecessorTasks(taskSig string) []string {
	idx, ok := g.indexByID[taskSig]
	if !ok {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, depNodeIdx := range g.incoming[idx] {
		for _, producerIdx := range g.incoming[depNodeIdx] {
			id := g.vertices[producerIdx].id
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}
