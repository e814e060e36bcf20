package dag

import (
	"sort"

	"taskweave/internal/node"
	"taskweave/internal/task"
	"taskweave/internal/tree"
)

// ProvisionalSets tracks, per task, whether it still has unresolved
// provisional dependencies or products after a Build. The resolver
// consults this to decide which tasks need collect() before setup/teardown
// and whether a rebuild is required afterwards.
type ProvisionalSets struct {
	Deps     map[string]bool
	Products map[string]bool
}

func (p *ProvisionalSets) Any() bool {
	return len(p.Deps) > 0 || len(p.Products) > 0
}

// Build assembles tasks and their dependency/product trees into a Graph and
// validates it: acyclic, unique producers, reachable roots.
// Provisional nodes are recorded in the returned ProvisionalSets but never
// become graph vertices.
//
// All validation errors are aggregated rather than reported on first
// failure.
func Build(tasks []*task.Task) (*Graph, *ProvisionalSets, error) {
	if len(tasks) == 0 {
		return nil, nil, invalidf("no tasks")
	}

	g := &Graph{
		indexByID: make(map[string]int),
		tasksByID: make(map[string]*task.Task, len(tasks)),
		nodesByID: make(map[string]node.Node),
	}
	prov := &ProvisionalSets{Deps: map[string]bool{}, Products: map[string]bool{}}

	addVertex := func(v vertex) int {
		if idx, ok := g.indexByID[v.id]; ok {
			return idx
		}
		idx := len(g.vertices)
		g.vertices = append(g.vertices, v)
		g.indexByID[v.id] = idx
		return idx
	}

	var buildErrs []error

	for _, t := range tasks {
		sig := t.Signature()
		if _, exists := g.tasksByID[sig]; exists {
			buildErrs = append(buildErrs, invalidf("duplicate task signature: %q (%s)", sig, t.BaseName))
			continue
		}
		g.tasksByID[sig] = t
		taskIdx := addVertex(vertex{kind: kindTask, id: sig})
		g.taskOrder = append(g.taskOrder, taskIdx)
	}

	// Second pass: edges, now that every task vertex exists.
	for _, t := range tasks {
		sig := t.Signature()
		taskIdx, ok := g.indexByID[sig]
		if !ok {
			continue // duplicate, already reported
		}

		for _, entry := range tree.Walk(t.DependsOn) {
			if entry.Node == nil {
				continue
			}
			if _, isProvisional := entry.Node.(node.Provisional); isProvisional {
				prov.Deps[sig] = true
				continue
			}
			nsig := entry.Node.Signature()
			g.nodesByID[nsig] = entry.Node
			nodeIdx := addVertex(vertex{kind: kindNode, id: nsig})
			addEdge(g, nodeIdx, taskIdx)
		}

		for _, entry := range tree.Walk(t.Produces) {
			if entry.Node == nil {
				continue
			}
			if _, isProvisional := entry.Node.(node.Provisional); isProvisional {
				prov.Products[sig] = true
				continue
			}
			nsig := entry.Node.Signature()
			g.nodesByID[nsig] = entry.Node
			nodeIdx := addVertex(vertex{kind: kindNode, id: nsig})
			addEdge(g, taskIdx, nodeIdx)
		}
	}

	finalizeAdjacency(g)

	if len(buildErrs) > 0 {
		return nil, nil, joinOrNil(buildErrs)
	}

	var validationErrs []error
	if err := g.validateAcyclic(); err != nil {
		validationErrs = append(validationErrs, err)
	}
	if err := g.validateUniqueProducers(); err != nil {
		validationErrs = append(validationErrs, err)
	}
	if err := g.validateRootAvailability(); err != nil {
		validationErrs = append(validationErrs, err)
	}
	for _, t := range tasks {
		if _, hasFirst := t.HasMarker(task.MarkerTryFirst); hasFirst {
			if _, hasLast := t.HasMarker(task.MarkerTryLast); hasLast {
				validationErrs = append(validationErrs, invalidf("task %q: try_first and try_last are mutually exclusive", t.BaseName))
			}
		}
	}
	if len(validationErrs) > 0 {
		return nil, nil, joinOrNil(validationErrs)
	}

	return g, prov, nil
}

type rawEdge struct{ from, to int }

func addEdge(g *Graph, from, to int) {
	// Deduplicated and finalized in finalizeAdjacency via a temporary
	// pending list stashed on the graph during Build.
	g.pendingEdges = append(g.pendingEdges, rawEdge{from: from, to: to})
}

func finalizeAdjacency(g *Graph) {
	n := len(g.vertices)
	g.outgoing = make([][]int, n)
	g.incoming = make([][]int, n)
	g.indeg = make([]int, n)

	seen := make(map[rawEdge]bool, len(g.pendingEdges))
	sort.Slice(g.pendingEdges, func(i, j int) bool {
		a, b := g.pendingEdges[i], g.pendingEdges[j]
		if a.from != b.from {
			return a.from < b.from
		}
		return a.to < b.to
	})
	for _, e := range g.pendingEdges {
		if seen[e] {
			continue
		}
		seen[e] = true
		g.outgoing[e.from] = append(g.outgoing[e.from], e.to)
		g.incoming[e.to] = append(g.incoming[e.to], e.from)
		g.indeg[e.to]++
	}
	g.pendingEdges = nil
}
