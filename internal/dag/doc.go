// Package dag assembles tasks and the nodes they depend on or produce into
// a directed acyclic graph, and validates the invariants a scheduler can
// then rely on: acyclic, unique producers, and reachable roots.
//
// The graph is immutable once built. A rebuild (triggered by the
// provisional resolver when a generator task or a glob dependency adds new
// edges mid-run) produces a fresh Graph; the scheduler is responsible for
// carrying forward which tasks had already finished.
package dag
