// Package scheduler implements the priority-aware topological scheduler:
// an incremental get_ready/done protocol over a mutable copy of the DAG
// restricted to task vertices, supporting reset and DAG-rebuild-mid-run
// while preserving already-finished tasks.
package scheduler

import (
	"fmt"
	"sort"

	"taskweave/internal/dag"
)

// Scheduler is a mutable view of a Graph's task-only subgraph. It is not
// safe for concurrent use; the driver (executor) is the sole caller, per
// the single-logical-thread-of-control model.
type Scheduler struct {
	graph *dag.Graph

	// indeg counts only task->task edges still outstanding.
	indeg map[string]int
	// successors maps a task to the tasks that depend on one of its
	// products.
	successors map[string][]string
	priority   map[string]int
	order      map[string]int // insertion order, for tie-breaking

	finished map[string]bool
	inFlight map[string]bool

	prepared bool
	backup   *snapshot
}

type snapshot struct {
	indeg    map[string]int
	finished map[string]bool
	inFlight map[string]bool
}

// New builds a Scheduler over every task in g.
func New(g *dag.Graph) *Scheduler {
	s := &Scheduler{
		graph:      g,
		indeg:      make(map[string]int),
		successors: make(map[string][]string),
		priority:   make(map[string]int),
		order:      make(map[string]int),
		finished:   make(map[string]bool),
		inFlight:   make(map[string]bool),
	}
	for i, taskID := range g.TaskSignatures() {
		s.order[taskID] = i
		s.indeg[taskID] = len(g.PredecessorTasks(taskID))
		s.successors[taskID] = g.ImmediateSuccessorTasks(taskID)
		if t, ok := g.Task(taskID); ok {
			s.priority[taskID] = t.Priority()
		}
	}
	return s
}

// FromDAGAndSorter builds a fresh Scheduler over newGraph, preserving the
// finished set of prev so a mid-run DAG rebuild (generator tasks,
// provisional resolution) does not re-run tasks that already completed.
func FromDAGAndSorter(newGraph *dag.Graph, prev *Scheduler) *Scheduler {
	s := New(newGraph)
	if prev == nil {
		return s
	}
	for taskID := range prev.finished {
		if _, exists := s.indeg[taskID]; !exists {
			continue
		}
		s.markDoneLocked(taskID)
	}
	return s
}

// Prepare validates the task subgraph is acyclic (it always is, since Graph
// itself was validated) and marks the scheduler ready to serve tasks. It
// also snapshots state for Reset.
func (s *Scheduler) Prepare() error {
	if err := s.validateAcyclicSnapshot(); err != nil {
		return err
	}
	s.prepared = true
	s.snapshotForReset()
	return nil
}

func (s *Scheduler) validateAcyclicSnapshot() error {
	indeg := make(map[string]int, len(s.indeg))
	for k, v := range s.indeg {
		indeg[k] = v
	}
	var ready []string
	for id, d := range indeg {
		if d == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)
	processed := 0
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		processed++
		for _, succ := range s.successors[id] {
			indeg[succ]--
			if indeg[succ] == 0 {
				ready = append(ready, succ)
				sort.Strings(ready)
			}
		}
	}
	if processed != len(s.indeg) {
		return fmt.Errorf("scheduler: task subgraph is not acyclic")
	}
	return nil
}

func (s *Scheduler) snapshotForReset() {
	s.backup = &snapshot{
		indeg:    cloneIntMap(s.indeg),
		finished: cloneBoolMap(s.finished),
		inFlight: cloneBoolMap(s.inFlight),
	}
}

// Reset restores the scheduler to the state captured at the last Prepare,
// used when a caller needs to replay scheduling decisions. Before the first
// Prepare it does nothing.
func (s *Scheduler) Reset() {
	if s.backup == nil {
		return
	}
	s.indeg = cloneIntMap(s.backup.indeg)
	s.finished = cloneBoolMap(s.backup.finished)
	s.inFlight = cloneBoolMap(s.backup.inFlight)
}

// GetReady returns up to n task signatures with no outstanding
// predecessors that are neither in-flight nor finished, preferring higher
// priority and breaking ties by insertion order.
func (s *Scheduler) GetReady(n int) []string {
	if n <= 0 {
		return nil
	}
	var candidates []string
	for id, d := range s.indeg {
		if d != 0 {
			continue
		}
		if s.finished[id] || s.inFlight[id] {
			continue
		}
		candidates = append(candidates, id)
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if s.priority[a] != s.priority[b] {
			return s.priority[a] > s.priority[b]
		}
		return s.order[a] < s.order[b]
	})
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	for _, id := range candidates {
		s.inFlight[id] = true
	}
	return candidates
}

// Done marks the given tasks finished and decrements their successors'
// outstanding-predecessor count.
func (s *Scheduler) Done(taskIDs ...string) {
	for _, id := range taskIDs {
		s.markDoneLocked(id)
	}
}

func (s *Scheduler) markDoneLocked(id string) {
	if s.finished[id] {
		return
	}
	s.finished[id] = true
	delete(s.inFlight, id)
	for _, succ := range s.successors[id] {
		if _, ok := s.indeg[succ]; !ok {
			continue
		}
		if s.indeg[succ] > 0 {
			s.indeg[succ]--
		}
	}
}

// IsActive reports whether any task has not yet finished.
func (s *Scheduler) IsActive() bool {
	return len(s.finished) < len(s.indeg)
}

// Finished reports whether taskID has completed.
func (s *Scheduler) Finished(taskID string) bool { return s.finished[taskID] }

func cloneIntMap(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneBoolMap(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
