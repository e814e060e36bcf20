// Package change implements staleness detection: comparing each task's
// current signals (itself plus its dependency and product nodes) against
// the state store to decide which tasks must re-execute, with cascade
// propagation along the DAG.
package change

import (
	"taskweave/internal/dag"
	"taskweave/internal/node"
	"taskweave/internal/statestore"
	"taskweave/internal/task"
)

// SignalKind classifies why a single signal is changed or unchanged.
type SignalKind string

const (
	SignalMissing SignalKind = "missing"
	SignalNotInDB SignalKind = "not_in_db"
	SignalEqual   SignalKind = "equal"
	SignalChanged SignalKind = "changed"
)

// Signal is one task-or-node comparison against the store.
type Signal struct {
	ID      string
	Kind    SignalKind
	OldHash string
	NewHash string
}

func (s Signal) isChanged() bool { return s.Kind != SignalEqual }

// Explanation is the structured record of why a task will, or will not,
// run — suitable for the dag explain UX.
type Explanation struct {
	TaskID  string
	Signals []Signal

	// Stale is the final verdict: the task must execute.
	Stale bool

	// CascadedFrom holds the id of an upstream task whose staleness forced
	// this one stale even though this task's own signals are unchanged.
	CascadedFrom string

	// Forced records whether force mode made this task stale regardless of
	// signals.
	Forced bool

	// ShouldPersist is true for a `persist`-marked task whose only
	// differences are in products that still exist on disk: it will not
	// re-execute, but the store entry is refreshed (outcome "persisted").
	ShouldPersist bool
}

// Detect computes an Explanation for every task in g, in topological order,
// so cascade propagation sees upstream verdicts before downstream ones.
func Detect(g *dag.Graph, store *statestore.Store, force bool) (map[string]Explanation, error) {
	explanations := make(map[string]Explanation)

	for _, taskID := range g.TopologicalTaskOrder() {
		t, _ := g.Task(taskID)

		signals, err := computeSignals(g, store, t)
		if err != nil {
			return nil, err
		}

		expl := Explanation{TaskID: taskID, Signals: signals}

		if force {
			expl.Stale = true
			expl.Forced = true
			explanations[taskID] = expl
			continue
		}

		_, persistMarked := t.HasMarker(task.MarkerPersist)
		if persistMarked {
			applyPersistRule(&expl, t, g)
		} else {
			expl.Stale = anyChanged(signals)
		}

		if !expl.Stale {
			if cascadeFrom, ok := cascadeStale(g, taskID, explanations); ok {
				expl.Stale = true
				expl.CascadedFrom = cascadeFrom
				expl.ShouldPersist = false
			}
		}

		explanations[taskID] = expl
	}

	return explanations, nil
}

func computeSignals(g *dag.Graph, store *statestore.Store, t *task.Task) ([]Signal, error) {
	var signals []Signal

	taskSig, err := compareTaskState(store, t)
	if err != nil {
		return nil, err
	}
	signals = append(signals, taskSig)

	for _, nodeID := range g.DependencyNodeSignatures(t.Signature()) {
		n, _ := g.Node(nodeID)
		sig, err := compareNodeState(store, t.Signature(), nodeID, n)
		if err != nil {
			return nil, err
		}
		signals = append(signals, sig)
	}
	for _, nodeID := range g.ProductNodeSignatures(t.Signature()) {
		n, _ := g.Node(nodeID)
		sig, err := compareNodeState(store, t.Signature(), nodeID, n)
		if err != nil {
			return nil, err
		}
		signals = append(signals, sig)
	}

	return signals, nil
}

func compareTaskState(store *statestore.Store, t *task.Task) (Signal, error) {
	cur := string(t.StateHash())
	prev, ok := store.GetTaskState(t.Signature())
	return classify(t.Signature(), cur, prev, ok), nil
}

func compareNodeState(store *statestore.Store, taskID, nodeID string, n node.Node) (Signal, error) {
	var cur string
	if n != nil {
		digest, err := n.State()
		if err != nil {
			return Signal{}, err
		}
		cur = string(digest)
	}
	prev, ok := store.GetNodeState(taskID, nodeID)
	return classify(nodeID, cur, prev, ok), nil
}

func anyChanged(signals []Signal) bool {
	for _, s := range signals {
		if s.isChanged() {
			return true
		}
	}
	return false
}

func cascadeStale(g *dag.Graph, taskID string, soFar map[string]Explanation) (string, bool) {
	for _, pred := range g.PredecessorTasks(taskID) {
		if e, ok := soFar[pred]; ok && e.Stale {
			return pred, true
		}
	}
	return "", false
}

// applyPersistRule implements the `persist` marker: a task whose products
// exist but whose hashes differ from the store is not re-run, only its
// stored state is refreshed. A changed dependency, a changed
// task definition, or a genuinely missing product still forces a real run.
func applyPersistRule(expl *Explanation, t *task.Task, g *dag.Graph) {
	depCount := len(g.DependencyNodeSignatures(t.Signature()))

	taskSignal := expl.Signals[0]
	stale := taskSignal.isChanged()

	for i := 1; i <= depCount && i < len(expl.Signals); i++ {
		if expl.Signals[i].isChanged() {
			stale = true
		}
	}

	for i := depCount + 1; i < len(expl.Signals); i++ {
		s := expl.Signals[i]
		switch s.Kind {
		case SignalChanged:
			expl.ShouldPersist = true
		case SignalMissing, SignalNotInDB:
			stale = true
		}
	}

	expl.Stale = stale
	if stale {
		expl.ShouldPersist = false
	}
}

func classify(id, cur, prev string, prevOK bool) Signal {
	if cur == "" {
		return Signal{ID: id, Kind: SignalMissing, OldHash: prev, NewHash: cur}
	}
	if !prevOK {
		return Signal{ID: id, Kind: SignalNotInDB, OldHash: prev, NewHash: cur}
	}
	if cur == prev {
		return Signal{ID: id, Kind: SignalEqual, OldHash: prev, NewHash: cur}
	}
	return Signal{ID: id, Kind: SignalChanged, OldHash: prev, NewHash: cur}
}
