// Package resolve implements the provisional-node resolver: substituting a
// task's provisional dependency and product leaves with the concrete nodes
// their Collect() returns, and tracking which tasks need a DAG rebuild as a
// result.
package resolve

import (
	"fmt"

	"taskweave/internal/node"
	"taskweave/internal/task"
	"taskweave/internal/tree"
)

// Resolver is stateful across a run: it remembers which tasks had a
// provisional dependency or product substituted, so a driver can decide
// whether the DAG needs rebuilding after setup and after execute.
type Resolver struct {
	depsResolved map[string]bool
	prodResolved map[string]bool
}

// New returns an empty Resolver.
func New() *Resolver {
	return &Resolver{
		depsResolved: make(map[string]bool),
		prodResolved: make(map[string]bool),
	}
}

// ResolveDependencies substitutes every provisional leaf in t.DependsOn with
// the concrete nodes its Collect() returns. rebuilt reports whether any
// substitution happened, signaling the driver that the DAG must be rebuilt
// before scheduling t's successors.
func (r *Resolver) ResolveDependencies(t *task.Task) (rebuilt bool, err error) {
	newTree, changed, err := substitute(t.DependsOn)
	if err != nil {
		return false, fmt.Errorf("resolving dependencies of %q: %w", t.BaseName, err)
	}
	if changed {
		t.DependsOn = newTree
		r.depsResolved[t.Signature()] = true
	}
	return changed, nil
}

// ResolveProducts substitutes every provisional leaf in t.Produces,
// analogous to ResolveDependencies but run after execute.
func (r *Resolver) ResolveProducts(t *task.Task) (rebuilt bool, err error) {
	newTree, changed, err := substitute(t.Produces)
	if err != nil {
		return false, fmt.Errorf("resolving products of %q: %w", t.BaseName, err)
	}
	if changed {
		t.Produces = newTree
		r.prodResolved[t.Signature()] = true
	}
	return changed, nil
}

// HadProvisionalDependency reports whether taskID's dependency tree carried
// a provisional node that was substituted during this run.
func (r *Resolver) HadProvisionalDependency(taskID string) bool { return r.depsResolved[taskID] }

// HadProvisionalProduct reports whether taskID's product tree carried a
// provisional node that was substituted during this run.
func (r *Resolver) HadProvisionalProduct(taskID string) bool { return r.prodResolved[taskID] }

// AnyResolved reports whether any task in this run required a substitution,
// i.e. whether the DAG should be rebuilt at least once more.
func (r *Resolver) AnyResolved() bool {
	return len(r.depsResolved) > 0 || len(r.prodResolved) > 0
}

// substitute walks t looking for provisional leaves and replaces each with a
// List of concrete Leaf nodes from Collect(). Non-provisional leaves, and
// the List/Map structure around them, are returned unchanged.
func substitute(t tree.Tree) (tree.Tree, bool, error) {
	switch x := t.(type) {
	case nil:
		return nil, false, nil

	case tree.Leaf:
		prov, ok := x.Node.(node.Provisional)
		if !ok {
			return x, false, nil
		}
		collected, err := prov.Collect()
		if err != nil {
			return nil, false, fmt.Errorf("collect: %w", err)
		}
		items := make([]tree.Tree, len(collected))
		for i, n := range collected {
			items[i] = tree.Leaf{Node: n}
		}
		return tree.List{Items: items}, true, nil

	case tree.List:
		changedAny := false
		newItems := make([]tree.Tree, len(x.Items))
		for i, item := range x.Items {
			sub, changed, err := substitute(item)
			if err != nil {
				return nil, false, err
			}
			newItems[i] = sub
			changedAny = changedAny || changed
		}
		return tree.List{Items: newItems}, changedAny, nil

	case tree.Map:
		changedAny := false
		newItems := make(map[string]tree.Tree, len(x.Items))
		for k, item := range x.Items {
			sub, changed, err := substitute(item)
			if err != nil {
				return nil, false, err
			}
			newItems[k] = sub
			changedAny = changedAny || changed
		}
		return tree.Map{Items: newItems}, changedAny, nil

	default:
		return t, false, nil
	}
}
