// Package tree represents the nested dependency/product structures attached
// to a task: a leaf node, an ordered list of trees, or a map of trees keyed
// by name, with an explicit tagged sum and a deterministic Walk.
package tree

import (
	"sort"

	"taskweave/internal/node"
)

// Tree is a leaf | list-of | map-of sum over node.Node values.
type Tree interface {
	isTree()
}

// Leaf wraps a single node.
type Leaf struct {
	Node node.Node
}

func (Leaf) isTree() {}

// List is an ordered sequence of sub-trees.
type List struct {
	Items []Tree
}

func (List) isTree() {}

// Map is a name-keyed collection of sub-trees. Keys are arbitrary strings
// (argument names); iteration order is always sorted for determinism.
type Map struct {
	Items map[string]Tree
}

func (Map) isTree() {}

// Entry is one (path, node) pair produced by Walk. Path is the sequence of
// map keys / list indices (as strings) from the tree root to this leaf.
type Entry struct {
	Path []string
	Node node.Node
}

// Walk yields every leaf node in the tree together with its path, in
// deterministic order: map keys sorted lexicographically, list items in
// index order.
func Walk(t Tree) []Entry {
	var out []Entry
	walk(t, nil, &out)
	return out
}

func walk(t Tree, prefix []string, out *[]Entry) {
	switch x := t.(type) {
	case nil:
		return
	case Leaf:
		path := make([]string, len(prefix))
		copy(path, prefix)
		*out = append(*out, Entry{Path: path, Node: x.Node})
	case List:
		for i, item := range x.Items {
			walk(item, append(prefix, indexKey(i)), out)
		}
	case Map:
		keys := make([]string, 0, len(x.Items))
		for k := range x.Items {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			walk(x.Items[k], append(prefix, k), out)
		}
	}
}

func indexKey(i int) string {
	const digits = "0123456789"
	if i == 0 {
		return "0"
	}
	var buf []byte
	for i > 0 {
		buf = append([]byte{digits[i%10]}, buf...)
		i /= 10
	}
	return string(buf)
}

// Nodes returns just the node.Node values from Walk, in the same
// deterministic order.
func Nodes(t Tree) []node.Node {
	entries := Walk(t)
	out := make([]node.Node, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Node)
	}
	return out
}

// Materialize rehydrates a tree into the plain Go value a task body
// expects: a leaf becomes load(leaf.Node), a list becomes []any, a map
// becomes map[string]any — mirroring the tree's own shape.
func Materialize(t Tree, load func(node.Node) (any, error)) (any, error) {
	switch x := t.(type) {
	case nil:
		return nil, nil
	case Leaf:
		return load(x.Node)
	case List:
		out := make([]any, len(x.Items))
		for i, item := range x.Items {
			v, err := Materialize(item, load)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case Map:
		out := make(map[string]any, len(x.Items))
		for k, item := range x.Items {
			v, err := Materialize(item, load)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	default:
		return nil, nil
	}
}
