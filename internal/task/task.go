// Package task implements the task data model: identity, markers, and the
// dependency/product trees a task's body is invoked against.
package task

import (
	"context"
	"fmt"
	"path/filepath"

	"taskweave/internal/hashing"
	"taskweave/internal/tree"
)

// Marker names recognized by the core; any other name is inert metadata
// carried through unexamined.
const (
	MarkerSkip               = "skip"
	MarkerSkipIf             = "skip_if"
	MarkerSkipUnchanged      = "skip_unchanged"
	MarkerSkipAncestorFailed = "skip_ancestor_failed"
	MarkerPersist            = "persist"
	MarkerTryFirst           = "try_first"
	MarkerTryLast            = "try_last"
	MarkerFilterwarnings     = "filterwarnings"
)

// Marker is one (name, args, kwargs) tuple controlling task behavior.
type Marker struct {
	Name   string
	Args   []any
	Kwargs map[string]any
}

// Body is the callable a task executes. deps and prods mirror the shape of
// DependsOn/Produces (see tree.Materialize); a root that is not a map is
// passed under the single key "value". deps values are each node's
// Load(false); prods values are each node's Load(true), which is the node
// itself for ValueNode and PickleNode (so the body can call Save on it) and
// the path string for PathNode. The returned value is saved into
// prods["return"] if that entry is a node; otherwise it is ignored.
type Body func(ctx context.Context, deps map[string]any, prods map[string]any) (any, error)

// Task is the unit of work. Equality is by Signature.
type Task struct {
	// BaseName + optional Path identify the task; Path is empty for
	// programmatically constructed tasks without a source file.
	BaseName string
	Path     string
	ParamID  string

	DependsOn tree.Tree
	Produces  tree.Tree

	Function Body

	Markers []Marker

	// Attributes is an open map for cross-cutting metadata (duration,
	// resolver state, …), mutated only after execution.
	Attributes map[string]any

	// ReportSections holds captured output fragments from execution.
	ReportSections []string

	// IsGenerator marks a task whose body returns further Task values to
	// be appended to the session and folded into a DAG rebuild. A
	// generator task's state is never written, so reruns regenerate it.
	IsGenerator bool

	// SourceText is the task body's declarative definition used for the
	// task-state hash: source of the function plus its markers.
	SourceText string

	sig string
}

// New builds a Task and computes its signature.
//
//	sha256(path_posix || "::" || base_name || "::" || param_id)
//
// Tasks without a Path use the same formula with an empty path, so their
// stem starts with "::" || base_name. The stem is hashed as plain bytes by
// hashing.HashBytes, without length prefixes.
func New(baseName, path, paramID string, fn Body) (*Task, error) {
	if baseName == "" {
		return nil, fmt.Errorf("task: base name is required")
	}
	t := &Task{
		BaseName: baseName,
		Path:     path,
		ParamID:  paramID,
		Function: fn,
	}
	t.sig = string(computeSignature(path, baseName, paramID))
	return t, nil
}

func computeSignature(path, baseName, paramID string) hashing.Digest {
	posix := ""
	if path != "" {
		posix = filepath.ToSlash(filepath.Clean(path))
	}
	stem := posix + "::" + baseName + "::" + paramID
	return hashing.HashBytes([]byte(stem))
}

// Signature returns the task's stable identifier.
func (t *Task) Signature() string { return t.sig }

// HasMarker reports whether a marker with the given name is present.
func (t *Task) HasMarker(name string) (Marker, bool) {
	for _, m := range t.Markers {
		if m.Name == name {
			return m, true
		}
	}
	return Marker{}, false
}

// AddMarker appends a marker, validating the try_first/try_last mutual
// exclusion invariant.
func (t *Task) AddMarker(m Marker) error {
	if m.Name == MarkerTryFirst {
		if _, ok := t.HasMarker(MarkerTryLast); ok {
			return fmt.Errorf("task %q: try_first and try_last are mutually exclusive", t.BaseName)
		}
	}
	if m.Name == MarkerTryLast {
		if _, ok := t.HasMarker(MarkerTryFirst); ok {
			return fmt.Errorf("task %q: try_first and try_last are mutually exclusive", t.BaseName)
		}
	}
	t.Markers = append(t.Markers, m)
	return nil
}

// Priority returns the scheduler priority hint from markers:
// try_first = +1, none = 0, try_last = -1.
func (t *Task) Priority() int {
	if _, ok := t.HasMarker(MarkerTryFirst); ok {
		return 1
	}
	if _, ok := t.HasMarker(MarkerTryLast); ok {
		return -1
	}
	return 0
}

// canonicalMarkerStrings renders markers into a stable textual form for
// hashing (order-independent; two tasks with the same marker set in a
// different declaration order hash identically).
func (t *Task) canonicalMarkerStrings() []string {
	out := make([]string, 0, len(t.Markers))
	for _, m := range t.Markers {
		out = append(out, fmt.Sprintf("%s(args=%v,kwargs=%v)", m.Name, m.Args, m.Kwargs))
	}
	return out
}

// StateHash is the task-state hash: source of Function plus the markers'
// canonical form. It changes iff the task definition changed.
func (t *Task) StateHash() hashing.Digest {
	return hashing.TaskBody(t.SourceText, t.canonicalMarkerStrings())
}
