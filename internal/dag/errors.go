package dag

import (
	"errors"
	"fmt"
	"strings"

	"taskweave/internal/errs"
)

var (
	ErrInvalidGraph    = errors.New("invalid task graph")
	ErrCycleFound      = errors.New("cycle detected")
	ErrDuplicateEdge   = errors.New("node has more than one producer")
	ErrUnreachableRoot = errors.New("root node has no state and no producer")
)

// GraphError wraps one deterministic graph validation failure and tags it
// with the "dag" taxonomy kind so the run aborts with exit code 4.
type GraphError struct {
	Kind error
	Msg  string
}

func (e *GraphError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *GraphError) Unwrap() error { return e.Kind }

func invalidf(format string, args ...any) error {
	return wrap(&GraphError{Kind: ErrInvalidGraph, Msg: fmt.Sprintf(format, args...)})
}

func cycleError(path []string) error {
	msg := "cycle"
	if len(path) > 0 {
		msg = "cycle: " + strings.Join(path, " -> ")
	}
	return wrap(&GraphError{Kind: ErrCycleFound, Msg: msg})
}

func duplicateProducerError(nodeID string, producers []string) error {
	return wrap(&GraphError{
		Kind: ErrDuplicateEdge,
		Msg:  fmt.Sprintf("node %q has %d producers: %s", nodeID, len(producers), strings.Join(producers, ", ")),
	})
}

func unreachableRootError(nodeID string, dependents []string) error {
	return wrap(&GraphError{
		Kind: ErrUnreachableRoot,
		Msg:  fmt.Sprintf("root node %q has no state and is not produced by any task (needed by: %s)", nodeID, strings.Join(dependents, ", ")),
	})
}

func wrap(e *GraphError) error {
	return errs.Wrap(errs.KindDAG, "", e, "%s", e.Error())
}
