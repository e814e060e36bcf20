// Package errs defines the error taxonomy shared across the core: a fixed
// set of kinds, each mapped to an exit code, so the frontend collaborator
// can report failures without inspecting error text.
package errs

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error taxonomy buckets from the error
// handling design. It is a taxonomy, not a concrete error type.
type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindCollection    Kind = "collection"
	KindDAG           Kind = "dag"
	KindResolving     Kind = "resolving"
	KindSetup         Kind = "setup"
	KindExecution     Kind = "execution"
	KindTeardown      Kind = "teardown"
	KindInternal      Kind = "internal"
)

// ExitCode maps a Kind to the contract exit code. Per-task kinds
// (setup/execution/teardown) do not abort the run by themselves; ExitCode
// is meaningful for them only when deciding the final process exit code
// after a run that accumulated failures.
func (k Kind) ExitCode() int {
	switch k {
	case KindConfiguration:
		return 2
	case KindCollection:
		return 3
	case KindDAG:
		return 4
	case KindResolving:
		return 5
	case KindSetup, KindExecution, KindTeardown, KindInternal:
		return 1
	default:
		return 1
	}
}

// Aborts reports whether errors of this kind abort the run immediately
// rather than producing a per-task failing outcome.
func (k Kind) Aborts() bool {
	switch k {
	case KindConfiguration, KindCollection, KindDAG, KindResolving:
		return true
	default:
		return false
	}
}

// Error is a taxonomy-tagged error. TaskID is empty for run-level errors.
type Error struct {
	Kind   Kind
	TaskID string
	Msg    string
	Cause  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	prefix := string(e.Kind)
	if e.TaskID != "" {
		prefix = fmt.Sprintf("%s[%s]", prefix, e.TaskID)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a taxonomy error.
func New(kind Kind, taskID, format string, args ...any) *Error {
	return &Error{Kind: kind, TaskID: taskID, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds a taxonomy error around an existing cause.
func Wrap(kind Kind, taskID string, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, TaskID: taskID, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the Kind of err if it (or something it wraps) is an
// *Error; otherwise it returns KindInternal, matching the rule that
// unrecognized failures are treated as fatal internal errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) && e != nil {
		return e.Kind
	}
	return KindInternal
}

// Group aggregates multiple errors of potentially different kinds,
// collected rather than stopped-at-first.
type Group struct {
	Errors []error
}

func (g *Group) Add(err error) {
	if err == nil {
		return
	}
	g.Errors = append(g.Errors, err)
}

func (g *Group) Empty() bool { return len(g.Errors) == 0 }

func (g *Group) Err() error {
	if g.Empty() {
		return nil
	}
	if len(g.Errors) == 1 {
		return g.Errors[0]
	}
	return errors.Join(g.Errors...)
}

// DominantExitCode returns the exit code for the most severe kind present
// in the group, following the priority configuration > collection > dag >
// resolving > (setup/execution/teardown/internal).
func (g *Group) DominantExitCode() int {
	priority := []Kind{KindConfiguration, KindCollection, KindDAG, KindResolving}
	seen := make(map[Kind]bool)
	for _, err := range g.Errors {
		seen[KindOf(err)] = true
	}
	for _, k := range priority {
		if seen[k] {
			return k.ExitCode()
		}
	}
	if len(g.Errors) > 0 {
		return 1
	}
	return 0
}
