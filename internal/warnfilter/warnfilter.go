// Package warnfilter implements the filterwarnings DSL: colon-separated
// action:message:category specs, applied globally (configuration) and
// per-task (the filterwarnings marker), deciding whether a reported
// warning is recorded, promoted to an error, or dropped.
package warnfilter

import (
	"fmt"
	"regexp"
	"strings"
)

// Action is the disposition for a warning matching a Filter.
type Action string

const (
	ActionIgnore Action = "ignore"
	ActionError  Action = "error"
	ActionAlways Action = "always" // record even if an earlier filter ignored it
)

// Filter is one parsed "action:message:category" entry. message is an
// optional regular expression and category an optional category name; an
// empty one matches anything.
type Filter struct {
	Action   Action
	Message  *regexp.Regexp
	Category string // must equal the reported category exactly
	raw      string
}

// Parse parses one filterwarnings spec string, in the form
// "action:message:category" (message and category may be empty, e.g.
// "ignore::DeprecationWarning" or plain "ignore").
func Parse(spec string) (Filter, error) {
	spec = strings.TrimSpace(spec)
	parts := strings.SplitN(spec, ":", 3)
	for len(parts) < 3 {
		parts = append(parts, "")
	}
	action := Action(strings.TrimSpace(parts[0]))
	switch action {
	case ActionIgnore, ActionError, ActionAlways:
	default:
		return Filter{}, fmt.Errorf("warnfilter: unknown action %q in spec %q", parts[0], spec)
	}

	message := strings.TrimSpace(parts[1])
	var messageRe *regexp.Regexp
	if message != "" {
		re, err := regexp.Compile(message)
		if err != nil {
			return Filter{}, fmt.Errorf("warnfilter: invalid message pattern %q: %w", message, err)
		}
		messageRe = re
	}

	return Filter{
		Action:   action,
		Message:  messageRe,
		Category: strings.TrimSpace(parts[2]),
		raw:      spec,
	}, nil
}

// ParseAll parses a list of specs, aggregating every parse error instead of
// stopping at the first one.
func ParseAll(specs []string) ([]Filter, error) {
	var filters []Filter
	var errs []string
	for _, spec := range specs {
		f, err := Parse(spec)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		filters = append(filters, f)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("warnfilter: %s", strings.Join(errs, "; "))
	}
	return filters, nil
}

// Warning is one reported warning from a task body.
type Warning struct {
	Message  string
	Category string
}

func (f Filter) matches(w Warning) bool {
	if f.Message != nil && !f.Message.MatchString(w.Message) {
		return false
	}
	if f.Category != "" && f.Category != w.Category {
		return false
	}
	return true
}

// Resolve applies filters in order (later filters take precedence, mirroring
// command-line/marker declaration order) and returns the action for w. The
// default action, when nothing matches, is ActionAlways.
func Resolve(filters []Filter, w Warning) Action {
	action := ActionAlways
	for _, f := range filters {
		if f.matches(w) {
			action = f.Action
		}
	}
	return action
}
