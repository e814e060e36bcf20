// Package executor drives the setup/execute/teardown pipeline for a single
// task and the outcome bookkeeping that follows it: state store writes,
// descendant cascade-skip on failure, and the stop policy.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"taskweave/internal/change"
	"taskweave/internal/dag"
	"taskweave/internal/errs"
	"taskweave/internal/node"
	"taskweave/internal/scheduler"
	"taskweave/internal/statestore"
	"taskweave/internal/task"
	"taskweave/internal/tree"
	"taskweave/internal/warnfilter"
)

// Outcome is the final disposition recorded for one task's run.
type Outcome string

const (
	OutcomeSuccess               Outcome = "success"
	OutcomePersisted             Outcome = "persisted"
	OutcomeSkipped               Outcome = "skipped"
	OutcomeSkippedUnchanged      Outcome = "skipped_unchanged"
	OutcomeSkippedAncestorFailed Outcome = "skipped_ancestor_failed"
	OutcomeFailed                Outcome = "failed"
)

// Result is the record of one task's pass through the driver loop.
type Result struct {
	TaskID         string
	Outcome        Outcome
	Reason         string
	Err            error
	Duration       time.Duration
	GeneratedTasks []*task.Task

	// Warnings holds non-fatal notices surfaced during this task's run:
	// filterwarnings-resolved ActionAlways warnings and, when
	// CheckCasingOfPaths is enabled, path-casing mismatches.
	Warnings []string
}

// ProvisionalResolver substitutes provisional nodes into a task's trees
// before setup (dependencies) and after execute (products). It is supplied
// by the resolver collaborator; a nil Resolver means no task in this run
// carries a provisional node.
type ProvisionalResolver interface {
	ResolveDependencies(t *task.Task) (rebuilt bool, err error)
	ResolveProducts(t *task.Task) (rebuilt bool, err error)
}

// StopPolicy controls when the driver loop stops dispatching new tasks
// after a failure.
type StopPolicy struct {
	MaxFailures           int // 0 means unlimited
	StopAfterFirstFailure bool
}

func (p StopPolicy) shouldStop(failures int) bool {
	if p.StopAfterFirstFailure && failures > 0 {
		return true
	}
	if p.MaxFailures > 0 && failures >= p.MaxFailures {
		return true
	}
	return false
}

// Executor runs a graph's tasks to completion, one at a time, consulting a
// change.Explanation per task to decide whether it may be skipped.
type Executor struct {
	Graph         *dag.Graph
	Store         *statestore.Store
	Explanations  map[string]change.Explanation
	Resolver      ProvisionalResolver
	GlobalFilters []warnfilter.Filter
	Stop          StopPolicy
	DryRun        bool

	// CheckCasingOfPaths, when set, makes setup compare each path-backed
	// dependency's declared casing against the on-disk directory entry and
	// surface a mismatch as a Result warning rather than failing the task.
	CheckCasingOfPaths bool

	scheduler *scheduler.Scheduler

	// storeMu serializes state store writes when RunParallel runs several
	// tasks at once; the store itself is not safe for concurrent use.
	storeMu sync.Mutex
}

// New builds an Executor and its internal scheduler over g.
func New(g *dag.Graph, store *statestore.Store, explanations map[string]change.Explanation) *Executor {
	return NewFromPrevious(g, store, explanations, nil)
}

// NewFromPrevious builds an Executor whose scheduler carries forward the
// finished-task set of prev (see scheduler.FromDAGAndSorter), so a caller
// rebuilding the DAG mid-run — a generator task's output folded in, or a
// provisional node resolved — does not re-dispatch a task this run already
// completed. prev may be nil, in which case this behaves like New.
func NewFromPrevious(g *dag.Graph, store *statestore.Store, explanations map[string]change.Explanation, prev *scheduler.Scheduler) *Executor {
	return &Executor{
		Graph:        g,
		Store:        store,
		Explanations: explanations,
		scheduler:    scheduler.FromDAGAndSorter(g, prev),
	}
}

// Scheduler returns the executor's internal scheduler, so a caller driving
// several generations of the same run can pass it to the next generation's
// NewFromPrevious and carry forward which tasks already finished.
func (e *Executor) Scheduler() *scheduler.Scheduler { return e.scheduler }

// Run drives every task in g to completion, single-threaded, and returns one
// Result per task in the order it was dispatched.
func (e *Executor) Run(ctx context.Context) ([]Result, error) {
	if err := e.scheduler.Prepare(); err != nil {
		return nil, errs.Wrap(errs.KindInternal, "", err, "scheduler prepare failed")
	}

	var results []Result
	failures := 0

	for e.scheduler.IsActive() {
		ready := e.scheduler.GetReady(1)
		if len(ready) == 0 {
			// Nothing is ready but the graph is still active: every
			// remaining task is blocked on a failed ancestor and will be
			// resolved to skipped_ancestor_failed on its own turn once we
			// mark it, or this indicates every path is exhausted.
			break
		}

		taskID := ready[0]
		t, ok := e.Graph.Task(taskID)
		if !ok {
			return results, errs.New(errs.KindInternal, taskID, "scheduler returned unknown task")
		}

		res := e.runOne(ctx, t)
		results = append(results, res)
		e.scheduler.Done(taskID)

		if res.Outcome == OutcomeFailed {
			failures++
			e.markDescendantsFailed(taskID)
			if e.Stop.shouldStop(failures) {
				e.drainRemaining(&results)
				break
			}
		}
	}

	return results, nil
}

// drainRemaining records skipped_ancestor_failed (or plain skipped, if no
// failed ancestor applies) for every task the stop policy prevents from
// running, so the caller sees a Result for every task in the graph.
func (e *Executor) drainRemaining(results *[]Result) {
	for e.scheduler.IsActive() {
		ready := e.scheduler.GetReady(len(e.Graph.TaskSignatures()))
		if len(ready) == 0 {
			break
		}
		for _, taskID := range ready {
			res := Result{
				TaskID:  taskID,
				Outcome: OutcomeSkipped,
				Reason:  "run stopped before this task was dispatched",
			}
			if t, ok := e.Graph.Task(taskID); ok {
				if m, failed := t.HasMarker(task.MarkerSkipAncestorFailed); failed {
					res.Outcome = OutcomeSkippedAncestorFailed
					res.Reason = ""
					if len(m.Args) > 0 {
						res.Reason = fmt.Sprintf("%v", m.Args[0])
					}
				}
			}
			*results = append(*results, res)
		}
		e.scheduler.Done(ready...)
	}
}

func (e *Executor) markDescendantsFailed(taskID string) {
	for _, descID := range e.Graph.DownstreamTasks(taskID) {
		descTask, ok := e.Graph.Task(descID)
		if !ok {
			continue
		}
		if _, already := descTask.HasMarker(task.MarkerSkipAncestorFailed); already {
			continue
		}
		_ = descTask.AddMarker(task.Marker{
			Name: task.MarkerSkipAncestorFailed,
			Args: []any{taskID},
		})
	}
}

func (e *Executor) runOne(ctx context.Context, t *task.Task) Result {
	start := time.Now()
	taskID := t.Signature()

	if expl, ok := e.Explanations[taskID]; ok && !expl.Stale {
		if expl.ShouldPersist {
			if err := e.refreshPersistedState(t); err != nil {
				return Result{TaskID: taskID, Outcome: OutcomeFailed, Err: errs.Wrap(errs.KindTeardown, taskID, err, "persist refresh"), Duration: time.Since(start)}
			}
			return Result{TaskID: taskID, Outcome: OutcomePersisted, Reason: "product differs but still present", Duration: time.Since(start)}
		}
		return Result{TaskID: taskID, Outcome: OutcomeSkippedUnchanged, Reason: "unchanged", Duration: time.Since(start)}
	}

	if outcome, reason, skip := e.checkSkip(t); skip {
		return Result{TaskID: taskID, Outcome: outcome, Reason: reason, Duration: time.Since(start)}
	}

	if e.Resolver != nil {
		if _, err := e.Resolver.ResolveDependencies(t); err != nil {
			return Result{TaskID: taskID, Outcome: OutcomeFailed, Err: errs.Wrap(errs.KindSetup, taskID, err, "resolving provisional dependencies"), Duration: time.Since(start)}
		}
	}

	casingWarnings, err := verifyDependenciesPresent(t, e.CheckCasingOfPaths)
	if err != nil {
		return Result{TaskID: taskID, Outcome: OutcomeFailed, Err: errs.Wrap(errs.KindSetup, taskID, err, "setup"), Duration: time.Since(start)}
	}
	if err := createProductParentDirs(t); err != nil {
		return Result{TaskID: taskID, Outcome: OutcomeFailed, Err: errs.Wrap(errs.KindSetup, taskID, err, "setup"), Duration: time.Since(start)}
	}

	if e.DryRun {
		return Result{TaskID: taskID, Outcome: OutcomeSuccess, Reason: "would_be_executed", Duration: time.Since(start), Warnings: casingWarnings}
	}

	generated, execWarnings, execErr := e.execute(ctx, t)
	if execErr != nil {
		return Result{TaskID: taskID, Outcome: OutcomeFailed, Err: errs.Wrap(errs.KindExecution, taskID, execErr, "execute"), Duration: time.Since(start), Warnings: casingWarnings}
	}
	warnings := append(casingWarnings, execWarnings...)

	if e.Resolver != nil {
		if _, err := e.Resolver.ResolveProducts(t); err != nil {
			return Result{TaskID: taskID, Outcome: OutcomeFailed, Err: errs.Wrap(errs.KindTeardown, taskID, err, "resolving provisional products"), Duration: time.Since(start), Warnings: warnings}
		}
	}
	if err := verifyProductsPresent(t); err != nil {
		return Result{TaskID: taskID, Outcome: OutcomeFailed, Err: errs.Wrap(errs.KindTeardown, taskID, err, "teardown"), Duration: time.Since(start), Warnings: warnings}
	}

	outcome, err := e.persistOutcome(t)
	if err != nil {
		return Result{TaskID: taskID, Outcome: OutcomeFailed, Err: errs.Wrap(errs.KindTeardown, taskID, err, "state update"), Duration: time.Since(start), Warnings: warnings}
	}

	return Result{TaskID: taskID, Outcome: outcome, Duration: time.Since(start), GeneratedTasks: generated, Warnings: warnings}
}

// checkSkip applies the remaining skip rules in order, after the
// skip_unchanged/persist-refresh check already handled in runOne:
// skip_ancestor_failed, then skip / satisfied skip_if.
func (e *Executor) checkSkip(t *task.Task) (Outcome, string, bool) {
	if m, ok := t.HasMarker(task.MarkerSkipAncestorFailed); ok {
		reason := ""
		if len(m.Args) > 0 {
			reason = fmt.Sprintf("%v", m.Args[0])
		}
		return OutcomeSkippedAncestorFailed, reason, true
	}

	if _, ok := t.HasMarker(task.MarkerSkip); ok {
		return OutcomeSkipped, "skip", true
	}

	if m, ok := t.HasMarker(task.MarkerSkipIf); ok {
		if cond, _ := boolArg(m, 0); cond {
			reason := "skip_if"
			if r, ok := m.Kwargs["reason"].(string); ok && r != "" {
				reason = r
			}
			return OutcomeSkipped, reason, true
		}
	}

	return "", "", false
}

func boolArg(m task.Marker, idx int) (bool, bool) {
	if idx >= len(m.Args) {
		return false, false
	}
	b, ok := m.Args[idx].(bool)
	return b, ok
}

// verifyDependenciesPresent checks every dependency node is present before a
// task runs. When checkCasing is set, it additionally compares each
// path-backed dependency's declared casing against the real directory entry
// and returns a non-fatal warning per mismatch.
func verifyDependenciesPresent(t *task.Task, checkCasing bool) ([]string, error) {
	var warnings []string
	for _, entry := range tree.Walk(t.DependsOn) {
		if entry.Node == nil {
			return warnings, fmt.Errorf("dependency %v has no node", entry.Path)
		}
		digest, err := entry.Node.State()
		if err != nil {
			return warnings, fmt.Errorf("dependency %s: %w", entry.Node.Signature(), err)
		}
		if digest == "" {
			return warnings, fmt.Errorf("missing dependency: %s", entry.Node.Signature())
		}

		if checkCasing {
			if pn, ok := entry.Node.(*node.PathNode); ok {
				if matches, actual, err := node.CheckCasing(pn.Path); err == nil && !matches {
					warnings = append(warnings, fmt.Sprintf("dependency path %q differs in case from on-disk entry %q", pn.Path, actual))
				}
			}
		}
	}
	return warnings, nil
}

func createProductParentDirs(t *task.Task) error {
	for _, entry := range tree.Walk(t.Produces) {
		if pn, ok := entry.Node.(*node.PathNode); ok {
			if err := mkdirForPath(pn.Path); err != nil {
				return err
			}
		}
	}
	return nil
}

func verifyProductsPresent(t *task.Task) error {
	for _, entry := range tree.Walk(t.Produces) {
		if entry.Node == nil {
			return fmt.Errorf("product %v has no node", entry.Path)
		}
		digest, err := entry.Node.State()
		if err != nil {
			return fmt.Errorf("product %s: %w", entry.Node.Signature(), err)
		}
		if digest == "" {
			return fmt.Errorf("missing product: %s", entry.Node.Signature())
		}
	}
	return nil
}

// execute builds the kwargs for the task body, runs it, resolves any
// reported warnings against the effective filter set, and saves a returned
// value into a "return" product leaf when the produces tree is a map with
// that key.
func (e *Executor) execute(ctx context.Context, t *task.Task) ([]*task.Task, []string, error) {
	if t.Function == nil {
		return nil, nil, nil
	}

	deps, err := materializeKwargs(t.DependsOn, func(n node.Node) (any, error) { return n.Load(false) })
	if err != nil {
		return nil, nil, fmt.Errorf("loading dependencies: %w", err)
	}
	prods, err := materializeKwargs(t.Produces, func(n node.Node) (any, error) { return n.Load(true) })
	if err != nil {
		return nil, nil, fmt.Errorf("loading products: %w", err)
	}

	runCtx, recorder := withRecorder(ctx)
	ret, err := t.Function(runCtx, deps, prods)
	if err != nil {
		return nil, nil, err
	}

	var warnings []string
	filters := e.effectiveFilters(t)
	for _, w := range recorder.warnings {
		switch warnfilter.Resolve(filters, w) {
		case warnfilter.ActionError:
			return nil, nil, fmt.Errorf("warning escalated to error: %s", w.Message)
		case warnfilter.ActionIgnore:
			// dropped
		default:
			warnings = append(warnings, w.Message)
		}
	}

	if retNode, ok := prods["return"]; ok {
		if n, ok := retNode.(node.Node); ok {
			if err := n.Save(ret); err != nil {
				return nil, nil, fmt.Errorf("saving return value: %w", err)
			}
		}
	}

	if t.IsGenerator {
		if generated, ok := ret.([]*task.Task); ok {
			return generated, warnings, nil
		}
	}
	return nil, warnings, nil
}

func (e *Executor) effectiveFilters(t *task.Task) []warnfilter.Filter {
	filters := append([]warnfilter.Filter{}, e.GlobalFilters...)
	for _, m := range t.Markers {
		if m.Name != task.MarkerFilterwarnings {
			continue
		}
		for _, arg := range m.Args {
			spec, ok := arg.(string)
			if !ok {
				continue
			}
			f, err := warnfilter.Parse(spec)
			if err != nil {
				continue
			}
			filters = append(filters, f)
		}
	}
	return filters
}

// materializeKwargs mirrors tree.Materialize but always returns a
// map[string]any, since Body expects keyword arguments: a non-map tree root
// (Leaf or List) is wrapped under a single "value" key.
func materializeKwargs(t tree.Tree, load func(node.Node) (any, error)) (map[string]any, error) {
	v, err := tree.Materialize(t, load)
	if err != nil {
		return nil, err
	}
	if m, ok := v.(map[string]any); ok {
		return m, nil
	}
	if v == nil {
		return map[string]any{}, nil
	}
	return map[string]any{"value": v}, nil
}

// persistOutcome writes fresh state for the task and every dependency and
// product node after a real execution, classifying the outcome as success,
// or persisted when the task carries the persist marker. A generator task
// never writes its own state: it must re-run and regenerate its children on
// every invocation, so change.Detect never has a basis to call it unchanged.
func (e *Executor) persistOutcome(t *task.Task) (Outcome, error) {
	if t.IsGenerator {
		return OutcomeSuccess, nil
	}
	if err := e.writeNodeState(t); err != nil {
		return "", err
	}
	if _, ok := t.HasMarker(task.MarkerPersist); ok {
		return OutcomePersisted, nil
	}
	return OutcomeSuccess, nil
}

// refreshPersistedState writes fresh state without running the task body:
// the persist-marker no-rerun path, where only a product hash differs from
// the store.
func (e *Executor) refreshPersistedState(t *task.Task) error {
	return e.writeNodeState(t)
}

func (e *Executor) writeNodeState(t *task.Task) error {
	taskID := t.Signature()

	var deps, prods []statestore.NodeEntry
	for _, entry := range tree.Walk(t.DependsOn) {
		nodeEntry, err := stateEntry(entry.Node)
		if err != nil {
			return err
		}
		deps = append(deps, nodeEntry)
	}
	for _, entry := range tree.Walk(t.Produces) {
		nodeEntry, err := stateEntry(entry.Node)
		if err != nil {
			return err
		}
		prods = append(prods, nodeEntry)
	}

	e.storeMu.Lock()
	defer e.storeMu.Unlock()
	return e.Store.UpdateTask(taskID, string(t.StateHash()), deps, prods)
}

func stateEntry(n node.Node) (statestore.NodeEntry, error) {
	digest, err := n.State()
	if err != nil {
		return statestore.NodeEntry{}, err
	}
	entry := statestore.NodeEntry{ID: n.Signature()}
	entry.State.Value = string(digest)
	return entry, nil
}
