// Package session orchestrates one end-to-end run: build the DAG, detect
// staleness against the state store, execute it, and — if execution surfaced
// generator-task output or resolved a provisional node — rebuild the DAG and
// go again. The scheduler's finished-task set carries forward across a
// rebuild (scheduler.FromDAGAndSorter) so a task already completed this run
// is never redispatched, even if the state store would otherwise still call
// it stale.
package session

import (
	"context"

	"go.uber.org/zap"

	"taskweave/internal/change"
	"taskweave/internal/config"
	"taskweave/internal/dag"
	"taskweave/internal/errs"
	"taskweave/internal/executor"
	"taskweave/internal/profiling"
	"taskweave/internal/resolve"
	"taskweave/internal/scheduler"
	"taskweave/internal/statestore"
	"taskweave/internal/task"
)

// Session carries every collaborator a run needs, explicitly, so no package
// in this tree reaches for global state.
type Session struct {
	RootDir string
	Config  config.Config
	Logger  *zap.Logger

	Tasks []*task.Task

	Store     *statestore.Store
	Profiling *profiling.Store
}

// Open loads the project configuration and the durable stores under
// rootDir. Tasks must still be assigned by the caller (collection is a
// separate concern; see internal/collect).
func Open(rootDir string, logger *zap.Logger) (*Session, error) {
	cfg, err := config.LoadFromRoot(rootDir)
	if err != nil {
		return nil, err
	}
	store, err := statestore.Open(rootDir)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "", err, "open state store")
	}
	profStore, err := profiling.Open(rootDir)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "", err, "open runtimes store")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		RootDir:   rootDir,
		Config:    cfg,
		Logger:    logger,
		Store:     store,
		Profiling: profStore,
	}, nil
}

// Report is the outcome of a full Run: every per-task result across every
// DAG generation, plus the staleness explanations from the final generation
// (used by the --explain UX).
type Report struct {
	Results      []executor.Result
	Explanations map[string]change.Explanation
	Generations  int
}

// Run drives tasks to completion, rebuilding the DAG whenever a generation
// surfaces generator-task output or resolves a provisional node, until a
// generation produces neither.
func (s *Session) Run(ctx context.Context) (Report, error) {
	report := Report{}
	tasks := s.Tasks
	var prevScheduler *scheduler.Scheduler

	for {
		report.Generations++
		s.Logger.Info("building graph", zap.Int("generation", report.Generations), zap.Int("tasks", len(tasks)))

		g, prov, err := dag.Build(tasks)
		if err != nil {
			return report, errs.Wrap(errs.KindDAG, "", err, "build task graph")
		}

		explanations, err := change.Detect(g, s.Store, s.Config.Force)
		if err != nil {
			return report, errs.Wrap(errs.KindInternal, "", err, "detect staleness")
		}
		report.Explanations = explanations

		resolver := resolve.New()
		ex := executor.NewFromPrevious(g, s.Store, explanations, prevScheduler)
		ex.Stop = executor.StopPolicy{
			MaxFailures:           s.Config.MaxFailures,
			StopAfterFirstFailure: s.Config.StopAfterFirstFailure,
		}
		ex.DryRun = s.Config.DryRun
		ex.CheckCasingOfPaths = s.Config.CheckCasingOfPaths
		if prov.Any() {
			ex.Resolver = resolver
		}
		filters, err := warningFiltersFromConfig(s.Config)
		if err != nil {
			return report, err
		}
		ex.GlobalFilters = filters

		results, err := ex.Run(ctx)
		if err != nil {
			return report, errs.Wrap(errs.KindExecution, "", err, "run tasks")
		}
		report.Results = append(report.Results, results...)
		prevScheduler = ex.Scheduler()

		for _, r := range results {
			// Only results whose body actually ran carry no Reason; skips,
			// dry runs and persist refreshes are not execution samples.
			executed := (r.Outcome == executor.OutcomeSuccess || r.Outcome == executor.OutcomePersisted) && r.Reason == ""
			if executed && r.Duration > 0 {
				if err := s.Profiling.Record(r.TaskID, r.Duration); err != nil {
					s.Logger.Warn("failed to record runtime", zap.String("task", r.TaskID), zap.Error(err))
				}
			}
			for _, w := range r.Warnings {
				s.Logger.Warn(w, zap.String("task", r.TaskID))
			}
		}

		var generated []*task.Task
		for _, r := range results {
			generated = append(generated, r.GeneratedTasks...)
		}

		if len(generated) == 0 && !resolver.AnyResolved() {
			break
		}

		s.Logger.Info("rebuilding graph",
			zap.Int("generated_tasks", len(generated)),
			zap.Bool("resolved_provisional", resolver.AnyResolved()))
		tasks = append(tasks, generated...)
	}

	if s.Config.CleanLockfile && !anyFailed(report.Results) {
		s.pruneLockfile(tasks)
	}

	if err := s.Store.Flush(); err != nil {
		return report, errs.Wrap(errs.KindInternal, "", err, "flush state store")
	}
	if err := s.Profiling.Flush(); err != nil {
		return report, errs.Wrap(errs.KindInternal, "", err, "flush runtimes store")
	}
	return report, nil
}

func anyFailed(results []executor.Result) bool {
	for _, r := range results {
		if r.Outcome == executor.OutcomeFailed {
			return true
		}
	}
	return false
}

// pruneLockfile drops every state store entry whose task id did not appear
// in the final generation, so a renamed or removed task's stale entry does
// not linger in taskweave.lock forever.
func (s *Session) pruneLockfile(tasks []*task.Task) {
	keep := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		keep[t.Signature()] = true
	}
	for _, id := range s.Store.TaskIDs() {
		if !keep[id] {
			s.Store.DeleteTask(id)
			s.Logger.Info("pruned stale lockfile entry", zap.String("task", id))
		}
	}
}

// Close flushes both durable stores without running anything, for callers
// that abort before or between runs.
func (s *Session) Close() error {
	var group errs.Group
	group.Add(s.Store.Close())
	group.Add(s.Profiling.Close())
	return group.Err()
}
