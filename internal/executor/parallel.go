package executor

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"taskweave/internal/errs"
)

// RunParallel is the thin parallel adapter the core makes room for:
// the scheduler hands out disjoint batches via GetReady(n), and each batch
// runs concurrently through the same setup/execute/teardown pipeline as
// Run. workers caps how many tasks run at once; a non-positive value means
// unlimited within each batch.
func (e *Executor) RunParallel(ctx context.Context, workers int) ([]Result, error) {
	if err := e.scheduler.Prepare(); err != nil {
		return nil, errs.Wrap(errs.KindInternal, "", err, "scheduler prepare failed")
	}

	var (
		mu      sync.Mutex
		results []Result
		failures int
	)

	for e.scheduler.IsActive() {
		if e.Stop.shouldStop(failures) {
			e.drainRemaining(&results)
			break
		}

		batchSize := workers
		if batchSize <= 0 {
			batchSize = len(e.Graph.TaskSignatures())
		}
		batch := e.scheduler.GetReady(batchSize)
		if len(batch) == 0 {
			break
		}

		batchResults := make([]Result, len(batch))
		eg, egCtx := errgroup.WithContext(ctx)
		for i, taskID := range batch {
			i, taskID := i, taskID
			eg.Go(func() error {
				t, _ := e.Graph.Task(taskID)
				result := e.runOne(egCtx, t)

				mu.Lock()
				batchResults[i] = result
				mu.Unlock()
				return nil
			})
		}
		_ = eg.Wait() // runOne never returns a non-nil error through eg.Go

		e.scheduler.Done(batch...)
		mu.Lock()
		for _, result := range batchResults {
			results = append(results, result)
			if result.Outcome == OutcomeFailed {
				failures++
				e.markDescendantsFailed(result.TaskID)
			}
		}
		mu.Unlock()
	}

	return results, nil
}
