package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"taskweave/internal/change"
	"taskweave/internal/dag"
	"taskweave/internal/node"
	"taskweave/internal/statestore"
	"taskweave/internal/task"
	"taskweave/internal/tree"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func buildWriteTask(t *testing.T, dir string, body task.Body) (*task.Task, string, string) {
	t.Helper()
	in := filepath.Join(dir, "in.txt")
	out := filepath.Join(dir, "out.txt")
	writeFile(t, in, "hello")

	tk, err := task.New("write", "./write.go", "", body)
	require.NoError(t, err)
	tk.SourceText = "write(in, out)"
	tk.DependsOn = tree.Map{Items: map[string]tree.Tree{"in": tree.Leaf{Node: node.NewPathNode(in)}}}
	tk.Produces = tree.Map{Items: map[string]tree.Tree{"out": tree.Leaf{Node: node.NewPathNode(out)}}}
	return tk, in, out
}

func prepare(t *testing.T, dir string, tasks []*task.Task, force bool) (*dag.Graph, *statestore.Store, map[string]change.Explanation) {
	t.Helper()
	g, _, err := dag.Build(tasks)
	require.NoError(t, err)
	store, err := statestore.Open(dir)
	require.NoError(t, err)
	expl, err := change.Detect(g, store, force)
	require.NoError(t, err)
	return g, store, expl
}

func TestSuccessfulRunWritesProductAndState(t *testing.T) {
	dir := t.TempDir()
	var ranWithDeps map[string]any
	tk, _, out := buildWriteTask(t, dir, func(ctx context.Context, deps, prods map[string]any) (any, error) {
		ranWithDeps = deps
		return nil, os.WriteFile(out, []byte("written"), 0o644)
	})

	g, store, expl := prepare(t, dir, []*task.Task{tk}, false)
	ex := New(g, store, expl)

	results, err := ex.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, OutcomeSuccess, results[0].Outcome)
	require.NotNil(t, ranWithDeps)

	content, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "written", string(content))

	_, ok := store.GetTaskState(tk.Signature())
	require.True(t, ok)
}

func TestSecondRunIsSkippedUnchanged(t *testing.T) {
	dir := t.TempDir()
	tk, _, out := buildWriteTask(t, dir, func(ctx context.Context, deps, prods map[string]any) (any, error) {
		return nil, os.WriteFile(out, []byte("written"), 0o644)
	})

	g, store, expl := prepare(t, dir, []*task.Task{tk}, false)
	ex := New(g, store, expl)
	_, err := ex.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, store.Flush())

	// Re-detect and re-run against the now-consistent store: nothing changed.
	store2, err := statestore.Open(dir)
	require.NoError(t, err)
	expl2, err := change.Detect(g, store2, false)
	require.NoError(t, err)

	executed := false
	tk.Function = func(ctx context.Context, deps, prods map[string]any) (any, error) {
		executed = true
		return nil, nil
	}

	ex2 := New(g, store2, expl2)
	results, err := ex2.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, OutcomeSkippedUnchanged, results[0].Outcome)
	require.False(t, executed)
}

func TestSkipMarkerSkipsExecution(t *testing.T) {
	dir := t.TempDir()
	executed := false
	tk, _, _ := buildWriteTask(t, dir, func(ctx context.Context, deps, prods map[string]any) (any, error) {
		executed = true
		return nil, nil
	})
	require.NoError(t, tk.AddMarker(task.Marker{Name: task.MarkerSkip}))

	g, store, expl := prepare(t, dir, []*task.Task{tk}, false)
	ex := New(g, store, expl)

	results, err := ex.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeSkipped, results[0].Outcome)
	require.False(t, executed)
}

func TestFailureMarksDescendantSkippedAncestorFailed(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.txt")
	mid := filepath.Join(dir, "mid.txt")
	out := filepath.Join(dir, "out.txt")
	writeFile(t, in, "x")

	a, err := task.New("a", "./a.go", "", func(ctx context.Context, deps, prods map[string]any) (any, error) {
		return nil, fmt.Errorf("boom")
	})
	require.NoError(t, err)
	a.DependsOn = tree.Leaf{Node: node.NewPathNode(in)}
	a.Produces = tree.Leaf{Node: node.NewPathNode(mid)}

	bExecuted := false
	b, err := task.New("b", "./b.go", "", func(ctx context.Context, deps, prods map[string]any) (any, error) {
		bExecuted = true
		return nil, os.WriteFile(out, []byte("z"), 0o644)
	})
	require.NoError(t, err)
	b.DependsOn = tree.Leaf{Node: node.NewPathNode(mid)}
	b.Produces = tree.Leaf{Node: node.NewPathNode(out)}

	g, store, expl := prepare(t, dir, []*task.Task{a, b}, false)
	ex := New(g, store, expl)

	results, err := ex.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)

	byID := map[string]Result{}
	for _, r := range results {
		byID[r.TaskID] = r
	}
	require.Equal(t, OutcomeFailed, byID[a.Signature()].Outcome)
	require.Equal(t, OutcomeSkippedAncestorFailed, byID[b.Signature()].Outcome)
	require.False(t, bExecuted)
}

func TestStopAfterFirstFailureDrainsRemainingTasks(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.txt")
	writeFile(t, in, "x")

	a, err := task.New("a", "./a.go", "", func(ctx context.Context, deps, prods map[string]any) (any, error) {
		return nil, fmt.Errorf("boom")
	})
	require.NoError(t, err)
	a.DependsOn = tree.Leaf{Node: node.NewPathNode(in)}
	a.Produces = tree.Leaf{Node: node.NewValueNode("a-out", nil)}

	bExecuted := false
	b, err := task.New("b", "./b.go", "", func(ctx context.Context, deps, prods map[string]any) (any, error) {
		bExecuted = true
		return nil, nil
	})
	require.NoError(t, err)
	b.DependsOn = tree.Leaf{Node: node.NewValueNode("b-in", "v")}
	b.Produces = tree.Leaf{Node: node.NewValueNode("b-out", nil)}

	g, store, expl := prepare(t, dir, []*task.Task{a, b}, false)
	ex := New(g, store, expl)
	ex.Stop = StopPolicy{StopAfterFirstFailure: true}

	results, err := ex.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.False(t, bExecuted)
}

// Both a correctly-cased and a differently-cased entry sit in the same
// directory: the declared path resolves (so setup doesn't fail on a
// genuinely missing file, which is how a casing mismatch actually manifests
// on a case-sensitive filesystem), while the sibling entry exercises the
// directory-listing comparison CheckCasing performs.
func TestCheckCasingOfPathsWarnsOnMismatch(t *testing.T) {
	dir := t.TempDir()
	declared := filepath.Join(dir, "input.txt")
	writeFile(t, declared, "x")
	writeFile(t, filepath.Join(dir, "Input.txt"), "x")
	out := filepath.Join(dir, "out.txt")

	tk, err := task.New("write", "./write.go", "", func(ctx context.Context, deps, prods map[string]any) (any, error) {
		return nil, os.WriteFile(out, []byte("z"), 0o644)
	})
	require.NoError(t, err)
	tk.DependsOn = tree.Leaf{Node: node.NewPathNode(declared)}
	tk.Produces = tree.Leaf{Node: node.NewPathNode(out)}

	g, store, expl := prepare(t, dir, []*task.Task{tk}, false)
	ex := New(g, store, expl)
	ex.CheckCasingOfPaths = true

	results, err := ex.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, results[0].Outcome)
	require.Len(t, results[0].Warnings, 1)
	require.Contains(t, results[0].Warnings[0], "Input.txt")
}

func TestCheckCasingOfPathsDisabledProducesNoWarning(t *testing.T) {
	dir := t.TempDir()
	declared := filepath.Join(dir, "input.txt")
	writeFile(t, declared, "x")
	writeFile(t, filepath.Join(dir, "Input.txt"), "x")
	out := filepath.Join(dir, "out.txt")

	tk, err := task.New("write", "./write.go", "", func(ctx context.Context, deps, prods map[string]any) (any, error) {
		return nil, os.WriteFile(out, []byte("z"), 0o644)
	})
	require.NoError(t, err)
	tk.DependsOn = tree.Leaf{Node: node.NewPathNode(declared)}
	tk.Produces = tree.Leaf{Node: node.NewPathNode(out)}

	g, store, expl := prepare(t, dir, []*task.Task{tk}, false)
	ex := New(g, store, expl)

	results, err := ex.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, results[0].Outcome)
	require.Empty(t, results[0].Warnings)
}

func TestDryRunSkipsBodyExecution(t *testing.T) {
	dir := t.TempDir()
	executed := false
	tk, _, _ := buildWriteTask(t, dir, func(ctx context.Context, deps, prods map[string]any) (any, error) {
		executed = true
		return nil, nil
	})

	g, store, expl := prepare(t, dir, []*task.Task{tk}, false)
	ex := New(g, store, expl)
	ex.DryRun = true

	results, err := ex.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, results[0].Outcome)
	require.False(t, executed)
}
