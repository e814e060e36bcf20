package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"taskweave/internal/node"
	"taskweave/internal/task"
	"taskweave/internal/tree"
)

func TestRunParallelExecutesIndependentTasks(t *testing.T) {
	dir := t.TempDir()

	a, err := task.New("a", "./a.go", "", func(ctx context.Context, deps, prods map[string]any) (any, error) {
		return nil, nil
	})
	require.NoError(t, err)
	a.Produces = tree.Leaf{Node: node.NewValueNode("a-out", "a")}

	b, err := task.New("b", "./b.go", "", func(ctx context.Context, deps, prods map[string]any) (any, error) {
		return nil, nil
	})
	require.NoError(t, err)
	b.Produces = tree.Leaf{Node: node.NewValueNode("b-out", "b")}

	g, store, expl := prepare(t, dir, []*task.Task{a, b}, false)
	ex := New(g, store, expl)

	results, err := ex.RunParallel(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		require.Equal(t, OutcomeSuccess, r.Outcome)
	}
}

func TestRunParallelCascadesFailureToDescendant(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.txt")
	mid := filepath.Join(dir, "mid.txt")
	out := filepath.Join(dir, "out.txt")
	require.NoError(t, os.WriteFile(in, []byte("x"), 0o644))

	a, err := task.New("a", "./a.go", "", func(ctx context.Context, deps, prods map[string]any) (any, error) {
		return nil, os.ErrInvalid
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

	results, err := ex.RunParallel(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.False(t, bExecuted)
}
