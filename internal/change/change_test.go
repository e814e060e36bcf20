package change

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"taskweave/internal/dag"
	"taskweave/internal/node"
	"taskweave/internal/statestore"
	"taskweave/internal/task"
	"taskweave/internal/tree"
)

func buildOneTaskGraph(t *testing.T, dir string) (*dag.Graph, *task.Task, string, string) {
	t.Helper()
	in := filepath.Join(dir, "in.txt")
	out := filepath.Join(dir, "out.txt")
	require.NoError(t, os.WriteFile(in, []byte("hello"), 0o644))

	tk, err := task.New("write", "./write.go", "", nil)
	require.NoError(t, err)
	tk.SourceText = "write(in, out)"
	tk.DependsOn = tree.Map{Items: map[string]tree.Tree{"in": tree.Leaf{Node: node.NewPathNode(in)}}}
	tk.Produces = tree.Map{Items: map[string]tree.Tree{"out": tree.Leaf{Node: node.NewPathNode(out)}}}

	g, _, err := dag.Build([]*task.Task{tk})
	require.NoError(t, err)
	return g, tk, in, out
}

func TestFreshTaskIsStale(t *testing.T) {
	dir := t.TempDir()
	g, tk, _, out := buildOneTaskGraph(t, dir)
	require.NoError(t, os.WriteFile(out, []byte("result"), 0o644))

	store, err := statestore.Open(dir)
	require.NoError(t, err)

	explanations, err := Detect(g, store, false)
	require.NoError(t, err)
	require.True(t, explanations[tk.Signature()].Stale)
}

func TestUnchangedReRunIsNotStale(t *testing.T) {
	dir := t.TempDir()
	g, tk, _, out := buildOneTaskGraph(t, dir)
	require.NoError(t, os.WriteFile(out, []byte("result"), 0o644))

	store, err := statestore.Open(dir)
	require.NoError(t, err)

	first, err := Detect(g, store, false)
	require.NoError(t, err)
	require.True(t, first[tk.Signature()].Stale)

	// Simulate a successful run: write fresh state for every signal.
	expl := first[tk.Signature()]
	var deps, prods []statestore.NodeEntry
	for _, s := range expl.Signals[1:] {
		entry := statestore.NodeEntry{ID: s.ID}
		entry.State.Value = s.NewHash
		if len(deps) < 1 {
			deps = append(deps, entry)
		} else {
			prods = append(prods, entry)
		}
	}
	require.NoError(t, store.UpdateTask(tk.Signature(), expl.Signals[0].NewHash, deps, prods))

	second, err := Detect(g, store, false)
	require.NoError(t, err)
	require.False(t, second[tk.Signature()].Stale)
}

func TestForceModeMakesEveryTaskStale(t *testing.T) {
	dir := t.TempDir()
	g, tk, _, out := buildOneTaskGraph(t, dir)
	require.NoError(t, os.WriteFile(out, []byte("result"), 0o644))
	store, err := statestore.Open(dir)
	require.NoError(t, err)

	explanations, err := Detect(g, store, true)
	require.NoError(t, err)
	require.True(t, explanations[tk.Signature()].Stale)
	require.True(t, explanations[tk.Signature()].Forced)
}

func TestCascadePropagatesToDownstreamTask(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.txt")
	mid := filepath.Join(dir, "mid.txt")
	out := filepath.Join(dir, "out.txt")
	require.NoError(t, os.WriteFile(in, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(mid, []byte("y"), 0o644))
	require.NoError(t, os.WriteFile(out, []byte("z"), 0o644))

	a, _ := task.New("a", "./a.go", "", nil)
	a.DependsOn = tree.Leaf{Node: node.NewPathNode(in)}
	a.Produces = tree.Leaf{Node: node.NewPathNode(mid)}

	b, _ := task.New("b", "./b.go", "", nil)
	b.DependsOn = tree.Leaf{Node: node.NewPathNode(mid)}
	b.Produces = tree.Leaf{Node: node.NewPathNode(out)}

	g, _, err := dag.Build([]*task.Task{a, b})
	require.NoError(t, err)

	store, err := statestore.Open(dir)
	require.NoError(t, err)

	// Record b as up to date, so only the cascade from a can make it stale.
	first, err := Detect(g, store, false)
	require.NoError(t, err)
	bExpl := first[b.Signature()]
	var deps, prods []statestore.NodeEntry
	for i, s := range bExpl.Signals[1:] {
		entry := statestore.NodeEntry{ID: s.ID}
		entry.State.Value = s.NewHash
		if i == 0 {
			deps = append(deps, entry)
		} else {
			prods = append(prods, entry)
		}
	}
	require.NoError(t, store.UpdateTask(b.Signature(), bExpl.Signals[0].NewHash, deps, prods))

	explanations, err := Detect(g, store, false)
	require.NoError(t, err)
	require.True(t, explanations[a.Signature()].Stale)
	require.True(t, explanations[b.Signature()].Stale)
	require.Equal(t, a.Signature(), explanations[b.Signature()].CascadedFrom)
}
