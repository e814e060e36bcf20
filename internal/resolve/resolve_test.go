package resolve

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"taskweave/internal/node"
	"taskweave/internal/task"
	"taskweave/internal/tree"
)

func TestResolveDependenciesSubstitutesDirectoryNode(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.csv"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.csv"), []byte("b"), 0o644))

	tk, err := task.New("merge", "./merge.go", "", nil)
	require.NoError(t, err)
	tk.DependsOn = tree.Leaf{Node: node.NewDirectoryNode(dir, "*.csv")}

	r := New()
	rebuilt, err := r.ResolveDependencies(tk)
	require.NoError(t, err)
	require.True(t, rebuilt)
	require.True(t, r.HadProvisionalDependency(tk.Signature()))

	list, ok := tk.DependsOn.(tree.List)
	require.True(t, ok)
	require.Len(t, list.Items, 2)
	for _, item := range list.Items {
		leaf, ok := item.(tree.Leaf)
		require.True(t, ok)
		_, ok = leaf.Node.(*node.PathNode)
		require.True(t, ok)
	}
}

func TestResolveDependenciesNoOpWithoutProvisionalNode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "in.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	tk, err := task.New("copy", "./copy.go", "", nil)
	require.NoError(t, err)
	tk.DependsOn = tree.Leaf{Node: node.NewPathNode(path)}

	r := New()
	rebuilt, err := r.ResolveDependencies(tk)
	require.NoError(t, err)
	require.False(t, rebuilt)
	require.False(t, r.AnyResolved())
}

func TestResolveProductsSubstitutesNestedProvisionalNode(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "out1.txt"), []byte("x"), 0o644))

	tk, err := task.New("split", "./split.go", "", nil)
	require.NoError(t, err)
	tk.Produces = tree.Map{Items: map[string]tree.Tree{
		"chunks": tree.Leaf{Node: node.NewDirectoryNode(dir, "*.txt")},
	}}

	r := New()
	rebuilt, err := r.ResolveProducts(tk)
	require.NoError(t, err)
	require.True(t, rebuilt)

	m, ok := tk.Produces.(tree.Map)
	require.True(t, ok)
	list, ok := m.Items["chunks"].(tree.List)
	require.True(t, ok)
	require.Len(t, list.Items, 1)
}
