package scheduler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"taskweave/internal/dag"
	"taskweave/internal/node"
	"taskweave/internal/task"
	"taskweave/internal/tree"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// buildChain builds a -> mid -> b, b -> out, i.e. task a produces mid,
// task b depends on mid and produces out.
func buildChain(t *testing.T, dir string) (*dag.Graph, *task.Task, *task.Task) {
	t.Helper()
	in := filepath.Join(dir, "in.txt")
	mid := filepath.Join(dir, "mid.txt")
	out := filepath.Join(dir, "out.txt")
	writeFile(t, in, "x")
	writeFile(t, mid, "y")
	writeFile(t, out, "z")

	a, err := task.New("a", "./a.go", "", nil)
	require.NoError(t, err)
	a.DependsOn = tree.Leaf{Node: node.NewPathNode(in)}
	a.Produces = tree.Leaf{Node: node.NewPathNode(mid)}

	b, err := task.New("b", "./b.go", "", nil)
	require.NoError(t, err)
	b.DependsOn = tree.Leaf{Node: node.NewPathNode(mid)}
	b.Produces = tree.Leaf{Node: node.NewPathNode(out)}

	g, _, err := dag.Build([]*task.Task{a, b})
	require.NoError(t, err)
	return g, a, b
}

func TestOnlyRootIsInitiallyReady(t *testing.T) {
	dir := t.TempDir()
	g, a, b := buildChain(t, dir)
	s := New(g)
	require.NoError(t, s.Prepare())

	ready := s.GetReady(10)
	require.Equal(t, []string{a.Signature()}, ready)
	require.NotContains(t, ready, b.Signature())
}

func TestDoneUnlocksSuccessor(t *testing.T) {
	dir := t.TempDir()
	g, a, b := buildChain(t, dir)
	s := New(g)
	require.NoError(t, s.Prepare())

	ready := s.GetReady(10)
	require.Equal(t, []string{a.Signature()}, ready)
	s.Done(a.Signature())

	ready = s.GetReady(10)
	require.Equal(t, []string{b.Signature()}, ready)
}

func TestGetReadyMarksInFlightNotReturnedTwice(t *testing.T) {
	dir := t.TempDir()
	g, a, _ := buildChain(t, dir)
	s := New(g)
	require.NoError(t, s.Prepare())

	first := s.GetReady(10)
	require.Equal(t, []string{a.Signature()}, first)

	second := s.GetReady(10)
	require.Empty(t, second)
}

func TestIsActiveFalseOnlyAfterAllDone(t *testing.T) {
	dir := t.TempDir()
	g, a, b := buildChain(t, dir)
	s := New(g)
	require.NoError(t, s.Prepare())

	require.True(t, s.IsActive())
	s.Done(a.Signature())
	require.True(t, s.IsActive())
	s.Done(b.Signature())
	require.False(t, s.IsActive())
}

func TestResetRestoresPreparedState(t *testing.T) {
	dir := t.TempDir()
	g, a, b := buildChain(t, dir)
	s := New(g)
	require.NoError(t, s.Prepare())

	s.Done(a.Signature())
	s.Done(b.Signature())
	require.False(t, s.IsActive())

	s.Reset()
	require.True(t, s.IsActive())
	ready := s.GetReady(10)
	require.Equal(t, []string{a.Signature()}, ready)
}

func TestPriorityOrdersIndependentReadyTasks(t *testing.T) {
	dir := t.TempDir()
	outA := filepath.Join(dir, "a.out")
	outB := filepath.Join(dir, "b.out")
	writeFile(t, outA, "a")
	writeFile(t, outB, "b")

	first, err := task.New("first", "./first.go", "", nil)
	require.NoError(t, err)
	first.Produces = tree.Leaf{Node: node.NewPathNode(outA)}

	last, err := task.New("last", "./last.go", "", nil)
	require.NoError(t, err)
	last.Produces = tree.Leaf{Node: node.NewPathNode(outB)}
	require.NoError(t, last.AddMarker(task.Marker{Name: task.MarkerTryLast}))

	g, _, err := dag.Build([]*task.Task{last, first})
	require.NoError(t, err)

	s := New(g)
	require.NoError(t, s.Prepare())

	ready := s.GetReady(10)
	require.Len(t, ready, 2)
	require.Equal(t, first.Signature(), ready[0])
	require.Equal(t, last.Signature(), ready[1])
}

func TestFromDAGAndSorterPreservesFinished(t *testing.T) {
	dir := t.TempDir()
	g, a, b := buildChain(t, dir)
	s := New(g)
	require.NoError(t, s.Prepare())
	s.Done(a.Signature())

	// Rebuild over the same graph (standing in for a generator-task
	// DAG rebuild) and make sure a's completion carries over.
	s2 := FromDAGAndSorter(g, s)
	require.True(t, s2.Finished(a.Signature()))
	require.False(t, s2.Finished(b.Signature()))

	ready := s2.GetReady(10)
	require.Equal(t, []string{b.Signature()}, ready)
}
