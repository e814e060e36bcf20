package task

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignatureStableForSameIdentity(t *testing.T) {
	a, err := New("write", "./tasks/write.go", "", nil)
	require.NoError(t, err)
	b, err := New("write", "./tasks/write.go", "", nil)
	require.NoError(t, err)
	require.Equal(t, a.Signature(), b.Signature())
}

func TestSignatureDiffersByParamID(t *testing.T) {
	a, err := New("write", "./tasks/write.go", "a", nil)
	require.NoError(t, err)
	b, err := New("write", "./tasks/write.go", "b", nil)
	require.NoError(t, err)
	require.NotEqual(t, a.Signature(), b.Signature())
}

func TestSignatureWithoutPathUsesStem(t *testing.T) {
	tk, err := New("generated", "", "", nil)
	require.NoError(t, err)
	require.NotEmpty(t, tk.Signature())
}

func TestTryFirstTryLastMutuallyExclusive(t *testing.T) {
	tk, err := New("t", "", "", nil)
	require.NoError(t, err)
	require.NoError(t, tk.AddMarker(Marker{Name: MarkerTryFirst}))
	err = tk.AddMarker(Marker{Name: MarkerTryLast})
	require.Error(t, err)
}

func TestPriorityFromMarkers(t *testing.T) {
	first, _ := New("a", "", "", nil)
	_ = first.AddMarker(Marker{Name: MarkerTryFirst})
	require.Equal(t, 1, first.Priority())

	last, _ := New("b", "", "", nil)
	_ = last.AddMarker(Marker{Name: MarkerTryLast})
	require.Equal(t, -1, last.Priority())

	plain, _ := New("c", "", "", nil)
	require.Equal(t, 0, plain.Priority())
}

func TestStateHashChangesWithSource(t *testing.T) {
	a, _ := New("t", "", "", nil)
	a.SourceText = "func a() {}"
	b, _ := New("t", "", "", nil)
	b.SourceText = "func a() { return 1 }"
	require.NotEqual(t, a.StateHash(), b.StateHash())
}

func TestStateHashIndependentOfMarkerOrder(t *testing.T) {
	a, _ := New("t", "", "", nil)
	a.SourceText = "src"
	_ = a.AddMarker(Marker{Name: MarkerPersist})
	_ = a.AddMarker(Marker{Name: MarkerTryFirst})

	b, _ := New("t", "", "", nil)
	b.SourceText = "src"
	_ = b.AddMarker(Marker{Name: MarkerTryFirst})
	_ = b.AddMarker(Marker{Name: MarkerPersist})

	require.Equal(t, a.StateHash(), b.StateHash())
}
