package matrix

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTree(t *testing.T, e *Engine, n int) {
	t.Helper()
	ctx := context.Background()

	_, err := e.PlaceRoot(ctx, "r", t0)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		_, err := e.Place(ctx, fmt.Sprintf("n%d", i), "r", t0)
		require.NoError(t, err)
	}
}

func TestDownlineCounts(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine()
	buildTree(t, e, 5)

	counts, err := e.DownlineCounts(ctx, "r", 3)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2, 0}, counts)

	counts, err = e.DownlineCounts(ctx, "n0", 2)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 0}, counts)

	_, err = e.DownlineCounts(ctx, "r", 0)
	assert.ErrorIs(t, err, ErrInvalidDepth)

	_, err = e.DownlineCounts(ctx, "ghost", 1)
	assert.ErrorIs(t, err, ErrNotPlaced)
}

func TestSnapshotSubtree_IsReadOnly(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine()
	buildTree(t, e, 4)

	first, err := e.SnapshotSubtree(ctx, "r", 2)
	require.NoError(t, err)
	second, err := e.SnapshotSubtree(ctx, "r", 2)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.Len(t, first.Children, 3)
	assert.Equal(t, "n0", first.Children[0].ParticipantID)
	require.Len(t, first.Children[0].Children, 1)
	assert.Equal(t, "n3", first.Children[0].Children[0].ParticipantID)
	assert.Equal(t, 2, first.Children[0].Children[0].Depth)

	shallow, err := e.SnapshotSubtree(ctx, "r", 0)
	require.NoError(t, err)
	assert.Empty(t, shallow.Children)

	counts, err := e.DownlineCounts(ctx, "r", 2)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 1}, counts)
}

func TestPath(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine()
	buildTree(t, e, 4)

	path, err := e.Path(ctx, "n3")
	require.NoError(t, err)
	require.Len(t, path, 3)
	assert.Equal(t, "n3", path[0].ParticipantID)
	assert.Equal(t, "n0", path[1].ParticipantID)
	assert.Equal(t, "r", path[2].ParticipantID)
}
