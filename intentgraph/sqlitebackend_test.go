package intentgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSqliteBackendCRUDRoundTrip(t *testing.T) {
	b, err := NewSqliteBackend(":memory:")
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.PutIntent(StorableIntent{IntentID: "i1", Goal: "ship it", Status: StatusActive}))

	got, ok, err := b.GetIntent("i1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ship it", got.Goal)

	require.NoError(t, b.PutIntent(StorableIntent{IntentID: "i1", Goal: "ship it faster", Status: StatusCompleted}))
	got, _, err = b.GetIntent("i1")
	require.NoError(t, err)
	assert.Equal(t, "ship it faster", got.Goal)
	assert.Equal(t, StatusCompleted, got.Status)

	require.NoError(t, b.DeleteIntent("i1"))
	_, ok, err = b.GetIntent("i1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSqliteBackendListIntentsFilters(t *testing.T) {
	b, err := NewSqliteBackend(":memory:")
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.PutIntent(StorableIntent{IntentID: "i1", Goal: "deploy app", Status: StatusActive}))
	require.NoError(t, b.PutIntent(StorableIntent{IntentID: "i2", Goal: "write docs", Status: StatusCompleted}))

	active := StatusActive
	got, err := b.ListIntents(IntentFilter{Status: &active})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "i1", got[0].IntentID)

	got, err = b.ListIntents(IntentFilter{GoalContains: "docs"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "i2", got[0].IntentID)
}

func TestSqliteBackendEdgeRoundTrip(t *testing.T) {
	b, err := NewSqliteBackend(":memory:")
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.PutEdge(Edge{From: "a", To: "b", Kind: EdgeDependsOn, Weight: 0.5}))
	edges, err := b.ListEdges("a", "", "")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, EdgeDependsOn, edges[0].Kind)

	require.NoError(t, b.DeleteEdge("a", "b", EdgeDependsOn))
	edges, err = b.ListEdges("a", "", "")
	require.NoError(t, err)
	assert.Empty(t, edges)
}
