package intentgraph

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGraph(t *testing.T) *Graph {
	t.Helper()
	return NewGraph(NewInMemoryBackend(), nil, nil)
}

func TestPutAndGetIntent(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, g.PutIntent(StorableIntent{IntentID: "i1", Goal: "ship feature", Status: StatusActive}))

	got, ok, err := g.GetIntent("i1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ship feature", got.Goal)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestAddEdgeUpdatesDenormalizedCaches(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, g.PutIntent(StorableIntent{IntentID: "parent", Goal: "parent goal", Status: StatusActive}))
	require.NoError(t, g.PutIntent(StorableIntent{IntentID: "child", Goal: "child goal", Status: StatusActive}))

	require.NoError(t, g.AddEdge(Edge{From: "child", To: "parent", Kind: EdgeIsSubgoalOf}))

	parent, _, err := g.GetIntent("parent")
	require.NoError(t, err)
	assert.Equal(t, []string{"child"}, parent.ChildIntents)

	child, _, err := g.GetIntent("child")
	require.NoError(t, err)
	assert.Equal(t, "parent", child.ParentIntent)
}

func TestRemoveEdgeClearsCaches(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, g.PutIntent(StorableIntent{IntentID: "parent", Status: StatusActive}))
	require.NoError(t, g.PutIntent(StorableIntent{IntentID: "child", Status: StatusActive}))
	require.NoError(t, g.AddEdge(Edge{From: "child", To: "parent", Kind: EdgeIsSubgoalOf}))

	require.NoError(t, g.RemoveEdge("child", "parent", EdgeIsSubgoalOf))

	parent, _, err := g.GetIntent("parent")
	require.NoError(t, err)
	assert.Empty(t, parent.ChildIntents)

	child, _, err := g.GetIntent("child")
	require.NoError(t, err)
	assert.Empty(t, child.ParentIntent)
}

func TestRebuildCachesRecoversFromCrash(t *testing.T) {
	backend := NewInMemoryBackend()
	g := NewGraph(backend, nil, nil)
	require.NoError(t, g.PutIntent(StorableIntent{IntentID: "parent", Status: StatusActive}))
	require.NoError(t, g.PutIntent(StorableIntent{IntentID: "child", Status: StatusActive}))

	// Simulate a crash between writing the edge and refreshing caches: write
	// the edge directly through the backend, bypassing AddEdge.
	require.NoError(t, backend.PutEdge(Edge{From: "child", To: "parent", Kind: EdgeIsSubgoalOf}))

	parentBefore, _, _ := g.GetIntent("parent")
	assert.Empty(t, parentBefore.ChildIntents)

	require.NoError(t, g.RebuildCaches())

	parentAfter, _, _ := g.GetIntent("parent")
	assert.Equal(t, []string{"child"}, parentAfter.ChildIntents)
	childAfter, _, _ := g.GetIntent("child")
	assert.Equal(t, "parent", childAfter.ParentIntent)
}

func TestTransitionStatusValidatesAndPersists(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, g.PutIntent(StorableIntent{IntentID: "i1", Status: StatusActive}))

	require.NoError(t, g.TransitionStatus("i1", StatusCompleted, "goal met", "plan1", "action1"))

	got, _, err := g.GetIntent("i1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.NotEmpty(t, got.Metadata)
}

func TestTransitionStatusRejectsInvalidTransition(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, g.PutIntent(StorableIntent{IntentID: "i1", Status: StatusCompleted}))

	err := g.TransitionStatus("i1", StatusActive, "retry", "plan1", "action1")
	require.Error(t, err)

	got, _, _ := g.GetIntent("i1")
	assert.Equal(t, StatusCompleted, got.Status, "status must not change on a rejected transition")
}

type failingSink struct{}

func (failingSink) LogIntentStatusChange(string, string, string, string, string, string) error {
	return errors.New("sink unavailable")
}

func TestTransitionStatusIsFailClosedOnSinkError(t *testing.T) {
	backend := NewInMemoryBackend()
	g := NewGraph(backend, failingSink{}, nil)
	require.NoError(t, g.PutIntent(StorableIntent{IntentID: "i1", Status: StatusActive}))

	err := g.TransitionStatus("i1", StatusCompleted, "goal met", "plan1", "action1")
	require.Error(t, err, "a sink failure must surface as an error even though the intent was already persisted")
}

func TestTransitionStatusUnknownIntent(t *testing.T) {
	g := newTestGraph(t)
	err := g.TransitionStatus("missing", StatusCompleted, "x", "p", "a")
	require.Error(t, err)
}

func TestGetChildIntentsIsRealTimeCorrect(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, g.PutIntent(StorableIntent{IntentID: "parent", Status: StatusActive}))
	require.NoError(t, g.PutIntent(StorableIntent{IntentID: "childA", Status: StatusActive}))
	require.NoError(t, g.PutIntent(StorableIntent{IntentID: "childB", Status: StatusActive}))
	require.NoError(t, g.AddEdge(Edge{From: "childA", To: "parent", Kind: EdgeIsSubgoalOf}))
	require.NoError(t, g.AddEdge(Edge{From: "childB", To: "parent", Kind: EdgeIsSubgoalOf}))

	children, err := g.GetChildIntents("parent")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"childA", "childB"}, children)
}

func TestListIntentsFiltersByStatus(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, g.PutIntent(StorableIntent{IntentID: "i1", Status: StatusActive}))
	require.NoError(t, g.PutIntent(StorableIntent{IntentID: "i2", Status: StatusCompleted}))

	active := StatusActive
	got, err := g.ListIntents(IntentFilter{Status: &active})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "i1", got[0].IntentID)
}

func TestPutIntentSetsTimestamps(t *testing.T) {
	g := newTestGraph(t)
	before := time.Now().UTC()
	require.NoError(t, g.PutIntent(StorableIntent{IntentID: "i1", Status: StatusActive}))
	got, _, err := g.GetIntent("i1")
	require.NoError(t, err)
	assert.True(t, !got.CreatedAt.Before(before.Add(-time.Second)))
	assert.True(t, !got.UpdatedAt.Before(before.Add(-time.Second)))
}
