package intentgraph

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildHierarchy(t *testing.T, g *Graph) {
	t.Helper()
	for _, id := range []string{"root", "mid", "leaf"} {
		require.NoError(t, g.PutIntent(StorableIntent{IntentID: id, Goal: id, Status: StatusActive}))
	}
	require.NoError(t, g.AddEdge(Edge{From: "mid", To: "root", Kind: EdgeIsSubgoalOf}))
	require.NoError(t, g.AddEdge(Edge{From: "leaf", To: "mid", Kind: EdgeIsSubgoalOf}))
}

func TestStoreAndRestoreSubgraphFromRoot(t *testing.T) {
	g := newTestGraph(t)
	buildHierarchy(t, g)

	path := filepath.Join(t.TempDir(), "subgraph.json")
	require.NoError(t, g.StoreSubgraphFromRoot("root", path))

	g2 := newTestGraph(t)
	require.NoError(t, g2.RestoreSubgraph(path, MergeSkipExisting))

	for _, id := range []string{"root", "mid", "leaf"} {
		_, ok, err := g2.GetIntent(id)
		require.NoError(t, err)
		assert.True(t, ok, "%s should be restored", id)
	}
	children, err := g2.GetChildIntents("root")
	require.NoError(t, err)
	assert.Equal(t, []string{"mid"}, children)
}

func TestRestoreSubgraphSkipsExistingByDefault(t *testing.T) {
	g := newTestGraph(t)
	buildHierarchy(t, g)
	path := filepath.Join(t.TempDir(), "subgraph.json")
	require.NoError(t, g.StoreSubgraphFromRoot("root", path))

	g2 := newTestGraph(t)
	require.NoError(t, g2.PutIntent(StorableIntent{IntentID: "root", Goal: "pre-existing", Status: StatusCompleted}))
	require.NoError(t, g2.RestoreSubgraph(path, MergeSkipExisting))

	got, _, err := g2.GetIntent("root")
	require.NoError(t, err)
	assert.Equal(t, "pre-existing", got.Goal)
}

func TestRestoreSubgraphOverwritePolicy(t *testing.T) {
	g := newTestGraph(t)
	buildHierarchy(t, g)
	path := filepath.Join(t.TempDir(), "subgraph.json")
	require.NoError(t, g.StoreSubgraphFromRoot("root", path))

	g2 := newTestGraph(t)
	require.NoError(t, g2.PutIntent(StorableIntent{IntentID: "root", Goal: "pre-existing", Status: StatusCompleted}))
	require.NoError(t, g2.RestoreSubgraph(path, MergeOverwrite))

	got, _, err := g2.GetIntent("root")
	require.NoError(t, err)
	assert.Equal(t, "root", got.Goal)
}

func TestBFSCollectIsCycleSafe(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, g.PutIntent(StorableIntent{IntentID: "a", Status: StatusActive}))
	require.NoError(t, g.PutIntent(StorableIntent{IntentID: "b", Status: StatusActive}))
	// RelatedTo is symmetric enough in practice to create a cycle for this test.
	require.NoError(t, g.AddEdge(Edge{From: "a", To: "b", Kind: EdgeRelatedTo}))
	require.NoError(t, g.AddEdge(Edge{From: "b", To: "a", Kind: EdgeRelatedTo}))

	path := filepath.Join(t.TempDir(), "cycle.json")
	require.NoError(t, g.StoreSubgraphFromRoot("a", path))
}

func TestStoreSubgraphFromChildWalksAncestors(t *testing.T) {
	g := newTestGraph(t)
	buildHierarchy(t, g)

	path := filepath.Join(t.TempDir(), "ancestors.json")
	require.NoError(t, g.StoreSubgraphFromChild("leaf", path))

	g2 := newTestGraph(t)
	require.NoError(t, g2.RestoreSubgraph(path, MergeSkipExisting))
	for _, id := range []string{"root", "mid", "leaf"} {
		_, ok, err := g2.GetIntent(id)
		require.NoError(t, err)
		assert.True(t, ok, "%s should be reached walking ancestors", id)
	}
}
