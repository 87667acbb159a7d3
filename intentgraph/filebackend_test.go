package intentgraph

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileBackendPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.jsonl")

	b, err := NewFileBackend(path, nil)
	require.NoError(t, err)
	require.NoError(t, b.PutIntent(StorableIntent{IntentID: "i1", Goal: "first", Status: StatusActive}))
	require.NoError(t, b.PutEdge(Edge{From: "i1", To: "i0", Kind: EdgeIsSubgoalOf}))
	require.NoError(t, b.Close())

	reopened, err := NewFileBackend(path, nil)
	require.NoError(t, err)
	defer reopened.Close()

	got, ok, err := reopened.GetIntent("i1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "first", got.Goal)

	edges, err := reopened.ListEdges("i1", "", "")
	require.NoError(t, err)
	assert.Len(t, edges, 1)
}

func TestFileBackendReplaysDeleteTombstones(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.jsonl")

	b, err := NewFileBackend(path, nil)
	require.NoError(t, err)
	require.NoError(t, b.PutIntent(StorableIntent{IntentID: "i1", Status: StatusActive}))
	require.NoError(t, b.DeleteIntent("i1"))
	require.NoError(t, b.Close())

	reopened, err := NewFileBackend(path, nil)
	require.NoError(t, err)
	defer reopened.Close()

	_, ok, err := reopened.GetIntent("i1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileBackendCompactRewritesToLiveState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.jsonl")

	b, err := NewFileBackend(path, nil)
	require.NoError(t, err)
	require.NoError(t, b.PutIntent(StorableIntent{IntentID: "i1", Goal: "v1", Status: StatusActive}))
	require.NoError(t, b.PutIntent(StorableIntent{IntentID: "i1", Goal: "v2", Status: StatusActive}))
	require.NoError(t, b.DeleteIntent("i2_never_existed"))

	require.NoError(t, b.Compact())
	require.NoError(t, b.PutIntent(StorableIntent{IntentID: "i3", Goal: "after compaction", Status: StatusActive}))
	require.NoError(t, b.Close())

	reopened, err := NewFileBackend(path, nil)
	require.NoError(t, err)
	defer reopened.Close()

	got, ok, err := reopened.GetIntent("i1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v2", got.Goal, "compaction should keep only the latest version")

	_, ok, err = reopened.GetIntent("i3")
	require.NoError(t, err)
	assert.True(t, ok, "appends after compaction must still land in the live file")
}

func TestStartCompactionSchedulesWithoutError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.jsonl")
	b, err := NewFileBackend(path, nil)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.StartCompaction("@every 1h"))
}
