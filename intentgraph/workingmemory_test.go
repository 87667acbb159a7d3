package intentgraph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkingMemoryPutAndGet(t *testing.T) {
	wm, err := NewWorkingMemory("")
	require.NoError(t, err)
	defer wm.Close()

	require.NoError(t, wm.Put(WmEntry{ID: "e1", Content: "condensed prior context", Tags: []string{"plan1"}}))

	got, ok, err := wm.Get("e1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "condensed prior context", got.Content)
	assert.Greater(t, got.EstimatedTokens, 0)
}

func TestWorkingMemoryListByTimeIsOrdered(t *testing.T) {
	wm, err := NewWorkingMemory("")
	require.NoError(t, err)
	defer wm.Close()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, wm.Put(WmEntry{ID: "second", Content: "b", Timestamp: base.Add(time.Minute)}))
	require.NoError(t, wm.Put(WmEntry{ID: "first", Content: "a", Timestamp: base}))
	require.NoError(t, wm.Put(WmEntry{ID: "third", Content: "c", Timestamp: base.Add(2 * time.Minute)}))

	entries, err := wm.ListByTime(0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []string{"first", "second", "third"}, []string{entries[0].ID, entries[1].ID, entries[2].ID})
}

func TestWorkingMemoryListByTimeRespectsLimit(t *testing.T) {
	wm, err := NewWorkingMemory("")
	require.NoError(t, err)
	defer wm.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, wm.Put(WmEntry{ID: string(rune('a' + i)), Content: "x"}))
	}
	entries, err := wm.ListByTime(2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestWorkingMemoryListByTag(t *testing.T) {
	wm, err := NewWorkingMemory("")
	require.NoError(t, err)
	defer wm.Close()

	require.NoError(t, wm.Put(WmEntry{ID: "e1", Content: "x", Tags: []string{"planA", "shared"}}))
	require.NoError(t, wm.Put(WmEntry{ID: "e2", Content: "y", Tags: []string{"planB", "shared"}}))

	planA, err := wm.ListByTag("planA")
	require.NoError(t, err)
	require.Len(t, planA, 1)
	assert.Equal(t, "e1", planA[0].ID)

	shared, err := wm.ListByTag("shared")
	require.NoError(t, err)
	assert.Len(t, shared, 2)
}

func TestWorkingMemoryTotalEstimatedTokens(t *testing.T) {
	wm, err := NewWorkingMemory("")
	require.NoError(t, err)
	defer wm.Close()

	require.NoError(t, wm.Put(WmEntry{ID: "e1", Content: "1234", EstimatedTokens: 1}))
	require.NoError(t, wm.Put(WmEntry{ID: "e2", Content: "5678", EstimatedTokens: 1}))

	total, err := wm.TotalEstimatedTokens()
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}
