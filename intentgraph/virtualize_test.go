package intentgraph

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedNow(t time.Time) func() int64 {
	return func() int64 { return t.Unix() }
}

func TestCreateVirtualizedViewCollectsNeighborhood(t *testing.T) {
	g := newTestGraph(t)
	now := time.Now().UTC()
	require.NoError(t, g.PutIntent(StorableIntent{IntentID: "root", Goal: "root goal", Status: StatusActive, UpdatedAt: now}))
	require.NoError(t, g.PutIntent(StorableIntent{IntentID: "child", Goal: "child goal", Status: StatusActive, UpdatedAt: now}))
	require.NoError(t, g.AddEdge(Edge{From: "child", To: "root", Kind: EdgeIsSubgoalOf}))

	cfg := DefaultVirtualizeConfig()
	view, err := g.CreateVirtualizedView([]string{"root"}, cfg, fixedNow(now))
	require.NoError(t, err)

	ids := make([]string, 0, len(view.Intents))
	for _, i := range view.Intents {
		ids = append(ids, i.IntentID)
	}
	assert.ElementsMatch(t, []string{"root", "child"}, ids)
	assert.Len(t, view.VirtualEdges, 1)
}

func TestCreateVirtualizedViewSummarizesLargeComponents(t *testing.T) {
	g := newTestGraph(t)
	now := time.Now().UTC()
	require.NoError(t, g.PutIntent(StorableIntent{IntentID: "root", Goal: "root", Status: StatusActive, UpdatedAt: now}))

	// Build a component of 6 intents under root, above a threshold of 5.
	for i := 0; i < 6; i++ {
		id := fmt.Sprintf("member%d", i)
		require.NoError(t, g.PutIntent(StorableIntent{IntentID: id, Goal: "shared goal", Status: StatusActive, UpdatedAt: now}))
		require.NoError(t, g.AddEdge(Edge{From: id, To: "root", Kind: EdgeIsSubgoalOf}))
	}

	cfg := DefaultVirtualizeConfig()
	cfg.MaxIntents = 3
	cfg.SummarizationThreshold = 5

	view, err := g.CreateVirtualizedView([]string{"root"}, cfg, fixedNow(now))
	require.NoError(t, err)

	require.Len(t, view.Summaries, 1, "the oversized component should collapse into exactly one summary")
	assert.Len(t, view.Summaries[0].MemberIDs, 7) // root + 6 members, all connected via IsSubgoalOf
}

func TestCreateVirtualizedViewPrunesToTokenBudget(t *testing.T) {
	g := newTestGraph(t)
	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("i%d", i)
		require.NoError(t, g.PutIntent(StorableIntent{
			IntentID: id, Goal: "a reasonably long goal description to cost tokens",
			CanonicalRTFSSource: "(intent :goal \"a reasonably long goal description to cost tokens\")",
			Status:              StatusActive, UpdatedAt: now,
		}))
	}

	cfg := DefaultVirtualizeConfig()
	cfg.TokenBudget = 30 // small enough to force pruning well below 5 intents

	view, err := g.CreateVirtualizedView([]string{"i0", "i1", "i2", "i3", "i4"}, cfg, fixedNow(now))
	require.NoError(t, err)
	assert.Less(t, len(view.Intents), 5)
	assert.NotEmpty(t, view.Intents, "at least one intent should survive pruning")
}

func TestRecencyScorePrefersNewer(t *testing.T) {
	now := time.Now().UTC()
	older := StorableIntent{UpdatedAt: now.Add(-72 * time.Hour)}
	newer := StorableIntent{UpdatedAt: now.Add(-time.Hour)}
	nowFn := fixedNow(now)
	assert.Greater(t, recencyScore(newer, nowFn), recencyScore(older, nowFn))
}

func TestStatusWeightOrdering(t *testing.T) {
	assert.Greater(t, statusWeight(StatusActive), statusWeight(StatusSuspended))
	assert.Greater(t, statusWeight(StatusSuspended), statusWeight(StatusCompleted))
}

func TestSearchRanksExactHitAbovePartial(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, g.PutIntent(StorableIntent{IntentID: "exact", Goal: "deploy the payments service", Status: StatusActive}))
	require.NoError(t, g.PutIntent(StorableIntent{IntentID: "partial", Goal: "deploy something else entirely", Status: StatusActive}))
	require.NoError(t, g.PutIntent(StorableIntent{IntentID: "unrelated", Goal: "write documentation", Status: StatusActive}))

	results, err := g.Search("deploy the payments service", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "exact", results[0].Intent.IntentID)
}

func TestSearchRespectsLimit(t *testing.T) {
	g := newTestGraph(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, g.PutIntent(StorableIntent{IntentID: fmt.Sprintf("i%d", i), Goal: "deploy service", Status: StatusActive}))
	}
	results, err := g.Search("deploy", 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestSearchWeightsByStatus(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, g.PutIntent(StorableIntent{IntentID: "active", Goal: "deploy service", Status: StatusActive}))
	require.NoError(t, g.PutIntent(StorableIntent{IntentID: "archived", Goal: "deploy service", Status: StatusArchived}))

	results, err := g.Search("deploy service", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "active", results[0].Intent.IntentID)
}
