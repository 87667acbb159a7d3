package agentregistry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccos-run/ccos/agentregistry"
	"github.com/ccos-run/ccos/rtfs"
)

func discoverCriteria(goal string) rtfs.Value {
	return rtfs.NewMap(
		[]rtfs.MapKey{{Kind: rtfs.KKeyword, Str: "goal"}},
		[]rtfs.Value{rtfs.Str(goal)},
	)
}

func TestRegisterRejectsEmptyAgentID(t *testing.T) {
	r := agentregistry.NewRegistry(nil)
	err := r.Register(agentregistry.AgentCard{Name: "nameless"})
	require.Error(t, err)
}

func TestRegisterGetUnregisterRoundTrip(t *testing.T) {
	r := agentregistry.NewRegistry(nil)
	card := agentregistry.AgentCard{AgentID: "agent-1", Name: "Translator", Skills: []string{"translate"}}
	require.NoError(t, r.Register(card))

	got, ok := r.Get("agent-1")
	require.True(t, ok)
	assert.Equal(t, "Translator", got.Name)

	assert.Len(t, r.List(), 1)

	r.Unregister("agent-1")
	_, ok = r.Get("agent-1")
	assert.False(t, ok)
	assert.Len(t, r.List(), 0)
}

func TestRegisterReplacesExistingCard(t *testing.T) {
	r := agentregistry.NewRegistry(nil)
	require.NoError(t, r.Register(agentregistry.AgentCard{AgentID: "agent-1", Name: "v1"}))
	require.NoError(t, r.Register(agentregistry.AgentCard{AgentID: "agent-1", Name: "v2"}))

	got, ok := r.Get("agent-1")
	require.True(t, ok)
	assert.Equal(t, "v2", got.Name)
	assert.Len(t, r.List(), 1)
}

func TestRecordFeedbackRejectsUnknownAgent(t *testing.T) {
	r := agentregistry.NewRegistry(nil)
	err := r.RecordFeedback("ghost", true)
	require.Error(t, err)
}

func TestRecordFeedbackAffectsFutureScoring(t *testing.T) {
	r := agentregistry.NewRegistry(nil)
	require.NoError(t, r.Register(agentregistry.AgentCard{AgentID: "agent-1", Skills: []string{"list_issues"}}))

	intent := scoreIntent(t, r, "list issues in the repo")
	before := intent

	for i := 0; i < 5; i++ {
		require.NoError(t, r.RecordFeedback("agent-1", true))
	}
	after := scoreIntent(t, r, "list issues in the repo")

	assert.Greater(t, after, before)
}

// scoreIntent is a small test helper that goes through the
// orchestrator.AgentDiscoverer adapter surface to read back a score,
// since scoreForGoal itself is package-private.
func scoreIntent(t *testing.T, r *agentregistry.Registry, goal string) float64 {
	t.Helper()
	r.SetThreshold(0) // let every candidate through so we can read its score
	v, err := r.DiscoverAgents(nil, discoverCriteria(goal))
	require.NoError(t, err)
	require.Equal(t, 1, len(v.Vec))
	scoreKey := v.Vec[0]
	for i, k := range scoreKey.MapKeys {
		if k.Str == "score" {
			return scoreKey.Map[k].Float
		}
		_ = i
	}
	t.Fatal("score key not found")
	return 0
}
