package eventsink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccos-run/ccos/causalchain"
)

func TestNoopSinkAlwaysSucceeds(t *testing.T) {
	var s Sink = NoopSink{}
	require.NoError(t, s.LogIntentStatusChange("p1", "i1", "Active", "Completed", "done", "a1"))
}

func TestCausalChainSinkAppendsAction(t *testing.T) {
	chain := causalchain.NewChain(nil, nil)
	sink := NewCausalChainSink(chain)

	require.NoError(t, sink.LogIntentStatusChange("p1", "i1", "Active", "Completed", "goal met", "a1"))

	actions := chain.ActionsForIntent("i1")
	require.Len(t, actions, 1)
	assert.Equal(t, causalchain.ActionIntentStatusChanged, actions[0].Kind)
	assert.Equal(t, "Completed", actions[0].Metadata["new_status"])
}
