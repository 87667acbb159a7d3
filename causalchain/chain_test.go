package causalchain

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendChainsHashes(t *testing.T) {
	signer, err := NewSigner()
	require.NoError(t, err)
	defer signer.Destroy()

	chain := NewChain(signer, nil)

	a1, err := chain.Append(Draft{IntentID: "intent-1", Kind: ActionPlanStarted})
	require.NoError(t, err)
	assert.Empty(t, a1.PrevHash)
	assert.NotEmpty(t, a1.ContentHash)
	assert.NotEmpty(t, a1.Signature)

	a2, err := chain.Append(Draft{IntentID: "intent-1", Kind: ActionPlanCompleted})
	require.NoError(t, err)
	assert.Equal(t, a1.ContentHash, a2.PrevHash)
}

func TestVerifyDetectsTamperedContent(t *testing.T) {
	signer, err := NewSigner()
	require.NoError(t, err)
	defer signer.Destroy()

	chain := NewChain(signer, nil)
	_, err = chain.Append(Draft{IntentID: "intent-1", Kind: ActionPlanStarted})
	require.NoError(t, err)
	_, err = chain.Append(Draft{IntentID: "intent-1", Kind: ActionPlanCompleted})
	require.NoError(t, err)

	require.NoError(t, chain.Verify(signer.PublicKey()))

	chain.actions[0].Metadata = map[string]interface{}{"tampered": true}
	err = chain.Verify(signer.PublicKey())
	require.Error(t, err)
}

func TestIndexesByIntentPlanStepKind(t *testing.T) {
	chain := NewChain(nil, nil)
	_, err := chain.Append(Draft{IntentID: "i1", PlanID: "p1", StepID: "s1", Kind: ActionPlanStepStarted})
	require.NoError(t, err)
	_, err = chain.Append(Draft{IntentID: "i1", PlanID: "p1", StepID: "s2", Kind: ActionPlanStepCompleted})
	require.NoError(t, err)
	_, err = chain.Append(Draft{IntentID: "i2", PlanID: "p2", Kind: ActionCapabilityCall})
	require.NoError(t, err)

	assert.Len(t, chain.ActionsForIntent("i1"), 2)
	assert.Len(t, chain.ActionsForPlan("p1"), 2)
	assert.Len(t, chain.ActionsForStep("s1"), 1)
	assert.Len(t, chain.ActionsByKind(ActionCapabilityCall), 1)
	assert.Empty(t, chain.ActionsForIntent("does-not-exist"))
}

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chain.jsonl")
	store := NewFileStore(path)

	chain := NewChain(nil, nil)
	a1, err := chain.Append(Draft{IntentID: "i1", Kind: ActionPlanStarted})
	require.NoError(t, err)
	a2, err := chain.Append(Draft{IntentID: "i1", Kind: ActionPlanCompleted})
	require.NoError(t, err)

	require.NoError(t, store.Append(a1))
	require.NoError(t, store.Append(a2))

	loaded, err := store.LoadAll()
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, a1.ActionID, loaded[0].ActionID)
	assert.Equal(t, a2.ContentHash, loaded[1].ContentHash)
}

func TestFileStoreCompactIsAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chain.jsonl")
	store := NewFileStore(path)

	chain := NewChain(nil, nil)
	a1, _ := chain.Append(Draft{IntentID: "i1", Kind: ActionPlanStarted})
	require.NoError(t, store.Append(a1))

	require.NoError(t, store.Compact(chain.collect([]int{0})))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}

	loaded, err := store.LoadAll()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
}
