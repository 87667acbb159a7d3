package execctx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccos-run/ccos/rtfs"
)

func TestIsolatedSiblingsCannotSeeEachOther(t *testing.T) {
	s := NewStack(nil)
	require.NoError(t, s.Set(s.Root(), "shared", rtfs.Int(1)))

	a, err := s.EnterStep(s.Root(), "branch-a", Isolated)
	require.NoError(t, err)
	b, err := s.EnterStep(s.Root(), "branch-b", Isolated)
	require.NoError(t, err)

	require.NoError(t, s.Set(a, "only-a", rtfs.Int(2)))

	v, ok, err := s.Get(a, "shared")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1), v.Int)

	_, ok, err = s.Get(b, "only-a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSandboxedHasNoParentVisibility(t *testing.T) {
	s := NewStack(nil)
	require.NoError(t, s.Set(s.Root(), "shared", rtfs.Int(1)))

	sb, err := s.EnterStep(s.Root(), "sandboxed", Sandboxed)
	require.NoError(t, err)

	_, ok, err := s.Get(sb, "shared")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInheritWalksUpTheChain(t *testing.T) {
	s := NewStack(nil)
	require.NoError(t, s.Set(s.Root(), "shared", rtfs.Int(42)))

	mid, err := s.EnterStep(s.Root(), "mid", Inherit)
	require.NoError(t, err)
	leaf, err := s.EnterStep(mid, "leaf", Inherit)
	require.NoError(t, err)

	v, ok, err := s.Get(leaf, "shared")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(42), v.Int)
}

func TestSerializeRoundTrip(t *testing.T) {
	s := NewStack(nil)
	require.NoError(t, s.Set(s.Root(), "k", rtfs.Vector(rtfs.Int(1), rtfs.Str("two"))))
	child, err := s.EnterStep(s.Root(), "child", Isolated)
	require.NoError(t, err)
	require.NoError(t, s.Set(child, "nested", rtfs.NewMap(
		[]rtfs.MapKey{{Kind: rtfs.KKeyword, Str: "a"}},
		[]rtfs.Value{rtfs.Int(7)},
	)))

	raw, err := s.Serialize()
	require.NoError(t, err)

	restored, err := Deserialize(raw, nil)
	require.NoError(t, err)

	v, ok, err := restored.Get(s.Root(), "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, rtfs.Equal(v, rtfs.Vector(rtfs.Int(1), rtfs.Str("two"))))

	nv, ok, err := restored.Get(child, "nested")
	require.NoError(t, err)
	require.True(t, ok)
	got, ok := nv.MapGet("a")
	require.True(t, ok)
	assert.Equal(t, int64(7), got.Int)
}

func TestCheckpointCapturesCurrentData(t *testing.T) {
	s := NewStack(nil)
	require.NoError(t, s.Set(s.Root(), "progress", rtfs.Int(3)))

	cp, err := s.Checkpoint(s.Root(), "halfway")
	require.NoError(t, err)
	assert.Equal(t, "halfway", cp.Label)
	assert.Equal(t, int64(3), cp.Data["progress"].Int)
}
