package marketplace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccos-run/ccos/pkg/rtfserrors"
	"github.com/ccos-run/ccos/rtfs"
)

func echoCapability(id string, schema TypeExpr) Capability {
	return Capability{
		ID:      id,
		Version: "1",
		Provider: ProviderSpec{
			Kind: ProviderLocal,
			Handler: func(cc *CallContext, args rtfs.Value) (rtfs.Value, error) {
				return args, nil
			},
		},
		InputSchema:  schema,
		OutputSchema: schema,
	}
}

func TestRegisterRejectsDuplicateKey(t *testing.T) {
	reg := NewRegistry(nil, nil)
	cap := echoCapability("echo.say", Any())
	require.NoError(t, reg.Register(cap))

	err := reg.Register(cap)
	require.Error(t, err)
	kind, ok := rtfserrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, rtfserrors.KindSchemaMismatch, kind)
}

func TestExecuteUnknownCapability(t *testing.T) {
	reg := NewRegistry(nil, nil)
	_, err := reg.Execute(&CallContext{Ctx: context.Background()}, "nope", rtfs.Nil)
	require.Error(t, err)
	kind, ok := rtfserrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, rtfserrors.KindCapabilityNotFound, kind)
}

func TestExecuteValidatesInputSchema(t *testing.T) {
	reg := NewRegistry(nil, nil)
	schema := Record(Field{Name: "n", Type: Int()})
	require.NoError(t, reg.Register(echoCapability("math.square", schema)))

	badArgs := rtfs.NewMap([]rtfs.MapKey{{Kind: rtfs.KKeyword, Str: "n"}}, []rtfs.Value{rtfs.Str("not a number")})
	_, err := reg.Execute(&CallContext{Ctx: context.Background()}, "math.square", badArgs)
	require.Error(t, err)
	kind, ok := rtfserrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, rtfserrors.KindSchemaMismatch, kind)
}

func TestExecuteLocalHappyPath(t *testing.T) {
	reg := NewRegistry(nil, nil)
	schema := Record(Field{Name: "n", Type: Int()})
	require.NoError(t, reg.Register(echoCapability("math.identity", schema)))

	args := rtfs.NewMap([]rtfs.MapKey{{Kind: rtfs.KKeyword, Str: "n"}}, []rtfs.Value{rtfs.Int(5)})
	out, err := reg.Execute(&CallContext{Ctx: context.Background()}, "math.identity", args)
	require.NoError(t, err)
	got, ok := out.MapGet("n")
	require.True(t, ok)
	assert.Equal(t, int64(5), got.Int)
}

func TestApprovalGateBlocksUnapprovedCalls(t *testing.T) {
	reg := NewRegistry(denyAllApprover{}, nil)
	cap := echoCapability("risky.op", Any())
	cap.RequiresApproval = true
	require.NoError(t, reg.Register(cap))

	_, err := reg.Execute(&CallContext{Ctx: context.Background()}, "risky.op", rtfs.Nil)
	require.Error(t, err)
	kind, ok := rtfserrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, rtfserrors.KindPermissionDenied, kind)
}

type denyAllApprover struct{}

func (denyAllApprover) Approve(ctx context.Context, callID, capabilityID string, args rtfs.Value) (bool, error) {
	return false, nil
}

func TestAttestationMismatchRejected(t *testing.T) {
	reg := NewRegistry(nil, nil)
	cap := echoCapability("signed.op", Any())
	cap.Attestation = &Attestation{ManifestHash: "deadbeef"}
	require.NoError(t, reg.Register(cap))

	_, err := reg.Execute(&CallContext{Ctx: context.Background()}, "signed.op", rtfs.Nil)
	require.Error(t, err)
	kind, ok := rtfserrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, rtfserrors.KindAttestationFailure, kind)
}
