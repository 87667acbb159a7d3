package orchestrator_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccos-run/ccos/causalchain"
	"github.com/ccos-run/ccos/intentgraph"
	"github.com/ccos-run/ccos/marketplace"
	"github.com/ccos-run/ccos/orchestrator"
	"github.com/ccos-run/ccos/plan"
	"github.com/ccos-run/ccos/rtfs"
)

func callExpr(capID string, args ...rtfs.Expression) rtfs.Expression {
	all := append([]rtfs.Expression{rtfs.Lit(rtfs.Keyword(capID))}, args...)
	return rtfs.Call(rtfs.Sym("call"), all...)
}

func newEchoRegistry(t *testing.T, capID string) *marketplace.Registry {
	t.Helper()
	reg := marketplace.NewRegistry(nil, nil)
	require.NoError(t, reg.Register(marketplace.Capability{
		ID:           capID,
		InputSchema:  marketplace.Any(),
		OutputSchema: marketplace.Any(),
		Provider:     marketplace.ProviderSpec{Kind: marketplace.ProviderPlugin, PluginID: capID},
	}))
	reg.RegisterPlugin(capID, func(cc *marketplace.CallContext, args rtfs.Value) (rtfs.Value, error) {
		return rtfs.Str("ok"), nil
	})
	return reg
}

func newTestGraphWithActiveIntent(t *testing.T, intentID string) *intentgraph.Graph {
	t.Helper()
	g := intentgraph.NewGraph(intentgraph.NewInMemoryBackend(), nil, nil)
	require.NoError(t, g.PutIntent(intentgraph.StorableIntent{IntentID: intentID, Status: intentgraph.StatusActive}))
	return g
}

func TestRunCompletesPlanAndTransitionsIntentToCompleted(t *testing.T) {
	reg := newEchoRegistry(t, "weather.fetch")
	chain := causalchain.NewChain(nil, nil)
	g := newTestGraphWithActiveIntent(t, "intent-1")
	o := orchestrator.NewOrchestrator(reg, chain, g, nil)

	body := callExpr("weather.fetch")
	p := plan.Plan{PlanID: "plan-1", ParsedBody: &body}

	result, err := o.Run(context.Background(), p, "intent-1")
	require.NoError(t, err)
	assert.Equal(t, rtfs.KString, result.Kind)
	assert.Equal(t, "ok", result.Str)

	intent, ok, err := g.GetIntent("intent-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, intentgraph.StatusCompleted, intent.Status)

	kinds := make([]causalchain.ActionKind, 0)
	for _, a := range chain.ActionsForPlan("plan-1") {
		kinds = append(kinds, a.Kind)
	}
	assert.Contains(t, kinds, causalchain.ActionPlanStarted)
	assert.Contains(t, kinds, causalchain.ActionCapabilityCall)
	assert.Contains(t, kinds, causalchain.ActionPlanCompleted)
}

func TestRunAbortsOnUnknownCapabilityAndTransitionsIntentToFailed(t *testing.T) {
	reg := marketplace.NewRegistry(nil, nil)
	chain := causalchain.NewChain(nil, nil)
	g := newTestGraphWithActiveIntent(t, "intent-2")
	o := orchestrator.NewOrchestrator(reg, chain, g, nil)

	body := callExpr("ghost.capability")
	p := plan.Plan{PlanID: "plan-2", ParsedBody: &body}

	_, err := o.Run(context.Background(), p, "intent-2")
	require.Error(t, err)

	intent, ok, err := g.GetIntent("intent-2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, intentgraph.StatusFailed, intent.Status)

	kinds := make([]causalchain.ActionKind, 0)
	for _, a := range chain.ActionsForPlan("plan-2") {
		kinds = append(kinds, a.Kind)
	}
	assert.Contains(t, kinds, causalchain.ActionPlanAborted)
}

func TestRunRejectsPlanWithoutParsedBody(t *testing.T) {
	reg := marketplace.NewRegistry(nil, nil)
	chain := causalchain.NewChain(nil, nil)
	o := orchestrator.NewOrchestrator(reg, chain, nil, nil)

	_, err := o.Run(context.Background(), plan.Plan{PlanID: "plan-3"}, "intent-3")
	require.Error(t, err)
}

type fixingRepairer struct {
	fixedBody rtfs.Expression
	calls     int
}

func (r *fixingRepairer) Repair(ctx context.Context, original plan.Plan, failure error) (plan.Plan, error) {
	r.calls++
	fixed := original
	fixed.ParsedBody = &r.fixedBody
	return fixed, nil
}

func TestRunRepairsFailedPlanUsingRepairer(t *testing.T) {
	reg := newEchoRegistry(t, "weather.fetch")
	chain := causalchain.NewChain(nil, nil)
	g := newTestGraphWithActiveIntent(t, "intent-4")
	o := orchestrator.NewOrchestrator(reg, chain, g, nil)

	fixed := callExpr("weather.fetch")
	repairer := &fixingRepairer{fixedBody: fixed}
	o.Repair = repairer

	broken := callExpr("ghost.capability")
	p := plan.Plan{PlanID: "plan-4", ParsedBody: &broken}

	result, err := o.Run(context.Background(), p, "intent-4")
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Str)
	assert.Equal(t, 1, repairer.calls)
}

type neverFixingRepairer struct {
	calls int
}

func (r *neverFixingRepairer) Repair(ctx context.Context, original plan.Plan, failure error) (plan.Plan, error) {
	r.calls++
	return original, nil
}

func TestRunGivesUpAfterMaxRepairAttempts(t *testing.T) {
	reg := marketplace.NewRegistry(nil, nil)
	chain := causalchain.NewChain(nil, nil)
	o := orchestrator.NewOrchestrator(reg, chain, nil, nil)
	o.MaxRepairAttempts = 2
	repairer := &neverFixingRepairer{}
	o.Repair = repairer

	body := callExpr("ghost.capability")
	p := plan.Plan{PlanID: "plan-5", ParsedBody: &body}

	_, err := o.Run(context.Background(), p, "intent-5")
	require.Error(t, err)
	assert.Equal(t, 2, repairer.calls)
}

func TestRunRecordsStepStartAndEndActions(t *testing.T) {
	reg := newEchoRegistry(t, "weather.fetch")
	chain := causalchain.NewChain(nil, nil)
	o := orchestrator.NewOrchestrator(reg, chain, nil, nil)

	inner := callExpr("weather.fetch")
	body := rtfs.Expression{Kind: rtfs.EKStep, Label: "fetch-step", StepBody: []rtfs.Expression{inner}}
	p := plan.Plan{PlanID: "plan-6", ParsedBody: &body}

	_, err := o.Run(context.Background(), p, "intent-6")
	require.NoError(t, err)

	kinds := make([]causalchain.ActionKind, 0)
	for _, a := range chain.ActionsForPlan("plan-6") {
		kinds = append(kinds, a.Kind)
	}
	assert.Contains(t, kinds, causalchain.ActionPlanStepStarted)
	assert.Contains(t, kinds, causalchain.ActionPlanStepCompleted)
}
