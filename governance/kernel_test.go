package governance_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccos-run/ccos/governance"
	"github.com/ccos-run/ccos/marketplace"
	"github.com/ccos-run/ccos/plan"
	"github.com/ccos-run/ccos/rtfs"
)

func newRegistryWith(t *testing.T, capID string) *marketplace.Registry {
	t.Helper()
	reg := marketplace.NewRegistry(nil, nil)
	require.NoError(t, reg.Register(marketplace.Capability{
		ID:           capID,
		InputSchema:  marketplace.Any(),
		OutputSchema: marketplace.Any(),
		Provider:     marketplace.ProviderSpec{Kind: marketplace.ProviderPlugin, PluginID: capID},
	}))
	return reg
}

func newTestKernel(t *testing.T, capID string, dangerous []string) (*governance.Kernel, *marketplace.Registry) {
	t.Helper()
	reg := newRegistryWith(t, capID)
	c, err := governance.DefaultConstitution()
	require.NoError(t, err)
	require.NoError(t, c.SetDangerousNamespaces(dangerous))
	k := governance.NewKernel(reg, c, nil, nil)
	return k, reg
}

func planWithBody(body rtfs.Expression) plan.Plan {
	return plan.Plan{PlanID: "plan-1", ParsedBody: &body}
}

func TestValidateRejectsUnparsedPlan(t *testing.T) {
	k, _ := newTestKernel(t, "weather.fetch", nil)
	err := k.Validate(plan.Plan{PlanID: "plan-1"})
	require.Error(t, err)
}

func TestValidateRejectsUnknownCapability(t *testing.T) {
	k, _ := newTestKernel(t, "weather.fetch", nil)
	body := callExpr("ghost.capability")
	err := k.Validate(planWithBody(body))
	require.Error(t, err)
}

func TestValidateAcceptsKnownSafeCapability(t *testing.T) {
	k, _ := newTestKernel(t, "weather.fetch", nil)
	body := callExpr("weather.fetch")
	err := k.Validate(planWithBody(body))
	assert.NoError(t, err)
}

func TestValidateRejectsUnapprovedDangerousCapability(t *testing.T) {
	k, _ := newTestKernel(t, "dangerous.fs.delete", []string{"dangerous.fs"})
	body := callExpr("dangerous.fs.delete")
	err := k.Validate(planWithBody(body))
	require.Error(t, err)
}

func TestValidateAcceptsApprovedDangerousCapability(t *testing.T) {
	k, _ := newTestKernel(t, "dangerous.fs.delete", []string{"dangerous.fs"})
	k.RecordApproval("dangerous.fs.delete")
	body := callExpr("dangerous.fs.delete")
	err := k.Validate(planWithBody(body))
	assert.NoError(t, err)
}

func TestValidateRejectsDelegationWithoutChecker(t *testing.T) {
	k, _ := newTestKernel(t, "weather.fetch", nil)
	p := planWithBody(callExpr("weather.fetch"))
	p.DelegationMeta = &plan.DelegationMeta{AgentID: "agent-1"}
	err := k.Validate(p)
	require.Error(t, err)
}

type fakeDelegationChecker struct {
	score  float64
	skills map[string]bool
}

func (f fakeDelegationChecker) TrustScore(agentID string) (float64, error) {
	return f.score, nil
}

func (f fakeDelegationChecker) HasSkills(agentID string, skills []string) (bool, error) {
	for _, s := range skills {
		if !f.skills[s] {
			return false, nil
		}
	}
	return true, nil
}

func TestValidateAcceptsDelegationAboveThreshold(t *testing.T) {
	reg := newRegistryWith(t, "weather.fetch")
	c, err := governance.DefaultConstitution()
	require.NoError(t, err)
	checker := fakeDelegationChecker{score: 0.9, skills: map[string]bool{"weather": true}}
	k := governance.NewKernel(reg, c, checker, nil)

	p := planWithBody(callExpr("weather.fetch"))
	p.DelegationMeta = &plan.DelegationMeta{AgentID: "agent-1", RequiredSkills: []string{"weather"}}
	assert.NoError(t, k.Validate(p))
}

func TestValidateRejectsDelegationBelowThreshold(t *testing.T) {
	reg := newRegistryWith(t, "weather.fetch")
	c, err := governance.DefaultConstitution()
	require.NoError(t, err)
	checker := fakeDelegationChecker{score: 0.1, skills: map[string]bool{"weather": true}}
	k := governance.NewKernel(reg, c, checker, nil)

	p := planWithBody(callExpr("weather.fetch"))
	p.DelegationMeta = &plan.DelegationMeta{AgentID: "agent-1", RequiredSkills: []string{"weather"}}
	require.Error(t, k.Validate(p))
}

func TestValidateRejectsDelegationMissingSkill(t *testing.T) {
	reg := newRegistryWith(t, "weather.fetch")
	c, err := governance.DefaultConstitution()
	require.NoError(t, err)
	checker := fakeDelegationChecker{score: 0.9, skills: map[string]bool{}}
	k := governance.NewKernel(reg, c, checker, nil)

	p := planWithBody(callExpr("weather.fetch"))
	p.DelegationMeta = &plan.DelegationMeta{AgentID: "agent-1", RequiredSkills: []string{"weather"}}
	require.Error(t, k.Validate(p))
}

func TestApproveDeniesUnrecordedCall(t *testing.T) {
	k, _ := newTestKernel(t, "weather.fetch", nil)
	approved, err := k.Approve(nil, "call-1", "weather.fetch", rtfs.Nil)
	require.NoError(t, err)
	assert.False(t, approved)
}

func TestApproveAllowsRecordedCall(t *testing.T) {
	k, _ := newTestKernel(t, "weather.fetch", nil)
	k.RecordApproval("call-1")
	approved, err := k.Approve(nil, "call-1", "weather.fetch", rtfs.Nil)
	require.NoError(t, err)
	assert.True(t, approved)
}
