package governance_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccos-run/ccos/governance"
)

func TestDefaultConstitutionFlagsUnapprovedDangerousCall(t *testing.T) {
	c, err := governance.DefaultConstitution()
	require.NoError(t, err)
	require.NoError(t, c.SetDangerousNamespaces([]string{"dangerous.fs"}))

	sites := []governance.CallSite{{CapabilityID: "dangerous.fs.delete"}}
	require.NoError(t, c.AssertPlanCalls("plan-1", sites, nil))

	violations, err := c.Violations("plan-1")
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, "dangerous.fs.delete", violations[0].CapabilityID)
}

func TestDefaultConstitutionAllowsApprovedDangerousCall(t *testing.T) {
	c, err := governance.DefaultConstitution()
	require.NoError(t, err)
	require.NoError(t, c.SetDangerousNamespaces([]string{"dangerous.fs"}))

	sites := []governance.CallSite{{CapabilityID: "dangerous.fs.delete"}}
	approved := map[string]bool{"dangerous.fs.delete": true}
	require.NoError(t, c.AssertPlanCalls("plan-2", sites, approved))

	violations, err := c.Violations("plan-2")
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestDefaultConstitutionIgnoresSafeNamespace(t *testing.T) {
	c, err := governance.DefaultConstitution()
	require.NoError(t, err)
	require.NoError(t, c.SetDangerousNamespaces([]string{"dangerous.fs"}))

	sites := []governance.CallSite{{CapabilityID: "weather.fetch"}}
	require.NoError(t, c.AssertPlanCalls("plan-3", sites, nil))

	violations, err := c.Violations("plan-3")
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestConstitutionViolationsAreScopedPerPlan(t *testing.T) {
	c, err := governance.DefaultConstitution()
	require.NoError(t, err)
	require.NoError(t, c.SetDangerousNamespaces([]string{"dangerous.fs"}))

	require.NoError(t, c.AssertPlanCalls("plan-a", []governance.CallSite{{CapabilityID: "dangerous.fs.delete"}}, nil))
	require.NoError(t, c.AssertPlanCalls("plan-b", []governance.CallSite{{CapabilityID: "weather.fetch"}}, nil))

	violationsA, err := c.Violations("plan-a")
	require.NoError(t, err)
	assert.Len(t, violationsA, 1)

	violationsB, err := c.Violations("plan-b")
	require.NoError(t, err)
	assert.Empty(t, violationsB)
}
