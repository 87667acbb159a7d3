package governance_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccos-run/ccos/governance"
	"github.com/ccos-run/ccos/rtfs"
)

func callExpr(capID string, args ...rtfs.Expression) rtfs.Expression {
	all := append([]rtfs.Expression{rtfs.Lit(rtfs.Keyword(capID))}, args...)
	return rtfs.Call(rtfs.Sym("call"), all...)
}

func TestCollectCallSitesFindsTopLevelCall(t *testing.T) {
	body := callExpr("weather.fetch", rtfs.Lit(rtfs.Str("x")))
	sites := governance.CollectCallSites(body)
	require.Len(t, sites, 1)
	assert.Equal(t, "weather.fetch", sites[0].CapabilityID)
}

func TestCollectCallSitesFindsNestedCallsInDo(t *testing.T) {
	body := rtfs.Expression{
		Kind: rtfs.EKDo,
		Exprs: []rtfs.Expression{
			callExpr("fs.read"),
			callExpr("fs.write"),
		},
	}
	sites := governance.CollectCallSites(body)
	require.Len(t, sites, 2)
	assert.Equal(t, "fs.read", sites[0].CapabilityID)
	assert.Equal(t, "fs.write", sites[1].CapabilityID)
}

func TestCollectCallSitesFindsCallsInsideIfBranches(t *testing.T) {
	cond := rtfs.Lit(rtfs.Str("true"))
	then := callExpr("net.http.get")
	els := callExpr("net.http.post")
	body := rtfs.Expression{Kind: rtfs.EKIf, Cond: &cond, Then: &then, Else: &els}

	sites := governance.CollectCallSites(body)
	require.Len(t, sites, 2)
	ids := []string{sites[0].CapabilityID, sites[1].CapabilityID}
	assert.Contains(t, ids, "net.http.get")
	assert.Contains(t, ids, "net.http.post")
}

func TestCollectCallSitesFindsCallsInsideStepParallel(t *testing.T) {
	body := rtfs.Expression{
		Kind:     rtfs.EKStepParallel,
		Branches: []rtfs.Expression{callExpr("a.one"), callExpr("a.two")},
	}
	sites := governance.CollectCallSites(body)
	require.Len(t, sites, 2)
}

func TestCollectCallSitesSkipsDynamicCapabilityID(t *testing.T) {
	dynamic := rtfs.Sym("chosen-capability")
	body := rtfs.Call(rtfs.Sym("call"), dynamic)
	sites := governance.CollectCallSites(body)
	assert.Empty(t, sites)
}

func TestCollectCallSitesIgnoresNonCallCalls(t *testing.T) {
	body := rtfs.Call(rtfs.Sym("+"), rtfs.Lit(rtfs.Keyword("not.a.capability")))
	sites := governance.CollectCallSites(body)
	assert.Empty(t, sites)
}
