package governance

import "github.com/ccos-run/ccos/rtfs"

// CallSite is one statically-discoverable `(call :cap-id ...)` site found
// while walking a plan body (spec.md §4.7 step 2).
type CallSite struct {
	CapabilityID string
	Loc          string
}

// CollectCallSites walks body recursively and returns every capability id
// that appears as a literal first argument to `call`. A capability id
// computed at runtime (bound to a variable, built from a function result,
// etc.) cannot be resolved without evaluating the plan, so it is skipped —
// the pre-flight check only validates what is statically visible, the same
// limitation static analysis of any dynamically-dispatched call site has.
func CollectCallSites(body rtfs.Expression) []CallSite {
	var sites []CallSite
	walk(body, &sites)
	return sites
}

func walk(e rtfs.Expression, out *[]CallSite) {
	switch e.Kind {
	case rtfs.EKCall:
		if e.FnExpr != nil && e.FnExpr.Kind == rtfs.EKSymbol && e.FnExpr.Symbol == "call" && len(e.Args) >= 1 {
			if id, ok := literalCapabilityID(e.Args[0]); ok {
				loc := ""
				if e.Loc != nil {
					loc = e.Loc.String()
				}
				*out = append(*out, CallSite{CapabilityID: id, Loc: loc})
			}
		}
		if e.FnExpr != nil {
			walk(*e.FnExpr, out)
		}
		for _, a := range e.Args {
			walk(a, out)
		}
	case rtfs.EKIf:
		if e.Cond != nil {
			walk(*e.Cond, out)
		}
		if e.Then != nil {
			walk(*e.Then, out)
		}
		if e.Else != nil {
			walk(*e.Else, out)
		}
	case rtfs.EKDo:
		walkAll(e.Exprs, out)
	case rtfs.EKLet:
		for _, b := range e.Bindings {
			walk(b.Value, out)
		}
		walkAll(e.Body, out)
	case rtfs.EKFn, rtfs.EKDefn:
		walkAll(e.Body, out)
	case rtfs.EKDef:
		if e.Value_ != nil {
			walk(*e.Value_, out)
		}
	case rtfs.EKMatch:
		if e.Scrutinee != nil {
			walk(*e.Scrutinee, out)
		}
		for _, arm := range e.Arms {
			if arm.Guard != nil {
				walk(*arm.Guard, out)
			}
			walkAll(arm.Body, out)
		}
	case rtfs.EKTryCatch:
		walkAll(e.TryBody, out)
		for _, c := range e.CatchArms {
			walkAll(c.Body, out)
		}
		walkAll(e.Finally, out)
	case rtfs.EKStep:
		walkAll(e.StepBody, out)
	case rtfs.EKStepParallel:
		walkAll(e.Branches, out)
	case rtfs.EKVector, rtfs.EKSet:
		walkAll(e.Items, out)
	case rtfs.EKMap:
		walkAll(e.MapKeys, out)
		walkAll(e.MapVals, out)
	case rtfs.EKDiscoverAgents:
		for _, v := range e.Criteria {
			walk(v, out)
		}
	case rtfs.EKLogStep:
		walkAll(e.LogValues, out)
	}
}

func walkAll(exprs []rtfs.Expression, out *[]CallSite) {
	for _, e := range exprs {
		walk(e, out)
	}
}

func literalCapabilityID(e rtfs.Expression) (string, bool) {
	if e.Kind != rtfs.EKLiteral {
		return "", false
	}
	switch e.Literal.Kind {
	case rtfs.KKeyword, rtfs.KString, rtfs.KSymbol:
		return e.Literal.Str, true
	default:
		return "", false
	}
}
