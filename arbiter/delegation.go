package arbiter

import (
	"context"

	"github.com/ccos-run/ccos/causalchain"
	"github.com/ccos-run/ccos/intentgraph"
	"github.com/ccos-run/ccos/pkg/logger"
	"github.com/ccos-run/ccos/pkg/rtfserrors"
	"github.com/ccos-run/ccos/plan"
	"github.com/ccos-run/ccos/rtfs"
)

// delegatedPlan implements spec.md §4.10's delegation lifecycle steps
// (a)-(c): score candidate agents, propose the best one, ask Governance
// to approve. Step (d) — DelegationCompleted and the feedback call — runs
// later, once the delegated plan has actually executed, via
// CompleteDelegation.
func (a *Arbiter) delegatedPlan(ctx context.Context, intent intentgraph.StorableIntent) (plan.Plan, error) {
	if a.Scorer == nil {
		return plan.Plan{}, rtfserrors.New("arbiter.delegatedPlan", rtfserrors.KindUserError, "no agent scorer configured for the delegating variant")
	}

	candidates, err := a.Scorer.Score(intent)
	if err != nil {
		return plan.Plan{}, rtfserrors.Wrap("arbiter.delegatedPlan", rtfserrors.KindTransientProviderError, err)
	}
	best, ok := bestCandidate(candidates, a.threshold())
	if !ok {
		return plan.Plan{}, rtfserrors.Newf("arbiter.delegatedPlan", rtfserrors.KindCapabilityNotFound, "no agent scored above the delegation threshold (%.2f)", a.threshold())
	}

	p := a.buildDelegatedPlan(intent, best)

	a.appendDelegationAction(p, intent.IntentID, causalchain.ActionDelegationProposed, map[string]interface{}{
		"agent_id": best.AgentID,
		"score":    best.Score,
	})

	if a.Governance != nil {
		if err := a.Governance.Validate(p); err != nil {
			a.appendDelegationAction(p, intent.IntentID, causalchain.ActionDelegationRejected, map[string]interface{}{
				"agent_id": best.AgentID,
				"reason":   err.Error(),
			})
			return plan.Plan{}, err
		}
		a.appendDelegationAction(p, intent.IntentID, causalchain.ActionDelegationApproved, map[string]interface{}{
			"agent_id": best.AgentID,
		})
	}

	return p, nil
}

// CompleteDelegation implements delegation lifecycle step (d): record
// DelegationCompleted and feed the outcome back to the Agent Registry's
// rolling success statistics. A no-op for plans that were never
// delegated.
func (a *Arbiter) CompleteDelegation(p plan.Plan, success bool) {
	if p.DelegationMeta == nil {
		return
	}
	a.appendDelegationAction(p, "", causalchain.ActionDelegationCompleted, map[string]interface{}{
		"agent_id": p.DelegationMeta.AgentID,
		"success":  success,
	})
	if a.Scorer != nil {
		if err := a.Scorer.RecordFeedback(p.DelegationMeta.AgentID, success); err != nil {
			a.log.Error("failed to record delegation feedback", logger.Fields{"agent_id": p.DelegationMeta.AgentID, "error": err.Error()})
		}
	}
}

func (a *Arbiter) appendDelegationAction(p plan.Plan, intentID string, kind causalchain.ActionKind, metadata map[string]interface{}) {
	if a.Chain == nil {
		return
	}
	if _, err := a.Chain.Append(causalchain.Draft{
		PlanID:   p.PlanID,
		IntentID: intentID,
		Kind:     kind,
		Metadata: metadata,
	}); err != nil {
		a.log.Error("failed to append delegation action", logger.Fields{"plan_id": p.PlanID, "kind": string(kind), "error": err.Error()})
	}
}

func bestCandidate(candidates []ScoredAgent, threshold float64) (ScoredAgent, bool) {
	var best ScoredAgent
	found := false
	for _, c := range candidates {
		if c.Score < threshold {
			continue
		}
		if !found || c.Score > best.Score {
			best = c
			found = true
		}
	}
	return best, found
}

// buildDelegatedPlan builds a single `(call :agent.delegate ...)` step
// naming the chosen agent and the intent's goal; the capability's
// provider (outside this package) is what actually dispatches to the
// remote agent.
func (a *Arbiter) buildDelegatedPlan(intent intentgraph.StorableIntent, agent ScoredAgent) plan.Plan {
	argsVal := rtfs.NewMap(
		[]rtfs.MapKey{{Kind: rtfs.KKeyword, Str: "agent_id"}, {Kind: rtfs.KKeyword, Str: "goal"}},
		[]rtfs.Value{rtfs.Str(agent.AgentID), rtfs.Str(intent.Goal)},
	)
	body := rtfs.Call(rtfs.Sym("call"), rtfs.Lit(rtfs.Keyword("agent.delegate")), rtfs.Lit(argsVal))
	source := `(call :agent.delegate {:agent_id "` + agent.AgentID + `" :goal "` + intent.Goal + `"})`

	p := newPlan(intent, intent.Goal, source, &body)
	p.DelegationMeta = &plan.DelegationMeta{AgentID: agent.AgentID, RequiredSkills: agent.Skills}
	return p
}
