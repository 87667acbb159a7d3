package agentregistry

import (
	"context"

	"github.com/ccos-run/ccos/arbiter"
	"github.com/ccos-run/ccos/intentgraph"
	"github.com/ccos-run/ccos/pkg/rtfserrors"
	"github.com/ccos-run/ccos/rtfs"
)

// Score implements arbiter.AgentScorer: candidates scored against the
// intent's goal, filtering is left to the caller's threshold.
func (r *Registry) Score(intent intentgraph.StorableIntent) ([]arbiter.ScoredAgent, error) {
	candidates := r.scoreForGoal(intent.Goal)
	out := make([]arbiter.ScoredAgent, len(candidates))
	for i, c := range candidates {
		out[i] = arbiter.ScoredAgent{AgentID: c.card.AgentID, Score: c.score, Skills: c.card.Skills}
	}
	return out, nil
}

// TrustScore implements governance.DelegationChecker.
func (r *Registry) TrustScore(agentID string) (float64, error) {
	card, ok := r.Get(agentID)
	if !ok {
		return 0, unknownAgentErr("agentregistry", agentID)
	}
	return card.TrustScore, nil
}

// HasSkills implements governance.DelegationChecker.
func (r *Registry) HasSkills(agentID string, skills []string) (bool, error) {
	card, ok := r.Get(agentID)
	if !ok {
		return false, unknownAgentErr("agentregistry", agentID)
	}
	have := make(map[string]struct{}, len(card.Skills))
	for _, s := range card.Skills {
		have[s] = struct{}{}
	}
	for _, want := range skills {
		if _, ok := have[want]; !ok {
			return false, nil
		}
	}
	return true, nil
}

// DiscoverAgents implements orchestrator.AgentDiscoverer: `(discover-agents
// {:goal "..."})` resolves to a vector of maps describing every agent
// scoring at or above the registry's selection threshold. Only the :goal
// string of criteria is read; other keys (such as :skills) are ignored.
func (r *Registry) DiscoverAgents(ctx context.Context, criteria rtfs.Value) (rtfs.Value, error) {
	goal := ""
	if g, ok := lookupMapString(criteria, "goal"); ok {
		goal = g
	}

	candidates := r.scoreForGoal(goal)
	r.mu.RLock()
	threshold := r.threshold
	r.mu.RUnlock()

	results := make([]rtfs.Value, 0, len(candidates))
	for _, c := range candidates {
		if c.score < threshold {
			continue
		}
		skills := make([]rtfs.Value, len(c.card.Skills))
		for i, s := range c.card.Skills {
			skills[i] = rtfs.Str(s)
		}
		results = append(results, rtfs.NewMap(
			[]rtfs.MapKey{
				{Kind: rtfs.KKeyword, Str: "agent_id"},
				{Kind: rtfs.KKeyword, Str: "score"},
				{Kind: rtfs.KKeyword, Str: "skills"},
			},
			[]rtfs.Value{
				rtfs.Str(c.card.AgentID),
				rtfs.Float(c.score),
				rtfs.Vector(skills...),
			},
		))
	}
	return rtfs.Vector(results...), nil
}

func unknownAgentErr(op, agentID string) error {
	return rtfserrors.Newf(op, rtfserrors.KindCapabilityNotFound, "unknown agent %q", agentID)
}

func lookupMapString(v rtfs.Value, key string) (string, bool) {
	if v.Kind != rtfs.KMap {
		return "", false
	}
	val, ok := v.Map[rtfs.MapKey{Kind: rtfs.KKeyword, Str: key}]
	if !ok || val.Kind != rtfs.KString {
		return "", false
	}
	return val.Str, true
}
