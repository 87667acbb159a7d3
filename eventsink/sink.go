// Package eventsink implements the mandatory audit surface every intent
// status transition passes through (spec.md §4.9, C9): a NoopSink for
// tests and a CausalChainSink that makes the transition fail-closed in
// production.
package eventsink

import (
	"github.com/ccos-run/ccos/causalchain"
	"github.com/ccos-run/ccos/pkg/rtfserrors"
)

// Sink is the trait intentgraph.Graph calls on every status transition.
// If LogIntentStatusChange returns an error, the transition it's guarding
// must fail too — no best-effort logging (spec.md §4.6 step 4).
type Sink interface {
	LogIntentStatusChange(planID, intentID, oldStatus, newStatus, reason, triggeringActionID string) error
}

// NoopSink always succeeds; used by tests and any embedding that doesn't
// need an audit trail.
type NoopSink struct{}

func (NoopSink) LogIntentStatusChange(string, string, string, string, string, string) error {
	return nil
}

// CausalChainSink appends an IntentStatusChanged action to a causal chain
// for every transition, making the chain the single source of truth for
// intent history.
type CausalChainSink struct {
	Chain *causalchain.Chain
}

func NewCausalChainSink(chain *causalchain.Chain) *CausalChainSink {
	return &CausalChainSink{Chain: chain}
}

func (s *CausalChainSink) LogIntentStatusChange(planID, intentID, oldStatus, newStatus, reason, triggeringActionID string) error {
	_, err := s.Chain.Append(causalchain.Draft{
		ParentActionID: triggeringActionID,
		PlanID:         planID,
		IntentID:       intentID,
		Kind:           causalchain.ActionIntentStatusChanged,
		Metadata: map[string]interface{}{
			"old_status":           oldStatus,
			"new_status":           newStatus,
			"reason":               reason,
			"triggering_action_id": triggeringActionID,
		},
	})
	if err != nil {
		return rtfserrors.Wrap("eventsink.CausalChainSink.LogIntentStatusChange", rtfserrors.KindStorageError, err)
	}
	return nil
}
