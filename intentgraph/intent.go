// Package intentgraph implements the persistent graph of user intents: the
// dual StorableIntent/RuntimeIntent model, the status lifecycle state
// machine, pluggable storage backends, subgraph export/import and the
// relevance-ranked virtualized view used to keep an LLM's context window
// bounded (spec.md §3.3-§3.5, §4.6).
package intentgraph

import (
	"time"

	"github.com/ccos-run/ccos/pkg/rtfserrors"
	"github.com/ccos-run/ccos/rtfs"
)

// Status is one of the 5 lifecycle states (spec.md §3.4).
type Status string

const (
	StatusActive    Status = "Active"
	StatusSuspended Status = "Suspended"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
	StatusArchived  Status = "Archived"
)

var allowedTransitions = map[Status]map[Status]bool{
	StatusActive:    {StatusSuspended: true, StatusCompleted: true, StatusFailed: true, StatusArchived: true},
	StatusSuspended: {StatusActive: true, StatusArchived: true},
	StatusFailed:    {StatusActive: true, StatusArchived: true},
	StatusCompleted: {StatusArchived: true},
	StatusArchived:  {},
}

// ValidateTransition enforces spec.md §3.4's state machine.
func ValidateTransition(from, to Status) error {
	if allowedTransitions[from][to] {
		return nil
	}
	return rtfserrors.Newf("intentgraph.ValidateTransition", rtfserrors.KindInvalidTransition,
		"cannot transition intent from %s to %s", from, to).
		WithDetail("from", string(from)).WithDetail("to", string(to))
}

// StorableIntent is the serialization-safe form (spec.md §3.3).
type StorableIntent struct {
	IntentID            string                 `json:"intent_id"`
	Goal                string                 `json:"goal"`
	CanonicalRTFSSource  string                 `json:"canonical_rtfs_source"`
	ParsedAST            rtfs.Expression        `json:"-"`
	Constraints          map[string]rtfs.Value  `json:"constraints,omitempty"`
	Preferences          map[string]rtfs.Value  `json:"preferences,omitempty"`
	SuccessCriteriaAST   *rtfs.Expression       `json:"-"`
	Status               Status                 `json:"status"`
	Metadata             map[string]interface{} `json:"metadata,omitempty"`
	ParentIntent         string                 `json:"parent_intent,omitempty"`
	ChildIntents         []string               `json:"child_intents,omitempty"`
	CreatedAt            time.Time              `json:"created_at"`
	UpdatedAt            time.Time              `json:"updated_at"`
}

// RuntimeIntent adds a pre-reduced success-criteria closure over the same
// fields, avoiding re-evaluating success_criteria_ast on every check once
// an orchestrator run has it in hand.
type RuntimeIntent struct {
	StorableIntent
	SuccessCriteriaFn func(rtfs.Value) (bool, error)
}

// Clone returns a deep-enough copy safe to mutate independently (child
// slice and metadata map are copied; parsed AST is shared, since
// expressions are treated as immutable after parse).
func (s StorableIntent) Clone() StorableIntent {
	out := s
	out.ChildIntents = append([]string(nil), s.ChildIntents...)
	if s.Metadata != nil {
		out.Metadata = make(map[string]interface{}, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
