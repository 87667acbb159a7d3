// Package plan defines the Plan value (spec.md §3.6): the RTFS source an
// Orchestrator run executes, pre-validated by the Governance Kernel. It is
// deliberately small and dependency-light so both governance and
// orchestrator can import it without importing each other.
package plan

import (
	"time"

	"github.com/ccos-run/ccos/rtfs"
)

// Plan is the unit the Governance Kernel validates and the Orchestrator
// runs.
type Plan struct {
	PlanID    string   `json:"plan_id"`
	Name      string   `json:"name,omitempty"`
	IntentIDs []string `json:"intent_ids"`
	Body      string   `json:"body"`
	Language  string   `json:"language"`
	// ParsedBody is the AST an external RTFS parser produced from Body
	// (spec.md §1: the parser itself is out of scope; the core assumes an
	// AST of the shape described in §3). nil means Body has not been
	// parsed yet, which the Governance Kernel's pre-flight check treats as
	// a parse failure (spec.md §4.7 step 1).
	ParsedBody *rtfs.Expression `json:"-"`
	CreatedAt  time.Time        `json:"created_at"`
	Signature  string           `json:"signature,omitempty"`

	// DelegationMeta is present only for delegated plans (spec.md §4.7
	// step 4): the chosen agent and the skills the plan's capability
	// calls require of it.
	DelegationMeta *DelegationMeta `json:"delegation_meta,omitempty"`
}

// DelegationMeta names the agent a delegated plan was produced for and the
// skills it is expected to carry.
type DelegationMeta struct {
	AgentID        string   `json:"agent_id"`
	RequiredSkills []string `json:"required_skills,omitempty"`
}
