// Package causalchain implements the append-only, hash-linked,
// cryptographically-signed audit ledger: every observable event in a plan's
// lifetime becomes one Action, chained to its predecessor by content hash.
package causalchain

import "time"

// ActionKind discriminates the fixed vocabulary of ledger entries.
type ActionKind string

const (
	ActionPlanStarted   ActionKind = "PlanStarted"
	ActionPlanCompleted ActionKind = "PlanCompleted"
	ActionPlanAborted   ActionKind = "PlanAborted"
	ActionPlanPaused    ActionKind = "PlanPaused"
	ActionPlanResumed   ActionKind = "PlanResumed"

	ActionPlanStepStarted   ActionKind = "PlanStepStarted"
	ActionPlanStepCompleted ActionKind = "PlanStepCompleted"
	ActionPlanStepFailed    ActionKind = "PlanStepFailed"
	ActionPlanStepRetrying  ActionKind = "PlanStepRetrying"

	ActionCapabilityCall ActionKind = "CapabilityCall"
	ActionInternalStep   ActionKind = "InternalStep"

	ActionIntentCreated             ActionKind = "IntentCreated"
	ActionIntentStatusChanged       ActionKind = "IntentStatusChanged"
	ActionIntentRelationshipCreated ActionKind = "IntentRelationshipCreated"
	ActionIntentRelationshipModified ActionKind = "IntentRelationshipModified"
	ActionIntentArchived            ActionKind = "IntentArchived"
	ActionIntentReactivated         ActionKind = "IntentReactivated"

	ActionDelegationProposed ActionKind = "DelegationProposed"
	ActionDelegationApproved ActionKind = "DelegationApproved"
	ActionDelegationRejected ActionKind = "DelegationRejected"
	ActionDelegationCompleted ActionKind = "DelegationCompleted"
)

// Action is one entry in the Causal Chain (spec.md §3.7).
type Action struct {
	ActionID       string                 `json:"action_id"`
	ParentActionID string                 `json:"parent_action_id,omitempty"`
	PlanID         string                 `json:"plan_id,omitempty"`
	IntentID       string                 `json:"intent_id"`
	StepID         string                 `json:"step_id,omitempty"`
	Kind           ActionKind             `json:"kind"`
	Timestamp      time.Time              `json:"timestamp"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`

	ContentHash string `json:"content_hash"`
	PrevHash    string `json:"prev_hash"`
	Signature   string `json:"signature"`
}

// Draft is the set of fields a caller supplies; Append computes the
// hash-chain and signature fields itself so callers can never forge them.
type Draft struct {
	ParentActionID string
	PlanID         string
	IntentID       string
	StepID         string
	Kind           ActionKind
	Metadata       map[string]interface{}
}
