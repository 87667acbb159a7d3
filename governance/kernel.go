// Package governance implements the Governance Kernel (spec.md §4.7, C7):
// the pre-flight gate every plan passes through before the Orchestrator
// runs it, plus the synchronous approval authority the Capability
// Marketplace consults for capabilities marked RequiresApproval.
package governance

import (
	"context"
	"sync"

	"github.com/ccos-run/ccos/marketplace"
	"github.com/ccos-run/ccos/pkg/logger"
	"github.com/ccos-run/ccos/pkg/rtfserrors"
	"github.com/ccos-run/ccos/plan"
	"github.com/ccos-run/ccos/rtfs"
)

// DelegationChecker is the narrow slice of the Agent Registry (C11) the
// Governance Kernel needs for spec.md §4.7 step 4. Declared locally rather
// than importing package agentregistry so neither package depends on the
// other — the same pattern intentgraph.EventSink uses against eventsink.
type DelegationChecker interface {
	TrustScore(agentID string) (float64, error)
	HasSkills(agentID string, skills []string) (bool, error)
}

// DefaultTrustThreshold is the minimum trust score a delegated plan's agent
// must carry (spec.md §4.11 names 0.65 as the Agent Registry's own
// selection threshold; the Governance Kernel reuses it rather than
// inventing a second number the spec never separately justifies).
const DefaultTrustThreshold = 0.65

// Kernel is the Governance Kernel (spec.md §4.7): pre-flight plan
// validation plus the synchronous Approver the marketplace calls into.
// Grounded on theRebelliousNerd-codenerd's Engine as the constitution
// evaluator, composed here with the marketplace registry's capability
// lookup (C4) the way the orchestrator (C8) will compose the Governance
// Kernel, Causal Chain and Intent Graph around rtfs.Host.
type Kernel struct {
	registry     *marketplace.Registry
	constitution *Constitution
	delegation   DelegationChecker
	trustThresh  float64
	log          logger.Logger

	mu       sync.Mutex
	approved map[string]bool // callID -> explicitly approved
}

// NewKernel builds a Governance Kernel from a loaded constitution and the
// marketplace registry it validates calls against. delegation may be nil;
// delegated plans then fail closed.
func NewKernel(registry *marketplace.Registry, constitution *Constitution, delegation DelegationChecker, log logger.Logger) *Kernel {
	if log == nil {
		log = logger.NoOpLogger{}
	}
	return &Kernel{
		registry:     registry,
		constitution: constitution,
		delegation:   delegation,
		trustThresh:  DefaultTrustThreshold,
		log:          log.WithComponent("ccos/governance"),
		approved:     make(map[string]bool),
	}
}

// SetTrustThreshold overrides DefaultTrustThreshold.
func (k *Kernel) SetTrustThreshold(t float64) {
	k.trustThresh = t
}

// RecordApproval marks id as explicitly approved. Approve matches it
// against a call id (spec.md §4.4's CallContext.StepID); Validate's
// constitution check matches it against capability ids, so recording a
// capability id satisfies constitution rules that require approval for a
// dangerous-namespace capability.
func (k *Kernel) RecordApproval(callID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.approved[callID] = true
}

// Approve implements marketplace.Approver: the marketplace calls this
// synchronously for any capability with RequiresApproval set (spec.md
// §4.4 step 3). A call not previously recorded via RecordApproval is
// denied — approval is opt-in, never assumed.
func (k *Kernel) Approve(ctx context.Context, callID string, capabilityID string, args rtfs.Value) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.approved[callID], nil
}

// Validate runs the full pre-flight contract (spec.md §4.7): parse-body
// check, capability existence/attestation, constitution evaluation, and
// (for delegated plans) trust/skill validation. It returns the first
// failure; callers needing every violation should call the package
// functions directly.
func (k *Kernel) Validate(p plan.Plan) error {
	if p.ParsedBody == nil {
		return rtfserrors.Newf("governance.Validate", rtfserrors.KindParseError,
			"plan %q has no parsed body", p.PlanID)
	}

	sites := CollectCallSites(*p.ParsedBody)

	if err := k.checkCapabilities(p.PlanID, sites); err != nil {
		return err
	}

	if err := k.checkConstitution(p.PlanID, sites); err != nil {
		return err
	}

	if p.DelegationMeta != nil {
		if err := k.validateDelegation(p.DelegationMeta); err != nil {
			return err
		}
	}

	k.log.Info("plan validated", logger.Fields{"plan_id": p.PlanID, "call_sites": len(sites)})
	return nil
}

// checkCapabilities verifies every statically-resolvable call site names a
// registered, correctly-attested capability (spec.md §4.7 step 2).
func (k *Kernel) checkCapabilities(planID string, sites []CallSite) error {
	for _, s := range sites {
		cap, ok := k.registry.Lookup(s.CapabilityID)
		if !ok {
			return rtfserrors.Newf("governance.Validate", rtfserrors.KindCapabilityNotFound,
				"plan %q calls unknown capability %q", planID, s.CapabilityID).
				WithDetail("capability_id", s.CapabilityID).WithDetail("loc", s.Loc)
		}
		if err := marketplace.VerifyAttestation(cap); err != nil {
			return err
		}
	}
	return nil
}

// checkConstitution asserts this plan's call sites as facts and rejects on
// any derived violation (spec.md §4.7 step 3).
func (k *Kernel) checkConstitution(planID string, sites []CallSite) error {
	if k.constitution == nil {
		return nil
	}
	k.mu.Lock()
	approvedSnapshot := make(map[string]bool, len(k.approved))
	for id, v := range k.approved {
		approvedSnapshot[id] = v
	}
	k.mu.Unlock()

	// checkConstitution evaluates by capability id, not call id: a
	// capability is "approved" for this purpose only when RecordApproval
	// was called with that capability id itself; approvals recorded under
	// a call id do not carry over. The constitution reasons about which
	// capabilities a plan may touch, not individual call sites.
	approvedByCapID := make(map[string]bool, len(sites))
	for _, s := range sites {
		if approvedSnapshot[s.CapabilityID] {
			approvedByCapID[s.CapabilityID] = true
		}
	}

	if err := k.constitution.AssertPlanCalls(planID, sites, approvedByCapID); err != nil {
		return err
	}
	violations, err := k.constitution.Violations(planID)
	if err != nil {
		return err
	}
	if len(violations) > 0 {
		v := violations[0]
		return rtfserrors.Newf("governance.Validate", rtfserrors.KindConstitutionalViolation,
			"plan %q violates constitution: capability %q: %s", planID, v.CapabilityID, v.Reason).
			WithDetail("capability_id", v.CapabilityID)
	}
	return nil
}

// validateDelegation checks trust score and required-skill coverage for a
// delegated plan (spec.md §4.7 step 4).
func (k *Kernel) validateDelegation(d *plan.DelegationMeta) error {
	if k.delegation == nil {
		return rtfserrors.Newf("governance.Validate", rtfserrors.KindPermissionDenied,
			"plan delegates to agent %q but no delegation checker is configured", d.AgentID)
	}
	score, err := k.delegation.TrustScore(d.AgentID)
	if err != nil {
		return rtfserrors.Wrap("governance.Validate", rtfserrors.KindPermissionDenied, err)
	}
	if score < k.trustThresh {
		return rtfserrors.Newf("governance.Validate", rtfserrors.KindPermissionDenied,
			"agent %q trust score %.2f is below threshold %.2f", d.AgentID, score, k.trustThresh)
	}
	if len(d.RequiredSkills) > 0 {
		ok, err := k.delegation.HasSkills(d.AgentID, d.RequiredSkills)
		if err != nil {
			return rtfserrors.Wrap("governance.Validate", rtfserrors.KindPermissionDenied, err)
		}
		if !ok {
			return rtfserrors.Newf("governance.Validate", rtfserrors.KindPermissionDenied,
				"agent %q does not declare all required skills %v", d.AgentID, d.RequiredSkills)
		}
	}
	return nil
}
