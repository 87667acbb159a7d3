// Package arbiter implements the Arbiter (spec.md §4.10, C10): the
// pluggable component that turns natural language into an Intent and an
// Intent into a Plan, with an optional delegation lifecycle to other
// agents. Four variants share one trait surface (Template, Llm,
// Delegating, Hybrid); a host process picks one via configuration.
package arbiter

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ccos-run/ccos/causalchain"
	"github.com/ccos-run/ccos/intentgraph"
	"github.com/ccos-run/ccos/pkg/logger"
	"github.com/ccos-run/ccos/pkg/rtfserrors"
	"github.com/ccos-run/ccos/plan"
	"github.com/ccos-run/ccos/rtfs"
)

// Variant selects how an Arbiter turns text into Intents and Plans.
type Variant int

const (
	// Template pattern-matches on keywords and emits canned intents/plans.
	// Deterministic; the default low-dependency path and the reference
	// oracle in tests.
	Template Variant = iota
	// Llm delegates both stages to a configured LlmProvider.
	Llm
	// Delegating attempts agent delegation for plan production first,
	// falling back to Llm.
	Delegating
	// Hybrid tries Template first at each stage, falling back to Llm.
	Hybrid
)

// DefaultDelegationThreshold is the selection cutoff spec.md §4.11 names
// ("threshold 0.65").
const DefaultDelegationThreshold = 0.65

// LlmProvider is the model backend an Llm-path Arbiter calls. No vendor
// SDK is named here (SPEC_FULL.md Non-goals exclude a concrete OpenAI/
// Anthropic/etc. client) — a caller wires in whatever client implements
// it, the same way gomind's ai.AIClient decouples callers from a specific
// provider (pkg/ai/interfaces.go).
type LlmProvider interface {
	// GenerateIntent returns the raw JSON-encoded intent the model
	// produced for prompt.
	GenerateIntent(ctx context.Context, prompt string) (string, error)
	// GeneratePlan returns the raw JSON-encoded plan IR the model
	// produced for intent (see llm.go for why this is JSON, not RTFS
	// source text).
	GeneratePlan(ctx context.Context, intent intentgraph.StorableIntent) (string, error)
}

// AgentScorer is the slice of the Agent Registry (C11) the Delegating
// variant needs: score candidates for an intent, and later report back
// whether a delegated run succeeded. Declared locally so arbiter doesn't
// import the agentregistry package, which itself imports arbiter.
type AgentScorer interface {
	Score(intent intentgraph.StorableIntent) ([]ScoredAgent, error)
	RecordFeedback(agentID string, success bool) error
}

// ScoredAgent is one candidate the Agent Registry returned for an intent.
type ScoredAgent struct {
	AgentID string
	Score   float64
	Skills  []string
}

// PlanValidator is the one Governance Kernel operation the delegation
// lifecycle calls to turn a proposed delegation into Approved/Rejected;
// satisfied directly by *governance.Kernel without arbiter importing
// governance.
type PlanValidator interface {
	Validate(p plan.Plan) error
}

// Arbiter converts natural language to Intents and Plans (spec.md §4.10).
type Arbiter struct {
	Variant             Variant
	Provider            LlmProvider
	Scorer              AgentScorer
	Governance          PlanValidator
	Chain               *causalchain.Chain
	DelegationThreshold float64

	log logger.Logger
}

// New constructs an Arbiter of the given variant.
func New(variant Variant, log logger.Logger) *Arbiter {
	if log == nil {
		log = logger.NoOpLogger{}
	}
	return &Arbiter{
		Variant:             variant,
		DelegationThreshold: DefaultDelegationThreshold,
		log:                 log.WithComponent("ccos/arbiter"),
	}
}

func (a *Arbiter) threshold() float64 {
	if a.DelegationThreshold <= 0 {
		return DefaultDelegationThreshold
	}
	return a.DelegationThreshold
}

// NaturalLanguageToIntent implements spec.md §4.10's
// natural_language_to_intent.
func (a *Arbiter) NaturalLanguageToIntent(ctx context.Context, text string) (intentgraph.StorableIntent, error) {
	switch a.Variant {
	case Template:
		return a.templateIntent(text)
	case Hybrid:
		if intent, err := a.templateIntent(text); err == nil {
			return intent, nil
		}
		return a.llmIntent(ctx, text)
	case Llm, Delegating:
		return a.llmIntent(ctx, text)
	default:
		return intentgraph.StorableIntent{}, rtfserrors.Newf("arbiter.NaturalLanguageToIntent", rtfserrors.KindUserError, "unknown arbiter variant %d", a.Variant)
	}
}

// IntentToPlan implements spec.md §4.10's intent_to_plan.
func (a *Arbiter) IntentToPlan(ctx context.Context, intent intentgraph.StorableIntent) (plan.Plan, error) {
	switch a.Variant {
	case Template:
		return a.templatePlan(intent)
	case Hybrid:
		if p, err := a.templatePlan(intent); err == nil {
			return p, nil
		}
		return a.llmPlan(ctx, intent)
	case Delegating:
		p, err := a.delegatedPlan(ctx, intent)
		if err == nil {
			return p, nil
		}
		a.log.Warn("delegation unavailable, falling back to llm", logger.Fields{"intent_id": intent.IntentID, "error": err.Error()})
		return a.llmPlan(ctx, intent)
	case Llm:
		return a.llmPlan(ctx, intent)
	default:
		return plan.Plan{}, rtfserrors.Newf("arbiter.IntentToPlan", rtfserrors.KindUserError, "unknown arbiter variant %d", a.Variant)
	}
}

// ProcessNaturalLanguage implements spec.md §4.10's process_natural_language
// composition: natural_language_to_intent then intent_to_plan.
func (a *Arbiter) ProcessNaturalLanguage(ctx context.Context, text string) (plan.Plan, error) {
	intent, err := a.NaturalLanguageToIntent(ctx, text)
	if err != nil {
		return plan.Plan{}, err
	}
	return a.IntentToPlan(ctx, intent)
}

func newIntentID() string { return "intent-" + uuid.New().String() }
func newPlanID() string   { return "plan-" + uuid.New().String() }

func newPlan(intent intentgraph.StorableIntent, name, body string, parsed *rtfs.Expression) plan.Plan {
	return plan.Plan{
		PlanID:     newPlanID(),
		Name:       name,
		IntentIDs:  []string{intent.IntentID},
		Body:       body,
		Language:   "rtfs",
		ParsedBody: parsed,
		CreatedAt:  time.Now(),
	}
}
