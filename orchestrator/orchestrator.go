// Package orchestrator implements the Orchestrator (spec.md §4.8, C8): the
// driver loop that evaluates a validated Plan, dispatches its yields
// through the Capability Marketplace, records every observable event to
// the Causal Chain, and transitions the owning Intent's status through the
// Intent Event Sink.
package orchestrator

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ccos-run/ccos/causalchain"
	"github.com/ccos-run/ccos/execctx"
	"github.com/ccos-run/ccos/intentgraph"
	"github.com/ccos-run/ccos/marketplace"
	"github.com/ccos-run/ccos/pkg/logger"
	"github.com/ccos-run/ccos/pkg/rtfserrors"
	"github.com/ccos-run/ccos/plan"
	"github.com/ccos-run/ccos/rtfs"
)

var tracer = otel.Tracer("ccos/orchestrator")

// DefaultMaxRepairAttempts is the repair loop bound spec.md §4.8 names
// ("up to N, default 3").
const DefaultMaxRepairAttempts = 3

// Repairer is the narrow slice of the Arbiter (C10) the repair loop needs:
// given the plan that failed and the error it failed with, produce a
// corrected plan. Declared locally so orchestrator doesn't import the
// arbiter package.
type Repairer interface {
	Repair(ctx context.Context, original plan.Plan, failure error) (plan.Plan, error)
}

// Orchestrator drives plan execution (spec.md §4.8). Grounded on the
// teacher's request-lifecycle handlers (gomind's orchestrator package):
// one entry point per unit of work, structured around append-only audit
// logging rather than in-place mutation.
type Orchestrator struct {
	Registry          *marketplace.Registry
	Chain             *causalchain.Chain
	Graph             *intentgraph.Graph
	Discoverer        AgentDiscoverer
	Repair            Repairer
	MaxRepairAttempts int
	log               logger.Logger
}

func NewOrchestrator(registry *marketplace.Registry, chain *causalchain.Chain, graph *intentgraph.Graph, log logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.NoOpLogger{}
	}
	return &Orchestrator{
		Registry:          registry,
		Chain:             chain,
		Graph:             graph,
		MaxRepairAttempts: DefaultMaxRepairAttempts,
		log:               log.WithComponent("ccos/orchestrator"),
	}
}

// Run drives p to completion for intentID, repairing via Repair up to
// MaxRepairAttempts times on failure (spec.md §4.8's "repair loop").
// Repair is only attempted when Repair is configured; otherwise the first
// failure is returned directly.
func (o *Orchestrator) Run(ctx context.Context, p plan.Plan, intentID string) (rtfs.Value, error) {
	attempt := p
	var lastErr error
	for i := 0; i <= o.MaxRepairAttempts; i++ {
		result, err := o.runOnce(ctx, attempt, intentID)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if o.Repair == nil || i == o.MaxRepairAttempts {
			return rtfs.Nil, lastErr
		}
		repaired, repairErr := o.Repair.Repair(ctx, attempt, err)
		if repairErr != nil {
			return rtfs.Nil, lastErr
		}
		o.log.Info("repairing failed plan", logger.Fields{"plan_id": attempt.PlanID, "attempt": i + 1, "error": err.Error()})
		attempt = repaired
	}
	return rtfs.Nil, lastErr
}

// runOnce implements the five numbered steps of spec.md §4.8 for a single
// attempt, with no repair.
func (o *Orchestrator) runOnce(ctx context.Context, p plan.Plan, intentID string) (rtfs.Value, error) {
	ctx, span := tracer.Start(ctx, "plan.run", trace.WithAttributes(
		attribute.String("ccos.plan_id", p.PlanID),
		attribute.String("ccos.intent_id", intentID),
	))
	defer span.End()

	if p.ParsedBody == nil {
		err := rtfserrors.Newf("orchestrator.Run", rtfserrors.KindParseError,
			"plan %q has no parsed body", p.PlanID)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return rtfs.Nil, err
	}

	if _, err := o.Chain.Append(causalchain.Draft{
		PlanID:   p.PlanID,
		IntentID: intentID,
		Kind:     causalchain.ActionPlanStarted,
		Metadata: map[string]interface{}{"name": p.Name},
	}); err != nil {
		return rtfs.Nil, err
	}

	stack := execctx.NewStack(o.log)
	host := newPlanHost(o.Registry, o.Chain, stack, p.PlanID, intentID, o.Discoverer, o.log)
	evaluator := rtfs.New(host)
	env := rtfs.StandardEnv(o.log)

	result, evalErr := evaluator.Eval(ctx, *p.ParsedBody, env)
	if evalErr != nil {
		span.RecordError(evalErr)
		span.SetStatus(codes.Error, evalErr.Error())
		o.abort(p, intentID, evalErr)
		return rtfs.Nil, evalErr
	}

	span.SetStatus(codes.Ok, "")
	o.complete(p, intentID, result)
	return result, nil
}

func (o *Orchestrator) complete(p plan.Plan, intentID string, result rtfs.Value) {
	action, err := o.Chain.Append(causalchain.Draft{
		PlanID:   p.PlanID,
		IntentID: intentID,
		Kind:     causalchain.ActionPlanCompleted,
		Metadata: map[string]interface{}{"result": redact(result)},
	})
	if err != nil {
		o.log.Error("failed to append PlanCompleted", logger.Fields{"plan_id": p.PlanID, "error": err.Error()})
		return
	}
	if o.Graph == nil {
		return
	}
	if err := o.Graph.TransitionStatus(intentID, intentgraph.StatusCompleted, "plan completed", p.PlanID, action.ActionID); err != nil {
		o.log.Error("failed to transition intent to Completed", logger.Fields{"intent_id": intentID, "error": err.Error()})
	}
}

func (o *Orchestrator) abort(p plan.Plan, intentID string, cause error) {
	action, err := o.Chain.Append(causalchain.Draft{
		PlanID:   p.PlanID,
		IntentID: intentID,
		Kind:     causalchain.ActionPlanAborted,
		Metadata: map[string]interface{}{"error": cause.Error()},
	})
	if err != nil {
		o.log.Error("failed to append PlanAborted", logger.Fields{"plan_id": p.PlanID, "error": err.Error()})
		return
	}
	if o.Graph == nil {
		return
	}
	if err := o.Graph.TransitionStatus(intentID, intentgraph.StatusFailed, cause.Error(), p.PlanID, action.ActionID); err != nil {
		o.log.Error("failed to transition intent to Failed", logger.Fields{"intent_id": intentID, "error": err.Error()})
	}
}
