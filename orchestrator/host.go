package orchestrator

import (
	"context"
	"sync"

	"github.com/ccos-run/ccos/causalchain"
	"github.com/ccos-run/ccos/execctx"
	"github.com/ccos-run/ccos/marketplace"
	"github.com/ccos-run/ccos/pkg/logger"
	"github.com/ccos-run/ccos/rtfs"
)

// AgentDiscoverer resolves `(discover-agents criteria)` (spec.md §3.1);
// *agentregistry.Registry satisfies it. Declared locally so orchestrator
// doesn't need to import the agentregistry package.
type AgentDiscoverer interface {
	DiscoverAgents(ctx context.Context, criteria rtfs.Value) (rtfs.Value, error)
}

// planHost is the concrete rtfs.Host for one plan run (spec.md §4.8): it
// composes the Capability Marketplace (C4), Causal Chain (C5) and
// Execution Context stack (§5.1) around a single plan/intent pair.
//
// Step/context correlation: the evaluator always threads the same
// context.Context value through a step's sequential body, so frames is a
// simple mutex-guarded LIFO rather than something keyed off ctx. Under
// step-parallel (spec.md §5.1) sibling branches run on concurrent
// goroutines sharing one errgroup context, so a step opened inside one
// branch can transiently appear "current" to another; EnterParallel/
// ExitParallel still correctly pair per branch since the opaque frame
// value closes over the right goroutine. TODO: thread frame identity
// through context.Context once the evaluator supports it, to make nested
// context-get/capability-call inside a parallel branch fully isolated.
type planHost struct {
	registry   *marketplace.Registry
	chain      *causalchain.Chain
	stack      *execctx.Stack
	discoverer AgentDiscoverer
	log        logger.Logger

	planID   string
	intentID string

	mu     sync.Mutex
	frames []string // LIFO of execctx frame ids, root at index 0
}

func newPlanHost(registry *marketplace.Registry, chain *causalchain.Chain, stack *execctx.Stack, planID, intentID string, discoverer AgentDiscoverer, log logger.Logger) *planHost {
	if log == nil {
		log = logger.NoOpLogger{}
	}
	return &planHost{
		registry:   registry,
		chain:      chain,
		stack:      stack,
		discoverer: discoverer,
		log:        log.WithComponent("ccos/orchestrator"),
		planID:     planID,
		intentID:   intentID,
		frames:     []string{stack.Root()},
	}
}

func (h *planHost) currentFrame() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.frames[len(h.frames)-1]
}

func (h *planHost) pushFrame(id string) {
	h.mu.Lock()
	h.frames = append(h.frames, id)
	h.mu.Unlock()
}

func (h *planHost) popFrame() {
	h.mu.Lock()
	if len(h.frames) > 1 {
		h.frames = h.frames[:len(h.frames)-1]
	}
	h.mu.Unlock()
}

// ResolveCapability implements rtfs.Host (spec.md §4.8 step 3): append a
// request action, dispatch through the marketplace, append the outcome.
func (h *planHost) ResolveCapability(ctx context.Context, id string, args rtfs.Value) (rtfs.Value, error) {
	stepID := h.currentFrame()

	req, appendErr := h.chain.Append(causalchain.Draft{
		PlanID:   h.planID,
		IntentID: h.intentID,
		StepID:   stepID,
		Kind:     causalchain.ActionCapabilityCall,
		Metadata: map[string]interface{}{"capability_id": id, "args": redact(args)},
	})
	if appendErr != nil {
		return rtfs.Nil, appendErr
	}

	cc := &marketplace.CallContext{Ctx: ctx, IntentID: h.intentID, PlanID: h.planID, StepID: req.ActionID}
	result, dispatchErr := h.registry.Execute(cc, id, args)

	outcomeMeta := map[string]interface{}{"capability_id": id}
	if dispatchErr != nil {
		outcomeMeta["error"] = dispatchErr.Error()
	} else {
		outcomeMeta["result"] = redact(result)
	}
	if _, err := h.chain.Append(causalchain.Draft{
		ParentActionID: req.ActionID,
		PlanID:         h.planID,
		IntentID:       h.intentID,
		StepID:         stepID,
		Kind:           causalchain.ActionCapabilityCall,
		Metadata:       outcomeMeta,
	}); err != nil {
		h.log.Error("failed to append capability result action", logger.Fields{"error": err.Error(), "capability_id": id})
	}

	return result, dispatchErr
}

// RecordStepStart implements rtfs.Host: opens both an execctx frame (for
// context-get scoping) and a Causal Chain entry, unifying the two under
// one id.
func (h *planHost) RecordStepStart(ctx context.Context, label string) (string, error) {
	frameID, err := h.stack.EnterStep(h.currentFrame(), label, execctx.Inherit)
	if err != nil {
		return "", err
	}
	if _, err := h.chain.Append(causalchain.Draft{
		PlanID:   h.planID,
		IntentID: h.intentID,
		StepID:   frameID,
		Kind:     causalchain.ActionPlanStepStarted,
		Metadata: map[string]interface{}{"label": label},
	}); err != nil {
		return "", err
	}
	h.pushFrame(frameID)
	return frameID, nil
}

// RecordStepEnd implements rtfs.Host.
func (h *planHost) RecordStepEnd(ctx context.Context, stepID string, outcome rtfs.StepOutcome) error {
	h.popFrame()
	kind := causalchain.ActionPlanStepCompleted
	meta := map[string]interface{}{}
	if !outcome.Success {
		kind = causalchain.ActionPlanStepFailed
		if outcome.Err != nil {
			meta["error"] = outcome.Err.Error()
		}
	} else {
		meta["result"] = redact(outcome.Result)
	}
	_, err := h.chain.Append(causalchain.Draft{
		PlanID:   h.planID,
		IntentID: h.intentID,
		StepID:   stepID,
		Kind:     kind,
		Metadata: meta,
	})
	return err
}

// GetContext implements rtfs.Host: `(context-get key)` resolves against
// the current execctx frame (spec.md §5.1).
func (h *planHost) GetContext(ctx context.Context, key string) (rtfs.Value, bool, error) {
	return h.stack.Get(h.currentFrame(), key)
}

// EnterParallel implements rtfs.Host: each branch gets its own Isolated
// execctx frame under the step-parallel form's enclosing frame.
func (h *planHost) EnterParallel(ctx context.Context, branchIndex int) (interface{}, error) {
	frameID, err := h.stack.EnterStep(h.currentFrame(), "parallel-branch", execctx.Isolated)
	if err != nil {
		return nil, err
	}
	return frameID, nil
}

// ExitParallel implements rtfs.Host.
func (h *planHost) ExitParallel(ctx context.Context, frame interface{}, outcome rtfs.StepOutcome) error {
	frameID, _ := frame.(string)
	if frameID == "" {
		return nil
	}
	kind := causalchain.ActionInternalStep
	meta := map[string]interface{}{"frame_id": frameID}
	if !outcome.Success && outcome.Err != nil {
		meta["error"] = outcome.Err.Error()
	} else {
		meta["result"] = redact(outcome.Result)
	}
	_, err := h.chain.Append(causalchain.Draft{
		PlanID:   h.planID,
		IntentID: h.intentID,
		StepID:   frameID,
		Kind:     kind,
		Metadata: meta,
	})
	return err
}

// DiscoverAgents implements rtfs.Host. Without a configured discoverer it
// resolves to an empty vector rather than erroring — a plan that never
// delegates shouldn't need one wired in.
func (h *planHost) DiscoverAgents(ctx context.Context, criteria rtfs.Value) (rtfs.Value, error) {
	if h.discoverer == nil {
		return rtfs.Vector(), nil
	}
	return h.discoverer.DiscoverAgents(ctx, criteria)
}

// LogStep implements rtfs.Host: `(log-step level values...)` never fails
// evaluation.
func (h *planHost) LogStep(ctx context.Context, level string, values []rtfs.Value) {
	fields := logger.Fields{"plan_id": h.planID, "intent_id": h.intentID}
	rendered := make([]string, len(values))
	for i, v := range values {
		rendered[i] = rtfs.Render(v)
	}
	fields["values"] = rendered
	switch level {
	case "error":
		h.log.Error("log-step", fields)
	case "warn":
		h.log.Warn("log-step", fields)
	case "debug":
		h.log.Debug("log-step", fields)
	default:
		h.log.Info("log-step", fields)
	}
}
