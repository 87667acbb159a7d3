package rtfs

import (
	"context"

	"github.com/ccos-run/ccos/pkg/rtfserrors"
)

// NoOpHost is a minimal Host implementation with no capability
// marketplace, causal chain or execution context behind it: steps are
// recorded as no-ops and ResolveCapability always fails. It exists so
// evaluator-only tests (pure RTFS semantics, no host-effect boundary) do
// not need to stand up the full orchestrator (spec.md §8.1's
// determinism/letrec/pattern-match invariants are pure-evaluator
// properties and are tested against NoOpHost).
type NoOpHost struct {
	StepCounter int
}

func (h *NoOpHost) ResolveCapability(ctx context.Context, id string, args Value) (Value, error) {
	return Nil, rtfserrors.Newf("NoOpHost.ResolveCapability", rtfserrors.KindCapabilityNotFound,
		"no marketplace wired: capability %q not found", id).WithDetail("capability_id", id)
}

func (h *NoOpHost) RecordStepStart(ctx context.Context, label string) (string, error) {
	h.StepCounter++
	return label, nil
}

func (h *NoOpHost) RecordStepEnd(ctx context.Context, stepID string, outcome StepOutcome) error {
	return nil
}

func (h *NoOpHost) GetContext(ctx context.Context, key string) (Value, bool, error) {
	return Nil, false, nil
}

func (h *NoOpHost) EnterParallel(ctx context.Context, branchIndex int) (interface{}, error) {
	return branchIndex, nil
}

func (h *NoOpHost) ExitParallel(ctx context.Context, frame interface{}, outcome StepOutcome) error {
	return nil
}

func (h *NoOpHost) DiscoverAgents(ctx context.Context, criteria Value) (Value, error) {
	return Vector(), nil
}

func (h *NoOpHost) LogStep(ctx context.Context, level string, values []Value) {}
