package marketplace

import (
	"context"
	"sync"

	"github.com/ccos-run/ccos/pkg/logger"
	"github.com/ccos-run/ccos/pkg/rtfserrors"
	"github.com/ccos-run/ccos/rtfs"
)

// Approver is consulted when a capability's manifest sets
// RequiresApproval (spec.md §4.4 step 3). It is implemented synchronously
// by the Governance Kernel (resolving Open Question #3, DESIGN.md): a
// non-approved call must not reach the provider, and this call blocks
// until a verdict is reached rather than returning a Pending value and
// inventing an async polling protocol the spec doesn't describe.
type Approver interface {
	Approve(ctx context.Context, callID string, capabilityID string, args rtfs.Value) (bool, error)
}

type noApprovalRequired struct{}

func (noApprovalRequired) Approve(ctx context.Context, callID, capabilityID string, args rtfs.Value) (bool, error) {
	return true, nil
}

// Registry is the Capability Marketplace (spec.md §4.4, C4): register +
// execute, with structural validation, approval gating, attestation
// verification, retry/circuit-breaker protected dispatch and output
// validation. Grounded on gomind/core/discovery.go's RWMutex-guarded
// registration map.
type Registry struct {
	mu           sync.RWMutex
	capabilities map[string]Capability

	breakers   map[string]*CircuitBreaker
	breakersMu sync.Mutex

	approver Approver
	log      logger.Logger

	httpExec   Executor
	mcpExec    Executor
	a2aExec    Executor
	pluginExec Executor
	remoteExec Executor

	retryConfig *RetryConfig
}

func NewRegistry(approver Approver, log logger.Logger) *Registry {
	if approver == nil {
		approver = noApprovalRequired{}
	}
	if log == nil {
		log = logger.NoOpLogger{}
	}
	return &Registry{
		capabilities: make(map[string]Capability),
		breakers:     make(map[string]*CircuitBreaker),
		approver:     approver,
		log:          log.WithComponent("ccos/marketplace"),
		httpExec:     NewHTTPExecutor(),
		mcpExec:      NewMCPExecutor(),
		a2aExec:      &A2AExecutor{},
		pluginExec:   &PluginExecutor{Plugins: make(map[string]LocalHandler)},
		remoteExec:   &RemoteRTFSExecutor{},
		retryConfig:  DefaultRetryConfig(),
	}
}

// SetA2ADispatcher wires the agent-registry delegation transport in after
// construction, so marketplace does not import agentregistry.
func (r *Registry) SetA2ADispatcher(dispatch func(cc *CallContext, agentID string, args rtfs.Value) (rtfs.Value, error)) {
	r.a2aExec = &A2AExecutor{Dispatch: dispatch}
}

// RegisterPlugin adds an in-process plugin handler reachable via
// ProviderSpec::Plugin(plugin_id).
func (r *Registry) RegisterPlugin(id string, h LocalHandler) {
	if pe, ok := r.pluginExec.(*PluginExecutor); ok {
		pe.Plugins[id] = h
	}
}

// Register adds a capability manifest (spec.md §4.4's registration
// contract). Duplicate ids are rejected unless a version qualifier
// differentiates them, and this path is also how dynamically discovered
// capabilities (MCP discovery, plugin scan, agent announcement) enter the
// registry — appearing atomically under the write lock.
func (r *Registry) Register(c Capability) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := c.key()
	if _, exists := r.capabilities[key]; exists {
		return rtfserrors.Newf("marketplace.Register", rtfserrors.KindSchemaMismatch,
			"capability %q is already registered; supply a distinguishing version", key)
	}
	r.capabilities[key] = c
	r.log.Info("capability registered", logger.Fields{"id": c.ID, "version": c.Version, "provider": c.Provider.Kind.String()})
	return nil
}

func (r *Registry) lookup(id string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.capabilities[id]; ok {
		return c, true
	}
	// Fall back to the unversioned id if exactly one version is registered
	// (the common case — callers rarely pin a version explicitly).
	var match Capability
	count := 0
	for key, c := range r.capabilities {
		if c.ID == id {
			match = c
			count++
			_ = key
		}
	}
	if count == 1 {
		return match, true
	}
	return Capability{}, false
}

// Lookup exposes the same capability resolution Execute uses internally,
// for callers that need to check existence/attestation without dispatching
// (the Governance Kernel's pre-flight validator, spec.md §4.7 step 2).
func (r *Registry) Lookup(id string) (Capability, bool) {
	return r.lookup(id)
}

func (r *Registry) breakerFor(id string) *CircuitBreaker {
	r.breakersMu.Lock()
	defer r.breakersMu.Unlock()
	if cb, ok := r.breakers[id]; ok {
		return cb
	}
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig(id), r.log)
	r.breakers[id] = cb
	return cb
}

// Execute runs the full dispatch contract (spec.md §4.4 steps 1-7).
func (r *Registry) Execute(cc *CallContext, id string, args rtfs.Value) (rtfs.Value, error) {
	cap, ok := r.lookup(id)
	if !ok {
		return rtfs.Nil, rtfserrors.Newf("marketplace.Execute", rtfserrors.KindCapabilityNotFound, "capability %q not found", id).
			WithDetail("capability_id", id)
	}

	if err := Validate(cap.InputSchema, args); err != nil {
		return rtfs.Nil, err
	}

	if cap.RequiresApproval {
		approved, err := r.approver.Approve(cc.Ctx, cc.StepID, id, args)
		if err != nil {
			return rtfs.Nil, rtfserrors.Wrap("marketplace.Execute", rtfserrors.KindPermissionDenied, err)
		}
		if !approved {
			return rtfs.Nil, rtfserrors.Newf("marketplace.Execute", rtfserrors.KindPermissionDenied,
				"capability %q call was not approved", id)
		}
	}

	if err := VerifyAttestation(cap); err != nil {
		return rtfs.Nil, err
	}

	exec, err := executorFor(cap.Provider.Kind, r)
	if err != nil {
		return rtfs.Nil, rtfserrors.Wrap("marketplace.Execute", rtfserrors.KindCapabilityNotFound, err)
	}

	var result rtfs.Value
	cb := r.breakerFor(id)
	dispatchErr := RetryWithCircuitBreaker(cc.Ctx, r.retryConfig, cb, func() error {
		v, err := exec.Execute(cc, cap.Provider, args)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if dispatchErr != nil {
		return rtfs.Nil, dispatchErr
	}

	if err := Validate(cap.OutputSchema, result); err != nil {
		return rtfs.Nil, err
	}
	return result, nil
}

// ResolveCapability adapts Registry to rtfs.Host's ResolveCapability method; the full
// rtfs.Host implementation (wiring steps, context and parallel branches
// too) lives in package orchestrator, which composes this alongside
// causalchain and execctx.
func (r *Registry) ResolveCapability(ctx context.Context, id string, args rtfs.Value) (rtfs.Value, error) {
	return r.Execute(&CallContext{Ctx: ctx}, id, args)
}
