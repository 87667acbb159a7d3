package intentgraph

import (
	"fmt"
	"sync"
	"time"

	"github.com/ccos-run/ccos/pkg/logger"
	"github.com/ccos-run/ccos/pkg/rtfserrors"
)

// EventSink is the subset of eventsink.Sink the graph needs; declared here
// (rather than importing package eventsink) to avoid a cycle — eventsink's
// CausalChainSink imports causalchain only, and intentgraph is imported by
// orchestrator alongside both, so the narrow local interface keeps the
// dependency graph acyclic while still satisfied by *eventsink.NoopSink and
// *eventsink.CausalChainSink.
type EventSink interface {
	LogIntentStatusChange(planID, intentID, oldStatus, newStatus, reason, triggeringActionID string) error
}

// Graph is the Intent Graph (spec.md §4.6, C6): a Backend plus the
// denormalized child_intents cache and the status lifecycle manager.
type Graph struct {
	backend Backend
	sink    EventSink
	log     logger.Logger

	mu      sync.Mutex
	counter int64
}

func NewGraph(backend Backend, sink EventSink, log logger.Logger) *Graph {
	if log == nil {
		log = logger.NoOpLogger{}
	}
	if sink == nil {
		sink = noopEventSink{}
	}
	return &Graph{
		backend: backend,
		sink:    sink,
		log:     log.WithComponent("ccos/intentgraph"),
	}
}

type noopEventSink struct{}

func (noopEventSink) LogIntentStatusChange(string, string, string, string, string, string) error {
	return nil
}

// PutIntent stores a new or updated intent verbatim (no cache rebuild: the
// child_intents cache is maintained exclusively by edge writes, per spec.md
// §3.3's authoritative-edges invariant).
func (g *Graph) PutIntent(i StorableIntent) error {
	if i.CreatedAt.IsZero() {
		i.CreatedAt = time.Now().UTC()
	}
	i.UpdatedAt = time.Now().UTC()
	return g.backend.PutIntent(i)
}

func (g *Graph) GetIntent(id string) (StorableIntent, bool, error) {
	return g.backend.GetIntent(id)
}

func (g *Graph) ListIntents(filter IntentFilter) ([]StorableIntent, error) {
	return g.backend.ListIntents(filter)
}

// GetChildIntents is the real-time-correct alternative to trusting the
// denormalized child_intents field, recommended by spec.md §3.3.
func (g *Graph) GetChildIntents(id string) ([]string, error) {
	edges, err := g.backend.ListEdges("", id, EdgeIsSubgoalOf)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(edges))
	for _, e := range edges {
		out = append(out, e.From)
	}
	return out, nil
}

// AddEdge creates an edge and updates both endpoints' denormalized caches
// in the same logical transaction: write edge, then update caches, per
// spec.md §4.6's crash-recovery ordering note (edges are authoritative —
// a crash between these two steps is reconciled by rebuilding caches from
// edges, see RebuildCaches).
func (g *Graph) AddEdge(e Edge) error {
	if err := g.backend.PutEdge(e); err != nil {
		return err
	}
	return g.refreshCachesFor(e.From, e.To, e.Kind)
}

// RemoveEdge deletes an edge and refreshes the denormalized caches the
// same way AddEdge populates them.
func (g *Graph) RemoveEdge(from, to string, kind EdgeKind) error {
	if err := g.backend.DeleteEdge(from, to, kind); err != nil {
		return err
	}
	return g.refreshCachesFor(from, to, kind)
}

func (g *Graph) refreshCachesFor(from, to string, kind EdgeKind) error {
	if kind != EdgeIsSubgoalOf {
		return nil
	}
	// to is the parent when kind == IsSubgoalOf (from "is a subgoal of" to).
	parent, ok, err := g.backend.GetIntent(to)
	if err != nil {
		return err
	}
	if ok {
		children, err := g.GetChildIntents(to)
		if err != nil {
			return err
		}
		parent.ChildIntents = children
		if err := g.backend.PutIntent(parent); err != nil {
			return err
		}
	}
	child, ok, err := g.backend.GetIntent(from)
	if err != nil {
		return err
	}
	if ok {
		parents, err := g.backend.ListEdges(from, "", EdgeIsSubgoalOf)
		if err != nil {
			return err
		}
		child.ParentIntent = ""
		for _, e := range parents {
			child.ParentIntent = e.To
			if e.To == to {
				break
			}
		}
		if err := g.backend.PutIntent(child); err != nil {
			return err
		}
	}
	return nil
}

// RebuildCaches recomputes every intent's child_intents/parent_intent from
// the edge set, used on startup after a crash between an edge write and its
// cache update (spec.md §4.6).
func (g *Graph) RebuildCaches() error {
	intents, err := g.backend.ListIntents(IntentFilter{})
	if err != nil {
		return err
	}
	edges, err := g.backend.ListEdges("", "", EdgeIsSubgoalOf)
	if err != nil {
		return err
	}
	parentOf := make(map[string]string, len(edges))
	childrenOf := make(map[string][]string, len(edges))
	for _, e := range edges {
		parentOf[e.From] = e.To
		childrenOf[e.To] = append(childrenOf[e.To], e.From)
	}
	for _, i := range intents {
		i.ParentIntent = parentOf[i.IntentID]
		i.ChildIntents = childrenOf[i.IntentID]
		if err := g.backend.PutIntent(i); err != nil {
			return err
		}
	}
	return nil
}

// TransitionStatus implements spec.md §4.6's lifecycle manager contract:
// validate, persist, breadcrumb, emit (fail-closed).
func (g *Graph) TransitionStatus(intentID string, newStatus Status, reason, triggeringPlanID, triggeringActionID string) error {
	i, ok, err := g.backend.GetIntent(intentID)
	if err != nil {
		return err
	}
	if !ok {
		return rtfserrors.Newf("intentgraph.TransitionStatus", rtfserrors.KindInvalidTransition,
			"intent %q not found", intentID)
	}

	if err := ValidateTransition(i.Status, newStatus); err != nil {
		return err
	}

	old := i.Status
	i.Status = newStatus
	i.UpdatedAt = time.Now().UTC()
	if i.Metadata == nil {
		i.Metadata = make(map[string]interface{})
	}
	i.Metadata[fmt.Sprintf("status_transition_%d_%d", i.UpdatedAt.UnixNano(), g.nextCounter())] = map[string]string{
		"from": string(old), "to": string(newStatus), "reason": reason,
	}

	if err := g.backend.PutIntent(i); err != nil {
		return err
	}

	if err := g.sink.LogIntentStatusChange(triggeringPlanID, intentID, string(old), string(newStatus), reason, triggeringActionID); err != nil {
		return rtfserrors.Wrap("intentgraph.TransitionStatus", rtfserrors.KindStorageError, err).
			WithDetail("intent_id", intentID)
	}

	g.log.Info("intent status transitioned", logger.Fields{"intent_id": intentID, "from": string(old), "to": string(newStatus)})
	return nil
}

func (g *Graph) nextCounter() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	return g.counter
}
