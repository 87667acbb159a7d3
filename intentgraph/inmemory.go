package intentgraph

import (
	"strings"
	"sync"

	"github.com/ccos-run/ccos/pkg/rtfserrors"
)

// InMemoryBackend is the default Backend: hash maps plus an adjacency list,
// matching spec.md §4.6's "InMemory: hash maps + adjacency lists" exactly.
// Grounded on gomind/core/discovery.go's RWMutex-guarded map registry.
type InMemoryBackend struct {
	mu sync.RWMutex

	intents map[string]StorableIntent
	// edges is keyed by Edge.key() for O(1) delete; adjacency is derived
	// on read via a linear scan, which is acceptable at in-memory scale
	// (the File/Sqlite backends are for anything larger).
	edges map[string]Edge
}

func NewInMemoryBackend() *InMemoryBackend {
	return &InMemoryBackend{
		intents: make(map[string]StorableIntent),
		edges:   make(map[string]Edge),
	}
}

func (b *InMemoryBackend) PutIntent(i StorableIntent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.intents[i.IntentID] = i.Clone()
	return nil
}

func (b *InMemoryBackend) GetIntent(id string) (StorableIntent, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	i, ok := b.intents[id]
	if !ok {
		return StorableIntent{}, false, nil
	}
	return i.Clone(), true, nil
}

func (b *InMemoryBackend) DeleteIntent(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.intents, id)
	return nil
}

func (b *InMemoryBackend) ListIntents(filter IntentFilter) ([]StorableIntent, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []StorableIntent
	for _, i := range b.intents {
		if filter.Status != nil && i.Status != *filter.Status {
			continue
		}
		if filter.GoalContains != "" && !strings.Contains(i.Goal, filter.GoalContains) {
			continue
		}
		out = append(out, i.Clone())
	}
	return out, nil
}

func (b *InMemoryBackend) PutEdge(e Edge) error {
	if e.From == "" || e.To == "" {
		return rtfserrors.New("intentgraph.PutEdge", rtfserrors.KindTypeError, "edge requires both from and to")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.edges[e.key()] = e
	return nil
}

func (b *InMemoryBackend) DeleteEdge(from, to string, kind EdgeKind) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.edges, Edge{From: from, To: to, Kind: kind}.key())
	return nil
}

func (b *InMemoryBackend) ListEdges(from, to string, kind EdgeKind) ([]Edge, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Edge
	for _, e := range b.edges {
		if from != "" && e.From != from {
			continue
		}
		if to != "" && e.To != to {
			continue
		}
		if kind != "" && e.Kind != kind {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (b *InMemoryBackend) Close() error { return nil }
