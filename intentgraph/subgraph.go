package intentgraph

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/ccos-run/ccos/pkg/rtfserrors"
)

// subgraphFile is the on-disk export format (spec.md §4.6/§6.5).
type subgraphFile struct {
	Version     int              `json:"version"`
	Timestamp   time.Time        `json:"timestamp"`
	RootIntentID string          `json:"root_intent_id"`
	Intents     []StorableIntent `json:"intents"`
	Edges       []Edge           `json:"edges"`
}

const subgraphVersion = 1

// StoreSubgraphFromRoot walks outgoing IsSubgoalOf/related edges from root
// (BFS, visited-set for cycle safety, unbounded depth) and writes the
// reached intents/edges to path atomically.
func (g *Graph) StoreSubgraphFromRoot(root, path string) error {
	intents, edges, err := g.bfsCollect(root, true)
	if err != nil {
		return err
	}
	return writeSubgraph(path, root, intents, edges)
}

// StoreSubgraphFromChild is analogous but walks ancestors (incoming
// IsSubgoalOf edges) instead of descendants.
func (g *Graph) StoreSubgraphFromChild(child, path string) error {
	intents, edges, err := g.bfsCollect(child, false)
	if err != nil {
		return err
	}
	return writeSubgraph(path, child, intents, edges)
}

func (g *Graph) bfsCollect(root string, descend bool) ([]StorableIntent, []Edge, error) {
	visited := map[string]bool{root: true}
	queue := []string{root}

	var intents []StorableIntent
	edgeSet := map[string]Edge{}

	if i, ok, err := g.backend.GetIntent(root); err != nil {
		return nil, nil, err
	} else if ok {
		intents = append(intents, i)
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		var neighborEdges []Edge
		var err error
		if descend {
			// Outgoing: edges whose To is cur (child "is subgoal of" cur).
			neighborEdges, err = g.backend.ListEdges("", cur, "")
		} else {
			neighborEdges, err = g.backend.ListEdges(cur, "", "")
		}
		if err != nil {
			return nil, nil, err
		}

		for _, e := range neighborEdges {
			edgeSet[e.key()] = e
			var next string
			if descend {
				next = e.From
			} else {
				next = e.To
			}
			if visited[next] {
				continue
			}
			visited[next] = true
			queue = append(queue, next)
			if i, ok, err := g.backend.GetIntent(next); err != nil {
				return nil, nil, err
			} else if ok {
				intents = append(intents, i)
			}
		}
	}

	edges := make([]Edge, 0, len(edgeSet))
	for _, e := range edgeSet {
		edges = append(edges, e)
	}
	return intents, edges, nil
}

func writeSubgraph(path, rootID string, intents []StorableIntent, edges []Edge) error {
	sf := subgraphFile{
		Version:      subgraphVersion,
		Timestamp:    time.Now().UTC(),
		RootIntentID: rootID,
		Intents:      intents,
		Edges:        edges,
	}
	raw, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return rtfserrors.Wrap("intentgraph.StoreSubgraph", rtfserrors.KindStorageError, err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".subgraph-*.tmp")
	if err != nil {
		return rtfserrors.Wrap("intentgraph.StoreSubgraph", rtfserrors.KindStorageError, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return rtfserrors.Wrap("intentgraph.StoreSubgraph", rtfserrors.KindStorageError, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return rtfserrors.Wrap("intentgraph.StoreSubgraph", rtfserrors.KindStorageError, err)
	}
	if err := tmp.Close(); err != nil {
		return rtfserrors.Wrap("intentgraph.StoreSubgraph", rtfserrors.KindStorageError, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return rtfserrors.Wrap("intentgraph.StoreSubgraph", rtfserrors.KindStorageError, err)
	}
	return nil
}

// MergePolicy controls how RestoreSubgraph handles intent ids already
// present in the graph.
type MergePolicy int

const (
	// MergeSkipExisting leaves already-present intents untouched (the
	// spec.md §4.6 default: "skipping ids already present").
	MergeSkipExisting MergePolicy = iota
	// MergeOverwrite replaces already-present intents with the restored
	// version.
	MergeOverwrite
)

// RestoreSubgraph loads a subgraph file, inserts intents per policy and
// edges unconditionally, then rebuilds denormalized caches for every
// touched intent.
func (g *Graph) RestoreSubgraph(path string, policy MergePolicy) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return rtfserrors.Wrap("intentgraph.RestoreSubgraph", rtfserrors.KindStorageError, err)
	}
	var sf subgraphFile
	if err := json.Unmarshal(raw, &sf); err != nil {
		return rtfserrors.Wrap("intentgraph.RestoreSubgraph", rtfserrors.KindStorageError, err)
	}

	touched := make(map[string]bool, len(sf.Intents))
	for _, i := range sf.Intents {
		_, exists, err := g.backend.GetIntent(i.IntentID)
		if err != nil {
			return err
		}
		if exists && policy == MergeSkipExisting {
			continue
		}
		if err := g.backend.PutIntent(i); err != nil {
			return err
		}
		touched[i.IntentID] = true
	}
	for _, e := range sf.Edges {
		if err := g.backend.PutEdge(e); err != nil {
			return err
		}
		touched[e.From] = true
		touched[e.To] = true
	}

	for id := range touched {
		if i, ok, err := g.backend.GetIntent(id); err == nil && ok {
			children, err := g.GetChildIntents(id)
			if err != nil {
				return err
			}
			i.ChildIntents = children
			if err := g.backend.PutIntent(i); err != nil {
				return err
			}
		}
	}
	return nil
}
