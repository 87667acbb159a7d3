package intentgraph

import (
	"sort"
	"strings"
)

// VirtualizeConfig controls create_virtualized_view (spec.md §4.6).
type VirtualizeConfig struct {
	TraversalDepth          int
	MaxIntents              int
	SummarizationThreshold  int
	TokenBudget             int
	Query                   string

	// Weights for the relevance score: α·recency + β·status_weight + γ·query_overlap.
	RecencyWeight     float64
	StatusWeight      float64
	QueryOverlapWeight float64
}

// DefaultVirtualizeConfig mirrors the weighting spec.md §4.6 describes
// without pinning exact numbers; equal thirds is the simplest unbiased
// default and is the one we commit to (see DESIGN.md).
func DefaultVirtualizeConfig() VirtualizeConfig {
	return VirtualizeConfig{
		TraversalDepth:         2,
		MaxIntents:             50,
		SummarizationThreshold: 5,
		TokenBudget:            4000,
		RecencyWeight:          1.0 / 3,
		StatusWeight:           1.0 / 3,
		QueryOverlapWeight:     1.0 / 3,
	}
}

// SummaryNode replaces a connected component of size >= SummarizationThreshold
// in a virtualized view.
type SummaryNode struct {
	KeyGoals      []string `json:"key_goals"`
	DominantStatus Status  `json:"dominant_status"`
	MemberIDs     []string `json:"member_ids"`
	Relevance     float64  `json:"relevance"`
}

// VirtualizedView is the bounded-size projection returned to an Arbiter's
// context-builder.
type VirtualizedView struct {
	Intents      []StorableIntent `json:"intents"`
	Summaries    []SummaryNode    `json:"summaries"`
	VirtualEdges []Edge           `json:"virtual_edges"`
	Metadata     map[string]interface{} `json:"metadata"`
}

func statusWeight(s Status) float64 {
	switch s {
	case StatusActive:
		return 1.0
	case StatusSuspended:
		return 0.6
	default:
		return 0.3
	}
}

func wordOverlap(query, text string) float64 {
	if query == "" || text == "" {
		return 0
	}
	qw := strings.Fields(strings.ToLower(query))
	tw := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(text)) {
		tw[w] = true
	}
	if len(qw) == 0 {
		return 0
	}
	hits := 0
	for _, w := range qw {
		if tw[w] {
			hits++
		}
	}
	return float64(hits) / float64(len(qw))
}

func recencyScore(i StorableIntent, now func() int64) float64 {
	// Normalized inverse-age; newer intents score closer to 1. now is
	// injectable so callers (and tests) control the reference instant
	// instead of this package reaching for time.Now() internally.
	age := now() - i.UpdatedAt.Unix()
	if age < 0 {
		age = 0
	}
	const halfLifeSeconds = 86400.0 // one day
	return 1.0 / (1.0 + float64(age)/halfLifeSeconds)
}

func relevance(i StorableIntent, cfg VirtualizeConfig, now func() int64) float64 {
	return cfg.RecencyWeight*recencyScore(i, now) +
		cfg.StatusWeight*statusWeight(i.Status) +
		cfg.QueryOverlapWeight*wordOverlap(cfg.Query, i.Goal)
}

// estimateTokens is a cheap, dependency-free token estimate (character
// count / 4, the common rule of thumb also used for the Working Memory
// pool's estimated_tokens field).
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// CreateVirtualizedView implements spec.md §4.6's virtualization pipeline:
// collect neighborhood, rank by relevance, summarize oversized components
// via union-find, prune to the token budget.
func (g *Graph) CreateVirtualizedView(focalIntents []string, cfg VirtualizeConfig, now func() int64) (VirtualizedView, error) {
	collected := map[string]StorableIntent{}
	var edges []Edge
	edgeSeen := map[string]bool{}

	for _, focal := range focalIntents {
		seen := map[string]bool{focal: true}
		frontier := []string{focal}
		for depth := 0; depth <= cfg.TraversalDepth && len(frontier) > 0; depth++ {
			var next []string
			for _, id := range frontier {
				if i, ok, err := g.backend.GetIntent(id); err != nil {
					return VirtualizedView{}, err
				} else if ok {
					collected[id] = i
				}
				es, err := g.backend.ListEdges(id, "", "")
				if err != nil {
					return VirtualizedView{}, err
				}
				esIn, err := g.backend.ListEdges("", id, "")
				if err != nil {
					return VirtualizedView{}, err
				}
				for _, e := range append(es, esIn...) {
					if k := e.From + "\x00" + e.To + "\x00" + string(e.Kind); !edgeSeen[k] {
						edgeSeen[k] = true
						edges = append(edges, e)
					}
					other := e.To
					if other == id {
						other = e.From
					}
					if !seen[other] {
						seen[other] = true
						next = append(next, other)
					}
				}
			}
			frontier = next
		}
	}

	intents := make([]StorableIntent, 0, len(collected))
	for _, i := range collected {
		intents = append(intents, i)
	}
	sort.Slice(intents, func(a, b int) bool {
		return relevance(intents[a], cfg, now) > relevance(intents[b], cfg, now)
	})

	var summaries []SummaryNode
	if len(intents) > cfg.MaxIntents {
		intents, summaries = summarizeComponents(intents, edges, cfg, now)
	}

	intents = pruneToTokenBudget(intents, cfg.TokenBudget)

	ids := make(map[string]bool, len(intents))
	for _, i := range intents {
		ids[i.IntentID] = true
	}
	var virtualEdges []Edge
	for _, e := range edges {
		if ids[e.From] && ids[e.To] {
			virtualEdges = append(virtualEdges, e)
		}
	}

	return VirtualizedView{
		Intents:      intents,
		Summaries:    summaries,
		VirtualEdges: virtualEdges,
		Metadata:     map[string]interface{}{"focal_intents": focalIntents, "total_before_pruning": len(collected)},
	}, nil
}

// unionFind is a minimal disjoint-set structure used to group intents into
// connected components over the collected edge set.
type unionFind struct {
	parent map[string]string
}

func newUnionFind(ids []string) *unionFind {
	uf := &unionFind{parent: make(map[string]string, len(ids))}
	for _, id := range ids {
		uf.parent[id] = id
	}
	return uf
}

func (uf *unionFind) find(x string) string {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(a, b string) {
	ra, rb := uf.find(a), uf.find(b)
	if ra != rb {
		uf.parent[ra] = rb
	}
}

func summarizeComponents(intents []StorableIntent, edges []Edge, cfg VirtualizeConfig, now func() int64) ([]StorableIntent, []SummaryNode) {
	ids := make([]string, len(intents))
	byID := make(map[string]StorableIntent, len(intents))
	for i, in := range intents {
		ids[i] = in.IntentID
		byID[in.IntentID] = in
	}
	uf := newUnionFind(ids)
	for _, e := range edges {
		if _, ok := byID[e.From]; !ok {
			continue
		}
		if _, ok := byID[e.To]; !ok {
			continue
		}
		uf.union(e.From, e.To)
	}

	components := map[string][]string{}
	for _, id := range ids {
		root := uf.find(id)
		components[root] = append(components[root], id)
	}

	var kept []StorableIntent
	var summaries []SummaryNode
	for _, members := range components {
		if len(members) < cfg.SummarizationThreshold {
			for _, id := range members {
				kept = append(kept, byID[id])
			}
			continue
		}
		statusCount := map[Status]int{}
		var keyGoals []string
		var maxRel float64
		for _, id := range members {
			in := byID[id]
			statusCount[in.Status]++
			keyGoals = append(keyGoals, in.Goal)
			if r := relevance(in, cfg, now); r > maxRel {
				maxRel = r
			}
		}
		dominant := StatusActive
		best := -1
		for s, c := range statusCount {
			if c > best {
				best, dominant = c, s
			}
		}
		summaries = append(summaries, SummaryNode{
			KeyGoals:       keyGoals,
			DominantStatus: dominant,
			MemberIDs:      append([]string(nil), members...),
			Relevance:      maxRel,
		})
	}

	sort.Slice(kept, func(a, b int) bool { return relevance(kept[a], cfg, now) > relevance(kept[b], cfg, now) })
	return kept, summaries
}

func pruneToTokenBudget(intents []StorableIntent, budget int) []StorableIntent {
	if budget <= 0 {
		return intents
	}
	total := 0
	var kept []StorableIntent
	for _, i := range intents {
		cost := estimateTokens(i.Goal) + estimateTokens(i.CanonicalRTFSSource)
		if total+cost > budget && len(kept) > 0 {
			break
		}
		total += cost
		kept = append(kept, i)
	}
	return kept
}

// SearchResult pairs an intent with its search score.
type SearchResult struct {
	Intent StorableIntent
	Score  float64
}

// Search implements spec.md §4.6's "Enhanced search": exact substring hit
// in goal (+3), word overlap in goal/constraints/preferences, status
// weighting, sorted descending and truncated to limit.
func (g *Graph) Search(query string, limit int) ([]SearchResult, error) {
	intents, err := g.backend.ListIntents(IntentFilter{})
	if err != nil {
		return nil, err
	}

	lowerQuery := strings.ToLower(query)
	results := make([]SearchResult, 0, len(intents))
	for _, i := range intents {
		score := 0.0
		if lowerQuery != "" && strings.Contains(strings.ToLower(i.Goal), lowerQuery) {
			score += 3
		}
		score += wordOverlap(query, i.Goal)
		for _, v := range i.Constraints {
			score += wordOverlap(query, v.Str) * 0.5
		}
		for _, v := range i.Preferences {
			score += wordOverlap(query, v.Str) * 0.5
		}
		score *= statusWeight(i.Status)
		results = append(results, SearchResult{Intent: i, Score: score})
	}

	sort.Slice(results, func(a, b int) bool { return results[a].Score > results[b].Score })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
