// Package agentregistry implements the Agent Registry (spec.md §4.11,
// C11): the pool of delegation-eligible agents the Arbiter's Delegating
// variant scores against, and the Governance Kernel consults for trust
// and skill checks. Grounded on the teacher's service-discovery idiom
// (pkg/discovery/interfaces.go's AgentRegistration/CapabilityMetadata),
// repurposed from an HTTP agent mesh's registration bookkeeping to
// delegation-candidate scoring.
package agentregistry

import (
	"strings"
	"sync"

	"github.com/ccos-run/ccos/pkg/logger"
	"github.com/ccos-run/ccos/pkg/rtfserrors"
)

// AgentCard describes one agent available for delegation.
type AgentCard struct {
	AgentID    string
	Name       string
	Skills     []string // capability/skill tags; tokenized for overlap scoring
	TrustScore float64
	CostHint   float64
	Metadata   map[string]string
}

// Weights are the score formula's coefficients (spec.md §4.11):
// score = w1*keyword_overlap + w2*trust + w3*rolling_success_rate - w4*cost_hint.
type Weights struct {
	KeywordOverlap float64
	Trust          float64
	SuccessRate    float64
	CostPenalty    float64
}

// DefaultWeights keeps keyword overlap dominant, per spec.md §4.11
// ("keyword overlap weight dominant").
var DefaultWeights = Weights{KeywordOverlap: 0.55, Trust: 0.2, SuccessRate: 0.15, CostPenalty: 0.1}

// DefaultSelectionThreshold is the cutoff spec.md §4.11 names ("threshold 0.65").
const DefaultSelectionThreshold = 0.65

type agentState struct {
	card         AgentCard
	successCount int
	totalCount   int
}

// Registry holds registered agents and scores them against intents.
type Registry struct {
	mu        sync.RWMutex
	agents    map[string]*agentState
	weights   Weights
	threshold float64
	log       logger.Logger
}

// NewRegistry constructs an empty, in-memory Registry.
func NewRegistry(log logger.Logger) *Registry {
	if log == nil {
		log = logger.NoOpLogger{}
	}
	return &Registry{
		agents:    make(map[string]*agentState),
		weights:   DefaultWeights,
		threshold: DefaultSelectionThreshold,
		log:       log.WithComponent("ccos/agentregistry"),
	}
}

// SetWeights overrides the score formula's coefficients.
func (r *Registry) SetWeights(w Weights) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.weights = w
}

// SetThreshold overrides the selection cutoff.
func (r *Registry) SetThreshold(t float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threshold = t
}

// Register adds or replaces an agent card.
func (r *Registry) Register(card AgentCard) error {
	if card.AgentID == "" {
		return rtfserrors.New("agentregistry.Register", rtfserrors.KindSchemaMismatch, "agent card has no agent_id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.agents[card.AgentID]
	if ok {
		existing.card = card
		return nil
	}
	r.agents[card.AgentID] = &agentState{card: card}
	return nil
}

// Unregister removes an agent from the pool.
func (r *Registry) Unregister(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, agentID)
}

// Get returns the card for agentID, if registered.
func (r *Registry) Get(agentID string) (AgentCard, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.agents[agentID]
	if !ok {
		return AgentCard{}, false
	}
	return st.card, true
}

// List returns every registered agent's card.
func (r *Registry) List() []AgentCard {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AgentCard, 0, len(r.agents))
	for _, st := range r.agents {
		out = append(out, st.card)
	}
	return out
}

// RecordFeedback updates an agent's rolling success statistics
// (spec.md §4.11's record_feedback).
func (r *Registry) RecordFeedback(agentID string, success bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.agents[agentID]
	if !ok {
		return rtfserrors.Newf("agentregistry.RecordFeedback", rtfserrors.KindCapabilityNotFound, "unknown agent %q", agentID)
	}
	st.totalCount++
	if success {
		st.successCount++
	}
	return nil
}

// scoredCandidate is the Registry's own scoring result, independent of
// any consumer package's vocabulary; adapters.go converts it to whatever
// shape a given consumer interface expects.
type scoredCandidate struct {
	card  AgentCard
	score float64
}

// scoreAgainstGoal implements spec.md §4.11's formula for one agent
// against a natural-language goal string.
func (r *Registry) scoreAgainstGoal(st *agentState, goalTokens []string) float64 {
	overlap := keywordOverlap(goalTokens, tokenizeAll(st.card.Skills))
	trust := st.card.TrustScore
	successRate := 0.5 // neutral prior before any feedback has been recorded
	if st.totalCount > 0 {
		successRate = float64(st.successCount) / float64(st.totalCount)
	}
	w := r.weights
	return w.KeywordOverlap*overlap + w.Trust*trust + w.SuccessRate*successRate - w.CostPenalty*st.card.CostHint
}

// scoreForGoal scores every registered agent against goal, sorted
// descending by score.
func (r *Registry) scoreForGoal(goal string) []scoredCandidate {
	goalTokens := tokenize(goal)

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]scoredCandidate, 0, len(r.agents))
	for _, st := range r.agents {
		out = append(out, scoredCandidate{card: st.card, score: r.scoreAgainstGoal(st, goalTokens)})
	}
	sortCandidatesDescending(out)
	return out
}

func sortCandidatesDescending(cs []scoredCandidate) {
	for i := 1; i < len(cs); i++ {
		for j := i; j > 0 && cs[j].score > cs[j-1].score; j-- {
			cs[j], cs[j-1] = cs[j-1], cs[j]
		}
	}
}

// tokenize splits text into lowercase keyword tokens. spec.md §4.11's
// tokenization note requires underscore splitting so "list_issues"
// becomes ["list", "issues"]; this also splits on whitespace and hyphens
// for the same reason.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return r == '_' || r == '-' || r == ' ' || r == '\t' || r == '\n'
	})
}

func tokenizeAll(phrases []string) []string {
	var out []string
	for _, p := range phrases {
		out = append(out, tokenize(p)...)
	}
	return out
}

// keywordOverlap is the fraction of goalTokens also present in skillTokens.
func keywordOverlap(goalTokens, skillTokens []string) float64 {
	if len(goalTokens) == 0 {
		return 0
	}
	skillSet := make(map[string]struct{}, len(skillTokens))
	for _, t := range skillTokens {
		skillSet[t] = struct{}{}
	}
	matched := 0
	for _, t := range goalTokens {
		if _, ok := skillSet[t]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(goalTokens))
}
