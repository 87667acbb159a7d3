package causalchain

import (
	"crypto/ed25519"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ccos-run/ccos/pkg/logger"
	"github.com/ccos-run/ccos/pkg/rtfserrors"
)

// Chain is the in-process, append-only ledger: one mutex-protected slice
// plus four secondary indexes. Grounded on gomind/core/memory_store.go's
// mutex + index-map pattern, generalized from a single key→value index to
// four parallel indexes (by_intent/by_plan/by_step/by_kind) since actions
// are queried along all four axes (spec.md §4.5's Query contract).
//
// Ordering guarantee: appends serialize on mu, so the ledger is totally
// ordered even under concurrent plans (spec.md §5's "acceptable because
// append is O(1), bottleneck is typically capability I/O" note).
type Chain struct {
	mu     sync.Mutex
	log    logger.Logger
	signer *Signer

	actions []Action

	byIntent map[string][]int
	byPlan   map[string][]int
	byStep   map[string][]int
	byKind   map[ActionKind][]int
}

// NewChain builds an empty chain. signer may be nil, in which case actions
// are appended unsigned (useful for tests); Verify then skips
// signature checks for those entries.
func NewChain(signer *Signer, log logger.Logger) *Chain {
	if log == nil {
		log = logger.NoOpLogger{}
	}
	return &Chain{
		log:      log.WithComponent("ccos/causalchain"),
		signer:   signer,
		byIntent: make(map[string][]int),
		byPlan:   make(map[string][]int),
		byStep:   make(map[string][]int),
		byKind:   make(map[ActionKind][]int),
	}
}

// Append computes prev_hash/content_hash/signature and appends d to the
// ledger (spec.md §4.5 Append). Genesis entries get a zero prev_hash.
func (c *Chain) Append(d Draft) (Action, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	a := Action{
		ActionID:       uuid.NewString(),
		ParentActionID: d.ParentActionID,
		PlanID:         d.PlanID,
		IntentID:       d.IntentID,
		StepID:         d.StepID,
		Kind:           d.Kind,
		Timestamp:      time.Now().UTC(),
		Metadata:       d.Metadata,
	}

	if len(c.actions) > 0 {
		a.PrevHash = c.actions[len(c.actions)-1].ContentHash
	}

	hash, err := hashAction(a)
	if err != nil {
		return Action{}, rtfserrors.Wrap("causalchain.Append", rtfserrors.KindStorageError, err)
	}
	a.ContentHash = hash

	if c.signer != nil {
		a.Signature = c.signer.Sign(hash)
	}

	idx := len(c.actions)
	c.actions = append(c.actions, a)
	c.byIntent[a.IntentID] = append(c.byIntent[a.IntentID], idx)
	if a.PlanID != "" {
		c.byPlan[a.PlanID] = append(c.byPlan[a.PlanID], idx)
	}
	if a.StepID != "" {
		c.byStep[a.StepID] = append(c.byStep[a.StepID], idx)
	}
	c.byKind[a.Kind] = append(c.byKind[a.Kind], idx)

	c.log.Debug("action appended", logger.Fields{"action_id": a.ActionID, "kind": string(a.Kind), "intent_id": a.IntentID})
	return a, nil
}

// VerificationError describes the first break found while walking the
// chain.
type VerificationError struct {
	Index   int
	Reason  string
}

func (e *VerificationError) Error() string {
	return e.Reason
}

// Verify walks the whole ledger checking hash-chain continuity and, when
// pub is non-nil, signature validity (spec.md §4.5 Verify).
func (c *Chain) Verify(pub ed25519.PublicKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var prevHash string
	for i, a := range c.actions {
		if a.PrevHash != prevHash {
			return rtfserrors.Newf("causalchain.Verify", rtfserrors.KindLedgerVerificationError,
				"chain broken at action %d (%s): prev_hash mismatch", i, a.ActionID).
				WithDetail("action_id", a.ActionID)
		}
		wantHash, err := hashAction(a)
		if err != nil {
			return rtfserrors.Wrap("causalchain.Verify", rtfserrors.KindLedgerVerificationError, err)
		}
		if wantHash != a.ContentHash {
			return rtfserrors.Newf("causalchain.Verify", rtfserrors.KindLedgerVerificationError,
				"chain broken at action %d (%s): content_hash does not match recomputed hash", i, a.ActionID).
				WithDetail("action_id", a.ActionID)
		}
		if pub != nil && a.Signature != "" && !Verify(pub, a.ContentHash, a.Signature) {
			return rtfserrors.Newf("causalchain.Verify", rtfserrors.KindLedgerVerificationError,
				"chain broken at action %d (%s): signature does not verify", i, a.ActionID).
				WithDetail("action_id", a.ActionID)
		}
		prevHash = a.ContentHash
	}
	return nil
}

func (c *Chain) collect(idxs []int) []Action {
	out := make([]Action, len(idxs))
	for i, idx := range idxs {
		out[i] = c.actions[idx]
	}
	return out
}

// ActionsForIntent returns every action touching intent id, in append order.
func (c *Chain) ActionsForIntent(id string) []Action {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.collect(c.byIntent[id])
}

// ActionsForPlan returns every action belonging to plan id, in append order.
func (c *Chain) ActionsForPlan(id string) []Action {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.collect(c.byPlan[id])
}

// ActionsForStep returns every action belonging to step id, in append order.
func (c *Chain) ActionsForStep(id string) []Action {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.collect(c.byStep[id])
}

// ActionsByKind returns every action of the given kind, in append order.
func (c *Chain) ActionsByKind(kind ActionKind) []Action {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.collect(c.byKind[kind])
}

// Len reports the total number of appended actions.
func (c *Chain) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.actions)
}

// Tail returns the most recently appended action's content hash, or "" for
// an empty chain.
func (c *Chain) Tail() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.actions) == 0 {
		return ""
	}
	return c.actions[len(c.actions)-1].ContentHash
}
