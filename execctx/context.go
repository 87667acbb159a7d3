// Package execctx implements the hierarchical Execution Context frame
// stack that propagates data through step execution (spec.md §5.1),
// distinct from the Intent Graph and from the Governance Kernel's
// security policy.
package execctx

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/ccos-run/ccos/pkg/logger"
	"github.com/ccos-run/ccos/pkg/rtfserrors"
	"github.com/ccos-run/ccos/rtfs"
)

// Isolation controls how a child frame's data is visible to its parent
// and siblings (spec.md §5.1).
type Isolation int

const (
	// Inherit: child sees parent's data via lookup; writes go into child.
	Inherit Isolation = iota
	// Isolated: child can read parent but siblings cannot see each other.
	Isolated
	// Sandboxed: no parent visibility at all.
	Sandboxed
)

func (i Isolation) String() string {
	switch i {
	case Inherit:
		return "Inherit"
	case Isolated:
		return "Isolated"
	case Sandboxed:
		return "Sandboxed"
	default:
		return "Unknown"
	}
}

// Frame is one node of the Context stack.
type Frame struct {
	ID       string
	ParentID string
	Label    string
	Isolation Isolation

	mu       sync.RWMutex
	data     map[string]rtfs.Value
	children []string
}

// Checkpoint is a named, serializable snapshot of a frame's data, used to
// resume plan execution from a known-good point after a crash.
type Checkpoint struct {
	Label string                   `json:"label"`
	Data  map[string]rtfs.Value    `json:"data"`
}

// Stack owns the full frame tree for one plan execution. Grounded on the
// teacher's mutex-guarded map idiom (core.MemoryStore), generalized from
// a flat TTL cache to a parent-linked tree of frames.
type Stack struct {
	mu     sync.RWMutex
	frames map[string]*Frame
	root   string
	log    logger.Logger
}

func NewStack(log logger.Logger) *Stack {
	if log == nil {
		log = logger.NoOpLogger{}
	}
	s := &Stack{frames: make(map[string]*Frame), log: log.WithComponent("ccos/execctx")}
	root := &Frame{ID: uuid.NewString(), Label: "root", Isolation: Inherit, data: make(map[string]rtfs.Value)}
	s.frames[root.ID] = root
	s.root = root.ID
	return s
}

func (s *Stack) frame(id string) (*Frame, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.frames[id]
	if !ok {
		return nil, rtfserrors.Newf("execctx.frame", rtfserrors.KindStorageError, "unknown execution context frame %q", id)
	}
	return f, nil
}

// EnterStep creates a new child frame under parentID (spec.md §5.1's
// `enter_step(label, isolation)`).
func (s *Stack) EnterStep(parentID, label string, isolation Isolation) (string, error) {
	parent, err := s.frame(parentID)
	if err != nil {
		return "", err
	}
	child := &Frame{
		ID:        uuid.NewString(),
		ParentID:  parent.ID,
		Label:     label,
		Isolation: isolation,
		data:      make(map[string]rtfs.Value),
	}
	s.mu.Lock()
	s.frames[child.ID] = child
	s.mu.Unlock()

	parent.mu.Lock()
	parent.children = append(parent.children, child.ID)
	parent.mu.Unlock()

	s.log.Debug("entered step context", logger.Fields{"frame_id": child.ID, "parent_id": parent.ID, "label": label, "isolation": isolation.String()})
	return child.ID, nil
}

// ExitStep returns the frame's own data map (spec.md's `exit_step() →
// final_data`) without removing it from the stack — ancestors may still
// reference it for checkpointing/serialization.
func (s *Stack) ExitStep(frameID string) (map[string]rtfs.Value, error) {
	f, err := s.frame(frameID)
	if err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]rtfs.Value, len(f.data))
	for k, v := range f.data {
		out[k] = v
	}
	return out, nil
}

// Set writes key into frameID's own data (writes never escape to the
// parent regardless of isolation mode).
func (s *Stack) Set(frameID, key string, val rtfs.Value) error {
	f, err := s.frame(frameID)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = val
	return nil
}

// Get resolves key per the frame's isolation mode: Inherit walks up the
// parent chain, Isolated reads through exactly one parent hop (the
// immediate parent's data, not grandparents, matching "child can read
// parent but siblings cannot see each other"), Sandboxed never leaves the
// frame itself.
func (s *Stack) Get(frameID, key string) (rtfs.Value, bool, error) {
	f, err := s.frame(frameID)
	if err != nil {
		return rtfs.Nil, false, err
	}
	f.mu.RLock()
	if v, ok := f.data[key]; ok {
		f.mu.RUnlock()
		return v, true, nil
	}
	isolation := f.Isolation
	parentID := f.ParentID
	f.mu.RUnlock()

	if parentID == "" {
		return rtfs.Nil, false, nil
	}
	switch isolation {
	case Inherit:
		return s.Get(parentID, key)
	case Isolated:
		parent, err := s.frame(parentID)
		if err != nil {
			return rtfs.Nil, false, err
		}
		parent.mu.RLock()
		defer parent.mu.RUnlock()
		v, ok := parent.data[key]
		return v, ok, nil
	default: // Sandboxed
		return rtfs.Nil, false, nil
	}
}

// CreateParallelContext creates n Isolated sibling frames under parentID
// for a `step-parallel` form, returning their ids in branch order.
func (s *Stack) CreateParallelContext(parentID string, n int) ([]string, error) {
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		id, err := s.EnterStep(parentID, "parallel-branch", Isolated)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

// Checkpoint snapshots frameID's data under label for later resumption.
func (s *Stack) Checkpoint(frameID, label string) (Checkpoint, error) {
	data, err := s.ExitStep(frameID)
	if err != nil {
		return Checkpoint{}, err
	}
	return Checkpoint{Label: label, Data: data}, nil
}

// Serialize renders the whole frame tree to JSON (spec.md's
// `serialize()`), used for plan-resumption persistence alongside the
// Causal Chain.
func (s *Stack) Serialize() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	type wireFrame struct {
		ID        string               `json:"id"`
		ParentID  string               `json:"parent_id,omitempty"`
		Label     string               `json:"label"`
		Isolation string               `json:"isolation"`
		Data      map[string]rtfs.Value `json:"data"`
		Children  []string             `json:"children"`
	}
	out := struct {
		Root   string      `json:"root"`
		Frames []wireFrame `json:"frames"`
	}{Root: s.root}
	for _, f := range s.frames {
		f.mu.RLock()
		out.Frames = append(out.Frames, wireFrame{
			ID: f.ID, ParentID: f.ParentID, Label: f.Label,
			Isolation: f.Isolation.String(), Data: f.data, Children: append([]string(nil), f.children...),
		})
		f.mu.RUnlock()
	}
	return json.Marshal(out)
}

// Deserialize reconstructs a Stack from Serialize's output, matching
// "checkpoints allow plan resumption from a known-good point after a
// crash" (spec.md §5.1).
func Deserialize(raw []byte, log logger.Logger) (*Stack, error) {
	type wireFrame struct {
		ID        string                `json:"id"`
		ParentID  string                `json:"parent_id,omitempty"`
		Label     string                `json:"label"`
		Isolation string                `json:"isolation"`
		Data      map[string]rtfs.Value `json:"data"`
		Children  []string              `json:"children"`
	}
	var in struct {
		Root   string      `json:"root"`
		Frames []wireFrame `json:"frames"`
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, rtfserrors.Wrap("execctx.Deserialize", rtfserrors.KindStorageError, err)
	}
	if log == nil {
		log = logger.NoOpLogger{}
	}
	s := &Stack{frames: make(map[string]*Frame), root: in.Root, log: log.WithComponent("ccos/execctx")}
	for _, wf := range in.Frames {
		isolation := Inherit
		switch wf.Isolation {
		case "Isolated":
			isolation = Isolated
		case "Sandboxed":
			isolation = Sandboxed
		}
		s.frames[wf.ID] = &Frame{
			ID: wf.ID, ParentID: wf.ParentID, Label: wf.Label, Isolation: isolation,
			data: wf.Data, children: wf.Children,
		}
	}
	if s.frames[s.root] == nil {
		return nil, rtfserrors.New("execctx.Deserialize", rtfserrors.KindStorageError, "serialized stack is missing its root frame")
	}
	return s, nil
}

// Root returns the id of the stack's root frame.
func (s *Stack) Root() string { return s.root }
