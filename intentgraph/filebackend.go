package intentgraph

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/ccos-run/ccos/pkg/logger"
	"github.com/ccos-run/ccos/pkg/rtfserrors"
)

// record is one JSONL line: either an intent or an edge, discriminated by
// Kind so both collections share a single append-only log.
type record struct {
	Kind   string          `json:"kind"` // "intent" | "edge" | "delete_intent" | "delete_edge"
	Intent *StorableIntent `json:"intent,omitempty"`
	Edge   *Edge           `json:"edge,omitempty"`
	// Tombstone fields for delete records.
	IntentID string   `json:"intent_id,omitempty"`
	From     string   `json:"from,omitempty"`
	To       string   `json:"to,omitempty"`
	EdgeKind EdgeKind `json:"edge_kind,omitempty"`
}

// FileBackend is an append-only JSONL log with an in-memory mirror for
// reads, plus scheduled compaction (spec.md §4.6). Grounded on spec.md
// §4.6's own "JSONL append log + periodic compaction; atomic writes" spec
// text, with the scheduler itself grounded on
// r3e-network-service_layer's robfig/cron-driven background job pattern
// (services/automation) generalized from blockchain-automation triggers to
// a fixed interval compaction tick.
type FileBackend struct {
	mem  *InMemoryBackend
	path string
	log  logger.Logger

	mu  sync.Mutex
	f   *os.File
	w   *bufio.Writer

	cron *cron.Cron
}

// NewFileBackend opens (or creates) path, replays it into an in-memory
// mirror, and returns a ready-to-use backend. Call StartCompaction to
// enable periodic background compaction.
func NewFileBackend(path string, log logger.Logger) (*FileBackend, error) {
	if log == nil {
		log = logger.NoOpLogger{}
	}
	mem := NewInMemoryBackend()

	if err := replay(path, mem); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, rtfserrors.Wrap("intentgraph.NewFileBackend", rtfserrors.KindStorageError, err)
	}

	return &FileBackend{
		mem:  mem,
		path: path,
		log:  log.WithComponent("ccos/intentgraph/filebackend"),
		f:    f,
		w:    bufio.NewWriter(f),
	}, nil
}

func replay(path string, mem *InMemoryBackend) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return rtfserrors.Wrap("intentgraph.replay", rtfserrors.KindStorageError, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r record
		if err := json.Unmarshal(line, &r); err != nil {
			return rtfserrors.Wrap("intentgraph.replay", rtfserrors.KindStorageError, err)
		}
		switch r.Kind {
		case "intent":
			_ = mem.PutIntent(*r.Intent)
		case "delete_intent":
			_ = mem.DeleteIntent(r.IntentID)
		case "edge":
			_ = mem.PutEdge(*r.Edge)
		case "delete_edge":
			_ = mem.DeleteEdge(r.From, r.To, r.EdgeKind)
		}
	}
	return scanner.Err()
}

func (b *FileBackend) appendRecord(r record) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return rtfserrors.Wrap("intentgraph.FileBackend", rtfserrors.KindStorageError, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.w.Write(raw); err != nil {
		return rtfserrors.Wrap("intentgraph.FileBackend", rtfserrors.KindStorageError, err)
	}
	if err := b.w.WriteByte('\n'); err != nil {
		return rtfserrors.Wrap("intentgraph.FileBackend", rtfserrors.KindStorageError, err)
	}
	if err := b.w.Flush(); err != nil {
		return rtfserrors.Wrap("intentgraph.FileBackend", rtfserrors.KindStorageError, err)
	}
	return b.f.Sync()
}

func (b *FileBackend) PutIntent(i StorableIntent) error {
	if err := b.appendRecord(record{Kind: "intent", Intent: &i}); err != nil {
		return err
	}
	return b.mem.PutIntent(i)
}

func (b *FileBackend) GetIntent(id string) (StorableIntent, bool, error) {
	return b.mem.GetIntent(id)
}

func (b *FileBackend) DeleteIntent(id string) error {
	if err := b.appendRecord(record{Kind: "delete_intent", IntentID: id}); err != nil {
		return err
	}
	return b.mem.DeleteIntent(id)
}

func (b *FileBackend) ListIntents(filter IntentFilter) ([]StorableIntent, error) {
	return b.mem.ListIntents(filter)
}

func (b *FileBackend) PutEdge(e Edge) error {
	if err := b.appendRecord(record{Kind: "edge", Edge: &e}); err != nil {
		return err
	}
	return b.mem.PutEdge(e)
}

func (b *FileBackend) DeleteEdge(from, to string, kind EdgeKind) error {
	if err := b.appendRecord(record{Kind: "delete_edge", From: from, To: to, EdgeKind: kind}); err != nil {
		return err
	}
	return b.mem.DeleteEdge(from, to, kind)
}

func (b *FileBackend) ListEdges(from, to string, kind EdgeKind) ([]Edge, error) {
	return b.mem.ListEdges(from, to, kind)
}

// StartCompaction schedules a periodic rewrite of the log to only the
// current live state (dropping superseded intent/edge versions and
// tombstones), using the teacher pack's robfig/cron scheduler. Compaction
// itself writes to a temp file in the same directory and renames over the
// original, matching spec.md §4.6's atomic-write requirement.
func (b *FileBackend) StartCompaction(spec string) error {
	if spec == "" {
		spec = "@every 1h"
	}
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		if err := b.Compact(); err != nil {
			b.log.Error("compaction failed", logger.Fields{"error": err.Error()})
		}
	}); err != nil {
		return rtfserrors.Wrap("intentgraph.StartCompaction", rtfserrors.KindStorageError, err)
	}
	c.Start()
	b.cron = c
	return nil
}

// Compact rewrites the log to exactly the current in-memory state.
func (b *FileBackend) Compact() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	intents, _ := b.mem.ListIntents(IntentFilter{})
	edges, _ := b.mem.ListEdges("", "", "")

	dir := filepath.Dir(b.path)
	tmp, err := os.CreateTemp(dir, ".intentgraph-*.tmp")
	if err != nil {
		return rtfserrors.Wrap("intentgraph.Compact", rtfserrors.KindStorageError, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	w := bufio.NewWriter(tmp)
	for i := range intents {
		raw, err := json.Marshal(record{Kind: "intent", Intent: &intents[i]})
		if err != nil {
			tmp.Close()
			return rtfserrors.Wrap("intentgraph.Compact", rtfserrors.KindStorageError, err)
		}
		w.Write(raw)
		w.WriteByte('\n')
	}
	for i := range edges {
		raw, err := json.Marshal(record{Kind: "edge", Edge: &edges[i]})
		if err != nil {
			tmp.Close()
			return rtfserrors.Wrap("intentgraph.Compact", rtfserrors.KindStorageError, err)
		}
		w.Write(raw)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return rtfserrors.Wrap("intentgraph.Compact", rtfserrors.KindStorageError, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return rtfserrors.Wrap("intentgraph.Compact", rtfserrors.KindStorageError, err)
	}
	if err := tmp.Close(); err != nil {
		return rtfserrors.Wrap("intentgraph.Compact", rtfserrors.KindStorageError, err)
	}

	// Reopen the live handle against the just-renamed path so subsequent
	// appends land after the compacted content.
	if err := b.f.Close(); err != nil {
		return rtfserrors.Wrap("intentgraph.Compact", rtfserrors.KindStorageError, err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		return rtfserrors.Wrap("intentgraph.Compact", rtfserrors.KindStorageError, err)
	}
	f, err := os.OpenFile(b.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return rtfserrors.Wrap("intentgraph.Compact", rtfserrors.KindStorageError, err)
	}
	b.f = f
	b.w = bufio.NewWriter(f)
	return nil
}

func (b *FileBackend) Close() error {
	if b.cron != nil {
		ctx := b.cron.Stop()
		<-ctx.Done()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.w.Flush(); err != nil {
		return err
	}
	return b.f.Close()
}
