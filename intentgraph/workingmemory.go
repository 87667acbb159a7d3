package intentgraph

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/ccos-run/ccos/pkg/rtfserrors"
)

// WmEntry is one Working Memory pool entry (spec.md §3.9), used to keep an
// Arbiter's context horizon bounded by holding condensed prior context
// instead of full action/intent history.
type WmEntry struct {
	ID              string                 `json:"id"`
	Timestamp       time.Time              `json:"timestamp"`
	Content         string                 `json:"content"`
	EstimatedTokens int                    `json:"estimated_tokens"`
	Tags            []string               `json:"tags,omitempty"`
	Metadata        WmEntryMetadata        `json:"metadata"`
}

// WmEntryMetadata carries the two optional provenance fields spec.md §3.9
// names explicitly.
type WmEntryMetadata struct {
	SourceAction string `json:"source_action,omitempty"`
	Provider     string `json:"provider,omitempty"`
}

// WorkingMemory is a badger-backed pool indexed by id, time (ordered) and
// tag (spec.md §3.9: "Indexed by id, by time (ordered), and by tag").
// Grounded on jinterlante1206-AleutianLocal's BadgerJournal
// (services/trace/agent/mcts/crs/journal.go), which uses badger as an
// ordered key-value WAL; generalized here from a delta-replay journal to a
// multi-index entry pool using badger's native key ordering for the
// time index and key-prefix scans for the tag index.
type WorkingMemory struct {
	db *badger.DB
}

const (
	wmKeyPrefix     = "wm:entry:"
	wmTimeKeyPrefix = "wm:time:"
	wmTagKeyPrefix  = "wm:tag:"
)

// NewWorkingMemory opens (creating if absent) a badger database at dir.
// Pass "" for an in-memory-only instance, e.g. in tests.
func NewWorkingMemory(dir string) (*WorkingMemory, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, rtfserrors.Wrap("intentgraph.NewWorkingMemory", rtfserrors.KindStorageError, err)
	}
	return &WorkingMemory{db: db}, nil
}

func (w *WorkingMemory) Close() error { return w.db.Close() }

// Put stores (or replaces) an entry and maintains the time/tag indexes.
func (w *WorkingMemory) Put(e WmEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.EstimatedTokens == 0 {
		e.EstimatedTokens = estimateTokens(e.Content)
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return rtfserrors.Wrap("intentgraph.WorkingMemory.Put", rtfserrors.KindStorageError, err)
	}

	return w.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(wmKeyPrefix+e.ID), raw); err != nil {
			return err
		}
		timeKey := wmTimeKeyPrefix + strconv.FormatInt(e.Timestamp.UnixNano(), 10) + ":" + e.ID
		if err := txn.Set([]byte(timeKey), []byte(e.ID)); err != nil {
			return err
		}
		for _, tag := range e.Tags {
			tagKey := wmTagKeyPrefix + tag + ":" + e.ID
			if err := txn.Set([]byte(tagKey), []byte(e.ID)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Get looks an entry up by id.
func (w *WorkingMemory) Get(id string) (WmEntry, bool, error) {
	var e WmEntry
	found := false
	err := w.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(wmKeyPrefix + id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		})
	})
	if err != nil {
		return WmEntry{}, false, rtfserrors.Wrap("intentgraph.WorkingMemory.Get", rtfserrors.KindStorageError, err)
	}
	return e, found, nil
}

// ListByTime returns up to limit entries in ascending timestamp order
// (limit <= 0 means unbounded).
func (w *WorkingMemory) ListByTime(limit int) ([]WmEntry, error) {
	var ids []string
	err := w.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(wmTimeKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			if limit > 0 && len(ids) >= limit {
				break
			}
			item := it.Item()
			err := item.Value(func(val []byte) error {
				ids = append(ids, string(val))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, rtfserrors.Wrap("intentgraph.WorkingMemory.ListByTime", rtfserrors.KindStorageError, err)
	}
	return w.resolveIDs(ids)
}

// ListByTag returns every entry carrying tag, ordered by entry id.
func (w *WorkingMemory) ListByTag(tag string) ([]WmEntry, error) {
	var ids []string
	prefix := []byte(wmTagKeyPrefix + tag + ":")
	err := w.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				ids = append(ids, string(val))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, rtfserrors.Wrap("intentgraph.WorkingMemory.ListByTag", rtfserrors.KindStorageError, err)
	}
	return w.resolveIDs(ids)
}

func (w *WorkingMemory) resolveIDs(ids []string) ([]WmEntry, error) {
	out := make([]WmEntry, 0, len(ids))
	for _, id := range ids {
		e, ok, err := w.Get(id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// TotalEstimatedTokens sums EstimatedTokens across every stored entry,
// used by context-horizon budgeting alongside CreateVirtualizedView's own
// token-budget pruning.
func (w *WorkingMemory) TotalEstimatedTokens() (int, error) {
	entries, err := w.ListByTime(0)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, e := range entries {
		total += e.EstimatedTokens
	}
	return total, nil
}
