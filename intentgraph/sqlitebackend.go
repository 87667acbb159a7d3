package intentgraph

import (
	"database/sql"
	"encoding/json"

	_ "modernc.org/sqlite"

	"github.com/ccos-run/ccos/pkg/rtfserrors"
)

// SqliteBackend is the optional, stubbable backend spec.md §4.6 calls for.
// Grounded on theRebelliousNerd-codenerd/cmd/query-kb's `sql.Open("sqlite",
// path)` usage of modernc.org/sqlite, a pure-Go driver requiring no cgo
// toolchain — the reason the teacher pack favors it over mattn/go-sqlite3
// wherever a repo needs embedded SQL storage.
type SqliteBackend struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS intents (
	intent_id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	goal TEXT NOT NULL,
	data TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS edges (
	from_id TEXT NOT NULL,
	to_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	data TEXT NOT NULL,
	PRIMARY KEY (from_id, to_id, kind)
);
`

// NewSqliteBackend opens (creating if absent) a sqlite database at path.
// Pass ":memory:" for an ephemeral instance, e.g. in tests.
func NewSqliteBackend(path string) (*SqliteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, rtfserrors.Wrap("intentgraph.NewSqliteBackend", rtfserrors.KindStorageError, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, rtfserrors.Wrap("intentgraph.NewSqliteBackend", rtfserrors.KindStorageError, err)
	}
	return &SqliteBackend{db: db}, nil
}

func (b *SqliteBackend) PutIntent(i StorableIntent) error {
	raw, err := json.Marshal(i)
	if err != nil {
		return rtfserrors.Wrap("intentgraph.SqliteBackend.PutIntent", rtfserrors.KindStorageError, err)
	}
	_, err = b.db.Exec(
		`INSERT INTO intents (intent_id, status, goal, data) VALUES (?, ?, ?, ?)
		 ON CONFLICT(intent_id) DO UPDATE SET status=excluded.status, goal=excluded.goal, data=excluded.data`,
		i.IntentID, string(i.Status), i.Goal, string(raw),
	)
	if err != nil {
		return rtfserrors.Wrap("intentgraph.SqliteBackend.PutIntent", rtfserrors.KindStorageError, err)
	}
	return nil
}

func (b *SqliteBackend) GetIntent(id string) (StorableIntent, bool, error) {
	var raw string
	err := b.db.QueryRow(`SELECT data FROM intents WHERE intent_id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return StorableIntent{}, false, nil
	}
	if err != nil {
		return StorableIntent{}, false, rtfserrors.Wrap("intentgraph.SqliteBackend.GetIntent", rtfserrors.KindStorageError, err)
	}
	var i StorableIntent
	if err := json.Unmarshal([]byte(raw), &i); err != nil {
		return StorableIntent{}, false, rtfserrors.Wrap("intentgraph.SqliteBackend.GetIntent", rtfserrors.KindStorageError, err)
	}
	return i, true, nil
}

func (b *SqliteBackend) DeleteIntent(id string) error {
	_, err := b.db.Exec(`DELETE FROM intents WHERE intent_id = ?`, id)
	if err != nil {
		return rtfserrors.Wrap("intentgraph.SqliteBackend.DeleteIntent", rtfserrors.KindStorageError, err)
	}
	return nil
}

func (b *SqliteBackend) ListIntents(filter IntentFilter) ([]StorableIntent, error) {
	query := `SELECT data FROM intents WHERE 1=1`
	var args []interface{}
	if filter.Status != nil {
		query += ` AND status = ?`
		args = append(args, string(*filter.Status))
	}
	if filter.GoalContains != "" {
		query += ` AND instr(goal, ?) > 0`
		args = append(args, filter.GoalContains)
	}
	rows, err := b.db.Query(query, args...)
	if err != nil {
		return nil, rtfserrors.Wrap("intentgraph.SqliteBackend.ListIntents", rtfserrors.KindStorageError, err)
	}
	defer rows.Close()

	var out []StorableIntent
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, rtfserrors.Wrap("intentgraph.SqliteBackend.ListIntents", rtfserrors.KindStorageError, err)
		}
		var i StorableIntent
		if err := json.Unmarshal([]byte(raw), &i); err != nil {
			return nil, rtfserrors.Wrap("intentgraph.SqliteBackend.ListIntents", rtfserrors.KindStorageError, err)
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

func (b *SqliteBackend) PutEdge(e Edge) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return rtfserrors.Wrap("intentgraph.SqliteBackend.PutEdge", rtfserrors.KindStorageError, err)
	}
	_, err = b.db.Exec(
		`INSERT INTO edges (from_id, to_id, kind, data) VALUES (?, ?, ?, ?)
		 ON CONFLICT(from_id, to_id, kind) DO UPDATE SET data=excluded.data`,
		e.From, e.To, string(e.Kind), string(raw),
	)
	if err != nil {
		return rtfserrors.Wrap("intentgraph.SqliteBackend.PutEdge", rtfserrors.KindStorageError, err)
	}
	return nil
}

func (b *SqliteBackend) DeleteEdge(from, to string, kind EdgeKind) error {
	_, err := b.db.Exec(`DELETE FROM edges WHERE from_id = ? AND to_id = ? AND kind = ?`, from, to, string(kind))
	if err != nil {
		return rtfserrors.Wrap("intentgraph.SqliteBackend.DeleteEdge", rtfserrors.KindStorageError, err)
	}
	return nil
}

func (b *SqliteBackend) ListEdges(from, to string, kind EdgeKind) ([]Edge, error) {
	query := `SELECT data FROM edges WHERE 1=1`
	var args []interface{}
	if from != "" {
		query += ` AND from_id = ?`
		args = append(args, from)
	}
	if to != "" {
		query += ` AND to_id = ?`
		args = append(args, to)
	}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(kind))
	}
	rows, err := b.db.Query(query, args...)
	if err != nil {
		return nil, rtfserrors.Wrap("intentgraph.SqliteBackend.ListEdges", rtfserrors.KindStorageError, err)
	}
	defer rows.Close()

	var out []Edge
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, rtfserrors.Wrap("intentgraph.SqliteBackend.ListEdges", rtfserrors.KindStorageError, err)
		}
		var e Edge
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, rtfserrors.Wrap("intentgraph.SqliteBackend.ListEdges", rtfserrors.KindStorageError, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (b *SqliteBackend) Close() error { return b.db.Close() }
