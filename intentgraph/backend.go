package intentgraph

// IntentFilter narrows List calls; zero-value fields are unconstrained.
type IntentFilter struct {
	Status *Status
	// GoalContains, when non-empty, matches intents whose Goal contains
	// the substring case-sensitively.
	GoalContains string
}

// Backend is the pluggable storage trait intent graphs run on (spec.md
// §4.6): InMemory, File (JSONL + compaction) and Sqlite all satisfy it.
// Grounded on gomind/core/discovery.go's map-of-maps + RWMutex registry
// pattern, generalized from a single-collection registry to intents+edges.
type Backend interface {
	PutIntent(i StorableIntent) error
	GetIntent(id string) (StorableIntent, bool, error)
	DeleteIntent(id string) error
	ListIntents(filter IntentFilter) ([]StorableIntent, error)

	PutEdge(e Edge) error
	DeleteEdge(from, to string, kind EdgeKind) error
	// ListEdges returns edges matching the given filters; empty string/""
	// kind means unconstrained on that axis.
	ListEdges(from, to string, kind EdgeKind) ([]Edge, error)

	Close() error
}
