package intentgraph

// EdgeKind discriminates the fixed relationship vocabulary (spec.md §3.5).
type EdgeKind string

const (
	EdgeIsSubgoalOf   EdgeKind = "IsSubgoalOf"
	EdgeDependsOn     EdgeKind = "DependsOn"
	EdgeConflictsWith EdgeKind = "ConflictsWith"
	EdgeRelatedTo     EdgeKind = "RelatedTo"
)

// Edge is a directed relationship between two intents. IsSubgoalOf edges
// define the hierarchy graph traversal (BFS export, virtualization) walks.
type Edge struct {
	From     string                 `json:"from"`
	To       string                 `json:"to"`
	Kind     EdgeKind               `json:"kind"`
	Weight   float64                `json:"weight"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

func (e Edge) key() string {
	return string(e.Kind) + "\x00" + e.From + "\x00" + e.To
}
