// Package marketplace implements the Capability Marketplace (spec.md §4.4,
// C4): manifest registration, structural schema validation, provider
// dispatch and attestation. Grounded on the teacher's Capability/Agent
// discovery model (core/agent.go, core/discovery.go), generalized from
// HTTP-endpoint capabilities to the full ProviderSpec variant set.
package marketplace

import (
	"time"

	"github.com/ccos-run/ccos/rtfs"
)

// ProviderKind discriminates the ways a capability can be dispatched
// (spec.md §3.8).
type ProviderKind int

const (
	ProviderLocal ProviderKind = iota
	ProviderHTTP
	ProviderMCP
	ProviderA2A
	ProviderPlugin
	ProviderRemoteRTFS
)

func (k ProviderKind) String() string {
	switch k {
	case ProviderLocal:
		return "Local"
	case ProviderHTTP:
		return "Http"
	case ProviderMCP:
		return "Mcp"
	case ProviderA2A:
		return "A2A"
	case ProviderPlugin:
		return "Plugin"
	case ProviderRemoteRTFS:
		return "RemoteRtfs"
	default:
		return "Unknown"
	}
}

// LocalHandler is a Go-native capability implementation registered
// in-process (ProviderSpec::Local).
type LocalHandler func(ctx *CallContext, args rtfs.Value) (rtfs.Value, error)

// ProviderSpec is the tagged union of capability dispatch targets.
type ProviderSpec struct {
	Kind ProviderKind

	// Local
	Handler LocalHandler

	// Http
	URL     string
	Method  string
	Headers map[string]string

	// Mcp
	ServerURL string
	ToolName  string

	// A2A
	AgentID string

	// Plugin
	PluginID string

	// RemoteRtfs
	Endpoint string
}

// Attestation records provider-identity and manifest-integrity evidence
// checked at dispatch time (spec.md §4.4 step 4).
type Attestation struct {
	ProviderIdentity string
	ManifestHash     string // blake2b hash of the manifest minus this field
	Signature        []byte // ed25519 signature over ManifestHash
	SignerPublicKey  []byte
}

// Capability is the full manifest for one registered capability (spec.md
// §3.8).
type Capability struct {
	ID               string
	Version          string
	Provider         ProviderSpec
	InputSchema      TypeExpr
	OutputSchema     TypeExpr
	RequiresApproval bool
	Attestation      *Attestation
	CostHint         float64
	LatencyHint      time.Duration
}

// key is the registry's internal lookup key: id alone if unversioned, or
// id+version when multiple versions of the same id coexist (spec.md
// §4.4's "duplicate IDs rejected unless a version qualifier
// differentiates").
func (c Capability) key() string {
	if c.Version == "" {
		return c.ID
	}
	return c.ID + "@" + c.Version
}
