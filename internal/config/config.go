// Package config loads the single Config struct a CCOS host process needs
// to wire together the Arbiter, Orchestrator, Agent Registry, Governance
// Kernel, and Causal Chain, following the teacher's layered
// defaults-then-file-then-env precedence (gomind/core.Config).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/go-playground/validator/v10"

	"github.com/ccos-run/ccos/pkg/rtfserrors"
)

// Config is the root configuration object. Every field has a matching
// CCOS_* environment variable override, applied after YAML file load and
// before validation.
type Config struct {
	Discovery   DiscoveryConfig   `yaml:"discovery"`
	CausalChain CausalChainConfig `yaml:"causal_chain"`
	IntentGraph IntentGraphConfig `yaml:"intent_graph"`
	Marketplace MarketplaceConfig `yaml:"marketplace"`
	Governance  GovernanceConfig  `yaml:"governance"`
	Repair      RepairConfig      `yaml:"repair"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// DiscoveryConfig selects and configures the Agent Registry's backend.
type DiscoveryConfig struct {
	Backend        string `yaml:"backend" validate:"oneof=memory redis"`
	RedisURL       string `yaml:"redis_url" validate:"required_if=Backend redis"`
	RedisNamespace string `yaml:"redis_namespace"`
}

// CausalChainConfig configures the ledger's signing key.
type CausalChainConfig struct {
	// SigningKeyPath points at a hex-encoded Ed25519 private key on disk.
	// Empty means generate a fresh, ephemeral keypair at startup
	// (causalchain.NewSigner) instead of loading one (causalchain.LoadSigner).
	SigningKeyPath string `yaml:"signing_key_path"`
}

// IntentGraphConfig selects the Intent Graph's storage backend.
type IntentGraphConfig struct {
	Backend     string `yaml:"backend" validate:"oneof=memory file sqlite"`
	Path        string `yaml:"path" validate:"required_unless=Backend memory"`
	Compact     bool   `yaml:"compact"`
	CompactCron string `yaml:"compact_cron"`
}

// MarketplaceConfig configures capability-provider call timeouts and retry.
type MarketplaceConfig struct {
	CallTimeout       time.Duration `yaml:"call_timeout" validate:"required"`
	RetryAttempts     int           `yaml:"retry_attempts" validate:"min=1"`
	RetryInitialDelay time.Duration `yaml:"retry_initial_delay"`
}

// GovernanceConfig points at the constitution rule file the Governance
// Kernel compiles at startup.
type GovernanceConfig struct {
	ConstitutionPath string `yaml:"constitution_path"`
}

// RepairConfig bounds the orchestrator's repair loop (spec.md §5).
type RepairConfig struct {
	MaxAttempts int `yaml:"max_attempts" validate:"min=1"`
}

// LoggingConfig holds the logging level and format settings. No code in
// this module applies them to a logger; logger.StdLogger writes text lines
// only and takes its level from NewStdLogger or CCOS_LOG_LEVEL.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

// Default returns a configuration with the same in-memory, zero-external-
// dependency defaults every package in this module already falls back to
// on its own (InMemoryBackend, a fresh ephemeral signing key, the default
// constitution rules).
func Default() *Config {
	return &Config{
		Discovery: DiscoveryConfig{
			Backend:        "memory",
			RedisNamespace: "ccos:agents",
		},
		CausalChain: CausalChainConfig{},
		IntentGraph: IntentGraphConfig{
			Backend: "memory",
		},
		Marketplace: MarketplaceConfig{
			CallTimeout:       30 * time.Second,
			RetryAttempts:     3,
			RetryInitialDelay: 100 * time.Millisecond,
		},
		Governance: GovernanceConfig{},
		Repair:     RepairConfig{MaxAttempts: 3},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads path as YAML into Default()'s baseline, applies CCOS_*
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, rtfserrors.Wrap("config.Load", rtfserrors.KindStorageError, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, rtfserrors.Wrap("config.Load", rtfserrors.KindParseError, err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays CCOS_* environment variables on top of whatever YAML
// loaded, matching the teacher's env-var-overridable precedence
// (gomind/core.Config.LoadFromEnv): env vars beat file values, functional
// callers beat both (there are none here, so env is the final word).
func (c *Config) applyEnv() {
	if v := os.Getenv("CCOS_DISCOVERY_BACKEND"); v != "" {
		c.Discovery.Backend = v
	}
	if v := os.Getenv("CCOS_DISCOVERY_REDIS_URL"); v != "" {
		c.Discovery.RedisURL = v
	}
	if v := os.Getenv("CCOS_DISCOVERY_REDIS_NAMESPACE"); v != "" {
		c.Discovery.RedisNamespace = v
	}
	if v := os.Getenv("CCOS_CAUSALCHAIN_SIGNING_KEY_PATH"); v != "" {
		c.CausalChain.SigningKeyPath = v
	}
	if v := os.Getenv("CCOS_INTENTGRAPH_BACKEND"); v != "" {
		c.IntentGraph.Backend = v
	}
	if v := os.Getenv("CCOS_INTENTGRAPH_PATH"); v != "" {
		c.IntentGraph.Path = v
	}
	if v := os.Getenv("CCOS_INTENTGRAPH_COMPACT"); v != "" {
		c.IntentGraph.Compact = parseBool(v)
	}
	if v := os.Getenv("CCOS_INTENTGRAPH_COMPACT_CRON"); v != "" {
		c.IntentGraph.CompactCron = v
	}
	if v := os.Getenv("CCOS_MARKETPLACE_CALL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Marketplace.CallTimeout = d
		}
	}
	if v := os.Getenv("CCOS_MARKETPLACE_RETRY_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Marketplace.RetryAttempts = n
		}
	}
	if v := os.Getenv("CCOS_MARKETPLACE_RETRY_INITIAL_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Marketplace.RetryInitialDelay = d
		}
	}
	if v := os.Getenv("CCOS_GOVERNANCE_CONSTITUTION_PATH"); v != "" {
		c.Governance.ConstitutionPath = v
	}
	if v := os.Getenv("CCOS_REPAIR_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Repair.MaxAttempts = n
		}
	}
	if v := os.Getenv("CCOS_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("CCOS_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

var validate = validator.New()

// Validate runs go-playground/validator struct-tag checks (oneof backend
// enums, required_if/required_unless cross-field rules for Redis URL and
// Intent Graph path).
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return rtfserrors.Wrap("config.Validate", rtfserrors.KindSchemaMismatch, err)
	}
	return nil
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

func (c *Config) String() string {
	return fmt.Sprintf("Config{discovery=%s intent_graph=%s repair_max=%d}", c.Discovery.Backend, c.IntentGraph.Backend, c.Repair.MaxAttempts)
}
