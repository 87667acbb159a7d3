package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccos-run/ccos/internal/config"
)

func writeYAML(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ccos.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, config.Default().Validate())
}

func TestLoadAppliesYAMLOverridesOnTopOfDefaults(t *testing.T) {
	path := writeYAML(t, `
intent_graph:
  backend: file
  path: /tmp/intent-graph
repair:
  max_attempts: 5
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "file", cfg.IntentGraph.Backend)
	assert.Equal(t, "/tmp/intent-graph", cfg.IntentGraph.Path)
	assert.Equal(t, 5, cfg.Repair.MaxAttempts)
	// untouched fields keep their defaults
	assert.Equal(t, "memory", cfg.Discovery.Backend)
}

func TestLoadRejectsFileBackendWithoutPath(t *testing.T) {
	path := writeYAML(t, `
intent_graph:
  backend: file
`)
	_, err := config.Load(path)
	require.Error(t, err)
}

func TestLoadRejectsRedisBackendWithoutURL(t *testing.T) {
	path := writeYAML(t, `
discovery:
  backend: redis
`)
	_, err := config.Load(path)
	require.Error(t, err)
}

func TestEnvOverridesBeatYAML(t *testing.T) {
	path := writeYAML(t, `
repair:
  max_attempts: 5
logging:
  level: info
`)
	t.Setenv("CCOS_REPAIR_MAX_ATTEMPTS", "7")
	t.Setenv("CCOS_LOG_LEVEL", "debug")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Repair.MaxAttempts)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
