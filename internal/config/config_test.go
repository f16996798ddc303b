package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("RECLAW_BASE_URL", "")
	cfg := Load()

	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, "/ws", cfg.WSPath)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, 30*time.Second, cfg.ScenarioTimeout)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("RECLAW_BASE_URL", "http://gw:9000")
	t.Setenv("RECLAW_CONCURRENCY", "2")
	t.Setenv("RECLAW_WAIT_TIMEOUT_MS", "500")
	t.Setenv("RECLAW_SCENARIOS", "gateway., chat.abort_session_wide")

	cfg := Load()
	assert.Equal(t, "http://gw:9000", cfg.BaseURL)
	assert.Equal(t, 2, cfg.Concurrency)
	assert.Equal(t, 500*time.Millisecond, cfg.WaitTimeout)
	assert.Equal(t, []string{"gateway.", "chat.abort_session_wide"}, cfg.Scenarios)
}

func TestMergeYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conformance.yaml")
	require.NoError(t, os.WriteFile(path, []byte("base_url: http://yaml:1\nscenario_timeout: 5s\njson: true\n"), 0o644))

	cfg := Load()
	require.NoError(t, cfg.MergeFile(path))
	assert.Equal(t, "http://yaml:1", cfg.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.ScenarioTimeout)
	assert.True(t, cfg.JSON)
	assert.Equal(t, "/ws", cfg.WSPath)
}

func TestMergeTOMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conformance.toml")
	content := "base_url = \"http://toml:2\"\nwait_timeout = \"250ms\"\nscenarios = [\"info.protocol_version\"]\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg := Load()
	require.NoError(t, cfg.MergeFile(path))
	assert.Equal(t, "http://toml:2", cfg.BaseURL)
	assert.Equal(t, 250*time.Millisecond, cfg.WaitTimeout)
	assert.Equal(t, []string{"info.protocol_version"}, cfg.Scenarios)
}

func TestMergeFileBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("wait_timeout: soon\n"), 0o644))

	cfg := Load()
	assert.Error(t, cfg.MergeFile(path))
}

func TestValidate(t *testing.T) {
	cfg := Load()
	cfg.WaitTimeout = cfg.ScenarioTimeout
	assert.Error(t, cfg.Validate())

	cfg = Load()
	cfg.Concurrency = 0
	assert.Error(t, cfg.Validate())

	cfg = Load()
	cfg.WSPath = "ws"
	assert.Error(t, cfg.Validate())
}
