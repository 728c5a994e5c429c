package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []string{"node_local"}, cfg.Hive.Nodes)
	assert.Equal(t, 0.8, cfg.Capture.PracticeShareThreshold)
	assert.Equal(t, 0.75, cfg.Capture.PatternShareThreshold)
	assert.True(t, cfg.Capture.ShareFailures)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFromPath_CreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	// The file now exists and a second load agrees with the first.
	_, err = os.Stat(path)
	require.NoError(t, err)

	again, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Hive.Nodes, again.Hive.Nodes)
	assert.Equal(t, cfg.Capture, again.Capture)
}

func TestSaveAndLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := Default()
	cfg.Storage.DataDir = "/var/lib/hivemind/memory"
	cfg.Storage.LedgerPath = "/var/lib/hivemind/ledger.jsonl"
	cfg.Hive.Nodes = []string{"node_a", "node_b", "node_c"}
	cfg.Capture.PracticeShareThreshold = 0.9
	cfg.Capture.ShareFailures = false
	cfg.Logging.Level = "debug"
	require.NoError(t, cfg.SaveToPath(path))

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Storage.DataDir, loaded.Storage.DataDir)
	assert.Equal(t, cfg.Hive.Nodes, loaded.Hive.Nodes)
	assert.Equal(t, 0.9, loaded.Capture.PracticeShareThreshold)
	assert.False(t, loaded.Capture.ShareFailures)
	assert.Equal(t, "debug", loaded.Logging.Level)
}

func TestValidate_Errors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty data dir", func(c *Config) { c.Storage.DataDir = "" }},
		{"empty ledger path", func(c *Config) { c.Storage.LedgerPath = "" }},
		{"no nodes", func(c *Config) { c.Hive.Nodes = nil }},
		{"empty node id", func(c *Config) { c.Hive.Nodes = []string{"node_a", ""} }},
		{"duplicate node id", func(c *Config) { c.Hive.Nodes = []string{"node_a", "node_a"} }},
		{"practice threshold too high", func(c *Config) { c.Capture.PracticeShareThreshold = 1.2 }},
		{"pattern threshold negative", func(c *Config) { c.Capture.PatternShareThreshold = -0.1 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".hivemind"), expandPath("~/.hivemind"))
	assert.Equal(t, "/absolute/path", expandPath("/absolute/path"))
	assert.Equal(t, "", expandPath(""))
}
