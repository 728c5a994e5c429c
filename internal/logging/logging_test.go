package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug": zerolog.DebugLevel,
		"info":  zerolog.InfoLevel,
		"warn":  zerolog.WarnLevel,
		"error": zerolog.ErrorLevel,
	}
	for name, want := range cases {
		got, err := ParseLevel(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestSetup_FileOutput(t *testing.T) {
	file := filepath.Join(t.TempDir(), "logs", "hivemind.log")
	require.NoError(t, Setup("info", file))

	log.Info().Str("node", "node_a").Msg("hello")

	raw, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"node":"node_a"`)
	assert.Contains(t, string(raw), "hello")
}

func TestSetup_RejectsBadLevel(t *testing.T) {
	assert.Error(t, Setup("loud", ""))
}

func TestWithNode(t *testing.T) {
	logger := WithNode("node_b")
	// Smoke: the child logger is usable.
	logger.Debug().Msg("attached")
}
