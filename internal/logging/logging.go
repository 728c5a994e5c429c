// Package logging configures the process-wide zerolog logger from the
// hivemind logging settings: a level name, optional file output, and a
// human-readable console writer otherwise.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup applies a level and output destination to the global logger. When
// file is empty, output goes to stderr through a console writer; otherwise
// log lines are appended to the file as JSON.
func Setup(level, file string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(lvl)

	if file == "" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	log.Logger = log.Output(f)

	return nil
}

// ParseLevel maps the config level names onto zerolog levels.
func ParseLevel(level string) (zerolog.Level, error) {
	switch level {
	case "debug":
		return zerolog.DebugLevel, nil
	case "info":
		return zerolog.InfoLevel, nil
	case "warn":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// WithNode returns a child logger carrying the node id, for per-arm log
// context.
func WithNode(nodeID string) zerolog.Logger {
	return log.With().Str("node", nodeID).Logger()
}
