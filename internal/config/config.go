// Package config loads hivemind configuration from a YAML file with
// environment variable overrides. A missing config file is created with
// defaults on first load.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/normanking/hivemind/internal/capture"
)

// Config holds all hivemind configuration. It is loaded from
// ~/.hivemind/config.yaml and can be overridden by HIVEMIND_* environment
// variables.
type Config struct {
	Storage StorageConfig  `mapstructure:"storage" yaml:"storage"`
	Hive    HiveConfig     `mapstructure:"hive" yaml:"hive"`
	Capture capture.Config `mapstructure:"capture" yaml:"capture"`
	Logging LoggingConfig  `mapstructure:"logging" yaml:"logging"`
}

// StorageConfig locates the per-node databases and the replication ledger.
type StorageConfig struct {
	// DataDir is the root under which each node gets its own subdirectory.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
	// LedgerPath is the JSONL file replication events are appended to.
	LedgerPath string `mapstructure:"ledger_path" yaml:"ledger_path"`
}

// HiveConfig declares the node set the CLI opens at startup. Registration
// happens in list order, which fixes default share targeting and consensus
// candidate ordering.
type HiveConfig struct {
	Nodes []string `mapstructure:"nodes" yaml:"nodes"`
}

// LoggingConfig controls zerolog output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level" yaml:"level"`
	// File, when set, receives log output instead of stderr.
	File string `mapstructure:"file" yaml:"file,omitempty"`
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			DataDir:    "~/.hivemind/memory",
			LedgerPath: "~/.hivemind/ledger/replication.jsonl",
		},
		Hive: HiveConfig{
			Nodes: []string{"node_local"},
		},
		Capture: capture.DefaultConfig(),
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the default location (~/.hivemind/config.yaml)
// and merges with environment variables. If no config file exists, it creates
// one with default values.
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home directory: %w", err)
	}
	return LoadFromPath(filepath.Join(homeDir, ".hivemind", "config.yaml"))
}

// LoadFromPath reads configuration from a specific file path and merges with
// environment variables. If the file doesn't exist, it is created with
// default values.
func LoadFromPath(path string) (*Config, error) {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create config directory: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeConfigFile(path, Default()); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Example override: HIVEMIND_STORAGE_DATA_DIR
	v.SetEnvPrefix("HIVEMIND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Storage.DataDir = expandPath(cfg.Storage.DataDir)
	cfg.Storage.LedgerPath = expandPath(cfg.Storage.LedgerPath)
	cfg.Logging.File = expandPath(cfg.Logging.File)

	return &cfg, nil
}

// SaveToPath writes the configuration to a specific file path.
func (c *Config) SaveToPath(path string) error {
	path = expandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return writeConfigFile(path, c)
}

// Validate checks the configuration for common errors.
func (c *Config) Validate() error {
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir cannot be empty")
	}
	if c.Storage.LedgerPath == "" {
		return fmt.Errorf("storage.ledger_path cannot be empty")
	}

	if len(c.Hive.Nodes) == 0 {
		return fmt.Errorf("hive.nodes cannot be empty")
	}
	seen := make(map[string]bool, len(c.Hive.Nodes))
	for _, node := range c.Hive.Nodes {
		if node == "" {
			return fmt.Errorf("hive.nodes contains an empty node id")
		}
		if seen[node] {
			return fmt.Errorf("hive.nodes contains duplicate node id '%s'", node)
		}
		seen[node] = true
	}

	if c.Capture.PracticeShareThreshold < 0 || c.Capture.PracticeShareThreshold > 1 {
		return fmt.Errorf("capture.practice_share_threshold must be in [0, 1]")
	}
	if c.Capture.PatternShareThreshold < 0 || c.Capture.PatternShareThreshold > 1 {
		return fmt.Errorf("capture.pattern_share_threshold must be in [0, 1]")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}

	return nil
}

// writeConfigFile writes a Config struct to a YAML file.
// Uses gopkg.in/yaml.v3 directly to ensure proper tag-based serialization.
func writeConfigFile(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// expandPath expands ~ to the user's home directory in a path string.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[1:])
	}
	return path
}
