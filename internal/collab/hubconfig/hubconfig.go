// Package hubconfig loads the collaboration hub's top-level YAML config:
// where provider credentials live, where durable state is rooted, and the
// session/sync capacity limits. Loading follows the same
// read-file-then-yaml.Unmarshal-onto-defaults shape as
// internal/agent/config.Load, just scoped to the hub's own concerns rather
// than the desktop agent's.
package hubconfig

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the hub's on-disk configuration (hub.yaml).
type Config struct {
	StorageRoot        string `yaml:"storage_root"`
	CredentialsPath    string `yaml:"credentials_path"`
	MaxSessions        int    `yaml:"max_sessions"`
	MaxChangeLogSize   int    `yaml:"max_change_log_size"`
	SyncIntervalSecs   float64 `yaml:"sync_interval_secs"`
	DefaultProvider    string `yaml:"default_provider"`
}

// DefaultConfig returns the hub's out-of-the-box tunables.
func DefaultConfig() *Config {
	return &Config{
		StorageRoot:      ".nebo-collab",
		CredentialsPath:  "~/.nebo/credentials.json",
		MaxSessions:      100,
		MaxChangeLogSize: 100_000,
		SyncIntervalSecs: 30,
		DefaultProvider:  "anthropic",
	}
}

// Load reads path and unmarshals it onto DefaultConfig's values. A missing
// file is not an error: the caller gets the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.expandHome()
	return cfg, nil
}

func (c *Config) expandHome() {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	if len(c.CredentialsPath) >= 2 && c.CredentialsPath[:2] == "~/" {
		c.CredentialsPath = filepath.Join(home, c.CredentialsPath[2:])
	}
	if len(c.StorageRoot) >= 2 && c.StorageRoot[:2] == "~/" {
		c.StorageRoot = filepath.Join(home, c.StorageRoot[2:])
	}
}

// Save writes cfg to path as YAML, creating parent directories as needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
