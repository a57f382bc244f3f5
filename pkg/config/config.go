// Package config loads and validates the stashd configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stashhunt/stashd/pkg/mqtt"
	"github.com/stashhunt/stashd/pkg/roads"
	"github.com/stashhunt/stashd/pkg/spawn"
)

// Config is the full daemon configuration.
type Config struct {
	// LogLevel is one of trace, debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`
	LogFile  string `yaml:"log_file" json:"log_file"`

	// ListenAddr is the game API bind address.
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`

	// APIKey guards the game API. Empty disables authentication.
	APIKey string `yaml:"api_key" json:"api_key"`

	// MetricsAddr is the Prometheus scrape endpoint bind address. Empty
	// disables the metrics server.
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`

	// DataDir holds the local databases.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// RemoteLedgerURL points at an authoritative stashd instance. Empty
	// means this instance is authoritative and uses SQLite directly.
	RemoteLedgerURL string `yaml:"remote_ledger_url" json:"remote_ledger_url"`
	RemoteAPIKey    string `yaml:"remote_api_key" json:"remote_api_key"`

	// ReconcileInterval is how often queued offline collections are
	// replayed against the authoritative store.
	ReconcileInterval time.Duration `yaml:"reconcile_interval" json:"reconcile_interval"`

	// SessionTTL evicts idle player sessions from memory.
	SessionTTL time.Duration `yaml:"session_ttl" json:"session_ttl"`

	Spawn *spawn.Config `yaml:"spawn" json:"spawn"`
	MQTT  *mqtt.Config  `yaml:"mqtt" json:"mqtt"`
	Roads *roads.Config `yaml:"roads" json:"roads"`

	// RoadSnapEnabled toggles road snapping; it requires a Roads API key.
	RoadSnapEnabled bool `yaml:"road_snap_enabled" json:"road_snap_enabled"`
}

// DefaultConfig returns the daemon defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:          "info",
		ListenAddr:        ":8080",
		MetricsAddr:       ":9090",
		DataDir:           "/var/lib/stashd",
		ReconcileInterval: 30 * time.Second,
		SessionTTL:        30 * time.Minute,
		Spawn:             spawn.DefaultConfig(),
		MQTT:              mqtt.DefaultConfig(),
		Roads:             roads.DefaultConfig(),
	}
}

// Load reads a YAML config file over the defaults. A missing path returns
// the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}

	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.ReconcileInterval <= 0 {
		return fmt.Errorf("reconcile_interval must be positive")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session_ttl must be positive")
	}
	if c.RoadSnapEnabled && (c.Roads == nil || c.Roads.APIKey == "") {
		return fmt.Errorf("road_snap_enabled requires roads.api_key")
	}

	if c.Spawn != nil {
		if err := c.Spawn.Validate(); err != nil {
			return fmt.Errorf("spawn: %w", err)
		}
	}
	return nil
}
