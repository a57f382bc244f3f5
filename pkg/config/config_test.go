package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected default log level info, got %s", cfg.LogLevel)
	}
	if cfg.Spawn.StandardCount != 10 {
		t.Errorf("expected default coin count 10, got %d", cfg.Spawn.StandardCount)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stashd.yaml")
	content := `
log_level: debug
listen_addr: ":9000"
reconcile_interval: 1m
spawn:
  standard_count: 25
mqtt:
  enabled: true
  broker: mqtt.example.com
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level not overridden: %s", cfg.LogLevel)
	}
	if cfg.ListenAddr != ":9000" {
		t.Errorf("listen addr not overridden: %s", cfg.ListenAddr)
	}
	if cfg.ReconcileInterval != time.Minute {
		t.Errorf("reconcile interval not overridden: %s", cfg.ReconcileInterval)
	}
	if cfg.Spawn.StandardCount != 25 {
		t.Errorf("spawn override lost: %d", cfg.Spawn.StandardCount)
	}
	// Untouched spawn fields keep their defaults.
	if cfg.Spawn.StandardRadiusM != 457 {
		t.Errorf("spawn default clobbered: %v", cfg.Spawn.StandardRadiusM)
	}
	if !cfg.MQTT.Enabled || cfg.MQTT.Broker != "mqtt.example.com" {
		t.Errorf("mqtt override lost: %+v", cfg.MQTT)
	}
	if cfg.MQTT.Port != 1883 {
		t.Errorf("mqtt default port clobbered: %d", cfg.MQTT.Port)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"bad log level", "log_level: loud\n"},
		{"snap without key", "road_snap_enabled: true\n"},
		{"zero reconcile", "reconcile_interval: 0s\n"},
		{"negative coin count", "spawn:\n  standard_count: -1\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "stashd.yaml")
			if err := os.WriteFile(path, []byte(tc.content), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
