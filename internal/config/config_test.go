package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Session.UpdateInterval != 10*time.Millisecond {
		t.Errorf("update interval = %s, want 10ms", cfg.Session.UpdateInterval)
	}
	if cfg.Session.Duration != 120*time.Second {
		t.Errorf("duration = %s, want 120s", cfg.Session.Duration)
	}
	if cfg.Session.Decimals != 3 {
		t.Errorf("decimals = %d, want 3", cfg.Session.Decimals)
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
server:
  port: 9999
session:
  update_interval: 50ms
  duration: 2s
  rate_per_unit: 13
ledger:
  base_endpoint: http://base:8899
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Session.UpdateInterval != 50*time.Millisecond {
		t.Errorf("update interval = %s, want 50ms", cfg.Session.UpdateInterval)
	}
	if cfg.Session.RatePerUnit != 13 {
		t.Errorf("rate = %d, want 13", cfg.Session.RatePerUnit)
	}
	if cfg.Ledger.BaseEndpoint != "http://base:8899" {
		t.Errorf("base endpoint = %q", cfg.Ledger.BaseEndpoint)
	}
	// Fields absent from the file keep their defaults.
	if cfg.Session.UsageIncrement != 1 {
		t.Errorf("usage increment = %d, want default 1", cfg.Session.UsageIncrement)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [not a map"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load accepted invalid yaml")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DEMO_PORT", "7070")
	t.Setenv("DEMO_INTERVAL_MS", "25")
	t.Setenv("DEMO_DURATION_MS", "5000")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d, want env override 7070", cfg.Server.Port)
	}
	if cfg.Session.UpdateInterval != 25*time.Millisecond {
		t.Errorf("update interval = %s, want 25ms", cfg.Session.UpdateInterval)
	}
	if cfg.Session.Duration != 5*time.Second {
		t.Errorf("duration = %s, want 5s", cfg.Session.Duration)
	}
}

func TestValidateRejectsZeroInterval(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("session:\n  update_interval: 0s\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load accepted a zero update interval")
	}
}
