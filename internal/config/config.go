package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Session SessionConfig `yaml:"session"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Health  HealthConfig  `yaml:"health"`
}

type ServerConfig struct {
	Port         int    `yaml:"port"`
	Host         string `yaml:"host"`
	PortAttempts int    `yaml:"port_attempts"`
	AuthToken    string `yaml:"auth_token"`
}

type SessionConfig struct {
	UpdateInterval time.Duration `yaml:"update_interval"`
	Duration       time.Duration `yaml:"duration"`
	UsageIncrement uint64        `yaml:"usage_increment"`
	RatePerUnit    uint64        `yaml:"rate_per_unit"`
	Unit           uint8         `yaml:"unit"`
	Decimals       uint8         `yaml:"decimals"`
}

type LedgerConfig struct {
	BaseEndpoint        string `yaml:"base_endpoint"`
	EphemeralEndpoint   string `yaml:"ephemeral_endpoint"`
	EphemeralWSEndpoint string `yaml:"ephemeral_ws_endpoint"`
	WalletFunding       uint64 `yaml:"wallet_funding"`
}

type HealthConfig struct {
	ProcessNames []string `yaml:"process_names"`
}

// Defaults returns the built-in configuration: a 120s session metered in
// 10ms ticks of one raw unit, kWh at three decimals, against local
// validators.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			PortAttempts: 5,
		},
		Session: SessionConfig{
			UpdateInterval: 10 * time.Millisecond,
			Duration:       120 * time.Second,
			UsageIncrement: 1,
			RatePerUnit:    7,
			Unit:           1,
			Decimals:       3,
		},
		Ledger: LedgerConfig{
			BaseEndpoint:        "http://127.0.0.1:8899",
			EphemeralEndpoint:   "http://127.0.0.1:7799",
			EphemeralWSEndpoint: "ws://127.0.0.1:7800",
			WalletFunding:       1_000_000_000,
		},
		Health: HealthConfig{
			ProcessNames: []string{"solana-test-validator", "ephemeral-validator"},
		},
	}
}

// Load reads cfg from path, layering it over defaults and applying env-var
// overrides last. A missing file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv applies the demo driver's environment overrides.
func applyEnv(cfg *Config) {
	if v, ok := envInt("DEMO_PORT"); ok {
		cfg.Server.Port = v
	}
	if v, ok := envInt("DEMO_INTERVAL_MS"); ok {
		cfg.Session.UpdateInterval = time.Duration(v) * time.Millisecond
	}
	if v, ok := envInt("DEMO_DURATION_MS"); ok {
		cfg.Session.Duration = time.Duration(v) * time.Millisecond
	}
	if v, ok := envInt("DEMO_INCREMENT"); ok && v >= 0 {
		cfg.Session.UsageIncrement = uint64(v)
	}
	if v := os.Getenv("ANCHOR_PROVIDER_URL"); v != "" {
		cfg.Ledger.BaseEndpoint = v
	}
	if v := os.Getenv("EPHEMERAL_PROVIDER_ENDPOINT"); v != "" {
		cfg.Ledger.EphemeralEndpoint = v
	}
	if v := os.Getenv("EPHEMERAL_WS_ENDPOINT"); v != "" {
		cfg.Ledger.EphemeralWSEndpoint = v
	}
}

func envInt(name string) (int, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (c *Config) validate() error {
	if c.Session.UpdateInterval <= 0 {
		return fmt.Errorf("session.update_interval must be positive, got %s", c.Session.UpdateInterval)
	}
	if c.Session.Duration <= 0 {
		return fmt.Errorf("session.duration must be positive, got %s", c.Session.Duration)
	}
	if c.Session.UsageIncrement == 0 {
		return fmt.Errorf("session.usage_increment must be positive")
	}
	if c.Server.PortAttempts <= 0 {
		c.Server.PortAttempts = 1
	}
	return nil
}
