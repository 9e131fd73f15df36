package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level daemon configuration document.
type Config struct {
	PolicyPath string    `yaml:"policyPath"`
	LogLevel   string    `yaml:"logLevel"`
	Telemetry  Telemetry `yaml:"telemetry"`
	Sockets    Sockets   `yaml:"sockets"`
	Reload     Reload    `yaml:"reload"`
}

// Telemetry toggles the opt-in metrics collector.
type Telemetry struct {
	Enabled bool `yaml:"enabled"`
}

// Sockets overrides the runtime-dir socket discovery. Empty fields fall back
// to the environment-based defaults.
type Sockets struct {
	Request string `yaml:"request"`
	Event   string `yaml:"event"`
	Control string `yaml:"control"`
}

// Reload tunes the policy file watcher.
type Reload struct {
	DebounceMs int `yaml:"debounceMs"`
}

// Debounce returns the watcher debounce as a duration.
func (r Reload) Debounce() time.Duration {
	return time.Duration(r.DebounceMs) * time.Millisecond
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes and validates a configuration document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied, used when no
// config file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.PolicyPath == "" {
		c.PolicyPath = "/etc/insetd/policy.yaml"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Reload.DebounceMs == 0 {
		c.Reload.DebounceMs = 250
	}
}

// Validate performs basic sanity checks.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	if c.Reload.DebounceMs < 0 {
		return fmt.Errorf("reload.debounceMs cannot be negative")
	}
	return nil
}
