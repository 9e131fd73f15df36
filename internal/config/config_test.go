package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("telemetry:\n  enabled: true\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.PolicyPath != "/etc/insetd/policy.yaml" {
		t.Fatalf("policyPath = %q", cfg.PolicyPath)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("logLevel = %q", cfg.LogLevel)
	}
	if cfg.Reload.Debounce() != 250*time.Millisecond {
		t.Fatalf("debounce = %v", cfg.Reload.Debounce())
	}
	if !cfg.Telemetry.Enabled {
		t.Fatalf("telemetry should be enabled")
	}
}

func TestParseRejectsBadLogLevel(t *testing.T) {
	if _, err := Parse([]byte("logLevel: loud\n")); err == nil {
		t.Fatalf("expected error for unknown log level")
	}
}

func TestLoadRoundTrip(t *testing.T) {
	doc := `
policyPath: /tmp/policy.yaml
logLevel: debug
reload:
  debounceMs: 100
sockets:
  control: /tmp/control.sock
`
	path := filepath.Join(t.TempDir(), "insetd.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PolicyPath != "/tmp/policy.yaml" || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Reload.Debounce() != 100*time.Millisecond {
		t.Fatalf("debounce = %v", cfg.Reload.Debounce())
	}
	if cfg.Sockets.Control != "/tmp/control.sock" {
		t.Fatalf("control socket = %q", cfg.Sockets.Control)
	}
}

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}
