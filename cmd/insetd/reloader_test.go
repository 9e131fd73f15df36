package main

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/insetd/insetd/internal/insets"
	"github.com/insetd/insetd/internal/policy"
	"github.com/insetd/insetd/internal/util"
)

const validPolicy = `
default:
  show: [statusBar, navigationBar]
rules:
  - name: maps-immersive
    match:
      package: com.example.maps
    hide: [navigationBar]
`

func TestReloadKeepsRulesOnBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte(validPolicy), 0o600); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	logger := util.NewLoggerWithWriter(util.LevelError, io.Discard)
	engine := policy.New(path, logger)
	reloader := &policyReloader{engine: engine, logger: logger}

	if err := reloader.Reload("initial load"); err != nil {
		t.Fatalf("initial reload: %v", err)
	}
	decision := engine.Decide("com.example.maps")
	if !decision.Hidden.Has(insets.NavigationBar) {
		t.Fatalf("rule not active after load: %+v", decision)
	}

	if err := os.WriteFile(path, []byte("rules: [nonsense"), 0o600); err != nil {
		t.Fatalf("write broken policy: %v", err)
	}
	if err := reloader.Reload("policy file updated"); err == nil {
		t.Fatalf("broken policy should fail to reload")
	}
	decision = engine.Decide("com.example.maps")
	if !decision.Hidden.Has(insets.NavigationBar) {
		t.Fatalf("previous rules lost after rejected reload: %+v", decision)
	}
}
