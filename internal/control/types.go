package control

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/insetd/insetd/internal/metrics"
	"github.com/insetd/insetd/internal/policy"
	"github.com/insetd/insetd/internal/registry"
)

const (
	// SocketFileName is the filename of the control socket within the runtime dir.
	SocketFileName = "control.sock"

	// Action names supported by the control protocol.
	ActionStatus     = "status"
	ActionPolicyGet  = "policy.get"
	ActionPolicyTest = "policy.test"
	ActionReload     = "reload"
	ActionMetricsGet = "metrics.get"

	// Response statuses.
	StatusOK    = "ok"
	StatusError = "error"
)

// Request represents a control API request.
type Request struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

// Response represents a control API response.
type Response struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// DaemonStatus aggregates the per-display controller state returned by the
// status action.
type DaemonStatus struct {
	DryRun   bool                     `json:"dryRun"`
	Displays []registry.DisplayStatus `json:"displays"`
}

// PolicyStatus describes the loaded rule set.
type PolicyStatus struct {
	Path    string            `json:"path"`
	Default policy.Decision   `json:"default"`
	Rules   []policy.RuleInfo `json:"rules"`
}

// PolicyTestResult reports which rule would claim a package and the decision
// it produces. Rule is empty when the default applies.
type PolicyTestResult struct {
	Package  string          `json:"package"`
	Rule     string          `json:"rule,omitempty"`
	Decision policy.Decision `json:"decision"`
}

// MetricsReport is the telemetry snapshot returned by metrics.get.
type MetricsReport = metrics.Snapshot

// DefaultSocketPath returns the expected location of the insetd control socket.
func DefaultSocketPath() (string, error) {
	if env := os.Getenv("INSETD_CONTROL_SOCKET"); env != "" {
		return env, nil
	}
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	base := runtimeDir
	if base == "" {
		base = os.TempDir()
		if base == "" {
			return "", errors.New("no runtime directory available")
		}
	}
	return filepath.Join(base, "insetd", SocketFileName), nil
}
