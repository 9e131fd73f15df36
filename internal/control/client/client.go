package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/insetd/insetd/internal/control"
)

const (
	// defaultTimeout is used when the caller does not provide a context deadline.
	defaultTimeout = 3 * time.Second
)

// Client talks to the running insetd daemon over its control socket.
type Client struct {
	socketPath string
}

type (
	// DaemonStatus aggregates the per-display controller state.
	DaemonStatus = control.DaemonStatus
	// PolicyStatus describes the loaded rule set.
	PolicyStatus = control.PolicyStatus
	// PolicyTestResult reports the decision a package would receive.
	PolicyTestResult = control.PolicyTestResult
	// MetricsReport carries the daemon's telemetry snapshot.
	MetricsReport = control.MetricsReport
)

// New creates a client that connects to the provided socket path. When path is
// empty, the default runtime path is used.
func New(path string) (*Client, error) {
	if path == "" {
		var err error
		path, err = control.DefaultSocketPath()
		if err != nil {
			return nil, err
		}
	}
	return &Client{socketPath: path}, nil
}

// Status retrieves the daemon's per-display controller state.
func (c *Client) Status(ctx context.Context) (DaemonStatus, error) {
	var status DaemonStatus
	if err := c.do(ctx, control.Request{Action: control.ActionStatus}, &status); err != nil {
		return DaemonStatus{}, err
	}
	return status, nil
}

// Policy retrieves the loaded rule set and the default decision.
func (c *Client) Policy(ctx context.Context) (PolicyStatus, error) {
	var status PolicyStatus
	if err := c.do(ctx, control.Request{Action: control.ActionPolicyGet}, &status); err != nil {
		return PolicyStatus{}, err
	}
	return status, nil
}

// TestPolicy asks the daemon which rule would claim the package.
func (c *Client) TestPolicy(ctx context.Context, pkg string) (PolicyTestResult, error) {
	if pkg == "" {
		return PolicyTestResult{}, errors.New("package cannot be empty")
	}
	payload := control.Request{Action: control.ActionPolicyTest, Params: map[string]any{"package": pkg}}
	var result PolicyTestResult
	if err := c.do(ctx, payload, &result); err != nil {
		return PolicyTestResult{}, err
	}
	return result, nil
}

// Reload asks the daemon to reload its bar policy.
func (c *Client) Reload(ctx context.Context) error {
	return c.do(ctx, control.Request{Action: control.ActionReload}, nil)
}

// Metrics retrieves the daemon's telemetry snapshot.
func (c *Client) Metrics(ctx context.Context) (MetricsReport, error) {
	var report MetricsReport
	if err := c.do(ctx, control.Request{Action: control.ActionMetricsGet}, &report); err != nil {
		return MetricsReport{}, err
	}
	return report, nil
}

func (c *Client) do(ctx context.Context, req control.Request, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTimeout)
		defer cancel()
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return fmt.Errorf("dial control socket: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	var resp control.Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.Status != control.StatusOK {
		if resp.Error == "" {
			resp.Error = "unknown control error"
		}
		return errors.New(resp.Error)
	}
	if out == nil || resp.Data == nil {
		return nil
	}
	data, err := json.Marshal(resp.Data)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
