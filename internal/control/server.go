package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/insetd/insetd/internal/metrics"
	"github.com/insetd/insetd/internal/policy"
	"github.com/insetd/insetd/internal/registry"
	"github.com/insetd/insetd/internal/util"
)

// Server hosts the insetd control socket and serves requests.
type Server struct {
	registry   *registry.Registry
	policy     *policy.Engine
	metrics    *metrics.Collector
	logger     *util.Logger
	reload     func(reason string) error
	socketPath string

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a new control server.
func NewServer(reg *registry.Registry, pol *policy.Engine, collector *metrics.Collector, logger *util.Logger, reload func(reason string) error) (*Server, error) {
	path, err := DefaultSocketPath()
	if err != nil {
		return nil, err
	}
	return &Server{
		registry:   reg,
		policy:     pol,
		metrics:    collector,
		logger:     logger,
		reload:     reload,
		socketPath: path,
	}, nil
}

// String identifies the server in supervisor logs.
func (s *Server) String() string {
	return "control-server"
}

// Serve listens on the control socket until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.prepareSocket(); err != nil {
		return err
	}
	s.logger.Infof("control server listening on %s", s.socketPath)
	defer s.cleanup()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		if s.listener != nil {
			s.listener.Close()
		}
		s.mu.Unlock()
	}()

	for {
		conn, err := s.accept(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Errorf("control accept error: %v", err)
			continue
		}
		go s.handle(conn)
	}
}

func (s *Server) accept(ctx context.Context) (net.Conn, error) {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return nil, context.Canceled
	}
	conn, err := listener.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return conn, nil
}

func (s *Server) prepareSocket() error {
	dir := filepath.Dir(s.socketPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create control dir: %w", err)
	}
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on control socket: %w", err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		listener.Close()
		return fmt.Errorf("chmod control socket: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	return nil
}

func (s *Server) cleanup() {
	s.mu.Lock()
	listener := s.listener
	s.listener = nil
	s.mu.Unlock()
	if listener != nil {
		listener.Close()
	}
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warnf("remove control socket: %v", err)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	dec := json.NewDecoder(conn)
	var req Request
	if err := dec.Decode(&req); err != nil {
		s.writeError(conn, fmt.Errorf("decode request: %w", err))
		return
	}
	switch req.Action {
	case ActionStatus:
		s.handleStatus(conn)
	case ActionPolicyGet:
		s.handlePolicyGet(conn)
	case ActionPolicyTest:
		s.handlePolicyTest(conn, req.Params)
	case ActionReload:
		s.handleReload(conn)
	case ActionMetricsGet:
		s.handleMetricsGet(conn)
	default:
		s.writeError(conn, fmt.Errorf("unknown action %q", req.Action))
	}
}

func (s *Server) handleStatus(conn net.Conn) {
	status := DaemonStatus{
		DryRun:   s.registry.DryRun(),
		Displays: s.registry.DisplayStatuses(),
	}
	s.writeOK(conn, status)
}

func (s *Server) handlePolicyGet(conn net.Conn) {
	status := PolicyStatus{
		Path:    s.policy.Path(),
		Default: s.policy.Default(),
		Rules:   s.policy.Rules(),
	}
	s.writeOK(conn, status)
}

func (s *Server) handlePolicyTest(conn net.Conn, params map[string]any) {
	pkg, _ := params["package"].(string)
	if pkg == "" {
		s.writeError(conn, errors.New("missing package name"))
		return
	}
	decision, rule := s.policy.Explain(pkg)
	s.writeOK(conn, PolicyTestResult{Package: pkg, Rule: rule, Decision: decision})
}

func (s *Server) handleReload(conn net.Conn) {
	if s.reload == nil {
		s.writeError(conn, errors.New("reload not supported"))
		return
	}
	if err := s.reload("control request"); err != nil {
		s.writeError(conn, err)
		return
	}
	s.writeOK(conn, nil)
}

func (s *Server) handleMetricsGet(conn net.Conn) {
	if !s.metrics.Enabled() {
		s.writeError(conn, errors.New("telemetry disabled; start insetd with telemetry enabled"))
		return
	}
	s.writeOK(conn, s.metrics.Snapshot())
}

func (s *Server) writeOK(conn net.Conn, data any) {
	resp := Response{Status: StatusOK}
	if data != nil {
		resp.Data = data
	}
	_ = json.NewEncoder(conn).Encode(resp)
}

func (s *Server) writeError(conn net.Conn, err error) {
	resp := Response{Status: StatusError}
	if err != nil {
		resp.Error = err.Error()
	}
	_ = json.NewEncoder(conn).Encode(resp)
}
