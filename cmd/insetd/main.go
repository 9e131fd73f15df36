package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/insetd/insetd/internal/config"
	"github.com/insetd/insetd/internal/control"
	"github.com/insetd/insetd/internal/ipc"
	"github.com/insetd/insetd/internal/metrics"
	"github.com/insetd/insetd/internal/policy"
	"github.com/insetd/insetd/internal/registry"
	"github.com/insetd/insetd/internal/supervise"
	"github.com/insetd/insetd/internal/util"
	"github.com/joho/godotenv"
)

func main() {
	godotenv.Load()

	home, _ := os.UserHomeDir()
	defaultConfig := filepath.Join(home, ".config", "insetd", "config.yaml")

	cfgPath := flag.String("config", defaultConfig, "path to YAML config")
	policyPath := flag.String("policy", "", "path to the bar policy file (overrides config)")
	dryRun := flag.Bool("dry-run", false, "reconcile without pushing snapshots to the compositor")
	logLevel := flag.String("log-level", "", "log level (trace|debug|info|warn|error, overrides config)")
	telemetry := flag.Bool("telemetry", false, "enable the metrics collector (overrides config)")
	flag.Parse()

	cfg, err := loadConfig(*cfgPath, defaultConfig)
	if err != nil {
		exitErr(err)
	}
	if *policyPath != "" {
		cfg.PolicyPath = *policyPath
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *telemetry {
		cfg.Telemetry.Enabled = true
	}
	applySocketOverrides(cfg.Sockets)

	logger := util.NewLogger(util.ParseLogLevel(cfg.LogLevel))

	policyFullPath, err := filepath.Abs(cfg.PolicyPath)
	if err != nil {
		exitErr(fmt.Errorf("resolve policy path: %w", err))
	}
	policyFullPath = filepath.Clean(policyFullPath)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		exitErr(fmt.Errorf("watch policy: %w", err))
	}
	defer watcher.Close()
	policyDir := filepath.Dir(policyFullPath)
	if err := watcher.Add(policyDir); err != nil {
		exitErr(fmt.Errorf("watch policy dir: %w", err))
	}
	if err := watcher.Add(policyFullPath); err != nil {
		logger.Debugf("unable to watch policy file directly: %v", err)
	}
	reloadRequests := make(chan string, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine := policy.New(policyFullPath, logger)
	reloader := &policyReloader{engine: engine, logger: logger}
	collector := metrics.NewCollector(cfg.Telemetry.Enabled)

	host, err := ipc.NewClient(logger)
	if err != nil {
		exitErr(fmt.Errorf("connect to compositor: %w", err))
	}
	if *dryRun {
		logger.Infof("dry run: snapshots will not be pushed")
	}
	reg := registry.New(host, engine, logger, collector, *dryRun)

	ctrlSrv, err := control.NewServer(reg, engine, collector, logger, reloader.Reload)
	if err != nil {
		exitErr(fmt.Errorf("start control server: %w", err))
	}

	super := supervise.New("insetd", logger)
	supervise.Add(super, reg)
	supervise.Add(super, ctrlSrv)
	supervise.Add(super, supervise.NewServiceFunc("policy-watcher", func(ctx context.Context) error {
		return watchPolicy(ctx, logger, watcher, policyFullPath, cfg.Reload.Debounce(), reloadRequests)
	}))

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	errs := make(chan error, 1)
	go func() {
		errs <- super.Serve(ctx)
	}()

	for {
		select {
		case err := <-errs:
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Errorf("daemon exited: %v", err)
				os.Exit(1)
			}
			logger.Infof("daemon stopped")
			return
		case reason := <-reloadRequests:
			if err := reloader.Reload(reason); err != nil {
				logger.Errorf("reload failed: %v", err)
			}
		case sig := <-sigs:
			switch sig {
			case syscall.SIGHUP:
				if err := reloader.Reload("received SIGHUP"); err != nil {
					logger.Errorf("reload failed: %v", err)
				}
			case os.Interrupt, syscall.SIGTERM:
				logger.Infof("received %s, shutting down", sig)
				cancel()
			}
		}
	}
}

// loadConfig reads the config file, tolerating a missing file only at the
// default location.
func loadConfig(path, defaultPath string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && path == defaultPath {
			return config.Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// applySocketOverrides exports configured socket paths so the discovery
// helpers pick them up ahead of the runtime-dir defaults.
func applySocketOverrides(s config.Sockets) {
	if s.Request != "" {
		os.Setenv("INSETD_REQUEST_SOCKET", s.Request)
	}
	if s.Event != "" {
		os.Setenv("INSETD_EVENT_SOCKET", s.Event)
	}
	if s.Control != "" {
		os.Setenv("INSETD_CONTROL_SOCKET", s.Control)
	}
}

func watchPolicy(ctx context.Context, logger *util.Logger, watcher *fsnotify.Watcher, target string, debounce time.Duration, reloadRequests chan<- string) error {
	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("policy watcher closed")
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerCh = timer.C
			} else {
				if !timer.Stop() {
					<-timerCh
				}
				timer.Reset(debounce)
			}
		case <-timerCh:
			timer = nil
			timerCh = nil
			select {
			case reloadRequests <- "policy file updated":
			default:
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("policy watcher closed")
			}
			logger.Warnf("policy watcher error: %v", err)
		}
	}
}

func exitErr(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
