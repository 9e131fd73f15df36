// Package ipc talks to the host compositing service: a line-oriented event
// socket delivering display and inset notifications, and a request socket
// accepting endpoint registration and snapshot updates. Both calls can fail
// with a communication error that callers treat as non-fatal.
package ipc

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/insetd/insetd/internal/insets"
)

// Endpoint is the per-display callback surface the daemon registers with the
// compositor. The compositor invokes it (via the event stream) with inset
// state, control handles, ambient hide/show requests, and focus changes.
type Endpoint interface {
	StateChanged(snapshot insets.Snapshot)
	ControlsChanged(handles []insets.ControlHandle)
	HideInsets(mask insets.Mask, origin string)
	ShowInsets(mask insets.Mask, origin string)
	FocusChanged(pkg string)
}

func requestSocketPath() (string, error) {
	if env := os.Getenv("INSETD_REQUEST_SOCKET"); env != "" {
		return env, nil
	}
	base, err := instanceDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, ".insets.sock"), nil
}

func eventSocketPath() (string, error) {
	if env := os.Getenv("INSETD_EVENT_SOCKET"); env != "" {
		return env, nil
	}
	base, err := instanceDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, ".insets-events.sock"), nil
}

func instanceDir() (string, error) {
	sig := os.Getenv("COMP_INSTANCE_SIGNATURE")
	if sig == "" {
		return "", fmt.Errorf("COMP_INSTANCE_SIGNATURE not set")
	}
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		return "", fmt.Errorf("XDG_RUNTIME_DIR not set")
	}
	return filepath.Join(runtimeDir, "comp", sig), nil
}
