package main

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/insetd/insetd/internal/util"
)

func TestWatchPolicyRequestsReloadOnWrite(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(target, []byte(validPolicy), 0o600); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		t.Fatalf("watch dir: %v", err)
	}

	logger := util.NewLoggerWithWriter(util.LevelError, io.Discard)
	reloadRequests := make(chan string, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- watchPolicy(ctx, logger, watcher, target, 20*time.Millisecond, reloadRequests)
	}()

	// An unrelated file in the same directory must not schedule a reload.
	if err := os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0o600); err != nil {
		t.Fatalf("write unrelated file: %v", err)
	}
	if err := os.WriteFile(target, []byte(validPolicy), 0o600); err != nil {
		t.Fatalf("rewrite policy: %v", err)
	}

	select {
	case reason := <-reloadRequests:
		if reason != "policy file updated" {
			t.Fatalf("unexpected reload reason %q", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("policy write never produced a reload request")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("watchPolicy returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watchPolicy did not stop after cancellation")
	}
}

func TestWatchPolicyStopsWhenWatcherCloses(t *testing.T) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}

	logger := util.NewLoggerWithWriter(util.LevelError, io.Discard)
	done := make(chan error, 1)
	go func() {
		done <- watchPolicy(context.Background(), logger, watcher, "/nonexistent/policy.yaml", time.Millisecond, make(chan string, 1))
	}()

	watcher.Close()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("watchPolicy should report the closed watcher")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watchPolicy did not stop after the watcher closed")
	}
}
