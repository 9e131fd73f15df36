package supervise

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/insetd/insetd/internal/util"
)

func testLogger() *util.Logger {
	return util.NewLoggerWithWriter(util.LevelError, os.Stderr)
}

func TestServiceFuncReportsName(t *testing.T) {
	svc := NewServiceFunc("policy-watcher", func(ctx context.Context) error { return nil })
	if got := svc.String(); got != "policy-watcher" {
		t.Fatalf("String() = %q, want policy-watcher", got)
	}
}

func TestServiceFuncPassesContextThrough(t *testing.T) {
	wantErr := errors.New("watcher closed")
	var gotCtx context.Context
	svc := NewServiceFunc("watcher", func(ctx context.Context) error {
		gotCtx = ctx
		return wantErr
	})

	ctx := context.WithValue(context.Background(), ctxKey{}, "marker")
	if err := svc.Serve(ctx); !errors.Is(err, wantErr) {
		t.Fatalf("Serve returned %v, want %v", err, wantErr)
	}
	if gotCtx.Value(ctxKey{}) != "marker" {
		t.Fatalf("Serve did not forward the caller's context")
	}
}

type ctxKey struct{}

func TestServiceFuncRunsUnderSupervisor(t *testing.T) {
	started := make(chan struct{})
	svc := NewServiceFunc("blocker", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	super := New("test", testLogger())
	Add(super, svc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- super.Serve(ctx) }()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("service never started under the supervisor")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("supervisor exited with %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop after cancellation")
	}
}
