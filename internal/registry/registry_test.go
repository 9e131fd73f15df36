package registry

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/insetd/insetd/internal/insets"
	"github.com/insetd/insetd/internal/ipc"
	"github.com/insetd/insetd/internal/policy"
	"github.com/insetd/insetd/internal/util"
)

// opLog records outbound effects in arrival order so tests can assert on the
// exact sequence of coordinator and host calls.
type opLog struct {
	mu  sync.Mutex
	ops []string
}

func (l *opLog) add(format string, args ...interface{}) {
	l.mu.Lock()
	l.ops = append(l.ops, fmt.Sprintf(format, args...))
	l.mu.Unlock()
}

func (l *opLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ops...)
}

type fakeHost struct {
	log           *opLog
	registerErr   error
	pushErr       error
	mu            sync.Mutex
	registered    map[int]ipc.Endpoint
	registerCalls int
	pushCalls     int
	lastPushed    map[int]insets.Snapshot
}

func newFakeHost(log *opLog) *fakeHost {
	return &fakeHost{
		log:        log,
		registered: make(map[int]ipc.Endpoint),
		lastPushed: make(map[int]insets.Snapshot),
	}
}

func (h *fakeHost) RegisterEndpoint(displayID int, endpoint ipc.Endpoint) error {
	h.mu.Lock()
	h.registerCalls++
	h.mu.Unlock()
	if h.registerErr != nil {
		return h.registerErr
	}
	h.mu.Lock()
	if endpoint == nil {
		delete(h.registered, displayID)
	} else {
		h.registered[displayID] = endpoint
	}
	h.mu.Unlock()
	return nil
}

func (h *fakeHost) PushSnapshot(displayID int, snapshot insets.Snapshot) error {
	if h.pushErr != nil {
		return h.pushErr
	}
	h.mu.Lock()
	h.pushCalls++
	h.lastPushed[displayID] = snapshot.Clone()
	h.mu.Unlock()
	if h.log != nil {
		h.log.add("push %d", displayID)
	}
	return nil
}

func (h *fakeHost) pushed() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pushCalls
}

type fakeCoordinator struct {
	log             *opLog
	displayID       int
	applyStateCalls int
	handleCalls     int
	lastHandles     []insets.ControlHandle
}

func (c *fakeCoordinator) ApplyState(snapshot insets.Snapshot) {
	c.applyStateCalls++
	if c.log != nil {
		c.log.add("applyState %d", c.displayID)
	}
}

func (c *fakeCoordinator) SetCategoryVisible(insets.Category, bool) {}

func (c *fakeCoordinator) ApplyControlHandles(handles []insets.ControlHandle) {
	c.handleCalls++
	c.lastHandles = append([]insets.ControlHandle(nil), handles...)
}

func (c *fakeCoordinator) RequestShow(mask insets.Mask) {
	if c.log != nil {
		c.log.add("show %d %s", c.displayID, mask)
	}
}

func (c *fakeCoordinator) RequestHide(mask insets.Mask) {
	if c.log != nil {
		c.log.add("hide %d %s", c.displayID, mask)
	}
}

type fakePolicy struct {
	mu          sync.Mutex
	decisions   map[string]policy.Decision
	def         policy.Decision
	reloadErr   error
	reloadCalls int
	decided     []string
	listeners   []func()
}

func newFakePolicy() *fakePolicy {
	return &fakePolicy{
		decisions: make(map[string]policy.Decision),
		def:       policy.Decision{Visible: insets.MaskOf(insets.StatusBar, insets.NavigationBar)},
	}
}

func (p *fakePolicy) Reload() error {
	p.mu.Lock()
	p.reloadCalls++
	p.mu.Unlock()
	return p.reloadErr
}

func (p *fakePolicy) OnChange(fn func()) {
	p.mu.Lock()
	p.listeners = append(p.listeners, fn)
	p.mu.Unlock()
}

func (p *fakePolicy) Decide(pkg string) policy.Decision {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.decided = append(p.decided, pkg)
	if d, ok := p.decisions[pkg]; ok {
		return d
	}
	return p.def
}

func (p *fakePolicy) fire() {
	p.mu.Lock()
	listeners := append([]func(){}, p.listeners...)
	p.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

func (p *fakePolicy) decideCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.decided)
}

func testLogger() *util.Logger {
	return util.NewLoggerWithWriter(util.LevelError, os.Stderr)
}

// newTestRegistry wires a registry whose coordinators share one op log.
func newTestRegistry(host *fakeHost, pol *fakePolicy, log *opLog) *Registry {
	r := New(host, pol, testLogger(), nil, false)
	r.newCoordinator = func(displayID int, _ *util.Logger) Coordinator {
		return &fakeCoordinator{log: log, displayID: displayID}
	}
	return r
}

func waitForCondition(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestAddRemoveSymmetry(t *testing.T) {
	host := newFakeHost(nil)
	r := newTestRegistry(host, newFakePolicy(), nil)

	r.OnDisplayAdded(7)
	if r.lookup(7) == nil {
		t.Fatalf("display 7 missing after add")
	}
	if host.registered[7] == nil {
		t.Fatalf("endpoint not registered with host")
	}

	r.OnDisplayRemoved(7)
	if r.lookup(7) != nil {
		t.Fatalf("display 7 still tracked after removal")
	}
	if _, ok := host.registered[7]; ok {
		t.Fatalf("endpoint still attached with host after removal")
	}

	// Removing an unknown display is a benign no-op.
	r.OnDisplayRemoved(7)
	if got := len(r.DisplayStatuses()); got != 0 {
		t.Fatalf("registry has %d displays after double removal, want 0", got)
	}
}

func TestRegistrationFailureStillTracksDisplay(t *testing.T) {
	host := newFakeHost(nil)
	host.registerErr = fmt.Errorf("binder gone")
	r := newTestRegistry(host, newFakePolicy(), nil)

	r.OnDisplayAdded(3)
	statuses := r.DisplayStatuses()
	if len(statuses) != 1 || statuses[0].DisplayID != 3 {
		t.Fatalf("display with failed registration not tracked: %+v", statuses)
	}

	host.registerErr = nil
	r.OnDisplayRemoved(3)
	if got := len(r.DisplayStatuses()); got != 0 {
		t.Fatalf("removal after failed registration left %d displays", got)
	}
}

func TestPolicyInitializedOnceLazily(t *testing.T) {
	pol := newFakePolicy()
	r := newTestRegistry(newFakeHost(nil), pol, nil)

	if pol.reloadCalls != 0 {
		t.Fatalf("policy loaded before first display")
	}
	r.OnDisplayAdded(1)
	r.OnDisplayAdded(2)
	if pol.reloadCalls != 1 {
		t.Fatalf("policy reloaded %d times, want once", pol.reloadCalls)
	}
	if len(pol.listeners) != 1 {
		t.Fatalf("policy change listener registered %d times, want once", len(pol.listeners))
	}
}

func TestPolicyFanOutReconcilesEveryDisplayInOrder(t *testing.T) {
	log := &opLog{}
	host := newFakeHost(log)
	pol := newFakePolicy()
	pol.decisions["pkg.one"] = policy.Decision{Visible: insets.MaskOf(insets.StatusBar)}
	pol.decisions["pkg.two"] = policy.Decision{Hidden: insets.MaskOf(insets.NavigationBar)}
	pol.decisions["pkg.three"] = policy.Decision{Hidden: insets.MaskOf(insets.StatusBar)}
	r := newTestRegistry(host, pol, log)

	// Add out of order; fan-out must still run in ascending display order.
	r.OnDisplayAdded(3)
	r.OnDisplayAdded(1)
	r.OnDisplayAdded(2)
	r.lookup(1).FocusChanged("pkg.one")
	r.lookup(2).FocusChanged("pkg.two")
	r.lookup(3).FocusChanged("pkg.three")

	before := pol.decideCount()
	r.reconcileAll()
	p := pol
	p.mu.Lock()
	decided := append([]string(nil), p.decided[before:]...)
	p.mu.Unlock()

	want := []string{"pkg.one", "pkg.two", "pkg.three"}
	if diff := cmp.Diff(want, decided); diff != "" {
		t.Fatalf("fan-out lookups mismatch (-want +got):\n%s", diff)
	}
}

func TestFanOutSkipsUnfocusedDisplays(t *testing.T) {
	pol := newFakePolicy()
	r := newTestRegistry(newFakeHost(nil), pol, nil)
	r.OnDisplayAdded(1)
	r.OnDisplayAdded(2)
	r.lookup(2).FocusChanged("pkg.two")

	before := pol.decideCount()
	r.reconcileAll()
	if got := pol.decideCount() - before; got != 1 {
		t.Fatalf("fan-out consulted policy %d times, want 1 (display 1 has no focus)", got)
	}
}

func TestServeRoutesEventsAndPolicyReloads(t *testing.T) {
	log := &opLog{}
	host := newFakeHost(log)
	pol := newFakePolicy()
	pol.decisions["app.maps"] = policy.Decision{
		Visible: insets.MaskOf(insets.StatusBar),
		Hidden:  insets.MaskOf(insets.NavigationBar),
	}
	r := newTestRegistry(host, pol, log)

	events := make(chan ipc.Event)
	r.subscribe = func(context.Context, *util.Logger) (<-chan ipc.Event, error) {
		return events, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.Serve(ctx) }()

	events <- ipc.Event{Kind: ipc.EventDisplayAdded, Payload: "1"}
	events <- ipc.Event{Kind: ipc.EventFocusChanged, Payload: "1,app.maps"}
	waitForCondition(t, time.Second, func() bool { return host.pushed() == 1 })

	// A policy change fans out through the same loop.
	pol.fire()
	waitForCondition(t, time.Second, func() bool { return host.pushed() == 2 })

	events <- ipc.Event{Kind: ipc.EventDisplayRemoved, Payload: "1"}
	waitForCondition(t, time.Second, func() bool { return len(r.DisplayStatuses()) == 0 })

	// Events for the removed display are safe no-ops.
	events <- ipc.Event{Kind: ipc.EventFocusChanged, Payload: "1,app.other"}
	events <- ipc.Event{Kind: ipc.EventInsetsState, Payload: "1,statusBar=1"}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("Serve returned %v, want context.Canceled", err)
	}
	if got := host.pushed(); got != 2 {
		t.Fatalf("pushes after removal = %d, want 2", got)
	}
}

func TestServeStopsWhenStreamCloses(t *testing.T) {
	r := newTestRegistry(newFakeHost(nil), newFakePolicy(), nil)
	events := make(chan ipc.Event)
	r.subscribe = func(context.Context, *util.Logger) (<-chan ipc.Event, error) {
		return events, nil
	}
	done := make(chan error, 1)
	go func() { done <- r.Serve(context.Background()) }()
	close(events)
	if err := <-done; err == nil {
		t.Fatalf("Serve should report a closed event stream")
	}
}
