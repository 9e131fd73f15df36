// Package registry owns the display-to-controller mapping and the single
// event loop on which every controller mutation runs. One controller is
// registered with the compositor per display; policy reloads fan out to all
// of them.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/insetd/insetd/internal/coordinator"
	"github.com/insetd/insetd/internal/insets"
	"github.com/insetd/insetd/internal/ipc"
	"github.com/insetd/insetd/internal/metrics"
	"github.com/insetd/insetd/internal/policy"
	"github.com/insetd/insetd/internal/util"
)

// HostService is the outbound surface of the compositing service. Both calls
// may fail with a communication error that is non-fatal to the registry.
type HostService interface {
	RegisterEndpoint(displayID int, endpoint ipc.Endpoint) error
	PushSnapshot(displayID int, snapshot insets.Snapshot) error
}

// PolicySource answers visibility lookups and supports hot reloads.
type PolicySource interface {
	Reload() error
	OnChange(func())
	Decide(pkg string) policy.Decision
}

// Coordinator is the per-display inset-state coordinator a controller drives.
// All calls are fire-and-forget.
type Coordinator interface {
	ApplyState(snapshot insets.Snapshot)
	SetCategoryVisible(c insets.Category, visible bool)
	ApplyControlHandles(handles []insets.ControlHandle)
	RequestShow(mask insets.Mask)
	RequestHide(mask insets.Mask)
}

// coordinatorInspector is the optional read capability some coordinators
// expose; the registry surfaces it in display statuses when present.
type coordinatorInspector interface {
	Snapshot() coordinator.View
}

type subscribeFunc func(ctx context.Context, logger *util.Logger) (<-chan ipc.Event, error)

type coordinatorFactory func(displayID int, logger *util.Logger) Coordinator

// Registry maps display ids to their controllers and runs the serialized
// dispatch loop. The mapping is the single source of truth for display
// liveness.
type Registry struct {
	host    HostService
	policy  PolicySource
	logger  *util.Logger
	metrics *metrics.Collector
	dryRun  bool

	mu       sync.Mutex
	displays map[int]*PerDisplay

	policyInit   bool
	policyReload chan struct{}

	subscribe      subscribeFunc
	newCoordinator coordinatorFactory
}

// New creates a registry. The collector may be nil when telemetry is off.
func New(host HostService, pol PolicySource, logger *util.Logger, collector *metrics.Collector, dryRun bool) *Registry {
	return &Registry{
		host:         host,
		policy:       pol,
		logger:       logger,
		metrics:      collector,
		dryRun:       dryRun,
		displays:     make(map[int]*PerDisplay),
		policyReload: make(chan struct{}, 1),
		subscribe:    ipc.Subscribe,
		newCoordinator: func(displayID int, logger *util.Logger) Coordinator {
			return coordinator.New(displayID, logger)
		},
	}
}

// String names the registry for supervision logs.
func (r *Registry) String() string {
	return "registry"
}

// DryRun reports whether snapshot pushes are suppressed.
func (r *Registry) DryRun() bool {
	return r.dryRun
}

// Serve subscribes to the compositor event stream and processes notifications
// one at a time until context cancellation. Every mutation of registry or
// controller state happens inline on this goroutine.
func (r *Registry) Serve(ctx context.Context) error {
	events, err := r.subscribe(ctx, r.logger)
	if err != nil {
		return err
	}
	r.logger.Infof("listening for compositor events")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.policyReload:
			r.reconcileAll()
		case ev, ok := <-events:
			if !ok {
				return fmt.Errorf("event stream closed")
			}
			r.handleEvent(ev)
		}
	}
}

// OnDisplayAdded creates and registers a controller for the display. A failed
// endpoint registration is logged and the display is tracked anyway so that
// removal stays symmetric. The first addition in the process also performs
// the one-time policy load and change subscription.
func (r *Registry) OnDisplayAdded(displayID int) {
	pd := newPerDisplay(displayID, r.host, r.policy, r.newCoordinator(displayID, r.logger), r.logger, r.metrics, r.dryRun)
	if err := r.host.RegisterEndpoint(displayID, pd); err != nil {
		r.logger.Warnf("unable to register insets controller on display %d: %v", displayID, err)
		r.metrics.RecordRegisterError(displayID)
	}
	// Policy loading is deferred to the first display instead of process start.
	if !r.policyInit {
		r.policyInit = true
		if err := r.policy.Reload(); err != nil {
			r.logger.Warnf("initial policy load failed: %v", err)
		}
		r.policy.OnChange(func() {
			select {
			case r.policyReload <- struct{}{}:
			default:
			}
		})
	}
	r.mu.Lock()
	r.displays[displayID] = pd
	r.mu.Unlock()
	r.logger.Infof("display %d added", displayID)
}

// OnDisplayRemoved detaches the controller from the compositor (best effort)
// and drops the display. Removing an unknown display is a no-op.
func (r *Registry) OnDisplayRemoved(displayID int) {
	if err := r.host.RegisterEndpoint(displayID, nil); err != nil {
		r.logger.Warnf("unable to remove insets controller on display %d: %v", displayID, err)
	}
	r.mu.Lock()
	delete(r.displays, displayID)
	r.mu.Unlock()
	r.logger.Infof("display %d removed", displayID)
}

// reconcileAll re-evaluates policy for every registered controller in
// ascending display order. Policy changes are global, not display-specific.
func (r *Registry) reconcileAll() {
	for _, pd := range r.ordered() {
		pd.reconcile()
	}
	r.logger.Debugf("policy change fan-out complete")
}

func (r *Registry) ordered() []*PerDisplay {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int, 0, len(r.displays))
	for id := range r.displays {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]*PerDisplay, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.displays[id])
	}
	return out
}

func (r *Registry) lookup(displayID int) *PerDisplay {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.displays[displayID]
}

// DisplayStatus is the inspectable summary of one controller.
type DisplayStatus struct {
	DisplayID      int               `json:"displayId"`
	Tracking       bool              `json:"tracking"`
	FocusedPackage string            `json:"focusedPackage,omitempty"`
	HostState      insets.Snapshot   `json:"hostState"`
	Snapshot       insets.Snapshot   `json:"snapshot"`
	LastDecision   *policy.Decision  `json:"lastDecision,omitempty"`
	LastPushError  string            `json:"lastPushError,omitempty"`
	Coordinator    *coordinator.View `json:"coordinator,omitempty"`
}

// DisplayStatuses returns a copy of every controller's state in ascending
// display order, safe to call from outside the dispatch loop.
func (r *Registry) DisplayStatuses() []DisplayStatus {
	pds := r.ordered()
	out := make([]DisplayStatus, 0, len(pds))
	for _, pd := range pds {
		status := pd.status()
		if inspector, ok := pd.coord.(coordinatorInspector); ok {
			view := inspector.Snapshot()
			status.Coordinator = &view
		}
		out = append(out, status)
	}
	return out
}
