package registry

import (
	"sync"

	"github.com/insetd/insetd/internal/insets"
	"github.com/insetd/insetd/internal/ipc"
	"github.com/insetd/insetd/internal/metrics"
	"github.com/insetd/insetd/internal/policy"
	"github.com/insetd/insetd/internal/util"
)

// PerDisplay is the remote-callable inset controller for exactly one display.
// It keeps the host's reported inset state, the visibilities it last
// requested, and the focused package, and reconciles against the bar policy
// whenever state or focus changes. All methods run on the registry's
// dispatch loop; the small mutex only protects reads issued by the control
// server.
type PerDisplay struct {
	displayID int
	host      HostService
	policy    PolicySource
	coord     Coordinator
	logger    *util.Logger
	metrics   *metrics.Collector
	dryRun    bool

	mu            sync.Mutex
	state         insets.Snapshot
	requested     insets.Snapshot
	focusedPkg    string
	lastDecision  policy.Decision
	decided       bool
	lastPushError string
}

var _ ipc.Endpoint = (*PerDisplay)(nil)

func newPerDisplay(displayID int, host HostService, pol PolicySource, coord Coordinator, logger *util.Logger, collector *metrics.Collector, dryRun bool) *PerDisplay {
	return &PerDisplay{
		displayID: displayID,
		host:      host,
		policy:    pol,
		coord:     coord,
		logger:    logger,
		metrics:   collector,
		dryRun:    dryRun,
	}
}

// DisplayID returns the display this controller is bound to.
func (pd *PerDisplay) DisplayID() int {
	return pd.displayID
}

// StateChanged replaces the local copy of the host's inset state.
// Structurally identical notifications are dropped. Reconciliation only runs
// once a focused package is known; an early state update must not trigger a
// policy push with an undefined package.
func (pd *PerDisplay) StateChanged(snapshot insets.Snapshot) {
	pd.mu.Lock()
	if pd.state.Equal(snapshot) {
		pd.mu.Unlock()
		pd.metrics.RecordRedundantState(pd.displayID)
		pd.logger.Tracef("display %d state unchanged, ignoring", pd.displayID)
		return
	}
	pd.state = snapshot.Clone()
	focused := pd.focusedPkg
	pd.mu.Unlock()

	pd.coord.ApplyState(snapshot)
	if focused != "" {
		pd.reconcile()
	}
}

// ControlsChanged forwards control handles to the coordinator. Handles are
// plumbing, not policy input; no reconciliation runs.
func (pd *PerDisplay) ControlsChanged(handles []insets.ControlHandle) {
	pd.coord.ApplyControlHandles(handles)
}

// HideInsets conceals the masked sources on behalf of the host.
func (pd *PerDisplay) HideInsets(mask insets.Mask, origin string) {
	pd.logger.Tracef("display %d hide %s origin=%s", pd.displayID, mask, origin)
	pd.coord.RequestHide(mask)
}

// ShowInsets reveals the masked sources on behalf of the host.
func (pd *PerDisplay) ShowInsets(mask insets.Mask, origin string) {
	pd.logger.Tracef("display %d show %s origin=%s", pd.displayID, mask, origin)
	pd.coord.RequestShow(mask)
}

// FocusChanged records the newly focused package and reconciles. A
// notification equal to the current package, including both being absent, is
// a no-op.
func (pd *PerDisplay) FocusChanged(pkg string) {
	pd.mu.Lock()
	if pd.focusedPkg == pkg {
		pd.mu.Unlock()
		pd.metrics.RecordRedundantFocus(pd.displayID)
		pd.logger.Tracef("display %d focus unchanged (%q), ignoring", pd.displayID, pkg)
		return
	}
	pd.focusedPkg = pkg
	pd.mu.Unlock()
	pd.reconcile()
}

// reconcile looks up the bar policy for the focused package, applies the
// decision to the requested visibilities and coordinator, and pushes the
// result back to the host. The visible mask is applied before the hidden
// mask, so a category present in both resolves to hidden. A failed push
// never rolls back local state; the next successful push re-synchronizes
// the host.
func (pd *PerDisplay) reconcile() {
	pd.mu.Lock()
	pkg := pd.focusedPkg
	pd.mu.Unlock()
	if pkg == "" {
		return
	}
	decision := pd.policy.Decide(pkg)
	pd.metrics.RecordReconcile(pd.displayID)
	pd.logger.Debugf("display %d reconcile pkg=%s show=%s hide=%s", pd.displayID, pkg, decision.Visible, decision.Hidden)

	pd.setVisibility(decision.Visible, true)
	if !decision.Visible.IsEmpty() {
		pd.coord.RequestShow(decision.Visible)
	}
	pd.setVisibility(decision.Hidden, false)
	if !decision.Hidden.IsEmpty() {
		pd.coord.RequestHide(decision.Hidden)
	}

	pd.mu.Lock()
	pd.lastDecision = decision
	pd.decided = true
	snapshot := pd.requested.Clone()
	pd.mu.Unlock()

	if pd.dryRun {
		pd.logger.Infof("display %d dry-run: would push %s", pd.displayID, snapshot)
		return
	}
	if err := pd.host.PushSnapshot(pd.displayID, snapshot); err != nil {
		pd.logger.Warnf("unable to update compositor for display %d: %v", pd.displayID, err)
		pd.metrics.RecordPushError(pd.displayID)
		pd.mu.Lock()
		pd.lastPushError = err.Error()
		pd.mu.Unlock()
		return
	}
	pd.metrics.RecordPush(pd.displayID)
	pd.mu.Lock()
	pd.lastPushError = ""
	pd.mu.Unlock()
	pd.logger.Tracef("display %d pushed %s", pd.displayID, snapshot)
}

func (pd *PerDisplay) setVisibility(mask insets.Mask, visible bool) {
	if mask.IsEmpty() {
		return
	}
	pd.mu.Lock()
	pd.requested.SetVisible(mask, visible)
	pd.mu.Unlock()
	for _, c := range mask.Categories() {
		pd.coord.SetCategoryVisible(c, visible)
	}
}

func (pd *PerDisplay) status() DisplayStatus {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	status := DisplayStatus{
		DisplayID:      pd.displayID,
		Tracking:       pd.focusedPkg != "",
		FocusedPackage: pd.focusedPkg,
		HostState:      pd.state.Clone(),
		Snapshot:       pd.requested.Clone(),
		LastPushError:  pd.lastPushError,
	}
	if pd.decided {
		decision := pd.lastDecision
		status.LastDecision = &decision
	}
	return status
}
