// Package coordinator tracks the authoritative inset-source state for one
// display and services show/hide requests. Every operation is fire-and-forget
// from the caller's perspective; a request for a source without a control
// handle is recorded and satisfied once the handle arrives.
package coordinator

import (
	"sync"

	"github.com/insetd/insetd/internal/insets"
	"github.com/insetd/insetd/internal/util"
)

// Tracker is the inset-state coordinator for a single display. It is owned
// exclusively by that display's controller and never shared.
type Tracker struct {
	displayID int
	logger    *util.Logger

	mu       sync.Mutex
	state    insets.Snapshot
	handles  map[insets.Category]insets.ControlHandle
	pending  insets.Mask
	showOps  uint64
	hideOps  uint64
}

// View is the read-only inspection snapshot of a tracker.
type View struct {
	State        insets.Snapshot        `json:"state"`
	Handles      []insets.ControlHandle `json:"handles,omitempty"`
	PendingMask  insets.Mask            `json:"pendingMask"`
	ShowRequests uint64                 `json:"showRequests"`
	HideRequests uint64                 `json:"hideRequests"`
}

// New creates a tracker for the given display.
func New(displayID int, logger *util.Logger) *Tracker {
	return &Tracker{
		displayID: displayID,
		logger:    logger,
		state:     insets.NewSnapshot(),
		handles:   make(map[insets.Category]insets.ControlHandle),
	}
}

// ApplyState replaces the authoritative source state with the host's view.
func (t *Tracker) ApplyState(snapshot insets.Snapshot) {
	t.mu.Lock()
	t.state = snapshot.Clone()
	t.mu.Unlock()
	t.logger.Tracef("coordinator display=%d state applied: %s", t.displayID, snapshot)
}

// SetCategoryVisible records a single category's visibility.
func (t *Tracker) SetCategoryVisible(c insets.Category, visible bool) {
	t.mu.Lock()
	t.state.SetVisible(insets.MaskOf(c), visible)
	t.mu.Unlock()
}

// ApplyControlHandles replaces the handle set with the host's latest grant.
// Requests that were waiting on a handle are considered serviceable now.
func (t *Tracker) ApplyControlHandles(handles []insets.ControlHandle) {
	t.mu.Lock()
	t.handles = make(map[insets.Category]insets.ControlHandle, len(handles))
	for _, h := range handles {
		t.handles[h.Category] = h
	}
	granted := t.pending
	for _, c := range granted.Categories() {
		if _, ok := t.handles[c]; ok {
			t.pending = t.pending.Without(insets.MaskOf(c))
		}
	}
	t.mu.Unlock()
	t.logger.Tracef("coordinator display=%d received %d control handles", t.displayID, len(handles))
}

// RequestShow asks the host-granted controls to reveal the masked sources.
func (t *Tracker) RequestShow(mask insets.Mask) {
	t.request(mask, true)
}

// RequestHide asks the host-granted controls to conceal the masked sources.
func (t *Tracker) RequestHide(mask insets.Mask) {
	t.request(mask, false)
}

func (t *Tracker) request(mask insets.Mask, visible bool) {
	if mask.IsEmpty() {
		return
	}
	t.mu.Lock()
	if visible {
		t.showOps++
	} else {
		t.hideOps++
	}
	var missing insets.Mask
	for _, c := range mask.Categories() {
		t.state.SetVisible(insets.MaskOf(c), visible)
		if _, ok := t.handles[c]; !ok {
			missing = missing.Union(insets.MaskOf(c))
		}
	}
	t.pending = t.pending.Union(missing)
	t.mu.Unlock()

	verb := "hide"
	if visible {
		verb = "show"
	}
	if !missing.IsEmpty() {
		t.logger.Debugf("coordinator display=%d %s %s deferred, no control handle for %s", t.displayID, verb, mask, missing)
		return
	}
	t.logger.Tracef("coordinator display=%d %s %s", t.displayID, verb, mask)
}

// Snapshot returns a copy of the tracker state for inspection.
func (t *Tracker) Snapshot() View {
	t.mu.Lock()
	defer t.mu.Unlock()
	view := View{
		State:        t.state.Clone(),
		PendingMask:  t.pending,
		ShowRequests: t.showOps,
		HideRequests: t.hideOps,
	}
	if len(t.handles) > 0 {
		view.Handles = make([]insets.ControlHandle, 0, len(t.handles))
		for _, h := range t.handles {
			view.Handles = append(view.Handles, h)
		}
		insets.SortHandles(view.Handles)
	}
	return view
}
