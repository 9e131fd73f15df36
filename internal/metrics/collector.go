package metrics

import (
	"sort"
	"sync"
	"time"
)

// Collector aggregates opt-in counters for per-display reconciliation work.
type Collector struct {
	mu       sync.RWMutex
	enabled  bool
	started  time.Time
	displays map[int]*DisplayMetrics
}

// DisplayMetrics captures the counters tracked for one display.
type DisplayMetrics struct {
	DisplayID      int       `json:"displayId"`
	Reconciles     uint64    `json:"reconciles"`
	Pushes         uint64    `json:"pushes"`
	PushErrors     uint64    `json:"pushErrors"`
	RegisterErrors uint64    `json:"registerErrors"`
	RedundantState uint64    `json:"redundantState"`
	RedundantFocus uint64    `json:"redundantFocus"`
	LastReconcile  time.Time `json:"lastReconcile,omitempty"`
	LastPush       time.Time `json:"lastPush,omitempty"`
	LastErrored    time.Time `json:"lastErrored,omitempty"`
}

// Totals aggregates counters across all displays in a snapshot.
type Totals struct {
	Reconciles     uint64 `json:"reconciles"`
	Pushes         uint64 `json:"pushes"`
	PushErrors     uint64 `json:"pushErrors"`
	RegisterErrors uint64 `json:"registerErrors"`
	RedundantState uint64 `json:"redundantState"`
	RedundantFocus uint64 `json:"redundantFocus"`
}

// Snapshot is the serializable view of the current metrics state.
type Snapshot struct {
	Enabled  bool             `json:"enabled"`
	Started  time.Time        `json:"started,omitempty"`
	Totals   Totals           `json:"totals"`
	Displays []DisplayMetrics `json:"displays,omitempty"`
}

// NewCollector returns a collector with the provided opt-in state.
func NewCollector(enabled bool) *Collector {
	c := &Collector{}
	c.SetEnabled(enabled)
	return c
}

// Enabled reports whether collection is currently active.
func (c *Collector) Enabled() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// SetEnabled toggles collection, resetting counters when enabling.
func (c *Collector) SetEnabled(enabled bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled == enabled {
		return
	}
	c.enabled = enabled
	if !enabled {
		c.displays = nil
		c.started = time.Time{}
		return
	}
	c.started = time.Now()
	c.displays = make(map[int]*DisplayMetrics)
}

// RecordReconcile counts one reconciliation pass for a display.
func (c *Collector) RecordReconcile(displayID int) {
	c.update(displayID, func(m *DisplayMetrics, now time.Time) {
		m.Reconciles++
		m.LastReconcile = now
	})
}

// RecordPush counts one successful snapshot push.
func (c *Collector) RecordPush(displayID int) {
	c.update(displayID, func(m *DisplayMetrics, now time.Time) {
		m.Pushes++
		m.LastPush = now
	})
}

// RecordPushError counts one failed snapshot push.
func (c *Collector) RecordPushError(displayID int) {
	c.update(displayID, func(m *DisplayMetrics, now time.Time) {
		m.PushErrors++
		m.LastErrored = now
	})
}

// RecordRegisterError counts one failed endpoint registration.
func (c *Collector) RecordRegisterError(displayID int) {
	c.update(displayID, func(m *DisplayMetrics, now time.Time) {
		m.RegisterErrors++
		m.LastErrored = now
	})
}

// RecordRedundantState counts a state notification dropped by the equality guard.
func (c *Collector) RecordRedundantState(displayID int) {
	c.update(displayID, func(m *DisplayMetrics, _ time.Time) {
		m.RedundantState++
	})
}

// RecordRedundantFocus counts a focus notification dropped by the equality guard.
func (c *Collector) RecordRedundantFocus(displayID int) {
	c.update(displayID, func(m *DisplayMetrics, _ time.Time) {
		m.RedundantFocus++
	})
}

func (c *Collector) update(displayID int, mutate func(*DisplayMetrics, time.Time)) {
	if c == nil || mutate == nil {
		return
	}
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	if c.displays == nil {
		c.displays = make(map[int]*DisplayMetrics)
	}
	m, exists := c.displays[displayID]
	if !exists {
		m = &DisplayMetrics{DisplayID: displayID}
		c.displays[displayID] = m
	}
	mutate(m, now)
}

// Snapshot returns the current counters for serialization or display.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := Snapshot{Enabled: c.enabled}
	if !c.enabled {
		return snap
	}
	snap.Started = c.started
	if len(c.displays) == 0 {
		return snap
	}
	snap.Displays = make([]DisplayMetrics, 0, len(c.displays))
	for _, m := range c.displays {
		if m == nil {
			continue
		}
		clone := *m
		snap.Displays = append(snap.Displays, clone)
		snap.Totals.Reconciles += clone.Reconciles
		snap.Totals.Pushes += clone.Pushes
		snap.Totals.PushErrors += clone.PushErrors
		snap.Totals.RegisterErrors += clone.RegisterErrors
		snap.Totals.RedundantState += clone.RedundantState
		snap.Totals.RedundantFocus += clone.RedundantFocus
	}
	sort.Slice(snap.Displays, func(i, j int) bool {
		return snap.Displays[i].DisplayID < snap.Displays[j].DisplayID
	})
	return snap
}
