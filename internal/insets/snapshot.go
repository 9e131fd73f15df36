package insets

import (
	"sort"
	"strings"
)

// Snapshot records the visibility of every inset source on one display at a
// point in time. A nil inner map is equivalent to "no sources reported yet".
type Snapshot struct {
	Visible map[Category]bool `json:"visible"`
}

// NewSnapshot returns an empty snapshot ready for mutation.
func NewSnapshot() Snapshot {
	return Snapshot{Visible: make(map[Category]bool)}
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	if s.Visible == nil {
		return Snapshot{}
	}
	out := Snapshot{Visible: make(map[Category]bool, len(s.Visible))}
	for c, v := range s.Visible {
		out.Visible[c] = v
	}
	return out
}

// Equal reports structural equality between two snapshots. Snapshots with no
// reported sources compare equal regardless of map allocation.
func (s Snapshot) Equal(other Snapshot) bool {
	if len(s.Visible) != len(other.Visible) {
		return false
	}
	for c, v := range s.Visible {
		ov, ok := other.Visible[c]
		if !ok || ov != v {
			return false
		}
	}
	return true
}

// SetVisible marks every category in the mask with the given visibility.
func (s *Snapshot) SetVisible(mask Mask, visible bool) {
	if s.Visible == nil {
		s.Visible = make(map[Category]bool)
	}
	for _, c := range mask.Categories() {
		s.Visible[c] = visible
	}
}

// IsVisible reports the recorded visibility for a category. Categories the
// host never reported default to hidden.
func (s Snapshot) IsVisible(c Category) bool {
	return s.Visible[c]
}

// String renders the snapshot as "statusBar=1;navigationBar=0" pairs in
// canonical category order, matching the wire encoding.
func (s Snapshot) String() string {
	parts := make([]string, 0, len(s.Visible))
	for _, c := range AllCategories {
		v, ok := s.Visible[c]
		if !ok {
			continue
		}
		flag := "0"
		if v {
			flag = "1"
		}
		parts = append(parts, c.String()+"="+flag)
	}
	return strings.Join(parts, ";")
}

// ControlHandle is an opaque token granting permission to move or animate one
// inset source. The daemon forwards handles without interpreting them.
type ControlHandle struct {
	Category Category `json:"category"`
	Token    string   `json:"token"`
}

// SortHandles orders handles by canonical category order for stable logging.
func SortHandles(handles []ControlHandle) {
	sort.Slice(handles, func(i, j int) bool {
		return handles[i].Category < handles[j].Category
	})
}
