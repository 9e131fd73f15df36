package insets

import (
	"testing"

	"gopkg.in/yaml.v3"
)

func TestParseMask(t *testing.T) {
	tests := []struct {
		input   string
		want    Mask
		wantErr bool
	}{
		{"statusBar", MaskOf(StatusBar), false},
		{"statusBar|navigationBar", MaskOf(StatusBar, NavigationBar), false},
		{" ime | captionBar ", MaskOf(IME, CaptionBar), false},
		{"none", 0, false},
		{"", 0, false},
		{"statusBar|bogus", 0, true},
	}
	for _, tc := range tests {
		got, err := ParseMask(tc.input)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseMask(%q) expected error", tc.input)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseMask(%q) returned error: %v", tc.input, err)
		}
		if got != tc.want {
			t.Fatalf("ParseMask(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestMaskStringRoundTrip(t *testing.T) {
	m := MaskOf(StatusBar, IME)
	parsed, err := ParseMask(m.String())
	if err != nil {
		t.Fatalf("ParseMask(%q) returned error: %v", m.String(), err)
	}
	if parsed != m {
		t.Fatalf("round trip produced %v, want %v", parsed, m)
	}
}

func TestMaskYAMLDecoding(t *testing.T) {
	var m Mask
	if err := yaml.Unmarshal([]byte("[statusBar, ime]"), &m); err != nil {
		t.Fatalf("unmarshal mask: %v", err)
	}
	if m != MaskOf(StatusBar, IME) {
		t.Fatalf("decoded mask = %v, want %v", m, MaskOf(StatusBar, IME))
	}
	if err := yaml.Unmarshal([]byte("[statusBar, bogus]"), &m); err == nil {
		t.Fatalf("expected error for unknown category")
	}
}

func TestSnapshotEqual(t *testing.T) {
	a := NewSnapshot()
	a.SetVisible(MaskOf(StatusBar), true)
	a.SetVisible(MaskOf(NavigationBar), false)

	b := NewSnapshot()
	b.SetVisible(MaskOf(NavigationBar), false)
	b.SetVisible(MaskOf(StatusBar), true)

	if !a.Equal(b) {
		t.Fatalf("expected snapshots to compare equal: %v vs %v", a, b)
	}

	b.SetVisible(MaskOf(NavigationBar), true)
	if a.Equal(b) {
		t.Fatalf("expected snapshots to differ after mutation")
	}

	var empty Snapshot
	if !empty.Equal(NewSnapshot()) {
		t.Fatalf("nil-backed and allocated empty snapshots should compare equal")
	}
}

func TestSnapshotCloneIsIndependent(t *testing.T) {
	orig := NewSnapshot()
	orig.SetVisible(MaskOf(StatusBar), true)

	clone := orig.Clone()
	clone.SetVisible(MaskOf(StatusBar), false)

	if !orig.IsVisible(StatusBar) {
		t.Fatalf("mutating clone changed the original")
	}
}

func TestSnapshotString(t *testing.T) {
	s := NewSnapshot()
	s.SetVisible(MaskOf(NavigationBar), false)
	s.SetVisible(MaskOf(StatusBar), true)
	if got, want := s.String(), "statusBar=1;navigationBar=0"; got != want {
		t.Fatalf("Snapshot.String() = %q, want %q", got, want)
	}
}
