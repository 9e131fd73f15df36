package insets

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Category identifies one independently controllable screen-edge source.
type Category uint32

const (
	StatusBar Category = 1 << iota
	NavigationBar
	IME
	CaptionBar
)

// AllCategories lists every known category in canonical order.
var AllCategories = []Category{StatusBar, NavigationBar, IME, CaptionBar}

var categoryNames = map[Category]string{
	StatusBar:     "statusBar",
	NavigationBar: "navigationBar",
	IME:           "ime",
	CaptionBar:    "captionBar",
}

var categoriesByName = map[string]Category{
	"statusbar":     StatusBar,
	"navigationbar": NavigationBar,
	"ime":           IME,
	"captionbar":    CaptionBar,
}

func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return fmt.Sprintf("category(0x%x)", uint32(c))
}

// MarshalText lets categories serve as readable JSON object keys.
func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText parses a category name.
func (c *Category) UnmarshalText(text []byte) error {
	parsed, err := ParseCategory(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseCategory resolves a category name, matching case-insensitively.
func ParseCategory(s string) (Category, error) {
	if c, ok := categoriesByName[strings.ToLower(strings.TrimSpace(s))]; ok {
		return c, nil
	}
	return 0, fmt.Errorf("unknown inset category %q", s)
}

// Mask is a set of categories encoded as a bitmask.
type Mask uint32

// MaskOf builds a mask from the given categories.
func MaskOf(categories ...Category) Mask {
	var m Mask
	for _, c := range categories {
		m |= Mask(c)
	}
	return m
}

// Has reports whether every bit of c is present in the mask.
func (m Mask) Has(c Category) bool {
	return m&Mask(c) == Mask(c)
}

// Union returns the combination of both masks.
func (m Mask) Union(other Mask) Mask {
	return m | other
}

// Without returns the mask with the given categories cleared.
func (m Mask) Without(other Mask) Mask {
	return m &^ other
}

// IsEmpty reports whether no category is set.
func (m Mask) IsEmpty() bool {
	return m == 0
}

// Categories expands the mask into its known categories in canonical order.
func (m Mask) Categories() []Category {
	out := make([]Category, 0, len(AllCategories))
	for _, c := range AllCategories {
		if m.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

// String renders the mask as pipe-separated category names, e.g. "statusBar|ime".
func (m Mask) String() string {
	if m == 0 {
		return "none"
	}
	parts := make([]string, 0, len(AllCategories))
	for _, c := range m.Categories() {
		parts = append(parts, c.String())
	}
	return strings.Join(parts, "|")
}

// ParseMask decodes a pipe-separated list of category names.
func ParseMask(s string) (Mask, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || trimmed == "none" {
		return 0, nil
	}
	var m Mask
	for _, part := range strings.Split(trimmed, "|") {
		c, err := ParseCategory(part)
		if err != nil {
			return 0, err
		}
		m |= Mask(c)
	}
	return m, nil
}

// UnmarshalYAML decodes a mask from a YAML list of category names.
func (m *Mask) UnmarshalYAML(value *yaml.Node) error {
	var names []string
	if err := value.Decode(&names); err != nil {
		return fmt.Errorf("inset mask must be a list of category names: %w", err)
	}
	var mask Mask
	for _, name := range names {
		c, err := ParseCategory(name)
		if err != nil {
			return err
		}
		mask |= Mask(c)
	}
	*m = mask
	return nil
}

// MarshalYAML encodes the mask as a sorted list of category names.
func (m Mask) MarshalYAML() (interface{}, error) {
	names := make([]string, 0, len(AllCategories))
	for _, c := range m.Categories() {
		names = append(names, c.String())
	}
	sort.Strings(names)
	return names, nil
}
