// Package policy maps a focused application package to the set of system
// bars that must be shown or hidden while it holds focus. Rules live in a
// YAML file and are hot-reloadable; registered listeners fire after every
// successful reload.
package policy

import (
	"fmt"
	"os"
	"sync"

	"github.com/insetd/insetd/internal/insets"
	"github.com/insetd/insetd/internal/util"
)

// Decision is the outcome of a policy lookup: the categories that must be
// visible and the categories that must be hidden. The masks are applied
// visible-first, so a category present in both resolves to hidden.
type Decision struct {
	Visible insets.Mask `json:"visible"`
	Hidden  insets.Mask `json:"hidden"`
}

// RuleInfo is the inspectable summary of one loaded rule.
type RuleInfo struct {
	Name    string      `json:"name"`
	Matcher string      `json:"matcher"`
	Show    insets.Mask `json:"show"`
	Hide    insets.Mask `json:"hide"`
}

type compiledRule struct {
	name    string
	matcher matcher
	config  RuleConfig
	show    insets.Mask
	hide    insets.Mask
}

// Engine holds the active rule set and answers visibility lookups.
type Engine struct {
	path   string
	logger *util.Logger

	mu         sync.RWMutex
	rules      []compiledRule
	def        Decision
	serialized []byte
	listeners  []func()
}

// New creates an engine bound to a policy file. Rules are not loaded until
// the first Reload call.
func New(path string, logger *util.Logger) *Engine {
	return &Engine{path: path, logger: logger}
}

// Path returns the policy file the engine reads from.
func (e *Engine) Path() string {
	return e.path
}

// Reload re-reads the policy file. On failure the previous rule set stays
// active and the error is returned. On success every registered change
// listener fires. Safe to call repeatedly.
func (e *Engine) Reload() error {
	raw, err := os.ReadFile(e.path)
	if err != nil {
		return fmt.Errorf("read policy: %w", err)
	}
	file, err := Parse(raw)
	if err != nil {
		return err
	}
	compiled := make([]compiledRule, 0, len(file.Rules))
	for _, rc := range file.Rules {
		m, err := compileMatcher(rc.Match)
		if err != nil {
			return fmt.Errorf("rule %q: %w", rc.Name, err)
		}
		compiled = append(compiled, compiledRule{
			name:    rc.Name,
			matcher: m,
			config:  rc,
			show:    rc.Show,
			hide:    rc.Hide,
		})
	}

	e.mu.Lock()
	e.rules = compiled
	e.def = Decision{Visible: file.Default.Show, Hidden: file.Default.Hide}
	e.serialized = append([]byte(nil), raw...)
	listeners := append([]func(){}, e.listeners...)
	e.mu.Unlock()

	if e.logger != nil {
		e.logger.Infof("loaded %d bar policy rules", len(compiled))
	}
	for _, fn := range listeners {
		fn()
	}
	return nil
}

// OnChange registers a callback invoked after every successful reload.
func (e *Engine) OnChange(fn func()) {
	if fn == nil {
		return
	}
	e.mu.Lock()
	e.listeners = append(e.listeners, fn)
	e.mu.Unlock()
}

// Decide returns the visibility decision for a focused package. The first
// matching rule wins; packages no rule claims get the default decision.
// Pure: no side effects, safe for repeated calls.
func (e *Engine) Decide(pkg string) Decision {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, rule := range e.rules {
		if rule.matcher.match(pkg) {
			return Decision{Visible: rule.show, Hidden: rule.hide}
		}
	}
	return e.def
}

// Explain returns the decision for a package together with the name of the
// rule that produced it. An empty rule name means the default applied.
func (e *Engine) Explain(pkg string) (Decision, string) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, rule := range e.rules {
		if rule.matcher.match(pkg) {
			return Decision{Visible: rule.show, Hidden: rule.hide}, rule.name
		}
	}
	return e.def, ""
}

// Rules returns a summary of the loaded rules for inspection.
func (e *Engine) Rules() []RuleInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]RuleInfo, 0, len(e.rules))
	for _, rule := range e.rules {
		out = append(out, RuleInfo{
			Name:    rule.name,
			Matcher: rule.config.Match.describe(),
			Show:    rule.show,
			Hide:    rule.hide,
		})
	}
	return out
}

// Default returns the fallback decision applied when no rule matches.
func (e *Engine) Default() Decision {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.def
}

// LastSerialized returns the raw bytes of the last successfully loaded file,
// used to diff rejected reloads against the active configuration.
func (e *Engine) LastSerialized() []byte {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]byte(nil), e.serialized...)
}
