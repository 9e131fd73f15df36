package policy

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/insetd/insetd/internal/insets"
	"gopkg.in/yaml.v3"
)

// File is the top-level bar-policy document.
type File struct {
	Default DecisionConfig `yaml:"default"`
	Rules   []RuleConfig   `yaml:"rules"`
}

// DecisionConfig is the serialized form of a visibility decision.
type DecisionConfig struct {
	Show insets.Mask `yaml:"show"`
	Hide insets.Mask `yaml:"hide"`
}

// RuleConfig binds a package matcher to a visibility decision.
type RuleConfig struct {
	Name  string        `yaml:"name"`
	Match MatcherConfig `yaml:"match"`
	Show  insets.Mask   `yaml:"show"`
	Hide  insets.Mask   `yaml:"hide"`
}

// MatcherConfig describes how a rule selects focused packages.
type MatcherConfig struct {
	Package      string   `yaml:"package"`
	AnyPackage   []string `yaml:"anyPackage"`
	PackageRegex string   `yaml:"packageRegex"`
}

// LintError describes a single validation failure with its document path.
type LintError struct {
	Path    string
	Message string
}

func (e LintError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Parse decodes and validates a policy document.
func Parse(data []byte) (*File, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode policy: %w", err)
	}
	file.applyDefaults()
	if errs := file.Lint(); len(errs) > 0 {
		return nil, errs[0]
	}
	return &file, nil
}

func (f *File) applyDefaults() {
	if f.Default.Show.IsEmpty() && f.Default.Hide.IsEmpty() {
		// Bars stay visible for packages no rule claims.
		f.Default.Show = insets.MaskOf(insets.StatusBar, insets.NavigationBar)
	}
}

// Lint reports structural problems that decoding alone cannot catch.
func (f *File) Lint() []LintError {
	var errs []LintError
	seen := map[string]struct{}{}
	for i, rule := range f.Rules {
		path := fmt.Sprintf("rules[%d]", i)
		if rule.Name == "" {
			errs = append(errs, LintError{Path: path, Message: "rule is missing a name"})
		} else if _, dup := seen[rule.Name]; dup {
			errs = append(errs, LintError{Path: path, Message: fmt.Sprintf("duplicate rule %q", rule.Name)})
		} else {
			seen[rule.Name] = struct{}{}
		}
		if rule.Match.Package == "" && len(rule.Match.AnyPackage) == 0 && rule.Match.PackageRegex == "" {
			errs = append(errs, LintError{Path: path + ".match", Message: "rule matches nothing; set package, anyPackage, or packageRegex"})
		}
		if rule.Show.IsEmpty() && rule.Hide.IsEmpty() {
			errs = append(errs, LintError{Path: path, Message: "rule decides nothing; set show or hide"})
		}
		if rule.Match.PackageRegex != "" {
			if _, err := regexp.Compile(rule.Match.PackageRegex); err != nil {
				errs = append(errs, LintError{Path: path + ".match.packageRegex", Message: err.Error()})
			}
		}
	}
	return errs
}

// LintFile reads a policy file and reports every lint finding instead of
// stopping at the first, for use by offline validation tooling.
func LintFile(path string) ([]LintError, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode policy: %w", err)
	}
	file.applyDefaults()
	return file.Lint(), nil
}

// matcher is the compiled form of a MatcherConfig.
type matcher struct {
	exact  string
	any    map[string]struct{}
	regex  *regexp.Regexp
	anyLen int
}

func compileMatcher(mc MatcherConfig) (matcher, error) {
	m := matcher{exact: mc.Package}
	if len(mc.AnyPackage) > 0 {
		m.any = make(map[string]struct{}, len(mc.AnyPackage))
		for _, pkg := range mc.AnyPackage {
			m.any[pkg] = struct{}{}
		}
		m.anyLen = len(m.any)
	}
	if mc.PackageRegex != "" {
		re, err := regexp.Compile(mc.PackageRegex)
		if err != nil {
			return matcher{}, fmt.Errorf("compile packageRegex: %w", err)
		}
		m.regex = re
	}
	return m, nil
}

// match reports whether the focused package satisfies every configured
// criterion. An empty criterion is treated as "don't care".
func (m matcher) match(pkg string) bool {
	if m.exact != "" && m.exact != pkg {
		return false
	}
	if m.anyLen > 0 {
		if _, ok := m.any[pkg]; !ok {
			return false
		}
	}
	if m.regex != nil && !m.regex.MatchString(pkg) {
		return false
	}
	return true
}

func (mc MatcherConfig) describe() string {
	var parts []string
	if mc.Package != "" {
		parts = append(parts, "package="+mc.Package)
	}
	if len(mc.AnyPackage) > 0 {
		parts = append(parts, "anyPackage="+strings.Join(mc.AnyPackage, ","))
	}
	if mc.PackageRegex != "" {
		parts = append(parts, "packageRegex="+mc.PackageRegex)
	}
	return strings.Join(parts, " ")
}
