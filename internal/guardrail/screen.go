package guardrail

import (
	"embed"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed rules/rules.yaml
var rulesFS embed.FS

// DefaultRulesPath is the embedded rule set location.
const DefaultRulesPath = "rules/rules.yaml"

// Severity says what a matching screen rule means for the request.
type Severity string

const (
	// SeverityConclusive rejects the request outright.
	SeverityConclusive Severity = "conclusive"
	// SeveritySuspicious sends the text through the redactor.
	SeveritySuspicious Severity = "suspicious"
	// SeveritySignal is recorded and passed to the classifier as a hint.
	SeveritySignal Severity = "signal"
)

// RuleSpec is one screen rule as written in YAML.
type RuleSpec struct {
	ID       string   `yaml:"id"`
	Category string   `yaml:"category"`
	Severity Severity `yaml:"severity"`
	Priority int      `yaml:"priority"`
	Patterns []string `yaml:"patterns"`
}

// EntitySpec is one redaction entity as written in YAML.
type EntitySpec struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
}

// RuleSet is the parsed rule file.
type RuleSet struct {
	Rules    []RuleSpec   `yaml:"rules"`
	Entities []EntitySpec `yaml:"entities"`
}

// LoadRuleSet parses the rule file at path, or the embedded rules when path is empty.
func LoadRuleSet(path string) (*RuleSet, error) {
	var (
		data []byte
		err  error
	)
	if path == "" {
		data, err = rulesFS.ReadFile(DefaultRulesPath)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	return ParseRuleSet(data)
}

// ParseRuleSet parses rule YAML.
func ParseRuleSet(data []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if len(rs.Rules) == 0 {
		return nil, fmt.Errorf("rule set has no rules")
	}
	return &rs, nil
}

// =============================================================================
// SCREEN
// =============================================================================

// ScreenResult is the outcome of the fast pattern screen.
// MatchedReason and Category are internal and never shown to clients.
type ScreenResult struct {
	ConclusiveBlock bool
	Suspicious      bool
	Category        string
	MatchedReason   string
	Signals         []string
}

type compiledRule struct {
	id       string
	category string
	severity Severity
	priority int
	patterns []*regexp.Regexp
}

// Screen is a deterministic, in-process pattern matcher. It makes no network
// calls and is safe for concurrent use.
type Screen struct {
	rules []compiledRule
}

// NewScreen compiles a rule set. Patterns are case-insensitive.
func NewScreen(rs *RuleSet) (*Screen, error) {
	s := &Screen{}
	seen := make(map[string]bool, len(rs.Rules))

	for _, r := range rs.Rules {
		if r.ID == "" {
			return nil, fmt.Errorf("rule without id")
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("duplicate rule id %q", r.ID)
		}
		seen[r.ID] = true

		switch r.Severity {
		case SeverityConclusive, SeveritySuspicious, SeveritySignal:
		default:
			return nil, fmt.Errorf("rule %q: unknown severity %q", r.ID, r.Severity)
		}
		if len(r.Patterns) == 0 {
			return nil, fmt.Errorf("rule %q has no patterns", r.ID)
		}

		cr := compiledRule{id: r.ID, category: r.Category, severity: r.Severity, priority: r.Priority}
		for _, p := range r.Patterns {
			re, err := regexp.Compile("(?is)" + p)
			if err != nil {
				return nil, fmt.Errorf("rule %q: %w", r.ID, err)
			}
			cr.patterns = append(cr.patterns, re)
		}
		s.rules = append(s.rules, cr)
	}

	sort.SliceStable(s.rules, func(i, j int) bool {
		return s.rules[i].priority > s.rules[j].priority
	})
	return s, nil
}

// NewDefaultScreen compiles the embedded rule set.
func NewDefaultScreen() (*Screen, error) {
	rs, err := LoadRuleSet("")
	if err != nil {
		return nil, err
	}
	return NewScreen(rs)
}

// Check screens text. The first conclusive match wins and stops evaluation.
func (s *Screen) Check(text string) ScreenResult {
	var res ScreenResult
	if strings.TrimSpace(text) == "" {
		return res
	}

	for _, r := range s.rules {
		if (r.severity == SeveritySuspicious && res.Suspicious) || !r.matches(text) {
			continue
		}
		switch r.severity {
		case SeverityConclusive:
			return ScreenResult{
				ConclusiveBlock: true,
				Category:        r.category,
				MatchedReason:   r.id,
			}
		case SeveritySuspicious:
			res.Suspicious = true
			if res.MatchedReason == "" {
				res.Category = r.category
				res.MatchedReason = r.id
			}
		case SeveritySignal:
			res.Signals = append(res.Signals, r.category)
		}
	}
	return res
}

// RuleCount returns the number of compiled rules.
func (s *Screen) RuleCount() int { return len(s.rules) }

func (r *compiledRule) matches(text string) bool {
	for _, re := range r.patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
