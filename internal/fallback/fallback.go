// Package fallback holds the rule-based responder used when the primary
// path for a task fails, times out or is circuit-broken. Matching does no
// I/O, so this path stays fast regardless of backend health.
package fallback

import (
	"fmt"
	"os"
	"strings"

	"go.yaml.in/yaml/v3"
)

// DefaultMinConfidence is the floor below which a matching rule is ignored.
const DefaultMinConfidence = 0.3

// Result is a synthesized answer from a matching rule.
type Result struct {
	Rule       string
	Text       string
	Confidence float64
	// Data is the rule's structured payload, if it declares one.
	Data map[string]string
}

// Structured reports whether the result carries structured data.
func (r *Result) Structured() bool {
	return r != nil && len(r.Data) > 0
}

// RuleSet is an ordered, immutable list of rules.
type RuleSet struct {
	rules         []Rule
	minConfidence float64
}

// Option configures a RuleSet.
type Option func(*RuleSet)

// WithMinConfidence sets the confidence floor.
func WithMinConfidence(c float64) Option {
	return func(s *RuleSet) {
		if c >= 0 && c <= 1 {
			s.minConfidence = c
		}
	}
}

// New compiles rules into a set. Rule order is their priority order.
func New(rules []Rule, opts ...Option) (*RuleSet, error) {
	s := &RuleSet{minConfidence: DefaultMinConfidence}
	for _, opt := range opts {
		opt(s)
	}

	seen := make(map[string]bool, len(rules))
	s.rules = make([]Rule, 0, len(rules))
	for _, r := range rules {
		r.Keywords = append([]string(nil), r.Keywords...)
		if err := r.compile(); err != nil {
			return nil, err
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("duplicate rule name %q", r.Name)
		}
		seen[r.Name] = true
		s.rules = append(s.rules, r)
	}
	return s, nil
}

// ruleFile is the YAML layout of a rules file.
type ruleFile struct {
	MinConfidence *float64 `yaml:"min_confidence"`
	Rules         []Rule   `yaml:"rules"`
}

// Parse builds a rule set from YAML. A min_confidence in the document
// overrides the options.
func Parse(data []byte, opts ...Option) (*RuleSet, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if f.MinConfidence != nil {
		opts = append(opts, WithMinConfidence(*f.MinConfidence))
	}
	return New(f.Rules, opts...)
}

// LoadFile reads a YAML rules file.
func LoadFile(path string, opts ...Option) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return Parse(data, opts...)
}

// Match returns the highest-confidence rule at or above the confidence
// floor whose predicate matches. Ties go to the rule declared first.
// It returns (nil, nil) when no rule qualifies and an error only when the
// winning rule's template fails to render.
func (s *RuleSet) Match(query, capability string, params map[string]string) (*Result, error) {
	if s == nil {
		return nil, nil
	}
	lower := strings.ToLower(query)

	best := -1
	for i := range s.rules {
		r := &s.rules[i]
		if r.Confidence < s.minConfidence {
			continue
		}
		if !r.matches(lower, query, capability) {
			continue
		}
		if best < 0 || r.Confidence > s.rules[best].Confidence {
			best = i
		}
	}
	if best < 0 {
		return nil, nil
	}

	r := &s.rules[best]
	text, err := r.render(query, capability, params)
	if err != nil {
		return nil, err
	}
	var data map[string]string
	if len(r.Data) > 0 {
		data = make(map[string]string, len(r.Data))
		for k, v := range r.Data {
			data[k] = v
		}
	}
	return &Result{Rule: r.Name, Text: text, Confidence: r.Confidence, Data: data}, nil
}

// Rules returns a copy of the rules in priority order.
func (s *RuleSet) Rules() []Rule {
	out := make([]Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

// Len returns the number of rules.
func (s *RuleSet) Len() int {
	return len(s.rules)
}

// MinConfidence returns the confidence floor.
func (s *RuleSet) MinConfidence() float64 {
	return s.minConfidence
}
