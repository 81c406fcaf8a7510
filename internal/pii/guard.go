// Package pii detects and redacts personally identifiable information with a
// fixed, ordered set of pattern rules.
//
// Detection is best-effort: patterns catch common shapes of each category and
// make no false-negative guarantee.
package pii

import (
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

// Match is a single detection result. Start and End are byte offsets into the
// inspected text.
type Match struct {
	Value string `json:"value"`
	Label string `json:"label"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Rule is one detection category.
type Rule struct {
	Label       string `yaml:"label"`
	Description string `yaml:"description"`
	Pattern     string `yaml:"pattern"`

	re     *regexp.Regexp
	marker string
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// Guard applies the rules in file order. It holds no mutable state and is safe
// for concurrent use.
type Guard struct {
	rules []Rule
}

// New returns a Guard built from the embedded rule set.
func New() (*Guard, error) {
	return NewFromYAML(defaultRules)
}

// MustNew is like New but panics on error. The embedded rules are covered by
// tests, so this only fails on a broken build.
func MustNew() *Guard {
	g, err := New()
	if err != nil {
		panic(err)
	}
	return g
}

// NewFromYAML builds a Guard from a YAML rule document. It rejects rule sets
// whose redaction markers would be matched by any rule, since that would make
// redaction non-idempotent.
func NewFromYAML(data []byte) (*Guard, error) {
	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("unmarshal pii rules: %w", err)
	}

	if len(file.Rules) == 0 {
		return nil, errors.New("pii rules must not be empty")
	}

	seen := make(map[string]bool, len(file.Rules))
	for i := range file.Rules {
		rule := &file.Rules[i]
		rule.Label = strings.TrimSpace(rule.Label)
		if rule.Label == "" {
			return nil, fmt.Errorf("pii rule %d has no label", i)
		}
		if seen[rule.Label] {
			return nil, fmt.Errorf("duplicate pii rule label %q", rule.Label)
		}
		seen[rule.Label] = true

		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile pii rule %q: %w", rule.Label, err)
		}
		rule.re = re
		rule.marker = Marker(rule.Label)
	}

	for _, rule := range file.Rules {
		for _, other := range file.Rules {
			if other.re.MatchString(rule.marker) {
				return nil, fmt.Errorf("marker %q of rule %q is matched by rule %q", rule.marker, rule.Label, other.Label)
			}
		}
	}

	return &Guard{rules: file.Rules}, nil
}

// Marker returns the replacement text used for label.
func Marker(label string) string {
	return "[" + strings.ToUpper(label) + " REDACTED]"
}

// Rules returns the configured rule labels in evaluation order.
func (g *Guard) Rules() []string {
	labels := make([]string, 0, len(g.rules))
	for _, rule := range g.rules {
		labels = append(labels, rule.Label)
	}
	return labels
}

// Detect returns every match of every rule, grouped by rule order and then by
// position. Overlapping matches from different rules are all reported.
func (g *Guard) Detect(text string) []Match {
	var matches []Match
	for _, rule := range g.rules {
		for _, loc := range rule.re.FindAllStringIndex(text, -1) {
			matches = append(matches, Match{
				Value: text[loc[0]:loc[1]],
				Label: rule.Label,
				Start: loc[0],
				End:   loc[1],
			})
		}
	}
	return matches
}

// Labels returns the label of each match reported by Detect, in the same order.
func (g *Guard) Labels(text string) []string {
	matches := g.Detect(text)
	labels := make([]string, 0, len(matches))
	for _, m := range matches {
		labels = append(labels, m.Label)
	}
	return labels
}

// Redact replaces every match with its rule marker, rule by rule over the
// evolving text.
func (g *Guard) Redact(text string) string {
	redacted := text
	for _, rule := range g.rules {
		redacted = rule.re.ReplaceAllLiteralString(redacted, rule.marker)
	}
	return redacted
}

// SanitizeForEmbeddings redacts text bound for an embedding model.
func (g *Guard) SanitizeForEmbeddings(text string) string {
	return g.Redact(text)
}

// Annotate returns the redacted text followed by the sorted, unique labels
// detected in it, for audit logs. Text without matches is returned unchanged.
func (g *Guard) Annotate(text string) string {
	matches := g.Detect(text)
	if len(matches) == 0 {
		return text
	}

	unique := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		unique[m.Label] = struct{}{}
	}
	labels := make([]string, 0, len(unique))
	for label := range unique {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	return fmt.Sprintf("%s [PII:%s]", g.Redact(text), strings.Join(labels, ","))
}
