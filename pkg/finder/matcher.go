package finder

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind classifies the device a description points at.
type Kind int

const (
	KindAccess Kind = iota
	KindAggregation
)

func (k Kind) String() string {
	if k == KindAggregation {
		return "aggregation"
	}
	return "access"
}

// Neighbor is the device named by an interface description.
type Neighbor struct {
	Name string
	Kind Kind
}

// Matcher extracts the neighbor named by free-text interface descriptions.
type Matcher interface {
	Match(description string) (Neighbor, bool)
}

// PatternMatcher finds neighbor names with two regular expressions and
// accepts only names present in the inventory. When a pattern has a capture
// group, the first group is the name; otherwise the whole match is. The
// pattern that matched gives the neighbor's Kind unless the device has a
// declared role.
type PatternMatcher struct {
	access      *regexp.Regexp
	aggregation *regexp.Regexp
	names       map[string]string // lower-case -> inventory spelling
	roles       map[string]Kind   // inventory spelling -> declared kind
}

// NewPatternMatcher compiles both patterns case-insensitively. Either pattern
// may be empty to disable that kind.
func NewPatternMatcher(accessPattern, aggregationPattern string, inventory []string) (*PatternMatcher, error) {
	m := &PatternMatcher{names: make(map[string]string, len(inventory)), roles: make(map[string]Kind)}
	for _, name := range inventory {
		m.names[strings.ToLower(name)] = name
	}

	var err error
	if m.access, err = compile("access", accessPattern); err != nil {
		return nil, err
	}
	if m.aggregation, err = compile("aggregation", aggregationPattern); err != nil {
		return nil, err
	}
	return m, nil
}

// WithRole declares the kind of an inventory device, overriding the pattern
// that matched it.
func (m *PatternMatcher) WithRole(name string, kind Kind) *PatternMatcher {
	m.roles[name] = kind
	return m
}

func compile(kind, pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("%s pattern %q: %w", kind, pattern, err)
	}
	return re, nil
}

// Match tries the access pattern, then the aggregation pattern.
func (m *PatternMatcher) Match(description string) (Neighbor, bool) {
	if name, ok := m.find(m.access, description); ok {
		return m.neighbor(name, KindAccess), true
	}
	if name, ok := m.find(m.aggregation, description); ok {
		return m.neighbor(name, KindAggregation), true
	}
	return Neighbor{}, false
}

func (m *PatternMatcher) neighbor(name string, matched Kind) Neighbor {
	if kind, ok := m.roles[name]; ok {
		return Neighbor{Name: name, Kind: kind}
	}
	return Neighbor{Name: name, Kind: matched}
}

func (m *PatternMatcher) find(re *regexp.Regexp, description string) (string, bool) {
	if re == nil || description == "" {
		return "", false
	}
	for _, sub := range re.FindAllStringSubmatch(description, -1) {
		candidate := sub[0]
		if len(sub) > 1 {
			candidate = sub[1]
		}
		if name, ok := m.names[strings.ToLower(candidate)]; ok {
			return name, true
		}
	}
	return "", false
}
