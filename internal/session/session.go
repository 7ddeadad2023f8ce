// Package session holds the per-optimization properties that gate and bound
// rule application.
package session

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/roach88/planopt/internal/ir"
)

// Property names as they appear in session files and --set flags.
const (
	PropPushSemiJoinThroughUnion = "push_semi_join_through_union"
	PropMaxRuleApplications      = "max_rule_applications"
	PropValidatePlan             = "validate_plan"
)

// DefaultMaxRuleApplications bounds rule firings per optimization.
const DefaultMaxRuleApplications = 1000

// Session is read-only once optimization starts.
type Session struct {
	// PushSemiJoinThroughUnion enables the semi-join through union rewrite.
	// Off by default.
	PushSemiJoinThroughUnion bool `yaml:"push_semi_join_through_union"`

	// MaxRuleApplications is the firing quota of one optimization.
	MaxRuleApplications int `yaml:"max_rule_applications"`

	// ValidatePlan makes the driver re-check every replacement.
	ValidatePlan bool `yaml:"validate_plan"`
}

// Property is one name/value pair, rendered as text.
type Property struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Default returns a session with every property at its default.
func Default() *Session {
	return &Session{
		MaxRuleApplications: DefaultMaxRuleApplications,
	}
}

// Load reads a YAML session file. Missing properties keep their defaults;
// unknown properties are rejected.
func Load(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML session document.
func Parse(data []byte) (*Session, error) {
	s := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse session: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks property ranges.
func (s *Session) Validate() error {
	if s.MaxRuleApplications <= 0 {
		return fmt.Errorf("%s must be positive, got %d", PropMaxRuleApplications, s.MaxRuleApplications)
	}
	return nil
}

// Set assigns a property from its text form.
func (s *Session) Set(name, value string) error {
	switch name {
	case PropPushSemiJoinThroughUnion:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s: expected boolean, got %q", name, value)
		}
		s.PushSemiJoinThroughUnion = b
	case PropValidatePlan:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s: expected boolean, got %q", name, value)
		}
		s.ValidatePlan = b
	case PropMaxRuleApplications:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s: expected integer, got %q", name, value)
		}
		if n <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, n)
		}
		s.MaxRuleApplications = n
	default:
		return fmt.Errorf("unknown session property %q", name)
	}
	return nil
}

// Clone returns an independent copy.
func (s *Session) Clone() *Session {
	cp := *s
	return &cp
}

// Properties lists every property sorted by name.
func (s *Session) Properties() []Property {
	props := []Property{
		{Name: PropPushSemiJoinThroughUnion, Value: strconv.FormatBool(s.PushSemiJoinThroughUnion)},
		{Name: PropMaxRuleApplications, Value: strconv.Itoa(s.MaxRuleApplications)},
		{Name: PropValidatePlan, Value: strconv.FormatBool(s.ValidatePlan)},
	}
	sort.Slice(props, func(i, j int) bool {
		return props[i].Name < props[j].Name
	})
	return props
}

// Object returns the session as an IR object, used for fingerprints and for
// the trace store.
func (s *Session) Object() ir.Object {
	return ir.Object{
		PropPushSemiJoinThroughUnion: ir.Bool(s.PushSemiJoinThroughUnion),
		PropMaxRuleApplications:      ir.Int(s.MaxRuleApplications),
		PropValidatePlan:             ir.Bool(s.ValidatePlan),
	}
}

// FromObject rebuilds a session stored with Object.
func FromObject(obj ir.Object) (*Session, error) {
	s := Default()
	for name, v := range obj {
		var text string
		switch val := v.(type) {
		case ir.Bool:
			text = strconv.FormatBool(bool(val))
		case ir.Int:
			text = strconv.FormatInt(int64(val), 10)
		default:
			return nil, fmt.Errorf("%s: unsupported value %T", name, v)
		}
		if err := s.Set(name, text); err != nil {
			return nil, err
		}
	}
	return s, nil
}
