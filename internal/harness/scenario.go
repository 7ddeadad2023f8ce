package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/planopt/internal/ir"
)

// Scenario defines a conformance test scenario: a plan, the session it is
// optimized under, and assertions on the optimized plan and its trace.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Plan is the CUE program holding the plan. Relative paths are resolved
	// against the scenario file's directory.
	Plan string `yaml:"plan"`

	// PlanName selects a plan of the program. Empty means the first one.
	PlanName string `yaml:"plan_name,omitempty"`

	// Session overrides session properties by name.
	Session map[string]any `yaml:"session,omitempty"`

	// RunToken is a fixed run token for deterministic traces.
	// If empty, defaults to "test-run-default".
	RunToken string `yaml:"run_token,omitempty"`

	// ExpectError, when set, makes the scenario expect the optimization to
	// fail with an error containing this text. Assertions are skipped.
	ExpectError string `yaml:"expect_error,omitempty"`

	// Assertions validate the optimized plan and the trace.
	Assertions []Assertion `yaml:"assertions"`
}

// Assertion validates one property of the outcome.
type Assertion struct {
	// Type specifies the assertion type:
	// - "root_kind": the optimized root has node kind Kind
	// - "output_symbols": the optimized root outputs exactly Symbols, in order
	// - "branch_count": the optimized root is a union with Count sources
	// - "rule_fired": Rule fired exactly Count times in the stored trace
	// - "fresh_symbols": the optimized plan introduced exactly Symbols
	Type string `yaml:"type"`

	// Kind is a node kind name (root_kind).
	Kind string `yaml:"kind,omitempty"`

	// Symbols are symbol names (output_symbols, fresh_symbols).
	Symbols []string `yaml:"symbols,omitempty"`

	// Rule is a rule name (rule_fired).
	Rule string `yaml:"rule,omitempty"`

	// Count is the expected number (branch_count, rule_fired).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertRootKind      = "root_kind"
	AssertOutputSymbols = "output_symbols"
	AssertBranchCount   = "branch_count"
	AssertRuleFired     = "rule_fired"
	AssertFreshSymbols  = "fresh_symbols"
)

// LoadScenario reads and parses a scenario YAML file, resolving the plan
// path against the file's directory.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath is LoadScenario with an explicit base path for
// a relative plan path.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Plan != "" && !filepath.IsAbs(scenario.Plan) && basePath != "" {
		scenario.Plan = filepath.Join(basePath, scenario.Plan)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// FindScenarios returns the .yaml and .yml files directly under dir, sorted.
func FindScenarios(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yaml", ".yml":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	slices.Sort(files)
	return files, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Plan == "" {
		return fmt.Errorf("plan is required")
	}
	if _, err := os.Stat(s.Plan); os.IsNotExist(err) {
		return fmt.Errorf("plan file not found: %s", s.Plan)
	}

	if len(s.Assertions) == 0 && s.ExpectError == "" {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertRootKind:
		if _, ok := ir.ParseNodeKind(a.Kind); !ok {
			return fmt.Errorf("assertions[%d]: unknown node kind %q for root_kind", index, a.Kind)
		}
	case AssertOutputSymbols:
		if len(a.Symbols) == 0 {
			return fmt.Errorf("assertions[%d]: symbols list is required for output_symbols", index)
		}
	case AssertBranchCount:
		if a.Count < 1 {
			return fmt.Errorf("assertions[%d]: count must be positive for branch_count", index)
		}
	case AssertRuleFired:
		if a.Rule == "" {
			return fmt.Errorf("assertions[%d]: rule is required for rule_fired", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for rule_fired", index)
		}
	case AssertFreshSymbols:
		// An empty list asserts that nothing new was introduced.
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
