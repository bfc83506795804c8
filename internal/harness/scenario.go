package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/soa-bra/glass-project-flow-sub021/internal/board"
	"github.com/soa-bra/glass-project-flow-sub021/internal/engine"
)

// Scenario defines a convergence scenario.
// Replicas run scripted local edits; their ops are delivered to the other
// replicas in seeded random orders, and the final states are asserted.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Replicas lists the participant ids. Each gets its own engine.
	Replicas []string `yaml:"replicas"`

	// Seed makes delivery orders reproducible.
	Seed uint64 `yaml:"seed,omitempty"`

	// Orders is how many delivery permutations to try. Defaults to 1.
	Orders int `yaml:"orders,omitempty"`

	// Steps run in order. Edits apply locally at once; delivery to other
	// replicas happens at sync steps and after the last step.
	Steps []Step `yaml:"steps"`

	// Assertions are checked on every replica after every permutation.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one scripted action on a replica.
type Step struct {
	// Replica performs the action. Optional for sync, where it limits
	// delivery to that replica.
	Replica string `yaml:"replica,omitempty"`

	// Action is one of the Action* constants.
	Action string `yaml:"action"`

	// ID is the element the action addresses.
	ID string `yaml:"id,omitempty"`

	// Type is the element type for create. Defaults to shape.
	Type string `yaml:"type,omitempty"`

	Position *Vec           `yaml:"position,omitempty"`
	Size     *Dim           `yaml:"size,omitempty"`
	Style    map[string]any `yaml:"style,omitempty"`
	Parent   string         `yaml:"parent,omitempty"`

	// IDs and Delta describe a drag gesture.
	IDs   []string `yaml:"ids,omitempty"`
	Delta *Vec     `yaml:"delta,omitempty"`

	// Expect is the error code the local apply must fail with. Empty means
	// the step must succeed.
	Expect string `yaml:"expect,omitempty"`
}

// Vec is a point or offset.
type Vec struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

// Dim is a width and height.
type Dim struct {
	W float64 `yaml:"w"`
	H float64 `yaml:"h"`
}

// Step actions.
const (
	ActionCreate   = "create"
	ActionMove     = "move"
	ActionResize   = "resize"
	ActionRestyle  = "restyle"
	ActionDelete   = "delete"
	ActionReparent = "reparent"
	ActionUndo     = "undo"
	ActionRedo     = "redo"
	ActionDrag     = "drag"
	ActionSync     = "sync"
)

// Assertion checks the final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "converged": every replica has the same digest in every permutation
	// - "element": the element exists and its fields match Expect
	// - "absent": the element is not live
	// - "count": exactly Count live elements
	// - "pending": exactly Count buffered ops on every replica
	Type string `yaml:"type"`

	// ID is the element id (element, absent).
	ID string `yaml:"id,omitempty"`

	// Expect lists fields to compare (element). Subset match over
	// x, y, w, h, type, parent, version and style.<key>.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is the expected number (count, pending).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertConverged = "converged"
	AssertElement   = "element"
	AssertAbsent    = "absent"
	AssertCount     = "count"
	AssertPending   = "pending"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Replicas) == 0 {
		return fmt.Errorf("replicas list is required and must be non-empty")
	}
	seen := make(map[string]bool, len(s.Replicas))
	for i, r := range s.Replicas {
		if r == "" {
			return fmt.Errorf("replicas[%d]: id is required", i)
		}
		if seen[r] {
			return fmt.Errorf("replicas[%d]: duplicate id %q", i, r)
		}
		seen[r] = true
	}
	if s.Orders < 0 {
		return fmt.Errorf("orders must be non-negative")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step, seen); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

var expectCodes = []string{
	string(engine.ErrCodeValidation),
	string(engine.ErrCodeTargetMissing),
	string(engine.ErrCodeStaleOp),
	ExpectNothingToUndo,
}

// ExpectNothingToUndo is the Expect value for an undo or redo on an empty
// stack.
const ExpectNothingToUndo = "NOTHING_TO_UNDO"

func validateStep(i int, step Step, replicas map[string]bool) error {
	if step.Action == ActionSync {
		if step.Replica != "" && !replicas[step.Replica] {
			return fmt.Errorf("steps[%d]: unknown replica %q", i, step.Replica)
		}
		return nil
	}
	if !replicas[step.Replica] {
		return fmt.Errorf("steps[%d]: unknown replica %q", i, step.Replica)
	}
	if step.Expect != "" && !slices.Contains(expectCodes, step.Expect) {
		return fmt.Errorf("steps[%d]: unknown expect code %q", i, step.Expect)
	}

	switch step.Action {
	case ActionCreate:
		if step.ID == "" {
			return fmt.Errorf("steps[%d]: id is required for create", i)
		}
		if step.Size == nil {
			return fmt.Errorf("steps[%d]: size is required for create", i)
		}
	case ActionMove:
		if step.ID == "" || step.Position == nil {
			return fmt.Errorf("steps[%d]: id and position are required for move", i)
		}
	case ActionResize:
		if step.ID == "" || step.Size == nil {
			return fmt.Errorf("steps[%d]: id and size are required for resize", i)
		}
	case ActionRestyle:
		if step.ID == "" || len(step.Style) == 0 {
			return fmt.Errorf("steps[%d]: id and style are required for restyle", i)
		}
	case ActionDelete, ActionReparent:
		if step.ID == "" {
			return fmt.Errorf("steps[%d]: id is required for %s", i, step.Action)
		}
	case ActionDrag:
		if len(step.IDs) == 0 || step.Delta == nil {
			return fmt.Errorf("steps[%d]: ids and delta are required for drag", i)
		}
	case ActionUndo, ActionRedo:
	default:
		return fmt.Errorf("steps[%d]: unknown action %q", i, step.Action)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertConverged:
	case AssertElement:
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for element", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for element", index)
		}
	case AssertAbsent:
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for absent", index)
		}
	case AssertCount, AssertPending:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// elementType maps a step type to an element type, defaulting to shape.
func elementType(s string) board.ElementType {
	if s == "" {
		return board.TypeShape
	}
	return board.ElementType(s)
}
