package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/rollcall/internal/model"
)

// Scenario is a scripted run against a fresh station and authority.
// Steps execute in order; assertions then inspect the final stores.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Dimension is the embedding length of both stores.
	Dimension int `yaml:"dimension"`

	// Tolerance is the match tolerance. Defaults to 0.6.
	Tolerance float64 `yaml:"tolerance,omitempty"`

	// Clock is the first wall-clock reading, "2006-01-02T15:04:05" in UTC.
	// The clock advances one second per reading.
	Clock string `yaml:"clock"`

	// Steps is the scripted flow.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step operations.
const (
	OpEnroll  = "enroll"
	OpMatch   = "match"
	OpScan    = "scan"
	OpRecord  = "record"
	OpReindex = "reindex"
	OpPush    = "push"
	OpImport  = "import"
)

// Step is one operation of a scenario.
type Step struct {
	// Op is one of enroll, match, scan, record, reindex, push, import.
	Op string `yaml:"op"`

	// Identity is the identity to enroll (enroll).
	Identity *IdentitySpec `yaml:"identity,omitempty"`

	// Embedding is the candidate vector (match).
	Embedding []float64 `yaml:"embedding,omitempty"`

	// Faces are the vectors of one capture (scan).
	Faces [][]float64 `yaml:"faces,omitempty"`

	// ID is the identity to mark present (record).
	ID int64 `yaml:"id,omitempty"`

	// At is the capture time (record, scan). Empty reads the clock.
	At string `yaml:"at,omitempty"`

	// Entries are the attendance rows of an imported batch (import).
	Entries []model.Entry `yaml:"entries,omitempty"`

	// Target is the store the step runs against: "station" (default) or
	// "authority".
	Target string `yaml:"target,omitempty"`

	// Expect validates the step result. Nil skips validation.
	Expect *Expect `yaml:"expect,omitempty"`
}

// IdentitySpec describes an identity to enroll.
type IdentitySpec struct {
	ID        int64     `yaml:"id,omitempty"`
	Roll      string    `yaml:"roll"`
	Name      string    `yaml:"name,omitempty"`
	Class     string    `yaml:"class,omitempty"`
	Section   string    `yaml:"section,omitempty"`
	Embedding []float64 `yaml:"embedding"`
}

// Expect is a subset match on a step result. Unset fields are not checked.
type Expect struct {
	// Outcome is the match outcome (match, scan): matched, no_match,
	// no_enrollment. For scan it applies to every face.
	Outcome string `yaml:"outcome,omitempty"`

	// Identity is the resolved or enrolled identity id.
	Identity int64 `yaml:"identity,omitempty"`

	// Status is the attendance status (record): recorded, already_marked.
	Status string `yaml:"status,omitempty"`

	// Moves is the number of identities a reindex renumbered.
	Moves *int `yaml:"moves,omitempty"`

	// Records is the number of records a push or import carried.
	Records *int `yaml:"records,omitempty"`

	// Error names the sentinel the step must fail with, for example
	// "not_found" or "dimension_mismatch".
	Error string `yaml:"error,omitempty"`
}

// Assertion types.
const (
	AssertIdentities = "identities"
	AssertAttendance = "attendance"
	AssertPending    = "pending"
	AssertAudit      = "audit"
)

// Assertion validates the final state of one store.
type Assertion struct {
	// Type is one of identities, attendance, pending, audit.
	Type string `yaml:"type"`

	// Target is "station" (default) or "authority".
	Target string `yaml:"target,omitempty"`

	// IDs are the expected identity ids in ascending order (identities).
	IDs []int64 `yaml:"ids,omitempty"`

	// Identity, Day and Roll narrow attendance rows (attendance).
	Identity int64  `yaml:"identity,omitempty"`
	Roll     string `yaml:"roll,omitempty"`
	Day      string `yaml:"day,omitempty"`

	// Count is the expected row count (attendance, audit).
	Count *int `yaml:"count,omitempty"`

	// Identities and Attendance are expected pending counts (pending).
	Identities *int `yaml:"identities,omitempty"`
	Attendance *int `yaml:"attendance,omitempty"`
}

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
	if s.Dimension <= 0 {
		return fmt.Errorf("dimension must be positive")
	}
	if s.Tolerance < 0 {
		return fmt.Errorf("tolerance must be non-negative")
	}
	if s.Clock == "" {
		return fmt.Errorf("clock is required")
	}
	if _, err := parseTime(s.Clock); err != nil {
		return fmt.Errorf("clock: %w", err)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateTarget(target string) error {
	switch target {
	case "", targetStation, targetAuthority:
		return nil
	default:
		return fmt.Errorf("unknown target %q", target)
	}
}

// validateStep validates a single step based on its op.
func validateStep(index int, s *Step) error {
	if err := validateTarget(s.Target); err != nil {
		return fmt.Errorf("steps[%d]: %w", index, err)
	}
	if s.At != "" {
		if _, err := parseTime(s.At); err != nil {
			return fmt.Errorf("steps[%d]: at: %w", index, err)
		}
	}

	switch s.Op {
	case OpEnroll:
		if s.Identity == nil {
			return fmt.Errorf("steps[%d]: identity is required for enroll", index)
		}
	case OpMatch:
		if s.Embedding == nil {
			return fmt.Errorf("steps[%d]: embedding is required for match", index)
		}
	case OpScan:
		if len(s.Faces) == 0 {
			return fmt.Errorf("steps[%d]: faces are required for scan", index)
		}
	case OpRecord:
		if s.ID == 0 {
			return fmt.Errorf("steps[%d]: id is required for record", index)
		}
	case OpReindex, OpPush, OpImport:
	case "":
		return fmt.Errorf("steps[%d]: op is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", index, s.Op)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if err := validateTarget(a.Target); err != nil {
		return fmt.Errorf("assertions[%d]: %w", index, err)
	}

	switch a.Type {
	case AssertIdentities:
		if a.IDs == nil {
			return fmt.Errorf("assertions[%d]: ids is required for identities", index)
		}
	case AssertAttendance, AssertAudit:
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for %s", index, a.Type)
		}
	case AssertPending:
		if a.Identities == nil && a.Attendance == nil {
			return fmt.Errorf("assertions[%d]: identities or attendance is required for pending", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
