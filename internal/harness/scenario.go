package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/timebridge/internal/model"
)

// DefaultNow is the scenario clock when a scenario does not set one.
var DefaultNow = time.Date(2024, 3, 16, 2, 0, 0, 0, time.UTC)

// Scenario describes one end-to-end pipeline run against a fresh database.
// Reference data is seeded first, then Steps run in order against fake
// external systems.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Now is the fixed clock (RFC 3339). Defaults to DefaultNow.
	Now string `yaml:"now,omitempty"`

	Sources   []SourceFixture   `yaml:"sources"`
	Projects  []ProjectFixture  `yaml:"projects,omitempty"`
	Employees []EmployeeFixture `yaml:"employees,omitempty"`
	Rules     []RuleFixture     `yaml:"rules,omitempty"`

	// Issues is the fake issue tracker, keyed by issue id. Worklogs that
	// reference an id not listed here fail enrichment.
	Issues map[int64]IssueFixture `yaml:"issues,omitempty"`

	// Users maps account ids to display names for worklog authors.
	Users map[string]string `yaml:"users,omitempty"`

	Booking BookingFixture `yaml:"booking,omitempty"`

	Steps []Step `yaml:"steps"`

	Expect *Expectation `yaml:"expect,omitempty"`
}

// SourceFixture seeds a source. Steps refer to sources by name.
type SourceFixture struct {
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind"`
	Token    string `yaml:"token,omitempty"`
	Disabled bool   `yaml:"disabled,omitempty"`
}

// ProjectFixture seeds a project and its tasks.
type ProjectFixture struct {
	ExternalID string        `yaml:"external_id"`
	Name       string        `yaml:"name"`
	Inactive   bool          `yaml:"inactive,omitempty"`
	Tasks      []TaskFixture `yaml:"tasks,omitempty"`
}

// TaskFixture seeds a task. ExternalID is what gets booked against.
type TaskFixture struct {
	ExternalID string `yaml:"external_id"`
	Name       string `yaml:"name"`
	Inactive   bool   `yaml:"inactive,omitempty"`
}

// EmployeeFixture seeds an account mapping.
type EmployeeFixture struct {
	AccountID    string `yaml:"account_id"`
	TargetUserID int64  `yaml:"target_user_id"`
}

// RuleFixture seeds a mapping rule. Project and Task are external ids.
type RuleFixture struct {
	Name     string `yaml:"name"`
	Field    string `yaml:"field"`
	Operator string `yaml:"operator"`
	Value    string `yaml:"value"`
	Priority int    `yaml:"priority"`
	Scope    string `yaml:"scope,omitempty"`
	Project  string `yaml:"project"`
	Task     string `yaml:"task,omitempty"`
	Disabled bool   `yaml:"disabled,omitempty"`
}

// IssueFixture is one issue of the fake issue tracker.
type IssueFixture struct {
	Key     string `yaml:"key"`
	Summary string `yaml:"summary,omitempty"`
	Project string `yaml:"project"`

	// Fields are custom fields, added to entry metadata in key order.
	Fields map[string]string `yaml:"fields,omitempty"`
}

// BookingFixture configures the fake booking API.
type BookingFixture struct {
	// Reject maps task external ids to a response body; bookings against
	// those tasks are answered with 400 and that body.
	Reject map[string]string `yaml:"reject,omitempty"`

	// Unavailable makes every booking fail at the transport level.
	Unavailable bool `yaml:"unavailable,omitempty"`
}

// Step is one pipeline action.
type Step struct {
	// Action is one of the Action* constants.
	Action string `yaml:"action"`

	// Source names the source for import steps.
	Source string `yaml:"source,omitempty"`

	// File and Content are the uploaded file for import_file.
	File    string `yaml:"file,omitempty"`
	Content string `yaml:"content,omitempty"`

	// From, To and Worklogs drive import_worklogs.
	From     string           `yaml:"from,omitempty"`
	To       string           `yaml:"to,omitempty"`
	Worklogs []WorklogFixture `yaml:"worklogs,omitempty"`

	// Entry is the entry id for map, ignore and submit_entry.
	Entry int64 `yaml:"entry,omitempty"`

	// Project and Task are external ids for map.
	Project string `yaml:"project,omitempty"`
	Task    string `yaml:"task,omitempty"`

	// Rule names the rule for apply_rule.
	Rule string `yaml:"rule,omitempty"`

	// ExpectError marks a step that must return an error.
	ExpectError bool `yaml:"expect_error,omitempty"`
}

// Step actions.
const (
	ActionImportFile     = "import_file"
	ActionImportWorklogs = "import_worklogs"
	ActionClassify       = "classify"
	ActionApplyRule      = "apply_rule"
	ActionMap            = "map"
	ActionIgnore         = "ignore"
	ActionSubmit         = "submit"
	ActionSubmitEntry    = "submit_entry"
)

var knownActions = map[string]struct{}{
	ActionImportFile:     {},
	ActionImportWorklogs: {},
	ActionClassify:       {},
	ActionApplyRule:      {},
	ActionMap:            {},
	ActionIgnore:         {},
	ActionSubmit:         {},
	ActionSubmitEntry:    {},
}

// WorklogFixture is one record served by the fake worklog API.
type WorklogFixture struct {
	ID          int64             `yaml:"id"`
	Issue       int64             `yaml:"issue,omitempty"`
	Account     string            `yaml:"account,omitempty"`
	Date        string            `yaml:"date"`
	Seconds     int               `yaml:"seconds"`
	Billable    int               `yaml:"billable,omitempty"`
	Description string            `yaml:"description,omitempty"`
	Attributes  map[string]string `yaml:"attributes,omitempty"`
}

// Expectation checks the final database state.
type Expectation struct {
	// Statuses maps status names to the expected entry count. Statuses not
	// listed are not checked.
	Statuses map[string]int `yaml:"statuses,omitempty"`

	// Bookings is the expected number of bookings sent, when set.
	Bookings *int `yaml:"bookings,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so that typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

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

// validateScenario checks references a run would otherwise trip over
// halfway through.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if len(s.Steps) == 0 {
		return errors.New("at least one step is required")
	}
	if s.Now != "" {
		if _, err := time.Parse(time.RFC3339, s.Now); err != nil {
			return fmt.Errorf("now: %w", err)
		}
	}

	sources := make(map[string]struct{}, len(s.Sources))
	for i, src := range s.Sources {
		if src.Name == "" {
			return fmt.Errorf("sources[%d]: name is required", i)
		}
		if _, err := model.ParseSourceKind(src.Kind); err != nil {
			return fmt.Errorf("sources[%d]: %w", i, err)
		}
		sources[src.Name] = struct{}{}
	}

	rules := make(map[string]struct{}, len(s.Rules))
	for i, r := range s.Rules {
		if _, err := model.ParseOperator(r.Operator); err != nil {
			return fmt.Errorf("rules[%d]: %w", i, err)
		}
		if r.Project == "" {
			return fmt.Errorf("rules[%d]: project is required", i)
		}
		rules[r.Name] = struct{}{}
	}

	for i, step := range s.Steps {
		if _, ok := knownActions[step.Action]; !ok {
			return fmt.Errorf("steps[%d]: unknown action %q", i, step.Action)
		}
		switch step.Action {
		case ActionImportFile, ActionImportWorklogs:
			if _, ok := sources[step.Source]; !ok {
				return fmt.Errorf("steps[%d]: unknown source %q", i, step.Source)
			}
		case ActionApplyRule:
			if _, ok := rules[step.Rule]; !ok {
				return fmt.Errorf("steps[%d]: unknown rule %q", i, step.Rule)
			}
		case ActionMap, ActionIgnore, ActionSubmitEntry:
			if step.Entry <= 0 {
				return fmt.Errorf("steps[%d]: entry is required", i)
			}
		}
		if step.Action == ActionImportFile && step.File == "" {
			return fmt.Errorf("steps[%d]: file is required", i)
		}
		if step.Action == ActionImportWorklogs {
			if _, err := model.ParseDate(step.From); err != nil {
				return fmt.Errorf("steps[%d]: from: %w", i, err)
			}
			if _, err := model.ParseDate(step.To); err != nil {
				return fmt.Errorf("steps[%d]: to: %w", i, err)
			}
		}
		if step.Action == ActionMap && step.Project == "" {
			return fmt.Errorf("steps[%d]: project is required", i)
		}
	}

	if s.Expect != nil {
		for name := range s.Expect.Statuses {
			if _, err := model.ParseStatus(name); err != nil {
				return fmt.Errorf("expect.statuses: %w", err)
			}
		}
	}
	return nil
}

func (s *Scenario) now() time.Time {
	if s.Now == "" {
		return DefaultNow
	}
	t, _ := time.Parse(time.RFC3339, s.Now)
	return t.UTC()
}
