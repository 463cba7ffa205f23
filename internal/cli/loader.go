package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"

	"github.com/roach88/timebridge/internal/engine"
	"github.com/roach88/timebridge/internal/model"
)

// LoadMode controls how errors are handled during rule loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// RuleSpec is one rule as written in a rule file. Project and Task are
// external ids of the time-registration system.
type RuleSpec struct {
	Name     string `json:"name" yaml:"name"`
	Field    string `json:"field" yaml:"field"`
	Operator string `json:"operator" yaml:"operator"`
	Value    string `json:"value" yaml:"value"`
	Project  string `json:"project" yaml:"project"`
	Task     string `json:"task,omitempty" yaml:"task,omitempty"`
	Priority *int   `json:"priority,omitempty" yaml:"priority,omitempty"`
	Scope    string `json:"scope,omitempty" yaml:"scope,omitempty"`
	Enabled  *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// LoadResult contains the rules read from a rule file, in file order.
type LoadResult struct {
	Rules  []RuleSpec
	Format string // "cue" | "yaml"
}

// LoadError represents an error that occurred during rule loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ruleSchema closes #Rule so that misspelled attributes are rejected.
const ruleSchema = `
#Rule: {
	field:     string & !=""
	operator:  string & !=""
	value:     string
	project:   string & !=""
	task?:     string
	priority?: int & >=0
	scope?:    "worklog_api" | "upload"
	enabled?:  bool
}

rule: [string]: #Rule
`

// ruleFile is the YAML rule file layout.
type ruleFile struct {
	Rules []RuleSpec `yaml:"rules"`
}

// LoadRules reads a .cue or .yaml rule file and checks every rule.
// If mode is LoadModeFailFast, returns on first error.
// If mode is LoadModeCollectAll, collects all errors.
//
// CUE files declare rules as fields of a top-level "rule" struct keyed by
// rule name:
//
//	rule: "acme-issues": {
//		field:    "issueKey"
//		operator: "starts_with"
//		value:    "ACME-"
//		project:  "100"
//		task:     "9001"
//	}
//
// YAML files hold a "rules" list whose items carry a name.
func LoadRules(path string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("rule file not found: %s", path)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing rule file: %v", err)}}
	}
	if info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a file: %s", path)}}
	}

	var result *LoadResult
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		result, err = loadCUERules(path)
	case ".yaml", ".yml":
		result, err = loadYAMLRules(path)
	default:
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("unsupported rule file %s: use .cue, .yaml or .yml", path)}}
	}
	if err != nil {
		return nil, []error{err}
	}
	if len(result.Rules) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no rules found in %s", path)}}
	}

	var errs []error
	seen := make(map[string]struct{}, len(result.Rules))
	for _, spec := range result.Rules {
		if _, dup := seen[spec.Name]; dup {
			errs = append(errs, &LoadError{Code: ErrCodeRuleDuplicate, Message: fmt.Sprintf("rule %q: defined more than once", spec.Name)})
		} else {
			seen[spec.Name] = struct{}{}
			if err := checkRuleSpec(spec); err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 && mode == LoadModeFailFast {
			return result, errs
		}
	}
	return result, errs
}

func loadCUERules(path string) (*LoadResult, error) {
	ctx := cuecontext.New()
	cfg := &load.Config{Dir: filepath.Dir(path)}
	instances := load.Instances([]string{filepath.Base(path)}, cfg)
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE file: %v", inst.Err)}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}

	schema := ctx.CompileString(ruleSchema)
	unified := schema.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, schemaError(err)
	}

	result := &LoadResult{Format: "cue"}
	rulesVal := unified.LookupPath(cue.ParsePath("rule"))
	if !rulesVal.Exists() {
		return result, nil
	}
	iter, err := rulesVal.Fields()
	if err != nil {
		return nil, &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating rules: %v", err)}
	}
	for iter.Next() {
		var spec RuleSpec
		if err := iter.Value().Decode(&spec); err != nil {
			return nil, &LoadError{Code: ErrCodeRuleSchema, Message: fmt.Sprintf("rule %q: %v", iter.Label(), err), Pos: iter.Value().Pos()}
		}
		spec.Name = iter.Label()
		result.Rules = append(result.Rules, spec)
	}
	return result, nil
}

// schemaError converts the first CUE validation error, keeping its position.
func schemaError(err error) *LoadError {
	list := cueerrors.Errors(err)
	if len(list) == 0 {
		return &LoadError{Code: ErrCodeRuleSchema, Message: err.Error()}
	}
	first := list[0]
	format, args := first.Msg()
	msg := fmt.Sprintf(format, args...)
	if p := first.Path(); len(p) > 0 {
		msg = strings.Join(p, ".") + ": " + msg
	}
	return &LoadError{Code: ErrCodeRuleSchema, Message: msg, Pos: first.Position()}
}

func loadYAMLRules(path string) (*LoadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("reading rule file: %v", err)}
	}

	var file ruleFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("parsing YAML: %v", err)}
	}

	for i, spec := range file.Rules {
		if strings.TrimSpace(spec.Name) == "" {
			return nil, &LoadError{Code: ErrCodeRuleSchema, Message: fmt.Sprintf("rules[%d]: name is required", i)}
		}
		if spec.Priority != nil && *spec.Priority < 0 {
			return nil, &LoadError{Code: ErrCodeRuleSchema, Message: fmt.Sprintf("rule %q: priority must not be negative", spec.Name)}
		}
	}
	return &LoadResult{Rules: file.Rules, Format: "yaml"}, nil
}

// checkRuleSpec applies the checks that do not need the database.
func checkRuleSpec(spec RuleSpec) *LoadError {
	if strings.TrimSpace(spec.Project) == "" {
		return &LoadError{Code: ErrCodeRuleTarget, Message: fmt.Sprintf("rule %q: project is required", spec.Name)}
	}
	if _, err := model.ParseOperator(spec.Operator); err != nil {
		return &LoadError{Code: ErrCodeRuleOperator, Message: fmt.Sprintf("rule %q: %v", spec.Name, err)}
	}
	if spec.Scope != "" {
		if _, err := model.ParseSourceKind(spec.Scope); err != nil {
			return &LoadError{Code: ErrCodeRuleScope, Message: fmt.Sprintf("rule %q: %v", spec.Name, err)}
		}
	}
	if !engine.IsKnownField(spec.Field) {
		return &LoadError{Code: ErrCodeRuleField, Message: fmt.Sprintf("rule %q: unknown field %q", spec.Name, spec.Field)}
	}
	return nil
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No rules or scenarios found
	ErrCodeLoadFailed  = "E004" // Rule file load failed
	ErrCodeNotFound    = "E005" // Path or record not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeWriteFailed = "E007" // File write error

	// Rule validation errors
	ErrCodeRuleSchema    = "E101" // Rule does not fit the schema
	ErrCodeRuleOperator  = "E102" // Unknown operator
	ErrCodeRuleTarget    = "E103" // Missing or unknown project/task
	ErrCodeRuleScope     = "E104" // Unknown source scope
	ErrCodeRuleField     = "E105" // Unknown match field
	ErrCodeRuleDuplicate = "E106" // Rule name used twice
	ErrCodeRulePattern   = "E107" // Regex does not compile

	// Operation errors
	ErrCodeConfig          = "E201" // Missing credential or invalid setting
	ErrCodeInvalidInput    = "E202" // Bad argument value
	ErrCodeSourceKind      = "E203" // Operation does not fit the source kind
	ErrCodeUnsupportedFile = "E204" // Upload format not supported
	ErrCodeInvalidState    = "E301" // Entry status forbids the operation
	ErrCodeRemote          = "E302" // External API rejected the request
)

// MapRuleErrorCode maps an engine rule error code to a CLI error code.
func MapRuleErrorCode(code engine.RuleErrorCode) string {
	switch code {
	case engine.ErrCodeInvalidPattern:
		return ErrCodeRulePattern
	case engine.ErrCodeUnknownField:
		return ErrCodeRuleField
	case engine.ErrCodeInvalidRule:
		return ErrCodeRuleSchema
	default:
		return ErrCodeGeneric
	}
}
