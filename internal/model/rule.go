package model

import (
	"fmt"
	"strings"
	"time"
)

// Operator is the comparison a Rule applies to its resolved field.
type Operator string

const (
	OpEquals     Operator = "equals"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "starts_with"
	OpRegex      Operator = "regex"
)

// Operators lists every operator.
var Operators = []Operator{OpEquals, OpContains, OpStartsWith, OpRegex}

// Valid reports whether op is a known operator.
func (op Operator) Valid() bool {
	for _, known := range Operators {
		if op == known {
			return true
		}
	}
	return false
}

// ParseOperator accepts the canonical names case-insensitively, plus the
// CamelCase spellings ("StartsWith") used in hand-written rule files.
func ParseOperator(s string) (Operator, error) {
	key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", ""))
	switch key {
	case "equals":
		return OpEquals, nil
	case "contains":
		return OpContains, nil
	case "startswith":
		return OpStartsWith, nil
	case "regex":
		return OpRegex, nil
	}
	return "", fmt.Errorf("unknown operator %q: must be one of %v", s, Operators)
}

// Rule is a user-authored classification predicate plus its target.
//
// Rules are evaluated in ascending Priority; ties keep input order.
type Rule struct {
	ID          int64       `json:"id"`
	Name        string      `json:"name"`
	SourceScope *SourceKind `json:"source_scope,omitempty"`
	MatchField  string      `json:"match_field"`
	Operator    Operator    `json:"operator"`
	MatchValue  string      `json:"match_value"`
	Priority    int         `json:"priority"`
	Enabled     bool        `json:"enabled"`
	ProjectID   int64       `json:"project_id"`
	TaskID      *int64      `json:"task_id,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// AppliesTo reports whether the rule's scope admits entries of kind k.
// An unscoped rule applies to every kind.
func (r *Rule) AppliesTo(k SourceKind) bool {
	return r.SourceScope == nil || *r.SourceScope == k
}

// Validate checks the fields a rule needs to be evaluated.
func (r *Rule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return &ValidationError{Field: "name", Message: "is required"}
	}
	if strings.TrimSpace(r.MatchField) == "" {
		return &ValidationError{Field: "match_field", Message: "is required"}
	}
	if !r.Operator.Valid() {
		return &ValidationError{Field: "operator", Message: fmt.Sprintf("unknown operator %q", r.Operator)}
	}
	if r.SourceScope != nil && !r.SourceScope.Valid() {
		return &ValidationError{Field: "source_scope", Message: fmt.Sprintf("unknown source kind %q", *r.SourceScope)}
	}
	if r.ProjectID <= 0 {
		return &ValidationError{Field: "project_id", Message: "is required"}
	}
	return nil
}

// ValidationError reports an invalid field on a model value.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
