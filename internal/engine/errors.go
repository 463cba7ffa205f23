package engine

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/roach88/timebridge/internal/model"
)

// RuleError reports a rule that can be stored but will never match as
// written.
type RuleError struct {
	// Code identifies the error category.
	Code RuleErrorCode

	// Field is the rule attribute at fault.
	Field string

	// Message is a human-readable description.
	Message string
}

// RuleErrorCode categorizes rule errors.
type RuleErrorCode string

const (
	// ErrCodeInvalidPattern indicates a regex rule whose pattern does not compile.
	ErrCodeInvalidPattern RuleErrorCode = "INVALID_PATTERN"

	// ErrCodeUnknownField indicates a match field the resolver does not know.
	ErrCodeUnknownField RuleErrorCode = "UNKNOWN_FIELD"

	// ErrCodeInvalidRule indicates a structurally invalid rule.
	ErrCodeInvalidRule RuleErrorCode = "INVALID_RULE"
)

// Error implements the error interface.
func (e *RuleError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Field, e.Message)
}

// IsInvalidPattern returns true if err is an invalid-pattern rule error.
// Uses errors.As to handle wrapped errors.
func IsInvalidPattern(err error) bool {
	var re *RuleError
	if errors.As(err, &re) {
		return re.Code == ErrCodeInvalidPattern
	}
	return false
}

// ValidateRule checks a rule before it is saved. Evaluation itself never
// fails: an invalid pattern or unknown field simply never matches, so this
// is where authors get told about it.
func ValidateRule(r *model.Rule) error {
	if err := r.Validate(); err != nil {
		var ve *model.ValidationError
		if errors.As(err, &ve) {
			return &RuleError{Code: ErrCodeInvalidRule, Field: ve.Field, Message: ve.Message}
		}
		return err
	}
	if !IsKnownField(r.MatchField) {
		return &RuleError{
			Code:    ErrCodeUnknownField,
			Field:   "match_field",
			Message: fmt.Sprintf("unknown field %q", r.MatchField),
		}
	}
	if r.Operator == model.OpRegex {
		if _, err := regexp.Compile("(?i)" + r.MatchValue); err != nil {
			return &RuleError{Code: ErrCodeInvalidPattern, Field: "match_value", Message: err.Error()}
		}
	}
	return nil
}
