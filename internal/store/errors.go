package store

import "errors"

// Lookup failures. Callers test with errors.Is.
var (
	ErrSourceNotFound   = errors.New("source not found")
	ErrRuleNotFound     = errors.New("rule not found")
	ErrEntryNotFound    = errors.New("entry not found")
	ErrProjectNotFound  = errors.New("project not found")
	ErrTaskNotFound     = errors.New("task not found")
	ErrEmployeeNotFound = errors.New("employee mapping not found")
)
