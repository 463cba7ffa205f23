package model

import (
	"fmt"
	"time"
)

// SourceKind identifies the kind of system an entry was imported from.
type SourceKind string

const (
	SourceWorklogAPI SourceKind = "worklog_api"
	SourceUpload     SourceKind = "upload"
)

// Valid reports whether k is a known source kind.
func (k SourceKind) Valid() bool {
	return k == SourceWorklogAPI || k == SourceUpload
}

// ParseSourceKind validates a source kind string.
func ParseSourceKind(s string) (SourceKind, error) {
	k := SourceKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown source kind %q: must be %q or %q", s, SourceWorklogAPI, SourceUpload)
	}
	return k, nil
}

// Status is the lifecycle state of an Entry.
type Status string

const (
	StatusPending   Status = "pending"
	StatusMapped    Status = "mapped"
	StatusSubmitted Status = "submitted"
	StatusFailed    Status = "failed"
	StatusIgnored   Status = "ignored"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{StatusPending, StatusMapped, StatusSubmitted, StatusFailed, StatusIgnored}

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	for _, st := range AllStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// transitions is the forward-only lifecycle. Pending and Failed entries may
// also be mapped or ignored by hand.
var transitions = map[Status][]Status{
	StatusPending: {StatusMapped, StatusIgnored},
	StatusMapped:  {StatusSubmitted, StatusFailed},
	StatusFailed:  {StatusSubmitted, StatusFailed, StatusMapped, StatusIgnored},
}

// CanTransition reports whether an entry in status s may move to status to.
// Submitted and Ignored are terminal.
func (s Status) CanTransition(to Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// TransitionError reports a status change the lifecycle forbids.
type TransitionError struct {
	EntryID int64
	From    Status
	To      Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("entry %d: cannot move from %s to %s", e.EntryID, e.From, e.To)
}

// CheckTransition returns a *TransitionError if e may not move to status to.
func (e *Entry) CheckTransition(to Status) error {
	if !e.Status.CanTransition(to) {
		return &TransitionError{EntryID: e.ID, From: e.Status, To: to}
	}
	return nil
}

// Entry is the source-agnostic representation of one time record.
//
// (SourceID, ExternalID) is unique; ExternalID is the dedup key.
type Entry struct {
	ID                int64      `json:"id"`
	SourceID          int64      `json:"source_id"`
	SourceKind        SourceKind `json:"source_kind"`
	ExternalID        string     `json:"external_id"`
	UserIdentifier    string     `json:"user_identifier"`
	WorkDate          Date       `json:"work_date"`
	DurationSeconds   int        `json:"duration_seconds"`
	Description       string     `json:"description"`
	ProjectKey        *string    `json:"project_key,omitempty"`
	IssueKey          *string    `json:"issue_key,omitempty"`
	Activity          *string    `json:"activity,omitempty"`
	Metadata          Metadata   `json:"metadata,omitempty"`
	Status            Status     `json:"status"`
	AssignedProjectID *int64     `json:"assigned_project_id,omitempty"`
	AssignedTaskID    *int64     `json:"assigned_task_id,omitempty"`
	MatchedRuleID     *int64     `json:"matched_rule_id,omitempty"`
	ImportedAt        time.Time  `json:"imported_at"`
}

// Hours returns the duration in decimal hours rounded to two places.
func (e *Entry) Hours() float64 {
	return RoundHours(e.DurationSeconds)
}

// RoundHours converts seconds to decimal hours rounded half away from zero
// to two places.
func RoundHours(seconds int) float64 {
	hundredths := (int64(seconds)*100*2 + 3600) / (3600 * 2)
	if seconds < 0 {
		hundredths = -((int64(-seconds)*100*2 + 3600) / (3600 * 2))
	}
	return float64(hundredths) / 100
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 {
	return &v
}

// Deref returns *p, or "" when p is nil.
func Deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
