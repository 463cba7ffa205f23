package harness

import "github.com/roach88/timebridge/internal/connector/timelog"

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is false when a step failed or an expectation did not hold.
	Pass bool `json:"pass"`

	Errors []string `json:"errors,omitempty"`

	// Steps holds one outcome per scenario step, in order.
	Steps []StepOutcome `json:"steps"`

	// Entries is the final state of every entry, ordered by id.
	Entries []EntrySnapshot `json:"entries"`

	// Bookings are the requests the fake booking API received, in order.
	Bookings []timelog.TimeRegistration `json:"bookings"`
}

// StepOutcome records what one step reported.
type StepOutcome struct {
	Action string `json:"action"`

	Total    int      `json:"total,omitempty"`
	Imported int      `json:"imported,omitempty"`
	Skipped  int      `json:"skipped,omitempty"`
	Mapped   int      `json:"mapped,omitempty"`
	Problems []string `json:"problems,omitempty"`

	Attempted int `json:"attempted,omitempty"`
	Succeeded int `json:"succeeded,omitempty"`
	Failed    int `json:"failed,omitempty"`

	// Outcome is the single-entry submission result.
	Outcome string `json:"outcome,omitempty"`

	// Error is set when the step returned an error.
	Error string `json:"error,omitempty"`
}

// EntrySnapshot is the observable state of one entry. Timestamps and
// content-derived external ids are left out.
type EntrySnapshot struct {
	ID          int64  `json:"id"`
	Source      string `json:"source"`
	User        string `json:"user"`
	WorkDate    string `json:"work_date"`
	Seconds     int    `json:"seconds"`
	Description string `json:"description,omitempty"`
	IssueKey    string `json:"issue_key,omitempty"`
	Status      string `json:"status"`
	Project     string `json:"project,omitempty"`
	Task        string `json:"task,omitempty"`
	Rule        string `json:"rule,omitempty"`

	Attempts     int    `json:"attempts,omitempty"`
	Confirmation string `json:"confirmation,omitempty"`
	LastError    string `json:"last_error,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Steps:    []StepOutcome{},
		Entries:  []EntrySnapshot{},
		Bookings: []timelog.TimeRegistration{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
