package model

import "time"

// SubmissionStatus is the outcome of the latest booking attempt.
type SubmissionStatus string

const (
	SubmissionSuccess  SubmissionStatus = "success"
	SubmissionFailed   SubmissionStatus = "failed"
	SubmissionRetrying SubmissionStatus = "retrying"
)

// Submission is the audit of booking attempts for one entry.
//
// There is at most one Submission per entry. It is created on the first
// attempt and updated in place; AttemptCount never decreases.
type Submission struct {
	ID             int64            `json:"id"`
	EntryID        int64            `json:"entry_id"`
	ConfirmationID *string          `json:"confirmation_id,omitempty"`
	Status         SubmissionStatus `json:"status"`
	SubmittedAt    time.Time        `json:"submitted_at"`
	ErrorMessage   *string          `json:"error_message,omitempty"`
	AttemptCount   int              `json:"attempt_count"`
}

// Outcome is the result of one booking attempt, applied to an entry and its
// submission record together.
type Outcome struct {
	EntryID        int64
	EntryStatus    Status
	Status         SubmissionStatus
	ConfirmationID *string
	ErrorMessage   *string
	At             time.Time
}

// SucceededOutcome builds the outcome of an accepted booking.
func SucceededOutcome(entryID int64, confirmationID string, at time.Time) Outcome {
	return Outcome{
		EntryID:        entryID,
		EntryStatus:    StatusSubmitted,
		Status:         SubmissionSuccess,
		ConfirmationID: &confirmationID,
		At:             at,
	}
}

// FailedOutcome builds the outcome of a rejected or failed booking.
func FailedOutcome(entryID int64, message string, at time.Time) Outcome {
	return Outcome{
		EntryID:      entryID,
		EntryStatus:  StatusFailed,
		Status:       SubmissionFailed,
		ErrorMessage: &message,
		At:           at,
	}
}
