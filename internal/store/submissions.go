package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/timebridge/internal/model"
)

const submissionColumns = `id, entry_id, confirmation_id, status, submitted_at, error_message, attempt_count`

// RecordOutcome persists one booking attempt: the entry's new status and the
// upserted submission record, in a single transaction.
//
// The submission row is created on the first attempt and updated in place
// thereafter. attempt_count is incremented by the database itself
// (ON CONFLICT(entry_id) DO UPDATE), so it never decreases and a second row
// for the same entry cannot exist.
//
// The entry must currently be Mapped or Failed; otherwise a
// *model.TransitionError is returned and nothing is written.
func (s *Store) RecordOutcome(ctx context.Context, o model.Outcome) (model.Submission, error) {
	var sub model.Submission
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		e, err := s.getEntry(ctx, tx, o.EntryID)
		if err != nil {
			return err
		}
		if err := e.CheckTransition(o.EntryStatus); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, s.rebind(`UPDATE entries SET status = ? WHERE id = ? AND status = ?`),
			string(o.EntryStatus), o.EntryID, string(e.Status))
		if err != nil {
			return fmt.Errorf("update entry status: %w", err)
		}

		_, err = tx.ExecContext(ctx, s.rebind(`
			INSERT INTO submissions
			(entry_id, confirmation_id, status, submitted_at, error_message, attempt_count)
			VALUES (?, ?, ?, ?, ?, 1)
			ON CONFLICT(entry_id) DO UPDATE SET
				confirmation_id = excluded.confirmation_id,
				status = excluded.status,
				submitted_at = excluded.submitted_at,
				error_message = excluded.error_message,
				attempt_count = submissions.attempt_count + 1
		`),
			o.EntryID,
			o.ConfirmationID,
			string(o.Status),
			o.At,
			o.ErrorMessage,
		)
		if err != nil {
			return fmt.Errorf("upsert submission: %w", err)
		}

		sub, err = s.getSubmission(ctx, tx, o.EntryID)
		return err
	})
	if err != nil {
		return model.Submission{}, fmt.Errorf("record outcome for entry %d: %w", o.EntryID, err)
	}
	return sub, nil
}

// GetSubmission returns the submission record for an entry. ok is false
// when the entry has never been submitted.
func (s *Store) GetSubmission(ctx context.Context, entryID int64) (sub model.Submission, ok bool, err error) {
	sub, err = s.getSubmission(ctx, s.db, entryID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Submission{}, false, nil
	}
	if err != nil {
		return model.Submission{}, false, fmt.Errorf("get submission for entry %d: %w", entryID, err)
	}
	return sub, true, nil
}

// CountSubmissions returns the number of submission rows for an entry.
// Used by tests to check the one-record-per-entry invariant.
func (s *Store) CountSubmissions(ctx context.Context, entryID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM submissions WHERE entry_id = ?`), entryID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count submissions: %w", err)
	}
	return n, nil
}

func (s *Store) getSubmission(ctx context.Context, q querier, entryID int64) (model.Submission, error) {
	var (
		sub          model.Submission
		status       string
		confirmation sql.NullString
		errMsg       sql.NullString
	)
	err := q.QueryRowContext(ctx, s.rebind(`SELECT `+submissionColumns+` FROM submissions WHERE entry_id = ?`), entryID).Scan(
		&sub.ID,
		&sub.EntryID,
		&confirmation,
		&status,
		&sub.SubmittedAt,
		&errMsg,
		&sub.AttemptCount,
	)
	if err != nil {
		return model.Submission{}, err
	}
	sub.Status = model.SubmissionStatus(status)
	sub.ConfirmationID = nullString(confirmation)
	sub.ErrorMessage = nullString(errMsg)
	return sub, nil
}
