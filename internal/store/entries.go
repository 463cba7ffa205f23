package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/timebridge/internal/model"
)

const entryColumns = `e.id, e.source_id, s.kind, e.external_id, e.user_identifier, e.work_date,
	e.duration_seconds, e.description, e.project_key, e.issue_key, e.activity, e.metadata,
	e.status, e.assigned_project_id, e.assigned_task_id, e.matched_rule_id, e.imported_at`

const entryFrom = ` FROM entries e JOIN sources s ON s.id = e.source_id`

// ExternalIDs returns the set of external ids already imported for a source.
func (s *Store) ExternalIDs(ctx context.Context, sourceID int64) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT external_id FROM entries WHERE source_id = ?`), sourceID)
	if err != nil {
		return nil, fmt.Errorf("external ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("external ids: %w", err)
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("external ids: %w", err)
	}
	return ids, nil
}

// InsertEntries writes new entries as Pending in one transaction.
//
// Uses ON CONFLICT(source_id, external_id) DO NOTHING so that a concurrent
// or repeated import can never create a second row for the same record.
// Rows rejected by the constraint are counted as skipped.
func (s *Store) InsertEntries(ctx context.Context, entries []model.Entry) (inserted, skipped int, err error) {
	if len(entries) == 0 {
		return 0, 0, nil
	}

	query := s.rebind(`
		INSERT INTO entries
		(source_id, external_id, user_identifier, work_date, duration_seconds, description,
		 project_key, issue_key, activity, metadata, status, imported_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id, external_id) DO NOTHING
		RETURNING id
	`)

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		for i := range entries {
			e := &entries[i]
			var id int64
			scanErr := tx.QueryRowContext(ctx, query,
				e.SourceID,
				e.ExternalID,
				e.UserIdentifier,
				e.WorkDate,
				e.DurationSeconds,
				e.Description,
				e.ProjectKey,
				e.IssueKey,
				e.Activity,
				e.Metadata,
				string(model.StatusPending),
				e.ImportedAt,
			).Scan(&id)
			if errors.Is(scanErr, sql.ErrNoRows) {
				skipped++
				continue
			}
			if scanErr != nil {
				return fmt.Errorf("entry %q: %w", e.ExternalID, scanErr)
			}
			e.ID = id
			e.Status = model.StatusPending
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("insert entries: %w", err)
	}
	return inserted, skipped, nil
}

// GetEntry returns the entry with the given id, or ErrEntryNotFound.
func (s *Store) GetEntry(ctx context.Context, id int64) (model.Entry, error) {
	return s.getEntry(ctx, s.db, id)
}

func (s *Store) getEntry(ctx context.Context, q querier, id int64) (model.Entry, error) {
	row := q.QueryRowContext(ctx, s.rebind(`SELECT `+entryColumns+entryFrom+` WHERE e.id = ?`), id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Entry{}, fmt.Errorf("entry %d: %w", id, ErrEntryNotFound)
	}
	if err != nil {
		return model.Entry{}, fmt.Errorf("get entry %d: %w", id, err)
	}
	return e, nil
}

// EntryFilter narrows ListEntries. Zero values mean "no restriction".
type EntryFilter struct {
	Statuses []model.Status
	SourceID int64
	Limit    int
	Offset   int
}

// ListEntries returns entries matching f, newest work date first.
func (s *Store) ListEntries(ctx context.Context, f EntryFilter) ([]model.Entry, error) {
	var (
		where []string
		args  []any
	)
	if len(f.Statuses) > 0 {
		where = append(where, "e.status IN ("+placeholders(len(f.Statuses))+")")
		for _, st := range f.Statuses {
			args = append(args, string(st))
		}
	}
	if f.SourceID != 0 {
		where = append(where, "e.source_id = ?")
		args = append(args, f.SourceID)
	}

	query := `SELECT ` + entryColumns + entryFrom
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY e.work_date DESC, e.id DESC"
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}

	return s.queryEntries(ctx, s.db, query, args...)
}

// EntriesByStatus returns entries in any of the given statuses, oldest
// first by id.
func (s *Store) EntriesByStatus(ctx context.Context, statuses ...model.Status) ([]model.Entry, error) {
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}
	return s.queryEntries(ctx, s.db,
		`SELECT `+entryColumns+entryFrom+` WHERE e.status IN (`+placeholders(len(statuses))+`) ORDER BY e.id`,
		args...)
}

// SubmittableEntries returns Mapped or Failed entries that carry an
// assigned task, oldest first.
func (s *Store) SubmittableEntries(ctx context.Context) ([]model.Entry, error) {
	return s.queryEntries(ctx, s.db,
		`SELECT `+entryColumns+entryFrom+`
		 WHERE e.status IN (?, ?) AND e.assigned_task_id IS NOT NULL
		 ORDER BY e.id`,
		string(model.StatusMapped), string(model.StatusFailed))
}

// CountByStatus returns the number of entries per status.
func (s *Store) CountByStatus(ctx context.Context) (map[model.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM entries GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count entries: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.Status]int)
	for rows.Next() {
		var (
			st string
			n  int
		)
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("count entries: %w", err)
		}
		counts[model.Status(st)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count entries: %w", err)
	}
	return counts, nil
}

// Assignment is a rule match to persist on a pending entry.
type Assignment struct {
	EntryID   int64
	ProjectID int64
	TaskID    *int64
	RuleID    int64
}

// ApplyAssignments marks pending entries Mapped in one transaction.
// The UPDATE is guarded by status = 'pending', so an entry that left
// Pending since it was read is left alone and not counted.
func (s *Store) ApplyAssignments(ctx context.Context, assignments []Assignment) (int, error) {
	if len(assignments) == 0 {
		return 0, nil
	}

	query := s.rebind(`
		UPDATE entries
		SET status = ?, assigned_project_id = ?, assigned_task_id = ?, matched_rule_id = ?
		WHERE id = ? AND status = ?
	`)

	mapped := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, a := range assignments {
			res, err := tx.ExecContext(ctx, query,
				string(model.StatusMapped),
				a.ProjectID,
				a.TaskID,
				a.RuleID,
				a.EntryID,
				string(model.StatusPending),
			)
			if err != nil {
				return fmt.Errorf("entry %d: %w", a.EntryID, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("entry %d: rows affected: %w", a.EntryID, err)
			}
			mapped += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("apply assignments: %w", err)
	}
	return mapped, nil
}

// MapEntry assigns a project (and optionally a task) by hand. Only Pending
// and Failed entries can be mapped; any other status yields a
// *model.TransitionError.
func (s *Store) MapEntry(ctx context.Context, id, projectID int64, taskID *int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		e, err := s.getEntry(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := e.CheckTransition(model.StatusMapped); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, s.rebind(`
			UPDATE entries
			SET status = ?, assigned_project_id = ?, assigned_task_id = ?, matched_rule_id = NULL
			WHERE id = ? AND status = ?
		`), string(model.StatusMapped), projectID, taskID, id, string(e.Status))
		if err != nil {
			return fmt.Errorf("map entry %d: %w", id, err)
		}
		return nil
	})
}

// IgnoreEntry marks an entry Ignored. Only Pending and Failed entries can be
// ignored.
func (s *Store) IgnoreEntry(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		e, err := s.getEntry(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := e.CheckTransition(model.StatusIgnored); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, s.rebind(`UPDATE entries SET status = ? WHERE id = ? AND status = ?`),
			string(model.StatusIgnored), id, string(e.Status))
		if err != nil {
			return fmt.Errorf("ignore entry %d: %w", id, err)
		}
		return nil
	})
}

func (s *Store) queryEntries(ctx context.Context, q querier, query string, args ...any) ([]model.Entry, error) {
	rows, err := q.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []model.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("query entries: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	return entries, nil
}

func scanEntry(row rowScanner) (model.Entry, error) {
	var (
		e                    model.Entry
		kind, status         string
		projectKey, issueKey sql.NullString
		activity, metadata   sql.NullString
		projectID, taskID    sql.NullInt64
		ruleID               sql.NullInt64
	)
	err := row.Scan(
		&e.ID,
		&e.SourceID,
		&kind,
		&e.ExternalID,
		&e.UserIdentifier,
		&e.WorkDate,
		&e.DurationSeconds,
		&e.Description,
		&projectKey,
		&issueKey,
		&activity,
		&metadata,
		&status,
		&projectID,
		&taskID,
		&ruleID,
		&e.ImportedAt,
	)
	if err != nil {
		return model.Entry{}, err
	}

	e.SourceKind = model.SourceKind(kind)
	e.Status = model.Status(status)
	e.ProjectKey = nullString(projectKey)
	e.IssueKey = nullString(issueKey)
	e.Activity = nullString(activity)
	e.AssignedProjectID = nullInt64(projectID)
	e.AssignedTaskID = nullInt64(taskID)
	e.MatchedRuleID = nullInt64(ruleID)

	if metadata.Valid {
		md, err := model.ParseMetadata([]byte(metadata.String))
		if err != nil {
			// Unparsable metadata reads as an empty bag: fields resolve to no value.
			slog.Debug("ignoring malformed entry metadata",
				"entry_id", e.ID,
				"error", err,
			)
		} else {
			e.Metadata = md
		}
	}
	return e, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullInt64(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}

// placeholders returns n comma-separated ? placeholders.
func placeholders(n int) string {
	if n <= 0 {
		return "NULL"
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
