package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/timebridge/internal/model"
)

const employeeColumns = `id, account_id, display_name, target_user_id, target_user_name, created_at, updated_at`

// UpsertEmployeeMapping creates or updates the mapping for an account id.
func (s *Store) UpsertEmployeeMapping(ctx context.Context, m model.EmployeeMapping) (int64, error) {
	now := s.now()
	var id int64
	err := s.db.QueryRowContext(ctx, s.rebind(`
		INSERT INTO employee_mappings
		(account_id, display_name, target_user_id, target_user_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			display_name = excluded.display_name,
			target_user_id = excluded.target_user_id,
			target_user_name = excluded.target_user_name,
			updated_at = excluded.updated_at
		RETURNING id
	`), m.AccountID, m.DisplayName, m.TargetUserID, m.TargetUserName, now, now).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert employee mapping %q: %w", m.AccountID, err)
	}
	return id, nil
}

// EmployeeMappingFor returns the mapping for a source account id. ok is
// false when the account is unmapped.
func (s *Store) EmployeeMappingFor(ctx context.Context, accountID string) (m model.EmployeeMapping, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+employeeColumns+` FROM employee_mappings WHERE account_id = ?`), accountID)
	m, err = scanEmployee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.EmployeeMapping{}, false, nil
	}
	if err != nil {
		return model.EmployeeMapping{}, false, fmt.Errorf("employee mapping %q: %w", accountID, err)
	}
	return m, true, nil
}

// ListEmployeeMappings returns all mappings ordered by account id.
func (s *Store) ListEmployeeMappings(ctx context.Context) ([]model.EmployeeMapping, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+employeeColumns+` FROM employee_mappings ORDER BY account_id`)
	if err != nil {
		return nil, fmt.Errorf("list employee mappings: %w", err)
	}
	defer rows.Close()

	var out []model.EmployeeMapping
	for rows.Next() {
		m, err := scanEmployee(rows)
		if err != nil {
			return nil, fmt.Errorf("list employee mappings: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list employee mappings: %w", err)
	}
	return out, nil
}

// DeleteEmployeeMapping removes a mapping by local id.
func (s *Store) DeleteEmployeeMapping(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM employee_mappings WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete employee mapping: %w", err)
	}
	return requireAffected(res, fmt.Errorf("employee mapping %d: %w", id, ErrEmployeeNotFound))
}

// UnmappedAccountIDs returns the distinct account-style user identifiers
// (those containing ':') seen on entries that have no employee mapping.
func (s *Store) UnmappedAccountIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT e.user_identifier
		FROM entries e
		LEFT JOIN employee_mappings m ON m.account_id = e.user_identifier
		WHERE m.id IS NULL AND e.user_identifier LIKE '%:%'
		ORDER BY e.user_identifier
	`)
	if err != nil {
		return nil, fmt.Errorf("unmapped account ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("unmapped account ids: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("unmapped account ids: %w", err)
	}
	return ids, nil
}

func scanEmployee(row rowScanner) (model.EmployeeMapping, error) {
	var (
		m                   model.EmployeeMapping
		display, targetName sql.NullString
	)
	err := row.Scan(&m.ID, &m.AccountID, &display, &m.TargetUserID, &targetName, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return model.EmployeeMapping{}, err
	}
	m.DisplayName = nullString(display)
	m.TargetUserName = nullString(targetName)
	return m, nil
}
