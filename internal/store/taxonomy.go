package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/timebridge/internal/model"
)

const (
	projectColumns = `id, external_id, name, description, is_active, last_synced_at`
	taskColumns    = `id, project_id, external_id, name, is_active, last_synced_at`
)

// UpsertProject inserts or updates a project keyed by external id and
// returns its local id.
func (s *Store) UpsertProject(ctx context.Context, p model.Project) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, s.rebind(`
		INSERT INTO projects (external_id, name, description, is_active, last_synced_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			is_active = excluded.is_active,
			last_synced_at = excluded.last_synced_at
		RETURNING id
	`), p.ExternalID, p.Name, p.Description, p.IsActive, p.LastSyncedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert project %q: %w", p.ExternalID, err)
	}
	return id, nil
}

// UpsertTask inserts or updates a task keyed by (project, external id) and
// returns its local id.
func (s *Store) UpsertTask(ctx context.Context, t model.Task) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, s.rebind(`
		INSERT INTO tasks (project_id, external_id, name, is_active, last_synced_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(project_id, external_id) DO UPDATE SET
			name = excluded.name,
			is_active = excluded.is_active,
			last_synced_at = excluded.last_synced_at
		RETURNING id
	`), t.ProjectID, t.ExternalID, t.Name, t.IsActive, t.LastSyncedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert task %q: %w", t.ExternalID, err)
	}
	return id, nil
}

// DeactivateProjectsExcept marks every active project whose external id is
// not in keep as inactive. Returns the number deactivated.
func (s *Store) DeactivateProjectsExcept(ctx context.Context, keep []string, at time.Time) (int, error) {
	query := `UPDATE projects SET is_active = ?, last_synced_at = ? WHERE is_active = ?`
	args := []any{false, at, true}
	if len(keep) > 0 {
		query += ` AND external_id NOT IN (` + placeholders(len(keep)) + `)`
		for _, k := range keep {
			args = append(args, k)
		}
	}
	return s.execCount(ctx, "deactivate projects", query, args...)
}

// DeactivateTasksExcept marks every active task of a project whose external
// id is not in keep as inactive. Returns the number deactivated.
func (s *Store) DeactivateTasksExcept(ctx context.Context, projectID int64, keep []string, at time.Time) (int, error) {
	query := `UPDATE tasks SET is_active = ?, last_synced_at = ? WHERE project_id = ? AND is_active = ?`
	args := []any{false, at, projectID, true}
	if len(keep) > 0 {
		query += ` AND external_id NOT IN (` + placeholders(len(keep)) + `)`
		for _, k := range keep {
			args = append(args, k)
		}
	}
	return s.execCount(ctx, "deactivate tasks", query, args...)
}

func (s *Store) execCount(ctx context.Context, op, query string, args ...any) (int, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: rows affected: %w", op, err)
	}
	return int(n), nil
}

// GetProject returns the project with the given local id.
func (s *Store) GetProject(ctx context.Context, id int64) (model.Project, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+projectColumns+` FROM projects WHERE id = ?`), id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Project{}, fmt.Errorf("project %d: %w", id, ErrProjectNotFound)
	}
	if err != nil {
		return model.Project{}, fmt.Errorf("get project %d: %w", id, err)
	}
	return p, nil
}

// ProjectByExternalID returns the project mirrored from the target
// system's id externalID.
func (s *Store) ProjectByExternalID(ctx context.Context, externalID string) (model.Project, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+projectColumns+` FROM projects WHERE external_id = ?`), externalID)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Project{}, fmt.Errorf("project %q: %w", externalID, ErrProjectNotFound)
	}
	if err != nil {
		return model.Project{}, fmt.Errorf("get project %q: %w", externalID, err)
	}
	return p, nil
}

// ListProjects returns projects ordered by name. activeOnly drops retired
// ones.
func (s *Store) ListProjects(ctx context.Context, activeOnly bool) ([]model.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects`
	var args []any
	if activeOnly {
		query += ` WHERE is_active = ?`
		args = append(args, true)
	}
	query += ` ORDER BY name, id`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []model.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("list projects: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return projects, nil
}

// GetTask returns the task with the given local id.
func (s *Store) GetTask(ctx context.Context, id int64) (model.Task, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`), id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Task{}, fmt.Errorf("task %d: %w", id, ErrTaskNotFound)
	}
	if err != nil {
		return model.Task{}, fmt.Errorf("get task %d: %w", id, err)
	}
	return t, nil
}

// TaskByExternalID returns the task with the given external id under a
// local project.
func (s *Store) TaskByExternalID(ctx context.Context, projectID int64, externalID string) (model.Task, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+taskColumns+` FROM tasks WHERE project_id = ? AND external_id = ?`), projectID, externalID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Task{}, fmt.Errorf("task %q: %w", externalID, ErrTaskNotFound)
	}
	if err != nil {
		return model.Task{}, fmt.Errorf("get task %q: %w", externalID, err)
	}
	return t, nil
}

// ListTasks returns the tasks of a project ordered by name.
func (s *Store) ListTasks(ctx context.Context, projectID int64) ([]model.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT `+taskColumns+` FROM tasks WHERE project_id = ? ORDER BY name, id`), projectID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("list tasks: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

func scanProject(row rowScanner) (model.Project, error) {
	var (
		p    model.Project
		desc sql.NullString
	)
	if err := row.Scan(&p.ID, &p.ExternalID, &p.Name, &desc, &p.IsActive, &p.LastSyncedAt); err != nil {
		return model.Project{}, err
	}
	p.Description = nullString(desc)
	return p, nil
}

func scanTask(row rowScanner) (model.Task, error) {
	var t model.Task
	if err := row.Scan(&t.ID, &t.ProjectID, &t.ExternalID, &t.Name, &t.IsActive, &t.LastSyncedAt); err != nil {
		return model.Task{}, err
	}
	return t, nil
}
