// Package taxonomy mirrors the target system's projects, tasks and users
// into the local store.
package taxonomy

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/roach88/timebridge/internal/connector/timelog"
	"github.com/roach88/timebridge/internal/model"
	"github.com/roach88/timebridge/internal/store"
)

// Catalog lists the target system's reference data.
type Catalog interface {
	Projects(ctx context.Context) ([]timelog.Project, error)
	Tasks(ctx context.Context, projectID int) ([]timelog.Task, error)
}

// Stats counts what a Sync changed.
type Stats struct {
	Projects        int `json:"projects"`
	Tasks           int `json:"tasks"`
	RetiredProjects int `json:"retired_projects"`
	RetiredTasks    int `json:"retired_tasks"`
}

// Syncer upserts the catalog into the store.
type Syncer struct {
	store   *store.Store
	catalog Catalog
	now     func() time.Time
}

// SyncerOption configures a Syncer.
type SyncerOption func(*Syncer)

// WithClock sets the time stamped as last_synced_at.
func WithClock(now func() time.Time) SyncerOption {
	return func(s *Syncer) {
		s.now = now
	}
}

// NewSyncer returns a Syncer reading from c.
func NewSyncer(st *store.Store, c Catalog, opts ...SyncerOption) *Syncer {
	s := &Syncer{store: st, catalog: c, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync upserts every active project and its tasks. Projects and tasks the
// catalog no longer returns are marked inactive, never deleted, so rules and
// entries that point at them stay valid.
//
// The project list is fetched before anything is written; a task listing
// failure aborts the sync with the projects seen so far already upserted.
func (s *Syncer) Sync(ctx context.Context) (Stats, error) {
	slog.Info("starting taxonomy sync")
	syncedAt := s.now()

	projects, err := s.catalog.Projects(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("sync: list projects: %w", err)
	}
	slog.Info("fetched projects", "count", len(projects))

	var stats Stats
	keep := make([]string, 0, len(projects))
	for _, p := range projects {
		extID := strconv.Itoa(p.ProjectID)
		keep = append(keep, extID)

		localID, err := s.store.UpsertProject(ctx, model.Project{
			ExternalID:   extID,
			Name:         p.Name,
			Description:  p.Description,
			IsActive:     true,
			LastSyncedAt: syncedAt,
		})
		if err != nil {
			return stats, fmt.Errorf("sync: %w", err)
		}
		stats.Projects++

		n, retired, err := s.syncTasks(ctx, localID, p.ProjectID, syncedAt)
		if err != nil {
			return stats, err
		}
		stats.Tasks += n
		stats.RetiredTasks += retired
	}

	stats.RetiredProjects, err = s.store.DeactivateProjectsExcept(ctx, keep, syncedAt)
	if err != nil {
		return stats, fmt.Errorf("sync: %w", err)
	}

	slog.Info("taxonomy sync complete",
		"projects", stats.Projects,
		"tasks", stats.Tasks,
		"retired_projects", stats.RetiredProjects,
		"retired_tasks", stats.RetiredTasks)
	return stats, nil
}

func (s *Syncer) syncTasks(ctx context.Context, localProjectID int64, externalProjectID int, syncedAt time.Time) (upserted, retired int, err error) {
	tasks, err := s.catalog.Tasks(ctx, externalProjectID)
	if err != nil {
		return 0, 0, fmt.Errorf("sync: list tasks of project %d: %w", externalProjectID, err)
	}

	keep := make([]string, 0, len(tasks))
	for _, t := range tasks {
		extID := strconv.Itoa(t.TaskID)
		keep = append(keep, extID)
		if _, err := s.store.UpsertTask(ctx, model.Task{
			ProjectID:    localProjectID,
			ExternalID:   extID,
			Name:         t.Name,
			IsActive:     t.Active(),
			LastSyncedAt: syncedAt,
		}); err != nil {
			return upserted, 0, fmt.Errorf("sync: project %d: %w", externalProjectID, err)
		}
		upserted++
	}

	retired, err = s.store.DeactivateTasksExcept(ctx, localProjectID, keep, syncedAt)
	if err != nil {
		return upserted, 0, fmt.Errorf("sync: project %d: %w", externalProjectID, err)
	}
	slog.Debug("synced tasks", "project", externalProjectID, "tasks", upserted, "retired", retired)
	return upserted, retired, nil
}
