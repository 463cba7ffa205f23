package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/timebridge/internal/model"
)

var testNow = time.Date(2024, 3, 16, 9, 0, 0, 0, time.UTC)

// createTestStore creates a new file-backed store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithClock(func() time.Time { return testNow }))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestSource inserts an enabled source of the given kind.
func createTestSource(t *testing.T, s *Store, kind model.SourceKind) model.Source {
	t.Helper()
	src, err := s.CreateSource(context.Background(), model.Source{
		Name:    string(kind) + " source",
		Kind:    kind,
		Enabled: true,
	})
	require.NoError(t, err)
	return src
}

// createTestTaxonomy inserts one active project with one active task and
// returns their local ids.
func createTestTaxonomy(t *testing.T, s *Store) (projectID, taskID int64) {
	t.Helper()
	ctx := context.Background()
	projectID, err := s.UpsertProject(ctx, model.Project{
		ExternalID: "100", Name: "Operations", IsActive: true, LastSyncedAt: testNow,
	})
	require.NoError(t, err)
	taskID, err = s.UpsertTask(ctx, model.Task{
		ProjectID: projectID, ExternalID: "501", Name: "Meetings", IsActive: true, LastSyncedAt: testNow,
	})
	require.NoError(t, err)
	return projectID, taskID
}

// createTestEntry builds a candidate entry with minimal required fields.
func createTestEntry(sourceID int64, externalID string) model.Entry {
	return model.Entry{
		SourceID:        sourceID,
		ExternalID:      externalID,
		UserIdentifier:  "dev@example.com",
		WorkDate:        model.NewDate(2024, time.March, 15),
		DurationSeconds: 5400,
		Description:     "standup",
		ImportedAt:      testNow,
	}
}

// insertTestEntries inserts entries and returns them with ids assigned.
func insertTestEntries(t *testing.T, s *Store, entries ...model.Entry) []model.Entry {
	t.Helper()
	inserted, skipped, err := s.InsertEntries(context.Background(), entries)
	require.NoError(t, err)
	require.Equal(t, len(entries), inserted)
	require.Zero(t, skipped)
	return entries
}

// createTestRule inserts an enabled rule targeting projectID.
func createTestRule(t *testing.T, s *Store, name string, priority int, projectID int64, taskID *int64) model.Rule {
	t.Helper()
	r, err := s.CreateRule(context.Background(), model.Rule{
		Name:       name,
		MatchField: "description",
		Operator:   model.OpContains,
		MatchValue: "standup",
		Priority:   priority,
		Enabled:    true,
		ProjectID:  projectID,
		TaskID:     taskID,
	})
	require.NoError(t, err)
	return r
}
