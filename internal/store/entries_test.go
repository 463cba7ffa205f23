package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/timebridge/internal/model"
)

func TestInsertEntries_AssignsIDsAndPending(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	src := createTestSource(t, s, model.SourceUpload)

	e := createTestEntry(src.ID, "file-1")
	e.ProjectKey = model.StringPtr("OPS")
	e.Metadata.SetString("Team", "Platform")
	entries := insertTestEntries(t, s, e)

	require.NotZero(t, entries[0].ID)

	got, err := s.GetEntry(ctx, entries[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Equal(t, model.SourceUpload, got.SourceKind)
	assert.Equal(t, "2024-03-15", got.WorkDate.String())
	assert.Equal(t, 5400, got.DurationSeconds)
	assert.Equal(t, "OPS", model.Deref(got.ProjectKey))
	assert.Nil(t, got.IssueKey)
	assert.Nil(t, got.AssignedProjectID)
	assert.True(t, got.ImportedAt.Equal(testNow))

	v, ok := got.Metadata.Get("Team")
	require.True(t, ok)
	assert.Equal(t, model.MetaString("Platform"), v)
}

func TestInsertEntries_ConflictIsSkipped(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	src := createTestSource(t, s, model.SourceUpload)

	insertTestEntries(t, s, createTestEntry(src.ID, "a"))

	inserted, skipped, err := s.InsertEntries(ctx, []model.Entry{
		createTestEntry(src.ID, "a"),
		createTestEntry(src.ID, "b"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)
	assert.Equal(t, 1, skipped)

	ids, err := s.ExternalIDs(ctx, src.ID)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.Contains(t, ids, "a")
	assert.Contains(t, ids, "b")
}

func TestInsertEntries_SameExternalIDDifferentSource(t *testing.T) {
	s := createTestStore(t)
	a := createTestSource(t, s, model.SourceUpload)
	b := createTestSource(t, s, model.SourceUpload)

	insertTestEntries(t, s, createTestEntry(a.ID, "x"), createTestEntry(b.ID, "x"))
}

func TestInsertEntries_RollsBackOnError(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	src := createTestSource(t, s, model.SourceUpload)

	bad := createTestEntry(src.ID, "bad")
	bad.DurationSeconds = 0 // violates CHECK

	_, _, err := s.InsertEntries(ctx, []model.Entry{createTestEntry(src.ID, "good"), bad})
	require.Error(t, err)

	ids, err := s.ExternalIDs(ctx, src.ID)
	require.NoError(t, err)
	assert.Empty(t, ids, "batch is all-or-nothing")
}

func TestGetEntry_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.GetEntry(context.Background(), 404)
	assert.True(t, errors.Is(err, ErrEntryNotFound))
}

func TestGetEntry_MalformedMetadataReadsEmpty(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	src := createTestSource(t, s, model.SourceUpload)
	entries := insertTestEntries(t, s, createTestEntry(src.ID, "a"))

	_, err := s.db.Exec(`UPDATE entries SET metadata = '{broken' WHERE id = ?`, entries[0].ID)
	require.NoError(t, err)

	got, err := s.GetEntry(ctx, entries[0].ID)
	require.NoError(t, err)
	assert.Empty(t, got.Metadata)
}

func TestApplyAssignments_OnlyTouchesPending(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	src := createTestSource(t, s, model.SourceUpload)
	projectID, taskID := createTestTaxonomy(t, s)
	rule := createTestRule(t, s, "r", 10, projectID, &taskID)

	entries := insertTestEntries(t, s, createTestEntry(src.ID, "a"), createTestEntry(src.ID, "b"))
	require.NoError(t, s.IgnoreEntry(ctx, entries[1].ID))

	n, err := s.ApplyAssignments(ctx, []Assignment{
		{EntryID: entries[0].ID, ProjectID: projectID, TaskID: &taskID, RuleID: rule.ID},
		{EntryID: entries[1].ID, ProjectID: projectID, TaskID: &taskID, RuleID: rule.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	mapped, err := s.GetEntry(ctx, entries[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusMapped, mapped.Status)
	assert.Equal(t, projectID, *mapped.AssignedProjectID)
	assert.Equal(t, taskID, *mapped.AssignedTaskID)
	assert.Equal(t, rule.ID, *mapped.MatchedRuleID)

	ignored, err := s.GetEntry(ctx, entries[1].ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusIgnored, ignored.Status)
	assert.Nil(t, ignored.AssignedProjectID)
}

func TestMapEntry(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	src := createTestSource(t, s, model.SourceUpload)
	projectID, taskID := createTestTaxonomy(t, s)
	entries := insertTestEntries(t, s, createTestEntry(src.ID, "a"), createTestEntry(src.ID, "b"))

	require.NoError(t, s.MapEntry(ctx, entries[0].ID, projectID, &taskID))
	got, err := s.GetEntry(ctx, entries[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusMapped, got.Status)
	assert.Nil(t, got.MatchedRuleID, "manual mapping has no rule")

	t.Run("mapped entry cannot be remapped", func(t *testing.T) {
		err := s.MapEntry(ctx, entries[0].ID, projectID, nil)
		var te *model.TransitionError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, model.StatusMapped, te.From)
	})

	t.Run("ignored entry cannot be mapped", func(t *testing.T) {
		require.NoError(t, s.IgnoreEntry(ctx, entries[1].ID))
		var te *model.TransitionError
		require.ErrorAs(t, s.MapEntry(ctx, entries[1].ID, projectID, nil), &te)
	})

	t.Run("unknown entry", func(t *testing.T) {
		assert.ErrorIs(t, s.MapEntry(ctx, 999, projectID, nil), ErrEntryNotFound)
	})
}

func TestEntryQueries(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	src := createTestSource(t, s, model.SourceUpload)
	projectID, taskID := createTestTaxonomy(t, s)

	older := createTestEntry(src.ID, "old")
	older.WorkDate = model.NewDate(2024, 3, 1)
	entries := insertTestEntries(t, s, older, createTestEntry(src.ID, "new"), createTestEntry(src.ID, "project-only"))

	require.NoError(t, s.MapEntry(ctx, entries[1].ID, projectID, &taskID))
	require.NoError(t, s.MapEntry(ctx, entries[2].ID, projectID, nil))

	pending, err := s.EntriesByStatus(ctx, model.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "old", pending[0].ExternalID)

	submittable, err := s.SubmittableEntries(ctx)
	require.NoError(t, err)
	require.Len(t, submittable, 1, "project-only entries are not submission-ready")
	assert.Equal(t, "new", submittable[0].ExternalID)

	all, err := s.ListEntries(ctx, EntryFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "old", all[2].ExternalID, "newest work date first")

	page, err := s.ListEntries(ctx, EntryFilter{Statuses: []model.Status{model.StatusMapped}, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, page, 1)

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[model.Status]int{model.StatusPending: 1, model.StatusMapped: 2}, counts)
}
