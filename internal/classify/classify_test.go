package classify

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/timebridge/internal/model"
	"github.com/roach88/timebridge/internal/store"
)

var testNow = time.Date(2024, 3, 16, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store    *store.Store
	svc      *Service
	upload   model.Source
	worklogs model.Source
	projectA int64
	projectB int64
	taskA    int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(filepath.Join(t.TempDir(), "classify.db"),
		store.WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f := &fixture{store: st, svc: New(st)}
	f.upload, err = st.CreateSource(ctx, model.Source{Name: "uploads", Kind: model.SourceUpload, Enabled: true})
	require.NoError(t, err)
	f.worklogs, err = st.CreateSource(ctx, model.Source{Name: "tempo", Kind: model.SourceWorklogAPI, Enabled: true})
	require.NoError(t, err)

	f.projectA, err = st.UpsertProject(ctx, model.Project{ExternalID: "100", Name: "Alpha", IsActive: true, LastSyncedAt: testNow})
	require.NoError(t, err)
	f.projectB, err = st.UpsertProject(ctx, model.Project{ExternalID: "200", Name: "Beta", IsActive: true, LastSyncedAt: testNow})
	require.NoError(t, err)
	f.taskA, err = st.UpsertTask(ctx, model.Task{ProjectID: f.projectA, ExternalID: "501", Name: "Dev", IsActive: true, LastSyncedAt: testNow})
	require.NoError(t, err)
	return f
}

func (f *fixture) entry(t *testing.T, src model.Source, externalID, description string, meta model.Metadata) model.Entry {
	t.Helper()
	e := model.Entry{
		SourceID:        src.ID,
		ExternalID:      externalID,
		UserIdentifier:  "dev@example.com",
		WorkDate:        model.NewDate(2024, time.March, 15),
		DurationSeconds: 3600,
		Description:     description,
		Metadata:        meta,
		ImportedAt:      testNow,
	}
	entries := []model.Entry{e}
	n, _, err := f.store.InsertEntries(context.Background(), entries)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	return entries[0]
}

func (f *fixture) rule(t *testing.T, r model.Rule) model.Rule {
	t.Helper()
	if r.Name == "" {
		r.Name = r.MatchValue
	}
	if r.MatchField == "" {
		r.MatchField = "description"
	}
	if r.Operator == "" {
		r.Operator = model.OpContains
	}
	created, err := f.store.CreateRule(context.Background(), r)
	require.NoError(t, err)
	return created
}

func (f *fixture) get(t *testing.T, id int64) model.Entry {
	t.Helper()
	e, err := f.store.GetEntry(context.Background(), id)
	require.NoError(t, err)
	return e
}

func TestApplyAllPendingNoRules(t *testing.T) {
	f := newFixture(t)
	f.entry(t, f.upload, "1", "standup", nil)

	mapped, err := f.svc.ApplyAllPending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, mapped)
}

func TestApplyAllPendingLowestPriorityWins(t *testing.T) {
	f := newFixture(t)
	e := f.entry(t, f.upload, "1", "Daily standup", nil)
	f.rule(t, model.Rule{MatchValue: "standup", Priority: 20, Enabled: true, ProjectID: f.projectB})
	winner := f.rule(t, model.Rule{MatchValue: "daily", Priority: 5, Enabled: true, ProjectID: f.projectA, TaskID: &f.taskA})

	mapped, err := f.svc.ApplyAllPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, mapped)

	got := f.get(t, e.ID)
	assert.Equal(t, model.StatusMapped, got.Status)
	require.NotNil(t, got.AssignedProjectID)
	assert.Equal(t, f.projectA, *got.AssignedProjectID)
	require.NotNil(t, got.AssignedTaskID)
	assert.Equal(t, f.taskA, *got.AssignedTaskID)
	require.NotNil(t, got.MatchedRuleID)
	assert.Equal(t, winner.ID, *got.MatchedRuleID)
}

func TestApplyAllPendingRespectsScope(t *testing.T) {
	f := newFixture(t)
	fromAPI := f.entry(t, f.worklogs, "77", "standup", nil)
	fromFile := f.entry(t, f.upload, "file-1", "standup", nil)

	scope := model.SourceUpload
	f.rule(t, model.Rule{MatchValue: "standup", Priority: 1, Enabled: true, ProjectID: f.projectA, SourceScope: &scope})

	mapped, err := f.svc.ApplyAllPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, mapped)
	assert.Equal(t, model.StatusPending, f.get(t, fromAPI.ID).Status)
	assert.Equal(t, model.StatusMapped, f.get(t, fromFile.ID).Status)
}

func TestApplyAllPendingMetadataField(t *testing.T) {
	f := newFixture(t)
	e := f.entry(t, f.worklogs, "1", "", model.Metadata{{Key: "customfield_10200", Value: model.MetaString("X")}})
	f.rule(t, model.Rule{
		MatchField: "metadata.CUSTOMFIELD_10200",
		Operator:   model.OpEquals,
		MatchValue: "x",
		Priority:   1,
		Enabled:    true,
		ProjectID:  f.projectA,
	})

	mapped, err := f.svc.ApplyAllPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, mapped)
	assert.Equal(t, model.StatusMapped, f.get(t, e.ID).Status)
}

func TestApplyAllPendingSkipsDisabledAndNonPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ignored := f.entry(t, f.upload, "1", "standup", nil)
	require.NoError(t, f.store.IgnoreEntry(ctx, ignored.ID))
	pending := f.entry(t, f.upload, "2", "standup", nil)

	failed := f.entry(t, f.upload, "3", "standup", nil)
	require.NoError(t, f.store.MapEntry(ctx, failed.ID, f.projectB, nil))
	_, err := f.store.RecordOutcome(ctx, model.FailedOutcome(failed.ID, "500: boom", testNow))
	require.NoError(t, err)

	submitted := f.entry(t, f.upload, "4", "standup", nil)
	require.NoError(t, f.store.MapEntry(ctx, submitted.ID, f.projectB, nil))
	_, err = f.store.RecordOutcome(ctx, model.SucceededOutcome(submitted.ID, "REG-1", testNow))
	require.NoError(t, err)

	disabled := f.rule(t, model.Rule{MatchValue: "standup", Priority: 1, Enabled: true, ProjectID: f.projectB})
	require.NoError(t, f.store.SetRuleEnabled(ctx, disabled.ID, false))

	mapped, err := f.svc.ApplyAllPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, mapped)

	f.rule(t, model.Rule{MatchValue: "standup", Priority: 2, Enabled: true, ProjectID: f.projectA})
	mapped, err = f.svc.ApplyAllPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, mapped)
	assert.Equal(t, model.StatusIgnored, f.get(t, ignored.ID).Status)
	assert.Equal(t, f.projectA, *f.get(t, pending.ID).AssignedProjectID)

	for _, tc := range []struct {
		id   int64
		want model.Status
	}{
		{failed.ID, model.StatusFailed},
		{submitted.ID, model.StatusSubmitted},
	} {
		got := f.get(t, tc.id)
		assert.Equal(t, tc.want, got.Status)
		require.NotNil(t, got.AssignedProjectID)
		assert.Equal(t, f.projectB, *got.AssignedProjectID, "entry %d keeps its manual assignment", tc.id)
		assert.Nil(t, got.AssignedTaskID)
		assert.Nil(t, got.MatchedRuleID)
	}

	// A second pass finds nothing left to map.
	mapped, err = f.svc.ApplyAllPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, mapped)
}

func TestPreviewRule(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	pending := f.entry(t, f.worklogs, "1", "standup", nil)
	other := f.entry(t, f.upload, "2", "retro", nil)
	ignored := f.entry(t, f.upload, "3", "standup", nil)
	require.NoError(t, f.store.IgnoreEntry(ctx, ignored.ID))

	failed := f.entry(t, f.upload, "4", "Standup notes", nil)
	require.NoError(t, f.store.MapEntry(ctx, failed.ID, f.projectA, &f.taskA))
	_, err := f.store.RecordOutcome(ctx, model.FailedOutcome(failed.ID, "500: boom", testNow))
	require.NoError(t, err)

	// Scope and the enabled flag do not limit a preview.
	scope := model.SourceUpload
	r := f.rule(t, model.Rule{MatchValue: "standup", Priority: 1, Enabled: false, ProjectID: f.projectA, SourceScope: &scope})

	matched, err := f.svc.PreviewRule(ctx, r.ID)
	require.NoError(t, err)

	var ids []int64
	for _, e := range matched {
		ids = append(ids, e.ID)
	}
	assert.ElementsMatch(t, []int64{pending.ID, failed.ID}, ids)
	assert.NotContains(t, ids, other.ID)

	assert.Equal(t, model.StatusPending, f.get(t, pending.ID).Status, "preview writes nothing")
}

func TestPreviewRuleNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.PreviewRule(context.Background(), 404)
	assert.ErrorIs(t, err, store.ErrRuleNotFound)
}

func TestApplyRule(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.entry(t, f.upload, "1", "standup", nil)
	b := f.entry(t, f.upload, "2", "retro", nil)

	r := f.rule(t, model.Rule{MatchValue: "standup", Priority: 50, Enabled: false, ProjectID: f.projectB})

	mapped, err := f.svc.ApplyRule(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, mapped)

	got := f.get(t, a.ID)
	assert.Equal(t, model.StatusMapped, got.Status)
	assert.Equal(t, f.projectB, *got.AssignedProjectID)
	assert.Nil(t, got.AssignedTaskID)
	assert.Equal(t, r.ID, *got.MatchedRuleID)
	assert.Equal(t, model.StatusPending, f.get(t, b.ID).Status)

	_, err = f.svc.ApplyRule(ctx, 404)
	assert.ErrorIs(t, err, store.ErrRuleNotFound)
}

func TestApplyAllPendingInvalidRegexDoesNotMatch(t *testing.T) {
	f := newFixture(t)
	e := f.entry(t, f.upload, "1", "standup", nil)
	f.rule(t, model.Rule{Operator: model.OpRegex, MatchValue: "(", Name: "broken", Priority: 1, Enabled: true, ProjectID: f.projectB})
	f.rule(t, model.Rule{Operator: model.OpRegex, MatchValue: "^stand", Priority: 2, Enabled: true, ProjectID: f.projectA})

	mapped, err := f.svc.ApplyAllPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, mapped)
	assert.Equal(t, f.projectA, *f.get(t, e.ID).AssignedProjectID)
}
