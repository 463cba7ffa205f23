package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/timebridge/internal/model"
)

func mappedEntry(t *testing.T, s *Store) model.Entry {
	t.Helper()
	src := createTestSource(t, s, model.SourceUpload)
	projectID, taskID := createTestTaxonomy(t, s)
	entries := insertTestEntries(t, s, createTestEntry(src.ID, "a"))
	require.NoError(t, s.MapEntry(context.Background(), entries[0].ID, projectID, &taskID))
	return entries[0]
}

func TestRecordOutcome_FailureThenSuccess(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	e := mappedEntry(t, s)

	_, ok, err := s.GetSubmission(ctx, e.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	sub, err := s.RecordOutcome(ctx, model.FailedOutcome(e.ID, "500: boom", testNow))
	require.NoError(t, err)
	assert.Equal(t, 1, sub.AttemptCount)
	assert.Equal(t, model.SubmissionFailed, sub.Status)
	assert.Equal(t, "500: boom", model.Deref(sub.ErrorMessage))

	got, err := s.GetEntry(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)

	sub, err = s.RecordOutcome(ctx, model.FailedOutcome(e.ID, "connection refused", testNow.Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, 2, sub.AttemptCount)
	assert.Equal(t, "connection refused", model.Deref(sub.ErrorMessage))

	sub, err = s.RecordOutcome(ctx, model.SucceededOutcome(e.ID, "conf-1", testNow.Add(2*time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, 3, sub.AttemptCount)
	assert.Equal(t, model.SubmissionSuccess, sub.Status)
	assert.Equal(t, "conf-1", model.Deref(sub.ConfirmationID))
	assert.Nil(t, sub.ErrorMessage, "success clears the error")
	assert.True(t, sub.SubmittedAt.Equal(testNow.Add(2*time.Hour)))

	n, err := s.CountSubmissions(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "one record per entry")

	got, err = s.GetEntry(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSubmitted, got.Status)
}

func TestRecordOutcome_RefusesTerminalEntry(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	e := mappedEntry(t, s)

	_, err := s.RecordOutcome(ctx, model.SucceededOutcome(e.ID, "c", testNow))
	require.NoError(t, err)

	_, err = s.RecordOutcome(ctx, model.FailedOutcome(e.ID, "late failure", testNow))
	var te *model.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, model.StatusSubmitted, te.From)

	sub, ok, err := s.GetSubmission(ctx, e.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, sub.AttemptCount, "refused outcome writes nothing")
}

func TestRecordOutcome_RefusesPendingEntry(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	src := createTestSource(t, s, model.SourceUpload)
	entries := insertTestEntries(t, s, createTestEntry(src.ID, "a"))

	_, err := s.RecordOutcome(ctx, model.FailedOutcome(entries[0].ID, "x", testNow))
	var te *model.TransitionError
	require.ErrorAs(t, err, &te)

	n, err := s.CountSubmissions(ctx, entries[0].ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRecordOutcome_UnknownEntry(t *testing.T) {
	s := createTestStore(t)
	_, err := s.RecordOutcome(context.Background(), model.FailedOutcome(42, "x", testNow))
	assert.ErrorIs(t, err, ErrEntryNotFound)
}
