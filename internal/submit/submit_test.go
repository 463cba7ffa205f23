package submit

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/timebridge/internal/connector/timelog"
	"github.com/roach88/timebridge/internal/model"
	"github.com/roach88/timebridge/internal/store"
	"github.com/roach88/timebridge/internal/testutil"
)

var testStart = time.Date(2024, 3, 16, 9, 0, 0, 0, time.UTC)

type fakeBooker struct {
	sent []timelog.TimeRegistration
	errs []error
}

func (b *fakeBooker) CreateTimeRegistration(_ context.Context, reg timelog.TimeRegistration) error {
	b.sent = append(b.sent, reg)
	if len(b.errs) > 0 {
		err := b.errs[0]
		b.errs = b.errs[1:]
		return err
	}
	return nil
}

type fixture struct {
	store   *store.Store
	booker  *fakeBooker
	clock   *testutil.Clock
	coord   *Coordinator
	source  model.Source
	project int64
	task    int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	clock := testutil.NewClock(testStart)
	st, err := store.Open(filepath.Join(t.TempDir(), "submit.db"), store.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f := &fixture{store: st, booker: &fakeBooker{}, clock: clock}
	f.coord = New(st, f.booker, WithClock(clock.Now), WithIDGenerator(testutil.NewSequentialIDs()))

	f.source, err = st.CreateSource(ctx, model.Source{Name: "uploads", Kind: model.SourceUpload, Enabled: true})
	require.NoError(t, err)
	f.project, err = st.UpsertProject(ctx, model.Project{ExternalID: "100", Name: "Ops", IsActive: true, LastSyncedAt: testStart})
	require.NoError(t, err)
	f.task, err = st.UpsertTask(ctx, model.Task{ProjectID: f.project, ExternalID: "501", Name: "Meetings", IsActive: true, LastSyncedAt: testStart})
	require.NoError(t, err)
	return f
}

// mapped inserts an entry and maps it to taskID (nil for project only).
func (f *fixture) mapped(t *testing.T, externalID string, taskID *int64) model.Entry {
	t.Helper()
	ctx := context.Background()
	entries := []model.Entry{{
		SourceID:        f.source.ID,
		ExternalID:      externalID,
		UserIdentifier:  "557058:abc",
		WorkDate:        model.NewDate(2024, time.March, 15),
		DurationSeconds: 5400,
		Description:     "Daily standup",
		ImportedAt:      testStart,
	}}
	_, _, err := f.store.InsertEntries(ctx, entries)
	require.NoError(t, err)
	require.NoError(t, f.store.MapEntry(ctx, entries[0].ID, f.project, taskID))
	e, err := f.store.GetEntry(ctx, entries[0].ID)
	require.NoError(t, err)
	return e
}

func (f *fixture) submission(t *testing.T, entryID int64) model.Submission {
	t.Helper()
	sub, ok, err := f.store.GetSubmission(context.Background(), entryID)
	require.NoError(t, err)
	require.True(t, ok)
	return sub
}

func (f *fixture) status(t *testing.T, entryID int64) model.Status {
	t.Helper()
	e, err := f.store.GetEntry(context.Background(), entryID)
	require.NoError(t, err)
	return e.Status
}

func TestSubmitSuccess(t *testing.T) {
	f := newFixture(t)
	e := f.mapped(t, "1", &f.task)

	res, err := f.coord.Submit(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, ResultSubmitted, res)

	require.Len(t, f.booker.sent, 1)
	reg := f.booker.sent[0]
	assert.Equal(t, "00000000-0000-0000-0000-000000000001", reg.ID.String())
	assert.Equal(t, 501, reg.TaskID)
	assert.Equal(t, timelog.GroupTypeProject, reg.GroupType)
	assert.Equal(t, "2024-03-15", reg.Date)
	assert.Equal(t, 1.5, reg.Hours)
	assert.Equal(t, "Daily standup", reg.Comment)
	assert.False(t, reg.Billable)
	assert.Nil(t, reg.UserID)

	assert.Equal(t, model.StatusSubmitted, f.status(t, e.ID))
	sub := f.submission(t, e.ID)
	assert.Equal(t, model.SubmissionSuccess, sub.Status)
	assert.Equal(t, 1, sub.AttemptCount)
	assert.Equal(t, reg.ID.String(), model.Deref(sub.ConfirmationID))
	assert.Nil(t, sub.ErrorMessage)
	assert.True(t, sub.SubmittedAt.Equal(testStart))
}

func TestSubmitUsesEmployeeMapping(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.UpsertEmployeeMapping(context.Background(), model.EmployeeMapping{
		AccountID: "557058:abc", TargetUserID: 42,
	})
	require.NoError(t, err)
	e := f.mapped(t, "1", &f.task)

	_, err = f.coord.Submit(context.Background(), e.ID)
	require.NoError(t, err)
	require.Len(t, f.booker.sent, 1)
	require.NotNil(t, f.booker.sent[0].UserID)
	assert.Equal(t, int64(42), *f.booker.sent[0].UserID)
}

func TestSubmitTransportErrorThenRetry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e := f.mapped(t, "1", &f.task)
	f.booker.errs = []error{errors.New("dial tcp: connection refused")}

	res, err := f.coord.Submit(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, ResultFailed, res)
	assert.Equal(t, model.StatusFailed, f.status(t, e.ID))

	sub := f.submission(t, e.ID)
	assert.Equal(t, model.SubmissionFailed, sub.Status)
	assert.Equal(t, 1, sub.AttemptCount)
	assert.Contains(t, model.Deref(sub.ErrorMessage), "connection refused")

	f.clock.Advance(time.Hour)
	res, err = f.coord.Submit(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, ResultSubmitted, res)

	sub = f.submission(t, e.ID)
	assert.Equal(t, model.SubmissionSuccess, sub.Status)
	assert.Equal(t, 2, sub.AttemptCount)
	assert.Nil(t, sub.ErrorMessage)
	assert.True(t, sub.SubmittedAt.Equal(testStart.Add(time.Hour)))

	// Each attempt carries a fresh request id.
	require.Len(t, f.booker.sent, 2)
	assert.NotEqual(t, f.booker.sent[0].ID, f.booker.sent[1].ID)
}

func TestSubmitRejectionMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"Task is closed"}`))
	}))
	defer srv.Close()

	client, err := timelog.New(timelog.Config{BaseURL: srv.URL, APIKey: "key"})
	require.NoError(t, err)

	f := newFixture(t)
	f.coord = New(f.store, client, WithClock(f.clock.Now))
	e := f.mapped(t, "1", &f.task)

	res, err := f.coord.Submit(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, ResultFailed, res)
	assert.Equal(t, `400: {"message":"Task is closed"}`, model.Deref(f.submission(t, e.ID).ErrorMessage))
}

func TestSubmitInactiveTask(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	e := f.mapped(t, "1", &f.task)
	_, err := f.store.DeactivateTasksExcept(ctx, f.project, nil, testStart)
	require.NoError(t, err)

	res, err := f.coord.Submit(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, ResultFailed, res)
	assert.Empty(t, f.booker.sent)
	assert.Equal(t, "task 501 is inactive", model.Deref(f.submission(t, e.ID).ErrorMessage))
}

func TestSubmitWithoutTaskIsSkipped(t *testing.T) {
	f := newFixture(t)
	e := f.mapped(t, "1", nil)

	res, err := f.coord.Submit(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, ResultSkipped, res)
	assert.Empty(t, f.booker.sent)
	assert.Equal(t, model.StatusMapped, f.status(t, e.ID))

	_, ok, err := f.store.GetSubmission(context.Background(), e.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSubmitRefusesTerminalAndPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	done := f.mapped(t, "1", &f.task)
	_, err := f.coord.Submit(ctx, done.ID)
	require.NoError(t, err)

	_, err = f.coord.Submit(ctx, done.ID)
	assert.ErrorIs(t, err, ErrNotSubmittable)

	entries := []model.Entry{{
		SourceID: f.source.ID, ExternalID: "2", UserIdentifier: "u",
		WorkDate: model.NewDate(2024, time.March, 15), DurationSeconds: 60, ImportedAt: testStart,
	}}
	_, _, err = f.store.InsertEntries(ctx, entries)
	require.NoError(t, err)
	_, err = f.coord.Submit(ctx, entries[0].ID)
	assert.ErrorIs(t, err, ErrNotSubmittable)

	_, err = f.coord.Submit(ctx, 999)
	assert.ErrorIs(t, err, store.ErrEntryNotFound)

	assert.Len(t, f.booker.sent, 1)
	assert.Equal(t, 1, f.submission(t, done.ID).AttemptCount)
}

func TestSubmitAllPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ok1 := f.mapped(t, "1", &f.task)
	bad := f.mapped(t, "2", &f.task)
	noTask := f.mapped(t, "3", nil)
	ok2 := f.mapped(t, "4", &f.task)

	f.booker.errs = []error{nil, errors.New("timeout")}

	sum, err := f.coord.SubmitAllPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Attempted: 3, Succeeded: 2, Failed: 1}, sum)

	assert.Equal(t, model.StatusSubmitted, f.status(t, ok1.ID))
	assert.Equal(t, model.StatusFailed, f.status(t, bad.ID))
	assert.Equal(t, model.StatusMapped, f.status(t, noTask.ID))
	assert.Equal(t, model.StatusSubmitted, f.status(t, ok2.ID))

	// The failed entry is picked up again on the next pass.
	sum, err = f.coord.SubmitAllPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Attempted: 1, Succeeded: 1}, sum)
	assert.Equal(t, 2, f.submission(t, bad.ID).AttemptCount)
}

func TestSubmitAllPendingCancelled(t *testing.T) {
	f := newFixture(t)
	f.mapped(t, "1", &f.task)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.coord.SubmitAllPending(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.booker.sent)
}

func TestUUIDv7Generator(t *testing.T) {
	g := UUIDv7Generator{}
	a, b := g.NewID(), g.NewID()
	assert.NotEqual(t, a, b)
	assert.Equal(t, 7, int(a.Version()))
}
