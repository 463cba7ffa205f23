package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/timebridge/internal/connector/tempo"
	"github.com/roach88/timebridge/internal/model"
	"github.com/roach88/timebridge/internal/store"
)

var coordinatorNow = time.Date(2024, 3, 16, 2, 0, 0, 0, time.UTC)

type countingClassifier struct {
	calls  int
	mapped int
	err    error
}

func (c *countingClassifier) ApplyAllPending(context.Context) (int, error) {
	c.calls++
	return c.mapped, c.err
}

type fakeFetcher struct {
	worklogs []tempo.Worklog
	err      error
	from, to model.Date
}

func (f *fakeFetcher) Worklogs(_ context.Context, from, to model.Date) ([]tempo.Worklog, error) {
	f.from, f.to = from, to
	return f.worklogs, f.err
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "ingest.db"),
		store.WithClock(func() time.Time { return coordinatorNow }))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func newSource(t *testing.T, st *store.Store, kind model.SourceKind, token string) model.Source {
	t.Helper()
	src, err := st.CreateSource(context.Background(), model.Source{
		Name:     string(kind),
		Kind:     kind,
		APIToken: token,
		Enabled:  true,
	})
	require.NoError(t, err)
	return src
}

func TestImportBatchIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	src := newSource(t, st, model.SourceUpload, "")
	classifier := &countingClassifier{}
	c := NewCoordinator(st, WithClassifier(classifier), WithClock(func() time.Time { return coordinatorNow }))

	batch := parseCSV(t, "Date,Hours,Email\n2024-03-15,1.5,dev@example.com\n2024-03-15,2,ops@example.com\n")

	first, err := c.ImportBatch(ctx, src.ID, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Total)
	assert.Equal(t, 2, first.Imported)
	assert.Equal(t, 0, first.Skipped)

	second, err := c.ImportBatch(ctx, src.ID, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Total)
	assert.Equal(t, 0, second.Imported)
	assert.Equal(t, 2, second.Skipped)

	counts, err := st.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[model.StatusPending])
	assert.Equal(t, 2, classifier.calls)

	got, err := st.GetSource(ctx, src.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastPolledAt)
	assert.True(t, got.LastPolledAt.Equal(coordinatorNow))
}

func TestImportBatchSkipsRepeatsWithinBatch(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	src := newSource(t, st, model.SourceUpload, "")
	c := NewCoordinator(st)

	batch := parseCSV(t, "Date,Hours,Email\n2024-03-15,1,dev@example.com\n2024-03-15,1,dev@example.com\n")
	require.Len(t, batch.Candidates, 2)

	res, err := c.ImportBatch(ctx, src.ID, batch)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)
	assert.Equal(t, 1, res.Skipped)
}

func TestImportBatchUnknownSource(t *testing.T) {
	c := NewCoordinator(newTestStore(t))
	_, err := c.ImportBatch(context.Background(), 99, Batch{})
	assert.ErrorIs(t, err, store.ErrSourceNotFound)
}

func TestImportBatchReportsMappedCount(t *testing.T) {
	st := newTestStore(t)
	src := newSource(t, st, model.SourceUpload, "")
	c := NewCoordinator(st, WithClassifier(&countingClassifier{mapped: 1}))

	res, err := c.ImportBatch(context.Background(), src.ID,
		parseCSV(t, "Date,Hours,Email\n2024-03-15,1,dev@example.com\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Mapped)
}

func TestImportBatchClassifierError(t *testing.T) {
	st := newTestStore(t)
	src := newSource(t, st, model.SourceUpload, "")
	c := NewCoordinator(st, WithClassifier(&countingClassifier{err: errors.New("bad regex")}))

	res, err := c.ImportBatch(context.Background(), src.ID,
		parseCSV(t, "Date,Hours,Email\n2024-03-15,1,dev@example.com\n"))
	require.Error(t, err)
	assert.Equal(t, 1, res.Imported, "entries stay imported when classification fails")
}

func TestImportFile(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	src := newSource(t, st, model.SourceUpload, "")
	c := NewCoordinator(st)

	content := "Date,Hours,Email\n2024-03-15,1.5,dev@example.com\nbad,1,x@example.com\n"
	res, err := c.ImportFile(ctx, src.ID, "march.csv", strings.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)
	assert.Equal(t, []string{"Row 3: cannot parse date 'bad'."}, res.Errors)

	entries, err := st.EntriesByStatus(ctx, model.StatusPending)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 5400, entries[0].DurationSeconds)
	assert.Equal(t, model.SourceUpload, entries[0].SourceKind)
}

func TestImportFileParseFailure(t *testing.T) {
	st := newTestStore(t)
	src := newSource(t, st, model.SourceUpload, "")
	c := NewCoordinator(st)

	res, err := c.ImportFile(context.Background(), src.ID, "old.xls", strings.NewReader("x"))
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.True(t, strings.HasPrefix(res.Errors[0], "File parse failed: "))
	assert.Zero(t, res.Imported)
}

func TestImportFileWrongSourceKind(t *testing.T) {
	st := newTestStore(t)
	src := newSource(t, st, model.SourceWorklogAPI, "token")
	c := NewCoordinator(st)

	_, err := c.ImportFile(context.Background(), src.ID, "a.csv", strings.NewReader(""))
	assert.ErrorIs(t, err, ErrSourceKind)
}

func TestImportWorklogs(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	src := newSource(t, st, model.SourceWorklogAPI, "token")

	fetcher := &fakeFetcher{worklogs: []tempo.Worklog{sampleWorklog(1, 0), sampleWorklog(2, 0)}}
	issues := &stubIssues{}
	c := NewCoordinator(st,
		WithWorklogClients(func(model.Source) (WorklogFetcher, error) { return fetcher, nil }),
		WithWorklogNormalizer(NewWorklogNormalizer(WithIssueLookup(issues))),
	)

	day := model.NewDate(2024, time.March, 15)
	res, err := c.ImportWorklogs(ctx, src.ID, day, day)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 2, res.Imported)

	// Known worklogs are dropped before enrichment.
	fetcher.worklogs = append(fetcher.worklogs, sampleWorklog(3, 55))
	fetcher.worklogs[0].Issue = &tempo.IssueRef{ID: 66}
	res, err = c.ImportWorklogs(ctx, src.ID, day, day)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 1, res.Imported)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, map[int64]int{55: 1}, issues.calls)
}

func TestImportWorklogsRequiresToken(t *testing.T) {
	st := newTestStore(t)
	src := newSource(t, st, model.SourceWorklogAPI, "")
	c := NewCoordinator(st)

	day := model.NewDate(2024, time.March, 15)
	_, err := c.ImportWorklogs(context.Background(), src.ID, day, day)
	assert.ErrorIs(t, err, ErrMissingCredential)
}

func TestImportWorklogsFetchError(t *testing.T) {
	st := newTestStore(t)
	src := newSource(t, st, model.SourceWorklogAPI, "token")
	c := NewCoordinator(st, WithWorklogClients(func(model.Source) (WorklogFetcher, error) {
		return &fakeFetcher{err: errors.New("HTTP 401")}, nil
	}))

	day := model.NewDate(2024, time.March, 15)
	_, err := c.ImportWorklogs(context.Background(), src.ID, day, day)
	assert.ErrorContains(t, err, "HTTP 401")

	got, err := st.GetSource(context.Background(), src.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LastPolledAt)
}

func TestImportYesterday(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	good := newSource(t, st, model.SourceWorklogAPI, "token")
	bad := newSource(t, st, model.SourceWorklogAPI, "")
	newSource(t, st, model.SourceUpload, "")

	fetcher := &fakeFetcher{worklogs: []tempo.Worklog{sampleWorklog(1, 0)}}
	c := NewCoordinator(st,
		WithClock(func() time.Time { return coordinatorNow }),
		WithWorklogClients(func(model.Source) (WorklogFetcher, error) { return fetcher, nil }),
	)

	results, err := c.ImportYesterday(ctx)
	require.NoError(t, err)
	require.Len(t, results, 2)

	byID := map[int64]Result{}
	for _, r := range results {
		byID[r.SourceID] = r
	}
	assert.Equal(t, 1, byID[good.ID].Imported)
	require.Len(t, byID[bad.ID].Errors, 1)
	assert.Contains(t, byID[bad.ID].Errors[0], "no API token")

	assert.Equal(t, "2024-03-15", fetcher.from.String())
	assert.Equal(t, "2024-03-15", fetcher.to.String())
}
