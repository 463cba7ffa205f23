package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/timebridge/internal/connector/jira"
	"github.com/roach88/timebridge/internal/connector/tempo"
	"github.com/roach88/timebridge/internal/model"
)

type stubIssues struct {
	mu      sync.Mutex
	details map[int64]jira.IssueDetails
	calls   map[int64]int
}

func (s *stubIssues) Issue(_ context.Context, id int64) (jira.IssueDetails, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = make(map[int64]int)
	}
	s.calls[id]++
	d, ok := s.details[id]
	if !ok {
		return jira.IssueDetails{}, errors.New("GET /rest/api/3/issue: HTTP 500")
	}
	return d, nil
}

type stubNames map[string]string

func (s stubNames) DisplayName(_ context.Context, accountID string) (string, error) {
	name, ok := s[accountID]
	if !ok {
		return "", errors.New("no such user")
	}
	return name, nil
}

func strp(s string) *string { return &s }

func sampleWorklog(id, issueID int64) tempo.Worklog {
	return tempo.Worklog{
		TempoWorklogID:   id,
		Issue:            &tempo.IssueRef{ID: issueID},
		TimeSpentSeconds: 3600,
		BillableSeconds:  1800,
		StartDate:        "2024-03-15",
		StartTime:        strp("09:00:00"),
		Description:      strp("Working on OPS-12"),
		Author:           &tempo.Author{AccountID: "557058:abc"},
		Attributes: &tempo.Attributes{Values: []tempo.AttributeValue{
			{Key: "_WorkType_", Value: strp("Development")},
			{Key: "_Account_", Value: nil},
		}},
	}
}

func TestNormalizeEnrichedWorklog(t *testing.T) {
	issues := &stubIssues{details: map[int64]jira.IssueDetails{
		10001: {
			ID: "10001", Key: "OPS-12", ProjectKey: "OPS",
			CustomFields: model.Metadata{
				{Key: "customfield_10200", Value: model.MetaString("X")},
				{Key: "customfield_10300", Value: model.MetaNull{}},
			},
		},
	}}
	n := NewWorklogNormalizer(
		WithIssueLookup(issues),
		WithNameLookup(stubNames{"557058:abc": "Dana Developer"}),
	)

	batch := n.Normalize(context.Background(), 4, []tempo.Worklog{sampleWorklog(777, 10001)}, importedAt)

	require.Empty(t, batch.Errors)
	require.Len(t, batch.Candidates, 1)
	e := batch.Candidates[0]

	assert.Equal(t, "777", e.ExternalID)
	assert.Equal(t, int64(4), e.SourceID)
	assert.Equal(t, model.SourceWorklogAPI, e.SourceKind)
	assert.Equal(t, "557058:abc", e.UserIdentifier)
	assert.Equal(t, "2024-03-15", e.WorkDate.String())
	assert.Equal(t, 3600, e.DurationSeconds)
	assert.Equal(t, "Working on OPS-12", e.Description)
	assert.Equal(t, "OPS", model.Deref(e.ProjectKey))
	assert.Equal(t, "OPS-12", model.Deref(e.IssueKey))

	assert.Equal(t, []string{
		MetaBillableSeconds,
		MetaStartTime,
		"attr__WorkType_",
		"attr__Account_",
		"customfield_10200",
		"customfield_10300",
		MetaAuthorDisplayName,
	}, e.Metadata.Keys())

	v, _ := e.Metadata.Get(MetaBillableSeconds)
	assert.Equal(t, model.MetaRaw("1800"), v)
	v, _ = e.Metadata.Get("attr__Account_")
	assert.Equal(t, model.MetaNull{}, v)
	v, _ = e.Metadata.Get(MetaAuthorDisplayName)
	assert.Equal(t, model.MetaString("Dana Developer"), v)
}

func TestNormalizeResolvesLegacyAccountIDs(t *testing.T) {
	w := sampleWorklog(778, 0)
	w.Issue = nil
	w.Author = &tempo.Author{AccountID: "5b10ac8d82e05b22cc7d4ef5"}
	n := NewWorklogNormalizer(WithNameLookup(stubNames{"5b10ac8d82e05b22cc7d4ef5": "Lee Legacy"}))

	batch := n.Normalize(context.Background(), 1, []tempo.Worklog{w}, importedAt)

	require.Len(t, batch.Candidates, 1)
	v, ok := batch.Candidates[0].Metadata.Get(MetaAuthorDisplayName)
	require.True(t, ok)
	assert.Equal(t, model.MetaString("Lee Legacy"), v)
}

func TestNormalizeEnrichmentFailureIsNotFatal(t *testing.T) {
	n := NewWorklogNormalizer(WithIssueLookup(&stubIssues{}))

	batch := n.Normalize(context.Background(), 1, []tempo.Worklog{sampleWorklog(1, 404)}, importedAt)

	require.Empty(t, batch.Errors)
	require.Len(t, batch.Candidates, 1)
	e := batch.Candidates[0]
	assert.Nil(t, e.ProjectKey)
	assert.Nil(t, e.IssueKey)
	_, ok := e.Metadata.Get("customfield_10200")
	assert.False(t, ok)
}

func TestNormalizeLooksUpEachIssueOnce(t *testing.T) {
	issues := &stubIssues{details: map[int64]jira.IssueDetails{
		1: {Key: "A-1", ProjectKey: "A"},
		2: {Key: "B-2", ProjectKey: "B"},
	}}
	n := NewWorklogNormalizer(WithIssueLookup(issues), WithEnrichConcurrency(2))

	worklogs := []tempo.Worklog{
		sampleWorklog(10, 1),
		sampleWorklog(11, 2),
		sampleWorklog(12, 1),
		sampleWorklog(13, 1),
	}
	batch := n.Normalize(context.Background(), 1, worklogs, importedAt)

	require.Len(t, batch.Candidates, 4)
	assert.Equal(t, map[int64]int{1: 1, 2: 1}, issues.calls)
	assert.Equal(t, "A-1", model.Deref(batch.Candidates[2].IssueKey))
	assert.Equal(t, "B-2", model.Deref(batch.Candidates[1].IssueKey))
}

func TestNormalizeBoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	lookup := issueFunc(func(ctx context.Context, id int64) (jira.IssueDetails, error) {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		return jira.IssueDetails{Key: "K"}, nil
	})
	n := NewWorklogNormalizer(WithIssueLookup(lookup), WithEnrichConcurrency(3))

	var worklogs []tempo.Worklog
	for i := int64(1); i <= 20; i++ {
		worklogs = append(worklogs, sampleWorklog(i, i))
	}
	batch := n.Normalize(context.Background(), 1, worklogs, importedAt)

	assert.Len(t, batch.Candidates, 20)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

type issueFunc func(ctx context.Context, id int64) (jira.IssueDetails, error)

func (f issueFunc) Issue(ctx context.Context, id int64) (jira.IssueDetails, error) {
	return f(ctx, id)
}

func TestNormalizeRecordErrors(t *testing.T) {
	badDate := sampleWorklog(1, 0)
	badDate.StartDate = "15/03/2024"
	zero := sampleWorklog(2, 0)
	zero.TimeSpentSeconds = 0
	anonymous := sampleWorklog(3, 0)
	anonymous.Author = nil
	anonymous.Issue = nil
	anonymous.Description = nil
	anonymous.StartTime = nil

	batch := NewWorklogNormalizer().Normalize(context.Background(), 1,
		[]tempo.Worklog{badDate, zero, anonymous}, importedAt)

	assert.Equal(t, []string{
		"Worklog 1: cannot parse date '15/03/2024'.",
		"Worklog 2: non-positive duration 0.",
	}, batch.Errors)
	require.Len(t, batch.Candidates, 1)

	e := batch.Candidates[0]
	assert.Equal(t, UnknownUser, e.UserIdentifier)
	assert.Equal(t, "", e.Description)
	v, ok := e.Metadata.Get(MetaStartTime)
	require.True(t, ok)
	assert.Equal(t, model.MetaNull{}, v)
}
