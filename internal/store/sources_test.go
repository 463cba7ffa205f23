package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/timebridge/internal/model"
)

func TestSourceLifecycle(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	src, err := s.CreateSource(ctx, model.Source{
		Name:     "Tempo",
		Kind:     model.SourceWorklogAPI,
		BaseURL:  "https://api.tempo.io/4",
		APIToken: "secret",
		Enabled:  true,
	})
	require.NoError(t, err)

	got, err := s.GetSource(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, "Tempo", got.Name)
	assert.Equal(t, model.SourceWorklogAPI, got.Kind)
	assert.True(t, got.HasToken())
	assert.Nil(t, got.LastPolledAt)

	polled := testNow.Add(time.Hour)
	require.NoError(t, s.TouchSourcePolled(ctx, src.ID, polled))
	got, err = s.GetSource(ctx, src.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastPolledAt)
	assert.True(t, got.LastPolledAt.Equal(polled))

	createTestSource(t, s, model.SourceUpload)
	enabled, err := s.EnabledSources(ctx, model.SourceWorklogAPI)
	require.NoError(t, err)
	assert.Len(t, enabled, 1)

	require.NoError(t, s.SetSourceEnabled(ctx, src.ID, false))
	enabled, err = s.EnabledSources(ctx, model.SourceWorklogAPI)
	require.NoError(t, err)
	assert.Empty(t, enabled)

	all, err := s.ListSources(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSourceNotFound(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.GetSource(ctx, 7)
	assert.ErrorIs(t, err, ErrSourceNotFound)
	assert.ErrorIs(t, s.TouchSourcePolled(ctx, 7, testNow), ErrSourceNotFound)
}

func TestCreateSource_RejectsUnknownKind(t *testing.T) {
	s := createTestStore(t)
	_, err := s.CreateSource(context.Background(), model.Source{Name: "x", Kind: "ftp"})
	assert.Error(t, err)
}

func TestEmployeeMappings(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	src := createTestSource(t, s, model.SourceWorklogAPI)

	a := createTestEntry(src.ID, "1")
	a.UserIdentifier = "557058:abc"
	b := createTestEntry(src.ID, "2")
	b.UserIdentifier = "557058:def"
	insertTestEntries(t, s, a, b, createTestEntry(src.ID, "3"))

	_, err := s.UpsertEmployeeMapping(ctx, model.EmployeeMapping{AccountID: "557058:abc", TargetUserID: 12})
	require.NoError(t, err)

	unmapped, err := s.UnmappedAccountIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"557058:def"}, unmapped, "emails are not account ids")

	m, ok, err := s.EmployeeMappingFor(ctx, "557058:abc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(12), m.TargetUserID)

	id, err := s.UpsertEmployeeMapping(ctx, model.EmployeeMapping{AccountID: "557058:abc", TargetUserID: 13, DisplayName: model.StringPtr("Ada")})
	require.NoError(t, err)
	assert.Equal(t, m.ID, id)

	list, err := s.ListEmployeeMappings(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(13), list[0].TargetUserID)
	assert.Equal(t, "Ada", model.Deref(list[0].DisplayName))

	require.NoError(t, s.DeleteEmployeeMapping(ctx, id))
	_, ok, err = s.EmployeeMappingFor(ctx, "557058:abc")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.ErrorIs(t, s.DeleteEmployeeMapping(ctx, id), ErrEmployeeNotFound)
}
