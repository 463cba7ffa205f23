package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/timebridge/internal/model"
)

func TestUpsertProject_UpdatesInPlace(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	id1, err := s.UpsertProject(ctx, model.Project{ExternalID: "1", Name: "Old", IsActive: true, LastSyncedAt: testNow})
	require.NoError(t, err)
	id2, err := s.UpsertProject(ctx, model.Project{ExternalID: "1", Name: "New", Description: model.StringPtr("d"), IsActive: true, LastSyncedAt: testNow})
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	p, err := s.GetProject(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, "New", p.Name)
	assert.Equal(t, "d", model.Deref(p.Description))
}

func TestUpsertTask_UniquePerProject(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	p1, err := s.UpsertProject(ctx, model.Project{ExternalID: "1", Name: "A", IsActive: true, LastSyncedAt: testNow})
	require.NoError(t, err)
	p2, err := s.UpsertProject(ctx, model.Project{ExternalID: "2", Name: "B", IsActive: true, LastSyncedAt: testNow})
	require.NoError(t, err)

	t1, err := s.UpsertTask(ctx, model.Task{ProjectID: p1, ExternalID: "9", Name: "t", IsActive: true, LastSyncedAt: testNow})
	require.NoError(t, err)
	t2, err := s.UpsertTask(ctx, model.Task{ProjectID: p2, ExternalID: "9", Name: "t", IsActive: true, LastSyncedAt: testNow})
	require.NoError(t, err)
	assert.NotEqual(t, t1, t2, "same external id under different projects")

	again, err := s.UpsertTask(ctx, model.Task{ProjectID: p1, ExternalID: "9", Name: "renamed", IsActive: false, LastSyncedAt: testNow})
	require.NoError(t, err)
	assert.Equal(t, t1, again)

	task, err := s.GetTask(ctx, t1)
	require.NoError(t, err)
	assert.Equal(t, "renamed", task.Name)
	assert.False(t, task.IsActive)
}

func TestDeactivateExcept(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	keep, err := s.UpsertProject(ctx, model.Project{ExternalID: "keep", Name: "Keep", IsActive: true, LastSyncedAt: testNow})
	require.NoError(t, err)
	_, err = s.UpsertProject(ctx, model.Project{ExternalID: "gone", Name: "Gone", IsActive: true, LastSyncedAt: testNow})
	require.NoError(t, err)

	n, err := s.DeactivateProjectsExcept(ctx, []string{"keep"}, testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	active, err := s.ListProjects(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "keep", active[0].ExternalID)

	all, err := s.ListProjects(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = s.UpsertTask(ctx, model.Task{ProjectID: keep, ExternalID: "a", Name: "A", IsActive: true, LastSyncedAt: testNow})
	require.NoError(t, err)
	_, err = s.UpsertTask(ctx, model.Task{ProjectID: keep, ExternalID: "b", Name: "B", IsActive: true, LastSyncedAt: testNow})
	require.NoError(t, err)

	n, err = s.DeactivateTasksExcept(ctx, keep, nil, testNow)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "empty keep list retires every task")

	tasks, err := s.ListTasks(ctx, keep)
	require.NoError(t, err)
	for _, task := range tasks {
		assert.False(t, task.IsActive)
	}
}

func TestTaxonomyNotFound(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	_, err := s.GetProject(ctx, 1)
	assert.ErrorIs(t, err, ErrProjectNotFound)
	_, err = s.GetTask(ctx, 1)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestLookupByExternalID(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	projectID, taskID := createTestTaxonomy(t, s)

	p, err := s.ProjectByExternalID(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, projectID, p.ID)

	task, err := s.TaskByExternalID(ctx, projectID, "501")
	require.NoError(t, err)
	assert.Equal(t, taskID, task.ID)

	_, err = s.ProjectByExternalID(ctx, "999")
	assert.ErrorIs(t, err, ErrProjectNotFound)

	_, err = s.TaskByExternalID(ctx, projectID, "999")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}
