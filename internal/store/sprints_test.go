package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23026475/trackit/internal/models"
)

func (f *boardFixture) sprint(t *testing.T, name string) *models.Sprint {
	t.Helper()
	sp := &models.Sprint{ProjectID: f.project.ID, Name: name}
	require.NoError(t, f.s.CreateSprint(sp))
	return sp
}

func (f *boardFixture) addTo(t *testing.T, sprintID, title string, status models.TaskStatus) *models.Task {
	t.Helper()
	task := &models.Task{ProjectID: f.project.ID, SprintID: sprintID, Title: title, Status: status}
	require.NoError(t, f.s.CreateTask(task))
	return task
}

func TestSprintLifecycle(t *testing.T) {
	f := newBoardFixture(t)
	s1 := f.sprint(t, "Sprint 1")
	s2 := f.sprint(t, "Sprint 2")
	assert.Equal(t, models.SprintPlanned, s1.Status)

	f.addTo(t, s1.ID, "done one", models.TaskDone)
	open := f.addTo(t, s1.ID, "open one", models.TaskInProgress)

	// Only active sprints complete.
	_, err := f.s.CompleteSprint(f.project.ID, s1.ID, "")
	assert.ErrorIs(t, err, ErrConflict)

	started, err := f.s.StartSprint(f.project.ID, s1.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SprintActive, started.Status)
	assert.NotNil(t, started.StartDate)

	// One active sprint per project.
	_, err = f.s.StartSprint(f.project.ID, s2.ID)
	assert.ErrorIs(t, err, ErrConflict)

	active, err := f.s.ActiveSprint(f.project.ID)
	require.NoError(t, err)
	assert.Equal(t, s1.ID, active.ID)

	got, err := f.s.GetSprint(f.project.ID, s1.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SprintProgress{Total: 2, Done: 1, Percent: 50}, got.Progress)

	res, err := f.s.CompleteSprint(f.project.ID, s1.ID, s2.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Done)
	assert.Equal(t, 1, res.CarriedOver)
	assert.Equal(t, models.SprintCompleted, res.Sprint.Status)
	assert.NotNil(t, res.Sprint.CompletedAt)

	moved, err := f.s.GetTask(f.project.ID, open.ID)
	require.NoError(t, err)
	assert.Equal(t, s2.ID, moved.SprintID)

	_, err = f.s.StartSprint(f.project.ID, s1.ID)
	assert.ErrorIs(t, err, ErrConflict)

	// The second sprint can start now that the first is closed.
	_, err = f.s.StartSprint(f.project.ID, s2.ID)
	require.NoError(t, err)
}

func TestCompleteSprintToBacklog(t *testing.T) {
	f := newBoardFixture(t)
	sp := f.sprint(t, "S")
	open := f.addTo(t, sp.ID, "open", models.TaskTodo)
	_, err := f.s.StartSprint(f.project.ID, sp.ID)
	require.NoError(t, err)

	_, err = f.s.CompleteSprint(f.project.ID, sp.ID, sp.ID)
	var ve *models.ValidationError
	assert.ErrorAs(t, err, &ve)
	_, err = f.s.CompleteSprint(f.project.ID, sp.ID, "sp_missing")
	assert.ErrorAs(t, err, &ve)

	res, err := f.s.CompleteSprint(f.project.ID, sp.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.CarriedOver)

	got, err := f.s.GetTask(f.project.ID, open.ID)
	require.NoError(t, err)
	assert.Empty(t, got.SprintID)
}

func TestDeleteSprintDetachesTasks(t *testing.T) {
	f := newBoardFixture(t)
	sp := f.sprint(t, "S")
	task := f.addTo(t, sp.ID, "kept", models.TaskTodo)

	n, err := f.s.DeleteSprint(f.project.ID, sp.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.s.GetTask(f.project.ID, task.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Empty(t, got.SprintID)

	_, err = f.s.DeleteSprint(f.project.ID, sp.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAssignTasksToSprint(t *testing.T) {
	f := newBoardFixture(t)
	sp := f.sprint(t, "S")
	a := f.add(t, "a", models.TaskTodo)
	b := f.add(t, "b", models.TaskTodo)

	n, err := f.s.AssignTasksToSprint(f.project.ID, sp.ID, []string{a.ID, b.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	in, err := f.s.ListTasks(f.project.ID, TaskFilter{SprintID: sp.ID})
	require.NoError(t, err)
	assert.Len(t, in, 2)

	_, err = f.s.AssignTasksToSprint(f.project.ID, "", []string{a.ID})
	require.NoError(t, err)
	in, err = f.s.ListTasks(f.project.ID, TaskFilter{SprintID: sp.ID})
	require.NoError(t, err)
	assert.Len(t, in, 1)

	_, err = f.s.AssignTasksToSprint(f.project.ID, sp.ID, []string{"t_missing"})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.s.AssignTasksToSprint(f.project.ID, sp.ID, nil)
	assert.Error(t, err)
}

func TestListSprintsOrder(t *testing.T) {
	f := newBoardFixture(t)
	f.sprint(t, "planned")
	active := f.sprint(t, "active")
	_, err := f.s.StartSprint(f.project.ID, active.ID)
	require.NoError(t, err)

	list, err := f.s.ListSprints(f.project.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "active", list[0].Name)
	assert.Equal(t, "planned", list[1].Name)

	sp := list[1].Sprint
	sp.Goal = "ship it"
	require.NoError(t, f.s.UpdateSprint(sp))
	got, err := f.s.GetSprint(f.project.ID, sp.ID)
	require.NoError(t, err)
	assert.Equal(t, "ship it", got.Goal)

	missing, err := f.s.GetSprint(f.project.ID, "sp_missing")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
