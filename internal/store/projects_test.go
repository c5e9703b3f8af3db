package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23026475/trackit/internal/models"
)

func TestCreateProjectAddsOwner(t *testing.T) {
	s := newTestStore(t)
	u := createTestUser(t, s, "owner@example.com")

	p := &models.Project{OwnerID: u.ID, Name: "Portfolio", TechStack: []string{"Go", "SQLite"}}
	require.NoError(t, s.CreateProject(p))
	assert.Equal(t, models.ProjectPlanning, p.Status)
	assert.Equal(t, models.PriorityMedium, p.Priority)

	m, err := s.GetMembership(p.ID, u.ID)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, models.RoleOwner, m.Role)

	got, err := s.GetProject(p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Go", "SQLite"}, got.TechStack)
	assert.False(t, got.Archived())
}

func TestGetProjectMissing(t *testing.T) {
	s := newTestStore(t)
	p, err := s.GetProject("p_missing")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestArchiveAndRestore(t *testing.T) {
	s := newTestStore(t)
	u := createTestUser(t, s, "hist@example.com")
	live := createTestProject(t, s, u.ID, "Live")
	old := createTestProject(t, s, u.ID, "Old")

	archived, err := s.ArchiveProject(old.ID)
	require.NoError(t, err)
	require.NotNil(t, archived.ArchivedAt)

	_, err = s.ArchiveProject(old.ID)
	assert.ErrorIs(t, err, ErrConflict)

	active, err := s.ListProjectsForUser(u.ID, false)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, live.ID, active[0].ID)

	history, err := s.ListProjectsForUser(u.ID, true)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, old.ID, history[0].ID)

	// Archived projects are read-only.
	archived.Name = "Renamed"
	assert.ErrorIs(t, s.UpdateProject(archived), ErrArchived)

	restored, err := s.RestoreProject(old.ID)
	require.NoError(t, err)
	assert.Nil(t, restored.ArchivedAt)

	_, err = s.RestoreProject(old.ID)
	assert.ErrorIs(t, err, ErrConflict)
	_, err = s.RestoreProject("p_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateProject(t *testing.T) {
	s := newTestStore(t)
	u := createTestUser(t, s, "upd@example.com")
	p := createTestProject(t, s, u.ID, "Draft")

	p.Name = "Final"
	p.Status = models.ProjectActive
	p.GitHubURL = "https://github.com/example/final"
	require.NoError(t, s.UpdateProject(p))

	got, err := s.GetProject(p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Final", got.Name)
	assert.Equal(t, models.ProjectActive, got.Status)
	assert.Equal(t, "https://github.com/example/final", got.GitHubURL)

	assert.ErrorIs(t, s.UpdateProject(&models.Project{ID: "p_missing", Name: "x"}), ErrNotFound)
}

func TestDeleteProjectCascades(t *testing.T) {
	s := newTestStore(t)
	u := createTestUser(t, s, "del@example.com")
	other := createTestUser(t, s, "member@example.com")
	p := createTestProject(t, s, u.ID, "Doomed")

	_, err := s.AddMember(p.ID, other.ID, models.RoleWriter, u.ID)
	require.NoError(t, err)

	sp := &models.Sprint{ProjectID: p.ID, Name: "S1"}
	require.NoError(t, s.CreateSprint(sp))

	task := &models.Task{ProjectID: p.ID, Title: "One", SprintID: sp.ID}
	require.NoError(t, s.CreateTask(task))
	require.NoError(t, s.CreateTask(&models.Task{ProjectID: p.ID, Title: "Two"}))
	_, err = s.AddComment(p.ID, task.ID, u.ID, "first")
	require.NoError(t, err)

	res, err := s.DeleteProject(p.ID)
	require.NoError(t, err)
	assert.Equal(t, DeleteResult{Tasks: 2, Sprints: 1, Comments: 1, Members: 2}, *res)

	got, err := s.GetProject(p.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	tasks, err := s.ListTasks(p.ID, TaskFilter{})
	require.NoError(t, err)
	assert.Empty(t, tasks)

	_, err = s.DeleteProject(p.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

// --- Memberships ---

func TestMembershipRoles(t *testing.T) {
	s := newTestStore(t)
	owner := createTestUser(t, s, "o@example.com")
	writer := createTestUser(t, s, "w@example.com")
	stranger := createTestUser(t, s, "x@example.com")
	p := createTestProject(t, s, owner.ID, "Shared")

	m, err := s.AddMember(p.ID, writer.ID, models.RoleWriter, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, "w@example.com", m.Email)

	_, err = s.AddMember(p.ID, writer.ID, models.RoleReader, owner.ID)
	assert.ErrorIs(t, err, ErrConflict)
	_, err = s.AddMember(p.ID, "u_missing", models.RoleReader, owner.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.AddMember(p.ID, stranger.ID, "admin", owner.ID)
	assert.Error(t, err)

	_, role, err := s.Authorize(p.ID, writer.ID, models.RoleReader)
	require.NoError(t, err)
	assert.Equal(t, models.RoleWriter, role)

	_, _, err = s.Authorize(p.ID, writer.ID, models.RoleOwner)
	assert.ErrorIs(t, err, ErrForbidden)

	// Non-members cannot tell the project exists.
	_, _, err = s.Authorize(p.ID, stranger.ID, models.RoleReader)
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, err = s.Authorize("p_missing", owner.ID, models.RoleReader)
	assert.ErrorIs(t, err, ErrNotFound)

	members, err := s.ListMembers(p.ID)
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

func TestLastOwnerIsProtected(t *testing.T) {
	s := newTestStore(t)
	owner := createTestUser(t, s, "solo@example.com")
	second := createTestUser(t, s, "second@example.com")
	p := createTestProject(t, s, owner.ID, "Mine")

	assert.ErrorIs(t, s.RemoveMember(p.ID, owner.ID), ErrConflict)
	assert.ErrorIs(t, s.UpdateMemberRole(p.ID, owner.ID, models.RoleReader), ErrConflict)

	_, err := s.AddMember(p.ID, second.ID, models.RoleReader, owner.ID)
	require.NoError(t, err)
	require.NoError(t, s.UpdateMemberRole(p.ID, second.ID, models.RoleOwner))
	require.NoError(t, s.UpdateMemberRole(p.ID, owner.ID, models.RoleWriter))

	assert.ErrorIs(t, s.RemoveMember(p.ID, "u_missing"), ErrNotFound)
	require.NoError(t, s.RemoveMember(p.ID, owner.ID))

	m, err := s.GetMembership(p.ID, owner.ID)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestListProjectsOnlyMemberships(t *testing.T) {
	s := newTestStore(t)
	a := createTestUser(t, s, "a@example.com")
	b := createTestUser(t, s, "b@example.com")
	createTestProject(t, s, a.ID, "A's")

	list, err := s.ListProjectsForUser(b.ID, false)
	require.NoError(t, err)
	assert.Empty(t, list)

	n, err := s.CountProjects()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
