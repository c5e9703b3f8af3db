package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23026475/trackit/internal/models"
)

func TestNotesAreOwnerScoped(t *testing.T) {
	s := newTestStore(t)
	alice := createTestUser(t, s, "alice@example.com")
	bob := createTestUser(t, s, "bob@example.com")

	n := &models.Note{OwnerID: alice.ID, Title: "SQLite WAL", Content: "checkpoint notes", Tags: []string{"db", "sqlite"}}
	require.NoError(t, s.CreateNote(n))

	got, err := s.GetNote(alice.ID, n.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"db", "sqlite"}, got.Tags)

	got, err = s.GetNote(bob.ID, n.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	n.OwnerID = bob.ID
	assert.ErrorIs(t, s.UpdateNote(n), ErrNotFound)
	_, err = s.DeleteNote(bob.ID, n.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.AddNoteTask(bob.ID, n.ID, "steal")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListNotesSearchAndTag(t *testing.T) {
	s := newTestStore(t)
	u := createTestUser(t, s, "notes@example.com")
	advance := fixClock(s, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))

	for _, n := range []*models.Note{
		{Title: "Kanban ideas", Content: "drag and drop", Tags: []string{"ui"}},
		{Title: "Sprint review", Content: "velocity", Tags: []string{"process", "ui"}},
		{Title: "Reading list", Content: "go concurrency patterns", Tags: []string{"go"}},
	} {
		n.OwnerID = u.ID
		require.NoError(t, s.CreateNote(n))
		advance(time.Minute)
	}

	all, err := s.ListNotes(u.ID, NoteFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Reading list", all[0].Title, "newest first")

	ui, err := s.ListNotes(u.ID, NoteFilter{Tag: "UI"})
	require.NoError(t, err)
	assert.Len(t, ui, 2)

	found, err := s.ListNotes(u.ID, NoteFilter{Search: "concurrency"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Reading list", found[0].Title)

	n, err := s.CountNotes(u.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestListNotesSearchMatchesWildcardsLiterally(t *testing.T) {
	s := newTestStore(t)
	u := createTestUser(t, s, "wild@example.com")
	for _, n := range []*models.Note{
		{Title: "naming", Content: "prefer snake_case columns"},
		{Title: "snakeXcase", Content: "not a match"},
		{Title: "budget", Content: "spent 80% of it"},
		{Title: `C:\temp`, Content: "windows path"},
	} {
		n.OwnerID = u.ID
		require.NoError(t, s.CreateNote(n))
	}

	search := func(q string) []string {
		got, err := s.ListNotes(u.ID, NoteFilter{Search: q})
		require.NoError(t, err)
		out := []string{}
		for _, n := range got {
			out = append(out, n.Title)
		}
		return out
	}

	assert.Equal(t, []string{"naming"}, search("snake_case"))
	assert.Equal(t, []string{"budget"}, search("%"))
	assert.Empty(t, search("_x_"))
	assert.Equal(t, []string{`C:\temp`}, search(`\`))
}

func TestNoteChecklist(t *testing.T) {
	s := newTestStore(t)
	u := createTestUser(t, s, "check@example.com")
	n := &models.Note{OwnerID: u.ID, Title: "Plan"}
	require.NoError(t, s.CreateNote(n))

	a, err := s.AddNoteTask(u.ID, n.ID, "read paper")
	require.NoError(t, err)
	b, err := s.AddNoteTask(u.ID, n.ID, "write summary")
	require.NoError(t, err)
	c, err := s.AddNoteTask(u.ID, n.ID, "share")
	require.NoError(t, err)
	assert.Equal(t, 2, c.Position)

	toggled, err := s.ToggleNoteTask(u.ID, n.ID, a.ID)
	require.NoError(t, err)
	assert.True(t, toggled.Done)
	toggled, err = s.ToggleNoteTask(u.ID, n.ID, a.ID)
	require.NoError(t, err)
	assert.False(t, toggled.Done)

	title, done := "write a summary", true
	updated, err := s.UpdateNoteTask(u.ID, n.ID, b.ID, NoteTaskUpdate{Title: &title, Done: &done})
	require.NoError(t, err)
	assert.Equal(t, "write a summary", updated.Title)
	assert.True(t, updated.Done)

	require.NoError(t, s.ReorderNoteTasks(u.ID, n.ID, []string{c.ID, a.ID, b.ID}))
	items, err := s.ListNoteTasks(u.ID, n.ID)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, []string{c.ID, a.ID, b.ID}, []string{items[0].ID, items[1].ID, items[2].ID})

	var ve *models.ValidationError
	assert.ErrorAs(t, s.ReorderNoteTasks(u.ID, n.ID, []string{c.ID, a.ID}), &ve)
	assert.ErrorAs(t, s.ReorderNoteTasks(u.ID, n.ID, []string{c.ID, c.ID, a.ID}), &ve)

	require.NoError(t, s.DeleteNoteTask(u.ID, n.ID, a.ID))
	items, err = s.ListNoteTasks(u.ID, n.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	for i, it := range items {
		assert.Equal(t, i, it.Position)
	}
	assert.ErrorIs(t, s.DeleteNoteTask(u.ID, n.ID, a.ID), ErrNotFound)

	_, err = s.ToggleNoteTask(u.ID, n.ID, "nt_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAttachmentsAndNoteDelete(t *testing.T) {
	s := newTestStore(t)
	u := createTestUser(t, s, "files@example.com")
	n := &models.Note{OwnerID: u.ID, Title: "With files"}
	require.NoError(t, s.CreateNote(n))

	a := &models.Attachment{NoteID: n.ID, Filename: "diagram.png", ContentType: "image/png", Size: 2048, StorageKey: "ab/abcd", UploadedBy: u.ID}
	require.NoError(t, s.AddAttachment(u.ID, a))
	b := &models.Attachment{NoteID: n.ID, Filename: "raw.bin", Size: 10, StorageKey: "cd/cdef", UploadedBy: u.ID}
	require.NoError(t, s.AddAttachment(u.ID, b))
	assert.Equal(t, "application/octet-stream", b.ContentType)

	list, err := s.ListAttachments(u.ID, n.ID)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	total, err := s.AttachmentBytes()
	require.NoError(t, err)
	assert.EqualValues(t, 2058, total)

	got, err := s.GetAttachment(u.ID, n.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "ab/abcd", got.StorageKey)

	removed, err := s.DeleteAttachment(u.ID, n.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "ab/abcd", removed.StorageKey)
	_, err = s.DeleteAttachment(u.ID, n.ID, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.AddNoteTask(u.ID, n.ID, "item")
	require.NoError(t, err)

	keys, err := s.DeleteNote(u.ID, n.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"cd/cdef"}, keys)

	got, err = s.GetAttachment(u.ID, n.ID, b.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	other := createTestUser(t, s, "other@example.com")
	err = s.AddAttachment(other.ID, &models.Attachment{NoteID: n.ID, Filename: "x", StorageKey: "ef/ef"})
	assert.ErrorIs(t, err, ErrNotFound)
}
