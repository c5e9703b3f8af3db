package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/23026475/trackit/internal/models"
)

const noteColumns = `id, owner_id, title, content, tags, created_at, updated_at`

func scanNote(row interface{ Scan(...any) error }) (*models.Note, error) {
	n := &models.Note{}
	var tags string
	if err := row.Scan(&n.ID, &n.OwnerID, &n.Title, &n.Content, &tags, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return nil, err
	}
	n.Tags = splitList(tags)
	return n, nil
}

// NoteFilter narrows ListNotes.
type NoteFilter struct {
	Search string
	Tag    string
}

// CreateNote inserts a research note owned by n.OwnerID.
func (s *Store) CreateNote(n *models.Note) error {
	if n.Tags == nil {
		n.Tags = []string{}
	}
	n.ID = mustID("n_")
	now := s.now()
	n.CreatedAt = now
	n.UpdatedAt = now

	_, err := s.conn.Exec(
		`INSERT INTO notes (id, owner_id, title, content, tags, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.OwnerID, n.Title, n.Content, joinList(n.Tags), n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

// GetNote returns one of the owner's notes, or nil if not found.
func (s *Store) GetNote(ownerID, noteID string) (*models.Note, error) {
	n, err := scanNote(s.conn.QueryRow(
		`SELECT `+noteColumns+` FROM notes WHERE id = ? AND owner_id = ?`, noteID, ownerID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get note: %w", err)
	}
	return n, nil
}

// ListNotes returns the owner's notes, most recently updated first.
func (s *Store) ListNotes(ownerID string, f NoteFilter) ([]*models.Note, error) {
	query := `SELECT ` + noteColumns + ` FROM notes WHERE owner_id = ?`
	args := []any{ownerID}
	if f.Search != "" {
		query += ` AND (title LIKE ? ESCAPE '\' OR content LIKE ? ESCAPE '\')`
		pattern := containsPattern(f.Search)
		args = append(args, pattern, pattern)
	}
	if f.Tag != "" {
		query += ` AND (',' || tags || ',') LIKE ?`
		args = append(args, "%,"+strings.ToLower(strings.TrimSpace(f.Tag))+",%")
	}
	query += ` ORDER BY updated_at DESC, id`

	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	notes := []*models.Note{}
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list notes: iterate: %w", err)
	}
	return notes, nil
}

// UpdateNote writes title, content and tags.
func (s *Store) UpdateNote(n *models.Note) error {
	n.UpdatedAt = s.now()
	res, err := s.conn.Exec(
		`UPDATE notes SET title = ?, content = ?, tags = ?, updated_at = ? WHERE id = ? AND owner_id = ?`,
		n.Title, n.Content, joinList(n.Tags), n.UpdatedAt, n.ID, n.OwnerID,
	)
	if err != nil {
		return fmt.Errorf("update note: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("note %s: %w", n.ID, ErrNotFound)
	}
	return nil
}

// DeleteNote removes a note with its checklist and attachment rows. It
// returns the storage keys of the removed attachments so the caller can
// delete the blobs.
func (s *Store) DeleteNote(ownerID, noteID string) ([]string, error) {
	var keys []string
	err := s.withTx(func(tx *sql.Tx) error {
		if err := checkNoteOwner(tx, ownerID, noteID); err != nil {
			return err
		}

		rows, err := tx.Query(`SELECT storage_key FROM attachments WHERE note_id = ?`, noteID)
		if err != nil {
			return fmt.Errorf("list attachment keys: %w", err)
		}
		for rows.Next() {
			var k string
			if err := rows.Scan(&k); err != nil {
				rows.Close()
				return fmt.Errorf("scan attachment key: %w", err)
			}
			keys = append(keys, k)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("list attachment keys: iterate: %w", err)
		}

		for _, q := range []string{
			`DELETE FROM attachments WHERE note_id = ?`,
			`DELETE FROM note_tasks WHERE note_id = ?`,
			`DELETE FROM notes WHERE id = ?`,
		} {
			if _, err := tx.Exec(q, noteID); err != nil {
				return fmt.Errorf("delete note: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// CountNotes returns the number of notes a user owns.
func (s *Store) CountNotes(ownerID string) (int, error) {
	var n int
	if err := s.conn.QueryRow(`SELECT COUNT(*) FROM notes WHERE owner_id = ?`, ownerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count notes: %w", err)
	}
	return n, nil
}

// Note checklist items

// AddNoteTask appends a checklist item to a note.
func (s *Store) AddNoteTask(ownerID, noteID, title string) (*models.NoteTask, error) {
	item := &models.NoteTask{ID: mustID("nt_"), NoteID: noteID, Title: title}
	err := s.withTx(func(tx *sql.Tx) error {
		if err := checkNoteOwner(tx, ownerID, noteID); err != nil {
			return err
		}
		if err := tx.QueryRow(`SELECT COUNT(*) FROM note_tasks WHERE note_id = ?`, noteID).Scan(&item.Position); err != nil {
			return fmt.Errorf("count note tasks: %w", err)
		}
		now := s.now()
		item.CreatedAt = now
		item.UpdatedAt = now
		if _, err := tx.Exec(
			`INSERT INTO note_tasks (id, note_id, title, done, position, created_at, updated_at) VALUES (?, ?, ?, 0, ?, ?, ?)`,
			item.ID, noteID, title, item.Position, now, now,
		); err != nil {
			return fmt.Errorf("insert note task: %w", err)
		}
		return touchNote(tx, noteID, now)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// ListNoteTasks returns a note's checklist in order.
func (s *Store) ListNoteTasks(ownerID, noteID string) ([]*models.NoteTask, error) {
	rows, err := s.conn.Query(`
		SELECT nt.id, nt.note_id, nt.title, nt.done, nt.position, nt.created_at, nt.updated_at
		FROM note_tasks nt JOIN notes n ON n.id = nt.note_id
		WHERE nt.note_id = ? AND n.owner_id = ?
		ORDER BY nt.position, nt.id`,
		noteID, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list note tasks: %w", err)
	}
	defer rows.Close()

	items := []*models.NoteTask{}
	for rows.Next() {
		it := &models.NoteTask{}
		if err := rows.Scan(&it.ID, &it.NoteID, &it.Title, &it.Done, &it.Position, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan note task: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list note tasks: iterate: %w", err)
	}
	return items, nil
}

// NoteTaskUpdate holds optional changes to a checklist item.
type NoteTaskUpdate struct {
	Title *string
	Done  *bool
}

// UpdateNoteTask edits a checklist item.
func (s *Store) UpdateNoteTask(ownerID, noteID, itemID string, u NoteTaskUpdate) (*models.NoteTask, error) {
	var item *models.NoteTask
	err := s.withTx(func(tx *sql.Tx) error {
		if err := checkNoteOwner(tx, ownerID, noteID); err != nil {
			return err
		}
		it, err := getNoteTask(tx, noteID, itemID)
		if err != nil {
			return err
		}
		if u.Title != nil {
			it.Title = *u.Title
		}
		if u.Done != nil {
			it.Done = *u.Done
		}
		now := s.now()
		it.UpdatedAt = now
		if _, err := tx.Exec(`UPDATE note_tasks SET title = ?, done = ?, updated_at = ? WHERE id = ?`,
			it.Title, it.Done, now, it.ID); err != nil {
			return fmt.Errorf("update note task: %w", err)
		}
		item = it
		return touchNote(tx, noteID, now)
	})
	return item, err
}

// ToggleNoteTask flips the done flag of a checklist item.
func (s *Store) ToggleNoteTask(ownerID, noteID, itemID string) (*models.NoteTask, error) {
	var item *models.NoteTask
	err := s.withTx(func(tx *sql.Tx) error {
		if err := checkNoteOwner(tx, ownerID, noteID); err != nil {
			return err
		}
		it, err := getNoteTask(tx, noteID, itemID)
		if err != nil {
			return err
		}
		it.Done = !it.Done
		now := s.now()
		it.UpdatedAt = now
		if _, err := tx.Exec(`UPDATE note_tasks SET done = ?, updated_at = ? WHERE id = ?`, it.Done, now, it.ID); err != nil {
			return fmt.Errorf("toggle note task: %w", err)
		}
		item = it
		return touchNote(tx, noteID, now)
	})
	return item, err
}

// DeleteNoteTask removes a checklist item and renumbers the rest.
func (s *Store) DeleteNoteTask(ownerID, noteID, itemID string) error {
	return s.withTx(func(tx *sql.Tx) error {
		if err := checkNoteOwner(tx, ownerID, noteID); err != nil {
			return err
		}
		res, err := tx.Exec(`DELETE FROM note_tasks WHERE id = ? AND note_id = ?`, itemID, noteID)
		if err != nil {
			return fmt.Errorf("delete note task: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("note task %s: %w", itemID, ErrNotFound)
		}
		ids, err := noteTaskIDs(tx, noteID)
		if err != nil {
			return err
		}
		if err := renumberNoteTasks(tx, ids); err != nil {
			return err
		}
		return touchNote(tx, noteID, s.now())
	})
}

// ReorderNoteTasks sets the checklist order. order must name every item of
// the note exactly once.
func (s *Store) ReorderNoteTasks(ownerID, noteID string, order []string) error {
	return s.withTx(func(tx *sql.Tx) error {
		if err := checkNoteOwner(tx, ownerID, noteID); err != nil {
			return err
		}
		ids, err := noteTaskIDs(tx, noteID)
		if err != nil {
			return err
		}
		if len(order) != len(ids) {
			return &models.ValidationError{Field: "order", Message: fmt.Sprintf("expected %d items, got %d", len(ids), len(order))}
		}
		known := make(map[string]bool, len(ids))
		for _, id := range ids {
			known[id] = true
		}
		for _, id := range order {
			if !known[id] {
				return &models.ValidationError{Field: "order", Message: fmt.Sprintf("unknown or repeated item %q", id)}
			}
			delete(known, id)
		}
		if err := renumberNoteTasks(tx, order); err != nil {
			return err
		}
		return touchNote(tx, noteID, s.now())
	})
}

func getNoteTask(tx *sql.Tx, noteID, itemID string) (*models.NoteTask, error) {
	it := &models.NoteTask{}
	err := tx.QueryRow(
		`SELECT id, note_id, title, done, position, created_at, updated_at FROM note_tasks WHERE id = ? AND note_id = ?`,
		itemID, noteID,
	).Scan(&it.ID, &it.NoteID, &it.Title, &it.Done, &it.Position, &it.CreatedAt, &it.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("note task %s: %w", itemID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get note task: %w", err)
	}
	return it, nil
}

func noteTaskIDs(tx *sql.Tx, noteID string) ([]string, error) {
	rows, err := tx.Query(`SELECT id FROM note_tasks WHERE note_id = ? ORDER BY position, id`, noteID)
	if err != nil {
		return nil, fmt.Errorf("list note tasks: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan note task: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func renumberNoteTasks(tx *sql.Tx, ids []string) error {
	for i, id := range ids {
		if _, err := tx.Exec(`UPDATE note_tasks SET position = ? WHERE id = ? AND position != ?`, i, id, i); err != nil {
			return fmt.Errorf("renumber note tasks: %w", err)
		}
	}
	return nil
}

func checkNoteOwner(q rowQuerier, ownerID, noteID string) error {
	var exists int
	err := q.QueryRow(`SELECT 1 FROM notes WHERE id = ? AND owner_id = ?`, noteID, ownerID).Scan(&exists)
	if err == sql.ErrNoRows {
		return fmt.Errorf("note %s: %w", noteID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("check note: %w", err)
	}
	return nil
}

func touchNote(tx *sql.Tx, noteID string, now time.Time) error {
	if _, err := tx.Exec(`UPDATE notes SET updated_at = ? WHERE id = ?`, now, noteID); err != nil {
		return fmt.Errorf("touch note: %w", err)
	}
	return nil
}
