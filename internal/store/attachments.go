package store

import (
	"database/sql"
	"fmt"

	"github.com/23026475/trackit/internal/models"
)

const attachmentColumns = `a.id, a.note_id, a.filename, a.content_type, a.size, a.storage_key, a.uploaded_by, a.created_at`

func scanAttachment(row interface{ Scan(...any) error }) (*models.Attachment, error) {
	a := &models.Attachment{}
	if err := row.Scan(&a.ID, &a.NoteID, &a.Filename, &a.ContentType, &a.Size, &a.StorageKey, &a.UploadedBy, &a.CreatedAt); err != nil {
		return nil, err
	}
	return a, nil
}

// AddAttachment records a stored blob against one of the owner's notes.
func (s *Store) AddAttachment(ownerID string, a *models.Attachment) error {
	if a.ContentType == "" {
		a.ContentType = "application/octet-stream"
	}
	a.ID = mustID("a_")
	a.CreatedAt = s.now()

	return s.withTx(func(tx *sql.Tx) error {
		if err := checkNoteOwner(tx, ownerID, a.NoteID); err != nil {
			return err
		}
		if _, err := tx.Exec(`
			INSERT INTO attachments (id, note_id, filename, content_type, size, storage_key, uploaded_by, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, a.ID, a.NoteID, a.Filename, a.ContentType, a.Size, a.StorageKey, a.UploadedBy, a.CreatedAt); err != nil {
			return fmt.Errorf("insert attachment: %w", err)
		}
		return touchNote(tx, a.NoteID, a.CreatedAt)
	})
}

// GetAttachment returns an attachment of one of the owner's notes, or nil if
// not found.
func (s *Store) GetAttachment(ownerID, noteID, attachmentID string) (*models.Attachment, error) {
	a, err := scanAttachment(s.conn.QueryRow(`
		SELECT `+attachmentColumns+`
		FROM attachments a JOIN notes n ON n.id = a.note_id
		WHERE a.id = ? AND a.note_id = ? AND n.owner_id = ?`,
		attachmentID, noteID, ownerID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get attachment: %w", err)
	}
	return a, nil
}

// ListAttachments returns a note's attachments, newest first.
func (s *Store) ListAttachments(ownerID, noteID string) ([]*models.Attachment, error) {
	rows, err := s.conn.Query(`
		SELECT `+attachmentColumns+`
		FROM attachments a JOIN notes n ON n.id = a.note_id
		WHERE a.note_id = ? AND n.owner_id = ?
		ORDER BY a.created_at DESC, a.id`,
		noteID, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	out := []*models.Attachment{}
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list attachments: iterate: %w", err)
	}
	return out, nil
}

// DeleteAttachment removes the attachment row and returns it so the caller
// can delete the blob.
func (s *Store) DeleteAttachment(ownerID, noteID, attachmentID string) (*models.Attachment, error) {
	a, err := s.GetAttachment(ownerID, noteID, attachmentID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("attachment %s: %w", attachmentID, ErrNotFound)
	}
	if _, err := s.conn.Exec(`DELETE FROM attachments WHERE id = ?`, a.ID); err != nil {
		return nil, fmt.Errorf("delete attachment: %w", err)
	}
	return a, nil
}

// AttachmentBytes returns the total stored size across all attachments.
func (s *Store) AttachmentBytes() (int64, error) {
	var n int64
	if err := s.conn.QueryRow(`SELECT COALESCE(SUM(size), 0) FROM attachments`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sum attachments: %w", err)
	}
	return n, nil
}
