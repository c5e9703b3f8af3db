package store

import (
	"database/sql"
	"fmt"

	"github.com/23026475/trackit/internal/models"
)

// AddComment appends a comment to a task of the project.
func (s *Store) AddComment(projectID, taskID, authorID, body string) (*models.Comment, error) {
	c := &models.Comment{
		ID:       mustID("c_"),
		TaskID:   taskID,
		AuthorID: authorID,
		Body:     body,
	}
	err := s.withTx(func(tx *sql.Tx) error {
		if err := checkTaskInProject(tx, projectID, taskID); err != nil {
			return err
		}
		now := s.now()
		c.CreatedAt = now
		c.UpdatedAt = now
		if _, err := tx.Exec(
			`INSERT INTO comments (id, task_id, author_id, body, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
			c.ID, c.TaskID, c.AuthorID, c.Body, c.CreatedAt, c.UpdatedAt,
		); err != nil {
			return fmt.Errorf("insert comment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListComments returns a task's comments, oldest first.
func (s *Store) ListComments(projectID, taskID string) ([]*models.Comment, error) {
	rows, err := s.conn.Query(`
		SELECT c.id, c.task_id, c.author_id, c.body, c.created_at, c.updated_at
		FROM comments c JOIN tasks t ON t.id = c.task_id
		WHERE c.task_id = ? AND t.project_id = ?
		ORDER BY c.created_at, c.id`,
		taskID, projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	comments := []*models.Comment{}
	for rows.Next() {
		c := &models.Comment{}
		if err := rows.Scan(&c.ID, &c.TaskID, &c.AuthorID, &c.Body, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list comments: iterate: %w", err)
	}
	return comments, nil
}

// GetComment returns a comment on a task of the project, or nil if not found.
func (s *Store) GetComment(projectID, taskID, commentID string) (*models.Comment, error) {
	c := &models.Comment{}
	err := s.conn.QueryRow(`
		SELECT c.id, c.task_id, c.author_id, c.body, c.created_at, c.updated_at
		FROM comments c JOIN tasks t ON t.id = c.task_id
		WHERE c.id = ? AND c.task_id = ? AND t.project_id = ?`,
		commentID, taskID, projectID,
	).Scan(&c.ID, &c.TaskID, &c.AuthorID, &c.Body, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get comment: %w", err)
	}
	return c, nil
}

// UpdateComment edits a comment's body. Only the author may edit.
func (s *Store) UpdateComment(projectID, taskID, commentID, userID, body string) (*models.Comment, error) {
	c, err := s.GetComment(projectID, taskID, commentID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("comment %s: %w", commentID, ErrNotFound)
	}
	if c.AuthorID != userID {
		return nil, fmt.Errorf("only the author can edit a comment: %w", ErrForbidden)
	}

	c.Body = body
	c.UpdatedAt = s.now()
	if _, err := s.conn.Exec(`UPDATE comments SET body = ?, updated_at = ? WHERE id = ?`, c.Body, c.UpdatedAt, c.ID); err != nil {
		return nil, fmt.Errorf("update comment: %w", err)
	}
	return c, nil
}

// DeleteComment removes a comment. The author or a project owner may delete.
func (s *Store) DeleteComment(projectID, taskID, commentID, userID string, role models.Role) error {
	c, err := s.GetComment(projectID, taskID, commentID)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("comment %s: %w", commentID, ErrNotFound)
	}
	if c.AuthorID != userID && role != models.RoleOwner {
		return fmt.Errorf("only the author or a project owner can delete a comment: %w", ErrForbidden)
	}
	if _, err := s.conn.Exec(`DELETE FROM comments WHERE id = ?`, commentID); err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	return nil
}

func checkTaskInProject(q rowQuerier, projectID, taskID string) error {
	var exists int
	err := q.QueryRow(`SELECT 1 FROM tasks WHERE id = ? AND project_id = ?`, taskID, projectID).Scan(&exists)
	if err == sql.ErrNoRows {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("check task: %w", err)
	}
	return nil
}
