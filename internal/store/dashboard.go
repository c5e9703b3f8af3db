package store

import (
	"fmt"
	"time"

	"github.com/23026475/trackit/internal/models"
)

// Dashboard computes the per-user overview across every project the user is a
// member of. Due-date windows are evaluated in Go against the store clock.
func (s *Store) Dashboard(userID string) (*models.Dashboard, error) {
	d := &models.Dashboard{
		ProjectsByStatus: map[models.ProjectStatus]int{},
		TasksByStatus:    map[models.TaskStatus]int{},
	}
	for _, st := range models.BoardColumns {
		d.TasksByStatus[st] = 0
	}

	rows, err := s.conn.Query(`
		SELECT p.status, p.archived_at IS NOT NULL
		FROM projects p JOIN memberships m ON m.project_id = p.id
		WHERE m.user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("dashboard projects: %w", err)
	}
	for rows.Next() {
		var status models.ProjectStatus
		var archived bool
		if err := rows.Scan(&status, &archived); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan project: %w", err)
		}
		if archived {
			d.ArchivedProjects++
			continue
		}
		d.ProjectsByStatus[status]++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dashboard projects: iterate: %w", err)
	}

	rows, err = s.conn.Query(`
		SELECT t.status, t.due_date
		FROM tasks t
		JOIN projects p ON p.id = t.project_id
		JOIN memberships m ON m.project_id = p.id
		WHERE m.user_id = ? AND p.archived_at IS NULL`, userID)
	if err != nil {
		return nil, fmt.Errorf("dashboard tasks: %w", err)
	}
	now := s.now()
	for rows.Next() {
		t := &models.Task{}
		if err := rows.Scan(&t.Status, &t.DueDate); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan task: %w", err)
		}
		d.TasksByStatus[t.Status]++
		if t.Overdue(now) {
			d.OverdueTasks++
		} else if dueWithinWeek(t, now) {
			d.DueThisWeek++
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dashboard tasks: iterate: %w", err)
	}

	if err := s.conn.QueryRow(`
		SELECT COUNT(*) FROM sprints sp
		JOIN projects p ON p.id = sp.project_id
		JOIN memberships m ON m.project_id = p.id
		WHERE m.user_id = ? AND sp.status = 'active' AND p.archived_at IS NULL`, userID,
	).Scan(&d.ActiveSprints); err != nil {
		return nil, fmt.Errorf("dashboard sprints: %w", err)
	}

	if d.Notes, err = s.CountNotes(userID); err != nil {
		return nil, err
	}
	return d, nil
}

// dueWithinWeek reports an open task due today or in the next seven days.
func dueWithinWeek(t *models.Task, now time.Time) bool {
	if t.DueDate == nil || t.Status == models.TaskDone {
		return false
	}
	y, m, day := now.UTC().Date()
	today := time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
	return !t.DueDate.Before(today) && t.DueDate.Before(today.AddDate(0, 0, 8))
}
