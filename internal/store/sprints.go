package store

import (
	"database/sql"
	"fmt"
	"math"

	"github.com/23026475/trackit/internal/models"
)

const sprintColumns = `id, project_id, name, goal, status, start_date, end_date, completed_at, created_at, updated_at`

func scanSprint(row interface{ Scan(...any) error }) (*models.Sprint, error) {
	sp := &models.Sprint{}
	err := row.Scan(&sp.ID, &sp.ProjectID, &sp.Name, &sp.Goal, &sp.Status, &sp.StartDate, &sp.EndDate,
		&sp.CompletedAt, &sp.CreatedAt, &sp.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return sp, nil
}

// SprintWithProgress pairs a sprint with its task counts.
type SprintWithProgress struct {
	*models.Sprint
	Progress models.SprintProgress `json:"progress"`
}

// CreateSprint inserts a planned sprint.
func (s *Store) CreateSprint(sp *models.Sprint) error {
	sp.ID = mustID("sp_")
	sp.Status = models.SprintPlanned
	sp.CompletedAt = nil
	now := s.now()
	sp.CreatedAt = now
	sp.UpdatedAt = now

	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO sprints (id, project_id, name, goal, status, start_date, end_date, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, sp.ID, sp.ProjectID, sp.Name, sp.Goal, sp.Status, sp.StartDate, sp.EndDate, sp.CreatedAt, sp.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert sprint: %w", err)
		}
		return touchProject(tx, sp.ProjectID, now)
	})
}

// GetSprint returns a sprint of the project with its progress, or nil if not found.
func (s *Store) GetSprint(projectID, sprintID string) (*SprintWithProgress, error) {
	sp, err := scanSprint(s.conn.QueryRow(
		`SELECT `+sprintColumns+` FROM sprints WHERE id = ? AND project_id = ?`, sprintID, projectID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sprint: %w", err)
	}
	progress, err := sprintProgress(s.conn, sp.ID)
	if err != nil {
		return nil, err
	}
	return &SprintWithProgress{Sprint: sp, Progress: progress}, nil
}

// ListSprints returns the project's sprints, active first, then planned, then
// completed.
func (s *Store) ListSprints(projectID string) ([]*SprintWithProgress, error) {
	rows, err := s.conn.Query(`
		SELECT `+sprintColumns+` FROM sprints WHERE project_id = ?
		ORDER BY CASE status WHEN 'active' THEN 0 WHEN 'planned' THEN 1 ELSE 2 END, created_at`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("list sprints: %w", err)
	}
	var sprints []*models.Sprint
	for rows.Next() {
		sp, err := scanSprint(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan sprint: %w", err)
		}
		sprints = append(sprints, sp)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sprints: iterate: %w", err)
	}

	out := make([]*SprintWithProgress, 0, len(sprints))
	for _, sp := range sprints {
		progress, err := sprintProgress(s.conn, sp.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, &SprintWithProgress{Sprint: sp, Progress: progress})
	}
	return out, nil
}

// UpdateSprint writes name, goal and dates. Status changes go through
// StartSprint and CompleteSprint.
func (s *Store) UpdateSprint(sp *models.Sprint) error {
	sp.UpdatedAt = s.now()
	res, err := s.conn.Exec(`
		UPDATE sprints SET name = ?, goal = ?, start_date = ?, end_date = ?, updated_at = ?
		WHERE id = ? AND project_id = ?
	`, sp.Name, sp.Goal, sp.StartDate, sp.EndDate, sp.UpdatedAt, sp.ID, sp.ProjectID)
	if err != nil {
		return fmt.Errorf("update sprint: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sprint %s: %w", sp.ID, ErrNotFound)
	}
	return nil
}

// StartSprint activates a planned sprint. A project has at most one active
// sprint at a time. A missing start date is set to today.
func (s *Store) StartSprint(projectID, sprintID string) (*models.Sprint, error) {
	err := s.withTx(func(tx *sql.Tx) error {
		status, err := sprintStatus(tx, projectID, sprintID)
		if err != nil {
			return err
		}
		if status != models.SprintPlanned {
			return fmt.Errorf("sprint is %s, only planned sprints can start: %w", status, ErrConflict)
		}

		var active string
		err = tx.QueryRow(`SELECT id FROM sprints WHERE project_id = ? AND status = 'active'`, projectID).Scan(&active)
		if err == nil {
			return fmt.Errorf("sprint %s is already active: %w", active, ErrConflict)
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("check active sprint: %w", err)
		}

		now := s.now()
		_, err = tx.Exec(`
			UPDATE sprints SET status = 'active', start_date = COALESCE(start_date, ?), updated_at = ?
			WHERE id = ?
		`, now, now, sprintID)
		if err != nil {
			return fmt.Errorf("start sprint: %w", err)
		}
		return touchProject(tx, projectID, now)
	})
	if err != nil {
		return nil, err
	}
	sp, err := s.GetSprint(projectID, sprintID)
	if err != nil || sp == nil {
		return nil, err
	}
	return sp.Sprint, nil
}

// CompleteResult reports what happened to a completed sprint's tasks.
type CompleteResult struct {
	Sprint      *models.Sprint `json:"sprint"`
	Done        int            `json:"done"`
	CarriedTo   string         `json:"carried_to,omitempty"`
	CarriedOver int            `json:"carried_over"`
}

// CompleteSprint closes an active sprint. Done tasks stay in it; unfinished
// tasks move to carryOverTo (a planned or active sprint of the same project)
// or, when carryOverTo is empty, back to the backlog.
func (s *Store) CompleteSprint(projectID, sprintID, carryOverTo string) (*CompleteResult, error) {
	res := &CompleteResult{CarriedTo: carryOverTo}
	err := s.withTx(func(tx *sql.Tx) error {
		status, err := sprintStatus(tx, projectID, sprintID)
		if err != nil {
			return err
		}
		if status != models.SprintActive {
			return fmt.Errorf("sprint is %s, only active sprints can complete: %w", status, ErrConflict)
		}

		if carryOverTo != "" {
			if carryOverTo == sprintID {
				return &models.ValidationError{Field: "carry_over_to", Message: "cannot carry tasks into the sprint being completed"}
			}
			target, err := sprintStatus(tx, projectID, carryOverTo)
			if err != nil {
				return &models.ValidationError{Field: "carry_over_to", Message: "sprint not found in project"}
			}
			if target == models.SprintCompleted {
				return &models.ValidationError{Field: "carry_over_to", Message: "target sprint is already completed"}
			}
		}

		if err := tx.QueryRow(
			`SELECT COUNT(*) FROM tasks WHERE sprint_id = ? AND status = 'done'`, sprintID,
		).Scan(&res.Done); err != nil {
			return fmt.Errorf("count done: %w", err)
		}

		moved, err := tx.Exec(
			`UPDATE tasks SET sprint_id = ? WHERE sprint_id = ? AND status != 'done'`,
			nullString(carryOverTo), sprintID,
		)
		if err != nil {
			return fmt.Errorf("carry over tasks: %w", err)
		}
		n, _ := moved.RowsAffected()
		res.CarriedOver = int(n)

		now := s.now()
		if _, err := tx.Exec(
			`UPDATE sprints SET status = 'completed', completed_at = ?, updated_at = ? WHERE id = ?`,
			now, now, sprintID,
		); err != nil {
			return fmt.Errorf("complete sprint: %w", err)
		}
		return touchProject(tx, projectID, now)
	})
	if err != nil {
		return nil, err
	}
	sp, err := s.GetSprint(projectID, sprintID)
	if err != nil {
		return nil, err
	}
	if sp != nil {
		res.Sprint = sp.Sprint
	}
	return res, nil
}

// DeleteSprint removes a sprint. Its tasks are detached to the backlog, not
// deleted. Returns the number of detached tasks.
func (s *Store) DeleteSprint(projectID, sprintID string) (int, error) {
	var detached int
	err := s.withTx(func(tx *sql.Tx) error {
		if _, err := sprintStatus(tx, projectID, sprintID); err != nil {
			return err
		}
		res, err := tx.Exec(`UPDATE tasks SET sprint_id = NULL WHERE sprint_id = ?`, sprintID)
		if err != nil {
			return fmt.Errorf("detach tasks: %w", err)
		}
		n, _ := res.RowsAffected()
		detached = int(n)
		if _, err := tx.Exec(`DELETE FROM sprints WHERE id = ?`, sprintID); err != nil {
			return fmt.Errorf("delete sprint: %w", err)
		}
		return touchProject(tx, projectID, s.now())
	})
	return detached, err
}

// AssignTasksToSprint sets the sprint of the given tasks. An empty sprintID
// moves them to the backlog. Every task must belong to the project.
func (s *Store) AssignTasksToSprint(projectID, sprintID string, taskIDs []string) (int, error) {
	if len(taskIDs) == 0 {
		return 0, &models.ValidationError{Field: "task_ids", Message: "at least one task is required"}
	}
	err := s.withTx(func(tx *sql.Tx) error {
		if sprintID != "" {
			status, err := sprintStatus(tx, projectID, sprintID)
			if err != nil {
				return err
			}
			if status == models.SprintCompleted {
				return fmt.Errorf("sprint is completed: %w", ErrConflict)
			}
		}

		now := s.now()
		for _, id := range taskIDs {
			res, err := tx.Exec(
				`UPDATE tasks SET sprint_id = ?, updated_at = ? WHERE id = ? AND project_id = ?`,
				nullString(sprintID), now, id, projectID,
			)
			if err != nil {
				return fmt.Errorf("assign task: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("task %s: %w", id, ErrNotFound)
			}
		}
		return touchProject(tx, projectID, now)
	})
	if err != nil {
		return 0, err
	}
	return len(taskIDs), nil
}

// ActiveSprint returns the project's active sprint, or nil if none.
func (s *Store) ActiveSprint(projectID string) (*models.Sprint, error) {
	sp, err := scanSprint(s.conn.QueryRow(
		`SELECT `+sprintColumns+` FROM sprints WHERE project_id = ? AND status = 'active'`, projectID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active sprint: %w", err)
	}
	return sp, nil
}

func sprintStatus(q rowQuerier, projectID, sprintID string) (models.SprintStatus, error) {
	var status models.SprintStatus
	err := q.QueryRow(`SELECT status FROM sprints WHERE id = ? AND project_id = ?`, sprintID, projectID).Scan(&status)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("sprint %s: %w", sprintID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get sprint: %w", err)
	}
	return status, nil
}

func sprintProgress(q rowQuerier, sprintID string) (models.SprintProgress, error) {
	var p models.SprintProgress
	err := q.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN status = 'done' THEN 1 ELSE 0 END), 0)
		FROM tasks WHERE sprint_id = ?`, sprintID,
	).Scan(&p.Total, &p.Done)
	if err != nil {
		return p, fmt.Errorf("sprint progress: %w", err)
	}
	if p.Total > 0 {
		p.Percent = math.Round(float64(p.Done)/float64(p.Total)*1000) / 10
	}
	return p, nil
}
