package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/23026475/trackit/internal/kanban"
	"github.com/23026475/trackit/internal/models"
)

const taskColumns = `t.id, t.project_id, t.sprint_id, t.title, t.description, t.status, t.priority, t.position,
	t.labels, t.due_date, t.created_by, t.completed_at, t.created_at, t.updated_at`

func scanTask(row interface{ Scan(...any) error }) (*models.Task, error) {
	t := &models.Task{}
	var sprintID sql.NullString
	var labels string
	err := row.Scan(&t.ID, &t.ProjectID, &sprintID, &t.Title, &t.Description, &t.Status, &t.Priority, &t.Position,
		&labels, &t.DueDate, &t.CreatedBy, &t.CompletedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.SprintID = sprintID.String
	t.Labels = splitList(labels)
	return t, nil
}

// TaskFilter narrows ListTasks. Zero values do not filter.
type TaskFilter struct {
	Status   []models.TaskStatus
	SprintID string
	Backlog  bool // only tasks without a sprint
	Label    string
	Priority models.Priority
	Search   string
	Overdue  bool
}

// CreateTask inserts a task at the bottom of its status column.
func (s *Store) CreateTask(t *models.Task) error {
	if t.Status == "" {
		t.Status = models.TaskTodo
	}
	if t.Priority == "" {
		t.Priority = models.PriorityMedium
	}
	if t.Labels == nil {
		t.Labels = []string{}
	}

	return s.withTx(func(tx *sql.Tx) error {
		if err := checkSprintInProject(tx, t.ProjectID, t.SprintID); err != nil {
			return err
		}

		if err := tx.QueryRow(
			`SELECT COUNT(*) FROM tasks WHERE project_id = ? AND status = ?`, t.ProjectID, t.Status,
		).Scan(&t.Position); err != nil {
			return fmt.Errorf("count column: %w", err)
		}

		t.ID = mustID("t_")
		now := s.now()
		t.CreatedAt = now
		t.UpdatedAt = now
		t.CompletedAt = nil
		if t.Status == models.TaskDone {
			t.CompletedAt = &now
		}

		_, err := tx.Exec(`
			INSERT INTO tasks (id, project_id, sprint_id, title, description, status, priority, position, labels,
			                   due_date, created_by, completed_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, t.ID, t.ProjectID, nullString(t.SprintID), t.Title, t.Description, t.Status, t.Priority, t.Position,
			joinList(t.Labels), t.DueDate, t.CreatedBy, t.CompletedAt, t.CreatedAt, t.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		return touchProject(tx, t.ProjectID, now)
	})
}

// GetTask returns a task of the project, or nil if not found.
func (s *Store) GetTask(projectID, taskID string) (*models.Task, error) {
	t, err := scanTask(s.conn.QueryRow(
		`SELECT `+taskColumns+` FROM tasks t WHERE t.id = ? AND t.project_id = ?`, taskID, projectID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// ListTasks returns a project's tasks in board order (column, then position).
// A SprintID from another project is a validation error.
func (s *Store) ListTasks(projectID string, f TaskFilter) ([]*models.Task, error) {
	if !f.Backlog && f.SprintID != "" {
		if err := checkSprintInProject(s.conn, projectID, f.SprintID); err != nil {
			return nil, err
		}
	}
	query := `SELECT ` + taskColumns + ` FROM tasks t WHERE t.project_id = ?`
	args := []any{projectID}

	if len(f.Status) > 0 {
		placeholders := make([]string, len(f.Status))
		for i, st := range f.Status {
			placeholders[i] = "?"
			args = append(args, st)
		}
		query += ` AND t.status IN (` + strings.Join(placeholders, ",") + `)`
	}
	if f.Backlog {
		query += ` AND t.sprint_id IS NULL`
	} else if f.SprintID != "" {
		query += ` AND t.sprint_id = ?`
		args = append(args, f.SprintID)
	}
	if f.Label != "" {
		query += ` AND (',' || t.labels || ',') LIKE ?`
		args = append(args, "%,"+strings.ToLower(strings.TrimSpace(f.Label))+",%")
	}
	if f.Priority != "" {
		query += ` AND t.priority = ?`
		args = append(args, f.Priority)
	}
	if f.Search != "" {
		query += ` AND (t.title LIKE ? ESCAPE '\' OR t.description LIKE ? ESCAPE '\')`
		pattern := containsPattern(f.Search)
		args = append(args, pattern, pattern)
	}
	query += ` ORDER BY CASE t.status WHEN 'todo' THEN 0 WHEN 'in_progress' THEN 1 WHEN 'review' THEN 2 ELSE 3 END, t.position, t.id`

	tasks, err := queryTasks(s.conn, query, args...)
	if err != nil {
		return nil, err
	}

	if f.Overdue {
		now := s.now()
		filtered := tasks[:0]
		for _, t := range tasks {
			if t.Overdue(now) {
				filtered = append(filtered, t)
			}
		}
		tasks = filtered
	}
	return tasks, nil
}

func queryTasks(q rowQuerier, query string, args ...any) ([]*models.Task, error) {
	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []*models.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tasks: iterate: %w", err)
	}
	return tasks, nil
}

// UpdateTask writes the editable fields of t. If the status changed, the task
// moves to the bottom of its new column and both columns are renumbered.
func (s *Store) UpdateTask(t *models.Task) error {
	return s.withTx(func(tx *sql.Tx) error {
		var oldStatus models.TaskStatus
		var completedAt *time.Time
		err := tx.QueryRow(`SELECT status, completed_at FROM tasks WHERE id = ? AND project_id = ?`, t.ID, t.ProjectID).
			Scan(&oldStatus, &completedAt)
		if err == sql.ErrNoRows {
			return fmt.Errorf("task %s: %w", t.ID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("get task: %w", err)
		}
		if err := checkSprintInProject(tx, t.ProjectID, t.SprintID); err != nil {
			return err
		}

		now := s.now()
		t.UpdatedAt = now
		t.CompletedAt = completionTime(oldStatus, t.Status, completedAt, now)

		_, err = tx.Exec(`
			UPDATE tasks SET sprint_id = ?, title = ?, description = ?, priority = ?, labels = ?, due_date = ?,
			       completed_at = ?, updated_at = ?
			WHERE id = ?
		`, nullString(t.SprintID), t.Title, t.Description, t.Priority, joinList(t.Labels), t.DueDate,
			t.CompletedAt, t.UpdatedAt, t.ID)
		if err != nil {
			return fmt.Errorf("update task: %w", err)
		}

		if oldStatus != t.Status {
			board, before, err := loadBoard(tx, t.ProjectID)
			if err != nil {
				return err
			}
			if err := board.Move(t.ID, t.Status, len(board.Column(t.Status))); err != nil {
				return err
			}
			if err := applyCards(tx, kanban.Diff(before, board)); err != nil {
				return err
			}
		}

		if err := tx.QueryRow(`SELECT position FROM tasks WHERE id = ?`, t.ID).Scan(&t.Position); err != nil {
			return fmt.Errorf("read position: %w", err)
		}
		return touchProject(tx, t.ProjectID, now)
	})
}

// DeleteTask removes a task (and its comments) and closes the gap in its column.
func (s *Store) DeleteTask(projectID, taskID string) error {
	return s.withTx(func(tx *sql.Tx) error {
		board, before, err := loadBoard(tx, projectID)
		if err != nil {
			return err
		}
		if !board.Remove(taskID) {
			return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
		}
		if _, err := tx.Exec(`DELETE FROM comments WHERE task_id = ?`, taskID); err != nil {
			return fmt.Errorf("delete task comments: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM tasks WHERE id = ?`, taskID); err != nil {
			return fmt.Errorf("delete task: %w", err)
		}
		if err := applyCards(tx, kanban.Diff(before, board)); err != nil {
			return err
		}
		return touchProject(tx, projectID, s.now())
	})
}

// MoveTarget says where a dragged task should land. If BeforeID or AfterID is
// set, the task is placed next to that task (in its column) and Status/Index
// are ignored; otherwise it goes to Index within Status.
type MoveTarget struct {
	Status   models.TaskStatus
	Index    int
	BeforeID string
	AfterID  string
}

// MoveTask applies a kanban drag in one transaction, rewriting the position
// (and status) of every affected row. Returns the moved task and the number
// of rows whose placement changed.
func (s *Store) MoveTask(projectID, taskID string, target MoveTarget) (*models.Task, int, error) {
	var changed int
	err := s.withTx(func(tx *sql.Tx) error {
		board, before, err := loadBoard(tx, projectID)
		if err != nil {
			return err
		}
		fromStatus, _, ok := board.Locate(taskID)
		if !ok {
			return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
		}

		switch {
		case target.BeforeID != "":
			err = board.MoveNextTo(taskID, target.BeforeID, false)
		case target.AfterID != "":
			err = board.MoveNextTo(taskID, target.AfterID, true)
		default:
			err = board.Move(taskID, target.Status, target.Index)
		}
		if err != nil {
			return &models.ValidationError{Field: "target", Message: err.Error()}
		}

		diff := kanban.Diff(before, board)
		changed = len(diff)
		if err := applyCards(tx, diff); err != nil {
			return err
		}

		toStatus, _, _ := board.Locate(taskID)
		now := s.now()
		if toStatus != fromStatus {
			var completedAt *time.Time
			if err := tx.QueryRow(`SELECT completed_at FROM tasks WHERE id = ?`, taskID).Scan(&completedAt); err != nil {
				return fmt.Errorf("read task: %w", err)
			}
			if _, err := tx.Exec(`UPDATE tasks SET completed_at = ?, updated_at = ? WHERE id = ?`,
				completionTime(fromStatus, toStatus, completedAt, now), now, taskID); err != nil {
				return fmt.Errorf("update task: %w", err)
			}
		} else if changed > 0 {
			if _, err := tx.Exec(`UPDATE tasks SET updated_at = ? WHERE id = ?`, now, taskID); err != nil {
				return fmt.Errorf("update task: %w", err)
			}
		}
		return touchProject(tx, projectID, now)
	})
	if err != nil {
		return nil, 0, err
	}
	t, err := s.GetTask(projectID, taskID)
	return t, changed, err
}

// BoardColumn is one kanban column with its ordered tasks.
type BoardColumn struct {
	Status models.TaskStatus `json:"status"`
	Tasks  []*models.Task    `json:"tasks"`
}

// Board returns the four kanban columns of a project in display order. With
// sprintID set only that sprint's tasks are shown; positions stay relative to
// the full column.
func (s *Store) Board(projectID, sprintID string) ([]BoardColumn, error) {
	tasks, err := s.ListTasks(projectID, TaskFilter{SprintID: sprintID})
	if err != nil {
		return nil, err
	}
	byStatus := make(map[models.TaskStatus][]*models.Task, len(models.BoardColumns))
	for _, t := range tasks {
		byStatus[t.Status] = append(byStatus[t.Status], t)
	}
	cols := make([]BoardColumn, 0, len(models.BoardColumns))
	for _, st := range models.BoardColumns {
		col := byStatus[st]
		if col == nil {
			col = []*models.Task{}
		}
		cols = append(cols, BoardColumn{Status: st, Tasks: col})
	}
	return cols, nil
}

// loadBoard reads every task placement of a project.
func loadBoard(tx *sql.Tx, projectID string) (*kanban.Board, []kanban.Card, error) {
	rows, err := tx.Query(`SELECT id, status, position FROM tasks WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, nil, fmt.Errorf("load board: %w", err)
	}
	var cards []kanban.Card
	for rows.Next() {
		var c kanban.Card
		if err := rows.Scan(&c.ID, &c.Status, &c.Position); err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("scan card: %w", err)
		}
		cards = append(cards, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("load board: iterate: %w", err)
	}

	board, err := kanban.FromCards(cards)
	if err != nil {
		return nil, nil, err
	}
	return board, cards, nil
}

func applyCards(tx *sql.Tx, cards []kanban.Card) error {
	for _, c := range cards {
		if _, err := tx.Exec(`UPDATE tasks SET status = ?, position = ? WHERE id = ?`, c.Status, c.Position, c.ID); err != nil {
			return fmt.Errorf("reposition task %s: %w", c.ID, err)
		}
	}
	return nil
}

// completionTime keeps completed_at in step with entering and leaving done.
func completionTime(from, to models.TaskStatus, current *time.Time, now time.Time) *time.Time {
	switch {
	case to != models.TaskDone:
		return nil
	case from != models.TaskDone || current == nil:
		return &now
	default:
		return current
	}
}

func checkSprintInProject(q rowQuerier, projectID, sprintID string) error {
	if sprintID == "" {
		return nil
	}
	var exists int
	err := q.QueryRow(`SELECT 1 FROM sprints WHERE id = ? AND project_id = ?`, sprintID, projectID).Scan(&exists)
	if err == sql.ErrNoRows {
		return &models.ValidationError{Field: "sprint_id", Message: "sprint not found in project"}
	}
	if err != nil {
		return fmt.Errorf("check sprint: %w", err)
	}
	return nil
}

func touchProject(tx *sql.Tx, projectID string, now time.Time) error {
	if _, err := tx.Exec(`UPDATE projects SET updated_at = ? WHERE id = ?`, now, projectID); err != nil {
		return fmt.Errorf("touch project: %w", err)
	}
	return nil
}
