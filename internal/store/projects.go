package store

import (
	"database/sql"
	"fmt"

	"github.com/23026475/trackit/internal/models"
)

const projectColumns = `p.id, p.owner_id, p.name, p.description, p.status, p.priority, p.tech_stack,
	p.github_url, p.live_url, p.start_date, p.target_date, p.created_at, p.updated_at, p.archived_at`

func scanProject(row interface{ Scan(...any) error }) (*models.Project, error) {
	p := &models.Project{}
	var techStack string
	err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Description, &p.Status, &p.Priority, &techStack,
		&p.GitHubURL, &p.LiveURL, &p.StartDate, &p.TargetDate, &p.CreatedAt, &p.UpdatedAt, &p.ArchivedAt)
	if err != nil {
		return nil, err
	}
	p.TechStack = splitList(techStack)
	return p, nil
}

// CreateProject inserts a project and adds its owner as a member in a single
// transaction. ID, timestamps and empty enum fields are filled in on p.
func (s *Store) CreateProject(p *models.Project) error {
	if p.Name == "" {
		return fmt.Errorf("project name is required")
	}
	if p.Status == "" {
		p.Status = models.ProjectPlanning
	}
	if p.Priority == "" {
		p.Priority = models.PriorityMedium
	}
	if p.TechStack == nil {
		p.TechStack = []string{}
	}

	p.ID = mustID("p_")
	now := s.now()
	p.CreatedAt = now
	p.UpdatedAt = now

	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO projects (id, owner_id, name, description, status, priority, tech_stack, github_url, live_url,
			                      start_date, target_date, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, p.ID, p.OwnerID, p.Name, p.Description, p.Status, p.Priority, joinList(p.TechStack), p.GitHubURL, p.LiveURL,
			p.StartDate, p.TargetDate, p.CreatedAt, p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert project: %w", err)
		}

		_, err = tx.Exec(
			`INSERT INTO memberships (project_id, user_id, role, invited_by, created_at) VALUES (?, ?, ?, ?, ?)`,
			p.ID, p.OwnerID, models.RoleOwner, "", now,
		)
		if err != nil {
			return fmt.Errorf("insert owner membership: %w", err)
		}
		return nil
	})
}

// GetProject returns a project by ID (archived or not), or nil if not found.
func (s *Store) GetProject(id string) (*models.Project, error) {
	p, err := scanProject(s.conn.QueryRow(`SELECT `+projectColumns+` FROM projects p WHERE p.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

// ListProjectsForUser returns the projects the user is a member of. With
// archived false it lists live projects (newest activity first); with
// archived true it lists the History view (most recently archived first).
func (s *Store) ListProjectsForUser(userID string, archived bool) ([]*models.Project, error) {
	query := `SELECT ` + projectColumns + `
		FROM projects p
		JOIN memberships m ON m.project_id = p.id
		WHERE m.user_id = ?`
	if archived {
		query += ` AND p.archived_at IS NOT NULL ORDER BY p.archived_at DESC`
	} else {
		query += ` AND p.archived_at IS NULL ORDER BY p.updated_at DESC`
	}

	rows, err := s.conn.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	projects := []*models.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list projects: iterate: %w", err)
	}
	return projects, nil
}

// UpdateProject writes the editable fields of p. Archived projects cannot be
// edited.
func (s *Store) UpdateProject(p *models.Project) error {
	p.UpdatedAt = s.now()
	res, err := s.conn.Exec(`
		UPDATE projects SET name = ?, description = ?, status = ?, priority = ?, tech_stack = ?,
		       github_url = ?, live_url = ?, start_date = ?, target_date = ?, updated_at = ?
		WHERE id = ? AND archived_at IS NULL
	`, p.Name, p.Description, p.Status, p.Priority, joinList(p.TechStack),
		p.GitHubURL, p.LiveURL, p.StartDate, p.TargetDate, p.UpdatedAt, p.ID)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.projectWriteMiss(p.ID)
	}
	return nil
}

// ArchiveProject moves a project to the History view. Data is preserved.
func (s *Store) ArchiveProject(id string) (*models.Project, error) {
	now := s.now()
	res, err := s.conn.Exec(
		`UPDATE projects SET archived_at = ?, updated_at = ? WHERE id = ? AND archived_at IS NULL`,
		now, now, id,
	)
	if err != nil {
		return nil, fmt.Errorf("archive project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if err := s.projectWriteMiss(id); err != ErrArchived {
			return nil, err
		}
		return nil, fmt.Errorf("project %s already archived: %w", id, ErrConflict)
	}
	return s.GetProject(id)
}

// RestoreProject brings an archived project back from History.
func (s *Store) RestoreProject(id string) (*models.Project, error) {
	res, err := s.conn.Exec(
		`UPDATE projects SET archived_at = NULL, updated_at = ? WHERE id = ? AND archived_at IS NOT NULL`,
		s.now(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("restore project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		p, err := s.GetProject(id)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("project %s is not archived: %w", id, ErrConflict)
	}
	return s.GetProject(id)
}

// DeleteResult counts the rows removed by a cascading delete.
type DeleteResult struct {
	Tasks    int `json:"tasks"`
	Sprints  int `json:"sprints"`
	Comments int `json:"comments"`
	Members  int `json:"members"`
}

// DeleteProject permanently removes a project together with its sprints,
// tasks, task comments and memberships.
func (s *Store) DeleteProject(id string) (*DeleteResult, error) {
	var out DeleteResult
	err := s.withTx(func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRow(`SELECT 1 FROM projects WHERE id = ?`, id).Scan(&exists); err != nil {
			if err == sql.ErrNoRows {
				return fmt.Errorf("project %s: %w", id, ErrNotFound)
			}
			return fmt.Errorf("check project: %w", err)
		}

		counts := []struct {
			dst   *int
			query string
		}{
			{&out.Tasks, `SELECT COUNT(*) FROM tasks WHERE project_id = ?`},
			{&out.Sprints, `SELECT COUNT(*) FROM sprints WHERE project_id = ?`},
			{&out.Comments, `SELECT COUNT(*) FROM comments c JOIN tasks t ON t.id = c.task_id WHERE t.project_id = ?`},
			{&out.Members, `SELECT COUNT(*) FROM memberships WHERE project_id = ?`},
		}
		for _, c := range counts {
			if err := tx.QueryRow(c.query, id).Scan(c.dst); err != nil {
				return fmt.Errorf("count dependents: %w", err)
			}
		}

		// Children first so the result does not depend on FK enforcement.
		for _, q := range []string{
			`DELETE FROM comments WHERE task_id IN (SELECT id FROM tasks WHERE project_id = ?)`,
			`DELETE FROM tasks WHERE project_id = ?`,
			`DELETE FROM sprints WHERE project_id = ?`,
			`DELETE FROM memberships WHERE project_id = ?`,
			`DELETE FROM projects WHERE id = ?`,
		} {
			if _, err := tx.Exec(q, id); err != nil {
				return fmt.Errorf("delete project: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CountProjects returns the total number of projects.
func (s *Store) CountProjects() (int, error) {
	var n int
	if err := s.conn.QueryRow(`SELECT COUNT(*) FROM projects`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count projects: %w", err)
	}
	return n, nil
}

// projectWriteMiss explains why a guarded project write touched no rows.
func (s *Store) projectWriteMiss(id string) error {
	p, err := s.GetProject(id)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	if p.Archived() {
		return ErrArchived
	}
	return fmt.Errorf("project %s: %w", id, ErrConflict)
}
