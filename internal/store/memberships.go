package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/23026475/trackit/internal/models"
)

// Membership represents a user's role in a project.
type Membership struct {
	ProjectID string      `json:"project_id"`
	UserID    string      `json:"user_id"`
	Email     string      `json:"email"`
	Name      string      `json:"name"`
	Role      models.Role `json:"role"`
	InvitedBy string      `json:"invited_by"`
	CreatedAt time.Time   `json:"created_at"`
}

// AddMember adds a user to a project with the given role.
func (s *Store) AddMember(projectID, userID string, role models.Role, invitedBy string) (*Membership, error) {
	if !role.Valid() {
		return nil, &models.ValidationError{Field: "role", Message: fmt.Sprintf("invalid role %q", role)}
	}

	u, err := s.GetUserByID(userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}

	now := s.now()
	_, err = s.conn.Exec(
		`INSERT INTO memberships (project_id, user_id, role, invited_by, created_at) VALUES (?, ?, ?, ?, ?)`,
		projectID, userID, role, invitedBy, now,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") || strings.Contains(err.Error(), "PRIMARY KEY") {
			return nil, fmt.Errorf("user is already a member: %w", ErrConflict)
		}
		return nil, fmt.Errorf("add member: %w", err)
	}

	return &Membership{
		ProjectID: projectID,
		UserID:    userID,
		Email:     u.Email,
		Name:      u.Name,
		Role:      role,
		InvitedBy: invitedBy,
		CreatedAt: now,
	}, nil
}

// GetMembership returns a user's membership in a project, or nil if not found.
func (s *Store) GetMembership(projectID, userID string) (*Membership, error) {
	m := &Membership{}
	err := s.conn.QueryRow(`
		SELECT m.project_id, m.user_id, u.email, u.name, m.role, m.invited_by, m.created_at
		FROM memberships m JOIN users u ON u.id = m.user_id
		WHERE m.project_id = ? AND m.user_id = ?`,
		projectID, userID,
	).Scan(&m.ProjectID, &m.UserID, &m.Email, &m.Name, &m.Role, &m.InvitedBy, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get membership: %w", err)
	}
	return m, nil
}

// ListMembers returns all members of a project.
func (s *Store) ListMembers(projectID string) ([]*Membership, error) {
	rows, err := s.conn.Query(`
		SELECT m.project_id, m.user_id, u.email, u.name, m.role, m.invited_by, m.created_at
		FROM memberships m JOIN users u ON u.id = m.user_id
		WHERE m.project_id = ? ORDER BY m.created_at`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	members := []*Membership{}
	for rows.Next() {
		m := &Membership{}
		if err := rows.Scan(&m.ProjectID, &m.UserID, &m.Email, &m.Name, &m.Role, &m.InvitedBy, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list members: iterate: %w", err)
	}
	return members, nil
}

// UpdateMemberRole changes a member's role. Demoting the last owner fails.
func (s *Store) UpdateMemberRole(projectID, userID string, newRole models.Role) error {
	if !newRole.Valid() {
		return &models.ValidationError{Field: "role", Message: fmt.Sprintf("invalid role %q", newRole)}
	}

	return s.withTx(func(tx *sql.Tx) error {
		current, err := memberRole(tx, projectID, userID)
		if err != nil {
			return err
		}
		if current == models.RoleOwner && newRole != models.RoleOwner {
			if err := ensureAnotherOwner(tx, projectID); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(
			`UPDATE memberships SET role = ? WHERE project_id = ? AND user_id = ?`,
			newRole, projectID, userID,
		); err != nil {
			return fmt.Errorf("update member role: %w", err)
		}
		return nil
	})
}

// RemoveMember removes a user from a project.
// Fails if removing the user would leave the project with no owners.
func (s *Store) RemoveMember(projectID, userID string) error {
	return s.withTx(func(tx *sql.Tx) error {
		role, err := memberRole(tx, projectID, userID)
		if err != nil {
			return err
		}
		if role == models.RoleOwner {
			if err := ensureAnotherOwner(tx, projectID); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(`DELETE FROM memberships WHERE project_id = ? AND user_id = ?`, projectID, userID); err != nil {
			return fmt.Errorf("remove member: %w", err)
		}
		return nil
	})
}

func memberRole(tx *sql.Tx, projectID, userID string) (models.Role, error) {
	var role models.Role
	err := tx.QueryRow(
		`SELECT role FROM memberships WHERE project_id = ? AND user_id = ?`,
		projectID, userID,
	).Scan(&role)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("membership: %w", ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get membership: %w", err)
	}
	return role, nil
}

func ensureAnotherOwner(tx *sql.Tx, projectID string) error {
	var owners int
	if err := tx.QueryRow(
		`SELECT COUNT(*) FROM memberships WHERE project_id = ? AND role = 'owner'`, projectID,
	).Scan(&owners); err != nil {
		return fmt.Errorf("count owners: %w", err)
	}
	if owners <= 1 {
		return fmt.Errorf("cannot remove last owner from project: %w", ErrConflict)
	}
	return nil
}

// Authorize checks that the user has at least the required role in the
// project and returns the project. Non-members get ErrNotFound so project
// existence is not leaked; members below the required role get ErrForbidden.
func (s *Store) Authorize(projectID, userID string, required models.Role) (*models.Project, models.Role, error) {
	p, err := s.GetProject(projectID)
	if err != nil {
		return nil, "", err
	}
	if p == nil {
		return nil, "", fmt.Errorf("project %s: %w", projectID, ErrNotFound)
	}

	m, err := s.GetMembership(projectID, userID)
	if err != nil {
		return nil, "", fmt.Errorf("check membership: %w", err)
	}
	if m == nil {
		return nil, "", fmt.Errorf("project %s: %w", projectID, ErrNotFound)
	}
	if m.Role.Level() < required.Level() {
		return nil, "", fmt.Errorf("insufficient permissions: have %s, need %s: %w", m.Role, required, ErrForbidden)
	}
	return p, m.Role, nil
}
