package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/23026475/trackit/internal/models"
)

// MinPasswordLength is the shortest password accepted at signup.
const MinPasswordLength = 8

// ErrInvalidCredentials is returned by AuthenticateUser for any mismatch.
var ErrInvalidCredentials = errors.New("invalid email or password")

const userColumns = `id, email, name, is_admin, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	u := &models.User{}
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.IsAdmin, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return u, nil
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateUser inserts a new user with the given email (lowercased) and password.
// An empty password creates an account that can only use API keys.
func (s *Store) CreateUser(email, name, password string) (*models.User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}

	var hash string
	if password != "" {
		h, err := hashPassword(password)
		if err != nil {
			return nil, err
		}
		hash = h
	}

	id, err := generateID("u_")
	if err != nil {
		return nil, fmt.Errorf("generate user id: %w", err)
	}

	now := s.now()
	name = strings.TrimSpace(name)
	_, err = s.conn.Exec(
		`INSERT INTO users (id, email, name, password_hash, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, email, name, hash, now, now,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return nil, fmt.Errorf("email already registered: %w", ErrConflict)
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	return &models.User{ID: id, Email: email, Name: name, CreatedAt: now, UpdatedAt: now}, nil
}

// GetUserByID returns the user with the given ID, or nil if not found.
func (s *Store) GetUserByID(id string) (*models.User, error) {
	u, err := scanUser(s.conn.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return u, nil
}

// GetUserByEmail returns the user with the given email (case-insensitive), or nil if not found.
func (s *Store) GetUserByEmail(email string) (*models.User, error) {
	u, err := scanUser(s.conn.QueryRow(`SELECT `+userColumns+` FROM users WHERE email = ?`, NormalizeEmail(email)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

// AuthenticateUser checks an email/password pair. Unknown emails, accounts
// without a password and wrong passwords all yield ErrInvalidCredentials.
func (s *Store) AuthenticateUser(email, password string) (*models.User, error) {
	var hash string
	u := &models.User{}
	err := s.conn.QueryRow(
		`SELECT `+userColumns+`, password_hash FROM users WHERE email = ?`, NormalizeEmail(email),
	).Scan(&u.ID, &u.Email, &u.Name, &u.IsAdmin, &u.CreatedAt, &u.UpdatedAt, &hash)
	if err == sql.ErrNoRows {
		// Spend comparable time so unknown emails are not distinguishable.
		bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("authenticate user: %w", err)
	}
	if hash == "" {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// SetPassword replaces a user's password.
func (s *Store) SetPassword(userID, password string) error {
	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	res, err := s.conn.Exec(`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`, hash, s.now(), userID)
	if err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return nil
}

// UpdateUserName changes a user's display name.
func (s *Store) UpdateUserName(userID, name string) (*models.User, error) {
	res, err := s.conn.Exec(`UPDATE users SET name = ?, updated_at = ? WHERE id = ?`, strings.TrimSpace(name), s.now(), userID)
	if err != nil {
		return nil, fmt.Errorf("update user name: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return s.GetUserByID(userID)
}

// SetUserAdmin grants or revokes admin for the user with the given email.
func (s *Store) SetUserAdmin(email string, admin bool) error {
	res, err := s.conn.Exec(`UPDATE users SET is_admin = ?, updated_at = ? WHERE email = ?`, admin, s.now(), NormalizeEmail(email))
	if err != nil {
		return fmt.Errorf("set user admin: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %s: %w", NormalizeEmail(email), ErrNotFound)
	}
	return nil
}

// CountAdmins returns the number of admin users.
func (s *Store) CountAdmins() (int, error) {
	var n int
	if err := s.conn.QueryRow(`SELECT COUNT(*) FROM users WHERE is_admin = 1`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count admins: %w", err)
	}
	return n, nil
}

// CountUsers returns the number of registered users.
func (s *Store) CountUsers() (int, error) {
	var n int
	if err := s.conn.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

func hashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", &models.ValidationError{Field: "password", Message: fmt.Sprintf("must be at least %d characters", MinPasswordLength)}
	}
	if len(password) > 72 {
		return "", &models.ValidationError{Field: "password", Message: "must be at most 72 bytes"}
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("trackit-dummy-password"), bcrypt.DefaultCost)
