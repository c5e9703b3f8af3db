package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// AuthEvent represents a row in the auth_events table.
type AuthEvent struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	EventType string    `json:"event_type"`
	Metadata  string    `json:"metadata"`
	CreatedAt time.Time `json:"created_at"`
}

// Auth event type constants.
const (
	AuthEventSignup      = "signup"
	AuthEventLogin       = "login"
	AuthEventLoginFailed = "login_failed"
	AuthEventLogout      = "logout"
	AuthEventKeyIssued   = "key_issued"
	AuthEventKeyRevoked  = "key_revoked"
)

// InsertAuthEvent inserts an auth event row.
func (s *Store) InsertAuthEvent(userID, email, eventType, metadata string) error {
	if metadata == "" {
		metadata = "{}"
	}
	_, err := s.conn.Exec(
		`INSERT INTO auth_events (user_id, email, event_type, metadata, created_at) VALUES (?, ?, ?, ?, ?)`,
		userID, NormalizeEmail(email), eventType, metadata, s.now(),
	)
	if err != nil {
		return fmt.Errorf("insert auth event: %w", err)
	}
	return nil
}

// AuthEventFilter narrows QueryAuthEvents.
type AuthEventFilter struct {
	EventType string
	Email     string // substring match
	From      *time.Time
	To        *time.Time
}

// QueryAuthEvents returns auth events newest first with cursor-based pagination.
func (s *Store) QueryAuthEvents(f AuthEventFilter, limit int, cursor string) (*Page[AuthEvent], error) {
	query := `SELECT id, user_id, email, event_type, metadata, created_at FROM auth_events`
	var conditions []string
	var args []any

	if f.EventType != "" {
		conditions = append(conditions, "event_type = ?")
		args = append(args, f.EventType)
	}
	if f.Email != "" {
		conditions = append(conditions, "email LIKE ?")
		args = append(args, "%"+NormalizeEmail(f.Email)+"%")
	}
	if f.From != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, f.From.UTC())
	}
	if f.To != nil {
		conditions = append(conditions, "created_at <= ?")
		args = append(args, f.To.UTC())
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	scan := func(rows *sql.Rows) (AuthEvent, string, error) {
		var e AuthEvent
		if err := rows.Scan(&e.ID, &e.UserID, &e.Email, &e.EventType, &e.Metadata, &e.CreatedAt); err != nil {
			return e, "", err
		}
		return e, strconv.FormatInt(e.ID, 10), nil
	}

	return paginate(s.conn, query, args, len(conditions) > 0, limit, cursor, scan)
}

// CleanupAuthEvents deletes auth events older than the given duration.
// Returns the number of rows deleted.
func (s *Store) CleanupAuthEvents(olderThan time.Duration) (int64, error) {
	cutoff := s.now().Add(-olderThan)
	res, err := s.conn.Exec(`DELETE FROM auth_events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup auth events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
