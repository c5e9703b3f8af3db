package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Session is a server-side record for an issued login token.
type Session struct {
	ID        string
	UserID    string
	UserAgent string
	IP        string
	ExpiresAt time.Time
	RevokedAt *time.Time
	CreatedAt time.Time
}

// CreateSession records a new login session for the user.
func (s *Store) CreateSession(userID, userAgent, ip string, ttl time.Duration) (*Session, error) {
	id, err := generateID("s_")
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}
	now := s.now()
	sess := &Session{
		ID:        id,
		UserID:    userID,
		UserAgent: userAgent,
		IP:        ip,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	_, err = s.conn.Exec(
		`INSERT INTO sessions (id, user_id, user_agent, ip, expires_at, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.UserAgent, sess.IP, sess.ExpiresAt, sess.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

// GetActiveSession returns the session if it exists, is not revoked and has
// not expired; otherwise nil.
func (s *Store) GetActiveSession(id string) (*Session, error) {
	sess := &Session{}
	err := s.conn.QueryRow(
		`SELECT id, user_id, user_agent, ip, expires_at, revoked_at, created_at FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.UserID, &sess.UserAgent, &sess.IP, &sess.ExpiresAt, &sess.RevokedAt, &sess.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if sess.RevokedAt != nil || !sess.ExpiresAt.After(s.now()) {
		return nil, nil
	}
	return sess, nil
}

// RevokeSession marks a single session as revoked.
func (s *Store) RevokeSession(id string) error {
	_, err := s.conn.Exec(`UPDATE sessions SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`, s.now(), id)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// RevokeUserSessions revokes every active session of a user, returning the count.
func (s *Store) RevokeUserSessions(userID string) (int64, error) {
	res, err := s.conn.Exec(`UPDATE sessions SET revoked_at = ? WHERE user_id = ? AND revoked_at IS NULL`, s.now(), userID)
	if err != nil {
		return 0, fmt.Errorf("revoke user sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CleanupExpiredSessions deletes sessions that expired or were revoked more
// than a day ago. Returns the number of rows deleted.
func (s *Store) CleanupExpiredSessions() (int64, error) {
	cutoff := s.now().Add(-24 * time.Hour)
	res, err := s.conn.Exec(
		`DELETE FROM sessions WHERE expires_at < ? OR (revoked_at IS NOT NULL AND revoked_at < ?)`,
		cutoff, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("cleanup sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
