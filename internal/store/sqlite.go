package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"mentorlive/pkg/interfaces"
	"mentorlive/pkg/types"
)

// SQLite is the booking/session/notification store the coordination
// layer consults. The marketplace owns these records; this side only
// reads them for authorization, flips session status on the explicit
// transition path, and appends notification rows.
type SQLite struct {
	db *sql.DB
}

// Open opens the database with WAL and a busy timeout so concurrent
// connection authorizations don't trip over each other.
func Open(path string, maxConns int, maxLifetime time.Duration) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(maxConns)
	db.SetConnMaxLifetime(maxLifetime)

	s := &SQLite{db: db}
	if err := s.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id   TEXT PRIMARY KEY,
		name TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS sessions (
		id           TEXT PRIMARY KEY,
		mentor_id    TEXT NOT NULL,
		title        TEXT NOT NULL DEFAULT '',
		status       TEXT NOT NULL DEFAULT 'scheduled',
		scheduled_at TIMESTAMP NOT NULL,
		started_at   TIMESTAMP,
		ended_at     TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS bookings (
		id         TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		user_id    TEXT NOT NULL,
		status     TEXT NOT NULL,
		UNIQUE(session_id, user_id)
	);
	CREATE TABLE IF NOT EXISTS notifications (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		type       TEXT NOT NULL,
		payload    TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_bookings_session ON bookings(session_id);
	CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Close releases the underlying pool.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// IsMentorOf reports whether the user is the session's mentor.
func (s *SQLite) IsMentorOf(ctx context.Context, userID, sessionID string) (bool, error) {
	var mentorID string
	err := s.db.QueryRowContext(ctx, `SELECT mentor_id FROM sessions WHERE id = ?`, sessionID).Scan(&mentorID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, interfaces.ErrSessionNotFound
	}
	if err != nil {
		return false, fmt.Errorf("mentor lookup failed: %w", err)
	}
	return mentorID == userID, nil
}

// HasBooking reports whether the user holds a booking for the session in
// any of the given statuses. Empty statuses match any booking at all.
func (s *SQLite) HasBooking(ctx context.Context, userID, sessionID string, statuses []string) (bool, error) {
	query := `SELECT COUNT(1) FROM bookings WHERE session_id = ? AND user_id = ?`
	args := []interface{}{sessionID, userID}
	if len(statuses) > 0 {
		query += ` AND status IN (?` + repeatPlaceholder(len(statuses)-1) + `)`
		for _, st := range statuses {
			args = append(args, st)
		}
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, fmt.Errorf("booking lookup failed: %w", err)
	}
	return count > 0, nil
}

// GetSession returns the session record.
func (s *SQLite) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, mentor_id, title, status, scheduled_at, started_at, ended_at
		FROM sessions WHERE id = ?`, sessionID)

	var session types.Session
	var started, ended sql.NullTime
	err := row.Scan(&session.ID, &session.MentorID, &session.Title, &session.Status,
		&session.ScheduledAt, &started, &ended)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session lookup failed: %w", err)
	}
	if started.Valid {
		session.StartedAt = &started.Time
	}
	if ended.Valid {
		session.EndedAt = &ended.Time
	}
	return &session, nil
}

// SessionStatus returns just the status column.
func (s *SQLite) SessionStatus(ctx context.Context, sessionID string) (types.SessionStatus, error) {
	var status types.SessionStatus
	err := s.db.QueryRowContext(ctx, `SELECT status FROM sessions WHERE id = ?`, sessionID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", interfaces.ErrSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("status lookup failed: %w", err)
	}
	return status, nil
}

// SetSessionStatus transitions a session. Going live stamps started_at,
// completing stamps ended_at.
func (s *SQLite) SetSessionStatus(ctx context.Context, sessionID string, status types.SessionStatus) error {
	now := time.Now()
	var res sql.Result
	var err error
	switch status {
	case types.SessionLive:
		res, err = s.db.ExecContext(ctx,
			`UPDATE sessions SET status = ?, started_at = ? WHERE id = ?`, status, now, sessionID)
	case types.SessionCompleted, types.SessionCancelled:
		res, err = s.db.ExecContext(ctx,
			`UPDATE sessions SET status = ?, ended_at = ? WHERE id = ?`, status, now, sessionID)
	default:
		res, err = s.db.ExecContext(ctx,
			`UPDATE sessions SET status = ? WHERE id = ?`, status, sessionID)
	}
	if err != nil {
		return fmt.Errorf("status update failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return interfaces.ErrSessionNotFound
	}
	return nil
}

// UserName resolves a display name; missing users fall back to their id.
func (s *SQLite) UserName(ctx context.Context, userID string) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx, `SELECT name FROM users WHERE id = ?`, userID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return userID, nil
	}
	if err != nil {
		return "", fmt.Errorf("user lookup failed: %w", err)
	}
	return name, nil
}

// Record appends a notification row. This is the durable half of the
// notification pipeline; the live push happens independently.
func (s *SQLite) Record(ctx context.Context, n *types.Notification) error {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type, payload, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.Type, string(payload), n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record notification: %w", err)
	}
	return nil
}

// InsertSession and the helpers below exist for the marketplace-facing
// flows that seed the store, and for tests.

func (s *SQLite) InsertSession(ctx context.Context, session *types.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, mentor_id, title, status, scheduled_at)
		VALUES (?, ?, ?, ?, ?)`,
		session.ID, session.MentorID, session.Title, session.Status, session.ScheduledAt)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (s *SQLite) InsertBooking(ctx context.Context, booking *types.Booking) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bookings (id, session_id, user_id, status)
		VALUES (?, ?, ?, ?)`,
		booking.ID, booking.SessionID, booking.UserID, booking.Status)
	if err != nil {
		return fmt.Errorf("failed to insert booking: %w", err)
	}
	return nil
}

func (s *SQLite) InsertUser(ctx context.Context, id, name string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO users (id, name) VALUES (?, ?)`, id, name)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// repeatPlaceholder returns n copies of ",?" for IN clauses.
func repeatPlaceholder(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ",?"
	}
	return out
}
