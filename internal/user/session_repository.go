package user

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"recipe-box/internal/apperr"
	"recipe-box/internal/database"
)

// Session represents a login. Tokens are only honoured while their
// session row exists and has not expired.
type Session struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	UserAgent string    `db:"user_agent"`
	ExpiresAt time.Time `db:"expires_at"`
	CreatedAt time.Time `db:"created_at"`
}

// SessionRepository provides access to session persistence operations
type SessionRepository struct {
	db *database.DB
}

// NewSessionRepository creates a new SessionRepository instance
func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// CreateSession opens a session for userID lasting ttl.
func (sr *SessionRepository) CreateSession(ctx context.Context, userID, userAgent string, ttl time.Duration) (*Session, error) {
	now := database.Now()
	s := &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		UserAgent: userAgent,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}

	_, err := sr.db.NamedExecContext(ctx,
		`INSERT INTO sessions (id, user_id, user_agent, expires_at, created_at)
		 VALUES (:id, :user_id, :user_agent, :expires_at, :created_at)`, s)
	if err != nil {
		return nil, apperr.Database("create session", err)
	}
	return s, nil
}

// GetActiveSession retrieves a non-expired session.
func (sr *SessionRepository) GetActiveSession(ctx context.Context, id string, now time.Time) (*Session, error) {
	var s Session
	err := sr.db.GetContext(ctx, &s, sr.db.Rebind(
		`SELECT id, user_id, user_agent, expires_at, created_at FROM sessions WHERE id = ? AND expires_at > ?`),
		id, now.UTC())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.Unauthenticated("session expired or revoked")
		}
		return nil, apperr.Database("get session", err)
	}
	return &s, nil
}

// DeleteSession removes a session. Deleting a missing session is not an error.
func (sr *SessionRepository) DeleteSession(ctx context.Context, id string) error {
	if _, err := sr.db.ExecContext(ctx, sr.db.Rebind(`DELETE FROM sessions WHERE id = ?`), id); err != nil {
		return apperr.Database("delete session", err)
	}
	return nil
}

// CleanupExpiredSessions removes all expired sessions.
func (sr *SessionRepository) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	res, err := sr.db.ExecContext(ctx, sr.db.Rebind(`DELETE FROM sessions WHERE expires_at <= ?`), database.Now())
	if err != nil {
		return 0, apperr.Database("cleanup sessions", err)
	}
	return res.RowsAffected()
}
