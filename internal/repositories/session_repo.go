package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/sentinel/internal/database"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const sessionColumns = `id, user_id, session_id, ip_address, user_agent, login_at,
	last_activity_at, logout_at, end_reason, is_active`

// SessionRepository stores user_sessions rows. An active row is unique per
// (user_id, session_id).
type SessionRepository struct {
	pool *pgxpool.Pool
}

func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{pool: db.Pool}
}

func scanSessionRow(scanner rowScanner) (*models.UserSession, error) {
	var s models.UserSession

	err := scanner.Scan(
		&s.ID, &s.UserID, &s.SessionID, &s.IPAddress, &s.UserAgent, &s.LoginAt,
		&s.LastActivityAt, &s.LogoutAt, &s.EndReason, &s.IsActive,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &s, nil
}

// Upsert creates the active session for the pair or refreshes its last
// activity. Concurrent touches of the same pair resolve last-write-wins.
func (r *SessionRepository) Upsert(ctx context.Context, userID, sessionID, ipAddress, userAgent string, at time.Time) (*models.UserSession, error) {
	query := `
		INSERT INTO user_sessions (id, user_id, session_id, ip_address, user_agent, login_at, last_activity_at, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $6, TRUE)
		ON CONFLICT (user_id, session_id) WHERE is_active
		DO UPDATE SET last_activity_at = EXCLUDED.last_activity_at,
		              ip_address = EXCLUDED.ip_address,
		              user_agent = EXCLUDED.user_agent
		RETURNING ` + sessionColumns

	session, err := scanSessionRow(r.pool.QueryRow(ctx, query,
		uuid.New().String(), userID, sessionID, ipAddress, userAgent, at,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert session: %w", err)
	}
	return session, nil
}

// Refresh extends an already active session. It never creates a row, so a
// request racing a logout cannot revive the session.
func (r *SessionRepository) Refresh(ctx context.Context, userID, sessionID, ipAddress, userAgent string, at time.Time) (bool, error) {
	query := `
		UPDATE user_sessions
		SET last_activity_at = GREATEST(last_activity_at, $5), ip_address = $3, user_agent = $4
		WHERE user_id = $1 AND session_id = $2 AND is_active
	`
	result, err := r.pool.Exec(ctx, query, userID, sessionID, ipAddress, userAgent, at)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return result.RowsAffected() > 0, nil
}

// GetLatest returns the most recent row for the pair, active or not
func (r *SessionRepository) GetLatest(ctx context.Context, userID, sessionID string) (*models.UserSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM user_sessions
		WHERE user_id = $1 AND session_id = $2
		ORDER BY is_active DESC, login_at DESC
		LIMIT 1
	`
	return scanSessionRow(r.pool.QueryRow(ctx, query, userID, sessionID))
}

// End closes the active session for the pair. It reports false when no active
// row existed.
func (r *SessionRepository) End(ctx context.Context, userID, sessionID, reason string, at time.Time) (bool, error) {
	query := `
		UPDATE user_sessions
		SET is_active = FALSE, logout_at = $3, end_reason = $4
		WHERE user_id = $1 AND session_id = $2 AND is_active
	`
	result, err := r.pool.Exec(ctx, query, userID, sessionID, at, reason)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return result.RowsAffected() > 0, nil
}

// EndAllForUser closes every active session of a user
func (r *SessionRepository) EndAllForUser(ctx context.Context, userID, reason string, at time.Time) (int64, error) {
	query := `
		UPDATE user_sessions
		SET is_active = FALSE, logout_at = $2, end_reason = $3
		WHERE user_id = $1 AND is_active
	`
	result, err := r.pool.Exec(ctx, query, userID, at, reason)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}

// EndIdleBefore expires every active session whose last activity is older than cutoff
func (r *SessionRepository) EndIdleBefore(ctx context.Context, cutoff, at time.Time) (int64, error) {
	query := `
		UPDATE user_sessions
		SET is_active = FALSE, logout_at = $2, end_reason = $3
		WHERE is_active AND last_activity_at < $1
	`
	result, err := r.pool.Exec(ctx, query, cutoff, at, models.SessionEndExpired)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}

// LatestActivity returns the newest last_activity_at across a user's active
// sessions, or nil when the user has none.
func (r *SessionRepository) LatestActivity(ctx context.Context, userID string) (*time.Time, error) {
	var latest *time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT MAX(last_activity_at) FROM user_sessions WHERE user_id = $1 AND is_active`, userID,
	).Scan(&latest)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return latest, nil
}

func (r *SessionRepository) CountActive(ctx context.Context) (int64, error) {
	var count int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM user_sessions WHERE is_active`).Scan(&count); err != nil {
		return 0, database.MapPostgresError(err)
	}
	return count, nil
}

func (r *SessionRepository) CountStartedSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM user_sessions WHERE login_at >= $1`, since).Scan(&count); err != nil {
		return 0, database.MapPostgresError(err)
	}
	return count, nil
}
