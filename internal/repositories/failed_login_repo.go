package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/sentinel/internal/database"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// FailedLoginRepository is the append-only store of rejected credential checks
type FailedLoginRepository struct {
	pool *pgxpool.Pool
}

func NewFailedLoginRepository(db *database.DB) *FailedLoginRepository {
	return &FailedLoginRepository{pool: db.Pool}
}

// Create inserts one attempt. Rows are never updated.
func (r *FailedLoginRepository) Create(ctx context.Context, attempt *models.FailedLoginAttempt) error {
	if attempt.ID == "" {
		attempt.ID = uuid.New().String()
	}

	query := `
		INSERT INTO failed_login_attempts (id, user_id, ip_address, email, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.pool.Exec(ctx, query,
		attempt.ID, attempt.UserID, attempt.IPAddress, attempt.Email, attempt.UserAgent, attempt.CreatedAt,
	)
	return database.MapPostgresError(err)
}

// CountByIPSince counts failures from ipAddress at or after since
func (r *FailedLoginRepository) CountByIPSince(ctx context.Context, ipAddress string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM failed_login_attempts WHERE ip_address = $1 AND created_at >= $2`

	var count int
	if err := r.pool.QueryRow(ctx, query, ipAddress, since).Scan(&count); err != nil {
		return 0, database.MapPostgresError(err)
	}
	return count, nil
}

// CountByEmailSince counts failures targeting email at or after since
func (r *FailedLoginRepository) CountByEmailSince(ctx context.Context, email string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM failed_login_attempts WHERE email = $1 AND created_at >= $2`

	var count int
	if err := r.pool.QueryRow(ctx, query, email, since).Scan(&count); err != nil {
		return 0, database.MapPostgresError(err)
	}
	return count, nil
}

// CountSince counts all failures at or after since
func (r *FailedLoginRepository) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM failed_login_attempts WHERE created_at >= $1`, since).Scan(&count)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return count, nil
}

// ListByIPSince returns the newest failures first. An empty ipAddress lists all sources.
func (r *FailedLoginRepository) ListByIPSince(ctx context.Context, ipAddress string, since time.Time, limit int) ([]*models.FailedLoginAttempt, error) {
	query := `
		SELECT id, user_id, ip_address, email, user_agent, created_at
		FROM failed_login_attempts
		WHERE ($1 = '' OR ip_address = $1) AND created_at >= $2
		ORDER BY created_at DESC
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, ipAddress, since, limit)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	attempts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.FailedLoginAttempt, error) {
		var a models.FailedLoginAttempt
		err := row.Scan(&a.ID, &a.UserID, &a.IPAddress, &a.Email, &a.UserAgent, &a.CreatedAt)
		return &a, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan failed login attempts: %w", database.MapPostgresError(err))
	}
	return attempts, nil
}
