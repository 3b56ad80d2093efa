package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/sentinel/internal/database"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PasswordResetRepository keeps at most one reset token hash per email
type PasswordResetRepository struct {
	pool *pgxpool.Pool
}

func NewPasswordResetRepository(db *database.DB) *PasswordResetRepository {
	return &PasswordResetRepository{pool: db.Pool}
}

// Upsert replaces any previous token for the email
func (r *PasswordResetRepository) Upsert(ctx context.Context, token *models.PasswordResetToken) error {
	query := `
		INSERT INTO password_reset_tokens (email, token_hash, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (email) DO UPDATE SET token_hash = EXCLUDED.token_hash, created_at = EXCLUDED.created_at
	`
	_, err := r.pool.Exec(ctx, query, token.Email, token.TokenHash, token.CreatedAt)
	return database.MapPostgresError(err)
}

// Consume deletes the row matching email and hash and returns it. A second
// consumer of the same token gets models.ErrNotFound.
func (r *PasswordResetRepository) Consume(ctx context.Context, email, tokenHash string) (*models.PasswordResetToken, error) {
	query := `
		DELETE FROM password_reset_tokens
		WHERE email = $1 AND token_hash = $2
		RETURNING email, token_hash, created_at
	`
	var t models.PasswordResetToken
	if err := r.pool.QueryRow(ctx, query, email, tokenHash).Scan(&t.Email, &t.TokenHash, &t.CreatedAt); err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &t, nil
}

// DeleteExpired removes the email's token if it was created before cutoff
func (r *PasswordResetRepository) DeleteExpired(ctx context.Context, email string, cutoff time.Time) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM password_reset_tokens WHERE email = $1 AND created_at < $2`, email, cutoff)
	return database.MapPostgresError(err)
}
