package repositories

import (
	"context"

	"github.com/BradenHooton/sentinel/internal/database"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TermsRepository looks up the published terms-of-service document
type TermsRepository struct {
	pool *pgxpool.Pool
}

func NewTermsRepository(db *database.DB) *TermsRepository {
	return &TermsRepository{pool: db.Pool}
}

// GetActive returns the active terms document or models.ErrNotFound when none is published
func (r *TermsRepository) GetActive(ctx context.Context) (*models.TermsDocument, error) {
	query := `SELECT id, version, published_at FROM terms_documents WHERE is_active LIMIT 1`

	var doc models.TermsDocument
	if err := r.pool.QueryRow(ctx, query).Scan(&doc.ID, &doc.Version, &doc.PublishedAt); err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &doc, nil
}
