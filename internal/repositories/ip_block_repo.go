package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/sentinel/internal/database"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
)

const ipBlockColumns = `id, ip_address, reason, blocked_at, unblocked_at, unblocked_by, is_active`

// IPBlockRepository persists IP blocks. The partial unique index
// ip_blocks_active_ip keeps at most one active row per address.
type IPBlockRepository struct {
	db   *database.DB
	pool *pgxpool.Pool
}

func NewIPBlockRepository(db *database.DB) *IPBlockRepository {
	return &IPBlockRepository{db: db, pool: db.Pool}
}

// createBlockAttempts bounds how often CreateIfNotActive retries when the
// conflicting block is deactivated between the insert and the re-read.
const createBlockAttempts = 3

func scanIPBlockRow(scanner rowScanner) (*models.IPBlock, error) {
	var block models.IPBlock

	err := scanner.Scan(
		&block.ID, &block.IPAddress, &block.Reason, &block.BlockedAt,
		&block.UnblockedAt, &block.UnblockedBy, &block.IsActive,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &block, nil
}

// CreateIfNotActive inserts an active block unless one already exists for the
// address. It returns the active block and whether this call created it.
func (r *IPBlockRepository) CreateIfNotActive(ctx context.Context, ipAddress, reason string, at time.Time) (*models.IPBlock, bool, error) {
	insert := `
		INSERT INTO ip_blocks (id, ip_address, reason, blocked_at, is_active)
		VALUES ($1, $2, $3, $4, TRUE)
		ON CONFLICT (ip_address) WHERE is_active DO NOTHING
		RETURNING ` + ipBlockColumns
	existing := `SELECT ` + ipBlockColumns + ` FROM ip_blocks WHERE ip_address = $1 AND is_active FOR SHARE`

	var (
		block   *models.IPBlock
		created bool
	)
	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		for attempt := 0; attempt < createBlockAttempts; attempt++ {
			row, err := scanIPBlockRow(tx.QueryRow(ctx, insert, uuid.New().String(), ipAddress, reason, at))
			if err == nil {
				block, created = row, true
				return nil
			}
			if !errors.Is(err, models.ErrNotFound) {
				return fmt.Errorf("failed to create ip block: %w", err)
			}

			// conflict: somebody else holds the active block, unless it was
			// lifted after our insert saw it
			row, err = scanIPBlockRow(tx.QueryRow(ctx, existing, ipAddress))
			if err == nil {
				block = row
				return nil
			}
			if !errors.Is(err, models.ErrNotFound) {
				return fmt.Errorf("failed to load existing ip block: %w", err)
			}
		}
		return fmt.Errorf("%w: ip block for %s kept changing", models.ErrConflict, ipAddress)
	})
	if err != nil {
		return nil, false, err
	}
	return block, created, nil
}

// GetActiveByIP returns the active block for ipAddress or models.ErrNotFound
func (r *IPBlockRepository) GetActiveByIP(ctx context.Context, ipAddress string) (*models.IPBlock, error) {
	query := `SELECT ` + ipBlockColumns + ` FROM ip_blocks WHERE ip_address = $1 AND is_active`
	return scanIPBlockRow(r.pool.QueryRow(ctx, query, ipAddress))
}

func (r *IPBlockRepository) ExistsActive(ctx context.Context, ipAddress string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM ip_blocks WHERE ip_address = $1 AND is_active)`, ipAddress,
	).Scan(&exists)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return exists, nil
}

func (r *IPBlockRepository) GetByID(ctx context.Context, id string) (*models.IPBlock, error) {
	query := `SELECT ` + ipBlockColumns + ` FROM ip_blocks WHERE id = $1`
	return scanIPBlockRow(r.pool.QueryRow(ctx, query, id))
}

// Deactivate ends an active block. An unknown id yields models.ErrNotFound and
// a block that was already lifted yields models.ErrAlreadyInactive.
func (r *IPBlockRepository) Deactivate(ctx context.Context, id string, unblockedBy *string, at time.Time) (*models.IPBlock, error) {
	query := `
		UPDATE ip_blocks
		SET is_active = FALSE, unblocked_at = $3, unblocked_by = $2
		WHERE id = $1 AND is_active
		RETURNING ` + ipBlockColumns

	block, err := scanIPBlockRow(r.pool.QueryRow(ctx, query, id, unblockedBy, at))
	if err == nil {
		return block, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	if _, getErr := r.GetByID(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, models.ErrAlreadyInactive
}

// List returns blocks newest first
func (r *IPBlockRepository) List(ctx context.Context, filter models.IPBlockFilter) ([]*models.IPBlock, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	var ips interface{}
	if len(filter.IPAddresses) > 0 {
		ips = pq.Array(filter.IPAddresses)
	}

	query := `
		SELECT ` + ipBlockColumns + `
		FROM ip_blocks
		WHERE ($1::text[] IS NULL OR ip_address = ANY($1::text[]))
		  AND (NOT $2 OR is_active)
		ORDER BY blocked_at DESC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.pool.Query(ctx, query, ips, filter.ActiveOnly, limit, filter.Offset)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	blocks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.IPBlock, error) {
		return scanIPBlockRow(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan ip blocks: %w", err)
	}
	return blocks, nil
}

func (r *IPBlockRepository) CountActive(ctx context.Context) (int64, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM ip_blocks WHERE is_active`)
}

func (r *IPBlockRepository) CountTotal(ctx context.Context) (int64, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM ip_blocks`)
}

func (r *IPBlockRepository) CountSince(ctx context.Context, since time.Time) (int64, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM ip_blocks WHERE blocked_at >= $1`, since)
}

func (r *IPBlockRepository) count(ctx context.Context, query string, args ...interface{}) (int64, error) {
	var count int64
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, database.MapPostgresError(err)
	}
	return count, nil
}
