package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/BradenHooton/sentinel/internal/models"
	pkglogger "github.com/BradenHooton/sentinel/pkg/logger"
)

// IPBlockRepository defines the storage used by IPBlockRegistry
type IPBlockRepository interface {
	CreateIfNotActive(ctx context.Context, ipAddress, reason string, at time.Time) (*models.IPBlock, bool, error)
	ExistsActive(ctx context.Context, ipAddress string) (bool, error)
	Deactivate(ctx context.Context, id string, unblockedBy *string, at time.Time) (*models.IPBlock, error)
	List(ctx context.Context, filter models.IPBlockFilter) ([]*models.IPBlock, error)
}

// BulkUnblockResult reports a batch unblock
type BulkUnblockResult struct {
	RequestedCount int `json:"requested_count"`
	UnblockedCount int `json:"unblocked_count"`
}

// IPBlockRegistry owns the active/inactive lifecycle of IP blocks. Blocks
// stay active until an admin lifts them.
type IPBlockRegistry struct {
	repo        IPBlockRepository
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	now         func() time.Time
}

// NewIPBlockRegistry creates a new IPBlockRegistry
func NewIPBlockRegistry(repo IPBlockRepository, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *IPBlockRegistry {
	return &IPBlockRegistry{
		repo:        repo,
		logger:      logger,
		auditLogger: auditLogger,
		now:         time.Now,
	}
}

// IsBlocked reports whether ipAddress has an active block
func (r *IPBlockRegistry) IsBlocked(ctx context.Context, ipAddress string) (bool, error) {
	blocked, err := r.repo.ExistsActive(ctx, normalizeIP(ipAddress))
	if err != nil {
		return false, fmt.Errorf("%w: ip block lookup: %v", models.ErrStorageFailure, err)
	}
	return blocked, nil
}

// BlockIP places an admin block on ipAddress. See block.
func (r *IPBlockRegistry) BlockIP(ctx context.Context, ipAddress, reason, actorID string) (*models.IPBlock, bool, error) {
	return r.block(ctx, ipAddress, reason, actorID, false)
}

// block creates an active block unless one exists, in which case the
// existing block is returned with created=false
func (r *IPBlockRegistry) block(ctx context.Context, ipAddress, reason, actorID string, automatic bool) (*models.IPBlock, bool, error) {
	ipAddress = normalizeIP(ipAddress)
	if ipAddress == "" {
		return nil, false, fmt.Errorf("%w: ip address is required", models.ErrBadRequest)
	}

	block, created, err := r.repo.CreateIfNotActive(ctx, ipAddress, reason, r.now())
	if err != nil {
		return nil, false, fmt.Errorf("%w: create ip block: %v", models.ErrStorageFailure, err)
	}

	if created {
		r.logger.Warn("ip blocked",
			slog.String("ip_address", ipAddress),
			slog.String("block_id", block.ID),
			slog.Bool("automatic", automatic))
		r.auditLogger.LogIPBlock(ipAddress, reason, actorID, automatic)
	}

	return block, created, nil
}

// Unblock lifts an active block. It returns false with no error when the block
// was already inactive, and models.ErrNotFound for an unknown id.
func (r *IPBlockRegistry) Unblock(ctx context.Context, blockID, actorID string) (bool, error) {
	var actor *string
	if actorID != "" {
		actor = &actorID
	}

	block, err := r.repo.Deactivate(ctx, blockID, actor, r.now())
	if err != nil {
		switch {
		case errors.Is(err, models.ErrAlreadyInactive):
			return false, nil
		case errors.Is(err, models.ErrNotFound):
			return false, models.ErrNotFound
		default:
			return false, fmt.Errorf("%w: unblock: %v", models.ErrStorageFailure, err)
		}
	}

	r.logger.Info("ip unblocked",
		slog.String("ip_address", block.IPAddress),
		slog.String("block_id", block.ID),
		slog.String("actor_id", actorID))
	r.auditLogger.LogIPUnblock(block.ID, block.IPAddress, actorID)

	return true, nil
}

// BulkUnblock unblocks each id in turn. Ids that are unknown or already
// inactive are skipped; a storage failure stops the batch and returns the
// counts reached so far.
func (r *IPBlockRegistry) BulkUnblock(ctx context.Context, blockIDs []string, actorID string) (BulkUnblockResult, error) {
	result := BulkUnblockResult{RequestedCount: len(blockIDs)}

	for _, id := range blockIDs {
		unblocked, err := r.Unblock(ctx, id, actorID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				continue
			}
			return result, err
		}
		if unblocked {
			result.UnblockedCount++
		}
	}

	return result, nil
}

// List returns blocks for the admin surface, newest first
func (r *IPBlockRegistry) List(ctx context.Context, filter models.IPBlockFilter) ([]*models.IPBlock, error) {
	if len(filter.IPAddresses) > 0 {
		ips := make([]string, len(filter.IPAddresses))
		for i, ip := range filter.IPAddresses {
			ips[i] = normalizeIP(ip)
		}
		filter.IPAddresses = ips
	}

	blocks, err := r.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: list ip blocks: %v", models.ErrStorageFailure, err)
	}
	return blocks, nil
}

// normalizeIP returns the canonical text form of ip, so that case variants of
// an IPv6 address and IPv4-mapped addresses key the same block. Unparseable
// input is returned trimmed.
func normalizeIP(ip string) string {
	ip = strings.TrimSpace(ip)
	if parsed := net.ParseIP(ip); parsed != nil {
		return parsed.String()
	}
	return ip
}
