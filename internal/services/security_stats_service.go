package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/sentinel/internal/models"
)

// BlockStatsSource counts IP blocks
type BlockStatsSource interface {
	CountActive(ctx context.Context) (int64, error)
	CountTotal(ctx context.Context) (int64, error)
	CountSince(ctx context.Context, since time.Time) (int64, error)
}

// AttemptStatsSource counts failed logins
type AttemptStatsSource interface {
	CountSince(ctx context.Context, since time.Time) (int64, error)
}

// SessionStatsSource counts sessions
type SessionStatsSource interface {
	CountActive(ctx context.Context) (int64, error)
	CountStartedSince(ctx context.Context, since time.Time) (int64, error)
}

// SecurityStatsService aggregates counts for the admin dashboard. Pure reads.
type SecurityStatsService struct {
	blocks   BlockStatsSource
	attempts AttemptStatsSource
	sessions SessionStatsSource
	logger   *slog.Logger
	now      func() time.Time
}

// NewSecurityStatsService creates a new SecurityStatsService
func NewSecurityStatsService(blocks BlockStatsSource, attempts AttemptStatsSource, sessions SessionStatsSource, logger *slog.Logger) *SecurityStatsService {
	return &SecurityStatsService{
		blocks:   blocks,
		attempts: attempts,
		sessions: sessions,
		logger:   logger,
		now:      time.Now,
	}
}

// GetStats returns block, failed-attempt and session counts
func (s *SecurityStatsService) GetStats(ctx context.Context) (*models.SecurityStats, error) {
	now := s.now()
	dayAgo := now.Add(-24 * time.Hour)
	stats := &models.SecurityStats{}

	counters := []struct {
		name  string
		dst   *int64
		count func() (int64, error)
	}{
		{"active blocks", &stats.ActiveBlocks, func() (int64, error) { return s.blocks.CountActive(ctx) }},
		{"total blocks", &stats.TotalBlocks, func() (int64, error) { return s.blocks.CountTotal(ctx) }},
		{"blocks last 24h", &stats.BlocksLast24h, func() (int64, error) { return s.blocks.CountSince(ctx, dayAgo) }},
		{"failed attempts last hour", &stats.FailedAttemptsLastHour, func() (int64, error) { return s.attempts.CountSince(ctx, now.Add(-time.Hour)) }},
		{"failed attempts last 24h", &stats.FailedAttemptsLast24h, func() (int64, error) { return s.attempts.CountSince(ctx, dayAgo) }},
		{"active sessions", &stats.ActiveSessions, func() (int64, error) { return s.sessions.CountActive(ctx) }},
		{"sessions last 24h", &stats.SessionsStartedLast24h, func() (int64, error) { return s.sessions.CountStartedSince(ctx, dayAgo) }},
	}

	for _, c := range counters {
		n, err := c.count()
		if err != nil {
			s.logger.Error("security stats: count failed", slog.String("counter", c.name), slog.Any("error", err))
			return nil, fmt.Errorf("%w: %s: %v", models.ErrStorageFailure, c.name, err)
		}
		*c.dst = n
	}

	return stats, nil
}
