package services

import (
	"context"
	"testing"
	"time"

	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecurityStatsService_GetStats(t *testing.T) {
	ctx := context.Background()
	blocks := &MockIPBlockRepository{}
	attempts := &MockFailedLoginRepository{}
	sessions := &MockSessionRepository{}

	lifted := testStart.Add(-47 * time.Hour)
	blocks.Seed(&models.IPBlock{ID: "old", IPAddress: "1.1.1.1", BlockedAt: testStart.Add(-48 * time.Hour), UnblockedAt: &lifted})
	blocks.Seed(&models.IPBlock{ID: "new", IPAddress: "2.2.2.2", BlockedAt: testStart.Add(-time.Hour), IsActive: true})

	for _, ago := range []time.Duration{10 * time.Minute, 2 * time.Hour, 30 * time.Hour} {
		require.NoError(t, attempts.Create(ctx, &models.FailedLoginAttempt{IPAddress: "3.3.3.3", CreatedAt: testStart.Add(-ago)}))
	}

	_, err := sessions.Upsert(ctx, "u1", "s1", "", "", testStart.Add(-time.Hour))
	require.NoError(t, err)
	_, err = sessions.Upsert(ctx, "u2", "s2", "", "", testStart.Add(-25*time.Hour))
	require.NoError(t, err)
	_, err = sessions.End(ctx, "u2", "s2", models.SessionEndLogout, testStart)
	require.NoError(t, err)

	svc := NewSecurityStatsService(blocks, attempts, sessions, discardLogger())
	svc.now = func() time.Time { return testStart }

	stats, err := svc.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, &models.SecurityStats{
		ActiveBlocks:           1,
		TotalBlocks:            2,
		BlocksLast24h:          1,
		FailedAttemptsLastHour: 1,
		FailedAttemptsLast24h:  2,
		ActiveSessions:         1,
		SessionsStartedLast24h: 1,
	}, stats)
}

type failingBlockStats struct{ MockIPBlockRepository }

func (*failingBlockStats) CountTotal(ctx context.Context) (int64, error) { return 0, errStorage }

func TestSecurityStatsService_StorageFailure(t *testing.T) {
	svc := NewSecurityStatsService(&failingBlockStats{}, &MockFailedLoginRepository{}, &MockSessionRepository{}, discardLogger())

	stats, err := svc.GetStats(context.Background())
	assert.Nil(t, stats)
	assert.ErrorIs(t, err, models.ErrStorageFailure)
}
