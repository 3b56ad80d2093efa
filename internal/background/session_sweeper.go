package background

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SessionCloser closes sessions idle longer than a threshold
type SessionCloser interface {
	SweepExpired(ctx context.Context, idleThreshold time.Duration) (int64, error)
}

// CounterPruner drops expired rate-limit counters held in process memory
type CounterPruner interface {
	Prune() int
}

// SessionSweeper periodically closes abandoned sessions and prunes
// in-memory limiter counters
type SessionSweeper struct {
	sessions  SessionCloser
	pruner    CounterPruner
	threshold time.Duration
	interval  time.Duration
	logger    *slog.Logger
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// NewSessionSweeper creates a new sweeper. pruner may be nil.
func NewSessionSweeper(sessions SessionCloser, pruner CounterPruner, threshold, interval time.Duration, logger *slog.Logger) *SessionSweeper {
	return &SessionSweeper{
		sessions:  sessions,
		pruner:    pruner,
		threshold: threshold,
		interval:  interval,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// Start runs the sweep immediately and then on every interval until ctx is
// done or Stop is called
func (s *SessionSweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runOnce(ctx)

	for {
		select {
		case <-ticker.C:
			s.runOnce(ctx)
		case <-s.stopCh:
			s.logger.Info("session sweeper stopped")
			return
		case <-ctx.Done():
			s.logger.Info("session sweeper context cancelled")
			return
		}
	}
}

func (s *SessionSweeper) runOnce(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	closed, err := s.sessions.SweepExpired(sweepCtx, s.threshold)
	if err != nil {
		s.logger.Error("failed to sweep idle sessions", slog.Any("error", err))
	} else if closed > 0 {
		s.logger.Info("idle sessions closed", slog.Int64("sessions_closed", closed))
	}

	if s.pruner != nil {
		if pruned := s.pruner.Prune(); pruned > 0 {
			s.logger.Debug("rate limit counters pruned", slog.Int("counters_pruned", pruned))
		}
	}
}

// Stop signals the sweeper to stop. Safe to call more than once.
func (s *SessionSweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}
