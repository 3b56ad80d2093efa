// Package ratelimit implements the fixed-window login throttle. Counters live
// in a Store so the same limiter runs on process memory or Redis.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrStoreUnavailable wraps every failure reported by a Store
var ErrStoreUnavailable = errors.New("rate limit store unavailable")

// Store is a counter service with TTL semantics
type Store interface {
	// Increment adds one to key and returns the new count. The first
	// increment of a window sets the key to expire after decay.
	Increment(ctx context.Context, key string, decay time.Duration) (int64, error)
	// Get returns the current count, zero when the key is absent or expired.
	Get(ctx context.Context, key string) (int64, error)
	// TTL returns the remaining lifetime of key, zero when absent.
	TTL(ctx context.Context, key string) (time.Duration, error)
	Delete(ctx context.Context, key string) error
}

// Limiter throttles request frequency per key
type Limiter struct {
	store Store
	decay time.Duration
}

// New creates a Limiter whose windows last decay
func New(store Store, decay time.Duration) *Limiter {
	return &Limiter{store: store, decay: decay}
}

// LoginKey is the limiter key for login attempts from ip
func LoginKey(ip string) string {
	return "login:" + ip
}

// TooManyAttempts reports whether key has already used maxAttempts in the
// current window. It does not increment.
func (l *Limiter) TooManyAttempts(ctx context.Context, key string, maxAttempts int) (bool, error) {
	count, err := l.store.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return count >= int64(maxAttempts), nil
}

// Hit counts one attempt against key
func (l *Limiter) Hit(ctx context.Context, key string) (int64, error) {
	count, err := l.store.Increment(ctx, key, l.decay)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return count, nil
}

// Clear drops all state for key
func (l *Limiter) Clear(ctx context.Context, key string) error {
	if err := l.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// AvailableIn returns how long until the window for key resets
func (l *Limiter) AvailableIn(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := l.store.TTL(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// Seconds rounds d up to whole seconds, the unit used by Retry-After
func Seconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}
