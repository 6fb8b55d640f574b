// Package retry implements bounded retries with exponential backoff. Every
// outbound network call in the system goes through it.
package retry

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultConfig matches the system-wide retry discipline: 3 attempts with
// 1s, 2s delays capped at 10s.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
	}
}

// Delay returns the wait before retrying after attempt i (zero-based):
// min(initial * 2^i, cap).
func (c Config) Delay(attempt int) time.Duration {
	d := c.InitialDelay << uint(attempt)
	if d > c.MaxDelay || d <= 0 {
		return c.MaxDelay
	}
	return d
}

// Do runs op up to cfg.MaxAttempts times. The wait between attempts blocks
// only the calling goroutine and is cut short when ctx is cancelled. Every
// failed attempt is logged before waiting or giving up; the last failure is
// returned after exhaustion.
func Do(ctx context.Context, logger *zap.Logger, cfg Config, name string, op func(ctx context.Context) error) error {
	var lastErr error

	for i := 0; i < cfg.MaxAttempts; i++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		logger.Warn("retry attempt failed",
			zap.String("op", name),
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", cfg.MaxAttempts),
			zap.Duration("next_delay", cfg.Delay(i)),
			zap.Error(err))

		if i == cfg.MaxAttempts-1 {
			break
		}

		timer := time.NewTimer(cfg.Delay(i))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	logger.Error("all retry attempts failed",
		zap.String("op", name),
		zap.Int("max_attempts", cfg.MaxAttempts),
		zap.Error(lastErr))
	return lastErr
}
