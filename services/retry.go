package services

import (
	"context"
	"errors"
	"time"

	"github.com/gfmateus5/Mateus2121/config"
	"github.com/gfmateus5/Mateus2121/repositories"
	"go.uber.org/zap"
)

// RetryPolicy is a bounded fixed-delay retry for transactional steps.
// Only repositories.ErrConflict is retried.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultRetryPolicy returns three attempts five seconds apart
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Delay:       5 * time.Second,
	}
}

// NewRetryPolicy builds a policy from configuration, falling back to defaults for unset values
func NewRetryPolicy(cfg config.RetryConfig) RetryPolicy {
	policy := DefaultRetryPolicy()
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.Delay >= 0 {
		policy.Delay = cfg.Delay
	}
	return policy
}

// ShouldRetry reports whether another attempt is allowed after attempts failed with err
func (p RetryPolicy) ShouldRetry(attempts int, err error) bool {
	if err == nil || attempts >= p.MaxAttempts {
		return false
	}
	return errors.Is(err, repositories.ErrConflict)
}

// WithRetry runs fn until it succeeds, fails with a non-conflict error or the
// policy runs out of attempts. It returns the number of attempts made.
// Exhausting the attempts yields a persistence failure wrapping the last conflict.
func WithRetry[T any](ctx context.Context, policy RetryPolicy, logger *zap.Logger, fn func(ctx context.Context, attempt int) (T, error)) (T, int, error) {
	var zero T

	for attempt := 1; ; attempt++ {
		result, err := fn(ctx, attempt)
		if err == nil {
			return result, attempt, nil
		}

		if !errors.Is(err, repositories.ErrConflict) {
			return zero, attempt, err
		}

		if !policy.ShouldRetry(attempt, err) {
			logger.Error("giving up after concurrent modification conflicts",
				zap.Int("attempts", attempt),
				zap.Error(err))
			return zero, attempt, NewPersistenceFailureError(attempt, err)
		}

		logger.Warn("concurrent modification conflict, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", policy.MaxAttempts),
			zap.Duration("delay", policy.Delay),
			zap.Error(err))

		if err := sleep(ctx, policy.Delay); err != nil {
			return zero, attempt, NewPersistenceFailureError(attempt, err)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
