package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gfmateus5/Mateus2121/config"
	"github.com/gfmateus5/Mateus2121/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewRetryPolicy(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.RetryConfig
		want RetryPolicy
	}{
		{"configured", config.RetryConfig{MaxAttempts: 5, Delay: time.Second}, RetryPolicy{MaxAttempts: 5, Delay: time.Second}},
		{"zero attempts falls back", config.RetryConfig{MaxAttempts: 0, Delay: time.Second}, RetryPolicy{MaxAttempts: 3, Delay: time.Second}},
		{"negative delay falls back", config.RetryConfig{MaxAttempts: 2, Delay: -1}, RetryPolicy{MaxAttempts: 2, Delay: 5 * time.Second}},
		{"zero delay is allowed", config.RetryConfig{MaxAttempts: 2}, RetryPolicy{MaxAttempts: 2, Delay: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewRetryPolicy(tt.cfg))
		})
	}
}

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3}
	conflict := fmt.Errorf("insert: %w", repositories.ErrConflict)

	assert.True(t, policy.ShouldRetry(1, conflict))
	assert.True(t, policy.ShouldRetry(2, conflict))
	assert.False(t, policy.ShouldRetry(3, conflict), "attempt budget exhausted")
	assert.False(t, policy.ShouldRetry(1, nil))
	assert.False(t, policy.ShouldRetry(1, NewUserNotEnrolledError("ist1")))
	assert.False(t, policy.ShouldRetry(1, errors.New("connection refused")))
}

func TestWithRetry(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond}
	logger := zap.NewNop()

	t.Run("succeeds first time", func(t *testing.T) {
		calls := 0
		result, attempts, err := WithRetry(context.Background(), policy, logger, func(ctx context.Context, attempt int) (string, error) {
			calls++
			return "ok", nil
		})

		require.NoError(t, err)
		assert.Equal(t, "ok", result)
		assert.Equal(t, 1, attempts)
		assert.Equal(t, 1, calls)
	})

	t.Run("retries conflicts then succeeds", func(t *testing.T) {
		var seen []int
		result, attempts, err := WithRetry(context.Background(), policy, logger, func(ctx context.Context, attempt int) (int, error) {
			seen = append(seen, attempt)
			if attempt < 3 {
				return 0, fmt.Errorf("commit: %w", repositories.ErrConflict)
			}
			return 42, nil
		})

		require.NoError(t, err)
		assert.Equal(t, 42, result)
		assert.Equal(t, 3, attempts)
		assert.Equal(t, []int{1, 2, 3}, seen)
	})

	t.Run("exhaustion is a persistence failure", func(t *testing.T) {
		calls := 0
		_, attempts, err := WithRetry(context.Background(), policy, logger, func(ctx context.Context, attempt int) (int, error) {
			calls++
			return 0, repositories.ErrConflict
		})

		require.Error(t, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, 3, attempts)
		assert.ErrorIs(t, err, ErrPersistenceFailure)
		assert.ErrorIs(t, err, repositories.ErrConflict)
		assert.True(t, IsInternalError(err))
	})

	t.Run("logical rejection is never retried", func(t *testing.T) {
		calls := 0
		_, attempts, err := WithRetry(context.Background(), policy, logger, func(ctx context.Context, attempt int) (int, error) {
			calls++
			return 0, NewUserNotEnrolledError("ist123456")
		})

		assert.Equal(t, 1, calls)
		assert.Equal(t, 1, attempts)
		assert.ErrorIs(t, err, ErrUserNotEnrolled)
	})

	t.Run("waits the configured delay between attempts", func(t *testing.T) {
		slow := RetryPolicy{MaxAttempts: 2, Delay: 30 * time.Millisecond}
		start := time.Now()

		_, _, err := WithRetry(context.Background(), slow, logger, func(ctx context.Context, attempt int) (int, error) {
			if attempt == 1 {
				return 0, repositories.ErrConflict
			}
			return 1, nil
		})

		require.NoError(t, err)
		assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	})

	t.Run("cancellation during the delay stops retrying", func(t *testing.T) {
		slow := RetryPolicy{MaxAttempts: 3, Delay: time.Hour}
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0

		_, _, err := WithRetry(ctx, slow, logger, func(ctx context.Context, attempt int) (int, error) {
			calls++
			cancel()
			return 0, repositories.ErrConflict
		})

		assert.Equal(t, 1, calls)
		assert.ErrorIs(t, err, context.Canceled)
		assert.True(t, IsInternalError(err))
	})
}
