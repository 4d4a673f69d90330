package syncer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/openmined/s3sync/internal/endpoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(errors.New("connection reset")))
	assert.False(t, IsRetryable(fmt.Errorf("copy: %w", endpoint.ErrSourceVanished)))
	assert.False(t, IsRetryable(endpoint.ErrNotImplemented))
	assert.False(t, IsRetryable(endpoint.ErrUnrepresentableKey))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(context.DeadlineExceeded))
}

func TestRetryDo(t *testing.T) {
	clock := clockwork.NewRealClock()
	boom := errors.New("boom")

	t.Run("succeeds after failures", func(t *testing.T) {
		calls := 0
		var attempts []int
		err := RetryPolicy{}.Do(t.Context(), clock, func(context.Context) error {
			calls++
			if calls < 3 {
				return boom
			}
			return nil
		}, func(attempt int, err error) {
			attempts = append(attempts, attempt)
			assert.ErrorIs(t, err, boom)
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, []int{1, 2}, attempts)
	})

	t.Run("final error is not retried", func(t *testing.T) {
		calls := 0
		err := RetryPolicy{}.Do(t.Context(), clock, func(context.Context) error {
			calls++
			return endpoint.ErrNotImplemented
		}, func(int, error) {
			t.Fatal("onError called for a final error")
		})
		assert.ErrorIs(t, err, endpoint.ErrNotImplemented)
		assert.Equal(t, 1, calls)
	})

	t.Run("max attempts", func(t *testing.T) {
		calls := 0
		err := RetryPolicy{MaxAttempts: 3}.Do(t.Context(), clock, func(context.Context) error {
			calls++
			return boom
		}, nil)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 3, calls)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		calls := 0
		err := RetryPolicy{}.Do(ctx, clock, func(context.Context) error {
			calls++
			cancel()
			return boom
		}, nil)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}

func TestRetryDoWaitsForDelay(t *testing.T) {
	clock := clockwork.NewFakeClock()
	calls := make(chan int, 10)
	n := 0

	done := make(chan error, 1)
	go func() {
		done <- RetryPolicy{Delay: time.Minute}.Do(t.Context(), clock, func(context.Context) error {
			n++
			calls <- n
			if n < 2 {
				return errors.New("boom")
			}
			return nil
		}, nil)
	}()

	assert.Equal(t, 1, <-calls)
	clock.BlockUntil(1)

	select {
	case <-calls:
		t.Fatal("retried before the delay elapsed")
	default:
	}

	clock.Advance(time.Minute)
	assert.Equal(t, 2, <-calls)
	require.NoError(t, <-done)
}
