package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/openmined/s3sync/internal/endpoint"
)

const DefaultRetryDelay = 5 * time.Second

// RetryPolicy retries failing operations after a fixed delay. A zero
// MaxAttempts retries forever.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// IsRetryable reports whether err is worth another attempt. Vanished
// sources, unsupported transfers, unrepresentable keys and cancellation
// are final.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, endpoint.ErrSourceVanished),
		errors.Is(err, endpoint.ErrNotImplemented),
		errors.Is(err, endpoint.ErrUnrepresentableKey),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

// Do calls fn until it succeeds, fails with a final error, runs out of
// attempts or ctx is done. onError sees every retryable failure.
func (p RetryPolicy) Do(ctx context.Context, clock clockwork.Clock, fn func(context.Context) error, onError func(attempt int, err error)) error {
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !IsRetryable(err) {
			return err
		}
		if onError != nil {
			onError(attempt, err)
		}
		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clock.After(p.Delay):
		}
	}
}
