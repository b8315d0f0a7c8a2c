package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Retrier is the single bounded retry primitive. Attempts counts retries
// after the first call, so Attempts=0 runs fn exactly once.
type Retrier struct {
	Attempts int
	Backoff  time.Duration
	// Exponential doubles the delay between attempts instead of keeping it flat.
	Exponential bool
	// Retryable decides whether an error is worth another attempt. Nil
	// retries everything.
	Retryable func(error) bool
	Logger    *zap.Logger
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempt
// budget is spent or ctx is done. It reports how many calls were made.
func (r *Retrier) Do(ctx context.Context, operation string, fn func(ctx context.Context) error) (int, error) {
	calls := 0
	op := func() error {
		calls++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if r.Retryable != nil && !r.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		if r.Logger != nil {
			r.Logger.Warn("[retry] attempt failed, retrying",
				zap.String("operation", operation),
				zap.Int("attempt", calls),
				zap.Int("max_attempts", r.Attempts+1),
				zap.Duration("wait", wait),
				zap.Error(err))
		}
	}

	err := backoff.RetryNotify(op, backoff.WithContext(r.policy(), ctx), notify)
	if err != nil {
		if calls > 1 {
			return calls, fmt.Errorf("%s failed after %d attempts: %w", operation, calls, err)
		}
		return calls, fmt.Errorf("%s: %w", operation, err)
	}
	return calls, nil
}

func (r *Retrier) policy() backoff.BackOff {
	attempts := r.Attempts
	if attempts < 0 {
		attempts = 0
	}
	if !r.Exponential {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(r.Backoff), uint64(attempts))
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.Backoff
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	return backoff.WithMaxRetries(exp, uint64(attempts))
}
