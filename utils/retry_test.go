package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errFlaky = errors.New("flaky")

func TestRetrierSucceedsAfterFailures(t *testing.T) {
	r := &Retrier{Attempts: 3, Backoff: time.Millisecond, Logger: zap.NewNop()}

	n := 0
	calls, err := r.Do(context.Background(), "fetch", func(context.Context) error {
		n++
		if n < 3 {
			return errFlaky
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetrierExhaustsAttempts(t *testing.T) {
	r := &Retrier{Attempts: 2, Backoff: time.Millisecond}

	calls, err := r.Do(context.Background(), "fetch", func(context.Context) error {
		return errFlaky
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
}

func TestRetrierZeroAttemptsRunsOnce(t *testing.T) {
	r := &Retrier{Attempts: 0, Backoff: time.Millisecond}

	calls, err := r.Do(context.Background(), "fetch", func(context.Context) error {
		return errFlaky
	})

	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 1, calls)
}

func TestRetrierStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("bad record")
	r := &Retrier{
		Attempts:  5,
		Backoff:   time.Millisecond,
		Retryable: func(err error) bool { return !errors.Is(err, permanent) },
	}

	calls, err := r.Do(context.Background(), "store", func(context.Context) error {
		return permanent
	})

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestRetrierHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Retrier{Attempts: 10, Backoff: 50 * time.Millisecond}

	calls, err := r.Do(ctx, "fetch", func(context.Context) error {
		cancel()
		return errFlaky
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
