package services

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryDelayFunc returns how long a task that has already been retried
// nRetries times waits before its next attempt.
type RetryDelayFunc func(nRetries int) time.Duration

// FixedRetryDelay waits d between attempts.
func FixedRetryDelay(d time.Duration) RetryDelayFunc {
	return func(int) time.Duration { return d }
}

// ExponentialRetryDelay doubles the delay per retry starting at base, capped
// at maxDelay, with the jitter of backoff.NewExponentialBackOff.
func ExponentialRetryDelay(base, maxDelay time.Duration) RetryDelayFunc {
	return func(nRetries int) time.Duration {
		if base <= 0 {
			return 0
		}
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = base
		b.MaxInterval = maxDelay
		b.Multiplier = 2
		b.Reset()
		d := b.NextBackOff()
		for i := 0; i < nRetries; i++ {
			d = b.NextBackOff()
		}
		return d
	}
}
