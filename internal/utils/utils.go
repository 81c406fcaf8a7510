package utils

import (
	"context"
	"time"
)

// MaxBackoff caps the delay returned by Backoff.
const MaxBackoff = 5 * time.Minute

// WaitFor blocks for d or until ctx is done, whichever comes first.
func WaitFor(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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

// Backoff returns base * 2^attempt, capped at MaxBackoff. Negative attempts
// are treated as zero and a non-positive base yields no delay.
func Backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}

	d := base
	for i := 0; i < attempt; i++ {
		if d >= MaxBackoff/2 {
			return MaxBackoff
		}
		d *= 2
	}

	return min(d, MaxBackoff)
}
