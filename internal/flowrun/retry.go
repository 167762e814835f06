package flowrun

import (
	"context"
	"fmt"
	"time"

	"github.com/scriptorium-ai/creditd/internal/faults"
)

// RetryPolicy bounds retries of external provider calls with exponential
// backoff. Only failure kinds on the allow-list are retried.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	Multiplier     float64
	MaxBackoff     time.Duration
	RetryableKinds map[faults.Kind]bool
}

// DefaultRetryPolicy retries transient provider failures a few times.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		Multiplier:     2,
		MaxBackoff:     8 * time.Second,
		RetryableKinds: map[faults.Kind]bool{faults.KindTransient: true},
	}
}

// Validate checks the policy bounds.
func (policy RetryPolicy) Validate() error {
	if policy.MaxAttempts <= 0 {
		return fmt.Errorf("%w: max attempts must be positive", ErrInvalidRetryPolicy)
	}
	if policy.InitialBackoff < 0 || policy.Multiplier < 1 {
		return fmt.Errorf("%w: backoff schedule", ErrInvalidRetryPolicy)
	}
	return nil
}

// Do runs fn up to MaxAttempts times, sleeping between attempts. The sleep is
// cancelled by the context. The last error is returned when attempts exhaust
// or the failure kind is not retryable.
func (policy RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := policy.Validate(); err != nil {
		return err
	}
	backoff := policy.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !policy.RetryableKinds[faults.KindOf(lastErr)] {
			return lastErr
		}
		if attempt == policy.MaxAttempts {
			break
		}
		if err := sleepContext(ctx, backoff); err != nil {
			return err
		}
		backoff = time.Duration(float64(backoff) * policy.Multiplier)
		if policy.MaxBackoff > 0 && backoff > policy.MaxBackoff {
			backoff = policy.MaxBackoff
		}
	}
	return fmt.Errorf("%w: %v", ErrProviderUnavailable, lastErr)
}

func sleepContext(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
