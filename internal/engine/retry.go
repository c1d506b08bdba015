package engine

import (
	"context"
	"time"
)

// RetryPolicy wraps a single step execution with bounded retry and
// exponential backoff: the delay starts at Base, doubles per attempt, and
// is capped at Max.
type RetryPolicy struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultRetryPolicy returns the engine defaults (500ms base, 5s cap).
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Base: 500 * time.Millisecond, Max: 5 * time.Second}
}

// Do invokes fn up to retryLimit+1 times. It returns the successful output,
// the number of retries actually used, and the last error when all attempts
// are exhausted. Backoff sleeps are cut short by context cancellation.
func (p RetryPolicy) Do(ctx context.Context, retryLimit int, fn func(context.Context) (map[string]interface{}, error)) (map[string]interface{}, int, error) {
	if retryLimit < 0 {
		retryLimit = 0
	}

	var lastErr error
	for attempt := 0; attempt <= retryLimit; attempt++ {
		if attempt > 0 {
			if err := p.sleep(ctx, attempt-1); err != nil {
				return nil, attempt - 1, lastErr
			}
		}

		out, err := fn(ctx)
		if err == nil {
			return out, attempt, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, attempt, lastErr
		}
	}

	return nil, retryLimit, lastErr
}

// sleep waits for the backoff delay of the given retry index.
func (p RetryPolicy) sleep(ctx context.Context, retry int) error {
	delay := p.Base
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	for i := 0; i < retry; i++ {
		delay *= 2
		if p.Max > 0 && delay >= p.Max {
			delay = p.Max
			break
		}
	}
	if p.Max > 0 && delay > p.Max {
		delay = p.Max
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
