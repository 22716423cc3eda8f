package ingest

import (
	"context"
	"time"

	"github.com/ricesearch/rice-bench/internal/pkg/errors"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// RetryPolicy bounds resubmission of a failed bulk request. Only errors that
// report themselves retryable (partial or rejected bulks) are resubmitted.
type RetryPolicy struct {
	// MaxAttempts counts the first try; 2 means one retry.
	MaxAttempts int

	// Backoff is the fixed wait between attempts.
	Backoff time.Duration

	// Sleep waits between attempts. Nil uses a context-aware timer.
	Sleep SleepFunc
}

// DefaultRetryPolicy returns one retry after one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 2,
		Backoff:     time.Second,
	}
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempts are exhausted. It returns the number of retries performed.
func (p RetryPolicy) Do(ctx context.Context, fn func(attempt int) error) (int, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if serr := sleep(ctx, p.Backoff); serr != nil {
				return attempt - 2, serr
			}
		}

		err = fn(attempt)
		if err == nil {
			return attempt - 1, nil
		}
		if !errors.IsRetryable(err) {
			return attempt - 1, err
		}
	}
	return attempts - 1, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
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
