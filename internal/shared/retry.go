package shared

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetryPolicy configures Retry. Delays double after each failed attempt.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy matches the SQLite busy handling used throughout the service.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, BaseDelay: 50 * time.Millisecond}

// Retry runs fn until it succeeds, returns an error retryable rejects, or the
// attempts are exhausted. The last error is returned wrapped.
func Retry(ctx context.Context, policy RetryPolicy, retryable func(error) bool, op string, fn func(context.Context) error) error {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) || i == attempts-1 {
			break
		}

		delay := policy.BaseDelay * time.Duration(1<<i) // 50ms, 100ms, 200ms
		slog.Debug("Retrying after transient failure",
			"op", op,
			"attempt", i+1,
			"delay", delay,
			"error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-timer.C:
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// RetryOnConflict retries fn on SQLITE_BUSY and "database is locked" errors.
func RetryOnConflict(ctx context.Context, policy RetryPolicy, op string, fn func(context.Context) error) error {
	return Retry(ctx, policy, IsSQLiteConflictError, op, fn)
}
