// Package retryutil wraps fallible external calls with bounded retry
// and exponential backoff. Every network-calling component in the
// pipeline goes through Do or DoValue so callers see a single typed
// "operation failed after retries" error instead of transport detail.
package retryutil

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
)

const (
	// DefaultAttempts is the total number of tries per operation.
	DefaultAttempts = 3

	// DefaultBaseDelay is the delay before the first retry; it doubles
	// on each subsequent failure.
	DefaultBaseDelay = 500 * time.Millisecond
)

// Error wraps the last error of an exhausted retry loop, tagged with
// the operation name and attempt count.
type Error struct {
	Op       string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Options configures a retry loop.
type Options struct {
	Attempts  int
	BaseDelay time.Duration
	Logger    *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Attempts <= 0 {
		o.Attempts = DefaultAttempts
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Do runs fn up to opts.Attempts times with doubling delay between
// failures. On exhaustion the last error is returned wrapped in
// *Error. Context cancellation aborts the loop immediately.
func Do(ctx context.Context, op string, fn func(ctx context.Context) error, opts Options) error {
	opts = opts.withDefaults()

	start := time.Now()
	attempt := 0
	err := retry.Do(
		func() error {
			attempt++
			return fn(ctx)
		},
		retry.Context(ctx),
		retry.Attempts(uint(opts.Attempts)),
		retry.Delay(opts.BaseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			opts.Logger.Warn("operation failed, retrying",
				"op", op,
				"attempt", n+1,
				"error", err,
			)
		}),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &Error{Op: op, Attempts: attempt, Err: err}
	}

	if attempt > 1 {
		opts.Logger.Info("operation succeeded after retry",
			"op", op,
			"attempts", attempt,
			"elapsed", time.Since(start),
		)
	}
	return nil
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, op string, fn func(ctx context.Context) (T, error), opts Options) (T, error) {
	var result T
	err := Do(ctx, op, func(ctx context.Context) error {
		var innerErr error
		result, innerErr = fn(ctx)
		return innerErr
	}, opts)
	return result, err
}
