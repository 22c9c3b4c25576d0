// Package retry runs multi-stage operations that must survive flaky
// networks. Every attempt gets a fresh resource, so a stalled transport
// from one attempt never leaks into the next.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cuberecall/packsync/pkg/syncerr"
)

const (
	DefaultMaxRetries = 5
	DefaultTimeout    = 180 * time.Second
	DefaultStep       = 3 * time.Second

	// maxLoggedCauses caps how many joined sub-errors are logged per failure.
	maxLoggedCauses = 5
)

type Options struct {
	// MaxRetries is the total number of attempts.
	MaxRetries int
	// Timeout bounds a single attempt.
	Timeout time.Duration
	// Step is the linear backoff unit: attempt n waits n*Step.
	Step time.Duration
	// Backoff overrides the linear schedule. It receives the 1-based
	// number of the attempt that just failed.
	Backoff func(attempt int) time.Duration
	Logger  *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Step <= 0 {
		o.Step = DefaultStep
	}
	if o.Backoff == nil {
		step := o.Step
		o.Backoff = func(attempt int) time.Duration { return time.Duration(attempt) * step }
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Exponential returns a Backoff waiting base, 2*base, 4*base, ...
func Exponential(base time.Duration) func(attempt int) time.Duration {
	return func(attempt int) time.Duration {
		return base << (attempt - 1)
	}
}

var sleep = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do runs op up to opts.MaxRetries times. newResource is called before each
// attempt and the resource is closed after it, whatever the outcome. The
// error of the last attempt is returned.
func Do[R io.Closer, T any](
	ctx context.Context,
	label string,
	opts Options,
	newResource func() (R, error),
	op func(ctx context.Context, res R) (T, error),
) (T, error) {
	opts = opts.withDefaults()
	log := opts.Logger.With("op", label)

	var zero T
	var lastErr error
	for attempt := 1; attempt <= opts.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := runAttempt(ctx, label, opts.Timeout, newResource, op)
		if err == nil {
			if attempt > 1 {
				log.Info("succeeded after retry", "attempt", attempt)
			}
			return result, nil
		}
		lastErr = err

		// the caller gave up, not the attempt
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		log.Warn("attempt failed", "attempt", attempt, "max", opts.MaxRetries, "error", err)
		logCauses(log, err)

		if attempt == opts.MaxRetries {
			break
		}
		if err := sleep(ctx, opts.Backoff(attempt)); err != nil {
			return zero, err
		}
	}

	return zero, fmt.Errorf("%s failed after %d attempts: %w", label, opts.MaxRetries, lastErr)
}

type outcome[T any] struct {
	v   T
	err error
}

// runAttempt races op against the attempt deadline. An op that ignores its
// context is abandoned when the deadline passes; its resource is closed
// right away so blocked reads on it fail and the goroutine can exit.
func runAttempt[R io.Closer, T any](
	ctx context.Context,
	label string,
	timeout time.Duration,
	newResource func() (R, error),
	op func(ctx context.Context, res R) (T, error),
) (T, error) {
	var zero T

	res, err := newResource()
	if err != nil {
		return zero, fmt.Errorf("failed to create resource: %w", err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan outcome[T], 1)
	go func() {
		v, err := op(attemptCtx, res)
		done <- outcome[T]{v: v, err: err}
	}()

	select {
	case out := <-done:
		res.Close()
		if out.err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return zero, &syncerr.TimeoutError{Op: label, After: timeout, Err: out.err}
		}
		return out.v, out.err
	case <-attemptCtx.Done():
		res.Close()
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, &syncerr.TimeoutError{Op: label, After: timeout, Err: attemptCtx.Err()}
	}
}

func logCauses(log *slog.Logger, err error) {
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return
	}
	for i, cause := range joined.Unwrap() {
		if i == maxLoggedCauses {
			log.Warn("further causes omitted", "count", len(joined.Unwrap())-maxLoggedCauses)
			return
		}
		log.Warn("cause", "index", i, "error", cause)
	}
}

// NopCloser adapts a value without cleanup to the resource contract.
type NopCloser struct{}

func (NopCloser) Close() error { return nil }
