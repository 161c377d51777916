package retry

import (
	"context"
	"github.com/pkg/errors"
	"time"
)

var ErrTooManyAttempts = errors.New("too many retry attempts")

// Callable receives the attempt number starting from 1
type Callable func(attempt int) error

// transient marks a failure worth another attempt
type transient struct {
	err     error
	attempt int
}

func (t *transient) Error() string {
	return t.err.Error()
}

func (t *transient) Unwrap() error {
	return t.err
}

func (t *transient) Cause() error {
	return t.err
}

// Error marks err as retryable, any other error returned from a Callable stops Start at once
func Error(err error, attempt int) error {
	if err == nil {
		return nil
	}

	return &transient{err: err, attempt: attempt}
}

// Attempts yields the pause before the next attempt, false once the budget is spent
type Attempts interface {
	Next() (time.Duration, bool)
	Current() int
}

// Start calls cb until it succeeds, returns a non retryable error, runs out of
// attempts or ctx is done. The last retryable failure is kept in the returned error.
func Start(ctx context.Context, a Attempts, cb Callable) error {
	var last error

	for {
		attempt := a.Current()

		err := cb(attempt)
		if err == nil {
			return nil
		}

		var t *transient
		if !errors.As(err, &t) {
			return errors.Wrapf(err, "attempt %d failed", attempt)
		}

		last = t.err

		pause, ok := a.Next()
		if !ok {
			return errors.Wrapf(ErrTooManyAttempts, "gave up after %d attempts, last error: %s", attempt, last)
		}

		timer := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Wrapf(ctx.Err(), "gave up after %d attempts, last error: %s", attempt, last)
		case <-timer.C:
		}
	}
}

// Incremental waits step, 2*step, 3*step... between at most maxAttempts calls
func Incremental(ctx context.Context, step time.Duration, maxAttempts int, cb Callable) error {
	return Start(ctx, IncrementalAttempts(step, maxAttempts), cb)
}

type incrementalAttempts struct {
	step time.Duration
	max  int
	curr int
}

func IncrementalAttempts(step time.Duration, max int) Attempts {
	return &incrementalAttempts{step: step, max: max, curr: 1}
}

func (a *incrementalAttempts) Next() (time.Duration, bool) {
	if a.curr >= a.max {
		return 0, false
	}

	pause := a.step * time.Duration(a.curr)
	a.curr++

	return pause, true
}

func (a *incrementalAttempts) Current() int {
	return a.curr
}
