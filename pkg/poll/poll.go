// Package poll turns "check, sleep, check again" loops into bounded retry
// policies with a typed outcome.
package poll

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"
)

type Result int

const (
	Ready Result = iota
	TimedOut
)

func (r Result) String() string {
	switch r {
	case Ready:
		return "Ready"
	case TimedOut:
		return "TimedOut"
	}
	return "Unknown"
}

// Condition reports whether the awaited state was reached. A non-nil error
// aborts the poll immediately.
type Condition func(ctx context.Context) (bool, error)

// Policy checks a condition at most Attempts times, sleeping Interval between
// checks.
type Policy struct {
	Attempts int
	Interval time.Duration
}

func NewPolicy(attempts int, interval time.Duration) Policy {
	return Policy{Attempts: attempts, Interval: interval}
}

// Budget is the longest a poll can wait before reporting TimedOut.
func (p Policy) Budget() time.Duration {
	if p.Attempts <= 1 {
		return 0
	}
	return time.Duration(p.Attempts-1) * p.Interval
}

var errNotReady = errors.New("condition not met")

// Until runs cond until it reports true, the attempts are spent, or ctx is done.
func (p Policy) Until(ctx context.Context, cond Condition) (Result, error) {
	attempts := p.Attempts
	if attempts < 1 {
		// retry-go treats zero as "forever"
		attempts = 1
	}

	err := retry.Do(
		func() error {
			ok, err := cond(ctx)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			if !ok {
				return errNotReady
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(attempts)),
		retry.Delay(p.Interval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)

	switch {
	case err == nil:
		return Ready, nil
	case ctx.Err() != nil:
		return TimedOut, ctx.Err()
	case errors.Is(err, errNotReady):
		return TimedOut, nil
	}
	return TimedOut, err
}
