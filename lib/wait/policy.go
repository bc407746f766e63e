// Package wait polls a remote operation until it settles, with a fixed interval
// and a bounded number of attempts.
package wait

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var (
	// ErrAttemptsExhausted is returned when MaxAttempts checks ran without the
	// operation settling.
	ErrAttemptsExhausted = errors.New("wait: attempts exhausted")

	errPending = errors.New("wait: pending")
)

const (
	DefaultInterval    = 2 * time.Second
	DefaultMaxAttempts = 50
)

// Policy bounds a blocking wait on a remote operation.
type Policy struct {
	Interval    time.Duration `validate:"gt=0"`
	MaxAttempts int           `validate:"gt=0"`
}

// DefaultPolicy polls every two seconds, fifty times.
func DefaultPolicy() Policy {
	return Policy{Interval: DefaultInterval, MaxAttempts: DefaultMaxAttempts}
}

// Budget is the longest the policy can wait, ignoring the time spent in checks.
func (p Policy) Budget() time.Duration {
	if p.MaxAttempts <= 1 {
		return 0
	}
	return time.Duration(p.MaxAttempts-1) * p.Interval
}

// Check is one poll. done=true settles the wait; a non-nil error aborts it.
type Check func(ctx context.Context) (done bool, err error)

// Poll runs check until it reports done, returns an error, the context ends or
// the attempts run out. It returns the number of attempts made.
func (p Policy) Poll(ctx context.Context, check Check) (int, error) {
	if p.MaxAttempts <= 0 || p.Interval <= 0 {
		return 0, fmt.Errorf("wait: invalid policy %+v", p)
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Interval), uint64(p.MaxAttempts-1)),
		ctx,
	)

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		done, err := check(ctx)
		switch {
		case err != nil:
			return backoff.Permanent(err)
		case done:
			return nil
		default:
			return errPending
		}
	}, b)

	if errors.Is(err, errPending) {
		return attempts, ErrAttemptsExhausted
	}
	return attempts, err
}
