// Package retry provides a bounded retry combinator with exponential backoff
// and an injectable timer, used for optimistic compare-and-swap loops.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrExhausted is returned when every attempt failed with a retryable error.
var ErrExhausted = errors.New("retry attempts exhausted")

// Timer is the clock the policy waits on between attempts.
type Timer = backoff.Timer

// Policy bounds the number of attempts and shapes the delay between them.
//
// Invariant: Attempts >= 1.
type Policy struct {
	// Attempts is the total number of times the operation runs, including the first.
	Attempts int
	// BaseDelay is the wait after the first failure; each later wait doubles.
	BaseDelay time.Duration
	// MaxDelay caps a single wait.
	MaxDelay time.Duration
	// NewTimer supplies the wait timer. Nil uses the wall clock.
	NewTimer func() Timer
	// OnRetry, when set, observes each retryable failure and the upcoming wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Permanent marks err as non-retryable; Do returns it unwrapped without further attempts.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op until it succeeds, returns a Permanent error, ctx ends, or
// Attempts runs out. op receives the 1-based attempt number.
//
// Precondition: p.Attempts >= 1; op must not be nil.
// Postcondition: returns nil on success; the unwrapped error for a permanent
// failure; ctx.Err() on cancellation; otherwise an error wrapping both
// ErrExhausted and the last failure.
func (p Policy) Do(ctx context.Context, op func(attempt int) error) error {
	if p.Attempts < 1 {
		return fmt.Errorf("retry: attempts must be >= 1, got %d", p.Attempts)
	}

	exp := &backoff.ExponentialBackOff{
		InitialInterval:     p.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         p.MaxDelay,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	exp.Reset()
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.Attempts-1)), ctx)

	attempt := 0
	permanent := false
	wrapped := func() error {
		attempt++
		err := op(attempt)
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			permanent = true
		}
		return err
	}

	var notify backoff.Notify
	if p.OnRetry != nil {
		notify = func(err error, wait time.Duration) { p.OnRetry(attempt, err, wait) }
	}

	var timer Timer
	if p.NewTimer != nil {
		timer = p.NewTimer()
	}

	err := backoff.RetryNotifyWithTimer(wrapped, policy, notify, timer)
	switch {
	case err == nil:
		return nil
	case permanent:
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, err)
	}
}
