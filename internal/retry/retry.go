// Package retry runs an operation a bounded number of times.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrExhausted = errors.New("retry attempts exhausted")

// Policy bounds an operation to Attempts tries. Delay is the wait before the
// second attempt and doubles after each further failure, capped at MaxDelay
// when MaxDelay is set. A zero Delay retries immediately.
type Policy struct {
	Attempts int
	Delay    time.Duration
	MaxDelay time.Duration
}

// Immediate retries without waiting.
func Immediate(attempts int) Policy {
	return Policy{Attempts: attempts}
}

// Do calls op until it succeeds, the attempts run out or ctx is done. The
// returned error wraps both ErrExhausted and the last failure. onRetry, when
// non-nil, observes each failed attempt.
func (p Policy) Do(ctx context.Context, op func(context.Context) error, onRetry func(attempt int, err error)) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.Delay

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if last == nil {
				return err
			}
			return fmt.Errorf("%w: %w", err, last)
		}

		last = op(ctx)
		if last == nil {
			return nil
		}
		if onRetry != nil {
			onRetry(attempt, last)
		}
		if attempt == attempts || delay <= 0 {
			continue
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, last)
}
