package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func TestDoSucceedsAfterFailures(t *testing.T) {
	calls := 0
	var seen []int
	err := Immediate(3).Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	}, func(attempt int, err error) {
		seen = append(seen, attempt)
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, seen)
}

func TestDoExhausts(t *testing.T) {
	calls := 0
	err := Immediate(3).Do(context.Background(), func(context.Context) error {
		calls++
		return errTransient
	}, nil)

	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, errTransient)
}

func TestDoZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_ = Policy{}.Do(context.Background(), func(context.Context) error {
		calls++
		return errTransient
	}, nil)
	assert.Equal(t, 1, calls)
}

func TestDoBackoff(t *testing.T) {
	p := Policy{Attempts: 3, Delay: 5 * time.Millisecond, MaxDelay: 8 * time.Millisecond}
	start := time.Now()
	err := p.Do(context.Background(), func(context.Context) error { return errTransient }, nil)

	assert.ErrorIs(t, err, ErrExhausted)
	// 5ms then min(10ms, 8ms)
	assert.GreaterOrEqual(t, time.Since(start), 13*time.Millisecond)
}

func TestDoStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Policy{Attempts: 5, Delay: time.Hour}.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errTransient
	}, nil)

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, errTransient)
}
