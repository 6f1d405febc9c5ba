package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticketdesk/internal/clock"
)

var (
	errBusy = errors.New("busy")
	errGone = errors.New("gone")
)

func isBusy(err error) bool { return errors.Is(err, errBusy) }

func steppingPolicy() Policy {
	return Policy{
		MaxElapsed: 5 * time.Second,
		Delay:      100 * time.Millisecond,
		Clock:      clock.NewStepping(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)),
		Retryable:  isBusy,
	}
}

func TestDoSucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), steppingPolicy(), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesTransientUntilSuccess(t *testing.T) {
	calls := 0
	var retried []int
	p := steppingPolicy()
	p.OnRetry = func(attempt int, err error) { retried = append(retried, attempt) }
	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		if calls < 4 {
			return errBusy
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []int{1, 2, 3}, retried)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), steppingPolicy(), func(context.Context) error {
		calls++
		return errGone
	})
	assert.ErrorIs(t, err, errGone)
	assert.Equal(t, 1, calls)
}

func TestDoExhaustsBudget(t *testing.T) {
	p := steppingPolicy()
	calls := 0
	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		return errBusy
	})
	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.ErrorIs(t, err, errBusy)
	assert.Equal(t, calls, exhausted.Attempts)
	// 5s budget with 100ms waits: attempts at t=0..4.9s.
	assert.Equal(t, 50, calls)
	assert.Less(t, exhausted.Elapsed, p.MaxElapsed)
}

func TestDoNilRetryableNeverRetries(t *testing.T) {
	p := steppingPolicy()
	p.Retryable = nil
	calls := 0
	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		return errBusy
	})
	assert.ErrorIs(t, err, errBusy)
	assert.Equal(t, 1, calls)
}

func TestDoHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := steppingPolicy()
	p.Clock = clock.NewFake(time.Now())
	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, p, func(context.Context) error { return errBusy })
	}()
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancel")
	}
}
