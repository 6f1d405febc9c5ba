// Package retry runs an operation again after transient failures, bounded by
// a wall-clock budget.
package retry

import (
	"context"
	"fmt"
	"time"

	"ticketdesk/internal/clock"
)

type Policy struct {
	// MaxElapsed bounds the total time spent across all attempts.
	MaxElapsed time.Duration
	// Delay is the fixed pause between attempts.
	Delay time.Duration
	Clock clock.Clock
	// Retryable classifies errors. A nil Retryable retries nothing.
	Retryable func(error) bool
	// OnRetry, when set, is called before each wait.
	OnRetry func(attempt int, err error)
}

// ExhaustedError is returned when the budget ran out while op kept failing
// with retryable errors.
type ExhaustedError struct {
	Attempts int
	Elapsed  time.Duration
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry budget exhausted after %d attempts (%s): %v", e.Attempts, e.Elapsed, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Do runs op until it succeeds, fails with a non-retryable error, the context
// ends, or the next wait would cross MaxElapsed.
func Do(ctx context.Context, p Policy, op func(context.Context) error) error {
	clk := p.Clock
	if clk == nil {
		clk = clock.Real()
	}
	start := clk.Now()
	attempt := 0
	for {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if p.Retryable == nil || !p.Retryable(err) {
			return err
		}
		elapsed := clk.Now().Sub(start)
		if elapsed+p.Delay >= p.MaxElapsed {
			return &ExhaustedError{Attempts: attempt, Elapsed: elapsed, Last: err}
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clk.After(p.Delay):
		}
	}
}
