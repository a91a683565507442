package conversation

import (
	"context"
	"fmt"
	"time"

	"speaking-practice/backend/pkg/resilience"
)

// withDeadline runs fn under a timeout and returns as soon as the timeout
// fires, even if fn ignores its context. The abandoned goroutine finishes
// into a buffered channel.
func withDeadline[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				done <- result{zero, fmt.Errorf("collaborator panic: %v", r)}
			}
		}()
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// call routes fn through the breaker with a watchdog deadline
func call[T any](ctx context.Context, cb *resilience.CircuitBreaker, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := cb.Execute(ctx, func(ctx context.Context) error {
		v, err := withDeadline(ctx, d, fn)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
