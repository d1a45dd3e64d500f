// Package async provides small concurrency helpers for fanning out
// independent operations.
package async

import "context"

// Result pairs an operation's value with its error.
type Result[T any] struct {
	Value T
	Error error
}

// Map runs every operation in its own goroutine and collects all
// results. It returns early only if ctx is cancelled; individual
// failures are reported per result so one slow session cleanup cannot
// mask the rest.
func Map[R any](ctx context.Context, ops []func() (R, error)) ([]Result[R], error) {
	results := make(chan Result[R], len(ops))

	for _, op := range ops {
		go func(operation func() (R, error)) {
			value, err := operation()
			results <- Result[R]{Value: value, Error: err}
		}(op)
	}

	collected := make([]Result[R], 0, len(ops))
	for len(collected) < len(ops) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case result := <-results:
			collected = append(collected, result)
		}
	}

	return collected, nil
}
