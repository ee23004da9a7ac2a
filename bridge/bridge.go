/*
Package bridge lets code that must return a finished result drive
operations that block on the storage engine.

Each call hands the operation to a dedicated goroutine and joins on a
one-shot completion channel. The calling goroutine always waits for
the operation to settle, successfully or not, so nothing started by
RunSync outlives it. Panics inside the operation are recovered and
reported as errors.

Cancellation is the caller's concern: the context is passed through to
the operation, and RunSync returns only once the operation has
observed it and returned.
*/
package bridge

import (
	"context"

	"github.com/mongodb/grip/recovery"
	"github.com/pkg/errors"
)

// ErrNilOperation is returned, before any work starts, when RunSync or
// RunSyncValue is called without an operation.
var ErrNilOperation = errors.New("bridge: operation must not be nil")

// Operation is a unit of work that does not produce a value.
type Operation func(context.Context) error

// ValueOperation is a unit of work that produces a value of type T.
type ValueOperation[T any] func(context.Context) (T, error)

type result[T any] struct {
	value T
	err   error
}

// RunSync runs op to completion and returns its error, if any, wrapped
// so that errors.Cause reaches the operation's error.
func RunSync(ctx context.Context, op Operation) error {
	if op == nil {
		return ErrNilOperation
	}

	_, err := RunSyncValue(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// RunSyncValue runs op to completion and returns the value it produced.
// On failure the zero value is returned with the operation's error,
// wrapped so that errors.Cause reaches it.
func RunSyncValue[T any](ctx context.Context, op ValueOperation[T]) (T, error) {
	var zero T
	if op == nil {
		return zero, ErrNilOperation
	}

	done := make(chan result[T], 1)
	go func() {
		var res result[T]
		defer func() {
			if p := recover(); p != nil {
				res.err = recovery.HandlePanicWithError(p, res.err, "synchronous operation")
			}
			done <- res
		}()

		res.value, res.err = op(ctx)
	}()

	res := <-done
	if res.err != nil {
		return zero, errors.Wrap(res.err, "running synchronous operation")
	}

	return res.value, nil
}
