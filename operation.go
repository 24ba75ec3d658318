package chatsync

import (
	"context"
	"fmt"
)

// operation is one outgoing action run through runOperation. Every phase but
// call is optional.
//
//   - precondition aborts before any side effect.
//   - request applies the optimistic change to state and cache.
//   - call issues the remote request; it is skipped while offline.
//   - result reconciles the remote outcome into state and cache.
//   - offline produces the return value when call was skipped.
type operation[T any] struct {
	name         string
	precondition func() error
	request      func(ctx context.Context, online bool)
	call         func(ctx context.Context) (T, error)
	result       func(ctx context.Context, res T, err error) (T, error)
	offline      func(ctx context.Context) (T, error)
}

func runOperation[T any](ctx context.Context, d *deps, op operation[T]) (T, error) {
	var zero T
	if op.precondition != nil {
		if err := op.precondition(); err != nil {
			d.metrics.operation(op.name, outcomeRejected)
			d.logger.Debug("operation rejected", "op", op.name, "err", err)
			return zero, err
		}
	}

	online := d.global.IsOnline()
	if op.request != nil {
		op.request(ctx, online)
	}

	if !online {
		d.metrics.operation(op.name, outcomeQueued)
		if op.offline != nil {
			return op.offline(ctx)
		}
		return zero, fmt.Errorf("%s: %w", op.name, ErrOffline)
	}

	res, err := op.call(ctx)
	if op.result != nil {
		res, err = op.result(ctx, res, err)
	}

	switch {
	case err == nil:
		d.metrics.operation(op.name, outcomeSuccess)
	case IsPermanent(err):
		d.metrics.operation(op.name, outcomePermanent)
		d.logger.Warn("operation failed", "op", op.name, "err", err)
	default:
		d.metrics.operation(op.name, outcomeTransient)
		d.logger.Info("operation failed, will retry", "op", op.name, "err", err)
	}
	return res, err
}
