package service

import "context"

// RunChain feeds v through fns in order. Each function sees the output of the
// previous one; the first error stops the chain and is returned as is.
func RunChain[T any, F ~func(context.Context, T) (T, error)](ctx context.Context, fns []F, v T) (T, error) {
	for _, fn := range fns {
		if err := ctx.Err(); err != nil {
			var zero T
			return zero, err
		}
		next, err := fn(ctx, v)
		if err != nil {
			var zero T
			return zero, err
		}
		v = next
	}
	return v, nil
}
