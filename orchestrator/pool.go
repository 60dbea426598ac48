package orchestrator

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// runPool calls fn for every item with at most limit calls in flight.
//
// The context is checked before each item is started; once it is done no
// further items start and in-flight items run to completion. The first
// error returned by fn cancels the context passed to the remaining items
// and is returned.
func runPool[T any](ctx context.Context, limit int, items []T, fn func(context.Context, T) error) error {
	if limit < 1 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, item := range items {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			return fn(gctx, item)
		})
	}
	return g.Wait()
}
