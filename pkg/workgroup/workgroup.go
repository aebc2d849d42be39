// Package workgroup runs background work that the caller waits on once,
// when it is done with it.
package workgroup

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Group is a set of goroutines sharing a context that is cancelled when the
// first of them fails.
type Group struct {
	ctx   context.Context
	group *errgroup.Group
}

// WithContext creates a Group deriving its context from ctx.
func WithContext(ctx context.Context) *Group {
	group, gctx := errgroup.WithContext(ctx)
	return &Group{
		ctx:   gctx,
		group: group,
	}
}

// Work runs fn in its own goroutine.
func (g *Group) Work(fn func(context.Context) error) {
	g.group.Go(func() error {
		return fn(g.ctx)
	})
}

// Wait blocks until all work returned and provides the first error.
func (g *Group) Wait() error {
	return g.group.Wait()
}
