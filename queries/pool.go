package queries

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// RunAll executes tasks on a bounded worker pool. Each task gets its own
// registered execution context, so deadlock detection sees exactly the
// workers that can make progress. The first task error cancels the rest at
// the next loop boundary.
func (t *Table[K, V]) RunAll(ctx context.Context, workers int, session any, tasks ...func(ctx context.Context, cx *Cx[K]) error) error {
	if workers < 1 {
		workers = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			cx := t.Enter(session)
			defer t.Leave(cx)
			if err := task(ctx, cx); err != nil {
				return errors.Wrapf(err, "query worker: task %d", i)
			}
			return nil
		})
	}
	return g.Wait()
}
