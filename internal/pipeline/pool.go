package pipeline

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

type completion[T, R any] struct {
	task T
	out  R
}

// runPool runs work over tasks with at most width concurrent workers.
//
// start runs on the submitting goroutine before each task is handed to a
// worker and may veto it. collect runs on the calling goroutine, once per
// finished task, in completion order; it is the only place shared state may
// be mutated. Returning false from collect stops further submissions while
// tasks already running are still drained. Cancelling ctx also stops
// submissions.
func runPool[T, R any](
	ctx context.Context,
	width int,
	tasks []T,
	start func(T) bool,
	work func(context.Context, T) R,
	collect func(T, R) bool,
) {
	if len(tasks) == 0 {
		return
	}
	width = max(width, 1)
	results := make(chan completion[T, R], width)
	var stopped atomic.Bool

	var g errgroup.Group
	g.SetLimit(width)
	go func() {
		defer close(results)
		for _, task := range tasks {
			if stopped.Load() || ctx.Err() != nil {
				break
			}
			if start != nil && !start(task) {
				continue
			}
			g.Go(func() error {
				results <- completion[T, R]{task: task, out: work(ctx, task)}
				return nil
			})
		}
		_ = g.Wait()
	}()

	for res := range results {
		if !collect(res.task, res.out) {
			stopped.Store(true)
		}
	}
}
