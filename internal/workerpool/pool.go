// Package workerpool runs batches of independent tasks with bounded
// concurrency. The pipeline uses it for per-scene classification and
// per-segment clip generation, where each task is slow, keyed, and
// individually fallible.
package workerpool

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"
)

// Task is one unit of work identified by a key.
type Task[T any] struct {
	Key string
	Run func(ctx context.Context) (T, error)
}

// Result pairs a task's key with its outcome. Results come back in task
// order regardless of completion order.
type Result[T any] struct {
	Key   string
	Value T
	Err   error
}

// Run executes tasks with at most workers goroutines. A task error does not
// stop the batch; context cancellation does, leaving unstarted tasks with
// the context error.
func Run[T any](ctx context.Context, workers int, tasks []Task[T], logger hclog.Logger) []Result[T] {
	if workers <= 0 {
		workers = 1
	}
	if workers > len(tasks) {
		workers = len(tasks)
	}

	results := make([]Result[T], len(tasks))
	indexCh := make(chan int)
	var wg sync.WaitGroup
	var completed atomic.Int64

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range indexCh {
				task := tasks[idx]
				if err := ctx.Err(); err != nil {
					results[idx] = Result[T]{Key: task.Key, Err: err}
					continue
				}
				value, err := task.Run(ctx)
				results[idx] = Result[T]{Key: task.Key, Value: value, Err: err}
				if err != nil {
					logger.Warn("task failed", "key", task.Key, "error", err)
				}
				completed.Add(1)
			}
		}()
	}

	for idx := range tasks {
		indexCh <- idx
	}
	close(indexCh)
	wg.Wait()

	logger.Debug("batch complete", "tasks", len(tasks), "workers", workers,
		"succeeded", completed.Load())
	return results
}
