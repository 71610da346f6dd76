// Package workpool provides a bounded fan-out/fan-in executor that preserves
// the input order of its items regardless of completion order.
package workpool

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/SamuelOjuri/TechnicalDesignAssistant/pkg/log"
)

// Item is one unit of fan-out work keyed for ordered aggregation.
type Item[T any] struct {
	Key   string
	Value T
}

// Result carries the outcome for one item. Output and Err are mutually
// exclusive; a failing item does not abort the pool.
type Result[R any] struct {
	Key      string
	Output   R
	Err      error
	Duration time.Duration
}

// ProcessFunc handles a single item. It receives the context that was passed
// to Run; workers never share mutable ambient state beyond it.
type ProcessFunc[T, R any] func(ctx context.Context, item Item[T]) (R, error)

// Options tunes one Run call.
type Options struct {
	// MaxWorkers bounds concurrency; the effective bound is
	// min(MaxWorkers, len(items)).
	MaxWorkers int
	// OnItemDone, if set, is invoked after each item finishes (success or
	// failure). Invocations may come from any worker goroutine.
	OnItemDone func(key string, err error)
}

// Run processes items concurrently and returns one result per item in the
// input order. Panics inside a processor are captured as item errors.
func Run[T, R any](ctx context.Context, items []Item[T], process ProcessFunc[T, R], opts Options) []Result[R] {
	if len(items) == 0 {
		return []Result[R]{}
	}

	maxWorkers := opts.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	if maxWorkers > len(items) {
		maxWorkers = len(items)
	}

	results := make([]Result[R], len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxWorkers)

	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			start := time.Now()
			output, err := safeProcess(gctx, item, process)
			results[i] = Result[R]{
				Key:      item.Key,
				Output:   output,
				Err:      err,
				Duration: time.Since(start),
			}
			if err != nil {
				log.Error("Error processing %s: %v", item.Key, err)
			}
			if opts.OnItemDone != nil {
				opts.OnItemDone(item.Key, err)
			}
			// Item errors are captured in the result slot so the
			// remaining items keep running.
			return nil
		})
	}

	_ = g.Wait()
	return results
}

func safeProcess[T, R any](ctx context.Context, item Item[T], process ProcessFunc[T, R]) (output R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return process(ctx, item)
}
