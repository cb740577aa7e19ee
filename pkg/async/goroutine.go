package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"
)

// PanicError is returned for a task that panicked
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// ItemError ties a task failure to the index of its item
type ItemError struct {
	Index int
	Err   error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item %d: %v", e.Index, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// run executes fn under its own timeout, converting a panic into an error
func run(ctx context.Context, timeout time.Duration, fn func(context.Context) error) (err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn(ctx)
}

// Batch calls fn for every item using at most workers goroutines and returns
// one *ItemError per failed item, ordered by index. Items not yet started
// when ctx is cancelled fail with the context error.
func Batch[T any](ctx context.Context, items []T, workers int, timeout time.Duration,
	fn func(context.Context, T) error) []error {

	if len(items) == 0 {
		return nil
	}
	if workers <= 0 || workers > len(items) {
		workers = len(items)
	}

	results := make([]error, len(items))
	work := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				if err := ctx.Err(); err != nil {
					results[i] = err
					continue
				}
				item := items[i]
				results[i] = run(ctx, timeout, func(ctx context.Context) error {
					return fn(ctx, item)
				})
			}
		}()
	}

	for i := range items {
		work <- i
	}
	close(work)
	wg.Wait()

	var errs []error
	for i, err := range results {
		if err != nil {
			errs = append(errs, &ItemError{Index: i, Err: err})
		}
	}
	return errs
}
