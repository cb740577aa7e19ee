package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatch_RunsEveryItem(t *testing.T) {
	var sum atomic.Int64
	errs := Batch(context.Background(), []int{1, 2, 3, 4, 5}, 2, time.Second, func(ctx context.Context, n int) error {
		sum.Add(int64(n))
		return nil
	})

	assert.Empty(t, errs)
	assert.Equal(t, int64(15), sum.Load())
}

func TestBatch_Empty(t *testing.T) {
	called := false
	errs := Batch(context.Background(), []string{}, 4, time.Second, func(context.Context, string) error {
		called = true
		return nil
	})
	assert.Nil(t, errs)
	assert.False(t, called)
}

func TestBatch_BoundsConcurrency(t *testing.T) {
	var active, peak atomic.Int32
	Batch(context.Background(), make([]struct{}, 20), 3, time.Second, func(context.Context, struct{}) error {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return nil
	})

	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestBatch_CollectsErrorsByIndex(t *testing.T) {
	boom := errors.New("boom")
	errs := Batch(context.Background(), []string{"a", "b", "c"}, 3, time.Second, func(ctx context.Context, s string) error {
		if s == "b" {
			return boom
		}
		return nil
	})

	require.Len(t, errs, 1)
	var itemErr *ItemError
	require.ErrorAs(t, errs[0], &itemErr)
	assert.Equal(t, 1, itemErr.Index)
	assert.ErrorIs(t, errs[0], boom)
}

func TestBatch_RecoversPanics(t *testing.T) {
	errs := Batch(context.Background(), []int{1, 2}, 1, time.Second, func(ctx context.Context, n int) error {
		if n == 2 {
			panic("bad item")
		}
		return nil
	})

	require.Len(t, errs, 1)
	var panicErr *PanicError
	require.ErrorAs(t, errs[0], &panicErr)
	assert.Equal(t, "bad item", panicErr.Value)
	assert.NotEmpty(t, panicErr.Stack)
}

func TestBatch_TaskTimeout(t *testing.T) {
	errs := Batch(context.Background(), []int{1}, 1, 20*time.Millisecond, func(ctx context.Context, _ int) error {
		<-ctx.Done()
		return ctx.Err()
	})

	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], context.DeadlineExceeded)
}

func TestBatch_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran atomic.Int32
	errs := Batch(ctx, []int{1, 2, 3}, 2, time.Second, func(context.Context, int) error {
		ran.Add(1)
		return nil
	})

	assert.Len(t, errs, 3)
	assert.Zero(t, ran.Load())
	for _, err := range errs {
		assert.ErrorIs(t, err, context.Canceled)
	}
}
