package async_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkfolio/internal/pkg/async"
)

func TestPoolExecute(t *testing.T) {
	t.Run("collects every result by name", func(t *testing.T) {
		pool := async.NewPool(3)
		results := pool.Execute(context.Background(), []async.Task{
			{Name: "one", Execute: func(ctx context.Context) (interface{}, error) { return 1, nil }},
			{Name: "two", Execute: func(ctx context.Context) (interface{}, error) { return 2, nil }},
			{Name: "bad", Execute: func(ctx context.Context) (interface{}, error) { return nil, errors.New("nope") }},
		})

		require.Len(t, results, 3)
		assert.Equal(t, 1, results["one"].Data)
		assert.Equal(t, 2, results["two"].Data)
		assert.EqualError(t, results["bad"].Err, "nope")
	})

	t.Run("runs tasks concurrently", func(t *testing.T) {
		var running, peak atomic.Int32
		task := func(ctx context.Context) (interface{}, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(30 * time.Millisecond)
			running.Add(-1)
			return nil, nil
		}

		tasks := []async.Task{{Name: "a", Execute: task}, {Name: "b", Execute: task}, {Name: "c", Execute: task}}
		async.NewPool(3).Execute(context.Background(), tasks)

		assert.Greater(t, peak.Load(), int32(1))
	})

	t.Run("pool is reusable", func(t *testing.T) {
		pool := async.NewPool(2)
		task := []async.Task{{Name: "x", Execute: func(ctx context.Context) (interface{}, error) { return "ok", nil }}}

		assert.Equal(t, "ok", pool.Execute(context.Background(), task)["x"].Data)
		assert.Equal(t, "ok", pool.Execute(context.Background(), task)["x"].Data)
	})

	t.Run("recovers panicking tasks", func(t *testing.T) {
		results := async.NewPool(1).Execute(context.Background(), []async.Task{
			{Name: "panics", Execute: func(ctx context.Context) (interface{}, error) { panic("kaboom") }},
		})
		assert.Error(t, results["panics"].Err)
	})

	t.Run("cancelled context reports error for pending tasks", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		results := async.NewPool(1).Execute(ctx, []async.Task{
			{Name: "a", Execute: func(ctx context.Context) (interface{}, error) { return 1, nil }},
		})
		assert.ErrorIs(t, results["a"].Err, context.Canceled)
	})

	t.Run("no tasks", func(t *testing.T) {
		assert.Empty(t, async.NewPool(4).Execute(context.Background(), nil))
	})
}
