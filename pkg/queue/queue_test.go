package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_Enqueue(t *testing.T) {
	t.Run("should execute an accepted task", func(t *testing.T) {
		q := New()
		defer q.Close(context.Background())

		done := make(chan struct{})
		err := q.Enqueue(context.Background(), "test", "noop", func(ctx context.Context) error {
			close(done)
			return nil
		})
		require.NoError(t, err)

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("task never ran")
		}
	})

	t.Run("should use the default lane when none is given", func(t *testing.T) {
		q := New()
		defer q.Close(context.Background())

		done := make(chan struct{})
		require.NoError(t, q.Enqueue(context.Background(), "", "noop", func(ctx context.Context) error {
			close(done)
			return nil
		}))
		<-done

		assert.Contains(t, q.Stats(), DefaultLane)
	})

	t.Run("should reject a nil task", func(t *testing.T) {
		q := New()
		defer q.Close(context.Background())

		require.Error(t, q.Enqueue(context.Background(), "test", "nil", nil))
	})

	t.Run("should surface task errors only in logs", func(t *testing.T) {
		q := New()
		defer q.Close(context.Background())

		done := make(chan struct{})
		err := q.Enqueue(context.Background(), "test", "failing", func(ctx context.Context) error {
			defer close(done)
			return errors.New("task failed")
		})
		require.NoError(t, err)
		<-done
	})
}

func TestQueue_SerializesWithinLane(t *testing.T) {
	q := New()
	defer q.Close(context.Background())

	var mu sync.Mutex
	var order []int
	var inflight, peak int32
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		require.NoError(t, q.Enqueue(context.Background(), "serial", "step", func(ctx context.Context) error {
			defer wg.Done()

			cur := atomic.AddInt32(&inflight, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&inflight, -1)

			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}))
	}

	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order, "single lane preserves enqueue order")
	assert.Equal(t, int32(1), atomic.LoadInt32(&peak), "single lane never overlaps tasks")
}

func TestQueue_LanesRunConcurrently(t *testing.T) {
	q := New()
	defer q.Close(context.Background())

	var inflight, peak int32
	var wg sync.WaitGroup

	job := func(ctx context.Context) error {
		defer wg.Done()

		cur := atomic.AddInt32(&inflight, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&inflight, -1)
		return nil
	}

	wg.Add(2)
	require.NoError(t, q.Enqueue(context.Background(), "lane-a", "job", job))
	require.NoError(t, q.Enqueue(context.Background(), "lane-b", "job", job))
	wg.Wait()

	assert.Equal(t, int32(2), atomic.LoadInt32(&peak), "separate lanes overlap")
}

func TestQueue_SetConcurrency(t *testing.T) {
	q := New()
	defer q.Close(context.Background())

	q.SetConcurrency("wide", 3)

	stats := q.Stats()
	assert.Equal(t, 3, stats["wide"]["concurrency"])

	q.SetConcurrency("wide", 0)
	assert.Equal(t, 1, q.Stats()["wide"]["concurrency"], "concurrency is clamped to 1")
}

func TestQueue_Close(t *testing.T) {
	t.Run("should drain queued tasks before returning", func(t *testing.T) {
		q := New()

		var completed int32
		for i := 0; i < 3; i++ {
			require.NoError(t, q.Enqueue(context.Background(), "drain", "step", func(ctx context.Context) error {
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt32(&completed, 1)
				return nil
			}))
		}

		require.NoError(t, q.Close(context.Background()))
		assert.Equal(t, int32(3), atomic.LoadInt32(&completed))
	})

	t.Run("should reject tasks after close", func(t *testing.T) {
		q := New()
		require.NoError(t, q.Close(context.Background()))

		err := q.Enqueue(context.Background(), "test", "late", func(ctx context.Context) error { return nil })
		require.ErrorIs(t, err, ErrClosed)
	})

	t.Run("should cancel in-flight tasks when the drain deadline passes", func(t *testing.T) {
		q := New()

		started := make(chan struct{})
		var taskErr error
		taskDone := make(chan struct{})
		require.NoError(t, q.Enqueue(context.Background(), "slow", "blocker", func(ctx context.Context) error {
			close(started)
			defer close(taskDone)
			select {
			case <-ctx.Done():
				taskErr = ctx.Err()
				return ctx.Err()
			case <-time.After(10 * time.Second):
				return nil
			}
		}))
		<-started

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		err := q.Close(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		select {
		case <-taskDone:
			assert.ErrorIs(t, taskErr, context.Canceled)
		case <-time.After(time.Second):
			t.Fatal("task context was never cancelled")
		}
	})

	t.Run("should be idempotent", func(t *testing.T) {
		q := New()
		require.NoError(t, q.Close(context.Background()))
		require.NoError(t, q.Close(context.Background()))
	})
}

func TestQueue_Stats(t *testing.T) {
	q := New()
	defer q.Close(context.Background())

	stats := q.Stats()
	require.Contains(t, stats, DefaultLane)
	assert.Equal(t, 1, stats[DefaultLane]["concurrency"])
	assert.Equal(t, 0, stats[DefaultLane]["queued"])
	assert.Equal(t, 0, stats[DefaultLane]["running"])
}
