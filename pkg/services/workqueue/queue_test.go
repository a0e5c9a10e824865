package workqueue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastRetryConfig(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:     maxRetries,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2.0,
	}
}

type retryableTestError struct{ msg string }

func (e *retryableTestError) Error() string     { return e.msg }
func (e *retryableTestError) IsRetryable() bool { return true }

func TestQueue_ExecutesTasks(t *testing.T) {
	q := New("test", zap.NewNop())

	var ran atomic.Int32
	q.Enqueue(NewFuncTask("a", func(ctx context.Context) error {
		ran.Add(1)
		return nil
	}))
	q.Enqueue(NewFuncTask("b", func(ctx context.Context) error {
		ran.Add(1)
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Wait(ctx))

	assert.Equal(t, int32(2), ran.Load())
	p := q.Progress()
	assert.Equal(t, 2, p.Completed)
	assert.Equal(t, 0, p.Failed)
}

func TestQueue_WorkerLimitBoundsConcurrency(t *testing.T) {
	q := New("test", zap.NewNop(), WithStrategy(NewWorkerLimitStrategy(2)))

	var current, peak int32
	for i := 0; i < 6; i++ {
		q.Enqueue(NewFuncTask("task", func(ctx context.Context) error {
			n := atomic.AddInt32(&current, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&current, -1)
			return nil
		}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Wait(ctx))

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	assert.Equal(t, 6, q.Progress().Completed)
}

func TestQueue_RetriesRetryableErrors(t *testing.T) {
	q := New("test", zap.NewNop(), WithRetryConfig(fastRetryConfig(3)))

	var attempts atomic.Int32
	q.Enqueue(NewFuncTask("flaky", func(ctx context.Context) error {
		if attempts.Add(1) < 3 {
			return &retryableTestError{msg: "transient"}
		}
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Wait(ctx))

	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, 1, q.Progress().Completed)
}

func TestQueue_NonRetryableFailsImmediately(t *testing.T) {
	q := New("test", zap.NewNop(), WithRetryConfig(fastRetryConfig(3)))

	var attempts atomic.Int32
	q.Enqueue(NewFuncTask("broken", func(ctx context.Context) error {
		attempts.Add(1)
		return errors.New("validation failed")
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Wait(ctx))

	assert.Equal(t, int32(1), attempts.Load())
	assert.Equal(t, 1, q.Progress().Failed)
}

func TestQueue_ExhaustsRetries(t *testing.T) {
	q := New("test", zap.NewNop(), WithRetryConfig(fastRetryConfig(2)))

	var attempts atomic.Int32
	q.Enqueue(NewFuncTask("always-flaky", func(ctx context.Context) error {
		attempts.Add(1)
		return &retryableTestError{msg: "transient"}
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Wait(ctx))

	// Initial attempt plus two retries.
	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, 1, q.Progress().Failed)
}

func TestQueue_CancelStopsPendingTasks(t *testing.T) {
	q := New("test", zap.NewNop())

	started := make(chan struct{})
	release := make(chan struct{})
	var ran atomic.Int32

	q.Enqueue(NewFuncTask("blocker", func(ctx context.Context) error {
		close(started)
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}))
	q.Enqueue(NewFuncTask("pending", func(ctx context.Context) error {
		ran.Add(1)
		return nil
	}))

	<-started
	q.Cancel()
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Wait(ctx))

	assert.Equal(t, int32(0), ran.Load())
	assert.False(t, q.Enqueue(NewFuncTask("late", func(ctx context.Context) error { return nil })))
}

func TestQueue_PrunesTerminalTasks(t *testing.T) {
	q := New("test", zap.NewNop())

	for i := 0; i < 10; i++ {
		q.Enqueue(NewFuncTask("quick", func(ctx context.Context) error { return nil }))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Wait(ctx))

	assert.Empty(t, q.GetTasks())
	assert.Equal(t, 10, q.Progress().Completed)
	assert.Equal(t, 10, q.Progress().Total)
}
