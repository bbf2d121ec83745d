// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue

import (
	"context"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcHandler struct {
	taskType TaskType
	fn       func(ctx context.Context, task *Task) error
}

func (h *funcHandler) Type() TaskType { return h.taskType }

func (h *funcHandler) Handle(ctx context.Context, task *Task) error { return h.fn(ctx, task) }

func TestMemoryQueue_RetryBackoff_Synctest(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		q := NewMemoryQueue()
		require.NoError(t, q.Enqueue(ctx, &Task{ID: "t", Type: TaskTypeObjectCleanup, MaxRetries: 3}))

		task, err := q.Dequeue(ctx, "w")
		require.NoError(t, err)
		require.NoError(t, q.Fail(ctx, task.ID, assert.AnError))

		// First backoff is 2s.
		task, _ = q.Dequeue(ctx, "w")
		assert.Nil(t, task)
		time.Sleep(3 * time.Second)
		task, _ = q.Dequeue(ctx, "w")
		require.NotNil(t, task)

		// Second backoff is 4s.
		require.NoError(t, q.Fail(ctx, task.ID, assert.AnError))
		time.Sleep(3 * time.Second)
		task, _ = q.Dequeue(ctx, "w")
		assert.Nil(t, task)
		time.Sleep(2 * time.Second)
		task, _ = q.Dequeue(ctx, "w")
		assert.NotNil(t, task)
	})
}

func TestMemoryQueue_Cleanup_Synctest(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		q := NewMemoryQueue()
		require.NoError(t, q.Enqueue(ctx, &Task{ID: "t", Type: TaskTypeEvent}))
		require.NoError(t, q.Enqueue(ctx, &Task{ID: "pending", Type: TaskTypeEvent, ScheduledAt: time.Now().Add(time.Hour * 24)}))
		task, _ := q.Dequeue(ctx, "w")
		require.NoError(t, q.Complete(ctx, task.ID))

		n, err := q.Cleanup(ctx, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		time.Sleep(2 * time.Hour)
		n, err = q.Cleanup(ctx, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		_, err = q.Get(ctx, "pending")
		assert.NoError(t, err, "pending tasks are never cleaned up")
	})
}

func TestWorker_HeartbeatsLongTask_Synctest(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		q := NewMemoryQueue()
		var beats atomic.Int32

		w := NewWorker(WorkerConfig{
			ID:                "w",
			Queue:             q,
			TaskTimeout:       time.Minute,
			HeartbeatInterval: 10 * time.Second,
		})
		w.RegisterHandler(&funcHandler{taskType: TaskTypeDeleteRequest, fn: func(ctx context.Context, task *Task) error {
			for range 3 {
				time.Sleep(10 * time.Second)
				synctest.Wait()
				got, err := q.Get(ctx, task.ID)
				if err == nil && got.UpdatedAt.After(*got.StartedAt) {
					beats.Add(1)
				}
			}
			return nil
		}})

		require.NoError(t, q.Enqueue(ctx, &Task{ID: "t", Type: TaskTypeDeleteRequest}))
		require.True(t, w.ProcessOne(ctx))
		assert.Positive(t, beats.Load())

		got, err := q.Get(ctx, "t")
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, got.Status)
	})
}

func TestWorker_TaskTimeout_Synctest(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		q := NewMemoryQueue()
		w := NewWorker(WorkerConfig{ID: "w", Queue: q, TaskTimeout: 30 * time.Second})
		w.RegisterHandler(&funcHandler{taskType: TaskTypeEvent, fn: func(ctx context.Context, task *Task) error {
			<-ctx.Done()
			return ctx.Err()
		}})

		require.NoError(t, q.Enqueue(ctx, &Task{ID: "t", Type: TaskTypeEvent}))
		start := time.Now()
		require.True(t, w.ProcessOne(ctx))
		assert.Equal(t, 30*time.Second, time.Since(start))

		got, err := q.Get(ctx, "t")
		require.NoError(t, err)
		assert.Equal(t, context.DeadlineExceeded.Error(), got.LastError)
	})
}

func TestWorker_Poll_Synctest(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		q := NewMemoryQueue()
		var processed atomic.Int32
		w := NewWorker(WorkerConfig{ID: "w", Queue: q, Concurrency: 2, PollInterval: 100 * time.Millisecond})
		w.RegisterHandler(&funcHandler{taskType: TaskTypeEvent, fn: func(context.Context, *Task) error {
			processed.Add(1)
			return nil
		}})

		ctx, cancel := context.WithCancel(context.Background())
		w.Start(ctx)
		for range 5 {
			require.NoError(t, q.Enqueue(context.Background(), &Task{Type: TaskTypeEvent}))
		}
		time.Sleep(150 * time.Millisecond)
		synctest.Wait()
		assert.Equal(t, int32(5), processed.Load())

		cancel()
		w.Stop()
	})
}
