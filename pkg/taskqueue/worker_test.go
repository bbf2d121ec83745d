// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/LeeDigitalWorks/tams/pkg/taskqueue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testHandler struct {
	taskType taskqueue.TaskType
	handleFn func(ctx context.Context, task *taskqueue.Task) error
}

func (h *testHandler) Type() taskqueue.TaskType { return h.taskType }

func (h *testHandler) Handle(ctx context.Context, task *taskqueue.Task) error {
	if h.handleFn != nil {
		return h.handleFn(ctx, task)
	}
	return nil
}

func newWorker(q taskqueue.Queue, handlers ...taskqueue.Handler) *taskqueue.Worker {
	w := taskqueue.NewWorker(taskqueue.WorkerConfig{
		ID:           "test-worker",
		Queue:        q,
		PollInterval: 5 * time.Millisecond,
		Concurrency:  1,
		TaskTimeout:  time.Second,
	})
	for _, h := range handlers {
		w.RegisterHandler(h)
	}
	return w
}

func TestWorker_HandlerTypes(t *testing.T) {
	t.Parallel()
	q := taskqueue.NewMemoryQueue()

	w := newWorker(q,
		&testHandler{taskType: taskqueue.TaskTypeObjectCleanup},
		&testHandler{taskType: taskqueue.TaskTypeDeleteRequest},
		nil,
	)
	assert.Equal(t, []taskqueue.TaskType{taskqueue.TaskTypeDeleteRequest, taskqueue.TaskTypeObjectCleanup}, w.HandlerTypes())
	assert.Equal(t, taskqueue.Queue(q), w.Queue())
}

func TestWorker_ProcessOne(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name       string
		handleFn   func(ctx context.Context, task *taskqueue.Task) error
		wantStatus taskqueue.TaskStatus
		wantError  string
	}{
		{
			name:       "success",
			handleFn:   func(context.Context, *taskqueue.Task) error { return nil },
			wantStatus: taskqueue.StatusCompleted,
		},
		{
			name:       "failure retries",
			handleFn:   func(context.Context, *taskqueue.Task) error { return errors.New("boom") },
			wantStatus: taskqueue.StatusPending,
			wantError:  "boom",
		},
		{
			name:       "panic becomes failure",
			handleFn:   func(context.Context, *taskqueue.Task) error { panic("kaboom") },
			wantStatus: taskqueue.StatusPending,
			wantError:  "handler panic: kaboom",
		},
		{
			name: "deadline is set",
			handleFn: func(ctx context.Context, _ *taskqueue.Task) error {
				if _, ok := ctx.Deadline(); !ok {
					return errors.New("no deadline")
				}
				return nil
			},
			wantStatus: taskqueue.StatusCompleted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			q := taskqueue.NewMemoryQueue()
			w := newWorker(q, &testHandler{taskType: taskqueue.TaskTypeObjectCleanup, handleFn: tt.handleFn})

			require.NoError(t, q.Enqueue(ctx, &taskqueue.Task{ID: "t1", Type: taskqueue.TaskTypeObjectCleanup}))
			assert.True(t, w.ProcessOne(ctx))
			assert.False(t, w.ProcessOne(ctx), "queue is drained or backing off")

			got, err := q.Get(ctx, "t1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, tt.wantError, got.LastError)
		})
	}
}

func TestWorker_NoHandlerDeadLetters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := taskqueue.NewMemoryQueue()
	w := newWorker(q, &testHandler{taskType: taskqueue.TaskTypeObjectCleanup})

	require.NoError(t, q.Enqueue(ctx, &taskqueue.Task{ID: "t1", Type: taskqueue.TaskTypeEvent, MaxRetries: 1}))
	assert.True(t, w.ProcessOne(ctx, taskqueue.TaskTypeEvent))

	got, err := q.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StatusDeadLetter, got.Status)
	assert.Equal(t, "no handler registered", got.LastError)
}

func TestWorker_StartStop(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := taskqueue.NewMemoryQueue()
	done := make(chan struct{}, 3)
	var processed atomic.Int32
	w := newWorker(q, &testHandler{
		taskType: taskqueue.TaskTypeEvent,
		handleFn: func(context.Context, *taskqueue.Task) error {
			processed.Add(1)
			done <- struct{}{}
			return nil
		},
	})

	for range 3 {
		require.NoError(t, q.Enqueue(ctx, &taskqueue.Task{Type: taskqueue.TaskTypeEvent}))
	}
	w.Start(ctx)
	for range 3 {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("tasks were not processed")
		}
	}
	w.Stop()
	w.Stop()

	assert.Equal(t, int32(3), processed.Load())
	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Completed)
}

func TestWorker_StartWithoutHandlers(t *testing.T) {
	t.Parallel()
	w := newWorker(taskqueue.NewMemoryQueue())
	w.Start(context.Background())
	w.Stop()
}

func TestWorker_GracefulShutdown(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := taskqueue.NewMemoryQueue()

	started := make(chan struct{})
	release := make(chan struct{})
	w := newWorker(q, &testHandler{
		taskType: taskqueue.TaskTypeDeleteRequest,
		handleFn: func(context.Context, *taskqueue.Task) error {
			close(started)
			<-release
			return nil
		},
	})
	require.NoError(t, q.Enqueue(ctx, &taskqueue.Task{ID: "t1", Type: taskqueue.TaskTypeDeleteRequest}))

	workerCtx, cancel := context.WithCancel(ctx)
	w.Start(workerCtx)
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("task did not start")
	}
	close(release)
	cancel()
	w.Stop()

	got, err := q.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StatusCompleted, got.Status)
}
