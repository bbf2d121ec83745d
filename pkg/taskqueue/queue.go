// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue

import (
	"context"
	"errors"
	"time"
)

var (
	ErrTaskNotFound   = errors.New("task not found")
	ErrQueueClosed    = errors.New("task queue is closed")
	ErrInvalidPayload = errors.New("invalid task payload")
)

// Queue is an at-least-once task queue. A task may be delivered again if a
// worker dies before completing it, so handlers must be idempotent.
type Queue interface {
	Enqueue(ctx context.Context, task *Task) error

	// Dequeue claims the next available task, or returns nil if none is
	// ready.
	Dequeue(ctx context.Context, workerID string, taskTypes ...TaskType) (*Task, error)

	Complete(ctx context.Context, taskID string) error

	// Fail records err against the task. The task is retried with
	// exponential backoff until MaxRetries is reached, then dead-lettered.
	Fail(ctx context.Context, taskID string, err error) error

	Cancel(ctx context.Context, taskID string) error

	// Heartbeat keeps a long running task from being reclaimed.
	Heartbeat(ctx context.Context, taskID string, workerID string) error

	Get(ctx context.Context, taskID string) (*Task, error)
	List(ctx context.Context, filter TaskFilter) ([]*Task, error)
	Stats(ctx context.Context) (*QueueStats, error)

	// Cleanup removes completed and cancelled tasks older than olderThan.
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)

	Close() error
}

// Handler processes tasks of a specific type.
type Handler interface {
	Type() TaskType
	Handle(ctx context.Context, task *Task) error
}

// retryBackoff is the delay before attempt n+1: 1s, 2s, 4s, ...
func retryBackoff(attempts int) time.Duration {
	if attempts > 10 {
		attempts = 10
	}
	return time.Duration(1<<attempts) * time.Second
}
