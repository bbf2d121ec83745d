// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/tams/pkg/deletion"
	"github.com/LeeDigitalWorks/tams/pkg/logger"
	"github.com/LeeDigitalWorks/tams/pkg/metadata/db"
	"github.com/LeeDigitalWorks/tams/pkg/taskqueue"
	"github.com/LeeDigitalWorks/tams/pkg/types"
)

// DefaultInvocationBudget is the wall time one delete_request task may
// spend before checkpointing.
const DefaultInvocationBudget = 60 * time.Second

// DeleteRequestHandler runs one deletion engine step per task.
type DeleteRequestHandler struct {
	engine   *deletion.Engine
	requests db.DeleteRequestStore
	budget   time.Duration
}

func NewDeleteRequestHandler(engine *deletion.Engine, requests db.DeleteRequestStore, budget time.Duration) *DeleteRequestHandler {
	if budget <= 0 {
		budget = DefaultInvocationBudget
	}
	return &DeleteRequestHandler{engine: engine, requests: requests, budget: budget}
}

func (h *DeleteRequestHandler) Type() taskqueue.TaskType {
	return taskqueue.TaskTypeDeleteRequest
}

func (h *DeleteRequestHandler) Handle(ctx context.Context, task *taskqueue.Task) error {
	payload, err := taskqueue.UnmarshalPayload[taskqueue.DeleteRequestPayload](task.Payload)
	if err != nil || payload.DeleteRequestID == "" {
		return fmt.Errorf("%w: delete_request task %s", taskqueue.ErrInvalidPayload, task.ID)
	}

	req, err := h.requests.GetDeleteRequest(ctx, payload.DeleteRequestID)
	if errors.Is(err, db.ErrDeleteRequestNotFound) {
		// Removed by an operator; the sweep is abandoned.
		logger.Ctx(ctx).Info().
			Str("delete_request_id", payload.DeleteRequestID).
			Msg("delete request no longer exists, dropping task")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load delete request: %w", err)
	}

	deadline := time.Now().Add(h.budget)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	res, err := h.engine.Run(ctx, req, deletion.Until(deadline))
	if err != nil {
		return err
	}
	logger.Ctx(ctx).Debug().
		Str("delete_request_id", req.ID).
		Str("status", string(res.Status)).
		Int("deleted", res.Deleted).
		Bool("checkpointed", res.Checkpointed).
		Msg("delete request step finished")
	return nil
}

// NewDeleteRequestTask builds the task that advances req.
func NewDeleteRequestTask(req *types.DeleteRequest) (*taskqueue.Task, error) {
	payload, err := taskqueue.MarshalPayload(taskqueue.DeleteRequestPayload{DeleteRequestID: req.ID})
	if err != nil {
		return nil, err
	}
	return &taskqueue.Task{
		Type:       taskqueue.TaskTypeDeleteRequest,
		Priority:   taskqueue.PriorityNormal,
		Payload:    payload,
		MaxRetries: 5,
		FlowID:     req.FlowID,
	}, nil
}

// QueueScheduler enqueues delete request continuations on a task queue.
type QueueScheduler struct {
	Queue taskqueue.Queue
}

func (s QueueScheduler) ScheduleContinuation(ctx context.Context, req *types.DeleteRequest) error {
	task, err := NewDeleteRequestTask(req)
	if err != nil {
		return err
	}
	return s.Queue.Enqueue(ctx, task)
}

var _ deletion.Scheduler = QueueScheduler{}
