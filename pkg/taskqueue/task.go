// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package taskqueue provides a durable, at-least-once task queue for
// background work: delete request sweeps, blob cleanup and event delivery.
//
// Supported backends:
//   - Database (PostgreSQL or MySQL), for production
//   - In-memory, for tests and single-process runs
package taskqueue

import (
	"encoding/json"
	"time"
)

const (
	DefaultPollInterval      = time.Second
	DefaultConcurrency       = 5
	DefaultVisibilityTimeout = 5 * time.Minute
	DefaultMaxRetries        = 3
	DefaultTaskTimeout       = 2 * time.Minute
)

// TaskType identifies the type of task for routing to handlers.
type TaskType string

const (
	// TaskTypeDeleteRequest runs one time-boxed step of a delete request.
	TaskTypeDeleteRequest TaskType = "delete_request"
	// TaskTypeObjectCleanup removes media objects no segment references.
	TaskTypeObjectCleanup TaskType = "object_cleanup"
	// TaskTypeEvent delivers a change notification.
	TaskTypeEvent TaskType = "event"
)

type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusRunning    TaskStatus = "running"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
	StatusDeadLetter TaskStatus = "dead_letter" // retries exhausted
	StatusCancelled  TaskStatus = "cancelled"
)

// TaskPriority allows urgent tasks to be processed first.
type TaskPriority int

const (
	PriorityLow    TaskPriority = 0
	PriorityNormal TaskPriority = 5
	PriorityHigh   TaskPriority = 10
)

// Task represents a unit of work to be processed.
type Task struct {
	ID       string       `json:"id"`
	Type     TaskType     `json:"type"`
	Status   TaskStatus   `json:"status"`
	Priority TaskPriority `json:"priority"`

	// Payload is the JSON encoded task-specific data.
	Payload json.RawMessage `json:"payload"`

	ScheduledAt time.Time  `json:"scheduled_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Attempts   int       `json:"attempts"`
	MaxRetries int       `json:"max_retries"`
	RetryAfter time.Time `json:"retry_after,omitempty"`

	LastError string `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	// FlowID is the flow the task acts on, if any. Used for listing.
	FlowID   string `json:"flow_id,omitempty"`
	WorkerID string `json:"worker_id,omitempty"`
}

type TaskFilter struct {
	Type   TaskType   `json:"type,omitempty"`
	Status TaskStatus `json:"status,omitempty"`
	FlowID string     `json:"flow_id,omitempty"`
	Limit  int        `json:"limit,omitempty"`
	Offset int        `json:"offset,omitempty"`
}

type QueueStats struct {
	Pending    int64 `json:"pending"`
	Running    int64 `json:"running"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	DeadLetter int64 `json:"dead_letter"`

	// ByType counts pending tasks per type.
	ByType map[TaskType]int64 `json:"by_type"`

	OldestPending *time.Time `json:"oldest_pending,omitempty"`
}

// DeleteRequestPayload is the payload of a delete_request task.
type DeleteRequestPayload struct {
	DeleteRequestID string `json:"delete_request_id"`
}

// ObjectCleanupPayload is the payload of an object_cleanup task.
type ObjectCleanupPayload struct {
	ObjectIDs []string `json:"object_ids"`
}

// EventPayload is the payload of an event task.
type EventPayload struct {
	EventName string `json:"event_name"`
	FlowID    string `json:"flow_id"`
	// Timerange is set for segment events.
	Timerange string `json:"timerange,omitempty"`
	Count     int    `json:"count,omitempty"`
	// Timestamp is unix milliseconds.
	Timestamp int64  `json:"timestamp"`
	Sequencer string `json:"sequencer"`
}

func MarshalPayload(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}

func UnmarshalPayload[T any](payload json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(payload, &v)
	return v, err
}
