// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync/atomic"
	"time"

	"github.com/LeeDigitalWorks/tams/pkg/logger"
	"github.com/LeeDigitalWorks/tams/pkg/taskqueue"
	"github.com/LeeDigitalWorks/tams/pkg/timerange"

	"github.com/google/uuid"
)

// Emitter queues change events for async delivery via the taskqueue.
// Emitting never fails the caller; errors are logged and counted.
type Emitter struct {
	queue   taskqueue.Queue
	enabled bool

	sequencer atomic.Uint64
}

type EmitterConfig struct {
	// Queue persists events. If nil, events are dropped.
	Queue   taskqueue.Queue
	Enabled bool
}

func NewEmitter(cfg EmitterConfig) *Emitter {
	return &Emitter{
		queue:   cfg.Queue,
		enabled: cfg.Enabled && cfg.Queue != nil,
	}
}

// NoopEmitter returns an emitter that drops all events.
func NoopEmitter() *Emitter {
	return &Emitter{}
}

// Emit queues an event. Sequencer and Timestamp are filled in when unset.
func (e *Emitter) Emit(ctx context.Context, payload *taskqueue.EventPayload) {
	if e == nil || !e.enabled {
		EventsDroppedTotal.Inc()
		return
	}

	if payload.Sequencer == "" {
		payload.Sequencer = e.nextSequencer()
	}
	if payload.Timestamp == 0 {
		payload.Timestamp = time.Now().UnixMilli()
	}

	log := logger.Ctx(ctx)
	data, err := taskqueue.MarshalPayload(payload)
	if err != nil {
		EventsErrorsTotal.WithLabelValues("marshal").Inc()
		log.Warn().Err(err).Str("event", payload.EventName).Str("flow_id", payload.FlowID).
			Msg("failed to marshal event payload")
		return
	}

	task := &taskqueue.Task{
		ID:         uuid.New().String(),
		Type:       taskqueue.TaskTypeEvent,
		Priority:   taskqueue.PriorityNormal,
		Payload:    data,
		MaxRetries: 3,
		FlowID:     payload.FlowID,
	}
	if err := e.queue.Enqueue(ctx, task); err != nil {
		EventsErrorsTotal.WithLabelValues("enqueue").Inc()
		log.Warn().Err(err).Str("event", payload.EventName).Str("flow_id", payload.FlowID).
			Msg("failed to queue event")
		return
	}

	EventsEmittedTotal.WithLabelValues(payload.EventName).Inc()
	log.Debug().
		Str("event", payload.EventName).
		Str("flow_id", payload.FlowID).
		Str("task_id", task.ID).
		Msg("queued event")
}

func (e *Emitter) SegmentsAdded(ctx context.Context, flowID string, tr timerange.TimeRange, count int) {
	e.Emit(ctx, &taskqueue.EventPayload{
		EventName: string(EventSegmentsAdded),
		FlowID:    flowID,
		Timerange: tr.String(),
		Count:     count,
	})
}

func (e *Emitter) SegmentsDeleted(ctx context.Context, flowID string, tr timerange.TimeRange, count int) {
	e.Emit(ctx, &taskqueue.EventPayload{
		EventName: string(EventSegmentsDeleted),
		FlowID:    flowID,
		Timerange: tr.String(),
		Count:     count,
	})
}

func (e *Emitter) FlowDeleted(ctx context.Context, flowID string) {
	e.Emit(ctx, &taskqueue.EventPayload{
		EventName: string(EventFlowDeleted),
		FlowID:    flowID,
	})
}

func (e *Emitter) IsEnabled() bool {
	return e != nil && e.enabled
}

// nextSequencer returns a value that increases within this process and is
// unique across processes: hex(timestamp_ms) + hex(counter) + random suffix.
func (e *Emitter) nextSequencer() string {
	ts := time.Now().UnixMilli()
	seq := e.sequencer.Add(1)

	suffix := make([]byte, 4)
	rand.Read(suffix)

	return hex.EncodeToString([]byte{
		byte(ts >> 40), byte(ts >> 32), byte(ts >> 24), byte(ts >> 16),
		byte(ts >> 8), byte(ts),
		byte(seq >> 8), byte(seq),
	}) + hex.EncodeToString(suffix)
}
