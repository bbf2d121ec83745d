// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package dispatch packs the object ids of deleted segments into
// size-bounded batches and queues them for blob cleanup.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/LeeDigitalWorks/tams/pkg/logger"
	"github.com/LeeDigitalWorks/tams/pkg/taskqueue"

	"github.com/dustin/go-humanize"
)

// DefaultMaxMessageSize is the serialized size cap of one batch, in bytes.
const DefaultMaxMessageSize = 250_000

func serializedSize(ids []string) int {
	b, _ := json.Marshal(ids)
	return len(b)
}

// Pack splits ids into batches whose JSON encoding is at most maxSize bytes.
// It sizes batches evenly from the total encoded size; a batch that is still
// too large, because ids vary in length, is halved until it fits or holds a
// single id. Order is preserved and no id is dropped or duplicated.
func Pack(ids []string, maxSize int) [][]string {
	if len(ids) == 0 {
		return nil
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}

	total := serializedSize(ids)
	batchCount := (total + maxSize - 1) / maxSize
	batchSize := (len(ids) + batchCount - 1) / batchCount

	batches := make([][]string, 0, batchCount)
	for start := 0; start < len(ids); start += batchSize {
		end := min(start+batchSize, len(ids))
		batches = append(batches, split(ids[start:end], maxSize)...)
	}
	return batches
}

func split(batch []string, maxSize int) [][]string {
	if len(batch) <= 1 || serializedSize(batch) <= maxSize {
		return [][]string{batch}
	}
	mid := len(batch) / 2
	return append(split(batch[:mid], maxSize), split(batch[mid:], maxSize)...)
}

// envelopeOverhead is what the object_cleanup payload adds around the
// packed id array.
var envelopeOverhead = func() int {
	b, _ := taskqueue.MarshalPayload(taskqueue.ObjectCleanupPayload{ObjectIDs: []string{}})
	return len(b) - len("[]")
}()

// Dispatcher queues object_cleanup tasks.
type Dispatcher struct {
	queue          taskqueue.Queue
	maxMessageSize int
	packSize       int
	maxRetries     int
}

type Config struct {
	MaxMessageSize int
	MaxRetries     int
}

func NewDispatcher(queue taskqueue.Queue, cfg Config) *Dispatcher {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 10
	}
	return &Dispatcher{
		queue:          queue,
		maxMessageSize: cfg.MaxMessageSize,
		packSize:       max(cfg.MaxMessageSize-envelopeOverhead, 1),
		maxRetries:     cfg.MaxRetries,
	}
}

// Dispatch enqueues one task per packed batch, each payload at most
// MaxMessageSize bytes unless it holds a single oversized id. Batches already queued stay
// queued when a later enqueue fails; cleanup re-checks references so a
// repeated dispatch is harmless.
func (d *Dispatcher) Dispatch(ctx context.Context, objectIDs []string) error {
	batches := Pack(objectIDs, d.packSize)
	for i, batch := range batches {
		payload, err := taskqueue.MarshalPayload(taskqueue.ObjectCleanupPayload{ObjectIDs: batch})
		if err != nil {
			return fmt.Errorf("marshal cleanup batch: %w", err)
		}
		task := &taskqueue.Task{
			Type:       taskqueue.TaskTypeObjectCleanup,
			Priority:   taskqueue.PriorityLow,
			Payload:    payload,
			MaxRetries: d.maxRetries,
		}
		if err := d.queue.Enqueue(ctx, task); err != nil {
			return fmt.Errorf("enqueue cleanup batch %d/%d: %w", i+1, len(batches), err)
		}
		logger.Ctx(ctx).Debug().
			Str("task_id", task.ID).
			Int("object_ids", len(batch)).
			Str("size", humanize.Bytes(uint64(len(payload)))).
			Msg("queued object cleanup batch")
	}
	if len(batches) > 0 {
		logger.Ctx(ctx).Info().
			Int("object_ids", len(objectIDs)).
			Int("batches", len(batches)).
			Str("max_size", humanize.Bytes(uint64(d.maxMessageSize))).
			Msg("dispatched object cleanup")
	}
	return nil
}
