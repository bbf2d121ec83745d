// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/LeeDigitalWorks/tams/pkg/logger"
	"github.com/LeeDigitalWorks/tams/pkg/metadata/db"
	"github.com/LeeDigitalWorks/tams/pkg/storage/backend"
	"github.com/LeeDigitalWorks/tams/pkg/taskqueue"

	"golang.org/x/time/rate"
)

// ObjectCleanupHandler deletes media objects that no segment references
// any more from every configured store.
type ObjectCleanupHandler struct {
	segments db.SegmentStore
	stores   *backend.Manager
	limiter  *rate.Limiter
}

// NewObjectCleanupHandler limits blob deletes to deletesPerSecond across all
// stores; zero means unlimited.
func NewObjectCleanupHandler(segments db.SegmentStore, stores *backend.Manager, deletesPerSecond float64) *ObjectCleanupHandler {
	limit := rate.Inf
	burst := 1
	if deletesPerSecond > 0 {
		limit = rate.Limit(deletesPerSecond)
		burst = max(1, int(deletesPerSecond))
	}
	return &ObjectCleanupHandler{
		segments: segments,
		stores:   stores,
		limiter:  rate.NewLimiter(limit, burst),
	}
}

func (h *ObjectCleanupHandler) Type() taskqueue.TaskType {
	return taskqueue.TaskTypeObjectCleanup
}

// Handle re-checks references before deleting, since an object may have
// been re-used by a new segment after its batch was queued. Any failure
// fails the task so the whole batch is retried; deletes are idempotent.
func (h *ObjectCleanupHandler) Handle(ctx context.Context, task *taskqueue.Task) error {
	payload, err := taskqueue.UnmarshalPayload[taskqueue.ObjectCleanupPayload](task.Payload)
	if err != nil {
		return fmt.Errorf("%w: object_cleanup task %s: %w", taskqueue.ErrInvalidPayload, task.ID, err)
	}

	log := logger.Ctx(ctx)
	storeIDs := h.stores.List()
	var errs []error
	deleted, skipped := 0, 0

	for _, objectID := range payload.ObjectIDs {
		refs, err := h.segments.CountObjectReferences(ctx, objectID)
		if err != nil {
			errs = append(errs, fmt.Errorf("count references of %s: %w", objectID, err))
			continue
		}
		if refs > 0 {
			skipped++
			continue
		}

		for _, id := range storeIDs {
			store, ok := h.stores.Get(id)
			if !ok {
				continue
			}
			if err := h.limiter.Wait(ctx); err != nil {
				return errors.Join(append(errs, err)...)
			}
			if err := store.Delete(ctx, objectID); err != nil {
				errs = append(errs, fmt.Errorf("delete %s from %s: %w", objectID, id, err))
				continue
			}
		}
		deleted++
	}

	log.Debug().
		Str("task_id", task.ID).
		Int("object_ids", len(payload.ObjectIDs)).
		Int("deleted", deleted).
		Int("still_referenced", skipped).
		Int("errors", len(errs)).
		Msg("object cleanup finished")
	return errors.Join(errs...)
}
