// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package service implements the segment operations of the media store on
// top of the segment index, the deletion engine and the task queue.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/tams/pkg/cache"
	"github.com/LeeDigitalWorks/tams/pkg/deletion"
	"github.com/LeeDigitalWorks/tams/pkg/dispatch"
	"github.com/LeeDigitalWorks/tams/pkg/events"
	"github.com/LeeDigitalWorks/tams/pkg/logger"
	"github.com/LeeDigitalWorks/tams/pkg/metadata/db"
	"github.com/LeeDigitalWorks/tams/pkg/segments"
	"github.com/LeeDigitalWorks/tams/pkg/taskqueue/handlers"
	"github.com/LeeDigitalWorks/tams/pkg/timerange"
	"github.com/LeeDigitalWorks/tams/pkg/types"

	"github.com/google/uuid"
)

type Service struct {
	db         db.DB
	index      *segments.Index
	planner    *segments.Planner
	flows      *cache.FlowCache
	dispatcher *dispatch.Dispatcher
	scheduler  handlers.QueueScheduler
	emitter    *events.Emitter
	deletion   deletion.Config
	now        func() time.Time
}

func New(cfg Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ix := segments.NewIndex(cfg.DB)
	return &Service{
		db:         cfg.DB,
		index:      ix,
		planner:    segments.NewPlanner(ix),
		flows:      cache.NewFlowCache(cfg.DB, cfg.FlowCacheTTL, cfg.FlowCacheSize),
		dispatcher: dispatch.NewDispatcher(cfg.Queue, cfg.Dispatch),
		scheduler:  handlers.QueueScheduler{Queue: cfg.Queue},
		emitter:    cfg.Emitter,
		deletion:   cfg.Deletion,
		now:        time.Now,
	}, nil
}

// Close stops background work owned by the service. It does not close the
// database or the queue.
func (s *Service) Close() {
	s.flows.Stop()
}

func (s *Service) Index() *segments.Index     { return s.index }
func (s *Service) Planner() *segments.Planner { return s.planner }

// Engine builds a deletion engine sharing this service's index, queue and
// flow cache.
func (s *Service) Engine() *deletion.Engine {
	return deletion.NewEngine(deletion.Deps{
		Index:      s.index,
		Planner:    s.planner,
		Flows:      s.db,
		Requests:   s.db,
		Dispatcher: s.dispatcher,
		Scheduler:  s.scheduler,
		Notifier:   notifier{s},
	}, s.deletion)
}

// notifier keeps the flow cache coherent with deletions made by the engine
// and forwards them as events.
type notifier struct{ s *Service }

func (n notifier) SegmentsDeleted(ctx context.Context, flowID string, tr timerange.TimeRange, count int) {
	n.s.flows.Invalidate(flowID)
	n.s.emitter.SegmentsDeleted(ctx, flowID, tr, count)
}

func (n notifier) FlowDeleted(ctx context.Context, flowID string) {
	n.s.flows.Invalidate(flowID)
	n.s.emitter.FlowDeleted(ctx, flowID)
}

// PutFlow creates or replaces a flow. Created and SegmentsUpdated are kept
// from the stored flow.
func (s *Service) PutFlow(ctx context.Context, flow *types.Flow) error {
	if flow.ID == "" {
		return &segments.ValidationError{Field: "id", Reason: "required"}
	}
	now := s.now()
	existing, err := s.db.GetFlow(ctx, flow.ID)
	switch {
	case err == nil:
		flow.Created = existing.Created
		flow.SegmentsUpdated = existing.SegmentsUpdated
	case errors.Is(err, db.ErrFlowNotFound):
		flow.Created = now
	default:
		return fmt.Errorf("load flow: %w", err)
	}
	flow.Updated = now

	if err := s.db.PutFlow(ctx, flow); err != nil {
		return fmt.Errorf("put flow: %w", err)
	}
	s.flows.Invalidate(flow.ID)
	return nil
}

func (s *Service) GetFlow(ctx context.Context, flowID string) (*types.Flow, error) {
	return s.flows.Get(ctx, flowID)
}

func (s *Service) writableFlow(ctx context.Context, flowID string) (*types.Flow, error) {
	flow, err := s.flows.Get(ctx, flowID)
	if err != nil {
		return nil, err
	}
	if flow.ReadOnly {
		return nil, fmt.Errorf("%w: %s", ErrFlowReadOnly, flowID)
	}
	return flow, nil
}

// PostSegment adds seg to the flow. The flow must exist, be writable and
// declare a container.
func (s *Service) PostSegment(ctx context.Context, flowID string, seg *types.Segment) error {
	flow, err := s.writableFlow(ctx, flowID)
	if err != nil {
		return err
	}
	if flow.Container == "" {
		return &segments.ValidationError{Field: "container", Reason: "flow has no container, segments cannot be added"}
	}

	seg.FlowID = flowID
	if err := s.index.Insert(ctx, seg); err != nil {
		return err
	}
	s.touch(ctx, flowID)
	s.emitter.SegmentsAdded(ctx, flowID, seg.Timerange, 1)
	return nil
}

func (s *Service) touch(ctx context.Context, flowID string) {
	if err := s.db.TouchSegmentsUpdated(ctx, flowID, s.now()); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("flow_id", flowID).Msg("failed to touch flow segments_updated")
	}
	s.flows.Invalidate(flowID)
}

func (s *Service) ListSegments(ctx context.Context, flowID string, params segments.SegmentQueryParams) (*segments.ListResult, error) {
	if _, err := s.flows.Get(ctx, flowID); err != nil {
		return nil, err
	}
	return s.index.List(ctx, s.planner, flowID, params)
}

// FlowTimerange spans every segment of the flow; "()" when it has none.
func (s *Service) FlowTimerange(ctx context.Context, flowID string) (timerange.TimeRange, error) {
	if _, err := s.flows.Get(ctx, flowID); err != nil {
		return timerange.Never(), err
	}
	return s.index.FlowTimerange(ctx, flowID)
}

// AppendStorageIDs records that the object of the segment ending at tr's
// end has been replicated to the given storage backends.
func (s *Service) AppendStorageIDs(ctx context.Context, flowID string, tr timerange.TimeRange, storageIDs []string) error {
	end, err := tr.EndNanosec()
	if err != nil || !tr.Bounded() {
		return &segments.ValidationError{Field: "timerange", Reason: "must be bounded", Err: err}
	}
	if _, err := s.flows.Get(ctx, flowID); err != nil {
		return err
	}
	return s.index.AppendStorageIDs(ctx, flowID, end, storageIDs)
}

// DeleteParams selects the segments of a flow to delete.
type DeleteParams struct {
	// Timerange defaults to eternity.
	Timerange *timerange.TimeRange
	// ObjectID restricts the delete to segments referencing one object and
	// makes it synchronous.
	ObjectID  string
	CreatedBy string
}

// DeleteResult is either complete, or pending on Request.
type DeleteResult struct {
	Request *types.DeleteRequest
	Deleted int
}

func (r *DeleteResult) Pending() bool { return r.Request != nil }

// DeleteSegments removes the flow's segments selected by params. Deletes
// scoped to an object id run synchronously. A timerange with no segments
// completes immediately; otherwise a delete request is queued and returned.
func (s *Service) DeleteSegments(ctx context.Context, flowID string, params DeleteParams) (*DeleteResult, error) {
	if _, err := s.writableFlow(ctx, flowID); err != nil {
		return nil, err
	}
	tr := timerange.Eternity()
	if params.Timerange != nil {
		tr = *params.Timerange
	}

	if params.ObjectID != "" {
		n, err := s.deleteObjectSegments(ctx, flowID, params.ObjectID, tr)
		if err != nil {
			return nil, err
		}
		return &DeleteResult{Deleted: n}, nil
	}

	has, err := s.index.HasSegments(ctx, s.planner, flowID, tr)
	if err != nil {
		return nil, fmt.Errorf("check segments: %w", err)
	}
	if !has {
		return &DeleteResult{}, nil
	}
	req, err := s.submitDeleteRequest(ctx, flowID, tr, false, params.CreatedBy)
	if err != nil {
		return nil, err
	}
	return &DeleteResult{Request: req}, nil
}

// DeleteFlow removes the flow. A flow with segments is deleted by a delete
// request that removes the flow once its segments are gone.
func (s *Service) DeleteFlow(ctx context.Context, flowID, createdBy string) (*DeleteResult, error) {
	if _, err := s.writableFlow(ctx, flowID); err != nil {
		return nil, err
	}

	has, err := s.index.HasSegments(ctx, s.planner, flowID, timerange.Eternity())
	if err != nil {
		return nil, fmt.Errorf("check segments: %w", err)
	}
	if has {
		req, err := s.submitDeleteRequest(ctx, flowID, timerange.Eternity(), true, createdBy)
		if err != nil {
			return nil, err
		}
		return &DeleteResult{Request: req}, nil
	}

	if err := s.db.DeleteFlow(ctx, flowID); err != nil {
		return nil, err
	}
	s.flows.Invalidate(flowID)
	s.emitter.FlowDeleted(ctx, flowID)
	logger.Ctx(ctx).Info().Str("flow_id", flowID).Msg("flow deleted")
	return &DeleteResult{}, nil
}

func (s *Service) submitDeleteRequest(ctx context.Context, flowID string, tr timerange.TimeRange, deleteFlow bool, createdBy string) (*types.DeleteRequest, error) {
	now := s.now()
	req := &types.DeleteRequest{
		ID:                 uuid.NewString(),
		FlowID:             flowID,
		DeleteFlow:         deleteFlow,
		TimerangeToDelete:  tr,
		TimerangeRemaining: tr,
		Status:             types.DeleteStatusCreated,
		CreatedBy:          createdBy,
		Created:            now,
		Updated:            now,
	}
	if err := s.db.PutDeleteRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("create delete request: %w", err)
	}
	if err := s.scheduler.ScheduleContinuation(ctx, req); err != nil {
		return nil, fmt.Errorf("queue delete request: %w", err)
	}
	logger.Ctx(ctx).Info().
		Str("flow_id", flowID).
		Str("delete_request_id", req.ID).
		Stringer("timerange", tr).
		Bool("delete_flow", deleteFlow).
		Msg("delete request submitted")
	return req.Clone(), nil
}

// deleteObjectSegments deletes every segment of the flow referencing
// objectID that lies wholly within tr. Segments extending outside tr are
// kept; the cursor moves past each page so they are not fetched again.
func (s *Service) deleteObjectSegments(ctx context.Context, flowID, objectID string, tr timerange.TimeRange) (int, error) {
	deleted := 0
	deletedTR := timerange.Never()
	cursor := tr
	for !cursor.IsEmpty() {
		params := segments.SegmentQueryParams{ObjectID: objectID, Limit: segments.MaxPageLimit}
		if !cursor.IsEternity() {
			params.Timerange = &cursor
		}
		q, ok, err := s.planner.Plan(ctx, flowID, params)
		if err != nil || !ok {
			return deleted, err
		}
		page, err := s.index.QueryRange(ctx, q)
		if err != nil {
			return deleted, fmt.Errorf("query object segments: %w", err)
		}
		if len(page.Segments) == 0 {
			break
		}
		for _, seg := range page.Segments {
			if !tr.ContainsSubrange(seg.Timerange) {
				continue
			}
			removed, ok, err := s.index.Delete(ctx, flowID, seg.TimerangeEnd)
			if err != nil {
				return deleted, fmt.Errorf("delete segment %s: %w", seg.Timerange, err)
			}
			if ok {
				deleted++
				deletedTR = deletedTR.ExtendToEncompass(removed.Timerange)
			}
		}
		if page.LastEvaluatedKey == nil {
			break
		}
		cursor = tr.IntersectWith(page.Segments[len(page.Segments)-1].Timerange.TimerangeAfter())
	}

	if deleted == 0 {
		return 0, nil
	}
	s.touch(ctx, flowID)
	s.emitter.SegmentsDeleted(ctx, flowID, deletedTR, deleted)
	if err := s.dispatcher.Dispatch(ctx, []string{objectID}); err != nil {
		return deleted, fmt.Errorf("dispatch object cleanup: %w", err)
	}
	return deleted, nil
}

func (s *Service) GetDeleteRequest(ctx context.Context, id string) (*types.DeleteRequest, error) {
	return s.db.GetDeleteRequest(ctx, id)
}

// ListDeleteRequests lists requests of one flow, or all when flowID is empty.
func (s *Service) ListDeleteRequests(ctx context.Context, flowID string) ([]*types.DeleteRequest, error) {
	return s.db.ListDeleteRequests(ctx, flowID)
}
