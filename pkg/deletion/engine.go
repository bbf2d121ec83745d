// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package deletion runs time-boxed, resumable segment sweeps for delete
// requests. Each Run is one checkpointed step: it deletes batches until the
// range is exhausted, an error occurs, or the caller's time budget runs low,
// then persists the request so another invocation can pick it up.
package deletion

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/LeeDigitalWorks/tams/pkg/logger"
	"github.com/LeeDigitalWorks/tams/pkg/metadata/db"
	"github.com/LeeDigitalWorks/tams/pkg/segments"
	"github.com/LeeDigitalWorks/tams/pkg/timerange"
	"github.com/LeeDigitalWorks/tams/pkg/types"

	"github.com/getsentry/sentry-go"
)

const (
	DefaultBatchSize    = 100
	DefaultSafetyMargin = 5 * time.Second
)

type Config struct {
	// BatchSize caps the segments fetched per query. It is independent of
	// the read API page limit.
	BatchSize int
	// SafetyMargin is the minimum remaining budget required to start
	// another batch.
	SafetyMargin time.Duration
}

func DefaultConfig() Config {
	return Config{BatchSize: DefaultBatchSize, SafetyMargin: DefaultSafetyMargin}
}

// RemainingFunc reports how much of the invocation's time budget is left.
type RemainingFunc func() time.Duration

// Until returns a RemainingFunc counting down to deadline.
func Until(deadline time.Time) RemainingFunc {
	return func() time.Duration { return time.Until(deadline) }
}

// ObjectDispatcher hands the object ids of removed segments to the
// asynchronous blob cleanup.
type ObjectDispatcher interface {
	Dispatch(ctx context.Context, objectIDs []string) error
}

// Scheduler enqueues another invocation for a request that still has work.
type Scheduler interface {
	ScheduleContinuation(ctx context.Context, req *types.DeleteRequest) error
}

// Notifier receives change notifications. Implementations must not block.
type Notifier interface {
	SegmentsDeleted(ctx context.Context, flowID string, tr timerange.TimeRange, count int)
	FlowDeleted(ctx context.Context, flowID string)
}

type Deps struct {
	Index      *segments.Index
	Planner    *segments.Planner
	Flows      db.FlowStore
	Requests   db.DeleteRequestStore
	Dispatcher ObjectDispatcher
	Scheduler  Scheduler
	// Notifier is optional.
	Notifier Notifier
}

type Engine struct {
	Deps
	cfg Config
	now func() time.Time
}

func NewEngine(deps Deps, cfg Config) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.SafetyMargin <= 0 {
		cfg.SafetyMargin = DefaultSafetyMargin
	}
	return &Engine{Deps: deps, cfg: cfg, now: time.Now}
}

// Result summarizes one invocation.
type Result struct {
	Status       types.DeleteRequestStatus
	Batches      int
	Deleted      int
	ObjectIDs    int
	Checkpointed bool
}

// Run advances req. Terminal requests are returned untouched. A non-nil
// error means the request could not be persisted and the invocation should
// be retried; failures during the sweep itself are recorded on the request
// and reported through Result.Status.
func (e *Engine) Run(ctx context.Context, req *types.DeleteRequest, remaining RemainingFunc) (*Result, error) {
	start := time.Now()
	defer func() { invocationDuration.Observe(time.Since(start).Seconds()) }()

	res := &Result{Status: req.Status}
	if req.Terminal() {
		return res, nil
	}

	ctx = logger.WithFields(ctx, "delete_request_id", req.ID, "flow_id", req.FlowID)
	log := logger.Ctx(ctx)

	if req.Status == types.DeleteStatusCreated {
		req.Status = types.DeleteStatusStarted
		req.Updated = e.now()
		if err := e.Requests.PutDeleteRequest(ctx, req); err != nil {
			return nil, fmt.Errorf("mark delete request started: %w", err)
		}
		log.Info().Stringer("timerange", req.TimerangeToDelete).Msg("delete request started")
	}

	toDelete := req.TimerangeToDelete
	cursor := req.TimerangeRemaining
	more := true
	var failure error

	for {
		b, err := e.runBatch(ctx, req.FlowID, toDelete, cursor)
		res.Batches++
		res.Deleted += b.deleted
		res.ObjectIDs += b.objectIDs
		if err != nil {
			// The cursor stays before the failed batch.
			failure = err
			break
		}
		if b.last != nil {
			cursor = toDelete.IntersectWith(b.last.TimerangeAfter())
		}
		more = b.more
		if !more {
			break
		}
		if left := remaining(); left <= e.cfg.SafetyMargin {
			log.Debug().Dur("remaining", left).Msg("time budget exhausted, checkpointing")
			break
		}
	}

	req.Updated = e.now()
	switch {
	case failure != nil:
		req.Status = types.DeleteStatusError
		req.TimerangeRemaining = cursor
		req.Error = newDeleteError(failure, req.Updated)
		res.Status = req.Status
		if err := e.Requests.PutDeleteRequest(ctx, req); err != nil {
			return nil, fmt.Errorf("persist failed delete request: %w", err)
		}
		invocationsTotal.WithLabelValues("error").Inc()
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("flow_id", req.FlowID)
			scope.SetTag("delete_request_id", req.ID)
			sentry.CaptureException(failure)
		})
		log.Error().Err(failure).Msg("delete request failed")
		return res, nil

	case !more:
		if req.DeleteFlow {
			if err := e.Flows.DeleteFlow(ctx, req.FlowID); err != nil && !errors.Is(err, db.ErrFlowNotFound) {
				return nil, fmt.Errorf("delete flow: %w", err)
			}
			if e.Notifier != nil {
				e.Notifier.FlowDeleted(ctx, req.FlowID)
			}
		}
		req.Status = types.DeleteStatusDone
		req.TimerangeRemaining = timerange.Never()
		res.Status = req.Status
		if err := e.Requests.PutDeleteRequest(ctx, req); err != nil {
			return nil, fmt.Errorf("persist completed delete request: %w", err)
		}
		invocationsTotal.WithLabelValues("done").Inc()
		log.Info().Int("deleted", res.Deleted).Int("batches", res.Batches).Msg("delete request done")
		return res, nil

	default:
		req.TimerangeRemaining = cursor
		res.Status = req.Status
		res.Checkpointed = true
		if err := e.Requests.PutDeleteRequest(ctx, req); err != nil {
			return nil, fmt.Errorf("checkpoint delete request: %w", err)
		}
		if err := e.Scheduler.ScheduleContinuation(ctx, req); err != nil {
			return nil, fmt.Errorf("schedule continuation: %w", err)
		}
		invocationsTotal.WithLabelValues("checkpoint").Inc()
		log.Info().
			Int("deleted", res.Deleted).
			Stringer("timerange_remaining", cursor).
			Msg("delete request checkpointed")
		return res, nil
	}
}

type batchResult struct {
	deleted   int
	objectIDs int
	more      bool
	// last is the final segment the query returned, before trimming.
	last *timerange.TimeRange
}

func (e *Engine) runBatch(ctx context.Context, flowID string, toDelete, cursor timerange.TimeRange) (batchResult, error) {
	var b batchResult
	batchesTotal.Inc()

	q, ok, err := e.Planner.Plan(ctx, flowID, segments.SegmentQueryParams{
		Timerange: &cursor,
		Limit:     e.cfg.BatchSize,
	})
	if err != nil {
		return b, fmt.Errorf("plan batch: %w", err)
	}
	if !ok {
		return b, nil
	}

	page, err := e.Index.QueryRange(ctx, q)
	if err != nil {
		return b, fmt.Errorf("query batch: %w", err)
	}
	b.more = page.LastEvaluatedKey != nil
	if n := len(page.Segments); n > 0 {
		last := page.Segments[n-1].Timerange
		b.last = &last
	}

	items := TrimBoundaries(page.Segments, toDelete)
	segmentsTrimmedTotal.Add(float64(len(page.Segments) - len(items)))

	var (
		objectIDs []string
		seen      = make(map[string]struct{})
		deletedTR = timerange.Never()
		failure   error
	)
	for _, seg := range items {
		removed, ok, err := e.Index.Delete(ctx, flowID, seg.TimerangeEnd)
		if err != nil {
			failure = fmt.Errorf("delete segment %s: %w", seg.Timerange, err)
			break
		}
		if !ok {
			continue
		}
		b.deleted++
		deletedTR = deletedTR.ExtendToEncompass(removed.Timerange)
		if _, dup := seen[removed.ObjectID]; !dup {
			seen[removed.ObjectID] = struct{}{}
			objectIDs = append(objectIDs, removed.ObjectID)
		}
	}
	segmentsDeletedTotal.Add(float64(b.deleted))

	if b.deleted > 0 {
		err := e.Flows.TouchSegmentsUpdated(ctx, flowID, e.now())
		if err != nil && !errors.Is(err, db.ErrFlowNotFound) {
			logger.Ctx(ctx).Warn().Err(err).Msg("failed to touch flow segments_updated")
		}
		if e.Notifier != nil {
			e.Notifier.SegmentsDeleted(ctx, flowID, deletedTR, b.deleted)
		}
	}

	if len(objectIDs) > 0 {
		b.objectIDs = len(objectIDs)
		if err := e.Dispatcher.Dispatch(ctx, objectIDs); err != nil {
			return b, errors.Join(failure, fmt.Errorf("dispatch object cleanup: %w", err))
		}
	}
	return b, failure
}

// TrimBoundaries drops segments at either end of a forward-ordered batch
// that extend outside tr. The last item is only considered when the batch
// has more than one item.
func TrimBoundaries(items []*types.Segment, tr timerange.TimeRange) []*types.Segment {
	if len(items) > 1 && !tr.ContainsSubrange(items[len(items)-1].Timerange) {
		items = items[:len(items)-1]
	}
	if len(items) > 0 && !tr.ContainsSubrange(items[0].Timerange) {
		items = items[1:]
	}
	return items
}

func newDeleteError(err error, at time.Time) *types.DeleteError {
	typ := fmt.Sprintf("%T", err)
	for u := errors.Unwrap(err); u != nil; u = errors.Unwrap(u) {
		typ = fmt.Sprintf("%T", u)
	}
	return &types.DeleteError{
		Type:      strings.TrimPrefix(typ, "*"),
		Summary:   err.Error(),
		Traceback: strings.Split(strings.TrimSpace(string(debug.Stack())), "\n"),
		Time:      at,
	}
}
