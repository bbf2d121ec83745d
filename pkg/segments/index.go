// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package segments implements the per-flow segment timerange index: insert
// with overlap rejection, range queries, point deletes and the query planner
// that translates user filters into index reads.
package segments

import (
	"context"
	"errors"
	"fmt"

	"github.com/LeeDigitalWorks/tams/pkg/logger"
	"github.com/LeeDigitalWorks/tams/pkg/metadata/db"
	"github.com/LeeDigitalWorks/tams/pkg/timerange"
	"github.com/LeeDigitalWorks/tams/pkg/types"
)

// Index is the ordered segment index of every flow, backed by a
// db.SegmentStore.
type Index struct {
	store db.SegmentStore
}

func NewIndex(store db.SegmentStore) *Index {
	return &Index{store: store}
}

// Insert stores seg after checking that no existing segment of the flow
// intersects it. The check and the write are not atomic: two concurrent
// inserts of overlapping ranges can both succeed.
func (ix *Index) Insert(ctx context.Context, seg *types.Segment) error {
	if seg.FlowID == "" {
		return invalid("flow_id", "required", nil)
	}
	if seg.ObjectID == "" {
		return invalid("object_id", "required", nil)
	}
	if err := seg.DeriveKeys(); err != nil {
		return invalid("timerange", "segment timerange must be bounded and non-empty", err)
	}

	start, end := seg.TimerangeStart, seg.TimerangeEnd
	page, err := ix.store.QuerySegments(ctx, &db.SegmentQuery{
		FlowID:   seg.FlowID,
		EndMin:   &start,
		StartMax: &end,
		Limit:    1,
	})
	if err != nil {
		return fmt.Errorf("overlap check: %w", err)
	}
	if len(page.Segments) > 0 {
		return &OverlapError{
			FlowID:    seg.FlowID,
			Timerange: seg.Timerange,
			Existing:  page.Segments[0].Timerange,
		}
	}

	if err := ix.store.PutSegment(ctx, seg); err != nil {
		return fmt.Errorf("put segment: %w", err)
	}
	logger.Ctx(ctx).Debug().
		Str("flow_id", seg.FlowID).
		Str("object_id", seg.ObjectID).
		Stringer("timerange", seg.Timerange).
		Msg("segment inserted")
	return nil
}

// Delete removes the segment keyed (flowID, end). It reports false, without
// error, when the segment was already gone.
func (ix *Index) Delete(ctx context.Context, flowID string, end int64) (*types.Segment, bool, error) {
	seg, err := ix.store.DeleteSegment(ctx, flowID, end)
	if errors.Is(err, db.ErrSegmentNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return seg, true, nil
}

func (ix *Index) QueryRange(ctx context.Context, q db.SegmentQuery) (*db.SegmentPage, error) {
	return ix.store.QuerySegments(ctx, &q)
}

// First returns the first (ascending) or last (descending) segment of the
// flow.
func (ix *Index) First(ctx context.Context, flowID string, ascending bool) (*types.Segment, bool, error) {
	page, err := ix.store.QuerySegments(ctx, &db.SegmentQuery{
		FlowID:  flowID,
		Reverse: !ascending,
		Limit:   1,
	})
	if err != nil {
		return nil, false, err
	}
	if len(page.Segments) == 0 {
		return nil, false, nil
	}
	return page.Segments[0], true, nil
}

// ExactEndAtOrAfter anchors an end-only range at the segment that straddles
// bound: it returns the timerange_end of the first segment with
// timerange_end >= bound if that segment starts at or before bound, and
// bound itself otherwise.
func (ix *Index) ExactEndAtOrAfter(ctx context.Context, flowID string, bound int64) (int64, error) {
	page, err := ix.store.QuerySegments(ctx, &db.SegmentQuery{
		FlowID: flowID,
		EndMin: &bound,
		Limit:  1,
	})
	if err != nil {
		return 0, err
	}
	if len(page.Segments) == 0 {
		return bound, nil
	}
	seg := page.Segments[0]
	if seg.TimerangeStart <= bound {
		return seg.TimerangeEnd, nil
	}
	return bound, nil
}

// FlowTimerange is the range spanned by the flow's first and last segments,
// or the empty range for a flow with no segments.
func (ix *Index) FlowTimerange(ctx context.Context, flowID string) (timerange.TimeRange, error) {
	first, ok, err := ix.First(ctx, flowID, true)
	if err != nil || !ok {
		return timerange.Never(), err
	}
	last, ok, err := ix.First(ctx, flowID, false)
	if err != nil {
		return timerange.Never(), err
	}
	if !ok {
		return first.Timerange, nil
	}
	return first.Timerange.ExtendToEncompass(last.Timerange), nil
}

// HasSegments reports whether any segment of the flow intersects tr.
func (ix *Index) HasSegments(ctx context.Context, planner *Planner, flowID string, tr timerange.TimeRange) (bool, error) {
	q, ok, err := planner.Plan(ctx, flowID, SegmentQueryParams{Timerange: &tr, Limit: 1})
	if err != nil || !ok {
		return false, err
	}
	page, err := ix.store.QuerySegments(ctx, &q)
	if err != nil {
		return false, err
	}
	return len(page.Segments) > 0, nil
}

func (ix *Index) AppendStorageIDs(ctx context.Context, flowID string, end int64, ids []string) error {
	return ix.store.AppendStorageIDs(ctx, flowID, end, ids)
}
