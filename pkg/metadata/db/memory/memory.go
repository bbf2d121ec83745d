// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package memory provides an in-memory implementation of db.DB for testing
// and single-process runs. Segments live in two B-trees: the primary one
// ordered by (flow_id, timerange_end) and an object index ordered by
// (object_id, flow_id, timerange_end).
package memory

import (
	"cmp"
	"context"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/tams/pkg/metadata/db"
	"github.com/LeeDigitalWorks/tams/pkg/types"

	"github.com/google/btree"
)

const btreeDegree = 32

// DB is an in-memory database implementation.
type DB struct {
	mu sync.RWMutex

	segments *btree.BTreeG[*types.Segment]
	byObject *btree.BTreeG[*types.Segment]

	flows    map[string]*types.Flow
	requests map[string]*types.DeleteRequest
}

func New() *DB {
	return &DB{
		segments: btree.NewG(btreeDegree, lessPrimary),
		byObject: btree.NewG(btreeDegree, lessObject),
		flows:    make(map[string]*types.Flow),
		requests: make(map[string]*types.DeleteRequest),
	}
}

func lessPrimary(a, b *types.Segment) bool {
	if c := cmp.Compare(a.FlowID, b.FlowID); c != 0 {
		return c < 0
	}
	return a.TimerangeEnd < b.TimerangeEnd
}

func lessObject(a, b *types.Segment) bool {
	if c := cmp.Compare(a.ObjectID, b.ObjectID); c != 0 {
		return c < 0
	}
	return lessPrimary(a, b)
}

func pivot(flowID, objectID string, end int64) *types.Segment {
	return &types.Segment{FlowID: flowID, ObjectID: objectID, TimerangeEnd: end}
}

func (d *DB) Migrate(ctx context.Context) error { return nil }
func (d *DB) Close() error                      { return nil }

// ============================================================================
// Segment Operations
// ============================================================================

func (d *DB) PutSegment(ctx context.Context, seg *types.Segment) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	stored := seg.Clone()
	if old, ok := d.segments.ReplaceOrInsert(stored); ok {
		d.byObject.Delete(old)
	}
	d.byObject.ReplaceOrInsert(stored)
	return nil
}

func (d *DB) GetSegment(ctx context.Context, flowID string, end int64) (*types.Segment, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	seg, ok := d.segments.Get(pivot(flowID, "", end))
	if !ok {
		return nil, db.ErrSegmentNotFound
	}
	return seg.Clone(), nil
}

func (d *DB) DeleteSegment(ctx context.Context, flowID string, end int64) (*types.Segment, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	seg, ok := d.segments.Delete(pivot(flowID, "", end))
	if !ok {
		return nil, db.ErrSegmentNotFound
	}
	d.byObject.Delete(seg)
	return seg.Clone(), nil
}

func (d *DB) QuerySegments(ctx context.Context, q *db.SegmentQuery) (*db.SegmentPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	limit := q.Limit
	if limit <= 0 {
		limit = math.MaxInt
	}

	tree := d.segments
	if q.ObjectID != "" {
		tree = d.byObject
	}

	var matched []*types.Segment
	visit := func(seg *types.Segment) bool {
		if seg.FlowID != q.FlowID || (q.ObjectID != "" && seg.ObjectID != q.ObjectID) {
			return false
		}
		if q.Reverse {
			if q.EndMin != nil && seg.TimerangeEnd < *q.EndMin {
				return false
			}
		} else if q.EndMax != nil && seg.TimerangeEnd > *q.EndMax {
			return false
		}
		if q.Matches(seg) {
			matched = append(matched, seg)
		}
		return len(matched) <= limit
	}

	if q.Reverse {
		hi := int64(math.MaxInt64)
		if q.EndMax != nil {
			hi = *q.EndMax
		}
		if esk := q.ExclusiveStartKey; esk != nil {
			if esk.TimerangeEnd == math.MinInt64 {
				return &db.SegmentPage{}, nil
			}
			hi = min(hi, esk.TimerangeEnd-1)
		}
		tree.DescendLessOrEqual(pivot(q.FlowID, q.ObjectID, hi), visit)
	} else {
		lo := int64(math.MinInt64)
		if q.EndMin != nil {
			lo = *q.EndMin
		}
		if esk := q.ExclusiveStartKey; esk != nil {
			if esk.TimerangeEnd == math.MaxInt64 {
				return &db.SegmentPage{}, nil
			}
			lo = max(lo, esk.TimerangeEnd+1)
		}
		tree.AscendGreaterOrEqual(pivot(q.FlowID, q.ObjectID, lo), visit)
	}

	page := &db.SegmentPage{}
	if len(matched) > limit {
		matched = matched[:limit]
		key := matched[len(matched)-1].Key()
		page.LastEvaluatedKey = &key
	}
	page.Segments = make([]*types.Segment, len(matched))
	for i, seg := range matched {
		page.Segments[i] = seg.Clone()
	}
	return page, nil
}

func (d *DB) AppendStorageIDs(ctx context.Context, flowID string, end int64, ids []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	seg, ok := d.segments.Get(pivot(flowID, "", end))
	if !ok {
		return db.ErrSegmentNotFound
	}
	for _, id := range ids {
		if !slices.Contains(seg.StorageIDs, id) {
			seg.StorageIDs = append(seg.StorageIDs, id)
		}
	}
	return nil
}

func (d *DB) CountObjectReferences(ctx context.Context, objectID string) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n := 0
	d.byObject.AscendGreaterOrEqual(&types.Segment{ObjectID: objectID, TimerangeEnd: math.MinInt64}, func(seg *types.Segment) bool {
		if seg.ObjectID != objectID {
			return false
		}
		n++
		return true
	})
	return n, nil
}

// SegmentCount returns the number of stored segments across all flows.
func (d *DB) SegmentCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.segments.Len()
}

// ============================================================================
// Flow Operations
// ============================================================================

func (d *DB) PutFlow(ctx context.Context, flow *types.Flow) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flows[flow.ID] = flow.Clone()
	return nil
}

func (d *DB) GetFlow(ctx context.Context, id string) (*types.Flow, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	flow, ok := d.flows[id]
	if !ok {
		return nil, db.ErrFlowNotFound
	}
	return flow.Clone(), nil
}

func (d *DB) DeleteFlow(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.flows[id]; !ok {
		return db.ErrFlowNotFound
	}
	delete(d.flows, id)
	return nil
}

func (d *DB) TouchSegmentsUpdated(ctx context.Context, id string, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	flow, ok := d.flows[id]
	if !ok {
		return db.ErrFlowNotFound
	}
	t := at.UTC()
	flow.SegmentsUpdated = &t
	return nil
}

// ============================================================================
// Delete Request Operations
// ============================================================================

func (d *DB) PutDeleteRequest(ctx context.Context, req *types.DeleteRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests[req.ID] = req.Clone()
	return nil
}

func (d *DB) GetDeleteRequest(ctx context.Context, id string) (*types.DeleteRequest, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	req, ok := d.requests[id]
	if !ok {
		return nil, db.ErrDeleteRequestNotFound
	}
	return req.Clone(), nil
}

func (d *DB) ListDeleteRequests(ctx context.Context, flowID string) ([]*types.DeleteRequest, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*types.DeleteRequest, 0, len(d.requests))
	for _, req := range d.requests {
		if flowID != "" && req.FlowID != flowID {
			continue
		}
		out = append(out, req.Clone())
	}
	slices.SortFunc(out, func(a, b *types.DeleteRequest) int {
		if c := a.Created.Compare(b.Created); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (d *DB) DeleteDeleteRequest(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.requests[id]; !ok {
		return db.ErrDeleteRequestNotFound
	}
	delete(d.requests, id)
	return nil
}

var _ db.DB = (*DB)(nil)
