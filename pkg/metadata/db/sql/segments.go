// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package sql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/LeeDigitalWorks/tams/pkg/metadata/db"
	"github.com/LeeDigitalWorks/tams/pkg/types"
)

const segmentColumns = "flow_id, timerange_end, timerange_start, object_id, doc"

func scanSegment(row scanner) (*types.Segment, error) {
	var (
		seg types.Segment
		doc string
	)
	if err := row.Scan(&seg.FlowID, &seg.TimerangeEnd, &seg.TimerangeStart, &seg.ObjectID, &doc); err != nil {
		return nil, err
	}
	flowID, end, start, objectID := seg.FlowID, seg.TimerangeEnd, seg.TimerangeStart, seg.ObjectID
	if err := json.Unmarshal([]byte(doc), &seg); err != nil {
		return nil, fmt.Errorf("decode segment %s/%d: %w", flowID, end, err)
	}
	// Columns are authoritative for the keys.
	seg.FlowID, seg.TimerangeEnd, seg.TimerangeStart, seg.ObjectID = flowID, end, start, objectID
	return &seg, nil
}

func putSegment(ctx context.Context, q Querier, seg *types.Segment) error {
	doc, err := json.Marshal(seg)
	if err != nil {
		return fmt.Errorf("encode segment: %w", err)
	}
	query := "INSERT INTO segments (" + segmentColumns + ") VALUES ($1, $2, $3, $4, $5)" +
		q.Dialect().UpsertSuffix("flow_id, timerange_end", []string{"timerange_start", "object_id", "doc"})
	_, err = q.Exec(ctx, query, seg.FlowID, seg.TimerangeEnd, seg.TimerangeStart, seg.ObjectID, string(doc))
	return err
}

func (s *Store) PutSegment(ctx context.Context, seg *types.Segment) error {
	if err := putSegment(ctx, s, seg); err != nil {
		return fmt.Errorf("put segment: %w", err)
	}
	return nil
}

func (s *Store) GetSegment(ctx context.Context, flowID string, end int64) (*types.Segment, error) {
	row := s.QueryRow(ctx, "SELECT "+segmentColumns+" FROM segments WHERE flow_id = $1 AND timerange_end = $2", flowID, end)
	seg, err := scanSegment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, db.ErrSegmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get segment: %w", err)
	}
	return seg, nil
}

// DeleteSegment locks the row, reads it and deletes it in one transaction so
// the returned segment is exactly the row removed.
func (s *Store) DeleteSegment(ctx context.Context, flowID string, end int64) (*types.Segment, error) {
	var removed *types.Segment
	err := s.WithTx(ctx, func(q Querier) error {
		row := q.QueryRow(ctx, "SELECT "+segmentColumns+" FROM segments WHERE flow_id = $1 AND timerange_end = $2 FOR UPDATE", flowID, end)
		seg, err := scanSegment(row)
		if errors.Is(err, sql.ErrNoRows) {
			return db.ErrSegmentNotFound
		}
		if err != nil {
			return err
		}
		res, err := q.Exec(ctx, "DELETE FROM segments WHERE flow_id = $1 AND timerange_end = $2", flowID, end)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return db.ErrSegmentNotFound
		}
		removed = seg
		return nil
	})
	if errors.Is(err, db.ErrSegmentNotFound) {
		return nil, db.ErrSegmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("delete segment: %w", err)
	}
	return removed, nil
}

// buildSegmentQuery renders q as SQL. It returns ok=false when the query
// can match nothing (an exclusive start key at the int64 limit).
func buildSegmentQuery(d Dialect, q *db.SegmentQuery) (string, []any, bool) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, strings.ReplaceAll(cond, "?", d.Placeholder(len(args))))
	}

	add("flow_id = ?", q.FlowID)
	if q.ObjectID != "" {
		add("object_id = ?", q.ObjectID)
	}
	if q.EndMin != nil {
		add("timerange_end >= ?", *q.EndMin)
	}
	if q.EndMax != nil {
		add("timerange_end <= ?", *q.EndMax)
	}
	if q.StartMax != nil {
		add("timerange_start <= ?", *q.StartMax)
	}
	if esk := q.ExclusiveStartKey; esk != nil {
		if q.Reverse {
			if esk.TimerangeEnd == math.MinInt64 {
				return "", nil, false
			}
			add("timerange_end < ?", esk.TimerangeEnd)
		} else {
			if esk.TimerangeEnd == math.MaxInt64 {
				return "", nil, false
			}
			add("timerange_end > ?", esk.TimerangeEnd)
		}
	}

	order := "ASC"
	if q.Reverse {
		order = "DESC"
	}

	query := fmt.Sprintf("SELECT %s FROM segments WHERE %s ORDER BY timerange_end %s",
		segmentColumns, strings.Join(where, " AND "), order)
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit+1)
	}
	return query, args, true
}

func (s *Store) QuerySegments(ctx context.Context, q *db.SegmentQuery) (*db.SegmentPage, error) {
	query, args, ok := buildSegmentQuery(s.dialect, q)
	if !ok {
		return &db.SegmentPage{}, nil
	}

	// Placeholders are already in dialect form.
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query segments: %w", err)
	}
	defer rows.Close()

	var segs []*types.Segment
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		segs = append(segs, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query segments: %w", err)
	}

	page := &db.SegmentPage{Segments: segs}
	if q.Limit > 0 && len(segs) > q.Limit {
		page.Segments = segs[:q.Limit]
		key := page.Segments[q.Limit-1].Key()
		page.LastEvaluatedKey = &key
	}
	return page, nil
}

func (s *Store) AppendStorageIDs(ctx context.Context, flowID string, end int64, ids []string) error {
	err := s.WithTx(ctx, func(q Querier) error {
		row := q.QueryRow(ctx, "SELECT "+segmentColumns+" FROM segments WHERE flow_id = $1 AND timerange_end = $2 FOR UPDATE", flowID, end)
		seg, err := scanSegment(row)
		if errors.Is(err, sql.ErrNoRows) {
			return db.ErrSegmentNotFound
		}
		if err != nil {
			return err
		}
		changed := false
		for _, id := range ids {
			if !slices.Contains(seg.StorageIDs, id) {
				seg.StorageIDs = append(seg.StorageIDs, id)
				changed = true
			}
		}
		if !changed {
			return nil
		}
		doc, err := json.Marshal(seg)
		if err != nil {
			return err
		}
		_, err = q.Exec(ctx, "UPDATE segments SET doc = $1 WHERE flow_id = $2 AND timerange_end = $3", string(doc), flowID, end)
		return err
	})
	if errors.Is(err, db.ErrSegmentNotFound) {
		return db.ErrSegmentNotFound
	}
	if err != nil {
		return fmt.Errorf("append storage ids: %w", err)
	}
	return nil
}

func (s *Store) CountObjectReferences(ctx context.Context, objectID string) (int, error) {
	var n int
	if err := s.QueryRow(ctx, "SELECT COUNT(*) FROM segments WHERE object_id = $1", objectID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count object references: %w", err)
	}
	return n, nil
}
