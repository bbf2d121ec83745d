// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package segments

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/LeeDigitalWorks/tams/pkg/metadata/db"
	"github.com/LeeDigitalWorks/tams/pkg/timerange"
	"github.com/LeeDigitalWorks/tams/pkg/types"
)

const (
	DefaultPageLimit = 30
	MaxPageLimit     = 300
)

// SegmentQueryParams is the validated filter of a segment listing or
// deletion.
type SegmentQueryParams struct {
	Timerange    *timerange.TimeRange
	ObjectID     string
	ReverseOrder bool
	// Page is an opaque continuation token from a previous ListResult.
	Page  string
	Limit int
}

// Validate checks the parameters that do not need the index.
func (p SegmentQueryParams) Validate() error {
	if p.Limit < 0 {
		return invalid("limit", "must not be negative", nil)
	}
	if p.Page != "" {
		if _, err := DecodePageToken(p.Page); err != nil {
			return err
		}
	}
	return nil
}

// EncodePageToken serializes a continuation key for use as a page token.
func EncodePageToken(key types.SegmentKey) string {
	b, _ := json.Marshal(key)
	return base64.RawURLEncoding.EncodeToString(b)
}

func DecodePageToken(token string) (types.SegmentKey, error) {
	var key types.SegmentKey
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return key, invalid("page", "malformed page token", err)
	}
	if err := json.Unmarshal(b, &key); err != nil {
		return key, invalid("page", "malformed page token", err)
	}
	if key.FlowID == "" {
		return key, invalid("page", "page token has no flow", nil)
	}
	return key, nil
}

// ClampLimit applies the default and maximum page sizes.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultPageLimit
	case limit > MaxPageLimit:
		return MaxPageLimit
	}
	return limit
}

// Planner turns SegmentQueryParams into index queries.
type Planner struct {
	index *Index
}

func NewPlanner(index *Index) *Planner {
	return &Planner{index: index}
}

// Plan builds the index query for params. ok is false when the timerange is
// empty and nothing can match. The limit is passed through unclamped when it
// is positive so internal callers can use batch sizes above MaxPageLimit;
// read APIs clamp before planning.
func (p *Planner) Plan(ctx context.Context, flowID string, params SegmentQueryParams) (db.SegmentQuery, bool, error) {
	q := db.SegmentQuery{
		FlowID:   flowID,
		ObjectID: params.ObjectID,
		Reverse:  params.ReverseOrder,
		Limit:    params.Limit,
	}
	if q.Limit <= 0 {
		q.Limit = DefaultPageLimit
	}

	if params.Page != "" {
		key, err := DecodePageToken(params.Page)
		if err != nil {
			return q, false, err
		}
		if key.FlowID != flowID {
			return q, false, invalid("page", "page token belongs to a different flow", nil)
		}
		q.ExclusiveStartKey = &key
	}

	tr := params.Timerange
	if tr == nil || tr.IsEternity() {
		return q, true, nil
	}
	if tr.IsEmpty() {
		return q, false, nil
	}

	if tr.Start != nil {
		start, err := tr.StartNanosec()
		if err != nil {
			return q, false, invalid("timerange", "start out of range", err)
		}
		q.EndMin = &start
	}

	if tr.End != nil {
		end, err := tr.EndNanosec()
		if err != nil {
			return q, false, invalid("timerange", "end out of range", err)
		}
		if tr.Start == nil && params.ObjectID == "" {
			anchor, err := p.index.ExactEndAtOrAfter(ctx, flowID, end)
			if err != nil {
				return q, false, err
			}
			q.EndMax = &anchor
		}
		q.StartMax = &end
	}

	return q, true, nil
}
