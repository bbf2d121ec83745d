// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package segments

import (
	"context"
	"net/http"
	"strconv"

	"github.com/LeeDigitalWorks/tams/pkg/timerange"
	"github.com/LeeDigitalWorks/tams/pkg/types"
)

// Paging headers returned alongside a segment listing.
const (
	HeaderPagingCount        = "X-Paging-Count"
	HeaderPagingTimerange    = "X-Paging-Timerange"
	HeaderPagingReverseOrder = "X-Paging-Reverse-Order"
	HeaderPagingNextKey      = "X-Paging-NextKey"
	HeaderPagingLimit        = "X-Paging-Limit"
)

type ListResult struct {
	Segments []*types.Segment
	Count    int
	// Timerange spans the first and last segment of the page.
	Timerange timerange.TimeRange
	Reverse   bool
	// NextPage is empty on the last page.
	NextPage string
	Limit    int
}

func (r *ListResult) Headers() http.Header {
	h := http.Header{}
	h.Set(HeaderPagingCount, strconv.Itoa(r.Count))
	h.Set(HeaderPagingTimerange, r.Timerange.String())
	h.Set(HeaderPagingReverseOrder, strconv.FormatBool(r.Reverse))
	h.Set(HeaderPagingLimit, strconv.Itoa(r.Limit))
	if r.NextPage != "" {
		h.Set(HeaderPagingNextKey, r.NextPage)
	}
	return h
}

// List returns one page of the flow's segments matching params.
func (ix *Index) List(ctx context.Context, planner *Planner, flowID string, params SegmentQueryParams) (*ListResult, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	params.Limit = ClampLimit(params.Limit)

	res := &ListResult{
		Segments:  []*types.Segment{},
		Timerange: timerange.Never(),
		Reverse:   params.ReverseOrder,
		Limit:     params.Limit,
	}

	q, ok, err := planner.Plan(ctx, flowID, params)
	if err != nil {
		return nil, err
	}
	if !ok {
		return res, nil
	}

	page, err := ix.store.QuerySegments(ctx, &q)
	if err != nil {
		return nil, err
	}

	res.Segments = page.Segments
	res.Count = len(page.Segments)
	if page.LastEvaluatedKey != nil {
		res.NextPage = EncodePageToken(*page.LastEvaluatedKey)
	}
	switch n := len(page.Segments); n {
	case 0:
	case 1:
		res.Timerange = page.Segments[0].Timerange
	default:
		res.Timerange = page.Segments[0].Timerange.ExtendToEncompass(page.Segments[n-1].Timerange)
	}
	return res, nil
}
