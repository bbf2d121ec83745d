// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package segments_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/LeeDigitalWorks/tams/pkg/metadata/db"
	"github.com/LeeDigitalWorks/tams/pkg/segments"
	"github.com/LeeDigitalWorks/tams/pkg/timerange"
	"github.com/LeeDigitalWorks/tams/pkg/types"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v int64) *int64 { return &v }

func trPtr(s string) *timerange.TimeRange {
	tr := timerange.MustParse(s)
	return &tr
}

const sec = int64(1_000_000_000)

func TestPlan(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ix, planner, _ := newIndex()
	insert(t, ix, "flow-a", "obj-1", "[4:0_6:0)")

	tests := []struct {
		name   string
		params segments.SegmentQueryParams
		want   db.SegmentQuery
		wantOK bool
	}{
		{
			name:   "no filter",
			params: segments.SegmentQueryParams{},
			want:   db.SegmentQuery{FlowID: "flow-a", Limit: segments.DefaultPageLimit},
			wantOK: true,
		},
		{
			name:   "eternity",
			params: segments.SegmentQueryParams{Timerange: trPtr("_"), Limit: 5},
			want:   db.SegmentQuery{FlowID: "flow-a", Limit: 5},
			wantOK: true,
		},
		{
			name:   "start only inclusive",
			params: segments.SegmentQueryParams{Timerange: trPtr("[2:0_"), Limit: 5},
			want:   db.SegmentQuery{FlowID: "flow-a", EndMin: ptr(2 * sec), Limit: 5},
			wantOK: true,
		},
		{
			name:   "start only exclusive",
			params: segments.SegmentQueryParams{Timerange: trPtr("(2:0_"), Limit: 5},
			want:   db.SegmentQuery{FlowID: "flow-a", EndMin: ptr(2*sec + 1), Limit: 5},
			wantOK: true,
		},
		{
			name:   "bounded",
			params: segments.SegmentQueryParams{Timerange: trPtr("[2:0_8:0)"), Limit: 5, ReverseOrder: true},
			want: db.SegmentQuery{
				FlowID: "flow-a", EndMin: ptr(2 * sec), StartMax: ptr(8*sec - 1),
				Limit: 5, Reverse: true,
			},
			wantOK: true,
		},
		{
			name:   "end only anchors on straddling segment",
			params: segments.SegmentQueryParams{Timerange: trPtr("_5:0)"), Limit: 5},
			want: db.SegmentQuery{
				FlowID: "flow-a", EndMax: ptr(6*sec - 1), StartMax: ptr(5*sec - 1), Limit: 5,
			},
			wantOK: true,
		},
		{
			name:   "end only in empty region",
			params: segments.SegmentQueryParams{Timerange: trPtr("_2:0)"), Limit: 5},
			want: db.SegmentQuery{
				FlowID: "flow-a", EndMax: ptr(2*sec - 1), StartMax: ptr(2*sec - 1), Limit: 5,
			},
			wantOK: true,
		},
		{
			name:   "object id with bounded range",
			params: segments.SegmentQueryParams{ObjectID: "obj-1", Timerange: trPtr("[2:0_8:0)"), Limit: 5},
			want: db.SegmentQuery{
				FlowID: "flow-a", ObjectID: "obj-1", EndMin: ptr(2 * sec), StartMax: ptr(8*sec - 1), Limit: 5,
			},
			wantOK: true,
		},
		{
			name:   "object id with end only skips anchoring",
			params: segments.SegmentQueryParams{ObjectID: "obj-1", Timerange: trPtr("_5:0)"), Limit: 5},
			want: db.SegmentQuery{
				FlowID: "flow-a", ObjectID: "obj-1", StartMax: ptr(5*sec - 1), Limit: 5,
			},
			wantOK: true,
		},
		{
			name:   "empty range",
			params: segments.SegmentQueryParams{Timerange: trPtr("()")},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := planner.Plan(ctx, "flow-a", tt.params)
			require.NoError(t, err)
			require.Equal(t, tt.wantOK, ok)
			if !ok {
				return
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Plan() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPlan_PageToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	_, planner, _ := newIndex()

	token := segments.EncodePageToken(types.SegmentKey{FlowID: "flow-a", TimerangeEnd: 42})
	q, ok, err := planner.Plan(ctx, "flow-a", segments.SegmentQueryParams{Page: token})
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, q.ExclusiveStartKey)
	assert.Equal(t, int64(42), q.ExclusiveStartKey.TimerangeEnd)

	_, _, err = planner.Plan(ctx, "flow-b", segments.SegmentQueryParams{Page: token})
	assert.ErrorIs(t, err, segments.ErrValidation)

	_, _, err = planner.Plan(ctx, "flow-a", segments.SegmentQueryParams{Page: "!!not-base64"})
	assert.ErrorIs(t, err, segments.ErrValidation)
}

func TestClampLimit(t *testing.T) {
	t.Parallel()

	assert.Equal(t, segments.DefaultPageLimit, segments.ClampLimit(0))
	assert.Equal(t, segments.DefaultPageLimit, segments.ClampLimit(-3))
	assert.Equal(t, 1, segments.ClampLimit(1))
	assert.Equal(t, segments.MaxPageLimit, segments.ClampLimit(segments.MaxPageLimit+1))
}

func TestList_PaginatesThirtySegments(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ix, planner, _ := newIndex()

	for i := range 30 {
		insert(t, ix, "flow-a", fmt.Sprintf("obj-%d", i), fmt.Sprintf("[%d:0_%d:0)", i, i+1))
	}

	for _, reverse := range []bool{false, true} {
		t.Run(fmt.Sprintf("reverse=%t", reverse), func(t *testing.T) {
			params := segments.SegmentQueryParams{Limit: 2, ReverseOrder: reverse}
			var seen []string
			pages := 0
			for {
				res, err := ix.List(ctx, planner, "flow-a", params)
				require.NoError(t, err)
				pages++
				assert.Equal(t, 2, res.Count)
				for _, s := range res.Segments {
					seen = append(seen, s.ObjectID)
				}
				if res.NextPage == "" {
					break
				}
				params.Page = res.NextPage
			}

			assert.Equal(t, 15, pages)
			require.Len(t, seen, 30)
			for i, id := range seen {
				want := i
				if reverse {
					want = 29 - i
				}
				assert.Equal(t, fmt.Sprintf("obj-%d", want), id)
			}
		})
	}
}

func TestList_HeadersAndTimerange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ix, planner, _ := newIndex()

	insert(t, ix, "flow-a", "obj-1", "[0:0_1:0)")
	insert(t, ix, "flow-a", "obj-2", "[1:0_2:0)")
	insert(t, ix, "flow-a", "obj-3", "[2:0_3:0)")

	res, err := ix.List(ctx, planner, "flow-a", segments.SegmentQueryParams{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, "[0:0_2:0)", res.Timerange.String())

	h := res.Headers()
	assert.Equal(t, "2", h.Get(segments.HeaderPagingCount))
	assert.Equal(t, "[0:0_2:0)", h.Get(segments.HeaderPagingTimerange))
	assert.Equal(t, "false", h.Get(segments.HeaderPagingReverseOrder))
	assert.NotEmpty(t, h.Get(segments.HeaderPagingNextKey))

	res, err = ix.List(ctx, planner, "flow-a", segments.SegmentQueryParams{
		Timerange: trPtr("[2:0_3:0)"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, "[2:0_3:0)", res.Timerange.String())
	assert.Empty(t, res.Headers().Get(segments.HeaderPagingNextKey))

	res, err = ix.List(ctx, planner, "flow-a", segments.SegmentQueryParams{Timerange: trPtr("()")})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Count)
	assert.Equal(t, "()", res.Headers().Get(segments.HeaderPagingTimerange))
}

func TestList_InvalidLimit(t *testing.T) {
	t.Parallel()
	ix, planner, _ := newIndex()

	_, err := ix.List(context.Background(), planner, "flow-a", segments.SegmentQueryParams{Limit: -1})
	assert.ErrorIs(t, err, segments.ErrValidation)
}
