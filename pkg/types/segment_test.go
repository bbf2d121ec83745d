// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package types_test

import (
	"encoding/json"
	"testing"

	"github.com/LeeDigitalWorks/tams/pkg/timerange"
	"github.com/LeeDigitalWorks/tams/pkg/types"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSegment_DerivesClosedKeys(t *testing.T) {
	t.Parallel()
	tests := []struct {
		tr         string
		start, end int64
	}{
		{tr: "[0:0_10:0)", start: 0, end: 9_999_999_999},
		{tr: "(0:0_10:0]", start: 1, end: 10_000_000_000},
		{tr: "[5:0]", start: 5_000_000_000, end: 5_000_000_000},
	}
	for _, tt := range tests {
		seg, err := types.NewSegment("flow-a", "obj", timerange.MustParse(tt.tr))
		require.NoError(t, err, tt.tr)
		assert.Equal(t, tt.start, seg.TimerangeStart, tt.tr)
		assert.Equal(t, tt.end, seg.TimerangeEnd, tt.tr)
		assert.Equal(t, types.SegmentKey{FlowID: "flow-a", TimerangeEnd: tt.end}, seg.Key())
	}
}

func TestNewSegment_Rejects(t *testing.T) {
	t.Parallel()
	_, err := types.NewSegment("flow-a", "obj", timerange.Never())
	assert.ErrorIs(t, err, types.ErrEmptyTimerange)

	_, err = types.NewSegment("flow-a", "obj", timerange.MustParse("[0:0_"))
	assert.ErrorIs(t, err, types.ErrUnboundedTimerange)
}

func TestSegment_CloneIsDeep(t *testing.T) {
	t.Parallel()
	count := int64(3)
	seg, err := types.NewSegment("flow-a", "obj", timerange.MustParse("[0:0_1:0)"))
	require.NoError(t, err)
	seg.StorageIDs = []string{"a"}
	seg.KeyFrameCount = &count

	c := seg.Clone()
	if diff := cmp.Diff(seg, c); diff != "" {
		t.Fatalf("clone differs (-want +got):\n%s", diff)
	}
	c.StorageIDs[0] = "b"
	*c.KeyFrameCount = 9
	assert.Equal(t, "a", seg.StorageIDs[0])
	assert.Equal(t, int64(3), *seg.KeyFrameCount)
}

func TestSegment_JSON(t *testing.T) {
	t.Parallel()
	seg, err := types.NewSegment("flow-a", "obj", timerange.MustParse("[0:0_1:0)"))
	require.NoError(t, err)

	b, err := json.Marshal(seg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"object_id":"obj","timerange":"[0:0_1:0)"}`, string(b))
}

func TestDeleteRequest_Terminal(t *testing.T) {
	t.Parallel()
	for status, want := range map[types.DeleteRequestStatus]bool{
		types.DeleteStatusCreated: false,
		types.DeleteStatusStarted: false,
		types.DeleteStatusDone:    true,
		types.DeleteStatusError:   true,
	} {
		r := &types.DeleteRequest{Status: status}
		assert.Equal(t, want, r.Terminal(), status)
	}
}
