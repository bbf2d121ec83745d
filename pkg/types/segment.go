// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"errors"
	"fmt"

	"github.com/LeeDigitalWorks/tams/pkg/timerange"
)

var (
	ErrEmptyTimerange     = errors.New("segment timerange is empty")
	ErrUnboundedTimerange = errors.New("segment timerange must be bounded")
)

// Segment is one interval of a flow's timeline referencing one media object.
//
// TimerangeStart and TimerangeEnd are derived from Timerange as closed integer
// nanosecond keys and are what the index orders and compares on. They are not
// part of the JSON document; stores persist them as separate columns.
type Segment struct {
	FlowID    string              `json:"-"`
	ObjectID  string              `json:"object_id"`
	Timerange timerange.TimeRange `json:"timerange"`

	TsOffset      string `json:"ts_offset,omitempty"`
	LastDuration  string `json:"last_duration,omitempty"`
	SampleOffset  *int64 `json:"sample_offset,omitempty"`
	SampleCount   *int64 `json:"sample_count,omitempty"`
	KeyFrameCount *int64 `json:"key_frame_count,omitempty"`

	// Backends the object has been replicated to. Appended, never rewritten.
	StorageIDs []string `json:"storage_ids,omitempty"`

	TimerangeStart int64 `json:"-"`
	TimerangeEnd   int64 `json:"-"`
}

// SegmentKey is the identity of a segment within its flow and doubles as the
// pagination cursor.
type SegmentKey struct {
	FlowID       string `json:"flow_id"`
	TimerangeEnd int64  `json:"timerange_end"`
}

// NewSegment builds a segment and derives its integer keys.
func NewSegment(flowID, objectID string, tr timerange.TimeRange) (*Segment, error) {
	seg := &Segment{
		FlowID:    flowID,
		ObjectID:  objectID,
		Timerange: tr,
	}
	if err := seg.DeriveKeys(); err != nil {
		return nil, err
	}
	return seg, nil
}

// DeriveKeys recomputes TimerangeStart/TimerangeEnd from Timerange.
func (s *Segment) DeriveKeys() error {
	if s.Timerange.IsEmpty() {
		return ErrEmptyTimerange
	}
	if !s.Timerange.Bounded() {
		return fmt.Errorf("%w: %s", ErrUnboundedTimerange, s.Timerange)
	}
	start, err := s.Timerange.StartNanosec()
	if err != nil {
		return err
	}
	end, err := s.Timerange.EndNanosec()
	if err != nil {
		return err
	}
	s.TimerangeStart = start
	s.TimerangeEnd = end
	return nil
}

func (s *Segment) Key() SegmentKey {
	return SegmentKey{FlowID: s.FlowID, TimerangeEnd: s.TimerangeEnd}
}

// Clone returns a deep copy so stores never hand out shared state.
func (s *Segment) Clone() *Segment {
	if s == nil {
		return nil
	}
	c := *s
	c.Timerange = timerange.New(s.Timerange.Start, s.Timerange.End, s.Timerange.IncludesStart, s.Timerange.IncludesEnd)
	if s.StorageIDs != nil {
		c.StorageIDs = append([]string(nil), s.StorageIDs...)
	}
	c.SampleOffset = cloneInt64(s.SampleOffset)
	c.SampleCount = cloneInt64(s.SampleCount)
	c.KeyFrameCount = cloneInt64(s.KeyFrameCount)
	return &c
}

func cloneInt64(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
