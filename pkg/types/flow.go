// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package types

import "time"

// Flow is a timeline of media essence belonging to a source. Only the
// properties the segment core reads or writes are modelled here.
type Flow struct {
	ID          string `json:"id"`
	SourceID    string `json:"source_id"`
	Label       string `json:"label,omitempty"`
	Description string `json:"description,omitempty"`
	Format      string `json:"format,omitempty"`
	Codec       string `json:"codec,omitempty"`

	// Container is the media container mime type; segments cannot be added
	// to a flow without one.
	Container string `json:"container,omitempty"`
	ReadOnly  bool   `json:"read_only,omitempty"`

	SegmentsUpdated *time.Time `json:"segments_updated,omitempty"`
	Created         time.Time  `json:"created"`
	Updated         time.Time  `json:"metadata_updated"`
}

func (f *Flow) Clone() *Flow {
	if f == nil {
		return nil
	}
	c := *f
	if f.SegmentsUpdated != nil {
		t := *f.SegmentsUpdated
		c.SegmentsUpdated = &t
	}
	return &c
}
