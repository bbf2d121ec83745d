// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"time"

	"github.com/LeeDigitalWorks/tams/pkg/timerange"
)

// DeleteRequestStatus tracks a bulk delete through its lifecycle:
// created -> started -> done | error.
type DeleteRequestStatus string

const (
	DeleteStatusCreated DeleteRequestStatus = "created"
	DeleteStatusStarted DeleteRequestStatus = "started"
	DeleteStatusDone    DeleteRequestStatus = "done"
	DeleteStatusError   DeleteRequestStatus = "error"
)

// DeleteRequest is the checkpoint record of an asynchronous segment sweep.
// TimerangeToDelete never changes; TimerangeRemaining shrinks as batches
// are processed and becomes "()" once the sweep is done.
type DeleteRequest struct {
	ID                 string              `json:"id"`
	FlowID             string              `json:"flow_id"`
	DeleteFlow         bool                `json:"delete_flow"`
	TimerangeToDelete  timerange.TimeRange `json:"timerange_to_delete"`
	TimerangeRemaining timerange.TimeRange `json:"timerange_remaining"`
	Status             DeleteRequestStatus `json:"status"`
	Error              *DeleteError        `json:"error,omitempty"`
	CreatedBy          string              `json:"created_by,omitempty"`
	Created            time.Time           `json:"created"`
	Updated            time.Time           `json:"updated"`
}

// DeleteError is the terminal failure recorded on a delete request.
type DeleteError struct {
	Type      string    `json:"type"`
	Summary   string    `json:"summary"`
	Traceback []string  `json:"traceback"`
	Time      time.Time `json:"time"`
}

// Terminal reports whether the request has reached done or error.
func (r *DeleteRequest) Terminal() bool {
	return r.Status == DeleteStatusDone || r.Status == DeleteStatusError
}

func (r *DeleteRequest) Clone() *DeleteRequest {
	if r == nil {
		return nil
	}
	c := *r
	c.TimerangeToDelete = cloneRange(r.TimerangeToDelete)
	c.TimerangeRemaining = cloneRange(r.TimerangeRemaining)
	if r.Error != nil {
		e := *r.Error
		e.Traceback = append([]string(nil), r.Error.Traceback...)
		c.Error = &e
	}
	return &c
}

func cloneRange(r timerange.TimeRange) timerange.TimeRange {
	return timerange.New(r.Start, r.End, r.IncludesStart, r.IncludesEnd)
}
