// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package segments

import (
	"errors"
	"fmt"

	"github.com/LeeDigitalWorks/tams/pkg/timerange"
)

var (
	ErrOverlap    = errors.New("segment timerange overlaps an existing segment")
	ErrValidation = errors.New("validation failed")
)

// OverlapError reports an insert rejected because the segment's timerange
// intersects a segment already stored in the flow.
type OverlapError struct {
	FlowID    string
	Timerange timerange.TimeRange
	Existing  timerange.TimeRange
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("flow %s: segment %s overlaps existing segment %s", e.FlowID, e.Timerange, e.Existing)
}

func (e *OverlapError) Unwrap() error { return ErrOverlap }

// ValidationError is a request that can never succeed as submitted.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	msg := e.Field + ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(field, reason string, err error) error {
	return &ValidationError{Field: field, Reason: reason, Err: err}
}
