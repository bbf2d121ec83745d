// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package deletion

var (
	BatchesTotal         = batchesTotal
	SegmentsDeletedTotal = segmentsDeletedTotal
	SegmentsTrimmedTotal = segmentsTrimmedTotal
	InvocationsTotal     = invocationsTotal
)
