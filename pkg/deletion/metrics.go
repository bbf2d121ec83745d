// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package deletion

import (
	"github.com/LeeDigitalWorks/tams/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	batchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tams",
		Subsystem: "deletion",
		Name:      "batches_total",
		Help:      "Segment batches processed by the deletion engine",
	})

	segmentsDeletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tams",
		Subsystem: "deletion",
		Name:      "segments_deleted_total",
		Help:      "Segments removed by the deletion engine",
	})

	segmentsTrimmedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tams",
		Subsystem: "deletion",
		Name:      "segments_trimmed_total",
		Help:      "Boundary segments skipped because they extend outside the delete range",
	})

	invocationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tams",
		Subsystem: "deletion",
		Name:      "invocations_total",
		Help:      "Deletion engine invocations by outcome (done, checkpoint, error)",
	}, []string{"outcome"})

	invocationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tams",
		Subsystem: "deletion",
		Name:      "invocation_duration_seconds",
		Help:      "Wall time of a single deletion engine invocation",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
	})
)

func init() {
	debug.Registry().MustRegister(
		batchesTotal,
		segmentsDeletedTotal,
		segmentsTrimmedTotal,
		invocationsTotal,
		invocationDuration,
	)
}
