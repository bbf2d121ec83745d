// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"context"
	"errors"
	"time"

	"github.com/LeeDigitalWorks/tams/pkg/debug"
	"github.com/LeeDigitalWorks/tams/pkg/types"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics for database operations
var (
	dbQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tams",
			Subsystem: "db",
			Name:      "query_duration_seconds",
			Help:      "Duration of metadata database operations in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation", "status"},
	)

	dbQueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tams",
			Subsystem: "db",
			Name:      "queries_total",
			Help:      "Total number of metadata database operations",
		},
		[]string{"operation", "status"},
	)

	dbSegmentsReturned = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tams",
			Subsystem: "db",
			Name:      "segments_per_query",
			Help:      "Number of segments returned per segment query",
			Buckets:   []float64{0, 1, 5, 10, 30, 100, 300, 1000},
		},
	)

	dbConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tams",
			Subsystem: "db",
			Name:      "connections_active",
			Help:      "Number of active database connections",
		},
	)

	dbConnectionsIdle = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tams",
			Subsystem: "db",
			Name:      "connections_idle",
			Help:      "Number of idle database connections",
		},
	)
)

func init() {
	debug.Registry().MustRegister(
		dbQueryDuration,
		dbQueryTotal,
		dbSegmentsReturned,
		dbConnectionsActive,
		dbConnectionsIdle,
	)
}

// UpdateConnectionMetrics updates connection pool metrics from sql.DBStats
func UpdateConnectionMetrics(inUse, idle int) {
	dbConnectionsActive.Set(float64(inUse))
	dbConnectionsIdle.Set(float64(idle))
}

// recordMetric records timing and status for an operation. Not-found
// results are expected outcomes and are counted separately from errors.
func recordMetric(operation string, start time.Time, err error) {
	duration := time.Since(start).Seconds()
	status := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrSegmentNotFound), errors.Is(err, ErrFlowNotFound), errors.Is(err, ErrDeleteRequestNotFound):
		status = "not_found"
	default:
		status = "error"
	}
	dbQueryDuration.WithLabelValues(operation, status).Observe(duration)
	dbQueryTotal.WithLabelValues(operation, status).Inc()
}

// MetricsDB wraps a DB implementation and adds metrics instrumentation
type MetricsDB struct {
	db DB
}

func NewMetricsDB(db DB) *MetricsDB {
	return &MetricsDB{db: db}
}

// Unwrap returns the underlying DB implementation
func (m *MetricsDB) Unwrap() DB {
	return m.db
}

func (m *MetricsDB) Close() error {
	return m.db.Close()
}

func (m *MetricsDB) Migrate(ctx context.Context) error {
	start := time.Now()
	err := m.db.Migrate(ctx)
	recordMetric("migrate", start, err)
	return err
}

func (m *MetricsDB) PutSegment(ctx context.Context, seg *types.Segment) error {
	start := time.Now()
	err := m.db.PutSegment(ctx, seg)
	recordMetric("put_segment", start, err)
	return err
}

func (m *MetricsDB) GetSegment(ctx context.Context, flowID string, end int64) (*types.Segment, error) {
	start := time.Now()
	seg, err := m.db.GetSegment(ctx, flowID, end)
	recordMetric("get_segment", start, err)
	return seg, err
}

func (m *MetricsDB) DeleteSegment(ctx context.Context, flowID string, end int64) (*types.Segment, error) {
	start := time.Now()
	seg, err := m.db.DeleteSegment(ctx, flowID, end)
	recordMetric("delete_segment", start, err)
	return seg, err
}

func (m *MetricsDB) QuerySegments(ctx context.Context, q *SegmentQuery) (*SegmentPage, error) {
	start := time.Now()
	page, err := m.db.QuerySegments(ctx, q)
	recordMetric("query_segments", start, err)
	if err == nil {
		dbSegmentsReturned.Observe(float64(len(page.Segments)))
	}
	return page, err
}

func (m *MetricsDB) AppendStorageIDs(ctx context.Context, flowID string, end int64, ids []string) error {
	start := time.Now()
	err := m.db.AppendStorageIDs(ctx, flowID, end, ids)
	recordMetric("append_storage_ids", start, err)
	return err
}

func (m *MetricsDB) CountObjectReferences(ctx context.Context, objectID string) (int, error) {
	start := time.Now()
	n, err := m.db.CountObjectReferences(ctx, objectID)
	recordMetric("count_object_references", start, err)
	return n, err
}

func (m *MetricsDB) PutFlow(ctx context.Context, flow *types.Flow) error {
	start := time.Now()
	err := m.db.PutFlow(ctx, flow)
	recordMetric("put_flow", start, err)
	return err
}

func (m *MetricsDB) GetFlow(ctx context.Context, id string) (*types.Flow, error) {
	start := time.Now()
	flow, err := m.db.GetFlow(ctx, id)
	recordMetric("get_flow", start, err)
	return flow, err
}

func (m *MetricsDB) DeleteFlow(ctx context.Context, id string) error {
	start := time.Now()
	err := m.db.DeleteFlow(ctx, id)
	recordMetric("delete_flow", start, err)
	return err
}

func (m *MetricsDB) TouchSegmentsUpdated(ctx context.Context, id string, at time.Time) error {
	start := time.Now()
	err := m.db.TouchSegmentsUpdated(ctx, id, at)
	recordMetric("touch_segments_updated", start, err)
	return err
}

func (m *MetricsDB) PutDeleteRequest(ctx context.Context, req *types.DeleteRequest) error {
	start := time.Now()
	err := m.db.PutDeleteRequest(ctx, req)
	recordMetric("put_delete_request", start, err)
	return err
}

func (m *MetricsDB) GetDeleteRequest(ctx context.Context, id string) (*types.DeleteRequest, error) {
	start := time.Now()
	req, err := m.db.GetDeleteRequest(ctx, id)
	recordMetric("get_delete_request", start, err)
	return req, err
}

func (m *MetricsDB) ListDeleteRequests(ctx context.Context, flowID string) ([]*types.DeleteRequest, error) {
	start := time.Now()
	reqs, err := m.db.ListDeleteRequests(ctx, flowID)
	recordMetric("list_delete_requests", start, err)
	return reqs, err
}

func (m *MetricsDB) DeleteDeleteRequest(ctx context.Context, id string) error {
	start := time.Now()
	err := m.db.DeleteDeleteRequest(ctx, id)
	recordMetric("delete_delete_request", start, err)
	return err
}

var _ DB = (*MetricsDB)(nil)
