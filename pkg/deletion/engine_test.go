// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package deletion_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/LeeDigitalWorks/tams/pkg/deletion"
	"github.com/LeeDigitalWorks/tams/pkg/metadata/db"
	"github.com/LeeDigitalWorks/tams/pkg/metadata/db/memory"
	"github.com/LeeDigitalWorks/tams/pkg/segments"
	"github.com/LeeDigitalWorks/tams/pkg/timerange"
	"github.com/LeeDigitalWorks/tams/pkg/types"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingStore counts range queries and can fail point deletes.
type countingStore struct {
	*memory.DB

	mu        sync.Mutex
	queries   int
	failAfter int // fail DeleteSegment after this many successes; <0 disables
	deletes   int
}

func (s *countingStore) QuerySegments(ctx context.Context, q *db.SegmentQuery) (*db.SegmentPage, error) {
	s.mu.Lock()
	s.queries++
	s.mu.Unlock()
	return s.DB.QuerySegments(ctx, q)
}

func (s *countingStore) DeleteSegment(ctx context.Context, flowID string, end int64) (*types.Segment, error) {
	s.mu.Lock()
	if s.failAfter >= 0 && s.deletes >= s.failAfter {
		s.mu.Unlock()
		return nil, errors.New("storage unavailable")
	}
	s.deletes++
	s.mu.Unlock()
	return s.DB.DeleteSegment(ctx, flowID, end)
}

type recorder struct {
	dispatchErr error

	mu         sync.Mutex
	dispatched [][]string
	scheduled  []string
	deleted    []int
	flows      []string
}

func (r *recorder) Dispatch(ctx context.Context, ids []string) error {
	if r.dispatchErr != nil {
		return r.dispatchErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatched = append(r.dispatched, append([]string(nil), ids...))
	return nil
}

func (r *recorder) ScheduleContinuation(ctx context.Context, req *types.DeleteRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scheduled = append(r.scheduled, req.ID)
	return nil
}

func (r *recorder) SegmentsDeleted(ctx context.Context, flowID string, tr timerange.TimeRange, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, count)
}

func (r *recorder) FlowDeleted(ctx context.Context, flowID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flows = append(r.flows, flowID)
}

func (r *recorder) objectIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, b := range r.dispatched {
		out = append(out, b...)
	}
	return out
}

type fixture struct {
	store  *countingStore
	rec    *recorder
	engine *deletion.Engine
}

func newFixture(t *testing.T, cfg deletion.Config) *fixture {
	t.Helper()
	store := &countingStore{DB: memory.New(), failAfter: -1}
	ix := segments.NewIndex(store)
	rec := &recorder{}
	engine := deletion.NewEngine(deletion.Deps{
		Index:      ix,
		Planner:    segments.NewPlanner(ix),
		Flows:      store,
		Requests:   store,
		Dispatcher: rec,
		Scheduler:  rec,
		Notifier:   rec,
	}, cfg)
	require.NoError(t, store.PutFlow(context.Background(), &types.Flow{ID: "flow-a"}))
	return &fixture{store: store, rec: rec, engine: engine}
}

func (f *fixture) put(t *testing.T, objectID, tr string) {
	t.Helper()
	seg, err := types.NewSegment("flow-a", objectID, timerange.MustParse(tr))
	require.NoError(t, err)
	require.NoError(t, f.store.PutSegment(context.Background(), seg))
}

func newRequest(tr string) *types.DeleteRequest {
	r := timerange.MustParse(tr)
	return &types.DeleteRequest{
		ID:                 "req-1",
		FlowID:             "flow-a",
		TimerangeToDelete:  r,
		TimerangeRemaining: r,
		Status:             types.DeleteStatusCreated,
		Created:            time.Now(),
	}
}

func plenty() time.Duration { return time.Minute }

func TestRun_TrimsStraddlingSegments(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, deletion.DefaultConfig())

	f.put(t, "obj-1", "[4:0_6:0)")
	f.put(t, "obj-2", "[6:0_8:0)")
	f.put(t, "obj-3", "[8:0_10:500000000)")

	req := newRequest("[5:0_10:0)")
	res, err := f.engine.Run(ctx, req, plenty)
	require.NoError(t, err)

	assert.Equal(t, types.DeleteStatusDone, res.Status)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, "()", req.TimerangeRemaining.String())
	assert.Equal(t, 2, f.store.SegmentCount())
	assert.Equal(t, []string{"obj-2"}, f.rec.objectIDs())
	assert.Empty(t, f.rec.scheduled)

	_, err = f.store.GetSegment(ctx, "flow-a", 6*1_000_000_000-1)
	require.NoError(t, err)
	_, err = f.store.GetSegment(ctx, "flow-a", 8*1_000_000_000-1)
	assert.ErrorIs(t, err, db.ErrSegmentNotFound)

	stored, err := f.store.GetDeleteRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, types.DeleteStatusDone, stored.Status)

	flow, err := f.store.GetFlow(ctx, "flow-a")
	require.NoError(t, err)
	assert.NotNil(t, flow.SegmentsUpdated)
}

func TestRun_SingleStraddlingSegmentIsKept(t *testing.T) {
	t.Parallel()
	f := newFixture(t, deletion.DefaultConfig())

	f.put(t, "obj-1", "[4:0_6:0)")

	res, err := f.engine.Run(context.Background(), newRequest("[5:0_10:0)"), plenty)
	require.NoError(t, err)
	assert.Equal(t, types.DeleteStatusDone, res.Status)
	assert.Equal(t, 0, res.Deleted)
	assert.Equal(t, 1, f.store.SegmentCount())
	assert.Empty(t, f.rec.dispatched)
	assert.Empty(t, f.rec.deleted)
}

func TestRun_CheckpointsWhenBudgetLow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, deletion.DefaultConfig())

	for i := range 250 {
		f.put(t, fmt.Sprintf("obj-%d", i), fmt.Sprintf("[%d:0_%d:0)", i, i+1))
	}

	req := newRequest("[0:0_1000:0)")
	res, err := f.engine.Run(ctx, req, func() time.Duration { return 4000 * time.Millisecond })
	require.NoError(t, err)

	assert.True(t, res.Checkpointed)
	assert.Equal(t, types.DeleteStatusStarted, res.Status)
	assert.Equal(t, 1, res.Batches)
	assert.Equal(t, 100, res.Deleted)
	assert.Equal(t, 1, f.store.queries, "no second query after the budget check")
	assert.Equal(t, "[100:0_1000:0)", req.TimerangeRemaining.String())
	assert.Equal(t, []string{"req-1"}, f.rec.scheduled)

	stored, err := f.store.GetDeleteRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, types.DeleteStatusStarted, stored.Status)
	assert.Equal(t, "[100:0_1000:0)", stored.TimerangeRemaining.String())
	assert.Equal(t, "[0:0_1000:0)", stored.TimerangeToDelete.String())
}

func TestRun_ResumesFromCheckpoint(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, deletion.Config{BatchSize: 40})

	for i := range 250 {
		f.put(t, fmt.Sprintf("obj-%d", i), fmt.Sprintf("[%d:0_%d:0)", i, i+1))
	}

	req := newRequest("_")
	low := func() time.Duration { return time.Second }
	invocations := 0
	for !req.Terminal() {
		invocations++
		require.Less(t, invocations, 20)
		_, err := f.engine.Run(ctx, req, low)
		require.NoError(t, err)
	}

	assert.Equal(t, types.DeleteStatusDone, req.Status)
	assert.Equal(t, 0, f.store.SegmentCount())
	assert.Len(t, f.rec.scheduled, invocations-1)

	ids := f.rec.objectIDs()
	assert.Len(t, ids, 250)
	uniq := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		uniq[id] = struct{}{}
	}
	assert.Len(t, uniq, 250)
}

func TestRun_EndOnlyRange(t *testing.T) {
	t.Parallel()
	f := newFixture(t, deletion.DefaultConfig())

	f.put(t, "obj-1", "[0:0_2:0)")
	f.put(t, "obj-2", "[2:0_4:0)")
	f.put(t, "obj-3", "[4:0_6:0)")

	res, err := f.engine.Run(context.Background(), newRequest("_5:0)"), plenty)
	require.NoError(t, err)
	assert.Equal(t, types.DeleteStatusDone, res.Status)
	assert.Equal(t, 2, res.Deleted)
	assert.ElementsMatch(t, []string{"obj-1", "obj-2"}, f.rec.objectIDs())
}

func TestRun_SharedObjectDispatchedOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t, deletion.DefaultConfig())

	f.put(t, "shared", "[0:0_1:0)")
	f.put(t, "shared", "[1:0_2:0)")
	f.put(t, "other", "[2:0_3:0)")

	res, err := f.engine.Run(context.Background(), newRequest("_"), plenty)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Deleted)
	assert.Equal(t, 2, res.ObjectIDs)
	assert.Equal(t, []string{"shared", "other"}, f.rec.objectIDs())
}

func TestRun_StorageErrorIsTerminal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, deletion.DefaultConfig())
	f.store.failAfter = 1

	f.put(t, "obj-1", "[0:0_1:0)")
	f.put(t, "obj-2", "[1:0_2:0)")
	f.put(t, "obj-3", "[2:0_3:0)")

	req := newRequest("_")
	res, err := f.engine.Run(ctx, req, plenty)
	require.NoError(t, err)

	assert.Equal(t, types.DeleteStatusError, res.Status)
	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, 2, f.store.SegmentCount(), "no further items attempted after the failure")
	assert.Equal(t, []string{"obj-1"}, f.rec.objectIDs(), "removed objects are still dispatched")
	assert.Empty(t, f.rec.scheduled)

	stored, err := f.store.GetDeleteRequest(ctx, "req-1")
	require.NoError(t, err)
	require.NotNil(t, stored.Error)
	assert.Contains(t, stored.Error.Summary, "storage unavailable")
	assert.NotEmpty(t, stored.Error.Type)
	assert.NotEmpty(t, stored.Error.Traceback)
	assert.False(t, stored.Error.Time.IsZero())
	assert.Equal(t, "_", stored.TimerangeRemaining.String())

	// Terminal requests are not advanced again.
	res, err = f.engine.Run(ctx, stored, plenty)
	require.NoError(t, err)
	assert.Equal(t, types.DeleteStatusError, res.Status)
	assert.Equal(t, 0, res.Batches)
}

func TestRun_DispatchErrorIsTerminal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, deletion.DefaultConfig())
	f.rec.dispatchErr = errors.New("queue unavailable")

	f.put(t, "obj-1", "[0:0_1:0)")
	f.put(t, "obj-2", "[1:0_2:0)")

	req := newRequest("_")
	res, err := f.engine.Run(ctx, req, plenty)
	require.NoError(t, err)
	assert.Equal(t, types.DeleteStatusError, res.Status)
	assert.Equal(t, 2, res.Deleted)
	assert.Empty(t, f.rec.scheduled)

	stored, err := f.store.GetDeleteRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, types.DeleteStatusError, stored.Status)
	require.NotNil(t, stored.Error)
	assert.Contains(t, stored.Error.Summary, "dispatch object cleanup")
	assert.Contains(t, stored.Error.Summary, "queue unavailable")
	assert.NotEmpty(t, stored.Error.Traceback)
	assert.Equal(t, "_", stored.TimerangeRemaining.String())
}

// Not parallel: the counters are process wide, so deltas are only stable
// while no other engine runs.
func TestRun_Metrics(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, deletion.DefaultConfig())
	f.put(t, "obj-1", "[4:0_6:0)")
	f.put(t, "obj-2", "[6:0_8:0)")
	f.put(t, "obj-3", "[8:0_10:500000000)")

	batches := testutil.ToFloat64(deletion.BatchesTotal)
	deleted := testutil.ToFloat64(deletion.SegmentsDeletedTotal)
	trimmed := testutil.ToFloat64(deletion.SegmentsTrimmedTotal)
	done := testutil.ToFloat64(deletion.InvocationsTotal.WithLabelValues("done"))
	failed := testutil.ToFloat64(deletion.InvocationsTotal.WithLabelValues("error"))

	_, err := f.engine.Run(ctx, newRequest("[5:0_10:0)"), plenty)
	require.NoError(t, err)

	assert.Equal(t, batches+1, testutil.ToFloat64(deletion.BatchesTotal))
	assert.Equal(t, deleted+1, testutil.ToFloat64(deletion.SegmentsDeletedTotal))
	assert.Equal(t, trimmed+2, testutil.ToFloat64(deletion.SegmentsTrimmedTotal))
	assert.Equal(t, done+1, testutil.ToFloat64(deletion.InvocationsTotal.WithLabelValues("done")))

	small := newFixture(t, deletion.Config{BatchSize: 1})
	small.put(t, "obj-1", "[0:0_1:0)")
	small.put(t, "obj-2", "[1:0_2:0)")
	checkpoints := testutil.ToFloat64(deletion.InvocationsTotal.WithLabelValues("checkpoint"))
	res, err := small.engine.Run(ctx, newRequest("_"), func() time.Duration { return 0 })
	require.NoError(t, err)
	assert.True(t, res.Checkpointed)
	assert.Equal(t, checkpoints+1, testutil.ToFloat64(deletion.InvocationsTotal.WithLabelValues("checkpoint")))

	f.store.failAfter = 0
	res, err = f.engine.Run(ctx, newRequest("_"), plenty)
	require.NoError(t, err)
	assert.Equal(t, types.DeleteStatusError, res.Status)
	assert.Equal(t, failed+1, testutil.ToFloat64(deletion.InvocationsTotal.WithLabelValues("error")))
}

func TestRun_DeleteFlow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, deletion.DefaultConfig())

	f.put(t, "obj-1", "[0:0_1:0)")

	req := newRequest("_")
	req.DeleteFlow = true
	res, err := f.engine.Run(ctx, req, plenty)
	require.NoError(t, err)
	assert.Equal(t, types.DeleteStatusDone, res.Status)

	_, err = f.store.GetFlow(ctx, "flow-a")
	assert.ErrorIs(t, err, db.ErrFlowNotFound)
	assert.Equal(t, []string{"flow-a"}, f.rec.flows)
	assert.Equal(t, []int{1}, f.rec.deleted)
}

func TestRun_FlowAlreadyGone(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, deletion.DefaultConfig())
	f.put(t, "obj-1", "[0:0_1:0)")
	require.NoError(t, f.store.DeleteFlow(ctx, "flow-a"))

	res, err := f.engine.Run(ctx, newRequest("_"), plenty)
	require.NoError(t, err)
	assert.Equal(t, types.DeleteStatusDone, res.Status)
	assert.Equal(t, 1, res.Deleted)
}

func TestTrimBoundaries(t *testing.T) {
	t.Parallel()

	seg := func(tr string) *types.Segment {
		s, err := types.NewSegment("f", "o", timerange.MustParse(tr))
		require.NoError(t, err)
		return s
	}
	within := timerange.MustParse("[5:0_10:0)")

	tests := []struct {
		name  string
		items []*types.Segment
		want  int
	}{
		{"empty", nil, 0},
		{"single contained", []*types.Segment{seg("[6:0_7:0)")}, 1},
		{"single straddling", []*types.Segment{seg("[4:0_6:0)")}, 0},
		{"both ends straddle", []*types.Segment{seg("[4:0_6:0)"), seg("[6:0_8:0)"), seg("[8:0_11:0)")}, 1},
		{"two straddling", []*types.Segment{seg("[4:0_6:0)"), seg("[9:0_11:0)")}, 0},
		{"all contained", []*types.Segment{seg("[5:0_6:0)"), seg("[6:0_10:0)")}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, deletion.TrimBoundaries(tt.items, within), tt.want)
		})
	}
}
