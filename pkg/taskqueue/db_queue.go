// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/LeeDigitalWorks/tams/pkg/metadata/db"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	maxDeadlockRetries  = 3
	baseDeadlockBackoff = 10 * time.Millisecond
)

const taskColumns = `id, type, status, priority, payload, scheduled_at, started_at,
	completed_at, attempts, max_retries, retry_after, last_error,
	created_at, updated_at, heartbeat_at, flow_id, worker_id`

// DBQueue is a Queue stored in the metadata database's tasks table.
// Multiple workers share it safely through FOR UPDATE SKIP LOCKED.
type DBQueue struct {
	db                *sql.DB
	tableName         string
	visibilityTimeout time.Duration
	driver            db.Driver
}

type DBQueueConfig struct {
	DB *sql.DB
	// Driver selects placeholder style. Defaults to mysql.
	Driver    db.Driver
	TableName string
	// VisibilityTimeout is how long a running task may go without a
	// heartbeat before another worker reclaims it.
	VisibilityTimeout time.Duration
}

func NewDBQueue(cfg DBQueueConfig) (*DBQueue, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if cfg.TableName == "" {
		cfg.TableName = "tasks"
	}
	if cfg.VisibilityTimeout == 0 {
		cfg.VisibilityTimeout = DefaultVisibilityTimeout
	}
	switch cfg.Driver {
	case "":
		cfg.Driver = db.DriverMySQL
	case db.DriverMySQL, db.DriverPostgres:
	default:
		return nil, fmt.Errorf("task queue: unsupported driver %q", cfg.Driver)
	}

	return &DBQueue{
		db:                cfg.DB,
		tableName:         cfg.TableName,
		visibilityTimeout: cfg.VisibilityTimeout,
		driver:            cfg.Driver,
	}, nil
}

// rebind converts ? placeholders to $N for PostgreSQL.
func rebind(driver db.Driver, query string) string {
	if driver != db.DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (q *DBQueue) rebind(query string) string {
	return rebind(q.driver, query)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var task Task
	var startedAt, completedAt, retryAfter, heartbeatAt sql.NullTime
	var lastError, flowID, workerID sql.NullString

	err := row.Scan(
		&task.ID, &task.Type, &task.Status, &task.Priority, &task.Payload,
		&task.ScheduledAt, &startedAt, &completedAt, &task.Attempts,
		&task.MaxRetries, &retryAfter, &lastError, &task.CreatedAt,
		&task.UpdatedAt, &heartbeatAt, &flowID, &workerID,
	)
	if err != nil {
		return nil, err
	}

	if startedAt.Valid {
		task.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		task.CompletedAt = &completedAt.Time
	}
	if retryAfter.Valid {
		task.RetryAfter = retryAfter.Time
	}
	task.LastError = lastError.String
	task.FlowID = flowID.String
	task.WorkerID = workerID.String
	return &task, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (q *DBQueue) Enqueue(ctx context.Context, task *Task) error {
	now := time.Now()
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.Status == "" {
		task.Status = StatusPending
	}
	if task.MaxRetries == 0 {
		task.MaxRetries = DefaultMaxRetries
	}
	if task.ScheduledAt.IsZero() {
		task.ScheduledAt = now
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	query := q.rebind(fmt.Sprintf(`
		INSERT INTO %s (id, type, status, priority, payload, scheduled_at,
			attempts, max_retries, created_at, updated_at, flow_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, q.tableName))

	_, err := q.db.ExecContext(ctx, query,
		task.ID, task.Type, task.Status, task.Priority, []byte(task.Payload),
		task.ScheduledAt, task.Attempts, task.MaxRetries,
		task.CreatedAt, task.UpdatedAt, nullString(task.FlowID),
	)
	if err != nil {
		return fmt.Errorf("enqueue %s task: %w", task.Type, err)
	}
	TasksEnqueuedTotal.WithLabelValues(string(task.Type)).Inc()
	return nil
}

// isDeadlockError reports MySQL error 1213 and PostgreSQL SQLSTATE 40P01,
// falling back to message matching for drivers that wrap errors as text.
func isDeadlockError(err error) bool {
	if err == nil {
		return false
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1213
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40P01"
	}
	msg := err.Error()
	return strings.Contains(msg, "Error 1213") ||
		strings.Contains(msg, "Deadlock") ||
		strings.Contains(msg, "40P01") ||
		strings.Contains(msg, "deadlock detected")
}

// withDeadlockRetry runs fn, retrying deadlocks with jittered exponential
// backoff: 10-20ms, 20-40ms, 40-80ms.
func withDeadlockRetry[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := range maxDeadlockRetries {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		if !isDeadlockError(err) {
			return zero, err
		}
		lastErr = err
		DeadlockRetries.Inc()

		backoff := baseDeadlockBackoff * time.Duration(1<<attempt)
		jitter := time.Duration(rand.Int64N(int64(backoff)))
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff + jitter):
		}
	}
	return zero, lastErr
}

func (q *DBQueue) Dequeue(ctx context.Context, workerID string, taskTypes ...TaskType) (*Task, error) {
	return withDeadlockRetry(ctx, func() (*Task, error) {
		return q.dequeueOnce(ctx, workerID, taskTypes...)
	})
}

func (q *DBQueue) dequeueOnce(ctx context.Context, workerID string, taskTypes ...TaskType) (*Task, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now()
	staleThreshold := now.Add(-q.visibilityTimeout)

	args := []any{now, now, staleThreshold}
	typeFilter := ""
	if len(taskTypes) > 0 {
		typeFilter = " AND type IN (" + strings.TrimSuffix(strings.Repeat("?,", len(taskTypes)), ",") + ")"
		for _, t := range taskTypes {
			args = append(args, string(t))
		}
	}

	// Stale running tasks (worker died) are reclaimed alongside ready ones.
	selectQuery := q.rebind(fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE (
			(status = 'pending' AND scheduled_at <= ? AND (retry_after IS NULL OR retry_after <= ?))
			OR
			(status = 'running' AND heartbeat_at < ?)
		)
		%s
		ORDER BY priority DESC, scheduled_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, taskColumns, q.tableName, typeFilter))

	task, err := scanTask(tx.QueryRowContext(ctx, selectQuery, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	attempts := task.Attempts
	if task.Status == StatusRunning {
		attempts++
	}

	updateQuery := q.rebind(fmt.Sprintf(`
		UPDATE %s SET status = 'running', started_at = ?, heartbeat_at = ?,
			worker_id = ?, attempts = ?, updated_at = ?
		WHERE id = ?
	`, q.tableName))
	if _, err := tx.ExecContext(ctx, updateQuery, now, now, workerID, attempts, now, task.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	task.Status = StatusRunning
	task.StartedAt = &now
	task.WorkerID = workerID
	task.Attempts = attempts
	task.UpdatedAt = now
	return task, nil
}

func (q *DBQueue) execOne(ctx context.Context, query string, args ...any) error {
	result, err := q.db.ExecContext(ctx, q.rebind(query), args...)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (q *DBQueue) Complete(ctx context.Context, taskID string) error {
	now := time.Now()
	return q.execOne(ctx, fmt.Sprintf(`
		UPDATE %s SET status = 'completed', completed_at = ?, updated_at = ?
		WHERE id = ?
	`, q.tableName), now, now, taskID)
}

func (q *DBQueue) Fail(ctx context.Context, taskID string, taskErr error) error {
	task, err := q.Get(ctx, taskID)
	if err != nil {
		return err
	}

	now := time.Now()
	task.Attempts++
	task.LastError = taskErr.Error()

	var retryAfter *time.Time
	if task.Attempts >= task.MaxRetries {
		task.Status = StatusDeadLetter
	} else {
		at := now.Add(retryBackoff(task.Attempts))
		retryAfter = &at
		task.Status = StatusPending
		TaskRetries.WithLabelValues(string(task.Type)).Inc()
	}

	return q.execOne(ctx, fmt.Sprintf(`
		UPDATE %s SET status = ?, attempts = ?, last_error = ?,
			retry_after = ?, worker_id = NULL, updated_at = ?
		WHERE id = ?
	`, q.tableName), task.Status, task.Attempts, task.LastError, retryAfter, now, taskID)
}

func (q *DBQueue) Cancel(ctx context.Context, taskID string) error {
	return q.execOne(ctx, fmt.Sprintf(`
		UPDATE %s SET status = 'cancelled', updated_at = ?
		WHERE id = ?
	`, q.tableName), time.Now(), taskID)
}

func (q *DBQueue) Get(ctx context.Context, taskID string) (*Task, error) {
	query := q.rebind(fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, taskColumns, q.tableName))
	task, err := scanTask(q.db.QueryRowContext(ctx, query, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	return task, err
}

// buildListQuery renders the List query with ? placeholders.
func buildListQuery(table string, filter TaskFilter) (string, []any) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s WHERE 1=1", taskColumns, table)
	var args []any
	if filter.Type != "" {
		b.WriteString(" AND type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.Status != "" {
		b.WriteString(" AND status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.FlowID != "" {
		b.WriteString(" AND flow_id = ?")
		args = append(args, filter.FlowID)
	}
	b.WriteString(" ORDER BY created_at DESC, id ASC")
	if filter.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		fmt.Fprintf(&b, " OFFSET %d", filter.Offset)
	}
	return b.String(), args
}

func (q *DBQueue) List(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	query, args := buildListQuery(q.tableName, filter)
	rows, err := q.db.QueryContext(ctx, q.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (q *DBQueue) Stats(ctx context.Context) (*QueueStats, error) {
	stats := &QueueStats{ByType: make(map[TaskType]int64)}

	rows, err := q.db.QueryContext(ctx, fmt.Sprintf(`SELECT status, COUNT(*) FROM %s GROUP BY status`, q.tableName))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		switch TaskStatus(status) {
		case StatusPending:
			stats.Pending = count
		case StatusRunning:
			stats.Running = count
		case StatusCompleted:
			stats.Completed = count
		case StatusFailed:
			stats.Failed = count
		case StatusDeadLetter:
			stats.DeadLetter = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	typeRows, err := q.db.QueryContext(ctx, fmt.Sprintf(`SELECT type, COUNT(*) FROM %s WHERE status = 'pending' GROUP BY type`, q.tableName))
	if err != nil {
		return nil, err
	}
	defer typeRows.Close()
	for typeRows.Next() {
		var taskType string
		var count int64
		if err := typeRows.Scan(&taskType, &count); err != nil {
			return nil, err
		}
		stats.ByType[TaskType(taskType)] = count
	}
	if err := typeRows.Err(); err != nil {
		return nil, err
	}

	var oldest sql.NullTime
	err = q.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT MIN(scheduled_at) FROM %s WHERE status = 'pending'`, q.tableName)).Scan(&oldest)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if oldest.Valid {
		stats.OldestPending = &oldest.Time
	}

	QueueDepth.WithLabelValues(string(StatusPending)).Set(float64(stats.Pending))
	QueueDepth.WithLabelValues(string(StatusRunning)).Set(float64(stats.Running))
	QueueDepth.WithLabelValues(string(StatusDeadLetter)).Set(float64(stats.DeadLetter))
	return stats, nil
}

func (q *DBQueue) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	query := q.rebind(fmt.Sprintf(`
		DELETE FROM %s
		WHERE status IN ('completed', 'cancelled')
		AND completed_at < ?
	`, q.tableName))

	result, err := q.db.ExecContext(ctx, query, time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}

func (q *DBQueue) Heartbeat(ctx context.Context, taskID string, workerID string) error {
	_, err := withDeadlockRetry(ctx, func() (struct{}, error) {
		now := time.Now()
		return struct{}{}, q.execOne(ctx, fmt.Sprintf(`
			UPDATE %s SET heartbeat_at = ?, updated_at = ?
			WHERE id = ? AND worker_id = ? AND status = 'running'
		`, q.tableName), now, now, taskID, workerID)
	})
	return err
}

// ReclaimStale returns tasks whose worker stopped heartbeating to pending,
// or dead-letters them once retries are exhausted.
func (q *DBQueue) ReclaimStale(ctx context.Context) (int, error) {
	now := time.Now()
	staleThreshold := now.Add(-q.visibilityTimeout)

	result, err := q.db.ExecContext(ctx, q.rebind(fmt.Sprintf(`
		UPDATE %s
		SET status = 'pending', worker_id = NULL, attempts = attempts + 1,
			last_error = 'reclaimed: worker timeout', updated_at = ?
		WHERE status = 'running' AND heartbeat_at < ? AND attempts < max_retries
	`, q.tableName)), now, staleThreshold)
	if err != nil {
		return 0, err
	}
	rows, _ := result.RowsAffected()

	deadResult, err := q.db.ExecContext(ctx, q.rebind(fmt.Sprintf(`
		UPDATE %s
		SET status = 'dead_letter', worker_id = NULL,
			last_error = 'reclaimed: max retries exceeded', updated_at = ?
		WHERE status = 'running' AND heartbeat_at < ? AND attempts >= max_retries
	`, q.tableName)), now, staleThreshold)
	if err != nil {
		return int(rows), err
	}
	deadRows, _ := deadResult.RowsAffected()
	return int(rows + deadRows), nil
}

func (q *DBQueue) VisibilityTimeout() time.Duration {
	return q.visibilityTimeout
}

// Close is a no-op; the connection pool belongs to the metadata store.
func (q *DBQueue) Close() error {
	return nil
}
