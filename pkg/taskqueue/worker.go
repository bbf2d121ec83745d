// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/tams/pkg/logger"
)

// Worker polls the queue and executes tasks.
type Worker struct {
	id       string
	queue    Queue
	handlers map[TaskType]Handler

	pollInterval      time.Duration
	concurrency       int
	taskTimeout       time.Duration
	heartbeatInterval time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

type WorkerConfig struct {
	ID           string
	Queue        Queue
	PollInterval time.Duration
	Concurrency  int
	// TaskTimeout bounds a single Handle call. Handlers read the deadline
	// from their context.
	TaskTimeout time.Duration
	// HeartbeatInterval is how often a running task is heartbeated.
	// Zero uses a third of TaskTimeout.
	HeartbeatInterval time.Duration
}

func NewWorker(cfg WorkerConfig) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = DefaultTaskTimeout
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = cfg.TaskTimeout / 3
	}

	return &Worker{
		id:                cfg.ID,
		queue:             cfg.Queue,
		handlers:          make(map[TaskType]Handler),
		pollInterval:      cfg.PollInterval,
		concurrency:       cfg.Concurrency,
		taskTimeout:       cfg.TaskTimeout,
		heartbeatInterval: cfg.HeartbeatInterval,
		stopCh:            make(chan struct{}),
	}
}

// RegisterHandler registers h for its task type. Must be called before
// Start.
func (w *Worker) RegisterHandler(h Handler) {
	if h == nil {
		return
	}
	w.handlers[h.Type()] = h
	logger.Debug().Str("type", string(h.Type())).Msg("taskqueue: registered handler")
}

// Start launches the polling goroutines and returns immediately.
func (w *Worker) Start(ctx context.Context) {
	types := w.HandlerTypes()
	if len(types) == 0 {
		logger.Warn().Msg("taskqueue: worker started with no handlers")
		return
	}

	logger.Info().
		Str("worker_id", w.id).
		Int("concurrency", w.concurrency).
		Int("handlers", len(types)).
		Msg("taskqueue: worker starting")

	for range w.concurrency {
		w.wg.Add(1)
		go w.work(ctx, types)
	}
}

// Stop waits for in-flight tasks to finish.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
	logger.Info().Str("worker_id", w.id).Msg("taskqueue: worker stopped")
}

func (w *Worker) work(ctx context.Context, types []TaskType) {
	defer w.wg.Done()
	WorkerActive.Inc()
	defer WorkerActive.Dec()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Drain ready tasks before waiting for the next tick.
			for w.ProcessOne(ctx, types...) {
				select {
				case <-w.stopCh:
					return
				case <-ctx.Done():
					return
				default:
				}
			}
		}
	}
}

// ProcessOne dequeues and runs a single task. It reports whether a task was
// found.
func (w *Worker) ProcessOne(ctx context.Context, types ...TaskType) bool {
	if len(types) == 0 {
		types = w.HandlerTypes()
	}
	task, err := w.queue.Dequeue(ctx, w.id, types...)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			DequeueErrors.Inc()
			logger.Error().Err(err).Msg("taskqueue: dequeue failed")
		}
		return false
	}
	if task == nil {
		return false
	}

	log := logger.Ctx(ctx).With().
		Str("task_id", task.ID).
		Str("type", string(task.Type)).
		Int("attempt", task.Attempts).
		Logger()

	handler, ok := w.handlers[task.Type]
	if !ok {
		log.Error().Msg("taskqueue: no handler for task type")
		TasksProcessedTotal.WithLabelValues(string(task.Type), "no_handler").Inc()
		if err := w.queue.Fail(ctx, task.ID, errors.New("no handler registered")); err != nil {
			log.Error().Err(err).Msg("taskqueue: failed to record failure")
		}
		return true
	}

	log.Debug().Msg("taskqueue: processing task")
	start := time.Now()
	err = w.run(logger.WithLogger(ctx, &log), handler, task)
	TaskProcessingDuration.WithLabelValues(string(task.Type)).Observe(time.Since(start).Seconds())

	if err != nil {
		log.Warn().Err(err).Msg("taskqueue: task failed")
		TasksProcessedTotal.WithLabelValues(string(task.Type), "failed").Inc()
		if ferr := w.queue.Fail(ctx, task.ID, err); ferr != nil {
			log.Error().Err(ferr).Msg("taskqueue: failed to record failure")
		}
		return true
	}

	log.Debug().Msg("taskqueue: task completed")
	TasksProcessedTotal.WithLabelValues(string(task.Type), "completed").Inc()
	if err := w.queue.Complete(ctx, task.ID); err != nil {
		log.Error().Err(err).Msg("taskqueue: failed to mark task completed")
	}
	return true
}

// run calls the handler under the task timeout, heartbeating while it runs
// and converting panics into task failures.
func (w *Worker) run(ctx context.Context, h Handler, task *Task) (err error) {
	ctx, cancel := context.WithTimeout(ctx, w.taskTimeout)
	defer cancel()

	done := make(chan struct{})
	var hb sync.WaitGroup
	hb.Add(1)
	go func() {
		defer hb.Done()
		t := time.NewTicker(w.heartbeatInterval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				if err := w.queue.Heartbeat(ctx, task.ID, w.id); err != nil {
					logger.Ctx(ctx).Warn().Err(err).Msg("taskqueue: heartbeat failed")
				}
			}
		}
	}()
	defer func() {
		close(done)
		hb.Wait()
	}()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, task)
}

// Queue returns the underlying queue.
func (w *Worker) Queue() Queue {
	return w.queue
}

// HandlerTypes returns the registered task types in a stable order.
func (w *Worker) HandlerTypes() []TaskType {
	types := make([]TaskType, 0, len(w.handlers))
	for t := range w.handlers {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}
