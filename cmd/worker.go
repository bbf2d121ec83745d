// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LeeDigitalWorks/tams/pkg/debug"
	"github.com/LeeDigitalWorks/tams/pkg/dispatch"
	"github.com/LeeDigitalWorks/tams/pkg/events"
	"github.com/LeeDigitalWorks/tams/pkg/logger"
	"github.com/LeeDigitalWorks/tams/pkg/service"
	"github.com/LeeDigitalWorks/tams/pkg/taskqueue"
	"github.com/LeeDigitalWorks/tams/pkg/taskqueue/handlers"
	"github.com/LeeDigitalWorks/tams/pkg/utils"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type WorkerOpts struct {
	IP        string
	DebugPort int
	WorkerID  string

	Concurrency  int
	PollInterval time.Duration
	TaskTimeout  time.Duration

	// InvocationBudget is the wall-clock time one delete_request task may
	// sweep before checkpointing.
	InvocationBudget time.Duration
	BatchSize        int
	SafetyMargin     time.Duration

	MaxMessageSize       int
	CleanupDeletesPerSec float64
	RetainCompleted      time.Duration

	AutoMigrate bool
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the background task worker",
	Long: `Run the task worker that executes:
- delete_request tasks: time-boxed, checkpointed bulk segment deletes
- object_cleanup tasks: removal of media objects no segment references
- event tasks: delivery of segment and flow change events to Redis/Kafka`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)

	f := workerCmd.Flags()
	f.String("ip", utils.DetectedHostAddress(), "IP address for the debug server")
	f.Int("debug_port", 8095, "Debug HTTP port (metrics, health, pprof)")
	f.String("worker_id", "", "Worker identifier (defaults to hostname)")
	f.Int("worker_concurrency", taskqueue.DefaultConcurrency, "Tasks processed in parallel")
	f.Duration("worker_poll_interval", taskqueue.DefaultPollInterval, "Queue poll interval when idle")
	f.Duration("worker_task_timeout", 2*handlers.DefaultInvocationBudget, "Upper bound on a single task")
	f.Duration("delete_invocation_budget", handlers.DefaultInvocationBudget, "Time one delete_request task may run before checkpointing")
	f.Int("delete_batch_size", 100, "Segments deleted per batch")
	f.Duration("delete_safety_margin", 5*time.Second, "Remaining budget below which a delete checkpoints")
	f.Int("dispatch_max_message_size", dispatch.DefaultMaxMessageSize, "Maximum serialized size of one object_cleanup payload")
	f.Float64("cleanup_deletes_per_second", 0, "Rate limit on blob deletes (0 = unlimited)")
	f.Duration("retain_completed_tasks", 24*time.Hour, "How long completed tasks are kept")
	f.Bool("auto_migrate", false, "Apply database migrations on startup")

	viper.BindPFlags(f)
}

func loadWorkerOpts(cmd *cobra.Command) WorkerOpts {
	f := NewFlagLoader(cmd)
	id := f.String("worker_id")
	if id == "" {
		id, _ = os.Hostname()
	}
	return WorkerOpts{
		IP:                   f.String("ip"),
		DebugPort:            f.Int("debug_port"),
		WorkerID:             id,
		Concurrency:          f.Int("worker_concurrency"),
		PollInterval:         f.Duration("worker_poll_interval"),
		TaskTimeout:          f.Duration("worker_task_timeout"),
		InvocationBudget:     f.Duration("delete_invocation_budget"),
		BatchSize:            f.Int("delete_batch_size"),
		SafetyMargin:         f.Duration("delete_safety_margin"),
		MaxMessageSize:       f.Int("dispatch_max_message_size"),
		CleanupDeletesPerSec: f.Float64("cleanup_deletes_per_second"),
		RetainCompleted:      f.Duration("retain_completed_tasks"),
		AutoMigrate:          f.Bool("auto_migrate"),
	}
}

func runWorker(cmd *cobra.Command, args []string) error {
	opts := loadWorkerOpts(cmd)
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	debug.SetNotReady()

	be, err := openBackends(cmd)
	if err != nil {
		return err
	}
	defer be.Close()
	if opts.AutoMigrate {
		if err := be.DB.Migrate(ctx); err != nil {
			return err
		}
	}
	go be.reportConnectionStats(ctx, 15*time.Second)

	stores, err := openBlobStores()
	if err != nil {
		return err
	}
	defer stores.Close()

	eventsCfg, err := loadEventsConfig()
	if err != nil {
		return err
	}
	emitter := events.NewEmitter(events.EmitterConfig{Queue: be.Queue, Enabled: eventsCfg.Enabled})

	cfg := service.DefaultConfig()
	cfg.DB = be.DB
	cfg.Queue = be.Queue
	cfg.Emitter = emitter
	cfg.Dispatch.MaxMessageSize = opts.MaxMessageSize
	cfg.Deletion.BatchSize = opts.BatchSize
	cfg.Deletion.SafetyMargin = opts.SafetyMargin
	svc, err := service.New(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	worker := taskqueue.NewWorker(taskqueue.WorkerConfig{
		ID:           opts.WorkerID,
		Queue:        be.Queue,
		PollInterval: opts.PollInterval,
		Concurrency:  opts.Concurrency,
		TaskTimeout:  opts.TaskTimeout,
	})
	worker.RegisterHandler(handlers.NewDeleteRequestHandler(svc.Engine(), be.DB, opts.InvocationBudget))
	worker.RegisterHandler(handlers.NewObjectCleanupHandler(be.DB, stores, opts.CleanupDeletesPerSec))

	if eventsCfg.HasPublishers() {
		pubs, err := events.NewPublishers(eventsCfg)
		if err != nil {
			return err
		}
		eh := events.NewEventHandler(pubs, eventsCfg.Types)
		defer eh.Close()
		worker.RegisterHandler(eh)
	} else if eventsCfg.Enabled {
		logger.Warn().Msg("events enabled without a redis or kafka publisher, event tasks will queue up")
	}

	worker.Start(ctx)
	go maintainQueue(ctx, be, opts.RetainCompleted)

	debugServer := startHTTPServer(debug.GetMux(), opts.IP, opts.DebugPort)

	debug.SetReady()
	waitForShutdown()
	debug.SetNotReady()

	cancel()
	worker.Stop()

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	return debugServer.Shutdown(shutdownCtx)
}

// maintainQueue prunes finished tasks and, for SQL queues, reclaims tasks
// whose worker stopped heartbeating.
func maintainQueue(ctx context.Context, be *backends, retain time.Duration) {
	ticks, stop := utils.JitteredTicker(time.Minute, 0.2)
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
		}
		if n, err := be.Queue.Cleanup(ctx, retain); err != nil {
			logger.Warn().Err(err).Msg("task cleanup failed")
		} else if n > 0 {
			logger.Debug().Int("removed", n).Msg("pruned finished tasks")
		}
		if q, ok := be.Queue.(*taskqueue.DBQueue); ok {
			if n, err := q.ReclaimStale(ctx); err != nil {
				logger.Warn().Err(err).Msg("stale task reclaim failed")
			} else if n > 0 {
				logger.Info().Int("reclaimed", n).Msg("reclaimed stale tasks")
			}
		}
	}
}

// loadEventsConfig reads the "events" config section over the defaults.
func loadEventsConfig() (events.Config, error) {
	cfg := events.DefaultConfig()
	if err := viper.UnmarshalKey("events", &cfg); err != nil {
		return cfg, fmt.Errorf("parse events config: %w", err)
	}
	cfg.Validate()
	return cfg, nil
}

func startHTTPServer(handler http.Handler, ip string, port int) *http.Server {
	addr := utils.JoinHostPort(ip, port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", addr).Msg("failed to create HTTP listener")
	}

	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Info().Str("http_addr", addr).Msg("Starting HTTP server")
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()
	return srv
}

func waitForShutdown() {
	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, os.Interrupt, syscall.SIGHUP, syscall.SIGTERM)
	<-stopChan
}
