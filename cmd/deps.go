// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/tams/pkg/logger"
	"github.com/LeeDigitalWorks/tams/pkg/metadata/db"
	"github.com/LeeDigitalWorks/tams/pkg/metadata/db/memory"
	"github.com/LeeDigitalWorks/tams/pkg/metadata/db/mysql"
	"github.com/LeeDigitalWorks/tams/pkg/metadata/db/postgres"
	dbsql "github.com/LeeDigitalWorks/tams/pkg/metadata/db/sql"
	"github.com/LeeDigitalWorks/tams/pkg/storage/backend"
	"github.com/LeeDigitalWorks/tams/pkg/taskqueue"
	"github.com/LeeDigitalWorks/tams/pkg/types"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func addDBFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.String("db_driver", string(db.DriverMemory), "Metadata database driver (memory, mysql, postgres)")
	f.String("db_dsn", "", "Metadata database DSN")
	f.Int("db_max_open_conns", db.DefaultMaxOpenConns, "Maximum open database connections")
	f.Int("db_max_idle_conns", db.DefaultMaxIdleConns, "Maximum idle database connections")
	f.String("db_tls_mode", string(mysql.TLSModeDisabled), "MySQL TLS mode (disabled, preferred, required, verify-ca)")
	f.String("db_tls_ca_file", "", "CA bundle for db_tls_mode=verify-ca")
}

// backends holds the process' metadata store and queue. sqlDB is nil for
// the memory driver.
type backends struct {
	DB    db.DB
	Queue taskqueue.Queue
	sqlDB *sql.DB
}

func (b *backends) Close() {
	if err := b.Queue.Close(); err != nil {
		logger.Warn().Err(err).Msg("failed to close task queue")
	}
	if err := b.DB.Close(); err != nil {
		logger.Warn().Err(err).Msg("failed to close metadata database")
	}
}

func openBackends(cmd *cobra.Command) (*backends, error) {
	f := NewFlagLoader(cmd)
	driver := db.Driver(f.String("db_driver"))
	dsn := f.String("db_dsn")

	sqlCfg := dbsql.DefaultConfig(dsn, driver)
	if n := f.Int("db_max_open_conns"); n > 0 {
		sqlCfg.MaxOpenConns = n
	}
	if n := f.Int("db_max_idle_conns"); n > 0 {
		sqlCfg.MaxIdleConns = n
	}

	var (
		raw   db.DB
		store *dbsql.Store
	)
	switch driver {
	case db.DriverMemory:
		logger.Warn().Msg("using in-memory metadata database, nothing will be persisted")
		raw = memory.New()
	case db.DriverMySQL:
		m, err := mysql.NewMySQL(mysql.Config{
			Config:    sqlCfg,
			TLSMode:   mysql.TLSMode(f.String("db_tls_mode")),
			TLSCAFile: f.String("db_tls_ca_file"),
		})
		if err != nil {
			return nil, fmt.Errorf("open mysql: %w", err)
		}
		raw, store = m, m.Store
	case db.DriverPostgres:
		p, err := postgres.NewPostgres(sqlCfg)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		raw, store = p, p.Store
	default:
		return nil, fmt.Errorf("unknown db_driver %q", driver)
	}

	b := &backends{DB: db.NewMetricsDB(raw)}
	if store == nil {
		b.Queue = taskqueue.NewMemoryQueue()
		return b, nil
	}

	b.sqlDB = store.DB()
	q, err := taskqueue.NewDBQueue(taskqueue.DBQueueConfig{
		DB:        b.sqlDB,
		Driver:    driver,
		TableName: "tasks",
	})
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("create task queue: %w", err)
	}
	b.Queue = q
	return b, nil
}

// reportConnectionStats publishes pool gauges until ctx is done.
func (b *backends) reportConnectionStats(ctx context.Context, every time.Duration) {
	if b.sqlDB == nil {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := b.sqlDB.Stats()
			db.UpdateConnectionMetrics(stats.InUse, stats.Idle)
		}
	}
}

// openBlobStores builds the media object stores from the "storage.backends"
// config list. The first entry is the default.
func openBlobStores() (*backend.Manager, error) {
	var cfgs []types.BackendConfig
	if err := viper.UnmarshalKey("storage.backends", &cfgs); err != nil {
		return nil, fmt.Errorf("parse storage.backends: %w", err)
	}

	mgr := backend.NewManager()
	if len(cfgs) == 0 {
		logger.Warn().Msg("no storage backends configured, using an in-memory object store")
		if err := mgr.AddMemory("memory"); err != nil {
			return nil, err
		}
		return mgr, nil
	}
	for _, cfg := range cfgs {
		if err := mgr.Add(cfg.ID, cfg); err != nil {
			mgr.Close()
			return nil, fmt.Errorf("storage backend %s: %w", cfg.ID, err)
		}
		logger.Info().Str("backend_id", cfg.ID).Str("type", string(cfg.Type)).Msg("storage backend registered")
	}
	return mgr, nil
}
