// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package postgres provides a PostgreSQL implementation of the db.DB interface.
package postgres

import (
	"github.com/LeeDigitalWorks/tams/pkg/metadata/db"
	dbsql "github.com/LeeDigitalWorks/tams/pkg/metadata/db/sql"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
)

// Postgres implements db.DB using PostgreSQL as the backing store
type Postgres struct {
	*dbsql.Store
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig(dsn string) dbsql.Config {
	return dbsql.DefaultConfig(dsn, db.DriverPostgres)
}

// NewPostgres opens and pings a PostgreSQL-backed database
func NewPostgres(cfg dbsql.Config) (*Postgres, error) {
	cfg.Driver = db.DriverPostgres
	store, err := dbsql.Open("pgx", dbsql.PostgresDialect{}, cfg)
	if err != nil {
		return nil, err
	}
	return &Postgres{Store: store}, nil
}

var _ db.DB = (*Postgres)(nil)
