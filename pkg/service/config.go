// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"errors"
	"time"

	"github.com/LeeDigitalWorks/tams/pkg/deletion"
	"github.com/LeeDigitalWorks/tams/pkg/dispatch"
	"github.com/LeeDigitalWorks/tams/pkg/events"
	"github.com/LeeDigitalWorks/tams/pkg/metadata/db"
	"github.com/LeeDigitalWorks/tams/pkg/taskqueue"
)

// Config holds the collaborators of the segment service.
type Config struct {
	DB    db.DB
	Queue taskqueue.Queue

	// Emitter may be nil; events are then dropped.
	Emitter *events.Emitter

	// Dispatch configures object cleanup batching.
	Dispatch dispatch.Config

	// Deletion configures engines built by Service.Engine.
	Deletion deletion.Config

	FlowCacheTTL  time.Duration
	FlowCacheSize int
}

func DefaultConfig() Config {
	return Config{
		Deletion:      deletion.DefaultConfig(),
		FlowCacheSize: 10_000,
	}
}

func (c *Config) Validate() error {
	if c.DB == nil {
		return errors.New("service: DB is required")
	}
	if c.Queue == nil {
		return errors.New("service: Queue is required")
	}
	return nil
}
