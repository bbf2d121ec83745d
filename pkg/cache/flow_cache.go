// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"time"

	"github.com/LeeDigitalWorks/tams/pkg/metadata/db"
	"github.com/LeeDigitalWorks/tams/pkg/types"
)

// DefaultFlowTTL bounds how stale a cached flow may be on instances that
// did not make the change themselves.
const DefaultFlowTTL = 30 * time.Second

// FlowCache caches flow metadata read on every segment write. Callers that
// change a flow must Invalidate it.
type FlowCache struct {
	c *Cache[string, *types.Flow]
}

func NewFlowCache(flows db.FlowStore, ttl time.Duration, maxSize int) *FlowCache {
	if ttl <= 0 {
		ttl = DefaultFlowTTL
	}
	return &FlowCache{
		c: New(
			WithName[string, *types.Flow]("flows"),
			WithTTL[string, *types.Flow](ttl),
			WithMaxSize[string, *types.Flow](maxSize),
			WithLoader(flows.GetFlow),
		),
	}
}

// Get returns a copy of the flow. db.ErrFlowNotFound is passed through and
// not cached.
func (f *FlowCache) Get(ctx context.Context, id string) (*types.Flow, error) {
	flow, err := f.c.GetOrLoad(ctx, id)
	if err != nil {
		return nil, err
	}
	return flow.Clone(), nil
}

func (f *FlowCache) Invalidate(id string) {
	f.c.Delete(id)
}

func (f *FlowCache) Stop() {
	f.c.Stop()
}
