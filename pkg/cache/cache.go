// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package cache provides a concurrent TTL cache with deduplicated loads.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrNoLoader is returned by GetOrLoad on a cache built without WithLoader.
var ErrNoLoader = errors.New("cache: no loader configured")

type entry[V any] struct {
	value   V
	written time.Time
}

// Cache maps keys to values that expire a fixed time after they were written.
//
// Concurrent GetOrLoad calls for the same missing key share one call to the
// loader. Failed loads are not cached.
type Cache[K comparable, V any] struct {
	name string

	mu      sync.RWMutex
	entries map[K]*entry[V]

	ttl     time.Duration
	maxSize int
	loader  func(ctx context.Context, key K) (V, error)
	loads   singleflight.Group

	cleanupTimer *time.Timer
	stopOnce     sync.Once
	stopped      chan struct{}
}

type Option[K comparable, V any] func(*Cache[K, V])

// WithTTL expires entries ttl after they were set. A background sweep
// removes expired entries every ttl.
func WithTTL[K comparable, V any](ttl time.Duration) Option[K, V] {
	return func(c *Cache[K, V]) { c.ttl = ttl }
}

// WithMaxSize bounds the number of entries. The oldest written entry is
// evicted to make room.
func WithMaxSize[K comparable, V any](n int) Option[K, V] {
	return func(c *Cache[K, V]) { c.maxSize = n }
}

func WithLoader[K comparable, V any](fn func(ctx context.Context, key K) (V, error)) Option[K, V] {
	return func(c *Cache[K, V]) { c.loader = fn }
}

// WithName labels the cache's metrics.
func WithName[K comparable, V any](name string) Option[K, V] {
	return func(c *Cache[K, V]) { c.name = name }
}

func New[K comparable, V any](opts ...Option[K, V]) *Cache[K, V] {
	c := &Cache[K, V]{
		name:    "default",
		entries: make(map[K]*entry[V]),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.ttl > 0 {
		c.cleanupTimer = time.AfterFunc(c.ttl, c.sweep)
	}
	return c
}

func (c *Cache[K, V]) sweep() {
	select {
	case <-c.stopped:
		return
	default:
	}

	now := time.Now()
	c.mu.Lock()
	for k, e := range c.entries {
		if c.expired(e, now) {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
	c.cleanupTimer.Reset(c.ttl)
}

func (c *Cache[K, V]) expired(e *entry[V], now time.Time) bool {
	return c.ttl > 0 && now.Sub(e.written) >= c.ttl
}

// Stop ends the background sweep. The cache stays usable.
func (c *Cache[K, V]) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopped)
		if c.cleanupTimer != nil {
			c.cleanupTimer.Stop()
		}
	})
}

func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || c.expired(e, time.Now()) {
		cacheMisses.WithLabelValues(c.name).Inc()
		var zero V
		return zero, false
	}
	cacheHits.WithLabelValues(c.name).Inc()
	return e.value, true
}

// GetOrLoad returns the cached value or loads, caches and returns it.
func (c *Cache[K, V]) GetOrLoad(ctx context.Context, key K) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	if c.loader == nil {
		var zero V
		return zero, ErrNoLoader
	}

	v, err, _ := c.loads.Do(fmt.Sprint(key), func() (any, error) {
		v, err := c.loader(ctx, key)
		if err != nil {
			return nil, err
		}
		c.Set(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && c.maxSize > 0 && len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}
	c.entries[key] = &entry[V]{value: value, written: time.Now()}
}

func (c *Cache[K, V]) evictOldestLocked() {
	var (
		oldestKey K
		oldest    *entry[V]
	)
	for k, e := range c.entries {
		if oldest == nil || e.written.Before(oldest.written) {
			oldestKey, oldest = k, e
		}
	}
	if oldest != nil {
		delete(c.entries, oldestKey)
		cacheEvictions.WithLabelValues(c.name).Inc()
	}
}

// Delete drops key. A load for key already in flight may still store its
// result afterwards.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len counts stored entries, including expired ones not yet swept.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	clear(c.entries)
	c.mu.Unlock()
}
