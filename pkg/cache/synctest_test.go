// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheTTL_ExpiresFromWrite(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ttl := 100 * time.Millisecond
		c := New(WithTTL[string, string](ttl))
		defer c.Stop()

		c.Set("key1", "value1")
		val, ok := c.Get("key1")
		assert.True(t, ok)
		assert.Equal(t, "value1", val)

		// Reads do not extend the lifetime.
		time.Sleep(60 * time.Millisecond)
		_, ok = c.Get("key1")
		assert.True(t, ok)
		time.Sleep(40 * time.Millisecond)
		_, ok = c.Get("key1")
		assert.False(t, ok, "entry should be expired")

		c.Set("key1", "value2")
		val, ok = c.Get("key1")
		assert.True(t, ok)
		assert.Equal(t, "value2", val)
	})
}

func TestCacheTTL_SweepRemovesEntries(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ttl := 50 * time.Millisecond
		c := New(WithTTL[string, int](ttl))
		defer c.Stop()

		c.Set("a", 1)
		c.Set("b", 2)
		assert.Equal(t, 2, c.Len())

		// First sweep at 50ms removes both; a later write survives until
		// the sweep after its own expiry.
		time.Sleep(ttl + 10*time.Millisecond)
		assert.Equal(t, 0, c.Len())

		c.Set("c", 3)
		time.Sleep(ttl)
		assert.Equal(t, 1, c.Len())
		time.Sleep(ttl)
		assert.Equal(t, 0, c.Len())
	})
}

func TestCacheNoTTL(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		c := New[string, string]()

		c.Set("key1", "value1")
		time.Sleep(time.Hour)

		val, ok := c.Get("key1")
		assert.True(t, ok)
		assert.Equal(t, "value1", val)
	})
}

func TestCacheStop_Idempotent(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ttl := 50 * time.Millisecond
		c := New(WithTTL[string, string](ttl))
		c.Set("key1", "value1")

		c.Stop()
		c.Stop()

		// No sweep, but reads still honour expiry.
		time.Sleep(ttl + 10*time.Millisecond)
		assert.Equal(t, 1, c.Len())
		_, ok := c.Get("key1")
		assert.False(t, ok)
	})
}

func TestCacheMaxSize_EvictsOldestWrite(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		c := New(WithMaxSize[int, string](3))

		for i := range 5 {
			c.Set(i, "value")
			time.Sleep(time.Millisecond)
		}
		assert.Equal(t, 3, c.Len())
		_, ok := c.Get(0)
		assert.False(t, ok)
		_, ok = c.Get(4)
		assert.True(t, ok)

		// Overwriting an existing key does not evict.
		c.Set(2, "again")
		assert.Equal(t, 3, c.Len())
		_, ok = c.Get(3)
		assert.True(t, ok)
	})
}

func TestCacheGetOrLoad(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		loads := 0

		c := New(
			WithTTL[string, string](100*time.Millisecond),
			WithLoader(func(ctx context.Context, key string) (string, error) {
				loads++
				return "loaded-" + key, nil
			}),
		)
		defer c.Stop()

		val, err := c.GetOrLoad(ctx, "key1")
		require.NoError(t, err)
		assert.Equal(t, "loaded-key1", val)

		val, err = c.GetOrLoad(ctx, "key1")
		require.NoError(t, err)
		assert.Equal(t, "loaded-key1", val)
		assert.Equal(t, 1, loads)

		time.Sleep(110 * time.Millisecond)
		_, err = c.GetOrLoad(ctx, "key1")
		require.NoError(t, err)
		assert.Equal(t, 2, loads)
	})
}

func TestCacheGetOrLoad_SharesConcurrentLoads(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		ctx := context.Background()
		loads := 0
		release := make(chan struct{})

		c := New(WithLoader(func(ctx context.Context, key string) (int, error) {
			loads++
			<-release
			return 42, nil
		}))

		results := make(chan int, 10)
		for range 10 {
			go func() {
				v, err := c.GetOrLoad(ctx, "answer")
				assert.NoError(t, err)
				results <- v
			}()
		}
		synctest.Wait()
		close(release)

		for range 10 {
			assert.Equal(t, 42, <-results)
		}
		assert.Equal(t, 1, loads)
	})
}
