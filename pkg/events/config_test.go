// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Empty(t, cfg.Types)

	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "tams:events", cfg.Redis.Channel)
	assert.Equal(t, 10, cfg.Redis.PoolSize)
	assert.Equal(t, 5*time.Second, cfg.Redis.DialTimeout)

	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, "tams-events", cfg.Kafka.Topic)
	assert.Equal(t, 1, cfg.Kafka.RequiredAcks)
	assert.Equal(t, "snappy", cfg.Kafka.Compression)
	assert.Equal(t, 100, cfg.Kafka.BatchSize)
	assert.Equal(t, time.Second, cfg.Kafka.BatchTimeout)
	assert.Equal(t, 10*time.Second, cfg.Kafka.WriteTimeout)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	t.Run("applies defaults for empty values", func(t *testing.T) {
		t.Parallel()

		cfg := Config{}
		cfg.Validate()

		assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
		assert.Equal(t, "tams:events", cfg.Redis.Channel)
		assert.Equal(t, 10, cfg.Redis.PoolSize)
		assert.Equal(t, 3*time.Second, cfg.Redis.ReadTimeout)

		assert.Equal(t, "tams-events", cfg.Kafka.Topic)
		// RequiredAcks=0 is valid (no acks required), so it's not overwritten
		assert.Equal(t, 0, cfg.Kafka.RequiredAcks)
		assert.Equal(t, "snappy", cfg.Kafka.Compression)
		assert.Equal(t, 100, cfg.Kafka.BatchSize)
		assert.Equal(t, time.Second, cfg.Kafka.BatchTimeout)
	})

	t.Run("preserves valid custom values", func(t *testing.T) {
		t.Parallel()

		cfg := Config{
			Redis: RedisConfig{
				Addr:     "redis.example.com:6379",
				Channel:  "studio:events",
				PoolSize: 20,
			},
			Kafka: KafkaConfig{
				Topic:        "studio-events",
				RequiredAcks: -1,
				Compression:  "gzip",
				BatchSize:    200,
				BatchTimeout: 2 * time.Second,
			},
		}
		cfg.Validate()

		assert.Equal(t, "redis.example.com:6379", cfg.Redis.Addr)
		assert.Equal(t, "studio:events", cfg.Redis.Channel)
		assert.Equal(t, 20, cfg.Redis.PoolSize)
		assert.Equal(t, "studio-events", cfg.Kafka.Topic)
		assert.Equal(t, -1, cfg.Kafka.RequiredAcks)
		assert.Equal(t, "gzip", cfg.Kafka.Compression)
		assert.Equal(t, 200, cfg.Kafka.BatchSize)
		assert.Equal(t, 2*time.Second, cfg.Kafka.BatchTimeout)
	})

	t.Run("fixes invalid values", func(t *testing.T) {
		t.Parallel()

		cfg := Config{
			Redis: RedisConfig{PoolSize: -1},
			Kafka: KafkaConfig{RequiredAcks: 5, BatchSize: -1, BatchTimeout: -1},
		}
		cfg.Validate()

		assert.Equal(t, 10, cfg.Redis.PoolSize)
		assert.Equal(t, 1, cfg.Kafka.RequiredAcks)
		assert.Equal(t, 100, cfg.Kafka.BatchSize)
		assert.Equal(t, time.Second, cfg.Kafka.BatchTimeout)
	})
}

func TestConfigHasPublishers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		cfg      Config
		expected bool
	}{
		{"no publishers", Config{}, false},
		{"redis enabled", Config{Redis: RedisConfig{Enabled: true}}, true},
		{"kafka enabled", Config{Kafka: KafkaConfig{Enabled: true}}, true},
		{"both enabled", Config{Redis: RedisConfig{Enabled: true}, Kafka: KafkaConfig{Enabled: true}}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, tc.cfg.HasPublishers())
		})
	}
}
