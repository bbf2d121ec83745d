// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"github.com/LeeDigitalWorks/tams/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	cacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tams",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Cache lookups served from memory",
	}, []string{"cache"})

	cacheMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tams",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Cache lookups that found no live entry",
	}, []string{"cache"})

	cacheEvictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tams",
		Subsystem: "cache",
		Name:      "evictions_total",
		Help:      "Entries evicted to respect the size bound",
	}, []string{"cache"})
)

func init() {
	debug.Registry().MustRegister(cacheHits, cacheMisses, cacheEvictions)
}
