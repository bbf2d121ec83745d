// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package env

import (
	"sync"

	"github.com/spf13/viper"
)

const (
	Local      = "local"
	Production = "production"
	Testing    = "testing"
)

var (
	mu  sync.RWMutex
	env = Local
)

// Load reads the deployment environment from viper's "env" key, which
// TAMS_ENV overrides. An unset value means Local.
func Load() string {
	v := viper.GetString("env")
	if v == "" {
		v = Local
	}
	Set(v)
	return v
}

func Set(v string) {
	mu.Lock()
	defer mu.Unlock()
	env = v
}

func Get() string {
	mu.RLock()
	defer mu.RUnlock()
	return env
}

func IsLocal() bool      { return Get() == Local }
func IsProduction() bool { return Get() == Production }
func IsTesting() bool    { return Get() == Testing }
