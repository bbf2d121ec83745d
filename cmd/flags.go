// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// FlagLoader reads a setting from an explicitly set CLI flag, falling back
// to viper (env > config file > flag default).
type FlagLoader struct {
	cmd *cobra.Command
}

func NewFlagLoader(cmd *cobra.Command) *FlagLoader {
	return &FlagLoader{cmd: cmd}
}

func (f *FlagLoader) changed(name string) bool {
	fl := f.cmd.Flags().Lookup(name)
	return fl != nil && fl.Changed
}

func (f *FlagLoader) String(name string) string {
	if f.changed(name) {
		val, _ := f.cmd.Flags().GetString(name)
		return val
	}
	return viper.GetString(name)
}

func (f *FlagLoader) Int(name string) int {
	if f.changed(name) {
		val, _ := f.cmd.Flags().GetInt(name)
		return val
	}
	return viper.GetInt(name)
}

func (f *FlagLoader) Bool(name string) bool {
	if f.changed(name) {
		val, _ := f.cmd.Flags().GetBool(name)
		return val
	}
	return viper.GetBool(name)
}

func (f *FlagLoader) Float64(name string) float64 {
	if f.changed(name) {
		val, _ := f.cmd.Flags().GetFloat64(name)
		return val
	}
	return viper.GetFloat64(name)
}

func (f *FlagLoader) Duration(name string) time.Duration {
	if f.changed(name) {
		val, _ := f.cmd.Flags().GetDuration(name)
		return val
	}
	return viper.GetDuration(name)
}

func (f *FlagLoader) StringSlice(name string) []string {
	if f.changed(name) {
		val, _ := f.cmd.Flags().GetStringSlice(name)
		return val
	}
	return viper.GetStringSlice(name)
}
