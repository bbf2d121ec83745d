// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"os"

	"github.com/LeeDigitalWorks/tams/pkg/env"
	"github.com/LeeDigitalWorks/tams/pkg/logger"
	"github.com/LeeDigitalWorks/tams/pkg/utils"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "tams",
	Short: "TAMS - time-addressable media store",
	Long: `TAMS stores media flows as time-indexed segments that point at media
objects. This binary runs the background worker that executes bulk segment
deletes, cleans up unreferenced media objects and delivers change events, and
provides admin commands over the metadata database.`,
	PersistentPreRun: initialize,
	SilenceUsage:     true,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&utils.ConfigurationFileDirectory, "config_dir", ".", "Directory for configuration files")
	f.String("log_level", "info", "Log level (trace, debug, info, warn, error)")
	f.String("env", env.Local, "Deployment environment (local, testing, production)")
	addDBFlags(rootCmd)

	viper.BindPFlags(f)
}

func initialize(cmd *cobra.Command, args []string) {
	utils.LoadConfiguration("tams", false)
	env.Load()

	raw := NewFlagLoader(cmd).String("log_level")
	level, err := zerolog.ParseLevel(raw)
	if err != nil || level == zerolog.NoLevel {
		logger.Warn().Str("log_level", raw).Msg("invalid log level, keeping default")
		return
	}
	logger.SetLevel(level)
	if env.IsLocal() {
		logger.SetConsole(os.Stderr)
	}
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
