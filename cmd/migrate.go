// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"github.com/LeeDigitalWorks/tams/pkg/logger"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply metadata database migrations",
	Long: `Create or upgrade the segments, flows, delete_requests and tasks tables.
Already applied migrations are skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		be, err := openBackends(cmd)
		if err != nil {
			return err
		}
		defer be.Close()

		if err := be.DB.Migrate(cmd.Context()); err != nil {
			return err
		}
		logger.Info().Str("driver", NewFlagLoader(cmd).String("db_driver")).Msg("migrations applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
