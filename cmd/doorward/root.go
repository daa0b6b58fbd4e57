// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Doorward Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the Doorward CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doorward",
		Short: "Doorward - a standalone authentication service",
		Long: `Doorward is a standalone authentication service providing user
registration, session login, and password reset over HTTP, backed
by PostgreSQL.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	// Add subcommands
	cmd.AddCommand(newServeCmd(nil))
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}
