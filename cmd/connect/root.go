// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connect Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the connect CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "connect - account and token administration",
		Long: `connect manages user accounts stored in a graph database: registration,
authentication, trust levels, and single-use email verification and
password reset tokens.`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file path")
	flags.String("store-driver", "", "graph store driver (memory, postgres or sqlite)")
	flags.String("database-url", "", "PostgreSQL connection URL")
	flags.String("sqlite-path", "", "SQLite database file")
	flags.String("log-format", "", "log format (json or text)")
	flags.String("log-level", "", "log level (debug, info, warn or error)")

	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewAccountCmd())
	cmd.AddCommand(NewTokenCmd())
	cmd.AddCommand(NewConfigCmd())

	return cmd
}
