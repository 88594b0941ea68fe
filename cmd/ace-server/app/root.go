// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app wires the ace-server CLI.
package app

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/ace/pkg/logger"
)

// NewRootCmd builds the root command. Every flag is also settable via the
// environment with the ACE_ prefix (e.g. ACE_SIGNING_SECRET).
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ace-server",
		Short: "Multi-tenant MCP knowledge server with an embedded OAuth authorization server",
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logger.Initialize()
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	viper.SetEnvPrefix("ACE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(newServeCmd())
	return rootCmd
}
