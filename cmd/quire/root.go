// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/quire-editor/quire/internal/config"
)

// NewRootCmd creates the root command for the Quire CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quire",
		Short: "Quire - an extensible editor host",
		Long: `Quire hosts editor extensions: it stores their packages, activates them
under a capability policy and serves their UI contributions.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "config file path (default: XDG_CONFIG_HOME/quire/config.yaml)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewExtCmd())
	cmd.AddCommand(NewFolderCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}

// loadConfig reads the configuration for cmd from --config and its flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err //nolint:wrapcheck // flag registered in NewRootCmd
	}
	return config.Load(path, cmd.Flags())
}
