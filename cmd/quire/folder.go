// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/quire-editor/quire/internal/settings"
)

// NewFolderCmd creates the folder subcommand tree for the default and last
// opened workspace folders.
func NewFolderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "folder",
		Short: "Show or change the workspace folder preferences",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Print the default folder",
		Args:  cobra.NoArgs,
		RunE: withSettings(func(cmd *cobra.Command, st *settings.Store, _ []string) error {
			printFolder(cmd, st.DefaultFolder())
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set <dir>",
		Short: "Set the default folder",
		Args:  cobra.ExactArgs(1),
		RunE: withSettings(func(cmd *cobra.Command, st *settings.Store, args []string) error {
			if err := st.SetDefaultFolder(args[0]); err != nil {
				return err //nolint:wrapcheck // settings errors carry their codes
			}
			printFolder(cmd, st.DefaultFolder())
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove the default folder",
		Args:  cobra.NoArgs,
		RunE: withSettings(func(_ *cobra.Command, st *settings.Store, _ []string) error {
			return st.ClearDefaultFolder() //nolint:wrapcheck // settings errors carry their codes
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "last",
		Short: "Print the last opened folder",
		Args:  cobra.NoArgs,
		RunE: withSettings(func(cmd *cobra.Command, st *settings.Store, _ []string) error {
			printFolder(cmd, st.LastOpenedFolder())
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set-last <dir>",
		Short: "Record the last opened folder",
		Args:  cobra.ExactArgs(1),
		RunE: withSettings(func(cmd *cobra.Command, st *settings.Store, args []string) error {
			if err := st.SetLastOpenedFolder(args[0]); err != nil {
				return err //nolint:wrapcheck // settings errors carry their codes
			}
			printFolder(cmd, st.LastOpenedFolder())
			return nil
		}),
	})
	return cmd
}

func withSettings(fn func(*cobra.Command, *settings.Store, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		st, err := settings.Load(cfg.SettingsFile)
		if err != nil {
			return err //nolint:wrapcheck // settings errors carry their codes
		}
		return fn(cmd, st, args)
	}
}

func printFolder(cmd *cobra.Command, dir string) {
	if dir == "" {
		cmd.Println("(none)")
		return
	}
	cmd.Println(dir)
}
