// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package main

import (
	"strconv"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/quire-editor/quire/internal/config"
	"github.com/quire-editor/quire/internal/store"
)

// NewMigrateCmd creates the migrate subcommand tree for the postgres
// store. The sqlite store creates its schema when opened.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the postgres store schema",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, _ []string, m *store.Migrator) error {
			pending, err := m.Pending()
			if err != nil {
				return err //nolint:wrapcheck // migrator errors carry their codes
			}
			if len(pending) == 0 {
				cmd.Println("schema is up to date")
				return nil
			}
			if err := m.Up(); err != nil {
				return err //nolint:wrapcheck // migrator errors carry their codes
			}
			for _, mg := range pending {
				cmd.Printf("applied %s\n", mg)
			}
			return nil
		}),
	})
	cmd.AddCommand(newMigrateDownCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, _ []string, m *store.Migrator) error {
			v, dirty, err := m.Version()
			if err != nil {
				return err //nolint:wrapcheck // migrator errors carry their codes
			}
			if dirty {
				cmd.Printf("version %d (dirty, repair with quire migrate force)\n", v)
				return nil
			}
			cmd.Printf("version %d\n", v)
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "force <version>",
		Short: "Mark a version as applied and clear the dirty flag",
		Args:  cobra.ExactArgs(1),
		RunE: withMigrator(func(cmd *cobra.Command, args []string, m *store.Migrator) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return oops.In("cli").With("version", args[0]).Wrapf(err, "parse version")
			}
			if err := m.Force(v); err != nil {
				return err //nolint:wrapcheck // migrator errors carry their codes
			}
			cmd.Printf("forced version %d\n", v)
			return nil
		}),
	})
	return cmd
}

func newMigrateDownCmd() *cobra.Command {
	var steps int
	var all bool
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Long: `Roll back the most recent migration, or --steps of them. --all rolls back
every migration and drops all stored extensions.`,
		Args: cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, _ []string, m *store.Migrator) error {
			n := steps
			if all {
				n = 0
			} else if n < 1 {
				return oops.In("cli").With("steps", steps).Errorf("--steps must be at least 1")
			}
			if err := m.Down(n); err != nil {
				return err //nolint:wrapcheck // migrator errors carry their codes
			}
			v, _, err := m.Version()
			if err != nil {
				return err //nolint:wrapcheck // migrator errors carry their codes
			}
			cmd.Printf("rolled back to version %d\n", v)
			return nil
		}),
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	cmd.Flags().BoolVar(&all, "all", false, "roll back every migration")
	return cmd
}

func withMigrator(fn func(*cobra.Command, []string, *store.Migrator) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.Store.Driver != store.DriverPostgres {
			return oops.In("cli").Code(config.CodeConfigInvalid).
				With("store.driver", cfg.Store.Driver).
				Hint("run with --store-driver postgres --store-dsn <url>").
				Errorf("migrations apply to the postgres store only")
		}
		m, err := store.NewMigrator(cfg.Store.DSN)
		if err != nil {
			return err //nolint:wrapcheck // migrator errors carry their codes
		}
		defer func() { _ = m.Close() }()
		return fn(cmd, args, m)
	}
}
