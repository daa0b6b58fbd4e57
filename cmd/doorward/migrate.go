// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Doorward Contributors

package main

import (
	"errors"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/doorward/doorward/internal/store"
)

// migrateConfig holds flags for the migrate subcommands.
type migrateConfig struct {
	databaseURL string
}

// newMigrateCmd creates the migrate subcommand tree.
func newMigrateCmd() *cobra.Command {
	cfg := &migrateConfig{}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long:  `Apply, roll back, and inspect schema migrations on the PostgreSQL database.`,
	}

	cmd.PersistentFlags().StringVar(&cfg.databaseURL, "database-url", "",
		"database URL (defaults to DATABASE_URL environment variable)")

	cmd.AddCommand(newMigrateUpCmd(cfg))
	cmd.AddCommand(newMigrateDownCmd(cfg))
	cmd.AddCommand(newMigrateStatusCmd(cfg))
	cmd.AddCommand(newMigrateForceCmd(cfg))

	return cmd
}

func newMigrateUpCmd(cfg *migrateConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cfg, func(m *store.Migrator) error {
				pending, err := m.PendingMigrations()
				if err != nil {
					return err
				}
				if len(pending) == 0 {
					cmd.Println("No pending migrations")
					return nil
				}
				if err := m.Up(); err != nil {
					return err
				}
				for _, v := range pending {
					name, _ := store.MigrationName(v)
					cmd.Println("Applied " + name)
				}
				return nil
			})
		},
	}
}

func newMigrateDownCmd(cfg *migrateConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cfg, func(m *store.Migrator) error {
				if err := m.Steps(-1); err != nil {
					if errors.Is(err, migrate.ErrNoChange) {
						cmd.Println("Nothing to roll back")
						return nil
					}
					return err
				}
				cmd.Println("Rolled back one migration")
				return nil
			})
		},
	}
}

func newMigrateStatusCmd(cfg *migrateConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cfg, func(m *store.Migrator) error {
				version, dirty, err := m.Version()
				if err != nil {
					return err
				}
				if version == 0 {
					cmd.Println("Schema version: none")
				} else {
					cmd.Printf("Schema version: %d (dirty: %t)\n", version, dirty)
				}

				applied, err := m.AppliedMigrations()
				if err != nil {
					return err
				}
				for _, v := range applied {
					name, _ := store.MigrationName(v)
					cmd.Println("  applied  " + name)
				}

				pending, err := m.PendingMigrations()
				if err != nil {
					return err
				}
				for _, v := range pending {
					name, _ := store.MigrationName(v)
					cmd.Println("  pending  " + name)
				}
				return nil
			})
		},
	}
}

func newMigrateForceCmd(cfg *migrateConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "force <version>",
		Short: "Force the schema version without running migrations",
		Long:  `Force the recorded schema version, clearing a dirty state after a failed migration.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return oops.Code("MIGRATION_BAD_VERSION").With("arg", args[0]).Wrap(err)
			}
			return withMigrator(cfg, func(m *store.Migrator) error {
				if err := m.Force(version); err != nil {
					return err
				}
				cmd.Printf("Forced schema version to %d\n", version)
				return nil
			})
		},
	}
}

// withMigrator resolves the database URL, opens a migrator, runs fn, and
// closes the migrator.
func withMigrator(cfg *migrateConfig, fn func(*store.Migrator) error) error {
	databaseURL := cfg.databaseURL
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database URL is required: pass --database-url or set DATABASE_URL")
	}

	migrator, err := store.NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = migrator.Close() }()

	return fn(migrator)
}
