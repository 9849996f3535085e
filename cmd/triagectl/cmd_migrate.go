package main

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/maternal-triage-engine/internal/database"
)

var migrateFlags struct {
	databaseURL string
	path        string
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the PostgreSQL verdict store schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withMigrations(cmd, func(r *database.MigrationRunner) error { return r.Up() })
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withMigrations(cmd, func(r *database.MigrationRunner) error { return r.Down() })
	},
}

const migrateVersionName = "version"

var migrateVersionCmd = &cobra.Command{
	Use:   migrateVersionName,
	Short: "Print the applied schema version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withMigrations(cmd, func(r *database.MigrationRunner) error {
			v, dirty, err := r.Version()
			if errors.Is(err, migrate.ErrNilVersion) {
				fmt.Fprintln(cmd.OutOrStdout(), "no migrations applied")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", v, dirty)
			return nil
		})
	},
}

func init() {
	pf := migrateCmd.PersistentFlags()
	pf.StringVar(&migrateFlags.databaseURL, "database-url", "", "PostgreSQL URL (default: built from the database config section)")
	pf.StringVar(&migrateFlags.path, "path", "", "Migrations directory (default: database.migrations_path)")

	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)
}

func withMigrations(cmd *cobra.Command, fn func(*database.MigrationRunner) error) error {
	m, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := m.GetConfig()
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}

	url := migrateFlags.databaseURL
	if url == "" {
		url = database.ConfigFromDomain(cfg.Database).URL()
	}
	path := migrateFlags.path
	if path == "" {
		path = cfg.Database.MigrationsPath
	}

	runner, err := database.NewMigrationRunner(url, path, logger)
	if err != nil {
		return err
	}
	defer runner.Close()

	if err := fn(runner); err != nil {
		return err
	}
	if cmd.Name() != migrateVersionName {
		fmt.Fprintf(cmd.OutOrStdout(), "migrate %s: done\n", cmd.Name())
	}
	return nil
}
