package cmd

import (
	"fmt"

	"github.com/cozy-creator/model-cache/cmd/cozy/cliutil"
	"github.com/cozy-creator/model-cache/internal/db"
	"github.com/cozy-creator/model-cache/internal/db/migrations"

	"github.com/spf13/cobra"
	"github.com/uptrace/bun/extra/bundebug"
	"github.com/uptrace/bun/migrate"
)

var Cmd = &cobra.Command{
	Use:   "db",
	Short: "Utility for download history database management",
}

func init() {
	Cmd.AddCommand(migrationCmd())
}

// withMigrator connects to the configured database and runs fn with a
// migrator for it. Set BUNDEBUG=1 to log the queries.
func withMigrator(cmd *cobra.Command, fn func(m *migrate.Migrator) error) error {
	cfg, err := cliutil.LoadConfig()
	if err != nil {
		return err
	}
	if !cfg.HistoryEnabled() {
		return fmt.Errorf("download history is disabled; set db.dsn to enable it")
	}

	driver, err := db.NewConnection(cmd.Context(), cfg.DB)
	if err != nil {
		return err
	}
	defer driver.Close()

	bunDB := driver.GetDB()
	bunDB.AddQueryHook(bundebug.NewQueryHook(
		bundebug.WithEnabled(false),
		bundebug.FromEnv(),
	))

	return fn(migrate.NewMigrator(bunDB, migrations.Migrations))
}

func migrationCmd() *cobra.Command {
	migrationCmd := &cobra.Command{
		Use:   "migration",
		Short: "Utility for handling database migrations",
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "create migration tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(m *migrate.Migrator) error {
				return m.Init(cmd.Context())
			})
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "migrate database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(m *migrate.Migrator) error {
				if err := m.Init(cmd.Context()); err != nil {
					return err
				}
				if err := m.Lock(cmd.Context()); err != nil {
					return err
				}
				defer m.Unlock(cmd.Context()) //nolint:errcheck

				group, err := m.Migrate(cmd.Context())
				if err != nil {
					return err
				}
				if group.IsZero() {
					fmt.Fprintln(cmd.OutOrStdout(), "there are no new migrations to run (database is up to date)")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "migrated to %s\n", group)
				return nil
			})
		},
	}

	rollbackCmd := &cobra.Command{
		Use:   "rollback",
		Short: "rollback the last migration group",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(m *migrate.Migrator) error {
				if err := m.Lock(cmd.Context()); err != nil {
					return err
				}
				defer m.Unlock(cmd.Context()) //nolint:errcheck

				group, err := m.Rollback(cmd.Context())
				if err != nil {
					return err
				}
				if group.IsZero() {
					fmt.Fprintln(cmd.OutOrStdout(), "there are no groups to roll back")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rolled back %s\n", group)
				return nil
			})
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Print the status of the migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(m *migrate.Migrator) error {
				status, err := m.MigrationsWithStatus(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "migrations: %s\n", status)
				fmt.Fprintf(cmd.OutOrStdout(), "unapplied migrations: %s\n", status.Unapplied())
				return nil
			})
		},
	}

	migrationCmd.AddCommand(initCmd, migrateCmd, rollbackCmd, statusCmd)
	return migrationCmd
}
