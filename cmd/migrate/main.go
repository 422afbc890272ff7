package main

import (
	"context"
	"os"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"

	"github.com/blagoySimandov/ampleadmin/internal/config"
	"github.com/blagoySimandov/ampleadmin/internal/db"
	"github.com/blagoySimandov/ampleadmin/internal/logger"
	"github.com/blagoySimandov/ampleadmin/internal/migrations"
)

var rootCmd = &cobra.Command{
	Use:          "migrate",
	Short:        "Apply and inspect database migrations",
	SilenceUsage: true,
}

// withMigrator opens the configured database and hands an initialized
// migrator to fn.
func withMigrator(ctx context.Context, fn func(*migrate.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.Configure(cfg.LogLevel, cfg.LogFormat)

	var bdb *bun.DB
	if bdb, err = db.Open(cfg.DatabaseDriver, cfg.DatabaseURL); err != nil {
		return err
	}
	defer bdb.Close()

	migrator := migrate.NewMigrator(bdb, migrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		return err
	}
	return fn(migrator)
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Run all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd.Context(), func(m *migrate.Migrator) error {
			group, err := m.Migrate(cmd.Context())
			if err != nil {
				return err
			}
			if group.IsZero() {
				pterm.Info.Println("No new migrations to run (database is up to date)")
				return nil
			}
			pterm.Success.Printfln("Migrated to %s", group)
			return nil
		})
	},
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Rollback the last migration group",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd.Context(), func(m *migrate.Migrator) error {
			group, err := m.Rollback(cmd.Context())
			if err != nil {
				return err
			}
			if group.IsZero() {
				pterm.Info.Println("No migrations to rollback")
				return nil
			}
			pterm.Success.Printfln("Rolled back %s", group)
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd.Context(), func(m *migrate.Migrator) error {
			ms, err := m.MigrationsWithStatus(cmd.Context())
			if err != nil {
				return err
			}
			data := pterm.TableData{{"Migration", "Status", "Group"}}
			for _, mig := range ms {
				status, group := "pending", "-"
				if mig.IsApplied() {
					status = "applied"
					group = pterm.Sprint(mig.GroupID)
				}
				data = append(data, []string{mig.Name, status, group})
			}
			return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
		})
	},
}

var createCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create new SQL migration files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd.Context(), func(m *migrate.Migrator) error {
			files, err := m.CreateTxSQLMigrations(cmd.Context(), strings.Join(args, "_"))
			if err != nil {
				return err
			}
			for _, f := range files {
				pterm.Success.Printfln("Created migration: %s", f.Path)
			}
			return nil
		})
	},
}

func main() {
	rootCmd.AddCommand(upCmd, downCmd, statusCmd, createCmd)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}
