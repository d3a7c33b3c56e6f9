package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/telhawk-systems/telhawk-metrics/cli/pkg/output"
	"github.com/telhawk-systems/telhawk-metrics/common/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Database migration commands",
	Long: `Apply or roll back the tenant directory schema.

The database URL comes from --database-url, then $DATABASE_URL, then the
profile's database_url.`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		dbURL, path, err := migrateTarget(cmd)
		if err != nil {
			return err
		}

		status, err := database.MigrateUp(cmd.Context(), path, dbURL)
		if err != nil {
			return fmt.Errorf("migrate up failed: %w", err)
		}
		reportMigration(status)
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		dbURL, path, err := migrateTarget(cmd)
		if err != nil {
			return err
		}
		steps, _ := cmd.Flags().GetInt("steps")

		status, err := database.MigrateDown(cmd.Context(), path, dbURL, steps)
		if err != nil {
			return fmt.Errorf("migrate down failed: %w", err)
		}
		reportMigration(status)
		return nil
	},
}

func migrateTarget(cmd *cobra.Command) (dbURL, path string, err error) {
	dbURL, _ = cmd.Flags().GetString("database-url")
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		dbURL = activeProfile(cmd).DatabaseURL
	}
	if dbURL == "" {
		return "", "", fmt.Errorf("database URL is required (use --database-url, DATABASE_URL or the profile's database_url)")
	}

	path, _ = cmd.Flags().GetString("path")
	return dbURL, path, nil
}

func reportMigration(status database.MigrationStatus) {
	if !status.Changed {
		output.Info("No change: schema at version %d", status.Version)
		return
	}
	output.Success("Schema now at version %d", status.Version)
	if status.Dirty {
		output.Warn("Schema is marked dirty; fix the failed migration before retrying")
	}
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)

	migrateCmd.PersistentFlags().String("database-url", "", "PostgreSQL connection URL")
	migrateCmd.PersistentFlags().String("path", "ingest/migrations", "Migrations directory")
	migrateDownCmd.Flags().Int("steps", 1, "Number of migrations to roll back")
}
