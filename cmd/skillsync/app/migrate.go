package app

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/promptops/skillsync/database"
	"github.com/promptops/skillsync/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "State store migration tool",
	Long:  `State store migration tool for managing schema versions. Use with 'up', 'down' or 'version' subcommands.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Usage()
	},
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending schema migrations",
	Args:  cobra.NoArgs,
	RunE:  runMigrateUp,
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Revert all schema migrations",
	Long: `Revert all schema migrations, removing the tracked state.
The local artifact cache is not touched; a full sync rebuilds the state.`,
	Args: cobra.NoArgs,
	RunE: runMigrateDown,
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the current schema version",
	Args:  cobra.NoArgs,
	RunE:  runMigrateVersion,
}

func init() {
	migrateDownCmd.Flags().BoolP("yes", "y", false, "Answer yes to all questions")

	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateVersionCmd)
}

// setupMigrator opens the state store without auto-migrating and binds the
// migration tooling to it.
func setupMigrator(cmd *cobra.Command) (database.Migrator, *sql.DB, error) {
	cfg, err := loadConfigFromFlags(cmd)
	if err != nil {
		return nil, nil, err
	}

	sqlDB, err := db.OpenRaw(cfg.DatabasePath)
	if err != nil {
		return nil, nil, err
	}

	m, err := database.NewFromDB(sqlDB)
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return m, sqlDB, nil
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	m, sqlDB, err := setupMigrator(cmd)
	if err != nil {
		return err
	}
	defer closeDB(sqlDB)

	slog.Info("Applying state store migrations")
	if err := m.Up(); err != nil {
		if err == migrate.ErrNoChange {
			slog.Info("State store is already at the latest schema version")
			return nil
		}
		return fmt.Errorf("migration failed: %w", err)
	}

	displayMigrationVersion(m)
	return nil
}

func runMigrateDown(cmd *cobra.Command, _ []string) error {
	m, sqlDB, err := setupMigrator(cmd)
	if err != nil {
		return err
	}
	defer closeDB(sqlDB)

	yes, err := cmd.Flags().GetBool("yes")
	if err != nil {
		return fmt.Errorf("failed to get yes flag: %w", err)
	}

	if !yes {
		fmt.Print("This removes all tracked sync state. Continue? (yes/no): ")
		var response string
		if _, err := fmt.Scanln(&response); err != nil {
			return fmt.Errorf("failed to read user input: %w", err)
		}
		if response != "yes" && response != "y" {
			slog.Info("Migration cancelled by user")
			return nil
		}
	}

	slog.Warn("Migrating down all steps, removing the tracked state")
	if err := m.Down(); err != nil {
		if err == migrate.ErrNoChange {
			slog.Info("No migrations to revert")
			return nil
		}
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("State store schema has been removed")
	return nil
}

func runMigrateVersion(cmd *cobra.Command, _ []string) error {
	m, sqlDB, err := setupMigrator(cmd)
	if err != nil {
		return err
	}
	defer closeDB(sqlDB)

	displayMigrationVersion(m)
	return nil
}

func displayMigrationVersion(m database.Migrator) {
	version, dirty, err := m.Version()
	if err != nil {
		slog.Warn("Unable to get migration version", "error", err)
		return
	}
	if dirty {
		slog.Warn("State store is in a dirty state", "version", version)
		return
	}
	slog.Info("Current schema version", "version", version)
}

func closeDB(sqlDB *sql.DB) {
	if err := sqlDB.Close(); err != nil {
		slog.Error("Error closing state store", "error", err)
	}
}
