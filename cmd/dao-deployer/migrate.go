package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hashstrat/dao-deployer/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the run database schema",
	Long: `Apply or roll back the PostgreSQL schema used to persist runs.
deploy applies pending migrations itself; use this to prepare a database
ahead of time or to roll back.

Examples:
  dao-deployer migrate up
  dao-deployer migrate down --steps 1`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE:  runMigrateUp,
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back migrations",
	RunE:  runMigrateDown,
}

func init() {
	migrateDownCmd.Flags().Int("steps", 1, "number of migrations to roll back")
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	rootCmd.AddCommand(migrateCmd)
}

func openPostgres(cmd *cobra.Command) (*database.Postgres, error) {
	if !cfg.Database.Enabled {
		return nil, errors.New("migrate needs database.enabled")
	}
	return database.NewPostgres(cmd.Context(), cfg.Database)
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	db, err := openPostgres(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.RunMigrations(); err != nil {
		return err
	}
	fmt.Println("Migrations applied")
	return nil
}

func runMigrateDown(cmd *cobra.Command, args []string) error {
	steps, _ := cmd.Flags().GetInt("steps")
	if steps < 1 {
		return fmt.Errorf("--steps must be at least 1, got %d", steps)
	}

	db, err := openPostgres(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.MigrateDown(steps); err != nil {
		return err
	}
	fmt.Printf("Rolled back %d migration(s)\n", steps)
	return nil
}
