package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/helixir/literature-sync-service/internal/database"
)

const migrateConnectTimeout = 30 * time.Second

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the literature store schema",
	Long: `migrate applies or rolls back the schema of the literature records, sync
runs, settings, research summaries and timeline tables.

Migrations are embedded in the binary. --path (or
LITSYNC_DATABASE_MIGRATION_PATH) reads them from a directory instead.`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		steps, _ := cmd.Flags().GetInt("steps")
		if steps < 0 {
			return fmt.Errorf("--steps must not be negative")
		}
		return withMigrator(cmd, func(m *database.Migrator, _ zerolog.Logger) error {
			if steps > 0 {
				return m.Steps(steps)
			}
			return m.Up()
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back migrations",
	Long:  "down rolls back --steps migrations, or every migration with --all.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		steps, _ := cmd.Flags().GetInt("steps")
		all, _ := cmd.Flags().GetBool("all")
		switch {
		case steps < 0:
			return fmt.Errorf("--steps must not be negative")
		case steps == 0 && !all:
			return fmt.Errorf("pass --steps N or --all")
		case steps > 0 && all:
			return fmt.Errorf("--steps and --all are exclusive")
		}
		return withMigrator(cmd, func(m *database.Migrator, _ zerolog.Logger) error {
			if all {
				return m.Down()
			}
			return m.Steps(-steps)
		})
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the applied schema version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withMigrator(cmd, func(*database.Migrator, zerolog.Logger) error { return nil })
	},
}

var migrateForceCmd = &cobra.Command{
	Use:   "force VERSION",
	Short: "Mark VERSION as applied and clear the dirty flag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		version, err := strconv.Atoi(args[0])
		if err != nil || version < 0 {
			return fmt.Errorf("version must be a non-negative integer, got %q", args[0])
		}
		return withMigrator(cmd, func(m *database.Migrator, _ zerolog.Logger) error {
			return m.Force(version)
		})
	},
}

func init() {
	migrateCmd.PersistentFlags().String("path", "", "read migrations from this directory instead of the embedded set")
	migrateUpCmd.Flags().Int("steps", 0, "apply at most N migrations (0 applies all)")
	migrateDownCmd.Flags().Int("steps", 0, "roll back N migrations")
	migrateDownCmd.Flags().Bool("all", false, "roll back every migration")

	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd, migrateForceCmd)
	rootCmd.AddCommand(migrateCmd)
}

// withMigrator connects to the database, runs fn and prints the resulting
// schema status. It does not build the rest of the service, so it works
// against an unmigrated database.
func withMigrator(cmd *cobra.Command, fn func(m *database.Migrator, logger zerolog.Logger) error) error {
	cfg, logger, err := loadCLI(cmd)
	if err != nil {
		return err
	}
	path := cfg.Database.MigrationPath
	if p, _ := cmd.Flags().GetString("path"); p != "" {
		path = p
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), migrateConnectTimeout)
	defer cancel()
	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	m, err := database.NewMigrator(db, path, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if cerr := m.Close(); cerr != nil {
			logger.Warn().Err(cerr).Msg("failed to close migrator")
		}
	}()

	if err := fn(m, logger); err != nil {
		return fmt.Errorf("migrate %s: %w", cmd.Name(), err)
	}
	status, err := m.Status()
	if err != nil {
		return err
	}
	return printSchemaStatus(cmd.OutOrStdout(), status, jsonOutput(cmd))
}

type schemaOutput struct {
	database.SchemaStatus
	Pending bool `json:"pending"`
}

func printSchemaStatus(w io.Writer, status database.SchemaStatus, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(schemaOutput{SchemaStatus: status, Pending: status.Pending()})
	}
	state := "current"
	switch {
	case status.Dirty:
		state = "dirty, fix the failed migration and run force"
	case status.Version == 0:
		state = "empty"
	case status.Pending():
		state = fmt.Sprintf("%d pending", status.Latest-status.Version)
	}
	_, err := fmt.Fprintf(w, "schema version %d of %d (%s)\n", status.Version, status.Latest, state)
	return err
}
