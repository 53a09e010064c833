// Package main is the litsync command line tool. It runs syncs and
// exports in-process against the same database the server uses.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/helixir/literature-sync-service/internal/app"
	"github.com/helixir/literature-sync-service/internal/config"
	"github.com/helixir/literature-sync-service/internal/observability"
)

// version is set at build time via ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "litsync",
	Short: "Incremental PubMed literature sync",
	Long: `litsync keeps the literature store in step with PubMed. It can rebuild the
store over the full window, run an incremental update since the last
successful run, backfill missing annotations, write the research summary,
list the timeline of new records, export the store as CSV and manage the
database schema.

Configuration is read from config.yaml and LITSYNC_* environment variables,
the same way the server reads it.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "", "override the configured log level")
	rootCmd.PersistentFlags().Bool("json", false, "print results as JSON")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadCLI reads configuration and builds the console logger for cmd.
func loadCLI(cmd *cobra.Command) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("load config: %w", err)
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}

	lc := observability.DefaultLoggingConfig()
	lc.Level = cfg.Logging.Level
	lc.Format = "console"
	lc.Output = "stderr"
	logger := observability.NewLogger(lc)
	logger = logger.With().Str("component", "cli").Str("command", cmd.Name()).Logger()
	return cfg, logger, nil
}

// withApp loads configuration, builds the service and hands it to fn.
// Components are closed when fn returns.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App, logger zerolog.Logger) error) error {
	cfg, logger, err := loadCLI(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := app.Build(ctx, cfg, logger, app.Options{
		BaseContext: ctx,
		ServiceName: "litsync-cli",
	})
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a, logger)
}

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}
