// Package main provides the entry point for the scheduled sync Temporal worker.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/helixir/literature-sync-service/internal/app"
	"github.com/helixir/literature-sync-service/internal/config"
	"github.com/helixir/literature-sync-service/internal/observability"
	"github.com/helixir/literature-sync-service/internal/temporal"
	"github.com/helixir/literature-sync-service/internal/temporal/activities"
	"github.com/helixir/literature-sync-service/internal/temporal/workflows"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.Temporal.Enabled {
		return errors.New("temporal is disabled; set LITSYNC_TEMPORAL_ENABLED=true to run the worker")
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Output:    cfg.Logging.Output,
		AddSource: cfg.Logging.AddSource,
	})
	logger = logger.With().Str("component", "worker").Logger()
	logger.Info().Msg("literature-sync-service worker starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger, app.Options{
		BaseContext: ctx,
		ServiceName: "literature-sync-worker",
	})
	if err != nil {
		return err
	}
	defer a.Close()

	temporalClient, err := temporal.NewClient(temporal.ClientConfig{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    observability.NewTemporalLogger(logger),
	})
	if err != nil {
		return err
	}
	defer temporalClient.Close()

	if err := temporal.CheckHealth(ctx, temporalClient); err != nil {
		return fmt.Errorf("temporal health check: %w", err)
	}

	created, err := temporal.EnsureSyncSchedule(ctx, temporalClient.ScheduleClient(), temporal.ScheduleConfig{
		ScheduleID: cfg.Temporal.ScheduleID,
		Cron:       cfg.Temporal.ScheduleCron,
		TaskQueue:  cfg.Temporal.TaskQueue,
		Input: temporal.ScheduledSyncInput{
			Backfill:      cfg.Temporal.BackfillAfterSync && cfg.Annotation.Enabled(),
			BackfillLimit: cfg.Annotation.BackfillBatch,
		},
	})
	if err != nil {
		return fmt.Errorf("ensure sync schedule: %w", err)
	}
	logger.Info().
		Str("schedule_id", cfg.Temporal.ScheduleID).
		Str("cron", cfg.Temporal.ScheduleCron).
		Bool("created", created).
		Msg("sync schedule ready")

	manager, err := temporal.NewWorkerManager(temporalClient, temporal.DefaultWorkerConfig(cfg.Temporal.TaskQueue))
	if err != nil {
		return fmt.Errorf("create worker manager: %w", err)
	}
	manager.RegisterWorkflow(workflows.ScheduledSyncWorkflow, temporal.ScheduledSyncWorkflowName)
	manager.RegisterActivity(activities.NewSyncActivities(a.Service, a.Service, a.Service))

	logger.Info().Str("task_queue", manager.TaskQueue()).Msg("temporal worker starting")
	if err := manager.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run worker: %w", err)
	}

	logger.Info().Msg("literature-sync-service worker stopped")
	return nil
}
