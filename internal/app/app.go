// Package app assembles the sync service from configuration. It is shared
// by the HTTP server, the Temporal worker and the litsync CLI.
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/helixir/literature-sync-service/internal/annotation"
	"github.com/helixir/literature-sync-service/internal/config"
	"github.com/helixir/literature-sync-service/internal/database"
	"github.com/helixir/literature-sync-service/internal/events"
	"github.com/helixir/literature-sync-service/internal/ingest"
	"github.com/helixir/literature-sync-service/internal/observability"
	"github.com/helixir/literature-sync-service/internal/papersources/pubmed"
	"github.com/helixir/literature-sync-service/internal/repository"
)

// App holds the wired components of one process.
type App struct {
	DB         *database.DB
	Service    *ingest.Service
	Annotation *annotation.Service
	Summaries  *annotation.SummaryService
	Publisher  events.Publisher

	logger zerolog.Logger
}

// Options tune Build for the calling process.
type Options struct {
	// BaseContext bounds background runs and the async annotation worker.
	BaseContext context.Context
	// Metrics may be nil.
	Metrics *observability.Metrics
	// ServiceName is written to the source header of published events.
	ServiceName string
}

// Build connects to the database (running migrations when configured) and
// wires the ingest service with its source, annotator and publisher.
func Build(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts Options) (*App, error) {
	if opts.BaseContext == nil {
		opts.BaseContext = context.Background()
	}

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if cfg.Database.MigrationAutoRun {
		if err := migrate(db, cfg.Database.MigrationPath, logger); err != nil {
			db.Close()
			return nil, err
		}
	}

	records := repository.NewPgRecordRepository(db)
	runs := repository.NewPgSyncRunRepository(db)
	settings := repository.NewPgSettingsRepository(db)
	summaryStore := repository.NewPgSummaryRepository(db)
	timeline := repository.NewPgTimelineRepository(db)

	metrics := opts.Metrics
	source := pubmed.New(pubmed.Config{
		BaseURL:     cfg.PubMed.BaseURL,
		APIKey:      cfg.PubMed.APIKey,
		Email:       cfg.PubMed.Email,
		Tool:        "literature-sync-service",
		Timeout:     cfg.PubMed.Timeout,
		RateLimit:   cfg.PubMed.RateLimit,
		MaxAttempts: cfg.PubMed.MaxAttempts,
		RetryDelay:  cfg.PubMed.RetryDelay,
		OnAttempt: func(status int, retrying bool) {
			metrics.RecordSourceAttempt("pubmed", status, retrying)
		},
	})

	annotator, summarizer := buildAnnotator(cfg, metrics, logger)
	annotations := annotation.NewService(annotator, records, annotation.Config{
		Mode:          cfg.Annotation.Mode,
		Timeout:       cfg.Annotation.Timeout,
		QueueSize:     cfg.Annotation.QueueSize,
		BackfillBatch: cfg.Annotation.BackfillBatch,
	}, metrics, logger)
	annotations.Start(opts.BaseContext)

	var summaries *annotation.SummaryService
	var summaryService ingest.Summaries
	if summarizer != nil {
		summaries = annotation.NewSummaryService(summarizer, summaryStore, records, logger)
		summaryService = summaries
	}

	var publisher events.Publisher = events.Noop{}
	if cfg.Kafka.Enabled {
		publisher = events.NewKafkaPublisher(events.Config{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			ServiceName:  opts.ServiceName,
			BatchTimeout: cfg.Kafka.BatchTimeout,
			WriteTimeout: cfg.Kafka.WriteTimeout,
		}, logger)
		logger.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("kafka publisher enabled")
	}

	engine := ingest.NewEngine(ingest.EngineConfig{
		Source:         source,
		Records:        records,
		Runs:           runs,
		Settings:       settings,
		Annotator:      annotations,
		Publisher:      publisher,
		Timeline:       timeline,
		Metrics:        metrics,
		Logger:         logger,
		LockStaleAfter: cfg.Sync.LockStaleAfter,
	})

	svc := ingest.NewService(ingest.ServiceConfig{
		Engine:           engine,
		Records:          records,
		Runs:             runs,
		Settings:         settings,
		Backfiller:       annotations,
		Summaries:        summaryService,
		SummaryLanguages: cfg.Annotation.Languages,
		Timeline:         timeline,
		Defaults: ingest.Defaults{
			Query:        cfg.Sync.Query,
			PageSize:     cfg.Sync.PageSize,
			MaxRecords:   cfg.Sync.MaxRecords,
			InitialSince: cfg.Sync.InitialSince,
			RebuildFrom:  cfg.Sync.RebuildFrom,
		},
		Logger:      logger,
		BaseContext: opts.BaseContext,
	})

	return &App{
		DB:         db,
		Service:    svc,
		Annotation: annotations,
		Summaries:  summaries,
		Publisher:  publisher,
		logger:     logger,
	}, nil
}

// buildAnnotator returns nils when annotation is off. The summarizer skips
// the breaker so a long summary request does not trip record annotation.
func buildAnnotator(cfg *config.Config, metrics *observability.Metrics, logger zerolog.Logger) (annotation.Annotator, annotation.Summarizer) {
	if !cfg.Annotation.Enabled() {
		return nil, nil
	}
	provider := annotation.NewProvider(annotation.ProviderConfig{
		APIKey:         cfg.Annotation.APIKey,
		Model:          cfg.Annotation.Model,
		BaseURL:        cfg.Annotation.BaseURL,
		Languages:      cfg.Annotation.Languages,
		MaxTokens:      cfg.Annotation.MaxTokens,
		Temperature:    cfg.Annotation.Temperature,
		Timeout:        cfg.Annotation.Timeout,
		SummaryTimeout: cfg.Annotation.SummaryTimeout,
		MaxRetries:     cfg.Annotation.MaxRetries,
		RetryDelay:     cfg.Annotation.RetryDelay,
		Metrics:        metrics,
	})
	logger.Info().
		Str("mode", cfg.Annotation.Mode).
		Str("model", cfg.Annotation.Model).
		Msg("annotation enabled")
	annotator := annotation.NewBreakerAnnotator(provider, annotation.BreakerConfig{
		Failures: cfg.Annotation.BreakerFailures,
		Cooldown: cfg.Annotation.BreakerCooldown,
	}, logger)
	return annotator, provider
}

func migrate(db *database.DB, path string, logger zerolog.Logger) error {
	m, err := database.NewMigrator(db, path, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if cerr := m.Close(); cerr != nil {
			logger.Warn().Err(cerr).Msg("failed to close migrator")
		}
	}()
	if err := m.Up(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Close drains the annotation queue, closes the publisher and the pool.
func (a *App) Close() {
	a.Annotation.Stop()
	if err := a.Publisher.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("failed to close event publisher")
	}
	a.DB.Close()
}
