// Package config provides configuration management for the literature sync service.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// SSL mode constants for database connections.
const (
	SSLModeDisable    = "disable"
	SSLModeRequire    = "require"
	SSLModeVerifyCA   = "verify-ca"
	SSLModeVerifyFull = "verify-full"
)

// Annotation modes.
const (
	AnnotationModeOff   = "off"
	AnnotationModeSync  = "sync"
	AnnotationModeAsync = "async"
)

// DefaultQuery is the search the service was built around: TP53 in acute
// myeloid leukemia.
const DefaultQuery = "(acute myeloid leukemia[Title/Abstract] OR AML[Title/Abstract]) AND (TP53[Title/Abstract] OR p53[Title/Abstract])"

// Config holds all configuration for the literature sync service.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Temporal   TemporalConfig   `mapstructure:"temporal"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	PubMed     PubMedConfig     `mapstructure:"pubmed"`
	Sync       SyncConfig       `mapstructure:"sync"`
	Annotation AnnotationConfig `mapstructure:"annotation"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the servers to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP API port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// GRPCPort is the gRPC health port (default: 9090).
	GRPCPort int `mapstructure:"grpc_port"`
	// MetricsPort is the Prometheus metrics port (default: 9091).
	MetricsPort int `mapstructure:"metrics_port"`
	// ReadTimeout is the maximum duration for reading a request.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing a response. The
	// CSV export streams, so keep this generous.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// TriggerRateLimit is the number of sync trigger requests allowed per
	// client IP per TriggerRateWindow.
	TriggerRateLimit int `mapstructure:"trigger_rate_limit"`
	// TriggerRateWindow is the window for TriggerRateLimit.
	TriggerRateWindow time.Duration `mapstructure:"trigger_rate_window"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	// SSLMode defaults to "require". Use "disable" only for local development.
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath overrides the migrations embedded in the binary.
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun applies pending migrations on startup.
	MigrationAutoRun       bool `mapstructure:"migration_auto_run"`
	StatementCacheCapacity int  `mapstructure:"statement_cache_capacity"`
}

// TemporalConfig holds the scheduled sync settings.
type TemporalConfig struct {
	// Enabled turns on the schedule and the worker.
	Enabled   bool   `mapstructure:"enabled"`
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
	// ScheduleID names the Temporal schedule that starts update syncs.
	ScheduleID string `mapstructure:"schedule_id"`
	// ScheduleCron is a cron expression; the default is Monday 09:00.
	ScheduleCron string `mapstructure:"schedule_cron"`
	// BackfillAfterSync runs an annotation backfill pass after each
	// scheduled sync.
	BackfillAfterSync bool `mapstructure:"backfill_after_sync"`
	// RegenerateSummaries refreshes the research summaries after a
	// scheduled sync that inserted records.
	RegenerateSummaries bool `mapstructure:"regenerate_summaries"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is stdout or stderr.
	Output string `mapstructure:"output"`
	// AddSource adds caller file and line.
	AddSource bool `mapstructure:"add_source"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// KafkaConfig holds the sync event publisher settings.
type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// PubMedConfig holds the literature source settings.
type PubMedConfig struct {
	BaseURL string `mapstructure:"base_url"`
	// APIKey is loaded from LITSYNC_PUBMED_API_KEY only.
	APIKey      string        `mapstructure:"-"`
	Email       string        `mapstructure:"email"`
	Timeout     time.Duration `mapstructure:"timeout"`
	RateLimit   float64       `mapstructure:"rate_limit"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
}

// SyncConfig holds ingestion defaults. Values stored in the settings table
// take precedence at run time.
type SyncConfig struct {
	Query      string `mapstructure:"query"`
	PageSize   int    `mapstructure:"page_size"`
	MaxRecords int    `mapstructure:"max_records"`
	// InitialSince is the update window start used before any run succeeded.
	InitialSince string `mapstructure:"initial_since"`
	// RebuildFrom overrides the rebuild window start (January 1st of the
	// previous year) when set.
	RebuildFrom string `mapstructure:"rebuild_from"`
	// LockStaleAfter is how long an unrefreshed sync marker is honored.
	LockStaleAfter time.Duration `mapstructure:"lock_stale_after"`
}

// AnnotationConfig holds the LLM annotator settings.
type AnnotationConfig struct {
	// Mode is off, sync or async.
	Mode    string `mapstructure:"mode"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
	// APIKey is loaded from LITSYNC_ANNOTATION_API_KEY (or XAI_API_KEY) only.
	APIKey    string        `mapstructure:"-"`
	Languages []string      `mapstructure:"languages"`
	Timeout   time.Duration `mapstructure:"timeout"`
	// SummaryTimeout bounds one research summary request.
	SummaryTimeout time.Duration `mapstructure:"summary_timeout"`
	MaxTokens      int           `mapstructure:"max_tokens"`
	Temperature    float64       `mapstructure:"temperature"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	QueueSize      int           `mapstructure:"queue_size"`
	// BreakerFailures is the consecutive failure count that opens the circuit.
	BreakerFailures uint32 `mapstructure:"breaker_failures"`
	// BreakerCooldown is how long the circuit stays open before probing.
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
	BackfillBatch   int           `mapstructure:"backfill_batch"`
}

// Enabled reports whether annotation runs at all.
func (c *AnnotationConfig) Enabled() bool {
	return c.Mode == AnnotationModeSync || c.Mode == AnnotationModeAsync
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}
	if c.StatementCacheCapacity > 0 {
		params.Set("statement_cache_capacity", fmt.Sprintf("%d", c.StatementCacheCapacity))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// GRPCAddress returns the gRPC server address.
func (c *ServerConfig) GRPCAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.GRPCPort)
}

// MetricsAddress returns the metrics server address.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// Load reads configuration from defaults, an optional config.yaml, a .env
// file and LITSYNC_* environment variables, in increasing precedence.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("LITSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/literature-sync-service")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
func loadSecrets(cfg *Config) {
	cfg.PubMed.APIKey = os.Getenv("LITSYNC_PUBMED_API_KEY")

	cfg.Annotation.APIKey = os.Getenv("LITSYNC_ANNOTATION_API_KEY")
	if cfg.Annotation.APIKey == "" {
		cfg.Annotation.APIKey = os.Getenv("XAI_API_KEY")
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.grpc_port", 9090)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "5m")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.trigger_rate_limit", 10)
	v.SetDefault("server.trigger_rate_window", "1m")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "litsync")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "literature_sync")
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "")
	v.SetDefault("database.migration_auto_run", false)
	v.SetDefault("database.statement_cache_capacity", 512)

	v.SetDefault("temporal.enabled", false)
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "literature-sync")
	v.SetDefault("temporal.schedule_id", "literature-sync-weekly")
	v.SetDefault("temporal.schedule_cron", "0 9 * * 1")
	v.SetDefault("temporal.backfill_after_sync", true)
	v.SetDefault("temporal.regenerate_summaries", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "events.literature_sync")
	v.SetDefault("kafka.batch_timeout", "10ms")
	v.SetDefault("kafka.write_timeout", "10s")

	v.SetDefault("pubmed.base_url", "https://eutils.ncbi.nlm.nih.gov/entrez/eutils")
	v.SetDefault("pubmed.email", "")
	v.SetDefault("pubmed.timeout", "30s")
	// NCBI allows 3 req/s without an API key; 0 lets the client pick 10 when a key is set.
	v.SetDefault("pubmed.rate_limit", 0)
	v.SetDefault("pubmed.max_attempts", 3)
	v.SetDefault("pubmed.retry_delay", "500ms")

	v.SetDefault("sync.query", DefaultQuery)
	v.SetDefault("sync.page_size", 100)
	v.SetDefault("sync.max_records", 0)
	v.SetDefault("sync.initial_since", "2024-08-12")
	v.SetDefault("sync.rebuild_from", "")
	v.SetDefault("sync.lock_stale_after", "30m")

	v.SetDefault("annotation.mode", AnnotationModeOff)
	v.SetDefault("annotation.base_url", "https://api.x.ai/v1")
	v.SetDefault("annotation.model", "grok-3-mini")
	v.SetDefault("annotation.languages", []string{"en"})
	v.SetDefault("annotation.timeout", "20s")
	v.SetDefault("annotation.summary_timeout", "2m")
	v.SetDefault("annotation.max_tokens", 200)
	v.SetDefault("annotation.temperature", 0.3)
	v.SetDefault("annotation.max_retries", 2)
	v.SetDefault("annotation.retry_delay", "1s")
	v.SetDefault("annotation.queue_size", 256)
	v.SetDefault("annotation.breaker_failures", 5)
	v.SetDefault("annotation.breaker_cooldown", "60s")
	v.SetDefault("annotation.backfill_batch", 50)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	for name, port := range map[string]int{
		"HTTP":    c.Server.HTTPPort,
		"gRPC":    c.Server.GRPCPort,
		"metrics": c.Server.MetricsPort,
	} {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("invalid %s port: %d", name, port)
		}
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.PubMed.RateLimit < 0 {
		return fmt.Errorf("pubmed rate_limit must not be negative")
	}
	if c.PubMed.MaxAttempts < 1 {
		return fmt.Errorf("pubmed max_attempts must be at least 1")
	}

	if c.Sync.PageSize < 1 || c.Sync.PageSize > 10000 {
		return fmt.Errorf("sync page_size must be between 1 and 10000")
	}
	if c.Sync.MaxRecords < 0 {
		return fmt.Errorf("sync max_records must not be negative")
	}
	if _, err := time.Parse("2006-01-02", c.Sync.InitialSince); err != nil {
		return fmt.Errorf("sync initial_since must be YYYY-MM-DD: %w", err)
	}
	if c.Sync.RebuildFrom != "" {
		if _, err := time.Parse("2006-01-02", c.Sync.RebuildFrom); err != nil {
			return fmt.Errorf("sync rebuild_from must be YYYY-MM-DD: %w", err)
		}
	}

	switch c.Annotation.Mode {
	case AnnotationModeOff:
	case AnnotationModeSync, AnnotationModeAsync:
		if c.Annotation.APIKey == "" {
			return fmt.Errorf("annotation mode %q requires LITSYNC_ANNOTATION_API_KEY to be set", c.Annotation.Mode)
		}
		if len(c.Annotation.Languages) == 0 {
			return fmt.Errorf("annotation requires at least one language")
		}
	default:
		return fmt.Errorf("invalid annotation mode: %s", c.Annotation.Mode)
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required when kafka is enabled")
	}

	return nil
}
