// Package events publishes sync lifecycle events to Kafka.
package events

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/literature-sync-service/internal/domain"
	"github.com/helixir/literature-sync-service/internal/observability"
)

// Header keys set on every message.
const (
	HeaderEventType     = "event_type"
	HeaderSource        = "source"
	HeaderCorrelationID = "correlation_id"
)

// Publisher announces finalized sync runs.
type Publisher interface {
	PublishSyncCompleted(ctx context.Context, event domain.SyncCompletedEvent) error
	Close() error
}

// messageWriter is the part of kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config holds configuration for the Kafka publisher.
type Config struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string
	// Topic receives every sync event.
	Topic string
	// ServiceName is written to the source header.
	ServiceName string
	// BatchTimeout bounds how long a message waits for a batch.
	BatchTimeout time.Duration
	// WriteTimeout bounds a single write.
	WriteTimeout time.Duration
}

// KafkaPublisher writes sync events to a Kafka topic, keyed by run id so
// events of one run land on the same partition.
type KafkaPublisher struct {
	writer messageWriter
	source string
	topic  string
	logger zerolog.Logger
}

// NewKafkaPublisher creates a publisher backed by a kafka.Writer.
func NewKafkaPublisher(cfg Config, logger zerolog.Logger) *KafkaPublisher {
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return newKafkaPublisher(writer, cfg, logger)
}

func newKafkaPublisher(w messageWriter, cfg Config, logger zerolog.Logger) *KafkaPublisher {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "literature-sync-service"
	}
	return &KafkaPublisher{
		writer: w,
		source: cfg.ServiceName,
		topic:  cfg.Topic,
		logger: logger.With().Str("component", "event_publisher").Str("topic", cfg.Topic).Logger(),
	}
}

// PublishSyncCompleted writes one sync.completed event.
func (p *KafkaPublisher) PublishSyncCompleted(ctx context.Context, event domain.SyncCompletedEvent) error {
	if event.RunID == uuid.Nil || event.EventType == "" {
		return fmt.Errorf("run_id and event_type are required")
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.EventType, err)
	}

	headers := []kafka.Header{
		{Key: HeaderEventType, Value: []byte(event.EventType)},
		{Key: HeaderSource, Value: []byte(p.source)},
	}
	if id := observability.RequestIDFromContext(ctx); id != "" {
		headers = append(headers, kafka.Header{Key: HeaderCorrelationID, Value: []byte(id)})
	}

	msg := kafka.Message{
		Key:     []byte(event.RunID.String()),
		Value:   value,
		Headers: headers,
		Time:    event.OccurredAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write %s event for run %s: %w", event.EventType, event.RunID, err)
	}

	p.logger.Debug().
		Str("event_id", event.EventID).
		Str("sync_run_id", event.RunID.String()).
		Str("status", string(event.Status)).
		Msg("published sync event")
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *KafkaPublisher) Close() error {
	p.logger.Info().Msg("closing event publisher")
	return p.writer.Close()
}

// Noop discards events. It is used when Kafka is disabled.
type Noop struct{}

// PublishSyncCompleted implements Publisher.
func (Noop) PublishSyncCompleted(context.Context, domain.SyncCompletedEvent) error { return nil }

// Close implements Publisher.
func (Noop) Close() error { return nil }
