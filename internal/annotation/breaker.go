package annotation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/helixir/literature-sync-service/internal/domain"
)

// BreakerConfig configures the circuit around an Annotator.
type BreakerConfig struct {
	// Failures is the number of consecutive failures that opens the circuit.
	Failures uint32
	// Cooldown is how long the circuit stays open before a probe request.
	Cooldown time.Duration
}

// BreakerAnnotator wraps an Annotator with a circuit breaker so a quota or
// billing outage fails fast instead of spending a timeout on every record.
type BreakerAnnotator struct {
	next Annotator
	cb   *gobreaker.CircuitBreaker[*domain.Annotation]
}

// NewBreakerAnnotator wraps next.
func NewBreakerAnnotator(next Annotator, cfg BreakerConfig, logger zerolog.Logger) *BreakerAnnotator {
	if cfg.Failures == 0 {
		cfg.Failures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Minute
	}

	cb := gobreaker.NewCircuitBreaker[*domain.Annotation](gobreaker.Settings{
		Name:        "annotation",
		MaxRequests: 1,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("annotation circuit breaker state change")
		},
		// Malformed output is the model's fault, not an outage.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrMalformedResponse) ||
				errors.Is(err, ErrEmptyAnnotation) || errors.Is(err, context.Canceled)
		},
	})

	return &BreakerAnnotator{next: next, cb: cb}
}

// Annotate runs the wrapped annotator unless the circuit is open.
func (b *BreakerAnnotator) Annotate(ctx context.Context, text string) (*domain.Annotation, error) {
	ann, err := b.cb.Execute(func() (*domain.Annotation, error) {
		return b.next.Annotate(ctx, text)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("annotation circuit open: %w", domain.ErrServiceUnavailable)
	}
	return ann, err
}

// Model returns the wrapped model identifier.
func (b *BreakerAnnotator) Model() string {
	return b.next.Model()
}

// State returns the breaker state name for health reporting.
func (b *BreakerAnnotator) State() string {
	return b.cb.State().String()
}
