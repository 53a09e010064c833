// Package annotation derives main findings and key terms for literature
// records through an OpenAI-compatible chat API.
//
// The Service decides when annotation happens:
//
//   - sync: the caller blocks on each record, bounded by a timeout
//   - async: records are queued to a single background worker and dropped
//     when the queue is full
//   - off: nothing is annotated and records are stored as disabled
//
// A failure never propagates beyond the record. The record is marked
// unavailable and a later Backfill pass retries it.
package annotation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/literature-sync-service/internal/domain"
	"github.com/helixir/literature-sync-service/internal/observability"
)

// Annotation modes.
const (
	ModeOff   = "off"
	ModeSync  = "sync"
	ModeAsync = "async"
)

// ErrDisabled is returned by Backfill when no annotator is configured.
var ErrDisabled = errors.New("annotation is disabled")

// Annotator produces an annotation for a block of text.
type Annotator interface {
	Annotate(ctx context.Context, text string) (*domain.Annotation, error)
	Model() string
}

// Store is the subset of the record store the annotator writes to.
type Store interface {
	SetAnnotation(ctx context.Context, externalID, contentHash string, ann *domain.Annotation) (bool, error)
	SetAnnotationStatus(ctx context.Context, externalID string, status domain.AnnotationStatus) error
	ListNeedingAnnotation(ctx context.Context, limit int) ([]*domain.LiteratureRecord, error)
}

// Config configures the Service.
type Config struct {
	Mode          string
	Timeout       time.Duration
	QueueSize     int
	BackfillBatch int
}

// BackfillResult summarizes one backfill pass.
type BackfillResult struct {
	Candidates int `json:"candidates"`
	Annotated  int `json:"annotated"`
	Superseded int `json:"superseded"`
	Failed     int `json:"failed"`
}

type job struct {
	externalID  string
	contentHash string
	text        string
}

// Service applies an Annotator to records according to the configured mode.
type Service struct {
	annotator Annotator
	store     Store
	mode      string
	timeout   time.Duration
	batch     int
	metrics   *observability.Metrics
	logger    zerolog.Logger

	queue chan job

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a new annotation service. A nil annotator forces the
// mode to off.
func NewService(annotator Annotator, store Store, cfg Config, metrics *observability.Metrics, logger zerolog.Logger) *Service {
	if cfg.Mode == "" || annotator == nil {
		cfg.Mode = ModeOff
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.BackfillBatch <= 0 {
		cfg.BackfillBatch = 50
	}

	s := &Service{
		annotator: annotator,
		store:     store,
		mode:      cfg.Mode,
		timeout:   cfg.Timeout,
		batch:     cfg.BackfillBatch,
		metrics:   metrics,
		logger:    logger.With().Str("component", "annotation").Logger(),
	}
	if s.mode == ModeAsync {
		s.queue = make(chan job, cfg.QueueSize)
	}
	return s
}

// Mode returns the effective mode.
func (s *Service) Mode() string {
	return s.mode
}

// Enabled reports whether new records start out pending annotation.
func (s *Service) Enabled() bool {
	return s.mode == ModeSync || s.mode == ModeAsync
}

// Handle annotates rec according to the mode. In sync mode it returns the
// annotation error, if any. In async mode it only enqueues.
func (s *Service) Handle(ctx context.Context, rec *domain.LiteratureRecord) error {
	j := job{externalID: rec.ExternalID, contentHash: rec.ContentHash, text: rec.AnnotationText()}
	switch s.mode {
	case ModeSync:
		if err := s.annotate(ctx, j); err != nil && !isSuperseded(err) {
			return err
		}
	case ModeAsync:
		s.enqueue(j)
	}
	return nil
}

func (s *Service) enqueue(j job) {
	select {
	case s.queue <- j:
		s.metrics.SetAnnotationQueueDepth(len(s.queue))
	default:
		// The record stays pending and the next backfill picks it up.
		s.metrics.RecordAnnotationDropped()
		s.logger.Warn().Str("external_id", j.externalID).Msg("annotation queue full, job dropped")
	}
}

// Start launches the async worker. It is a no-op outside async mode.
func (s *Service) Start(ctx context.Context) {
	if s.mode != ModeAsync {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.worker(ctx)
}

// Stop stops the async worker and waits for the current job. Queued jobs
// are abandoned; their records remain pending.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Service) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.queue:
			s.metrics.SetAnnotationQueueDepth(len(s.queue))
			if err := s.annotate(ctx, j); err != nil && !isSuperseded(err) {
				s.logger.Warn().Err(err).Str("external_id", j.externalID).Msg("async annotation failed")
			}
		}
	}
}

// annotate runs one job and stores the outcome. A failure marks the record
// unavailable.
func (s *Service) annotate(ctx context.Context, j job) error {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	ann, err := s.annotator.Annotate(callCtx, j.text)
	cancel()

	if err != nil {
		if statusErr := s.store.SetAnnotationStatus(context.WithoutCancel(ctx), j.externalID, domain.AnnotationUnavailable); statusErr != nil {
			s.logger.Error().Err(statusErr).Str("external_id", j.externalID).Msg("failed to mark annotation unavailable")
		}
		return fmt.Errorf("annotate %s: %w", j.externalID, err)
	}

	applied, err := s.store.SetAnnotation(context.WithoutCancel(ctx), j.externalID, j.contentHash, ann)
	if err != nil {
		return fmt.Errorf("store annotation for %s: %w", j.externalID, err)
	}
	if !applied {
		s.logger.Debug().Str("external_id", j.externalID).Msg("annotation discarded, record changed meanwhile")
		return errSuperseded
	}
	return nil
}

// errSuperseded reports an annotation computed for content that has since
// been replaced. It is not a failure.
var errSuperseded = errors.New("annotation superseded")

func isSuperseded(err error) bool {
	return errors.Is(err, errSuperseded)
}

// Backfill annotates up to limit records that are pending or unavailable.
// One pass lists candidates once, so records that keep failing are not
// retried within the same pass.
func (s *Service) Backfill(ctx context.Context, limit int) (*BackfillResult, error) {
	if s.annotator == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = s.batch
	}

	records, err := s.store.ListNeedingAnnotation(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list records needing annotation: %w", err)
	}

	result := &BackfillResult{Candidates: len(records)}
	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}
		err := s.annotate(ctx, job{externalID: rec.ExternalID, contentHash: rec.ContentHash, text: rec.AnnotationText()})
		switch {
		case err == nil:
			result.Annotated++
		case isSuperseded(err):
			result.Superseded++
		default:
			result.Failed++
			s.logger.Warn().Err(err).Str("external_id", rec.ExternalID).Msg("backfill annotation failed")
		}
	}

	s.logger.Info().
		Int("candidates", result.Candidates).
		Int("annotated", result.Annotated).
		Int("superseded", result.Superseded).
		Int("failed", result.Failed).
		Msg("annotation backfill finished")
	return result, ctx.Err()
}
