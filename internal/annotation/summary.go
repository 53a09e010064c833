package annotation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/literature-sync-service/internal/domain"
	"github.com/helixir/literature-sync-service/internal/repository"
)

// ErrNothingToSummarize is returned when no record has a completed
// annotation yet.
var ErrNothingToSummarize = errors.New("no annotated records to summarize")

// Summarizer writes research summaries from annotated papers.
type Summarizer interface {
	Summarize(ctx context.Context, req SummaryRequest) (*SummaryDraft, error)
	Model() string
}

// SummaryStore is the subset of the summary repository the service uses.
type SummaryStore interface {
	Latest(ctx context.Context, language string) (*domain.ResearchSummary, error)
	Save(ctx context.Context, s *domain.ResearchSummary) error
	Versions(ctx context.Context, language string, limit int) ([]*domain.ResearchSummary, error)
}

// RecordLister lists stored records.
type RecordLister interface {
	List(ctx context.Context, filter repository.RecordFilter) ([]*domain.LiteratureRecord, int64, error)
}

// SummaryResult is the outcome of one Generate call.
type SummaryResult struct {
	Summary    *domain.ResearchSummary
	UpdateType domain.SummaryUpdateType
	NewPapers  int
	// TrendsErr is set when the stored version kept no fresh trends.
	TrendsErr error
}

// SummaryService keeps one versioned research summary per language.
type SummaryService struct {
	summarizer Summarizer
	summaries  SummaryStore
	records    RecordLister
	logger     zerolog.Logger

	// mu keeps two generations from paying for the same version.
	mu sync.Mutex
}

// NewSummaryService creates a SummaryService. A nil summarizer disables
// generation; stored versions stay readable.
func NewSummaryService(summarizer Summarizer, summaries SummaryStore, records RecordLister, logger zerolog.Logger) *SummaryService {
	return &SummaryService{
		summarizer: summarizer,
		summaries:  summaries,
		records:    records,
		logger:     logger.With().Str("component", "summary").Logger(),
	}
}

// Enabled reports whether Generate can call a model.
func (s *SummaryService) Enabled() bool {
	return s.summarizer != nil
}

// Generate brings the summary in language up to date.
//
// Without force an existing version is revised with the records published
// after its latest paper date, or returned as is with no_update when there
// are none. Otherwise, or when no version exists, a complete summary of the
// newest annotated records is written.
func (s *SummaryService) Generate(ctx context.Context, language string, force bool) (*SummaryResult, error) {
	if s.summarizer == nil {
		return nil, ErrDisabled
	}
	if language == "" {
		return nil, domain.NewValidationError("language", "language is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.summaries.Latest(ctx, language)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("load latest summary: %w", err)
	}

	if prev != nil && !force && prev.LatestPaperDate != nil {
		return s.incremental(ctx, prev)
	}
	return s.complete(ctx, language)
}

func (s *SummaryService) incremental(ctx context.Context, prev *domain.ResearchSummary) (*SummaryResult, error) {
	fresh, newTotal, err := s.records.List(ctx, repository.RecordFilter{
		Annotated:      true,
		PublishedAfter: prev.LatestPaperDate,
		Limit:          MaxSummaryPapers,
	})
	if err != nil {
		return nil, fmt.Errorf("list new annotated records: %w", err)
	}
	if newTotal == 0 {
		s.logger.Info().Str("language", prev.Language).Int("version", prev.Version).Msg("summary is current")
		return &SummaryResult{Summary: prev, UpdateType: domain.SummaryUnchanged}, nil
	}

	total, err := s.annotatedCount(ctx)
	if err != nil {
		return nil, err
	}

	draft, err := s.summarizer.Summarize(ctx, SummaryRequest{
		Language: prev.Language,
		Papers:   papers(fresh, prev.Language),
		Previous: prev.Content,
	})
	if err != nil {
		return nil, fmt.Errorf("summarize new records: %w", err)
	}

	next := &domain.ResearchSummary{
		Language:        prev.Language,
		UpdateType:      domain.SummaryIncremental,
		Content:         draft.Content,
		PaperCount:      int(total),
		NewPapers:       int(newTotal),
		LatestPaperDate: latestDate(prev.LatestPaperDate, fresh),
		Trends:          draft.Trends,
		Model:           draft.Model,
	}
	if draft.TrendsErr != nil {
		next.Trends = prev.Trends
	}
	return s.save(ctx, next, draft.TrendsErr)
}

func (s *SummaryService) complete(ctx context.Context, language string) (*SummaryResult, error) {
	recs, total, err := s.records.List(ctx, repository.RecordFilter{
		Annotated: true,
		Limit:     MaxSummaryPapers,
	})
	if err != nil {
		return nil, fmt.Errorf("list annotated records: %w", err)
	}
	if total == 0 {
		return nil, ErrNothingToSummarize
	}

	draft, err := s.summarizer.Summarize(ctx, SummaryRequest{
		Language: language,
		Papers:   papers(recs, language),
	})
	if err != nil {
		return nil, fmt.Errorf("summarize annotated records: %w", err)
	}

	return s.save(ctx, &domain.ResearchSummary{
		Language:        language,
		UpdateType:      domain.SummaryComplete,
		Content:         draft.Content,
		PaperCount:      int(total),
		NewPapers:       len(recs),
		LatestPaperDate: latestDate(nil, recs),
		Trends:          draft.Trends,
		Model:           draft.Model,
	}, draft.TrendsErr)
}

func (s *SummaryService) save(ctx context.Context, next *domain.ResearchSummary, trendsErr error) (*SummaryResult, error) {
	if err := s.summaries.Save(ctx, next); err != nil {
		return nil, fmt.Errorf("save summary: %w", err)
	}
	if trendsErr != nil {
		s.logger.Warn().Err(trendsErr).Str("language", next.Language).Msg("trend extraction failed")
	}
	s.logger.Info().
		Str("language", next.Language).
		Int("version", next.Version).
		Str("update_type", string(next.UpdateType)).
		Int("new_papers", next.NewPapers).
		Msg("research summary saved")
	return &SummaryResult{
		Summary:    next,
		UpdateType: next.UpdateType,
		NewPapers:  next.NewPapers,
		TrendsErr:  trendsErr,
	}, nil
}

func (s *SummaryService) annotatedCount(ctx context.Context) (int64, error) {
	_, total, err := s.records.List(ctx, repository.RecordFilter{Annotated: true, Limit: 1})
	if err != nil {
		return 0, fmt.Errorf("count annotated records: %w", err)
	}
	return total, nil
}

// Latest returns the newest stored version in language.
func (s *SummaryService) Latest(ctx context.Context, language string) (*domain.ResearchSummary, error) {
	return s.summaries.Latest(ctx, language)
}

// Versions lists stored versions in language, newest first.
func (s *SummaryService) Versions(ctx context.Context, language string, limit int) ([]*domain.ResearchSummary, error) {
	return s.summaries.Versions(ctx, language, limit)
}

// Regenerate updates the summary in every language, continuing past
// failures. It returns the first error.
func (s *SummaryService) Regenerate(ctx context.Context, languages []string) ([]*SummaryResult, error) {
	var (
		results  []*SummaryResult
		firstErr error
	)
	for _, lang := range languages {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		res, err := s.Generate(ctx, lang, false)
		if err != nil {
			s.logger.Warn().Err(err).Str("language", lang).Msg("summary regeneration failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("regenerate %s summary: %w", lang, err)
			}
			continue
		}
		results = append(results, res)
	}
	return results, firstErr
}

func papers(recs []*domain.LiteratureRecord, lang string) []SummaryPaper {
	out := make([]SummaryPaper, 0, len(recs))
	for _, rec := range recs {
		out = append(out, PaperFromRecord(rec, lang))
	}
	return out
}

func latestDate(current *time.Time, recs []*domain.LiteratureRecord) *time.Time {
	latest := current
	for _, rec := range recs {
		if rec.PublicationDate == nil {
			continue
		}
		if latest == nil || rec.PublicationDate.After(*latest) {
			d := *rec.PublicationDate
			latest = &d
		}
	}
	return latest
}
