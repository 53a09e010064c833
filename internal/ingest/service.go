package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/literature-sync-service/internal/annotation"
	"github.com/helixir/literature-sync-service/internal/domain"
	"github.com/helixir/literature-sync-service/internal/repository"
)

// Defaults are the configured fallbacks for settings keys that are absent
// from the store.
type Defaults struct {
	Query        string
	PageSize     int
	MaxRecords   int
	InitialSince string
	RebuildFrom  string
}

// Backfiller re-annotates records that are pending or unavailable.
type Backfiller interface {
	Backfill(ctx context.Context, limit int) (*annotation.BackfillResult, error)
}

// Summaries keeps the versioned research summaries.
type Summaries interface {
	Generate(ctx context.Context, language string, force bool) (*annotation.SummaryResult, error)
	Regenerate(ctx context.Context, languages []string) ([]*annotation.SummaryResult, error)
	Latest(ctx context.Context, language string) (*domain.ResearchSummary, error)
	Versions(ctx context.Context, language string, limit int) ([]*domain.ResearchSummary, error)
}

// ServiceConfig holds the Service dependencies.
type ServiceConfig struct {
	Engine   *Engine
	Records  repository.RecordRepository
	Runs     repository.SyncRunRepository
	Settings repository.SettingsRepository

	// Backfiller may be nil when annotation is not configured.
	Backfiller Backfiller

	// Summaries may be nil when annotation is not configured.
	Summaries Summaries
	// SummaryLanguages are regenerated after an update inserts records.
	SummaryLanguages []string

	// Timeline may be nil.
	Timeline repository.TimelineRepository

	Defaults Defaults
	Logger   zerolog.Logger

	// BaseContext bounds runs started with StartAsync. It is normally the
	// process lifetime context. Defaults to context.Background().
	BaseContext context.Context
}

// Service is the entry point for every trigger. It resolves the query
// window from settings and run history, then hands the run to the Engine.
type Service struct {
	engine     *Engine
	records    repository.RecordRepository
	runs       repository.SyncRunRepository
	settings   repository.SettingsRepository
	backfiller Backfiller
	summaries  Summaries
	languages  []string
	timeline   repository.TimelineRepository
	defaults   Defaults
	logger     zerolog.Logger
	baseCtx    context.Context
	now        func() time.Time
}

// NewService creates a new Service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	return &Service{
		engine:     cfg.Engine,
		records:    cfg.Records,
		runs:       cfg.Runs,
		settings:   cfg.Settings,
		backfiller: cfg.Backfiller,
		summaries:  cfg.Summaries,
		languages:  cfg.SummaryLanguages,
		timeline:   cfg.Timeline,
		defaults:   cfg.Defaults,
		logger:     cfg.Logger.With().Str("component", "ingest_service").Logger(),
		baseCtx:    cfg.BaseContext,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Rebuild runs a sync over the full historical window and waits for it.
func (s *Service) Rebuild(ctx context.Context, trigger domain.SyncTrigger) (*domain.SyncRun, error) {
	req, err := s.ResolveRequest(ctx, domain.SyncModeRebuild, trigger)
	if err != nil {
		return nil, err
	}
	return s.engine.RunSync(ctx, req)
}

// Update runs a sync since the last successful run and waits for it.
func (s *Service) Update(ctx context.Context, trigger domain.SyncTrigger) (*domain.SyncRun, error) {
	req, err := s.ResolveRequest(ctx, domain.SyncModeUpdate, trigger)
	if err != nil {
		return nil, err
	}
	return s.engine.RunSync(ctx, req)
}

// StartAsync starts a run in the background and returns it in running
// state. The run outlives ctx; it is bound to the service base context.
func (s *Service) StartAsync(ctx context.Context, mode domain.SyncMode, trigger domain.SyncTrigger) (*domain.SyncRun, error) {
	req, err := s.ResolveRequest(ctx, mode, trigger)
	if err != nil {
		return nil, err
	}
	return s.engine.Start(s.baseCtx, req)
}

// Cancel requests cooperative cancellation of the active run.
func (s *Service) Cancel(runID uuid.UUID) error {
	return s.engine.Cancel(runID)
}

// Active returns the id of the run executing in this process.
func (s *Service) Active() (uuid.UUID, bool) {
	return s.engine.Active()
}

// ResolveRequest builds the run request for mode from the stored settings.
//
// Update starts at the end date of the latest success or partial run, or at
// sync.initial_since when there is none. Rebuild starts at sync.rebuild_from,
// or January 1st of the previous year. Both end today.
func (s *Service) ResolveRequest(ctx context.Context, mode domain.SyncMode, trigger domain.SyncTrigger) (Request, error) {
	values, err := s.settings.All(ctx)
	if err != nil {
		return Request{}, fmt.Errorf("load settings: %w", err)
	}
	values = s.withDefaults(values)

	today := truncateDay(s.now())
	req := Request{
		Query:      values[domain.SettingQuery],
		DateTo:     today,
		PageSize:   s.intSetting(values, domain.SettingPageSize, s.defaults.PageSize),
		MaxRecords: s.intSetting(values, domain.SettingMaxRecords, s.defaults.MaxRecords),
		Mode:       mode,
		Trigger:    trigger,
	}

	switch mode {
	case domain.SyncModeUpdate:
		from, err := s.updateWindowStart(ctx, values)
		if err != nil {
			return Request{}, err
		}
		req.DateFrom = from
	case domain.SyncModeRebuild:
		from := time.Date(today.Year()-1, time.January, 1, 0, 0, 0, 0, time.UTC)
		if v := values[domain.SettingRebuildFrom]; v != "" {
			d, err := time.Parse(domain.SettingsDateLayout, v)
			if err != nil {
				return Request{}, domain.NewValidationError(domain.SettingRebuildFrom, "must be YYYY-MM-DD")
			}
			from = d
		}
		req.DateFrom = from
	default:
		return Request{}, domain.NewValidationError("mode", "must be rebuild or update")
	}

	if req.DateFrom.After(req.DateTo) {
		req.DateFrom = req.DateTo
	}
	return req, nil
}

func (s *Service) updateWindowStart(ctx context.Context, values map[string]string) (time.Time, error) {
	last, err := s.runs.LatestSuccessful(ctx)
	switch {
	case err == nil && last.EndedAt != nil:
		return truncateDay(*last.EndedAt), nil
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return time.Time{}, fmt.Errorf("load latest successful run: %w", err)
	}

	since := values[domain.SettingInitialSince]
	d, err := time.Parse(domain.SettingsDateLayout, since)
	if err != nil {
		return time.Time{}, domain.NewValidationError(domain.SettingInitialSince, "must be YYYY-MM-DD")
	}
	return d, nil
}

func (s *Service) intSetting(values map[string]string, key string, fallback int) int {
	n, err := strconv.Atoi(values[key])
	if err != nil {
		s.logger.Warn().Str("key", key).Str("value", values[key]).Msg("ignoring malformed setting")
		return fallback
	}
	return n
}

func (s *Service) withDefaults(values map[string]string) map[string]string {
	out := make(map[string]string, len(values)+5)
	out[domain.SettingQuery] = s.defaults.Query
	out[domain.SettingPageSize] = strconv.Itoa(s.defaults.PageSize)
	out[domain.SettingMaxRecords] = strconv.Itoa(s.defaults.MaxRecords)
	out[domain.SettingInitialSince] = s.defaults.InitialSince
	out[domain.SettingRebuildFrom] = s.defaults.RebuildFrom
	for k, v := range values {
		out[k] = v
	}
	return out
}

// Settings returns the writable settings with defaults filled in, plus
// sync.last_update when known. The sync marker is not exposed.
func (s *Service) Settings(ctx context.Context) (map[string]string, error) {
	values, err := s.settings.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	values = s.withDefaults(values)

	out := make(map[string]string, len(domain.WritableSettings)+1)
	for key := range domain.WritableSettings {
		out[key] = values[key]
	}
	if v, ok := values[domain.SettingLastUpdate]; ok {
		out[domain.SettingLastUpdate] = v
	}
	return out, nil
}

// UpdateSettings validates and stores several settings at once. Either all
// keys are written or none.
func (s *Service) UpdateSettings(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return domain.NewValidationError("settings", "at least one key is required")
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clean := make(map[string]string, len(values))
	for _, key := range keys {
		value := strings.TrimSpace(values[key])
		if err := s.validateSetting(key, value); err != nil {
			return err
		}
		clean[key] = value
	}

	if err := s.settings.SetMany(ctx, clean); err != nil {
		return fmt.Errorf("store settings: %w", err)
	}
	s.logger.Info().Strs("keys", keys).Msg("settings updated")
	return nil
}

func (s *Service) validateSetting(key, value string) error {
	if !domain.WritableSettings[key] {
		return domain.NewValidationError(key, "is not a writable setting")
	}

	switch key {
	case domain.SettingQuery:
		if value == "" {
			return domain.NewValidationError(key, "must not be empty")
		}
	case domain.SettingPageSize:
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return domain.NewValidationError(key, "must be a positive integer")
		}
		if max := s.engine.source.MaxPageSize(); max > 0 && n > max {
			return domain.NewValidationError(key, fmt.Sprintf("must be at most %d", max))
		}
	case domain.SettingMaxRecords:
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return domain.NewValidationError(key, "must be a non-negative integer")
		}
	case domain.SettingInitialSince:
		if _, err := time.Parse(domain.SettingsDateLayout, value); err != nil {
			return domain.NewValidationError(key, "must be YYYY-MM-DD")
		}
	case domain.SettingRebuildFrom:
		if value == "" {
			return nil
		}
		if _, err := time.Parse(domain.SettingsDateLayout, value); err != nil {
			return domain.NewValidationError(key, "must be YYYY-MM-DD or empty")
		}
	}
	return nil
}

// Stats returns store aggregates and the date of the last successful run.
func (s *Service) Stats(ctx context.Context) (*domain.RecordStats, error) {
	stats, err := s.records.Stats(ctx)
	if err != nil {
		return nil, err
	}
	last, ok, err := s.settings.Get(ctx, domain.SettingLastUpdate)
	if err != nil {
		return nil, fmt.Errorf("load last update: %w", err)
	}
	if ok {
		stats.LastUpdate = last
	}
	return stats, nil
}

// LatestRun returns the most recently started run.
func (s *Service) LatestRun(ctx context.Context) (*domain.SyncRun, error) {
	return s.runs.Latest(ctx)
}

// GetRun returns a run by id.
func (s *Service) GetRun(ctx context.Context, id uuid.UUID) (*domain.SyncRun, error) {
	return s.runs.Get(ctx, id)
}

// ListRuns returns the run history, newest first.
func (s *Service) ListRuns(ctx context.Context, filter repository.SyncRunFilter) ([]*domain.SyncRun, int64, error) {
	return s.runs.List(ctx, filter)
}

// ListRecords returns a page of records.
func (s *Service) ListRecords(ctx context.Context, filter repository.RecordFilter) ([]*domain.LiteratureRecord, int64, error) {
	return s.records.List(ctx, filter)
}

// GetRecord returns one record by external id.
func (s *Service) GetRecord(ctx context.Context, externalID string) (*domain.LiteratureRecord, error) {
	return s.records.Get(ctx, externalID)
}

// KeyTerms returns the most frequent key terms.
func (s *Service) KeyTerms(ctx context.Context, limit int) ([]domain.KeyTermCount, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 200 {
		limit = 200
	}
	return s.records.KeyTerms(ctx, limit)
}

// Backfill runs one annotation backfill pass.
func (s *Service) Backfill(ctx context.Context, limit int) (*annotation.BackfillResult, error) {
	if s.backfiller == nil {
		return nil, annotation.ErrDisabled
	}
	return s.backfiller.Backfill(ctx, limit)
}

// GenerateSummary brings the research summary in language up to date.
func (s *Service) GenerateSummary(ctx context.Context, language string, force bool) (*annotation.SummaryResult, error) {
	if s.summaries == nil {
		return nil, annotation.ErrDisabled
	}
	return s.summaries.Generate(ctx, language, force)
}

// RegenerateSummaries updates the summary in every configured language.
func (s *Service) RegenerateSummaries(ctx context.Context) ([]*annotation.SummaryResult, error) {
	if s.summaries == nil {
		return nil, annotation.ErrDisabled
	}
	languages := s.languages
	if len(languages) == 0 {
		languages = []string{"en"}
	}
	return s.summaries.Regenerate(ctx, languages)
}

// LatestSummary returns the newest stored summary in language.
func (s *Service) LatestSummary(ctx context.Context, language string) (*domain.ResearchSummary, error) {
	if s.summaries == nil {
		return nil, domain.NewNotFoundError("research summary", language)
	}
	return s.summaries.Latest(ctx, language)
}

// SummaryVersions lists the stored summary versions in language.
func (s *Service) SummaryVersions(ctx context.Context, language string, limit int) ([]*domain.ResearchSummary, error) {
	if s.summaries == nil {
		return nil, nil
	}
	return s.summaries.Versions(ctx, language, limit)
}

// Timeline lists the records first stored by update runs, newest first.
func (s *Service) Timeline(ctx context.Context, filter repository.TimelineFilter) ([]*domain.TimelineEntry, int64, error) {
	if s.timeline == nil {
		return nil, 0, nil
	}
	return s.timeline.List(ctx, filter)
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
