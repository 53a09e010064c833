package httpserver

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/literature-sync-service/internal/annotation"
	"github.com/helixir/literature-sync-service/internal/database"
	"github.com/helixir/literature-sync-service/internal/domain"
	"github.com/helixir/literature-sync-service/internal/repository"
)

// ---------------------------------------------------------------------------
// Mock implementations
// ---------------------------------------------------------------------------

// mockSyncService implements SyncService for HTTP handler tests.
type mockSyncService struct {
	startAsyncFn     func(ctx context.Context, mode domain.SyncMode, trigger domain.SyncTrigger) (*domain.SyncRun, error)
	cancelFn         func(runID uuid.UUID) error
	latestRunFn      func(ctx context.Context) (*domain.SyncRun, error)
	getRunFn         func(ctx context.Context, id uuid.UUID) (*domain.SyncRun, error)
	listRunsFn       func(ctx context.Context, filter repository.SyncRunFilter) ([]*domain.SyncRun, int64, error)
	listRecordsFn    func(ctx context.Context, filter repository.RecordFilter) ([]*domain.LiteratureRecord, int64, error)
	getRecordFn      func(ctx context.Context, externalID string) (*domain.LiteratureRecord, error)
	statsFn          func(ctx context.Context) (*domain.RecordStats, error)
	keyTermsFn       func(ctx context.Context, limit int) ([]domain.KeyTermCount, error)
	exportCSVFn      func(ctx context.Context, w io.Writer, filter repository.RecordFilter) (int, error)
	settingsFn       func(ctx context.Context) (map[string]string, error)
	updateSettingsFn func(ctx context.Context, values map[string]string) error
	backfillFn       func(ctx context.Context, limit int) (*annotation.BackfillResult, error)
	generateFn       func(ctx context.Context, language string, force bool) (*annotation.SummaryResult, error)
	latestSummaryFn  func(ctx context.Context, language string) (*domain.ResearchSummary, error)
	versionsFn       func(ctx context.Context, language string, limit int) ([]*domain.ResearchSummary, error)
	timelineFn       func(ctx context.Context, filter repository.TimelineFilter) ([]*domain.TimelineEntry, int64, error)
}

var _ SyncService = (*mockSyncService)(nil)

func (m *mockSyncService) StartAsync(ctx context.Context, mode domain.SyncMode, trigger domain.SyncTrigger) (*domain.SyncRun, error) {
	if m.startAsyncFn != nil {
		return m.startAsyncFn(ctx, mode, trigger)
	}
	return nil, domain.ErrServiceUnavailable
}

func (m *mockSyncService) Cancel(runID uuid.UUID) error {
	if m.cancelFn != nil {
		return m.cancelFn(runID)
	}
	return domain.NewNotFoundError("active sync run", runID.String())
}

func (m *mockSyncService) LatestRun(ctx context.Context) (*domain.SyncRun, error) {
	if m.latestRunFn != nil {
		return m.latestRunFn(ctx)
	}
	return nil, domain.ErrNotFound
}

func (m *mockSyncService) GetRun(ctx context.Context, id uuid.UUID) (*domain.SyncRun, error) {
	if m.getRunFn != nil {
		return m.getRunFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (m *mockSyncService) ListRuns(ctx context.Context, filter repository.SyncRunFilter) ([]*domain.SyncRun, int64, error) {
	if m.listRunsFn != nil {
		return m.listRunsFn(ctx, filter)
	}
	return nil, 0, nil
}

func (m *mockSyncService) ListRecords(ctx context.Context, filter repository.RecordFilter) ([]*domain.LiteratureRecord, int64, error) {
	if m.listRecordsFn != nil {
		return m.listRecordsFn(ctx, filter)
	}
	return nil, 0, nil
}

func (m *mockSyncService) GetRecord(ctx context.Context, externalID string) (*domain.LiteratureRecord, error) {
	if m.getRecordFn != nil {
		return m.getRecordFn(ctx, externalID)
	}
	return nil, domain.ErrNotFound
}

func (m *mockSyncService) Stats(ctx context.Context) (*domain.RecordStats, error) {
	if m.statsFn != nil {
		return m.statsFn(ctx)
	}
	return &domain.RecordStats{}, nil
}

func (m *mockSyncService) KeyTerms(ctx context.Context, limit int) ([]domain.KeyTermCount, error) {
	if m.keyTermsFn != nil {
		return m.keyTermsFn(ctx, limit)
	}
	return nil, nil
}

func (m *mockSyncService) ExportCSV(ctx context.Context, w io.Writer, filter repository.RecordFilter) (int, error) {
	if m.exportCSVFn != nil {
		return m.exportCSVFn(ctx, w, filter)
	}
	return 0, nil
}

func (m *mockSyncService) Settings(ctx context.Context) (map[string]string, error) {
	if m.settingsFn != nil {
		return m.settingsFn(ctx)
	}
	return map[string]string{}, nil
}

func (m *mockSyncService) UpdateSettings(ctx context.Context, values map[string]string) error {
	if m.updateSettingsFn != nil {
		return m.updateSettingsFn(ctx, values)
	}
	return nil
}

func (m *mockSyncService) Backfill(ctx context.Context, limit int) (*annotation.BackfillResult, error) {
	if m.backfillFn != nil {
		return m.backfillFn(ctx, limit)
	}
	return nil, annotation.ErrDisabled
}

func (m *mockSyncService) GenerateSummary(ctx context.Context, language string, force bool) (*annotation.SummaryResult, error) {
	if m.generateFn != nil {
		return m.generateFn(ctx, language, force)
	}
	return nil, annotation.ErrDisabled
}

func (m *mockSyncService) LatestSummary(ctx context.Context, language string) (*domain.ResearchSummary, error) {
	if m.latestSummaryFn != nil {
		return m.latestSummaryFn(ctx, language)
	}
	return nil, domain.ErrNotFound
}

func (m *mockSyncService) SummaryVersions(ctx context.Context, language string, limit int) ([]*domain.ResearchSummary, error) {
	if m.versionsFn != nil {
		return m.versionsFn(ctx, language, limit)
	}
	return nil, nil
}

func (m *mockSyncService) Timeline(ctx context.Context, filter repository.TimelineFilter) ([]*domain.TimelineEntry, int64, error) {
	if m.timelineFn != nil {
		return m.timelineFn(ctx, filter)
	}
	return nil, 0, nil
}

// mockHealth implements HealthChecker.
type mockHealth struct {
	status database.HealthStatus
}

func (m *mockHealth) Health(_ context.Context) database.HealthStatus {
	return m.status
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newTestHTTPServer(svc SyncService) *Server {
	return NewServer(Config{}, svc, &mockHealth{status: database.HealthStatus{Status: "healthy"}}, zerolog.Nop())
}

func serveHTTP(s *Server, r *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, r)
	return rr
}

var testRunID = uuid.MustParse("5f0c42a6-8e2b-4a5d-9d61-0c3f1e7b9a20")

func testRun(status domain.SyncStatus) *domain.SyncRun {
	started := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	run := &domain.SyncRun{
		ID:         testRunID,
		Mode:       domain.SyncModeUpdate,
		Trigger:    domain.TriggerHTTP,
		Query:      "TP53 AND AML",
		DateFrom:   time.Date(2025, time.March, 3, 0, 0, 0, 0, time.UTC),
		DateTo:     time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC),
		PageSize:   200,
		SyncCounts: domain.SyncCounts{Fetched: 5, Inserted: 3, Unchanged: 2},
		Status:     status,
		StartedAt:  started,
	}
	if status.IsTerminal() {
		ended := started.Add(90 * time.Second)
		run.EndedAt = &ended
	}
	return run
}

func testRecord(pmid string) *domain.LiteratureRecord {
	published := time.Date(2024, time.September, 3, 0, 0, 0, 0, time.UTC)
	return &domain.LiteratureRecord{
		ExternalID:       pmid,
		Title:            "TP53 mutations in acute myeloid leukemia",
		Abstract:         "We studied outcomes.",
		PublicationDate:  &published,
		Authors:          []domain.Author{{Name: "Doe J"}, {Name: "Roe R"}},
		ArticleType:      "Journal Article",
		Journal:          "Blood",
		NumReferences:    12,
		AnnotationStatus: domain.AnnotationPending,
		LastSyncedAt:     published,
	}
}
