package ingest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/literature-sync-service/internal/domain"
	"github.com/helixir/literature-sync-service/internal/papersources"
	"github.com/helixir/literature-sync-service/internal/repository"
)

// fakeSource serves a fixed identifier listing from memory.
type fakeSource struct {
	mu        sync.Mutex
	ids       []string
	records   map[string]*domain.LiteratureRecord
	searchErr map[int]error
	fetchErr  map[string]error
	onFetch   func(id string)
	maxPage   int
	searches  int
	fetches   int
}

func newFakeSource(recs ...*domain.LiteratureRecord) *fakeSource {
	s := &fakeSource{
		records:   make(map[string]*domain.LiteratureRecord),
		searchErr: make(map[int]error),
		fetchErr:  make(map[string]error),
		maxPage:   10000,
	}
	for _, r := range recs {
		s.ids = append(s.ids, r.ExternalID)
		s.records[r.ExternalID] = r
	}
	return s
}

func (s *fakeSource) Search(_ context.Context, params papersources.SearchParams) (*papersources.IDPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searches++
	if err, ok := s.searchErr[params.Offset]; ok {
		return nil, err
	}

	total := len(s.ids)
	start := params.Offset
	if start > total {
		start = total
	}
	end := start + params.Limit
	if end > total {
		end = total
	}
	return &papersources.IDPage{
		IDs:        append([]string(nil), s.ids[start:end]...),
		Total:      total,
		HasMore:    end < total,
		NextOffset: end,
	}, nil
}

func (s *fakeSource) Fetch(_ context.Context, id string) (*domain.LiteratureRecord, error) {
	s.mu.Lock()
	s.fetches++
	hook := s.onFetch
	err := s.fetchErr[id]
	rec := s.records[id]
	s.mu.Unlock()

	if hook != nil {
		hook(id)
	}
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, domain.NewNotFoundError("pubmed article", id)
	}
	cp := *rec
	return &cp, nil
}

func (s *fakeSource) MaxPageSize() int { return s.maxPage }

func (s *fakeSource) Name() string { return "fake" }

// memRecords is an in-memory RecordRepository.
type memRecords struct {
	mu     sync.Mutex
	rows   map[string]*domain.LiteratureRecord
	writes int
	err    error
}

func newMemRecords() *memRecords {
	return &memRecords{rows: make(map[string]*domain.LiteratureRecord)}
}

func (m *memRecords) seed(rec *domain.LiteratureRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	cp.ContentHash = cp.ComputeContentHash()
	m.rows[rec.ExternalID] = &cp
}

func (m *memRecords) get(id string) *domain.LiteratureRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[id]
}

func (m *memRecords) UpsertIfChanged(_ context.Context, rec *domain.LiteratureRecord, initial domain.AnnotationStatus) (domain.UpsertOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	existing, ok := m.rows[rec.ExternalID]
	if ok && existing.ContentHash == rec.ContentHash {
		return domain.OutcomeUnchanged, nil
	}
	cp := *rec
	cp.AnnotationStatus = initial
	cp.Summaries = nil
	cp.KeyTerms = nil
	m.rows[rec.ExternalID] = &cp
	m.writes++
	if ok {
		return domain.OutcomeUpdated, nil
	}
	return domain.OutcomeInserted, nil
}

func (m *memRecords) Get(_ context.Context, id string) (*domain.LiteratureRecord, error) {
	if rec := m.get(id); rec != nil {
		cp := *rec
		return &cp, nil
	}
	return nil, domain.NewNotFoundError("literature record", id)
}

func (m *memRecords) sorted() []*domain.LiteratureRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.LiteratureRecord, 0, len(m.rows))
	for _, r := range m.rows {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out
}

func (m *memRecords) List(_ context.Context, filter repository.RecordFilter) ([]*domain.LiteratureRecord, int64, error) {
	var out []*domain.LiteratureRecord
	for _, r := range m.sorted() {
		if filter.Search == "" || strings.Contains(strings.ToLower(r.Title), strings.ToLower(filter.Search)) {
			out = append(out, r)
		}
	}
	return out, int64(len(out)), nil
}

func (m *memRecords) Stream(ctx context.Context, filter repository.RecordFilter, fn func(*domain.LiteratureRecord) error) error {
	recs, _, _ := m.List(ctx, filter)
	for _, r := range recs {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

func (m *memRecords) Stats(_ context.Context) (*domain.RecordStats, error) {
	return &domain.RecordStats{Total: int64(len(m.sorted()))}, nil
}

func (m *memRecords) KeyTerms(_ context.Context, limit int) ([]domain.KeyTermCount, error) {
	return []domain.KeyTermCount{{Term: "TP53", Count: int64(limit)}}, nil
}

func (m *memRecords) SetAnnotation(_ context.Context, id, hash string, ann *domain.Annotation) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok || r.ContentHash != hash {
		return false, nil
	}
	r.Summaries = ann.Summaries
	r.KeyTerms = ann.KeyTerms
	r.AnnotationModel = ann.Model
	r.AnnotationStatus = domain.AnnotationDone
	return true, nil
}

func (m *memRecords) SetAnnotationStatus(_ context.Context, id string, status domain.AnnotationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return domain.NewNotFoundError("literature record", id)
	}
	r.AnnotationStatus = status
	return nil
}

func (m *memRecords) ListNeedingAnnotation(_ context.Context, limit int) ([]*domain.LiteratureRecord, error) {
	var out []*domain.LiteratureRecord
	for _, r := range m.sorted() {
		if r.AnnotationStatus.NeedsAnnotation() && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

// memRuns is an in-memory SyncRunRepository.
type memRuns struct {
	mu      sync.Mutex
	runs    map[uuid.UUID]*domain.SyncRun
	order   []uuid.UUID
	updates int
}

func newMemRuns() *memRuns {
	return &memRuns{runs: make(map[uuid.UUID]*domain.SyncRun)}
}

func (m *memRuns) Create(_ context.Context, run *domain.SyncRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	run.Status = domain.SyncStatusRunning
	cp := *run
	m.runs[run.ID] = &cp
	m.order = append(m.order, run.ID)
	return nil
}

func (m *memRuns) UpdateCounts(_ context.Context, id uuid.UUID, counts domain.SyncCounts) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok || r.Status != domain.SyncStatusRunning {
		return repository.ErrRunNotRunning
	}
	r.SyncCounts = counts
	m.updates++
	return nil
}

func (m *memRuns) Finalize(_ context.Context, run *domain.SyncRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[run.ID]
	if !ok || r.Status != domain.SyncStatusRunning {
		return repository.ErrRunNotRunning
	}
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *memRuns) Get(_ context.Context, id uuid.UUID) (*domain.SyncRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, domain.NewNotFoundError("sync run", id.String())
	}
	cp := *r
	return &cp, nil
}

func (m *memRuns) Latest(ctx context.Context) (*domain.SyncRun, error) {
	m.mu.Lock()
	if len(m.order) == 0 {
		m.mu.Unlock()
		return nil, domain.NewNotFoundError("sync run", "latest")
	}
	id := m.order[len(m.order)-1]
	m.mu.Unlock()
	return m.Get(ctx, id)
}

func (m *memRuns) LatestSuccessful(_ context.Context) (*domain.SyncRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.order) - 1; i >= 0; i-- {
		r := m.runs[m.order[i]]
		if r.Status.AdvancesWindow() {
			cp := *r
			return &cp, nil
		}
	}
	return nil, domain.NewNotFoundError("sync run", "latest successful")
}

func (m *memRuns) List(_ context.Context, filter repository.SyncRunFilter) ([]*domain.SyncRun, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.SyncRun
	for i := len(m.order) - 1; i >= 0; i-- {
		r := m.runs[m.order[i]]
		if filter.Status == "" || r.Status == filter.Status {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, int64(len(out)), nil
}

func (m *memRuns) AbandonRunning(_ context.Context, keep uuid.UUID, detail string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, r := range m.runs {
		if id != keep && r.Status == domain.SyncStatusRunning {
			now := time.Now().UTC()
			r.Status = domain.SyncStatusFailed
			r.ErrorDetail = detail
			r.EndedAt = &now
			n++
		}
	}
	return n, nil
}

func (m *memRuns) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

// memSettings is an in-memory SettingsRepository with a leased marker.
type memSettings struct {
	mu       sync.Mutex
	values   map[string]string
	holder   string
	lockedAt time.Time
	lost     bool
}

func newMemSettings() *memSettings {
	return &memSettings{values: make(map[string]string)}
}

func (m *memSettings) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memSettings) All(_ context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out, nil
}

func (m *memSettings) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *memSettings) SetMany(_ context.Context, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range values {
		m.values[k] = v
	}
	return nil
}

func (m *memSettings) AcquireSyncLock(_ context.Context, holder string, staleAfter time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.holder != "" && time.Since(m.lockedAt) < staleAfter {
		return false, nil
	}
	m.holder = holder
	m.lockedAt = time.Now()
	return true, nil
}

func (m *memSettings) RefreshSyncLock(_ context.Context, holder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lost || m.holder != holder {
		return repository.ErrSyncLockLost
	}
	m.lockedAt = time.Now()
	return nil
}

func (m *memSettings) ReleaseSyncLock(_ context.Context, holder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.holder == holder {
		m.holder = ""
	}
	return nil
}

func (m *memSettings) SyncLockHolder(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holder, nil
}

func (m *memSettings) hold(holder string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holder = holder
	m.lockedAt = time.Now()
}

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.SyncCompletedEvent
	err    error
}

func (p *recordingPublisher) PublishSyncCompleted(_ context.Context, event domain.SyncCompletedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

// Compile-time interface checks.
var (
	_ papersources.LiteratureSource = (*fakeSource)(nil)
	_ repository.RecordRepository   = (*memRecords)(nil)
	_ repository.SyncRunRepository  = (*memRuns)(nil)
	_ repository.SettingsRepository = (*memSettings)(nil)
	_ EventPublisher                = (*recordingPublisher)(nil)
)

// memTimeline records appended timeline entries per run.
type memTimeline struct {
	mu   sync.Mutex
	ids  map[uuid.UUID][]string
	days map[uuid.UUID]time.Time
	err  error
}

func newMemTimeline() *memTimeline {
	return &memTimeline{ids: make(map[uuid.UUID][]string), days: make(map[uuid.UUID]time.Time)}
}

func (m *memTimeline) Append(_ context.Context, runID uuid.UUID, entryDate time.Time, externalIDs []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.ids[runID] = append(m.ids[runID], externalIDs...)
	m.days[runID] = entryDate
	return int64(len(externalIDs)), nil
}

func (m *memTimeline) List(_ context.Context, filter repository.TimelineFilter) ([]*domain.TimelineEntry, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.TimelineEntry
	for runID, ids := range m.ids {
		day := m.days[runID]
		if filter.Since != nil && day.Before(*filter.Since) {
			continue
		}
		for _, id := range ids {
			out = append(out, &domain.TimelineEntry{RunID: runID, ExternalID: id, EntryDate: day})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID > out[j].ExternalID })
	return out, int64(len(out)), nil
}

func (m *memTimeline) forRun(id uuid.UUID) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ids[id]
}

func (m *memTimeline) day(id uuid.UUID) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.days[id]
}
