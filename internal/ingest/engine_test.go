package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/literature-sync-service/internal/annotation"
	"github.com/helixir/literature-sync-service/internal/domain"
	"github.com/helixir/literature-sync-service/internal/papersources"
	"github.com/helixir/literature-sync-service/internal/repository"
)

type harness struct {
	source    *fakeSource
	records   *memRecords
	runs      *memRuns
	settings  *memSettings
	publisher *recordingPublisher
	timeline  *memTimeline
	engine    *Engine
}

func newHarness(t *testing.T, source *fakeSource, annotator RecordAnnotator) *harness {
	t.Helper()
	h := &harness{
		source:    source,
		records:   newMemRecords(),
		runs:      newMemRuns(),
		settings:  newMemSettings(),
		publisher: &recordingPublisher{},
		timeline:  newMemTimeline(),
	}
	h.engine = NewEngine(EngineConfig{
		Source:    source,
		Records:   h.records,
		Runs:      h.runs,
		Settings:  h.settings,
		Annotator: annotator,
		Publisher: h.publisher,
		Timeline:  h.timeline,
		Logger:    zerolog.Nop(),
	})
	return h
}

func fixtureRecord(id string) *domain.LiteratureRecord {
	published := time.Date(2024, time.September, 3, 0, 0, 0, 0, time.UTC)
	return &domain.LiteratureRecord{
		ExternalID:      id,
		Title:           "TP53 mutations in AML cohort " + id,
		Abstract:        "Background: TP53. Results: poor survival.",
		PublicationDate: &published,
		Authors:         []domain.Author{{Name: "Doe J"}, {Name: "Roe R"}},
		ArticleType:     "Journal Article",
		Journal:         "Blood",
		NumReferences:   12,
		Revision:        "2024-09-10/v1",
	}
}

func fixtureSource(n int) *fakeSource {
	recs := make([]*domain.LiteratureRecord, 0, n)
	for i := 1; i <= n; i++ {
		recs = append(recs, fixtureRecord(fmt.Sprintf("%d", 38000000+i)))
	}
	return newFakeSource(recs...)
}

func validRequest() Request {
	return Request{
		Query:    "TP53 AND AML",
		DateFrom: time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		DateTo:   time.Date(2024, time.December, 31, 0, 0, 0, 0, time.UTC),
		PageSize: 2,
		Mode:     domain.SyncModeUpdate,
		Trigger:  domain.TriggerCLI,
	}
}

func (h *harness) assertMarkerFree(t *testing.T) {
	t.Helper()
	holder, err := h.settings.SyncLockHolder(context.Background())
	require.NoError(t, err)
	assert.Empty(t, holder, "sync marker must be released")
}

func TestEngine_ZeroResults(t *testing.T) {
	h := newHarness(t, newFakeSource(), nil)

	run, err := h.engine.RunSync(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, domain.SyncStatusSuccess, run.Status)
	assert.Equal(t, domain.SyncCounts{}, run.SyncCounts)
	require.NotNil(t, run.EndedAt)
	h.assertMarkerFree(t)
}

func TestEngine_FixtureCounts(t *testing.T) {
	source := fixtureSource(5)
	h := newHarness(t, source, nil)
	// Two of the five are already stored with identical content.
	h.records.seed(source.records["38000001"])
	h.records.seed(source.records["38000002"])

	run, err := h.engine.RunSync(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, domain.SyncStatusSuccess, run.Status)
	assert.Equal(t, 5, run.Fetched)
	assert.Equal(t, 3, run.Inserted)
	assert.Equal(t, 0, run.Updated)
	assert.Equal(t, 2, run.Unchanged)

	// One record changes upstream.
	changed := *source.records["38000004"]
	changed.Abstract = "Background: TP53. Results: updated survival analysis."
	source.records["38000004"] = &changed

	run, err = h.engine.RunSync(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, domain.SyncStatusSuccess, run.Status)
	assert.Equal(t, 5, run.Fetched)
	assert.Equal(t, 0, run.Inserted)
	assert.Equal(t, 1, run.Updated)
	assert.Equal(t, 4, run.Unchanged)
	assert.Equal(t, changed.Abstract, h.records.get("38000004").Abstract)
}

func TestEngine_IdenticalRerunWritesNothing(t *testing.T) {
	h := newHarness(t, fixtureSource(4), nil)

	_, err := h.engine.RunSync(context.Background(), validRequest())
	require.NoError(t, err)
	writes := h.records.writes

	run, err := h.engine.RunSync(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, 0, run.Inserted)
	assert.Equal(t, 0, run.Updated)
	assert.Equal(t, 4, run.Unchanged)
	assert.Equal(t, writes, h.records.writes)
}

func TestEngine_RejectsWhileMarkerHeld(t *testing.T) {
	h := newHarness(t, fixtureSource(1), nil)
	h.settings.hold(uuid.NewString())

	run, err := h.engine.RunSync(context.Background(), validRequest())

	assert.Nil(t, run)
	assert.ErrorIs(t, err, domain.ErrSyncInProgress)
	assert.Zero(t, h.runs.count(), "a rejected trigger must not create a run")
	assert.Zero(t, h.source.searches)
}

func TestEngine_StaleMarkerIsTakenOver(t *testing.T) {
	h := newHarness(t, fixtureSource(1), nil)
	h.settings.hold("crashed-run")
	h.settings.lockedAt = time.Now().Add(-time.Hour)

	orphan := &domain.SyncRun{ID: uuid.New(), Mode: domain.SyncModeUpdate, Trigger: domain.TriggerSchedule, StartedAt: time.Now().Add(-time.Hour)}
	require.NoError(t, h.runs.Create(context.Background(), orphan))

	run, err := h.engine.RunSync(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusSuccess, run.Status)

	abandoned, err := h.runs.Get(context.Background(), orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusFailed, abandoned.Status)
	h.assertMarkerFree(t)
}

func TestEngine_ExhaustedFetchIsPartial(t *testing.T) {
	source := fixtureSource(5)
	source.fetchErr["38000002"] = &papersources.RetryExhaustedError{
		Attempts: 3,
		Err:      fmt.Errorf("pubmed: status 503: %w", domain.ErrServiceUnavailable),
	}
	h := newHarness(t, source, nil)

	run, err := h.engine.RunSync(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, domain.SyncStatusPartial, run.Status)
	assert.Equal(t, 5, run.Fetched)
	assert.Equal(t, 4, run.Inserted)
	assert.Equal(t, 1, run.Failed)
	assert.Nil(t, h.records.get("38000002"))
	assert.NotNil(t, h.records.get("38000005"), "the run continues past a failed record")
	h.assertMarkerFree(t)

	_, ok, _ := h.settings.Get(context.Background(), domain.SettingLastUpdate)
	assert.False(t, ok, "a partial run does not advance the window")
}

func TestEngine_TimelineRecordsInsertedIDs(t *testing.T) {
	source := fixtureSource(5)
	h := newHarness(t, source, nil)
	h.engine.now = func() time.Time { return time.Date(2025, time.March, 10, 6, 30, 0, 0, time.UTC) }
	h.records.seed(source.records["38000001"])
	h.records.seed(source.records["38000002"])

	run, err := h.engine.RunSync(context.Background(), validRequest())
	require.NoError(t, err)

	entries := h.timeline.forRun(run.ID)
	assert.Equal(t, []string{"38000003", "38000004", "38000005"}, entries)
	assert.Equal(t, time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC), h.timeline.day(run.ID))

	// Updated and unchanged records add nothing.
	changed := *source.records["38000004"]
	changed.Abstract = "Background: TP53. Results: revised."
	source.records["38000004"] = &changed
	again, err := h.engine.RunSync(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, 1, again.Updated)
	assert.Empty(t, h.timeline.forRun(again.ID))
}

func TestEngine_RebuildSkipsTimeline(t *testing.T) {
	h := newHarness(t, fixtureSource(3), nil)

	req := validRequest()
	req.Mode = domain.SyncModeRebuild
	run, err := h.engine.RunSync(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 3, run.Inserted)
	assert.Empty(t, h.timeline.forRun(run.ID))
}

func TestEngine_TimelineFailureKeepsRun(t *testing.T) {
	h := newHarness(t, fixtureSource(2), nil)
	h.timeline.err = errors.New("timeline table missing")

	run, err := h.engine.RunSync(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusSuccess, run.Status)
	assert.Equal(t, 2, run.Inserted)
}

func TestEngine_CancelAfterThirdRecord(t *testing.T) {
	source := fixtureSource(5)
	h := newHarness(t, source, nil)

	req := validRequest()
	req.RunID = uuid.New()
	var fetched atomic.Int32
	source.onFetch = func(string) {
		if fetched.Add(1) == 3 {
			require.NoError(t, h.engine.Cancel(req.RunID))
		}
	}

	run, err := h.engine.RunSync(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, req.RunID, run.ID)
	assert.Equal(t, domain.SyncStatusPartial, run.Status)
	assert.Equal(t, "cancelled", run.ErrorDetail)
	assert.Equal(t, 3, run.Fetched)
	assert.Equal(t, 3, run.Inserted)
	assert.Len(t, h.timeline.forRun(run.ID), 3)
	h.assertMarkerFree(t)

	_, active := h.engine.Active()
	assert.False(t, active)

	// The next run proceeds normally.
	source.onFetch = nil
	next, err := h.engine.RunSync(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusSuccess, next.Status)
	assert.Equal(t, 2, next.Inserted)
	assert.Equal(t, 3, next.Unchanged)
}

func TestEngine_ContextCancellationIsPartial(t *testing.T) {
	source := fixtureSource(5)
	h := newHarness(t, source, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var fetched atomic.Int32
	source.onFetch = func(string) {
		if fetched.Add(1) == 3 {
			cancel()
		}
	}

	run, err := h.engine.RunSync(ctx, validRequest())
	require.NoError(t, err)

	assert.Equal(t, domain.SyncStatusPartial, run.Status)
	assert.Equal(t, 3, run.Fetched)

	stored, err := h.runs.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusPartial, stored.Status, "finalize must survive the cancelled caller")
	h.assertMarkerFree(t)
}

func TestEngine_FatalErrorFailsRun(t *testing.T) {
	source := fixtureSource(5)
	source.fetchErr["38000003"] = fmt.Errorf("pubmed: status 401: %w", domain.ErrUnauthorized)
	h := newHarness(t, source, nil)

	run, err := h.engine.RunSync(context.Background(), validRequest())
	require.Error(t, err)
	require.NotNil(t, run)

	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Equal(t, domain.SyncStatusFailed, run.Status)
	assert.Equal(t, "source rejected credentials", run.ErrorDetail)
	assert.Equal(t, 3, run.Fetched)
	assert.Equal(t, 2, run.Inserted)
	h.assertMarkerFree(t)

	_, ok, _ := h.settings.Get(context.Background(), domain.SettingLastUpdate)
	assert.False(t, ok, "a failed run does not advance the window")
}

func TestEngine_FirstPageFailureFailsRun(t *testing.T) {
	source := fixtureSource(3)
	source.searchErr[0] = fmt.Errorf("pubmed: %w", domain.ErrServiceUnavailable)
	h := newHarness(t, source, nil)

	run, err := h.engine.RunSync(context.Background(), validRequest())
	require.Error(t, err)

	assert.Equal(t, domain.SyncStatusFailed, run.Status)
	assert.Equal(t, "source unavailable", run.ErrorDetail)
	assert.Zero(t, run.Fetched)
	h.assertMarkerFree(t)
}

func TestEngine_LaterPageFailureSkipsPage(t *testing.T) {
	source := fixtureSource(5)
	source.searchErr[2] = fmt.Errorf("pubmed: bad esearch payload: %w", domain.ErrMalformedResponse)
	h := newHarness(t, source, nil)

	run, err := h.engine.RunSync(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, domain.SyncStatusPartial, run.Status)
	assert.Equal(t, 3, run.Fetched)
	assert.Equal(t, 3, run.Inserted)
	assert.Equal(t, 2, run.Failed)
	assert.Nil(t, h.records.get("38000003"))
	assert.NotNil(t, h.records.get("38000005"))
}

func TestEngine_MaxRecordsCap(t *testing.T) {
	source := fixtureSource(5)
	h := newHarness(t, source, nil)

	req := validRequest()
	req.MaxRecords = 3
	run, err := h.engine.RunSync(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, domain.SyncStatusSuccess, run.Status)
	assert.Equal(t, 3, run.Fetched)
	assert.Equal(t, 2, source.searches)
	assert.Nil(t, h.records.get("38000004"))
}

func TestEngine_LostMarkerFailsRun(t *testing.T) {
	h := newHarness(t, fixtureSource(4), nil)
	h.settings.lost = true

	run, err := h.engine.RunSync(context.Background(), validRequest())
	require.Error(t, err)

	assert.ErrorIs(t, err, repository.ErrSyncLockLost)
	assert.Equal(t, domain.SyncStatusFailed, run.Status)
	assert.Equal(t, "sync marker lost", run.ErrorDetail)
	assert.Equal(t, 2, run.Fetched)
}

func TestEngine_LeaseOutlivesSlowPage(t *testing.T) {
	source := fixtureSource(5)
	h := newHarness(t, source, nil)
	h.engine.staleAfter = 50 * time.Millisecond

	req := validRequest()
	req.PageSize = 5
	var fetched atomic.Int32
	var stolen atomic.Bool
	source.onFetch = func(string) {
		time.Sleep(30 * time.Millisecond)
		if fetched.Add(1) == 4 {
			ok, err := h.settings.AcquireSyncLock(context.Background(), "second-trigger", 50*time.Millisecond)
			require.NoError(t, err)
			stolen.Store(ok)
		}
	}

	run, err := h.engine.RunSync(context.Background(), req)
	require.NoError(t, err)

	assert.False(t, stolen.Load(), "the marker must stay fresh while one page is processed")
	assert.Equal(t, domain.SyncStatusSuccess, run.Status)
	assert.Equal(t, 5, run.Fetched)
	h.assertMarkerFree(t)
}

func TestEngine_TakenOverLeaseStopsMidPage(t *testing.T) {
	source := fixtureSource(5)
	h := newHarness(t, source, nil)
	h.engine.staleAfter = 30 * time.Millisecond

	req := validRequest()
	req.PageSize = 5
	var fetched atomic.Int32
	source.onFetch = func(string) {
		if fetched.Add(1) == 2 {
			h.settings.hold("second-trigger")
		}
		time.Sleep(40 * time.Millisecond)
	}

	run, err := h.engine.RunSync(context.Background(), req)
	require.Error(t, err)

	assert.ErrorIs(t, err, repository.ErrSyncLockLost)
	assert.Equal(t, domain.SyncStatusFailed, run.Status)
	assert.Equal(t, "sync marker lost", run.ErrorDetail)
	assert.Less(t, run.Fetched, 5)

	holder, err := h.settings.SyncLockHolder(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "second-trigger", holder, "a run that lost the marker must not release it")
}

func TestEngine_StoreWriteFailureIsFatal(t *testing.T) {
	h := newHarness(t, fixtureSource(3), nil)
	h.records.err = errors.New("connection reset by peer")

	run, err := h.engine.RunSync(context.Background(), validRequest())
	require.Error(t, err)

	assert.Equal(t, domain.SyncStatusFailed, run.Status)
	assert.Equal(t, "store write failed", run.ErrorDetail)
	assert.Equal(t, 1, run.Fetched)
	assert.NotContains(t, run.ErrorDetail, "connection reset")
	h.assertMarkerFree(t)
}

func TestEngine_PanicIsRecovered(t *testing.T) {
	source := fixtureSource(2)
	source.onFetch = func(string) { panic("boom") }
	h := newHarness(t, source, nil)

	run, err := h.engine.RunSync(context.Background(), validRequest())
	require.Error(t, err)

	assert.Contains(t, err.Error(), "panicked")
	assert.Equal(t, domain.SyncStatusFailed, run.Status)
	assert.Equal(t, "internal error", run.ErrorDetail)
	h.assertMarkerFree(t)
}

func TestEngine_AfterFinalize(t *testing.T) {
	h := newHarness(t, fixtureSource(2), nil)

	run, err := h.engine.RunSync(context.Background(), validRequest())
	require.NoError(t, err)

	stored, err := h.runs.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusSuccess, stored.Status)
	assert.Equal(t, 2, stored.Inserted)

	lastUpdate, ok, err := h.settings.Get(context.Background(), domain.SettingLastUpdate)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, run.EndedAt.Format(domain.SettingsDateLayout), lastUpdate)

	require.Len(t, h.publisher.events, 1)
	event := h.publisher.events[0]
	assert.Equal(t, domain.EventTypeSyncCompleted, event.EventType)
	assert.Equal(t, run.ID, event.RunID)
	assert.Equal(t, domain.SyncStatusSuccess, event.Status)
	assert.Equal(t, 2, event.Counts.Inserted)
}

func TestEngine_PublishFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, fixtureSource(1), nil)
	h.publisher.err = errors.New("broker down")

	run, err := h.engine.RunSync(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusSuccess, run.Status)
}

func TestEngine_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Request)
		field  string
	}{
		{name: "empty query", mutate: func(r *Request) { r.Query = "" }, field: "query"},
		{name: "inverted window", mutate: func(r *Request) { r.DateTo = r.DateFrom.AddDate(0, 0, -1) }, field: "date_to"},
		{name: "zero page size", mutate: func(r *Request) { r.PageSize = 0 }, field: "page_size"},
		{name: "page size above source limit", mutate: func(r *Request) { r.PageSize = 20 }, field: "page_size"},
		{name: "negative max records", mutate: func(r *Request) { r.MaxRecords = -1 }, field: "max_records"},
		{name: "unknown mode", mutate: func(r *Request) { r.Mode = "full" }, field: "mode"},
		{name: "missing trigger", mutate: func(r *Request) { r.Trigger = "" }, field: "trigger"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := fixtureSource(1)
			source.maxPage = 10
			h := newHarness(t, source, nil)

			req := validRequest()
			tt.mutate(&req)
			run, err := h.engine.RunSync(context.Background(), req)

			assert.Nil(t, run)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
			var verr *domain.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
			assert.Zero(t, h.runs.count())
			h.assertMarkerFree(t)
		})
	}
}

func TestEngine_AnnotationFailureIsNonFatal(t *testing.T) {
	records := newMemRecords()
	svc := annotation.NewService(failingAnnotator{}, records, annotation.Config{Mode: annotation.ModeSync}, nil, zerolog.Nop())

	h := newHarness(t, fixtureSource(2), svc)
	h.records = records
	h.engine.records = records

	run, err := h.engine.RunSync(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, domain.SyncStatusSuccess, run.Status)
	assert.Equal(t, 2, run.Inserted)
	assert.Equal(t, 2, run.AnnotationFailures)
	assert.Equal(t, domain.AnnotationUnavailable, records.get("38000001").AnnotationStatus)
}

func TestEngine_AnnotationModes(t *testing.T) {
	t.Run("sync stores findings", func(t *testing.T) {
		records := newMemRecords()
		svc := annotation.NewService(staticAnnotator{}, records, annotation.Config{Mode: annotation.ModeSync}, nil, zerolog.Nop())
		h := newHarness(t, fixtureSource(1), svc)
		h.engine.records = records

		run, err := h.engine.RunSync(context.Background(), validRequest())
		require.NoError(t, err)
		assert.Zero(t, run.AnnotationFailures)

		rec := records.get("38000001")
		assert.Equal(t, domain.AnnotationDone, rec.AnnotationStatus)
		assert.Equal(t, "TP53 predicts poor survival", rec.MainFindings("en"))
	})

	t.Run("off stores disabled", func(t *testing.T) {
		h := newHarness(t, fixtureSource(1), nil)
		_, err := h.engine.RunSync(context.Background(), validRequest())
		require.NoError(t, err)
		assert.Equal(t, domain.AnnotationDisabled, h.records.get("38000001").AnnotationStatus)
	})

	t.Run("unchanged records are not re-annotated", func(t *testing.T) {
		records := newMemRecords()
		counter := &countingAnnotator{}
		svc := annotation.NewService(counter, records, annotation.Config{Mode: annotation.ModeSync}, nil, zerolog.Nop())
		h := newHarness(t, fixtureSource(2), svc)
		h.engine.records = records

		_, err := h.engine.RunSync(context.Background(), validRequest())
		require.NoError(t, err)
		_, err = h.engine.RunSync(context.Background(), validRequest())
		require.NoError(t, err)
		assert.Equal(t, int32(2), counter.calls.Load())
	})
}

func TestEngine_StartAndCancel(t *testing.T) {
	source := fixtureSource(3)
	h := newHarness(t, source, nil)

	release := make(chan struct{})
	source.onFetch = func(string) { <-release }

	run, err := h.engine.Start(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusRunning, run.Status)

	active, ok := h.engine.Active()
	require.True(t, ok)
	assert.Equal(t, run.ID, active)

	// A second trigger is rejected synchronously.
	_, err = h.engine.Start(context.Background(), validRequest())
	assert.ErrorIs(t, err, domain.ErrSyncInProgress)

	require.NoError(t, h.engine.Cancel(run.ID))
	close(release)

	require.Eventually(t, func() bool {
		_, ok := h.engine.Active()
		return !ok
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		holder, _ := h.settings.SyncLockHolder(context.Background())
		return holder == ""
	}, 2*time.Second, 5*time.Millisecond)

	stored, err := h.runs.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusPartial, stored.Status)
	assert.Equal(t, 1, stored.Fetched)
}

func TestEngine_CancelUnknownRun(t *testing.T) {
	h := newHarness(t, fixtureSource(1), nil)
	err := h.engine.Cancel(uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

type failingAnnotator struct{}

func (failingAnnotator) Annotate(context.Context, string) (*domain.Annotation, error) {
	return nil, fmt.Errorf("xai: %w", domain.ErrRateLimited)
}

func (failingAnnotator) Model() string { return "failing" }

type staticAnnotator struct{}

func (staticAnnotator) Annotate(context.Context, string) (*domain.Annotation, error) {
	return &domain.Annotation{
		Summaries: map[string]string{"en": "TP53 predicts poor survival"},
		KeyTerms:  []string{"TP53"},
		Model:     "static",
	}, nil
}

func (staticAnnotator) Model() string { return "static" }

type countingAnnotator struct {
	calls atomic.Int32
}

func (c *countingAnnotator) Annotate(ctx context.Context, text string) (*domain.Annotation, error) {
	c.calls.Add(1)
	return staticAnnotator{}.Annotate(ctx, text)
}

func (c *countingAnnotator) Model() string { return "counting" }
