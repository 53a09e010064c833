package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/literature-sync-service/internal/domain"
	"github.com/helixir/literature-sync-service/internal/observability"
	"github.com/helixir/literature-sync-service/internal/papersources"
	"github.com/helixir/literature-sync-service/internal/repository"
)

// DefaultLockStaleAfter is how long an unrefreshed sync marker stays valid.
const DefaultLockStaleAfter = 30 * time.Minute

// Request describes one sync run.
type Request struct {
	// RunID is optional. When nil the engine assigns one.
	RunID uuid.UUID

	Query      string             `validate:"required"`
	DateFrom   time.Time          `validate:"required"`
	DateTo     time.Time          `validate:"required,gtefield=DateFrom"`
	PageSize   int                `validate:"min=1"`
	MaxRecords int                `validate:"min=0"`
	Mode       domain.SyncMode    `validate:"required,oneof=rebuild update manual"`
	Trigger    domain.SyncTrigger `validate:"required,oneof=http cli schedule"`
}

// RecordAnnotator receives every record whose content changed.
//
// Handle returns an error only when annotation was attempted and failed.
// Implementations that queue work return nil.
type RecordAnnotator interface {
	Enabled() bool
	Handle(ctx context.Context, rec *domain.LiteratureRecord) error
}

// EventPublisher announces finalized runs.
type EventPublisher interface {
	PublishSyncCompleted(ctx context.Context, event domain.SyncCompletedEvent) error
}

// EngineConfig holds the engine dependencies.
type EngineConfig struct {
	Source   papersources.LiteratureSource
	Records  repository.RecordRepository
	Runs     repository.SyncRunRepository
	Settings repository.SettingsRepository

	// Annotator may be nil, which is the same as annotation being off.
	Annotator RecordAnnotator

	// Publisher may be nil.
	Publisher EventPublisher

	// Metrics may be nil.
	Metrics *observability.Metrics

	// Timeline may be nil. Update runs append the records they inserted.
	Timeline repository.TimelineRepository

	Logger zerolog.Logger

	// LockStaleAfter defaults to DefaultLockStaleAfter.
	LockStaleAfter time.Duration
}

// Engine executes sync runs. At most one run is active across every process
// sharing the store.
type Engine struct {
	source    papersources.LiteratureSource
	records   repository.RecordRepository
	runs      repository.SyncRunRepository
	settings  repository.SettingsRepository
	annotator RecordAnnotator
	publisher EventPublisher
	timeline  repository.TimelineRepository
	metrics   *observability.Metrics
	logger    zerolog.Logger
	validate  *validator.Validate

	staleAfter time.Duration
	now        func() time.Time

	mu     sync.Mutex
	active *activeRun
}

// activeRun is the in-memory state of the run this process is executing.
type activeRun struct {
	run       *domain.SyncRun
	holder    string
	cancelled atomic.Bool

	// inserted holds the ids first stored by an update run.
	inserted []string

	leaseMu  sync.Mutex
	leaseErr error
}

func (ar *activeRun) setLeaseErr(err error) {
	ar.leaseMu.Lock()
	defer ar.leaseMu.Unlock()
	if ar.leaseErr == nil {
		ar.leaseErr = err
	}
}

// lostLease returns the error that ended the marker lease, if any.
func (ar *activeRun) lostLease() error {
	ar.leaseMu.Lock()
	defer ar.leaseMu.Unlock()
	return ar.leaseErr
}

// NewEngine creates a new Engine.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.LockStaleAfter <= 0 {
		cfg.LockStaleAfter = DefaultLockStaleAfter
	}
	return &Engine{
		source:     cfg.Source,
		records:    cfg.Records,
		runs:       cfg.Runs,
		settings:   cfg.Settings,
		annotator:  cfg.Annotator,
		publisher:  cfg.Publisher,
		timeline:   cfg.Timeline,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger.With().Str("component", "ingest").Logger(),
		validate:   validator.New(),
		staleAfter: cfg.LockStaleAfter,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// RunSync executes a run to completion and returns its final state.
//
// A run that was created is always returned, also together with an error
// when it failed. When the sync marker is held the error is
// domain.ErrSyncInProgress and no run exists.
func (e *Engine) RunSync(ctx context.Context, req Request) (*domain.SyncRun, error) {
	ar, err := e.begin(ctx, req)
	if err != nil {
		return nil, err
	}
	return e.execute(ctx, ar)
}

// Start creates the run and executes it in a goroutine bound to ctx. It
// returns as soon as the run exists, so rejection by the sync marker is
// reported synchronously.
func (e *Engine) Start(ctx context.Context, req Request) (*domain.SyncRun, error) {
	ar, err := e.begin(ctx, req)
	if err != nil {
		return nil, err
	}
	snapshot := *ar.run
	go func() {
		_, _ = e.execute(ctx, ar)
	}()
	return &snapshot, nil
}

// Cancel requests cooperative cancellation of the active run. The run stops
// at the next record or page boundary and is finalized as partial.
func (e *Engine) Cancel(runID uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil || e.active.run.ID != runID {
		return domain.NewNotFoundError("active sync run", runID.String())
	}
	e.active.cancelled.Store(true)
	return nil
}

// Active returns the id of the run executing in this process.
func (e *Engine) Active() (uuid.UUID, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return uuid.Nil, false
	}
	return e.active.run.ID, true
}

// validateRequest checks a request against the struct rules and the
// source page limit.
func (e *Engine) validateRequest(req *Request) error {
	if err := e.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return domain.NewValidationError(fieldName(fe.Field()), validationMessage(fe))
		}
		return domain.NewValidationError("request", err.Error())
	}
	if max := e.source.MaxPageSize(); max > 0 && req.PageSize > max {
		return domain.NewValidationError("page_size", fmt.Sprintf("must be at most %d", max))
	}
	return nil
}

func fieldName(field string) string {
	switch field {
	case "DateFrom":
		return "date_from"
	case "DateTo":
		return "date_to"
	case "PageSize":
		return "page_size"
	case "MaxRecords":
		return "max_records"
	}
	if field == "" {
		return field
	}
	return string(field[0]|0x20) + field[1:]
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gtefield":
		return "must not be before date_from"
	case "min":
		return "must be at least " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	}
	return "is invalid"
}

// begin validates the request, takes the sync marker and creates the run.
func (e *Engine) begin(ctx context.Context, req Request) (*activeRun, error) {
	if err := e.validateRequest(&req); err != nil {
		return nil, err
	}

	runID := req.RunID
	if runID == uuid.Nil {
		runID = uuid.New()
	}
	holder := runID.String()

	acquired, err := e.settings.AcquireSyncLock(ctx, holder, e.staleAfter)
	if err != nil {
		return nil, fmt.Errorf("acquire sync marker: %w", err)
	}
	if !acquired {
		e.metrics.RecordSyncRejected()
		e.logger.Info().
			Str("mode", string(req.Mode)).
			Str("trigger", string(req.Trigger)).
			Msg("sync rejected: another run holds the marker")
		return nil, domain.ErrSyncInProgress
	}

	release := func() {
		if err := e.settings.ReleaseSyncLock(context.WithoutCancel(ctx), holder); err != nil {
			e.logger.Error().Err(err).Str("sync_run_id", holder).Msg("failed to release sync marker")
		}
	}

	// Whoever held the marker before us is gone, so its run can never finish.
	abandoned, err := e.runs.AbandonRunning(ctx, runID, "abandoned: owning process stopped")
	if err != nil {
		release()
		return nil, fmt.Errorf("abandon orphaned runs: %w", err)
	}
	if abandoned > 0 {
		e.logger.Warn().Int64("count", abandoned).Msg("marked orphaned sync runs as failed")
	}

	run := &domain.SyncRun{
		ID:         runID,
		Mode:       req.Mode,
		Trigger:    req.Trigger,
		Query:      req.Query,
		DateFrom:   req.DateFrom,
		DateTo:     req.DateTo,
		PageSize:   req.PageSize,
		MaxRecords: req.MaxRecords,
		StartedAt:  e.now(),
	}
	if err := e.runs.Create(ctx, run); err != nil {
		release()
		return nil, fmt.Errorf("create sync run: %w", err)
	}

	ar := &activeRun{run: run, holder: holder}
	e.mu.Lock()
	e.active = ar
	e.mu.Unlock()

	e.metrics.RecordSyncStarted(string(run.Mode), string(run.Trigger))
	return ar, nil
}

var (
	// errRunCancelled is the internal stop signal for cooperative cancellation.
	errRunCancelled = errors.New("sync run cancelled")

	// errStoreWrite marks a failed write to the record store or run log.
	errStoreWrite = errors.New("store write failed")
)

// execute runs the page loop and finalizes the run exactly once.
func (e *Engine) execute(ctx context.Context, ar *activeRun) (run *domain.SyncRun, err error) {
	run = ar.run
	logger := observability.WithSyncContext(observability.LoggerFromContext(ctx, e.logger), run.ID.String(), string(run.Mode), string(run.Trigger))
	ctx = observability.WithSyncRunID(logger.WithContext(ctx), run.ID.String())
	// Bookkeeping must survive cancellation of the caller.
	bookCtx := context.WithoutCancel(ctx)

	defer func() {
		e.mu.Lock()
		if e.active == ar {
			e.active = nil
		}
		e.mu.Unlock()
		if relErr := e.settings.ReleaseSyncLock(bookCtx, ar.holder); relErr != nil {
			logger.Error().Err(relErr).Msg("failed to release sync marker")
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("sync run panicked")
			e.finalize(bookCtx, logger, run, domain.SyncStatusFailed, "internal error")
			err = fmt.Errorf("sync run panicked: %v", r)
		}
	}()

	logger.Info().
		Str("query", run.Query).
		Str("date_from", run.DateFrom.Format(domain.SettingsDateLayout)).
		Str("date_to", run.DateTo.Format(domain.SettingsDateLayout)).
		Int("page_size", run.PageSize).
		Int("max_records", run.MaxRecords).
		Msg("sync run started")

	stopLease := e.keepLease(bookCtx, ar, logger)
	defer stopLease()

	loopErr := e.loop(ctx, bookCtx, ar, logger)

	status := domain.SyncStatusSuccess
	detail := ""
	switch {
	case errors.Is(loopErr, errRunCancelled):
		status = domain.SyncStatusPartial
		detail = "cancelled"
		loopErr = nil
	case loopErr != nil:
		status = domain.SyncStatusFailed
		detail = failureDetail(loopErr)
	case run.Failed > 0:
		status = domain.SyncStatusPartial
	}

	e.appendTimeline(bookCtx, logger, ar)
	e.finalize(bookCtx, logger, run, status, detail)
	if loopErr != nil {
		return run, loopErr
	}
	return run, nil
}

// loop walks the identifier listing page by page.
func (e *Engine) loop(ctx, bookCtx context.Context, ar *activeRun, logger zerolog.Logger) error {
	run := ar.run
	offset := 0
	total := -1
	firstPage := true
	// skipped counts identifiers lost with a failed page. They were never
	// fetched but still count against MaxRecords.
	skipped := 0
	capReached := func() bool {
		return run.MaxRecords > 0 && run.Fetched+skipped >= run.MaxRecords
	}

	for {
		if e.stopRequested(ctx, ar) {
			return errRunCancelled
		}
		if capReached() {
			return nil
		}

		limit := run.PageSize
		if run.MaxRecords > 0 {
			if remaining := run.MaxRecords - run.Fetched - skipped; remaining < limit {
				limit = remaining
			}
		}

		page, err := e.source.Search(ctx, papersources.SearchParams{
			Query:    run.Query,
			DateFrom: run.DateFrom,
			DateTo:   run.DateTo,
			Offset:   offset,
			Limit:    limit,
		})
		if err != nil {
			if e.stopRequested(ctx, ar) {
				return errRunCancelled
			}
			class := domain.Classify(err)
			if class == domain.FailureFatal || firstPage {
				return fmt.Errorf("search page at offset %d: %w", offset, err)
			}
			lost := limit
			if total >= 0 && total-offset < lost {
				lost = total - offset
			}
			if lost < 0 {
				lost = 0
			}
			run.Failed += lost
			skipped += lost
			e.metrics.RecordRecordFailed(string(class))
			logger.Warn().Err(err).Int("offset", offset).Int("skipped", lost).Msg("search page failed, skipping")
			offset += limit
			if total >= 0 && offset >= total {
				return nil
			}
			if err := e.checkpoint(bookCtx, ar); err != nil {
				return err
			}
			continue
		}
		firstPage = false
		total = page.Total

		for _, id := range page.IDs {
			if e.stopRequested(ctx, ar) {
				return errRunCancelled
			}
			if err := ar.lostLease(); err != nil {
				return err
			}
			if capReached() {
				break
			}
			if err := e.processRecord(ctx, bookCtx, ar, id); err != nil {
				return err
			}
		}

		if err := e.checkpoint(bookCtx, ar); err != nil {
			return err
		}

		logger.Debug().
			Int("offset", offset).
			Int("page_ids", len(page.IDs)).
			Int("total", page.Total).
			Int("fetched", run.Fetched).
			Msg("sync page processed")

		if !page.HasMore || len(page.IDs) == 0 {
			return nil
		}
		offset = page.NextOffset
		if offset <= 0 {
			offset += len(page.IDs)
		}
	}
}

// processRecord fetches and reconciles one identifier. A returned error
// aborts the run.
func (e *Engine) processRecord(ctx, bookCtx context.Context, ar *activeRun, id string) error {
	run := ar.run
	logger := observability.WithRecordContext(*zerolog.Ctx(ctx), id)

	run.Fetched++
	rec, err := e.source.Fetch(ctx, id)
	if err != nil {
		if e.stopRequested(ctx, ar) {
			run.Fetched--
			return errRunCancelled
		}
		class := domain.Classify(err)
		if class == domain.FailureFatal {
			return fmt.Errorf("fetch record %s: %w", id, err)
		}
		run.Failed++
		e.metrics.RecordRecordFailed(string(class))
		logger.Warn().Err(err).Str("class", string(class)).Msg("record fetch failed")
		return nil
	}

	rec.ContentHash = rec.ComputeContentHash()
	initial := domain.AnnotationDisabled
	annotate := e.annotator != nil && e.annotator.Enabled()
	if annotate {
		initial = domain.AnnotationPending
	}

	// Store writes use bookCtx so a cancelled caller never leaves a half
	// reconciled record behind.
	outcome, err := e.records.UpsertIfChanged(bookCtx, rec, initial)
	if err != nil {
		return fmt.Errorf("store record %s: %w: %w", id, errStoreWrite, err)
	}
	run.Record(outcome)
	e.metrics.RecordRecordOutcome(string(outcome))
	if outcome == domain.OutcomeInserted && run.Mode == domain.SyncModeUpdate {
		ar.inserted = append(ar.inserted, id)
	}

	if annotate && outcome != domain.OutcomeUnchanged {
		if err := e.annotator.Handle(ctx, rec); err != nil {
			run.AnnotationFailures++
			logger.Warn().Err(err).Msg("annotation unavailable")
		}
	}
	return nil
}

// checkpoint persists progress and renews the marker lease.
func (e *Engine) checkpoint(ctx context.Context, ar *activeRun) error {
	if err := e.settings.RefreshSyncLock(ctx, ar.holder); err != nil {
		if errors.Is(err, repository.ErrSyncLockLost) {
			return fmt.Errorf("refresh sync marker: %w", err)
		}
		return fmt.Errorf("refresh sync marker: %w: %w", errStoreWrite, err)
	}
	if err := e.runs.UpdateCounts(ctx, ar.run.ID, ar.run.SyncCounts); err != nil {
		if errors.Is(err, repository.ErrRunNotRunning) {
			return fmt.Errorf("persist progress: %w", err)
		}
		return fmt.Errorf("persist progress: %w: %w", errStoreWrite, err)
	}
	return nil
}

// keepLease renews the marker every third of the stale interval until the
// returned stop func is called, independent of page boundaries.
func (e *Engine) keepLease(ctx context.Context, ar *activeRun, logger zerolog.Logger) (stop func()) {
	interval := e.staleAfter / 3
	if interval <= 0 {
		interval = e.staleAfter
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
			}
			err := e.settings.RefreshSyncLock(ctx, ar.holder)
			switch {
			case errors.Is(err, repository.ErrSyncLockLost):
				logger.Error().Err(err).Msg("sync marker taken over, stopping run")
				ar.setLeaseErr(fmt.Errorf("refresh sync marker: %w", err))
				return
			case err != nil:
				logger.Warn().Err(err).Msg("failed to refresh sync marker")
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func (e *Engine) stopRequested(ctx context.Context, ar *activeRun) bool {
	return ar.cancelled.Load() || ctx.Err() != nil
}

// appendTimeline records the ids an update run inserted. Records already
// stored stay on the timeline whatever the run status.
func (e *Engine) appendTimeline(ctx context.Context, logger zerolog.Logger, ar *activeRun) {
	if e.timeline == nil || len(ar.inserted) == 0 {
		return
	}
	day := e.now().Truncate(24 * time.Hour)
	n, err := e.timeline.Append(ctx, ar.run.ID, day, ar.inserted)
	if err != nil {
		logger.Error().Err(err).Int("records", len(ar.inserted)).Msg("failed to append timeline entries")
		return
	}
	logger.Debug().Int64("entries", n).Msg("timeline updated")
}

// finalize writes the terminal state and runs the after-finalize steps.
func (e *Engine) finalize(ctx context.Context, logger zerolog.Logger, run *domain.SyncRun, status domain.SyncStatus, detail string) {
	run.Finalize(status, detail, e.now())
	if err := e.runs.Finalize(ctx, run); err != nil {
		logger.Error().Err(err).Msg("failed to finalize sync run")
	}

	if status.AdvancesWindow() {
		if err := e.settings.Set(ctx, domain.SettingLastUpdate, run.EndedAt.Format(domain.SettingsDateLayout)); err != nil {
			logger.Error().Err(err).Msg("failed to record last update")
		}
	}

	if e.publisher != nil {
		if err := e.publisher.PublishSyncCompleted(ctx, domain.NewSyncCompletedEvent(run)); err != nil {
			e.metrics.RecordEventFailed(domain.EventTypeSyncCompleted)
			logger.Warn().Err(err).Msg("failed to publish sync event")
		} else {
			e.metrics.RecordEventPublished(domain.EventTypeSyncCompleted)
		}
	}

	e.metrics.RecordSyncFinished(string(run.Mode), string(status), run.Duration().Seconds())

	logger.Info().
		Str("status", string(status)).
		Int("fetched", run.Fetched).
		Int("inserted", run.Inserted).
		Int("updated", run.Updated).
		Int("unchanged", run.Unchanged).
		Int("failed", run.Failed).
		Int("annotation_failures", run.AnnotationFailures).
		Dur("duration", run.Duration()).
		Msg("sync run finished")
}

// failureDetail is the operator-facing reason stored on a failed run. It
// names the failure class and never carries upstream response text.
func failureDetail(err error) string {
	switch {
	case errors.Is(err, errStoreWrite):
		return "store write failed"
	case errors.Is(err, repository.ErrSyncLockLost):
		return "sync marker lost"
	case errors.Is(err, repository.ErrRunNotRunning):
		return "run was finalized elsewhere"
	case errors.Is(err, domain.ErrUnauthorized):
		return "source rejected credentials"
	}
	var retryErr *papersources.RetryExhaustedError
	if errors.As(err, &retryErr) {
		return "source unavailable after retries"
	}
	switch domain.Classify(err) {
	case domain.FailureFatal:
		return "source unreachable"
	case domain.FailureTransient:
		return "source unavailable"
	}
	return "first page failed"
}
