package activities

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/sdk/activity"
	sdktemporal "go.temporal.io/sdk/temporal"

	"github.com/helixir/literature-sync-service/internal/annotation"
	"github.com/helixir/literature-sync-service/internal/domain"
	"github.com/helixir/literature-sync-service/internal/observability"
	"github.com/helixir/literature-sync-service/internal/temporal"
)

// heartbeatInterval is how often a running sync reports liveness.
const heartbeatInterval = 30 * time.Second

// Syncer runs an update sync. ingest.Service implements it.
type Syncer interface {
	Update(ctx context.Context, trigger domain.SyncTrigger) (*domain.SyncRun, error)
}

// Backfiller annotates records that lack summaries.
type Backfiller interface {
	Backfill(ctx context.Context, limit int) (*annotation.BackfillResult, error)
}

// SummaryRegenerator refreshes the research summaries.
type SummaryRegenerator interface {
	RegenerateSummaries(ctx context.Context) ([]*annotation.SummaryResult, error)
}

// SyncActivities provides the Temporal activities of the scheduled sync.
// Methods on this struct are registered as Temporal activities via the worker.
type SyncActivities struct {
	syncer     Syncer
	backfiller Backfiller
	summaries  SummaryRegenerator
}

// NewSyncActivities creates a new SyncActivities instance. backfiller and
// summaries may be nil when annotation is off.
func NewSyncActivities(syncer Syncer, backfiller Backfiller, summaries SummaryRegenerator) *SyncActivities {
	return &SyncActivities{syncer: syncer, backfiller: backfiller, summaries: summaries}
}

// RunUpdateSync executes one update sync to completion.
//
// A run held off by the sync marker, a rejected request and rejected source
// credentials fail with non-retryable error types. Any other failed run is
// returned as retryable so the retry policy decides.
func (a *SyncActivities) RunUpdateSync(ctx context.Context, input RunUpdateSyncInput) (*RunUpdateSyncOutput, error) {
	logger := activity.GetLogger(ctx)
	trigger := input.Trigger
	if trigger == "" {
		trigger = domain.TriggerSchedule
	}
	info := activity.GetInfo(ctx)
	logger.Info("starting update sync", "trigger", trigger, "attempt", info.Attempt)
	ctx = observability.WithWorkflow(ctx, info.WorkflowExecution.ID, info.WorkflowExecution.RunID)

	stop := startHeartbeat(ctx)
	run, err := a.syncer.Update(ctx, trigger)
	stop()

	if err != nil {
		switch {
		case errors.Is(err, domain.ErrSyncInProgress):
			logger.Info("update sync skipped, another run holds the marker")
			return nil, sdktemporal.NewNonRetryableApplicationError("sync already in progress", temporal.ErrTypeSyncInProgress, err)
		case errors.Is(err, domain.ErrInvalidInput):
			return nil, sdktemporal.NewNonRetryableApplicationError("sync request rejected", temporal.ErrTypeInvalidInput, err)
		case errors.Is(err, domain.ErrUnauthorized):
			return nil, sdktemporal.NewNonRetryableApplicationError("source rejected credentials", temporal.ErrTypeUnauthorized, err)
		}
		runID := ""
		if run != nil {
			runID = run.ID.String()
		}
		logger.Warn("update sync failed", "runID", runID, "error", err)
		return nil, sdktemporal.NewApplicationErrorWithCause("update sync failed", temporal.ErrTypeSyncFailed, err, runID)
	}

	if err := interruptedError(ctx, run); err != nil {
		logger.Warn("update sync interrupted", "runID", run.ID.String(), "fetched", run.Fetched, "error", err)
		return nil, err
	}

	logger.Info("update sync finished",
		"runID", run.ID.String(),
		"status", run.Status,
		"inserted", run.Inserted,
		"updated", run.Updated,
		"failed", run.Failed,
	)

	return &RunUpdateSyncOutput{
		RunID:  run.ID.String(),
		Status: run.Status,
		Counts: run.SyncCounts,
	}, nil
}

// interruptedError reports a run that the engine stopped because the
// activity context ended. The engine records such a run as partial, which
// does not move the update window, so the attempt must not look successful.
func interruptedError(ctx context.Context, run *domain.SyncRun) error {
	if ctx.Err() == nil || run == nil || run.Status == domain.SyncStatusSuccess {
		return nil
	}
	return sdktemporal.NewApplicationErrorWithCause("update sync interrupted", temporal.ErrTypeSyncInterrupted, ctx.Err(), run.ID.String())
}

// BackfillAnnotations runs one annotation backfill pass.
func (a *SyncActivities) BackfillAnnotations(ctx context.Context, input BackfillAnnotationsInput) (*annotation.BackfillResult, error) {
	logger := activity.GetLogger(ctx)
	if a.backfiller == nil {
		return nil, sdktemporal.NewNonRetryableApplicationError("annotation is disabled", temporal.ErrTypeAnnotationOff, annotation.ErrDisabled)
	}

	stop := startHeartbeat(ctx)
	result, err := a.backfiller.Backfill(ctx, input.Limit)
	stop()

	if err != nil {
		if errors.Is(err, annotation.ErrDisabled) {
			return nil, sdktemporal.NewNonRetryableApplicationError("annotation is disabled", temporal.ErrTypeAnnotationOff, err)
		}
		return nil, err
	}

	logger.Info("annotation backfill finished",
		"candidates", result.Candidates,
		"annotated", result.Annotated,
		"failed", result.Failed,
	)
	return result, nil
}

// RegenerateSummaries revises the research summary in every configured
// language. A language that fails is reported in the output; the activity
// only fails when no language succeeded.
func (a *SyncActivities) RegenerateSummaries(ctx context.Context) (*RegenerateSummariesOutput, error) {
	logger := activity.GetLogger(ctx)
	if a.summaries == nil {
		return nil, sdktemporal.NewNonRetryableApplicationError("annotation is disabled", temporal.ErrTypeAnnotationOff, annotation.ErrDisabled)
	}

	stop := startHeartbeat(ctx)
	results, err := a.summaries.RegenerateSummaries(ctx)
	stop()

	if errors.Is(err, annotation.ErrDisabled) {
		return nil, sdktemporal.NewNonRetryableApplicationError("annotation is disabled", temporal.ErrTypeAnnotationOff, err)
	}
	if err != nil && len(results) == 0 {
		if errors.Is(err, annotation.ErrNothingToSummarize) {
			return nil, sdktemporal.NewNonRetryableApplicationError("no annotated records", temporal.ErrTypeNothingToSummarize, err)
		}
		return nil, err
	}

	out := &RegenerateSummariesOutput{}
	if err != nil {
		out.Error = err.Error()
	}
	for _, res := range results {
		out.Summaries = append(out.Summaries, temporal.SummaryOutcome{
			Language:   res.Summary.Language,
			Version:    res.Summary.Version,
			UpdateType: res.UpdateType,
			NewPapers:  res.NewPapers,
		})
	}
	logger.Info("research summaries regenerated", "languages", len(out.Summaries), "error", out.Error)
	return out, nil
}

// startHeartbeat records a heartbeat periodically until the returned func is called.
func startHeartbeat(ctx context.Context) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				activity.RecordHeartbeat(ctx)
			}
		}
	}()
	return func() { close(done) }
}
