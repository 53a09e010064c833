// Package workflows contains the Temporal workflow definitions of the
// literature sync service.
package workflows

import (
	"errors"
	"fmt"
	"time"

	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/helixir/literature-sync-service/internal/annotation"
	"github.com/helixir/literature-sync-service/internal/domain"
	"github.com/helixir/literature-sync-service/internal/temporal"
	"github.com/helixir/literature-sync-service/internal/temporal/activities"
)

const (
	syncStartToCloseTimeout     = 2 * time.Hour
	backfillStartToCloseTimeout = time.Hour
	summaryStartToCloseTimeout  = 30 * time.Minute
	activityHeartbeatTimeout    = 2 * time.Minute
)

func syncActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: syncStartToCloseTimeout,
		HeartbeatTimeout:    activityHeartbeatTimeout,
		RetryPolicy: &sdktemporal.RetryPolicy{
			InitialInterval:        time.Minute,
			BackoffCoefficient:     2.0,
			MaximumInterval:        10 * time.Minute,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: temporal.NonRetryableErrorTypes,
		},
	}
}

func backfillActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: backfillStartToCloseTimeout,
		HeartbeatTimeout:    activityHeartbeatTimeout,
		RetryPolicy: &sdktemporal.RetryPolicy{
			InitialInterval:        30 * time.Second,
			BackoffCoefficient:     2.0,
			MaximumAttempts:        2,
			NonRetryableErrorTypes: temporal.NonRetryableErrorTypes,
		},
	}
}

func summaryActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: summaryStartToCloseTimeout,
		HeartbeatTimeout:    activityHeartbeatTimeout,
		RetryPolicy: &sdktemporal.RetryPolicy{
			InitialInterval:        time.Minute,
			BackoffCoefficient:     2.0,
			MaximumAttempts:        2,
			NonRetryableErrorTypes: temporal.NonRetryableErrorTypes,
		},
	}
}

// ScheduledSyncWorkflow runs one update sync and, when requested, an
// annotation backfill pass followed by a summary regeneration when the sync
// inserted records. A sync rejected by the marker completes the workflow as
// skipped. A failed backfill or regeneration is logged and does not fail
// the workflow.
func ScheduledSyncWorkflow(ctx workflow.Context, input temporal.ScheduledSyncInput) (*temporal.ScheduledSyncResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("scheduled sync started", "backfill", input.Backfill, "regenerateSummaries", input.RegenerateSummaries)

	var a *activities.SyncActivities

	syncCtx := workflow.WithActivityOptions(ctx, syncActivityOptions())
	var out activities.RunUpdateSyncOutput
	err := workflow.ExecuteActivity(syncCtx, a.RunUpdateSync, activities.RunUpdateSyncInput{
		Trigger: domain.TriggerSchedule,
	}).Get(ctx, &out)
	if err != nil {
		var appErr *sdktemporal.ApplicationError
		if errors.As(err, &appErr) && appErr.Type() == temporal.ErrTypeSyncInProgress {
			logger.Info("scheduled sync skipped, another run is in progress")
			return &temporal.ScheduledSyncResult{
				Skipped:    true,
				SkipReason: "sync in progress",
			}, nil
		}
		return nil, fmt.Errorf("run update sync: %w", err)
	}

	result := &temporal.ScheduledSyncResult{
		RunID:  out.RunID,
		Status: out.Status,
		Counts: out.Counts,
	}

	if input.Backfill {
		backfillCtx := workflow.WithActivityOptions(ctx, backfillActivityOptions())
		var bf annotation.BackfillResult
		err := workflow.ExecuteActivity(backfillCtx, a.BackfillAnnotations, activities.BackfillAnnotationsInput{
			Limit: input.BackfillLimit,
		}).Get(ctx, &bf)
		if err != nil {
			logger.Warn("annotation backfill failed", "error", err)
		} else {
			result.Backfill = &bf
		}
	}

	if input.RegenerateSummaries && result.Counts.Inserted > 0 {
		summaryCtx := workflow.WithActivityOptions(ctx, summaryActivityOptions())
		var so activities.RegenerateSummariesOutput
		err := workflow.ExecuteActivity(summaryCtx, a.RegenerateSummaries).Get(ctx, &so)
		if err != nil {
			logger.Warn("summary regeneration failed", "error", err)
		} else {
			result.Summaries = so.Summaries
		}
	}

	logger.Info("scheduled sync finished",
		"runID", result.RunID,
		"status", result.Status,
		"inserted", result.Counts.Inserted,
	)
	return result, nil
}
