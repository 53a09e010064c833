package temporal

import (
	"github.com/helixir/literature-sync-service/internal/annotation"
	"github.com/helixir/literature-sync-service/internal/domain"
)

// ScheduledSyncWorkflowName is the registered name of the scheduled workflow.
const ScheduledSyncWorkflowName = "ScheduledSyncWorkflow"

// Application error types returned by the sync activities.
const (
	ErrTypeSyncInProgress  = "SyncInProgress"
	ErrTypeInvalidInput    = "InvalidInput"
	ErrTypeUnauthorized    = "Unauthorized"
	ErrTypeSyncFailed      = "SyncFailed"
	ErrTypeSyncInterrupted = "SyncInterrupted"
	ErrTypeAnnotationOff   = "AnnotationDisabled"

	ErrTypeNothingToSummarize = "NothingToSummarize"
)

// NonRetryableErrorTypes are never retried by the activity retry policy.
var NonRetryableErrorTypes = []string{
	ErrTypeSyncInProgress,
	ErrTypeInvalidInput,
	ErrTypeUnauthorized,
	ErrTypeAnnotationOff,
	ErrTypeNothingToSummarize,
}

// ScheduledSyncInput is the argument the schedule passes to each workflow run.
type ScheduledSyncInput struct {
	// Backfill runs an annotation backfill pass after the sync.
	Backfill bool
	// BackfillLimit caps the backfill pass; zero means one batch.
	BackfillLimit int
	// RegenerateSummaries revises the research summaries when the sync
	// inserted records.
	RegenerateSummaries bool
}

// SummaryOutcome is one summary version written by a scheduled run.
type SummaryOutcome struct {
	Language   string
	Version    int
	UpdateType domain.SummaryUpdateType
	NewPapers  int
}

// ScheduledSyncResult is the outcome of one scheduled workflow run.
type ScheduledSyncResult struct {
	RunID      string
	Status     domain.SyncStatus
	Counts     domain.SyncCounts
	Skipped    bool
	SkipReason string
	Backfill   *annotation.BackfillResult
	Summaries  []SummaryOutcome
}
