package activities

import (
	"github.com/helixir/literature-sync-service/internal/domain"
	"github.com/helixir/literature-sync-service/internal/temporal"
)

// RunUpdateSyncInput is the input for the RunUpdateSync activity.
type RunUpdateSyncInput struct {
	Trigger domain.SyncTrigger
}

// RunUpdateSyncOutput is the final state of the run the activity executed.
type RunUpdateSyncOutput struct {
	RunID  string
	Status domain.SyncStatus
	Counts domain.SyncCounts
}

// BackfillAnnotationsInput is the input for the BackfillAnnotations activity.
type BackfillAnnotationsInput struct {
	Limit int
}

// RegenerateSummariesOutput lists the summary versions one pass produced.
type RegenerateSummariesOutput struct {
	Summaries []temporal.SummaryOutcome
	// Error is set when some languages failed.
	Error string
}
