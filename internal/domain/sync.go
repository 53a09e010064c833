package domain

import (
	"time"

	"github.com/google/uuid"
)

// SyncStatus represents the lifecycle state of a sync run.
type SyncStatus string

const (
	SyncStatusRunning SyncStatus = "running"
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusPartial SyncStatus = "partial"
	SyncStatusFailed  SyncStatus = "failed"
)

// IsTerminal returns true if the status represents a finalized run.
func (s SyncStatus) IsTerminal() bool {
	switch s {
	case SyncStatusSuccess, SyncStatusPartial, SyncStatusFailed:
		return true
	}
	return false
}

// AdvancesWindow reports whether a run with this status moves the
// incremental update window forward. A partial run left records behind
// (failed or never reached), so only success does.
func (s SyncStatus) AdvancesWindow() bool {
	return s == SyncStatusSuccess
}

// SyncMode describes how the query window of a run was chosen.
type SyncMode string

const (
	// SyncModeRebuild queries the full historical window.
	SyncModeRebuild SyncMode = "rebuild"
	// SyncModeUpdate queries only since the last successful run.
	SyncModeUpdate SyncMode = "update"
	// SyncModeManual is a run with an explicit caller-supplied window.
	SyncModeManual SyncMode = "manual"
)

// SyncTrigger records who started a run.
type SyncTrigger string

const (
	TriggerHTTP     SyncTrigger = "http"
	TriggerCLI      SyncTrigger = "cli"
	TriggerSchedule SyncTrigger = "schedule"
)

// SyncCounts are the per-run counters.
type SyncCounts struct {
	Fetched            int `json:"fetched"`
	Inserted           int `json:"inserted"`
	Updated            int `json:"updated"`
	Unchanged          int `json:"unchanged"`
	Failed             int `json:"failed"`
	AnnotationFailures int `json:"annotation_failures"`
}

// Record increments the counter matching a reconcile outcome.
func (c *SyncCounts) Record(outcome UpsertOutcome) {
	switch outcome {
	case OutcomeInserted:
		c.Inserted++
	case OutcomeUpdated:
		c.Updated++
	case OutcomeUnchanged:
		c.Unchanged++
	}
}

// SyncRun is one execution of the ingestion process. It is created as
// running and finalized exactly once.
type SyncRun struct {
	ID         uuid.UUID
	Mode       SyncMode
	Trigger    SyncTrigger
	Query      string
	DateFrom   time.Time
	DateTo     time.Time
	PageSize   int
	MaxRecords int

	SyncCounts

	Status      SyncStatus
	ErrorDetail string
	StartedAt   time.Time
	EndedAt     *time.Time
}

// Duration returns the run duration, or zero for a run still in progress.
func (r *SyncRun) Duration() time.Duration {
	if r.EndedAt == nil {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// Finalize sets the terminal status and end time.
func (r *SyncRun) Finalize(status SyncStatus, detail string, now time.Time) {
	r.Status = status
	r.ErrorDetail = detail
	r.EndedAt = &now
}
