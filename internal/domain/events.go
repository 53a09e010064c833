package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventTypeSyncCompleted is emitted after every finalized sync run.
const EventTypeSyncCompleted = "sync.completed"

// SyncCompletedEvent is the payload published when a run is finalized.
type SyncCompletedEvent struct {
	EventID    string      `json:"event_id"`
	EventType  string      `json:"event_type"`
	RunID      uuid.UUID   `json:"run_id"`
	Mode       SyncMode    `json:"mode"`
	Trigger    SyncTrigger `json:"trigger"`
	Status     SyncStatus  `json:"status"`
	Counts     SyncCounts  `json:"counts"`
	DateFrom   string      `json:"date_from"`
	DateTo     string      `json:"date_to"`
	StartedAt  time.Time   `json:"started_at"`
	EndedAt    time.Time   `json:"ended_at"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// NewSyncCompletedEvent builds the event for a finalized run.
func NewSyncCompletedEvent(run *SyncRun) SyncCompletedEvent {
	ended := time.Now().UTC()
	if run.EndedAt != nil {
		ended = *run.EndedAt
	}
	return SyncCompletedEvent{
		EventID:    uuid.New().String(),
		EventType:  EventTypeSyncCompleted,
		RunID:      run.ID,
		Mode:       run.Mode,
		Trigger:    run.Trigger,
		Status:     run.Status,
		Counts:     run.SyncCounts,
		DateFrom:   run.DateFrom.Format(SettingsDateLayout),
		DateTo:     run.DateTo.Format(SettingsDateLayout),
		StartedAt:  run.StartedAt,
		EndedAt:    ended,
		OccurredAt: time.Now().UTC(),
	}
}
