package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/helixir/literature-sync-service/internal/domain"
)

// ErrRunNotRunning is returned when a finalize or progress write targets a
// run that is no longer running.
var ErrRunNotRunning = errors.New("sync run is not running")

// SyncRunRepository defines the interface for the append-only sync run log.
type SyncRunRepository interface {
	// Create inserts a new run in running state.
	Create(ctx context.Context, run *domain.SyncRun) error

	// UpdateCounts persists intermediate counters of a running run.
	// Returns ErrRunNotRunning once the run is finalized.
	UpdateCounts(ctx context.Context, id uuid.UUID, counts domain.SyncCounts) error

	// Finalize writes the terminal status, counters and end time.
	// It succeeds at most once per run; later calls return ErrRunNotRunning.
	Finalize(ctx context.Context, run *domain.SyncRun) error

	// Get returns a run by id.
	// Returns domain.ErrNotFound if the run does not exist.
	Get(ctx context.Context, id uuid.UUID) (*domain.SyncRun, error)

	// Latest returns the most recently started run.
	// Returns domain.ErrNotFound when no run exists.
	Latest(ctx context.Context) (*domain.SyncRun, error)

	// LatestSuccessful returns the most recently ended successful run. Partial
	// and failed runs never move the update window.
	// Returns domain.ErrNotFound when there is none.
	LatestSuccessful(ctx context.Context) (*domain.SyncRun, error)

	// List returns runs newest first and the total count.
	List(ctx context.Context, filter SyncRunFilter) ([]*domain.SyncRun, int64, error)

	// AbandonRunning finalizes every run still marked running, other than
	// keep, as failed. It is called by the holder of the sync marker, so any
	// such run belongs to a process that died.
	AbandonRunning(ctx context.Context, keep uuid.UUID, detail string) (int64, error)
}

// SyncRunFilter specifies criteria for listing runs.
type SyncRunFilter struct {
	// Status filters by run status (optional).
	Status domain.SyncStatus

	// Limit specifies maximum number of results (default: 50, max: 500).
	Limit int

	// Offset specifies the starting position for pagination.
	Offset int
}

// Validate checks the filter and applies pagination defaults.
func (f *SyncRunFilter) Validate() error {
	switch f.Status {
	case "", domain.SyncStatusRunning, domain.SyncStatusSuccess, domain.SyncStatusPartial, domain.SyncStatusFailed:
	default:
		return domain.NewValidationError("status", "unknown sync status")
	}
	applyPaginationDefaults(&f.Limit, &f.Offset)
	return nil
}
