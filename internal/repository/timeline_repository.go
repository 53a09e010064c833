package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/literature-sync-service/internal/domain"
)

// TimelineRepository records which records each update run first stored.
type TimelineRepository interface {
	// Append adds one entry per external ID for run. Re-appending the same
	// pair is a no-op. Returns the number of entries written.
	Append(ctx context.Context, runID uuid.UUID, entryDate time.Time, externalIDs []string) (int64, error)

	// List returns entries newest first, joined with their records, and
	// the total count.
	List(ctx context.Context, filter TimelineFilter) ([]*domain.TimelineEntry, int64, error)
}

// TimelineFilter specifies criteria for listing timeline entries.
type TimelineFilter struct {
	// Since keeps entries dated on or after this day (optional).
	Since *time.Time

	// Language picks the findings excerpt (default: en).
	Language string

	// Limit specifies maximum number of results (default: 50, max: 500).
	Limit int

	// Offset specifies the starting position for pagination.
	Offset int
}

// Validate applies defaults.
func (f *TimelineFilter) Validate() error {
	if f.Language == "" {
		f.Language = "en"
	}
	applyPaginationDefaults(&f.Limit, &f.Offset)
	return nil
}
