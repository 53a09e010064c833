package repository

import (
	"context"
	"time"

	"github.com/helixir/literature-sync-service/internal/domain"
)

// RecordRepository defines the interface for literature record persistence.
type RecordRepository interface {
	// UpsertIfChanged inserts the record, rewrites it when its content hash
	// differs from the stored one, or leaves the row untouched. It is a
	// single statement. Rewritten records lose their previous annotation and
	// take initialStatus.
	UpsertIfChanged(ctx context.Context, rec *domain.LiteratureRecord, initialStatus domain.AnnotationStatus) (domain.UpsertOutcome, error)

	// Get returns one record by external identifier.
	// Returns domain.ErrNotFound if the record does not exist.
	Get(ctx context.Context, externalID string) (*domain.LiteratureRecord, error)

	// List returns records matching the filter and the total match count.
	List(ctx context.Context, filter RecordFilter) ([]*domain.LiteratureRecord, int64, error)

	// Stream calls fn for every record matching the filter, in list order,
	// without loading the whole result set. Limit and Offset are ignored.
	Stream(ctx context.Context, filter RecordFilter, fn func(*domain.LiteratureRecord) error) error

	// Stats aggregates counts by year and article type.
	Stats(ctx context.Context) (*domain.RecordStats, error)

	// KeyTerms returns the most frequent key terms.
	KeyTerms(ctx context.Context, limit int) ([]domain.KeyTermCount, error)

	// SetAnnotation stores annotator output. The write only applies while
	// the stored content hash still equals contentHash, so a late result for
	// superseded content is discarded. Returns false when discarded.
	SetAnnotation(ctx context.Context, externalID, contentHash string, ann *domain.Annotation) (bool, error)

	// SetAnnotationStatus changes the annotation status without touching summaries.
	SetAnnotationStatus(ctx context.Context, externalID string, status domain.AnnotationStatus) error

	// ListNeedingAnnotation returns up to limit records whose status is
	// pending or unavailable, oldest first.
	ListNeedingAnnotation(ctx context.Context, limit int) ([]*domain.LiteratureRecord, error)
}

// RecordFilter specifies criteria for listing records.
type RecordFilter struct {
	// Search matches title or abstract, case-insensitively (optional).
	Search string

	// ArticleType filters by exact article type (optional).
	ArticleType string

	// Year filters by publication year; 0 means any (optional).
	Year int

	// Annotated keeps only records with completed annotations (optional).
	Annotated bool

	// PublishedAfter keeps records published strictly after this date (optional).
	PublishedAfter *time.Time

	// Limit specifies maximum number of results (default: 50, max: 500).
	Limit int

	// Offset specifies the starting position for pagination.
	Offset int
}

// Validate checks the filter and applies pagination defaults.
func (f *RecordFilter) Validate() error {
	if f.Year < 0 || f.Year > 9999 {
		return domain.NewValidationError("year", "must be a four digit year")
	}
	applyPaginationDefaults(&f.Limit, &f.Offset)
	return nil
}
