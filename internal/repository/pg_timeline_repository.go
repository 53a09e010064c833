package repository

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/helixir/literature-sync-service/internal/domain"
)

// Compile-time interface verification.
var _ TimelineRepository = (*PgTimelineRepository)(nil)

// PgTimelineRepository is a PostgreSQL implementation of TimelineRepository.
type PgTimelineRepository struct {
	db DBTX
}

// NewPgTimelineRepository creates a new PostgreSQL timeline repository.
func NewPgTimelineRepository(db DBTX) *PgTimelineRepository {
	return &PgTimelineRepository{db: db}
}

// Append writes entries in one statement.
func (r *PgTimelineRepository) Append(ctx context.Context, runID uuid.UUID, entryDate time.Time, externalIDs []string) (int64, error) {
	if len(externalIDs) == 0 {
		return 0, nil
	}
	result, err := r.db.Exec(ctx, `
		INSERT INTO timeline_entries (run_id, external_id, entry_date)
		SELECT $1, ids.external_id, $3
		FROM unnest($2::text[]) AS ids(external_id)
		ON CONFLICT (run_id, external_id) DO NOTHING`,
		runID, externalIDs, entryDate,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to append timeline entries: %w", err)
	}
	return result.RowsAffected(), nil
}

// List joins entries with their records so the excerpt follows the
// record's latest annotation.
func (r *PgTimelineRepository) List(ctx context.Context, filter TimelineFilter) ([]*domain.TimelineEntry, int64, error) {
	if err := filter.Validate(); err != nil {
		return nil, 0, err
	}

	whereClause := ""
	var args []interface{}
	if filter.Since != nil {
		whereClause = "WHERE t.entry_date >= $1"
		args = append(args, *filter.Since)
	}

	var totalCount int64
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM timeline_entries t %s", whereClause)
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to count timeline entries: %w", err)
	}

	selectQuery := fmt.Sprintf(`
		SELECT t.id, t.run_id, t.external_id, t.entry_date, t.created_at,
			r.title, r.journal, r.publication_date, r.summaries, r.annotation_status
		FROM timeline_entries t
		JOIN literature_records r ON r.external_id = t.external_id
		%s
		ORDER BY t.entry_date DESC, t.id DESC
		LIMIT $%d OFFSET $%d`, whereClause, len(args)+1, len(args)+2)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.Query(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list timeline entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*domain.TimelineEntry, 0, filter.Limit)
	for rows.Next() {
		var (
			e             domain.TimelineEntry
			summariesJSON []byte
			status        string
		)
		if err := rows.Scan(
			&e.ID, &e.RunID, &e.ExternalID, &e.EntryDate, &e.CreatedAt,
			&e.Title, &e.Journal, &e.PublicationDate, &summariesJSON, &status,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan timeline entry: %w", err)
		}
		rec := domain.LiteratureRecord{AnnotationStatus: domain.AnnotationStatus(status)}
		if len(summariesJSON) > 0 {
			if err := json.Unmarshal(summariesJSON, &rec.Summaries); err != nil {
				return nil, 0, fmt.Errorf("failed to unmarshal summaries: %w", err)
			}
		}
		e.Summary = domain.Excerpt(rec.MainFindings(filter.Language), domain.TimelineEntrySummaryLength)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating timeline entries: %w", err)
	}

	return entries, totalCount, nil
}
