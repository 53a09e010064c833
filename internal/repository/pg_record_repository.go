package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"

	"github.com/helixir/literature-sync-service/internal/domain"
)

// Compile-time interface verification.
var _ RecordRepository = (*PgRecordRepository)(nil)

const recordColumns = `external_id, title, abstract, publication_date, authors,
			article_type, journal, doi, num_references, revision, content_hash,
			summaries, key_terms, annotation_status, annotation_model, annotated_at,
			last_synced_at, created_at, updated_at`

// PgRecordRepository is a PostgreSQL implementation of RecordRepository.
type PgRecordRepository struct {
	db DBTX
}

// NewPgRecordRepository creates a new PostgreSQL record repository.
func NewPgRecordRepository(db DBTX) *PgRecordRepository {
	return &PgRecordRepository{db: db}
}

// UpsertIfChanged reconciles one fetched record with the store.
//
// The conflict branch carries a WHERE on the content hash, so an identical
// record matches no row and RETURNING yields nothing. xmax is zero only for
// a freshly inserted tuple.
func (r *PgRecordRepository) UpsertIfChanged(ctx context.Context, rec *domain.LiteratureRecord, initialStatus domain.AnnotationStatus) (domain.UpsertOutcome, error) {
	if rec == nil {
		return "", domain.NewValidationError("record", "record cannot be nil")
	}
	if rec.ExternalID == "" {
		return "", domain.NewValidationError("external_id", "external ID is required")
	}
	if rec.ContentHash == "" {
		rec.ContentHash = rec.ComputeContentHash()
	}

	authors := rec.Authors
	if authors == nil {
		authors = []domain.Author{}
	}
	authorsJSON, err := json.Marshal(authors)
	if err != nil {
		return "", fmt.Errorf("failed to marshal authors: %w", err)
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO literature_records (
			external_id, title, abstract, publication_date, authors,
			article_type, journal, doi, num_references, revision, content_hash,
			annotation_status, last_synced_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13, $13
		)
		ON CONFLICT (external_id) DO UPDATE SET
			title = EXCLUDED.title,
			abstract = EXCLUDED.abstract,
			publication_date = EXCLUDED.publication_date,
			authors = EXCLUDED.authors,
			article_type = EXCLUDED.article_type,
			journal = EXCLUDED.journal,
			doi = EXCLUDED.doi,
			num_references = EXCLUDED.num_references,
			revision = EXCLUDED.revision,
			content_hash = EXCLUDED.content_hash,
			summaries = '{}'::jsonb,
			key_terms = '{}',
			annotation_status = EXCLUDED.annotation_status,
			annotation_model = '',
			annotated_at = NULL,
			last_synced_at = EXCLUDED.last_synced_at,
			updated_at = EXCLUDED.updated_at
		WHERE literature_records.content_hash IS DISTINCT FROM EXCLUDED.content_hash
		RETURNING (xmax = 0) AS inserted`

	var inserted bool
	err = r.db.QueryRow(ctx, query,
		rec.ExternalID,
		rec.Title,
		rec.Abstract,
		rec.PublicationDate,
		authorsJSON,
		rec.ArticleType,
		rec.Journal,
		rec.DOI,
		rec.NumReferences,
		rec.Revision,
		rec.ContentHash,
		initialStatus,
		now,
	).Scan(&inserted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.OutcomeUnchanged, nil
		}
		return "", fmt.Errorf("failed to upsert record %s: %w", rec.ExternalID, err)
	}

	rec.AnnotationStatus = initialStatus
	rec.LastSyncedAt = now
	rec.UpdatedAt = now
	if inserted {
		rec.CreatedAt = now
		return domain.OutcomeInserted, nil
	}
	return domain.OutcomeUpdated, nil
}

// Get retrieves a record by its external identifier.
func (r *PgRecordRepository) Get(ctx context.Context, externalID string) (*domain.LiteratureRecord, error) {
	if externalID == "" {
		return nil, domain.NewValidationError("external_id", "external ID is required")
	}

	query := `SELECT ` + recordColumns + ` FROM literature_records WHERE external_id = $1`

	rec, err := scanRecord(r.db.QueryRow(ctx, query, externalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("record", externalID)
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return rec, nil
}

// buildRecordWhere renders the filter as a WHERE clause and its arguments.
func buildRecordWhere(filter RecordFilter) (string, []interface{}) {
	var conditions []string
	var args []interface{}
	argIndex := 1

	if s := strings.TrimSpace(filter.Search); s != "" {
		conditions = append(conditions, fmt.Sprintf("(title ILIKE $%d OR abstract ILIKE $%d)", argIndex, argIndex))
		args = append(args, "%"+escapeLike(s)+"%")
		argIndex++
	}
	if filter.ArticleType != "" {
		conditions = append(conditions, fmt.Sprintf("article_type = $%d", argIndex))
		args = append(args, filter.ArticleType)
		argIndex++
	}
	if filter.Year > 0 {
		conditions = append(conditions, fmt.Sprintf("EXTRACT(YEAR FROM publication_date) = $%d", argIndex))
		args = append(args, filter.Year)
		argIndex++
	}
	if filter.Annotated {
		conditions = append(conditions, "annotation_status = 'done'")
	}
	if filter.PublishedAfter != nil {
		conditions = append(conditions, fmt.Sprintf("publication_date > $%d", argIndex))
		args = append(args, *filter.PublishedAfter)
	}

	if len(conditions) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

// escapeLike escapes LIKE metacharacters so user input matches literally.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

const recordOrder = `ORDER BY publication_date DESC NULLS LAST, external_id DESC`

// List retrieves records matching the filter criteria.
func (r *PgRecordRepository) List(ctx context.Context, filter RecordFilter) ([]*domain.LiteratureRecord, int64, error) {
	if err := filter.Validate(); err != nil {
		return nil, 0, err
	}

	whereClause, args := buildRecordWhere(filter)

	var totalCount int64
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM literature_records %s", whereClause)
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to count records: %w", err)
	}

	selectQuery := fmt.Sprintf(`SELECT %s FROM literature_records %s %s LIMIT $%d OFFSET $%d`,
		recordColumns, whereClause, recordOrder, len(args)+1, len(args)+2)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.Query(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	records := make([]*domain.LiteratureRecord, 0, filter.Limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating records: %w", err)
	}

	return records, totalCount, nil
}

// Stream iterates all matching records.
func (r *PgRecordRepository) Stream(ctx context.Context, filter RecordFilter, fn func(*domain.LiteratureRecord) error) error {
	whereClause, args := buildRecordWhere(filter)
	query := fmt.Sprintf(`SELECT %s FROM literature_records %s %s`, recordColumns, whereClause, recordOrder)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to stream records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return fmt.Errorf("failed to scan record: %w", err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating records: %w", err)
	}
	return nil
}

// Stats aggregates the store.
func (r *PgRecordRepository) Stats(ctx context.Context) (*domain.RecordStats, error) {
	stats := &domain.RecordStats{
		ByYear: make(map[int]int64),
		ByType: make(map[string]int64),
	}

	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE annotation_status = 'done'),
			MAX(publication_date)
		FROM literature_records`,
	).Scan(&stats.Total, &stats.Annotated, &stats.LatestPublished)
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}

	yearRows, err := r.db.Query(ctx, `
		SELECT EXTRACT(YEAR FROM publication_date)::int AS year, COUNT(*)
		FROM literature_records
		WHERE publication_date IS NOT NULL
		GROUP BY year
		ORDER BY year`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate by year: %w", err)
	}
	for yearRows.Next() {
		var year int
		var count int64
		if err := yearRows.Scan(&year, &count); err != nil {
			yearRows.Close()
			return nil, fmt.Errorf("failed to scan year count: %w", err)
		}
		stats.ByYear[year] = count
	}
	yearRows.Close()
	if err := yearRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating year counts: %w", err)
	}

	typeRows, err := r.db.Query(ctx, `
		SELECT article_type, COUNT(*)
		FROM literature_records
		GROUP BY article_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate by type: %w", err)
	}
	defer typeRows.Close()
	for typeRows.Next() {
		var articleType string
		var count int64
		if err := typeRows.Scan(&articleType, &count); err != nil {
			return nil, fmt.Errorf("failed to scan type count: %w", err)
		}
		stats.ByType[articleType] = count
	}
	if err := typeRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating type counts: %w", err)
	}

	return stats, nil
}

// KeyTerms returns term frequencies, most frequent first.
func (r *PgRecordRepository) KeyTerms(ctx context.Context, limit int) ([]domain.KeyTermCount, error) {
	offset := 0
	applyPaginationDefaults(&limit, &offset)

	rows, err := r.db.Query(ctx, `
		SELECT lower(term) AS term, COUNT(*) AS n
		FROM literature_records, unnest(key_terms) AS term
		GROUP BY lower(term)
		ORDER BY n DESC, term
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to count key terms: %w", err)
	}
	defer rows.Close()

	terms := make([]domain.KeyTermCount, 0, limit)
	for rows.Next() {
		var tc domain.KeyTermCount
		if err := rows.Scan(&tc.Term, &tc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan key term: %w", err)
		}
		terms = append(terms, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating key terms: %w", err)
	}
	return terms, nil
}

// SetAnnotation stores annotator output for the given content revision.
func (r *PgRecordRepository) SetAnnotation(ctx context.Context, externalID, contentHash string, ann *domain.Annotation) (bool, error) {
	if ann == nil {
		return false, domain.NewValidationError("annotation", "annotation cannot be nil")
	}

	summariesJSON, err := json.Marshal(ann.Summaries)
	if err != nil {
		return false, fmt.Errorf("failed to marshal summaries: %w", err)
	}
	keyTerms := ann.KeyTerms
	if keyTerms == nil {
		keyTerms = []string{}
	}

	now := time.Now().UTC()
	result, err := r.db.Exec(ctx, `
		UPDATE literature_records
		SET summaries = $1, key_terms = $2, annotation_status = $3,
			annotation_model = $4, annotated_at = $5
		WHERE external_id = $6 AND content_hash = $7`,
		summariesJSON, keyTerms, domain.AnnotationDone, ann.Model, now, externalID, contentHash)
	if err != nil {
		return false, fmt.Errorf("failed to store annotation: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// SetAnnotationStatus changes only the annotation status.
func (r *PgRecordRepository) SetAnnotationStatus(ctx context.Context, externalID string, status domain.AnnotationStatus) error {
	result, err := r.db.Exec(ctx,
		`UPDATE literature_records SET annotation_status = $1 WHERE external_id = $2`,
		status, externalID)
	if err != nil {
		return fmt.Errorf("failed to set annotation status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.NewNotFoundError("record", externalID)
	}
	return nil
}

// ListNeedingAnnotation returns records waiting for annotation.
func (r *PgRecordRepository) ListNeedingAnnotation(ctx context.Context, limit int) ([]*domain.LiteratureRecord, error) {
	offset := 0
	applyPaginationDefaults(&limit, &offset)

	rows, err := r.db.Query(ctx, `SELECT `+recordColumns+`
		FROM literature_records
		WHERE annotation_status IN ('pending', 'unavailable')
		ORDER BY id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list records needing annotation: %w", err)
	}
	defer rows.Close()

	var records []*domain.LiteratureRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return records, nil
}

// recordScanDest holds the destination pointers for scanning a record row.
type recordScanDest struct {
	rec           domain.LiteratureRecord
	authorsJSON   []byte
	summariesJSON []byte
	status        string
}

func (d *recordScanDest) destinations() []interface{} {
	return []interface{}{
		&d.rec.ExternalID, &d.rec.Title, &d.rec.Abstract, &d.rec.PublicationDate, &d.authorsJSON,
		&d.rec.ArticleType, &d.rec.Journal, &d.rec.DOI, &d.rec.NumReferences, &d.rec.Revision, &d.rec.ContentHash,
		&d.summariesJSON, &d.rec.KeyTerms, &d.status, &d.rec.AnnotationModel, &d.rec.AnnotatedAt,
		&d.rec.LastSyncedAt, &d.rec.CreatedAt, &d.rec.UpdatedAt,
	}
}

func (d *recordScanDest) finalize() (*domain.LiteratureRecord, error) {
	if len(d.authorsJSON) > 0 {
		if err := json.Unmarshal(d.authorsJSON, &d.rec.Authors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal authors: %w", err)
		}
	}
	if len(d.summariesJSON) > 0 {
		if err := json.Unmarshal(d.summariesJSON, &d.rec.Summaries); err != nil {
			return nil, fmt.Errorf("failed to unmarshal summaries: %w", err)
		}
	}
	d.rec.AnnotationStatus = domain.AnnotationStatus(d.status)
	return &d.rec, nil
}

// scanRecord scans one row from either pgx.Row or pgx.Rows.
func scanRecord(row pgx.Row) (*domain.LiteratureRecord, error) {
	var dest recordScanDest
	if err := row.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize()
}
