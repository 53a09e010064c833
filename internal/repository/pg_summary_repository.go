package repository

import (
	"context"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/helixir/literature-sync-service/internal/domain"
)

// Compile-time interface verification.
var _ SummaryRepository = (*PgSummaryRepository)(nil)

const summaryColumns = `id, language, version, update_type, content, paper_count, new_papers,
			latest_paper_date, trends, model, created_at`

// PgSummaryRepository is a PostgreSQL implementation of SummaryRepository.
type PgSummaryRepository struct {
	db DBTX
}

// NewPgSummaryRepository creates a new PostgreSQL summary repository.
func NewPgSummaryRepository(db DBTX) *PgSummaryRepository {
	return &PgSummaryRepository{db: db}
}

// Latest retrieves the newest version for language.
func (r *PgSummaryRepository) Latest(ctx context.Context, language string) (*domain.ResearchSummary, error) {
	s, err := scanSummary(r.db.QueryRow(ctx, `SELECT `+summaryColumns+`
		FROM research_summaries
		WHERE language = $1
		ORDER BY version DESC
		LIMIT 1`, language))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("research summary", language)
		}
		return nil, fmt.Errorf("failed to get latest summary: %w", err)
	}
	return s, nil
}

// Save inserts the next version. The unique (language, version) key makes a
// concurrent save for the same language fail instead of sharing a version.
func (r *PgSummaryRepository) Save(ctx context.Context, s *domain.ResearchSummary) error {
	if s == nil {
		return domain.NewValidationError("summary", "summary cannot be nil")
	}
	if s.Language == "" {
		return domain.NewValidationError("language", "language is required")
	}
	switch s.UpdateType {
	case domain.SummaryComplete, domain.SummaryIncremental:
	default:
		return domain.NewValidationError("update_type", "only complete and incremental summaries are stored")
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}

	trendsJSON, err := json.Marshal(s.Trends)
	if err != nil {
		return fmt.Errorf("failed to marshal trends: %w", err)
	}

	err = r.db.QueryRow(ctx, `
		INSERT INTO research_summaries (
			id, language, version, update_type, content, paper_count, new_papers,
			latest_paper_date, trends, model
		)
		SELECT $1, $2, COALESCE(MAX(version), 0) + 1, $3, $4, $5, $6, $7, $8, $9
		FROM research_summaries
		WHERE language = $2
		RETURNING version, created_at`,
		s.ID, s.Language, s.UpdateType, s.Content, s.PaperCount, s.NewPapers,
		s.LatestPaperDate, trendsJSON, s.Model,
	).Scan(&s.Version, &s.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save summary: %w", err)
	}
	return nil
}

// Versions lists version metadata newest first.
func (r *PgSummaryRepository) Versions(ctx context.Context, language string, limit int) ([]*domain.ResearchSummary, error) {
	offset := 0
	applyPaginationDefaults(&limit, &offset)

	rows, err := r.db.Query(ctx, `
		SELECT id, language, version, update_type, '' AS content, paper_count, new_papers,
			latest_paper_date, trends, model, created_at
		FROM research_summaries
		WHERE language = $1
		ORDER BY version DESC
		LIMIT $2`, language, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list summary versions: %w", err)
	}
	defer rows.Close()

	var out []*domain.ResearchSummary
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating summaries: %w", err)
	}
	return out, nil
}

func scanSummary(row pgx.Row) (*domain.ResearchSummary, error) {
	var (
		s          domain.ResearchSummary
		updateType string
		trendsJSON []byte
	)
	if err := row.Scan(
		&s.ID, &s.Language, &s.Version, &updateType, &s.Content, &s.PaperCount, &s.NewPapers,
		&s.LatestPaperDate, &trendsJSON, &s.Model, &s.CreatedAt,
	); err != nil {
		return nil, err
	}
	s.UpdateType = domain.SummaryUpdateType(updateType)
	if len(trendsJSON) > 0 {
		if err := json.Unmarshal(trendsJSON, &s.Trends); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trends: %w", err)
		}
	}
	return &s, nil
}
