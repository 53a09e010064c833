package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/helixir/literature-sync-service/internal/domain"
)

// Compile-time interface verification.
var _ SyncRunRepository = (*PgSyncRunRepository)(nil)

const syncRunColumns = `id, mode, trigger, query, date_from, date_to, page_size, max_records,
			fetched, inserted, updated, unchanged, failed, annotation_failures,
			status, error_detail, started_at, ended_at`

// PgSyncRunRepository is a PostgreSQL implementation of SyncRunRepository.
type PgSyncRunRepository struct {
	db DBTX
}

// NewPgSyncRunRepository creates a new PostgreSQL sync run repository.
func NewPgSyncRunRepository(db DBTX) *PgSyncRunRepository {
	return &PgSyncRunRepository{db: db}
}

// Create inserts a new running sync run.
func (r *PgSyncRunRepository) Create(ctx context.Context, run *domain.SyncRun) error {
	if run == nil {
		return domain.NewValidationError("run", "run cannot be nil")
	}
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	run.Status = domain.SyncStatusRunning

	_, err := r.db.Exec(ctx, `
		INSERT INTO sync_runs (
			id, mode, trigger, query, date_from, date_to, page_size, max_records,
			status, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		run.ID, run.Mode, run.Trigger, run.Query, run.DateFrom, run.DateTo,
		run.PageSize, run.MaxRecords, run.Status, run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create sync run: %w", err)
	}
	return nil
}

// UpdateCounts persists progress counters.
func (r *PgSyncRunRepository) UpdateCounts(ctx context.Context, id uuid.UUID, c domain.SyncCounts) error {
	result, err := r.db.Exec(ctx, `
		UPDATE sync_runs
		SET fetched = $2, inserted = $3, updated = $4, unchanged = $5,
			failed = $6, annotation_failures = $7
		WHERE id = $1 AND status = 'running'`,
		id, c.Fetched, c.Inserted, c.Updated, c.Unchanged, c.Failed, c.AnnotationFailures,
	)
	if err != nil {
		return fmt.Errorf("failed to update sync run counts: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("sync run %s: %w", id, ErrRunNotRunning)
	}
	return nil
}

// Finalize writes the terminal state exactly once.
func (r *PgSyncRunRepository) Finalize(ctx context.Context, run *domain.SyncRun) error {
	if run == nil {
		return domain.NewValidationError("run", "run cannot be nil")
	}
	if !run.Status.IsTerminal() {
		return domain.NewValidationError("status", "finalize requires a terminal status")
	}
	if run.EndedAt == nil {
		now := time.Now().UTC()
		run.EndedAt = &now
	}

	result, err := r.db.Exec(ctx, `
		UPDATE sync_runs
		SET fetched = $2, inserted = $3, updated = $4, unchanged = $5,
			failed = $6, annotation_failures = $7,
			status = $8, error_detail = $9, ended_at = $10
		WHERE id = $1 AND status = 'running'`,
		run.ID, run.Fetched, run.Inserted, run.Updated, run.Unchanged,
		run.Failed, run.AnnotationFailures,
		run.Status, run.ErrorDetail, run.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize sync run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("sync run %s: %w", run.ID, ErrRunNotRunning)
	}
	return nil
}

// Get retrieves a run by id.
func (r *PgSyncRunRepository) Get(ctx context.Context, id uuid.UUID) (*domain.SyncRun, error) {
	run, err := scanSyncRun(r.db.QueryRow(ctx,
		`SELECT `+syncRunColumns+` FROM sync_runs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("sync run", id.String())
		}
		return nil, fmt.Errorf("failed to get sync run: %w", err)
	}
	return run, nil
}

// Latest retrieves the most recently started run.
func (r *PgSyncRunRepository) Latest(ctx context.Context) (*domain.SyncRun, error) {
	run, err := scanSyncRun(r.db.QueryRow(ctx,
		`SELECT `+syncRunColumns+` FROM sync_runs ORDER BY started_at DESC LIMIT 1`))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("sync run", "latest")
		}
		return nil, fmt.Errorf("failed to get latest sync run: %w", err)
	}
	return run, nil
}

// LatestSuccessful retrieves the most recent run that ended in success.
func (r *PgSyncRunRepository) LatestSuccessful(ctx context.Context) (*domain.SyncRun, error) {
	run, err := scanSyncRun(r.db.QueryRow(ctx, `SELECT `+syncRunColumns+`
		FROM sync_runs
		WHERE status = 'success' AND ended_at IS NOT NULL
		ORDER BY ended_at DESC
		LIMIT 1`))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("sync run", "latest successful")
		}
		return nil, fmt.Errorf("failed to get latest successful sync run: %w", err)
	}
	return run, nil
}

// List retrieves runs newest first.
func (r *PgSyncRunRepository) List(ctx context.Context, filter SyncRunFilter) ([]*domain.SyncRun, int64, error) {
	if err := filter.Validate(); err != nil {
		return nil, 0, err
	}

	whereClause := ""
	var args []interface{}
	if filter.Status != "" {
		whereClause = "WHERE status = $1"
		args = append(args, filter.Status)
	}

	var totalCount int64
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM sync_runs "+whereClause, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to count sync runs: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM sync_runs %s ORDER BY started_at DESC LIMIT $%d OFFSET $%d`,
		syncRunColumns, whereClause, len(args)+1, len(args)+2)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list sync runs: %w", err)
	}
	defer rows.Close()

	runs := make([]*domain.SyncRun, 0, filter.Limit)
	for rows.Next() {
		run, err := scanSyncRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan sync run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating sync runs: %w", err)
	}
	return runs, totalCount, nil
}

// AbandonRunning fails orphaned running rows.
func (r *PgSyncRunRepository) AbandonRunning(ctx context.Context, keep uuid.UUID, detail string) (int64, error) {
	result, err := r.db.Exec(ctx, `
		UPDATE sync_runs
		SET status = 'failed', error_detail = $2, ended_at = $3
		WHERE status = 'running' AND id <> $1`,
		keep, detail, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to abandon running sync runs: %w", err)
	}
	return result.RowsAffected(), nil
}

func scanSyncRun(row pgx.Row) (*domain.SyncRun, error) {
	var (
		run     domain.SyncRun
		mode    string
		trigger string
		status  string
	)
	err := row.Scan(
		&run.ID, &mode, &trigger, &run.Query, &run.DateFrom, &run.DateTo, &run.PageSize, &run.MaxRecords,
		&run.Fetched, &run.Inserted, &run.Updated, &run.Unchanged, &run.Failed, &run.AnnotationFailures,
		&status, &run.ErrorDetail, &run.StartedAt, &run.EndedAt,
	)
	if err != nil {
		return nil, err
	}
	run.Mode = domain.SyncMode(mode)
	run.Trigger = domain.SyncTrigger(trigger)
	run.Status = domain.SyncStatus(status)
	return &run, nil
}
