package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/helixir/literature-sync-service/internal/database"
	"github.com/helixir/literature-sync-service/internal/domain"
)

// Compile-time interface verification.
var _ SettingsRepository = (*PgSettingsRepository)(nil)

// PgSettingsRepository is a PostgreSQL implementation of SettingsRepository.
type PgSettingsRepository struct {
	db DBTX
}

// NewPgSettingsRepository creates a new PostgreSQL settings repository.
func NewPgSettingsRepository(db DBTX) *PgSettingsRepository {
	return &PgSettingsRepository{db: db}
}

const upsertSettingSQL = `
		INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`

// Get retrieves one setting.
func (r *PgSettingsRepository) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, true, nil
}

// All retrieves every setting.
func (r *PgSettingsRepository) All(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.Query(ctx, `SELECT key, value FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		values[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating settings: %w", err)
	}
	return values, nil
}

// Set upserts one setting.
func (r *PgSettingsRepository) Set(ctx context.Context, key, value string) error {
	if key == "" {
		return domain.NewValidationError("key", "setting key is required")
	}
	if _, err := r.db.Exec(ctx, upsertSettingSQL, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

// SetMany upserts several settings in one transaction. A repository built
// on a pgx.Tx joins the caller's transaction.
func (r *PgSettingsRepository) SetMany(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}

	write := func(db DBTX) error {
		now := time.Now().UTC()
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if k == "" {
				return domain.NewValidationError("key", "setting key is required")
			}
			if _, err := db.Exec(ctx, upsertSettingSQL, k, values[k], now); err != nil {
				return fmt.Errorf("failed to set setting %s: %w", k, err)
			}
		}
		return nil
	}

	// pgx.Tx has no BeginTx, so a transactional repository writes directly.
	if b, ok := r.db.(database.TxBeginner); ok {
		return database.WithTransactionOptions(ctx, b, *zerolog.Ctx(ctx), pgx.TxOptions{}, func(tx pgx.Tx) error {
			return write(tx)
		})
	}
	return write(r.db)
}

// AcquireSyncLock takes the marker with a single conditional upsert.
func (r *PgSettingsRepository) AcquireSyncLock(ctx context.Context, holder string, staleAfter time.Duration) (bool, error) {
	if holder == "" {
		return false, domain.NewValidationError("holder", "lock holder is required")
	}

	now := time.Now().UTC()
	var got string
	err := r.db.QueryRow(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
		WHERE settings.value = '' OR settings.value = EXCLUDED.value OR settings.updated_at < $4
		RETURNING value`,
		domain.SettingSyncLock, holder, now, now.Add(-staleAfter),
	).Scan(&got)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to acquire sync marker: %w", err)
	}
	return got == holder, nil
}

// RefreshSyncLock renews the lease.
func (r *PgSettingsRepository) RefreshSyncLock(ctx context.Context, holder string) error {
	result, err := r.db.Exec(ctx,
		`UPDATE settings SET updated_at = $3 WHERE key = $1 AND value = $2`,
		domain.SettingSyncLock, holder, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to refresh sync marker: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrSyncLockLost
	}
	return nil
}

// ReleaseSyncLock frees the marker.
func (r *PgSettingsRepository) ReleaseSyncLock(ctx context.Context, holder string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE settings SET value = '', updated_at = $3 WHERE key = $1 AND value = $2`,
		domain.SettingSyncLock, holder, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to release sync marker: %w", err)
	}
	return nil
}

// SyncLockHolder returns the current marker value.
func (r *PgSettingsRepository) SyncLockHolder(ctx context.Context) (string, error) {
	value, _, err := r.Get(ctx, domain.SettingSyncLock)
	return value, err
}
