// Package repository provides data access interfaces and their PostgreSQL
// implementations for the literature sync service.
//
// # Repository Interfaces
//
//   - RecordRepository: literature records, idempotent upsert, browse, stats and export
//   - SyncRunRepository: the append-only sync run log
//   - SettingsRepository: key/value settings and the exclusive sync marker
//   - SummaryRepository: versioned research summaries per language
//   - TimelineRepository: records first stored by each update run
//
// # Error Handling
//
// Methods return domain errors (domain.ErrNotFound, domain.ErrInvalidInput)
// and wrap database errors with fmt.Errorf and %w.
//
// # Transactions
//
// Implementations accept DBTX, so a repository constructed from the pgx.Tx
// passed by database.DB.WithTransaction takes part in that transaction:
//
//	err := db.WithTransaction(ctx, func(tx pgx.Tx) error {
//	    return repository.NewPgSettingsRepository(tx).SetMany(ctx, values)
//	})
package repository

import (
	"github.com/helixir/literature-sync-service/internal/database"
)

// DBTX is the database interface supporting both pool and transaction contexts.
type DBTX = database.DBTX

// Filter pagination defaults and limits.
const (
	defaultFilterLimit = 50
	maxFilterLimit     = 500
)

// applyPaginationDefaults clamps limit to [1, maxFilterLimit] and ensures offset >= 0.
func applyPaginationDefaults(limit, offset *int) {
	if *limit <= 0 {
		*limit = defaultFilterLimit
	}
	if *limit > maxFilterLimit {
		*limit = maxFilterLimit
	}
	if *offset < 0 {
		*offset = 0
	}
}
