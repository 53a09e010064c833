package repository

import (
	"context"
	"errors"
	"time"
)

// ErrSyncLockLost is returned when the caller no longer holds the sync marker.
var ErrSyncLockLost = errors.New("sync marker is no longer held")

// SettingsRepository defines the interface for key/value settings and the
// persisted "sync in progress" marker.
type SettingsRepository interface {
	// Get returns the value for key and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// All returns every stored setting.
	All(ctx context.Context) (map[string]string, error)

	// Set upserts one key.
	Set(ctx context.Context, key, value string) error

	// SetMany upserts several keys atomically.
	SetMany(ctx context.Context, values map[string]string) error

	// AcquireSyncLock takes the marker for holder when it is free or its
	// lease is older than staleAfter. It is one atomic statement and
	// returns false when another holder has a live lease.
	AcquireSyncLock(ctx context.Context, holder string, staleAfter time.Duration) (bool, error)

	// RefreshSyncLock renews holder's lease.
	// Returns ErrSyncLockLost when holder no longer owns the marker.
	RefreshSyncLock(ctx context.Context, holder string) error

	// ReleaseSyncLock frees the marker if holder owns it. Releasing a marker
	// owned by someone else is a no-op.
	ReleaseSyncLock(ctx context.Context, holder string) error

	// SyncLockHolder returns the current holder, or "" when free.
	SyncLockHolder(ctx context.Context) (string, error)
}
