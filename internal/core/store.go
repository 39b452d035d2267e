package core

import (
	"context"
)

// Provenance columns added to every live table.
const (
	ColumnLoadType = "_load_type"
	ColumnLoadedAt = "_loaded_at"
)

// Snapshot bookkeeping columns on backup tables. Backup tables also carry
// every live column, so file columns must not use these names either.
const (
	ColumnBackupVersion   = "_backup_version"
	ColumnBackupLoadType  = "_backup_load_type"
	ColumnBackupCreatedAt = "_backup_created_at"
)

// Store is the relational store as seen by the pipeline. Implementations
// sanitize every identifier and return *StoreError for classified failures.
type Store interface {
	// Catalog lists user tables and their columns across the given schemas.
	Catalog(ctx context.Context, schemas ...string) ([]TableSchema, error)

	TableExists(ctx context.Context, t TableRef) (bool, error)

	// EnsureTable creates t with the given text columns plus provenance
	// columns if it does not exist yet.
	EnsureTable(ctx context.Context, t TableRef, columns []string) error

	// SyncColumns adds columns missing from t. Existing columns are never
	// altered or dropped; columns that fail to add are reported, not fatal.
	SyncColumns(ctx context.Context, t TableRef, columns []string) (SyncResult, error)

	Truncate(ctx context.Context, t TableRef) error

	// InsertBatch writes rows in a single transaction. Empty cells are stored
	// as NULL. Every row is tagged with loadType.
	InsertBatch(ctx context.Context, t TableRef, columns []string, rows [][]string, loadType LoadMode) (int64, error)
}

// SnapshotStore keeps immutable versioned copies of a table.
type SnapshotStore interface {
	// LatestVersion returns the highest version stored for t, 0 if none.
	LatestVersion(ctx context.Context, t TableRef) (int64, error)

	// CreateSnapshot copies the live rows of t under version. It fails with
	// ErrVersionExists unless version is greater than every stored version.
	CreateSnapshot(ctx context.Context, t TableRef, version int64, loadType string) (BackupVersion, error)

	// RestoreSnapshot replaces the live rows of t with those of version,
	// tagged ProvenanceRollback, in one transaction.
	RestoreSnapshot(ctx context.Context, t TableRef, version int64) (int64, error)

	ListSnapshots(ctx context.Context, t TableRef) ([]BackupVersion, error)

	// ClearStaging empties the staging table associated with t, if any.
	ClearStaging(ctx context.Context, t TableRef) error
}

// TrackingStore persists TrackingRecords keyed by path.
type TrackingStore interface {
	SaveTracking(ctx context.Context, rec TrackingRecord) error

	// LookupTracking returns the record for path, or ok=false.
	LookupTracking(ctx context.Context, path string) (rec TrackingRecord, ok bool, err error)
}

// Gateway is everything the pipeline needs from the store.
type Gateway interface {
	Store
	SnapshotStore
	TrackingStore
}
