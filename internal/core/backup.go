package core

// backup.go maintains per-table versioned snapshots.
//
// Versions are allocated as max(existing)+1 starting at 1 and are never
// rewritten or deleted by the pipeline. A restore first snapshots the live
// table, so the state it replaces stays recoverable as a newer version.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// maxVersionAttempts bounds retries when a concurrent snapshot takes the
// version we computed.
const maxVersionAttempts = 3

// Versioner creates and restores table snapshots.
type Versioner struct {
	snapshots SnapshotStore
	tables    Store
}

// NewVersioner returns a Versioner over the given stores.
func NewVersioner(snapshots SnapshotStore, tables Store) *Versioner {
	return &Versioner{snapshots: snapshots, tables: tables}
}

// RestoreResult describes a completed restore.
type RestoreResult struct {
	Table    TableRef
	Restored int64         // version copied back into the live table
	Rows     int64         // rows now in the live table
	Previous BackupVersion // snapshot of the data the restore replaced
}

// Backup snapshots t under the next version id.
func (v *Versioner) Backup(ctx context.Context, t TableRef, loadType string) (BackupVersion, error) {
	var lastErr error
	for attempt := 0; attempt < maxVersionAttempts; attempt++ {
		latest, err := v.snapshots.LatestVersion(ctx, t)
		if err != nil {
			return BackupVersion{}, fmt.Errorf("latest version of %s: %w", t, err)
		}

		bv, err := v.snapshots.CreateSnapshot(ctx, t, latest+1, loadType)
		if err == nil {
			slog.Info("backup created",
				"table", t.String(),
				"version", bv.Version,
				"rows", bv.Rows,
				"load_type", loadType,
			)
			return bv, nil
		}
		if !errors.Is(err, ErrVersionExists) {
			return BackupVersion{}, fmt.Errorf("backup %s: %w", t, err)
		}
		lastErr = err
	}
	return BackupVersion{}, fmt.Errorf("backup %s: %w", t, lastErr)
}

// Restore replaces the live rows of t with the snapshot taken as version.
// The current rows are backed up first; no version is removed.
func (v *Versioner) Restore(ctx context.Context, t TableRef, version int64) (RestoreResult, error) {
	exists, err := v.tables.TableExists(ctx, t)
	if err != nil {
		return RestoreResult{}, err
	}
	if !exists {
		return RestoreResult{}, &StoreError{Kind: KindSchema, Op: "restore", Table: t.String(), Err: errors.New("live table does not exist")}
	}

	versions, err := v.snapshots.ListSnapshots(ctx, t)
	if err != nil {
		return RestoreResult{}, fmt.Errorf("list versions of %s: %w", t, err)
	}
	found := false
	for _, bv := range versions {
		if bv.Version == version {
			found = true
			break
		}
	}
	if !found {
		return RestoreResult{}, fmt.Errorf("%w: %s version %d", ErrVersionNotFound, t, version)
	}

	previous, err := v.Backup(ctx, t, ProvenanceRollback)
	if err != nil {
		return RestoreResult{}, fmt.Errorf("backup before restore: %w", err)
	}

	rows, err := v.snapshots.RestoreSnapshot(ctx, t, version)
	if err != nil {
		return RestoreResult{}, fmt.Errorf("restore %s version %d: %w", t, version, err)
	}

	if err := v.snapshots.ClearStaging(ctx, t); err != nil {
		slog.Warn("clear staging failed", "table", t.String(), "error", err)
	}

	slog.Info("table restored",
		"table", t.String(),
		"version", version,
		"rows", rows,
		"previous_saved_as", previous.Version,
	)

	return RestoreResult{
		Table:    t,
		Restored: version,
		Rows:     rows,
		Previous: previous,
	}, nil
}

// ListVersions returns the snapshots of t, oldest first.
func (v *Versioner) ListVersions(ctx context.Context, t TableRef) ([]BackupVersion, error) {
	return v.snapshots.ListSnapshots(ctx, t)
}
