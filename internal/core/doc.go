// Package core provides the drop-folder ingestion pipeline.
//
// This package holds all domain logic independent of the database driver,
// the HTTP surface and the CLI. Storage is reached only through the
// [Gateway] interface so the pipeline can be driven from the server, the
// command line or tests without modification.
//
// # Architecture
//
// Files move through the package in this order:
//
//   - Scanner: walks the watched root, classifies files by folder and
//     registers them with the Watcher.
//   - Watcher: polls tracked files and reports a file once its size and
//     modification time stayed unchanged for the stability threshold.
//   - Scheduler: runs the scan and poll loop and dispatches stable files,
//     bounded by an [IngestLimiter].
//   - Engine: sniffs the format, prepares the target table and streams the
//     rows into it in batches, then relocates the file.
//   - Versioner: snapshots a table before a full reload and restores it on
//     demand.
//
// # Folder Layout
//
//	<root>/reference_data/fullload/...      -> reference schema, truncate and reload
//	<root>/reference_data/append/...        -> reference schema, append
//	<root>/non_reference_data/fullload/...  -> data schema, truncate and reload
//	<root>/non_reference_data/append/...    -> data schema, append
//
// Processed files go to a processed/ folder next to the source, prefixed with
// a UTC timestamp. Failed files go to error/.
//
// # Batches
//
// Each batch is committed on its own. A canceled or failed job keeps the
// batches committed before it; the job status reports how many.
// Constraint violations reject a single batch and the load continues.
//
// # Error Handling
//
// Store failures are returned as [*StoreError] and classified by [ErrorKind].
// Connection errors are retried with [Retry]. Technical errors are mapped to
// user-facing messages by [MapError]:
//
//   - STORE001-STORE003: Store errors (connection, schema, constraint)
//   - FILE001-FILE003: File errors (unreadable, empty, format)
//   - JOB001-JOB005: Job errors (canceled, busy, timeout, hook, not found)
//   - BAK001-BAK002: Backup errors
package core
