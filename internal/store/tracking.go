package store

import (
	"context"
	"errors"
	"time"

	"github.com/JonMunkholm/dropzone/internal/core"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const saveTrackingQuery = `
INSERT INTO ` + trackingTable + ` (
  id, path, final_path, table_name, load_type, delimiter, has_header,
  encoding, confidence, format_uncertain, status, rows_inserted,
  error_message, detected_at, started_at, finished_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
ON CONFLICT (id) DO UPDATE SET
  final_path = EXCLUDED.final_path,
  table_name = EXCLUDED.table_name,
  load_type = EXCLUDED.load_type,
  delimiter = EXCLUDED.delimiter,
  has_header = EXCLUDED.has_header,
  encoding = EXCLUDED.encoding,
  confidence = EXCLUDED.confidence,
  format_uncertain = EXCLUDED.format_uncertain,
  status = EXCLUDED.status,
  rows_inserted = EXCLUDED.rows_inserted,
  error_message = EXCLUDED.error_message,
  started_at = EXCLUDED.started_at,
  finished_at = EXCLUDED.finished_at,
  updated_at = EXCLUDED.updated_at`

const lookupTrackingQuery = `
SELECT id, path, final_path, table_name, load_type, delimiter, has_header,
  encoding, confidence, format_uncertain, status, rows_inserted,
  error_message, detected_at, started_at, finished_at, updated_at
FROM ` + trackingTable + `
WHERE path = $1
ORDER BY detected_at DESC, updated_at DESC
LIMIT 1`

// SaveTracking inserts rec or updates the record with the same id.
func (g *Gateway) SaveTracking(ctx context.Context, rec core.TrackingRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	err := g.withConn(ctx, func(conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx, saveTrackingQuery,
			rec.ID,
			rec.Path,
			rec.FinalPath,
			rec.Table,
			string(rec.LoadType),
			rec.Delimiter,
			rec.HasHeader,
			string(rec.Encoding),
			rec.Confidence,
			rec.FormatUncertain,
			string(rec.Status),
			rec.RowsInserted,
			rec.ErrorMessage,
			nullTime(rec.DetectedAt),
			nullTime(rec.StartedAt),
			nullTime(rec.FinishedAt),
			rec.UpdatedAt,
		)
		return err
	})
	return classify("save tracking", core.TableRef{}, err)
}

// LookupTracking returns the most recent record for path.
func (g *Gateway) LookupTracking(ctx context.Context, path string) (core.TrackingRecord, bool, error) {
	var (
		rec                         core.TrackingRecord
		loadType, encoding, status  string
		detected, started, finished *time.Time
		found                       bool
	)
	err := g.withConn(ctx, func(conn *pgxpool.Conn) error {
		err := conn.QueryRow(ctx, lookupTrackingQuery, path).Scan(
			&rec.ID,
			&rec.Path,
			&rec.FinalPath,
			&rec.Table,
			&loadType,
			&rec.Delimiter,
			&rec.HasHeader,
			&encoding,
			&rec.Confidence,
			&rec.FormatUncertain,
			&status,
			&rec.RowsInserted,
			&rec.ErrorMessage,
			&detected,
			&started,
			&finished,
			&rec.UpdatedAt,
		)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return core.TrackingRecord{}, false, classify("lookup tracking", core.TableRef{}, err)
	}
	if !found {
		return core.TrackingRecord{}, false, nil
	}

	rec.LoadType = core.LoadMode(loadType)
	rec.Encoding = core.Encoding(encoding)
	rec.Status = core.TrackingStatus(status)
	rec.DetectedAt = derefTime(detected)
	rec.StartedAt = derefTime(started)
	rec.FinishedAt = derefTime(finished)
	return rec, true, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
