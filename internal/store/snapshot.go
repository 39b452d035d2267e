package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/dropzone/internal/core"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Snapshots live in <table>__backup next to the live table. Every row is
// tagged with its version; dropzone_backup_versions holds one entry per
// version so that versions of empty tables are listed too.

const latestVersionQuery = `
SELECT COALESCE(MAX(version), 0)
FROM ` + versionsTable + `
WHERE schema_name = $1 AND table_name = $2`

const listVersionsQuery = `
SELECT version, load_type, row_count, created_at
FROM ` + versionsTable + `
WHERE schema_name = $1 AND table_name = $2
ORDER BY version`

const versionExistsQuery = `
SELECT EXISTS (
  SELECT 1 FROM ` + versionsTable + `
  WHERE schema_name = $1 AND table_name = $2 AND version = $3
)`

const registerVersionQuery = `
INSERT INTO ` + versionsTable + ` (schema_name, table_name, version, load_type, row_count, created_at)
VALUES ($1, $2, $3, $4, 0, $5)`

const updateVersionRowsQuery = `
UPDATE ` + versionsTable + ` SET row_count = $4
WHERE schema_name = $1 AND table_name = $2 AND version = $3`

// LatestVersion returns the highest version of t, 0 if none.
func (g *Gateway) LatestVersion(ctx context.Context, t core.TableRef) (int64, error) {
	var v int64
	err := g.withConn(ctx, func(conn *pgxpool.Conn) error {
		return conn.QueryRow(ctx, latestVersionQuery, t.Schema, t.Name).Scan(&v)
	})
	if err != nil {
		return 0, classify("latest version", t, err)
	}
	return v, nil
}

// ListSnapshots returns the versions of t, oldest first.
func (g *Gateway) ListSnapshots(ctx context.Context, t core.TableRef) ([]core.BackupVersion, error) {
	var out []core.BackupVersion
	err := g.withConn(ctx, func(conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, listVersionsQuery, t.Schema, t.Name)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			v := core.BackupVersion{Table: t}
			if err := rows.Scan(&v.Version, &v.LoadType, &v.Rows, &v.CreatedAt); err != nil {
				return err
			}
			out = append(out, v)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, classify("list backups", t, err)
	}
	return out, nil
}

// createBackupTableSQL returns the statement creating t's backup table
// with the bookkeeping and provenance columns.
func createBackupTableSQL(t core.TableRef) (string, error) {
	name, err := tableIdent("create backup table", backupTable(t))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s bigint NOT NULL, %s text NOT NULL, %s timestamptz NOT NULL, %s text, %s timestamptz)",
		name,
		quote(columnBackupVersion),
		quote(columnBackupLoadType),
		quote(columnBackupCreatedAt),
		quote(core.ColumnLoadType),
		quote(core.ColumnLoadedAt),
	), nil
}

// snapshotSQL returns the statement copying the live rows of t into its
// backup table. $1 is the version, $2 the load type, $3 the creation time.
func snapshotSQL(t core.TableRef, columns []string) (string, error) {
	live, err := tableIdent("snapshot", t)
	if err != nil {
		return "", err
	}
	backup, err := tableIdent("snapshot", backupTable(t))
	if err != nil {
		return "", err
	}
	cols, err := columnIdents("snapshot", t, append(append([]string(nil), columns...), provenanceColumns...))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("INSERT INTO %s (%s, %s, %s, %s) SELECT $1, $2, $3, %s FROM %s",
		backup,
		quote(columnBackupVersion), quote(columnBackupLoadType), quote(columnBackupCreatedAt),
		cols, cols, live,
	), nil
}

// restoreSQL returns the statement copying version $1 of the backup into
// the live table, tagging rows as rollback.
func restoreSQL(t core.TableRef, columns []string) (string, error) {
	live, err := tableIdent("restore", t)
	if err != nil {
		return "", err
	}
	backup, err := tableIdent("restore", backupTable(t))
	if err != nil {
		return "", err
	}
	cols, err := columnIdents("restore", t, columns)
	if err != nil {
		return "", err
	}
	if cols != "" {
		cols += ", "
	}
	return fmt.Sprintf("INSERT INTO %s (%s%s, %s) SELECT %s'%s', now() FROM %s WHERE %s = $1",
		live,
		cols, quote(core.ColumnLoadType), quote(core.ColumnLoadedAt),
		cols, core.ProvenanceRollback,
		backup, quote(columnBackupVersion),
	), nil
}

// CreateSnapshot copies the live rows of t under version in one
// transaction. The version registry's primary key rejects duplicates.
func (g *Gateway) CreateSnapshot(ctx context.Context, t core.TableRef, version int64, loadType string) (core.BackupVersion, error) {
	createSQL, err := createBackupTableSQL(t)
	if err != nil {
		return core.BackupVersion{}, err
	}

	v := core.BackupVersion{Table: t, Version: version, LoadType: loadType, CreatedAt: time.Now().UTC()}
	err = g.withTx(ctx, func(tx pgx.Tx) error {
		latest, err := latestVersion(ctx, tx, t)
		if err != nil {
			return err
		}
		if version <= latest {
			return fmt.Errorf("%w: %s version %d", core.ErrVersionExists, t, version)
		}
		if _, err := tx.Exec(ctx, registerVersionQuery, t.Schema, t.Name, version, loadType, v.CreatedAt); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s version %d", core.ErrVersionExists, t, version)
			}
			return err
		}

		columns, err := queryColumns(ctx, tx, t)
		if err != nil {
			return err
		}
		if columns == nil {
			return &core.StoreError{Kind: core.KindSchema, Op: "snapshot", Table: t.String(), Err: errors.New("table does not exist")}
		}

		if _, err := tx.Exec(ctx, createSQL); err != nil {
			return err
		}
		for _, c := range columns {
			stmt, err := addColumnSQL(backupTable(t), c)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return err
			}
		}

		insertSQL, err := snapshotSQL(t, columns)
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, insertSQL, version, loadType, v.CreatedAt)
		if err != nil {
			return err
		}
		v.Rows = tag.RowsAffected()

		_, err = tx.Exec(ctx, updateVersionRowsQuery, t.Schema, t.Name, version, v.Rows)
		return err
	})
	if err != nil {
		return core.BackupVersion{}, classify("snapshot", t, err)
	}
	return v, nil
}

func latestVersion(ctx context.Context, q dbtx, t core.TableRef) (int64, error) {
	var v int64
	err := q.QueryRow(ctx, latestVersionQuery, t.Schema, t.Name).Scan(&v)
	return v, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// RestoreSnapshot replaces the live rows of t with version in one
// transaction. Columns added to t after the snapshot are left NULL.
func (g *Gateway) RestoreSnapshot(ctx context.Context, t core.TableRef, version int64) (int64, error) {
	live, err := tableIdent("restore", t)
	if err != nil {
		return 0, err
	}

	var n int64
	err = g.withTx(ctx, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, versionExistsQuery, t.Schema, t.Name, version).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: %s version %d", core.ErrVersionNotFound, t, version)
		}

		liveCols, err := queryColumns(ctx, tx, t)
		if err != nil {
			return err
		}
		backupCols, err := queryColumns(ctx, tx, backupTable(t))
		if err != nil {
			return err
		}

		insertSQL, err := restoreSQL(t, commonColumns(liveCols, backupCols))
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, "TRUNCATE TABLE "+live); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, insertSQL, version)
		if err != nil {
			return err
		}
		n = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, classify("restore", t, err)
	}
	return n, nil
}

// commonColumns returns the columns of live that also exist in backup,
// skipping bookkeeping columns.
func commonColumns(live, backup []string) []string {
	have := make(map[string]bool, len(backup))
	for _, c := range backup {
		have[c] = true
	}
	var out []string
	for _, c := range live {
		if have[c] && !strings.HasPrefix(c, "_backup_") {
			out = append(out, c)
		}
	}
	return out
}

// ClearStaging truncates t's staging table when one exists.
func (g *Gateway) ClearStaging(ctx context.Context, t core.TableRef) error {
	staging := stagingTable(t)
	name, err := tableIdent("clear staging", staging)
	if err != nil {
		return err
	}

	err = g.withConn(ctx, func(conn *pgxpool.Conn) error {
		var exists bool
		if err := conn.QueryRow(ctx, tableExistsQuery, staging.Schema, staging.Name).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return nil
		}
		_, err := conn.Exec(ctx, "TRUNCATE TABLE "+name)
		return err
	})
	return classify("clear staging", t, err)
}
