package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/JonMunkholm/dropzone/internal/core"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const catalogQuery = `
SELECT table_schema, table_name, column_name
FROM information_schema.columns
WHERE table_schema = ANY($1)
  AND column_name <> ALL($2)
ORDER BY table_schema, table_name, ordinal_position`

const catalogAllQuery = `
SELECT table_schema, table_name, column_name
FROM information_schema.columns
WHERE table_schema NOT IN ('pg_catalog', 'information_schema')
  AND column_name <> ALL($1)
ORDER BY table_schema, table_name, ordinal_position`

const columnsQuery = `
SELECT column_name
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position`

const tableExistsQuery = `
SELECT EXISTS (
  SELECT 1 FROM information_schema.tables
  WHERE table_schema = $1 AND table_name = $2
)`

var provenanceColumns = []string{core.ColumnLoadType, core.ColumnLoadedAt}

// Catalog lists tables and their user columns. With no schemas, every
// non-system schema is included.
func (g *Gateway) Catalog(ctx context.Context, schemas ...string) ([]core.TableSchema, error) {
	var out []core.TableSchema
	err := g.withConn(ctx, func(conn *pgxpool.Conn) error {
		query, args := catalogAllQuery, []any{provenanceColumns}
		if len(schemas) > 0 {
			query, args = catalogQuery, []any{schemas, provenanceColumns}
		}

		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var schema, table, column string
			if err := rows.Scan(&schema, &table, &column); err != nil {
				return err
			}
			ref := core.TableRef{Schema: schema, Name: table}
			if n := len(out); n == 0 || out[n-1].Table != ref {
				out = append(out, core.TableSchema{Table: ref})
			}
			out[len(out)-1].Columns = append(out[len(out)-1].Columns, column)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, classify("catalog", core.TableRef{}, err)
	}
	return out, nil
}

// TableExists reports whether t exists.
func (g *Gateway) TableExists(ctx context.Context, t core.TableRef) (bool, error) {
	var exists bool
	err := g.withConn(ctx, func(conn *pgxpool.Conn) error {
		return conn.QueryRow(ctx, tableExistsQuery, t.Schema, t.Name).Scan(&exists)
	})
	if err != nil {
		return false, classify("table exists", t, err)
	}
	return exists, nil
}

// dbtx is satisfied by pooled connections and transactions.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// queryColumns returns nil for a missing table.
func queryColumns(ctx context.Context, conn dbtx, t core.TableRef) ([]string, error) {
	rows, err := conn.Query(ctx, columnsQuery, t.Schema, t.Name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		if !isProvenance(c) {
			cols = append(cols, c)
		}
	}
	return cols, rows.Err()
}

// createSchemaSQL returns the statement creating t's schema.
func createSchemaSQL(t core.TableRef) (string, error) {
	if !validIdent(t.Schema) {
		return "", invalidIdent("create schema", t, t.Schema)
	}
	return "CREATE SCHEMA IF NOT EXISTS " + quote(t.Schema), nil
}

// createTableSQL returns the statement creating t with text columns and
// the provenance columns.
func createTableSQL(t core.TableRef, columns []string) (string, error) {
	name, err := tableIdent("create table", t)
	if err != nil {
		return "", err
	}

	defs := make([]string, 0, len(columns)+2)
	for _, c := range columns {
		if !validIdent(c) {
			return "", invalidIdent("create table", t, c)
		}
		defs = append(defs, quote(c)+" text")
	}
	defs = append(defs,
		quote(core.ColumnLoadType)+" text NOT NULL",
		quote(core.ColumnLoadedAt)+" timestamptz NOT NULL DEFAULT now()",
	)
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", name, strings.Join(defs, ", ")), nil
}

// addColumnSQL returns the statement adding a text column to t.
func addColumnSQL(t core.TableRef, column string) (string, error) {
	name, err := tableIdent("add column", t)
	if err != nil {
		return "", err
	}
	if !validIdent(column) {
		return "", invalidIdent("add column", t, column)
	}
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s text", name, quote(column)), nil
}

// EnsureTable creates t and its schema when missing.
func (g *Gateway) EnsureTable(ctx context.Context, t core.TableRef, columns []string) error {
	schemaSQL, err := createSchemaSQL(t)
	if err != nil {
		return err
	}
	tableSQL, err := createTableSQL(t, columns)
	if err != nil {
		return err
	}

	err = g.withConn(ctx, func(conn *pgxpool.Conn) error {
		for _, stmt := range []string{schemaSQL, tableSQL} {
			if _, err := conn.Exec(ctx, stmt); err != nil && !alreadyExists(err) {
				return err
			}
		}
		return nil
	})
	return classify("create table", t, err)
}

// SyncColumns adds the columns of columns that t lacks. A column that
// cannot be added is reported in the result; connection failures abort.
func (g *Gateway) SyncColumns(ctx context.Context, t core.TableRef, columns []string) (core.SyncResult, error) {
	var res core.SyncResult
	err := g.withConn(ctx, func(conn *pgxpool.Conn) error {
		existing, err := queryColumns(ctx, conn, t)
		if err != nil {
			return err
		}
		if existing == nil {
			return &core.StoreError{Kind: core.KindSchema, Op: "sync columns", Table: t.String(), Err: fmt.Errorf("table does not exist")}
		}

		have := make(map[string]bool, len(existing))
		for _, c := range existing {
			have[c] = true
		}

		for _, c := range columns {
			if have[c] {
				continue
			}
			stmt, err := addColumnSQL(t, c)
			if err == nil {
				_, err = conn.Exec(ctx, stmt)
				err = classify("add column", t, err)
			}
			if err != nil {
				if core.Retryable(err) || ctx.Err() != nil {
					return err
				}
				slog.Warn("column not added", "table", t.String(), "column", c, "error", err)
				res.Failed = append(res.Failed, core.ColumnFailure{Column: c, Err: err})
				continue
			}
			have[c] = true
			res.Added = append(res.Added, c)
		}
		return nil
	})
	if err != nil {
		return res, classify("sync columns", t, err)
	}
	return res, nil
}

// Truncate removes every row of t.
func (g *Gateway) Truncate(ctx context.Context, t core.TableRef) error {
	name, err := tableIdent("truncate", t)
	if err != nil {
		return err
	}
	err = g.withConn(ctx, func(conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx, "TRUNCATE TABLE "+name)
		return err
	})
	return classify("truncate", t, err)
}
