package store

import (
	"context"

	"github.com/JonMunkholm/dropzone/internal/core"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// InsertBatch copies rows into t with a single COPY statement, which
// commits or fails as a whole. Empty cells become NULL.
func (g *Gateway) InsertBatch(ctx context.Context, t core.TableRef, columns []string, rows [][]string, loadType core.LoadMode) (int64, error) {
	if _, err := tableIdent("insert", t); err != nil {
		return 0, err
	}
	if _, err := columnIdents("insert", t, columns); err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	copyColumns := append(append([]string(nil), columns...), core.ColumnLoadType)
	source := copyRows(rows, len(columns), string(loadType))

	var n int64
	err := g.withConn(ctx, func(conn *pgxpool.Conn) error {
		var err error
		n, err = conn.CopyFrom(ctx, pgx.Identifier{t.Schema, t.Name}, copyColumns, source)
		return err
	})
	if err != nil {
		return 0, classify("insert", t, err)
	}
	return n, nil
}

// copyRows converts CSV records to COPY values: width cells, "" as NULL,
// followed by the load type.
func copyRows(rows [][]string, width int, loadType string) pgx.CopyFromSource {
	values := make([][]any, len(rows))
	for i, r := range rows {
		row := make([]any, width+1)
		for j := 0; j < width; j++ {
			if j < len(r) && r[j] != "" {
				row[j] = r[j]
			}
		}
		row[width] = loadType
		values[i] = row
	}
	return pgx.CopyFromRows(values)
}
