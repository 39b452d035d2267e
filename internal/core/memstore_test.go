package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// memStore is an in-memory Gateway for tests.
type memStore struct {
	mu       sync.Mutex
	tables   map[string]*memTable
	backups  map[string][]memSnapshot
	tracking map[string][]TrackingRecord
	staging  map[string]int // ClearStaging calls per table

	inserts     int   // InsertBatch calls
	commits     int   // committed batches
	batchSizes  []int // rows per committed batch
	failBatch   func(call int) error
	afterCommit func(commit int)
	failColumns map[string]bool
}

type memTable struct {
	cols []string
	rows []map[string]string
}

type memSnapshot struct {
	version  int64
	loadType string
	created  time.Time
	rows     []map[string]string
}

func newMemStore() *memStore {
	return &memStore{
		tables:   make(map[string]*memTable),
		backups:  make(map[string][]memSnapshot),
		tracking: make(map[string][]TrackingRecord),
		staging:  make(map[string]int),
	}
}

// seed creates t with rows tagged as a previous full load.
func (m *memStore) seed(t TableRef, cols []string, rows [][]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tbl := &memTable{cols: append([]string(nil), cols...)}
	for _, r := range rows {
		tbl.rows = append(tbl.rows, toRow(cols, r, LoadFull))
	}
	m.tables[t.String()] = tbl
}

func toRow(cols []string, values []string, loadType LoadMode) map[string]string {
	row := map[string]string{ColumnLoadType: string(loadType)}
	for i, c := range cols {
		if i < len(values) && values[i] != "" {
			row[c] = values[i]
		}
	}
	return row
}

// rows returns the user columns of t, in table order, one slice per row.
func (m *memStore) rows(t TableRef) [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	tbl, ok := m.tables[t.String()]
	if !ok {
		return nil
	}
	out := make([][]string, len(tbl.rows))
	for i, r := range tbl.rows {
		vals := make([]string, len(tbl.cols))
		for j, c := range tbl.cols {
			vals[j] = r[c]
		}
		out[i] = vals
	}
	return out
}

func (m *memStore) loadTypes(t TableRef) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []string
	for _, r := range m.tables[t.String()].rows {
		out = append(out, r[ColumnLoadType])
	}
	return out
}

func (m *memStore) lastTracking(path string) (TrackingRecord, bool) {
	rec, ok, _ := m.LookupTracking(context.Background(), path)
	return rec, ok
}

func (m *memStore) Catalog(_ context.Context, schemas ...string) ([]TableSchema, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	want := make(map[string]bool, len(schemas))
	for _, s := range schemas {
		want[s] = true
	}
	var out []TableSchema
	for key, tbl := range m.tables {
		ref := parseRef(key)
		if len(want) > 0 && !want[ref.Schema] {
			continue
		}
		out = append(out, TableSchema{Table: ref, Columns: append([]string(nil), tbl.cols...)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Table.String() < out[j].Table.String() })
	return out, nil
}

func parseRef(key string) TableRef {
	for i := 0; i < len(key); i++ {
		if key[i] == '.' {
			return TableRef{Schema: key[:i], Name: key[i+1:]}
		}
	}
	return TableRef{Name: key}
}

func (m *memStore) TableExists(_ context.Context, t TableRef) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tables[t.String()]
	return ok, nil
}

func (m *memStore) EnsureTable(_ context.Context, t TableRef, columns []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[t.String()]; ok {
		return nil
	}
	var cols []string
	for _, c := range columns {
		if !m.failColumns[c] {
			cols = append(cols, c)
		}
	}
	m.tables[t.String()] = &memTable{cols: cols}
	return nil
}

func (m *memStore) Columns(_ context.Context, t TableRef) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tbl, ok := m.tables[t.String()]
	if !ok {
		return nil, &StoreError{Kind: KindSchema, Op: "columns", Table: t.String(), Err: errors.New("no such table")}
	}
	return append([]string(nil), tbl.cols...), nil
}

func (m *memStore) SyncColumns(_ context.Context, t TableRef, columns []string) (SyncResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tbl, ok := m.tables[t.String()]
	if !ok {
		return SyncResult{}, &StoreError{Kind: KindSchema, Op: "sync columns", Table: t.String(), Err: errors.New("no such table")}
	}
	have := make(map[string]bool, len(tbl.cols))
	for _, c := range tbl.cols {
		have[c] = true
	}

	var res SyncResult
	for _, c := range columns {
		if have[c] {
			continue
		}
		if m.failColumns[c] {
			res.Failed = append(res.Failed, ColumnFailure{Column: c, Err: errors.New("cannot add column")})
			continue
		}
		tbl.cols = append(tbl.cols, c)
		have[c] = true
		res.Added = append(res.Added, c)
	}
	return res, nil
}

func (m *memStore) Truncate(_ context.Context, t TableRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tbl, ok := m.tables[t.String()]
	if !ok {
		return &StoreError{Kind: KindSchema, Op: "truncate", Table: t.String(), Err: errors.New("no such table")}
	}
	tbl.rows = nil
	return nil
}

func (m *memStore) InsertBatch(ctx context.Context, t TableRef, columns []string, rows [][]string, loadType LoadMode) (int64, error) {
	m.mu.Lock()
	m.inserts++
	call := m.inserts
	failBatch := m.failBatch
	m.mu.Unlock()

	if failBatch != nil {
		if err := failBatch(call); err != nil {
			return 0, err
		}
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	tbl, ok := m.tables[t.String()]
	if !ok {
		m.mu.Unlock()
		return 0, &StoreError{Kind: KindSchema, Op: "insert", Table: t.String(), Err: errors.New("no such table")}
	}
	for _, r := range rows {
		tbl.rows = append(tbl.rows, toRow(columns, r, loadType))
	}
	m.commits++
	commit := m.commits
	m.batchSizes = append(m.batchSizes, len(rows))
	after := m.afterCommit
	m.mu.Unlock()

	if after != nil {
		after(commit)
	}
	return int64(len(rows)), nil
}

func (m *memStore) LatestVersion(_ context.Context, t TableRef) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest(t), nil
}

func (m *memStore) latest(t TableRef) int64 {
	var v int64
	for _, s := range m.backups[t.String()] {
		if s.version > v {
			v = s.version
		}
	}
	return v
}

func (m *memStore) CreateSnapshot(_ context.Context, t TableRef, version int64, loadType string) (BackupVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if version <= m.latest(t) {
		return BackupVersion{}, fmt.Errorf("%w: %s version %d", ErrVersionExists, t, version)
	}
	tbl, ok := m.tables[t.String()]
	if !ok {
		return BackupVersion{}, &StoreError{Kind: KindSchema, Op: "snapshot", Table: t.String(), Err: errors.New("no such table")}
	}

	snap := memSnapshot{version: version, loadType: loadType, created: time.Now()}
	for _, r := range tbl.rows {
		snap.rows = append(snap.rows, copyRow(r))
	}
	m.backups[t.String()] = append(m.backups[t.String()], snap)

	return BackupVersion{Table: t, Version: version, LoadType: loadType, Rows: int64(len(snap.rows)), CreatedAt: snap.created}, nil
}

func copyRow(r map[string]string) map[string]string {
	out := make(map[string]string, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func (m *memStore) RestoreSnapshot(_ context.Context, t TableRef, version int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tbl, ok := m.tables[t.String()]
	if !ok {
		return 0, &StoreError{Kind: KindSchema, Op: "restore", Table: t.String(), Err: errors.New("no such table")}
	}
	for _, s := range m.backups[t.String()] {
		if s.version != version {
			continue
		}
		tbl.rows = nil
		for _, r := range s.rows {
			row := copyRow(r)
			row[ColumnLoadType] = ProvenanceRollback
			tbl.rows = append(tbl.rows, row)
		}
		return int64(len(tbl.rows)), nil
	}
	return 0, fmt.Errorf("%w: %s version %d", ErrVersionNotFound, t, version)
}

func (m *memStore) ListSnapshots(_ context.Context, t TableRef) ([]BackupVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []BackupVersion
	for _, s := range m.backups[t.String()] {
		out = append(out, BackupVersion{Table: t, Version: s.version, LoadType: s.loadType, Rows: int64(len(s.rows)), CreatedAt: s.created})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (m *memStore) ClearStaging(_ context.Context, t TableRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staging[t.String()]++
	return nil
}

func (m *memStore) SaveTracking(_ context.Context, rec TrackingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	recs := m.tracking[rec.Path]
	for i := range recs {
		if recs[i].ID == rec.ID {
			recs[i] = rec
			return nil
		}
	}
	m.tracking[rec.Path] = append(recs, rec)
	return nil
}

func (m *memStore) LookupTracking(_ context.Context, path string) (TrackingRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	recs := m.tracking[path]
	if len(recs) == 0 {
		return TrackingRecord{}, false, nil
	}
	return recs[len(recs)-1], true, nil
}

var _ Gateway = (*memStore)(nil)
