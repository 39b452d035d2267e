package core

// engine.go loads one stable file into its target table.
//
// Stages: starting -> reading -> inserting -> validating -> done, with
// error or canceled reachable from every non-terminal stage.
//
// Rows are written in batches, each in its own transaction. Batches that
// were committed stay committed when a later batch fails or the job is
// canceled: a file is not loaded atomically. Callers that need
// all-or-nothing semantics must restore the pre-load backup themselves.

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/dropzone/internal/logging"
)

// DefaultBatchSize keeps a batch under common bind-parameter limits.
const DefaultBatchSize = 990

// finalizeTimeout bounds tracking and relocation work after a job ends,
// which runs even when the job's context is already canceled.
const finalizeTimeout = 30 * time.Second

// EngineConfig holds the ingestion settings. Zero values get defaults.
type EngineConfig struct {
	BatchSize        int           // rows per transaction (default: 990)
	SampleLines      int           // lines read for format detection (default: 10)
	PreCount         bool          // count rows before loading for percent progress
	DefaultDelimiter rune          // used when detection is low-confidence (default: ',')
	DefaultHasHeader bool          // used when detection is low-confidence
	BatchTimeout     time.Duration // per-attempt deadline of a batch insert (0: none)
	JobTimeout       time.Duration // deadline of a whole job (0: none)
	Retry            RetryPolicy   // batch insert retries on connection errors
	ReferenceSchema  string        // schema for reference-data files (default: "reference")
	DataSchema       string        // schema for other files (default: "public")
	MatchThreshold   float64       // advisory schema match threshold (default: 0.7)
	ProcessedDir     string        // sibling folder for loaded files (default: "processed")
	ErrorDir         string        // sibling folder for failed files (default: "error")
	KeepSource       bool          // leave the source file in place after the job
}

func (c *EngineConfig) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.SampleLines <= 0 {
		c.SampleLines = DefaultSampleLines
	}
	if c.DefaultDelimiter == 0 {
		c.DefaultDelimiter = ','
	}
	if c.ReferenceSchema == "" {
		c.ReferenceSchema = "reference"
	}
	if c.DataSchema == "" {
		c.DataSchema = "public"
	}
	if c.MatchThreshold <= 0 {
		c.MatchThreshold = DefaultMatchThreshold
	}
	if c.ProcessedDir == "" {
		c.ProcessedDir = DefaultProcessedDir
	}
	if c.ErrorDir == "" {
		c.ErrorDir = DefaultErrorDir
	}
	c.Retry.AttemptTimeout = c.BatchTimeout
}

// Engine runs ingestion jobs against a Gateway.
type Engine struct {
	gw        Gateway
	versioner *Versioner
	jobs      *Jobs
	cfg       EngineConfig
}

// NewEngine creates an engine. Jobs are registered in jobs.
func NewEngine(gw Gateway, jobs *Jobs, cfg EngineConfig) *Engine {
	cfg.applyDefaults()
	return &Engine{
		gw:        gw,
		versioner: NewVersioner(gw, gw),
		jobs:      jobs,
		cfg:       cfg,
	}
}

// Jobs returns the job registry.
func (e *Engine) Jobs() *Jobs { return e.jobs }

// Versioner returns the backup versioner used before full reloads.
func (e *Engine) Versioner() *Versioner { return e.versioner }

// Config returns the effective configuration.
func (e *Engine) Config() EngineConfig { return e.cfg }

// TargetTable returns the table a file loads into.
func (e *Engine) TargetTable(f TrackedFile) TableRef {
	schema := e.cfg.DataSchema
	if f.Class.Reference {
		schema = e.cfg.ReferenceSchema
	}
	return TableRef{Schema: schema, Name: ExtractTableName(f.Path)}
}

// Ingest loads f and blocks until the job reaches a terminal stage.
// The returned error is the job's error; it is nil only for done.
func (e *Engine) Ingest(ctx context.Context, f TrackedFile) (JobStatus, error) {
	j, err := e.jobs.register(f.Path, e.cfg.BatchSize)
	if err != nil {
		return JobStatus{}, err
	}
	return e.run(ctx, j, f)
}

// Start registers a job for f and loads it in the background.
// Returns the job key for GetStatus, Subscribe and Wait.
func (e *Engine) Start(ctx context.Context, f TrackedFile) (string, error) {
	j, err := e.jobs.register(f.Path, e.cfg.BatchSize)
	if err != nil {
		return "", err
	}
	key := j.snapshot().Key

	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in ingestion", "job", key, "panic", r)
			}
		}()
		_, _ = e.run(ctx, j, f)
	}()

	return key, nil
}

// ingestion is the state of one job run.
type ingestion struct {
	e   *Engine
	j   *job
	f   TrackedFile
	log *slog.Logger

	rec     TrackingRecord
	table   TableRef
	mode    LoadMode
	inserts int // committed batches
	counter *CountingReader
}

func (e *Engine) run(ctx context.Context, j *job, f TrackedFile) (JobStatus, error) {
	if e.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.JobTimeout)
		defer cancel()
	}

	mode := f.Class.Mode
	if mode == "" {
		mode = LoadAppend
	}

	in := &ingestion{
		e:     e,
		j:     j,
		f:     f,
		log:   logging.WithJob(ctx, j.snapshot().Key, f.Path),
		table: e.TargetTable(f),
		mode:  mode,
	}
	j.update(func(st *JobStatus) {
		st.Table = in.table.String()
		st.Mode = mode
	})

	in.rec = e.startRecord(ctx, f)
	in.rec.Table = in.table.String()
	in.rec.LoadType = mode
	in.saveRecord(ctx)

	in.log.Info("ingestion started", "table", in.table.String(), "mode", mode)

	err := in.load(ctx)
	return in.finish(ctx, err)
}

// startRecord reuses the detection record written by the scanner, or starts
// a new one for files that were not discovered by a scan.
func (e *Engine) startRecord(ctx context.Context, f TrackedFile) TrackingRecord {
	now := time.Now()
	rec, ok, err := e.gw.LookupTracking(ctx, f.Path)
	if err != nil {
		slog.Warn("tracking lookup failed", "file", f.Path, "error", err)
	}
	if !ok || err != nil || rec.Status.Terminal() {
		detected := f.DiscoveredAt
		if detected.IsZero() {
			detected = now
		}
		rec = TrackingRecord{
			ID:         uuid.New(),
			Path:       f.Path,
			DetectedAt: detected,
		}
	}
	rec.Status = TrackingProcessing
	rec.StartedAt = now
	rec.FinishedAt = time.Time{}
	rec.ErrorMessage = ""
	return rec
}

func (in *ingestion) saveRecord(ctx context.Context) {
	in.rec.UpdatedAt = time.Now()
	if err := in.e.gw.SaveTracking(ctx, in.rec); err != nil {
		in.log.Error("save tracking record failed", "status", in.rec.Status, "error", err)
	}
}

func (in *ingestion) stage(s Stage) {
	in.j.update(func(st *JobStatus) { st.Stage = s })
}

// canceled reports whether the job should stop before its next batch.
func (in *ingestion) canceled(ctx context.Context) bool {
	return in.j.canceled.Load() || errors.Is(ctx.Err(), context.Canceled)
}

// load runs every stage up to validating. It returns nil on success.
func (in *ingestion) load(ctx context.Context) error {
	e := in.e
	in.stage(StageReading)

	file, err := os.Open(in.f.Path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFatalIO, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFatalIO, err)
	}

	profile, err := in.detectFormat(file)
	if err != nil {
		return err
	}

	decoded, counter := WrapForStreaming(file, profile.Encoding)
	in.counter = counter
	in.j.update(func(st *JobStatus) { st.Size = info.Size() })
	reader := csv.NewReader(decoded)
	reader.Comma = profile.Delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	first, err := reader.Read()
	if err == io.EOF {
		return ErrEmptyFile
	}
	if err != nil {
		return readError(err)
	}

	var columns []string
	var pending []string
	if profile.HasHeader {
		columns = NormalizeColumns(first)
		pending, err = reader.Read()
		if err == io.EOF {
			return ErrEmptyFile
		}
		if err != nil {
			return readError(err)
		}
	} else {
		columns = GeneratedColumns(len(first))
		pending = first
	}

	if e.cfg.PreCount {
		if total, err := countRows(in.f.Path, profile); err == nil {
			in.j.update(func(st *JobStatus) { st.Total = total })
		} else {
			in.log.Debug("row pre-count failed", "error", err)
		}
	}

	in.adviseCandidates(ctx, columns)

	if in.canceled(ctx) {
		return ErrCanceled
	}

	insertCols, keep, err := in.prepareTable(ctx, columns)
	if err != nil {
		return err
	}

	in.stage(StageInserting)
	if err := in.stream(ctx, reader, pending, insertCols, keep); err != nil {
		return err
	}

	st := in.j.snapshot()
	if st.Inserted == 0 && len(st.Rejected) > 0 {
		return fmt.Errorf("all %d batches rejected: %w", len(st.Rejected), ErrConstraint)
	}

	in.stage(StageValidating)
	if hook, ok := PostLoadHook(in.table); ok {
		if err := hook(ctx, in.table, st.Inserted); err != nil {
			return fmt.Errorf("%w: %v", ErrHookFailed, err)
		}
	}
	return nil
}

// detectFormat sniffs the leading lines and rewinds the file.
func (in *ingestion) detectFormat(file *os.File) (FormatProfile, error) {
	cfg := in.e.cfg

	sample, err := ReadSample(file, cfg.SampleLines)
	if err != nil {
		return FormatProfile{}, fmt.Errorf("%w: %v", ErrFatalIO, err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return FormatProfile{}, fmt.Errorf("%w: %v", ErrFatalIO, err)
	}

	profile := Sniff(sample)
	if profile.LowConfidence {
		in.log.Warn("format detection uncertain, using defaults",
			"confidence", profile.Confidence,
			"detected_delimiter", profile.DelimiterName(),
		)
		profile.Delimiter = cfg.DefaultDelimiter
		profile.HasHeader = cfg.DefaultHasHeader
		in.rec.FormatUncertain = true
	}

	in.rec.Delimiter = string(profile.Delimiter)
	in.rec.HasHeader = profile.HasHeader
	in.rec.Encoding = profile.Encoding
	in.rec.Confidence = profile.Confidence

	in.log.Info("format detected",
		"delimiter", profile.DelimiterName(),
		"header", profile.HasHeader,
		"encoding", profile.Encoding,
		"confidence", profile.Confidence,
	)
	return profile, nil
}

// adviseCandidates warns when the file's columns also fit other tables.
func (in *ingestion) adviseCandidates(ctx context.Context, columns []string) {
	cfg := in.e.cfg
	catalog, err := in.e.gw.Catalog(ctx, cfg.ReferenceSchema, cfg.DataSchema)
	if err != nil {
		in.log.Warn("schema match skipped", "error", err)
		return
	}

	var others []SchemaCandidate
	for _, c := range MatchSchemas(columns, catalog, cfg.MatchThreshold) {
		if c.Table != in.table.String() {
			others = append(others, c)
		}
	}
	if len(others) == 0 {
		return
	}

	in.j.update(func(st *JobStatus) { st.Candidates = others })
	names := make([]string, len(others))
	for i, c := range others {
		names[i] = fmt.Sprintf("%s (%.0f%%)", c.Table, c.Match*100)
	}
	in.log.Warn("file columns also match other tables, check the drop folder",
		"target", in.table.String(),
		"candidates", strings.Join(names, ", "),
	)
}

// prepareTable backs up and truncates for full reloads, then reconciles
// columns. It returns the columns to insert and their positions in a row.
func (in *ingestion) prepareTable(ctx context.Context, columns []string) ([]string, []int, error) {
	gw := in.e.gw

	exists, err := gw.TableExists(ctx, in.table)
	if err != nil {
		return nil, nil, err
	}

	if exists && in.mode == LoadFull {
		bv, err := in.e.versioner.Backup(ctx, in.table, string(LoadFull))
		if err != nil {
			return nil, nil, err
		}
		in.log.Info("table backed up before full reload", "version", bv.Version, "rows", bv.Rows)
		if err := gw.Truncate(ctx, in.table); err != nil {
			return nil, nil, err
		}
	}

	if err := gw.EnsureTable(ctx, in.table, columns); err != nil {
		return nil, nil, err
	}

	res, err := gw.SyncColumns(ctx, in.table, columns)
	if err != nil {
		return nil, nil, err
	}
	if len(res.Added) > 0 {
		in.log.Info("columns added", "columns", strings.Join(res.Added, ","))
	}

	failed := make(map[string]bool, len(res.Failed))
	for _, f := range res.Failed {
		failed[f.Column] = true
		in.log.Warn("column could not be added, values dropped", "column", f.Column, "error", f.Err)
	}

	insertCols := make([]string, 0, len(columns))
	keep := make([]int, 0, len(columns))
	for i, c := range columns {
		if failed[c] {
			continue
		}
		insertCols = append(insertCols, c)
		keep = append(keep, i)
	}
	if len(insertCols) == 0 {
		return nil, nil, &StoreError{Kind: KindSchema, Op: "sync columns", Table: in.table.String(), Err: errors.New("no insertable columns")}
	}
	return insertCols, keep, nil
}

// stream reads rows and writes them batch by batch in file order.
func (in *ingestion) stream(ctx context.Context, reader *csv.Reader, pending []string, cols []string, keep []int) error {
	size := in.e.cfg.BatchSize
	batch := make([][]string, 0, size)
	firstLine, lastLine := 0, 0

	add := func(record []string) {
		line, _ := reader.FieldPos(0)
		if len(batch) == 0 {
			firstLine = line
		}
		lastLine = line
		batch = append(batch, project(record, keep))
	}

	add(pending)
	for {
		if len(batch) == 0 && in.canceled(ctx) {
			return ErrCanceled
		}

		if len(batch) == size {
			if err := in.flush(ctx, batch, cols, firstLine, lastLine); err != nil {
				return err
			}
			batch = make([][]string, 0, size)
			continue
		}

		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return readError(err)
		}
		add(record)
	}

	if len(batch) > 0 {
		return in.flush(ctx, batch, cols, firstLine, lastLine)
	}
	return nil
}

// flush inserts one batch. A constraint rejection is recorded and loading
// continues; any other failure ends the job.
func (in *ingestion) flush(ctx context.Context, batch [][]string, cols []string, firstLine, lastLine int) error {
	if in.canceled(ctx) {
		return ErrCanceled
	}

	var n int64
	err := Retry(ctx, in.e.cfg.Retry, func(ctx context.Context) error {
		var err error
		n, err = in.e.gw.InsertBatch(ctx, in.table, cols, batch, in.mode)
		return err
	})

	index := in.j.snapshot().Batches + len(in.j.snapshot().Rejected) + 1
	switch {
	case err == nil:
		in.inserts++
		in.j.update(func(st *JobStatus) {
			st.Inserted += n
			st.Batches++
			st.BytesRead = in.counter.BytesRead()
		})
		in.log.Debug("batch committed", "batch", index, "rows", n, "lines", fmt.Sprintf("%d-%d", firstLine, lastLine))
		return nil

	case errors.Is(err, ErrConstraint):
		rb := RejectedBatch{
			Index:     index,
			FirstLine: firstLine,
			LastLine:  lastLine,
			Rows:      len(batch),
			Reason:    err.Error(),
		}
		in.j.update(func(st *JobStatus) { st.Rejected = append(st.Rejected, rb) })
		in.log.Warn("batch rejected", "batch", index, "lines", fmt.Sprintf("%d-%d", firstLine, lastLine), "error", err)
		return nil

	case errors.Is(err, context.Canceled) && in.canceled(ctx):
		return ErrCanceled

	default:
		return fmt.Errorf("batch %d (lines %d-%d): %w", index, firstLine, lastLine, err)
	}
}

// finish records the outcome, relocates the file and releases the job.
func (in *ingestion) finish(ctx context.Context, err error) (JobStatus, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	stage, status := StageDone, TrackingDone
	switch {
	case err == nil:
	case errors.Is(err, ErrCanceled):
		stage, status = StageCanceled, TrackingCanceled
	default:
		stage, status = StageError, TrackingError
	}

	st := in.j.snapshot()
	in.rec.Status = status
	in.rec.RowsInserted = st.Inserted
	in.rec.FinishedAt = time.Now()
	in.rec.ErrorMessage = FormatUserError(err)
	if err == nil && len(st.Rejected) > 0 {
		in.rec.ErrorMessage = rejectedSummary(st.Rejected)
	}

	in.rec.FinalPath = in.relocate(stage, err)
	in.saveRecord(ctx)

	in.j.update(func(s *JobStatus) {
		s.Stage = stage
		s.Done = true
		finished := in.rec.FinishedAt
		s.FinishedAt = &finished
		if err != nil {
			s.Error = FormatUserError(err)
		}
	})
	in.j.finish()
	in.e.jobs.release(in.j)

	final := in.j.snapshot()
	attrs := []any{
		"stage", stage,
		"inserted", final.Inserted,
		"batches", final.Batches,
		"rejected", len(final.Rejected),
		"final_path", in.rec.FinalPath,
		"duration_ms", time.Since(final.StartedAt).Milliseconds(),
	}
	switch stage {
	case StageDone:
		in.log.Info("ingestion completed", attrs...)
	case StageCanceled:
		in.log.Warn("ingestion canceled", attrs...)
	default:
		in.log.Error("ingestion failed", append(attrs, "error", err)...)
	}

	return final, err
}

// relocate moves the source file to its final folder and returns its path.
// An unreadable file with nothing committed stays where it is.
func (in *ingestion) relocate(stage Stage, err error) string {
	cfg := in.e.cfg
	if cfg.KeepSource {
		return in.f.Path
	}
	if errors.Is(err, ErrFatalIO) && in.inserts == 0 {
		return in.f.Path
	}

	now := time.Now()
	dst := ErrorPath(in.f.Path, cfg.ErrorDir, now)
	if stage == StageDone {
		dst = ProcessedPath(in.f.Path, cfg.ProcessedDir, now)
	}
	if rerr := Relocate(in.f.Path, dst); rerr != nil {
		in.log.Error("relocate failed", "target", dst, "error", rerr)
		return in.f.Path
	}
	return dst
}

// project keeps the columns at positions keep. Short rows are padded with
// empty cells, which the store writes as NULL.
func project(record []string, keep []int) []string {
	row := make([]string, len(keep))
	for i, k := range keep {
		if k < len(record) {
			row[i] = record[k]
		}
	}
	return row
}

// readError separates malformed content from I/O failures.
func readError(err error) error {
	var perr *csv.ParseError
	if errors.As(err, &perr) {
		return fmt.Errorf("invalid csv: %w", err)
	}
	return fmt.Errorf("%w: %v", ErrFatalIO, err)
}

// countRows counts data records with the detected format.
func countRows(path string, profile FormatProfile) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	r := csv.NewReader(DecodeReader(f, profile.Encoding))
	r.Comma = profile.Delimiter
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = true

	var n int64
	for {
		_, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
		n++
	}
	if profile.HasHeader && n > 0 {
		n--
	}
	return n, nil
}

func rejectedSummary(rejected []RejectedBatch) string {
	parts := make([]string, 0, len(rejected))
	var rows int
	for _, rb := range rejected {
		rows += rb.Rows
		parts = append(parts, fmt.Sprintf("lines %d-%d", rb.FirstLine, rb.LastLine))
	}
	return fmt.Sprintf("%s (Code: %s): %d rows in %d batches rejected: %s",
		msgRejectedData.Message, msgRejectedData.Code, rows, len(rejected), strings.Join(parts, "; "))
}
