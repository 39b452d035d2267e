package core

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LoadMode controls whether a file replaces or extends a table's contents.
type LoadMode string

const (
	LoadFull   LoadMode = "fullload"
	LoadAppend LoadMode = "append"
)

// ProvenanceRollback tags rows copied back into a live table by a restore.
const ProvenanceRollback = "rollback"

// Classification is derived from a file's position under the watched root.
type Classification struct {
	Reference bool     // reference-data vs non-reference-data subtree
	Mode      LoadMode // fullload vs append subtree
}

func (c Classification) String() string {
	kind := "non_reference"
	if c.Reference {
		kind = "reference"
	}
	return kind + "/" + string(c.Mode)
}

// TrackedFile is a candidate file observed by the StabilityWatcher.
// Identity is the absolute path.
type TrackedFile struct {
	Path         string
	Size         int64
	ModTime      time.Time
	Unchanged    int // consecutive polls without a size or mtime change
	DiscoveredAt time.Time
	Class        Classification
}

// Encoding is the text encoding detected for a file.
type Encoding string

const (
	EncodingUTF8   Encoding = "utf-8"
	EncodingLatin1 Encoding = "latin-1"
)

// FormatProfile describes the detected tabular format of a file.
// Produced once per file by the Sniffer and never mutated afterwards.
type FormatProfile struct {
	Delimiter     rune
	HasHeader     bool
	Encoding      Encoding
	Confidence    float64 // 0-1
	LowConfidence bool
	SampleRows    [][]string
}

// DelimiterName returns a printable name for the delimiter.
func (p FormatProfile) DelimiterName() string {
	switch p.Delimiter {
	case ',':
		return "comma"
	case ';':
		return "semicolon"
	case '|':
		return "pipe"
	case '\t':
		return "tab"
	default:
		return fmt.Sprintf("%q", p.Delimiter)
	}
}

// TableRef names a table inside a schema.
type TableRef struct {
	Schema string `json:"schema"`
	Name   string `json:"name"`
}

func (t TableRef) String() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// TableSchema is one entry of the store catalog.
type TableSchema struct {
	Table   TableRef
	Columns []string
}

// Stage indicates the current state of an ingestion job.
type Stage string

const (
	StageStarting   Stage = "starting"
	StageReading    Stage = "reading"
	StageInserting  Stage = "inserting"
	StageValidating Stage = "validating"
	StageDone       Stage = "done"
	StageError      Stage = "error"
	StageCanceled   Stage = "canceled"
)

// Terminal reports whether no further transitions are possible.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageError || s == StageCanceled
}

// RejectedBatch records a batch the store refused for data reasons.
type RejectedBatch struct {
	Index     int    `json:"index"`
	FirstLine int    `json:"firstLine"`
	LastLine  int    `json:"lastLine"`
	Rows      int    `json:"rows"`
	Reason    string `json:"reason"`
}

// JobStatus is a snapshot of an ingestion job.
type JobStatus struct {
	Key        string            `json:"key"`
	RunID      string            `json:"runId"`
	Path       string            `json:"path"`
	Table      string            `json:"table,omitempty"`
	Mode       LoadMode          `json:"mode,omitempty"`
	BatchSize  int               `json:"batchSize"`
	Stage      Stage             `json:"stage"`
	Inserted   int64             `json:"inserted"`
	Total      int64             `json:"total"` // 0 when unknown
	Size       int64             `json:"size"`  // source bytes, 0 when unknown
	BytesRead  int64             `json:"bytesRead"`
	Percent    int               `json:"percent"` // -1 when indeterminate
	Batches    int               `json:"batches"`
	Rejected   []RejectedBatch   `json:"rejected,omitempty"`
	Candidates []SchemaCandidate `json:"candidates,omitempty"`
	Done       bool              `json:"done"`
	Error      string            `json:"error,omitempty"`
	StartedAt  time.Time         `json:"startedAt"`
	FinishedAt *time.Time        `json:"finishedAt,omitempty"`
}

// progress returns the completion percentage (0-100). Row counts are used
// when the total is known, source bytes read otherwise, and -1 when
// neither is available.
func (s JobStatus) progress() int {
	if s.Stage == StageDone {
		return 100
	}
	var p int
	switch {
	case s.Total > 0:
		p = int(s.Inserted * 100 / s.Total)
	case s.Size > 0:
		p = int(s.BytesRead * 100 / s.Size)
	default:
		return -1
	}
	if p > 100 {
		p = 100
	}
	return p
}

// TrackingStatus is the lifecycle state persisted in a TrackingRecord.
type TrackingStatus string

const (
	TrackingDetected   TrackingStatus = "detected"
	TrackingProcessing TrackingStatus = "processing"
	TrackingDone       TrackingStatus = "done"
	TrackingError      TrackingStatus = "error"
	TrackingCanceled   TrackingStatus = "canceled"
)

// Terminal reports whether the pipeline has finished with the file.
func (s TrackingStatus) Terminal() bool {
	return s == TrackingDone || s == TrackingError || s == TrackingCanceled
}

// TrackingRecord is the durable audit row for one deposited file.
type TrackingRecord struct {
	ID              uuid.UUID
	Path            string
	FinalPath       string
	Table           string
	LoadType        LoadMode
	Delimiter       string
	HasHeader       bool
	Encoding        Encoding
	Confidence      float64
	FormatUncertain bool
	Status          TrackingStatus
	RowsInserted    int64
	ErrorMessage    string
	DetectedAt      time.Time
	StartedAt       time.Time
	FinishedAt      time.Time
	UpdatedAt       time.Time
}

// BackupVersion describes one immutable snapshot of a table.
type BackupVersion struct {
	Table     TableRef  `json:"table"`
	Version   int64     `json:"version"`
	LoadType  string    `json:"loadType"`
	Rows      int64     `json:"rows"`
	CreatedAt time.Time `json:"createdAt"`
}

// SyncResult reports the outcome of reconciling file columns with a table.
type SyncResult struct {
	Added  []string
	Failed []ColumnFailure
}

// ColumnFailure is a column that could not be added to a table.
type ColumnFailure struct {
	Column string
	Err    error
}
