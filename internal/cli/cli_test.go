package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/dropzone/internal/config"
	"github.com/JonMunkholm/dropzone/internal/core"
)

func TestParseTable(t *testing.T) {
	tests := []struct {
		in      string
		want    core.TableRef
		wantErr bool
	}{
		{"reference.sales_report", core.TableRef{Schema: "reference", Name: "sales_report"}, false},
		{"sales_report", core.TableRef{Schema: "public", Name: "sales_report"}, false},
		{" public.orders ", core.TableRef{Schema: "public", Name: "orders"}, false},
		{"a.b.c", core.TableRef{}, true},
		{".orders", core.TableRef{}, true},
		{"reference.", core.TableRef{}, true},
		{"", core.TableRef{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseTable(tt.in, "public")
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    core.LoadMode
		wantErr bool
	}{
		{"fullload", core.LoadFull, false},
		{"APPEND", core.LoadAppend, false},
		{"replace", "", true},
	}
	for _, tt := range tests {
		got, err := parseMode(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseMode(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestEngineConfig(t *testing.T) {
	cfg := &config.Config{
		Database: config.DatabaseConfig{ConnectAttempts: 5},
		Watch:    config.WatchConfig{ProcessedDir: "done", ErrorDir: "failed"},
		Ingest: config.IngestConfig{
			BatchSize:        500,
			DefaultDelimiter: "tab",
			BatchTimeout:     time.Minute,
			KeepSource:       true,
		},
		Store: config.StoreConfig{ReferenceSchema: "ref", DataSchema: "raw", MatchThreshold: 0.5},
	}

	got := engineConfig(cfg)
	if got.BatchSize != 500 || got.DefaultDelimiter != '\t' || got.BatchTimeout != time.Minute {
		t.Errorf("ingest settings not mapped: %+v", got)
	}
	if got.Retry.Attempts != 5 {
		t.Errorf("Retry.Attempts = %d, want 5", got.Retry.Attempts)
	}
	if got.ReferenceSchema != "ref" || got.DataSchema != "raw" || got.MatchThreshold != 0.5 {
		t.Errorf("store settings not mapped: %+v", got)
	}
	if got.ProcessedDir != "done" || got.ErrorDir != "failed" || !got.KeepSource {
		t.Errorf("folder settings not mapped: %+v", got)
	}
}

func TestSchedulerConfig(t *testing.T) {
	cfg := &config.Config{Watch: config.WatchConfig{
		Root:               "/drop",
		PollInterval:       time.Second,
		StabilityThreshold: 3,
		ReferenceDir:       "ref",
		NonReferenceDir:    "other",
		FullloadDir:        "full",
		AppendDir:          "add",
		ProcessedDir:       "done",
		ErrorDir:           "failed",
	}}

	got := schedulerConfig(cfg)
	want := core.Layout{
		ReferenceDir:    "ref",
		NonReferenceDir: "other",
		FullloadDir:     "full",
		AppendDir:       "add",
		ProcessedDir:    "done",
		ErrorDir:        "failed",
	}
	if got.Layout != want {
		t.Errorf("Layout = %+v, want %+v", got.Layout, want)
	}
	if got.Root != "/drop" || got.PollInterval != time.Second || got.StabilityThreshold != 3 {
		t.Errorf("got %+v", got)
	}
}

func TestSniffColumns(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []string
		wantErr error
	}{
		{"header", "Customer ID,Amount\n1,10.5\n2,20\n", []string{"customer_id", "amount"}, nil},
		{"no header", "1,2\n3,4\n", []string{"col_1", "col_2"}, nil},
		{"empty", "", nil, core.ErrEmptyFile},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _, err := sniffColumns(strings.NewReader(tt.in), 10)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("columns = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReport(t *testing.T) {
	var buf bytes.Buffer
	err := report(&buf, core.JobStatus{
		Table:    "public.orders",
		Stage:    core.StageDone,
		Inserted: 1500,
		Batches:  2,
		Rejected: []core.RejectedBatch{{Index: 1, FirstLine: 2, LastLine: 991, Reason: "constraint"}},
	})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "public.orders: done, 1500 rows in 2 batches") {
		t.Errorf("summary missing:\n%s", out)
	}
	if !strings.Contains(out, "rejected batch 1 (lines 2-991)") {
		t.Errorf("rejected batch missing:\n%s", out)
	}

	err = report(&buf, core.JobStatus{Stage: core.StageError, Error: "table missing"})
	if err == nil || !strings.Contains(err.Error(), "table missing") {
		t.Errorf("err = %v, want job error", err)
	}
}

type fakeJobWatcher struct {
	updates []core.JobStatus
	final   core.JobStatus
}

func (f *fakeJobWatcher) Subscribe(key string) (<-chan core.JobStatus, error) {
	ch := make(chan core.JobStatus, len(f.updates))
	for _, st := range f.updates {
		ch <- st
	}
	close(ch)
	return ch, nil
}

func (f *fakeJobWatcher) Wait(ctx context.Context, key string) (core.JobStatus, error) {
	return f.final, nil
}

func TestFollow_ReportsTerminalStatus(t *testing.T) {
	done := core.JobStatus{Table: "public.orders", Stage: core.StageDone, Inserted: 2500, Total: 2500, Batches: 3, Done: true}

	tests := []struct {
		name    string
		updates []core.JobStatus
	}{
		{"final update delivered", []core.JobStatus{
			{Stage: core.StageInserting, Inserted: 990, Total: 2500},
			done,
		}},
		{"final update dropped", []core.JobStatus{
			{Stage: core.StageInserting, Inserted: 990, Total: 2500},
			{Stage: core.StageInserting, Inserted: 1980, Total: 2500},
		}},
		{"no updates", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs := &fakeJobWatcher{updates: tt.updates, final: done}
			st, err := follow(context.Background(), jobs, "orders.csv", newProgressBar(io.Discard, "public.orders"))
			if err != nil {
				t.Fatalf("follow: %v", err)
			}
			if st.Stage != core.StageDone || st.Inserted != 2500 {
				t.Errorf("status = %+v, want done with 2500 rows", st)
			}
			if err := report(io.Discard, st); err != nil {
				t.Errorf("report: %v", err)
			}
		})
	}
}

func TestArgsValidation(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"load without file", []string{"load"}, "accepts 1 arg(s)"},
		{"restore without version", []string{"restore", "reference.sales"}, "accepts 2 arg(s)"},
		{"backups list extra", []string{"backups", "list", "a.b", "c"}, "accepts 1 arg(s)"},
		{"tables match without file", []string{"tables", "match"}, "accepts 1 arg(s)"},
		{"serve extra", []string{"serve", "extra"}, `unknown command "extra"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newRootCmd()
			cmd.SetArgs(tt.args)
			cmd.SetOut(&bytes.Buffer{})
			err := cmd.Execute()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestVersionNeedsNoConfig(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_URL", "")

	var buf bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs([]string{"version", "--env-file", ""})
	cmd.SetOut(&buf)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if got := buf.String(); got != "dropzone version dev (commit: none)\n" {
		t.Errorf("output = %q", got)
	}
}
