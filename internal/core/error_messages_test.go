package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{
			name:     "nil error returns empty",
			err:      nil,
			wantCode: "",
		},
		{
			name:     "connection store error",
			err:      &StoreError{Kind: KindConnection, Op: "acquire", Err: errors.New("dial tcp: i/o timeout")},
			wantCode: "STORE001",
		},
		{
			name:     "schema store error",
			err:      &StoreError{Kind: KindSchema, Op: "create table", Table: "public.sales", Err: errors.New("syntax error")},
			wantCode: "STORE002",
		},
		{
			name:     "constraint store error wrapped",
			err:      fmt.Errorf("batch 3: %w", &StoreError{Kind: KindConstraint, Op: "insert", Err: errors.New("value too long")}),
			wantCode: "STORE003",
		},
		{
			name:     "fatal io",
			err:      fmt.Errorf("%w: read sales.csv: unexpected EOF", ErrFatalIO),
			wantCode: "FILE001",
		},
		{
			name:     "empty file",
			err:      ErrEmptyFile,
			wantCode: "FILE002",
		},
		{
			name:     "csv parse error by pattern",
			err:      errors.New("record on line 4: wrong number of fields; parse error on line 4, column 2"),
			wantCode: "FILE003",
		},
		{
			name:     "canceled",
			err:      ErrCanceled,
			wantCode: "JOB001",
		},
		{
			name:     "context canceled",
			err:      fmt.Errorf("insert: %w", context.Canceled),
			wantCode: "JOB001",
		},
		{
			name:     "busy",
			err:      ErrTooManyIngestions,
			wantCode: "JOB002",
		},
		{
			name:     "deadline",
			err:      context.DeadlineExceeded,
			wantCode: "JOB003",
		},
		{
			name:     "hook",
			err:      fmt.Errorf("%w: refresh view", ErrHookFailed),
			wantCode: "JOB004",
		},
		{
			name:     "job not found",
			err:      fmt.Errorf("%w: sales.csv", ErrJobNotFound),
			wantCode: "JOB005",
		},
		{
			name:     "version not found",
			err:      ErrVersionNotFound,
			wantCode: "BAK001",
		},
		{
			name:     "connection refused by pattern",
			err:      errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"),
			wantCode: "STORE001",
		},
		{
			name:     "unknown error",
			err:      errors.New("something else"),
			wantCode: "ERR000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
			if tt.err != nil && got.Message == "" {
				t.Error("MapError() returned empty message")
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	if got := FormatUserError(nil); got != "" {
		t.Errorf("FormatUserError(nil) = %q, want empty", got)
	}

	got := FormatUserError(ErrEmptyFile)
	if !strings.Contains(got, "(Code: FILE002)") {
		t.Errorf("FormatUserError() = %q, missing code", got)
	}
	if !strings.HasSuffix(got, ErrEmptyFile.Error()) {
		t.Errorf("FormatUserError() = %q, missing detail", got)
	}
}

func TestAllMessagesHaveActions(t *testing.T) {
	for _, sm := range sentinelMessages {
		if sm.msg.Action == "" || sm.msg.Code == "" {
			t.Errorf("message for %v missing action or code", sm.err)
		}
	}
	for _, ep := range errorPatterns {
		if ep.msg.Action == "" || ep.msg.Code == "" {
			t.Errorf("pattern %q missing action or code", ep.pattern)
		}
	}
}
