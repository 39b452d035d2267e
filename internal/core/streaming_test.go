package core

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestDecodeReader(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		enc      Encoding
		expected string
	}{
		{
			name:     "utf-8 with BOM",
			input:    append([]byte{0xEF, 0xBB, 0xBF}, []byte("id,name")...),
			enc:      EncodingUTF8,
			expected: "id,name",
		},
		{
			name:     "utf-8 without BOM",
			input:    []byte("id,naïve"),
			enc:      EncodingUTF8,
			expected: "id,naïve",
		},
		{
			name:     "invalid utf-8 byte replaced",
			input:    []byte{'h', 'e', 0x80, 'l', 'o'},
			enc:      EncodingUTF8,
			expected: "he�lo",
		},
		{
			name:     "latin-1 transcoded",
			input:    []byte{'c', 'a', 'f', 0xE9},
			enc:      EncodingLatin1,
			expected: "café",
		},
		{
			name:     "empty input",
			input:    []byte{},
			enc:      EncodingUTF8,
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := io.ReadAll(DecodeReader(bytes.NewReader(tt.input), tt.enc))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got) != tt.expected {
				t.Errorf("got %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestCountingReader(t *testing.T) {
	input := strings.Repeat("x", 1000)
	reader := NewCountingReader(strings.NewReader(input))

	buf := make([]byte, 128)
	for {
		_, err := reader.Read(buf)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if got := reader.BytesRead(); got != int64(len(input)) {
		t.Errorf("BytesRead = %d, want %d", got, len(input))
	}
}

func TestWrapForStreaming(t *testing.T) {
	input := append([]byte{0xEF, 0xBB, 0xBF}, []byte("a;b\n1;2\n")...)

	r, counter := WrapForStreaming(bytes.NewReader(input), EncodingUTF8)
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "a;b\n1;2\n" {
		t.Errorf("got %q", got)
	}
	if counter.BytesRead() != int64(len(input)) {
		t.Errorf("BytesRead = %d, want %d", counter.BytesRead(), len(input))
	}
}
