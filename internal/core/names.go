package core

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// MaxIdentifierLength is the longest identifier the store accepts.
const MaxIdentifierLength = 63

// PlaceholderTable is used when nothing usable remains of a file name.
const PlaceholderTable = "unnamed_table"

var (
	csvSuffix = regexp.MustCompile(`(?i)\.csv$`)

	// timestampSuffix matches one trailing date or timestamp, including its
	// separator: YYYYMMDD, YYYYMMDDHHMMSS, YYYYMMDDTHHMMSSZ, YYYY-MM-DD with
	// an optional ISO-8601 time and zone.
	timestampSuffix = regexp.MustCompile(`(?i)(?:^|[._-])(?:` +
		`\d{8}(?:\d{6}|t\d{6}z?)?` +
		`|\d{4}-\d{2}-\d{2}(?:[t_ ]\d{2}[:\-]?\d{2}(?:[:\-]?\d{2})?(?:\.\d+)?(?:z|[+-]\d{2}:?\d{2})?)?` +
		`)$`)

	invalidIdentChars = regexp.MustCompile(`[^A-Za-z0-9_]`)
)

// ExtractTableName derives a table name from a file name or path.
// The result only contains [a-z0-9_], is at most MaxIdentifierLength long,
// and is never empty.
func ExtractTableName(filename string) string {
	name := csvSuffix.ReplaceAllString(filepath.Base(filename), "")

	// Replacing characters can expose a new timestamp suffix and truncation
	// can cut one into shape, so run to a fixpoint.
	for {
		next := normalizeName(name)
		if next == "" {
			return PlaceholderTable
		}
		if next == name {
			return name
		}
		name = next
	}
}

func normalizeName(name string) string {
	for {
		stripped := timestampSuffix.ReplaceAllString(name, "")
		if stripped == name {
			break
		}
		name = stripped
	}
	name = strings.ToLower(invalidIdentChars.ReplaceAllString(name, "_"))
	if len(name) > MaxIdentifierLength {
		name = name[:MaxIdentifierLength]
	}
	if strings.Trim(name, "_") == "" {
		return ""
	}
	return name
}

// NormalizeColumn turns a header cell into a column identifier.
// Returns "" for cells with no usable characters.
func NormalizeColumn(header string) string {
	name := strings.ToLower(invalidIdentChars.ReplaceAllString(strings.TrimSpace(header), "_"))
	if len(name) > MaxIdentifierLength {
		name = name[:MaxIdentifierLength]
	}
	if strings.Trim(name, "_") == "" {
		return ""
	}
	return name
}

// NormalizeColumns converts a header row into unique column identifiers.
// Empty cells become col_N, duplicates get a numeric suffix, and names that
// collide with provenance or backup bookkeeping columns are suffixed as well.
func NormalizeColumns(header []string) []string {
	used := map[string]bool{
		ColumnLoadType:        true,
		ColumnLoadedAt:        true,
		ColumnBackupVersion:   true,
		ColumnBackupLoadType:  true,
		ColumnBackupCreatedAt: true,
	}
	cols := make([]string, len(header))
	for i, h := range header {
		name := NormalizeColumn(h)
		if name == "" {
			name = fmt.Sprintf("col_%d", i+1)
		}
		base := name
		for n := 2; used[name]; n++ {
			suffix := fmt.Sprintf("_%d", n)
			if len(base)+len(suffix) > MaxIdentifierLength {
				base = base[:MaxIdentifierLength-len(suffix)]
			}
			name = base + suffix
		}
		used[name] = true
		cols[i] = name
	}
	return cols
}

// GeneratedColumns names the columns of a headerless file col_1..col_n.
func GeneratedColumns(n int) []string {
	cols := make([]string, n)
	for i := range cols {
		cols[i] = fmt.Sprintf("col_%d", i+1)
	}
	return cols
}
