package core

import (
	"sort"
	"strings"
)

// DefaultMatchThreshold is the minimum match fraction reported by MatchSchemas.
const DefaultMatchThreshold = 0.7

// SchemaCandidate is an existing table whose columns cover a file's columns.
type SchemaCandidate struct {
	Table   string   `json:"table"`
	Match   float64  `json:"match"`             // fraction of file columns present in the table
	Missing []string `json:"missing,omitempty"` // file columns absent from the table
}

// internal table name markers excluded from matching.
const (
	BackupSuffix   = "__backup"
	StagingSuffix  = "__staging"
	InternalPrefix = "dropzone_"
)

// IsInternalTable reports whether name is a backup, staging or metadata table.
func IsInternalTable(name string) bool {
	name = strings.ToLower(name)
	return strings.HasSuffix(name, BackupSuffix) ||
		strings.HasSuffix(name, StagingSuffix) ||
		strings.HasPrefix(name, InternalPrefix) ||
		name == "goose_db_version"
}

// MatchSchemas scores every user table in catalog against fileColumns.
// Tables at or above threshold are returned, best match first, ties by name.
// It never mutates anything; callers use it to warn about misrouted loads.
func MatchSchemas(fileColumns []string, catalog []TableSchema, threshold float64) []SchemaCandidate {
	if threshold <= 0 {
		threshold = DefaultMatchThreshold
	}

	var matches []SchemaCandidate
	for _, ts := range catalog {
		if IsInternalTable(ts.Table.Name) {
			continue
		}
		score, missing := matchColumns(fileColumns, ts.Columns)
		if score >= threshold {
			matches = append(matches, SchemaCandidate{
				Table:   ts.Table.String(),
				Match:   score,
				Missing: missing,
			})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Match != matches[j].Match {
			return matches[i].Match > matches[j].Match
		}
		return matches[i].Table < matches[j].Table
	})

	return matches
}

// matchColumns returns the fraction of fileColumns found in tableColumns,
// compared case-insensitively, and the ones that were not found.
func matchColumns(fileColumns, tableColumns []string) (float64, []string) {
	if len(fileColumns) == 0 {
		return 0, nil
	}

	tableSet := make(map[string]bool, len(tableColumns))
	for _, c := range tableColumns {
		tableSet[strings.ToLower(strings.TrimSpace(c))] = true
	}

	matched := 0
	var missing []string
	for _, c := range fileColumns {
		if tableSet[strings.ToLower(strings.TrimSpace(c))] {
			matched++
		} else {
			missing = append(missing, c)
		}
	}

	return float64(matched) / float64(len(fileColumns)), missing
}
