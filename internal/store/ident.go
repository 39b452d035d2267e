package store

import (
	"regexp"
	"strings"

	"github.com/JonMunkholm/dropzone/internal/core"
	"github.com/jackc/pgx/v5"
)

const (
	columnBackupVersion   = core.ColumnBackupVersion
	columnBackupLoadType  = core.ColumnBackupLoadType
	columnBackupCreatedAt = core.ColumnBackupCreatedAt
)

// Tables created by the migrations.
const (
	trackingTable = core.InternalPrefix + "tracking"
	versionsTable = core.InternalPrefix + "backup_versions"
)

var identPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// validIdent accepts the names the pipeline generates: lowercase letters,
// digits and underscores, at most core.MaxIdentifierLength bytes.
func validIdent(name string) bool {
	return name != "" && len(name) <= core.MaxIdentifierLength && identPattern.MatchString(name)
}

// tableIdent returns the quoted schema-qualified name of t.
func tableIdent(op string, t core.TableRef) (string, error) {
	if !validIdent(t.Schema) {
		return "", invalidIdent(op, t, t.Schema)
	}
	if !validIdent(t.Name) {
		return "", invalidIdent(op, t, t.Name)
	}
	return pgx.Identifier{t.Schema, t.Name}.Sanitize(), nil
}

// columnIdents quotes every column and joins them with commas.
func columnIdents(op string, t core.TableRef, columns []string) (string, error) {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		if !validIdent(c) {
			return "", invalidIdent(op, t, c)
		}
		quoted[i] = quote(c)
	}
	return strings.Join(quoted, ", "), nil
}

func quote(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// derived names a companion table of t, trimming t's name so the suffix
// always survives the identifier length limit.
func derived(t core.TableRef, suffix string) core.TableRef {
	name := t.Name
	if limit := core.MaxIdentifierLength - len(suffix); len(name) > limit {
		name = name[:limit]
	}
	return core.TableRef{Schema: t.Schema, Name: name + suffix}
}

func backupTable(t core.TableRef) core.TableRef  { return derived(t, core.BackupSuffix) }
func stagingTable(t core.TableRef) core.TableRef { return derived(t, core.StagingSuffix) }

func isProvenance(column string) bool {
	return column == core.ColumnLoadType || column == core.ColumnLoadedAt
}
