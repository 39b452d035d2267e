package core

// error_messages.go maps technical errors to operator-facing messages with
// a short code. The code is written into TrackingRecord.ErrorMessage and
// returned by the status API so an operator can look it up here.
//
// # Store Errors (STORE001-STORE099)
//
//	STORE001 - Store unavailable: connection or timeout, retries exhausted
//	STORE002 - Schema conflict: a table or column could not be created
//	STORE003 - Rejected data: the store refused a batch (constraint violation)
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - Unreadable file: the file vanished or could not be read
//	FILE002 - Empty file: no data rows after the header
//	FILE003 - Invalid CSV: the file could not be parsed as delimited text
//
// # Job Errors (JOB001-JOB099)
//
//	JOB001 - Canceled: the job was canceled before all batches were written
//	JOB002 - Busy: too many concurrent ingestions
//	JOB003 - Timeout: the job exceeded its time budget
//	JOB004 - Hook failed: the post-load hook for the table returned an error
//
// # Backup Errors (BAK001-BAK099)
//
//	BAK001 - Version not found: the requested backup version does not exist
//	BAK002 - Version exists: a snapshot with that version is already stored
//
// Matching checks errors.Is against sentinels first, then falls back to
// case-insensitive substring patterns. The first match wins.

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides operator-facing error information.
type UserMessage struct {
	Message string // What happened
	Action  string // What to do about it
	Code    string // Reference code
}

var (
	msgStoreUnavailable = UserMessage{
		Message: "The store is unavailable",
		Action:  "The file will be retried once it is deposited again; check database connectivity",
		Code:    "STORE001",
	}
	msgSchemaConflict = UserMessage{
		Message: "The target table could not be created or altered",
		Action:  "Inspect the table definition and column names; manual intervention is required",
		Code:    "STORE002",
	}
	msgRejectedData = UserMessage{
		Message: "The store rejected rows from this file",
		Action:  "Review the rejected line ranges in the tracking record",
		Code:    "STORE003",
	}
	msgUnreadable = UserMessage{
		Message: "The file could not be read",
		Action:  "Check that the file still exists and is readable, then deposit it again",
		Code:    "FILE001",
	}
	msgEmptyFile = UserMessage{
		Message: "The file contains no data rows",
		Action:  "Deposit a file with at least one data row",
		Code:    "FILE002",
	}
	msgInvalidCSV = UserMessage{
		Message: "The file is not valid delimited text",
		Action:  "Export the file again as CSV",
		Code:    "FILE003",
	}
	msgCanceled = UserMessage{
		Message: "The ingestion was canceled",
		Action:  "Rows from already committed batches remain in the table",
		Code:    "JOB001",
	}
	msgBusy = UserMessage{
		Message: "Too many ingestions are running",
		Action:  "The file will be picked up again on a later scan",
		Code:    "JOB002",
	}
	msgTimeout = UserMessage{
		Message: "The ingestion timed out",
		Action:  "Split the file or raise INGEST_JOB_TIMEOUT",
		Code:    "JOB003",
	}
	msgHookFailed = UserMessage{
		Message: "The post-load step for this table failed",
		Action:  "Rows are loaded; check the application logs for the hook error",
		Code:    "JOB004",
	}
	msgJobNotFound = UserMessage{
		Message: "No ingestion job with this key",
		Action:  "Finished jobs are kept for a limited time; check the tracking table for older files",
		Code:    "JOB005",
	}
	msgVersionNotFound = UserMessage{
		Message: "The requested backup version does not exist",
		Action:  "List available versions with 'dropzone backups list'",
		Code:    "BAK001",
	}
	msgVersionExists = UserMessage{
		Message: "A backup with this version already exists",
		Action:  "Backup versions are immutable; retry to allocate the next version",
		Code:    "BAK002",
	}
)

// defaultMessage is returned when nothing more specific matches.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Check the application logs for details",
	Code:    "ERR000",
}

// sentinelMessages is checked in order with errors.Is.
var sentinelMessages = []struct {
	err error
	msg UserMessage
}{
	{ErrCanceled, msgCanceled},
	{context.Canceled, msgCanceled},
	{context.DeadlineExceeded, msgTimeout},
	{ErrTooManyIngestions, msgBusy},
	{ErrJobNotFound, msgJobNotFound},
	{ErrVersionNotFound, msgVersionNotFound},
	{ErrVersionExists, msgVersionExists},
	{ErrHookFailed, msgHookFailed},
	{ErrFatalIO, msgUnreadable},
	{ErrEmptyFile, msgEmptyFile},
	{ErrConstraint, msgRejectedData},
	{ErrSchema, msgSchemaConflict},
	{ErrInvalidIdentifier, msgSchemaConflict},
	{ErrConnection, msgStoreUnavailable},
}

// errorPatterns catches errors that lost their type on the way up.
var errorPatterns = []struct {
	pattern string
	msg     UserMessage
}{
	{"connection refused", msgStoreUnavailable},
	{"connection reset", msgStoreUnavailable},
	{"no such file", msgUnreadable},
	{"permission denied", msgUnreadable},
	{"parse error on line", msgInvalidCSV},
	{"bare \" in non-quoted-field", msgInvalidCSV},
}

// MapError converts a technical error into a UserMessage.
// Returns an empty UserMessage for a nil error.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, sm := range sentinelMessages {
		if errors.Is(err, sm.err) {
			return sm.msg
		}
	}

	lower := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(lower, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError renders "Message (Code: XXX): detail".
// The technical detail is kept because tracking records are read by operators.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}
	msg := MapError(err)
	return fmt.Sprintf("%s (Code: %s): %v", msg.Message, msg.Code, err)
}
