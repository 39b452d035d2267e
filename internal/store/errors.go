package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/JonMunkholm/dropzone/internal/core"
	"github.com/jackc/pgx/v5/pgconn"
)

// classify wraps err into a *core.StoreError when its kind is known.
// Context cancellation is returned unchanged so callers can tell a
// canceled job from a failing store.
func classify(op string, t core.TableRef, err error) error {
	if err == nil {
		return nil
	}

	var se *core.StoreError
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	kind := kindOf(err)
	if kind == 0 {
		if t.Name == "" {
			return fmt.Errorf("%s: %w", op, err)
		}
		return fmt.Errorf("%s %s: %w", op, t, err)
	}
	return &core.StoreError{Kind: kind, Op: op, Table: tableLabel(t), Err: err}
}

func tableLabel(t core.TableRef) string {
	if t.Name == "" {
		return ""
	}
	return t.String()
}

// kindOf maps a driver error to an ErrorKind, 0 when unknown.
func kindOf(err error) core.ErrorKind {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return kindOfSQLState(pgErr.Code)
	}

	var connectErr *pgconn.ConnectError
	var netErr net.Error
	switch {
	case errors.As(err, &connectErr),
		errors.As(err, &netErr),
		pgconn.Timeout(err),
		pgconn.SafeToRetry(err),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF):
		return core.KindConnection
	}
	return 0
}

// kindOfSQLState classifies by SQLSTATE class.
func kindOfSQLState(code string) core.ErrorKind {
	if len(code) < 2 {
		return 0
	}
	switch code[:2] {
	case "08", // connection exception
		"40", // transaction rollback (serialization, deadlock)
		"53", // insufficient resources
		"57": // operator intervention (admin shutdown, query canceled)
		return core.KindConnection
	case "22", // data exception
		"23": // integrity constraint violation
		return core.KindConstraint
	case "42": // syntax error or access rule violation
		return core.KindSchema
	}
	return 0
}

// alreadyExists reports duplicate-object errors raised when two sessions
// create the same schema or table concurrently.
func alreadyExists(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "42P06", "42P07", "23505":
		return true
	}
	return strings.Contains(pgErr.Message, "already exists")
}

// invalidIdent reports an identifier that cannot be sanitized.
func invalidIdent(op string, t core.TableRef, name string) error {
	return &core.StoreError{
		Kind:  core.KindSchema,
		Op:    op,
		Table: tableLabel(t),
		Err:   fmt.Errorf("%w: %q", core.ErrInvalidIdentifier, name),
	}
}
