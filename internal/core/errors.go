package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Sentinel errors. StoreError values match the first three via errors.Is.
var (
	ErrConnection = errors.New("store connection error")
	ErrSchema     = errors.New("store schema error")
	ErrConstraint = errors.New("store constraint violation")

	ErrFatalIO           = errors.New("source file unreadable")
	ErrEmptyFile         = errors.New("no data rows")
	ErrHookFailed        = errors.New("post-load hook failed")
	ErrCanceled          = errors.New("ingestion canceled")
	ErrJobNotFound       = errors.New("job not found")
	ErrJobActive         = errors.New("job already active")
	ErrVersionExists     = errors.New("backup version already exists")
	ErrVersionNotFound   = errors.New("backup version not found")
	ErrInvalidIdentifier = errors.New("invalid identifier")
)

// ErrorKind classifies store failures by how callers should react.
type ErrorKind int

const (
	// KindConnection is transient: connection loss, timeouts. Retryable.
	KindConnection ErrorKind = iota + 1
	// KindSchema needs manual intervention. Not retryable.
	KindSchema
	// KindConstraint rejects one batch of data.
	KindConstraint
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindSchema:
		return "schema"
	case KindConstraint:
		return "constraint"
	default:
		return "unknown"
	}
}

// StoreError is returned by Store implementations for classified failures.
type StoreError struct {
	Kind  ErrorKind
	Op    string
	Table string
	Err   error
}

func (e *StoreError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("%s %s (%s): %v", e.Op, e.Table, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is lets errors.Is match a StoreError against the kind sentinels.
func (e *StoreError) Is(target error) bool {
	switch target {
	case ErrConnection:
		return e.Kind == KindConnection
	case ErrSchema:
		return e.Kind == KindSchema
	case ErrConstraint:
		return e.Kind == KindConstraint
	}
	return false
}

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	return errors.Is(err, ErrConnection)
}

// RetryPolicy bounds the retries of a store operation.
type RetryPolicy struct {
	Attempts       int           // total attempts, including the first (default: 3)
	Initial        time.Duration // first backoff interval (default: 200ms)
	Max            time.Duration // backoff ceiling (default: 5s)
	AttemptTimeout time.Duration // per-attempt deadline, 0 for none
}

// DefaultRetryPolicy is used when a zero policy is supplied.
var DefaultRetryPolicy = RetryPolicy{
	Attempts: 3,
	Initial:  200 * time.Millisecond,
	Max:      5 * time.Second,
}

// Retry runs op with exponential backoff while it fails with a retryable
// error. An attempt that exceeds AttemptTimeout counts as a connection error.
func Retry(ctx context.Context, p RetryPolicy, op func(ctx context.Context) error) error {
	if p.Attempts <= 0 {
		p.Attempts = DefaultRetryPolicy.Attempts
	}
	if p.Initial <= 0 {
		p.Initial = DefaultRetryPolicy.Initial
	}
	if p.Max <= 0 {
		p.Max = DefaultRetryPolicy.Max
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.Initial
	eb.MaxInterval = p.Max
	eb.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.Attempts-1)), ctx)

	return backoff.Retry(func() error {
		attemptCtx := ctx
		cancel := func() {}
		if p.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
		}
		defer cancel()

		err := op(attemptCtx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrConnection) {
			err = &StoreError{Kind: KindConnection, Op: "timeout", Err: err}
		}
		if !Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}
