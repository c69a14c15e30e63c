package migrator

import (
	"errors"
	"fmt"
)

// Failure kinds. Every error returned by this package wraps exactly one of them.
var (
	ErrCatalogMalformed    = errors.New("catalog malformed")
	ErrStoreUnreadable     = errors.New("store unreadable")
	ErrVersionUnresolvable = errors.New("store version unresolvable")
	ErrNoPathFound         = errors.New("no migration path found")
	ErrStepFailed          = errors.New("migration step failed")
	ErrSwapFailed          = errors.New("store swap failed")
	ErrCanceled            = errors.New("migration canceled")
	ErrMigrationInProgress = errors.New("migration already in progress")
)

// Error is the typed failure reported by the migration pipeline.
type Error struct {
	Kind error          // one of the Err* sentinels above
	Path string         // catalog or store path the failure relates to
	Step *MigrationStep // set for ErrStepFailed
	Err  error          // underlying cause, may be nil
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Step != nil {
		msg += fmt.Sprintf(" (%s)", e.Step)
	}
	if e.Path != "" {
		msg += ": " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, path string, cause error) *Error {
	return &Error{Kind: kind, Path: path, Err: cause}
}

func malformed(path, format string, args ...any) *Error {
	return newError(ErrCatalogMalformed, path, fmt.Errorf(format, args...))
}

// Retryable reports whether retrying the same request may succeed.
// Catalog, detection and planning failures are permanent until the
// installation changes; step and swap failures are often transient.
func Retryable(err error) bool {
	return errors.Is(err, ErrStepFailed) ||
		errors.Is(err, ErrSwapFailed) ||
		errors.Is(err, ErrCanceled) ||
		errors.Is(err, ErrMigrationInProgress)
}
