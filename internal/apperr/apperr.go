package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies terminal and advisory failures of an analysis request.
type Kind string

const (
	InvalidGeometry   Kind = "invalid_geometry"
	InvalidRequest    Kind = "invalid_request"
	CoverageError     Kind = "coverage_error"
	PartialCoverage   Kind = "partial_coverage"
	ComputationError  Kind = "computation_error"
	DegradedWatershed Kind = "degraded_watershed"
	NotFound          Kind = "not_found"
	Superseded        Kind = "superseded"
	Conflict          Kind = "conflict"
	Unavailable       Kind = "unavailable"
	Internal          Kind = "internal"
)

// Error carries a kind and a human-readable detail string.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E builds an *Error. cause may be nil.
func E(kind Kind, detail string, cause error) error {
	return &Error{Kind: kind, Detail: detail, Err: cause}
}

// Ef is E with a formatted detail and no cause.
func Ef(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Detail returns the detail string of err, falling back to err.Error().
func Detail(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Detail
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
