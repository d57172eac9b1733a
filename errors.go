package tableloader

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrNotFound is matched by *NotFoundError.
	ErrNotFound = errors.New("row not found")
	// ErrIdentity is matched by *IdentityError.
	ErrIdentity = errors.New("invalid identifier")
	// ErrCardinality is matched by *CardinalityError.
	ErrCardinality = errors.New("more than one row")
	// ErrConversion is matched by *ConversionError.
	ErrConversion = errors.New("value conversion failed")
	// ErrInsertFailed is matched by *InsertError.
	ErrInsertFailed = errors.New("insert failed")
)

// ConversionError reports a field value that could not be converted between its
// storage and application representation.
type ConversionError struct {
	Table string
	Field string
	// ID is the primary key of the offending row, nil when unknown.
	ID  *int64
	Err error
}

func (e *ConversionError) Error() string {
	if e.ID != nil {
		return fmt.Sprintf("table %q: field %q of row %d: %v", e.Table, e.Field, *e.ID, e.Err)
	}
	return fmt.Sprintf("table %q: field %q: %v", e.Table, e.Field, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

func (e *ConversionError) Is(target error) bool { return target == ErrConversion }

// IdentityError reports an ID used against the wrong table, or an id value that is not
// an integer.
type IdentityError struct {
	Table string
	// Got is the table the identifier was tagged with, empty when the value was not an
	// ID at all.
	Got   string
	Value any
}

func (e *IdentityError) Error() string {
	if e.Got != "" {
		return fmt.Sprintf("used id %v of table %q when working with %q", e.Value, e.Got, e.Table)
	}
	return fmt.Sprintf("table %q: id must be an integer, got %T", e.Table, e.Value)
}

func (e *IdentityError) Is(target error) bool { return target == ErrIdentity }

// NotFoundError is returned by strict lookups that matched no row.
type NotFoundError struct {
	Table string
	Field string
	Value any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("table %q: no row with %s = %v", e.Table, e.Field, e.Value)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// CardinalityError is returned when a lookup contractually expecting at most one row
// matched several. It signals a broken uniqueness assumption.
type CardinalityError struct {
	Table string
	Field string
	Value any
	Count int
}

func (e *CardinalityError) Error() string {
	return fmt.Sprintf("table %q: found %d rows for %s = %v, expected at most one", e.Table, e.Count, e.Field, e.Value)
}

func (e *CardinalityError) Is(target error) bool { return target == ErrCardinality }

// InsertError is returned to one insert request whose row was not among the rows
// returned by the batched insert, usually because of a skipped conflict.
type InsertError struct {
	Table string
	Value Record
}

func (e *InsertError) Error() string {
	return fmt.Sprintf("table %q: insert of %v failed", e.Table, map[string]any(e.Value))
}

func (e *InsertError) Is(target error) bool { return target == ErrInsertFailed }
