package odm

import (
	"errors"
	"fmt"
)

// Common sentinel errors for the odm package. Every typed error below
// matches one of them with errors.Is.
var (
	// ErrMapping is returned when a class descriptor cannot be loaded or is invalid.
	ErrMapping = errors.New("mapping error")

	// ErrClassNotMapped is returned for types that carry no mapping.
	ErrClassNotMapped = errors.New("class is not mapped")

	// ErrPersist is returned when an object cannot be turned into a point.
	ErrPersist = errors.New("persist failed")

	// ErrMissingIdentifier is returned when a remove needs an identifier the object lacks.
	ErrMissingIdentifier = errors.New("missing identifier")

	// ErrNoResult is returned by single scalar hydration on an empty result.
	ErrNoResult = errors.New("no result")

	// ErrNonUniqueResult is returned by single scalar hydration on more than one row.
	ErrNonUniqueResult = errors.New("non-unique result")

	// ErrUnsupportedHydrationMode is returned for unknown hydration modes.
	ErrUnsupportedHydrationMode = errors.New("unsupported hydration mode")

	// ErrHydration is returned when a wire value cannot be converted during hydration.
	ErrHydration = errors.New("hydration failed")

	// ErrQueryState is returned when a query is modified after it was executed.
	ErrQueryState = errors.New("query already executed")

	// ErrUnknownType is returned when a logical type is not registered.
	ErrUnknownType = errors.New("unknown logical type")

	// ErrTypeExists is returned by AddType when the name is already registered.
	ErrTypeExists = errors.New("logical type already registered")

	// ErrUnsupportedOperation is returned by transports that only implement part of the wire API.
	ErrUnsupportedOperation = errors.New("operation not supported by transport")

	// ErrClosed is returned when a closed transport is used.
	ErrClosed = errors.New("transport is closed")
)

// MappingError reports a descriptor that could not be loaded or validated.
// It is a configuration defect and is never retried.
type MappingError struct {
	Class string
	Cause error
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("mapping %s: %v", e.Class, e.Cause)
}

func (e *MappingError) Unwrap() error {
	return e.Cause
}

// Is implements error matching for MappingError.
func (e *MappingError) Is(target error) bool {
	return target == ErrMapping
}

// ClassNotMappedError reports a type with no mapping descriptor.
type ClassNotMappedError struct {
	Class string
}

func (e *ClassNotMappedError) Error() string {
	return fmt.Sprintf("class %s is not mapped", e.Class)
}

// Is implements error matching for ClassNotMappedError.
func (e *ClassNotMappedError) Is(target error) bool {
	return target == ErrClassNotMapped
}

// PersistError identifies the object and field that aborted a persist call.
// Index is the position of the object in the persisted batch.
type PersistError struct {
	Index int
	Class string
	Field string
	Cause error
}

func (e *PersistError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("persist object %d (%s) field %q: %v", e.Index, e.Class, e.Field, e.Cause)
	}
	return fmt.Sprintf("persist object %d (%s): %v", e.Index, e.Class, e.Cause)
}

func (e *PersistError) Unwrap() error {
	return e.Cause
}

// Is implements error matching for PersistError.
func (e *PersistError) Is(target error) bool {
	return target == ErrPersist
}

// MissingIdentifierError is returned by Remove when the class declares no
// identifier or the instance leaves it unset.
type MissingIdentifierError struct {
	Class string
}

func (e *MissingIdentifierError) Error() string {
	return fmt.Sprintf("class %s: identifier is not mapped or not set", e.Class)
}

// Is implements error matching for MissingIdentifierError.
func (e *MissingIdentifierError) Is(target error) bool {
	return target == ErrMissingIdentifier
}

// NonUniqueResultError is returned when a single scalar was requested and
// the result held more than one row.
type NonUniqueResultError struct {
	Rows int
}

func (e *NonUniqueResultError) Error() string {
	return fmt.Sprintf("non-unique result: %d rows", e.Rows)
}

// Is implements error matching for NonUniqueResultError.
func (e *NonUniqueResultError) Is(target error) bool {
	return target == ErrNonUniqueResult
}

// UnsupportedHydrationModeError is a programmer error: the requested mode
// has no hydrator.
type UnsupportedHydrationModeError struct {
	Mode HydrationMode
}

func (e *UnsupportedHydrationModeError) Error() string {
	return fmt.Sprintf("unsupported hydration mode %d", int(e.Mode))
}

// Is implements error matching for UnsupportedHydrationModeError.
func (e *UnsupportedHydrationModeError) Is(target error) bool {
	return target == ErrUnsupportedHydrationMode
}

// HydrationError reports a column that could not be turned into a field value.
type HydrationError struct {
	Class string
	Field string
	Cause error
}

func (e *HydrationError) Error() string {
	return fmt.Sprintf("hydrate %s field %q: %v", e.Class, e.Field, e.Cause)
}

func (e *HydrationError) Unwrap() error {
	return e.Cause
}

// Is implements error matching for HydrationError.
func (e *HydrationError) Is(target error) bool {
	return target == ErrHydration
}

// TransportError is produced by the bundled transports. The mapping core
// passes transport errors through untouched.
type TransportError struct {
	Op         string
	StatusCode int
	Message    string
	Cause      error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Cause != nil:
		return fmt.Sprintf("%s: status %d: %s: %v", e.Op, e.StatusCode, e.Message, e.Cause)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Message)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the failure is transient: server errors, rate
// limiting, or a network failure without a status.
func (e *TransportError) Retryable() bool {
	if e.StatusCode == 0 {
		return e.Cause != nil
	}
	return e.StatusCode >= 500 || e.StatusCode == 429
}

func newTransportError(op string, status int, message string, cause error) *TransportError {
	return &TransportError{
		Op:         op,
		StatusCode: status,
		Message:    message,
		Cause:      cause,
	}
}
