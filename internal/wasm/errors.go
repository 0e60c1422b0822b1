package wasm

import (
	"fmt"

	"github.com/pkg/errors"
)

// DecodeErrorKind enumerates the malformed-binary conditions the decoder
// (C2) can report.
type DecodeErrorKind string

const (
	DecodeErrorTruncated      DecodeErrorKind = "truncated"
	DecodeErrorBadMagic       DecodeErrorKind = "bad_magic"
	DecodeErrorBadVersion     DecodeErrorKind = "bad_version"
	DecodeErrorBadSectionID   DecodeErrorKind = "bad_section_id"
	DecodeErrorLEBOverflow    DecodeErrorKind = "leb_overflow"
	DecodeErrorUTF8           DecodeErrorKind = "utf8"
	DecodeErrorLengthMismatch DecodeErrorKind = "length_mismatch"
)

// DecodeError reports a malformed Wasm binary, carrying the byte offset at
// which decoding failed and a human-readable message.
type DecodeError struct {
	Offset  uint32
	Kind    DecodeErrorKind
	Message string
	cause   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error at offset %#x: %s", e.Offset, e.Message)
}

// Unwrap exposes the wrapped cause, if any, so errors.Is/As keep working
// across the pkg/errors stack trace wrapper.
func (e *DecodeError) Unwrap() error { return e.cause }

func newDecodeError(offset uint32, kind DecodeErrorKind, format string, args ...interface{}) error {
	return errors.WithStack(&DecodeError{
		Offset:  offset,
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	})
}

// ValidationError reports a type or structural error found while
// validating a function body or constant expression (C3).
type ValidationError struct {
	Offset  uint32
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error at offset %#x: %s", e.Offset, e.Message)
}

func newValidationError(offset uint32, format string, args ...interface{}) error {
	return errors.WithStack(&ValidationError{
		Offset:  offset,
		Message: fmt.Sprintf(format, args...),
	})
}

// LinkErrorKind enumerates why resolving an import against a supplied
// import chain failed (C4 step 1).
type LinkErrorKind string

const (
	LinkErrorNoEntry      LinkErrorKind = "no_entry"
	LinkErrorKindMismatch LinkErrorKind = "kind_mismatch"
	LinkErrorTypeMismatch LinkErrorKind = "type_mismatch"
)

// LinkError reports a missing or incompatible import.
type LinkError struct {
	ModuleName string
	Name       string
	Kind       LinkErrorKind
	Detail     string
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("link error: %s.%s: %s (%s)", e.ModuleName, e.Name, e.Detail, e.Kind)
}

func newLinkError(moduleName, name string, kind LinkErrorKind, detail string) error {
	return errors.WithStack(&LinkError{
		ModuleName: moduleName,
		Name:       name,
		Kind:       kind,
		Detail:     detail,
	})
}

// ResourceErrorKind enumerates allocation-time failures distinct from
// malformed input: too many modules instantiated, a segment/table too
// large to allocate, etc.
type ResourceErrorKind string

const (
	ResourceErrorAllocation ResourceErrorKind = "allocation"
	ResourceErrorTooMany    ResourceErrorKind = "too_many"
)

// ResourceError reports a host resource limit being hit.
type ResourceError struct {
	Kind    ResourceErrorKind
	Message string
}

func (e *ResourceError) Error() string { return fmt.Sprintf("resource error: %s", e.Message) }
