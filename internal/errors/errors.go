// Package errors defines the failure taxonomy shared by the extraction and
// update engines. Every failure that leaves an engine is an *OperationError
// carrying one Kind.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"runtime"
	"strings"
	"syscall"
)

// Kind classifies an operation failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindVolumeNotFound
	KindWrongPassword
	KindCancelled
	KindCorruptArchive
	KindIOError
	KindOutOfMemory
	KindUnsupported
)

var kindNames = map[Kind]string{
	KindUnknown:        "unknown",
	KindVolumeNotFound: "volume_not_found",
	KindWrongPassword:  "wrong_password",
	KindCancelled:      "cancelled",
	KindCorruptArchive: "corrupt_archive",
	KindIOError:        "io_error",
	KindOutOfMemory:    "out_of_memory",
	KindUnsupported:    "unsupported",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind is the inverse of Kind.String. Unknown names map to KindUnknown.
func ParseKind(s string) Kind {
	for k, name := range kindNames {
		if name == s {
			return k
		}
	}
	return KindUnknown
}

// Sentinel errors, one per kind, usable with errors.Is against any
// *OperationError of the same kind.
var (
	ErrVolumeNotFound = stderrors.New("volume not found")
	ErrWrongPassword  = stderrors.New("wrong password")
	ErrCancelled      = stderrors.New("operation cancelled")
	ErrCorruptArchive = stderrors.New("corrupt archive")
	ErrIO             = stderrors.New("i/o error")
	ErrOutOfMemory    = stderrors.New("out of memory")
	ErrUnsupported    = stderrors.New("unsupported archive")
)

var kindSentinels = map[Kind]error{
	KindVolumeNotFound: ErrVolumeNotFound,
	KindWrongPassword:  ErrWrongPassword,
	KindCancelled:      ErrCancelled,
	KindCorruptArchive: ErrCorruptArchive,
	KindIOError:        ErrIO,
	KindOutOfMemory:    ErrOutOfMemory,
	KindUnsupported:    ErrUnsupported,
}

// OperationError is a terminal failure of an extraction or update.
type OperationError struct {
	Kind    Kind
	Message string
	Cause   error
}

// NewOperationError creates a new operation error of the given kind.
func NewOperationError(kind Kind, message string, cause error) *OperationError {
	return &OperationError{Kind: kind, Message: message, Cause: cause}
}

func (e *OperationError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Cause.Error()
	}
	return e.Message + ": " + e.Cause.Error()
}

func (e *OperationError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is the sentinel of this error's kind.
func (e *OperationError) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && sentinel == target
}

// Cancelled returns a cancellation error wrapping cause.
func Cancelled(cause error) *OperationError {
	return NewOperationError(KindCancelled, "operation cancelled", cause)
}

// Wrap attaches kind to err unless err already carries a kind.
func Wrap(kind Kind, message string, err error) error {
	if err == nil {
		return nil
	}
	var opErr *OperationError
	if stderrors.As(err, &opErr) {
		return err
	}
	return NewOperationError(kind, message, err)
}

// KindOf returns the kind carried by err, classifying plain errors with Classify.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var opErr *OperationError
	if stderrors.As(err, &opErr) {
		return opErr.Kind
	}
	for kind, sentinel := range kindSentinels {
		if stderrors.Is(err, sentinel) {
			return kind
		}
	}
	return Classify(err)
}

// Classify maps errors coming from the standard library and the filesystem
// onto a Kind. Codec specific errors are mapped by the codec adapters before
// they reach this point.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	case stderrors.Is(err, fs.ErrNotExist):
		return KindVolumeNotFound
	case stderrors.Is(err, io.ErrUnexpectedEOF):
		return KindCorruptArchive
	case stderrors.Is(err, syscall.ENOMEM):
		return KindOutOfMemory
	default:
		// Permission errors, full disks and any other filesystem failure.
		return KindIOError
	}
}

// FromPanic converts a recovered panic value into an operation error.
// Allocation failures become KindOutOfMemory.
func FromPanic(value any) *OperationError {
	var cause error
	switch v := value.(type) {
	case error:
		cause = v
	default:
		cause = fmt.Errorf("%v", v)
	}

	msg := cause.Error()
	var rtErr runtime.Error
	if stderrors.As(cause, &rtErr) || strings.Contains(msg, "out of memory") {
		if strings.Contains(msg, "out of memory") ||
			strings.Contains(msg, "makeslice") ||
			strings.Contains(msg, "cannot allocate") {
			return NewOperationError(KindOutOfMemory, "not enough memory to complete the operation", cause)
		}
	}
	return NewOperationError(KindCorruptArchive, "unexpected failure while processing archive", cause)
}

// Re-exports so callers need a single errors import.

func New(text string) error { return stderrors.New(text) }

func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

func Join(errs ...error) error { return stderrors.Join(errs...) }
