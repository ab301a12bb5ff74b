// Package errors provides the structured error system used across InnerFS:
// every façade-visible failure carries a Kind that the FUSE adapter maps
// directly to a POSIX errno, plus enough context (component, operation,
// path) to diagnose it without parsing message strings.
package errors

import (
	"fmt"
	"syscall"
)

// Kind is the user-visible category of an InnerFS error, independent of the
// underlying Go error type. It is the only thing callers should ever switch
// on; Unwrap exists for compatibility with errors.Is/As, not as the primary
// dispatch mechanism.
type Kind string

const (
	KindNoEntry            Kind = "no_entry"
	KindExists             Kind = "exists"
	KindNotDirectory       Kind = "not_directory"
	KindIsDirectory        Kind = "is_directory"
	KindNotEmpty           Kind = "not_empty"
	KindInvalidName        Kind = "invalid_name"
	KindPermissionDenied   Kind = "permission_denied"
	KindReadOnly           Kind = "read_only"
	KindBackendIO          Kind = "backend_io"
	KindDecodeFailure      Kind = "decode_failure"
	KindIntegrityFailure   Kind = "integrity_failure"
	KindIncompatibleConfig Kind = "incompatible_config"
	KindUnsupported        Kind = "unsupported"
)

// errno maps each Kind to the POSIX errno the FUSE adapter returns.
var errnoByKind = map[Kind]syscall.Errno{
	KindNoEntry:            syscall.ENOENT,
	KindExists:             syscall.EEXIST,
	KindNotDirectory:       syscall.ENOTDIR,
	KindIsDirectory:        syscall.EISDIR,
	KindNotEmpty:           syscall.ENOTEMPTY,
	KindInvalidName:        syscall.EINVAL,
	KindPermissionDenied:   syscall.EACCES,
	KindReadOnly:           syscall.EROFS,
	KindBackendIO:          syscall.EIO,
	KindDecodeFailure:      syscall.EIO,
	KindIntegrityFailure:   syscall.EIO,
	KindIncompatibleConfig: syscall.EIO,
	KindUnsupported:        syscall.ENOSYS,
}

// Error is the concrete error type produced by every InnerFS component.
type Error struct {
	Kind      Kind
	Component string
	Op        string
	Path      string
	Cause     error
}

type simpleError struct{ msg string }

func (e *simpleError) Error() string { return e.msg }

// messageCause prefixes a wrapped cause with Wrap's message while keeping the
// cause itself reachable.
type messageCause struct {
	msg   string
	cause error
}

func (m *messageCause) Error() string { return m.msg + ": " + m.cause.Error() }

func (m *messageCause) Unwrap() error { return m.cause }

// New creates an Error with no component/op/path context attached.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Cause: &simpleError{message}}
}

// Wrap builds a Kind error that wraps an underlying cause (e.g. a driver
// error from the SQLite or S3 client), preserving it for errors.Unwrap.
func Wrap(kind Kind, cause error, message string) *Error {
	if message == "" {
		return &Error{Kind: kind, Cause: cause}
	}
	return &Error{Kind: kind, Cause: &messageCause{msg: message, cause: cause}}
}

func (e *Error) Error() string {
	switch {
	case e.Component != "" && e.Op != "" && e.Path != "":
		return fmt.Sprintf("[%s:%s] %s: %v", e.Component, e.Op, e.Path, e.Cause)
	case e.Component != "" && e.Op != "":
		return fmt.Sprintf("[%s:%s] %v", e.Component, e.Op, e.Cause)
	case e.Component != "":
		return fmt.Sprintf("[%s] %v", e.Component, e.Cause)
	default:
		return e.Cause.Error()
	}
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	if m, ok := e.Cause.(*messageCause); ok {
		return m.cause
	}
	return e.Cause
}

// Is reports whether target is an *Error with the same Kind, so callers can
// write errors.Is(err, errors.New(KindNoEntry, "")) without comparing causes.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// Errno returns the POSIX errno the FUSE adapter should return for err. Any
// error that isn't an *Error maps to EIO as a fallback.
func Errno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	ie, ok := err.(*Error)
	if !ok {
		return syscall.EIO
	}
	if code, ok := errnoByKind[ie.Kind]; ok {
		return code
	}
	return syscall.EIO
}

// WithComponent returns a copy of e tagged with the component that raised it.
func (e *Error) WithComponent(component string) *Error {
	c := *e
	c.Component = component
	return &c
}

// WithOp returns a copy of e tagged with the operation that raised it.
func (e *Error) WithOp(op string) *Error {
	c := *e
	c.Op = op
	return &c
}

// WithPath returns a copy of e tagged with the path involved.
func (e *Error) WithPath(path string) *Error {
	c := *e
	c.Path = path
	return &c
}

// Is reports whether err carries the given Kind, looking through wrapping
// by *Error.Cause.
func Is(err error, kind Kind) bool {
	for err != nil {
		ie, ok := err.(*Error)
		if !ok {
			return false
		}
		if ie.Kind == kind {
			return true
		}
		err = ie.Cause
	}
	return false
}
