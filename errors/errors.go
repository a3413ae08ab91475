// Package errors defines the error kinds the filesystem core can return.
//
// Every operation in this module either succeeds or returns an *FSError; there
// is no retry logic anywhere in the core. An FSError knows how to map itself
// back to a POSIX errno, which is the only thing an external bridge layer
// would need to hand a result back to the kernel.
package errors

import (
	"fmt"
	"syscall"
)

// Kind identifies the class of failure, independent of any particular message.
type Kind string

const (
	NotFound        Kind = "not found"
	AlreadyExists   Kind = "already exists"
	NoSpace         Kind = "no space left on device"
	NotDirectory    Kind = "not a directory"
	NotEmpty        Kind = "directory not empty"
	NameTooLong     Kind = "name too long"
	InvalidArgument Kind = "invalid argument"
)

// errno gives the POSIX errno each Kind maps to: NOT_FOUND -> ENOENT,
// ALREADY_EXISTS -> EEXIST, NO_SPACE -> ENOSPC, NOT_EMPTY -> ENOTEMPTY, plus
// the reserved/edge kinds.
var errno = map[Kind]syscall.Errno{
	NotFound:        syscall.ENOENT,
	AlreadyExists:   syscall.EEXIST,
	NoSpace:         syscall.ENOSPC,
	NotDirectory:    syscall.ENOTDIR,
	NotEmpty:        syscall.ENOTEMPTY,
	NameTooLong:     syscall.ENAMETOOLONG,
	InvalidArgument: syscall.EINVAL,
}

// FSError wraps one of the Kind constants above with an optional custom
// message and wrapped cause. Values are immutable: WithMessage and Wrap
// always return a new FSError rather than mutating the receiver.
type FSError struct {
	kind    Kind
	message string
	cause   error
}

// New creates an FSError of the given kind with its default message.
func New(kind Kind) *FSError {
	return &FSError{kind: kind, message: string(kind)}
}

func (e *FSError) Error() string {
	return e.message
}

// ErrKind returns the error's kind, for callers that want to switch on it.
func (e *FSError) ErrKind() Kind {
	return e.kind
}

// Errno returns the POSIX errno this error maps to.
func (e *FSError) Errno() syscall.Errno {
	return errno[e.kind]
}

// Unwrap lets errors.Is/errors.As see through to a wrapped cause.
func (e *FSError) Unwrap() error {
	return e.cause
}

// WithMessage returns a copy of e with message appended, same kind.
func (e *FSError) WithMessage(message string) *FSError {
	return &FSError{
		kind:    e.kind,
		message: fmt.Sprintf("%s: %s", e.kind, message),
		cause:   e,
	}
}

// Wrap returns a copy of e with err recorded as the underlying cause.
func (e *FSError) Wrap(err error) *FSError {
	if err == nil {
		return e
	}
	return &FSError{
		kind:    e.kind,
		message: fmt.Sprintf("%s: %s", e.kind, err.Error()),
		cause:   err,
	}
}

// Is lets the standard errors.Is() compare two *FSError by kind, so
// errors.Is(err, ErrNotFound) works even when the message differs.
func (e *FSError) Is(target error) bool {
	other, ok := target.(*FSError)
	if !ok {
		return false
	}
	return e.kind == other.kind
}

// Predefined errors for the common case of not needing a custom message.
var (
	ErrNotFound        = New(NotFound)
	ErrAlreadyExists   = New(AlreadyExists)
	ErrNoSpace         = New(NoSpace)
	ErrNotDirectory    = New(NotDirectory)
	ErrNotEmpty        = New(NotEmpty)
	ErrNameTooLong     = New(NameTooLong)
	ErrInvalidArgument = New(InvalidArgument)
)
