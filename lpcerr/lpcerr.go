// Package lpcerr defines the error taxonomy shared by every LPC component.
//
// Each failure is tagged with a Kind so callers can branch with errors.Is
// against the package sentinels without parsing messages:
//
//	if errors.Is(err, lpcerr.ErrUnknownAccessPath) { ... }
package lpcerr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Kind classifies an LPC failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindFraming
	KindTransport
	KindUnknownAccessPath
	KindTokenMismatch
	KindTimeout
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindFraming:
		return "framing"
	case KindTransport:
		return "transport"
	case KindUnknownAccessPath:
		return "unknown_access_path"
	case KindTokenMismatch:
		return "token_mismatch"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error is a structured LPC error. Op names the operation that failed
// ("install", "connect", "await", ...), Path the pipe or access path involved.
type Error struct {
	Kind  Kind
	Op    string
	Path  string
	Cause error
}

// Sentinels for errors.Is. A sentinel matches any *Error of the same Kind.
var (
	ErrFraming           = &Error{Kind: KindFraming}
	ErrTransport         = &Error{Kind: KindTransport}
	ErrUnknownAccessPath = &Error{Kind: KindUnknownAccessPath}
	ErrTokenMismatch     = &Error{Kind: KindTokenMismatch}
	ErrTimeout           = &Error{Kind: KindTimeout}
)

// New creates an error of the given kind for op.
func New(kind Kind, op string) *Error {
	return &Error{Kind: kind, Op: op}
}

// WithPath records the pipe or access path involved.
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

// WithCause records the underlying error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("lpc")
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " %q", e.Path)
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.String())
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is the sentinel for e's Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Path == "" && t.Cause == nil && t.Kind == e.Kind
}

// KindOf classifies err. Deadline errors from contexts and files are timeouts.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

// Timeout wraps a deadline failure of op.
func Timeout(op, path string, cause error) *Error {
	return New(KindTimeout, op).WithPath(path).WithCause(cause)
}

// Transport wraps an I/O failure of op. Deadline failures are reported as timeouts.
func Transport(op, path string, cause error) *Error {
	if errors.Is(cause, context.DeadlineExceeded) || errors.Is(cause, os.ErrDeadlineExceeded) {
		return Timeout(op, path, cause)
	}
	return New(KindTransport, op).WithPath(path).WithCause(cause)
}
