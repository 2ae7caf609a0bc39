package protocol

import (
	"errors"
	"fmt"

	"mini-lpc/lpcerr"
)

// Framing failure reasons.
var (
	ErrTruncated      = errors.New("truncated header")
	ErrIncomplete     = errors.New("incomplete payload")
	ErrInvalidArity   = errors.New("invalid argument count")
	ErrLengthMismatch = errors.New("length field mismatch")
	ErrOversized      = errors.New("field or frame too large")
)

// FramingError reports a malformed, truncated or oversized packet.
// It matches both its reason (ErrTruncated, ...) and lpcerr.ErrFraming.
type FramingError struct {
	Packet Kind
	Err    error
	Need   int
	Have   int
}

func newFramingError(kind Kind, reason error, need, have int) *FramingError {
	return &FramingError{Packet: kind, Err: reason, Need: need, Have: have}
}

func (e *FramingError) Error() string {
	if e.Need > 0 || e.Have > 0 {
		return fmt.Sprintf("protocol: %s: %v (need %d bytes, have %d)", e.Packet, e.Err, e.Need, e.Have)
	}
	return fmt.Sprintf("protocol: %s: %v", e.Packet, e.Err)
}

func (e *FramingError) Unwrap() []error {
	return []error{e.Err, lpcerr.ErrFraming}
}
