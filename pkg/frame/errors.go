package frame

import (
	"errors"
	"fmt"
)

var (
	// ErrTruncated is returned when the buffer ends before a field does.
	ErrTruncated = errors.New("frame: message truncated")

	// ErrLengthMismatch is returned when the declared payload length
	// exceeds the remaining buffer.
	ErrLengthMismatch = errors.New("frame: payload length mismatch")

	// ErrUnknownFormat is returned when the format tag is not a supported codec.
	ErrUnknownFormat = errors.New("frame: unknown format")

	// ErrMixedFormat is returned when a frame's format differs from the
	// format established by earlier frames of the same channel.
	ErrMixedFormat = errors.New("frame: mixed formats in channel")
)

// DecodeError describes why a message could not be decoded.
type DecodeError struct {
	Kind   error  // one of the Err* sentinels
	Field  string // schema field being read
	Offset int    // byte offset into the message
	Detail string
}

func (e *DecodeError) Error() string {
	msg := e.Kind.Error()
	if e.Field != "" {
		msg += fmt.Sprintf(" reading %s at offset %d", e.Field, e.Offset)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *DecodeError) Unwrap() error {
	return e.Kind
}

// NewMixedFormatError reports a frame whose format differs from want.
func NewMixedFormatError(want, got string) *DecodeError {
	return &DecodeError{
		Kind:   ErrMixedFormat,
		Field:  "format",
		Detail: fmt.Sprintf("expected %q, got %q", want, got),
	}
}
