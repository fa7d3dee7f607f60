package codec

import (
	"errors"
	"fmt"
)

var (
	ErrUnregisteredType = errors.New("unregistered type")
	ErrTruncated        = errors.New("payload truncated")
	ErrTrailingBytes    = errors.New("trailing bytes after value")
	ErrMalformed        = errors.New("malformed payload")
	ErrStringTooLong    = errors.New("string field too long")
	ErrNilValue         = errors.New("nil value")
	ErrNotPointer       = errors.New("decode destination must be a pointer")
)

// SerializationError reports that a value could not be converted to or from
// payload bytes. It is always local to one frame.
type SerializationError struct {
	Codec  CodecType
	Op     string // "encode" or "decode"
	Target string // Go type being encoded or decoded into
	Err    error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("codec %s: %s %s: %v", e.Codec, e.Op, e.Target, e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

func encodeErr(c CodecType, v any, err error) error {
	return &SerializationError{Codec: c, Op: "encode", Target: fmt.Sprintf("%T", v), Err: err}
}

func decodeErr(c CodecType, v any, err error) error {
	return &SerializationError{Codec: c, Op: "decode", Target: fmt.Sprintf("%T", v), Err: err}
}
