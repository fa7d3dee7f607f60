package protocol

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/rs/zerolog/log"

	"oneshot-rpc/codec"
	"oneshot-rpc/message"
	"oneshot-rpc/metrics"
)

// State is the position of a FrameDecoder inside the current frame.
type State int

const (
	StateAwaitingLength State = iota
	StateAwaitingBody
)

func (s State) String() string {
	if s == StateAwaitingBody {
		return "awaiting_body"
	}
	return "awaiting_length"
}

// FrameDecoder splits an arbitrarily chunked byte stream into frame payloads.
//
// Feed appends bytes, Next emits at most one payload per call. Nothing is
// emitted until a whole frame is buffered, and bytes past the current frame
// stay buffered for the next one. A FrameDecoder never reads from the network
// itself, so a partial frame costs only the buffered bytes.
//
// A FrameDecoder is owned by one connection and is not safe for concurrent use.
type FrameDecoder struct {
	limits  Limits
	buf     []byte
	off     int // start of unconsumed bytes in buf
	state   State
	bodyLen int
	err     error
}

func NewFrameDecoder(limits Limits) *FrameDecoder {
	return &FrameDecoder{limits: limits}
}

// Feed buffers p. The decoder copies p, so callers may reuse it.
func (d *FrameDecoder) Feed(p []byte) {
	if d.off > 0 {
		n := copy(d.buf, d.buf[d.off:])
		d.buf = d.buf[:n]
		d.off = 0
	}
	d.buf = append(d.buf, p...)
}

// Next returns the next complete payload. ok is false when more bytes are
// needed. An oversized length prefix is terminal: every later call returns
// the same error.
func (d *FrameDecoder) Next() (payload []byte, ok bool, err error) {
	if d.err != nil {
		return nil, false, d.err
	}

	if d.state == StateAwaitingLength {
		if d.Buffered() < LengthSize {
			return nil, false, nil
		}
		n := binary.BigEndian.Uint32(d.buf[d.off : d.off+LengthSize])
		if err := d.limits.check(uint64(n)); err != nil {
			d.err = err
			return nil, false, err
		}
		d.off += LengthSize
		d.bodyLen = int(n)
		d.state = StateAwaitingBody
	}

	if d.Buffered() < d.bodyLen {
		return nil, false, nil
	}
	payload = make([]byte, d.bodyLen)
	copy(payload, d.buf[d.off:d.off+d.bodyLen])
	d.off += d.bodyLen
	d.bodyLen = 0
	d.state = StateAwaitingLength
	return payload, true, nil
}

// Buffered reports the number of bytes held but not yet consumed by a frame.
// In StateAwaitingBody the length prefix has already been consumed.
func (d *FrameDecoder) Buffered() int {
	return len(d.buf) - d.off
}

func (d *FrameDecoder) State() State {
	return d.state
}

// Pending reports whether part of a frame has been seen.
func (d *FrameDecoder) Pending() bool {
	return d.state != StateAwaitingLength || d.Buffered() > 0
}

// Decoder turns a byte stream into values of type T.
//
// It keeps per-connection state only; the codec it wraps is stateless and
// shared. The first decode failure is sticky, and the owning connection is
// expected to close.
type Decoder[T Message] struct {
	frames *FrameDecoder
	codec  codec.Codec
	typ    message.Type
	queue  []T
	chunk  []byte
	err    error
}

// readChunk bounds a single Read from the connection.
const readChunk = 4096

func NewDecoder[T Message](c codec.Codec, limits Limits) *Decoder[T] {
	return &Decoder[T]{
		frames: NewFrameDecoder(limits),
		codec:  c,
		typ:    typeLabel[T](),
	}
}

// Feed consumes chunk and returns, in stream order, every value that became
// complete. On error the values decoded before the failing frame are still
// returned.
func (d *Decoder[T]) Feed(chunk []byte) ([]T, error) {
	if d.err != nil {
		return nil, d.err
	}
	d.frames.Feed(chunk)

	var out []T
	for {
		payload, ok, err := d.frames.Next()
		if err != nil {
			d.fail(err, "frame_too_large")
			return out, err
		}
		if !ok {
			return out, nil
		}

		var v T
		if err := d.codec.Decode(payload, &v); err != nil {
			d.fail(err, "serialization")
			return out, err
		}
		metrics.RecordFrameDecoded(d.typ.String(), LengthSize+len(payload))
		out = append(out, v)
	}
}

// Receive blocks on r until one value is available and returns it. Surplus
// values decoded from the same reads are returned by later calls.
//
// io.EOF is returned when r ends on a frame boundary, io.ErrUnexpectedEOF when
// it ends inside a frame.
func (d *Decoder[T]) Receive(r io.Reader) (T, error) {
	var zero T
	if d.chunk == nil {
		d.chunk = make([]byte, readChunk)
	}

	for len(d.queue) == 0 {
		if d.err != nil {
			return zero, d.err
		}
		n, err := r.Read(d.chunk)
		if n > 0 {
			vals, ferr := d.Feed(d.chunk[:n])
			d.queue = append(d.queue, vals...)
			if ferr != nil && len(d.queue) == 0 {
				return zero, ferr
			}
		}
		if err != nil && len(d.queue) == 0 {
			if errors.Is(err, io.EOF) {
				if d.frames.Pending() {
					return zero, io.ErrUnexpectedEOF
				}
				return zero, io.EOF
			}
			return zero, err
		}
	}

	v := d.queue[0]
	d.queue = d.queue[1:]
	return v, nil
}

// Pending reports whether part of a frame has been received but not decoded.
func (d *Decoder[T]) Pending() bool {
	return d.frames.Pending()
}

func (d *Decoder[T]) fail(err error, reason string) {
	d.err = err
	metrics.RecordDecodeError(d.typ.String(), reason)
	log.Debug().Str("module", "protocol").Str("type", d.typ.String()).Err(err).Msg("decode failed")
}
